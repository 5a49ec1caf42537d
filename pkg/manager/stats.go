package manager

import (
	"sync/atomic"

	"github.com/kong/pg-route-client/pkg/pool"
)

// Stats accumulates the manager's counters. All fields are atomic so the
// query path and the health monitor never contend on a shared lock; reset
// only happens through an explicit ResetStats.
type Stats struct {
	queriesSucceeded atomic.Uint64
	queriesFailed    atomic.Uint64

	routedPrimary atomic.Uint64
	routedReplica atomic.Uint64

	healthChecksPrimary atomic.Uint64
	healthChecksReplica atomic.Uint64

	txBegun      atomic.Uint64
	txCommitted  atomic.Uint64
	txRolledBack atomic.Uint64
	txRetried    atomic.Uint64

	connsAcquired atomic.Uint64
	connsReleased atomic.Uint64
}

// RecordRoutingDecision implements router.Recorder.
func (s *Stats) RecordRoutingDecision(role pool.Role) {
	if role == pool.RoleReplica {
		s.routedReplica.Add(1)
		return
	}
	s.routedPrimary.Add(1)
}

// RecordHealthCheck implements health.Recorder.
func (s *Stats) RecordHealthCheck(role pool.Role, _ bool) {
	if role == pool.RoleReplica {
		s.healthChecksReplica.Add(1)
		return
	}
	s.healthChecksPrimary.Add(1)
}

func (s *Stats) recordQuerySuccess() { s.queriesSucceeded.Add(1) }
func (s *Stats) recordQueryFailure() { s.queriesFailed.Add(1) }

func (s *Stats) recordTxBegin()    { s.txBegun.Add(1) }
func (s *Stats) recordTxCommit()   { s.txCommitted.Add(1) }
func (s *Stats) recordTxRollback() { s.txRolledBack.Add(1) }
func (s *Stats) recordTxRetry()    { s.txRetried.Add(1) }

func (s *Stats) recordConnAcquired() { s.connsAcquired.Add(1) }
func (s *Stats) recordConnReleased() { s.connsReleased.Add(1) }

type QueryCounters struct {
	Total     uint64 `json:"total"`
	Succeeded uint64 `json:"succeeded"`
	Failed    uint64 `json:"failed"`
}

type RoleCounters struct {
	Primary uint64 `json:"primary"`
	Replica uint64 `json:"replica"`
}

type TxCounters struct {
	Begun      uint64 `json:"begun"`
	Committed  uint64 `json:"committed"`
	RolledBack uint64 `json:"rolledBack"`
	Retried    uint64 `json:"retried"`
}

type ConnCounters struct {
	Acquired uint64 `json:"acquired"`
	Released uint64 `json:"released"`
}

type StatsSnapshot struct {
	Queries          QueryCounters `json:"queries"`
	RoutingDecisions RoleCounters  `json:"routingDecisions"`
	HealthChecks     RoleCounters  `json:"healthChecks"`
	Transactions     TxCounters    `json:"transactions"`
	Connections      ConnCounters  `json:"connections"`
}

func (s *Stats) Snapshot() StatsSnapshot {
	succeeded := s.queriesSucceeded.Load()
	failed := s.queriesFailed.Load()
	return StatsSnapshot{
		Queries: QueryCounters{
			Total:     succeeded + failed,
			Succeeded: succeeded,
			Failed:    failed,
		},
		RoutingDecisions: RoleCounters{
			Primary: s.routedPrimary.Load(),
			Replica: s.routedReplica.Load(),
		},
		HealthChecks: RoleCounters{
			Primary: s.healthChecksPrimary.Load(),
			Replica: s.healthChecksReplica.Load(),
		},
		Transactions: TxCounters{
			Begun:      s.txBegun.Load(),
			Committed:  s.txCommitted.Load(),
			RolledBack: s.txRolledBack.Load(),
			Retried:    s.txRetried.Load(),
		},
		Connections: ConnCounters{
			Acquired: s.connsAcquired.Load(),
			Released: s.connsReleased.Load(),
		},
	}
}

func (s *Stats) Reset() {
	s.queriesSucceeded.Store(0)
	s.queriesFailed.Store(0)
	s.routedPrimary.Store(0)
	s.routedReplica.Store(0)
	s.healthChecksPrimary.Store(0)
	s.healthChecksReplica.Store(0)
	s.txBegun.Store(0)
	s.txCommitted.Store(0)
	s.txRolledBack.Store(0)
	s.txRetried.Store(0)
	s.connsAcquired.Store(0)
	s.connsReleased.Store(0)
}
