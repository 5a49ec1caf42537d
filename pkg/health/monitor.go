// Package health tracks per-pool liveness. A background monitor probes each
// pool on a fixed interval, counts consecutive failures, and flips a pool to
// unhealthy only once the failure threshold is reached. Probe failures are
// never surfaced to query callers.
package health

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/kong/pg-route-client/pkg/events"
	"github.com/kong/pg-route-client/pkg/pool"
	"go.uber.org/zap"
)

type Status int

const (
	StatusUnknown Status = iota
	StatusHealthy
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Snapshot is a point-in-time copy of one pool's health state.
type Snapshot struct {
	Status              Status    `json:"status"`
	LastCheck           time.Time `json:"lastCheck"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
}

// Target is anything the monitor can probe. *pool.Pool satisfies it; the
// probe runs through the pool's normal acquisition path.
type Target interface {
	Role() pool.Role
	Ping(ctx context.Context) error
}

// Recorder receives one call per probe for statistics accounting.
type Recorder interface {
	RecordHealthCheck(role pool.Role, healthy bool)
}

const (
	defaultInterval               = time.Second * 30
	defaultProbeTimeout           = time.Second * 5
	defaultMaxConsecutiveFailures = 3
)

type Config struct {
	Interval               time.Duration
	ProbeTimeout           time.Duration
	MaxConsecutiveFailures int
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = defaultProbeTimeout
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = defaultMaxConsecutiveFailures
	}
}

type poolState struct {
	mu                  sync.Mutex
	status              Status
	lastCheck           time.Time
	consecutiveFailures int
}

// recordSuccess resets the failure counter and reports whether the pool was
// previously unhealthy.
func (s *poolState) recordSuccess(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	recovered := s.status == StatusUnhealthy
	s.status = StatusHealthy
	s.consecutiveFailures = 0
	s.lastCheck = now
	return recovered
}

// recordFailure bumps the failure counter and reports whether this failure
// crossed the threshold, plus the counter value.
func (s *poolState) recordFailure(now time.Time, threshold int) (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveFailures++
	s.lastCheck = now
	if s.consecutiveFailures >= threshold && s.status != StatusUnhealthy {
		s.status = StatusUnhealthy
		return true, s.consecutiveFailures
	}
	return false, s.consecutiveFailures
}

func (s *poolState) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Status:              s.status,
		LastCheck:           s.lastCheck,
		ConsecutiveFailures: s.consecutiveFailures,
	}
}

func (s *poolState) currentStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Monitor probes all targets on a timer and on demand via CheckNow.
type Monitor struct {
	cfg     Config
	targets []Target
	states  map[pool.Role]*poolState
	bus     *events.Bus
	rec     Recorder
	logger  *zap.Logger

	closeChan chan struct{}
	kickChan  chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewMonitor(cfg Config, targets []Target, bus *events.Bus, rec Recorder, logger *zap.Logger) *Monitor {
	cfg.applyDefaults()
	states := make(map[pool.Role]*poolState, len(targets))
	for _, t := range targets {
		states[t.Role()] = &poolState{}
	}
	return &Monitor{
		cfg:       cfg,
		targets:   targets,
		states:    states,
		bus:       bus,
		rec:       rec,
		logger:    logger,
		closeChan: make(chan struct{}),
		kickChan:  make(chan struct{}, 1),
	}
}

func (m *Monitor) Start() {
	m.startOnce.Do(func() {
		m.wg.Add(1)
		go m.loop()
	})
}

func (m *Monitor) loop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.closeChan:
			m.logger.Info("health monitor exited..")
			return
		case <-ticker.C:
			m.RunChecks(context.Background())
		case <-m.kickChan:
			m.RunChecks(context.Background())
		}
	}
}

func (m *Monitor) Stop() {
	m.closeOnce.Do(func() {
		close(m.closeChan)
	})
	m.wg.Wait()
}

// CheckNow schedules an out-of-band probe pass without blocking the caller.
// Used by the query path when a connection-class error is seen, so failover
// reacts faster than the fixed interval.
func (m *Monitor) CheckNow() {
	select {
	case m.kickChan <- struct{}{}:
	default:
	}
}

// RunChecks probes every target once, synchronously.
func (m *Monitor) RunChecks(ctx context.Context) {
	for _, t := range m.targets {
		m.checkOne(ctx, t)
	}
}

func (m *Monitor) checkOne(ctx context.Context, t Target) {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()
	err := t.Ping(probeCtx)
	now := time.Now()
	role := t.Role()
	st := m.states[role]

	if m.rec != nil {
		m.rec.RecordHealthCheck(role, err == nil)
	}

	if err == nil {
		if st.recordSuccess(now) {
			m.logger.Info("pool recovered", zap.String("role", string(role)))
		}
		m.publish(events.Event{Kind: events.KindHealthCheck, Role: role, Healthy: true, At: now})
		return
	}

	flipped, failures := st.recordFailure(now, m.cfg.MaxConsecutiveFailures)
	m.logger.Warn("health probe failed",
		zap.String("role", string(role)),
		zap.Int("consecutiveFailures", failures),
		zap.Error(err))
	m.publish(events.Event{Kind: events.KindHealthCheck, Role: role, Healthy: false, Err: err, At: now})
	if flipped {
		m.logger.Error("pool marked unhealthy",
			zap.String("role", string(role)),
			zap.Int("consecutiveFailures", failures))
		m.publish(events.Event{Kind: events.KindPoolUnhealthy, Role: role, Err: err, At: now})
	}
}

func (m *Monitor) publish(ev events.Event) {
	if m.bus != nil {
		m.bus.Publish(ev)
	}
}

// Status reports the current status of one pool. Unmonitored roles report
// StatusUnknown.
func (m *Monitor) Status(role pool.Role) Status {
	st, ok := m.states[role]
	if !ok {
		return StatusUnknown
	}
	return st.currentStatus()
}

func (m *Monitor) SnapshotAll() map[pool.Role]Snapshot {
	out := make(map[pool.Role]Snapshot, len(m.states))
	for role, st := range m.states {
		out[role] = st.snapshot()
	}
	return out
}
