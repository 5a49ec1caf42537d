// Package router decides which pool serves a statement. It never returns an
// error: an unavailable replica degrades to a silent primary fallback.
package router

import (
	"github.com/kong/pg-route-client/pkg/health"
	"github.com/kong/pg-route-client/pkg/pool"
	"go.uber.org/zap"
)

// Options are per-call routing directives. An explicit directive always
// outranks automatic classification.
type Options struct {
	ForcePrimary  bool
	ForceReadonly bool
}

// HealthSource reports current pool health. *health.Monitor satisfies it.
type HealthSource interface {
	Status(role pool.Role) health.Status
}

// Recorder receives one call per routing decision.
type Recorder interface {
	RecordRoutingDecision(role pool.Role)
}

type Router struct {
	replicationEnabled bool
	hasReplica         bool
	health             HealthSource
	rec                Recorder
	logger             *zap.Logger
}

func New(replicationEnabled, hasReplica bool, hs HealthSource, rec Recorder, logger *zap.Logger) *Router {
	return &Router{
		replicationEnabled: replicationEnabled,
		hasReplica:         hasReplica,
		health:             hs,
		rec:                rec,
		logger:             logger,
	}
}

// Select picks the pool for sql. Decision order: forced primary or replication
// disabled, forced read-only against a healthy replica, classified read-only
// against a healthy replica, then primary.
func (r *Router) Select(sql string, opts Options) pool.Role {
	role := r.pick(sql, opts)
	if r.rec != nil {
		r.rec.RecordRoutingDecision(role)
	}
	return role
}

func (r *Router) pick(sql string, opts Options) pool.Role {
	if opts.ForcePrimary || !r.replicationEnabled || !r.hasReplica {
		return pool.RolePrimary
	}
	replicaHealthy := r.health.Status(pool.RoleReplica) == health.StatusHealthy
	if opts.ForceReadonly {
		if replicaHealthy {
			return pool.RoleReplica
		}
		r.logger.Debug("replica unavailable, forced read-only routed to primary")
		return pool.RolePrimary
	}
	if IsReadOnly(sql) {
		if replicaHealthy {
			return pool.RoleReplica
		}
		r.logger.Debug("replica unavailable, read routed to primary")
		return pool.RolePrimary
	}
	return pool.RolePrimary
}
