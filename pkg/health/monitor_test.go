package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kong/pg-route-client/pkg/events"
	"github.com/kong/pg-route-client/pkg/pool"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeTarget struct {
	mu   sync.Mutex
	role pool.Role
	err  error
}

func (f *fakeTarget) Role() pool.Role {
	return f.role
}

func (f *fakeTarget) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeTarget) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type checkRecorder struct {
	mu     sync.Mutex
	checks map[pool.Role]int
}

func (r *checkRecorder) RecordHealthCheck(role pool.Role, _ bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.checks == nil {
		r.checks = make(map[pool.Role]int)
	}
	r.checks[role]++
}

func (r *checkRecorder) count(role pool.Role) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.checks[role]
}

func newTestMonitor(threshold int, targets ...Target) *Monitor {
	return NewMonitor(Config{
		Interval:               time.Hour, // tests drive checks explicitly
		ProbeTimeout:           time.Second,
		MaxConsecutiveFailures: threshold,
	}, targets, nil, nil, zap.NewNop())
}

func TestMonitorStartsUnknown(t *testing.T) {
	target := &fakeTarget{role: pool.RoleReplica}
	m := newTestMonitor(3, target)

	require.Equal(t, StatusUnknown, m.Status(pool.RoleReplica))
	require.Equal(t, StatusUnknown, m.Status(pool.RolePrimary)) // unmonitored
}

func TestMonitorFlipsUnhealthyAtThresholdExactly(t *testing.T) {
	target := &fakeTarget{role: pool.RoleReplica, err: errors.New("refused")}
	m := newTestMonitor(3, target)
	ctx := context.Background()

	m.RunChecks(ctx)
	require.Equal(t, StatusUnknown, m.Status(pool.RoleReplica))
	m.RunChecks(ctx)
	require.Equal(t, StatusUnknown, m.Status(pool.RoleReplica))
	m.RunChecks(ctx)
	require.Equal(t, StatusUnhealthy, m.Status(pool.RoleReplica))

	snap := m.SnapshotAll()[pool.RoleReplica]
	require.Equal(t, 3, snap.ConsecutiveFailures)
	require.False(t, snap.LastCheck.IsZero())
}

func TestMonitorSuccessResetsCounterAndStatus(t *testing.T) {
	target := &fakeTarget{role: pool.RoleReplica, err: errors.New("refused")}
	m := newTestMonitor(3, target)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		m.RunChecks(ctx)
	}
	require.Equal(t, StatusUnhealthy, m.Status(pool.RoleReplica))

	// One successful probe makes the pool eligible again.
	target.setErr(nil)
	m.RunChecks(ctx)
	require.Equal(t, StatusHealthy, m.Status(pool.RoleReplica))
	require.Equal(t, 0, m.SnapshotAll()[pool.RoleReplica].ConsecutiveFailures)
}

func TestMonitorTransientFailureDoesNotFlip(t *testing.T) {
	target := &fakeTarget{role: pool.RolePrimary}
	m := newTestMonitor(3, target)
	ctx := context.Background()

	m.RunChecks(ctx)
	require.Equal(t, StatusHealthy, m.Status(pool.RolePrimary))

	target.setErr(errors.New("blip"))
	m.RunChecks(ctx)
	m.RunChecks(ctx)
	// Two failures with threshold three leave routing untouched.
	require.Equal(t, StatusHealthy, m.Status(pool.RolePrimary))
	require.Equal(t, 2, m.SnapshotAll()[pool.RolePrimary].ConsecutiveFailures)
}

func TestMonitorEmitsEvents(t *testing.T) {
	bus := events.NewBus(zap.NewNop())
	var mu sync.Mutex
	var got []events.Event
	bus.Subscribe(func(ev events.Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev)
	})

	target := &fakeTarget{role: pool.RoleReplica, err: errors.New("refused")}
	m := NewMonitor(Config{
		Interval:               time.Hour,
		ProbeTimeout:           time.Second,
		MaxConsecutiveFailures: 2,
	}, []Target{target}, bus, nil, zap.NewNop())

	ctx := context.Background()
	m.RunChecks(ctx)
	m.RunChecks(ctx)
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	var healthChecks, unhealthy int
	for _, ev := range got {
		switch ev.Kind {
		case events.KindHealthCheck:
			healthChecks++
			require.False(t, ev.Healthy)
			require.Error(t, ev.Err)
		case events.KindPoolUnhealthy:
			unhealthy++
		}
	}
	require.Equal(t, 2, healthChecks)
	require.Equal(t, 1, unhealthy) // only on the flip, not every failure after
}

func TestMonitorRecordsChecks(t *testing.T) {
	rec := &checkRecorder{}
	primary := &fakeTarget{role: pool.RolePrimary}
	replica := &fakeTarget{role: pool.RoleReplica, err: errors.New("down")}
	m := NewMonitor(Config{
		Interval:               time.Hour,
		ProbeTimeout:           time.Second,
		MaxConsecutiveFailures: 3,
	}, []Target{primary, replica}, nil, rec, zap.NewNop())

	m.RunChecks(context.Background())
	require.Equal(t, 1, rec.count(pool.RolePrimary))
	require.Equal(t, 1, rec.count(pool.RoleReplica))
}

func TestMonitorCheckNowTriggersPass(t *testing.T) {
	target := &fakeTarget{role: pool.RolePrimary}
	m := newTestMonitor(3, target)
	m.Start()
	defer m.Stop()

	m.CheckNow()
	require.Eventually(t, func() bool {
		return m.Status(pool.RolePrimary) == StatusHealthy
	}, time.Second*2, time.Millisecond*10)
}

func TestMonitorStopIsIdempotent(t *testing.T) {
	m := newTestMonitor(3, &fakeTarget{role: pool.RolePrimary})
	m.Start()
	m.Stop()
	m.Stop()
}

func TestStatusString(t *testing.T) {
	require.Equal(t, "unknown", StatusUnknown.String())
	require.Equal(t, "healthy", StatusHealthy.String())
	require.Equal(t, "unhealthy", StatusUnhealthy.String())
}
