// Package events carries the observability stream of the connection manager:
// a closed set of event kinds dispatched asynchronously to subscribers.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/kong/pg-route-client/pkg/pool"
	"go.uber.org/zap"
)

type Kind int

const (
	KindConnect Kind = iota
	KindDisconnect
	KindPoolError
	KindHealthCheck
	KindPoolUnhealthy
	KindQuery
	KindQueryError
	KindConnectionError
	KindShutdown
)

func (k Kind) String() string {
	switch k {
	case KindConnect:
		return "connect"
	case KindDisconnect:
		return "disconnect"
	case KindPoolError:
		return "poolError"
	case KindHealthCheck:
		return "healthCheck"
	case KindPoolUnhealthy:
		return "poolUnhealthy"
	case KindQuery:
		return "query"
	case KindQueryError:
		return "queryError"
	case KindConnectionError:
		return "connectionError"
	case KindShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind    Kind
	Role    pool.Role
	Healthy bool
	Err     error
	Elapsed time.Duration
	At      time.Time
}

type Handler func(Event)

const eventBuffer = 256

// Bus fans events out to subscribers from a single dispatch goroutine.
// Publish never blocks the caller: a full buffer drops the event.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler

	ch        chan Event
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	logger    *zap.Logger
}

func NewBus(logger *zap.Logger) *Bus {
	b := &Bus{
		ch:     make(chan Event, eventBuffer),
		done:   make(chan struct{}),
		logger: logger,
	}
	b.wg.Add(1)
	go b.dispatch()
	return b
}

func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case <-b.done:
		return
	default:
	}
	select {
	case b.ch <- ev:
	default:
		if b.dropped.Add(1)%100 == 1 {
			b.logger.Warn("event buffer full, dropping events",
				zap.String("kind", ev.Kind.String()),
				zap.Uint64("dropped", b.dropped.Load()))
		}
	}
}

// Dropped reports how many events were discarded because the buffer was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close stops dispatch after draining already-buffered events. Idempotent.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
	})
	b.wg.Wait()
}

func (b *Bus) dispatch() {
	defer b.wg.Done()
	for {
		select {
		case ev := <-b.ch:
			b.deliver(ev)
		case <-b.done:
			for {
				select {
				case ev := <-b.ch:
					b.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) deliver(ev Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
}
