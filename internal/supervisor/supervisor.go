// Package supervisor owns the set of running protocol listeners. On
// each config generation it diffs desired against running state and
// starts, stops, or restarts listeners, using cooperative cancellation
// with a per-listener drain deadline.
package supervisor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/YASSERRMD/naseejmesh/internal/listener"
	"github.com/YASSERRMD/naseejmesh/internal/logging"
	"github.com/YASSERRMD/naseejmesh/internal/store"
)

// State tracks a listener through its lifecycle.
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateDraining State = "draining"
	StateStopped  State = "stopped"
)

// EventType identifies a lifecycle transition.
type EventType string

const (
	EventStarted   EventType = "started"
	EventStopped   EventType = "stopped"
	EventRestarted EventType = "restarted"
	EventError     EventType = "error"
)

// Event is a lifecycle notification. Delivery is best-effort: slow
// subscribers drop events.
type Event struct {
	Type     EventType
	ID       string
	Protocol string
	Addr     string
	Err      error
}

// handle is the supervisor's record of one running listener.
type handle struct {
	listener listener.Listener
	spec     store.ListenerSpec
	state    State
}

// Supervisor reconciles running listeners against listener specs.
// It is single-owner: all map access happens under mu, and nothing
// outside the supervisor holds a listener reference.
type Supervisor struct {
	factory listener.Factory

	mu      sync.Mutex
	running map[string]*handle

	subMu sync.Mutex
	subs  []chan Event

	masterCtx context.Context
	cancelAll context.CancelFunc
}

// New creates a supervisor spawning listeners via factory.
func New(factory listener.Factory) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		factory:   factory,
		running:   make(map[string]*handle),
		masterCtx: ctx,
		cancelAll: cancel,
	}
}

// Subscribe returns a channel of lifecycle events. Events that cannot
// be delivered immediately are dropped.
func (s *Supervisor) Subscribe() <-chan Event {
	ch := make(chan Event, 16)
	s.subMu.Lock()
	s.subs = append(s.subs, ch)
	s.subMu.Unlock()
	return ch
}

func (s *Supervisor) publish(ev Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Reconcile diffs the desired spec set against running listeners:
// stop listeners no longer expected, start new ones, and restart those
// whose spec changed. Disabled specs count as absent.
func (s *Supervisor) Reconcile(specs []store.ListenerSpec) {
	expected := make(map[string]store.ListenerSpec, len(specs))
	for _, spec := range specs {
		if spec.Enabled {
			expected[spec.ID] = spec
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Stop listeners that are gone or disabled.
	for id, h := range s.running {
		if _, ok := expected[id]; ok {
			continue
		}
		s.stopLocked(id, h)
		s.publish(Event{Type: EventStopped, ID: id})
	}

	// Start new listeners, restart changed ones.
	for id, spec := range expected {
		h, ok := s.running[id]
		if !ok {
			if s.startLocked(spec) {
				s.publish(Event{Type: EventStarted, ID: id, Protocol: string(spec.Protocol), Addr: spec.Addr()})
			}
			continue
		}
		if !h.spec.Equal(spec) {
			logging.Info("listener spec changed, restarting", zap.String("id", id))
			s.stopLocked(id, h)
			if s.startLocked(spec) {
				s.publish(Event{Type: EventRestarted, ID: id, Protocol: string(spec.Protocol), Addr: spec.Addr()})
			}
		}
	}
}

// startLocked builds and starts a listener, reporting failure via an
// Error event. There is no auto-retry; the next reconcile may succeed.
// Caller holds s.mu.
func (s *Supervisor) startLocked(spec store.ListenerSpec) bool {
	h := &handle{spec: spec, state: StateStarting}

	l, err := s.factory(spec)
	if err == nil {
		h.listener = l
		err = l.Start(s.masterCtx)
	}
	if err != nil {
		h.state = StateStopped
		logging.Error("listener failed to start",
			zap.String("id", spec.ID),
			zap.String("protocol", string(spec.Protocol)),
			zap.Error(err),
		)
		s.publish(Event{Type: EventError, ID: spec.ID, Err: err})
		return false
	}

	h.state = StateRunning
	s.running[spec.ID] = h
	logging.Info("listener started",
		zap.String("id", spec.ID),
		zap.String("protocol", string(spec.Protocol)),
		zap.String("addr", spec.Addr()),
	)
	return true
}

// stopLocked drains and stops a listener, forcing exit at the drain
// deadline. Caller holds s.mu.
func (s *Supervisor) stopLocked(id string, h *handle) {
	h.state = StateDraining

	drain := time.Duration(h.spec.DrainTimeoutSecs) * time.Second
	if drain <= 0 {
		drain = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), drain)
	defer cancel()

	if err := h.listener.Stop(ctx); err != nil {
		logging.Warn("listener stop", zap.String("id", id), zap.Error(err))
	}

	h.state = StateStopped
	delete(s.running, id)
	logging.Info("listener stopped", zap.String("id", id))
}

// Shutdown stops every listener and cancels the master context.
func (s *Supervisor) Shutdown() {
	s.cancelAll()

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, h := range s.running {
		s.stopLocked(id, h)
		s.publish(Event{Type: EventStopped, ID: id})
	}
}

// Count returns the number of running listeners.
func (s *Supervisor) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// IsRunning reports whether a listener with id is running.
func (s *Supervisor) IsRunning(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	return ok
}

// States returns a snapshot of listener states by ID.
func (s *Supervisor) States() map[string]State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]State, len(s.running))
	for id, h := range s.running {
		out[id] = h.state
	}
	return out
}
