package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/YASSERRMD/naseejmesh/internal/listener"
	"github.com/YASSERRMD/naseejmesh/internal/message"
	"github.com/YASSERRMD/naseejmesh/internal/store"
)

// fakeListener records lifecycle calls without binding anything.
type fakeListener struct {
	spec      store.ListenerSpec
	started   atomic.Bool
	stopped   atomic.Bool
	failStart bool
}

func (f *fakeListener) ID() string                 { return f.spec.ID }
func (f *fakeListener) Protocol() message.Protocol { return f.spec.Protocol }
func (f *fakeListener) Addr() string               { return f.spec.Addr() }

func (f *fakeListener) Start(ctx context.Context) error {
	if f.failStart {
		return errors.New("bind failed")
	}
	f.started.Store(true)
	return nil
}

func (f *fakeListener) Stop(ctx context.Context) error {
	f.stopped.Store(true)
	return nil
}

type fakeFactory struct {
	built    map[string]*fakeListener
	failNext bool
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{built: make(map[string]*fakeListener)}
}

func (f *fakeFactory) factory(spec store.ListenerSpec) (listener.Listener, error) {
	l := &fakeListener{spec: spec, failStart: f.failNext}
	f.built[spec.ID] = l
	return l, nil
}

func httpSpec(id string, port int) store.ListenerSpec {
	return store.ListenerSpec{
		ID: id, Protocol: message.ProtocolHTTP, Host: "127.0.0.1",
		Port: port, Enabled: true, DrainTimeoutSecs: 1,
	}
}

func mqttSpec(id string, port int) store.ListenerSpec {
	return store.ListenerSpec{
		ID: id, Protocol: message.ProtocolMQTT, Host: "127.0.0.1",
		Port: port, Enabled: true, DrainTimeoutSecs: 1,
	}
}

func drainEvents(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		case <-time.After(50 * time.Millisecond):
			return out
		}
	}
}

func TestReconcileStartsListeners(t *testing.T) {
	f := newFakeFactory()
	s := New(f.factory)
	defer s.Shutdown()

	events := s.Subscribe()
	s.Reconcile([]store.ListenerSpec{httpSpec("L1", 8080)})

	if !s.IsRunning("L1") {
		t.Fatal("L1 should be running")
	}
	if s.Count() != 1 {
		t.Errorf("expected 1 listener, got %d", s.Count())
	}

	evs := drainEvents(events)
	if len(evs) != 1 || evs[0].Type != EventStarted || evs[0].ID != "L1" {
		t.Errorf("expected Started(L1), got %+v", evs)
	}
}

func TestReconcileScenario(t *testing.T) {
	// Initial config: L1@8080 HTTP. Next config: L1@8081 HTTP (port
	// changed → restart) and L2@1883 MQTT (new → start). No Stopped
	// events: the restart's inner stop is reported only as Restarted.
	f := newFakeFactory()
	s := New(f.factory)
	defer s.Shutdown()

	s.Reconcile([]store.ListenerSpec{httpSpec("L1", 8080)})
	firstL1 := f.built["L1"]

	events := s.Subscribe()
	s.Reconcile([]store.ListenerSpec{httpSpec("L1", 8081), mqttSpec("L2", 1883)})

	if !s.IsRunning("L1") || !s.IsRunning("L2") {
		t.Fatal("both listeners should be running")
	}
	if !firstL1.stopped.Load() {
		t.Error("original L1 should have been stopped for restart")
	}

	evs := drainEvents(events)
	var restarted, started, stopped int
	for _, ev := range evs {
		switch ev.Type {
		case EventRestarted:
			restarted++
			if ev.ID != "L1" {
				t.Errorf("unexpected restart of %s", ev.ID)
			}
		case EventStarted:
			started++
			if ev.ID != "L2" {
				t.Errorf("unexpected start of %s", ev.ID)
			}
		case EventStopped:
			stopped++
		}
	}
	if restarted != 1 || started != 1 || stopped != 0 {
		t.Errorf("expected Restarted(L1)+Started(L2), got %+v", evs)
	}
}

func TestReconcileUnchangedSpecAvoidsRestart(t *testing.T) {
	f := newFakeFactory()
	s := New(f.factory)
	defer s.Shutdown()

	spec := httpSpec("L1", 8080)
	s.Reconcile([]store.ListenerSpec{spec})
	first := f.built["L1"]

	s.Reconcile([]store.ListenerSpec{spec})
	if first.stopped.Load() {
		t.Error("equivalent spec must not trigger a restart")
	}
}

func TestReconcileStopsRemoved(t *testing.T) {
	f := newFakeFactory()
	s := New(f.factory)
	defer s.Shutdown()

	s.Reconcile([]store.ListenerSpec{httpSpec("L1", 8080), httpSpec("L2", 8081)})
	events := s.Subscribe()

	s.Reconcile([]store.ListenerSpec{httpSpec("L1", 8080)})
	if s.IsRunning("L2") {
		t.Error("L2 should be stopped")
	}
	if !f.built["L2"].stopped.Load() {
		t.Error("L2's Stop should have been called")
	}

	evs := drainEvents(events)
	if len(evs) != 1 || evs[0].Type != EventStopped || evs[0].ID != "L2" {
		t.Errorf("expected Stopped(L2), got %+v", evs)
	}
}

func TestDisabledSpecCountsAsAbsent(t *testing.T) {
	f := newFakeFactory()
	s := New(f.factory)
	defer s.Shutdown()

	s.Reconcile([]store.ListenerSpec{httpSpec("L1", 8080)})

	disabled := httpSpec("L1", 8080)
	disabled.Enabled = false
	s.Reconcile([]store.ListenerSpec{disabled})

	if s.IsRunning("L1") {
		t.Error("disabled listener should be stopped")
	}
}

func TestStartFailureReportsErrorNoRetry(t *testing.T) {
	f := newFakeFactory()
	f.failNext = true
	s := New(f.factory)
	defer s.Shutdown()

	events := s.Subscribe()
	s.Reconcile([]store.ListenerSpec{httpSpec("L1", 8080)})

	if s.IsRunning("L1") {
		t.Error("failed listener must not be recorded as running")
	}
	evs := drainEvents(events)
	if len(evs) != 1 || evs[0].Type != EventError {
		t.Fatalf("expected a single Error event, got %+v", evs)
	}

	// The next reconcile retries.
	f.failNext = false
	s.Reconcile([]store.ListenerSpec{httpSpec("L1", 8080)})
	if !s.IsRunning("L1") {
		t.Error("next reconcile should start the listener")
	}
}

func TestShutdownStopsEverything(t *testing.T) {
	f := newFakeFactory()
	s := New(f.factory)

	s.Reconcile([]store.ListenerSpec{httpSpec("L1", 8080), mqttSpec("L2", 1883)})
	s.Shutdown()

	if s.Count() != 0 {
		t.Errorf("expected 0 listeners after shutdown, got %d", s.Count())
	}
	for id, l := range f.built {
		if !l.stopped.Load() {
			t.Errorf("listener %s not stopped on shutdown", id)
		}
	}
}
