package realtime

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func newRegisteredRouter(t *testing.T) *Router {
	t.Helper()
	stub := &speechStub{}
	out := make(chan json.RawMessage, 8)
	r, err := start(Options{SessionID: "s1"}, stub, make(chan SpeechEvent), nil, nil, out)
	if err != nil {
		t.Fatalf("start() error = %v", err)
	}
	t.Cleanup(r.Close)
	return r
}

func TestRegistryRegisterLookupDispose(t *testing.T) {
	reg := NewRegistry()
	r := newRegisteredRouter(t)

	if err := reg.Register("s1", r); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if got, ok := reg.Lookup("s1"); !ok || got != r {
		t.Fatalf("Lookup() = %v, %v, want the registered router", got, ok)
	}
	if reg.ActiveCount() != 1 {
		t.Fatalf("ActiveCount() = %d, want 1", reg.ActiveCount())
	}

	if err := reg.Dispose("s1"); err != nil {
		t.Fatalf("Dispose() error = %v", err)
	}
	if _, ok := reg.Lookup("s1"); ok {
		t.Fatalf("session still resolvable after dispose")
	}
	if r.State() != StateClosed {
		t.Fatalf("router state = %q, want closed", r.State())
	}
}

func TestRegistryRejectsDuplicateSessionID(t *testing.T) {
	reg := NewRegistry()
	first := newRegisteredRouter(t)
	second := newRegisteredRouter(t)

	if err := reg.Register("s1", first); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := reg.Register("s1", second); !errors.Is(err, ErrSessionExists) {
		t.Fatalf("duplicate Register() error = %v, want ErrSessionExists", err)
	}
	// The first session keeps its registry slot and stays open.
	if got, _ := reg.Lookup("s1"); got != first {
		t.Fatalf("Lookup() resolved the duplicate, want the first router")
	}
	if first.State() == StateClosed {
		t.Fatalf("first router was closed by the rejected duplicate")
	}
}

func TestRegistryDisposeMissReturnsNotFound(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Dispose("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Dispose() error = %v, want ErrSessionNotFound", err)
	}
}

func TestRegistryDisposeTwiceIsSafe(t *testing.T) {
	reg := NewRegistry()
	r := newRegisteredRouter(t)
	if err := reg.Register("s1", r); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := reg.Dispose("s1"); err != nil {
		t.Fatalf("first Dispose() error = %v", err)
	}
	if err := reg.Dispose("s1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("second Dispose() error = %v, want ErrSessionNotFound", err)
	}
}

func TestRegistryShutdownDisposesAll(t *testing.T) {
	reg := NewRegistry()
	a := newRegisteredRouter(t)
	b := newRegisteredRouter(t)
	if err := reg.Register("a", a); err != nil {
		t.Fatalf("Register(a) error = %v", err)
	}
	if err := reg.Register("b", b); err != nil {
		t.Fatalf("Register(b) error = %v", err)
	}

	reg.Shutdown()

	if reg.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() after shutdown = %d, want 0", reg.ActiveCount())
	}
	for _, r := range []*Router{a, b} {
		select {
		case <-r.Done():
		case <-time.After(2 * time.Second):
			t.Fatalf("router %s still running after shutdown", r.ID())
		}
	}
}
