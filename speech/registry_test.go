package speech

import (
	"context"
	"testing"
	"time"

	"github.com/lessonloop/readaloud/speech/engines"
	"github.com/lessonloop/readaloud/speech/engines/mock"
)

func newTestRegistry() *Registry {
	return NewRegistry(func(string) *Controller {
		cap := mock.New()
		cap.SetSpeakDelay(time.Second)
		cfg := testConfig()
		adapter := engines.NewAdapter(cap, cfg.ToEngineConfig(), cfg.ToAdapterConfig())
		return NewController(cfg, adapter)
	})
}

func TestRegistryReturnsSameInstancePerScope(t *testing.T) {
	r := newTestRegistry()
	defer r.Shutdown()

	a := r.Instance("private")
	b := r.Instance("private")
	if a != b {
		t.Fatal("expected the same controller for repeated scope lookups")
	}
	if c := r.Instance("public"); c == a {
		t.Fatal("expected distinct controllers for distinct scopes")
	}
	if got := len(r.Scopes()); got != 2 {
		t.Fatalf("expected 2 scopes, got %d", got)
	}
}

func TestRegistryScopesAreIsolated(t *testing.T) {
	r := newTestRegistry()
	defer r.Shutdown()

	private := r.Instance("private")
	public := r.Instance("public")

	if !private.Start(context.Background(), "Private lesson text for one scope.", "lesson-private") {
		t.Fatal("expected private start to be accepted")
	}
	if !public.Start(context.Background(), "Public lesson text for another scope.", "lesson-public") {
		t.Fatal("expected public start to be accepted")
	}

	waitFor(t, "both scopes playing", func() bool {
		return private.Status().IsPlaying && public.Status().IsPlaying
	})

	if !private.Pause() {
		t.Fatal("expected private pause to succeed")
	}

	if !public.Status().IsPlaying {
		t.Fatal("pausing one scope must not affect another")
	}
	if public.Status().IsPaused {
		t.Fatal("public scope wrongly observed the private pause")
	}
	if got := public.Status().SessionID; got != "lesson-public" {
		t.Fatalf("public session disturbed: %q", got)
	}
	if got := public.Status().PausePosition; got != 0 {
		t.Fatalf("public scope observed a pause position: %d", got)
	}
}

func TestRegistryShutdownStopsControllers(t *testing.T) {
	r := newTestRegistry()

	c := r.Instance("private")
	if !c.Start(context.Background(), "A sentence to shut down.", "lesson-1") {
		t.Fatal("expected start to be accepted")
	}
	waitFor(t, "playing", func() bool { return c.Status().IsPlaying })

	r.Shutdown()

	if st := c.Status(); st.State != StateStopped {
		t.Fatalf("expected stopped after shutdown, got %v", st.State)
	}
	if got := len(r.Scopes()); got != 0 {
		t.Fatalf("expected registry to forget instances, got %d scopes", got)
	}
}
