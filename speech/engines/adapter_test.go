package engines_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lessonloop/readaloud/speech/engines"
	"github.com/lessonloop/readaloud/speech/engines/mock"
)

func fastConfig() engines.AdapterConfig {
	return engines.AdapterConfig{
		MaxInitAttempts:   3,
		InitBackoff:       time.Millisecond,
		VoiceWaitTimeout:  50 * time.Millisecond,
		VoicePollInterval: 5 * time.Millisecond,
	}
}

func waitForCondition(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestEnsureReadyFirstAttempt(t *testing.T) {
	cap := mock.New()
	a := engines.NewAdapter(cap, engines.Config{Voice: "en-1", Language: "en"}, fastConfig())

	a.EnsureReady(context.Background())

	if !a.Supported() {
		t.Fatal("expected adapter to be supported")
	}
	if got := cap.InitCalls(); got != 1 {
		t.Fatalf("expected 1 init call, got %d", got)
	}
	cfgs := cap.InitConfigs()
	if cfgs[0].Voice != "en-1" || cfgs[0].Language != "en" {
		t.Fatalf("expected requested config on first attempt, got %+v", cfgs[0])
	}
}

func TestEnsureReadyFallbackLadder(t *testing.T) {
	cap := mock.New()
	cap.FailInit(2, errors.New("voice unavailable"))
	a := engines.NewAdapter(cap, engines.Config{Voice: "en-1", Language: "en"}, fastConfig())

	a.EnsureReady(context.Background())

	if !a.Supported() {
		t.Fatal("expected adapter to recover via fallback configs")
	}
	cfgs := cap.InitConfigs()
	if len(cfgs) != 3 {
		t.Fatalf("expected 3 init attempts, got %d", len(cfgs))
	}
	if cfgs[1].Voice != "" || cfgs[1].Language != "en" {
		t.Fatalf("expected language-default config on second attempt, got %+v", cfgs[1])
	}
	if cfgs[2] != (engines.Config{}) {
		t.Fatalf("expected bare default config on third attempt, got %+v", cfgs[2])
	}
}

func TestEnsureReadyExhaustionMarksUnsupported(t *testing.T) {
	cap := mock.New()
	cap.FailInit(3, errors.New("no engine"))
	a := engines.NewAdapter(cap, engines.Config{Voice: "en-1", Language: "en"}, fastConfig())

	a.EnsureReady(context.Background())

	if a.Supported() {
		t.Fatal("expected adapter to be unsupported after exhausting attempts")
	}
	if err := a.Speak(context.Background(), "hello", time.Second); !errors.Is(err, engines.ErrNotSupported) {
		t.Fatalf("expected ErrNotSupported, got %v", err)
	}
}

func TestEnsureReadyIsIdempotent(t *testing.T) {
	cap := mock.New()
	a := engines.NewAdapter(cap, engines.Config{Language: "en"}, fastConfig())

	a.EnsureReady(context.Background())
	a.EnsureReady(context.Background())

	if got := cap.InitCalls(); got != 1 {
		t.Fatalf("expected a single init across repeated EnsureReady, got %d", got)
	}
}

func TestReinitRecoversAfterFailure(t *testing.T) {
	cap := mock.New()
	cap.FailInit(3, errors.New("transient"))
	a := engines.NewAdapter(cap, engines.Config{Language: "en"}, fastConfig())

	a.EnsureReady(context.Background())
	if a.Supported() {
		t.Fatal("expected initial failure")
	}

	a.Reinit(context.Background())
	if !a.Supported() {
		t.Fatal("expected Reinit to succeed once the capability recovers")
	}
}

func TestVoiceWaitTimeoutProceeds(t *testing.T) {
	cap := mock.New()
	cap.SetVoicesDelay(time.Hour)
	cap.SetDescription(engines.Description{})
	a := engines.NewAdapter(cap, engines.Config{Language: "en"}, fastConfig())

	start := time.Now()
	a.EnsureReady(context.Background())
	elapsed := time.Since(start)

	if !a.Supported() {
		t.Fatal("voice discovery timeout must not mark the adapter unsupported")
	}
	if elapsed < 40*time.Millisecond {
		t.Fatalf("expected EnsureReady to wait for the voice timeout, returned after %v", elapsed)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("expected EnsureReady to give up waiting, took %v", elapsed)
	}
}

func TestVoiceWaitPollPicksUpLateVoices(t *testing.T) {
	cap := mock.New()
	cap.SetVoicesDelay(15 * time.Millisecond)
	cap.SetDescription(engines.Description{})
	cfg := fastConfig()
	cfg.VoiceWaitTimeout = time.Second
	a := engines.NewAdapter(cap, engines.Config{Language: "en"}, cfg)

	a.EnsureReady(context.Background())

	if len(a.Voices()) == 0 {
		t.Fatal("expected polling to observe the late voice list")
	}
}

func TestSpeakCompletes(t *testing.T) {
	cap := mock.New()
	a := engines.NewAdapter(cap, engines.Config{Language: "en"}, fastConfig())
	a.EnsureReady(context.Background())

	if err := a.Speak(context.Background(), "hello world", time.Second); err != nil {
		t.Fatalf("unexpected speak error: %v", err)
	}
	if got := cap.SpokenTexts(); len(got) != 1 || got[0] != "hello world" {
		t.Fatalf("unexpected spoken texts: %v", got)
	}
}

func TestSpeakTimeoutCancelsAndReturnsChunkTimeout(t *testing.T) {
	cap := mock.New()
	cap.HangOnSpeak(true)
	a := engines.NewAdapter(cap, engines.Config{Language: "en"}, fastConfig())
	a.EnsureReady(context.Background())

	err := a.Speak(context.Background(), "stuck", 20*time.Millisecond)
	if !errors.Is(err, engines.ErrChunkTimeout) {
		t.Fatalf("expected ErrChunkTimeout, got %v", err)
	}

	// The timed-out utterance must be released, and its cancellation must
	// not bleed into the next one.
	cap.HangOnSpeak(false)
	if err := a.Speak(context.Background(), "after timeout", time.Second); err != nil {
		t.Fatalf("speak after timeout failed: %v", err)
	}
}

func TestAbandonedUtteranceCancelDoesNotKillSuccessor(t *testing.T) {
	cap := mock.New()
	cap.HangOnSpeak(true)
	a := engines.NewAdapter(cap, engines.Config{Language: "en"}, fastConfig())
	a.EnsureReady(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Speak(ctx, "abandoned", time.Minute) }()
	waitForCondition(t, "first utterance in flight", func() bool { return cap.SpeakCalls() == 1 })
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// The successor must run out its full scripted duration even while the
	// abandoned utterance is still unwinding.
	cap.HangOnSpeak(false)
	const delay = 50 * time.Millisecond
	cap.SetSpeakDelay(delay)
	started := time.Now()
	if err := a.Speak(context.Background(), "successor", time.Minute); err != nil {
		t.Fatalf("successor utterance failed: %v", err)
	}
	if elapsed := time.Since(started); elapsed < delay {
		t.Fatalf("successor terminated after %v, want at least %v", elapsed, delay)
	}
}

func TestSpeakPropagatesEngineError(t *testing.T) {
	cap := mock.New()
	cap.FailSpeak(1, errors.New("synthesis blew up"))
	a := engines.NewAdapter(cap, engines.Config{Language: "en"}, fastConfig())
	a.EnsureReady(context.Background())

	if err := a.Speak(context.Background(), "boom", time.Second); err == nil {
		t.Fatal("expected the engine error to propagate")
	}
}

func TestListenerReceivesNormalizedEvents(t *testing.T) {
	cap := mock.New()
	a := engines.NewAdapter(cap, engines.Config{Language: "en"}, fastConfig())

	events := make(chan engines.EventType, 8)
	a.SetListener(func(ev engines.Event) { events <- ev.Type })
	a.EnsureReady(context.Background())

	if err := a.Speak(context.Background(), "hi", time.Second); err != nil {
		t.Fatalf("unexpected speak error: %v", err)
	}

	want := []engines.EventType{engines.EventStart, engines.EventEnd}
	for _, w := range want {
		select {
		case got := <-events:
			if got != w {
				t.Fatalf("expected %v event, got %v", w, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %v event", w)
		}
	}
}
