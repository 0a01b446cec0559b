package speech

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/lessonloop/readaloud/speech/engines"
	"github.com/lessonloop/readaloud/speech/engines/mock"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Engine = "mock"
	cfg.InitBackoff = time.Millisecond
	cfg.VoiceWaitTimeout = 50 * time.Millisecond
	cfg.VoicePollInterval = 5 * time.Millisecond
	cfg.RetryDelay = time.Millisecond
	cfg.ChunkTimeout = 500 * time.Millisecond
	return cfg
}

func newTestController(cap *mock.Capability, cfg Config) *Controller {
	adapter := engines.NewAdapter(cap, cfg.ToEngineConfig(), cfg.ToAdapterConfig())
	return NewController(cfg, adapter)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// statusRecorder captures every status change for later inspection.
type statusRecorder struct {
	mu       sync.Mutex
	statuses []Status
}

func (r *statusRecorder) record(st Status) {
	r.mu.Lock()
	r.statuses = append(r.statuses, st)
	r.mu.Unlock()
}

func (r *statusRecorder) sawPlaying() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, st := range r.statuses {
		if st.IsPlaying {
			return true
		}
	}
	return false
}

func TestPlaybackCompletesNaturally(t *testing.T) {
	cap := mock.New()
	cap.SetSpeakDelay(10 * time.Millisecond)
	c := newTestController(cap, testConfig())

	rec := &statusRecorder{}
	c.OnStatusChange(rec.record)

	if !c.Start(context.Background(), "Short sentence.", "lesson-1") {
		t.Fatal("expected start to be accepted")
	}

	waitFor(t, "natural completion", func() bool {
		return c.Status().State == StateStopped
	})

	if got := cap.SpeakCalls(); got != 1 {
		t.Fatalf("expected a single utterance, got %d", got)
	}
	if !rec.sawPlaying() {
		t.Fatal("status never reported playing")
	}
	st := c.Status()
	if st.IsPlaying || st.IsPaused {
		t.Fatalf("expected rest state after completion, got %+v", st)
	}
	if st.ErrorCount != 0 {
		t.Fatalf("expected zero errors, got %d", st.ErrorCount)
	}
}

func TestStartRejectsWhileActive(t *testing.T) {
	cap := mock.New()
	cap.SetSpeakDelay(500 * time.Millisecond)
	c := newTestController(cap, testConfig())

	if !c.Start(context.Background(), "First lesson text.", "lesson-1") {
		t.Fatal("expected first start to be accepted")
	}
	waitFor(t, "playing", func() bool { return c.Status().IsPlaying })

	if c.Start(context.Background(), "Second lesson text.", "lesson-2") {
		t.Fatal("expected start to be rejected while a session is active")
	}
	if got := c.Status().SessionID; got != "lesson-1" {
		t.Fatalf("rejected start must not disturb the session, got %q", got)
	}

	c.Stop()
	if !c.Start(context.Background(), "Second lesson text.", "lesson-2") {
		t.Fatal("expected start to be accepted after stop")
	}
	c.Stop()
}

func TestStartRejectsInvalidInput(t *testing.T) {
	c := newTestController(mock.New(), testConfig())

	if c.Start(context.Background(), "", "lesson-1") {
		t.Fatal("expected empty content to be rejected")
	}
	if c.Start(context.Background(), "   \n\t  ", "lesson-1") {
		t.Fatal("expected whitespace content to be rejected")
	}
	if c.Start(context.Background(), nil, "lesson-1") {
		t.Fatal("expected nil content to be rejected")
	}
	if st := c.Status(); st.State != StateIdle {
		t.Fatalf("rejected starts must not create a session, state %v", st.State)
	}
}

func TestPauseResumeAreNoOpsOutsideValidStates(t *testing.T) {
	c := newTestController(mock.New(), testConfig())

	if c.Pause() {
		t.Fatal("pause must be a no-op while idle")
	}
	if c.Resume() {
		t.Fatal("resume must be a no-op while idle")
	}
	if st := c.Status(); st.State != StateIdle {
		t.Fatalf("no-ops must not change state, got %v", st.State)
	}
}

func TestPauseRecordsBoundedPosition(t *testing.T) {
	cap := mock.New()
	cap.SetSpeakDelay(time.Second)
	c := newTestController(cap, testConfig())

	text := "This lesson paragraph is long enough for a pause position to land inside it comfortably."
	if !c.Start(context.Background(), text, "lesson-1") {
		t.Fatal("expected start to be accepted")
	}
	waitFor(t, "playing", func() bool { return c.Status().IsPlaying })
	time.Sleep(100 * time.Millisecond)

	if !c.Pause() {
		t.Fatal("expected pause to succeed while playing")
	}

	st := c.Status()
	if !st.IsPaused {
		t.Fatalf("expected paused state, got %v", st.State)
	}
	if st.PausePosition < 0 || st.PausePosition > len([]rune(text)) {
		t.Fatalf("pause position %d outside [0, %d]", st.PausePosition, len([]rune(text)))
	}

	// Position never decreases across repeated pauses in one session.
	first := st.PausePosition
	if !c.Resume() {
		t.Fatal("expected resume to succeed while paused")
	}
	waitFor(t, "playing again", func() bool { return c.Status().IsPlaying })
	time.Sleep(50 * time.Millisecond)
	if !c.Pause() {
		t.Fatal("expected second pause to succeed")
	}
	if got := c.Status().PausePosition; got < first {
		t.Fatalf("pause position regressed from %d to %d", first, got)
	}
	c.Stop()
}

func TestResumeWithoutNativeSupportRestartsFromPosition(t *testing.T) {
	cap := mock.New()
	cap.SetSpeakDelay(time.Second)
	cap.SetDescription(engines.Description{})
	c := newTestController(cap, testConfig())

	text := strings.Repeat("Plenty of sentences to speak here. ", 10)
	if !c.Start(context.Background(), text, "lesson-1") {
		t.Fatal("expected start to be accepted")
	}
	waitFor(t, "playing", func() bool { return c.Status().IsPlaying })
	time.Sleep(100 * time.Millisecond)

	if !c.Pause() {
		t.Fatal("expected pause to succeed")
	}
	if cap.CancelCalls() == 0 {
		t.Fatal("pause without native support must cancel the utterance")
	}

	before := cap.SpeakCalls()
	if !c.Resume() {
		t.Fatal("expected resume to succeed")
	}
	waitFor(t, "restarted utterance", func() bool { return cap.SpeakCalls() > before })
	c.Stop()
}

func TestStopFromAnyState(t *testing.T) {
	cap := mock.New()
	cap.SetSpeakDelay(time.Second)
	c := newTestController(cap, testConfig())

	// Stop while idle.
	c.Stop()
	if st := c.Status(); st.State != StateStopped || st.ErrorCount != 0 {
		t.Fatalf("unexpected status after idle stop: %+v", st)
	}

	// Stop while playing.
	if !c.Start(context.Background(), "A sentence to interrupt.", "lesson-1") {
		t.Fatal("expected start to be accepted")
	}
	waitFor(t, "playing", func() bool { return c.Status().IsPlaying })
	c.Stop()

	st := c.Status()
	if st.State != StateStopped {
		t.Fatalf("expected stopped, got %v", st.State)
	}
	if st.SessionID != "" || st.ErrorCount != 0 {
		t.Fatalf("stop must clear the session, got %+v", st)
	}

	// Stop while paused.
	if !c.Start(context.Background(), "Another sentence to pause.", "lesson-2") {
		t.Fatal("expected restart to be accepted")
	}
	waitFor(t, "playing", func() bool { return c.Status().IsPlaying })
	c.Pause()
	c.Stop()
	if st := c.Status(); st.State != StateStopped {
		t.Fatalf("expected stopped after paused stop, got %v", st.State)
	}
}

func TestStopThenRestartSpeaksFullSession(t *testing.T) {
	cap := mock.New()
	cap.SetSpeakDelay(150 * time.Millisecond)
	c := newTestController(cap, testConfig())

	if !c.Start(context.Background(), "First lesson text.", "lesson-a") {
		t.Fatal("expected first start to be accepted")
	}
	waitFor(t, "first session playing", func() bool { return c.Status().IsPlaying })
	c.Stop()

	// The replacement session must play its utterance to the end even
	// while the stopped session's loop is still unwinding.
	started := time.Now()
	if !c.Start(context.Background(), "Second lesson text.", "lesson-b") {
		t.Fatal("expected restart to be accepted")
	}
	waitFor(t, "second session finished", func() bool { return c.Status().State == StateStopped })
	if elapsed := time.Since(started); elapsed < 150*time.Millisecond {
		t.Fatalf("second session finished after %v, want the full utterance duration", elapsed)
	}
	if st := c.Status(); st.ErrorCount != 0 {
		t.Fatalf("restart accumulated errors: %+v", st)
	}
	texts := cap.SpokenTexts()
	if len(texts) == 0 || texts[len(texts)-1] != "Second lesson text." {
		t.Fatalf("unexpected spoken texts: %v", texts)
	}
}

func TestSetLoggerDuringPlayback(t *testing.T) {
	cap := mock.New()
	cap.SetSpeakDelay(10 * time.Millisecond)
	c := newTestController(cap, testConfig())

	if !c.Start(context.Background(), "One sentence here. Another one there. A third to finish.", "lesson-1") {
		t.Fatal("expected start to be accepted")
	}
	for i := 0; i < 50; i++ {
		c.SetLogger(log.New(io.Discard))
	}
	c.Stop()
}

func TestErroringAfterConsecutiveFailures(t *testing.T) {
	cap := mock.New()
	cap.FailSpeak(-1, errors.New("synthesis rejected"))
	cfg := testConfig()
	cfg.MaxRetries = 3
	c := newTestController(cap, cfg)

	if !c.Start(context.Background(), "Doomed sentence.", "lesson-1") {
		t.Fatal("expected start to be accepted")
	}

	waitFor(t, "erroring state", func() bool {
		return c.Status().State == StateErroring
	})

	if got := cap.SpeakCalls(); got != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", got)
	}

	st := c.Status()
	if st.ErrorCount != 3 {
		t.Fatalf("expected errorCount 3, got %d", st.ErrorCount)
	}
	if st.IsSupported {
		t.Fatal("erroring state must report degraded support")
	}

	// No fourth automatic retry.
	time.Sleep(50 * time.Millisecond)
	if got := cap.SpeakCalls(); got != 3 {
		t.Fatalf("expected no further attempts, got %d", got)
	}

	// Erroring is recoverable by a new start.
	cap.FailSpeak(0, nil)
	cap.SetSpeakDelay(5 * time.Millisecond)
	if !c.Start(context.Background(), "Healthy sentence.", "lesson-2") {
		t.Fatal("expected start to be accepted from erroring state")
	}
	waitFor(t, "recovery", func() bool { return c.Status().State == StateStopped })
}

func TestChunkTimeoutAdvancesWithoutErrorCount(t *testing.T) {
	cap := mock.New()
	cap.HangOnSpeak(true)
	cfg := testConfig()
	cfg.ChunkTimeout = 20 * time.Millisecond
	cfg.MaxChunkSize = 40
	c := newTestController(cap, cfg)

	text := "The first sentence sits in chunk one. The second sentence sits in chunk two."
	if !c.Start(context.Background(), text, "lesson-1") {
		t.Fatal("expected start to be accepted")
	}

	waitFor(t, "completion despite hangs", func() bool {
		return c.Status().State == StateStopped
	})

	if got := cap.SpeakCalls(); got != 2 {
		t.Fatalf("expected both chunks dispatched, got %d", got)
	}
	if got := c.Status().ErrorCount; got != 0 {
		t.Fatalf("timeouts must not count as errors, got %d", got)
	}
}

func TestUnsupportedCapabilityDegradesToErroring(t *testing.T) {
	cap := mock.New()
	cap.FailInit(99, errors.New("no speech on this platform"))
	c := newTestController(cap, testConfig())

	if !c.Start(context.Background(), "Unspeakable sentence.", "lesson-1") {
		t.Fatal("start is accepted before initialization resolves")
	}

	waitFor(t, "erroring state", func() bool {
		return c.Status().State == StateErroring
	})
	if c.IsSupported() {
		t.Fatal("expected unsupported capability")
	}
	if cap.SpeakCalls() != 0 {
		t.Fatal("no utterance should be attempted without a ready engine")
	}
}

func TestPositionEstimateMatchesAssumedRate(t *testing.T) {
	c := newTestController(mock.New(), testConfig())
	c.session = &Session{
		SourceText: strings.Repeat("a", 100),
		sourceLen:  100,
		SpokenFor:  2 * time.Second,
	}

	// 2s at 120 wpm and 4.7 chars per word: floor(2*2*4.7) = 18.
	if got := c.estimatePositionLocked(); got != 18 {
		t.Fatalf("expected estimate 18, got %d", got)
	}

	// Clamped to the source text length.
	c.session.sourceLen = 10
	if got := c.estimatePositionLocked(); got != 10 {
		t.Fatalf("expected clamp to 10, got %d", got)
	}

	c.session.SpokenFor = 0
	if got := c.estimatePositionLocked(); got != 0 {
		t.Fatalf("expected zero estimate for zero playtime, got %d", got)
	}
}

// fakeTelemetry records calls and serves a scripted timeout.
type fakeTelemetry struct {
	mu       sync.Mutex
	timeouts map[int]time.Duration
	lookups  []int
	stops    []StopEvent
}

func (f *fakeTelemetry) ReportStop(_ context.Context, ev StopEvent) {
	f.mu.Lock()
	f.stops = append(f.stops, ev)
	f.mu.Unlock()
}

func (f *fakeTelemetry) OptimalTimeout(_ context.Context, _ string, chunkIndex int) (time.Duration, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups = append(f.lookups, chunkIndex)
	d, ok := f.timeouts[chunkIndex]
	return d, ok
}

func TestTelemetryLookupAndStopReport(t *testing.T) {
	cap := mock.New()
	cap.SetSpeakDelay(200 * time.Millisecond)
	c := newTestController(cap, testConfig())

	tel := &fakeTelemetry{timeouts: map[int]time.Duration{0: 10 * time.Second}}
	c.SetTelemetry(tel)

	if !c.Start(context.Background(), "Reported sentence.", "lesson-1") {
		t.Fatal("expected start to be accepted")
	}
	waitFor(t, "playing", func() bool { return c.Status().IsPlaying })

	tel.mu.Lock()
	lookups := len(tel.lookups)
	tel.mu.Unlock()
	if lookups == 0 {
		t.Fatal("expected a timeout lookup before dispatch")
	}

	c.Pause()
	c.Stop()

	waitFor(t, "stop reports", func() bool {
		tel.mu.Lock()
		defer tel.mu.Unlock()
		return len(tel.stops) >= 2
	})

	tel.mu.Lock()
	defer tel.mu.Unlock()
	if tel.stops[0].Reason != ReasonPause {
		t.Fatalf("expected pause report first, got %q", tel.stops[0].Reason)
	}
	if tel.stops[1].Reason != ReasonStop {
		t.Fatalf("expected stop report second, got %q", tel.stops[1].Reason)
	}
	for _, ev := range tel.stops {
		if ev.SessionID != "lesson-1" {
			t.Fatalf("unexpected session in report: %q", ev.SessionID)
		}
	}
}
