// Package speech implements the read-aloud playback engine: sanitized
// lesson text is split into bounded chunks and driven through a speech
// capability chunk by chunk, with pause and resume emulated through
// elapsed-time position estimation when the engine cannot do it natively.
package speech

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/lessonloop/readaloud/speech/chunk"
	"github.com/lessonloop/readaloud/speech/engines"
	"github.com/lessonloop/readaloud/speech/sanitize"
)

// Controller owns at most one playback session at a time and drives it
// through the engine adapter. All entry points are safe for concurrent
// use; the controller itself gates every session mutation.
//
// The controller never returns errors to its caller. Every failure
// resolves into an updated Status so a UI can drive its controls purely
// from polled or observed state.
type Controller struct {
	cfg       Config
	adapter   *engines.Adapter
	sanitizer *sanitize.Sanitizer
	splitter  *chunk.Splitter
	telemetry Telemetry
	logger    *log.Logger

	mu      sync.Mutex
	sm      *StateMachine
	session *Session

	// generation invalidates chunk loops that outlive their session.
	generation int

	// loopActive is true while a chunk loop goroutine owns dispatch.
	// A cancel-style pause parks the loop (loopActive becomes false);
	// a native pause leaves the utterance and the loop in flight.
	loopActive  bool
	nativePause bool

	// speakingStartedAt is nonzero while the engine is audibly playing.
	speakingStartedAt time.Time

	runCtx    context.Context
	runCancel context.CancelFunc

	listenerMu sync.Mutex
	listeners  []StatusListener
}

// NewController creates a controller around adapter using cfg.
func NewController(cfg Config, adapter *engines.Adapter) *Controller {
	c := &Controller{
		cfg:       cfg,
		adapter:   adapter,
		sanitizer: sanitize.New(),
		splitter:  chunk.NewSplitter(),
		logger:    log.Default().WithPrefix("readaloud"),
		sm:        NewStateMachine(),
	}
	adapter.SetListener(c.onEngineEvent)
	return c
}

// SetTelemetry attaches the optional telemetry collaborator.
func (c *Controller) SetTelemetry(t Telemetry) {
	c.mu.Lock()
	c.telemetry = t
	c.mu.Unlock()
}

// SetLogger replaces the controller's logger.
func (c *Controller) SetLogger(logger *log.Logger) {
	if logger == nil {
		return
	}
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

// log returns the current logger for use outside c.mu.
func (c *Controller) log() *log.Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logger
}

// OnStatusChange registers a listener invoked after every observable
// status change.
func (c *Controller) OnStatusChange(fn StatusListener) {
	c.listenerMu.Lock()
	c.listeners = append(c.listeners, fn)
	c.listenerMu.Unlock()
}

// Start accepts content for playback. It returns false without side
// effects when a session is already active or when the content yields
// no narratable text, and true once the session has been accepted for
// initialization. Acceptance does not mean playback has audibly begun.
func (c *Controller) Start(ctx context.Context, content any, sessionID string) bool {
	text := strings.TrimSpace(c.sanitizer.Sanitize(content))
	if text == "" {
		c.log().Warn("start rejected", "session", sessionID, "error", ErrInvalidInput)
		return false
	}

	chunks := c.splitter.Split(text, c.cfg.MaxChunkSize)
	if len(chunks) == 0 {
		c.log().Warn("start rejected", "session", sessionID, "error", ErrInvalidInput)
		return false
	}

	c.mu.Lock()
	if c.sm.Current().IsActive() {
		c.mu.Unlock()
		c.log().Warn("start rejected", "session", sessionID, "error", ErrSessionActive)
		return false
	}
	if !c.sm.Transition(StateInitializing) {
		c.mu.Unlock()
		return false
	}

	c.session = &Session{
		ID:         sessionID,
		SourceText: text,
		sourceLen:  len([]rune(text)),
		Chunks:     chunks,
	}
	c.generation++
	gen := c.generation
	c.nativePause = false
	c.speakingStartedAt = time.Time{}
	c.runCtx, c.runCancel = context.WithCancel(ctx)
	c.loopActive = true
	runCtx := c.runCtx
	c.mu.Unlock()

	c.log().Info("session accepted",
		"session", sessionID,
		"chars", len(text),
		"chunks", len(chunks))

	go c.run(runCtx, gen)
	c.notify()
	return true
}

// Pause suspends playback. Valid only while playing; otherwise it is a
// no-op returning false. The controller's own intent is authoritative:
// state becomes Paused even if the underlying engine pause fails, and
// the estimated position is recorded for a later resume.
func (c *Controller) Pause() bool {
	c.mu.Lock()
	if c.sm.Current() != StatePlaying || c.session == nil {
		c.mu.Unlock()
		return false
	}

	c.accrueLocked()
	pos := c.estimatePositionLocked()
	if pos > c.session.PausePosition {
		c.session.PausePosition = pos
	}

	// Transition before touching the engine so the chunk loop observes
	// the pause however its in-flight utterance resolves.
	c.sm.Transition(StatePaused)
	native := c.adapter.Describe().SupportsNativePause
	ev := c.stopEventLocked(ReasonPause)
	c.mu.Unlock()

	if native {
		if err := c.adapter.Pause(); err != nil {
			c.log().Warn("native pause failed, canceling instead", "error", err)
			native = false
		}
	}
	if !native {
		// Cancel-style pause: speech halts now and resume restarts from
		// the estimated position.
		c.adapter.Cancel()
	}

	c.mu.Lock()
	c.nativePause = native
	c.mu.Unlock()

	c.log().Debug("paused",
		"session", ev.SessionID,
		"position", ev.PausePosition,
		"spoken", ev.Spoken,
		"native", native)

	c.report(ev)
	c.notify()
	return true
}

// Resume continues a paused session. Valid only while paused; otherwise
// it is a no-op returning false. A natively paused utterance resumes in
// place; after a cancel-style pause the remaining text from the
// estimated position is re-chunked and spoken as a fresh sequence.
func (c *Controller) Resume() bool {
	c.mu.Lock()
	if c.sm.Current() != StatePaused || c.session == nil {
		c.mu.Unlock()
		return false
	}

	c.sm.Transition(StatePlaying)
	c.speakingStartedAt = time.Now()

	if c.nativePause && c.loopActive {
		c.mu.Unlock()
		err := c.adapter.Resume()
		if err == nil {
			c.notify()
			return true
		}
		c.log().Warn("native resume failed, restarting from estimated position", "error", err)
		c.adapter.Cancel()
		c.mu.Lock()
	}

	c.restartFromPositionLocked()
	c.mu.Unlock()
	c.notify()
	return true
}

// Stop ends any session. It is valid from every state, always succeeds,
// and leaves the controller immediately reusable.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.accrueLocked()

	var ev StopEvent
	hadSession := c.session != nil
	if hadSession {
		ev = c.stopEventLocked(ReasonStop)
	}

	c.generation++
	if c.runCancel != nil {
		c.runCancel()
		c.runCancel = nil
	}
	c.session = nil
	c.loopActive = false
	c.nativePause = false
	c.speakingStartedAt = time.Time{}
	c.sm.Transition(StateStopped)
	c.mu.Unlock()

	// Canceling the run context unwinds any in-flight utterance. A direct
	// engine-wide cancel here could outlive this session and hit the next
	// one's first utterance instead.

	if hadSession {
		c.log().Info("session stopped", "session", ev.SessionID, "spoken", ev.Spoken)
		c.report(ev)
	}
	c.notify()
}

// Status returns the externally observable snapshot.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

// IsSupported reports whether the speech capability initialized and is
// not degraded by exhausted retries.
func (c *Controller) IsSupported() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.adapter.Supported() && c.sm.Current() != StateErroring
}

// Reinit retries capability initialization after a permanent-looking
// failure. It does not touch any active session.
func (c *Controller) Reinit(ctx context.Context) {
	c.adapter.Reinit(ctx)
	c.notify()
}

// run readies the engine and then drives the chunk loop. gen ties the
// goroutine to the session that spawned it; a stale generation exits
// without touching state.
func (c *Controller) run(ctx context.Context, gen int) {
	c.adapter.EnsureReady(ctx)

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	if !c.adapter.Supported() {
		c.sm.Transition(StateErroring)
		c.loopActive = false
		ev := c.stopEventLocked(ReasonError)
		c.mu.Unlock()
		c.log().Error("engine unavailable", "error", ErrNotSupported)
		c.report(ev)
		c.notify()
		return
	}
	c.mu.Unlock()

	c.loop(ctx, gen)
}

// loop dispatches chunks strictly in index order. Each utterance races a
// bounded timeout; a timeout advances to the next chunk instead of
// hanging the session. A pause is observed before the next dispatch.
func (c *Controller) loop(ctx context.Context, gen int) {
	for {
		c.mu.Lock()
		if gen != c.generation {
			c.mu.Unlock()
			return
		}

		switch c.sm.Current() {
		case StatePaused:
			// Park. Resume restarts dispatch.
			c.loopActive = false
			c.mu.Unlock()
			return
		case StateInitializing, StatePlaying:
		default:
			c.loopActive = false
			c.mu.Unlock()
			return
		}

		sess := c.session
		if sess.CurrentChunk >= len(sess.Chunks) {
			c.accrueLocked()
			c.sm.Transition(StateStopped)
			c.loopActive = false
			spoken := sess.SpokenFor
			id := sess.ID
			c.mu.Unlock()
			c.log().Info("session finished", "session", id, "spoken", spoken)
			c.notify()
			return
		}

		current := sess.Chunks[sess.CurrentChunk]
		sessionID := sess.ID
		c.mu.Unlock()

		timeout := c.chunkTimeout(ctx, sessionID, current.Index)
		err := c.adapter.Speak(ctx, current.Text, timeout)

		c.mu.Lock()
		if gen != c.generation {
			c.mu.Unlock()
			return
		}
		sess = c.session

		if err == nil {
			sess.ErrorCount = 0
			sess.CurrentChunk++
			c.mu.Unlock()
			continue
		}

		if c.sm.Current() == StatePaused {
			// The utterance was interrupted by a pause, not a real
			// failure. Park without penalty.
			c.loopActive = false
			c.mu.Unlock()
			return
		}

		switch {
		case errors.Is(err, engines.ErrChunkTimeout):
			// Soft failure: one unresponsive chunk must not hang the
			// lesson and does not count toward the retry limit.
			c.logger.Warn("chunk timed out, advancing",
				"session", sessionID,
				"chunk", current.Index,
				"timeout", timeout)
			sess.CurrentChunk++
			c.mu.Unlock()
			continue

		case errors.Is(err, context.Canceled), ctx.Err() != nil:
			c.loopActive = false
			c.mu.Unlock()
			return

		default:
			sess.ErrorCount++
			count := sess.ErrorCount
			if count >= c.cfg.MaxRetries {
				c.accrueLocked()
				c.sm.Transition(StateErroring)
				c.loopActive = false
				ev := c.stopEventLocked(ReasonError)
				c.mu.Unlock()
				c.log().Error("synthesis retries exhausted",
					"session", sessionID,
					"chunk", current.Index,
					"errors", count,
					"error", err)
				c.report(ev)
				c.notify()
				return
			}
			delay := c.cfg.RetryDelay << (count - 1)
			c.mu.Unlock()

			c.log().Warn("synthesis failed, retrying",
				"session", sessionID,
				"chunk", current.Index,
				"attempt", count,
				"delay", delay,
				"error", err)

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
	}
}

// restartFromPositionLocked re-chunks the text remaining after the
// estimated pause position and spawns a fresh chunk loop for it. Caller
// holds c.mu.
func (c *Controller) restartFromPositionLocked() {
	sess := c.session
	runes := []rune(sess.SourceText)
	pos := sess.PausePosition
	if pos > len(runes) {
		pos = len(runes)
	}

	remaining := strings.TrimSpace(string(runes[pos:]))
	if remaining == "" {
		c.sm.Transition(StateStopped)
		c.loopActive = false
		return
	}

	sess.Chunks = c.splitter.Split(remaining, c.cfg.MaxChunkSize)
	sess.CurrentChunk = 0
	c.nativePause = false
	c.loopActive = true

	// A fresh generation invalidates any previous loop still unwinding
	// from a canceled utterance.
	c.generation++
	go c.loop(c.runCtx, c.generation)
}

// onEngineEvent receives normalized engine events from the adapter.
func (c *Controller) onEngineEvent(ev engines.Event) {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return
	}

	changed := false
	switch ev.Type {
	case engines.EventStart:
		if c.sm.Current() == StateInitializing {
			c.sm.Transition(StatePlaying)
			changed = true
		}
		if c.sm.Current() == StatePlaying {
			c.speakingStartedAt = time.Now()
		}
	case engines.EventEnd:
		c.accrueLocked()
	case engines.EventPause:
		c.accrueLocked()
	case engines.EventResume:
		if c.sm.Current() == StatePlaying {
			c.speakingStartedAt = time.Now()
		}
	case engines.EventError:
		c.logger.Debug("engine error event", "error", ev.Err)
	}
	c.mu.Unlock()

	if changed {
		c.notify()
	}
}

// accrueLocked folds elapsed playing time into the session. Caller
// holds c.mu.
func (c *Controller) accrueLocked() {
	if c.session == nil || c.speakingStartedAt.IsZero() {
		return
	}
	c.session.SpokenFor += time.Since(c.speakingStartedAt)
	c.speakingStartedAt = time.Time{}
}

// estimatePositionLocked converts accumulated playing time into an
// approximate character offset, assuming a fixed speaking rate and
// average word length. The engine reports no ground truth about spoken
// progress, so this is an estimate with bounded error, clamped to the
// source text. Caller holds c.mu.
func (c *Controller) estimatePositionLocked() int {
	sess := c.session
	spoken := sess.SpokenFor
	if !c.speakingStartedAt.IsZero() {
		spoken += time.Since(c.speakingStartedAt)
	}

	seconds := spoken.Seconds()
	words := seconds * c.cfg.WordsPerMinute / 60
	pos := int(words * c.cfg.AvgWordLength)

	if pos < 0 {
		pos = 0
	}
	if pos > sess.sourceLen {
		pos = sess.sourceLen
	}
	return pos
}

// chunkTimeout resolves the per-chunk timeout: a previously learned
// value from telemetry when available, else the configured default.
func (c *Controller) chunkTimeout(ctx context.Context, sessionID string, chunkIndex int) time.Duration {
	c.mu.Lock()
	t := c.telemetry
	fallback := c.cfg.ChunkTimeout
	c.mu.Unlock()

	if t != nil {
		if d, ok := t.OptimalTimeout(ctx, sessionID, chunkIndex); ok && d > 0 {
			return d
		}
	}
	return fallback
}

// stopEventLocked snapshots the session for an outward report. Caller
// holds c.mu.
func (c *Controller) stopEventLocked(reason string) StopEvent {
	ev := StopEvent{ChunkIndex: -1, Reason: reason}
	if sess := c.session; sess != nil {
		ev.SessionID = sess.ID
		ev.Spoken = sess.SpokenFor
		ev.PausePosition = sess.PausePosition
		if sess.CurrentChunk < len(sess.Chunks) {
			ev.ChunkIndex = sess.CurrentChunk
		}
	}
	return ev
}

// report delivers a stop event outward. Fire and forget.
func (c *Controller) report(ev StopEvent) {
	c.mu.Lock()
	t := c.telemetry
	c.mu.Unlock()
	if t != nil && ev.SessionID != "" {
		t.ReportStop(context.Background(), ev)
	}
}

func (c *Controller) statusLocked() Status {
	state := c.sm.Current()
	st := Status{
		State:       state,
		IsPlaying:   state == StatePlaying,
		IsPaused:    state == StatePaused,
		IsSupported: c.adapter.Supported() && state != StateErroring,
	}
	if sess := c.session; sess != nil {
		st.SessionID = sess.ID
		st.ErrorCount = sess.ErrorCount
		st.CurrentChunk = sess.CurrentChunk
		st.TotalChunks = len(sess.Chunks)
		st.PausePosition = sess.PausePosition
	}
	return st
}

// notify delivers the current status to all listeners outside the main
// lock.
func (c *Controller) notify() {
	c.mu.Lock()
	st := c.statusLocked()
	c.mu.Unlock()

	c.listenerMu.Lock()
	listeners := append([]StatusListener(nil), c.listeners...)
	c.listenerMu.Unlock()

	for _, fn := range listeners {
		fn(st)
	}
}
