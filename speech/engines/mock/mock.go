// Package mock provides a scriptable speech capability for testing.
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lessonloop/readaloud/speech/engines"
)

// Capability implements engines.Capability with scriptable behavior. The
// zero value is not usable; create instances with New.
type Capability struct {
	mu sync.Mutex

	// Scripted behavior.
	initErr      error
	initFailures int // fail this many Init calls before succeeding
	speakErr     error
	speakFailures int // fail this many Speak calls, then succeed
	speakDelay   time.Duration
	hangOnSpeak  bool // never complete Speak until canceled
	voices       []engines.Voice
	voicesDelay  time.Duration // voices appear this long after Init
	description  engines.Description

	// Recorded activity.
	initCalls   int
	initConfigs []engines.Config
	speakCalls  int
	spokenTexts []string
	pauseCalls  int
	resumeCalls int
	cancelCalls int

	listener  engines.Listener
	changed   chan struct{}
	canceled  chan struct{}
	paused    bool
	pauseGate chan struct{}
	initAt    time.Time
}

// New creates a mock capability with one voice and full native support.
func New() *Capability {
	return &Capability{
		voices: []engines.Voice{{
			ID:       "mock-voice-1",
			Name:     "Mock Voice",
			Language: "en",
			Gender:   "neutral",
		}},
		description: engines.Description{
			SupportsNativePause:   true,
			SupportsNativeResume:  true,
			NotifiesVoicesChanged: true,
		},
		changed:  make(chan struct{}, 1),
		canceled: make(chan struct{}, 1),
	}
}

// FailInit makes the next n Init calls return err.
func (c *Capability) FailInit(n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initFailures = n
	c.initErr = err
}

// FailSpeak makes the next n Speak calls return err. n < 0 fails forever.
func (c *Capability) FailSpeak(n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.speakFailures = n
	c.speakErr = err
}

// SetSpeakDelay makes each successful Speak take d.
func (c *Capability) SetSpeakDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.speakDelay = d
}

// HangOnSpeak makes Speak block until Cancel or context cancellation.
func (c *Capability) HangOnSpeak(hang bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hangOnSpeak = hang
}

// SetVoices replaces the voice list and signals the change.
func (c *Capability) SetVoices(voices []engines.Voice) {
	c.mu.Lock()
	c.voices = voices
	c.mu.Unlock()
	select {
	case c.changed <- struct{}{}:
	default:
	}
}

// SetVoicesDelay makes the voice list empty until d after Init.
func (c *Capability) SetVoicesDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.voicesDelay = d
}

// SetDescription overrides the reported capability shape.
func (c *Capability) SetDescription(d engines.Description) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.description = d
}

// InitCalls returns how many times Init ran.
func (c *Capability) InitCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initCalls
}

// InitConfigs returns the configs passed to each Init call.
func (c *Capability) InitConfigs() []engines.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]engines.Config(nil), c.initConfigs...)
}

// SpeakCalls returns how many times Speak ran.
func (c *Capability) SpeakCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speakCalls
}

// SpokenTexts returns the texts passed to Speak, in order.
func (c *Capability) SpokenTexts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.spokenTexts...)
}

// PauseCalls returns how many times Pause ran.
func (c *Capability) PauseCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pauseCalls
}

// CancelCalls returns how many times Cancel ran.
func (c *Capability) CancelCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelCalls
}

// Init implements engines.Capability.
func (c *Capability) Init(_ context.Context, cfg engines.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initCalls++
	c.initConfigs = append(c.initConfigs, cfg)
	if c.initFailures > 0 {
		c.initFailures--
		if c.initErr != nil {
			return c.initErr
		}
		return errors.New("mock init failure")
	}
	c.initAt = time.Now()
	return nil
}

// Speak implements engines.Capability. It emits Start, waits out the
// scripted delay (honoring pause), then emits End.
func (c *Capability) Speak(ctx context.Context, text string) error {
	c.mu.Lock()
	c.speakCalls++
	c.spokenTexts = append(c.spokenTexts, text)
	if c.speakFailures != 0 {
		if c.speakFailures > 0 {
			c.speakFailures--
		}
		err := c.speakErr
		c.mu.Unlock()
		if err == nil {
			err = errors.New("mock speak failure")
		}
		c.emit(engines.Event{Type: engines.EventError, Err: err})
		return err
	}
	hang := c.hangOnSpeak
	delay := c.speakDelay
	// Drain any stale cancel signal from a previous utterance.
	select {
	case <-c.canceled:
	default:
	}
	c.mu.Unlock()

	c.emit(engines.Event{Type: engines.EventStart})

	if hang {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.canceled:
			return nil
		}
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.canceled:
			return nil
		case <-timer.C:
			if c.waitIfPaused(ctx) {
				c.emit(engines.Event{Type: engines.EventEnd})
				return nil
			}
			return ctx.Err()
		}
	}
}

// waitIfPaused blocks while paused. Returns false if ctx ended first.
func (c *Capability) waitIfPaused(ctx context.Context) bool {
	c.mu.Lock()
	gate := c.pauseGate
	c.mu.Unlock()
	if gate == nil {
		return true
	}
	select {
	case <-gate:
		return true
	case <-ctx.Done():
		return false
	case <-c.canceled:
		return true
	}
}

// Cancel implements engines.Capability.
func (c *Capability) Cancel() {
	c.mu.Lock()
	c.cancelCalls++
	if c.pauseGate != nil {
		close(c.pauseGate)
		c.pauseGate = nil
		c.paused = false
	}
	c.mu.Unlock()
	select {
	case c.canceled <- struct{}{}:
	default:
	}
}

// Pause implements engines.Capability.
func (c *Capability) Pause() error {
	c.mu.Lock()
	c.pauseCalls++
	if !c.description.SupportsNativePause {
		c.mu.Unlock()
		return errors.New("pause not supported")
	}
	if c.pauseGate == nil {
		c.pauseGate = make(chan struct{})
		c.paused = true
	}
	c.mu.Unlock()
	c.emit(engines.Event{Type: engines.EventPause})
	return nil
}

// Resume implements engines.Capability.
func (c *Capability) Resume() error {
	c.mu.Lock()
	c.resumeCalls++
	if !c.description.SupportsNativeResume {
		c.mu.Unlock()
		return errors.New("resume not supported")
	}
	if c.pauseGate != nil {
		close(c.pauseGate)
		c.pauseGate = nil
		c.paused = false
	}
	c.mu.Unlock()
	c.emit(engines.Event{Type: engines.EventResume})
	return nil
}

// Voices implements engines.Capability.
func (c *Capability) Voices() []engines.Voice {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.voicesDelay > 0 && (c.initAt.IsZero() || time.Since(c.initAt) < c.voicesDelay) {
		return nil
	}
	return append([]engines.Voice(nil), c.voices...)
}

// VoicesChanged implements engines.Capability.
func (c *Capability) VoicesChanged() <-chan struct{} { return c.changed }

// SetListener implements engines.Capability.
func (c *Capability) SetListener(fn engines.Listener) {
	c.mu.Lock()
	c.listener = fn
	c.mu.Unlock()
}

// Describe implements engines.Capability.
func (c *Capability) Describe() engines.Description {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.description
}

func (c *Capability) emit(ev engines.Event) {
	c.mu.Lock()
	fn := c.listener
	c.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}
