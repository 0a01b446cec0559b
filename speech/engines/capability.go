// Package engines wraps platform speech capabilities behind a uniform
// adapter the playback controller can drive.
package engines

import (
	"context"
	"errors"
)

// ErrChunkTimeout reports that a dispatched utterance did not signal
// completion within its bound. It is a soft failure: the caller advances
// instead of aborting the session.
var ErrChunkTimeout = errors.New("utterance timed out")

// ErrNotSupported reports that no usable speech capability is available.
var ErrNotSupported = errors.New("speech capability not supported")

// EventType identifies a normalized capability event.
type EventType int

const (
	// EventStart fires when an utterance audibly begins.
	EventStart EventType = iota
	// EventEnd fires when an utterance finishes.
	EventEnd
	// EventPause fires when the capability honors a native pause.
	EventPause
	// EventResume fires when the capability honors a native resume.
	EventResume
	// EventError fires when synthesis or playback fails.
	EventError
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventStart:
		return "start"
	case EventEnd:
		return "end"
	case EventPause:
		return "pause"
	case EventResume:
		return "resume"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is the single event shape the controller observes, regardless of
// which capability or init attempt produced it.
type Event struct {
	Type EventType
	Err  error // set for EventError
}

// Listener receives normalized capability events.
type Listener func(Event)

// Config selects a voice for a capability. Fields left zero fall back to
// the capability's defaults.
type Config struct {
	Voice    string  // specific voice identifier
	Language string  // language code, e.g. "en"
	Rate     float64 // speech rate multiplier (1.0 = normal)
	Volume   float64 // 0.0 to 1.0
}

// Voice describes one voice a capability offers.
type Voice struct {
	ID       string
	Name     string
	Language string
	Gender   string
}

// Description states what a capability supports. It is determined once
// during initialization, never probed again at call time.
type Description struct {
	SupportsNativePause   bool
	SupportsNativeResume  bool
	NotifiesVoicesChanged bool
}

// Capability abstracts the platform speech primitive. Implementations are
// not expected to be reliable: Init may fail transiently, Speak may hang
// or error, and voice lists may load asynchronously.
type Capability interface {
	// Init prepares the capability with the given voice configuration.
	Init(ctx context.Context, cfg Config) error

	// Speak synthesizes and plays text, returning when the utterance ends,
	// errors, or ctx is canceled.
	Speak(ctx context.Context, text string) error

	// Cancel halts any in-flight utterance. Always safe to call.
	Cancel()

	// Pause suspends the in-flight utterance, if supported.
	Pause() error

	// Resume continues a paused utterance, if supported.
	Resume() error

	// Voices returns the currently known voices. May be empty while the
	// capability is still loading its list.
	Voices() []Voice

	// VoicesChanged returns a channel signaled when the voice list
	// changes, or nil if the capability offers no such notification.
	VoicesChanged() <-chan struct{}

	// SetListener registers the event callback. Only one listener is
	// supported; later calls replace earlier ones.
	SetListener(Listener)

	// Describe reports the capability's shape.
	Describe() Description
}
