package speech

import "errors"

// Common errors for the read-aloud engine.
var (
	// ErrSessionActive means a start was rejected because a session is
	// already playing or paused.
	ErrSessionActive = errors.New("a playback session is already active")

	// ErrInvalidInput means the sanitized text was empty or implausibly
	// short, so no session was created.
	ErrInvalidInput = errors.New("content yields no narratable text")

	// ErrNotSupported means the speech capability never became ready.
	ErrNotSupported = errors.New("speech capability is not supported")

	// ErrRetriesExhausted means consecutive synthesis failures reached
	// the retry limit.
	ErrRetriesExhausted = errors.New("synthesis retries exhausted")
)

// IsRecoverable reports whether a controller error clears on its own
// with a new session, as opposed to requiring an explicit re-init.
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}
	return !errors.Is(err, ErrNotSupported)
}
