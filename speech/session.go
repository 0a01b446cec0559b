package speech

import (
	"time"

	"github.com/lessonloop/readaloud/speech/chunk"
)

// Session is one playback attempt over one piece of content. It is
// created by Start and mutated only by its owning controller.
type Session struct {
	// ID is the caller-supplied identifier, typically a lesson id.
	ID string

	// SourceText is the sanitized full text. Immutable once computed.
	SourceText string

	// sourceLen is len([]rune(SourceText)), cached for position clamping.
	sourceLen int

	// Chunks is the current dispatch sequence. It initially covers all
	// of SourceText; a resume after a cancel-style pause replaces it
	// with chunks over the remaining text.
	Chunks []chunk.Chunk

	// CurrentChunk indexes the next chunk to dispatch, in
	// [0, len(Chunks)].
	CurrentChunk int

	// SpokenFor is the accumulated wall-clock time spent playing.
	SpokenFor time.Duration

	// PausePosition is the estimated character offset into SourceText
	// at the last pause. Non-decreasing within a session.
	PausePosition int

	// ErrorCount counts consecutive synthesis failures. Reset on any
	// successful chunk completion and on stop.
	ErrorCount int
}

// Status is the externally observable controller snapshot.
type Status struct {
	State         State
	IsPlaying     bool
	IsPaused      bool
	IsSupported   bool
	SessionID     string
	ErrorCount    int
	CurrentChunk  int
	TotalChunks   int
	PausePosition int
}

// StatusListener observes controller status changes.
type StatusListener func(Status)
