package speech

import (
	"context"
	"time"
)

// Stop reasons reported outward.
const (
	ReasonPause = "pause"
	ReasonStop  = "stop"
	ReasonError = "error"
)

// StopEvent describes why and where playback stopped.
type StopEvent struct {
	SessionID string
	// ChunkIndex is the chunk in flight when playback stopped, or -1
	// when none applies.
	ChunkIndex    int
	Reason        string
	Spoken        time.Duration
	PausePosition int
}

// Telemetry is the optional outward reporting collaborator. Both
// operations are best effort: a controller never blocks on or fails
// because of telemetry.
type Telemetry interface {
	// ReportStop delivers a stop event. Implementations must not block
	// the caller.
	ReportStop(ctx context.Context, ev StopEvent)

	// OptimalTimeout returns a previously learned per-chunk timeout.
	// The second return is false when no learned value exists.
	OptimalTimeout(ctx context.Context, sessionID string, chunkIndex int) (time.Duration, bool)
}
