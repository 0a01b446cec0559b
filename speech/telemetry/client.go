// Package telemetry reports playback stop events to an HTTP collector
// and looks up previously learned per-chunk timeouts from it. Both
// directions are best effort; the playback engine never waits on or
// fails because of this package.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/charmbracelet/log"

	"github.com/lessonloop/readaloud/speech"
)

// Client talks to the telemetry collector. It implements
// speech.Telemetry.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	logger     *log.Logger
}

// NewClient creates a client for the collector at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		timeout:    timeout,
		logger:     log.Default().WithPrefix("telemetry"),
	}
}

// SetLogger replaces the client's logger.
func (c *Client) SetLogger(logger *log.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

type stopEventBody struct {
	SessionID     string `json:"sessionId"`
	ChunkIndex    *int   `json:"chunkIndex"`
	Reason        string `json:"reason"`
	SpokenMs      int64  `json:"spokenMs"`
	PausePosition int    `json:"pausePosition"`
}

type chunkTimingBody struct {
	OptimalTimeoutMs int64 `json:"optimalTimeoutMs"`
}

// ReportStop posts a stop event to the collector. Delivery runs in the
// background with its own timeout; failures are logged and dropped.
func (c *Client) ReportStop(_ context.Context, ev speech.StopEvent) {
	body := stopEventBody{
		SessionID:     ev.SessionID,
		Reason:        ev.Reason,
		SpokenMs:      ev.Spoken.Milliseconds(),
		PausePosition: ev.PausePosition,
	}
	if ev.ChunkIndex >= 0 {
		idx := ev.ChunkIndex
		body.ChunkIndex = &idx
	}

	// Detached from the caller's context so a stopping session cannot
	// cancel its own report.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		if err := c.postStopEvent(ctx, body); err != nil {
			c.logger.Debug("stop event dropped", "session", ev.SessionID, "error", err)
		}
	}()
}

func (c *Client) postStopEvent(ctx context.Context, body stopEventBody) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/stop-events", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("collector status %d", resp.StatusCode)
	}
	return nil
}

// OptimalTimeout asks the collector for a learned timeout for the given
// session and chunk. Any failure, including 404 for "never observed",
// resolves to (0, false) so the caller applies its default.
func (c *Client) OptimalTimeout(ctx context.Context, sessionID string, chunkIndex int) (time.Duration, bool) {
	params := url.Values{}
	params.Set("sessionId", sessionID)
	params.Set("chunkIndex", strconv.Itoa(chunkIndex))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/chunk-timing?"+params.Encode(), nil)
	if err != nil {
		return 0, false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("chunk timing lookup failed", "session", sessionID, "chunk", chunkIndex, "error", err)
		return 0, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, false
	}

	var body chunkTimingBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		c.logger.Debug("chunk timing decode failed", "session", sessionID, "error", err)
		return 0, false
	}
	if body.OptimalTimeoutMs <= 0 {
		return 0, false
	}

	return time.Duration(body.OptimalTimeoutMs) * time.Millisecond, true
}
