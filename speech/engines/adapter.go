package engines

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// AdapterConfig tunes initialization and voice discovery.
type AdapterConfig struct {
	// MaxInitAttempts bounds capability init retries. Each attempt uses a
	// progressively more generic voice configuration.
	MaxInitAttempts int

	// InitBackoff is the delay before the second attempt; it doubles on
	// each further attempt.
	InitBackoff time.Duration

	// VoiceWaitTimeout bounds the wait for asynchronous voice loading.
	// Expiry means "proceed with whatever is available", not failure.
	VoiceWaitTimeout time.Duration

	// VoicePollInterval is how often the voice list is polled while
	// waiting for readiness.
	VoicePollInterval time.Duration
}

// DefaultAdapterConfig returns sensible defaults.
func DefaultAdapterConfig() AdapterConfig {
	return AdapterConfig{
		MaxInitAttempts:   3,
		InitBackoff:       250 * time.Millisecond,
		VoiceWaitTimeout:  5 * time.Second,
		VoicePollInterval: 250 * time.Millisecond,
	}
}

// Adapter wraps a Capability with bounded-retry initialization, voice
// readiness waiting, per-utterance timeouts and event normalization.
type Adapter struct {
	capability Capability
	base       Config
	cfg        AdapterConfig
	logger     *log.Logger

	mu          sync.Mutex
	initialized bool
	supported   bool
	listener    Listener
}

// NewAdapter creates an adapter around capability. base is the preferred
// voice configuration; init falls back to more generic variants of it.
func NewAdapter(capability Capability, base Config, cfg AdapterConfig) *Adapter {
	if cfg.MaxInitAttempts <= 0 {
		cfg.MaxInitAttempts = DefaultAdapterConfig().MaxInitAttempts
	}
	if cfg.VoicePollInterval <= 0 {
		cfg.VoicePollInterval = DefaultAdapterConfig().VoicePollInterval
	}
	return &Adapter{
		capability: capability,
		base:       base,
		cfg:        cfg,
		logger:     log.Default(),
	}
}

// SetLogger replaces the adapter's logger.
func (a *Adapter) SetLogger(logger *log.Logger) {
	if logger != nil {
		a.logger = logger
	}
}

// SetListener registers the single normalized event listener.
func (a *Adapter) SetListener(fn Listener) {
	a.mu.Lock()
	a.listener = fn
	a.mu.Unlock()
}

// Supported reports whether the capability initialized and voices were
// discoverable within the timeout.
func (a *Adapter) Supported() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.supported
}

// Describe returns the capability's shape.
func (a *Adapter) Describe() Description {
	return a.capability.Describe()
}

// Voices returns the capability's current voice list.
func (a *Adapter) Voices() []Voice {
	return a.capability.Voices()
}

// EnsureReady initializes the capability if it is not yet ready. Attempts
// walk an escalating fallback ladder with exponential backoff between
// them. Exhaustion marks the adapter unsupported; it never returns an
// initialization error upward.
func (a *Adapter) EnsureReady(ctx context.Context) {
	a.mu.Lock()
	if a.initialized {
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	configs := a.fallbackConfigs()
	backoff := a.cfg.InitBackoff

	var ok bool
	for attempt := 0; attempt < a.cfg.MaxInitAttempts; attempt++ {
		cfg := configs[min(attempt, len(configs)-1)]
		err := a.capability.Init(ctx, cfg)
		if err == nil {
			ok = true
			break
		}
		a.logger.Warn("capability init failed",
			"attempt", attempt+1,
			"maxAttempts", a.cfg.MaxInitAttempts,
			"voice", cfg.Voice,
			"language", cfg.Language,
			"error", err)

		if attempt < a.cfg.MaxInitAttempts-1 && backoff > 0 {
			select {
			case <-ctx.Done():
				attempt = a.cfg.MaxInitAttempts
			case <-time.After(backoff):
				backoff *= 2
			}
		}
	}

	if ok {
		// Register before any utterance so no event is lost, whichever
		// attempt succeeded.
		a.capability.SetListener(a.dispatch)
		a.waitForVoices(ctx)
	} else {
		a.logger.Error("capability unavailable after all init attempts",
			"attempts", a.cfg.MaxInitAttempts)
	}

	a.mu.Lock()
	a.initialized = true
	a.supported = ok
	a.mu.Unlock()
}

// Reinit discards initialization state and tries again. This is the
// explicit recovery path after an initialization failure.
func (a *Adapter) Reinit(ctx context.Context) {
	a.mu.Lock()
	a.initialized = false
	a.supported = false
	a.mu.Unlock()
	a.EnsureReady(ctx)
}

// Speak dispatches one utterance, racing it against timeout. A timeout
// resolves to ErrChunkTimeout without rejecting: the in-flight utterance
// is canceled and the caller may advance.
func (a *Adapter) Speak(ctx context.Context, text string, timeout time.Duration) error {
	a.mu.Lock()
	supported := a.supported
	a.mu.Unlock()
	if !supported {
		return ErrNotSupported
	}

	// Cancellation is scoped to this utterance. A capability-wide Cancel
	// here could land after the caller has already moved on and kill a
	// successor utterance instead of this one.
	utterCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- a.capability.Speak(utterCtx, text)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	// The done channel is buffered so a hung Speak can finish on its own
	// later without leaking a blocked goroutine.
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		a.logger.Warn("utterance timed out", "timeout", timeout, "textLength", len(text))
		cancel()
		return ErrChunkTimeout
	}
}

// Pause forwards a native pause to the capability.
func (a *Adapter) Pause() error { return a.capability.Pause() }

// Resume forwards a native resume to the capability.
func (a *Adapter) Resume() error { return a.capability.Resume() }

// Cancel halts any in-flight utterance.
func (a *Adapter) Cancel() { a.capability.Cancel() }

// waitForVoices blocks until the capability reports at least one voice, a
// voices-changed notification delivers one, or the wait times out. Timeout
// is not a failure.
func (a *Adapter) waitForVoices(ctx context.Context) {
	if len(a.capability.Voices()) > 0 {
		return
	}

	deadline := time.NewTimer(a.cfg.VoiceWaitTimeout)
	defer deadline.Stop()
	poll := time.NewTicker(a.cfg.VoicePollInterval)
	defer poll.Stop()

	var changed <-chan struct{}
	if a.capability.Describe().NotifiesVoicesChanged {
		changed = a.capability.VoicesChanged()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			a.logger.Debug("voice discovery timed out, proceeding",
				"timeout", a.cfg.VoiceWaitTimeout)
			return
		case <-changed:
			if len(a.capability.Voices()) > 0 {
				return
			}
		case <-poll.C:
			if len(a.capability.Voices()) > 0 {
				return
			}
		}
	}
}

// fallbackConfigs returns the escalating init ladder: the requested
// configuration, then the language default, then the capability default.
func (a *Adapter) fallbackConfigs() []Config {
	return []Config{
		a.base,
		{Language: a.base.Language, Rate: a.base.Rate, Volume: a.base.Volume},
		{},
	}
}

// dispatch forwards a native event to the registered listener.
func (a *Adapter) dispatch(ev Event) {
	a.mu.Lock()
	fn := a.listener
	a.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}
