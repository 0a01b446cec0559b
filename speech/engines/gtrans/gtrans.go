// Package gtrans implements a speech capability backed by the Google
// Translate text-to-speech endpoint. Synthesized MP3 audio is decoded
// with go-mp3 and played through oto, which gives real pause and resume.
package gtrans

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hajimehoshi/go-mp3"
	"github.com/hajimehoshi/oto/v2"
	"github.com/hegedustibor/htgo-tts/voices"

	"github.com/lessonloop/readaloud/speech/engines"
)

const (
	defaultBaseURL = "https://translate.google.com/translate_tts"

	// The endpoint rejects long queries, so synthesis fetches run over
	// fixed-size rune windows.
	fetchWindow = 200

	// go-mp3 always decodes to 16-bit stereo.
	channelCount   = 2
	bytesPerSample = 2

	pollInterval = 15 * time.Millisecond

	// Roughly a few minutes of speech at the endpoint's bitrate.
	cacheCapacity = 8 << 20
)

// oto allows a single audio context per process.
var (
	audioOnce sync.Once
	audioCtx  *oto.Context
	audioErr  error
)

func audioContext(sampleRate int) (*oto.Context, error) {
	audioOnce.Do(func() {
		ctx, ready, err := oto.NewContext(sampleRate, channelCount, bytesPerSample)
		if err != nil {
			audioErr = fmt.Errorf("audio context: %w", err)
			return
		}
		<-ready
		audioCtx = ctx
	})
	return audioCtx, audioErr
}

// Capability speaks through Google Translate. It implements
// engines.Capability.
type Capability struct {
	httpClient *http.Client
	baseURL    string
	cache      *audioCache

	mu       sync.Mutex
	voice    engines.Voice
	volume   float64
	listener engines.Listener
	player   oto.Player
	paused   bool
	canceled bool

	changed chan struct{}
}

// New creates an uninitialized capability. Init must succeed before Speak.
func New() *Capability {
	return &Capability{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    defaultBaseURL,
		cache:      newAudioCache(cacheCapacity),
		changed:    make(chan struct{}),
	}
}

// SetBaseURL points synthesis at a different endpoint. Used by tests.
func (c *Capability) SetBaseURL(u string) { c.baseURL = u }

// Init implements engines.Capability. It fails when neither the requested
// voice nor its language prefix is known, which lets callers retry with a
// more generic configuration.
func (c *Capability) Init(_ context.Context, cfg engines.Config) error {
	voice, ok := findVoice(cfg.Voice)
	if !ok {
		voice, ok = findVoice(cfg.Language)
	}
	if !ok {
		if cfg.Voice == "" && cfg.Language == "" {
			voice = voiceList[0]
		} else {
			return fmt.Errorf("gtrans: unsupported voice %q (language %q)", cfg.Voice, cfg.Language)
		}
	}

	c.mu.Lock()
	c.voice = voice
	c.volume = cfg.Volume
	c.mu.Unlock()
	return nil
}

// Speak implements engines.Capability. It synthesizes text, then blocks
// until playback finishes, is canceled, or ctx ends. Pause suspends the
// underlying player without returning from Speak.
func (c *Capability) Speak(ctx context.Context, text string) error {
	c.mu.Lock()
	voice := c.voice
	volume := c.volume
	c.canceled = false
	c.paused = false
	c.mu.Unlock()
	if voice.ID == "" {
		return fmt.Errorf("gtrans: not initialized")
	}

	audio, err := c.synthesize(ctx, text, voice.ID)
	if err != nil {
		c.emit(engines.Event{Type: engines.EventError, Err: err})
		return err
	}

	decoder, err := mp3.NewDecoder(bytes.NewReader(audio))
	if err != nil {
		err = fmt.Errorf("mp3 decoder: %w", err)
		c.emit(engines.Event{Type: engines.EventError, Err: err})
		return err
	}

	otoCtx, err := audioContext(decoder.SampleRate())
	if err != nil {
		c.emit(engines.Event{Type: engines.EventError, Err: err})
		return err
	}

	player := otoCtx.NewPlayer(decoder)
	if volume > 0 {
		player.SetVolume(volume)
	}

	c.mu.Lock()
	c.player = player
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.player = nil
		c.mu.Unlock()
		player.Close()
	}()

	player.Play()
	c.emit(engines.Event{Type: engines.EventStart})

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		c.mu.Lock()
		canceled := c.canceled
		paused := c.paused
		c.mu.Unlock()

		if canceled {
			return nil
		}
		if !paused && !player.IsPlaying() {
			c.emit(engines.Event{Type: engines.EventEnd})
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Cancel implements engines.Capability.
func (c *Capability) Cancel() {
	c.mu.Lock()
	c.canceled = true
	c.paused = false
	player := c.player
	c.mu.Unlock()
	if player != nil {
		player.Pause()
	}
}

// Pause implements engines.Capability.
func (c *Capability) Pause() error {
	c.mu.Lock()
	player := c.player
	if player != nil {
		c.paused = true
	}
	c.mu.Unlock()
	if player == nil {
		return fmt.Errorf("gtrans: nothing playing")
	}
	player.Pause()
	c.emit(engines.Event{Type: engines.EventPause})
	return nil
}

// Resume implements engines.Capability.
func (c *Capability) Resume() error {
	c.mu.Lock()
	player := c.player
	c.paused = false
	c.mu.Unlock()
	if player == nil {
		return fmt.Errorf("gtrans: nothing paused")
	}
	player.Play()
	c.emit(engines.Event{Type: engines.EventResume})
	return nil
}

// Voices implements engines.Capability. The list is fixed; Google
// Translate does not expose voice discovery.
func (c *Capability) Voices() []engines.Voice {
	return append([]engines.Voice(nil), voiceList...)
}

// VoicesChanged implements engines.Capability. The channel never fires.
func (c *Capability) VoicesChanged() <-chan struct{} { return c.changed }

// SetListener implements engines.Capability.
func (c *Capability) SetListener(fn engines.Listener) {
	c.mu.Lock()
	c.listener = fn
	c.mu.Unlock()
}

// Describe implements engines.Capability.
func (c *Capability) Describe() engines.Description {
	return engines.Description{
		SupportsNativePause:  true,
		SupportsNativeResume: true,
	}
}

func (c *Capability) emit(ev engines.Event) {
	c.mu.Lock()
	fn := c.listener
	c.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

// synthesize fetches audio for text in fixed-size windows and
// concatenates the MP3 payloads. Results are cached so that restarting
// from a pause position does not refetch audio.
func (c *Capability) synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	key := audioCacheKey(voice, text)
	if audio, ok := c.cache.get(key); ok {
		return audio, nil
	}

	runes := []rune(text)
	buf := bytes.NewBuffer(nil)

	for start := 0; start < len(runes); start += fetchWindow {
		end := start + fetchWindow
		if end > len(runes) {
			end = len(runes)
		}
		audio, err := c.fetch(ctx, string(runes[start:end]), voice)
		if err != nil {
			return nil, err
		}
		buf.Write(audio)
	}

	audio := buf.Bytes()
	c.cache.put(key, audio)
	return audio, nil
}

func (c *Capability) fetch(ctx context.Context, text, voice string) ([]byte, error) {
	params := url.Values{}
	params.Set("ie", "UTF-8")
	params.Set("client", "tw-ob")
	params.Set("q", text)
	params.Set("tl", voice)
	params.Set("total", "1")
	params.Set("idx", "0")
	params.Set("textlen", fmt.Sprintf("%d", len([]rune(text))))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("gtrans: status %d: %s", resp.StatusCode, string(body))
	}

	return io.ReadAll(resp.Body)
}

// voiceList enumerates the languages the endpoint handles well. IDs are
// the htgo-tts language codes the query parameter expects.
var voiceList = []engines.Voice{
	{ID: voices.English, Name: "English US", Language: "en"},
	{ID: voices.EnglishUK, Name: "English UK", Language: "en"},
	{ID: voices.Spanish, Name: "Spanish", Language: "es"},
	{ID: voices.French, Name: "French", Language: "fr"},
	{ID: voices.German, Name: "German", Language: "de"},
	{ID: voices.Italian, Name: "Italian", Language: "it"},
	{ID: voices.Portuguese, Name: "Portuguese", Language: "pt"},
	{ID: voices.Japanese, Name: "Japanese", Language: "ja"},
}

// findVoice resolves a code to a known voice. A regional code such as
// en-AU falls back to its language prefix.
func findVoice(code string) (engines.Voice, bool) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return engines.Voice{}, false
	}
	for _, v := range voiceList {
		if strings.ToLower(v.ID) == code {
			return v, true
		}
	}
	if idx := strings.Index(code, "-"); idx > 0 {
		return findVoice(code[:idx])
	}
	return engines.Voice{}, false
}
