// Package tts turns question text into audio through a remote endpoint,
// caching results and falling back to a local synthesizer.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultCacheTTL = 30 * time.Minute
	maxAudioBytes   = 16 << 20
)

// ErrNotConfigured is returned when neither an endpoint nor a local
// synthesizer is available.
var ErrNotConfigured = errors.New("text-to-speech is not configured")

// Audio is a synthesized clip.
type Audio struct {
	Data        []byte
	ContentType string
}

// Synthesizer produces audio for text.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (Audio, error)
}

type speechRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

// Client calls the remote text-to-speech endpoint.
type Client struct {
	endpoint   string
	voice      string
	httpClient *http.Client
	cache      *cache.Cache
	fallback   Synthesizer
	logger     *slog.Logger
}

// Options configures a Client. Zero values use the defaults.
type Options struct {
	Endpoint string
	Voice    string
	CacheTTL time.Duration
	// Fallback is used when the endpoint is unset or fails.
	Fallback Synthesizer
}

func NewClient(opts Options) *Client {
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Client{
		endpoint:   strings.TrimSpace(opts.Endpoint),
		voice:      opts.Voice,
		httpClient: &http.Client{Timeout: defaultTimeout},
		cache:      cache.New(ttl, 2*ttl),
		fallback:   opts.Fallback,
		logger:     slog.Default(),
	}
}

// Synthesize returns audio for text, serving repeated phrases from cache.
func (c *Client) Synthesize(ctx context.Context, text string) (Audio, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Audio{}, fmt.Errorf("synthesizing: empty text")
	}

	key := c.voice + "\x00" + text
	if v, ok := c.cache.Get(key); ok {
		cacheLookups.WithLabelValues("hit").Inc()
		return v.(Audio), nil
	}
	cacheLookups.WithLabelValues("miss").Inc()

	if c.endpoint != "" {
		audio, err := c.remote(ctx, text)
		if err == nil {
			c.cache.SetDefault(key, audio)
			return audio, nil
		}
		if c.fallback == nil {
			return Audio{}, err
		}
		c.logger.Warn("remote text-to-speech failed, using local synthesizer", "error", err)
	}

	if c.fallback == nil {
		return Audio{}, ErrNotConfigured
	}
	audio, err := c.fallback.Synthesize(ctx, text)
	if err != nil {
		return Audio{}, fmt.Errorf("local synthesis: %w", err)
	}
	return audio, nil
}

func (c *Client) remote(ctx context.Context, text string) (Audio, error) {
	body, err := json.Marshal(speechRequest{Text: text, Voice: c.voice})
	if err != nil {
		return Audio{}, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Audio{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Audio{}, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Audio{}, fmt.Errorf("text-to-speech returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return Audio{}, fmt.Errorf("reading audio: %w", err)
	}
	if len(data) == 0 {
		return Audio{}, fmt.Errorf("text-to-speech returned no audio")
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/octet-stream"
	}
	return Audio{Data: data, ContentType: ct}, nil
}
