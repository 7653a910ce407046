package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io"
	defaultModelID = "eleven_multilingual_v2"
	maxAudioBytes  = 16 << 20
)

// KeySource yields the xi-api-key.
type KeySource interface {
	Key(ctx context.Context) (string, error)
}

// Sink receives synthesized audio, e.g. a playback device or the hub.
type Sink interface {
	Play(ctx context.Context, audio []byte) error
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("elevenlabs: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client turns text into speech with the ElevenLabs text-to-speech API.
type Client struct {
	keys       KeySource
	sink       Sink
	baseURL    string
	modelID    string
	httpClient *http.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if b := strings.TrimSpace(baseURL); b != "" {
			c.baseURL = b
		}
	}
}

func WithModelID(modelID string) Option {
	return func(c *Client) {
		if m := strings.TrimSpace(modelID); m != "" {
			c.modelID = m
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// NewClient creates a Client. A nil sink discards the audio.
func NewClient(keys KeySource, sink Sink, opts ...Option) (*Client, error) {
	if keys == nil {
		return nil, errors.New("elevenlabs: key source must not be nil")
	}
	c := &Client{
		keys:       keys,
		sink:       sink,
		baseURL:    defaultBaseURL,
		modelID:    defaultModelID,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type speechRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

func speechURL(baseURL, voiceID string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	return base + "/v1/text-to-speech/" + url.PathEscape(voiceID)
}

// Speak synthesizes text with voiceID and hands the audio to the sink. The
// returned status is the upstream HTTP status, or 0 when no response arrived.
func (c *Client) Speak(ctx context.Context, text, voiceID string) (int, error) {
	if strings.TrimSpace(voiceID) == "" {
		return 0, errors.New("elevenlabs: voice id must not be empty")
	}
	apiKey, err := c.keys.Key(ctx)
	if err != nil {
		return 0, fmt.Errorf("elevenlabs: resolve api key: %w", err)
	}

	body, err := json.Marshal(speechRequest{Text: text, ModelID: c.modelID})
	if err != nil {
		return 0, fmt.Errorf("elevenlabs: marshal request: %w", err)
	}

	u := speechURL(c.baseURL, voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("elevenlabs: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", apiKey)

	status, audio, err := c.doRequest(req, u)
	if err != nil {
		return status, fmt.Errorf("elevenlabs: request failed: %w", err)
	}
	if c.sink == nil {
		return status, nil
	}
	if err := c.sink.Play(ctx, audio); err != nil {
		return status, fmt.Errorf("elevenlabs: play audio: %w", err)
	}
	return status, nil
}

func (c *Client) doRequest(req *http.Request, u string) (int, []byte, error) {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return res.StatusCode, nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        u,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, maxAudioBytes))
	if err != nil {
		return res.StatusCode, nil, fmt.Errorf("read response body: %w", err)
	}
	return res.StatusCode, buf, nil
}
