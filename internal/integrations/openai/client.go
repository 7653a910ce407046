package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	defaultBaseURL            = "https://api.openai.com/v1"
	defaultChatModel          = "gpt-4o-mini"
	defaultTranscriptionModel = "whisper-1"
)

// KeySource yields the API key, typically from the parameter store.
type KeySource interface {
	Key(ctx context.Context) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client generates replies, transcribes audio and moderates input through
// the OpenAI API.
type Client struct {
	keys               KeySource
	baseURL            string
	httpClient         *http.Client
	model              string
	transcriptionModel string
	system             string

	api openai.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithModel(model string) Option {
	return func(c *Client) {
		if m := strings.TrimSpace(model); m != "" {
			c.model = m
		}
	}
}

func WithTranscriptionModel(model string) Option {
	return func(c *Client) {
		if m := strings.TrimSpace(model); m != "" {
			c.transcriptionModel = m
		}
	}
}

// WithSystemPrompt sends text as a system message ahead of every prompt.
func WithSystemPrompt(text string) Option {
	return func(c *Client) {
		c.system = strings.TrimSpace(text)
	}
}

// NewClient creates a Client. The key is requested from keys on every call;
// caching is the key source's concern.
func NewClient(keys KeySource, opts ...Option) (*Client, error) {
	if keys == nil {
		return nil, errors.New("openai: key source must not be nil")
	}
	c := &Client{
		keys:               keys,
		baseURL:            defaultBaseURL,
		httpClient:         &http.Client{Timeout: 30 * time.Second},
		model:              defaultChatModel,
		transcriptionModel: defaultTranscriptionModel,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	c.api = openai.NewClient(
		option.WithBaseURL(apiBaseURL(c.baseURL)),
		option.WithHTTPClient(c.httpClient),
		option.WithMaxRetries(0),
	)
	return c, nil
}

// apiBaseURL normalises baseURL to the versioned root the SDK expects.
func apiBaseURL(baseURL string) string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	return base + "/"
}

func (c *Client) auth(ctx context.Context) (option.RequestOption, error) {
	key, err := c.keys.Key(ctx)
	if err != nil {
		return nil, fmt.Errorf("openai: resolve api key: %w", err)
	}
	return option.WithAPIKey(key), nil
}

// Generate sends prompt as a single user message and returns the first choice.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	auth, err := c.auth(ctx)
	if err != nil {
		return "", err
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if c.system != "" {
		messages = append(messages, openai.SystemMessage(c.system))
	}
	messages = append(messages, openai.UserMessage(prompt))

	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: messages,
	}, auth)
	if err != nil {
		return "", fmt.Errorf("openai: chat completion: %w", statusError(err))
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

// Transcribe converts a recorded utterance to text. name carries the file
// extension the API uses to detect the audio format.
func (c *Client) Transcribe(ctx context.Context, audio io.Reader, name string) (string, error) {
	if audio == nil {
		return "", errors.New("openai: audio must not be nil")
	}
	if strings.TrimSpace(name) == "" {
		name = "utterance.wav"
	}
	auth, err := c.auth(ctx)
	if err != nil {
		return "", err
	}

	res, err := c.api.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:  openai.File(audio, name, contentType(name)),
		Model: openai.AudioModel(c.transcriptionModel),
	}, auth)
	if err != nil {
		return "", fmt.Errorf("openai: transcription: %w", statusError(err))
	}
	return strings.TrimSpace(res.Text), nil
}

// Moderate reports whether input is flagged by the moderation endpoint.
func (c *Client) Moderate(ctx context.Context, input string) (bool, error) {
	auth, err := c.auth(ctx)
	if err != nil {
		return false, err
	}

	res, err := c.api.Moderations.New(ctx, openai.ModerationNewParams{
		Input: openai.ModerationNewParamsInputUnion{OfString: openai.String(input)},
	}, auth)
	if err != nil {
		return false, fmt.Errorf("openai: moderation: %w", statusError(err))
	}
	if len(res.Results) == 0 {
		return false, errors.New("openai: no results in moderation response")
	}
	return res.Results[0].Flagged, nil
}

func contentType(name string) string {
	switch {
	case strings.HasSuffix(name, ".mp3"):
		return "audio/mpeg"
	case strings.HasSuffix(name, ".ogg"):
		return "audio/ogg"
	case strings.HasSuffix(name, ".webm"):
		return "audio/webm"
	default:
		return "audio/wav"
	}
}

// statusError converts SDK API errors into HTTPStatusError so callers can
// classify them without importing the SDK.
func statusError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	url := ""
	if apiErr.Request != nil && apiErr.Request.URL != nil {
		url = apiErr.Request.URL.String()
	}
	return &HTTPStatusError{StatusCode: apiErr.StatusCode, URL: url, Body: apiErr.Message}
}
