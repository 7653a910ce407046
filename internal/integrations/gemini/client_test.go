package gemini

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(context.Background(), Config{
		APIKey:     "g-test",
		Model:      "gemini-test",
		BaseURL:    srv.URL + "/",
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresKey(t *testing.T) {
	_, err := NewClient(context.Background(), Config{APIKey: " "})
	require.ErrorContains(t, err, "api key")
}

func TestNewClient_DefaultModel(t *testing.T) {
	c, err := NewClient(context.Background(), Config{APIKey: "k"})
	require.NoError(t, err)
	require.Equal(t, defaultModel, c.model)
}

func TestGenerate_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/models/gemini-test:generateContent"), r.URL.Path)
		require.Equal(t, "g-test", r.Header.Get("x-goog-api-key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"Your machine is fine."}]}}]}`)
	})

	got, err := c.Generate(context.Background(), "rate my machine")
	require.NoError(t, err)
	require.Equal(t, "Your machine is fine.", got)
}

func TestGenerate_NoCandidates(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[]}`)
	})

	_, err := c.Generate(context.Background(), "hi")
	require.ErrorContains(t, err, "no candidates")
}

func TestGenerate_StatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"code":429,"message":"quota","status":"RESOURCE_EXHAUSTED"}}`)
	})

	_, err := c.Generate(context.Background(), "hi")
	var se *StatusError
	require.True(t, errors.As(err, &se), "got %v", err)
	require.Equal(t, http.StatusTooManyRequests, se.HTTPStatusCode())
}
