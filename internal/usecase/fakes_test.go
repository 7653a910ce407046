package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"voice-agent/internal/capability"
	"voice-agent/internal/domain"
)

var testNow = func() time.Time { return time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC) }

type genResponse struct {
	text string
	err  error
}

type mockGenerator struct {
	mu        sync.Mutex
	responses []genResponse
	prompts   []string
	// onCall runs before a response is returned, with the call index.
	onCall func(i int)
}

func (m *mockGenerator) Generate(_ context.Context, prompt string) (string, error) {
	m.mu.Lock()
	idx := len(m.prompts)
	m.prompts = append(m.prompts, prompt)
	onCall := m.onCall
	m.mu.Unlock()

	if onCall != nil {
		onCall(idx)
	}
	if len(m.responses) == 0 {
		return "", errors.New("no generator response configured")
	}
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	return m.responses[idx].text, m.responses[idx].err
}

func (m *mockGenerator) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

type countingMatcher struct {
	inner *capability.Registry
	calls int
}

func (c *countingMatcher) Match(utterance string) (capability.Capability, bool) {
	c.calls++
	return c.inner.Match(utterance)
}

type memStore struct {
	mu       sync.Mutex
	agents   map[string]*domain.Agent
	writes   int
	readErr  error
	writeErr error
}

func newMemStore() *memStore {
	return &memStore{agents: map[string]*domain.Agent{}}
}

func (m *memStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return false, m.readErr
	}
	_, ok := m.agents[key]
	return ok, nil
}

func (m *memStore) Read(_ context.Context, key string) (*domain.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	a, ok := m.agents[key]
	if !ok {
		return nil, fmt.Errorf("memstore: %s: %w", key, domain.ErrAgentNotFound)
	}
	cp := *a
	cp.Memory = domain.RestoreMemory(a.Memory.Snapshot())
	return &cp, nil
}

func (m *memStore) Write(_ context.Context, a *domain.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.writeErr != nil {
		return m.writeErr
	}
	cp := *a
	cp.Memory = domain.RestoreMemory(a.Memory.Snapshot())
	m.agents[a.Key()] = &cp
	return nil
}

type recordingHandle struct {
	spoken []string
}

func (r *recordingHandle) AgentName() string { return "Ada" }

func (r *recordingHandle) Speak(_ context.Context, text string) error {
	r.spoken = append(r.spoken, text)
	return nil
}

func (r *recordingHandle) Listen(context.Context) (string, error) {
	return "", errors.New("no input")
}

func testAgent() *domain.Agent {
	return &domain.Agent{
		Name:  "Ada",
		Owner: "host-1",
		Personality: domain.Personality{
			Description: "A curious engineer who loves old machines.",
			Purpose:     "Keep the user company.",
			Language:    "Plain English.",
		},
		Moods: []domain.MoodAxiom{
			{Trigger: "the user is sad", Response: "become gentle"},
		},
		Memory:    domain.NewMemory(),
		CreatedAt: testNow(),
	}
}

func testRegistry(t *testing.T) *capability.Registry {
	t.Helper()
	r := capability.NewRegistry()
	require.NoError(t, r.Register(capability.New("pronto", []string{"call"},
		func(ctx context.Context, h capability.Handle) (string, error) {
			if err := h.Speak(ctx, "Did you just butt dial me?"); err != nil {
				return "", err
			}
			return "Did you just butt dial me?", nil
		})))
	require.NoError(t, r.Register(capability.New("broken", []string{"break things"},
		func(context.Context, capability.Handle) (string, error) {
			return "", errors.New("kaboom")
		})))
	return r
}

func requireCode(t *testing.T, err error, code ErrorCode) *Error {
	t.Helper()
	require.Error(t, err)
	var ue *Error
	require.True(t, errors.As(err, &ue), "expected *usecase.Error, got %T", err)
	require.Equal(t, code, ue.Code)
	return ue
}
