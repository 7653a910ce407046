package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"voice-agent/internal/domain"
)

// AgentStore is the key/value persistence port for agents. Read returns an
// error wrapping domain.ErrAgentNotFound for unknown keys.
type AgentStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Read(ctx context.Context, key string) (*domain.Agent, error)
	Write(ctx context.Context, a *domain.Agent) error
}

type CreateAgentInput struct {
	Name         string
	Owner        string
	VoiceID      string
	Personality  domain.Personality
	Moods        []domain.MoodAxiom
	Capabilities []string
}

// AgentService owns the agent lifecycle: create once, find, save after every
// change.
type AgentService struct {
	store AgentStore
	now   func() time.Time

	// createMu serialises the exists-then-write sequence of Create.
	createMu sync.Mutex
}

func NewAgentService(store AgentStore, now func() time.Time) (*AgentService, error) {
	if store == nil {
		return nil, errors.New("usecase: agent store must not be nil")
	}
	if now == nil {
		now = time.Now
	}
	return &AgentService{store: store, now: now}, nil
}

func (s *AgentService) Create(ctx context.Context, in CreateAgentInput) (*domain.Agent, error) {
	name := strings.TrimSpace(in.Name)
	owner := strings.TrimSpace(in.Owner)
	if name == "" {
		return nil, newError(ErrorInvalidInput, "empty_name", nil)
	}
	if owner == "" {
		return nil, newError(ErrorInvalidInput, "empty_owner", nil)
	}
	if strings.TrimSpace(in.Personality.Description) == "" {
		return nil, newError(ErrorInvalidInput, "empty_description", nil)
	}

	a := &domain.Agent{
		Name:         name,
		Owner:        owner,
		VoiceID:      strings.TrimSpace(in.VoiceID),
		Personality:  in.Personality,
		Moods:        append([]domain.MoodAxiom(nil), in.Moods...),
		Memory:       domain.NewMemory(),
		Capabilities: append([]string(nil), in.Capabilities...),
		CreatedAt:    s.now().UTC(),
	}

	s.createMu.Lock()
	defer s.createMu.Unlock()

	exists, err := s.store.Exists(ctx, a.Key())
	if err != nil {
		return nil, newError(ErrorInternal, "store_read_error", err)
	}
	if exists {
		return nil, newError(ErrorDuplicateName, name, domain.ErrDuplicateName)
	}
	if err := s.store.Write(ctx, a); err != nil {
		return nil, newError(ErrorInternal, "store_write_error", err)
	}
	return a, nil
}

func (s *AgentService) Find(ctx context.Context, owner, name string) (*domain.Agent, error) {
	if strings.TrimSpace(name) == "" || strings.TrimSpace(owner) == "" {
		return nil, newError(ErrorInvalidInput, "empty_agent_key", nil)
	}
	a, err := s.store.Read(ctx, domain.AgentKey(owner, name))
	if err != nil {
		if errors.Is(err, domain.ErrAgentNotFound) {
			return nil, newError(ErrorNotFound, strings.TrimSpace(name), err)
		}
		return nil, newError(ErrorInternal, "store_read_error", err)
	}
	if a.Memory == nil {
		a.Memory = domain.NewMemory()
	}
	return a, nil
}

func (s *AgentService) Save(ctx context.Context, a *domain.Agent) error {
	if a == nil {
		return newError(ErrorInvalidInput, "nil_agent", nil)
	}
	if err := s.store.Write(ctx, a); err != nil {
		return newError(ErrorInternal, "store_write_error", err)
	}
	return nil
}
