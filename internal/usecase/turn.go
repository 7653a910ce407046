package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"voice-agent/internal/capability"
	"voice-agent/internal/domain"
)

// AgentSaver persists an agent after its memory changed.
type AgentSaver interface {
	Save(ctx context.Context, a *domain.Agent) error
}

// Outcome describes what happened to one user turn.
type Outcome struct {
	Kind       DecisionKind
	Capability string
	Text       string
}

// TurnService records turns in an agent's memory and resolves user turns into
// replies or capability results. Sequential and concurrent pipelines, as well
// as the Lambda handler, are built on it.
type TurnService struct {
	agent   *domain.Agent
	manager *ContextManager
	saver   AgentSaver
	now     func() time.Time

	saveMu sync.Mutex
}

func NewTurnService(agent *domain.Agent, manager *ContextManager, saver AgentSaver, now func() time.Time) (*TurnService, error) {
	if agent == nil || agent.Memory == nil {
		return nil, errors.New("usecase: agent with memory must not be nil")
	}
	if manager == nil {
		return nil, errors.New("usecase: context manager must not be nil")
	}
	if saver == nil {
		return nil, errors.New("usecase: agent saver must not be nil")
	}
	if now == nil {
		now = time.Now
	}
	return &TurnService{agent: agent, manager: manager, saver: saver, now: now}, nil
}

func (s *TurnService) Agent() *domain.Agent {
	return s.agent
}

// Greet produces the cold-start greeting and records it as an assistant turn.
func (s *TurnService) Greet(ctx context.Context) (string, error) {
	d, err := s.manager.Manage(ctx, Request{ColdStart: true})
	if err != nil {
		return "", err
	}
	s.agent.Memory.Append(domain.NewTurn(domain.RoleAssistant, d.Text, s.now()))
	if err := s.Save(ctx); err != nil {
		return d.Text, err
	}
	return d.Text, nil
}

// RecordUtterance appends a user turn. The turn is kept in memory even when
// saving fails.
func (s *TurnService) RecordUtterance(ctx context.Context, text string) (domain.Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Turn{}, newError(ErrorInvalidInput, "empty_utterance", nil)
	}
	t := s.agent.Memory.Append(domain.NewTurn(domain.RoleUser, text, s.now()))
	if err := s.Save(ctx); err != nil {
		return t, err
	}
	return t, nil
}

// Resolve decides what to do with a recorded user turn and carries it out.
// Capability results are recorded as system turns. A reply is recorded as an
// assistant turn only while userTurn is still the latest user turn.
func (s *TurnService) Resolve(ctx context.Context, userTurn domain.Turn, h capability.Handle) (Outcome, error) {
	d, err := s.manager.Manage(ctx, Request{Utterance: userTurn.Content, Anchor: userTurn.ID})
	if err != nil {
		return Outcome{}, err
	}

	switch d.Kind {
	case DecisionCapability:
		name := d.Capability.Name()
		result, err := d.Capability.Invoke(ctx, h)
		if err != nil {
			return Outcome{Kind: DecisionCapability, Capability: name}, newError(ErrorCapabilityFailed, name, err)
		}
		if result = strings.TrimSpace(result); result != "" {
			s.agent.Memory.Append(domain.NewTurn(domain.RoleSystem, result, s.now()))
		}
		out := Outcome{Kind: DecisionCapability, Capability: name, Text: result}
		if err := s.Save(ctx); err != nil {
			return out, err
		}
		return out, nil

	case DecisionResponse:
		reply := domain.NewTurn(domain.RoleAssistant, d.Text, s.now())
		if _, ok := s.agent.Memory.AppendIfLatestUser(userTurn.ID, reply); !ok {
			return Outcome{}, newError(ErrorCausalityInversion, "newer_user_turn", nil)
		}
		out := Outcome{Kind: DecisionResponse, Text: d.Text}
		if err := s.Save(ctx); err != nil {
			return out, err
		}
		return out, nil
	}
	return Outcome{}, newError(ErrorInternal, "unknown_decision", nil)
}

// Save persists the agent. Concurrent callers are serialised.
func (s *TurnService) Save(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if err := s.saver.Save(ctx, s.agent); err != nil {
		return newError(ErrorInternal, "store_write_error", err)
	}
	return nil
}
