package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"

	"voice-agent/internal/capability"
	"voice-agent/internal/domain"
)

const defaultMaxUtteranceLen = 1000

var errListenUnsupported = errors.New("usecase: listening is not available in a text turn")

// Moderator screens an utterance before it reaches memory.
type Moderator interface {
	Moderate(ctx context.Context, input string) (bool, error)
}

type ConversationOption func(*Conversations)

// WithModerator rejects flagged utterances with INVALID_INPUT.
func WithModerator(m Moderator) ConversationOption {
	return func(c *Conversations) {
		c.moderator = m
	}
}

type ConverseInput struct {
	Agent     string
	Owner     string
	Utterance string
	ColdStart bool
}

type ConverseOutput struct {
	Reply      string
	Capability string
	Spoken     []string
}

// Conversations serves single text turns against stored agents. Each call
// loads the agent, resolves one turn and saves it again.
type Conversations struct {
	agents          *AgentService
	registry        *capability.Registry
	gen             Generator
	cfg             ManagerConfig
	maxUtteranceLen int
	moderator       Moderator
}

func NewConversations(agents *AgentService, registry *capability.Registry, gen Generator, cfg ManagerConfig, maxUtteranceLen int, opts ...ConversationOption) (*Conversations, error) {
	if agents == nil {
		return nil, errors.New("usecase: agent service must not be nil")
	}
	if registry == nil {
		return nil, errors.New("usecase: capability registry must not be nil")
	}
	if gen == nil {
		return nil, errors.New("usecase: generator must not be nil")
	}
	if maxUtteranceLen <= 0 {
		maxUtteranceLen = defaultMaxUtteranceLen
	}
	c := &Conversations{
		agents:          agents,
		registry:        registry,
		gen:             gen,
		cfg:             cfg.withDefaults(),
		maxUtteranceLen: maxUtteranceLen,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Conversations) Converse(ctx context.Context, in ConverseInput) (ConverseOutput, error) {
	utterance := strings.TrimSpace(in.Utterance)
	if !in.ColdStart && utterance == "" {
		return ConverseOutput{}, newError(ErrorInvalidInput, "empty_utterance", nil)
	}
	if len(utterance) > c.maxUtteranceLen {
		return ConverseOutput{}, newError(ErrorInvalidInput, "utterance_too_long", nil)
	}

	agent, err := c.agents.Find(ctx, in.Owner, in.Agent)
	if err != nil {
		return ConverseOutput{}, err
	}
	if err := c.moderate(ctx, utterance); err != nil {
		return ConverseOutput{}, err
	}
	turns, err := c.turnService(agent)
	if err != nil {
		return ConverseOutput{}, err
	}

	if in.ColdStart {
		greeting, err := turns.Greet(ctx)
		if err != nil {
			return ConverseOutput{}, err
		}
		return ConverseOutput{Reply: greeting}, nil
	}

	userTurn, err := turns.RecordUtterance(ctx, utterance)
	if err != nil {
		return ConverseOutput{}, err
	}
	h := &textHandle{agent: agent.Name}
	out, err := turns.Resolve(ctx, userTurn, h)
	if err != nil {
		return ConverseOutput{}, err
	}
	return ConverseOutput{
		Reply:      out.Text,
		Capability: out.Capability,
		Spoken:     h.spoken(),
	}, nil
}

func (c *Conversations) moderate(ctx context.Context, utterance string) error {
	if c.moderator == nil || utterance == "" {
		return nil
	}
	flagged, err := c.moderator.Moderate(ctx, utterance)
	if err != nil {
		return generationError("moderation", err)
	}
	if flagged {
		return newError(ErrorInvalidInput, "moderation_flagged", nil)
	}
	return nil
}

func (c *Conversations) turnService(agent *domain.Agent) (*TurnService, error) {
	enabled, err := c.registry.Subset(agent.Capabilities)
	if err != nil {
		return nil, newError(ErrorInternal, "capability_subset", err)
	}
	manager, err := NewContextManager(agent, enabled, c.gen, c.cfg)
	if err != nil {
		return nil, newError(ErrorInternal, "context_manager", err)
	}
	turns, err := NewTurnService(agent, manager, c.agents, c.cfg.Now)
	if err != nil {
		return nil, newError(ErrorInternal, "turn_service", err)
	}
	return turns, nil
}

// textHandle collects what a capability says during a text turn.
type textHandle struct {
	agent string

	mu   sync.Mutex
	said []string
}

func (h *textHandle) AgentName() string { return h.agent }

func (h *textHandle) Speak(_ context.Context, text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.said = append(h.said, text)
	return nil
}

func (h *textHandle) Listen(context.Context) (string, error) {
	return "", errListenUnsupported
}

func (h *textHandle) spoken() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.said...)
}
