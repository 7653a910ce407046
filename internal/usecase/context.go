package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"voice-agent/internal/capability"
	"voice-agent/internal/domain"
)

const (
	defaultHistoryWindow   = 10
	defaultGenerateTimeout = 30 * time.Second
)

// Generator turns a prompt into text. Implementations do not retry.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a plain function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// CapabilityMatcher finds the capability an utterance triggers.
type CapabilityMatcher interface {
	Match(utterance string) (capability.Capability, bool)
}

type DecisionKind int

const (
	DecisionResponse DecisionKind = iota + 1
	DecisionCapability
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionResponse:
		return "response"
	case DecisionCapability:
		return "capability"
	}
	return "unknown"
}

// Decision is the outcome of one Manage call. Exactly one of Text and
// Capability is set, according to Kind.
type Decision struct {
	Kind       DecisionKind
	Text       string
	Capability capability.Capability
}

type Request struct {
	Utterance string
	ColdStart bool
	// Anchor is the ID of the user turn this request answers. When set, the
	// mood turn is only recorded if that turn is still the latest user turn.
	Anchor string
}

type ManagerConfig struct {
	HistoryWindow   int
	GenerateTimeout time.Duration
	Now             func() time.Time
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = defaultHistoryWindow
	}
	if c.GenerateTimeout <= 0 {
		c.GenerateTimeout = defaultGenerateTimeout
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// ContextManager decides, per utterance, between invoking a capability and
// generating a conversational reply for one agent.
type ContextManager struct {
	agent   *domain.Agent
	matcher CapabilityMatcher
	gen     Generator
	cfg     ManagerConfig
}

func NewContextManager(agent *domain.Agent, matcher CapabilityMatcher, gen Generator, cfg ManagerConfig) (*ContextManager, error) {
	if agent == nil || agent.Memory == nil {
		return nil, errors.New("usecase: agent with memory must not be nil")
	}
	if matcher == nil {
		return nil, errors.New("usecase: capability matcher must not be nil")
	}
	if gen == nil {
		return nil, errors.New("usecase: generator must not be nil")
	}
	return &ContextManager{
		agent:   agent,
		matcher: matcher,
		gen:     gen,
		cfg:     cfg.withDefaults(),
	}, nil
}

// Manage runs one decision. On the conversational path it records exactly one
// system turn holding the agent's mood, and only once the reply exists.
func (m *ContextManager) Manage(ctx context.Context, req Request) (Decision, error) {
	pc := newPromptContext(m.agent)

	if req.ColdStart {
		text, err := m.generate(ctx, "cold_start", buildColdStartPrompt(pc))
		if err != nil {
			return Decision{}, err
		}
		return Decision{Kind: DecisionResponse, Text: text}, nil
	}

	utterance := strings.TrimSpace(req.Utterance)
	if utterance == "" {
		return Decision{}, newError(ErrorInvalidInput, "empty_utterance", nil)
	}

	if c, ok := m.matcher.Match(utterance); ok {
		return Decision{Kind: DecisionCapability, Capability: c}, nil
	}

	mem := m.agent.Memory
	current := utterance
	if latest, ok := mem.MostRecentUserTurn(); ok {
		current = latest.Content
	}
	history := mem.Recent(m.cfg.HistoryWindow)

	mood, err := m.generate(ctx, "mood", buildMoodPrompt(pc, current, history))
	if err != nil {
		return Decision{}, err
	}
	moodTurn := domain.NewTurn(domain.RoleSystem, mood, m.cfg.Now())

	// The mood turn joins the window seen by the response step but is only
	// committed to memory after that step succeeds.
	withMood := append(history, moodTurn)
	if len(withMood) > m.cfg.HistoryWindow {
		withMood = withMood[len(withMood)-m.cfg.HistoryWindow:]
	}
	reply, err := m.generate(ctx, "response", buildResponsePrompt(pc, current, withMood))
	if err != nil {
		return Decision{}, err
	}

	if req.Anchor == "" {
		mem.Append(moodTurn)
	} else if _, ok := mem.AppendIfLatestUser(req.Anchor, moodTurn); !ok {
		return Decision{}, newError(ErrorCausalityInversion, "stale_anchor", nil)
	}
	return Decision{Kind: DecisionResponse, Text: reply}, nil
}

func (m *ContextManager) generate(ctx context.Context, step, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.GenerateTimeout)
	defer cancel()

	text, err := m.gen.Generate(ctx, prompt)
	if err != nil {
		return "", generationError(step, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", generationError(step, nil)
	}
	return text, nil
}
