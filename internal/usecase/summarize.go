package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"voice-agent/internal/domain"
)

// Summarizer condenses a time window of an agent's turns into one of its
// rolling summaries.
type Summarizer struct {
	agent   *domain.Agent
	gen     Generator
	timeout time.Duration
	now     func() time.Time
}

func NewSummarizer(agent *domain.Agent, gen Generator, timeout time.Duration, now func() time.Time) (*Summarizer, error) {
	if agent == nil || agent.Memory == nil {
		return nil, errors.New("usecase: agent with memory must not be nil")
	}
	if gen == nil {
		return nil, errors.New("usecase: generator must not be nil")
	}
	if timeout <= 0 {
		timeout = defaultGenerateTimeout
	}
	if now == nil {
		now = time.Now
	}
	return &Summarizer{agent: agent, gen: gen, timeout: timeout, now: now}, nil
}

// Summarize replaces the summary of the given kind with a digest of the turns
// created within window. It reports false without generating anything when the
// window holds no turns.
func (s *Summarizer) Summarize(ctx context.Context, kind domain.SummaryKind, window time.Duration) (bool, error) {
	now := s.now()
	turns := s.agent.Memory.TurnsSince(now.Add(-window))
	if len(turns) == 0 {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	text, err := s.gen.Generate(ctx, buildSummaryPrompt(newPromptContext(s.agent), kind, turns))
	if err != nil {
		return false, generationError("summary", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return false, generationError("summary", nil)
	}
	if err := s.agent.Memory.ReplaceSummary(kind, text, now); err != nil {
		return false, newError(ErrorInvalidInput, "summary_kind", err)
	}
	return true, nil
}
