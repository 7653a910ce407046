package builtin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"voice-agent/internal/capability"
)

// Generator produces text from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// MachineReview asks the text generator to describe the host machine.
type MachineReview struct {
	stats *SystemStats
	gen   Generator
}

func NewMachineReview(gen Generator) (*MachineReview, error) {
	if gen == nil {
		return nil, errors.New("builtin: generator must not be nil")
	}
	return &MachineReview{stats: NewSystemStats(), gen: gen}, nil
}

func (m *MachineReview) Name() string { return "machine_review" }

func (m *MachineReview) TriggerPhrases() []string {
	return []string{"rate my machine", "describe my machine"}
}

func (m *MachineReview) Invoke(ctx context.Context, h capability.Handle) (string, error) {
	if err := h.Speak(ctx, "Getting system stats, please wait."); err != nil {
		return "", fmt.Errorf("builtin: machine review: speak: %w", err)
	}

	prompt := "Can you describe the following machine:\n\n" + m.stats.Describe()
	text, err := m.gen.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("builtin: machine review: generate: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("builtin: machine review: empty description")
	}
	if err := h.Speak(ctx, text); err != nil {
		return "", fmt.Errorf("builtin: machine review: speak: %w", err)
	}
	return text, nil
}
