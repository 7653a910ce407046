package domain

import (
	"strings"
	"time"
)

// Personality describes who the agent is. Every prompt is built from it.
type Personality struct {
	Description string `json:"description" yaml:"description" toml:"description"`
	Purpose     string `json:"purpose" yaml:"purpose" toml:"purpose"`
	Language    string `json:"language" yaml:"language" toml:"language"`
	Information string `json:"information" yaml:"information" toml:"information"`
}

// MoodAxiom pairs a trigger condition with how the agent should react to it.
type MoodAxiom struct {
	Trigger  string `json:"trigger" yaml:"trigger" toml:"trigger"`
	Response string `json:"response" yaml:"response" toml:"response"`
}

// Agent aggregates identity, personality and the conversation memory.
type Agent struct {
	Name         string
	Owner        string
	VoiceID      string
	Personality  Personality
	Moods        []MoodAxiom
	Memory       *Memory
	Capabilities []string
	CreatedAt    time.Time
}

// AgentKey returns the persistence key for an agent.
func AgentKey(owner, name string) string {
	return "agent:" + strings.TrimSpace(owner) + ":" + strings.TrimSpace(name)
}

// Key returns the persistence key of a.
func (a *Agent) Key() string {
	return AgentKey(a.Owner, a.Name)
}
