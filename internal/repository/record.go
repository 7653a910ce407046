package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"voice-agent/internal/domain"
)

const recordVersion = 1

// AgentRecord is the persisted form of an agent. Turns are omitted when the
// backend stores them as separate items.
type AgentRecord struct {
	Version      int                `json:"version" toml:"version"`
	Name         string             `json:"name" toml:"name"`
	Owner        string             `json:"owner" toml:"owner"`
	VoiceID      string             `json:"voiceId,omitempty" toml:"voice_id,omitempty"`
	Personality  domain.Personality `json:"personality" toml:"personality"`
	Moods        []domain.MoodAxiom `json:"moods" toml:"moods"`
	Capabilities []string           `json:"capabilities" toml:"capabilities"`
	CreatedAt    time.Time          `json:"createdAt" toml:"created_at"`
	Summaries    domain.Summaries   `json:"summaries" toml:"summaries"`
	User         domain.UserMemory  `json:"user" toml:"user"`
	Turns        []domain.Turn      `json:"turns,omitempty" toml:"turns,omitempty"`
}

// FromAgent captures a consistent snapshot of a.
func FromAgent(a *domain.Agent) AgentRecord {
	r := AgentRecord{
		Version:      recordVersion,
		Name:         a.Name,
		Owner:        a.Owner,
		VoiceID:      a.VoiceID,
		Personality:  a.Personality,
		Moods:        append([]domain.MoodAxiom{}, a.Moods...),
		Capabilities: append([]string{}, a.Capabilities...),
		CreatedAt:    a.CreatedAt.UTC(),
	}
	if a.Memory != nil {
		snap := a.Memory.Snapshot()
		r.Summaries = snap.Summaries
		r.User = snap.User
		r.Turns = snap.Turns
	}
	return r
}

// ToAgent rebuilds the domain agent.
func (r AgentRecord) ToAgent() *domain.Agent {
	return &domain.Agent{
		Name:         r.Name,
		Owner:        r.Owner,
		VoiceID:      r.VoiceID,
		Personality:  r.Personality,
		Moods:        r.Moods,
		Capabilities: r.Capabilities,
		CreatedAt:    r.CreatedAt,
		Memory: domain.RestoreMemory(domain.MemorySnapshot{
			Turns:     r.Turns,
			Summaries: r.Summaries,
			User:      r.User,
		}),
	}
}

// recordSchema guards against hand-edited or truncated records.
const recordSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["version", "name", "owner", "personality"],
  "properties": {
    "version": {"type": "integer", "minimum": 1},
    "name": {"type": "string", "minLength": 1},
    "owner": {"type": "string", "minLength": 1},
    "voiceId": {"type": "string"},
    "personality": {
      "type": "object",
      "required": ["description"],
      "properties": {
        "description": {"type": "string", "minLength": 1}
      }
    },
    "moods": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["trigger", "response"]
      }
    },
    "capabilities": {"type": ["array", "null"], "items": {"type": "string"}},
    "turns": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "role", "content"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "role": {"enum": ["user", "system", "assistant"]},
          "content": {"type": "string"}
        }
      }
    }
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(recordSchema)

// Validate checks r against the record schema.
func (r AgentRecord) Validate() error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("repository: marshal record: %w", err)
	}
	return validateJSON(data)
}

func validateJSON(data []byte) error {
	res, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("repository: validate record: %w", err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return errors.New("repository: invalid record: " + strings.Join(msgs, "; "))
}

// EncodeRecord marshals r to JSON.
func EncodeRecord(r AgentRecord) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("repository: marshal record: %w", err)
	}
	return data, nil
}

// DecodeRecord validates and unmarshals a JSON record.
func DecodeRecord(data []byte) (AgentRecord, error) {
	if err := validateJSON(data); err != nil {
		return AgentRecord{}, err
	}
	var r AgentRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return AgentRecord{}, fmt.Errorf("repository: unmarshal record: %w", err)
	}
	return r, nil
}
