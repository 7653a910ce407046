// Package persona loads agent definitions from YAML and seeds them into the
// agent store.
package persona

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"voice-agent/internal/domain"
	"voice-agent/internal/usecase"
)

//go:embed default.yaml
var defaultPersonas []byte

type Persona struct {
	Name         string             `yaml:"name"`
	VoiceID      string             `yaml:"voice_id"`
	Personality  domain.Personality `yaml:"personality"`
	Moods        []domain.MoodAxiom `yaml:"moods"`
	Capabilities []string           `yaml:"capabilities"`
}

type file struct {
	Personas []Persona `yaml:"personas"`
}

// Parse decodes a persona file. Unknown fields are rejected.
func Parse(r io.Reader) ([]Persona, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f file
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("persona: empty file")
		}
		return nil, fmt.Errorf("persona: decode: %w", err)
	}
	if err := validate(f.Personas); err != nil {
		return nil, err
	}
	return f.Personas, nil
}

func validate(ps []Persona) error {
	if len(ps) == 0 {
		return errors.New("persona: no personas defined")
	}
	seen := make(map[string]struct{}, len(ps))
	for i, p := range ps {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return fmt.Errorf("persona: entry %d has no name", i)
		}
		if strings.TrimSpace(p.Personality.Description) == "" {
			return fmt.Errorf("persona: %s has no personality description", name)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("persona: %s: %w", name, domain.ErrDuplicateName)
		}
		seen[name] = struct{}{}
	}
	return nil
}

// LoadFile parses the persona file at path.
func LoadFile(path string) ([]Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("persona: read %s: %w", path, err)
	}
	return Parse(bytes.NewReader(data))
}

// Defaults returns the built-in personas.
func Defaults() []Persona {
	ps, err := Parse(bytes.NewReader(defaultPersonas))
	if err != nil {
		panic(err)
	}
	return ps
}

// Creator creates an agent once; duplicates fail with DUPLICATE_NAME.
type Creator interface {
	Create(ctx context.Context, in usecase.CreateAgentInput) (*domain.Agent, error)
}

type Result struct {
	Created []string
	Skipped []string
}

// Seed creates every persona for owner. Personas that already exist are
// skipped with a warning; any other failure stops seeding.
func Seed(ctx context.Context, creator Creator, owner string, ps []Persona, logger *log.Logger) (Result, error) {
	if logger == nil {
		logger = log.Default()
	}
	var res Result
	for _, p := range ps {
		_, err := creator.Create(ctx, usecase.CreateAgentInput{
			Name:         p.Name,
			Owner:        owner,
			VoiceID:      p.VoiceID,
			Personality:  p.Personality,
			Moods:        p.Moods,
			Capabilities: p.Capabilities,
		})
		switch {
		case err == nil:
			logger.Info("seeded agent", "agent", p.Name, "owner", owner)
			res.Created = append(res.Created, p.Name)
		case usecase.HasCode(err, usecase.ErrorDuplicateName):
			logger.Warn("agent already exists, skipping", "agent", p.Name, "owner", owner)
			res.Skipped = append(res.Skipped, p.Name)
		default:
			return res, fmt.Errorf("persona: seed %s: %w", p.Name, err)
		}
	}
	return res, nil
}
