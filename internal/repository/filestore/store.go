// Package filestore keeps agents as TOML files on the local disk, one file per
// agent key.
package filestore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	toml "github.com/pelletier/go-toml/v2"

	"voice-agent/internal/domain"
	"voice-agent/internal/repository"
)

const (
	fileMode        = 0o600
	dirMode         = 0o700
	fileExt         = ".toml"
	tempFilePattern = ".agent-*.toml.tmp"
)

type Store struct {
	dir string
	mu  sync.RWMutex
}

func New(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("filestore: directory must not be empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("filestore: resolve directory: %w", err)
	}
	return &Store{dir: filepath.Clean(abs)}, nil
}

// path maps an agent key to a file name that is safe on every platform.
func (s *Store) path(key string) string {
	return filepath.Join(s.dir, base64.RawURLEncoding.EncodeToString([]byte(key))+fileExt)
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err := os.Stat(s.path(key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("filestore: stat %s: %w", key, err)
}

func (s *Store) Read(ctx context.Context, key string) (*domain.Agent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("filestore: %s: %w", key, domain.ErrAgentNotFound)
		}
		return nil, fmt.Errorf("filestore: read %s: %w", key, err)
	}

	var rec repository.AgentRecord
	if err := toml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("filestore: decode %s: %w", key, err)
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("filestore: %s: %w", key, err)
	}
	return rec.ToAgent(), nil
}

// Write replaces the agent file atomically.
func (s *Store) Write(ctx context.Context, a *domain.Agent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if a == nil {
		return errors.New("filestore: agent must not be nil")
	}
	rec := repository.FromAgent(a)
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("filestore: %w", err)
	}
	data, err := toml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("filestore: encode %s: %w", a.Key(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeFile(s.path(a.Key()), data)
}

func (s *Store) writeFile(target string, data []byte) error {
	if err := os.MkdirAll(s.dir, dirMode); err != nil {
		return fmt.Errorf("filestore: create directory: %w", err)
	}

	tempFile, err := os.CreateTemp(s.dir, tempFilePattern)
	if err != nil {
		return fmt.Errorf("filestore: create temp file: %w", err)
	}
	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("filestore: write temp file: %w", err)
	}
	if err := tempFile.Chmod(fileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("filestore: chmod temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("filestore: close temp file: %w", err)
	}
	if err := os.Rename(tempName, target); err != nil {
		return fmt.Errorf("filestore: replace agent file: %w", err)
	}
	cleanup = false
	return nil
}
