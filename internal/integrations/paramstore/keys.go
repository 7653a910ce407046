package paramstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// KeySource yields an API key for an upstream vendor.
type KeySource interface {
	Key(ctx context.Context) (string, error)
}

// StaticKey is a key taken from configuration or the environment.
type StaticKey string

func (k StaticKey) Key(context.Context) (string, error) {
	key := strings.TrimSpace(string(k))
	if key == "" {
		return "", errors.New("paramstore: API key is empty")
	}
	return key, nil
}

// tokenPayload is the expected JSON shape stored in SSM for API tokens.
type tokenPayload struct {
	Token string `json:"token"`
}

// TokenParameter fetches a {"token": "..."} parameter on first use and
// reuses the result for the lifetime of the process.
type TokenParameter struct {
	getter Getter
	name   string

	once sync.Once
	key  string
	err  error
}

func NewTokenParameter(getter Getter, name string) (*TokenParameter, error) {
	if getter == nil {
		return nil, errors.New("paramstore: getter must not be nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("paramstore: token parameter name is empty")
	}
	return &TokenParameter{getter: getter, name: name}, nil
}

func (p *TokenParameter) Key(ctx context.Context) (string, error) {
	p.once.Do(func() {
		p.key, p.err = fetchToken(ctx, p.getter, p.name)
	})
	return p.key, p.err
}

func fetchToken(ctx context.Context, getter Getter, name string) (string, error) {
	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("paramstore: fetch token: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("paramstore: unmarshal token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", errors.New("paramstore: API token is empty")
	}
	return tp.Token, nil
}
