package main

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/spf13/viper"

	"voice-agent/internal/capability"
	"voice-agent/internal/capability/builtin"
	"voice-agent/internal/config"
	"voice-agent/internal/integrations/gemini"
	"voice-agent/internal/integrations/openai"
	"voice-agent/internal/integrations/paramstore"
	"voice-agent/internal/persona"
	"voice-agent/internal/proxy"
	"voice-agent/internal/repository"
	"voice-agent/internal/repository/filestore"
	"voice-agent/internal/usecase"
)

// vendor names the environment variable and parameter holding an API key.
type vendor struct {
	env   string
	param string
}

var (
	vendorOpenAI     = vendor{env: "OPENAI_API_KEY", param: "openai-token"}
	vendorGemini     = vendor{env: "GEMINI_API_KEY", param: "gemini-token"}
	vendorElevenLabs = vendor{env: "ELEVENLABS_API_KEY", param: "elevenlabs-token"}
)

// app holds the configuration and the lazily built clients shared by the
// subcommands.
type app struct {
	v   *viper.Viper
	cfg *config.Config
	log *log.Logger

	awsOnce sync.Once
	awsCfg  aws.Config
	awsErr  error

	httpOnce   sync.Once
	httpClient *http.Client
	httpErr    error
}

func (a *app) awsConfig(ctx context.Context) (aws.Config, error) {
	a.awsOnce.Do(func() {
		a.awsCfg, a.awsErr = awsconfig.LoadDefaultConfig(ctx)
		if a.awsErr != nil {
			a.awsErr = fmt.Errorf("load AWS config: %w", a.awsErr)
		}
	})
	return a.awsCfg, a.awsErr
}

// vendorHTTP returns the client used for every vendor call, routed through the
// SOCKS5 proxy when one is configured.
func (a *app) vendorHTTP() (*http.Client, error) {
	a.httpOnce.Do(func() {
		a.httpClient, a.httpErr = proxy.HTTPClient(a.cfg.Proxy.Socks, a.cfg.Pipeline.GenerateTimeout+30*time.Second)
	})
	return a.httpClient, a.httpErr
}

func (a *app) agentService(ctx context.Context) (*usecase.AgentService, error) {
	store, err := a.store(ctx)
	if err != nil {
		return nil, err
	}
	return usecase.NewAgentService(store, time.Now)
}

func (a *app) store(ctx context.Context) (usecase.AgentStore, error) {
	switch a.cfg.Store.Backend {
	case "dynamodb":
		awsCfg, err := a.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		return repository.New(awsdynamodb.NewFromConfig(awsCfg), a.cfg.Store.Table)
	default:
		return filestore.New(a.cfg.Store.Dir)
	}
}

func (a *app) keys(ctx context.Context, v vendor) (paramstore.KeySource, error) {
	if a.cfg.Secrets.Source != "ssm" {
		return paramstore.StaticKey(os.Getenv(v.env)), nil
	}
	awsCfg, err := a.awsConfig(ctx)
	if err != nil {
		return nil, err
	}
	client, err := paramstore.New(awsssm.NewFromConfig(awsCfg), a.cfg.Secrets.ParamPrefix)
	if err != nil {
		return nil, err
	}
	return paramstore.NewTokenParameter(client, v.param)
}

func (a *app) openaiClient(ctx context.Context) (*openai.Client, error) {
	keys, err := a.keys(ctx, vendorOpenAI)
	if err != nil {
		return nil, err
	}
	httpClient, err := a.vendorHTTP()
	if err != nil {
		return nil, err
	}
	opts := []openai.Option{
		openai.WithHTTPClient(httpClient),
		openai.WithTranscriptionModel(a.cfg.STT.Model),
	}
	if a.cfg.LLM.Provider == "openai" {
		opts = append(opts, openai.WithModel(a.cfg.LLM.Model))
		if a.cfg.LLM.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(a.cfg.LLM.BaseURL))
		}
	}
	return openai.NewClient(keys, opts...)
}

func (a *app) generator(ctx context.Context) (usecase.Generator, error) {
	if a.cfg.LLM.Provider != "gemini" {
		return a.openaiClient(ctx)
	}
	keys, err := a.keys(ctx, vendorGemini)
	if err != nil {
		return nil, err
	}
	key, err := keys.Key(ctx)
	if err != nil {
		return nil, fmt.Errorf("gemini key: %w", err)
	}
	httpClient, err := a.vendorHTTP()
	if err != nil {
		return nil, err
	}
	return gemini.NewClient(ctx, gemini.Config{
		APIKey:     key,
		Model:      a.cfg.LLM.Model,
		BaseURL:    a.cfg.LLM.BaseURL,
		HTTPClient: httpClient,
	})
}

// registry lists every capability the process offers. Agents enable a
// subset by name.
func (a *app) registry(gen usecase.Generator) (*capability.Registry, error) {
	var matcher capability.Matcher = capability.SubstringMatcher{}
	if a.cfg.Matching.Strategy == "fuzzy" {
		matcher = capability.FuzzyMatcher{MinScore: a.cfg.Matching.MinScore}
	}
	reg := capability.NewRegistry(capability.WithMatcher(matcher))

	review, err := builtin.NewMachineReview(gen)
	if err != nil {
		return nil, err
	}
	quiz, err := builtin.NewPersonalityQuiz(gen)
	if err != nil {
		return nil, err
	}
	if err := builtin.Register(reg, append(builtin.All(), review, quiz)...); err != nil {
		return nil, err
	}
	return reg, nil
}

func (a *app) personas() ([]persona.Persona, error) {
	if path := strings.TrimSpace(a.cfg.Agent.SeedFile); path != "" {
		return persona.LoadFile(path)
	}
	return persona.Defaults(), nil
}

// ensureAgent loads the configured agent, seeding it from the persona list
// on first use. An empty agent name selects the first persona.
func (a *app) ensureAgent(ctx context.Context, agents *usecase.AgentService) (string, error) {
	ps, err := a.personas()
	if err != nil {
		return "", err
	}
	name := strings.TrimSpace(a.cfg.Agent.Name)
	if name == "" {
		name = ps[0].Name
	}

	_, err = agents.Find(ctx, a.cfg.Agent.Owner, name)
	if err == nil {
		return name, nil
	}
	if !usecase.HasCode(err, usecase.ErrorNotFound) {
		return "", err
	}

	for _, p := range ps {
		if p.Name != name {
			continue
		}
		if _, err := persona.Seed(ctx, agents, a.cfg.Agent.Owner, []persona.Persona{p}, a.log); err != nil {
			return "", err
		}
		return name, nil
	}
	return "", errors.New("no stored agent or persona named " + name)
}
