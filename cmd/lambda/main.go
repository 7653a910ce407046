package main

import (
	"context"
	log "log/slog"
	"os"
	"strconv"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"voice-agent/handler"
	"voice-agent/internal/capability"
	"voice-agent/internal/capability/builtin"
	"voice-agent/internal/integrations/openai"
	"voice-agent/internal/integrations/paramstore"
	"voice-agent/internal/logging"
	"voice-agent/internal/repository"
	"voice-agent/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	stateTable := mustEnv("STATE_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")
	historyWindow := envInt("HISTORY_WINDOW", 10)
	maxUtteranceLen := envInt("MAX_UTTERANCE_LENGTH", 1000)
	model := os.Getenv("OPENAI_MODEL")
	moderation := envBool("MODERATION", true)

	logger, err := logging.New(os.Stdout, logging.Options{Level: os.Getenv("LOG_LEVEL"), JSON: true})
	if err != nil {
		log.Error("failed to create logger", "err", err)
		os.Exit(1)
	}
	log.SetDefault(logger)

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		log.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg), paramPrefix)
	if err != nil {
		log.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	stateClient, err := repository.New(awsdynamodb.NewFromConfig(cfg), stateTable)
	if err != nil {
		log.Error("failed to create state client", "err", err)
		os.Exit(1)
	}
	openaiKey, err := paramstore.NewTokenParameter(ssmClient, "openai-token")
	if err != nil {
		log.Error("failed to create OpenAI key source", "err", err)
		os.Exit(1)
	}
	openaiClient, err := openai.NewClient(openaiKey, openai.WithModel(model))
	if err != nil {
		log.Error("failed to create OpenAI client", "err", err)
		os.Exit(1)
	}

	// ---- Use cases ----
	agents, err := usecase.NewAgentService(stateClient, nil)
	if err != nil {
		log.Error("failed to create agent service", "err", err)
		os.Exit(1)
	}
	registry := capability.NewRegistry()
	review, err := builtin.NewMachineReview(openaiClient)
	if err != nil {
		log.Error("failed to create machine review", "err", err)
		os.Exit(1)
	}
	quiz, err := builtin.NewPersonalityQuiz(openaiClient)
	if err != nil {
		log.Error("failed to create personality quiz", "err", err)
		os.Exit(1)
	}
	if err := builtin.Register(registry, append(builtin.All(), review, quiz)...); err != nil {
		log.Error("failed to register capabilities", "err", err)
		os.Exit(1)
	}

	var opts []usecase.ConversationOption
	if moderation {
		opts = append(opts, usecase.WithModerator(openaiClient))
	}
	conversations, err := usecase.NewConversations(agents, registry, openaiClient,
		usecase.ManagerConfig{HistoryWindow: historyWindow}, maxUtteranceLen, opts...)
	if err != nil {
		log.Error("failed to create conversation service", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(conversations)
	if err != nil {
		log.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
