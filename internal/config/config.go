package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. VOICE_AGENT_PIPELINE_MODE.
const EnvPrefix = "VOICE_AGENT"

// Config is the daemon configuration, read by viper from defaults, an
// optional config file and the environment.
type Config struct {
	Agent    AgentConfig    `mapstructure:"agent"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	LLM      LLMConfig      `mapstructure:"llm"`
	STT      STTConfig      `mapstructure:"stt"`
	TTS      TTSConfig      `mapstructure:"tts"`
	Store    StoreConfig    `mapstructure:"store"`
	Secrets  SecretsConfig  `mapstructure:"secrets"`
	Proxy    ProxyConfig    `mapstructure:"proxy"`
	Matching MatchingConfig `mapstructure:"matching"`
	Log      LogConfig      `mapstructure:"log"`
}

type AgentConfig struct {
	Name     string `mapstructure:"name"`
	Owner    string `mapstructure:"owner"`
	SeedFile string `mapstructure:"seed_file"`
}

type PipelineConfig struct {
	Mode               string        `mapstructure:"mode"` // "sequential" or "concurrent"
	ColdStart          bool          `mapstructure:"cold_start"`
	HistoryWindow      int           `mapstructure:"history_window"`
	CaptureTimeout     time.Duration `mapstructure:"capture_timeout"`
	GenerateTimeout    time.Duration `mapstructure:"generate_timeout"`
	SpeakTimeout       time.Duration `mapstructure:"speak_timeout"`
	MaxCaptureAttempts int           `mapstructure:"max_capture_attempts"`
	CaptureBackoff     time.Duration `mapstructure:"capture_backoff"`
	CaptureBackoffCap  time.Duration `mapstructure:"capture_backoff_cap"`
	QueueSize          int           `mapstructure:"queue_size"`
	DecisionWorkers    int           `mapstructure:"decision_workers"`
	InterruptPoll      time.Duration `mapstructure:"interrupt_poll"`
	DailySummaryEvery  time.Duration `mapstructure:"daily_summary_every"`
	WeeklySummaryEvery time.Duration `mapstructure:"weekly_summary_every"`
	MaintenanceTick    time.Duration `mapstructure:"maintenance_tick"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
	ApologyText        string        `mapstructure:"apology_text"`
}

type LLMConfig struct {
	Provider string `mapstructure:"provider"` // "openai" or "gemini"
	Model    string `mapstructure:"model"`
	BaseURL  string `mapstructure:"base_url"`
}

type STTConfig struct {
	Source    string        `mapstructure:"source"` // "console" or "bus"
	BusURL    string        `mapstructure:"bus_url"`
	Model     string        `mapstructure:"model"`
	Reconnect time.Duration `mapstructure:"reconnect"`
}

type TTSConfig struct {
	Provider string `mapstructure:"provider"` // "console" or "elevenlabs"
	BaseURL  string `mapstructure:"base_url"`
	ModelID  string `mapstructure:"model_id"`
}

type StoreConfig struct {
	Backend string `mapstructure:"backend"` // "file" or "dynamodb"
	Dir     string `mapstructure:"dir"`
	Table   string `mapstructure:"table"`
}

type SecretsConfig struct {
	Source      string `mapstructure:"source"` // "env" or "ssm"
	ParamPrefix string `mapstructure:"param_prefix"`
}

type ProxyConfig struct {
	Socks string `mapstructure:"socks"`
}

type MatchingConfig struct {
	Strategy string `mapstructure:"strategy"` // "substring" or "fuzzy"
	MinScore int    `mapstructure:"min_score"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

var hostname = os.Hostname

// SetDefaults registers every key with its default on v.
func SetDefaults(v *viper.Viper) {
	owner, err := hostname()
	if err != nil || owner == "" {
		owner = "localhost"
	}

	v.SetDefault("agent.name", "")
	v.SetDefault("agent.owner", owner)
	v.SetDefault("agent.seed_file", "")

	v.SetDefault("pipeline.mode", "sequential")
	v.SetDefault("pipeline.cold_start", false)
	v.SetDefault("pipeline.history_window", 10)
	v.SetDefault("pipeline.capture_timeout", "2m")
	v.SetDefault("pipeline.generate_timeout", "30s")
	v.SetDefault("pipeline.speak_timeout", "30s")
	v.SetDefault("pipeline.max_capture_attempts", 5)
	v.SetDefault("pipeline.capture_backoff", "250ms")
	v.SetDefault("pipeline.capture_backoff_cap", "5s")
	v.SetDefault("pipeline.queue_size", 8)
	v.SetDefault("pipeline.decision_workers", 1)
	v.SetDefault("pipeline.interrupt_poll", "100ms")
	v.SetDefault("pipeline.daily_summary_every", "24h")
	v.SetDefault("pipeline.weekly_summary_every", "168h")
	v.SetDefault("pipeline.maintenance_tick", "1m")
	v.SetDefault("pipeline.shutdown_timeout", "5s")
	v.SetDefault("pipeline.apology_text", "Sorry, I lost my train of thought. Could you say that again?")

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.base_url", "")

	v.SetDefault("stt.source", "console")
	v.SetDefault("stt.bus_url", "")
	v.SetDefault("stt.model", "whisper-1")
	v.SetDefault("stt.reconnect", "2s")

	v.SetDefault("tts.provider", "console")
	v.SetDefault("tts.base_url", "")
	v.SetDefault("tts.model_id", "")

	v.SetDefault("store.backend", "file")
	v.SetDefault("store.dir", "agents")
	v.SetDefault("store.table", "")

	v.SetDefault("secrets.source", "env")
	v.SetDefault("secrets.param_prefix", "/voice-agent")

	v.SetDefault("proxy.socks", "")

	v.SetDefault("matching.strategy", "substring")
	v.SetDefault("matching.min_score", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
}

// Load reads configuration into a Config. configPath may be empty, in which
// case voice-agent.{yaml,toml,...} is looked up in the working directory and
// a missing file is not an error.
func Load(v *viper.Viper, configPath string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("voice-agent")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects unknown enum values and non-positive limits.
func (c *Config) Validate() error {
	var errs []error
	oneOf := func(key, val string, allowed ...string) {
		for _, a := range allowed {
			if val == a {
				return
			}
		}
		errs = append(errs, fmt.Errorf("%s must be one of %s, got %q", key, strings.Join(allowed, "|"), val))
	}
	positive := func(key string, n int64) {
		if n <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", key))
		}
	}

	oneOf("pipeline.mode", c.Pipeline.Mode, "sequential", "concurrent")
	oneOf("llm.provider", c.LLM.Provider, "openai", "gemini")
	oneOf("stt.source", c.STT.Source, "console", "bus")
	oneOf("tts.provider", c.TTS.Provider, "console", "elevenlabs")
	oneOf("store.backend", c.Store.Backend, "file", "dynamodb")
	oneOf("secrets.source", c.Secrets.Source, "env", "ssm")
	oneOf("matching.strategy", c.Matching.Strategy, "substring", "fuzzy")

	positive("pipeline.history_window", int64(c.Pipeline.HistoryWindow))
	positive("pipeline.max_capture_attempts", int64(c.Pipeline.MaxCaptureAttempts))
	positive("pipeline.queue_size", int64(c.Pipeline.QueueSize))
	positive("pipeline.decision_workers", int64(c.Pipeline.DecisionWorkers))
	positive("pipeline.capture_timeout", int64(c.Pipeline.CaptureTimeout))
	positive("pipeline.generate_timeout", int64(c.Pipeline.GenerateTimeout))
	positive("pipeline.speak_timeout", int64(c.Pipeline.SpeakTimeout))
	positive("pipeline.shutdown_timeout", int64(c.Pipeline.ShutdownTimeout))

	if c.STT.Source == "bus" && c.STT.BusURL == "" {
		errs = append(errs, errors.New("stt.bus_url is required when stt.source is bus"))
	}
	if c.Store.Backend == "dynamodb" && c.Store.Table == "" {
		errs = append(errs, errors.New("store.table is required when store.backend is dynamodb"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// LoadDotEnv loads environment variables from the given .env files. Missing
// files are skipped; variables already set in the environment win.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %s: %w", p, err)
		}
	}
	return nil
}
