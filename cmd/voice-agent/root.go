package main

import (
	"fmt"
	log "log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"voice-agent/internal/config"
	"voice-agent/internal/logging"
)

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	var (
		configPath string
		envFiles   []string
	)

	rootCmd := &cobra.Command{
		Use:           "voice-agent",
		Short:         "Voice-driven conversational agent",
		Long:          "voice-agent runs a persistent conversational agent that listens, decides between a capability and a generated reply, and speaks back.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(envFiles...); err != nil {
				return err
			}
			cfg, err := config.Load(a.v, configPath)
			if err != nil {
				return err
			}
			logger, err := logging.New(cmd.ErrOrStderr(), logging.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON})
			if err != nil {
				return err
			}
			log.SetDefault(logger)
			a.cfg = cfg
			a.log = logger
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "config file (default ./voice-agent.{yaml,toml,json})")
	flags.StringSliceVar(&envFiles, "env-file", []string{".env"}, ".env files to load before reading the environment")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.Bool("log-json", false, "emit JSON logs")
	flags.String("owner", "", "agent owner (defaults to the hostname)")
	flags.String("store", "", "agent store backend: file or dynamodb")
	mustBind(a.v, flags, map[string]string{
		"log.level":     "log-level",
		"log.json":      "log-json",
		"agent.owner":   "owner",
		"store.backend": "store",
	})

	rootCmd.AddCommand(
		newRunCmd(a),
		newSeedCmd(a),
	)
	return rootCmd
}

// mustBind binds each config key to its flag. Binding only fails for a
// missing flag, which is a programming error.
func mustBind(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		f := flags.Lookup(name)
		if f == nil {
			panic(fmt.Sprintf("flag %q is not defined", name))
		}
		if err := v.BindPFlag(key, f); err != nil {
			panic(err)
		}
	}
}
