package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"voice-agent/internal/persona"
)

func newSeedCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed [persona-file]",
		Short: "Create agents from a persona file",
		Long:  "seed creates one agent per persona for the configured owner. Without a file the built-in personas are used. Existing agents are left untouched.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if len(args) == 1 {
				a.cfg.Agent.SeedFile = args[0]
			}
			ps, err := a.personas()
			if err != nil {
				return err
			}
			agents, err := a.agentService(ctx)
			if err != nil {
				return err
			}
			res, err := persona.Seed(ctx, agents, a.cfg.Agent.Owner, ps, a.log)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "created: %s\n", listOrNone(res.Created))
			fmt.Fprintf(out, "skipped: %s\n", listOrNone(res.Skipped))
			return nil
		},
	}
	return cmd
}

func listOrNone(names []string) string {
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}
