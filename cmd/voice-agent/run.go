package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"voice-agent/internal/bus"
	"voice-agent/internal/console"
	"voice-agent/internal/domain"
	"voice-agent/internal/integrations/elevenlabs"
	"voice-agent/internal/pipeline"
	"voice-agent/internal/usecase"
)

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the conversation loop for one agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.run(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.String("agent", "", "agent name (defaults to the first persona)")
	flags.String("mode", "", "pipeline mode: sequential or concurrent")
	flags.Bool("cold-start", false, "greet before the first utterance")
	flags.Bool("speech-off", false, "read utterances from stdin and print replies")
	flags.String("seed-file", "", "persona YAML used when the agent does not exist yet")
	mustBind(a.v, flags, map[string]string{
		"agent.name":          "agent",
		"pipeline.mode":       "mode",
		"pipeline.cold_start": "cold-start",
		"agent.seed_file":     "seed-file",
	})
	cmd.PreRunE = func(cmd *cobra.Command, _ []string) error {
		if off, _ := cmd.Flags().GetBool("speech-off"); off {
			a.cfg.STT.Source = "console"
			a.cfg.TTS.Provider = "console"
		}
		return nil
	}
	return cmd
}

func (a *app) run(ctx context.Context, in io.Reader, out io.Writer) error {
	agents, err := a.agentService(ctx)
	if err != nil {
		return err
	}
	name, err := a.ensureAgent(ctx, agents)
	if err != nil {
		return err
	}
	agent, err := agents.Find(ctx, a.cfg.Agent.Owner, name)
	if err != nil {
		return err
	}

	gen, err := a.generator(ctx)
	if err != nil {
		return err
	}
	reg, err := a.registry(gen)
	if err != nil {
		return err
	}
	enabled, err := reg.Subset(agent.Capabilities)
	if err != nil {
		return err
	}

	manager, err := usecase.NewContextManager(agent, enabled, gen, usecase.ManagerConfig{
		HistoryWindow:   a.cfg.Pipeline.HistoryWindow,
		GenerateTimeout: a.cfg.Pipeline.GenerateTimeout,
		Now:             time.Now,
	})
	if err != nil {
		return err
	}
	turns, err := usecase.NewTurnService(agent, manager, agents, time.Now)
	if err != nil {
		return err
	}
	summarizer, err := usecase.NewSummarizer(agent, gen, a.cfg.Pipeline.GenerateTimeout, time.Now)
	if err != nil {
		return err
	}

	capturer, speaker, closeIO, err := a.voice(ctx, agent, in, out)
	if err != nil {
		return err
	}
	defer closeIO()

	p := a.cfg.Pipeline
	coord, err := pipeline.New(turns, summarizer, capturer, speaker, pipeline.Config{
		ColdStart:          p.ColdStart,
		CaptureTimeout:     p.CaptureTimeout,
		SpeakTimeout:       p.SpeakTimeout,
		MaxCaptureAttempts: p.MaxCaptureAttempts,
		CaptureBackoff:     p.CaptureBackoff,
		CaptureBackoffCap:  p.CaptureBackoffCap,
		QueueSize:          p.QueueSize,
		DecisionWorkers:    p.DecisionWorkers,
		InterruptPoll:      p.InterruptPoll,
		DailySummaryEvery:  p.DailySummaryEvery,
		WeeklySummaryEvery: p.WeeklySummaryEvery,
		MaintenanceTick:    p.MaintenanceTick,
		ShutdownTimeout:    p.ShutdownTimeout,
		ApologyText:        p.ApologyText,
		Logger:             a.log,
	})
	if err != nil {
		return err
	}

	a.log.Info("agent ready",
		"agent", agent.Name,
		"owner", agent.Owner,
		"mode", p.Mode,
		"capabilities", enabled.Names(),
		"stt", a.cfg.STT.Source,
		"tts", a.cfg.TTS.Provider)
	return coord.Run(ctx, pipeline.Mode(p.Mode))
}

// voice wires the capture source and the speaker. The returned func releases
// whatever connection they share.
func (a *app) voice(ctx context.Context, agent *domain.Agent, in io.Reader, out io.Writer) (pipeline.Capturer, pipeline.Speaker, func(), error) {
	var (
		capturer pipeline.Capturer
		text     pipeline.Speaker
		sink     elevenlabs.Sink
		closeIO  = func() {}
	)

	switch a.cfg.STT.Source {
	case "bus":
		transcriber, err := a.openaiClient(ctx)
		if err != nil {
			return nil, nil, nil, err
		}
		b, err := bus.Dial(ctx, bus.Config{
			URL:       a.cfg.STT.BusURL,
			Name:      agent.Name,
			Reconnect: a.cfg.STT.Reconnect,
			Logger:    a.log,
		}, transcriber)
		if err != nil {
			return nil, nil, nil, err
		}
		capturer, text, sink = b, b, b
		closeIO = func() {
			if err := b.Close(); err != nil && !bus.IsClosed(err) {
				a.log.Warn("close bus", "err", err)
			}
		}
	default:
		c := console.New(in, out, agent.Name)
		capturer, text = c, c
	}

	if a.cfg.TTS.Provider != "elevenlabs" {
		return capturer, text, closeIO, nil
	}

	keys, err := a.keys(ctx, vendorElevenLabs)
	if err != nil {
		closeIO()
		return nil, nil, nil, err
	}
	httpClient, err := a.vendorHTTP()
	if err != nil {
		closeIO()
		return nil, nil, nil, err
	}
	tts, err := elevenlabs.NewClient(keys, sink,
		elevenlabs.WithBaseURL(a.cfg.TTS.BaseURL),
		elevenlabs.WithModelID(a.cfg.TTS.ModelID),
		elevenlabs.WithHTTPClient(httpClient),
	)
	if err != nil {
		closeIO()
		return nil, nil, nil, fmt.Errorf("elevenlabs: %w", err)
	}
	return capturer, teeSpeaker{text: text, voice: tts}, closeIO, nil
}

// teeSpeaker shows the reply as text and then voices it. The voice status is
// the one reported.
type teeSpeaker struct {
	text  pipeline.Speaker
	voice pipeline.Speaker
}

func (t teeSpeaker) Speak(ctx context.Context, text, voiceID string) (int, error) {
	if _, err := t.text.Speak(ctx, text, voiceID); err != nil {
		return 0, err
	}
	return t.voice.Speak(ctx, text, voiceID)
}
