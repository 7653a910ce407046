package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sourcegraph/conc/panics"

	"voice-agent/internal/capability"
	"voice-agent/internal/domain"
	"voice-agent/internal/usecase"
)

// Capturer yields the next transcribed utterance. An error wrapping io.EOF
// means the input is gone for good.
type Capturer interface {
	Capture(ctx context.Context) (string, error)
}

// Speaker renders text with the given voice and returns the upstream status.
type Speaker interface {
	Speak(ctx context.Context, text, voiceID string) (int, error)
}

var errInputClosed = fmt.Errorf("pipeline: input closed: %w", io.EOF)

// Coordinator drives one agent's conversation: capture, decide, speak.
type Coordinator struct {
	turns      *usecase.TurnService
	summarizer *usecase.Summarizer
	capturer   Capturer
	speaker    Speaker
	cfg        Config
	log        *log.Logger

	interrupted atomic.Bool
	heard       atomic.Bool
	started     time.Time

	maintMu    sync.Mutex
	lastDaily  time.Time
	lastWeekly time.Time

	claimMu sync.Mutex
	claim   *inputClaim
}

// New creates a Coordinator. summarizer may be nil to disable summaries.
func New(turns *usecase.TurnService, summarizer *usecase.Summarizer, capturer Capturer, speaker Speaker, cfg Config) (*Coordinator, error) {
	if turns == nil {
		return nil, errors.New("pipeline: turn service must not be nil")
	}
	if capturer == nil {
		return nil, errors.New("pipeline: capturer must not be nil")
	}
	if speaker == nil {
		return nil, errors.New("pipeline: speaker must not be nil")
	}
	cfg = cfg.withDefaults()
	now := cfg.Now()
	sums := turns.Agent().Memory.Summaries()
	return &Coordinator{
		turns:      turns,
		summarizer: summarizer,
		capturer:   capturer,
		speaker:    speaker,
		cfg:        cfg,
		log:        cfg.Logger.With("agent", turns.Agent().Name),
		started:    now,
		lastDaily:  refreshedAt(sums.LastDay, now),
		lastWeekly: refreshedAt(sums.LastWeek, now),
	}, nil
}

// refreshedAt is when s was last refreshed. A summary that was never written
// counts as refreshed at launch.
func refreshedAt(s domain.Summary, launch time.Time) time.Time {
	if s.UpdatedAt.IsZero() {
		return launch
	}
	return s.UpdatedAt
}

// Run blocks until ctx is cancelled, the input ends or capture fails for
// good. Cancellation and end of input are not errors.
func (c *Coordinator) Run(ctx context.Context, mode Mode) error {
	switch mode {
	case ModeSequential, "":
		return c.RunSequential(ctx)
	case ModeConcurrent:
		return c.RunConcurrent(ctx)
	default:
		return fmt.Errorf("pipeline: unknown mode %q", mode)
	}
}

// Interrupted reports whether the agent is currently speaking.
func (c *Coordinator) Interrupted() bool {
	return c.interrupted.Load()
}

func (c *Coordinator) voice() string {
	return c.turns.Agent().VoiceID
}

func (c *Coordinator) shouldGreet() bool {
	return c.cfg.ColdStart || c.turns.Agent().Memory.Len() == 0
}

// greet speaks the cold-start greeting, or the apology when generation fails.
func (c *Coordinator) greet(ctx context.Context, deliver func(context.Context, string)) {
	text, err := c.turns.Greet(ctx)
	switch {
	case err == nil:
		deliver(ctx, text)
	case usecase.HasCode(err, usecase.ErrorGenerationFailed):
		c.log.Warn("cold start generation failed", "err", err)
		deliver(ctx, c.cfg.ApologyText)
	default:
		c.log.Error("cold start failed", "err", err)
		if text != "" {
			deliver(ctx, text)
		}
	}
}

// capture returns the next utterance, retrying failures with capped
// exponential backoff. After MaxCaptureAttempts consecutive failures it
// returns CAPTURE_FAILED.
func (c *Coordinator) capture(ctx context.Context) (string, error) {
	b := retry.NewExponential(c.cfg.CaptureBackoff)
	b = retry.WithCappedDuration(c.cfg.CaptureBackoffCap, b)
	b = retry.WithMaxRetries(uint64(c.cfg.MaxCaptureAttempts-1), b)

	var (
		text    string
		attempt int
	)
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		cctx, cancel := context.WithTimeout(ctx, c.cfg.CaptureTimeout)
		defer cancel()

		t, err := c.capturer.Capture(cctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return err
			}
			c.log.Warn("capture failed", "attempt", attempt, "err", err)
			return retry.RetryableError(err)
		}
		text = strings.TrimSpace(t)
		return nil
	})
	switch {
	case err == nil:
		return text, nil
	case ctx.Err() != nil:
		return "", ctx.Err()
	case errors.Is(err, io.EOF):
		return "", err
	default:
		return "", usecase.NewError(usecase.ErrorCaptureFailed, "max_attempts", err)
	}
}

// speak delivers text through the speaker. Failures are logged and never
// fatal.
func (c *Coordinator) speak(ctx context.Context, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, c.cfg.SpeakTimeout)
	defer cancel()

	status, err := c.speaker.Speak(sctx, text, c.voice())
	if err != nil {
		c.log.Warn("delivery failed", "code", usecase.ErrorDeliveryFailed, "status", status, "err", err)
		return
	}
	if status < 200 || status >= 300 {
		c.log.Warn("delivery failed", "code", usecase.ErrorDeliveryFailed, "status", status)
	}
}

// record appends the captured utterance as a user turn. ok is false when
// nothing was recorded.
func (c *Coordinator) record(ctx context.Context, text string) (domain.Turn, bool) {
	t, err := c.turns.RecordUtterance(ctx, text)
	switch {
	case err == nil:
		c.heard.Store(true)
		return t, true
	case usecase.HasCode(err, usecase.ErrorInvalidInput):
		c.log.Debug("ignoring blank utterance")
		return domain.Turn{}, false
	default:
		// The turn is in memory; only the save failed.
		c.log.Error("saving user turn failed", "err", err)
		if t.ID == "" {
			return t, false
		}
		c.heard.Store(true)
		return t, true
	}
}

// resolve runs the decision for userTurn and classifies every error.
// deliver is called with the text that should be spoken, if any.
func (c *Coordinator) resolve(ctx context.Context, userTurn domain.Turn, h capability.Handle, deliver func(context.Context, string)) {
	out, err := c.turns.Resolve(ctx, userTurn, h)
	switch {
	case err == nil:
		if out.Kind == usecase.DecisionCapability {
			c.log.Info("capability finished", "capability", out.Capability)
			return
		}
		deliver(ctx, out.Text)
	case ctx.Err() != nil:
		c.log.Debug("turn abandoned on shutdown", "turn", userTurn.ID)
	case usecase.HasCode(err, usecase.ErrorCausalityInversion):
		c.log.Warn("discarding reply to superseded utterance", "turn", userTurn.ID, "err", err)
	case usecase.HasCode(err, usecase.ErrorGenerationFailed):
		c.log.Warn("generation failed", "turn", userTurn.ID, "err", err)
		deliver(ctx, c.cfg.ApologyText)
	case usecase.HasCode(err, usecase.ErrorCapabilityFailed):
		c.log.Error("capability failed", "capability", out.Capability, "err", err)
		deliver(ctx, c.cfg.ApologyText)
	default:
		c.log.Error("resolving turn failed", "turn", userTurn.ID, "err", err)
		if out.Kind == usecase.DecisionResponse && out.Text != "" {
			deliver(ctx, out.Text)
		}
	}
}

// maintain refreshes the daily and weekly summaries once their interval has
// elapsed since the last refresh.
func (c *Coordinator) maintain(ctx context.Context) {
	if c.summarizer == nil {
		return
	}
	c.maintMu.Lock()
	defer c.maintMu.Unlock()

	now := c.cfg.Now()
	changed := false
	refresh := func(kind domain.SummaryKind, every time.Duration, last *time.Time) {
		if now.Sub(*last) < every {
			return
		}
		ok, err := c.summarizer.Summarize(ctx, kind, every)
		if err != nil {
			c.log.Warn("summary failed", "kind", kind, "err", err)
			return
		}
		*last = now
		changed = changed || ok
	}
	refresh(domain.SummaryDay, c.cfg.DailySummaryEvery, &c.lastDaily)
	refresh(domain.SummaryWeek, c.cfg.WeeklySummaryEvery, &c.lastWeekly)

	if changed {
		if err := c.turns.Save(ctx); err != nil {
			c.log.Error("saving summaries failed", "err", err)
		}
	}
}

// finalSave refreshes the interaction summary and persists the agent on a
// context that outlives ctx.
func (c *Coordinator) finalSave(ctx context.Context) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.ShutdownTimeout)
	defer cancel()
	c.summarizeInteraction(sctx)
	if err := c.turns.Save(sctx); err != nil {
		c.log.Error("final save failed", "err", err)
		return
	}
	c.log.Info("agent saved", "turns", c.turns.Agent().Memory.Len())
}

// summarizeInteraction condenses the turns of this run into the last
// interaction summary. Runs that heard nothing keep the previous one.
func (c *Coordinator) summarizeInteraction(ctx context.Context) {
	if c.summarizer == nil || !c.heard.Load() {
		return
	}
	c.maintMu.Lock()
	defer c.maintMu.Unlock()

	window := max(c.cfg.Now().Sub(c.started), 0)
	if _, err := c.summarizer.Summarize(ctx, domain.SummaryInteraction, window); err != nil {
		c.log.Warn("summary failed", "kind", domain.SummaryInteraction, "err", err)
	}
}

// guard turns a worker panic into an error.
func (c *Coordinator) guard(name string, fn func() error) func() error {
	return func() (err error) {
		var pc panics.Catcher
		pc.Try(func() { err = fn() })
		if r := pc.Recovered(); r != nil {
			c.log.Error("worker panicked", "worker", name, "panic", r.Value)
			return fmt.Errorf("pipeline: %s worker: %w", name, r.AsError())
		}
		return err
	}
}

// endOfRun maps the terminal error of a run to its result.
func (c *Coordinator) endOfRun(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		c.log.Info("pipeline stopped")
		return nil
	case errors.Is(err, io.EOF):
		c.log.Info("input closed")
		return nil
	default:
		return err
	}
}
