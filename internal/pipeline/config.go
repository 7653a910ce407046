package pipeline

import (
	log "log/slog"
	"time"
)

type Mode string

const (
	ModeSequential Mode = "sequential"
	ModeConcurrent Mode = "concurrent"
)

const defaultApology = "Sorry, I lost my train of thought. Could you say that again?"

// Config tunes a Coordinator. Zero values select the defaults.
type Config struct {
	ColdStart bool

	CaptureTimeout time.Duration
	SpeakTimeout   time.Duration

	MaxCaptureAttempts int
	CaptureBackoff     time.Duration
	CaptureBackoffCap  time.Duration

	QueueSize       int
	DecisionWorkers int
	InterruptPoll   time.Duration

	DailySummaryEvery  time.Duration
	WeeklySummaryEvery time.Duration
	MaintenanceTick    time.Duration

	ShutdownTimeout time.Duration
	ApologyText     string

	Logger *log.Logger
	Now    func() time.Time
}

func (c Config) withDefaults() Config {
	if c.CaptureTimeout <= 0 {
		c.CaptureTimeout = 2 * time.Minute
	}
	if c.SpeakTimeout <= 0 {
		c.SpeakTimeout = 30 * time.Second
	}
	if c.MaxCaptureAttempts <= 0 {
		c.MaxCaptureAttempts = 5
	}
	if c.CaptureBackoff <= 0 {
		c.CaptureBackoff = 250 * time.Millisecond
	}
	if c.CaptureBackoffCap <= 0 {
		c.CaptureBackoffCap = 5 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 8
	}
	if c.DecisionWorkers <= 0 {
		c.DecisionWorkers = 1
	}
	if c.InterruptPoll <= 0 {
		c.InterruptPoll = 100 * time.Millisecond
	}
	if c.DailySummaryEvery <= 0 {
		c.DailySummaryEvery = 24 * time.Hour
	}
	if c.WeeklySummaryEvery <= 0 {
		c.WeeklySummaryEvery = 7 * 24 * time.Hour
	}
	if c.MaintenanceTick <= 0 {
		c.MaintenanceTick = time.Minute
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	if c.ApologyText == "" {
		c.ApologyText = defaultApology
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}
