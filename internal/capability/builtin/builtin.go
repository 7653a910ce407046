// Package builtin holds the capabilities shipped with the agent.
package builtin

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"voice-agent/internal/capability"
)

// All returns the built-in capabilities in registration order.
func All() []capability.Capability {
	return []capability.Capability{
		NewPause(),
		NewSystemStats(),
		NewCalendar(),
		Pronto(),
	}
}

// Register adds every capability in cs to r.
func Register(r *capability.Registry, cs ...capability.Capability) error {
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

const pauseNotice = "Pause for 10 seconds capability called!"

// Pause speaks a notice and then stays silent for a while.
type Pause struct {
	Wait time.Duration
}

func NewPause() *Pause {
	return &Pause{Wait: 10 * time.Second}
}

func (p *Pause) Name() string { return "timeout" }

func (p *Pause) TriggerPhrases() []string {
	return []string{"pause for 10 seconds", "pause for ten seconds"}
}

func (p *Pause) Invoke(ctx context.Context, h capability.Handle) (string, error) {
	if err := h.Speak(ctx, pauseNotice); err != nil {
		return "", fmt.Errorf("builtin: pause: speak: %w", err)
	}

	timer := time.NewTimer(p.Wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
	}
	return pauseNotice, nil
}

// SystemStats reports basic facts about the host.
type SystemStats struct {
	Now      func() time.Time
	Hostname func() (string, error)
}

func NewSystemStats() *SystemStats {
	return &SystemStats{Now: time.Now, Hostname: os.Hostname}
}

func (s *SystemStats) Name() string { return "system_stats" }

func (s *SystemStats) TriggerPhrases() []string {
	return []string{"get system stats", "system stats"}
}

func (s *SystemStats) Invoke(ctx context.Context, h capability.Handle) (string, error) {
	msg := s.Describe()
	if err := h.Speak(ctx, msg); err != nil {
		return "", fmt.Errorf("builtin: system stats: speak: %w", err)
	}
	return msg, nil
}

// Describe renders the stats sentence without speaking it.
func (s *SystemStats) Describe() string {
	host, err := s.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("Host is %s and OS is %s/%s and number of CPU cores is %d, current date: %s",
		host, runtime.GOOS, runtime.GOARCH, runtime.NumCPU(), s.Now().Format("January 02, 2006 15:04:05"))
}

// Pronto answers anything that sounds like a call.
func Pronto() capability.Capability {
	return capability.New("pronto", []string{"call"}, func(ctx context.Context, h capability.Handle) (string, error) {
		const reply = "Did you just butt dial me?"
		if err := h.Speak(ctx, reply); err != nil {
			return "", fmt.Errorf("builtin: pronto: speak: %w", err)
		}
		return reply, nil
	})
}
