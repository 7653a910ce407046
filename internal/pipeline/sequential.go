package pipeline

import (
	"context"
)

// RunSequential handles one utterance at a time: capture, record, decide,
// speak. Capabilities talk to the user directly through the capturer and
// speaker.
func (c *Coordinator) RunSequential(ctx context.Context) error {
	defer c.finalSave(ctx)
	c.log.Info("pipeline started", "mode", ModeSequential)

	if c.shouldGreet() {
		c.greet(ctx, c.speak)
	}

	h := &directHandle{c: c}
	for {
		if err := ctx.Err(); err != nil {
			return c.endOfRun(ctx, err)
		}
		text, err := c.capture(ctx)
		if err != nil {
			return c.endOfRun(ctx, err)
		}
		userTurn, ok := c.record(ctx, text)
		if !ok {
			continue
		}
		c.resolve(ctx, userTurn, h, c.speak)
		c.maintain(ctx)
	}
}

// directHandle lets a capability speak and listen synchronously.
type directHandle struct {
	c *Coordinator
}

func (h *directHandle) AgentName() string { return h.c.turns.Agent().Name }

func (h *directHandle) Speak(ctx context.Context, text string) error {
	h.c.speak(ctx, text)
	return nil
}

// Listen captures the next utterance and records it as a user turn.
func (h *directHandle) Listen(ctx context.Context) (string, error) {
	text, err := h.c.capture(ctx)
	if err != nil {
		return "", err
	}
	h.c.record(ctx, text)
	return text, nil
}
