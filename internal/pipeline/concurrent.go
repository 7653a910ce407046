package pipeline

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"voice-agent/internal/domain"
)

// RunConcurrent splits the conversation over workers connected by bounded
// queues: capture feeds captured utterances, decision workers turn them into
// replies, the response worker speaks them and the maintenance worker keeps
// the summaries fresh. While a reply is spoken, capture pauses.
//
// When the input ends the queues drain before RunConcurrent returns.
func (c *Coordinator) RunConcurrent(ctx context.Context) error {
	defer c.finalSave(ctx)
	c.log.Info("pipeline started", "mode", ModeConcurrent, "decision_workers", c.cfg.DecisionWorkers)

	if c.shouldGreet() {
		c.greet(ctx, c.speak)
	}

	captured := make(chan domain.Turn, c.cfg.QueueSize)
	pending := make(chan string, c.cfg.QueueSize)
	drained := make(chan struct{})
	inputDone := make(chan struct{})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(c.guard("capture", func() error {
		defer close(inputDone)
		return c.captureWorker(gctx, captured)
	}))

	var remaining atomic.Int32
	remaining.Store(int32(c.cfg.DecisionWorkers))
	for range c.cfg.DecisionWorkers {
		g.Go(c.guard("decision", func() error {
			defer func() {
				if remaining.Add(-1) == 0 {
					close(pending)
				}
			}()
			return c.decisionWorker(gctx, captured, pending, inputDone)
		}))
	}

	g.Go(c.guard("response", func() error {
		defer close(drained)
		return c.responseWorker(gctx, pending)
	}))
	g.Go(c.guard("maintenance", func() error {
		return c.maintenanceWorker(gctx, drained)
	}))

	return c.endOfRun(ctx, g.Wait())
}

func (c *Coordinator) captureWorker(ctx context.Context, captured chan<- domain.Turn) error {
	defer close(captured)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if c.interrupted.Load() {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.cfg.InterruptPoll):
			}
			continue
		}

		text, err := c.capture(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				c.log.Info("input closed, draining queues")
				return nil
			}
			return err
		}
		userTurn, ok := c.record(ctx, text)
		if !ok {
			continue
		}
		if !c.route(ctx, captured, userTurn) {
			return nil
		}
	}
}

// route hands userTurn to the capability holding the input, if any, and to
// the decision workers otherwise. It reports false when ctx ends first.
func (c *Coordinator) route(ctx context.Context, captured chan<- domain.Turn, userTurn domain.Turn) bool {
	if cl := c.heldInput(); cl != nil {
		select {
		case cl.turns <- userTurn:
			return true
		case <-cl.done:
		case <-ctx.Done():
			return false
		}
	}
	select {
	case captured <- userTurn:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Coordinator) decisionWorker(ctx context.Context, captured <-chan domain.Turn, pending chan<- string, inputDone <-chan struct{}) error {
	h := &queueHandle{c: c, pending: pending, inputDone: inputDone}
	deliver := func(ctx context.Context, text string) {
		select {
		case pending <- text:
		case <-ctx.Done():
		}
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case userTurn, ok := <-captured:
			if !ok {
				return nil
			}
			c.resolve(ctx, userTurn, h, deliver)
			h.release()
		}
	}
}

func (c *Coordinator) responseWorker(ctx context.Context, pending <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case text, ok := <-pending:
			if !ok {
				return nil
			}
			c.interrupted.Store(true)
			c.speak(ctx, text)
			c.interrupted.Store(false)
		}
	}
}

func (c *Coordinator) maintenanceWorker(ctx context.Context, drained <-chan struct{}) error {
	if c.summarizer == nil {
		return nil
	}
	ticker := time.NewTicker(c.cfg.MaintenanceTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-drained:
			return nil
		case <-ticker.C:
			c.maintain(ctx)
		}
	}
}

// inputClaim routes captured turns to one running capability. done is
// closed when the capability finishes.
type inputClaim struct {
	turns chan domain.Turn
	done  chan struct{}
}

func (c *Coordinator) heldInput() *inputClaim {
	c.claimMu.Lock()
	defer c.claimMu.Unlock()
	return c.claim
}

// queueHandle lets a capability running inside a decision worker speak
// through the response queue and listen to what is captured next. The first
// Speak or Listen claims the input so that other decision workers do not see
// the turns meant for the capability. A handle belongs to one worker.
type queueHandle struct {
	c         *Coordinator
	pending   chan<- string
	inputDone <-chan struct{}

	claim *inputClaim
}

func (h *queueHandle) AgentName() string { return h.c.turns.Agent().Name }

// tryClaim takes the input if nobody holds it.
func (h *queueHandle) tryClaim() bool {
	if h.claim != nil {
		return true
	}
	h.c.claimMu.Lock()
	defer h.c.claimMu.Unlock()
	if h.c.claim != nil {
		return false
	}
	h.claim = &inputClaim{turns: make(chan domain.Turn), done: make(chan struct{})}
	h.c.claim = h.claim
	return true
}

// acquire waits until the input is free and claims it.
func (h *queueHandle) acquire(ctx context.Context) error {
	for !h.tryClaim() {
		held := h.c.heldInput()
		if held == nil {
			continue
		}
		select {
		case <-held.done:
		case <-h.inputDone:
			return errInputClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (h *queueHandle) release() {
	if h.claim == nil {
		return
	}
	h.c.claimMu.Lock()
	if h.c.claim == h.claim {
		h.c.claim = nil
	}
	h.c.claimMu.Unlock()
	close(h.claim.done)
	h.claim = nil
}

func (h *queueHandle) Speak(ctx context.Context, text string) error {
	h.tryClaim()
	select {
	case h.pending <- text:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *queueHandle) Listen(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, h.c.cfg.CaptureTimeout)
	defer cancel()
	if err := h.acquire(ctx); err != nil {
		return "", err
	}
	select {
	case t := <-h.claim.turns:
		return t.Content, nil
	case <-h.inputDone:
		return "", errInputClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
