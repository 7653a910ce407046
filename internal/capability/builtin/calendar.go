package builtin

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"voice-agent/internal/capability"
)

const calendarGreeting = "Opened calendar! To leave say 'exit', or say 'get history' to hear what you asked so far. What would you like to know?"

// Calendar answers date questions in a small listen/answer loop until the
// user says "exit". It remembers every question and answer it handled.
type Calendar struct {
	Now func() time.Time

	mu      sync.Mutex
	history []string
}

func NewCalendar() *Calendar {
	return &Calendar{Now: time.Now}
}

func (c *Calendar) Name() string { return "calendar" }

func (c *Calendar) TriggerPhrases() []string { return []string{"open calendar"} }

func (c *Calendar) Invoke(ctx context.Context, h capability.Handle) (string, error) {
	if err := h.Speak(ctx, calendarGreeting); err != nil {
		return "", fmt.Errorf("builtin: calendar: speak: %w", err)
	}

	for {
		inquiry, err := h.Listen(ctx)
		if err != nil {
			return "", fmt.Errorf("builtin: calendar: listen: %w", err)
		}
		q := strings.ToLower(inquiry)
		if strings.Contains(q, "exit") {
			return "Exiting calendar", nil
		}

		answer := c.answer(q)
		c.record(inquiry, answer)
		if err := h.Speak(ctx, answer+", anything else?"); err != nil {
			return "", fmt.Errorf("builtin: calendar: speak: %w", err)
		}
	}
}

func (c *Calendar) answer(q string) string {
	now := c.Now()
	switch {
	case strings.Contains(q, "current date"):
		return "Current date is " + now.Format("January 02, 2006")
	case strings.Contains(q, "current day"):
		return "Current day is " + now.Format("Monday")
	case strings.Contains(q, "current month"):
		return "Current month is " + now.Format("January")
	case strings.Contains(q, "current year"):
		return "Current year is " + now.Format("2006")
	case strings.Contains(q, "get history"):
		h := c.History()
		if len(h) == 0 {
			return "Getting history of capability: no conversation history available."
		}
		return "Getting history of capability: " + strings.Join(h, "\n")
	default:
		return "Sorry, I couldn't understand"
	}
}

func (c *Calendar) record(question, answer string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, "Question: "+question, "Answer: "+answer)
}

// History returns a copy of the question/answer log.
func (c *Calendar) History() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.history...)
}
