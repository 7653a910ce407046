// Package console speaks and listens through a terminal, one line per
// utterance. It stands in for microphone and speaker when debugging.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// ErrEOF is returned by Capture once the input is exhausted. It wraps io.EOF.
var ErrEOF = fmt.Errorf("console: end of input: %w", io.EOF)

type line struct {
	text string
	err  error
}

// Console reads utterances from in and writes replies to out.
type Console struct {
	out    io.Writer
	prompt string
	agent  string

	lines chan line
	start sync.Once
	in    *bufio.Scanner

	mu sync.Mutex
}

func New(in io.Reader, out io.Writer, agent string) *Console {
	return &Console{
		out:    out,
		prompt: "> ",
		agent:  agent,
		lines:  make(chan line),
		in:     bufio.NewScanner(in),
	}
}

func (c *Console) scan() {
	defer close(c.lines)
	for c.in.Scan() {
		c.lines <- line{text: c.in.Text()}
	}
	if err := c.in.Err(); err != nil {
		c.lines <- line{err: fmt.Errorf("console: read input: %w", err)}
	}
}

// Capture returns the next non-blank input line.
func (c *Console) Capture(ctx context.Context) (string, error) {
	c.start.Do(func() { go c.scan() })
	c.write(c.prompt)
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case l, ok := <-c.lines:
			if !ok {
				return "", ErrEOF
			}
			if l.err != nil {
				return "", l.err
			}
			if text := strings.TrimSpace(l.text); text != "" {
				return text, nil
			}
		}
	}
}

// Speak prints text prefixed with the agent name.
func (c *Console) Speak(_ context.Context, text, _ string) (int, error) {
	if err := c.write(fmt.Sprintf("%s: %s\n", c.agent, text)); err != nil {
		return 0, err
	}
	return http.StatusOK, nil
}

func (c *Console) write(s string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := io.WriteString(c.out, s); err != nil {
		return fmt.Errorf("console: write: %w", err)
	}
	return nil
}
