package console

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCapture_SkipsBlankLines(t *testing.T) {
	var out bytes.Buffer
	c := New(strings.NewReader("\n   \nhello there\nbye\n"), &out, "Ada")

	got, err := c.Capture(context.Background())
	require.NoError(t, err)
	require.Equal(t, "hello there", got)

	got, err = c.Capture(context.Background())
	require.NoError(t, err)
	require.Equal(t, "bye", got)

	_, err = c.Capture(context.Background())
	require.ErrorIs(t, err, ErrEOF)
	require.Equal(t, "> > > ", out.String())
}

func TestCapture_ContextCancelled(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	c := New(r, io.Discard, "Ada")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Capture(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSpeak(t *testing.T) {
	var out bytes.Buffer
	c := New(strings.NewReader(""), &out, "Ada")

	status, err := c.Speak(context.Background(), "Good morning!", "ignored")
	require.NoError(t, err)
	require.Equal(t, 200, status)
	require.Equal(t, "Ada: Good morning!\n", out.String())
}
