package bus

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// hub is a single-client websocket server standing in for the message hub.
type hub struct {
	srv   *httptest.Server
	conns chan *ws.Conn
}

func newHub(t *testing.T) *hub {
	t.Helper()
	h := &hub{conns: make(chan *ws.Conn, 4)}
	up := ws.Upgrader{}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.conns <- c
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *hub) url() string { return "ws" + strings.TrimPrefix(h.srv.URL, "http") }

func (h *hub) accept(t *testing.T) *ws.Conn {
	t.Helper()
	select {
	case c := <-h.conns:
		t.Cleanup(func() { _ = c.Close() })
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no connection")
		return nil
	}
}

type fakeTranscriber struct {
	name string
	data []byte
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(_ context.Context, r io.Reader, name string) (string, error) {
	f.name = name
	f.data, _ = io.ReadAll(r)
	return f.text, f.err
}

func dial(t *testing.T, h *hub, tr Transcriber, reconnect time.Duration) (*Bus, *ws.Conn) {
	t.Helper()
	b, err := Dial(context.Background(), Config{URL: h.url(), Name: "ada", Reconnect: reconnect}, tr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b, h.accept(t)
}

func captureWithin(t *testing.T, b *Bus) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return b.Capture(ctx)
}

func TestDial_Validation(t *testing.T) {
	_, err := Dial(context.Background(), Config{}, nil)
	require.Error(t, err)

	_, err = Dial(context.Background(), Config{URL: "ws://127.0.0.1:1/"}, nil)
	require.Error(t, err)
}

func TestCapture_TextAndReply(t *testing.T) {
	h := newHub(t)
	b, peer := dial(t, h, nil, 0)

	require.NoError(t, peer.WriteJSON(Message{From: "mic", To: "someone-else", Kind: KindUtterance, Content: "not for us"}))
	require.NoError(t, peer.WriteJSON(Message{From: "mic", Kind: KindReply, Content: "ignored kind"}))
	require.NoError(t, peer.WriteMessage(ws.TextMessage, []byte("{not json")))
	require.NoError(t, peer.WriteJSON(Message{From: "mic", To: "ada", Kind: KindUtterance, Content: "what day is it"}))

	got, err := captureWithin(t, b)
	require.NoError(t, err)
	require.Equal(t, "what day is it", got)

	status, err := b.Speak(context.Background(), "It is Thursday.", "voice")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)

	var reply Message
	require.NoError(t, peer.ReadJSON(&reply))
	require.Equal(t, Message{From: "ada", To: "mic", Kind: KindReply, Content: "It is Thursday."}, reply)

	require.NoError(t, b.Play(context.Background(), []byte("mp3")))
	var audioMsg Message
	require.NoError(t, peer.ReadJSON(&audioMsg))
	require.Equal(t, KindAudio, audioMsg.Kind)
	require.Equal(t, []byte("mp3"), audioMsg.Audio)
}

func wavBytes(t *testing.T) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	enc := wav.NewEncoder(f, 16000, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: 16000},
		Data:           make([]int, 1600),
		SourceBitDepth: 16,
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func TestCapture_TranscribesAudio(t *testing.T) {
	h := newHub(t)
	tr := &fakeTranscriber{text: "open calendar"}
	b, peer := dial(t, h, tr, 0)

	clip := wavBytes(t)
	require.NoError(t, peer.WriteJSON(Message{From: "mic", Kind: KindUtterance, Audio: clip}))
	got, err := captureWithin(t, b)
	require.NoError(t, err)
	require.Equal(t, "open calendar", got)
	require.Equal(t, "utterance.wav", tr.name)
	require.Equal(t, clip, tr.data)

	require.NoError(t, peer.WriteJSON(Message{From: "mic", Kind: KindUtterance, Audio: []byte("ogg"), Format: "ogg"}))
	_, err = captureWithin(t, b)
	require.NoError(t, err)
	require.Equal(t, "utterance.ogg", tr.name)
}

func TestCapture_AudioErrors(t *testing.T) {
	h := newHub(t)
	tr := &fakeTranscriber{err: errors.New("stt down")}
	b, peer := dial(t, h, tr, 0)

	require.NoError(t, peer.WriteJSON(Message{From: "mic", Kind: KindUtterance, Audio: []byte("garbage")}))
	_, err := captureWithin(t, b)
	require.ErrorContains(t, err, "not a valid wav")

	require.NoError(t, peer.WriteJSON(Message{From: "mic", Kind: KindUtterance, Audio: wavBytes(t)}))
	_, err = captureWithin(t, b)
	require.ErrorContains(t, err, "stt down")
}

func TestCapture_AudioWithoutTranscriber(t *testing.T) {
	h := newHub(t)
	b, peer := dial(t, h, nil, 0)

	require.NoError(t, peer.WriteJSON(Message{From: "mic", Kind: KindUtterance, Audio: []byte("x"), Format: "wav"}))
	_, err := captureWithin(t, b)
	require.ErrorContains(t, err, "without a transcriber")
}

func TestCapture_ContextCancelled(t *testing.T) {
	h := newHub(t)
	b, _ := dial(t, h, nil, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := b.Capture(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCapture_ClosedWithoutReconnect(t *testing.T) {
	h := newHub(t)
	b, peer := dial(t, h, nil, 0)

	require.NoError(t, peer.Close())
	_, err := captureWithin(t, b)
	require.ErrorIs(t, err, ErrClosed)
}

func TestCapture_Reconnects(t *testing.T) {
	h := newHub(t)
	b, peer := dial(t, h, nil, 10*time.Millisecond)

	require.NoError(t, peer.Close())
	second := h.accept(t)
	require.NoError(t, second.WriteJSON(Message{From: "mic", Kind: KindUtterance, Content: "still there?"}))

	got, err := captureWithin(t, b)
	require.NoError(t, err)
	require.Equal(t, "still there?", got)
}

func TestClose(t *testing.T) {
	h := newHub(t)
	b, _ := dial(t, h, nil, time.Millisecond)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	_, err := b.Speak(context.Background(), "hi", "")
	require.ErrorIs(t, err, ErrClosed)
	_, err = captureWithin(t, b)
	require.ErrorIs(t, err, ErrClosed)
}

func TestIsClosed(t *testing.T) {
	require.True(t, IsClosed(&ws.CloseError{Code: ws.CloseNormalClosure}))
	require.False(t, IsClosed(errors.New("boom")))
}
