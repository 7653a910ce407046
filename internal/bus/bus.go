package bus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-audio/wav"
	ws "github.com/gorilla/websocket"
)

const (
	KindUtterance = "utterance"
	KindReply     = "reply"
	KindAudio     = "audio"

	defaultName = "voice-agent"
)

// ErrClosed is returned once the bus is closed and will not reconnect. It
// wraps io.EOF.
var ErrClosed = fmt.Errorf("bus: closed: %w", io.EOF)

// Message is the JSON frame exchanged with the hub.
type Message struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Kind    string `json:"kind"`
	Content string `json:"content"`
	Audio   []byte `json:"audio,omitempty"`
	Format  string `json:"format,omitempty"`
}

// Transcriber converts recorded audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, name string) (string, error)
}

type Config struct {
	URL       string
	Name      string
	Reconnect time.Duration
	Logger    *log.Logger
}

// Bus is a websocket hub client. Utterances addressed to Name are delivered
// through Capture; replies and synthesized audio go back to the sender of the
// last utterance.
type Bus struct {
	cfg         Config
	transcriber Transcriber
	log         *log.Logger

	connMu sync.Mutex
	conn   *ws.Conn
	peer   string

	writeMu sync.Mutex

	incoming  chan Message
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the hub and starts the read loop. transcriber may be nil
// when the hub only sends text.
func Dial(ctx context.Context, cfg Config, transcriber Transcriber) (*Bus, error) {
	if cfg.URL == "" {
		return nil, errors.New("bus: url must not be empty")
	}
	if cfg.Name == "" {
		cfg.Name = defaultName
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	conn, _, err := ws.DefaultDialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("bus: dial %s: %w", cfg.URL, err)
	}
	logger.Info("connected to bus", "url", cfg.URL)

	b := &Bus{
		cfg:         cfg,
		transcriber: transcriber,
		log:         logger,
		conn:        conn,
		incoming:    make(chan Message),
		done:        make(chan struct{}),
	}
	go b.readLoop()
	return b, nil
}

func (b *Bus) current() *ws.Conn {
	b.connMu.Lock()
	defer b.connMu.Unlock()
	return b.conn
}

func (b *Bus) closed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

func (b *Bus) readLoop() {
	defer close(b.incoming)
	for {
		_, data, err := b.current().ReadMessage()
		if err != nil {
			if b.closed() {
				return
			}
			b.log.Warn("bus read failed", "err", err, "closed", IsClosed(err))
			if !b.reconnect() {
				return
			}
			continue
		}

		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			b.log.Warn("dropping malformed bus message", "err", err)
			continue
		}
		if m.Kind != KindUtterance || (m.To != "" && m.To != b.cfg.Name) {
			continue
		}
		select {
		case b.incoming <- m:
		case <-b.done:
			return
		}
	}
}

func (b *Bus) reconnect() bool {
	if b.cfg.Reconnect <= 0 {
		return false
	}
	for {
		select {
		case <-b.done:
			return false
		case <-time.After(b.cfg.Reconnect):
		}
		conn, _, err := ws.DefaultDialer.Dial(b.cfg.URL, nil)
		if err != nil {
			b.log.Debug("bus reconnect failed", "err", err)
			continue
		}
		b.connMu.Lock()
		_ = b.conn.Close()
		b.conn = conn
		b.connMu.Unlock()
		if b.closed() {
			_ = conn.Close()
			return false
		}
		b.log.Info("reconnected to bus", "url", b.cfg.URL)
		return true
	}
}

// Capture blocks until the next utterance arrives and returns its text.
// Audio utterances are transcribed first.
func (b *Bus) Capture(ctx context.Context) (string, error) {
	var m Message
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case msg, ok := <-b.incoming:
		if !ok {
			return "", ErrClosed
		}
		m = msg
	}

	b.connMu.Lock()
	b.peer = m.From
	b.connMu.Unlock()

	if len(m.Audio) == 0 {
		return m.Content, nil
	}
	if b.transcriber == nil {
		return "", errors.New("bus: audio utterance received without a transcriber")
	}
	name, err := b.audioName(m)
	if err != nil {
		return "", err
	}
	text, err := b.transcriber.Transcribe(ctx, bytes.NewReader(m.Audio), name)
	if err != nil {
		return "", fmt.Errorf("bus: transcribe: %w", err)
	}
	return text, nil
}

// audioName picks the upload file name. Unlabelled audio must be WAV.
func (b *Bus) audioName(m Message) (string, error) {
	if m.Format != "" {
		return "utterance." + m.Format, nil
	}
	d := wav.NewDecoder(bytes.NewReader(m.Audio))
	if !d.IsValidFile() {
		return "", errors.New("bus: unlabelled audio is not a valid wav file")
	}
	if dur, err := d.Duration(); err == nil {
		b.log.Debug("received wav utterance", "duration", dur, "sample_rate", d.SampleRate, "channels", d.NumChans)
	}
	return "utterance.wav", nil
}

// Speak sends text as a reply to the last speaker. The status mirrors an HTTP
// status so callers can treat every speaker alike.
func (b *Bus) Speak(ctx context.Context, text, _ string) (int, error) {
	if err := b.write(ctx, Message{Kind: KindReply, Content: text}); err != nil {
		return 0, err
	}
	return http.StatusOK, nil
}

// Play forwards synthesized audio to the last speaker.
func (b *Bus) Play(ctx context.Context, audio []byte) error {
	return b.write(ctx, Message{Kind: KindAudio, Audio: audio, Format: "mp3"})
}

func (b *Bus) write(ctx context.Context, m Message) error {
	if b.closed() {
		return ErrClosed
	}
	b.connMu.Lock()
	m.From = b.cfg.Name
	m.To = b.peer
	conn := b.conn
	b.connMu.Unlock()

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("bus: marshal message: %w", err)
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	deadline := time.Time{}
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(ws.TextMessage, data); err != nil {
		return fmt.Errorf("bus: write: %w", err)
	}
	return nil
}

// Close stops the read loop and closes the connection.
func (b *Bus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.done)
		b.writeMu.Lock()
		_ = b.current().WriteMessage(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, ""))
		b.writeMu.Unlock()
		err = b.current().Close()
	})
	return err
}

// IsClosed reports whether err is a regular websocket close.
func IsClosed(err error) bool {
	return ws.IsCloseError(err,
		ws.CloseNormalClosure,
		ws.CloseGoingAway,
		ws.CloseAbnormalClosure)
}
