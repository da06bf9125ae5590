package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"node.town/murmur/audio"
	"node.town/murmur/etc"
)

const (
	DeepgramBaseURL = "https://api.deepgram.com/v1"

	writeTimeout     = 10 * time.Second
	keepAliveTimeout = 2 * time.Second
	closeTimeout     = 2 * time.Second
)

var (
	keepAliveMessage   = []byte(`{"type":"KeepAlive"}`)
	closeStreamMessage = []byte(`{"type":"CloseStream"}`)
)

type DeepgramClient struct {
	token   string
	baseURL string
	dialer  *websocket.Dialer
	logger  *log.Logger
}

func NewDeepgramClient(
	token string,
	baseURL string,
	logger *log.Logger,
) *DeepgramClient {
	if baseURL == "" {
		baseURL = DeepgramBaseURL
	}
	return &DeepgramClient{
		token:   token,
		baseURL: baseURL,
		dialer:  websocket.DefaultDialer,
		logger:  logger,
	}
}

func (c *DeepgramClient) Connect(
	ctx context.Context,
	opts Options,
) (Session, error) {
	if strings.TrimSpace(c.token) == "" {
		return nil, fmt.Errorf("%w: missing deepgram api key", ErrConnection)
	}
	u, err := listenURL(c.baseURL, opts)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Token "+c.token)

	s := newDeepgramSession(c.logger)
	go s.dial(ctx, c.dialer, u, header)
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

type deepgramSession struct {
	logger *log.Logger

	transcripts etc.Listeners[Transcript]
	states      etc.Listeners[StateChange]
	dropped     atomic.Int64

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	closing bool
	err     error
	done    chan struct{}

	writeMu sync.Mutex
}

func newDeepgramSession(logger *log.Logger) *deepgramSession {
	return &deepgramSession{
		logger: logger,
		state:  Connecting,
		done:   make(chan struct{}),
	}
}

func (s *deepgramSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Dropped counts chunks discarded because the session was not open.
func (s *deepgramSession) Dropped() int64 {
	return s.dropped.Load()
}

// Err is the error that ended the session, if any.
func (s *deepgramSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *deepgramSession) Subscribe(fn func(Transcript)) func() {
	return s.transcripts.Add(fn)
}

func (s *deepgramSession) OnStateChange(fn func(StateChange)) func() {
	return s.states.Add(fn)
}

func (s *deepgramSession) dial(
	ctx context.Context,
	dialer *websocket.Dialer,
	u string,
	header http.Header,
) {
	conn, resp, err := dialer.DialContext(ctx, u, header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%v (status %d)", err, resp.StatusCode)
		}
		s.finish(Error, fmt.Errorf("%w: %v", ErrConnection, err))
		return
	}

	s.mu.Lock()
	if s.state != Connecting {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	s.state = Open
	s.mu.Unlock()

	s.logger.Info("open")
	s.states.Emit(StateChange{From: Connecting, To: Open})
	go s.readLoop(conn)
}

// Send writes one chunk as a binary frame. Chunks sent while the session is
// not open are dropped.
func (s *deepgramSession) Send(chunk audio.Chunk) {
	if s.State() != Open {
		s.dropped.Add(1)
		s.logger.Debug("drop", "seq", chunk.Seq, "error", ErrSendOnClosed)
		return
	}
	if err := s.write(websocket.BinaryMessage, chunk.Data, writeTimeout); err != nil {
		s.finish(Error, fmt.Errorf("%w: send audio: %v", ErrConnection, err))
	}
}

// KeepAlive writes a keepalive frame, giving up after keepAliveTimeout.
func (s *deepgramSession) KeepAlive() {
	if s.State() != Open {
		return
	}
	s.logger.Debug("keepalive")
	if err := s.write(websocket.TextMessage, keepAliveMessage, keepAliveTimeout); err != nil {
		s.finish(Error, fmt.Errorf("%w: keepalive: %v", ErrConnection, err))
	}
}

// Close asks the provider to flush pending results, waits briefly for it to
// hang up and then closes the socket.
func (s *deepgramSession) Close() error {
	s.mu.Lock()
	if s.state.Terminal() || s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	open := s.state == Open
	s.mu.Unlock()

	if open {
		if err := s.write(websocket.TextMessage, closeStreamMessage, writeTimeout); err == nil {
			select {
			case <-s.done:
			case <-time.After(closeTimeout):
			}
		}
	}
	s.finish(Closed, nil)
	return nil
}

func (s *deepgramSession) write(kind int, data []byte, timeout time.Duration) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrSendOnClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(timeout))
	return conn.WriteMessage(kind, data)
}

func (s *deepgramSession) finish(to State, err error) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	from := s.state
	s.state = to
	s.err = err
	conn := s.conn
	close(s.done)
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if err != nil {
		s.logger.Error("session ended", "error", err)
	} else {
		s.logger.Info("closed")
	}
	s.states.Emit(StateChange{From: from, To: to, Err: err})
}

func (s *deepgramSession) readLoop(conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing || websocket.IsCloseError(
				err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				s.finish(Closed, nil)
			} else {
				s.finish(Error, fmt.Errorf("%w: read: %v", ErrConnection, err))
			}
			return
		}

		var msg deepgramMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.logger.Warn("undecodable message", "error", err)
			continue
		}

		switch msg.Type {
		case "Results":
			t := msg.transcript()
			if t.Text != "" {
				s.logger.Info(
					"hear",
					"txt", t.Text,
					"final", t.IsFinal,
					"speech_final", t.SpeechFinal,
				)
			}
			s.transcripts.Emit(t)
		case "Error":
			reason := strings.TrimSpace(msg.Description + " " + msg.Message)
			if reason == "" {
				reason = "provider error"
			}
			s.finish(Error, fmt.Errorf("%w: %s", ErrConnection, reason))
			return
		default:
			s.logger.Debug("event", "type", msg.Type)
		}
	}
}

type deepgramMessage struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	Description string `json:"description"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (m deepgramMessage) transcript() Transcript {
	t := Transcript{IsFinal: m.IsFinal, SpeechFinal: m.SpeechFinal}
	if len(m.Channel.Alternatives) > 0 {
		t.Text = strings.TrimSpace(m.Channel.Alternatives[0].Transcript)
	}
	return t
}

func listenURL(base string, opts Options) (string, error) {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}

	u, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid deepgram base url: %w", err)
	}

	format := opts.Format
	if format.Encoding == "" {
		format = audio.Linear16
	}

	q := u.Query()
	q.Set("model", opts.Model)
	if opts.Language != "" {
		q.Set("language", opts.Language)
	}
	q.Set("encoding", format.Encoding)
	q.Set("sample_rate", strconv.Itoa(format.SampleRate))
	q.Set("channels", strconv.Itoa(format.Channels))
	q.Set("interim_results", strconv.FormatBool(opts.InterimResults))
	q.Set("smart_format", strconv.FormatBool(opts.SmartFormat))
	q.Set("filler_words", strconv.FormatBool(opts.FillerWords))
	if opts.Punctuate {
		q.Set("punctuate", "true")
	}
	if opts.Endpointing > 0 {
		q.Set("endpointing", strconv.Itoa(opts.Endpointing))
	}
	if opts.UtteranceEndMs > 0 {
		q.Set("utterance_end_ms", strconv.Itoa(opts.UtteranceEndMs))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
