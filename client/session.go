package client

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/logan496/elearning-chat/internal/protocol"
)

// ConnState is the observable connection state of a Session.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Handler receives the payload of one inbound event.
type Handler func(data []byte)

const (
	defaultMaxAttempts = 8
	defaultBackoffBase = time.Second
	defaultBackoffCap  = 30 * time.Second

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	readLimit  = 65536
)

// SessionConfig configures a Session.
type SessionConfig struct {
	// URL is the websocket endpoint, e.g. wss://host/chat.
	URL string
	// Token is the bearer credential presented during the handshake.
	Token string
	// MaxAttempts bounds consecutive failed connection attempts before the
	// session settles into the disconnected state. Zero means the default.
	MaxAttempts int
	// BackoffBase and BackoffCap shape the reconnect delay. Zero means the
	// defaults.
	BackoffBase time.Duration
	BackoffCap  time.Duration

	Logger  zerolog.Logger
	Metrics *Metrics
}

// Session owns one persistent websocket connection to the chat endpoint.
// Connection failures never surface as errors to the caller: the session
// transitions through its observable state and reconnects on its own with
// bounded, backed-off attempts. While not connected, Emit drops the event
// instead of queueing it; the pending-send timeout is the caller's signal.
type Session struct {
	cfg    SessionConfig
	dialer *websocket.Dialer
	log    zerolog.Logger

	mu       sync.RWMutex
	conn     *websocket.Conn
	state    ConnState
	onState  func(ConnState)
	handlers map[string]Handler
	closed   bool

	send chan []byte
	done chan struct{}
}

// NewSession creates a session for the given endpoint. Connect starts it.
func NewSession(cfg SessionConfig) *Session {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = defaultBackoffCap
	}
	return &Session{
		cfg:      cfg,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:      cfg.Logger.With().Str("component", "session").Logger(),
		handlers: make(map[string]Handler),
		send:     make(chan []byte, 256),
		done:     make(chan struct{}),
	}
}

// Connect starts the connection loop. It returns immediately; progress is
// observable through State and the OnStateChange callback.
func (s *Session) Connect(ctx context.Context) {
	s.setState(StateConnecting)
	go s.run(ctx)
}

// Close tears the session down for good.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conn := s.conn
	s.mu.Unlock()

	close(s.done)
	if conn != nil {
		conn.Close()
	}
	s.setState(StateDisconnected)
}

// State returns the current connection state.
func (s *Session) State() ConnState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// OnStateChange registers the state observer. Last registration wins.
func (s *Session) OnStateChange(fn func(ConnState)) {
	s.mu.Lock()
	s.onState = fn
	s.mu.Unlock()
}

// On registers the handler for an event name. There is exactly one handler
// slot per event: registering again replaces the previous handler.
func (s *Session) On(event string, handler Handler) {
	s.mu.Lock()
	s.handlers[event] = handler
	s.mu.Unlock()
}

// Off removes the handler for an event name.
func (s *Session) Off(event string) {
	s.mu.Lock()
	delete(s.handlers, event)
	s.mu.Unlock()
}

// Emit sends a named event, fire-and-forget. While the session is not
// connected the event is dropped; confirmation of delivered messages arrives
// asynchronously as its own inbound event.
func (s *Session) Emit(event string, payload interface{}) {
	if s.State() != StateConnected {
		s.cfg.Metrics.droppedEmit()
		s.log.Debug().Str("event", event).Msg("dropping emit while not connected")
		return
	}

	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		s.log.Warn().Err(err).Str("event", event).Msg("failed to encode event")
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		s.log.Warn().Err(err).Str("event", event).Msg("failed to marshal envelope")
		return
	}

	select {
	case s.send <- data:
	default:
		s.cfg.Metrics.droppedEmit()
		s.log.Warn().Str("event", event).Msg("send buffer full, dropping event")
	}
}

func (s *Session) run(ctx context.Context) {
	attempts := 0
	for {
		if s.isClosed() || ctx.Err() != nil {
			s.setState(StateDisconnected)
			return
		}

		conn, err := s.dial(ctx)
		if err != nil {
			attempts++
			if attempts >= s.cfg.MaxAttempts {
				s.log.Warn().Err(err).Int("attempts", attempts).
					Msg("giving up on reconnecting")
				s.setState(StateDisconnected)
				return
			}
			delay := s.backoff(attempts)
			s.log.Info().Err(err).Int("attempt", attempts).
				Dur("retry_in", delay).Msg("connection attempt failed")
			select {
			case <-time.After(delay):
			case <-s.done:
				return
			case <-ctx.Done():
				return
			}
			continue
		}

		attempts = 0
		s.drainSendBuffer()
		s.setConn(conn)
		if s.isClosed() {
			conn.Close()
			s.setState(StateDisconnected)
			return
		}
		s.setState(StateConnected)
		s.cfg.Metrics.connect()
		s.log.Info().Str("url", s.cfg.URL).Msg("connected")

		stop := make(chan struct{})
		go s.writePump(conn, stop)
		s.readPump(conn)
		close(stop)
		conn.Close()
		s.setConn(nil)

		if s.isClosed() || ctx.Err() != nil {
			s.setState(StateDisconnected)
			return
		}
		s.setState(StateConnecting)
		s.cfg.Metrics.reconnect()
		s.log.Info().Msg("connection lost, reconnecting")
	}
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if s.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+s.cfg.Token)
	}
	url := strings.Replace(strings.Replace(s.cfg.URL, "http://", "ws://", 1), "https://", "wss://", 1)
	conn, resp, err := s.dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

func (s *Session) backoff(attempt int) time.Duration {
	delay := s.cfg.BackoffBase << (attempt - 1)
	if delay > s.cfg.BackoffCap || delay <= 0 {
		delay = s.cfg.BackoffCap
	}
	return delay
}

// drainSendBuffer discards events queued during an outage. Emits while
// disconnected are dropped, not delivered late after a reconnect.
func (s *Session) drainSendBuffer() {
	for {
		select {
		case <-s.send:
			s.cfg.Metrics.droppedEmit()
		default:
			return
		}
	}
}

func (s *Session) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(readLimit)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.log.Warn().Err(err).Msg("websocket read error")
			}
			return
		}
		s.dispatch(message)
	}
}

func (s *Session) writePump(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message := <-s.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-stop:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, nil)
			return

		case <-s.done:
			return
		}
	}
}

// dispatch routes one inbound frame to the registered handler. A bad frame
// must not break the handler chain for subsequent frames, so parse errors are
// logged and swallowed here.
func (s *Session) dispatch(data []byte) {
	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		s.cfg.Metrics.malformed()
		s.log.Warn().Err(err).Msg("failed to parse frame")
		return
	}

	s.mu.RLock()
	handler := s.handlers[env.Event]
	s.mu.RUnlock()

	s.cfg.Metrics.frameIn(env.Event)
	if handler == nil {
		s.log.Debug().Str("event", env.Event).Msg("no handler for event")
		return
	}
	handler(env.Data)
}

func (s *Session) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

func (s *Session) setState(state ConnState) {
	s.mu.Lock()
	if s.state == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	observer := s.onState
	s.mu.Unlock()

	if observer != nil {
		observer(state)
	}
}

func (s *Session) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}
