// Package socket owns the lifecycle of one realtime session's WebSocket:
// connect, heartbeat, reconnect policy, and teardown.
package socket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/soyeahso/wayfarer/internal/domain"
	"github.com/soyeahso/wayfarer/internal/logging"
	"github.com/soyeahso/wayfarer/internal/metrics"
	"github.com/soyeahso/wayfarer/internal/protocol"
)

const (
	DefaultReconnectDelay   = 3 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	writeTimeout            = 10 * time.Second
	closeGrace              = time.Second
)

// Config parameterizes a manager for one session kind.
type Config struct {
	BaseURL  string
	Endpoint string // path template containing {sessionId}

	// IncludeUserID adds the session's user id as a query parameter.
	IncludeUserID bool

	ReconnectDelay    time.Duration
	HeartbeatInterval time.Duration // zero disables the ping loop
	LivenessTimeout   time.Duration // zero disables the read deadline
	HandshakeTimeout  time.Duration

	// PermanentCloseCodes end the session without reconnecting.
	PermanentCloseCodes []int
}

// Handlers receive socket events. Any field may be nil.
type Handlers struct {
	OnOpen     func()
	OnFrame    func(raw []byte)
	OnClose    func(CloseEvent)
	OnError    func(error)
	OnTerminal func(*TerminalError)
	OnState    func(domain.ConnectionState)
}

// Option configures a Manager.
type Option func(*Manager)

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// WithHandlers installs the initial handler set.
func WithHandlers(h Handlers) Option {
	return func(m *Manager) { m.handlers = h }
}

// Manager owns at most one socket for one session. Each socket attempt gets a
// new generation number; events from an older generation are ignored.
type Manager struct {
	cfg    Config
	log    *logging.Logger
	dialer *websocket.Dialer

	mu             sync.Mutex
	handlers       Handlers
	state          domain.ConnectionState
	session        domain.Session
	ctx            context.Context
	stopCtxWatch   func() bool
	conn           *websocket.Conn
	cancelDial     context.CancelFunc
	gen            uint64
	closedGen      uint64
	reconnectTimer *time.Timer

	writeMu sync.Mutex
}

// NewManager creates an idle manager.
func NewManager(cfg Config, log *logging.Logger, opts ...Option) *Manager {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	m := &Manager{
		cfg:   cfg,
		log:   log.Sub("socket"),
		state: domain.StateIdle,
	}
	for _, o := range opts {
		o(m)
	}
	if m.dialer == nil {
		m.dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		}
	}
	return m
}

// SetHandlers replaces the handler set without touching the connection.
func (m *Manager) SetHandlers(h Handlers) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = h
}

// State returns the current connection state.
func (m *Manager) State() domain.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns the session the manager is bound to.
func (m *Manager) Session() domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Connect starts connecting to sess. It returns once the state is connecting;
// the dial itself runs in the background. Calling Connect again while the same
// session is connecting or open is a no-op. Cancelling ctx disconnects.
func (m *Manager) Connect(ctx context.Context, sess domain.Session) error {
	target, err := BuildURL(m.cfg.BaseURL, m.cfg.Endpoint, sess, m.cfg.IncludeUserID)
	if err != nil {
		h := m.currentHandlers()
		err = fmt.Errorf("build socket url: %w", err)
		m.log.Error().Err(err).Str("session", sess.ID).Msg("cannot connect")
		if h.OnError != nil {
			h.OnError(err)
		}
		if errors.Is(err, domain.ErrInvalidSession) {
			terr := &TerminalError{SessionID: sess.ID, Err: err}
			if h.OnTerminal != nil {
				h.OnTerminal(terr)
			}
			return terr
		}
		return err
	}

	m.mu.Lock()
	if m.state.Active() {
		same := m.session.ID == sess.ID
		m.mu.Unlock()
		if same {
			m.log.Debug().Str("session", sess.ID).Msg("connect ignored, already active")
			return nil
		}
		return ErrSessionChanged
	}
	m.stopReconnectLocked()
	if m.stopCtxWatch != nil {
		m.stopCtxWatch()
	}
	m.session = sess
	m.ctx = ctx
	m.stopCtxWatch = context.AfterFunc(ctx, func() {
		m.Disconnect("context done")
	})
	gen := m.beginAttemptLocked()
	m.mu.Unlock()

	m.emitState(domain.StateConnecting)
	go m.run(gen, target)
	return nil
}

// beginAttemptLocked moves to connecting and returns the new generation.
func (m *Manager) beginAttemptLocked() uint64 {
	m.gen++
	m.state = domain.StateConnecting
	return m.gen
}

func (m *Manager) run(gen uint64, target string) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	dialCtx, cancel := context.WithTimeout(m.ctx, m.cfg.HandshakeTimeout)
	m.cancelDial = cancel
	sess := m.session
	m.mu.Unlock()

	log := m.log.With("session", sess.ID)
	log.Debug().Str("url", target).Msg("dialing")

	conn, resp, err := m.dialer.DialContext(dialCtx, target, nil)
	cancel()
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		code := websocket.CloseAbnormalClosure
		if resp != nil && (resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden) {
			code = websocket.ClosePolicyViolation
		}
		if m.isCurrent(gen) {
			log.Warn().Err(err).Int("code", code).Msg("dial failed")
			if h := m.currentHandlers(); h.OnError != nil {
				h.OnError(fmt.Errorf("dial %s: %w", target, err))
			}
		}
		m.handleClose(gen, code, err.Error())
		return
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.conn = conn
	m.cancelDial = nil
	m.state = domain.StateOpen
	m.mu.Unlock()

	kind := string(sess.Kind)
	metrics.OpenSockets.WithLabelValues(kind).Inc()
	log.Info().Msg("socket open")
	m.emitState(domain.StateOpen)
	if h := m.currentHandlers(); h.OnOpen != nil {
		h.OnOpen()
	}

	done := make(chan struct{})
	if m.cfg.HeartbeatInterval > 0 {
		go m.heartbeat(gen, done)
	}

	code, reason := m.readLoop(gen, conn)
	close(done)
	metrics.OpenSockets.WithLabelValues(kind).Dec()
	conn.Close()
	m.handleClose(gen, code, reason)
}

func (m *Manager) readLoop(gen uint64, conn *websocket.Conn) (int, string) {
	for {
		if m.cfg.LivenessTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(m.cfg.LivenessTimeout))
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return ce.Code, ce.Text
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return websocket.CloseAbnormalClosure, "liveness timeout"
			}
			return websocket.CloseAbnormalClosure, err.Error()
		}
		if !m.isCurrent(gen) {
			return websocket.CloseNormalClosure, "superseded"
		}
		if h := m.currentHandlers(); h.OnFrame != nil {
			h.OnFrame(data)
		}
	}
}

func (m *Manager) heartbeat(gen uint64, done <-chan struct{}) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if !m.isCurrent(gen) {
				return
			}
			m.Send(protocol.Ping)
		}
	}
}

// handleClose applies the reconnect policy. It runs at most once per generation.
func (m *Manager) handleClose(gen uint64, code int, reason string) {
	m.mu.Lock()
	if gen != m.gen || m.closedGen == gen {
		m.mu.Unlock()
		m.log.Debug().Int("code", code).Msg("ignoring stale close")
		return
	}
	m.closedGen = gen
	m.conn = nil
	m.cancelDial = nil
	m.state = domain.StateClosed
	sess := m.session

	ev := CloseEvent{Code: code, Reason: reason}
	switch {
	case code == websocket.CloseNormalClosure:
	case m.permanent(code):
		ev.Terminal = true
	case m.ctx != nil && m.ctx.Err() != nil:
	default:
		ev.Reconnect = m.scheduleReconnectLocked(gen)
	}
	m.mu.Unlock()

	log := m.log.With("session", sess.ID)
	kind := string(sess.Kind)
	switch {
	case ev.Terminal:
		metrics.TerminalCloses.WithLabelValues(kind, strconv.Itoa(code)).Inc()
		log.Warn().Int("code", code).Str("reason", reason).Msg("socket closed permanently")
	case ev.Reconnect:
		metrics.ReconnectsScheduled.WithLabelValues(kind).Inc()
		log.Info().Int("code", code).Dur("delay", m.cfg.ReconnectDelay).Msg("socket closed, reconnect scheduled")
	default:
		log.Info().Int("code", code).Msg("socket closed")
	}

	m.emitState(domain.StateClosed)
	h := m.currentHandlers()
	if h.OnClose != nil {
		h.OnClose(ev)
	}
	if ev.Terminal && h.OnTerminal != nil {
		h.OnTerminal(&TerminalError{SessionID: sess.ID, Code: code, Reason: reason})
	}
}

func (m *Manager) permanent(code int) bool {
	return slices.Contains(m.cfg.PermanentCloseCodes, code)
}

// scheduleReconnectLocked arms the single reconnect timer. It reports false
// if one is already pending.
func (m *Manager) scheduleReconnectLocked(gen uint64) bool {
	if m.reconnectTimer != nil {
		return false
	}
	m.reconnectTimer = time.AfterFunc(m.cfg.ReconnectDelay, func() {
		m.reconnect(gen)
	})
	return true
}

func (m *Manager) reconnect(fromGen uint64) {
	m.mu.Lock()
	m.reconnectTimer = nil
	if fromGen != m.gen || m.state != domain.StateClosed {
		m.mu.Unlock()
		return
	}
	if m.ctx != nil && m.ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	sess := m.session
	m.mu.Unlock()

	target, err := BuildURL(m.cfg.BaseURL, m.cfg.Endpoint, sess, m.cfg.IncludeUserID)
	if err != nil {
		m.log.Error().Err(err).Msg("reconnect aborted")
		return
	}

	m.mu.Lock()
	if fromGen != m.gen || m.state != domain.StateClosed {
		m.mu.Unlock()
		return
	}
	gen := m.beginAttemptLocked()
	m.mu.Unlock()

	m.log.With("session", sess.ID).Info().Msg("reconnecting")
	m.emitState(domain.StateConnecting)
	m.run(gen, target)
}

func (m *Manager) stopReconnectLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

// Send writes v as a JSON text frame. It only writes while open; otherwise
// the call is logged and reported as false.
func (m *Manager) Send(v any) bool {
	m.mu.Lock()
	conn := m.conn
	open := m.state == domain.StateOpen && conn != nil
	sess := m.session
	m.mu.Unlock()

	if !open {
		metrics.SendsDropped.WithLabelValues(string(sess.Kind)).Inc()
		m.log.Warn().Str("session", sess.ID).Msg("send while not open, dropped")
		return false
	}

	m.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := conn.WriteJSON(v)
	m.writeMu.Unlock()
	if err != nil {
		m.log.Warn().Err(err).Str("session", sess.ID).Msg("send failed")
		if h := m.currentHandlers(); h.OnError != nil {
			h.OnError(fmt.Errorf("send: %w", err))
		}
		return false
	}
	return true
}

// Disconnect closes the socket with a normal closure and cancels any pending
// reconnect. It is safe to call repeatedly.
func (m *Manager) Disconnect(reason string) {
	m.mu.Lock()
	m.stopReconnectLocked()
	if m.stopCtxWatch != nil {
		m.stopCtxWatch()
		m.stopCtxWatch = nil
	}
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	prev := m.state
	conn := m.conn
	m.conn = nil
	m.gen++
	m.closedGen = m.gen
	gen := m.gen
	if prev == domain.StateClosed {
		m.mu.Unlock()
		return
	}
	m.state = domain.StateClosing
	sess := m.session
	m.mu.Unlock()

	if prev.Active() {
		m.emitState(domain.StateClosing)
	}
	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace)); err != nil {
			m.log.Debug().Err(err).Msg("close frame not sent")
		}
		conn.Close()
	}

	m.mu.Lock()
	if m.gen != gen {
		// A Connect issued while closing owns the state now.
		m.mu.Unlock()
		m.log.With("session", sess.ID).Debug().Str("reason", reason).Msg("disconnected, superseded by new attempt")
		return
	}
	m.state = domain.StateClosed
	m.mu.Unlock()

	m.log.With("session", sess.ID).Info().Str("reason", reason).Msg("disconnected")
	m.emitState(domain.StateClosed)
	if prev.Active() {
		if h := m.currentHandlers(); h.OnClose != nil {
			h.OnClose(CloseEvent{Code: websocket.CloseNormalClosure, Reason: reason})
		}
	}
}

func (m *Manager) isCurrent(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen
}

func (m *Manager) currentHandlers() Handlers {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handlers
}

func (m *Manager) emitState(s domain.ConnectionState) {
	if h := m.currentHandlers(); h.OnState != nil {
		h.OnState(s)
	}
}
