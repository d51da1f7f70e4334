// Package devserver is a scripted stand-in for the trip server. It speaks the
// REST start and message endpoints and the realtime session sockets so the
// client can be exercised end to end without the real backend.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/soyeahso/wayfarer/internal/config"
	"github.com/soyeahso/wayfarer/internal/domain"
	"github.com/soyeahso/wayfarer/internal/logging"
	"github.com/soyeahso/wayfarer/internal/protocol"
)

const maxFrameBytes = 1 << 20

// Server is the development HTTP + WebSocket server.
type Server struct {
	cfg        config.DevServerConfig
	log        *logging.Logger
	reg        *registry
	upgrader   websocket.Upgrader
	tokenDelay time.Duration

	mu       sync.Mutex
	conns    map[*websocket.Conn]struct{}
	failing  map[string]bool
	listener net.Listener
}

// Option configures the server.
type Option func(*Server)

// WithTokenDelay sets the pause between streamed tokens.
func WithTokenDelay(d time.Duration) Option {
	return func(s *Server) {
		s.tokenDelay = d
	}
}

// WithSessionIDs replaces the session id generator.
func WithSessionIDs(next func() string) Option {
	return func(s *Server) {
		s.reg.newID = next
	}
}

// New creates a development server.
func New(cfg config.DevServerConfig, log *logging.Logger, opts ...Option) *Server {
	s := &Server{
		cfg:        cfg,
		log:        log.Sub("devserver"),
		reg:        newRegistry(),
		tokenDelay: time.Duration(cfg.TokenDelayMs) * time.Millisecond,
		conns:      make(map[*websocket.Conn]struct{}),
		failing:    make(map[string]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.AllowedOrigins),
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the server's router.
func (s *Server) Handler() http.Handler {
	return s.routes()
}

func (s *Server) questions() int {
	if s.cfg.Questions <= 0 {
		return 4
	}
	return s.cfg.Questions
}

// FailNext makes the next message post to the conversation fail with 503.
func (s *Server) FailNext(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[conversationID] = true
}

func (s *Server) failNext(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing[conversationID] {
		delete(s.failing, conversationID)
		return true
	}
	return false
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.DevServerConfig) string {
	switch cfg.Bind {
	case "lan":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Start listens and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	httpServer := &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("bind", s.cfg.Bind).
		Int("questions", s.questions()).
		Msg("dev server ready")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.log.Info().Msg("shutting down dev server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.closeAll(websocket.CloseGoingAway, "server shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Addr returns the listen address, or empty string if not started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// handleWebSocket upgrades the request and runs one session socket. Unknown
// sessions are accepted and then closed with a policy violation so the client
// sees a close code rather than a failed handshake.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrameBytes)

	id := chi.URLParam(r, "sessionId")
	log := s.log.With("session", id)

	kind, kindErr := domain.ParseSessionKind(chi.URLParam(r, "kind"))
	sess, ok := s.reg.lookup(id)
	switch {
	case kindErr != nil, !ok, sess.kind != kind:
		log.Warn().Str("kind", chi.URLParam(r, "kind")).Msg("unknown session")
		closeWith(conn, websocket.ClosePolicyViolation, "session not found")
		return
	case sess.done:
		closeWith(conn, websocket.ClosePolicyViolation, "session finished")
		return
	case kind == domain.KindPlanning && r.URL.Query().Get("user_id") != sess.userID:
		log.Warn().Msg("planning socket user mismatch")
		closeWith(conn, websocket.ClosePolicyViolation, "user mismatch")
		return
	}

	s.track(conn)
	defer s.untrack(conn)
	log.Debug().Str("kind", string(kind)).Str("remote", r.RemoteAddr).Msg("socket open")

	fw := newFrameWriter(conn, kind, s.tokenDelay)
	if err := s.greet(fw, sess); err != nil {
		log.Warn().Err(err).Msg("greeting failed")
		return
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Msg("client closed socket")
			} else {
				log.Debug().Err(err).Msg("read error")
			}
			return
		}

		var f protocol.OutboundFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			if err := fw.write(protocol.InboundFrame{Type: protocol.TagError, Message: "malformed frame"}); err != nil {
				return
			}
			continue
		}

		switch f.Type {
		case protocol.FrameTypePing:
			err = fw.write(protocol.InboundFrame{Type: protocol.TagPong})
		case protocol.FrameTypeMessage, protocol.FrameTypeUserAnswer:
			text := f.Content
			if f.Type == protocol.FrameTypeUserAnswer {
				text = f.Answer
			}
			current, _ := s.reg.lookup(id)
			var finished bool
			finished, err = s.reply(fw, current, text, f.ClientMessageID)
			if err == nil && finished {
				s.reg.finish(id)
				log.Info().Msg("session complete")
				closeWith(conn, websocket.CloseNormalClosure, "session complete")
				return
			}
		default:
			err = fw.write(protocol.InboundFrame{Type: protocol.TagError, Message: "unsupported frame type " + f.Type})
		}
		if err != nil {
			log.Warn().Err(err).Msg("write failed")
			return
		}
	}
}

func (s *Server) track(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Server) untrack(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

func (s *Server) closeAll(code int, reason string) {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		closeWith(c, code, reason)
		c.Close()
	}
}

// closeWith sends a close frame. Hijacked connections are not closed by
// http.Server.Shutdown, so shutdown goes through here too.
func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
