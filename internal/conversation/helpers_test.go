package conversation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/wayfarer/internal/api"
	"github.com/soyeahso/wayfarer/internal/config"
	"github.com/soyeahso/wayfarer/internal/domain"
	"github.com/soyeahso/wayfarer/internal/protocol"
	"github.com/soyeahso/wayfarer/internal/socket"
	"github.com/soyeahso/wayfarer/internal/stream"
)

const testDelay = 50 * time.Millisecond

// scriptServer accepts session sockets and lets the test write frames.
type scriptServer struct {
	*httptest.Server
	upgrades atomic.Int32
	held     atomic.Bool // holds handshakes until release is closed
	release  chan struct{}
	paths    chan string
	conns    chan *websocket.Conn
	received chan protocol.OutboundFrame
}

func newScriptServer(t *testing.T) *scriptServer {
	t.Helper()
	s := &scriptServer{
		release:  make(chan struct{}),
		paths:    make(chan string, 8),
		conns:    make(chan *websocket.Conn, 8),
		received: make(chan protocol.OutboundFrame, 64),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/ws/") {
			http.NotFound(w, r)
			return
		}
		if s.held.Load() {
			<-s.release
		}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.upgrades.Add(1)
		s.paths <- r.URL.RequestURI()
		s.conns <- c
		for {
			_, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			var f protocol.OutboundFrame
			if json.Unmarshal(data, &f) == nil {
				s.received <- f
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *scriptServer) next(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-s.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no connection arrived")
		return nil
	}
}

func (s *scriptServer) frame(t *testing.T) protocol.OutboundFrame {
	t.Helper()
	for {
		select {
		case f := <-s.received:
			if f.Type == protocol.FrameTypePing {
				continue
			}
			return f
		case <-time.After(2 * time.Second):
			t.Fatal("no frame arrived")
			return protocol.OutboundFrame{}
		}
	}
}

func push(t *testing.T, c *websocket.Conn, frame map[string]any) {
	t.Helper()
	require.NoError(t, c.WriteJSON(frame))
}

func closeWith(t *testing.T, c *websocket.Conn, code int, reason string) {
	t.Helper()
	msg := websocket.FormatCloseMessage(code, reason)
	require.NoError(t, c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)))
}

type fakeStarter struct {
	res   *api.StartResult
	err   error
	calls atomic.Int32
}

func (f *fakeStarter) Start(_ context.Context, _ domain.SessionKind, _ string) (*api.StartResult, error) {
	f.calls.Add(1)
	return f.res, f.err
}

func testConfig(baseURL string) config.Config {
	cfg := config.Defaults()
	cfg.Realtime.BaseURL = baseURL
	cfg.Realtime.ReconnectDelayMs = int(testDelay / time.Millisecond)
	cfg.Realtime.MinComposingMs = 0
	cfg.Storage.DebounceMs = 10
	cfg.Pagination.LoadDelayMs = 0
	cfg.API.BaseURL = baseURL
	return cfg
}

// recorder captures listener callbacks.
type recorder struct {
	mu          sync.Mutex
	visible     []domain.ChatMessage
	composing   []stream.Snapshot
	progress    []protocol.Progress
	validations []protocol.Validation
	completions []protocol.Completion
	trips       [][]protocol.TripUpdate
	photos      [][]protocol.Photo
	errs        []error
	states      []domain.ConnectionState
	terminals   []*socket.TerminalError
}

func (r *recorder) listener() Listener {
	return Listener{
		OnThread: func(v []domain.ChatMessage) { r.mu.Lock(); r.visible = v; r.mu.Unlock() },
		OnComposing: func(s stream.Snapshot) {
			r.mu.Lock()
			r.composing = append(r.composing, s)
			r.mu.Unlock()
		},
		OnProgress: func(p protocol.Progress) { r.mu.Lock(); r.progress = append(r.progress, p); r.mu.Unlock() },
		OnValidation: func(v protocol.Validation) {
			r.mu.Lock()
			r.validations = append(r.validations, v)
			r.mu.Unlock()
		},
		OnComplete: func(c protocol.Completion) {
			r.mu.Lock()
			r.completions = append(r.completions, c)
			r.mu.Unlock()
		},
		OnTripUpdate: func(u []protocol.TripUpdate) { r.mu.Lock(); r.trips = append(r.trips, u); r.mu.Unlock() },
		OnPhotos:     func(p []protocol.Photo) { r.mu.Lock(); r.photos = append(r.photos, p); r.mu.Unlock() },
		OnError:      func(err error) { r.mu.Lock(); r.errs = append(r.errs, err); r.mu.Unlock() },
		OnStatus:     func(s domain.ConnectionState) { r.mu.Lock(); r.states = append(r.states, s); r.mu.Unlock() },
		OnTerminal: func(err *socket.TerminalError) {
			r.mu.Lock()
			r.terminals = append(r.terminals, err)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) read(fn func(r *recorder)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r)
}

func waitState(t *testing.T, c *Controller, want domain.ConnectionState) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == want }, 2*time.Second, 5*time.Millisecond)
}

func findByText(msgs []domain.ChatMessage, text string) (domain.ChatMessage, bool) {
	for _, m := range msgs {
		if m.Text == text {
			return m, true
		}
	}
	return domain.ChatMessage{}, false
}
