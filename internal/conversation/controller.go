// Package conversation wires a realtime session together: the socket feeds
// the decoder, decoded events drive the token accumulator and the thread, and
// the pagination window projects what the user sees.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/soyeahso/wayfarer/internal/api"
	"github.com/soyeahso/wayfarer/internal/config"
	"github.com/soyeahso/wayfarer/internal/domain"
	"github.com/soyeahso/wayfarer/internal/hooks"
	"github.com/soyeahso/wayfarer/internal/logging"
	"github.com/soyeahso/wayfarer/internal/pagination"
	"github.com/soyeahso/wayfarer/internal/protocol"
	"github.com/soyeahso/wayfarer/internal/socket"
	"github.com/soyeahso/wayfarer/internal/store"
	"github.com/soyeahso/wayfarer/internal/stream"
	"github.com/soyeahso/wayfarer/internal/thread"
)

var (
	ErrNotStarted     = errors.New("conversation not started")
	ErrAlreadyStarted = errors.New("conversation already bound to another session")
)

const profileSaveTimeout = 5 * time.Second

// ServerError is an error event sent by the server. It does not close the
// socket.
type ServerError struct {
	SessionID string
	Message   string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("session %s: server error: %s", e.SessionID, e.Message)
}

// Starter obtains a session id from the REST collaborator.
type Starter interface {
	Start(ctx context.Context, kind domain.SessionKind, userID string) (*api.StartResult, error)
}

// Listener receives UI-facing updates. Any field may be nil. Callbacks run on
// socket, timer, or caller goroutines and must not block.
type Listener struct {
	OnThread     func(visible []domain.ChatMessage)
	OnComposing  func(stream.Snapshot)
	OnProgress   func(protocol.Progress)
	OnValidation func(protocol.Validation)
	OnComplete   func(protocol.Completion)
	OnTripUpdate func([]protocol.TripUpdate)
	OnPhotos     func([]protocol.Photo)
	OnError      func(error)
	OnStatus     func(domain.ConnectionState)
	OnTerminal   func(*socket.TerminalError)
}

// Option configures a Controller.
type Option func(*Controller)

// WithPersister caches the thread through p.
func WithPersister(p thread.Persister) Option {
	return func(c *Controller) { c.persister = p }
}

// WithProfiles stores the profile produced by a completed profiling session.
func WithProfiles(p store.Profiles) Option {
	return func(c *Controller) { c.profiles = p }
}

// WithHooks emits lifecycle events to hm.
func WithHooks(hm *hooks.Manager) Option {
	return func(c *Controller) { c.hooks = hm }
}

// WithListener installs the initial listener.
func WithListener(l Listener) Option {
	return func(c *Controller) { c.listener = l }
}

// WithSocketOptions passes options through to the socket manager.
func WithSocketOptions(opts ...socket.Option) Option {
	return func(c *Controller) { c.socketOpts = append(c.socketOpts, opts...) }
}

// Controller owns one realtime conversation. It is the single writer of the
// thread; the socket manager owns the connection.
type Controller struct {
	cfg     config.Config
	profile Profile
	log     *logging.Logger

	persister  thread.Persister
	profiles   store.Profiles
	hooks      *hooks.Manager
	socketOpts []socket.Option

	sock   *socket.Manager
	disp   *protocol.Dispatcher
	window *pagination.Window

	mu        sync.Mutex
	listener  Listener
	sess      domain.Session
	ctx       context.Context
	thread    *thread.Store
	acc       *stream.Accumulator
	progress  *protocol.Progress
	completed bool
	closed    bool
}

// New creates a controller for one session kind. Nothing connects until
// Start or Attach.
func New(cfg config.Config, kind domain.SessionKind, log *logging.Logger, opts ...Option) (*Controller, error) {
	profile, err := KindProfile(cfg.Realtime, kind)
	if err != nil {
		return nil, err
	}
	c := &Controller{
		cfg:     cfg,
		profile: profile,
		log:     log.Sub("conversation").With("kind", string(kind)),
	}
	for _, o := range opts {
		o(c)
	}

	c.window = pagination.New(cfg.Pagination.PageSize,
		pagination.WithLoadDelay(time.Duration(cfg.Pagination.LoadDelayMs)*time.Millisecond))
	c.disp = protocol.NewDispatcher(protocol.NewDecoder(profile.Aliases), log)
	c.registerEvents()
	c.sock = socket.NewManager(profile.SocketConfig(cfg.Realtime), log,
		append(c.socketOpts, socket.WithHandlers(c.socketHandlers()))...)
	return c, nil
}

// SetListener replaces the listener without touching the connection.
func (c *Controller) SetListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = l
}

func (c *Controller) currentListener() Listener {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listener
}

// Start asks the server for a new session, seeds the thread with the first
// message, and connects. The socket is never dialed before the session id
// exists.
func (c *Controller) Start(ctx context.Context, starter Starter, userID string) (domain.Session, error) {
	res, err := starter.Start(ctx, c.profile.Kind, userID)
	if err != nil {
		return domain.Session{}, err
	}
	sess := domain.Session{ID: res.SessionID, Kind: c.profile.Kind, UserID: userID}
	if err := c.Attach(ctx, sess, res.FirstMessage); err != nil {
		return domain.Session{}, err
	}
	return sess, nil
}

// Attach binds the controller to an existing session: it restores the cached
// thread, seeds firstMessage into an empty thread, and connects. Attaching
// the same session again is a no-op.
func (c *Controller) Attach(ctx context.Context, sess domain.Session, firstMessage string) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	if sess.Kind != c.profile.Kind {
		return fmt.Errorf("%w: %s session on a %s controller", domain.ErrInvalidSession, sess.Kind, c.profile.Kind)
	}

	c.mu.Lock()
	if c.thread != nil {
		same := c.sess.ID == sess.ID
		c.mu.Unlock()
		if same {
			return nil
		}
		return ErrAlreadyStarted
	}
	th := thread.New(sess.ID,
		thread.WithPersister(c.persister),
		thread.WithDebounce(time.Duration(c.cfg.Storage.DebounceMs)*time.Millisecond),
		thread.WithLogger(c.log),
		thread.WithChangeListener(c.threadChanged),
	)
	acc := stream.New(stream.Config{
		MinComposing: time.Duration(c.cfg.Realtime.MinComposingMs) * time.Millisecond,
	}, th, c.log)
	acc.OnChange(c.composingChanged)
	c.sess = sess
	c.ctx = ctx
	c.thread = th
	c.acc = acc
	c.mu.Unlock()

	if err := th.Restore(ctx); err != nil {
		c.log.Warn().Err(err).Msg("cached thread unavailable")
	}
	if k, ok := c.persister.(interface {
		SetKind(ctx context.Context, conversationID, kind string) error
	}); ok {
		if err := k.SetKind(ctx, sess.ID, string(sess.Kind)); err != nil {
			c.log.Debug().Err(err).Msg("kind not recorded")
		}
	}
	if th.Len() == 0 && firstMessage != "" {
		if err := th.AppendServerPush(domain.ChatMessage{Role: domain.RoleAssistant, Text: firstMessage}); err != nil {
			return err
		}
	}
	c.window.Initial(th.Len(), c.cfg.Pagination.PageSize)
	c.notifyThread(th.Messages())

	c.emit(ctx, hooks.EventSessionStart, map[string]any{"resumed": firstMessage == ""})
	return c.sock.Connect(ctx, sess)
}

func (c *Controller) bound() (*thread.Store, *stream.Accumulator, domain.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.thread == nil {
		return nil, nil, domain.Session{}, ErrNotStarted
	}
	return c.thread, c.acc, c.sess, nil
}

// Send inserts an optimistic user message and writes it to the socket. When
// the socket is not open the message is marked failed for a manual retry;
// nothing is queued or replayed.
func (c *Controller) Send(text string) (string, error) {
	th, _, _, err := c.bound()
	if err != nil {
		return "", err
	}
	id, err := th.AppendOptimistic(text)
	if err != nil {
		return "", err
	}
	return id, c.deliver(th, id, text)
}

// Retry resends a failed message under a new id.
func (c *Controller) Retry(id string) (string, error) {
	th, _, _, err := c.bound()
	if err != nil {
		return "", err
	}
	newID, text, err := th.Retry(id)
	if err != nil {
		return "", err
	}
	return newID, c.deliver(th, newID, text)
}

func (c *Controller) deliver(th *thread.Store, id, text string) error {
	frame := protocol.NewMessage(c.profile.FrameType, text, id)
	if !c.sock.Send(frame) {
		if err := th.MarkFailed(id); err != nil && !errors.Is(err, thread.ErrNotFound) {
			return err
		}
		return fmt.Errorf("send %s: %w", id, socket.ErrNotOpen)
	}
	// A history reload may have dropped the optimistic copy.
	if err := th.Confirm(id); err != nil && !errors.Is(err, thread.ErrNotFound) {
		return err
	}
	return nil
}

// Decide records a decision on a proposal card. It reports false when the
// proposal was already decided.
func (c *Controller) Decide(proposalID string, d domain.Decision) (bool, error) {
	th, _, _, err := c.bound()
	if err != nil {
		return false, err
	}
	return th.UpdateProposalDecision(proposalID, d)
}

// LoadMore reveals the next page of older history and returns how many
// messages were revealed, which is also the scroll anchor offset.
func (c *Controller) LoadMore(ctx context.Context) (int, error) {
	th, _, _, err := c.bound()
	if err != nil {
		return 0, err
	}
	n, err := c.window.LoadMore(ctx)
	if err != nil || n == 0 {
		return n, err
	}
	c.notifyThread(th.Messages())
	return n, nil
}

// HasMore reports whether older history is hidden.
func (c *Controller) HasMore() bool {
	return c.window.HasMore()
}

// Visible returns the tail of the thread inside the pagination window.
func (c *Controller) Visible() []domain.ChatMessage {
	th, _, _, err := c.bound()
	if err != nil {
		return nil
	}
	return pagination.Project(c.window, th.Messages())
}

// Messages returns the whole thread.
func (c *Controller) Messages() []domain.ChatMessage {
	th, _, _, err := c.bound()
	if err != nil {
		return nil
	}
	return th.Messages()
}

// Draft returns the composing flag and the live draft, if any.
func (c *Controller) Draft() stream.Snapshot {
	_, acc, _, err := c.bound()
	if err != nil {
		return stream.Snapshot{}
	}
	return acc.Snapshot()
}

// Progress returns the last profiling progress report.
func (c *Controller) Progress() (protocol.Progress, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.progress == nil {
		return protocol.Progress{}, false
	}
	return *c.progress, true
}

// Completed reports whether the session delivered its terminal payload.
func (c *Controller) Completed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed
}

// State returns the socket state.
func (c *Controller) State() domain.ConnectionState {
	return c.sock.State()
}

// Session returns the bound session.
func (c *Controller) Session() domain.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// Close disconnects with a normal closure, drops any partial turn, and
// flushes the thread. It is safe to call more than once.
func (c *Controller) Close(ctx context.Context) error {
	c.sock.Disconnect("conversation closed")
	th, acc, _, err := c.bound()
	if err != nil {
		return nil
	}
	c.mu.Lock()
	already := c.closed
	c.closed = true
	c.mu.Unlock()
	if already {
		return nil
	}
	acc.Reset()
	if err := th.Close(ctx); err != nil {
		return err
	}
	c.emit(ctx, hooks.EventSessionEnd, nil)
	return nil
}

func (c *Controller) registerEvents() {
	c.disp.On(protocol.TagMessage, c.onMessage)
	c.disp.On(protocol.TagToken, func(ev protocol.Event) {
		if _, acc, _, err := c.bound(); err == nil {
			acc.OnToken(ev.Frame.Token)
		}
	})
	c.disp.On(protocol.TagThinking, func(protocol.Event) {
		if _, acc, _, err := c.bound(); err == nil {
			acc.OnThinking()
		}
	})
	c.disp.On(protocol.TagProgress, c.onProgress)
	c.disp.On(protocol.TagValidation, func(ev protocol.Event) {
		if l := c.currentListener(); l.OnValidation != nil {
			l.OnValidation(ev.Validation())
		}
	})
	c.disp.On(protocol.TagComplete, c.onComplete)
	c.disp.On(protocol.TagTripUpdated, func(ev protocol.Event) {
		if l := c.currentListener(); l.OnTripUpdate != nil {
			l.OnTripUpdate(ev.Frame.Updates)
		}
	})
	c.disp.On(protocol.TagPhotos, func(ev protocol.Event) {
		if l := c.currentListener(); l.OnPhotos != nil {
			l.OnPhotos(ev.Frame.Photos)
		}
	})
	c.disp.On(protocol.TagError, func(ev protocol.Event) {
		_, _, sess, _ := c.bound()
		err := &ServerError{SessionID: sess.ID, Message: ev.ErrorText()}
		c.log.Warn().Str("message", err.Message).Msg("server error event")
		if l := c.currentListener(); l.OnError != nil {
			l.OnError(err)
		}
	})
	c.disp.On(protocol.TagPong, func(protocol.Event) {})
}

// onMessage routes a complete turn. User echoes reconcile with the optimistic
// copy by correlation id; everything else finalizes the streamed draft.
func (c *Controller) onMessage(ev protocol.Event) {
	th, acc, _, err := c.bound()
	if err != nil {
		return
	}
	msg := ev.ChatMessage()
	if msg.Role == domain.RoleUser {
		err = th.AppendServerPush(msg)
	} else {
		err = acc.Finalize(msg)
	}
	if err != nil {
		c.log.Warn().Err(err).Msg("message not stored")
	}
}

func (c *Controller) onProgress(ev protocol.Event) {
	p := ev.Progress()
	c.mu.Lock()
	c.progress = &p
	c.mu.Unlock()
	c.log.Debug().Str("progress", p.String()).Msg("progress")
	if l := c.currentListener(); l.OnProgress != nil {
		l.OnProgress(p)
	}
}

// onComplete delivers the terminal payload once per session. Planning
// completions carry text, which becomes the final assistant turn.
func (c *Controller) onComplete(ev protocol.Event) {
	c.mu.Lock()
	if c.completed || c.thread == nil {
		c.mu.Unlock()
		return
	}
	c.completed = true
	acc, sess, ctx := c.acc, c.sess, c.ctx
	c.mu.Unlock()

	done := ev.Completion()
	if done.Content != "" {
		if err := acc.Finalize(domain.ChatMessage{Role: domain.RoleAssistant, Text: done.Content}); err != nil {
			c.log.Warn().Err(err).Msg("completion message not stored")
		}
	} else {
		acc.Reset()
	}

	if done.ProfileID != "" {
		c.saveProfile(ctx, sess, done)
	}
	c.log.Info().Str("profile", done.ProfileID).Float64("completeness", done.Completeness).Msg("session complete")
	c.emit(ctx, hooks.EventSessionComplete, map[string]any{
		"profileId":    done.ProfileID,
		"completeness": done.Completeness,
	})
	if l := c.currentListener(); l.OnComplete != nil {
		l.OnComplete(done)
	}
}

func (c *Controller) saveProfile(ctx context.Context, sess domain.Session, done protocol.Completion) {
	if c.profiles == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), profileSaveTimeout)
	defer cancel()

	p := domain.UserProfile{UserID: sess.UserID}
	if existing, err := c.profiles.LoadProfile(ctx); err == nil {
		p = *existing
	} else if !errors.Is(err, store.ErrNotFound) {
		c.log.Warn().Err(err).Msg("cached profile unreadable, replacing")
	}
	if sess.UserID != "" {
		p.UserID = sess.UserID
	}
	p.ProfileID = done.ProfileID
	p.Completeness = done.Completeness
	p.UpdatedAt = time.Now().UTC()
	if err := c.profiles.SaveProfile(ctx, p); err != nil {
		c.log.Warn().Err(err).Msg("profile not cached")
	}
}

func (c *Controller) socketHandlers() socket.Handlers {
	return socket.Handlers{
		OnFrame: c.disp.HandleFrame,
		OnOpen: func() {
			c.emit(c.hookContext(), hooks.EventSocketOpen, nil)
		},
		OnClose: func(ev socket.CloseEvent) {
			// Anything mid-stream on the old socket is lost.
			if _, acc, _, err := c.bound(); err == nil {
				acc.Reset()
			}
			ctx := c.hookContext()
			c.emit(ctx, hooks.EventSocketClose, map[string]any{
				"code":      ev.Code,
				"reason":    ev.Reason,
				"reconnect": ev.Reconnect,
			})
			if ev.Reconnect {
				c.emit(ctx, hooks.EventReconnectScheduled, map[string]any{"code": ev.Code})
			}
		},
		OnError: func(err error) {
			if l := c.currentListener(); l.OnError != nil {
				l.OnError(err)
			}
		},
		OnTerminal: func(err *socket.TerminalError) {
			c.emit(c.hookContext(), hooks.EventSessionTerminal, map[string]any{
				"code":   err.Code,
				"reason": err.Reason,
			})
			if l := c.currentListener(); l.OnTerminal != nil {
				l.OnTerminal(err)
			}
		},
		OnState: func(s domain.ConnectionState) {
			if l := c.currentListener(); l.OnStatus != nil {
				l.OnStatus(s)
			}
		},
	}
}

func (c *Controller) hookContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx == nil {
		return context.Background()
	}
	return context.WithoutCancel(c.ctx)
}

func (c *Controller) threadChanged(msgs []domain.ChatMessage) {
	c.window.SetTotal(len(msgs))
	c.notifyThread(msgs)
}

func (c *Controller) notifyThread(msgs []domain.ChatMessage) {
	if l := c.currentListener(); l.OnThread != nil {
		l.OnThread(pagination.Project(c.window, msgs))
	}
}

func (c *Controller) composingChanged(s stream.Snapshot) {
	if l := c.currentListener(); l.OnComposing != nil {
		l.OnComposing(s)
	}
}

func (c *Controller) emit(ctx context.Context, event string, data map[string]any) {
	if c.hooks == nil {
		return
	}
	c.hooks.Emit(ctx, event, c.Session(), data)
}
