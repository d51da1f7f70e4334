// Package thread holds the ordered message list of one conversation and
// reconciles optimistic sends with the server's authoritative messages.
package thread

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/wayfarer/internal/domain"
	"github.com/soyeahso/wayfarer/internal/logging"
	"github.com/soyeahso/wayfarer/internal/metrics"
)

// DefaultDebounce delays cache writes after a mutation.
const DefaultDebounce = 500 * time.Millisecond

var (
	ErrNotFound         = errors.New("message not found")
	ErrNotFailed        = errors.New("message is not in error state")
	ErrProposalNotFound = errors.New("proposal not found")
	ErrClosed           = errors.New("thread closed")
)

// Persister stores whole threads keyed by conversation id. LoadThread returns
// a nil slice when nothing is stored.
type Persister interface {
	SaveThread(ctx context.Context, conversationID string, msgs []domain.ChatMessage) error
	LoadThread(ctx context.Context, conversationID string) ([]domain.ChatMessage, error)
}

// Option configures a Store.
type Option func(*Store)

// WithPersister enables debounced writes through p.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithDebounce overrides the write debounce.
func WithDebounce(d time.Duration) Option {
	return func(s *Store) { s.debounce = d }
}

// WithLogger sets the logger.
func WithLogger(log *logging.Logger) Option {
	return func(s *Store) { s.log = log }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithChangeListener is called with a copy of the thread after every mutation.
func WithChangeListener(fn func([]domain.ChatMessage)) Option {
	return func(s *Store) { s.onChange = fn }
}

// Store is the single writer of a conversation's messages.
type Store struct {
	id        string
	persister Persister
	debounce  time.Duration
	log       *logging.Logger
	now       func() time.Time
	onChange  func([]domain.ChatMessage)

	mu        sync.Mutex
	msgs      []domain.ChatMessage
	saveTimer *time.Timer
	dirty     bool
	closed    bool

	saveMu sync.Mutex
}

// New creates an empty thread for a conversation.
func New(conversationID string, opts ...Option) *Store {
	s := &Store{
		id:       conversationID,
		debounce: DefaultDebounce,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = logging.New(nil, "silent")
	}
	s.log = s.log.Sub("thread").With("conversation", conversationID)
	return s
}

// ConversationID returns the key the thread is persisted under.
func (s *Store) ConversationID() string { return s.id }

// Messages returns a copy of the thread.
func (s *Store) Messages() []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.CloneMessages(s.msgs)
}

// Len returns the number of messages.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

// Get returns the message with the given id.
func (s *Store) Get(id string) (domain.ChatMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.msgs[i].Clone(), true
	}
	return domain.ChatMessage{}, false
}

// FindByCorrelation returns the message created by the optimistic send with
// the given client id.
func (s *Store) FindByCorrelation(clientID string) (domain.ChatMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.correlationIndexLocked(clientID); i >= 0 {
		return s.msgs[i].Clone(), true
	}
	return domain.ChatMessage{}, false
}

// AppendOptimistic inserts a sending user message at the tail and returns its
// id. The id doubles as the correlation id carried to the server.
func (s *Store) AppendOptimistic(text string) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrClosed
	}
	id := uuid.NewString()
	s.msgs = append(s.msgs, domain.ChatMessage{
		ID:        id,
		ClientID:  id,
		Role:      domain.RoleUser,
		Text:      text,
		CreatedAt: s.now(),
		Status:    domain.StatusSending,
	})
	s.mutatedLocked()
	return id, nil
}

// Confirm marks a sending message as sent in place.
func (s *Store) Confirm(id string) error {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("confirm %s: %w", id, ErrNotFound)
	}
	if s.msgs[i].Status != domain.StatusSending {
		s.mu.Unlock()
		return nil
	}
	s.msgs[i].Status = domain.StatusSent
	s.mutatedLocked()
	return nil
}

// MarkSent replaces the optimistic message with the server's messages at the
// same position. Server messages whose id is already in the thread are dropped.
func (s *Store) MarkSent(id string, serverMsgs []domain.ChatMessage) error {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("mark sent %s: %w", id, ErrNotFound)
	}

	seen := make(map[string]bool, len(s.msgs))
	for j, m := range s.msgs {
		if j != i {
			seen[m.ID] = true
		}
	}
	repl := make([]domain.ChatMessage, 0, len(serverMsgs))
	for _, m := range serverMsgs {
		m = s.normalizeLocked(m)
		if seen[m.ID] {
			s.log.Debug().Str("id", m.ID).Msg("dropping duplicate server message")
			continue
		}
		seen[m.ID] = true
		if m.Role == domain.RoleUser {
			if m.Status == "" || m.Status == domain.StatusSending {
				m.Status = domain.StatusSent
			}
			if m.ClientID == "" {
				m.ClientID = s.msgs[i].ClientID
			}
		}
		repl = append(repl, m)
	}

	out := make([]domain.ChatMessage, 0, len(s.msgs)-1+len(repl))
	out = append(out, s.msgs[:i]...)
	out = append(out, repl...)
	out = append(out, s.msgs[i+1:]...)
	s.msgs = out
	s.mutatedLocked()
	return nil
}

// MarkFailed sets the message status to error in place.
func (s *Store) MarkFailed(id string) error {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("mark failed %s: %w", id, ErrNotFound)
	}
	s.msgs[i].Status = domain.StatusError
	s.mutatedLocked()
	return nil
}

// Retry removes a failed message and appends a fresh optimistic copy of its
// text. It returns the new id and the text to resend.
func (s *Store) Retry(id string) (string, string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", "", ErrClosed
	}
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return "", "", fmt.Errorf("retry %s: %w", id, ErrNotFound)
	}
	if s.msgs[i].Status != domain.StatusError {
		s.mu.Unlock()
		return "", "", fmt.Errorf("retry %s: %w", id, ErrNotFailed)
	}
	text := s.msgs[i].Text
	s.msgs = append(s.msgs[:i:i], s.msgs[i+1:]...)

	newID := uuid.NewString()
	s.msgs = append(s.msgs, domain.ChatMessage{
		ID:        newID,
		ClientID:  newID,
		Role:      domain.RoleUser,
		Text:      text,
		CreatedAt: s.now(),
		Status:    domain.StatusSending,
	})
	s.mutatedLocked()
	return newID, text, nil
}

// AppendServerPush inserts a message that did not answer a local send. A
// message echoing an optimistic send is merged into it and keeps the local
// id, so callers holding the id from Send or Retry can still address it. A
// message whose id is already present replaces the existing copy.
func (s *Store) AppendServerPush(msg domain.ChatMessage) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	msg = s.normalizeLocked(msg)

	if msg.ClientID != "" {
		if i := s.correlationIndexLocked(msg.ClientID); i >= 0 && s.msgs[i].Role == msg.Role {
			if msg.Role == domain.RoleUser {
				msg.Status = domain.StatusSent
			}
			serverID := msg.ID
			msg.ID = s.msgs[i].ID
			s.msgs[i] = msg
			s.dropLocked(serverID, i)
			s.mutatedLocked()
			return nil
		}
	}
	if i := s.indexLocked(msg.ID); i >= 0 {
		s.msgs[i] = msg
		s.mutatedLocked()
		return nil
	}
	s.msgs = append(s.msgs, msg)
	s.mutatedLocked()
	return nil
}

// UpdateProposalDecision moves a pending proposal to rejected or rated. It
// returns false without error when the proposal was already decided.
func (s *Store) UpdateProposalDecision(proposalID string, d domain.Decision) (bool, error) {
	if err := d.Validate(); err != nil {
		return false, err
	}
	if d.IsPending() {
		return false, fmt.Errorf("%w: cannot decide pending", domain.ErrInvalidDecision)
	}

	s.mu.Lock()
	for i := range s.msgs {
		for j := range s.msgs[i].Proposals {
			p := &s.msgs[i].Proposals[j]
			if p.ID != proposalID {
				continue
			}
			if !p.Decision.IsPending() {
				s.mu.Unlock()
				s.log.Debug().Str("proposal", proposalID).Str("decision", p.Decision.String()).Msg("proposal already decided")
				return false, nil
			}
			p.Decision = d
			s.mutatedLocked()
			return true, nil
		}
	}
	s.mu.Unlock()
	return false, fmt.Errorf("decide %s: %w", proposalID, ErrProposalNotFound)
}

// Replace swaps in a whole history, e.g. one fetched from the server.
func (s *Store) Replace(msgs []domain.ChatMessage) {
	s.mu.Lock()
	s.msgs = s.msgs[:0:0]
	seen := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		m = s.normalizeLocked(m)
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		s.msgs = append(s.msgs, m)
	}
	s.mutatedLocked()
}

// Restore loads the cached thread. Messages that were still sending when the
// cache was written are marked failed; their outcome is unknown.
func (s *Store) Restore(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	msgs, err := s.persister.LoadThread(ctx, s.id)
	if err != nil {
		return fmt.Errorf("restore thread: %w", err)
	}
	if msgs == nil {
		return nil
	}
	for i := range msgs {
		if msgs[i].Status == domain.StatusSending {
			msgs[i].Status = domain.StatusError
		}
	}

	s.mu.Lock()
	s.msgs = msgs
	n := len(msgs)
	fn := s.onChange
	snapshot := domain.CloneMessages(s.msgs)
	s.mu.Unlock()

	s.log.Debug().Int("messages", n).Msg("thread restored")
	if fn != nil {
		fn(snapshot)
	}
	return nil
}

// Flush writes pending changes now.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.saveTimer != nil {
		s.saveTimer.Stop()
		s.saveTimer = nil
	}
	if !s.dirty || s.persister == nil {
		s.mu.Unlock()
		return nil
	}
	s.dirty = false
	snapshot := domain.CloneMessages(s.msgs)
	s.mu.Unlock()

	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if err := s.persister.SaveThread(ctx, s.id, snapshot); err != nil {
		metrics.ThreadWrites.WithLabelValues("error").Inc()
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		return fmt.Errorf("save thread: %w", err)
	}
	metrics.ThreadWrites.WithLabelValues("ok").Inc()
	return nil
}

// Close flushes and rejects further appends.
func (s *Store) Close(ctx context.Context) error {
	err := s.Flush(ctx)
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return err
}

// mutatedLocked schedules a write and notifies the listener. It releases s.mu.
func (s *Store) mutatedLocked() {
	if s.persister != nil {
		s.dirty = true
		if s.saveTimer != nil {
			s.saveTimer.Stop()
		}
		s.saveTimer = time.AfterFunc(s.debounce, func() {
			if err := s.Flush(context.Background()); err != nil {
				s.log.Warn().Err(err).Msg("debounced write failed")
			}
		})
	}
	fn := s.onChange
	var snapshot []domain.ChatMessage
	if fn != nil {
		snapshot = domain.CloneMessages(s.msgs)
	}
	s.mu.Unlock()

	if fn != nil {
		fn(snapshot)
	}
}

func (s *Store) normalizeLocked(m domain.ChatMessage) domain.ChatMessage {
	m = m.Clone()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Role == "" {
		m.Role = domain.RoleAssistant
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	return m
}

// dropLocked removes every copy of id other than the one at keep.
func (s *Store) dropLocked(id string, keep int) {
	if id == s.msgs[keep].ID {
		return
	}
	out := s.msgs[:0]
	for j, m := range s.msgs {
		if j != keep && m.ID == id {
			continue
		}
		out = append(out, m)
	}
	s.msgs = out
}

func (s *Store) indexLocked(id string) int {
	for i := range s.msgs {
		if s.msgs[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) correlationIndexLocked(clientID string) int {
	if clientID == "" {
		return -1
	}
	for i := range s.msgs {
		if s.msgs[i].ClientID == clientID {
			return i
		}
	}
	return -1
}
