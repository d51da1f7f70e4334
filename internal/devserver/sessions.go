package devserver

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/wayfarer/internal/domain"
)

// session is the server-side state of one realtime conversation.
type session struct {
	id       string
	kind     domain.SessionKind
	userID   string
	answered int
	done     bool
	started  time.Time
}

// conversation is a REST-backed chat thread.
type conversation struct {
	id       string
	messages []restMessage
}

// registry tracks sessions and REST conversations.
type registry struct {
	mu            sync.Mutex
	sessions      map[string]*session
	conversations map[string]*conversation
	newID         func() string
}

func newRegistry() *registry {
	return &registry{
		sessions:      make(map[string]*session),
		conversations: make(map[string]*conversation),
		newID:         func() string { return uuid.New().String() },
	}
}

func (r *registry) start(kind domain.SessionKind, userID string) *session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &session{
		id:      r.newID(),
		kind:    kind,
		userID:  userID,
		started: time.Now(),
	}
	r.sessions[s.id] = s
	return s
}

// lookup returns a copy of the session so the caller can read it without
// holding the lock.
func (r *registry) lookup(id string) (session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return session{}, false
	}
	return *s, true
}

// answer records one user turn and returns the 1-based answer number.
// Finished sessions return 0.
func (r *registry) answer(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.done {
		return 0
	}
	s.answered++
	return s.answered
}

func (r *registry) finish(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.done = true
	}
}

func (r *registry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// appendMessages adds messages to a conversation, creating it on first use.
func (r *registry) appendMessages(id string, msgs ...restMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[id]
	if !ok {
		c = &conversation{id: id}
		r.conversations[id] = c
	}
	c.messages = append(c.messages, msgs...)
}

func (r *registry) history(id string) ([]restMessage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[id]
	if !ok {
		return nil, false
	}
	out := make([]restMessage, len(c.messages))
	copy(out, c.messages)
	return out, true
}
