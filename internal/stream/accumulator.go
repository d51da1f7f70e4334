// Package stream assembles streamed token fragments into a live draft and
// hands the finalized assistant turn to the thread.
package stream

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/wayfarer/internal/domain"
	"github.com/soyeahso/wayfarer/internal/logging"
)

// DraftID is the id of the synthetic in-progress message.
const DraftID = "draft"

// DefaultMinComposing keeps the typing indicator up long enough not to flicker.
const DefaultMinComposing = 400 * time.Millisecond

// Sink receives finalized messages.
type Sink interface {
	AppendServerPush(msg domain.ChatMessage) error
}

// Snapshot is the UI-facing state of the accumulator.
type Snapshot struct {
	Composing bool
	Draft     *domain.ChatMessage
}

// Config controls the accumulator.
type Config struct {
	// MinComposing is the minimum time the composing flag stays raised after
	// a thinking event, even if tokens arrive sooner.
	MinComposing time.Duration
}

// Accumulator buffers tokens between a thinking pulse and the final message.
// The buffer is only ever shown as a draft; the stored message always uses
// the server's full text.
type Accumulator struct {
	cfg  Config
	sink Sink
	log  *logging.Logger
	now  func() time.Time

	mu        sync.Mutex
	buf       strings.Builder
	thinking  bool
	since     time.Time
	holdTimer *time.Timer
	onChange  func(Snapshot)
}

// New creates an accumulator writing finalized messages to sink.
func New(cfg Config, sink Sink, log *logging.Logger) *Accumulator {
	if cfg.MinComposing < 0 {
		cfg.MinComposing = 0
	}
	return &Accumulator{
		cfg:  cfg,
		sink: sink,
		log:  log.Sub("stream"),
		now:  time.Now,
	}
}

// OnChange registers the snapshot listener.
func (a *Accumulator) OnChange(fn func(Snapshot)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onChange = fn
}

// OnThinking clears the buffer and raises the composing flag.
func (a *Accumulator) OnThinking() {
	a.mu.Lock()
	a.buf.Reset()
	a.thinking = true
	a.since = a.now()
	a.stopHoldLocked()
	if a.cfg.MinComposing > 0 {
		a.holdTimer = time.AfterFunc(a.cfg.MinComposing, a.notify)
	}
	a.mu.Unlock()
	a.notify()
}

// OnToken appends a fragment to the draft.
func (a *Accumulator) OnToken(fragment string) {
	if fragment == "" {
		return
	}
	a.mu.Lock()
	if !a.thinking {
		// Tokens without a preceding thinking pulse still mark a turn in progress.
		a.thinking = true
		a.since = a.now().Add(-a.cfg.MinComposing)
	}
	a.buf.WriteString(fragment)
	a.mu.Unlock()
	a.notify()
}

// Finalize drops the buffer, clears composing, and stores msg. An empty
// buffer is fine: instant answers finalize without any tokens.
func (a *Accumulator) Finalize(msg domain.ChatMessage) error {
	a.mu.Lock()
	discarded := a.buf.Len()
	a.buf.Reset()
	a.thinking = false
	a.stopHoldLocked()
	a.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Role == "" {
		msg.Role = domain.RoleAssistant
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = a.now()
	}
	a.log.Debug().Str("id", msg.ID).Int("discardedBytes", discarded).Msg("turn finalized")

	err := a.sink.AppendServerPush(msg)
	a.notify()
	return err
}

// Reset discards any partial turn, e.g. after the socket dropped mid-stream.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	a.buf.Reset()
	a.thinking = false
	a.stopHoldLocked()
	a.mu.Unlock()
	a.notify()
}

// Composing reports whether the typing indicator should show. It stays on
// while no tokens have arrived, and for at least MinComposing after thinking.
func (a *Accumulator) Composing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.composingLocked()
}

func (a *Accumulator) composingLocked() bool {
	if !a.thinking {
		return false
	}
	return a.buf.Len() == 0 || a.now().Sub(a.since) < a.cfg.MinComposing
}

// Draft returns the live synthetic message, if any tokens are buffered.
func (a *Accumulator) Draft() (domain.ChatMessage, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.draftLocked()
}

func (a *Accumulator) draftLocked() (domain.ChatMessage, bool) {
	if a.buf.Len() == 0 {
		return domain.ChatMessage{}, false
	}
	return domain.ChatMessage{
		ID:        DraftID,
		Role:      domain.RoleAssistant,
		Text:      a.buf.String(),
		CreatedAt: a.since,
	}, true
}

// Snapshot returns the current UI state.
func (a *Accumulator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Accumulator) snapshotLocked() Snapshot {
	s := Snapshot{Composing: a.composingLocked()}
	if d, ok := a.draftLocked(); ok {
		s.Draft = &d
	}
	return s
}

func (a *Accumulator) stopHoldLocked() {
	if a.holdTimer != nil {
		a.holdTimer.Stop()
		a.holdTimer = nil
	}
}

func (a *Accumulator) notify() {
	a.mu.Lock()
	fn := a.onChange
	s := a.snapshotLocked()
	a.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}
