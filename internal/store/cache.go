package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/wayfarer/internal/config"
	"github.com/soyeahso/wayfarer/internal/domain"
	"github.com/soyeahso/wayfarer/internal/logging"
)

// ErrNotFound is returned when a cached entry does not exist.
var ErrNotFound = errors.New("not found")

// ThreadSummary describes one cached conversation.
type ThreadSummary struct {
	ConversationID string    `json:"conversationId"`
	Kind           string    `json:"kind,omitempty"`
	MessageCount   int       `json:"messageCount"`
	LastText       string    `json:"lastText,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Threads caches whole chat threads keyed by conversation id. Writes are
// last-writer-wins.
type Threads interface {
	SaveThread(ctx context.Context, conversationID string, msgs []domain.ChatMessage) error
	LoadThread(ctx context.Context, conversationID string) ([]domain.ChatMessage, error)
	ListThreads(ctx context.Context) ([]ThreadSummary, error)
	DeleteThread(ctx context.Context, conversationID string) error
	SetKind(ctx context.Context, conversationID, kind string) error
}

// Profiles caches the logged-in user's profile.
type Profiles interface {
	SaveProfile(ctx context.Context, p domain.UserProfile) error
	LoadProfile(ctx context.Context) (*domain.UserProfile, error)
}

// Backend bundles the caches selected by config.
type Backend struct {
	Threads  Threads
	Profiles Profiles
	closer   func() error
}

// Close releases the underlying database, if any.
func (b *Backend) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer()
}

// OpenBackend opens the configured store ("sqlite" or "memory").
func OpenBackend(cfg config.StorageConfig, dbPath string, log *logging.Logger) (*Backend, error) {
	switch cfg.Store {
	case "memory":
		return &Backend{Threads: NewMemoryThreadCache(), Profiles: NewMemoryProfileStore()}, nil
	case "", "sqlite":
		db, err := Open(dbPath, log)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Threads:  NewThreadCache(db),
			Profiles: NewProfileStore(db),
			closer:   db.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

func summarize(msgs []domain.ChatMessage) (count int, last string) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Text != "" {
			last = msgs[i].Text
			break
		}
	}
	const maxLast = 120
	if r := []rune(last); len(r) > maxLast {
		last = string(r[:maxLast]) + "…"
	}
	return len(msgs), last
}
