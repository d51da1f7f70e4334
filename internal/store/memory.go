package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/soyeahso/wayfarer/internal/domain"
)

// MemoryThreadCache implements Threads in process memory.
type MemoryThreadCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	kind    string
	msgs    []domain.ChatMessage
	updated time.Time
}

// NewMemoryThreadCache creates an empty in-memory cache.
func NewMemoryThreadCache() *MemoryThreadCache {
	return &MemoryThreadCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryThreadCache) SaveThread(_ context.Context, id string, msgs []domain.ChatMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entries[id]
	e.msgs = domain.CloneMessages(msgs)
	if e.msgs == nil {
		e.msgs = []domain.ChatMessage{}
	}
	e.updated = c.now()
	c.entries[id] = e
	return nil
}

func (c *MemoryThreadCache) LoadThread(_ context.Context, id string) ([]domain.ChatMessage, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	if !ok {
		return nil, nil
	}
	return domain.CloneMessages(e.msgs), nil
}

func (c *MemoryThreadCache) SetKind(_ context.Context, id, kind string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entries[id]
	e.kind = kind
	if e.msgs == nil {
		e.msgs = []domain.ChatMessage{}
	}
	c.entries[id] = e
	return nil
}

func (c *MemoryThreadCache) ListThreads(_ context.Context) ([]ThreadSummary, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ThreadSummary, 0, len(c.entries))
	for id, e := range c.entries {
		count, last := summarize(e.msgs)
		out = append(out, ThreadSummary{
			ConversationID: id,
			Kind:           e.kind,
			MessageCount:   count,
			LastText:       last,
			UpdatedAt:      e.updated,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ConversationID < out[j].ConversationID
	})
	return out, nil
}

func (c *MemoryThreadCache) DeleteThread(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[id]; !ok {
		return fmt.Errorf("thread %s: %w", id, ErrNotFound)
	}
	delete(c.entries, id)
	return nil
}

// MemoryProfileStore implements Profiles in process memory.
type MemoryProfileStore struct {
	mu      sync.RWMutex
	profile *domain.UserProfile
}

// NewMemoryProfileStore creates an empty profile store.
func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{}
}

func (s *MemoryProfileStore) SaveProfile(_ context.Context, p domain.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	s.profile = &p
	return nil
}

func (s *MemoryProfileStore) LoadProfile(_ context.Context) (*domain.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.profile == nil {
		return nil, fmt.Errorf("profile: %w", ErrNotFound)
	}
	p := *s.profile
	return &p, nil
}
