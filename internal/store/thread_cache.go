package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/wayfarer/internal/domain"
)

// ThreadCache implements Threads on SQLite.
type ThreadCache struct {
	db *DB
}

// NewThreadCache creates a thread cache using the given database.
func NewThreadCache(db *DB) *ThreadCache {
	return &ThreadCache{db: db}
}

// SaveThread upserts the full thread.
func (c *ThreadCache) SaveThread(ctx context.Context, conversationID string, msgs []domain.ChatMessage) error {
	if msgs == nil {
		msgs = []domain.ChatMessage{}
	}
	payload, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("encoding thread: %w", err)
	}
	count, last := summarize(msgs)
	now := time.Now().UTC().Format(time.RFC3339Nano)

	_, err = c.db.sql.ExecContext(ctx,
		`INSERT INTO thread_cache (conversation_id, payload, message_count, last_text, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(conversation_id) DO UPDATE SET
		   payload = excluded.payload,
		   message_count = excluded.message_count,
		   last_text = excluded.last_text,
		   updated_at = excluded.updated_at`,
		conversationID, string(payload), count, last, now,
	)
	if err != nil {
		return fmt.Errorf("saving thread %s: %w", conversationID, err)
	}
	return nil
}

// LoadThread returns the cached thread, or nil when none is stored.
func (c *ThreadCache) LoadThread(ctx context.Context, conversationID string) ([]domain.ChatMessage, error) {
	var payload string
	err := c.db.sql.QueryRowContext(ctx,
		`SELECT payload FROM thread_cache WHERE conversation_id = ?`, conversationID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading thread %s: %w", conversationID, err)
	}

	var msgs []domain.ChatMessage
	if err := json.Unmarshal([]byte(payload), &msgs); err != nil {
		// A corrupt cache entry is dropped rather than blocking the conversation.
		c.db.log.Warn().Err(err).Str("conversation", conversationID).Msg("discarding unreadable cached thread")
		return nil, nil
	}
	return msgs, nil
}

// SetKind records the session kind a conversation belongs to.
func (c *ThreadCache) SetKind(ctx context.Context, conversationID, kind string) error {
	_, err := c.db.sql.ExecContext(ctx,
		`INSERT INTO thread_cache (conversation_id, payload, kind, updated_at) VALUES (?, '[]', ?, ?)
		 ON CONFLICT(conversation_id) DO UPDATE SET kind = excluded.kind`,
		conversationID, kind, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("setting kind for %s: %w", conversationID, err)
	}
	return nil
}

// ListThreads returns cached conversations, most recently updated first.
func (c *ThreadCache) ListThreads(ctx context.Context) ([]ThreadSummary, error) {
	rows, err := c.db.sql.QueryContext(ctx,
		`SELECT conversation_id, kind, message_count, last_text, updated_at
		 FROM thread_cache ORDER BY updated_at DESC, conversation_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing threads: %w", err)
	}
	defer rows.Close()

	var out []ThreadSummary
	for rows.Next() {
		var s ThreadSummary
		var updated string
		if err := rows.Scan(&s.ConversationID, &s.Kind, &s.MessageCount, &s.LastText, &updated); err != nil {
			return nil, fmt.Errorf("scanning thread row: %w", err)
		}
		s.UpdatedAt = parseTime(updated)
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteThread removes a cached thread.
func (c *ThreadCache) DeleteThread(ctx context.Context, conversationID string) error {
	res, err := c.db.sql.ExecContext(ctx, `DELETE FROM thread_cache WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return fmt.Errorf("deleting thread %s: %w", conversationID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("thread %s: %w", conversationID, ErrNotFound)
	}
	return nil
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	t, _ := time.Parse(time.DateTime, s)
	return t
}
