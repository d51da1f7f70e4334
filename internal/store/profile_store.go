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

// ProfileStore implements Profiles on SQLite as a single-row table.
type ProfileStore struct {
	db *DB
}

// NewProfileStore creates a profile store using the given database.
func NewProfileStore(db *DB) *ProfileStore {
	return &ProfileStore{db: db}
}

// SaveProfile replaces the stored profile.
func (s *ProfileStore) SaveProfile(ctx context.Context, p domain.UserProfile) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding profile: %w", err)
	}
	_, err = s.db.sql.ExecContext(ctx,
		`INSERT INTO user_profile (id, user_id, payload, updated_at) VALUES (1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   user_id = excluded.user_id,
		   payload = excluded.payload,
		   updated_at = excluded.updated_at`,
		p.UserID, string(payload), p.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("saving profile: %w", err)
	}
	return nil
}

// LoadProfile returns the stored profile or ErrNotFound.
func (s *ProfileStore) LoadProfile(ctx context.Context) (*domain.UserProfile, error) {
	var payload string
	err := s.db.sql.QueryRowContext(ctx, `SELECT payload FROM user_profile WHERE id = 1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading profile: %w", err)
	}
	var p domain.UserProfile
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, fmt.Errorf("decoding profile: %w", err)
	}
	return &p, nil
}
