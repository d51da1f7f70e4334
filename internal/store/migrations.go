package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations. Cached payload
// layout changes get a new migration instead of a new key.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create thread cache",
		SQL: `
			CREATE TABLE thread_cache (
				conversation_id TEXT PRIMARY KEY,
				payload         TEXT NOT NULL,
				message_count   INTEGER NOT NULL DEFAULT 0,
				last_text       TEXT NOT NULL DEFAULT '',
				updated_at      TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX idx_thread_cache_updated ON thread_cache (updated_at);
		`,
	},
	{
		Version: 2,
		Name:    "create user profile",
		SQL: `
			CREATE TABLE user_profile (
				id         INTEGER PRIMARY KEY CHECK (id = 1),
				user_id    TEXT NOT NULL,
				payload    TEXT NOT NULL,
				updated_at TEXT NOT NULL DEFAULT (datetime('now'))
			);
		`,
	},
	{
		Version: 3,
		Name:    "add thread kind",
		SQL: `
			ALTER TABLE thread_cache ADD COLUMN kind TEXT NOT NULL DEFAULT '';
		`,
	},
}
