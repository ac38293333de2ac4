// Package store provides the SQLite persistence layer: tracked PR messages,
// team configurations and GitHub-to-Slack user mappings.
package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Database wraps the sqlx.DB connection.
type Database struct {
	*sqlx.DB
}

// schema defines the database tables. pr_messages is keyed by
// (pr_url, slack_channel) so the same PR can be tracked in several channels
// independently. The pr_state CHECK keeps concurrent last-writer-wins
// updates from ever storing an invalid state.
const schema = `
CREATE TABLE IF NOT EXISTS pr_messages (
    pr_url TEXT NOT NULL,
    slack_channel TEXT NOT NULL,
    slack_message_ts TEXT NOT NULL,
    pr_state TEXT NOT NULL DEFAULT 'open' CHECK (pr_state IN ('open', 'closed', 'merged')),
    owner TEXT NOT NULL,
    repo TEXT NOT NULL,
    pr_number INTEGER NOT NULL,
    last_updated DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (pr_url, slack_channel)
);

CREATE TABLE IF NOT EXISTS team_configs (
    channel_id TEXT PRIMARY KEY,
    channel_name TEXT NOT NULL DEFAULT '',
    required_approvals INTEGER NOT NULL DEFAULT 2,
    notify_on_open INTEGER NOT NULL DEFAULT 1,
    notify_on_ready INTEGER NOT NULL DEFAULT 1,
    notify_on_changes_requested INTEGER NOT NULL DEFAULT 1,
    notify_on_approved INTEGER NOT NULL DEFAULT 1,
    notify_on_merged INTEGER NOT NULL DEFAULT 0,
    exclude_bot_comments INTEGER NOT NULL DEFAULT 1,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS team_members (
    channel_id TEXT NOT NULL,
    github_username TEXT NOT NULL,
    slack_user_id TEXT NOT NULL DEFAULT '',
    added_by TEXT NOT NULL DEFAULT '',
    added_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (channel_id, github_username),
    FOREIGN KEY (channel_id) REFERENCES team_configs(channel_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS team_repos (
    channel_id TEXT NOT NULL,
    repo_name TEXT NOT NULL,
    added_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (channel_id, repo_name),
    FOREIGN KEY (channel_id) REFERENCES team_configs(channel_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS user_mappings (
    github_username TEXT PRIMARY KEY,
    slack_user_id TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pr_messages_state ON pr_messages(pr_state);
CREATE INDEX IF NOT EXISTS idx_pr_messages_url ON pr_messages(pr_url);
CREATE INDEX IF NOT EXISTS idx_team_members_github ON team_members(github_username);
`

// NewDatabase creates a new database connection and initializes the schema.
func NewDatabase(dbPath string) (*Database, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// DSN parameters so every pooled connection gets WAL, foreign keys and
	// a busy timeout for concurrent webhook handling.
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", dbPath)
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Database{DB: db}, nil
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.DB.Close()
}
