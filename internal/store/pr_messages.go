package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pr-slack-tracker/internal/models"
)

// PRMessageStore handles tracked PR message rows.
type PRMessageStore struct {
	db *Database
}

// NewPRMessageStore creates a new PRMessageStore.
func NewPRMessageStore(db *Database) *PRMessageStore {
	return &PRMessageStore{db: db}
}

// Upsert inserts the row for (pr_url, slack_channel) or, if it already
// exists, refreshes its message timestamp, state and last_updated. The
// message identity normally never changes after the first post; carrying it
// in the update keeps the operation a plain last-writer-wins upsert.
func (s *PRMessageStore) Upsert(ctx context.Context, msg *models.PRMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if msg.LastUpdated.IsZero() {
		msg.LastUpdated = time.Now().UTC()
	}

	query := `
		INSERT INTO pr_messages (pr_url, slack_channel, slack_message_ts, pr_state, owner, repo, pr_number, last_updated)
		VALUES (:pr_url, :slack_channel, :slack_message_ts, :pr_state, :owner, :repo, :pr_number, :last_updated)
		ON CONFLICT(pr_url, slack_channel) DO UPDATE SET
			slack_message_ts = excluded.slack_message_ts,
			pr_state = excluded.pr_state,
			last_updated = excluded.last_updated
	`
	if _, err := s.db.NamedExecContext(ctx, query, msg); err != nil {
		return fmt.Errorf("failed to upsert PR message for %s in %s: %w", msg.PRURL, msg.SlackChannel, err)
	}
	return nil
}

// Get returns the tracked message for a PR in one channel, or nil if the
// channel does not track it.
func (s *PRMessageStore) Get(ctx context.Context, prURL, channel string) (*models.PRMessage, error) {
	var msg models.PRMessage
	err := s.db.GetContext(ctx, &msg,
		`SELECT * FROM pr_messages WHERE pr_url = ? AND slack_channel = ?`, prURL, channel)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get PR message for %s in %s: %w", prURL, channel, err)
	}
	return &msg, nil
}

// GetByURL returns every channel's tracked message for a PR URL.
func (s *PRMessageStore) GetByURL(ctx context.Context, prURL string) ([]models.PRMessage, error) {
	var msgs []models.PRMessage
	err := s.db.SelectContext(ctx, &msgs,
		`SELECT * FROM pr_messages WHERE pr_url = ? ORDER BY slack_channel`, prURL)
	if err != nil {
		return nil, fmt.Errorf("failed to list PR messages for %s: %w", prURL, err)
	}
	return msgs, nil
}

// ListOpen returns every tracked message whose PR is still open.
func (s *PRMessageStore) ListOpen(ctx context.Context) ([]models.PRMessage, error) {
	var msgs []models.PRMessage
	err := s.db.SelectContext(ctx, &msgs,
		`SELECT * FROM pr_messages WHERE pr_state = 'open' ORDER BY last_updated`)
	if err != nil {
		return nil, fmt.Errorf("failed to list open PR messages: %w", err)
	}
	return msgs, nil
}

// UpdateState sets the lifecycle state of one channel's tracked message.
func (s *PRMessageStore) UpdateState(ctx context.Context, prURL, channel string, state models.PRState) error {
	if !state.Valid() {
		return models.ErrInvalidPRState
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE pr_messages SET pr_state = ?, last_updated = ? WHERE pr_url = ? AND slack_channel = ?`,
		state, time.Now().UTC(), prURL, channel)
	if err != nil {
		return fmt.Errorf("failed to update PR state for %s in %s: %w", prURL, channel, err)
	}
	return nil
}
