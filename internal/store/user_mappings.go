package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"pr-slack-tracker/internal/log"
	"pr-slack-tracker/internal/models"
)

// UserMappingStore handles global GitHub-to-Slack user mappings and mention
// resolution.
type UserMappingStore struct {
	db *Database
}

// NewUserMappingStore creates a new UserMappingStore.
func NewUserMappingStore(db *Database) *UserMappingStore {
	return &UserMappingStore{db: db}
}

// Upsert stores or replaces the global mapping for a GitHub login.
func (s *UserMappingStore) Upsert(ctx context.Context, githubUsername, slackUserID string) error {
	if githubUsername == "" {
		return models.ErrGitHubLoginRequired
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_mappings (github_username, slack_user_id) VALUES (?, ?)
		ON CONFLICT(github_username) DO UPDATE SET slack_user_id = excluded.slack_user_id
	`, githubUsername, slackUserID)
	if err != nil {
		return fmt.Errorf("failed to upsert user mapping for %s: %w", githubUsername, err)
	}
	return nil
}

// Get returns the global Slack user ID for a GitHub login, or "" if unmapped.
func (s *UserMappingStore) Get(ctx context.Context, githubUsername string) (string, error) {
	var slackUserID string
	err := s.db.GetContext(ctx, &slackUserID,
		`SELECT slack_user_id FROM user_mappings WHERE github_username = ?`, githubUsername)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get user mapping for %s: %w", githubUsername, err)
	}
	return slackUserID, nil
}

// List returns every global mapping ordered by GitHub login.
func (s *UserMappingStore) List(ctx context.Context) ([]models.UserMapping, error) {
	var mappings []models.UserMapping
	err := s.db.SelectContext(ctx, &mappings,
		`SELECT github_username, slack_user_id FROM user_mappings ORDER BY github_username`)
	if err != nil {
		return nil, fmt.Errorf("failed to list user mappings: %w", err)
	}
	return mappings, nil
}

// SeedFromString seeds mappings from a comma-separated list of
// "ghUser:slackId" pairs. Malformed pairs are skipped with a warning;
// valid pairs still apply.
func (s *UserMappingStore) SeedFromString(ctx context.Context, mappings string) error {
	if mappings == "" {
		return nil
	}
	for _, pair := range strings.Split(mappings, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		ghUser, slackID, ok := strings.Cut(pair, ":")
		ghUser, slackID = strings.TrimSpace(ghUser), strings.TrimSpace(slackID)
		if !ok || ghUser == "" || slackID == "" {
			log.Warn(ctx, "Skipping malformed user mapping entry", "entry", pair)
			continue
		}
		if err := s.Upsert(ctx, ghUser, slackID); err != nil {
			return err
		}
	}
	return nil
}

// ResolveMention returns the Slack mention for a GitHub login, falling back
// to the literal username when unmapped. Resolution order: the channel's
// team-scoped mapping when channelID is known, then the global mapping.
func (s *UserMappingStore) ResolveMention(ctx context.Context, githubUsername, channelID string) string {
	if channelID != "" {
		var slackUserID string
		err := s.db.GetContext(ctx, &slackUserID, `
			SELECT slack_user_id FROM team_members
			WHERE github_username = ? AND channel_id = ? AND slack_user_id != ''
		`, githubUsername, channelID)
		if err == nil && slackUserID != "" {
			return "<@" + slackUserID + ">"
		}
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			log.Warn(ctx, "Failed to resolve team-scoped user mapping",
				"error", err, "github_username", githubUsername, "channel", channelID)
		}
	}

	slackUserID, err := s.Get(ctx, githubUsername)
	if err != nil {
		log.Warn(ctx, "Failed to resolve global user mapping",
			"error", err, "github_username", githubUsername)
		return githubUsername
	}
	if slackUserID != "" {
		return "<@" + slackUserID + ">"
	}
	return githubUsername
}
