package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pr-slack-tracker/internal/models"
)

// TeamConfigStore handles team configurations: the per-channel tracking
// scope (members, repos) and notification preferences. It also answers the
// routing question of which channels care about a given author and repo.
type TeamConfigStore struct {
	db *Database
}

// NewTeamConfigStore creates a new TeamConfigStore.
func NewTeamConfigStore(db *Database) *TeamConfigStore {
	return &TeamConfigStore{db: db}
}

// Upsert writes a full team configuration, creating the row if needed.
func (s *TeamConfigStore) Upsert(ctx context.Context, cfg *models.TeamConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO team_configs (
			channel_id, channel_name, required_approvals,
			notify_on_open, notify_on_ready, notify_on_changes_requested,
			notify_on_approved, notify_on_merged, exclude_bot_comments, updated_at
		) VALUES (
			:channel_id, :channel_name, :required_approvals,
			:notify_on_open, :notify_on_ready, :notify_on_changes_requested,
			:notify_on_approved, :notify_on_merged, :exclude_bot_comments, :updated_at
		)
		ON CONFLICT(channel_id) DO UPDATE SET
			channel_name = excluded.channel_name,
			required_approvals = excluded.required_approvals,
			notify_on_open = excluded.notify_on_open,
			notify_on_ready = excluded.notify_on_ready,
			notify_on_changes_requested = excluded.notify_on_changes_requested,
			notify_on_approved = excluded.notify_on_approved,
			notify_on_merged = excluded.notify_on_merged,
			exclude_bot_comments = excluded.exclude_bot_comments,
			updated_at = excluded.updated_at
	`
	if _, err := s.db.NamedExecContext(ctx, query, cfg); err != nil {
		return fmt.Errorf("failed to upsert team config for %s: %w", cfg.ChannelID, err)
	}
	return nil
}

// EnsureExists creates the channel's configuration with defaults if it does
// not exist yet. Used by the first add-member/add-repo action.
func (s *TeamConfigStore) EnsureExists(ctx context.Context, channelID string) error {
	if channelID == "" {
		return models.ErrChannelRequired
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO team_configs (channel_id) VALUES (?) ON CONFLICT(channel_id) DO NOTHING`, channelID)
	if err != nil {
		return fmt.Errorf("failed to ensure team config for %s: %w", channelID, err)
	}
	return nil
}

// Get returns the channel's configuration without members and repos, or nil
// if the channel has never been configured.
func (s *TeamConfigStore) Get(ctx context.Context, channelID string) (*models.TeamConfig, error) {
	var cfg models.TeamConfig
	err := s.db.GetContext(ctx, &cfg, `SELECT * FROM team_configs WHERE channel_id = ?`, channelID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get team config for %s: %w", channelID, err)
	}
	return &cfg, nil
}

// GetFull returns the channel's configuration with members and repos loaded.
func (s *TeamConfigStore) GetFull(ctx context.Context, channelID string) (*models.TeamConfig, error) {
	cfg, err := s.Get(ctx, channelID)
	if err != nil || cfg == nil {
		return cfg, err
	}
	if cfg.Members, err = s.ListMembers(ctx, channelID); err != nil {
		return nil, err
	}
	if cfg.Repos, err = s.ListRepos(ctx, channelID); err != nil {
		return nil, err
	}
	return cfg, nil
}

// List returns every configured channel.
func (s *TeamConfigStore) List(ctx context.Context) ([]models.TeamConfig, error) {
	var cfgs []models.TeamConfig
	if err := s.db.SelectContext(ctx, &cfgs, `SELECT * FROM team_configs ORDER BY channel_id`); err != nil {
		return nil, fmt.Errorf("failed to list team configs: %w", err)
	}
	return cfgs, nil
}

// Delete removes a channel's configuration along with its members and repos.
func (s *TeamConfigStore) Delete(ctx context.Context, channelID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM team_configs WHERE channel_id = ?`, channelID); err != nil {
		return fmt.Errorf("failed to delete team config for %s: %w", channelID, err)
	}
	return nil
}

// AddMember adds a tracked GitHub user to a channel, creating the channel's
// configuration with defaults on first use. Re-adding an existing member is
// a no-op.
func (s *TeamConfigStore) AddMember(ctx context.Context, channelID, githubUsername, slackUserID, addedBy string) error {
	if githubUsername == "" {
		return models.ErrGitHubLoginRequired
	}
	if err := s.EnsureExists(ctx, channelID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO team_members (channel_id, github_username, slack_user_id, added_by)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(channel_id, github_username) DO UPDATE SET
			slack_user_id = CASE WHEN excluded.slack_user_id != '' THEN excluded.slack_user_id ELSE team_members.slack_user_id END
	`, channelID, githubUsername, slackUserID, addedBy)
	if err != nil {
		return fmt.Errorf("failed to add member %s to %s: %w", githubUsername, channelID, err)
	}
	return nil
}

// RemoveMember removes a tracked GitHub user from a channel.
func (s *TeamConfigStore) RemoveMember(ctx context.Context, channelID, githubUsername string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM team_members WHERE channel_id = ? AND github_username = ?`, channelID, githubUsername)
	if err != nil {
		return fmt.Errorf("failed to remove member %s from %s: %w", githubUsername, channelID, err)
	}
	return nil
}

// ListMembers returns the channel's tracked members in insertion order.
func (s *TeamConfigStore) ListMembers(ctx context.Context, channelID string) ([]models.TeamMember, error) {
	var members []models.TeamMember
	err := s.db.SelectContext(ctx, &members,
		`SELECT * FROM team_members WHERE channel_id = ? ORDER BY added_at, github_username`, channelID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members for %s: %w", channelID, err)
	}
	return members, nil
}

// AddRepo adds a tracked repository to a channel, creating the channel's
// configuration with defaults on first use. Re-adding is a no-op.
func (s *TeamConfigStore) AddRepo(ctx context.Context, channelID, repoName string) error {
	if repoName == "" {
		return models.ErrRepoRequired
	}
	if err := s.EnsureExists(ctx, channelID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO team_repos (channel_id, repo_name) VALUES (?, ?)
		ON CONFLICT(channel_id, repo_name) DO NOTHING
	`, channelID, repoName)
	if err != nil {
		return fmt.Errorf("failed to add repo %s to %s: %w", repoName, channelID, err)
	}
	return nil
}

// RemoveRepo removes a tracked repository from a channel.
func (s *TeamConfigStore) RemoveRepo(ctx context.Context, channelID, repoName string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM team_repos WHERE channel_id = ? AND repo_name = ?`, channelID, repoName)
	if err != nil {
		return fmt.Errorf("failed to remove repo %s from %s: %w", repoName, channelID, err)
	}
	return nil
}

// ListRepos returns the channel's tracked repository names.
func (s *TeamConfigStore) ListRepos(ctx context.Context, channelID string) ([]string, error) {
	var repos []string
	err := s.db.SelectContext(ctx, &repos,
		`SELECT repo_name FROM team_repos WHERE channel_id = ? ORDER BY added_at, repo_name`, channelID)
	if err != nil {
		return nil, fmt.Errorf("failed to list repos for %s: %w", channelID, err)
	}
	return repos, nil
}

// ResolveChannels returns the channels interested in a PR authored by
// githubUsername in repoName: channels tracking the user whose repo set is
// either empty (tracks all repos) or contains the repo. A channel with no
// members never matches. Computed fresh per event so configuration changes
// take effect immediately.
func (s *TeamConfigStore) ResolveChannels(ctx context.Context, githubUsername, repoName string) ([]string, error) {
	var channels []string
	err := s.db.SelectContext(ctx, &channels, `
		SELECT DISTINCT tm.channel_id
		FROM team_members tm
		JOIN team_configs tc ON tc.channel_id = tm.channel_id
		WHERE tm.github_username = ?
		  AND (
			NOT EXISTS (SELECT 1 FROM team_repos tr WHERE tr.channel_id = tm.channel_id)
			OR EXISTS (SELECT 1 FROM team_repos tr WHERE tr.channel_id = tm.channel_id AND tr.repo_name = ?)
		  )
		ORDER BY tm.channel_id
	`, githubUsername, repoName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve channels for %s/%s: %w", githubUsername, repoName, err)
	}
	return channels, nil
}
