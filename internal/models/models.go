// Package models defines the domain types shared by the store, services and
// handlers: team configurations, tracked PR messages and review snapshots.
package models

import (
	"errors"
	"time"
)

var (
	ErrChannelRequired      = errors.New("channel ID is required")
	ErrPRURLRequired        = errors.New("PR URL is required")
	ErrMessageTSRequired    = errors.New("slack message timestamp is required")
	ErrPRNumberRequired     = errors.New("PR number is required")
	ErrRepoRequired         = errors.New("repository name is required")
	ErrOwnerRequired        = errors.New("repository owner is required")
	ErrGitHubLoginRequired  = errors.New("GitHub username is required")
	ErrInvalidPRState       = errors.New("invalid PR state")
	ErrInvalidApprovalCount = errors.New("required approvals must be positive")
	ErrMalformedMemberEntry = errors.New("malformed member entry")
)

// PRState is the lifecycle state of a tracked pull request.
type PRState string

const (
	PRStateOpen   PRState = "open"
	PRStateClosed PRState = "closed"
	PRStateMerged PRState = "merged"
)

// Valid reports whether s is one of the states the pr_messages schema allows.
func (s PRState) Valid() bool {
	switch s {
	case PRStateOpen, PRStateClosed, PRStateMerged:
		return true
	}
	return false
}

// ReviewState is the state of a GitHub pull request review, lowercased.
type ReviewState string

const (
	ReviewStateApproved         ReviewState = "approved"
	ReviewStateChangesRequested ReviewState = "changes_requested"
	ReviewStateCommented        ReviewState = "commented"
	ReviewStateDismissed        ReviewState = "dismissed"
	ReviewStatePending          ReviewState = "pending"
)

// TeamMember is one tracked GitHub user in a channel, with an optional
// channel-scoped Slack mapping.
type TeamMember struct {
	ChannelID      string    `db:"channel_id"`
	GitHubUsername string    `db:"github_username"`
	SlackUserID    string    `db:"slack_user_id"`
	AddedBy        string    `db:"added_by"`
	AddedAt        time.Time `db:"added_at"`
}

// TeamConfig is the per-channel tracking scope and notification preferences.
// The channel is the tenant key. An empty Repos slice means the team tracks
// every repository; an empty Members slice means it tracks nobody.
type TeamConfig struct {
	ChannelID                string    `db:"channel_id"`
	ChannelName              string    `db:"channel_name"`
	RequiredApprovals        int       `db:"required_approvals"`
	NotifyOnOpen             bool      `db:"notify_on_open"`
	NotifyOnReady            bool      `db:"notify_on_ready"`
	NotifyOnChangesRequested bool      `db:"notify_on_changes_requested"`
	NotifyOnApproved         bool      `db:"notify_on_approved"`
	NotifyOnMerged           bool      `db:"notify_on_merged"`
	ExcludeBotComments       bool      `db:"exclude_bot_comments"`
	CreatedAt                time.Time `db:"created_at"`
	UpdatedAt                time.Time `db:"updated_at"`

	// Loaded separately from team_members and team_repos.
	Members []TeamMember `db:"-"`
	Repos   []string     `db:"-"`
}

// DefaultTeamConfig returns the configuration a channel receives on its
// first configuration action.
func DefaultTeamConfig(channelID string) *TeamConfig {
	return &TeamConfig{
		ChannelID:                channelID,
		RequiredApprovals:        2,
		NotifyOnOpen:             true,
		NotifyOnReady:            true,
		NotifyOnChangesRequested: true,
		NotifyOnApproved:         true,
		NotifyOnMerged:           false,
		ExcludeBotComments:       true,
	}
}

// Validate validates required fields for TeamConfig.
func (tc *TeamConfig) Validate() error {
	if tc.ChannelID == "" {
		return ErrChannelRequired
	}
	if tc.RequiredApprovals <= 0 {
		return ErrInvalidApprovalCount
	}
	return nil
}

// PRMessage is one live Slack message tracking a PR in one channel. Keyed by
// (pr_url, slack_channel) so the same PR can be tracked independently by
// multiple channels. Rows are never deleted; closed and merged PRs stay
// around so late-arriving events still resolve to their thread.
type PRMessage struct {
	PRURL          string    `db:"pr_url"`
	SlackChannel   string    `db:"slack_channel"`
	SlackMessageTS string    `db:"slack_message_ts"`
	PRState        PRState   `db:"pr_state"`
	Owner          string    `db:"owner"`
	Repo           string    `db:"repo"`
	PRNumber       int       `db:"pr_number"`
	LastUpdated    time.Time `db:"last_updated"`
}

// Validate validates required fields for PRMessage.
func (m *PRMessage) Validate() error {
	if m.PRURL == "" {
		return ErrPRURLRequired
	}
	if m.SlackChannel == "" {
		return ErrChannelRequired
	}
	if m.SlackMessageTS == "" {
		return ErrMessageTSRequired
	}
	if m.PRNumber <= 0 {
		return ErrPRNumberRequired
	}
	if m.Owner == "" {
		return ErrOwnerRequired
	}
	if m.Repo == "" {
		return ErrRepoRequired
	}
	if !m.PRState.Valid() {
		return ErrInvalidPRState
	}
	return nil
}

// UserMapping is a global GitHub login to Slack user ID mapping, used when
// no channel-scoped mapping exists.
type UserMapping struct {
	GitHubUsername string `db:"github_username"`
	SlackUserID    string `db:"slack_user_id"`
}

// ReviewerInfo is the latest known review state for one reviewer on a PR.
type ReviewerInfo struct {
	Login string
	State ReviewState
}

// PRSnapshot is the computed current state of a pull request, the input to
// message reconciliation.
type PRSnapshot struct {
	Owner             string
	Repo              string
	Number            int
	Title             string
	Author            string
	URL               string
	Approvals         int
	RequiredApprovals int
	Reviewers         []ReviewerInfo
	IsDraft           bool
	State             PRState
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// RepoFullName returns the "owner/repo" form.
func (s *PRSnapshot) RepoFullName() string {
	return s.Owner + "/" + s.Repo
}

// ReviewEvent is one raw review submission as reported by GitHub.
type ReviewEvent struct {
	ReviewerLogin string
	State         ReviewState
	SubmittedAt   time.Time
}

// ThreadActivityKind distinguishes the two kinds of per-event thread
// narration replayed into a message's thread.
type ThreadActivityKind string

const (
	ActivityReview  ThreadActivityKind = "review"
	ActivityComment ThreadActivityKind = "comment"
)

// ThreadActivity is one historical review or review comment, merged into a
// single chronological sequence for first-post replay.
type ThreadActivity struct {
	Kind      ThreadActivityKind
	Actor     string
	State     ReviewState // reviews only
	Timestamp time.Time
}
