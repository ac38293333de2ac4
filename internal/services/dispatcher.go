package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"pr-slack-tracker/internal/log"
	"pr-slack-tracker/internal/models"
	"pr-slack-tracker/internal/store"
	"pr-slack-tracker/internal/ui"
)

// GitHub event types and actions the dispatcher handles. Everything else
// is ignored without error.
const (
	EventTypePullRequest       = "pull_request"
	EventTypePullRequestReview = "pull_request_review"
	EventTypeIssueComment      = "issue_comment"

	PRActionOpened           = "opened"
	PRActionClosed           = "closed"
	PRActionReopened         = "reopened"
	PRActionSynchronize      = "synchronize"
	PRActionReadyForReview   = "ready_for_review"
	PRActionConvertedToDraft = "converted_to_draft"
	PRActionEdited           = "edited"

	ReviewActionSubmitted = "submitted"
	ReviewActionDismissed = "dismissed"

	CommentActionCreated = "created"
)

var prActions = map[string]bool{
	PRActionOpened:           true,
	PRActionClosed:           true,
	PRActionReopened:         true,
	PRActionSynchronize:      true,
	PRActionReadyForReview:   true,
	PRActionConvertedToDraft: true,
	PRActionEdited:           true,
}

var reviewActions = map[string]bool{
	ReviewActionSubmitted: true,
	ReviewActionDismissed: true,
}

// Webhook payloads are decoded at this boundary into one typed variant per
// handled event family; nothing downstream sees raw JSON.

type webhookUser struct {
	Login string `json:"login"`
}

type webhookRepository struct {
	Name     string      `json:"name"`
	FullName string      `json:"full_name"`
	Owner    webhookUser `json:"owner"`
}

type webhookPullRequest struct {
	Number  int         `json:"number"`
	HTMLURL string      `json:"html_url"`
	Draft   bool        `json:"draft"`
	User    webhookUser `json:"user"`
}

type pullRequestEventPayload struct {
	Action      string             `json:"action"`
	PullRequest webhookPullRequest `json:"pull_request"`
	Repository  webhookRepository  `json:"repository"`
}

type reviewEventPayload struct {
	Action      string             `json:"action"`
	PullRequest webhookPullRequest `json:"pull_request"`
	Repository  webhookRepository  `json:"repository"`
	Review      struct {
		State       string      `json:"state"`
		User        webhookUser `json:"user"`
		SubmittedAt time.Time   `json:"submitted_at"`
	} `json:"review"`
}

type issueCommentEventPayload struct {
	Action string `json:"action"`
	Issue  struct {
		Number      int `json:"number"`
		PullRequest *struct {
			HTMLURL string `json:"html_url"`
		} `json:"pull_request"`
	} `json:"issue"`
	Comment struct {
		User      webhookUser `json:"user"`
		CreatedAt time.Time   `json:"created_at"`
	} `json:"comment"`
	Repository webhookRepository `json:"repository"`
}

// SnapshotFetcher computes a PR snapshot from the GitHub API.
// *GitHubService implements it.
type SnapshotFetcher interface {
	FetchSnapshot(ctx context.Context, owner, repo string, number, requiredApprovals int) (*models.PRSnapshot, error)
}

// EventDispatcher classifies inbound webhook events, applies per-channel
// notification gating, and invokes the reconciler for each routed channel.
// Reconciliation failures for one channel are logged and do not stop the
// fan-out to the others.
type EventDispatcher struct {
	teams      *store.TeamConfigStore
	messages   *store.PRMessageStore
	mentions   MentionResolver
	github     SnapshotFetcher
	reconciler *MessageReconciler
}

// NewEventDispatcher creates a new EventDispatcher.
func NewEventDispatcher(
	teams *store.TeamConfigStore,
	messages *store.PRMessageStore,
	mentions MentionResolver,
	githubSvc SnapshotFetcher,
	reconciler *MessageReconciler,
) *EventDispatcher {
	return &EventDispatcher{
		teams:      teams,
		messages:   messages,
		mentions:   mentions,
		github:     githubSvc,
		reconciler: reconciler,
	}
}

// Dispatch routes one webhook delivery to its handler. Unhandled event
// types and actions are ignored without error.
func (d *EventDispatcher) Dispatch(ctx context.Context, eventType string, payload []byte) error {
	switch eventType {
	case EventTypePullRequest:
		var p pullRequestEventPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("failed to decode pull_request payload: %w", err)
		}
		if !prActions[p.Action] {
			log.Debug(ctx, "Ignoring pull_request action", "action", p.Action)
			return nil
		}
		return d.handlePullRequest(ctx, &p)

	case EventTypePullRequestReview:
		var p reviewEventPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("failed to decode pull_request_review payload: %w", err)
		}
		if !reviewActions[p.Action] {
			log.Debug(ctx, "Ignoring pull_request_review action", "action", p.Action)
			return nil
		}
		return d.handleReview(ctx, &p)

	case EventTypeIssueComment:
		var p issueCommentEventPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("failed to decode issue_comment payload: %w", err)
		}
		if p.Action != CommentActionCreated || p.Issue.PullRequest == nil {
			log.Debug(ctx, "Ignoring issue_comment event", "action", p.Action)
			return nil
		}
		return d.handleIssueComment(ctx, &p)

	default:
		log.Debug(ctx, "Ignoring event type", "event_type", eventType)
		return nil
	}
}

// resolveTeams resolves the channels interested in a PR and loads each
// channel's full configuration. Gating values are re-read per event so
// configuration changes apply immediately.
func (d *EventDispatcher) resolveTeams(ctx context.Context, author, repo string) ([]*models.TeamConfig, error) {
	channels, err := d.teams.ResolveChannels(ctx, author, repo)
	if err != nil {
		return nil, err
	}
	teams := make([]*models.TeamConfig, 0, len(channels))
	for _, channel := range channels {
		team, err := d.teams.GetFull(ctx, channel)
		if err != nil {
			return nil, err
		}
		if team != nil {
			teams = append(teams, team)
		}
	}
	return teams, nil
}

// wantsPRNotification applies the open-event gating: opened requires a
// non-draft PR and the notify-on-open preference, ready_for_review requires
// notify-on-ready, and every other handled action always reconciles so the
// message reflects current state regardless of preferences.
func wantsPRNotification(team *models.TeamConfig, action string, draft bool) bool {
	switch action {
	case PRActionOpened:
		return !draft && team.NotifyOnOpen
	case PRActionReadyForReview:
		return team.NotifyOnReady
	default:
		return true
	}
}

func (d *EventDispatcher) handlePullRequest(ctx context.Context, p *pullRequestEventPayload) error {
	owner := p.Repository.Owner.Login
	repo := p.Repository.Name
	author := p.PullRequest.User.Login
	ctx = log.WithFields(ctx, log.Fields{
		"event":     EventTypePullRequest,
		"action":    p.Action,
		"repo":      p.Repository.FullName,
		"pr_number": p.PullRequest.Number,
	})

	teams, err := d.resolveTeams(ctx, author, repo)
	if err != nil {
		return err
	}
	if len(teams) == 0 {
		// Common case: PR from an untracked author.
		log.Debug(ctx, "No channel tracks this PR", "author", author)
		return nil
	}

	var snapshot *models.PRSnapshot
	for _, team := range teams {
		if !wantsPRNotification(team, p.Action, p.PullRequest.Draft) {
			log.Debug(ctx, "Notification gated off for channel", "channel", team.ChannelID)
			continue
		}
		if snapshot == nil {
			snapshot, err = d.github.FetchSnapshot(ctx, owner, repo, p.PullRequest.Number, team.RequiredApprovals)
			if err != nil {
				return err
			}
		}
		teamSnapshot := *snapshot
		teamSnapshot.RequiredApprovals = team.RequiredApprovals
		if err := d.reconciler.Reconcile(ctx, &teamSnapshot, team); err != nil {
			log.Error(ctx, "Failed to reconcile PR message", "error", err, "channel", team.ChannelID)
		}
	}
	return nil
}

func (d *EventDispatcher) handleReview(ctx context.Context, p *reviewEventPayload) error {
	owner := p.Repository.Owner.Login
	repo := p.Repository.Name
	author := p.PullRequest.User.Login
	reviewer := p.Review.User.Login
	state := models.ReviewState(strings.ToLower(p.Review.State))
	ctx = log.WithFields(ctx, log.Fields{
		"event":     EventTypePullRequestReview,
		"action":    p.Action,
		"repo":      p.Repository.FullName,
		"pr_number": p.PullRequest.Number,
		"reviewer":  reviewer,
	})

	teams, err := d.resolveTeams(ctx, author, repo)
	if err != nil {
		return err
	}
	if len(teams) == 0 {
		log.Debug(ctx, "No channel tracks this PR", "author", author)
		return nil
	}

	reviewedAt := p.Review.SubmittedAt
	if reviewedAt.IsZero() {
		reviewedAt = time.Now()
	}

	var snapshot *models.PRSnapshot
	for _, team := range teams {
		// The top-level message always reconciles so the approval count
		// stays current; only the thread narration is preference-gated.
		if snapshot == nil {
			snapshot, err = d.github.FetchSnapshot(ctx, owner, repo, p.PullRequest.Number, team.RequiredApprovals)
			if err != nil {
				return err
			}
		}
		teamSnapshot := *snapshot
		teamSnapshot.RequiredApprovals = team.RequiredApprovals
		if err := d.reconciler.Reconcile(ctx, &teamSnapshot, team); err != nil {
			log.Error(ctx, "Failed to reconcile PR message", "error", err, "channel", team.ChannelID)
			continue
		}

		if !wantsReviewReply(team, state) {
			continue
		}
		mention := d.mentions.ResolveMention(ctx, reviewer, team.ChannelID)
		text := ui.ReviewReplyText(mention, state, reviewedAt)
		if err := d.reconciler.ReplyInThread(ctx, p.PullRequest.HTMLURL, team.ChannelID, text); err != nil {
			log.Error(ctx, "Failed to post review thread reply", "error", err, "channel", team.ChannelID)
		}
	}
	return nil
}

// wantsReviewReply gates the review thread narration on the channel's
// preference for that outcome. Dismissals and plain review comments have no
// preference flag and always post.
func wantsReviewReply(team *models.TeamConfig, state models.ReviewState) bool {
	switch state {
	case models.ReviewStateApproved:
		return team.NotifyOnApproved
	case models.ReviewStateChangesRequested:
		return team.NotifyOnChangesRequested
	default:
		return true
	}
}

func (d *EventDispatcher) handleIssueComment(ctx context.Context, p *issueCommentEventPayload) error {
	prURL := p.Issue.PullRequest.HTMLURL
	commenter := p.Comment.User.Login
	ctx = log.WithFields(ctx, log.Fields{
		"event":     EventTypeIssueComment,
		"repo":      p.Repository.FullName,
		"pr_number": p.Issue.Number,
		"commenter": commenter,
	})

	tracked, err := d.messages.GetByURL(ctx, prURL)
	if err != nil {
		return err
	}
	if len(tracked) == 0 {
		// Comment on a PR that predates tracking; nothing to do.
		log.Debug(ctx, "No tracked message for commented PR", "pr_url", prURL)
		return nil
	}

	commentedAt := p.Comment.CreatedAt
	if commentedAt.IsZero() {
		commentedAt = time.Now()
	}

	for _, msg := range tracked {
		team, err := d.teams.Get(ctx, msg.SlackChannel)
		if err != nil {
			log.Error(ctx, "Failed to load team config", "error", err, "channel", msg.SlackChannel)
			continue
		}
		if team != nil && team.ExcludeBotComments && IsBotActor(commenter) {
			log.Debug(ctx, "Skipping bot comment for channel", "channel", msg.SlackChannel)
			continue
		}
		mention := d.mentions.ResolveMention(ctx, commenter, msg.SlackChannel)
		text := ui.IssueCommentReplyText(mention, commentedAt)
		if err := d.reconciler.ReplyInThread(ctx, prURL, msg.SlackChannel, text); err != nil {
			log.Error(ctx, "Failed to post comment thread reply", "error", err, "channel", msg.SlackChannel)
		}
	}
	return nil
}
