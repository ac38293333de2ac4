package services

import (
	"context"
	"sync"
	"time"

	"pr-slack-tracker/internal/log"
	"pr-slack-tracker/internal/models"
	"pr-slack-tracker/internal/store"
	"pr-slack-tracker/internal/ui"

	"github.com/slack-go/slack"
)

// SlackMessenger is the subset of the Slack API the reconciler needs.
// *SlackService implements it; tests substitute fakes.
type SlackMessenger interface {
	PostMessage(ctx context.Context, channel, text string, blocks []slack.Block) (string, error)
	UpdateMessage(ctx context.Context, channel, timestamp, text string, blocks []slack.Block) error
	PostThreadReply(ctx context.Context, channel, parentTS, text string) error
}

// ActivityFetcher fetches the historical review and comment activity of a
// PR for first-post replay. *GitHubService implements it.
type ActivityFetcher interface {
	FetchThreadActivity(ctx context.Context, owner, repo string, number int) ([]models.ThreadActivity, error)
}

// MentionResolver resolves a GitHub login to a Slack mention for a channel.
// *store.UserMappingStore implements it.
type MentionResolver interface {
	ResolveMention(ctx context.Context, githubUsername, channelID string) string
}

// MessageReconciler keeps each channel's Slack message for a PR in sync
// with the PR's computed state. Per (PR URL, channel) there is at most one
// live top-level message: the first reconciliation posts it, every later
// one updates it in place.
type MessageReconciler struct {
	messages *store.PRMessageStore
	slack    SlackMessenger
	activity ActivityFetcher
	mentions MentionResolver

	// Serializes thread replies per tracked message so their order does
	// not depend on wall-clock spacing between posts.
	threadMu sync.Map // "prURL|channel" -> *sync.Mutex
}

// NewMessageReconciler creates a new MessageReconciler.
func NewMessageReconciler(
	messages *store.PRMessageStore,
	slackSvc SlackMessenger,
	activity ActivityFetcher,
	mentions MentionResolver,
) *MessageReconciler {
	return &MessageReconciler{
		messages: messages,
		slack:    slackSvc,
		activity: activity,
		mentions: mentions,
	}
}

func (r *MessageReconciler) threadLock(prURL, channel string) *sync.Mutex {
	mu, _ := r.threadMu.LoadOrStore(prURL+"|"+channel, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Reconcile makes the channel's Slack message match the PR snapshot. If the
// channel has no message for the PR yet, one is posted, the tracking row is
// stored, and the PR's historical activity is replayed into the thread.
// Otherwise the existing message is updated in place; no thread replies are
// created on this path.
func (r *MessageReconciler) Reconcile(ctx context.Context, snapshot *models.PRSnapshot, team *models.TeamConfig) error {
	existing, err := r.messages.Get(ctx, snapshot.URL, team.ChannelID)
	if err != nil {
		return err
	}

	mention := r.mentions.ResolveMention(ctx, snapshot.Author, team.ChannelID)
	text, blocks := ui.BuildPRMessage(snapshot, mention)

	if existing != nil {
		if err := r.slack.UpdateMessage(ctx, existing.SlackChannel, existing.SlackMessageTS, text, blocks); err != nil {
			return err
		}
		existing.PRState = snapshot.State
		existing.LastUpdated = time.Now().UTC()
		if err := r.messages.Upsert(ctx, existing); err != nil {
			return err
		}
		log.Info(ctx, "Updated PR message",
			"channel", team.ChannelID, "repo", snapshot.RepoFullName(), "pr_number", snapshot.Number)
		return nil
	}

	timestamp, err := r.slack.PostMessage(ctx, team.ChannelID, text, blocks)
	if err != nil {
		return err
	}
	msg := &models.PRMessage{
		PRURL:          snapshot.URL,
		SlackChannel:   team.ChannelID,
		SlackMessageTS: timestamp,
		PRState:        snapshot.State,
		Owner:          snapshot.Owner,
		Repo:           snapshot.Repo,
		PRNumber:       snapshot.Number,
	}
	if err := r.messages.Upsert(ctx, msg); err != nil {
		return err
	}
	log.Info(ctx, "Posted PR message",
		"channel", team.ChannelID, "repo", snapshot.RepoFullName(), "pr_number", snapshot.Number, "message_ts", timestamp)

	// First post only: replay never runs on the update path since
	// re-posting history is not idempotent.
	r.replayHistory(ctx, snapshot, team, timestamp)
	return nil
}

// replayHistory posts the PR's past reviews and review comments as thread
// replies in chronological order. Failures lose history for good (there is
// no replay on update), so each item is logged on error and the rest still
// post.
func (r *MessageReconciler) replayHistory(
	ctx context.Context, snapshot *models.PRSnapshot, team *models.TeamConfig, parentTS string,
) {
	activity, err := r.activity.FetchThreadActivity(ctx, snapshot.Owner, snapshot.Repo, snapshot.Number)
	if err != nil {
		log.Error(ctx, "Failed to fetch PR history for replay",
			"error", err, "repo", snapshot.RepoFullName(), "pr_number", snapshot.Number)
		return
	}

	mu := r.threadLock(snapshot.URL, team.ChannelID)
	mu.Lock()
	defer mu.Unlock()

	for _, act := range activity {
		if team.ExcludeBotComments && IsBotActor(act.Actor) {
			continue
		}
		mention := r.mentions.ResolveMention(ctx, act.Actor, team.ChannelID)
		text := ui.ActivityReplyText(act, mention)
		if err := r.slack.PostThreadReply(ctx, team.ChannelID, parentTS, text); err != nil {
			log.Error(ctx, "Failed to post history thread reply",
				"error", err, "channel", team.ChannelID, "pr_url", snapshot.URL, "actor", act.Actor)
		}
	}
}

// ReplyInThread posts one thread reply under the channel's tracked message
// for a PR. A missing tracking row is expected for PRs that predate
// tracking; it is logged as a warning and skipped.
func (r *MessageReconciler) ReplyInThread(ctx context.Context, prURL, channel, text string) error {
	existing, err := r.messages.Get(ctx, prURL, channel)
	if err != nil {
		return err
	}
	if existing == nil {
		log.Warn(ctx, "No tracked message for PR, skipping thread reply",
			"pr_url", prURL, "channel", channel)
		return nil
	}

	mu := r.threadLock(prURL, channel)
	mu.Lock()
	defer mu.Unlock()

	return r.slack.PostThreadReply(ctx, existing.SlackChannel, existing.SlackMessageTS, text)
}
