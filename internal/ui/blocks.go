// Package ui builds the Slack message content: the top-level PR status
// message, the approval bar, thread reply texts, and the status summary.
package ui

import (
	"fmt"
	"strings"
	"time"

	"pr-slack-tracker/internal/models"

	"github.com/slack-go/slack"
)

// StatusEmoji picks the single header icon for a PR. Precedence:
// draft > merged > closed > fully approved > pending review.
func StatusEmoji(state models.PRState, isDraft bool, approvals, required int) string {
	switch {
	case isDraft:
		return ":construction:"
	case state == models.PRStateMerged:
		return ":merged-pr:"
	case state == models.PRStateClosed:
		return ":closed-pr:"
	case approvals >= required:
		return ":white_check_mark:"
	default:
		return ":eyes:"
	}
}

// ApprovalBar renders min(approvals, required) filled indicators followed
// by the remaining empty ones. It never renders more filled indicators than
// required, even when approvals exceed it.
func ApprovalBar(approvals, required int) string {
	filled := approvals
	if filled > required {
		filled = required
	}
	empty := required - filled
	if empty < 0 {
		empty = 0
	}
	return strings.Repeat(":large_green_circle:", filled) + strings.Repeat(":white_circle:", empty)
}

// DaysOld returns the whole days elapsed since createdAt.
func DaysOld(createdAt time.Time) int {
	return int(time.Since(createdAt).Hours() / 24)
}

func stateLabel(state models.PRState, isDraft bool) string {
	switch {
	case isDraft:
		return "Draft"
	case state == models.PRStateMerged:
		return "Merged"
	case state == models.PRStateClosed:
		return "Closed"
	default:
		return "Open"
	}
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func mrkdwn(text string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.MarkdownType, text, false, false)
}

// BuildPRMessage builds the fallback text and Block Kit blocks for the one
// top-level message representing a PR in a channel.
func BuildPRMessage(pr *models.PRSnapshot, authorMention string) (string, []slack.Block) {
	emoji := StatusEmoji(pr.State, pr.IsDraft, pr.Approvals, pr.RequiredApprovals)
	age := DaysOld(pr.CreatedAt)

	text := fmt.Sprintf("%s [%s] #%d: %s by %s", emoji, pr.Repo, pr.Number, pr.Title, pr.Author)

	header := fmt.Sprintf("%s *<%s|#%d: %s>*\n*Repo:* %s/%s | *Author:* %s | *Status:* %s",
		emoji, pr.URL, pr.Number, pr.Title, pr.Owner, pr.Repo, authorMention, stateLabel(pr.State, pr.IsDraft))
	approvals := fmt.Sprintf("*Approvals:* %s (%d/%d)\n:clock1: %d day%s old",
		ApprovalBar(pr.Approvals, pr.RequiredApprovals), pr.Approvals, pr.RequiredApprovals, age, plural(age))

	now := time.Now()
	lastUpdated := fmt.Sprintf("Last updated: <!date^%d^{date_short_pretty} at {time}|%s>",
		now.Unix(), now.UTC().Format(time.RFC3339))

	blocks := []slack.Block{
		slack.NewSectionBlock(mrkdwn(header), nil, nil),
		slack.NewSectionBlock(mrkdwn(approvals), nil, nil),
		slack.NewContextBlock("", mrkdwn(lastUpdated)),
	}
	return text, blocks
}

// BuildStatusSummary builds the ephemeral summary for the status command.
func BuildStatusSummary(prs []*models.PRSnapshot) (string, []slack.Block) {
	if len(prs) == 0 {
		text := "No open PRs being tracked."
		block := slack.NewSectionBlock(mrkdwn(":white_check_mark: *No open PRs being tracked.* All clear!"), nil, nil)
		return text, []slack.Block{block}
	}

	lines := make([]string, 0, len(prs))
	for _, pr := range prs {
		emoji := StatusEmoji(pr.State, pr.IsDraft, pr.Approvals, pr.RequiredApprovals)
		lines = append(lines, fmt.Sprintf("%s <%s|#%d> %s — %d/%d approvals",
			emoji, pr.URL, pr.Number, pr.Title, pr.Approvals, pr.RequiredApprovals))
	}

	text := fmt.Sprintf("%d open PR(s) tracked", len(prs))
	body := fmt.Sprintf(":bar_chart: *%d Open PR(s)*\n\n%s", len(prs), strings.Join(lines, "\n"))
	return text, []slack.Block{slack.NewSectionBlock(mrkdwn(body), nil, nil)}
}

// replyTimestamp formats an event time for thread reply texts.
func replyTimestamp(at time.Time) string {
	return at.Format("Jan 2, 15:04")
}

// ReviewReplyText builds the thread narration for one review outcome.
func ReviewReplyText(mention string, state models.ReviewState, at time.Time) string {
	ts := replyTimestamp(at)
	switch state {
	case models.ReviewStateApproved:
		return fmt.Sprintf(":white_check_mark: %s *approved* this PR — %s", mention, ts)
	case models.ReviewStateChangesRequested:
		return fmt.Sprintf(":x: %s *requested changes* — %s", mention, ts)
	case models.ReviewStateDismissed:
		return fmt.Sprintf(":rewind: Review by %s was *dismissed* — %s", mention, ts)
	default:
		return fmt.Sprintf(":speech_balloon: %s *left a review* — %s", mention, ts)
	}
}

// CodeCommentReplyText builds the thread narration for a review comment,
// used during historical replay.
func CodeCommentReplyText(mention string, at time.Time) string {
	return fmt.Sprintf(":speech_balloon: %s *commented on code* — %s", mention, replyTimestamp(at))
}

// IssueCommentReplyText builds the thread narration for a PR conversation
// comment.
func IssueCommentReplyText(mention string, at time.Time) string {
	return fmt.Sprintf(":speech_balloon: %s *commented* on this PR — %s", mention, replyTimestamp(at))
}

// ActivityReplyText builds the narration for one replayed history item.
func ActivityReplyText(act models.ThreadActivity, mention string) string {
	if act.Kind == models.ActivityComment {
		return CodeCommentReplyText(mention, act.Timestamp)
	}
	return ReviewReplyText(mention, act.State, act.Timestamp)
}
