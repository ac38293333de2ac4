package services

import (
	"sort"
	"strings"

	"pr-slack-tracker/internal/models"
)

// ReviewSummary is the reduced view of a PR's reviews: the latest state per
// reviewer and the number of reviewers whose latest state is approved.
type ReviewSummary struct {
	ApprovalCount     int
	LatestPerReviewer map[string]models.ReviewState
}

// AggregateReviews reduces an unordered list of review events to the latest
// state per reviewer, keyed by maximum submission time. On an exact
// timestamp tie the event seen last wins; GitHub timestamps have second
// resolution so ties are not expected, but they must not change the
// outcome's validity. The result is independent of input order otherwise.
func AggregateReviews(events []models.ReviewEvent) ReviewSummary {
	latest := make(map[string]models.ReviewEvent)
	for _, ev := range events {
		if ev.ReviewerLogin == "" {
			continue
		}
		cur, ok := latest[ev.ReviewerLogin]
		if !ok || !ev.SubmittedAt.Before(cur.SubmittedAt) {
			latest[ev.ReviewerLogin] = ev
		}
	}

	summary := ReviewSummary{LatestPerReviewer: make(map[string]models.ReviewState, len(latest))}
	for login, ev := range latest {
		summary.LatestPerReviewer[login] = ev.State
		if ev.State == models.ReviewStateApproved {
			summary.ApprovalCount++
		}
	}
	return summary
}

// Reviewers returns the per-reviewer latest states sorted by login.
func (s ReviewSummary) Reviewers() []models.ReviewerInfo {
	reviewers := make([]models.ReviewerInfo, 0, len(s.LatestPerReviewer))
	for login, state := range s.LatestPerReviewer {
		reviewers = append(reviewers, models.ReviewerInfo{Login: login, State: state})
	}
	sort.Slice(reviewers, func(i, j int) bool { return reviewers[i].Login < reviewers[j].Login })
	return reviewers
}

// IsBotActor reports whether a GitHub login belongs to an automation
// account: "[bot]" or "-bot" suffixed (case-insensitive), or any copilot
// variant.
func IsBotActor(login string) bool {
	lower := strings.ToLower(login)
	return strings.HasSuffix(lower, "[bot]") ||
		strings.HasSuffix(lower, "-bot") ||
		strings.Contains(lower, "copilot")
}
