// Package services provides the outbound GitHub/Slack clients, the review
// aggregation and reconciliation logic, and the webhook event dispatcher.
package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"pr-slack-tracker/internal/models"

	"github.com/google/go-github/v73/github"
)

const listPageSize = 100

// GitHubService provides methods for interacting with the GitHub API.
type GitHubService struct {
	client *github.Client
	retry  RetryConfig
}

// NewGitHubService creates a GitHubService authenticated with a token.
func NewGitHubService(token string, retry RetryConfig) *GitHubService {
	return &GitHubService{
		client: github.NewClient(nil).WithAuthToken(token),
		retry:  retry,
	}
}

// NewGitHubServiceWithClient creates a GitHubService around an existing
// client, used by tests to point at a stub server.
func NewGitHubServiceWithClient(client *github.Client, retry RetryConfig) *GitHubService {
	return &GitHubService{client: client, retry: retry}
}

// ListOpenPRs fetches all open pull requests for a repository, following
// pagination until a short page is returned.
func (s *GitHubService) ListOpenPRs(ctx context.Context, owner, repo string) ([]*github.PullRequest, error) {
	var all []*github.PullRequest
	opts := &github.PullRequestListOptions{
		State:       "open",
		ListOptions: github.ListOptions{PerPage: listPageSize, Page: 1},
	}
	for {
		var page []*github.PullRequest
		err := WithRetry(ctx, s.retry, fmt.Sprintf("listOpenPRs(%s/%s)", owner, repo), func() error {
			var err error
			page, _, err = s.client.PullRequests.List(ctx, owner, repo, opts)
			return err
		})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < listPageSize {
			return all, nil
		}
		opts.Page++
	}
}

// GetPullRequest fetches a single pull request.
func (s *GitHubService) GetPullRequest(ctx context.Context, owner, repo string, number int) (*github.PullRequest, error) {
	var pr *github.PullRequest
	err := WithRetry(ctx, s.retry, fmt.Sprintf("getPR(%s/%s#%d)", owner, repo, number), func() error {
		var err error
		pr, _, err = s.client.PullRequests.Get(ctx, owner, repo, number)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pr, nil
}

// ListReviews fetches the reviews for a pull request as review events.
func (s *GitHubService) ListReviews(ctx context.Context, owner, repo string, number int) ([]models.ReviewEvent, error) {
	var reviews []*github.PullRequestReview
	err := WithRetry(ctx, s.retry, fmt.Sprintf("listReviews(%s/%s#%d)", owner, repo, number), func() error {
		var err error
		reviews, _, err = s.client.PullRequests.ListReviews(ctx, owner, repo, number,
			&github.ListOptions{PerPage: listPageSize})
		return err
	})
	if err != nil {
		return nil, err
	}

	events := make([]models.ReviewEvent, 0, len(reviews))
	for _, review := range reviews {
		if review.GetUser().GetLogin() == "" || review.GetState() == "" {
			continue
		}
		events = append(events, models.ReviewEvent{
			ReviewerLogin: review.GetUser().GetLogin(),
			State:         models.ReviewState(strings.ToLower(review.GetState())),
			SubmittedAt:   review.GetSubmittedAt().Time,
		})
	}
	return events, nil
}

// FetchSnapshot fetches a pull request and its reviews and computes the
// snapshot that drives message reconciliation. requiredApprovals comes from
// the channel the snapshot is being reconciled into.
func (s *GitHubService) FetchSnapshot(
	ctx context.Context, owner, repo string, number, requiredApprovals int,
) (*models.PRSnapshot, error) {
	pr, err := s.GetPullRequest(ctx, owner, repo, number)
	if err != nil {
		return nil, err
	}

	reviewEvents, err := s.ListReviews(ctx, owner, repo, number)
	if err != nil {
		return nil, err
	}
	summary := AggregateReviews(reviewEvents)

	state := models.PRStateOpen
	if pr.GetMerged() {
		state = models.PRStateMerged
	} else if pr.GetState() == "closed" {
		state = models.PRStateClosed
	}

	return &models.PRSnapshot{
		Owner:             owner,
		Repo:              repo,
		Number:            pr.GetNumber(),
		Title:             pr.GetTitle(),
		Author:            pr.GetUser().GetLogin(),
		URL:               pr.GetHTMLURL(),
		Approvals:         summary.ApprovalCount,
		RequiredApprovals: requiredApprovals,
		Reviewers:         summary.Reviewers(),
		IsDraft:           pr.GetDraft(),
		State:             state,
		CreatedAt:         pr.GetCreatedAt().Time,
		UpdatedAt:         pr.GetUpdatedAt().Time,
	}, nil
}

// FetchThreadActivity fetches the full review and review-comment history of
// a pull request, merged into one sequence ordered by event time ascending.
func (s *GitHubService) FetchThreadActivity(
	ctx context.Context, owner, repo string, number int,
) ([]models.ThreadActivity, error) {
	reviewEvents, err := s.ListReviews(ctx, owner, repo, number)
	if err != nil {
		return nil, err
	}

	var comments []*github.PullRequestComment
	err = WithRetry(ctx, s.retry, fmt.Sprintf("listReviewComments(%s/%s#%d)", owner, repo, number), func() error {
		var err error
		comments, _, err = s.client.PullRequests.ListComments(ctx, owner, repo, number,
			&github.PullRequestListCommentsOptions{ListOptions: github.ListOptions{PerPage: listPageSize}})
		return err
	})
	if err != nil {
		return nil, err
	}

	activity := make([]models.ThreadActivity, 0, len(reviewEvents)+len(comments))
	for _, ev := range reviewEvents {
		activity = append(activity, models.ThreadActivity{
			Kind:      models.ActivityReview,
			Actor:     ev.ReviewerLogin,
			State:     ev.State,
			Timestamp: ev.SubmittedAt,
		})
	}
	for _, comment := range comments {
		if comment.GetUser().GetLogin() == "" {
			continue
		}
		activity = append(activity, models.ThreadActivity{
			Kind:      models.ActivityComment,
			Actor:     comment.GetUser().GetLogin(),
			Timestamp: comment.GetCreatedAt().Time,
		})
	}

	sort.SliceStable(activity, func(i, j int) bool {
		return activity[i].Timestamp.Before(activity[j].Timestamp)
	})
	return activity, nil
}
