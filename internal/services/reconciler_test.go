package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"pr-slack-tracker/internal/models"
	"pr-slack-tracker/internal/store"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSlack records message operations in order.
type fakeSlack struct {
	mu       sync.Mutex
	posts    []string // channel
	updates  []string // "channel|ts"
	replies  []string // reply text, in posting order
	nextTS   int
	postErr  error
	replyErr error
}

func (f *fakeSlack) PostMessage(_ context.Context, channel, _ string, _ []slack.Block) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return "", f.postErr
	}
	f.nextTS++
	f.posts = append(f.posts, channel)
	return fmt.Sprintf("1717240000.%06d", f.nextTS), nil
}

func (f *fakeSlack) UpdateMessage(_ context.Context, channel, timestamp, _ string, _ []slack.Block) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, channel+"|"+timestamp)
	return nil
}

func (f *fakeSlack) PostThreadReply(_ context.Context, _, _, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replyErr != nil {
		return f.replyErr
	}
	f.replies = append(f.replies, text)
	return nil
}

// fakeActivity serves a canned history.
type fakeActivity struct {
	activity []models.ThreadActivity
	err      error
}

func (f *fakeActivity) FetchThreadActivity(context.Context, string, string, int) ([]models.ThreadActivity, error) {
	return f.activity, f.err
}

// literalMentions resolves every login to itself.
type literalMentions struct{}

func (literalMentions) ResolveMention(_ context.Context, githubUsername, _ string) string {
	return githubUsername
}

func newTestMessageStore(t *testing.T) *store.PRMessageStore {
	t.Helper()

	db, err := store.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return store.NewPRMessageStore(db)
}

func openSnapshot() *models.PRSnapshot {
	return &models.PRSnapshot{
		Owner:             "acme",
		Repo:              "rockets",
		Number:            42,
		Title:             "Add telemetry",
		Author:            "alice",
		URL:               "https://github.com/acme/rockets/pull/42",
		RequiredApprovals: 2,
		State:             models.PRStateOpen,
		CreatedAt:         time.Now().Add(-24 * time.Hour),
	}
}

func TestReconcile_FirstCallPostsOnce(t *testing.T) {
	messages := newTestMessageStore(t)
	slackFake := &fakeSlack{}
	r := NewMessageReconciler(messages, slackFake, &fakeActivity{}, literalMentions{})
	ctx := context.Background()
	team := models.DefaultTeamConfig("C1")
	snapshot := openSnapshot()

	require.NoError(t, r.Reconcile(ctx, snapshot, team))
	require.NoError(t, r.Reconcile(ctx, snapshot, team))

	// First call posts, second updates the same message in place.
	assert.Equal(t, []string{"C1"}, slackFake.posts)
	require.Len(t, slackFake.updates, 1)

	row, err := messages.Get(ctx, snapshot.URL, "C1")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "C1|"+row.SlackMessageTS, slackFake.updates[0])
}

func TestReconcile_StateChangeUpdatesNotReposts(t *testing.T) {
	messages := newTestMessageStore(t)
	slackFake := &fakeSlack{}
	r := NewMessageReconciler(messages, slackFake, &fakeActivity{}, literalMentions{})
	ctx := context.Background()
	team := models.DefaultTeamConfig("C1")

	require.NoError(t, r.Reconcile(ctx, openSnapshot(), team))

	merged := openSnapshot()
	merged.State = models.PRStateMerged
	require.NoError(t, r.Reconcile(ctx, merged, team))

	assert.Len(t, slackFake.posts, 1)
	assert.Len(t, slackFake.updates, 1)

	row, err := messages.Get(ctx, merged.URL, "C1")
	require.NoError(t, err)
	assert.Equal(t, models.PRStateMerged, row.PRState)
}

func TestReconcile_UpdateRefreshesLastUpdated(t *testing.T) {
	messages := newTestMessageStore(t)
	r := NewMessageReconciler(messages, &fakeSlack{}, &fakeActivity{}, literalMentions{})
	ctx := context.Background()
	team := models.DefaultTeamConfig("C1")
	snapshot := openSnapshot()

	require.NoError(t, r.Reconcile(ctx, snapshot, team))

	// Backdate the row so the refresh is observable without sleeping.
	row, err := messages.Get(ctx, snapshot.URL, "C1")
	require.NoError(t, err)
	stale := time.Now().UTC().Add(-time.Hour)
	row.LastUpdated = stale
	require.NoError(t, messages.Upsert(ctx, row))

	require.NoError(t, r.Reconcile(ctx, snapshot, team))

	row, err = messages.Get(ctx, snapshot.URL, "C1")
	require.NoError(t, err)
	assert.True(t, row.LastUpdated.After(stale),
		"last_updated %v not refreshed past %v", row.LastUpdated, stale)
}

func TestReconcile_PostFailureStoresNothing(t *testing.T) {
	messages := newTestMessageStore(t)
	slackFake := &fakeSlack{postErr: errors.New("slack down")}
	r := NewMessageReconciler(messages, slackFake, &fakeActivity{}, literalMentions{})
	ctx := context.Background()

	err := r.Reconcile(ctx, openSnapshot(), models.DefaultTeamConfig("C1"))
	require.Error(t, err)

	row, getErr := messages.Get(ctx, openSnapshot().URL, "C1")
	require.NoError(t, getErr)
	assert.Nil(t, row)
}

func TestReconcile_IndependentChannels(t *testing.T) {
	messages := newTestMessageStore(t)
	slackFake := &fakeSlack{}
	r := NewMessageReconciler(messages, slackFake, &fakeActivity{}, literalMentions{})
	ctx := context.Background()
	snapshot := openSnapshot()

	require.NoError(t, r.Reconcile(ctx, snapshot, models.DefaultTeamConfig("C1")))
	require.NoError(t, r.Reconcile(ctx, snapshot, models.DefaultTeamConfig("C2")))

	assert.Equal(t, []string{"C1", "C2"}, slackFake.posts)
}

func historyAt(minutes ...int) []models.ThreadActivity {
	activity := make([]models.ThreadActivity, 0, len(minutes))
	for _, m := range minutes {
		activity = append(activity, models.ThreadActivity{
			Kind:      models.ActivityReview,
			Actor:     fmt.Sprintf("reviewer-%d", m),
			State:     models.ReviewStateApproved,
			Timestamp: time.Date(2025, 6, 1, 10, m, 0, 0, time.UTC),
		})
	}
	return activity
}

func TestReconcile_ReplaysHistoryInOrder(t *testing.T) {
	messages := newTestMessageStore(t)
	slackFake := &fakeSlack{}
	// Activity arrives pre-sorted from the fetcher: t=1, t=2, t=3.
	activity := &fakeActivity{activity: historyAt(1, 2, 3)}
	r := NewMessageReconciler(messages, slackFake, activity, literalMentions{})
	ctx := context.Background()
	team := models.DefaultTeamConfig("C1")

	require.NoError(t, r.Reconcile(ctx, openSnapshot(), team))

	require.Len(t, slackFake.replies, 3)
	assert.Contains(t, slackFake.replies[0], "reviewer-1")
	assert.Contains(t, slackFake.replies[1], "reviewer-2")
	assert.Contains(t, slackFake.replies[2], "reviewer-3")

	// Update path never replays.
	require.NoError(t, r.Reconcile(ctx, openSnapshot(), team))
	assert.Len(t, slackFake.replies, 3)
}

func TestReconcile_ReplayFiltersBots(t *testing.T) {
	activity := &fakeActivity{activity: []models.ThreadActivity{
		{Kind: models.ActivityReview, Actor: "dependabot[bot]", State: models.ReviewStateCommented, Timestamp: time.Now()},
		{Kind: models.ActivityReview, Actor: "alice", State: models.ReviewStateApproved, Timestamp: time.Now()},
	}}

	tests := []struct {
		name            string
		excludeBots     bool
		expectedReplies int
	}{
		{"bots excluded", true, 1},
		{"bots included", false, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			messages := newTestMessageStore(t)
			slackFake := &fakeSlack{}
			r := NewMessageReconciler(messages, slackFake, activity, literalMentions{})

			team := models.DefaultTeamConfig("C1")
			team.ExcludeBotComments = tt.excludeBots

			require.NoError(t, r.Reconcile(context.Background(), openSnapshot(), team))
			assert.Len(t, slackFake.replies, tt.expectedReplies)
		})
	}
}

func TestReconcile_HistoryFetchFailureKeepsMessage(t *testing.T) {
	messages := newTestMessageStore(t)
	slackFake := &fakeSlack{}
	activity := &fakeActivity{err: errors.New("github down")}
	r := NewMessageReconciler(messages, slackFake, activity, literalMentions{})
	ctx := context.Background()

	require.NoError(t, r.Reconcile(ctx, openSnapshot(), models.DefaultTeamConfig("C1")))

	assert.Len(t, slackFake.posts, 1)
	assert.Empty(t, slackFake.replies)

	row, err := messages.Get(ctx, openSnapshot().URL, "C1")
	require.NoError(t, err)
	require.NotNil(t, row)
}

func TestReconcile_ReplayFailuresDoNotStopRemainingItems(t *testing.T) {
	messages := newTestMessageStore(t)
	slackFake := &fakeSlack{replyErr: errors.New("slack down")}
	activity := &fakeActivity{activity: historyAt(1, 2)}
	r := NewMessageReconciler(messages, slackFake, activity, literalMentions{})

	require.NoError(t, r.Reconcile(context.Background(), openSnapshot(), models.DefaultTeamConfig("C1")))
	assert.Empty(t, slackFake.replies)
}

func TestReplyInThread(t *testing.T) {
	messages := newTestMessageStore(t)
	slackFake := &fakeSlack{}
	r := NewMessageReconciler(messages, slackFake, &fakeActivity{}, literalMentions{})
	ctx := context.Background()
	snapshot := openSnapshot()

	require.NoError(t, r.Reconcile(ctx, snapshot, models.DefaultTeamConfig("C1")))
	require.NoError(t, r.ReplyInThread(ctx, snapshot.URL, "C1", "alice commented"))

	require.Len(t, slackFake.replies, 1)
	assert.Equal(t, "alice commented", slackFake.replies[0])
}

func TestReplyInThread_UntrackedPRIsSkipped(t *testing.T) {
	messages := newTestMessageStore(t)
	slackFake := &fakeSlack{}
	r := NewMessageReconciler(messages, slackFake, &fakeActivity{}, literalMentions{})

	err := r.ReplyInThread(context.Background(), "https://github.com/acme/rockets/pull/999", "C1", "hello")
	require.NoError(t, err)
	assert.Empty(t, slackFake.replies)
}
