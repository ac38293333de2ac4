package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pr-slack-tracker/internal/models"
	"pr-slack-tracker/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSnapshots struct{}

func (staticSnapshots) FetchSnapshot(
	_ context.Context, owner, repo string, number, requiredApprovals int,
) (*models.PRSnapshot, error) {
	return &models.PRSnapshot{
		Owner:             owner,
		Repo:              repo,
		Number:            number,
		Title:             "Add telemetry",
		Author:            "alice",
		URL:               fmt.Sprintf("https://github.com/%s/%s/pull/%d", owner, repo, number),
		RequiredApprovals: requiredApprovals,
		State:             models.PRStateOpen,
		CreatedAt:         time.Now(),
	}, nil
}

type slackFixture struct {
	handler *SlackHandler
	teams   *store.TeamConfigStore
	router  *gin.Engine
}

const testSigningSecret = "test-signing-secret"

func newSlackFixture(t *testing.T) *slackFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := store.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	teams := store.NewTeamConfigStore(db)
	messages := store.NewPRMessageStore(db)
	handler := NewSlackHandler(teams, messages, staticSnapshots{}, testSigningSecret, time.Second)

	router := gin.New()
	router.POST("/commands/slack", handler.HandleCommand)

	return &slackFixture{handler: handler, teams: teams, router: router}
}

// signSlackRequest computes the v0 signature Slack sends with slash
// commands.
func signSlackRequest(secret, timestamp, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%s:%s", timestamp, body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

func (f *slackFixture) sendCommand(t *testing.T, command, text string) *httptest.ResponseRecorder {
	t.Helper()

	form := url.Values{}
	form.Set("command", command)
	form.Set("text", text)
	form.Set("channel_id", "C1")
	form.Set("user_id", "U-admin")
	form.Set("response_url", "https://hooks.slack.test/response")
	body := form.Encode()

	timestamp := fmt.Sprintf("%d", time.Now().Unix())
	req, err := http.NewRequest(http.MethodPost, "/commands/slack", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Slack-Request-Timestamp", timestamp)
	req.Header.Set("X-Slack-Signature", signSlackRequest(testSigningSecret, timestamp, body))

	recorder := httptest.NewRecorder()
	f.router.ServeHTTP(recorder, req)
	return recorder
}

func TestHandleCommand_RejectsBadSignature(t *testing.T) {
	f := newSlackFixture(t)

	body := "command=%2Fpr-track&text=show&channel_id=C1"
	timestamp := fmt.Sprintf("%d", time.Now().Unix())
	req, err := http.NewRequest(http.MethodPost, "/commands/slack", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Slack-Request-Timestamp", timestamp)
	req.Header.Set("X-Slack-Signature", signSlackRequest("wrong-secret", timestamp, body))

	recorder := httptest.NewRecorder()
	f.router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestHandleCommand_TrackAddMember(t *testing.T) {
	f := newSlackFixture(t)

	recorder := f.sendCommand(t, "/pr-track", "add-member alice:<@U1|alice> bob no:good:entry")

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "alice")
	assert.Contains(t, recorder.Body.String(), "bob")
	assert.Contains(t, recorder.Body.String(), "Skipped malformed")

	members, err := f.teams.ListMembers(context.Background(), "C1")
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "U1", members[0].SlackUserID)
	assert.Equal(t, "U-admin", members[0].AddedBy)
}

func TestHandleCommand_TrackShowUnconfigured(t *testing.T) {
	f := newSlackFixture(t)

	recorder := f.sendCommand(t, "/pr-track", "show")

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "No tracking configuration")
}

func TestHandleCommand_TrackApprovals(t *testing.T) {
	f := newSlackFixture(t)

	recorder := f.sendCommand(t, "/pr-track", "approvals 3")

	require.Equal(t, http.StatusOK, recorder.Code)

	cfg, err := f.teams.Get(context.Background(), "C1")
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, 3, cfg.RequiredApprovals)
	// First configuration action carries the defaults along.
	assert.True(t, cfg.NotifyOnOpen)
	assert.True(t, cfg.ExcludeBotComments)
}

func TestHandleCommand_TrackApprovalsRejectsBadInput(t *testing.T) {
	f := newSlackFixture(t)

	for _, arg := range []string{"zero", "0", "-1"} {
		recorder := f.sendCommand(t, "/pr-track", "approvals "+arg)

		require.Equal(t, http.StatusOK, recorder.Code)
		assert.Contains(t, recorder.Body.String(), "positive number")
	}

	cfg, err := f.teams.Get(context.Background(), "C1")
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestHandleCommand_TrackNotifyToggle(t *testing.T) {
	f := newSlackFixture(t)

	recorder := f.sendCommand(t, "/pr-track", "notify approved off")
	require.Equal(t, http.StatusOK, recorder.Code)

	cfg, err := f.teams.Get(context.Background(), "C1")
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.False(t, cfg.NotifyOnApproved)
	assert.True(t, cfg.NotifyOnChangesRequested)
}

func TestHandleCommand_TrackBotsToggle(t *testing.T) {
	f := newSlackFixture(t)

	recorder := f.sendCommand(t, "/pr-track", "bots on")
	require.Equal(t, http.StatusOK, recorder.Code)

	cfg, err := f.teams.Get(context.Background(), "C1")
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.False(t, cfg.ExcludeBotComments)
}

func TestHandleCommand_TrackDelete(t *testing.T) {
	f := newSlackFixture(t)
	ctx := context.Background()
	require.NoError(t, f.teams.AddMember(ctx, "C1", "alice", "", ""))

	recorder := f.sendCommand(t, "/pr-track", "delete")
	require.Equal(t, http.StatusOK, recorder.Code)

	cfg, err := f.teams.Get(ctx, "C1")
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestHandleCommand_TrackUsage(t *testing.T) {
	f := newSlackFixture(t)

	for _, text := range []string{"", "frobnicate"} {
		recorder := f.sendCommand(t, "/pr-track", text)

		require.Equal(t, http.StatusOK, recorder.Code)
		assert.Contains(t, recorder.Body.String(), "Usage")
	}
}

func TestHandleCommand_StatusAcksThenDeliversSummary(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	delivered := make(chan string, 1)
	httpmock.RegisterResponder(http.MethodPost, "https://hooks.slack.test/response",
		func(req *http.Request) (*http.Response, error) {
			payload, _ := io.ReadAll(req.Body)
			delivered <- string(payload)
			return httpmock.NewStringResponse(http.StatusOK, "ok"), nil
		})

	f := newSlackFixture(t)

	recorder := f.sendCommand(t, "/pr-status", "")

	// The ack goes out before any GitHub work happens.
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "Fetching PR status")

	select {
	case payload := <-delivered:
		assert.Contains(t, payload, "No open PRs being tracked.")
	case <-time.After(time.Second):
		t.Fatal("expected summary delivery via response URL")
	}
}

func TestParseMemberEntry(t *testing.T) {
	tests := []struct {
		entry          string
		expectedGitHub string
		expectedSlack  string
		expectError    bool
	}{
		{"alice", "alice", "", false},
		{"alice:U123", "alice", "U123", false},
		{"alice:<@U123>", "alice", "U123", false},
		{"alice:<@U123|alice-name>", "alice", "U123", false},
		{":U123", "", "", true},
		{"alice:", "", "", true},
		{"alice:bob", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.entry, func(t *testing.T) {
			githubUsername, slackUserID, err := parseMemberEntry(tt.entry)

			if tt.expectError {
				assert.ErrorIs(t, err, models.ErrMalformedMemberEntry)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectedGitHub, githubUsername)
			assert.Equal(t, tt.expectedSlack, slackUserID)
		})
	}
}
