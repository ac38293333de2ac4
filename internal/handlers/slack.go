package handlers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pr-slack-tracker/internal/log"
	"pr-slack-tracker/internal/models"
	"pr-slack-tracker/internal/services"
	"pr-slack-tracker/internal/store"
	"pr-slack-tracker/internal/ui"

	"github.com/gin-gonic/gin"
	"github.com/slack-go/slack"
)

const (
	statusCommand = "/pr-status"
	trackCommand  = "/pr-track"
)

// SlackHandler handles Slack slash commands: the status summary and the
// per-channel configuration surface.
type SlackHandler struct {
	teams             *store.TeamConfigStore
	messages          *store.PRMessageStore
	github            services.SnapshotFetcher
	signingSecret     string
	processingTimeout time.Duration
}

// NewSlackHandler creates a new SlackHandler.
func NewSlackHandler(
	teams *store.TeamConfigStore,
	messages *store.PRMessageStore,
	githubSvc services.SnapshotFetcher,
	signingSecret string,
	processingTimeout time.Duration,
) *SlackHandler {
	return &SlackHandler{
		teams:             teams,
		messages:          messages,
		github:            githubSvc,
		signingSecret:     signingSecret,
		processingTimeout: processingTimeout,
	}
}

// HandleCommand processes a slash command invocation. Configuration
// subcommands are store-only and answered synchronously; the status command
// acks first and delivers its summary through the response URL because it
// fans out to GitHub.
func (sh *SlackHandler) HandleCommand(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return
	}

	if err := sh.verifySignature(c.Request.Header, body); err != nil {
		log.Error(c.Request.Context(), "Slash command signature verification failed", "error", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
		return
	}

	// SlashCommandParse consumes the form body, which verification already
	// read.
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	cmd, err := slack.SlashCommandParse(c.Request)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to parse command"})
		return
	}

	ctx := log.WithFields(c.Request.Context(), log.Fields{
		"command": cmd.Command,
		"channel": cmd.ChannelID,
		"user":    cmd.UserID,
	})

	switch cmd.Command {
	case statusCommand:
		sh.handleStatus(ctx, &cmd, c)
	case trackCommand:
		sh.handleTrack(ctx, &cmd, c)
	default:
		log.Warn(ctx, "Unknown slash command")
		ephemeral(c, "Unknown command.")
	}
}

func (sh *SlackHandler) verifySignature(header http.Header, body []byte) error {
	sv, err := slack.NewSecretsVerifier(header, sh.signingSecret)
	if err != nil {
		return fmt.Errorf("failed to create secrets verifier: %w", err)
	}
	if _, err := sv.Write(body); err != nil {
		return fmt.Errorf("failed to write body to verifier: %w", err)
	}
	if err := sv.Ensure(); err != nil {
		return fmt.Errorf("signature verification failed: %w", err)
	}
	return nil
}

func ephemeral(c *gin.Context, text string) {
	c.JSON(http.StatusOK, gin.H{"response_type": "ephemeral", "text": text})
}

// handleStatus acks within Slack's command timeout and then builds the
// summary from fresh GitHub snapshots, delivered via the response URL.
func (sh *SlackHandler) handleStatus(ctx context.Context, cmd *slack.SlashCommand, c *gin.Context) {
	ephemeral(c, ":hourglass_flowing_sand: Fetching PR status...")

	traceID := c.GetString("trace_id")
	bgCtx := log.WithTraceID(context.Background(), traceID)
	bgCtx = log.WithFields(bgCtx, log.Fields{"command": cmd.Command, "channel": cmd.ChannelID})
	channelID := cmd.ChannelID
	responseURL := cmd.ResponseURL

	go func() {
		ctx, cancel := context.WithTimeout(bgCtx, sh.processingTimeout)
		defer cancel()

		text, blocks, err := sh.buildStatus(ctx, channelID)
		if err != nil {
			log.Error(ctx, "Failed to build PR status summary", "error", err)
			text = ":warning: Failed to fetch PR status. Please try again."
			blocks = nil
		}
		msg := &slack.WebhookMessage{
			ResponseType:    slack.ResponseTypeEphemeral,
			Text:            text,
			ReplaceOriginal: true,
		}
		if blocks != nil {
			msg.Blocks = &slack.Blocks{BlockSet: blocks}
		}
		if err := slack.PostWebhookContext(ctx, responseURL, msg); err != nil {
			log.Error(ctx, "Failed to deliver status summary", "error", err)
		}
	}()
}

func (sh *SlackHandler) buildStatus(ctx context.Context, channelID string) (string, []slack.Block, error) {
	team, err := sh.teams.Get(ctx, channelID)
	if err != nil {
		return "", nil, err
	}
	required := models.DefaultTeamConfig(channelID).RequiredApprovals
	if team != nil {
		required = team.RequiredApprovals
	}

	open, err := sh.messages.ListOpen(ctx)
	if err != nil {
		return "", nil, err
	}

	var snapshots []*models.PRSnapshot
	for _, msg := range open {
		if msg.SlackChannel != channelID {
			continue
		}
		snapshot, err := sh.github.FetchSnapshot(ctx, msg.Owner, msg.Repo, msg.PRNumber, required)
		if err != nil {
			log.Error(ctx, "Failed to fetch PR for status summary",
				"error", err, "repo", msg.Owner+"/"+msg.Repo, "pr_number", msg.PRNumber)
			continue
		}
		snapshots = append(snapshots, snapshot)
	}

	text, blocks := ui.BuildStatusSummary(snapshots)
	return text, blocks, nil
}

const trackUsage = "Usage: `/pr-track add-member <github>[:<@user>]...` | " +
	"`remove-member <github>` | `add-repo <repo>` | `remove-repo <repo>` | " +
	"`approvals <n>` | `notify <open|ready|changes|approved|merged> <on|off>` | " +
	"`bots <on|off>` | `show` | `delete`"

// handleTrack applies one configuration subcommand to the invoking channel.
// All subcommands except show and delete create the channel's config with
// defaults on first use.
func (sh *SlackHandler) handleTrack(ctx context.Context, cmd *slack.SlashCommand, c *gin.Context) {
	fields := strings.Fields(cmd.Text)
	if len(fields) == 0 {
		ephemeral(c, trackUsage)
		return
	}
	sub, args := fields[0], fields[1:]

	var (
		text string
		err  error
	)
	switch sub {
	case "add-member":
		text, err = sh.addMembers(ctx, cmd.ChannelID, cmd.UserID, args)
	case "remove-member":
		if len(args) != 1 {
			text = "Usage: `/pr-track remove-member <github-username>`"
			break
		}
		if err = sh.teams.RemoveMember(ctx, cmd.ChannelID, args[0]); err == nil {
			text = fmt.Sprintf("Removed member `%s`.", args[0])
		}
	case "add-repo":
		if len(args) != 1 {
			text = "Usage: `/pr-track add-repo <repo-name>`"
			break
		}
		if err = sh.teams.AddRepo(ctx, cmd.ChannelID, args[0]); err == nil {
			text = fmt.Sprintf("Now tracking repo `%s`.", args[0])
		}
	case "remove-repo":
		if len(args) != 1 {
			text = "Usage: `/pr-track remove-repo <repo-name>`"
			break
		}
		if err = sh.teams.RemoveRepo(ctx, cmd.ChannelID, args[0]); err == nil {
			text = fmt.Sprintf("Stopped tracking repo `%s`.", args[0])
		}
	case "approvals":
		text, err = sh.setApprovals(ctx, cmd.ChannelID, args)
	case "notify":
		text, err = sh.setNotifyFlag(ctx, cmd.ChannelID, args)
	case "bots":
		text, err = sh.setBotFilter(ctx, cmd.ChannelID, args)
	case "show":
		text, err = sh.showConfig(ctx, cmd.ChannelID)
	case "delete":
		if err = sh.teams.Delete(ctx, cmd.ChannelID); err == nil {
			text = "Tracking configuration for this channel deleted."
		}
	default:
		text = trackUsage
	}

	if err != nil {
		log.Error(ctx, "Configuration command failed", "error", err, "subcommand", sub)
		ephemeral(c, ":warning: Something went wrong applying that change.")
		return
	}
	ephemeral(c, text)
}

// parseMemberEntry parses "github" or "github:slack" where the slack part is
// either a raw user ID or an escaped mention like <@U123|name>.
func parseMemberEntry(entry string) (githubUsername, slackUserID string, err error) {
	github, slackPart, found := strings.Cut(entry, ":")
	if github == "" {
		return "", "", models.ErrMalformedMemberEntry
	}
	if !found {
		return github, "", nil
	}
	slackPart = strings.TrimSuffix(strings.TrimPrefix(slackPart, "<@"), ">")
	if id, _, ok := strings.Cut(slackPart, "|"); ok {
		slackPart = id
	}
	if slackPart == "" || !strings.HasPrefix(slackPart, "U") {
		return "", "", models.ErrMalformedMemberEntry
	}
	return github, slackPart, nil
}

// addMembers applies every well-formed entry and reports the malformed
// ones; one bad entry does not block the rest.
func (sh *SlackHandler) addMembers(ctx context.Context, channelID, addedBy string, entries []string) (string, error) {
	if len(entries) == 0 {
		return "Usage: `/pr-track add-member <github>[:<@user>] ...`", nil
	}

	var added, skipped []string
	for _, entry := range entries {
		githubUsername, slackUserID, err := parseMemberEntry(entry)
		if err != nil {
			log.Warn(ctx, "Skipping malformed member entry", "entry", entry)
			skipped = append(skipped, entry)
			continue
		}
		if err := sh.teams.AddMember(ctx, channelID, githubUsername, slackUserID, addedBy); err != nil {
			return "", err
		}
		added = append(added, githubUsername)
	}

	var b strings.Builder
	if len(added) > 0 {
		fmt.Fprintf(&b, "Added member%s: `%s`.", plural(len(added)), strings.Join(added, "`, `"))
	}
	if len(skipped) > 0 {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, ":warning: Skipped malformed entr%s: `%s`.",
			pluralY(len(skipped)), strings.Join(skipped, "`, `"))
	}
	return b.String(), nil
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func pluralY(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}

func (sh *SlackHandler) setApprovals(ctx context.Context, channelID string, args []string) (string, error) {
	if len(args) != 1 {
		return "Usage: `/pr-track approvals <n>`", nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 {
		return "Required approvals must be a positive number.", nil
	}
	return fmt.Sprintf("Required approvals set to %d.", n), sh.updateConfig(ctx, channelID, func(cfg *models.TeamConfig) {
		cfg.RequiredApprovals = n
	})
}

func (sh *SlackHandler) setNotifyFlag(ctx context.Context, channelID string, args []string) (string, error) {
	if len(args) != 2 {
		return "Usage: `/pr-track notify <open|ready|changes|approved|merged> <on|off>`", nil
	}
	enabled, ok := parseOnOff(args[1])
	if !ok {
		return "Usage: `/pr-track notify <open|ready|changes|approved|merged> <on|off>`", nil
	}

	var apply func(*models.TeamConfig)
	switch args[0] {
	case "open":
		apply = func(cfg *models.TeamConfig) { cfg.NotifyOnOpen = enabled }
	case "ready":
		apply = func(cfg *models.TeamConfig) { cfg.NotifyOnReady = enabled }
	case "changes":
		apply = func(cfg *models.TeamConfig) { cfg.NotifyOnChangesRequested = enabled }
	case "approved":
		apply = func(cfg *models.TeamConfig) { cfg.NotifyOnApproved = enabled }
	case "merged":
		apply = func(cfg *models.TeamConfig) { cfg.NotifyOnMerged = enabled }
	default:
		return fmt.Sprintf("Unknown notification `%s`.", args[0]), nil
	}
	return fmt.Sprintf("Notification `%s` turned %s.", args[0], args[1]), sh.updateConfig(ctx, channelID, apply)
}

func (sh *SlackHandler) setBotFilter(ctx context.Context, channelID string, args []string) (string, error) {
	if len(args) != 1 {
		return "Usage: `/pr-track bots <on|off>` (on = show bot comments)", nil
	}
	showBots, ok := parseOnOff(args[0])
	if !ok {
		return "Usage: `/pr-track bots <on|off>` (on = show bot comments)", nil
	}
	state := "hidden"
	if showBots {
		state = "shown"
	}
	return fmt.Sprintf("Bot comments are now %s.", state), sh.updateConfig(ctx, channelID, func(cfg *models.TeamConfig) {
		cfg.ExcludeBotComments = !showBots
	})
}

func parseOnOff(s string) (enabled, ok bool) {
	switch strings.ToLower(s) {
	case "on":
		return true, true
	case "off":
		return false, true
	}
	return false, false
}

// updateConfig loads the channel's config (creating it with defaults on
// first use), applies the mutation, and stores it back.
func (sh *SlackHandler) updateConfig(ctx context.Context, channelID string, apply func(*models.TeamConfig)) error {
	cfg, err := sh.teams.Get(ctx, channelID)
	if err != nil {
		return err
	}
	if cfg == nil {
		cfg = models.DefaultTeamConfig(channelID)
	}
	apply(cfg)
	return sh.teams.Upsert(ctx, cfg)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func (sh *SlackHandler) showConfig(ctx context.Context, channelID string) (string, error) {
	cfg, err := sh.teams.GetFull(ctx, channelID)
	if err != nil {
		return "", err
	}
	if cfg == nil {
		return "No tracking configuration for this channel yet. Start with `/pr-track add-member <github>`.", nil
	}

	members := make([]string, 0, len(cfg.Members))
	for _, m := range cfg.Members {
		if m.SlackUserID != "" {
			members = append(members, fmt.Sprintf("`%s` (<@%s>)", m.GitHubUsername, m.SlackUserID))
		} else {
			members = append(members, fmt.Sprintf("`%s`", m.GitHubUsername))
		}
	}
	memberList := "none (tracking nobody)"
	if len(members) > 0 {
		memberList = strings.Join(members, ", ")
	}
	repoList := "all repos"
	if len(cfg.Repos) > 0 {
		repoList = "`" + strings.Join(cfg.Repos, "`, `") + "`"
	}

	return fmt.Sprintf(
		"*PR tracking for this channel*\n"+
			"Members: %s\nRepos: %s\nRequired approvals: %d\n"+
			"Notify on: open %s, ready %s, changes %s, approved %s, merged %s\n"+
			"Bot comments: %s",
		memberList, repoList, cfg.RequiredApprovals,
		onOff(cfg.NotifyOnOpen), onOff(cfg.NotifyOnReady), onOff(cfg.NotifyOnChangesRequested),
		onOff(cfg.NotifyOnApproved), onOff(cfg.NotifyOnMerged),
		map[bool]string{true: "hidden", false: "shown"}[cfg.ExcludeBotComments],
	), nil
}
