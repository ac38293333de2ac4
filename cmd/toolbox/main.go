package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/slack-go/slack"

	"pr-slack-tracker/internal/config"
	"pr-slack-tracker/internal/log"
	"pr-slack-tracker/internal/services"
	"pr-slack-tracker/internal/store"
)

const (
	minArgsRequired   = 2
	filePermReadWrite = 0600
	ginModeRelease    = "release"
)

func main() {
	if len(os.Args) < minArgsRequired {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	switch command {
	case "backfill":
		handleBackfill()
	case "seed-mappings":
		handleSeedMappings()
	case "dump":
		handleDump()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Toolbox - Utility commands for pr-slack-tracker")
	fmt.Println("")
	fmt.Println("Usage:")
	fmt.Println("  toolbox <command> [flags]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  backfill           Scan open PRs in a repo and post/refresh their channel messages")
	fmt.Println("  seed-mappings      Load USER_MAPPINGS into the user mapping table")
	fmt.Println("  dump               Export team configs, tracked messages and mappings as JSON")
	fmt.Println("  help               Show this help message")
	fmt.Println("")
	fmt.Println("Flags for backfill:")
	fmt.Println("  --repos LIST       Comma-separated owner/name repos to scan (required)")
	fmt.Println("  --dry-run          List what would be reconciled without posting")
	fmt.Println("")
	fmt.Println("Flags for dump:")
	fmt.Println("  --output FILE      Write output to file instead of stdout")
	fmt.Println("  --pretty           Pretty-print JSON output")
	fmt.Println("")
}

func setupLogging(cfg *config.Config) {
	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	var logger *slog.Logger
	if cfg.GinMode != ginModeRelease {
		logger = slog.New(slog.NewTextHandler(os.Stdout, opts))
	} else {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	slog.SetDefault(logger)
}

func loadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	setupLogging(cfg)
	return cfg
}

func openDatabase(cfg *config.Config) *store.Database {
	db, err := store.NewDatabase(cfg.DatabasePath)
	if err != nil {
		slog.Error("Failed to open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	return db
}

// handleBackfill lists the open PRs of each given repo and reconciles them
// into every channel that tracks their author, creating messages for PRs
// the service never saw a webhook for.
func handleBackfill() {
	var repoList string
	var dryRun bool

	fs := flag.NewFlagSet("backfill", flag.ExitOnError)
	fs.StringVar(&repoList, "repos", "", "Comma-separated owner/name repos to scan (required)")
	fs.BoolVar(&dryRun, "dry-run", false, "List what would be reconciled without posting")
	_ = fs.Parse(os.Args[2:])

	if repoList == "" {
		fmt.Println("backfill requires --repos")
		os.Exit(1)
	}

	cfg := loadConfig()
	db := openDatabase(cfg)
	defer func() { _ = db.Close() }()

	teamStore := store.NewTeamConfigStore(db)
	messageStore := store.NewPRMessageStore(db)
	mappingStore := store.NewUserMappingStore(db)

	retry := services.RetryConfig{MaxAttempts: cfg.RetryMaxAttempts, BaseDelay: cfg.RetryBaseDelay}
	githubService := services.NewGitHubService(cfg.GitHubToken, retry)
	slackService := services.NewSlackService(slack.New(cfg.SlackBotToken), retry)
	reconciler := services.NewMessageReconciler(messageStore, slackService, githubService, mappingStore)

	ctx := context.Background()
	var scanned, reconciled int

	for _, fullName := range strings.Split(repoList, ",") {
		fullName = strings.TrimSpace(fullName)
		owner, repo, found := strings.Cut(fullName, "/")
		if !found || owner == "" || repo == "" {
			slog.Error("Invalid repo, expected owner/name", "repo", fullName)
			os.Exit(1)
		}

		prs, err := githubService.ListOpenPRs(ctx, owner, repo)
		if err != nil {
			slog.Error("Failed to list open PRs", "repo", fullName, "error", err)
			os.Exit(1)
		}
		slog.Info("Scanning repo", "repo", fullName, "open_prs", len(prs))

		for _, pr := range prs {
			scanned++
			author := pr.GetUser().GetLogin()
			channels, err := teamStore.ResolveChannels(ctx, author, repo)
			if err != nil {
				slog.Error("Failed to resolve channels", "repo", fullName, "pr_number", pr.GetNumber(), "error", err)
				os.Exit(1)
			}
			if len(channels) == 0 {
				continue
			}

			for _, channelID := range channels {
				team, err := teamStore.GetFull(ctx, channelID)
				if err != nil || team == nil {
					slog.Error("Failed to load team config", "channel", channelID, "error", err)
					continue
				}

				if dryRun {
					fmt.Printf("would reconcile %s#%d -> %s\n", fullName, pr.GetNumber(), channelID)
					reconciled++
					continue
				}

				snapshot, err := githubService.FetchSnapshot(ctx, owner, repo, pr.GetNumber(), team.RequiredApprovals)
				if err != nil {
					log.Error(ctx, "Failed to fetch PR snapshot",
						"repo", fullName, "pr_number", pr.GetNumber(), "error", err)
					continue
				}
				if err := reconciler.Reconcile(ctx, snapshot, team); err != nil {
					log.Error(ctx, "Failed to reconcile PR",
						"repo", fullName, "pr_number", pr.GetNumber(), "channel", channelID, "error", err)
					continue
				}
				reconciled++
			}
		}
	}

	slog.Info("Backfill complete", "scanned", scanned, "reconciled", reconciled, "dry_run", dryRun)
}

func handleSeedMappings() {
	cfg := loadConfig()
	if cfg.UserMappings == "" {
		fmt.Println("USER_MAPPINGS is empty, nothing to seed")
		return
	}

	db := openDatabase(cfg)
	defer func() { _ = db.Close() }()

	mappingStore := store.NewUserMappingStore(db)
	if err := mappingStore.SeedFromString(context.Background(), cfg.UserMappings); err != nil {
		slog.Error("Failed to seed user mappings", "error", err)
		os.Exit(1)
	}
	slog.Info("User mappings seeded")
}

func handleDump() {
	var outputFile string
	var pretty bool

	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	fs.StringVar(&outputFile, "output", "", "Write output to file instead of stdout")
	fs.BoolVar(&pretty, "pretty", false, "Pretty-print JSON output")
	_ = fs.Parse(os.Args[2:])

	cfg := loadConfig()
	db := openDatabase(cfg)
	defer func() { _ = db.Close() }()

	teamStore := store.NewTeamConfigStore(db)
	messageStore := store.NewPRMessageStore(db)
	mappingStore := store.NewUserMappingStore(db)

	ctx := context.Background()

	teams, err := teamStore.List(ctx)
	if err != nil {
		slog.Error("Failed to list team configs", "error", err)
		os.Exit(1)
	}
	full := make([]any, 0, len(teams))
	for i := range teams {
		team, err := teamStore.GetFull(ctx, teams[i].ChannelID)
		if err != nil {
			slog.Error("Failed to load team config", "channel", teams[i].ChannelID, "error", err)
			os.Exit(1)
		}
		full = append(full, team)
	}

	open, err := messageStore.ListOpen(ctx)
	if err != nil {
		slog.Error("Failed to list tracked messages", "error", err)
		os.Exit(1)
	}

	mappings, err := mappingStore.List(ctx)
	if err != nil {
		slog.Error("Failed to list user mappings", "error", err)
		os.Exit(1)
	}

	dump := map[string]any{
		"team_configs":  full,
		"open_messages": open,
		"user_mappings": mappings,
	}

	var data []byte
	if pretty {
		data, err = json.MarshalIndent(dump, "", "  ")
	} else {
		data, err = json.Marshal(dump)
	}
	if err != nil {
		slog.Error("Failed to marshal dump", "error", err)
		os.Exit(1)
	}

	if outputFile != "" {
		if err := os.WriteFile(outputFile, data, filePermReadWrite); err != nil {
			slog.Error("Failed to write output file", "file", outputFile, "error", err)
			os.Exit(1)
		}
		slog.Info("Dump written", "file", outputFile)
		return
	}
	fmt.Println(string(data))
}
