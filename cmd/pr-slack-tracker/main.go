package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/slack-go/slack"

	"pr-slack-tracker/internal/config"
	"pr-slack-tracker/internal/handlers"
	"pr-slack-tracker/internal/middleware"
	"pr-slack-tracker/internal/services"
	"pr-slack-tracker/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogging(cfg)
	gin.SetMode(cfg.GinMode)

	ctx := context.Background()

	slog.Info("Opening database", "path", cfg.DatabasePath)
	db, err := store.NewDatabase(cfg.DatabasePath)
	if err != nil {
		slog.Error("Failed to open database", "component", "startup", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Error("Error closing database", "component", "shutdown", "error", err)
		}
	}()

	teamStore := store.NewTeamConfigStore(db)
	messageStore := store.NewPRMessageStore(db)
	mappingStore := store.NewUserMappingStore(db)

	if cfg.UserMappings != "" {
		if err := mappingStore.SeedFromString(ctx, cfg.UserMappings); err != nil {
			slog.Error("Failed to seed user mappings", "component", "startup", "error", err)
			os.Exit(1)
		}
	}

	retry := services.RetryConfig{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
	}
	githubService := services.NewGitHubService(cfg.GitHubToken, retry)
	slackService := services.NewSlackService(slack.New(cfg.SlackBotToken), retry)

	reconciler := services.NewMessageReconciler(messageStore, slackService, githubService, mappingStore)
	dispatcher := services.NewEventDispatcher(teamStore, messageStore, mappingStore, githubService, reconciler)

	githubHandler := handlers.NewGitHubHandler(dispatcher, cfg.GitHubWebhookSecret, cfg.WebhookProcessingTimeout)
	slackHandler := handlers.NewSlackHandler(
		teamStore, messageStore, githubService, cfg.SlackSigningSecret, cfg.WebhookProcessingTimeout)

	router := gin.Default()
	router.Use(middleware.Logging())

	router.POST("/webhooks/github", githubHandler.HandleWebhook)
	router.POST("/commands/slack", slackHandler.HandleCommand)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	slog.Info("Starting server", "component", "server", "port", cfg.Port)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed to start", "component", "server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server...", "component", "server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "component", "server", "error", err)
		os.Exit(1)
	}

	slog.Info("Server exited gracefully", "component", "server")
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
	if cfg.GinMode != "release" {
		// Text format for development, JSON for production.
		logger = slog.New(slog.NewTextHandler(os.Stdout, opts))
	} else {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	slog.SetDefault(logger)
}
