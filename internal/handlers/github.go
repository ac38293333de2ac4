// Package handlers carries the HTTP boundary: GitHub webhook ingestion and
// Slack slash commands. Handlers verify signatures, acknowledge fast, and
// push the real work behind the response.
package handlers

import (
	"context"
	"time"

	"pr-slack-tracker/internal/log"

	"github.com/gin-gonic/gin"
	"github.com/google/go-github/v73/github"
)

// WebhookDispatcher routes a verified webhook delivery to its handler.
// *services.EventDispatcher implements it.
type WebhookDispatcher interface {
	Dispatch(ctx context.Context, eventType string, payload []byte) error
}

// GitHubHandler receives GitHub webhook deliveries. Signature verification
// happens before anything touches the payload; processing happens after the
// 200 is sent so GitHub never times out a delivery on our account.
type GitHubHandler struct {
	dispatcher        WebhookDispatcher
	webhookSecret     string
	processingTimeout time.Duration
}

func NewGitHubHandler(
	dispatcher WebhookDispatcher,
	webhookSecret string,
	processingTimeout time.Duration,
) *GitHubHandler {
	return &GitHubHandler{
		dispatcher:        dispatcher,
		webhookSecret:     webhookSecret,
		processingTimeout: processingTimeout,
	}
}

func (h *GitHubHandler) HandleWebhook(c *gin.Context) {
	startTime := time.Now()
	traceID := c.GetString("trace_id")

	eventType := c.GetHeader("X-GitHub-Event")
	deliveryID := c.GetHeader("X-GitHub-Delivery")

	ctx := c.Request.Context()
	ctx = log.WithFields(ctx, log.Fields{
		"trace_id":        traceID,
		"remote_addr":     c.ClientIP(),
		"github_event":    eventType,
		"github_delivery": deliveryID,
	})

	if eventType == "" {
		log.Error(ctx, "Missing X-GitHub-Event header")
		c.JSON(400, gin.H{"error": "missing required headers"})
		return
	}

	// ValidatePayload performs the constant-time HMAC-SHA256 comparison
	// and rejects a missing or malformed X-Hub-Signature-256 header.
	payload, err := github.ValidatePayload(c.Request, []byte(h.webhookSecret))
	if err != nil {
		log.Error(ctx, "Invalid webhook payload or signature", "error", err)
		c.JSON(401, gin.H{"error": "invalid payload or signature"})
		return
	}

	// Acknowledge before processing. The request context dies with the
	// response, so dispatch runs on a fresh one carrying the trace id.
	bgCtx := log.WithTraceID(context.Background(), traceID)
	bgCtx = log.WithFields(bgCtx, log.Fields{
		"github_event":    eventType,
		"github_delivery": deliveryID,
	})
	go func() {
		dispatchCtx, cancel := context.WithTimeout(bgCtx, h.processingTimeout)
		defer cancel()
		if err := h.dispatcher.Dispatch(dispatchCtx, eventType, payload); err != nil {
			log.Error(dispatchCtx, "Webhook processing failed", "error", err)
		}
	}()

	log.Info(ctx, "Webhook accepted",
		"event_type", eventType,
		"processing_time_ms", time.Since(startTime).Milliseconds(),
	)
	c.JSON(200, gin.H{"status": "accepted"})
}
