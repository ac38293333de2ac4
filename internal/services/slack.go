package services

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

// SlackService provides the outbound Slack message operations: post a
// channel message, update it in place, and post threaded replies.
type SlackService struct {
	client *slack.Client
	retry  RetryConfig
}

// NewSlackService creates a new SlackService around a Slack client.
func NewSlackService(client *slack.Client, retry RetryConfig) *SlackService {
	return &SlackService{client: client, retry: retry}
}

// PostMessage posts a new message to a channel and returns its timestamp,
// which acts as the message identity for later updates and thread replies.
func (s *SlackService) PostMessage(ctx context.Context, channel, text string, blocks []slack.Block) (string, error) {
	var timestamp string
	err := WithRetry(ctx, s.retry, fmt.Sprintf("postMessage(%s)", channel), func() error {
		var err error
		_, timestamp, err = s.client.PostMessageContext(ctx, channel,
			slack.MsgOptionText(text, false),
			slack.MsgOptionBlocks(blocks...),
			slack.MsgOptionDisableLinkUnfurl(),
			slack.MsgOptionDisableMediaUnfurl(),
		)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to post message to channel %s: %w", channel, err)
	}
	return timestamp, nil
}

// UpdateMessage overwrites the content of an existing message identified by
// (channel, timestamp). The overwrite is idempotent at the content level.
func (s *SlackService) UpdateMessage(ctx context.Context, channel, timestamp, text string, blocks []slack.Block) error {
	err := WithRetry(ctx, s.retry, fmt.Sprintf("updateMessage(%s)", channel), func() error {
		_, _, _, err := s.client.UpdateMessageContext(ctx, channel, timestamp,
			slack.MsgOptionText(text, false),
			slack.MsgOptionBlocks(blocks...),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to update message %s in channel %s: %w", timestamp, channel, err)
	}
	return nil
}

// PostThreadReply posts a reply into the thread of the message identified
// by (channel, parentTS).
func (s *SlackService) PostThreadReply(ctx context.Context, channel, parentTS, text string) error {
	err := WithRetry(ctx, s.retry, fmt.Sprintf("threadReply(%s)", channel), func() error {
		_, _, err := s.client.PostMessageContext(ctx, channel,
			slack.MsgOptionTS(parentTS),
			slack.MsgOptionText(text, false),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to post thread reply in channel %s: %w", channel, err)
	}
	return nil
}
