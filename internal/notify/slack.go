package notify

import (
	"context"
	"fmt"

	"github.com/nidhogg/mister-handy/internal/diag"
	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// SlackSink posts alerts to a Slack channel via the Web API.
type SlackSink struct {
	client    *slack.Client
	channelID string
	logger    *zap.Logger
}

// NewSlackSink creates a Slack alert sink using a bot token (xoxb-...).
func NewSlackSink(botToken, channelID string, logger *zap.Logger) *SlackSink {
	return &SlackSink{
		client:    slack.New(botToken),
		channelID: channelID,
		logger:    logger,
	}
}

func (s *SlackSink) Name() string { return "slack" }

func statusEmoji(status diag.AgentStatus) string {
	switch status {
	case diag.StatusCritical, diag.StatusError:
		return ":red_circle:"
	case diag.StatusWarning, diag.StatusUnknown, diag.StatusStopped:
		return ":large_yellow_circle:"
	}
	return ":large_green_circle:"
}

// Send implements Sink.
func (s *SlackSink) Send(ctx context.Context, alert *Alert) error {
	text := fmt.Sprintf("%s %s", statusEmoji(alert.Status), alert.Text())
	_, _, err := s.client.PostMessageContext(ctx, s.channelID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionDisableLinkUnfurl(),
	)
	if err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	return nil
}
