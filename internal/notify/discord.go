package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/nidhogg/mister-handy/internal/diag"
	"go.uber.org/zap"
)

// DiscordSink posts alerts to a Discord channel over the REST API. No
// gateway websocket is opened; alerting is one-way.
type DiscordSink struct {
	session   *discordgo.Session
	channelID string
	logger    *zap.Logger
}

// NewDiscordSink creates a Discord alert sink.
func NewDiscordSink(token, channelID string, logger *zap.Logger) (*DiscordSink, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &DiscordSink{session: session, channelID: channelID, logger: logger}, nil
}

func (d *DiscordSink) Name() string { return "discord" }

// statusColor maps severity to an embed accent color.
func statusColor(s diag.AgentStatus) int {
	switch s {
	case diag.StatusCritical, diag.StatusError:
		return 0xe74c3c // red
	case diag.StatusWarning, diag.StatusUnknown, diag.StatusStopped:
		return 0xf1c40f // yellow
	}
	return 0x2ecc71 // green
}

// Send implements Sink.
func (d *DiscordSink) Send(ctx context.Context, alert *Alert) error {
	embed := &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("%s / %s", alert.Agent, alert.Task),
		Description: alert.Message,
		Color:       statusColor(alert.Status),
		Footer: &discordgo.MessageEmbedFooter{
			Text: string(alert.Status),
		},
		Timestamp: alert.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
	}
	for i, s := range alert.Suggestions {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  fmt.Sprintf("suggestion %d", i+1),
			Value: s,
		})
	}
	_, err := d.session.ChannelMessageSendEmbed(d.channelID, embed, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}
