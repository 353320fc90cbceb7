package digest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
)

// embedSender is the part of *discordgo.Session the notifier uses.
type embedSender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts digests to a channel through the bot REST API. No gateway
// connection is opened.
type Discord struct {
	sess      embedSender
	channelID string
	backoff   time.Duration
}

// NewDiscord returns a notifier posting to channelID as the bot identified
// by token.
func NewDiscord(token, channelID string) (*Discord, error) {
	sess, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	return &Discord{sess: sess, channelID: channelID, backoff: baseBackoff}, nil
}

func (d *Discord) Name() string { return "discord" }

// Notify sends msg as one embed.
func (d *Discord) Notify(ctx context.Context, msg Message) error {
	embed := toEmbed(msg)
	err := retryOnRateLimit(ctx, d.backoff, discordRateLimit, func() error {
		_, sendErr := d.sess.ChannelMessageSendEmbed(d.channelID, embed, discordgo.WithContext(ctx))
		return sendErr
	})
	if err != nil {
		return fmt.Errorf("discord: send embed: %w", err)
	}
	return nil
}

func discordRateLimit(err error) (bool, time.Duration) {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil &&
		restErr.Response.StatusCode == http.StatusTooManyRequests {
		return true, 0
	}
	return false, 0
}

func toEmbed(msg Message) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       msg.Title,
		Description: msg.Body,
		Color:       parseHexColor(msg.Color),
	}
	for _, f := range msg.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Short,
		})
	}
	return embed
}

// parseHexColor converts "#rrggbb" to the integer Discord expects. Invalid
// digits are ignored.
func parseHexColor(hex string) int {
	if len(hex) > 0 && hex[0] == '#' {
		hex = hex[1:]
	}
	var color int
	for _, c := range hex {
		switch {
		case c >= '0' && c <= '9':
			color = color<<4 | int(c-'0')
		case c >= 'a' && c <= 'f':
			color = color<<4 | (int(c-'a') + 10)
		case c >= 'A' && c <= 'F':
			color = color<<4 | (int(c-'A') + 10)
		}
	}
	return color
}
