package notify

import (
	"context"
	"errors"

	"github.com/mattjoyce/jobrelay/internal/slack"
)

// Poster posts a chat message. *slack.Client satisfies it.
type Poster interface {
	PostMessage(ctx context.Context, msg slack.Message) (*slack.Posted, error)
}

// SlackBridge posts notifications to one channel.
type SlackBridge struct {
	poster  Poster
	channel string
}

func NewSlack(p Poster, channel string) *SlackBridge {
	return &SlackBridge{poster: p, channel: channel}
}

func (b *SlackBridge) Notify(ctx context.Context, n Notification) error {
	if b.channel == "" {
		return errors.New("notify: slack channel is not configured")
	}
	text, blocks := slack.NoticeBlocks(slack.Notice{
		Kind:       string(n.Kind),
		EntityType: n.EntityType,
		ExternalID: n.ExternalID,
		Data:       n.Data,
	})
	_, err := b.poster.PostMessage(ctx, slack.Message{
		Channel: b.channel,
		Text:    text,
		Blocks:  blocks,
	})
	return err
}
