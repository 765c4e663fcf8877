package channel

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

// GroupChatAdapter posts a formatted message to a Slack-compatible
// incoming webhook URL recorded on the EscalationTarget.
type GroupChatAdapter struct {
	webhookURL string
}

func NewGroupChatAdapter(webhookURL string) *GroupChatAdapter {
	return &GroupChatAdapter{webhookURL: webhookURL}
}

func (a *GroupChatAdapter) Send(ctx context.Context, n Notification) (SendResult, error) {
	target := a.webhookURL
	if n.Address != "" {
		target = n.Address
	}
	msg := &slack.WebhookMessage{
		Text: fmt.Sprintf("*%s*\n%s", n.Title, n.Body),
	}
	if err := slack.PostWebhookContext(ctx, target, msg); err != nil {
		return SendResult{}, err
	}
	return SendResult{}, nil
}
