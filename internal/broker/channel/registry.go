package channel

import (
	"github.com/silentline/sentinel/internal/broker/config"
)

// BuildRegistry wires one adapter per enabled channel in cfg. In
// simulation mode every enabled channel's real adapter is replaced by
// the shared mock so no outbound network call ever leaves the
// process; mock may be nil when simulation mode is off.
func BuildRegistry(cfg config.ChannelsConfig, mock *MockAdapter) *Registry {
	r := NewRegistry()

	register := func(tag string, enabled bool, build func() Adapter) {
		if !enabled {
			return
		}
		if mock != nil {
			r.Register(tag, mock)
			return
		}
		r.Register(tag, build())
	}

	register("ticket", cfg.Ticket.Enabled, func() Adapter {
		return NewTicketAdapter(cfg.Ticket.Endpoint, cfg.Ticket.Secret, cfg.Ticket.Timeout)
	})
	register("sms", cfg.SMS.Enabled, func() Adapter {
		return NewSMSAdapter(cfg.SMS.Endpoint, cfg.SMS.Secret, cfg.SMS.Timeout)
	})
	register("group-chat", cfg.GroupChat.Enabled, func() Adapter {
		return NewGroupChatAdapter(cfg.GroupChat.Endpoint)
	})
	register("webhook", cfg.Webhook.Enabled, func() Adapter {
		return NewWebhookAdapter(cfg.Webhook.Endpoint, cfg.Webhook.Secret, cfg.Webhook.Timeout)
	})

	return r
}
