// Package config loads the broker's runtime configuration from
// defaults, an optional YAML file, and environment variables (in that
// precedence order) via koanf, and exposes it through small named
// sub-views so each component only sees the fields it needs.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "SENTINEL_"

var defaults = map[string]any{
	"http.addr":              ":8080",
	"db.path":                "./sentinel.db",
	"kv.addr":                "localhost:6379",
	"kv.db":                  0,
	"public_base_url":        "http://localhost:8080",
	"admin_api_key":          "",
	"ip_allowlist":           "",
	"trusted_proxies":        "",
	"trigger_token_param":    "token",
	"rate_limit_per_minute":  10,
	"simulation_mode":        false,
	"escalation.step_delays":      []any{"0s", "5m", "15m"},
	"escalation.default_policy_id": "default",
	"channels.ticket.enabled":     false,
	"channels.ticket.endpoint":    "",
	"channels.ticket.secret":      "",
	"channels.sms.enabled":        false,
	"channels.sms.endpoint":       "",
	"channels.sms.secret":         "",
	"channels.group_chat.enabled": false,
	"channels.group_chat.webhook": "",
	"channels.webhook.enabled":    false,
	"channels.webhook.endpoint":   "",
	"channels.webhook.secret":     "",
	"channels.webhook.timeout":    "5s",
}

// Config is a flattened koanf-backed configuration record. Components
// never read raw keys — they call one of the sub-view methods below.
type Config struct {
	k *koanf.Koanf
}

// Load builds a Config from defaults, an optional YAML file (path may
// be empty, in which case the file layer is skipped) and environment
// variables prefixed with SENTINEL_ (double underscore as the nesting
// separator, e.g. SENTINEL_CHANNELS__TICKET__ENABLED).
func Load(yamlPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if yamlPath != "" {
		if err := k.Load(file.Provider(yamlPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", yamlPath, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		return strings.ToLower(strings.ReplaceAll(s, "__", "."))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	return &Config{k: k}, nil
}

// HTTPConfig is the sub-view the API process needs.
type HTTPConfig struct {
	Addr               string
	PublicBaseURL      string
	AdminAPIKey        string
	IPAllowlist        []string
	TrustedProxies     []string
	TriggerTokenParam  string
	RateLimitPerMinute int
	SimulationMode     bool
}

func (c *Config) HTTP() HTTPConfig {
	tokenParam := c.k.String("trigger_token_param")
	if tokenParam == "" {
		tokenParam = "token"
	}
	return HTTPConfig{
		Addr:               c.k.String("http.addr"),
		PublicBaseURL:      strings.TrimRight(c.k.String("public_base_url"), "/"),
		AdminAPIKey:        c.k.String("admin_api_key"),
		IPAllowlist:        splitCSV(c.k.String("ip_allowlist")),
		TrustedProxies:     splitCSV(c.k.String("trusted_proxies")),
		TriggerTokenParam:  tokenParam,
		RateLimitPerMinute: clampRateLimit(c.k.Int("rate_limit_per_minute")),
		SimulationMode:     c.k.Bool("simulation_mode"),
	}
}

// DBConfig is the sub-view the store package needs.
type DBConfig struct {
	Path string
}

func (c *Config) DB() DBConfig {
	return DBConfig{Path: c.k.String("db.path")}
}

// KVConfig is the sub-view the kv package needs.
type KVConfig struct {
	Addr string
	DB   int
}

func (c *Config) KV() KVConfig {
	return KVConfig{Addr: c.k.String("kv.addr"), DB: c.k.Int("kv.db")}
}

// EscalationConfig is the sub-view the escalation scheduler needs.
type EscalationConfig struct {
	StepDelays      []time.Duration
	DefaultPolicyID string
}

func (c *Config) Escalation() EscalationConfig {
	raw := c.k.Strings("escalation.step_delays")
	delays := make([]time.Duration, 0, len(raw))
	for _, s := range raw {
		d, err := time.ParseDuration(s)
		if err != nil {
			continue
		}
		delays = append(delays, d)
	}
	return EscalationConfig{
		StepDelays:      delays,
		DefaultPolicyID: c.k.String("escalation.default_policy_id"),
	}
}

// ChannelConfig describes one outbound channel adapter's configuration.
type ChannelConfig struct {
	Enabled  bool
	Endpoint string
	Secret   string
	Timeout  time.Duration
}

// ChannelsConfig is the sub-view the notify/channel packages need.
type ChannelsConfig struct {
	Ticket    ChannelConfig
	SMS       ChannelConfig
	GroupChat ChannelConfig
	Webhook   ChannelConfig
}

func (c *Config) Channels() ChannelsConfig {
	webhookTimeout, err := time.ParseDuration(c.k.String("channels.webhook.timeout"))
	if err != nil {
		webhookTimeout = 5 * time.Second
	}
	return ChannelsConfig{
		Ticket: ChannelConfig{
			Enabled:  c.k.Bool("channels.ticket.enabled"),
			Endpoint: c.k.String("channels.ticket.endpoint"),
			Secret:   c.k.String("channels.ticket.secret"),
			Timeout:  5 * time.Second,
		},
		SMS: ChannelConfig{
			Enabled:  c.k.Bool("channels.sms.enabled"),
			Endpoint: c.k.String("channels.sms.endpoint"),
			Secret:   c.k.String("channels.sms.secret"),
			Timeout:  5 * time.Second,
		},
		GroupChat: ChannelConfig{
			Enabled:  c.k.Bool("channels.group_chat.enabled"),
			Endpoint: c.k.String("channels.group_chat.webhook"),
			Timeout:  5 * time.Second,
		},
		Webhook: ChannelConfig{
			Enabled:  c.k.Bool("channels.webhook.enabled"),
			Endpoint: c.k.String("channels.webhook.endpoint"),
			Secret:   c.k.String("channels.webhook.secret"),
			Timeout:  webhookTimeout,
		},
	}
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func clampRateLimit(v int) int {
	if v < 1 {
		return 1
	}
	if v > 1000 {
		return 1000
	}
	return v
}
