package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// GatewayConfig holds the session timing knobs of the conversation core.
type GatewayConfig struct {
	LiveChatTimeoutMinutes int `yaml:"live_chat_timeout_minutes" envconfig:"LIVE_CHAT_TIMEOUT_MINUTES"`
	TalkToUsTimeoutMinutes int `yaml:"talk_to_us_timeout_minutes" envconfig:"TALK_TO_US_TIMEOUT_MINUTES"`
	PromptRateLimitMinutes int `yaml:"prompt_rate_limit_minutes" envconfig:"PROMPT_RATE_LIMIT_MINUTES"`
	SweepIntervalSeconds   int `yaml:"sweep_interval_seconds" envconfig:"SWEEP_INTERVAL_SECONDS"`
	IdleRetentionHours     int `yaml:"idle_retention_hours" envconfig:"IDLE_RETENTION_HOURS"`
	NotificationPacingMS   int `yaml:"notification_pacing_ms" envconfig:"NOTIFICATION_PACING_MS"`
}

// ForwarderConfig specifies the automation webhook that produces reply text.
type ForwarderConfig struct {
	URL            string `yaml:"url" envconfig:"FORWARDER_URL"`
	TimeoutSeconds int    `yaml:"timeout_seconds" envconfig:"FORWARDER_TIMEOUT_SECONDS"`
}

// BridgeConfig points at the chat-transport sidecar used to deliver outbound text.
type BridgeConfig struct {
	URL string `yaml:"url" envconfig:"BRIDGE_URL"`
}

// TelegramConfig holds settings for the optional Telegram transport.
type TelegramConfig struct {
	Token string `yaml:"token" envconfig:"BOT_TOKEN"`
	// LongPollTimeoutSeconds defines long polling timeout; 0 -> default
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
}

// TransportConfig selects and configures the chat transport.
type TransportConfig struct {
	Mode     string         `yaml:"mode" envconfig:"TRANSPORT_MODE"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Telegram TelegramConfig `yaml:"telegram"`
}

// HTTPConfig specifies the inbound webhook / admin listener.
type HTTPConfig struct {
	Listen string `yaml:"listen" envconfig:"HTTP_LISTEN"`
	Port   int    `yaml:"port" envconfig:"HTTP_PORT"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir"`
	File        string `yaml:"file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile"`
}

const (
	// TransportBridge routes outbound text through the HTTP bridge sidecar.
	TransportBridge = "bridge"
	// TransportTelegram runs an embedded Telegram bot as the transport.
	TransportTelegram = "telegram"
)

// Config aggregates the whole gateway configuration surface.
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway"`
	Forwarder ForwarderConfig `yaml:"forwarder"`
	Transport TransportConfig `yaml:"transport"`
	HTTP      HTTPConfig      `yaml:"http"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize validates required fields and fills defaults for unset options.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if cfg.Gateway.LiveChatTimeoutMinutes <= 0 {
		cfg.Gateway.LiveChatTimeoutMinutes = 20
	}
	if cfg.Gateway.TalkToUsTimeoutMinutes <= 0 {
		cfg.Gateway.TalkToUsTimeoutMinutes = 20
	}
	// Prompt spacing tracks the live-chat timeout unless configured explicitly.
	if cfg.Gateway.PromptRateLimitMinutes <= 0 {
		cfg.Gateway.PromptRateLimitMinutes = cfg.Gateway.LiveChatTimeoutMinutes
	}
	if cfg.Gateway.SweepIntervalSeconds <= 0 {
		cfg.Gateway.SweepIntervalSeconds = 60
	}
	if cfg.Gateway.IdleRetentionHours <= 0 {
		cfg.Gateway.IdleRetentionHours = 1
	}
	if cfg.Gateway.NotificationPacingMS <= 0 {
		cfg.Gateway.NotificationPacingMS = 500
	}

	if strings.TrimSpace(cfg.Forwarder.URL) == "" {
		return fmt.Errorf("forwarder.url is required")
	}
	if cfg.Forwarder.TimeoutSeconds <= 0 {
		cfg.Forwarder.TimeoutSeconds = 30
	}

	mode := strings.ToLower(strings.TrimSpace(cfg.Transport.Mode))
	if mode == "" {
		mode = TransportBridge
	}
	switch mode {
	case TransportBridge:
		if strings.TrimSpace(cfg.Transport.Bridge.URL) == "" {
			return fmt.Errorf("transport.bridge.url is required when transport.mode is 'bridge'")
		}
	case TransportTelegram:
		if strings.TrimSpace(cfg.Transport.Telegram.Token) == "" {
			return fmt.Errorf("transport.telegram.token is required when transport.mode is 'telegram'")
		}
		if cfg.Transport.Telegram.LongPollTimeoutSeconds < 0 {
			return fmt.Errorf("transport.telegram.longpoll_timeout_seconds must be >= 0")
		}
	default:
		return fmt.Errorf("invalid transport.mode %q; allowed: bridge, telegram", cfg.Transport.Mode)
	}
	cfg.Transport.Mode = mode

	if strings.TrimSpace(cfg.HTTP.Listen) == "" {
		cfg.HTTP.Listen = "0.0.0.0"
	}
	if cfg.HTTP.Port <= 0 {
		cfg.HTTP.Port = 8080
	}

	return nil
}

// LiveChatTimeout returns the live-chat inactivity bound as a duration.
func (g GatewayConfig) LiveChatTimeout() time.Duration {
	return time.Duration(g.LiveChatTimeoutMinutes) * time.Minute
}

// TalkToUsTimeout returns the talk-to-us inactivity bound as a duration.
func (g GatewayConfig) TalkToUsTimeout() time.Duration {
	return time.Duration(g.TalkToUsTimeoutMinutes) * time.Minute
}

// PromptRateLimit returns the minimum spacing between repeated welcome prompts.
func (g GatewayConfig) PromptRateLimit() time.Duration {
	return time.Duration(g.PromptRateLimitMinutes) * time.Minute
}

// SweepInterval returns the sweeper tick cadence.
func (g GatewayConfig) SweepInterval() time.Duration {
	return time.Duration(g.SweepIntervalSeconds) * time.Second
}

// IdleRetention returns the age threshold for physically deleting idle records.
func (g GatewayConfig) IdleRetention() time.Duration {
	return time.Duration(g.IdleRetentionHours) * time.Hour
}

// NotificationPacing returns the delay between consecutive expiry notices.
func (g GatewayConfig) NotificationPacing() time.Duration {
	return time.Duration(g.NotificationPacingMS) * time.Millisecond
}
