// Package config loads runtime settings from the environment, with the
// platform's defaults baked in.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration.
type Config struct {
	UserID string
	Token  string

	APIBaseURL string

	// PushTransport selects the push channel: "websocket" or "amqp".
	PushTransport    string
	WebSocketURL     string
	AMQPURL          string
	PresenceExchange string
	AuditExchange    string

	ListenAddr   string
	OTLPEndpoint string
	Environment  string

	PollConversations time.Duration
	PollMessages      time.Duration
	Heartbeat         time.Duration
}

// Load reads configuration from CHATSYNC_* environment variables.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("chatsync")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("api_base_url", "http://localhost:8888")
	v.SetDefault("push_transport", "websocket")
	v.SetDefault("websocket_url", "ws://localhost:8888/api/chat/ws")
	v.SetDefault("amqp_url", "")
	v.SetDefault("presence_exchange", "chat.presence")
	v.SetDefault("audit_exchange", "platform.audit")
	v.SetDefault("listen_addr", ":8090")
	v.SetDefault("otlp_endpoint", "")
	v.SetDefault("environment", "dev")
	v.SetDefault("poll_conversations", 15*time.Second)
	v.SetDefault("poll_messages", 5*time.Second)
	v.SetDefault("heartbeat", 30*time.Second)

	cfg := Config{
		UserID:            v.GetString("user_id"),
		Token:             v.GetString("token"),
		APIBaseURL:        v.GetString("api_base_url"),
		PushTransport:     v.GetString("push_transport"),
		WebSocketURL:      v.GetString("websocket_url"),
		AMQPURL:           v.GetString("amqp_url"),
		PresenceExchange:  v.GetString("presence_exchange"),
		AuditExchange:     v.GetString("audit_exchange"),
		ListenAddr:        v.GetString("listen_addr"),
		OTLPEndpoint:      v.GetString("otlp_endpoint"),
		Environment:       v.GetString("environment"),
		PollConversations: v.GetDuration("poll_conversations"),
		PollMessages:      v.GetDuration("poll_messages"),
		Heartbeat:         v.GetDuration("heartbeat"),
	}

	if cfg.UserID == "" {
		return Config{}, errors.New("CHATSYNC_USER_ID is required")
	}
	if cfg.PushTransport != "websocket" && cfg.PushTransport != "amqp" {
		return Config{}, errors.New("CHATSYNC_PUSH_TRANSPORT must be websocket or amqp")
	}
	if cfg.PushTransport == "amqp" && cfg.AMQPURL == "" {
		return Config{}, errors.New("CHATSYNC_AMQP_URL is required for the amqp transport")
	}
	return cfg, nil
}
