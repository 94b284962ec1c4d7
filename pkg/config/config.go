// Package config loads the bridge configuration: a JSON file with
// environment-variable overrides on top.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Slack   SlackConfig   `json:"slack"`
	Zulip   ZulipConfig   `json:"zulip"`
	GroupMe GroupMeConfig `json:"groupme,omitzero"`
	Store   StoreConfig   `json:"store"`
	Bridge  BridgeConfig  `json:"bridge"`
	Log     LogConfig     `json:"log"`
}

type SlackConfig struct {
	Token     string `env:"RELAYCLAW_SLACK_TOKEN"       json:"token"`
	BotUserID string `env:"RELAYCLAW_SLACK_BOT_USER_ID" json:"bot_user_id"`
	// ErrorChannel, when set, receives a copy of every error-level log
	// record.
	ErrorChannel string `env:"RELAYCLAW_SLACK_ERROR_CHANNEL" json:"error_channel,omitempty"`
}

type ZulipConfig struct {
	URL    string `env:"RELAYCLAW_ZULIP_URL"     json:"url"`
	Email  string `env:"RELAYCLAW_ZULIP_EMAIL"   json:"email"`
	APIKey string `env:"RELAYCLAW_ZULIP_API_KEY" json:"api_key"`

	// PublicStream receives the public two-way channels; every topic
	// there relays back to the matching origin channel.
	PublicStream string `env:"RELAYCLAW_ZULIP_PUBLIC_STREAM" json:"public_stream"`

	LogEnabled       bool   `env:"RELAYCLAW_ZULIP_LOG_ENABLED"        json:"log_enabled"`
	LogPublicStream  string `env:"RELAYCLAW_ZULIP_LOG_PUBLIC_STREAM"  json:"log_public_stream"`
	LogPrivateStream string `env:"RELAYCLAW_ZULIP_LOG_PRIVATE_STREAM" json:"log_private_stream"`
}

// GroupMeBinding connects one origin channel name to one webhook bot.
type GroupMeBinding struct {
	BotID   string `json:"bot_id"`
	BotName string `json:"bot_name"`
	Port    int    `json:"port"`
}

type GroupMeConfig struct {
	Enabled  bool                      `env:"RELAYCLAW_GROUPME_ENABLED" json:"enabled"`
	Bindings map[string]GroupMeBinding `json:"bindings,omitempty"`
}

// ChannelNames lists the bound origin channel names.
func (g GroupMeConfig) ChannelNames() []string {
	if !g.Enabled {
		return nil
	}
	names := make([]string, 0, len(g.Bindings))
	for name := range g.Bindings {
		names = append(names, name)
	}
	return names
}

type StoreConfig struct {
	// Backend is "sqlite" or "memory".
	Backend string `env:"RELAYCLAW_STORE_BACKEND" json:"backend"`
	Path    string `env:"RELAYCLAW_STORE_PATH"    json:"path"`
	Prefix  string `env:"RELAYCLAW_STORE_PREFIX"  json:"prefix"`
}

type BridgeConfig struct {
	// PublicTwoWay lists origin channel names relayed two-way with the
	// public stream.
	PublicTwoWay []string `env:"RELAYCLAW_BRIDGE_PUBLIC_TWO_WAY" json:"public_two_way"`
	// CorrelationTTLSeconds bounds how long edits and deletes can be
	// replayed in place.
	CorrelationTTLSeconds int `env:"RELAYCLAW_BRIDGE_CORRELATION_TTL_SECONDS" json:"correlation_ttl_seconds"`
	Workers               int `env:"RELAYCLAW_BRIDGE_WORKERS"                 json:"workers"`
}

func (b BridgeConfig) CorrelationTTL() time.Duration {
	return time.Duration(b.CorrelationTTLSeconds) * time.Second
}

type LogConfig struct {
	Level string `env:"RELAYCLAW_LOG_LEVEL" json:"level"`
}

func DefaultConfig() *Config {
	return &Config{
		Zulip: ZulipConfig{
			LogPublicStream:  "chat-log",
			LogPrivateStream: "chat-log-private",
		},
		Store: StoreConfig{
			Backend: "sqlite",
			Path:    "~/.relayclaw/relayclaw.db",
			Prefix:  "relayclaw",
		},
		Bridge: BridgeConfig{
			CorrelationTTLSeconds: 3600,
			Workers:               4,
		},
		Log: LogConfig{Level: "info"},
	}
}

// LoadConfig reads the JSON file at path and applies environment
// overrides. A missing file is not an error; the defaults plus the
// environment still apply.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if len(c.Bridge.PublicTwoWay) > 0 && c.Zulip.PublicStream == "" {
		return errors.New("public two-way channels configured without a public stream")
	}
	if c.GroupMe.Enabled {
		for name, binding := range c.GroupMe.Bindings {
			if binding.BotID == "" || binding.Port == 0 {
				return fmt.Errorf("groupme binding %q needs bot_id and port", name)
			}
		}
	}
	return nil
}

// StorePath expands a leading ~ in the store path.
func (c *Config) StorePath() string {
	return expandHome(c.Store.Path)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
