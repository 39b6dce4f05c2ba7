package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the engine configuration loaded from <data>/config.toml.
type Config struct {
	Gateway GatewayConfig `toml:"gateway"`
	HTTP    HTTPConfig    `toml:"http"`
	Media   MediaConfig   `toml:"media"`
	Sync    SyncConfig    `toml:"sync"`
}

// GatewayConfig configures the external messaging provider API.
type GatewayConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// HTTPConfig configures the webhook/API listener.
type HTTPConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// MediaConfig configures blob storage. Dir defaults to <data>/media.
type MediaConfig struct {
	Dir string `toml:"dir"`
}

// SyncConfig tunes the backfill orchestrator. The batch knobs and delay
// are an anti-abuse pacing constraint, not a throughput tradeoff:
// burst-like backfill traffic can get the channel suspended by the provider.
type SyncConfig struct {
	ChatPageSize      int `toml:"chat_page_size"`
	MaxChatPages      int `toml:"max_chat_pages"`
	MessageFetchLimit int `toml:"message_fetch_limit"`
	ChatsPerBatch     int `toml:"chats_per_batch"`
	MessagesPerBatch  int `toml:"messages_per_batch"`
	BatchDelayMS      int `toml:"batch_delay_ms"`
}

// Default returns a config with every knob at its default value.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			BaseURL:        "http://localhost:8080",
			TimeoutSeconds: 30,
		},
		HTTP: HTTPConfig{
			ListenAddr: "127.0.0.1:8721",
		},
		Sync: SyncConfig{
			ChatPageSize:      50,
			MaxChatPages:      20,
			MessageFetchLimit: 1000,
			ChatsPerBatch:     5,
			MessagesPerBatch:  50,
			BatchDelayMS:      2000,
		},
	}
}

// Load reads config from path, filling unset fields with defaults.
// A missing file yields the default config.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Save writes config to path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// GatewayTimeout returns the bounded timeout for outbound gateway calls.
func (c *Config) GatewayTimeout() time.Duration {
	return time.Duration(c.Gateway.TimeoutSeconds) * time.Second
}

// BatchDelay returns the mandatory sleep between sync batches.
func (c *Config) BatchDelay() time.Duration {
	return time.Duration(c.Sync.BatchDelayMS) * time.Millisecond
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.Gateway.TimeoutSeconds <= 0 {
		c.Gateway.TimeoutSeconds = def.Gateway.TimeoutSeconds
	}
	if c.HTTP.ListenAddr == "" {
		c.HTTP.ListenAddr = def.HTTP.ListenAddr
	}
	if c.Sync.ChatPageSize <= 0 {
		c.Sync.ChatPageSize = def.Sync.ChatPageSize
	}
	if c.Sync.MaxChatPages <= 0 {
		c.Sync.MaxChatPages = def.Sync.MaxChatPages
	}
	if c.Sync.MessageFetchLimit <= 0 {
		c.Sync.MessageFetchLimit = def.Sync.MessageFetchLimit
	}
	if c.Sync.ChatsPerBatch <= 0 {
		c.Sync.ChatsPerBatch = def.Sync.ChatsPerBatch
	}
	if c.Sync.MessagesPerBatch <= 0 {
		c.Sync.MessagesPerBatch = def.Sync.MessagesPerBatch
	}
	if c.Sync.BatchDelayMS < 0 {
		c.Sync.BatchDelayMS = def.Sync.BatchDelayMS
	}
}
