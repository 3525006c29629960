// Package config loads termrelay's TOML user configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
)

// ConfigFileName is the TOML config file for user preferences
const ConfigFileName = "config.toml"

// Defaults for the hook/listener contract. The listener binds loopback only;
// hooks run on the same host as the bridge.
const (
	DefaultListenerHost = "127.0.0.1"
	DefaultListenerPort = 18470

	// DefaultChunkLimit matches the smallest supported chat platform
	// message-length constraint (Discord: 2000) with headroom for framing.
	DefaultChunkLimit = 1900
)

// Environment variables read by the hook process to find the listener.
const (
	EnvProject    = "TERMRELAY_PROJECT"
	EnvAgent      = "TERMRELAY_AGENT"
	EnvInstanceID = "TERMRELAY_INSTANCE_ID"
	EnvPort       = "TERMRELAY_PORT"
	EnvHost       = "TERMRELAY_HOST"
)

// Config represents user-facing configuration in TOML format.
type Config struct {
	// Theme sets the color scheme: "dark" (default), "light", or "system"
	Theme string `toml:"theme"`

	// Listener configures the local push-event HTTP endpoint
	Listener ListenerSettings `toml:"listener"`

	// Poll configures the capture poll loop
	Poll PollSettings `toml:"poll"`

	// Chat configures outbound message delivery
	Chat ChatSettings `toml:"chat"`

	// Tools defines agent CLI adapters; merged over the built-in set
	Tools map[string]ToolDef `toml:"tools"`

	// Logs defines logging behavior
	Logs LogSettings `toml:"logs"`
}

// ListenerSettings configures the push-event HTTP listener.
type ListenerSettings struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Addr returns the host:port the listener binds to, with env overrides
// applied so the engine and the hook process agree on the contract.
func (l ListenerSettings) Addr() string {
	host := l.Host
	if host == "" {
		host = DefaultListenerHost
	}
	if env := os.Getenv(EnvHost); env != "" {
		host = env
	}
	port := l.Port
	if port <= 0 {
		port = DefaultListenerPort
	}
	if env := os.Getenv(EnvPort); env != "" {
		if p, err := strconv.Atoi(env); err == nil && p > 0 {
			port = p
		}
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// PollSettings configures the capture poll loop.
type PollSettings struct {
	// IntervalMS is the fixed poll interval in milliseconds (default: 1000)
	IntervalMS int `toml:"interval_ms"`

	// CaptureTimeoutSecs bounds a single buffer read (default: 3)
	CaptureTimeoutSecs int `toml:"capture_timeout_secs"`

	// ChunkLimit is the max outbound chunk length (default: 1900)
	ChunkLimit int `toml:"chunk_limit"`
}

// GetIntervalMS returns the poll interval with the default applied.
func (p PollSettings) GetIntervalMS() int {
	if p.IntervalMS <= 0 {
		return 1000
	}
	return p.IntervalMS
}

// GetCaptureTimeoutSecs returns the capture timeout with the default applied.
func (p PollSettings) GetCaptureTimeoutSecs() int {
	if p.CaptureTimeoutSecs <= 0 {
		return 3
	}
	return p.CaptureTimeoutSecs
}

// GetChunkLimit returns the chunk limit with the default applied.
func (p PollSettings) GetChunkLimit() int {
	if p.ChunkLimit <= 0 {
		return DefaultChunkLimit
	}
	return p.ChunkLimit
}

// ChatSettings configures outbound delivery.
type ChatSettings struct {
	// MessagesPerSec is the per-channel send rate (default: 1)
	MessagesPerSec float64 `toml:"messages_per_sec"`

	// Burst is the per-channel burst allowance (default: 5)
	Burst int `toml:"burst"`

	// Discord maps project name -> webhook URL
	Discord DiscordSettings `toml:"discord"`

	// WebPush configures browser push notifications for lifecycle events
	WebPush WebPushSettings `toml:"webpush"`
}

// GetMessagesPerSec returns the send rate with the default applied.
func (c ChatSettings) GetMessagesPerSec() float64 {
	if c.MessagesPerSec <= 0 {
		return 1
	}
	return c.MessagesPerSec
}

// GetBurst returns the burst allowance with the default applied.
func (c ChatSettings) GetBurst() int {
	if c.Burst <= 0 {
		return 5
	}
	return c.Burst
}

// DiscordSettings configures Discord webhook delivery.
type DiscordSettings struct {
	// Webhooks maps channel name -> webhook URL
	Webhooks map[string]string `toml:"webhooks"`
}

// WebPushSettings configures Web Push delivery of lifecycle events.
type WebPushSettings struct {
	Enabled bool `toml:"enabled"`

	// Subscription is the browser PushSubscription JSON
	Subscription string `toml:"subscription"`

	VAPIDPublicKey  string `toml:"vapid_public_key"`
	VAPIDPrivateKey string `toml:"vapid_private_key"`

	// Subject is the VAPID contact, e.g. "mailto:ops@example.com"
	Subject string `toml:"subject"`
}

// ToolDef defines an agent CLI adapter: pure data plus one optional
// flag-injection behavior (dangerous_mode) for the claude variant.
type ToolDef struct {
	// Command is the executable to launch (also used for the install check)
	Command string `toml:"command"`

	// Args are extra arguments appended to the command
	Args []string `toml:"args"`

	// ChannelSuffix distinguishes this agent's chat channel (default: tool name)
	ChannelSuffix string `toml:"channel_suffix"`

	// DangerousMode injects the permission-skip flag where the variant
	// supports one
	DangerousMode bool `toml:"dangerous_mode"`
}

// LogSettings defines logging behavior.
type LogSettings struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Debug  bool   `toml:"debug"`
}

// Dir returns the termrelay config/state directory (~/.termrelay).
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".termrelay")
	}
	return filepath.Join(home, ".termrelay")
}

// HooksDir returns the directory agent hooks write status files into.
func HooksDir() string {
	return filepath.Join(Dir(), "hooks")
}

// Path returns the config file path.
func Path() string {
	return filepath.Join(Dir(), ConfigFileName)
}

// Load reads the config file at path. A missing file yields defaults; a
// malformed file is an error (the caller decides whether to continue with
// defaults).
func Load(path string) (*Config, error) {
	cfg := &Config{
		Theme: "dark",
		Tools: map[string]ToolDef{},
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return cfg, fmt.Errorf("%s parse error: %w", ConfigFileName, err)
	}
	if cfg.Tools == nil {
		cfg.Tools = map[string]ToolDef{}
	}
	if cfg.Theme == "" {
		cfg.Theme = "dark"
	}
	return cfg, nil
}
