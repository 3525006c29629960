package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)

	assert.Equal(t, "dark", cfg.Theme)
	assert.Equal(t, 1000, cfg.Poll.GetIntervalMS())
	assert.Equal(t, 3, cfg.Poll.GetCaptureTimeoutSecs())
	assert.Equal(t, DefaultChunkLimit, cfg.Poll.GetChunkLimit())
	assert.Equal(t, float64(1), cfg.Chat.GetMessagesPerSec())
	assert.Equal(t, 5, cfg.Chat.GetBurst())
	assert.NotNil(t, cfg.Tools)
}

func TestLoadParsesTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)
	content := `
theme = "light"

[listener]
host = "0.0.0.0"
port = 9999

[poll]
interval_ms = 250
chunk_limit = 500

[chat]
messages_per_sec = 2.5

[chat.discord.webhooks]
myproj = "https://discord.com/api/webhooks/1/abc"

[tools.opencode]
command = "opencode"
channel_suffix = "oc"

[tools.claude]
command = "claude"
dangerous_mode = true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "light", cfg.Theme)
	assert.Equal(t, 9999, cfg.Listener.Port)
	assert.Equal(t, 250, cfg.Poll.GetIntervalMS())
	assert.Equal(t, 500, cfg.Poll.GetChunkLimit())
	assert.Equal(t, 2.5, cfg.Chat.GetMessagesPerSec())
	assert.Equal(t, "https://discord.com/api/webhooks/1/abc", cfg.Chat.Discord.Webhooks["myproj"])
	assert.Equal(t, "oc", cfg.Tools["opencode"].ChannelSuffix)
	assert.True(t, cfg.Tools["claude"].DangerousMode)
}

func TestLoadMalformedFileIsError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte("theme = [not toml"), 0o644))

	cfg, err := Load(path)
	require.Error(t, err)
	// Defaults still returned so the caller can keep going.
	require.NotNil(t, cfg)
	assert.Equal(t, "dark", cfg.Theme)
}

func TestListenerAddrDefaults(t *testing.T) {
	t.Setenv(EnvHost, "")
	t.Setenv(EnvPort, "")

	var l ListenerSettings
	assert.Equal(t, "127.0.0.1:18470", l.Addr())
}

func TestListenerAddrEnvOverride(t *testing.T) {
	t.Setenv(EnvHost, "10.1.2.3")
	t.Setenv(EnvPort, "4242")

	l := ListenerSettings{Host: "127.0.0.1", Port: 18470}
	assert.Equal(t, "10.1.2.3:4242", l.Addr())
}

func TestListenerAddrBadPortEnvIgnored(t *testing.T) {
	t.Setenv(EnvHost, "")
	t.Setenv(EnvPort, "not-a-port")

	l := ListenerSettings{Port: 1234}
	assert.Equal(t, "127.0.0.1:1234", l.Addr())
}
