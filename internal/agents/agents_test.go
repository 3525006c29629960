package agents

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termrelay/termrelay/internal/config"
)

func TestRegistryBuiltins(t *testing.T) {
	r := NewRegistry(nil)

	for _, name := range []string{"claude", "opencode", "codex", "gemini"} {
		def, ok := r.Get(name)
		require.True(t, ok, "missing builtin %s", name)
		assert.Equal(t, name, def.Command)
		assert.Equal(t, name, def.ChannelSuffix)
	}
	assert.Equal(t, []string{"claude", "codex", "gemini", "opencode"}, r.Names())
}

func TestRegistryGetIsCaseInsensitive(t *testing.T) {
	r := NewRegistry(nil)
	_, ok := r.Get("Claude")
	assert.True(t, ok)
}

func TestRegistryUnknownTool(t *testing.T) {
	r := NewRegistry(nil)
	_, ok := r.Get("mystery")
	assert.False(t, ok)
}

func TestRegistryUserToolOverlay(t *testing.T) {
	cfg := &config.Config{Tools: map[string]config.ToolDef{
		"opencode": {Args: []string{"--model", "big"}, ChannelSuffix: "oc"},
		"mytool":   {Command: "my-tool", ChannelSuffix: "mt"},
	}}
	r := NewRegistry(cfg)

	oc, ok := r.Get("opencode")
	require.True(t, ok)
	assert.Equal(t, "opencode --model big", oc.StartCommand())
	assert.Equal(t, "proj-oc", oc.Channel("proj"))

	mt, ok := r.Get("mytool")
	require.True(t, ok)
	assert.Equal(t, "my-tool", mt.StartCommand())
}

func TestClaudeDangerousModeInjectsFlag(t *testing.T) {
	cfg := &config.Config{Tools: map[string]config.ToolDef{
		"claude": {DangerousMode: true},
	}}
	r := NewRegistry(cfg)

	def, ok := r.Get("claude")
	require.True(t, ok)
	assert.Equal(t, "claude --dangerously-skip-permissions", def.StartCommand())
}

func TestClaudeWithoutDangerousModeHasNoFlag(t *testing.T) {
	r := NewRegistry(&config.Config{Tools: map[string]config.ToolDef{
		"claude": {DangerousMode: false},
	}})

	def, _ := r.Get("claude")
	assert.Equal(t, "claude", def.StartCommand())
}

func TestClaudeFlagNotDuplicated(t *testing.T) {
	cfg := &config.Config{Tools: map[string]config.ToolDef{
		"claude": {Args: []string{"--dangerously-skip-permissions"}, DangerousMode: true},
	}}
	r := NewRegistry(cfg)

	def, _ := r.Get("claude")
	assert.Equal(t, "claude --dangerously-skip-permissions", def.StartCommand())
}

func TestChannelNaming(t *testing.T) {
	d := Def{Name: "claude", ChannelSuffix: "claude"}
	assert.Equal(t, "myproj-claude", d.Channel("myproj"))
}
