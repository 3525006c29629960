package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/termrelay/termrelay/internal/agents"
	"github.com/termrelay/termrelay/internal/relay"
)

func TestNewInstanceID(t *testing.T) {
	a := newInstanceID()
	b := newInstanceID()
	assert.Len(t, a, 8)
	assert.NotEqual(t, a, b)
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "'plain'"},
		{"with space", "'with space'"},
		{"don't", `'don'\''t'`},
		{"", "''"},
	}
	for _, tt := range tests {
		if got := shellQuote(tt.in); got != tt.want {
			t.Errorf("shellQuote(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestClip(t *testing.T) {
	assert.Equal(t, "short", clip("short", 10))
	assert.Equal(t, "1234567...", clip("1234567890123", 10))
	assert.Equal(t, "12", clip("12345", 2))
}

func TestChannelNamerKnownAgent(t *testing.T) {
	namer := channelNamer(agents.NewRegistry(nil))
	got := namer(relay.Event{Project: "proj", Agent: "claude"})
	assert.Equal(t, "proj-claude", got)
}

func TestChannelNamerUnknownAgent(t *testing.T) {
	namer := channelNamer(agents.NewRegistry(nil))
	assert.Equal(t, "proj-mystery", namer(relay.Event{Project: "proj", Agent: "mystery"}))
	assert.Equal(t, "", namer(relay.Event{}))
}
