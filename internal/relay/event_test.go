package relay

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubDeduplicatesRepeatedStopped(t *testing.T) {
	hub := NewHub(1900)
	defer hub.Close()
	meta := testMeta()

	assert.True(t, hub.EmitLifecycle(meta, StateStopped, "text"))
	assert.False(t, hub.EmitLifecycle(meta, StateStopped, "text"))

	// Working resets the marker; stopped may fire again afterwards.
	assert.True(t, hub.EmitLifecycle(meta, StateWorking, "more"))
	assert.True(t, hub.EmitLifecycle(meta, StateStopped, "more"))
}

func TestHubWorkingNeverDeduplicated(t *testing.T) {
	hub := NewHub(1900)
	defer hub.Close()
	meta := testMeta()

	assert.True(t, hub.EmitLifecycle(meta, StateWorking, "a"))
	assert.True(t, hub.EmitLifecycle(meta, StateWorking, "b"))
	assert.True(t, hub.EmitLifecycle(meta, StateWorking, "c"))
}

func TestHubDedupIsPerWindow(t *testing.T) {
	hub := NewHub(1900)
	defer hub.Close()

	m1 := Meta{Project: "p", Agent: "opencode", InstanceID: "a"}
	m2 := Meta{Project: "p", Agent: "opencode", InstanceID: "b"}

	assert.True(t, hub.EmitLifecycle(m1, StateStopped, ""))
	assert.True(t, hub.EmitLifecycle(m2, StateStopped, ""))
	assert.False(t, hub.EmitLifecycle(m1, StateStopped, ""))
}

func TestHubForgetResetsMarker(t *testing.T) {
	hub := NewHub(1900)
	defer hub.Close()
	meta := testMeta()

	assert.True(t, hub.EmitLifecycle(meta, StateStopped, ""))
	hub.Forget(meta)
	assert.True(t, hub.EmitLifecycle(meta, StateStopped, ""))
}

func TestHubChunksEventText(t *testing.T) {
	hub := NewHub(10)
	defer hub.Close()

	hub.EmitLifecycle(testMeta(), StateWorking, "aaaa\nbbbb\ncccc")
	ev := nextEvent(t, hub.Events())

	require.Len(t, ev.Chunks, 2)
	assert.Equal(t, "aaaa\nbbbb", ev.Chunks[0])
	assert.Equal(t, "cccc", ev.Chunks[1])
	assert.Equal(t, ev.Text, strings.Join(ev.Chunks, "\n"))
}

func TestHubNotificationsPassThrough(t *testing.T) {
	hub := NewHub(1900)
	defer hub.Close()
	meta := testMeta()

	hub.EmitNotification(meta, "permission", "needs approval")
	hub.EmitNotification(meta, "permission", "needs approval")

	ev := nextEvent(t, hub.Events())
	assert.Equal(t, KindNotification, ev.Kind)
	assert.Equal(t, "permission", ev.NotificationType)
	ev = nextEvent(t, hub.Events())
	assert.Equal(t, KindNotification, ev.Kind)
}

func TestHubEmitAfterCloseIsNoop(t *testing.T) {
	hub := NewHub(1900)
	hub.Close()

	assert.False(t, hub.EmitLifecycle(testMeta(), StateWorking, "x"))
	hub.EmitNotification(testMeta(), "", "y")

	// Channel is closed and drained.
	_, ok := <-hub.Events()
	assert.False(t, ok)
}
