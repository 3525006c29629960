package relay

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestListener(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(1900)
	l := NewListener("127.0.0.1:0", hub, NewWSFeed())
	srv := httptest.NewServer(l.Handler())
	t.Cleanup(func() {
		srv.Close()
		hub.Close()
	})
	return hub, srv
}

func postEvent(t *testing.T, srv *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+"/opencode-event", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestListenerIdleEventBecomesStopped(t *testing.T) {
	hub, srv := newTestListener(t)

	resp := postEvent(t, srv, `{
		"projectName": "proj",
		"agentType": "opencode",
		"instanceId": "inst-1",
		"type": "session.idle",
		"text": "turn finished"
	}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	ev := nextEvent(t, hub.Events())
	assert.Equal(t, KindLifecycle, ev.Kind)
	assert.Equal(t, StateStopped, ev.State)
	assert.Equal(t, "proj", ev.Project)
	assert.Equal(t, "opencode", ev.Agent)
	assert.Equal(t, "inst-1", ev.InstanceID)
	assert.Equal(t, "turn finished", ev.Text)
}

func TestListenerNotificationEvent(t *testing.T) {
	hub, srv := newTestListener(t)

	postEvent(t, srv, `{
		"projectName": "proj",
		"agentType": "claude",
		"type": "session.notification",
		"notificationType": "permission",
		"text": "claude needs permission"
	}`)

	ev := nextEvent(t, hub.Events())
	assert.Equal(t, KindNotification, ev.Kind)
	assert.Equal(t, "permission", ev.NotificationType)
	assert.Equal(t, "claude needs permission", ev.Text)
}

func TestListenerMalformedBodyStillSucceeds(t *testing.T) {
	hub, srv := newTestListener(t)

	resp := postEvent(t, srv, `{"projectName": not json`)
	// Fire-and-forget: the hook must never see a failure.
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assertNoEvent(t, hub.Events(), 50*time.Millisecond)
}

func TestListenerEmptyBodyStillSucceeds(t *testing.T) {
	hub, srv := newTestListener(t)

	resp := postEvent(t, srv, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assertNoEvent(t, hub.Events(), 50*time.Millisecond)
}

func TestListenerUnknownTypeDropped(t *testing.T) {
	hub, srv := newTestListener(t)

	resp := postEvent(t, srv, `{"projectName":"p","agentType":"a","type":"session.bogus","text":"x"}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assertNoEvent(t, hub.Events(), 50*time.Millisecond)
}

func TestListenerMethodNotAllowed(t *testing.T) {
	_, srv := newTestListener(t)

	resp, err := http.Get(srv.URL + "/opencode-event")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestListenerIdleDeduplicatedAfterPollStop(t *testing.T) {
	hub, srv := newTestListener(t)

	meta := Meta{Project: "proj", Agent: "opencode", InstanceID: "inst-1"}
	require.True(t, hub.EmitLifecycle(meta, StateStopped, "output"))
	nextEvent(t, hub.Events())

	// The hook pushes the same idle; it must not produce a second event.
	postEvent(t, srv, `{
		"projectName": "proj",
		"agentType": "opencode",
		"instanceId": "inst-1",
		"type": "session.idle",
		"text": "output"
	}`)
	assertNoEvent(t, hub.Events(), 50*time.Millisecond)
}

func TestListenerHealthz(t *testing.T) {
	_, srv := newTestListener(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestWSFeedStreamsEvents(t *testing.T) {
	hub := NewHub(1900)
	defer hub.Close()
	feed := NewWSFeed()
	l := NewListener("127.0.0.1:0", hub, feed)
	srv := httptest.NewServer(l.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		defer resp.Body.Close()
	}
	defer conn.Close()

	// Give the handler a moment to register the client.
	require.Eventually(t, func() bool {
		feed.mu.Lock()
		defer feed.mu.Unlock()
		return len(feed.clients) == 1
	}, time.Second, 5*time.Millisecond)

	feed.Broadcast(Event{
		Project: "proj",
		Agent:   "opencode",
		Kind:    KindLifecycle,
		State:   StateWorking,
		Text:    "hello",
		At:      time.Now(),
	})

	var frame wsEvent
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "proj", frame.Project)
	assert.Equal(t, "working", frame.State)
	assert.Equal(t, "hello", frame.Text)
}
