package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termrelay/termrelay/internal/config"
	"github.com/termrelay/termrelay/internal/relay"
)

type recordedSend struct {
	channel string
	text    string
}

type fakeSink struct {
	mu    sync.Mutex
	name  string
	sends []recordedSend
	err   error
}

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) Send(ctx context.Context, channel, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends = append(s.sends, recordedSend{channel, text})
	return s.err
}

func (s *fakeSink) recorded() []recordedSend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedSend(nil), s.sends...)
}

func channelByProject(ev relay.Event) string {
	return ev.Project + "-" + ev.Agent
}

func TestDispatchSendsChunksInOrder(t *testing.T) {
	sink := &fakeSink{name: "fake"}
	d := NewDispatcher([]Sink{sink}, channelByProject, 100, 10)

	d.Dispatch(context.Background(), relay.Event{
		Project: "proj",
		Agent:   "claude",
		Kind:    relay.KindLifecycle,
		State:   relay.StateStopped,
		Chunks:  []string{"first", "second", "third"},
	})

	got := sink.recorded()
	require.Len(t, got, 3)
	assert.Equal(t, "proj-claude", got[0].channel)
	assert.Equal(t, []recordedSend{
		{"proj-claude", "first"},
		{"proj-claude", "second"},
		{"proj-claude", "third"},
	}, got)
}

func TestDispatchSkipsEmptyChunksAndChannels(t *testing.T) {
	sink := &fakeSink{name: "fake"}
	d := NewDispatcher([]Sink{sink}, channelByProject, 100, 10)

	d.Dispatch(context.Background(), relay.Event{
		Project: "proj",
		Agent:   "claude",
		Chunks:  []string{"", "keep", ""},
	})
	require.Len(t, sink.recorded(), 1)

	d2 := NewDispatcher([]Sink{sink}, func(relay.Event) string { return "" }, 100, 10)
	d2.Dispatch(context.Background(), relay.Event{Chunks: []string{"dropped"}})
	assert.Len(t, sink.recorded(), 1)
}

func TestDispatchContinuesPastSinkErrors(t *testing.T) {
	failing := &fakeSink{name: "bad", err: fmt.Errorf("boom")}
	healthy := &fakeSink{name: "good"}
	d := NewDispatcher([]Sink{failing, healthy}, channelByProject, 100, 10)

	d.Dispatch(context.Background(), relay.Event{
		Project: "p", Agent: "a",
		Chunks: []string{"one", "two"},
	})

	assert.Len(t, failing.recorded(), 2)
	assert.Len(t, healthy.recorded(), 2)
}

func TestDispatchRateLimitsPerChannel(t *testing.T) {
	sink := &fakeSink{name: "fake"}
	// Burst of 1 at 20/s: the second chunk must wait ~50ms.
	d := NewDispatcher([]Sink{sink}, channelByProject, 20, 1)

	start := time.Now()
	d.Dispatch(context.Background(), relay.Event{
		Project: "p", Agent: "a",
		Chunks: []string{"one", "two"},
	})
	elapsed := time.Since(start)

	require.Len(t, sink.recorded(), 2)
	assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond)
}

func TestDispatchSeparateChannelsDoNotShareLimiter(t *testing.T) {
	sink := &fakeSink{name: "fake"}
	d := NewDispatcher([]Sink{sink}, channelByProject, 1, 1)

	start := time.Now()
	d.Dispatch(context.Background(), relay.Event{Project: "p1", Agent: "a", Chunks: []string{"x"}})
	d.Dispatch(context.Background(), relay.Event{Project: "p2", Agent: "a", Chunks: []string{"y"}})
	elapsed := time.Since(start)

	require.Len(t, sink.recorded(), 2)
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestRunConsumesUntilClose(t *testing.T) {
	sink := &fakeSink{name: "fake"}
	d := NewDispatcher([]Sink{sink}, channelByProject, 100, 10)

	events := make(chan relay.Event, 2)
	events <- relay.Event{Project: "p", Agent: "a", Chunks: []string{"hello"}}
	events <- relay.Event{Project: "p", Agent: "a", Chunks: []string{"world"}}
	close(events)

	done := make(chan struct{})
	go func() {
		d.Run(context.Background(), events)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after stream close")
	}
	assert.Len(t, sink.recorded(), 2)
}

func TestDiscordSinkPostsContent(t *testing.T) {
	var gotBody map[string]string
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewDiscordSink(map[string]string{"proj-claude": srv.URL})
	err := sink.Send(context.Background(), "proj-claude", "agent finished")

	require.NoError(t, err)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "agent finished", gotBody["content"])
}

func TestDiscordSinkUnknownChannelIsNoop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}))
	defer srv.Close()

	sink := NewDiscordSink(map[string]string{"other": srv.URL})
	assert.NoError(t, sink.Send(context.Background(), "proj-claude", "text"))
}

func TestDiscordSinkReportsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	sink := NewDiscordSink(map[string]string{"c": srv.URL})
	err := sink.Send(context.Background(), "c", "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestDiscordSinkTruncatesOversizeMessage(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		got = body["content"]
	}))
	defer srv.Close()

	long := make([]byte, DiscordMaxMessageLen+500)
	for i := range long {
		long[i] = 'x'
	}
	sink := NewDiscordSink(map[string]string{"c": srv.URL})
	require.NoError(t, sink.Send(context.Background(), "c", string(long)))
	assert.Len(t, got, DiscordMaxMessageLen)
}

func TestNewWebPushSinkDisabled(t *testing.T) {
	sink, err := NewWebPushSink(config.WebPushSettings{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, sink)
}

func TestNewWebPushSinkMissingKeys(t *testing.T) {
	_, err := NewWebPushSink(config.WebPushSettings{Enabled: true})
	assert.Error(t, err)
}

func TestNewWebPushSinkValidSubscription(t *testing.T) {
	sub := `{"endpoint":"https://push.example.com/x","keys":{"p256dh":"pk","auth":"ak"}}`
	sink, err := NewWebPushSink(config.WebPushSettings{
		Enabled:         true,
		Subscription:    sub,
		VAPIDPublicKey:  "pub",
		VAPIDPrivateKey: "priv",
	})
	require.NoError(t, err)
	require.NotNil(t, sink)
	assert.Equal(t, "webpush", sink.Name())
	assert.Equal(t, "https://push.example.com/x", sink.sub.Endpoint)
}

func TestNewWebPushSinkMalformedSubscription(t *testing.T) {
	_, err := NewWebPushSink(config.WebPushSettings{
		Enabled:         true,
		Subscription:    "{not json",
		VAPIDPublicKey:  "pub",
		VAPIDPrivateKey: "priv",
	})
	assert.Error(t, err)
}
