package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/termrelay/termrelay/internal/logging"
)

var httpLog = logging.ForComponent(logging.CompHTTP)

// Hook event types pushed by agent-side plugins.
const (
	PushTypeIdle         = "session.idle"
	PushTypeNotification = "session.notification"
)

// PushPayload is the JSON body agent hooks POST to /opencode-event.
type PushPayload struct {
	ProjectName      string `json:"projectName"`
	AgentType        string `json:"agentType"`
	InstanceID       string `json:"instanceId,omitempty"`
	Type             string `json:"type"`
	Text             string `json:"text"`
	NotificationType string `json:"notificationType,omitempty"`
}

// Listener is the local HTTP endpoint agent hooks push events to. It also
// serves a websocket event feed and debug routes.
type Listener struct {
	hub        *Hub
	feed       *WSFeed
	httpServer *http.Server
}

// NewListener wires the push endpoint onto addr. The feed may be nil when no
// websocket monitor is wanted.
func NewListener(addr string, hub *Hub, feed *WSFeed) *Listener {
	l := &Listener{hub: hub, feed: feed}

	mux := http.NewServeMux()
	mux.HandleFunc("/opencode-event", l.handlePushEvent)
	mux.HandleFunc("/healthz", handleHealthz)
	mux.HandleFunc("/logz", handleLogz)
	if feed != nil {
		mux.HandleFunc("/ws", feed.HandleWS)
	}

	l.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return l
}

// Handler exposes the route mux, mainly for tests.
func (l *Listener) Handler() http.Handler {
	return l.httpServer.Handler
}

// Start begins serving in a background goroutine.
func (l *Listener) Start() error {
	ln, err := net.Listen("tcp", l.httpServer.Addr)
	if err != nil {
		return err
	}
	go func() {
		if err := l.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpLog.Error("listener_serve_failed", slog.String("error", err.Error()))
		}
	}()
	httpLog.Info("listener_started", slog.String("addr", l.httpServer.Addr))
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (l *Listener) Shutdown(ctx context.Context) error {
	return l.httpServer.Shutdown(ctx)
}

// handlePushEvent normalizes a hook push into the event stream. The contract
// is fire-and-forget: malformed bodies decode to an empty payload and the
// request still succeeds, so a hook can never fail its parent agent.
func (l *Listener) handlePushEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var payload PushPayload
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err == nil && len(body) > 0 {
		if jsonErr := json.Unmarshal(body, &payload); jsonErr != nil {
			httpLog.Debug("push_body_unparsable", slog.String("error", jsonErr.Error()))
			payload = PushPayload{}
		}
	}

	l.dispatch(payload)
	w.WriteHeader(http.StatusNoContent)
}

// dispatch merges a pushed payload into the same stream the poller feeds.
func (l *Listener) dispatch(payload PushPayload) {
	if payload.ProjectName == "" || payload.Type == "" {
		return
	}
	meta := Meta{
		Project:    payload.ProjectName,
		Agent:      payload.AgentType,
		InstanceID: payload.InstanceID,
	}

	switch payload.Type {
	case PushTypeIdle:
		// Authoritative "turn finished" from the agent itself; lands in the
		// same dedup discipline as poll-derived stopped events.
		l.hub.EmitLifecycle(meta, StateStopped, payload.Text)
	case PushTypeNotification:
		l.hub.EmitNotification(meta, payload.NotificationType, payload.Text)
	default:
		httpLog.Debug("push_type_unknown", slog.String("type", payload.Type))
	}
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	resp := map[string]any{
		"ok":   true,
		"time": time.Now().UTC().Format(time.RFC3339),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func handleLogz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	_, _ = w.Write(logging.RecentLogs())
}
