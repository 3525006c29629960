package relay

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     allowWSOrigin,
}

// allowWSOrigin accepts same-host browser clients and non-browser clients
// (no Origin header). The listener binds loopback, so this is a hygiene
// check, not an auth layer.
func allowWSOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil || originURL.Host == "" {
		return false
	}
	return strings.EqualFold(originURL.Host, r.Host)
}

// wsEvent is the JSON frame sent to monitor clients.
type wsEvent struct {
	Project          string    `json:"project"`
	Agent            string    `json:"agent"`
	InstanceID       string    `json:"instanceId,omitempty"`
	Kind             string    `json:"kind"`
	State            string    `json:"state,omitempty"`
	NotificationType string    `json:"notificationType,omitempty"`
	Text             string    `json:"text,omitempty"`
	Time             time.Time `json:"time"`
}

// WSFeed broadcasts the merged event stream to connected monitor clients.
// Slow clients are disconnected rather than allowed to stall the feed.
type WSFeed struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan wsEvent
}

// NewWSFeed creates an empty feed.
func NewWSFeed() *WSFeed {
	return &WSFeed{clients: make(map[*websocket.Conn]chan wsEvent)}
}

// HandleWS upgrades a monitor connection and streams events until the
// client disconnects.
func (f *WSFeed) HandleWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		httpLog.Debug("ws_upgrade_failed", slog.String("error", err.Error()))
		return
	}

	ch := make(chan wsEvent, 64)
	f.mu.Lock()
	f.clients[conn] = ch
	f.mu.Unlock()

	// Reader goroutine: detect client close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		f.mu.Lock()
		delete(f.clients, conn)
		f.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}

// Broadcast fans an event out to all connected clients. A client whose
// queue is full is dropped.
func (f *WSFeed) Broadcast(ev Event) {
	frame := wsEvent{
		Project:          ev.Project,
		Agent:            ev.Agent,
		InstanceID:       ev.InstanceID,
		Kind:             string(ev.Kind),
		State:            string(ev.State),
		NotificationType: ev.NotificationType,
		Text:             ev.Text,
		Time:             ev.At,
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for conn, ch := range f.clients {
		select {
		case ch <- frame:
		default:
			delete(f.clients, conn)
			_ = conn.Close()
		}
	}
}
