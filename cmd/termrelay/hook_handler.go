package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/termrelay/termrelay/internal/config"
	"github.com/termrelay/termrelay/internal/relay"
)

// hookPayload is the JSON agent CLIs send to hooks via stdin. Only the
// fields we need are decoded; unknown fields are ignored.
type hookPayload struct {
	HookEventName    string `json:"hook_event_name"`
	Message          string `json:"message"`
	NotificationType string `json:"notification_type"`
}

// mapHookEvent maps an agent hook event to a push event type. Empty means
// the event carries no lifecycle signal for the bridge.
func mapHookEvent(event string) string {
	switch event {
	case "Stop", "SessionEnd", "session.idle":
		return relay.PushTypeIdle
	case "Notification", "session.notification":
		return relay.PushTypeNotification
	default:
		return ""
	}
}

// handleHookHandler processes one agent hook event: read JSON from stdin,
// map it to a push type, and POST it to the local daemon. Falls back to a
// status file when the daemon is unreachable. Never fails: a broken hook
// must not block the agent.
func handleHookHandler() {
	instanceID := os.Getenv(config.EnvInstanceID)
	if instanceID == "" {
		// Not a termrelay-managed agent; exit silently.
		return
	}
	project := os.Getenv(config.EnvProject)
	agent := os.Getenv(config.EnvAgent)

	data, err := io.ReadAll(io.LimitReader(os.Stdin, 1<<20))
	if err != nil || len(data) == 0 {
		return
	}
	var payload hookPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}

	pushType := mapHookEvent(payload.HookEventName)
	if pushType == "" {
		return
	}

	push := relay.PushPayload{
		ProjectName:      project,
		AgentType:        agent,
		InstanceID:       instanceID,
		Type:             pushType,
		Text:             payload.Message,
		NotificationType: payload.NotificationType,
	}

	if postPushEvent(push) {
		return
	}
	writeHookFile(instanceID, push)
}

// postPushEvent delivers the event to the daemon's push endpoint.
func postPushEvent(push relay.PushPayload) bool {
	body, err := json.Marshal(push)
	if err != nil {
		return false
	}

	addr := config.ListenerSettings{}.Addr()
	url := fmt.Sprintf("http://%s/opencode-event", addr)

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode < 300
}

// writeHookFile writes the fallback status file the daemon's directory
// watcher picks up. Written atomically via tmp+rename.
func writeHookFile(instanceID string, push relay.PushPayload) {
	hooksDir := config.HooksDir()
	if err := os.MkdirAll(hooksDir, 0o755); err != nil {
		return
	}

	hf := relay.HookFile{
		Project:          push.ProjectName,
		Agent:            push.AgentType,
		Type:             push.Type,
		Text:             push.Text,
		NotificationType: push.NotificationType,
		Timestamp:        time.Now().Unix(),
	}
	data, err := json.Marshal(hf)
	if err != nil {
		return
	}

	filePath := filepath.Join(hooksDir, instanceID+".json")
	tmpPath := filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return
	}
	_ = os.Rename(tmpPath, filePath)
}
