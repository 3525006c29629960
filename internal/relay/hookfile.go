package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/termrelay/termrelay/internal/logging"
)

var hookLog = logging.ForComponent(logging.CompHook)

// HookFile is the JSON shape hook processes write to the hooks directory
// when the HTTP listener is unreachable. Filename is <instance_id>.json.
type HookFile struct {
	Project          string `json:"project"`
	Agent            string `json:"agent"`
	Type             string `json:"type"`
	Text             string `json:"text"`
	NotificationType string `json:"notification_type,omitempty"`
	Timestamp        int64  `json:"ts"`
}

// HookFileWatcher watches the hooks directory and merges status-file pushes
// into the same event stream the HTTP listener feeds. It is the fallback
// push path for hosts where the hook cannot reach the listener socket.
type HookFileWatcher struct {
	hooksDir string
	watcher  *fsnotify.Watcher
	hub      *Hub

	mu   sync.Mutex
	seen map[string]int64 // file path -> last processed ts

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHookFileWatcher creates a watcher over hooksDir. Call Start to begin.
func NewHookFileWatcher(hooksDir string, hub *Hub) (*HookFileWatcher, error) {
	if err := os.MkdirAll(hooksDir, 0o755); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &HookFileWatcher{
		hooksDir: hooksDir,
		watcher:  watcher,
		hub:      hub,
		seen:     make(map[string]int64),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. Returns once the directory watch is registered;
// processing runs in a background goroutine.
func (w *HookFileWatcher) Start() error {
	if err := w.watcher.Add(w.hooksDir); err != nil {
		return err
	}
	go w.loop()
	return nil
}

// Stop shuts the watcher down and waits for the loop to exit.
func (w *HookFileWatcher) Stop() {
	w.cancel()
	_ = w.watcher.Close()
	<-w.done
}

func (w *HookFileWatcher) loop() {
	defer close(w.done)

	// Coalesce rapid file events before processing.
	var debounceTimer *time.Timer
	pendingFiles := make(map[string]bool)
	var pendingMu sync.Mutex

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Ext(event.Name) != ".json" {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			pendingMu.Lock()
			pendingFiles[event.Name] = true
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(100*time.Millisecond, func() {
				pendingMu.Lock()
				files := make([]string, 0, len(pendingFiles))
				for f := range pendingFiles {
					files = append(files, f)
				}
				pendingFiles = make(map[string]bool)
				pendingMu.Unlock()

				for _, f := range files {
					w.processFile(f)
				}
			})
			pendingMu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			hookLog.Warn("hook_watcher_error", slog.String("error", err.Error()))
		}
	}
}

// processFile reads one status file and dispatches it. Unreadable or
// unparsable files are skipped silently; a stale timestamp means the file
// was already processed.
func (w *HookFileWatcher) processFile(filePath string) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}

	var hf HookFile
	if err := json.Unmarshal(data, &hf); err != nil {
		return
	}
	if hf.Project == "" || hf.Type == "" {
		return
	}

	w.mu.Lock()
	if last, ok := w.seen[filePath]; ok && last >= hf.Timestamp {
		w.mu.Unlock()
		return
	}
	w.seen[filePath] = hf.Timestamp
	w.mu.Unlock()

	// Instance ID comes from the filename, mirroring the HTTP payload.
	instanceID := strings.TrimSuffix(filepath.Base(filePath), ".json")
	meta := Meta{Project: hf.Project, Agent: hf.Agent, InstanceID: instanceID}

	switch hf.Type {
	case PushTypeIdle:
		w.hub.EmitLifecycle(meta, StateStopped, hf.Text)
	case PushTypeNotification:
		w.hub.EmitNotification(meta, hf.NotificationType, hf.Text)
	default:
		hookLog.Debug("hook_file_type_unknown", slog.String("type", hf.Type))
	}

	hookLog.Debug("hook_file_processed",
		slog.String("instance", instanceID),
		slog.String("type", hf.Type))
}
