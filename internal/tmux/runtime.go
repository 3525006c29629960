// Package tmux implements the runtime capability provider on top of the
// tmux binary. One tmux session per project, one window per agent instance.
package tmux

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/termrelay/termrelay/internal/logging"
	"github.com/termrelay/termrelay/internal/relay"
)

var rtLog = logging.ForComponent(logging.CompRuntime)

// SessionPrefix namespaces termrelay sessions away from user tmux sessions.
const SessionPrefix = "termrelay_"

// ErrCaptureTimeout is returned when capture-pane exceeds its timeout.
// Callers should treat it as a transient failure, not as window absence.
var ErrCaptureTimeout = errors.New("capture-pane timed out")

// IsAvailable checks if tmux is installed and accessible.
func IsAvailable() error {
	output, err := exec.Command("tmux", "-V").CombinedOutput()
	if err != nil {
		return fmt.Errorf("tmux not found or not working: %w (output: %s)", err, string(output))
	}
	return nil
}

var sanitizeRe = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// sanitizeName makes a project name safe for tmux session targets.
func sanitizeName(name string) string {
	return sanitizeRe.ReplaceAllString(name, "_")
}

// Runtime drives tmux sessions and windows for tracked agents.
type Runtime struct {
	captureTimeout time.Duration
	captureSf      singleflight.Group

	mu      sync.Mutex
	created map[string]bool // sessions this runtime created, torn down by Dispose
}

// NewRuntime creates a Runtime. captureTimeout bounds a single buffer read
// so a hung tmux server cannot stall other windows' poll tasks.
func NewRuntime(captureTimeout time.Duration) *Runtime {
	if captureTimeout <= 0 {
		captureTimeout = 3 * time.Second
	}
	return &Runtime{
		captureTimeout: captureTimeout,
		created:        make(map[string]bool),
	}
}

// SessionName returns the tmux session name for a project.
func SessionName(project string) string {
	return SessionPrefix + sanitizeName(project)
}

func target(session, window string) string {
	return session + ":" + window
}

// EnsureSession finds or creates the project's session. Idempotent.
func (r *Runtime) EnsureSession(project, firstWindow string) (string, error) {
	name := SessionName(project)

	if exec.Command("tmux", "has-session", "-t", name).Run() == nil {
		return name, nil
	}

	args := []string{"new-session", "-d", "-s", name}
	if firstWindow != "" {
		args = append(args, "-n", firstWindow)
	}
	output, err := exec.Command("tmux", args...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("failed to create tmux session: %w (output: %s)", err, string(output))
	}

	// Large scrollback and fast escapes suit long-running agent output.
	_ = exec.Command("tmux",
		"set-option", "-t", name, "history-limit", "10000", ";",
		"set-option", "-t", name, "escape-time", "10").Run()

	r.mu.Lock()
	r.created[name] = true
	r.mu.Unlock()

	rtLog.Info("session_created", slog.String("session", name))
	return name, nil
}

// WindowExists reports whether the window is present in the session.
func (r *Runtime) WindowExists(session, window string) bool {
	output, err := exec.Command("tmux", "list-windows", "-t", session, "-F", "#{window_name}").Output()
	if err != nil {
		return false
	}
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		if line == window {
			return true
		}
	}
	return false
}

// StartAgent launches the agent command in a window, creating the window if
// needed. Failure here is fatal for this window's setup; it is not retried.
func (r *Runtime) StartAgent(session, window, command string) error {
	if !r.WindowExists(session, window) {
		output, err := exec.Command("tmux", "new-window", "-d", "-t", session, "-n", window).CombinedOutput()
		if err != nil {
			return fmt.Errorf("failed to create window: %w (output: %s)", err, string(output))
		}
	}
	if command == "" {
		return nil
	}
	if err := r.TypeKeys(session, window, command); err != nil {
		return fmt.Errorf("failed to send command: %w", err)
	}
	return r.SendEnter(session, window)
}

// SendKeys injects key names (e.g. "C-c", "Up"). Best-effort: keys sent to
// an exited window are silently lost by tmux.
func (r *Runtime) SendKeys(session, window, keys string) error {
	output, err := exec.Command("tmux", "send-keys", "-t", target(session, window), keys).CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to send keys: %w (output: %s)", err, string(output))
	}
	return nil
}

// TypeKeys injects literal text, without key-name interpretation.
func (r *Runtime) TypeKeys(session, window, text string) error {
	output, err := exec.Command("tmux", "send-keys", "-t", target(session, window), "-l", text).CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to type keys: %w (output: %s)", err, string(output))
	}
	return nil
}

// SendEnter injects a synthetic Enter keypress.
func (r *Runtime) SendEnter(session, window string) error {
	output, err := exec.Command("tmux", "send-keys", "-t", target(session, window), "Enter").CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to send enter: %w (output: %s)", err, string(output))
	}
	return nil
}

// CaptureWindow reads the window's visible buffer. ok=false with nil error
// is the normal "window gone" signal. Concurrent captures of the same
// window are deduplicated via singleflight; the read is bounded by the
// runtime's capture timeout.
func (r *Runtime) CaptureWindow(session, window string) (string, bool, error) {
	key := target(session, window)
	v, err, _ := r.captureSf.Do(key, func() (interface{}, error) {
		if !r.WindowExists(session, window) {
			return nil, nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), r.captureTimeout)
		defer cancel()
		// -J joins wrapped lines so resizes don't change the content hash
		cmd := exec.CommandContext(ctx, "tmux", "capture-pane", "-t", key, "-p", "-J")
		output, err := cmd.Output()
		if err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return nil, ErrCaptureTimeout
			}
			return nil, fmt.Errorf("failed to capture pane: %w", err)
		}
		return string(output), nil
	})
	if err != nil {
		return "", false, err
	}
	if v == nil {
		return "", false, nil
	}
	return v.(string), true, nil
}

// CaptureFrame reads the buffer with escape sequences preserved, optionally
// resizing first. This is the optional styled-frame capability; callers
// must check for it rather than assume it.
func (r *Runtime) CaptureFrame(session, window string, cols, rows int) (string, bool, error) {
	if !r.WindowExists(session, window) {
		return "", false, nil
	}
	if cols > 0 && rows > 0 {
		if err := r.ResizeWindow(session, window, cols, rows); err != nil {
			rtLog.Debug("frame_resize_failed", slog.String("error", err.Error()))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.captureTimeout)
	defer cancel()
	output, err := exec.CommandContext(ctx, "tmux", "capture-pane", "-t", target(session, window), "-p", "-e").Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", false, ErrCaptureTimeout
		}
		return "", false, fmt.Errorf("failed to capture frame: %w", err)
	}
	return string(output), true, nil
}

// ListWindows enumerates the session's windows with process-exit metadata.
func (r *Runtime) ListWindows(session string) ([]relay.WindowInfo, error) {
	format := "#{window_name}\t#{pane_dead}\t#{pane_pid}\t#{pane_dead_status}\t#{pane_start_time}\t#{pane_dead_time}"
	output, err := exec.Command("tmux", "list-panes", "-s", "-t", session, "-F", format).Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list windows: %w", err)
	}

	var wins []relay.WindowInfo
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		if line == "" {
			continue
		}
		parts := strings.Split(line, "\t")
		if len(parts) < 4 {
			continue
		}
		info := relay.WindowInfo{
			Session: session,
			Window:  parts[0],
			Dead:    parts[1] == "1",
		}
		if pid, err := strconv.Atoi(parts[2]); err == nil {
			info.PID = pid
		}
		if code, err := strconv.Atoi(parts[3]); err == nil {
			info.ExitCode = code
		}
		if len(parts) >= 5 {
			if ts, err := strconv.ParseInt(parts[4], 10, 64); err == nil && ts > 0 {
				info.StartedAt = time.Unix(ts, 0)
			}
		}
		if len(parts) >= 6 {
			if ts, err := strconv.ParseInt(parts[5], 10, 64); err == nil && ts > 0 {
				info.ExitedAt = time.Unix(ts, 0)
			}
		}
		wins = append(wins, info)
	}
	return wins, nil
}

// StopWindow tears a window down. A named signal (e.g. "SIGINT") is
// delivered as the interrupt key first; otherwise the window is killed.
func (r *Runtime) StopWindow(session, window, signal string) bool {
	if signal == "SIGINT" || signal == "INT" {
		if err := r.SendKeys(session, window, "C-c"); err == nil {
			return true
		}
	}
	return exec.Command("tmux", "kill-window", "-t", target(session, window)).Run() == nil
}

// ResizeWindow sets a window's dimensions.
func (r *Runtime) ResizeWindow(session, window string, cols, rows int) error {
	output, err := exec.Command("tmux", "resize-window", "-t", target(session, window),
		"-x", strconv.Itoa(cols), "-y", strconv.Itoa(rows)).CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to resize window: %w (output: %s)", err, string(output))
	}
	return nil
}

// Dispose kills every session this runtime created. Idempotent; sessions
// already gone are ignored.
func (r *Runtime) Dispose() {
	r.mu.Lock()
	sessions := make([]string, 0, len(r.created))
	for name := range r.created {
		sessions = append(sessions, name)
	}
	r.created = make(map[string]bool)
	r.mu.Unlock()

	for _, name := range sessions {
		_ = exec.Command("tmux", "kill-session", "-t", name).Run()
		rtLog.Info("session_disposed", slog.String("session", name))
	}
}
