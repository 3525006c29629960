package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/termrelay/termrelay/internal/logging"
)

var pollLog = logging.ForComponent(logging.CompPoll)

// WindowRef addresses one tracked terminal surface.
type WindowRef struct {
	Session string
	Window  string
}

// Provider is the mandatory core of the runtime capability contract: read a
// window's current text buffer. ok=false (with nil error) is the normal
// signal that the window no longer exists.
type Provider interface {
	CaptureWindow(session, window string) (text string, ok bool, err error)
}

// WindowInfo describes one window for reconciliation.
type WindowInfo struct {
	Session   string
	Window    string
	Dead      bool
	PID       int
	StartedAt time.Time
	ExitedAt  time.Time
	ExitCode  int
	Signal    string
}

// WindowLister is an optional provider capability used for reconciliation.
type WindowLister interface {
	ListWindows(session string) ([]WindowInfo, error)
}

// pollState is the per-window cell owned exclusively by that window's poll
// goroutine. Nothing else reads or writes it.
type pollState struct {
	prev   *string
	stable int
	last   State
}

type pollTask struct {
	meta   Meta
	cancel context.CancelFunc
	done   chan struct{}
}

// Poller owns one polling goroutine per tracked window and emits lifecycle
// events into the Hub.
type Poller struct {
	provider Provider
	hub      *Hub
	interval time.Duration

	mu     sync.Mutex
	tasks  map[WindowRef]*pollTask
	closed bool
}

// NewPoller creates a Poller polling at the given interval.
func NewPoller(provider Provider, hub *Hub, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	return &Poller{
		provider: provider,
		hub:      hub,
		interval: interval,
		tasks:    make(map[WindowRef]*pollTask),
	}
}

// Track starts polling a window. Tracking an already-tracked window is a
// no-op.
func (p *Poller) Track(ref WindowRef, meta Meta) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if _, exists := p.tasks[ref]; exists {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	task := &pollTask{
		meta:   meta,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	p.tasks[ref] = task
	p.hub.Forget(meta)

	go p.run(ctx, ref, task)

	pollLog.Info("window_tracked",
		slog.String("session", ref.Session),
		slog.String("window", ref.Window),
		slog.String("project", meta.Project))
}

// Untrack stops polling a window. The window's timer is stopped before
// Untrack returns and a final offline event is emitted; no events follow.
func (p *Poller) Untrack(ref WindowRef) {
	p.mu.Lock()
	task, ok := p.tasks[ref]
	if ok {
		delete(p.tasks, ref)
	}
	p.mu.Unlock()
	if !ok {
		return
	}

	task.cancel()
	<-task.done

	p.hub.EmitLifecycle(task.meta, StateOffline, "")
	pollLog.Info("window_untracked",
		slog.String("session", ref.Session),
		slog.String("window", ref.Window))
}

// Tracked reports whether a window currently has an active poll task.
func (p *Poller) Tracked(ref WindowRef) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.tasks[ref]
	return ok
}

// Reconcile untracks windows whose process has exited, when the provider
// supports window listing. Providers without the capability are skipped.
func (p *Poller) Reconcile(session string) {
	lister, ok := p.provider.(WindowLister)
	if !ok {
		return
	}
	wins, err := lister.ListWindows(session)
	if err != nil {
		pollLog.Debug("reconcile_list_failed", slog.String("error", err.Error()))
		return
	}

	dead := make(map[WindowRef]bool)
	for _, w := range wins {
		if w.Dead {
			dead[WindowRef{Session: w.Session, Window: w.Window}] = true
		}
	}

	p.mu.Lock()
	var gone []WindowRef
	for ref := range p.tasks {
		if dead[ref] {
			gone = append(gone, ref)
		}
	}
	p.mu.Unlock()

	for _, ref := range gone {
		p.Untrack(ref)
	}
}

// Close stops all polling tasks. Tasks are cancelled deterministically; no
// events are emitted after Close returns.
func (p *Poller) Close() {
	p.mu.Lock()
	p.closed = true
	tasks := make(map[WindowRef]*pollTask, len(p.tasks))
	for ref, t := range p.tasks {
		tasks[ref] = t
	}
	p.tasks = make(map[WindowRef]*pollTask)
	p.mu.Unlock()

	for _, t := range tasks {
		t.cancel()
		<-t.done
	}
}

// run is one window's poll loop. It owns the window's pollState for its
// whole lifetime; a transient capture failure downgrades to an offline
// observation instead of terminating the loop.
func (p *Poller) run(ctx context.Context, ref WindowRef, task *pollTask) {
	defer close(task.done)

	state := &pollState{}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if gone := p.cycle(ref, task.meta, state); gone {
				// Window no longer exists: emit offline and stop polling.
				p.mu.Lock()
				delete(p.tasks, ref)
				p.mu.Unlock()
				return
			}
		}
	}
}

// cycle performs one poll: capture, clean, classify, emit. Returns true when
// the window is gone for good and the task should end.
func (p *Poller) cycle(ref WindowRef, meta Meta, st *pollState) bool {
	raw, ok, err := p.provider.CaptureWindow(ref.Session, ref.Window)

	var current *string
	windowGone := false
	switch {
	case err != nil:
		// Transient provider failure: observe offline this cycle, keep
		// the loop alive.
		pollLog.Debug("capture_failed",
			slog.String("session", ref.Session),
			slog.String("window", ref.Window),
			slog.String("error", err.Error()))
	case !ok:
		windowGone = true
	default:
		cleaned := CleanCapture(raw)
		current = &cleaned
	}

	next := Detect(current, st.prev, st.stable)

	// Update the poll state (single writer: this goroutine).
	if current != nil && st.prev != nil && *current == *st.prev {
		st.stable++
	} else {
		st.stable = 0
	}

	changed := current != nil && (st.prev == nil || *current != *st.prev)
	transition := next != st.last

	if transition || (next == StateWorking && changed) {
		text := ""
		if current != nil {
			text = *current
		}
		p.hub.EmitLifecycle(meta, next, text)
	}

	st.prev = current
	st.last = next

	return windowGone
}
