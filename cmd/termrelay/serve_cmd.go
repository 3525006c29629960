package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/termrelay/termrelay/internal/agents"
	"github.com/termrelay/termrelay/internal/chat"
	"github.com/termrelay/termrelay/internal/config"
	"github.com/termrelay/termrelay/internal/logging"
	"github.com/termrelay/termrelay/internal/relay"
	"github.com/termrelay/termrelay/internal/store"
	"github.com/termrelay/termrelay/internal/tmux"
)

// registrySyncInterval is how often the daemon reconciles its poll set
// against the instance registry.
const registrySyncInterval = 5 * time.Second

func defaultDBPath() string {
	return filepath.Join(config.Dir(), "registry.db")
}

func handleServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", config.Path(), "Config file path")
	addrFlag := fs.String("addr", "", "Listener address override (host:port)")
	dbPath := fs.String("db", defaultDBPath(), "Instance registry database path")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v (continuing with defaults)\n", err)
	}

	initLogging(cfg)
	defer logging.Shutdown()
	log := logging.ForComponent(logging.CompRelay)

	if err := tmux.IsAvailable(); err != nil {
		fmt.Fprintln(os.Stderr, "Error: tmux not found in PATH")
		fmt.Fprintln(os.Stderr, "\ntermrelay requires tmux. Install with:")
		fmt.Fprintln(os.Stderr, "  brew install tmux")
		os.Exit(1)
	}

	st, err := store.Open(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot open registry: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	runtime := tmux.NewRuntime(time.Duration(cfg.Poll.GetCaptureTimeoutSecs()) * time.Second)
	hub := relay.NewHub(cfg.Poll.GetChunkLimit())
	poller := relay.NewPoller(runtime, hub, time.Duration(cfg.Poll.GetIntervalMS())*time.Millisecond)

	feed := relay.NewWSFeed()
	addr := cfg.Listener.Addr()
	if *addrFlag != "" {
		addr = *addrFlag
	}
	listener := relay.NewListener(addr, hub, feed)
	if err := listener.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot bind listener on %s: %v\n", addr, err)
		os.Exit(1)
	}

	watcher, err := relay.NewHookFileWatcher(config.HooksDir(), hub)
	if err != nil {
		log.Warn("hook_watcher_init_failed", slog.String("error", err.Error()))
	} else if err := watcher.Start(); err != nil {
		log.Warn("hook_watcher_start_failed", slog.String("error", err.Error()))
		watcher = nil
	}

	reg := agents.NewRegistry(cfg)
	dispatcher := chat.NewDispatcher(buildSinks(cfg), channelNamer(reg),
		cfg.Chat.GetMessagesPerSec(), cfg.Chat.GetBurst())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		for ev := range hub.Events() {
			if ev.Kind == relay.KindLifecycle && ev.InstanceID != "" {
				if err := st.UpdateState(ev.InstanceID, string(ev.State), ev.At); err != nil {
					log.Warn("state_persist_failed",
						slog.String("instance", ev.InstanceID),
						slog.String("error", err.Error()))
				}
			}
			feed.Broadcast(ev)
			dispatcher.Dispatch(ctx, ev)
		}
	}()

	go syncLoop(ctx, st, poller)

	log.Info("daemon_started",
		slog.String("addr", addr),
		slog.String("db", *dbPath),
		slog.Int("pid", os.Getpid()))
	fmt.Printf("termrelay daemon listening on %s\n", addr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("daemon_stopping")
	cancel()
	if watcher != nil {
		watcher.Stop()
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = listener.Shutdown(shutdownCtx)
	poller.Close()
	runtime.Dispose()
	hub.Close()
	<-consumerDone
}

// initLogging wires the user's [logs] section into the logging system.
// Debug mode routes logs to ~/.termrelay/termrelay.log; otherwise only the
// ring buffer (served at /logz) records them.
func initLogging(cfg *config.Config) {
	debugMode := cfg.Logs.Debug || os.Getenv("TERMRELAY_DEBUG") != ""
	logCfg := logging.Config{
		Debug:  debugMode,
		LogDir: config.Dir(),
		Level:  "info",
		Format: "json",
	}
	if cfg.Logs.Level != "" {
		logCfg.Level = cfg.Logs.Level
	}
	if cfg.Logs.Format != "" {
		logCfg.Format = cfg.Logs.Format
	}
	logging.Init(logCfg)
}

// buildSinks assembles the configured delivery sinks.
func buildSinks(cfg *config.Config) []chat.Sink {
	var sinks []chat.Sink
	if len(cfg.Chat.Discord.Webhooks) > 0 {
		sinks = append(sinks, chat.NewDiscordSink(cfg.Chat.Discord.Webhooks))
	}
	if wp, err := chat.NewWebPushSink(cfg.Chat.WebPush); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: webpush disabled: %v\n", err)
	} else if wp != nil {
		sinks = append(sinks, wp)
	}
	return sinks
}

// channelNamer resolves an event's chat channel through the adapter
// registry, falling back to project-agent for unknown tools.
func channelNamer(reg *agents.Registry) chat.ChannelNamer {
	return func(ev relay.Event) string {
		if def, ok := reg.Get(ev.Agent); ok {
			return def.Channel(ev.Project)
		}
		if ev.Project == "" || ev.Agent == "" {
			return ""
		}
		return ev.Project + "-" + ev.Agent
	}
}

// syncLoop keeps the poll set matched to the instance registry: rows added
// by `termrelay track` start polling, deleted rows stop, and sessions with
// dead panes get reconciled.
func syncLoop(ctx context.Context, st *store.Store, poller *relay.Poller) {
	log := logging.ForComponent(logging.CompStore)
	known := make(map[relay.WindowRef]relay.Meta)

	ticker := time.NewTicker(registrySyncInterval)
	defer ticker.Stop()

	sync := func() {
		rows, err := st.ListInstances()
		if err != nil {
			log.Warn("registry_list_failed", slog.String("error", err.Error()))
			return
		}

		current := make(map[relay.WindowRef]relay.Meta, len(rows))
		sessions := make(map[string]bool)
		for _, row := range rows {
			ref := relay.WindowRef{Session: row.Session, Window: row.Window}
			current[ref] = relay.Meta{
				Project:    row.Project,
				Agent:      row.Agent,
				InstanceID: row.InstanceID,
			}
			sessions[row.Session] = true
		}

		for ref, meta := range current {
			if _, ok := known[ref]; !ok {
				poller.Track(ref, meta)
				known[ref] = meta
			}
		}
		for ref := range known {
			if _, ok := current[ref]; !ok {
				poller.Untrack(ref)
				delete(known, ref)
			}
		}
		for session := range sessions {
			poller.Reconcile(session)
		}
	}

	sync()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sync()
		}
	}
}
