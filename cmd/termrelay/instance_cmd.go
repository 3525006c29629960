package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/termrelay/termrelay/internal/agents"
	"github.com/termrelay/termrelay/internal/config"
	"github.com/termrelay/termrelay/internal/store"
	"github.com/termrelay/termrelay/internal/tmux"
)

// Table column widths for list command output
const (
	tableColID      = 10
	tableColProject = 20
	tableColAgent   = 10
	tableColState   = 9
	tableColWindow  = 28
)

// newInstanceID returns a short random identifier for a tracked instance.
func newInstanceID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%08x", os.Getpid())
	}
	return hex.EncodeToString(b)
}

// shellQuote single-quotes a value for typing into a shell prompt.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func openRegistry(dbPath string) *store.Store {
	st, err := store.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot open registry: %v\n", err)
		os.Exit(1)
	}
	return st
}

func lookupInstance(st *store.Store, id string) *store.InstanceRow {
	row, err := st.GetInstance(id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: unknown instance %q\n", id)
		os.Exit(1)
	}
	return row
}

// handleTrack launches an agent in a managed tmux window and registers it
// for relaying. The daemon picks the new row up on its next registry sync.
func handleTrack(args []string) {
	fs := flag.NewFlagSet("track", flag.ExitOnError)
	configPath := fs.String("config", config.Path(), "Config file path")
	dbPath := fs.String("db", defaultDBPath(), "Instance registry database path")
	_ = fs.Parse(args)

	rest := fs.Args()
	if len(rest) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: termrelay track [-config path] <project> <agent>")
		os.Exit(1)
	}
	project, agent := rest[0], rest[1]

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v (continuing with defaults)\n", err)
	}

	reg := agents.NewRegistry(cfg)
	def, ok := reg.Get(agent)
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: unknown agent %q (known: %s)\n",
			agent, strings.Join(reg.Names(), ", "))
		os.Exit(1)
	}
	if !def.Installed() {
		fmt.Fprintf(os.Stderr, "Warning: %q not found in PATH\n", def.Command)
	}

	if err := tmux.IsAvailable(); err != nil {
		fmt.Fprintln(os.Stderr, "Error: tmux not found in PATH")
		os.Exit(1)
	}

	instanceID := newInstanceID()
	window := def.Name + "-" + instanceID

	runtime := tmux.NewRuntime(0)
	session, err := runtime.EnsureSession(project, window)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Env prefix lets the agent's hooks find their way back to the daemon.
	command := fmt.Sprintf("%s=%s %s=%s %s=%s %s",
		config.EnvProject, shellQuote(project),
		config.EnvAgent, shellQuote(def.Name),
		config.EnvInstanceID, shellQuote(instanceID),
		def.StartCommand())
	if err := runtime.StartAgent(session, window, command); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	st := openRegistry(*dbPath)
	defer st.Close()
	err = st.UpsertInstance(&store.InstanceRow{
		InstanceID: instanceID,
		Project:    project,
		Agent:      def.Name,
		Session:    session,
		Window:     window,
		Channel:    def.Channel(project),
		State:      "offline",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Tracking %s/%s as %s (%s:%s)\n", project, def.Name, instanceID, session, window)
}

// handleUntrack removes an instance from the registry. The daemon stops
// polling it on its next sync and emits the final offline event.
func handleUntrack(args []string) {
	fs := flag.NewFlagSet("untrack", flag.ExitOnError)
	dbPath := fs.String("db", defaultDBPath(), "Instance registry database path")
	kill := fs.Bool("kill", false, "Also stop the tmux window")
	_ = fs.Parse(args)

	rest := fs.Args()
	if len(rest) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: termrelay untrack [-kill] <instance-id>")
		os.Exit(1)
	}

	st := openRegistry(*dbPath)
	defer st.Close()
	row := lookupInstance(st, rest[0])

	if *kill {
		runtime := tmux.NewRuntime(0)
		if !runtime.StopWindow(row.Session, row.Window, "SIGINT") {
			fmt.Fprintf(os.Stderr, "Warning: could not stop %s:%s\n", row.Session, row.Window)
		}
	}

	if err := st.DeleteInstance(row.InstanceID); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Untracked %s\n", row.InstanceID)
}

func handleList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	dbPath := fs.String("db", defaultDBPath(), "Instance registry database path")
	_ = fs.Parse(args)

	st := openRegistry(*dbPath)
	defer st.Close()

	rows, err := st.ListInstances()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(rows) == 0 {
		fmt.Println("No tracked instances. Start one with: termrelay track <project> <agent>")
		return
	}

	fmt.Printf("%-*s %-*s %-*s %-*s %-*s %s\n",
		tableColID, "ID", tableColProject, "PROJECT", tableColAgent, "AGENT",
		tableColState, "STATE", tableColWindow, "WINDOW", "UPDATED")
	for _, r := range rows {
		fmt.Printf("%-*s %-*s %-*s %-*s %-*s %s\n",
			tableColID, r.InstanceID,
			tableColProject, clip(r.Project, tableColProject),
			tableColAgent, clip(r.Agent, tableColAgent),
			tableColState, r.State,
			tableColWindow, clip(r.Session+":"+r.Window, tableColWindow),
			r.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
}

func clip(s string, width int) string {
	if len(s) <= width {
		return s
	}
	if width <= 3 {
		return s[:width]
	}
	return s[:width-3] + "..."
}

// handleSend types text into an instance's window and presses enter.
func handleSend(args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	dbPath := fs.String("db", defaultDBPath(), "Instance registry database path")
	_ = fs.Parse(args)

	rest := fs.Args()
	if len(rest) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: termrelay send <instance-id> <text>")
		os.Exit(1)
	}

	st := openRegistry(*dbPath)
	row := lookupInstance(st, rest[0])
	_ = st.Close()

	runtime := tmux.NewRuntime(0)
	text := strings.Join(rest[1:], " ")
	if err := runtime.TypeKeys(row.Session, row.Window, text); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := runtime.SendEnter(row.Session, row.Window); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// handleAttach drops the user into the instance's tmux session.
func handleAttach(args []string) {
	fs := flag.NewFlagSet("attach", flag.ExitOnError)
	dbPath := fs.String("db", defaultDBPath(), "Instance registry database path")
	_ = fs.Parse(args)

	rest := fs.Args()
	if len(rest) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: termrelay attach <instance-id>")
		os.Exit(1)
	}

	st := openRegistry(*dbPath)
	row := lookupInstance(st, rest[0])
	_ = st.Close()

	runtime := tmux.NewRuntime(0)
	if err := runtime.Attach(context.Background(), row.Session); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
