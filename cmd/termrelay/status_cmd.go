package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/termrelay/termrelay/internal/config"
	"github.com/termrelay/termrelay/internal/ui"
)

// handleStatus opens the live status view over the instance registry.
func handleStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", config.Path(), "Config file path")
	dbPath := fs.String("db", defaultDBPath(), "Instance registry database path")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v (continuing with defaults)\n", err)
	}

	theme := cfg.Theme
	if theme == "system" {
		theme = ui.DetectTheme()
	}
	ui.InitTheme(theme)

	st := openRegistry(*dbPath)
	defer st.Close()

	var watcher *ui.ThemeWatcher
	if cfg.Theme == "system" {
		watcher = ui.NewThemeWatcher(context.Background())
	}

	model := ui.NewStatusModel(st.ListInstances, watcher)
	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
