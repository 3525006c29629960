package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

const Version = "0.3.0"

// init sets up color profile for consistent terminal colors across environments
func init() {
	initColorProfile()
}

// initColorProfile configures lipgloss color profile based on terminal
// capabilities. Prefers TrueColor, falls back to ANSI256 for compatibility.
func initColorProfile() {
	// TERMRELAY_COLOR: truecolor, 256, 16, none
	if colorEnv := os.Getenv("TERMRELAY_COLOR"); colorEnv != "" {
		switch strings.ToLower(colorEnv) {
		case "truecolor", "true", "24bit":
			lipgloss.SetColorProfile(termenv.TrueColor)
			return
		case "256", "ansi256":
			lipgloss.SetColorProfile(termenv.ANSI256)
			return
		case "16", "ansi", "basic":
			lipgloss.SetColorProfile(termenv.ANSI)
			return
		case "none", "off", "ascii":
			lipgloss.SetColorProfile(termenv.Ascii)
			return
		}
	}

	colorTerm := os.Getenv("COLORTERM")
	if colorTerm == "truecolor" || colorTerm == "24bit" {
		lipgloss.SetColorProfile(termenv.TrueColor)
		return
	}

	term := os.Getenv("TERM")
	trueColorTerms := []string{
		"xterm-256color",
		"screen-256color",
		"tmux-256color",
		"xterm-direct",
		"alacritty",
		"kitty",
		"wezterm",
	}
	for _, t := range trueColorTerms {
		if strings.Contains(term, t) || term == t {
			lipgloss.SetColorProfile(termenv.TrueColor)
			return
		}
	}

	if os.Getenv("WT_SESSION") != "" ||
		os.Getenv("ITERM_SESSION_ID") != "" ||
		os.Getenv("TERMINAL_EMULATOR") != "" ||
		os.Getenv("KONSOLE_VERSION") != "" {
		lipgloss.SetColorProfile(termenv.TrueColor)
		return
	}

	lipgloss.SetColorProfile(termenv.ANSI256)
}

func main() {
	args := os.Args[1:]

	if len(args) > 0 {
		switch args[0] {
		case "version", "--version", "-v":
			fmt.Printf("termrelay v%s\n", Version)
			return
		case "help", "--help", "-h":
			printHelp()
			return
		case "serve":
			handleServe(args[1:])
			return
		case "track":
			handleTrack(args[1:])
			return
		case "untrack":
			handleUntrack(args[1:])
			return
		case "list", "ls":
			handleList(args[1:])
			return
		case "send":
			handleSend(args[1:])
			return
		case "attach":
			handleAttach(args[1:])
			return
		case "hook-handler":
			handleHookHandler()
			return
		case "status":
			handleStatus(args[1:])
			return
		}
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		printHelp()
		os.Exit(1)
	}

	// No subcommand opens the live status view.
	handleStatus(nil)
}

func printHelp() {
	fmt.Println(`termrelay - bridge tmux-hosted agent CLIs to chat platforms

Usage:
  termrelay serve                     Run the capture daemon
  termrelay track <project> <agent>   Launch an agent and start relaying it
  termrelay untrack <instance-id>     Stop relaying an instance
  termrelay list                      List tracked instances
  termrelay send <instance-id> <text> Type text into an instance's window
  termrelay attach <instance-id>      Attach to an instance (Ctrl+Q detaches)
  termrelay status                    Open the live status view
  termrelay hook-handler              Process an agent hook event from stdin
  termrelay version                   Print version

Config: ~/.termrelay/config.toml`)
}
