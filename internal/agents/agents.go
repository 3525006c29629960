// Package agents defines the agent CLI adapters: pure data records
// describing how to launch each supported tool, plus at most one behavior
// override per variant.
package agents

import (
	"os/exec"
	"sort"
	"strings"

	"github.com/termrelay/termrelay/internal/config"
)

// Def describes one agent CLI variant. Adapters are data, not types: the
// differences between tools are a command string, flags, and a channel
// suffix.
type Def struct {
	// Name is the adapter key ("claude", "opencode", ...)
	Name string

	// Command is the executable; also used for the install check
	Command string

	// Args are appended to the command at launch
	Args []string

	// ChannelSuffix distinguishes this agent's chat channel
	ChannelSuffix string

	// mutate optionally rewrites the argument list at launch time. This is
	// the single behavior override the adapter set allows.
	mutate func(d Def, args []string) []string
}

// Registry holds the adapter set. It is constructed once at process start
// and passed by reference to the components that need it; there is no
// process-wide default instance.
type Registry struct {
	defs map[string]Def
}

// builtins returns the stock adapter set. dangerous toggles the
// permission-skip flag injection for the claude variant.
func builtins() map[string]Def {
	return map[string]Def{
		"claude": {
			Name:          "claude",
			Command:       "claude",
			ChannelSuffix: "claude",
			mutate:        claudeMutate,
		},
		"opencode": {
			Name:          "opencode",
			Command:       "opencode",
			ChannelSuffix: "opencode",
		},
		"codex": {
			Name:          "codex",
			Command:       "codex",
			ChannelSuffix: "codex",
		},
		"gemini": {
			Name:          "gemini",
			Command:       "gemini",
			ChannelSuffix: "gemini",
		},
	}
}

// claudeMutate injects the permission-skip flag when the user enabled
// dangerous mode for the claude variant.
func claudeMutate(d Def, args []string) []string {
	for _, a := range args {
		if a == "--dangerously-skip-permissions" {
			return args
		}
	}
	return append(args, "--dangerously-skip-permissions")
}

// NewRegistry builds the adapter registry: built-in defs overlaid with the
// user's [tools] config entries.
func NewRegistry(cfg *config.Config) *Registry {
	defs := builtins()

	dangerous := map[string]bool{}
	if cfg != nil {
		for name, tool := range cfg.Tools {
			def, ok := defs[name]
			if !ok {
				def = Def{Name: name}
			}
			if tool.Command != "" {
				def.Command = tool.Command
			}
			if len(tool.Args) > 0 {
				def.Args = append([]string(nil), tool.Args...)
			}
			if tool.ChannelSuffix != "" {
				def.ChannelSuffix = tool.ChannelSuffix
			}
			if def.Command == "" {
				def.Command = name
			}
			if def.ChannelSuffix == "" {
				def.ChannelSuffix = name
			}
			dangerous[name] = tool.DangerousMode
			defs[name] = def
		}
	}

	// The override only applies where the user opted in.
	for name, def := range defs {
		if def.mutate != nil && !dangerous[name] {
			def.mutate = nil
			defs[name] = def
		}
	}

	return &Registry{defs: defs}
}

// Get returns the adapter for a tool name, if known.
func (r *Registry) Get(name string) (Def, bool) {
	def, ok := r.defs[strings.ToLower(name)]
	return def, ok
}

// Names returns the known adapter names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Installed reports whether the adapter's executable is on PATH.
func (d Def) Installed() bool {
	_, err := exec.LookPath(d.Command)
	return err == nil
}

// StartCommand returns the full shell command that launches this agent.
func (d Def) StartCommand() string {
	args := append([]string(nil), d.Args...)
	if d.mutate != nil {
		args = d.mutate(d, args)
	}
	parts := append([]string{d.Command}, args...)
	return strings.Join(parts, " ")
}

// Channel returns the chat channel name for an instance of this agent in a
// project, e.g. "myproj-claude".
func (d Def) Channel(project string) string {
	return project + "-" + d.ChannelSuffix
}
