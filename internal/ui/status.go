// Package ui renders the live status view: every tracked agent instance,
// its lifecycle state, and where it lives in tmux.
package ui

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	runewidth "github.com/mattn/go-runewidth"
	"github.com/sahilm/fuzzy"

	"github.com/termrelay/termrelay/internal/store"
)

const refreshInterval = time.Second

// Snapshot supplies the current instance rows. The status view polls it on
// a ticker so it stays live while the daemon updates the registry.
type Snapshot func() ([]*store.InstanceRow, error)

type tickMsg time.Time

type rowsMsg struct {
	rows []*store.InstanceRow
	err  error
}

type themeMsg bool

// StatusModel is the bubbletea model for the status view.
type StatusModel struct {
	snapshot Snapshot
	watcher  *ThemeWatcher

	rows    []*store.InstanceRow
	loadErr error

	spin      spinner.Model
	filter    textinput.Model
	filtering bool
	width     int
	height    int
}

// NewStatusModel builds the status view over a row source. watcher may be
// nil when OS theme detection is unavailable.
func NewStatusModel(snapshot Snapshot, watcher *ThemeWatcher) StatusModel {
	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = lipgloss.NewStyle().Foreground(ColorGreen)

	ti := textinput.New()
	ti.Placeholder = "filter"
	ti.Prompt = "/"
	ti.CharLimit = 64

	return StatusModel{
		snapshot: snapshot,
		watcher:  watcher,
		spin:     sp,
		filter:   ti,
		width:    80,
		height:   24,
	}
}

func (m StatusModel) Init() tea.Cmd {
	cmds := []tea.Cmd{m.refreshCmd(), m.tickCmd(), m.spin.Tick}
	if m.watcher != nil {
		cmds = append(cmds, m.themeCmd())
	}
	return tea.Batch(cmds...)
}

func (m StatusModel) refreshCmd() tea.Cmd {
	return func() tea.Msg {
		rows, err := m.snapshot()
		return rowsMsg{rows: rows, err: err}
	}
}

func (m StatusModel) tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m StatusModel) themeCmd() tea.Cmd {
	return func() tea.Msg {
		isDark, ok := <-m.watcher.ChangeChannel()
		if !ok {
			return nil
		}
		return themeMsg(isDark)
	}
}

func (m StatusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.refreshCmd(), m.tickCmd())

	case rowsMsg:
		m.rows = msg.rows
		m.loadErr = msg.err
		if msg.err != nil {
			uiLog.Warn("status_refresh_failed", slog.String("error", msg.err.Error()))
		}
		return m, nil

	case themeMsg:
		if bool(msg) {
			InitTheme("dark")
		} else {
			InitTheme("light")
		}
		return m, m.themeCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m StatusModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.filtering {
		switch msg.String() {
		case "esc":
			m.filtering = false
			m.filter.SetValue("")
			m.filter.Blur()
			return m, nil
		case "enter":
			m.filtering = false
			m.filter.Blur()
			return m, nil
		default:
			var cmd tea.Cmd
			m.filter, cmd = m.filter.Update(msg)
			return m, cmd
		}
	}

	switch msg.String() {
	case "q", "ctrl+c":
		if m.watcher != nil {
			m.watcher.Close()
		}
		return m, tea.Quit
	case "/":
		m.filtering = true
		return m, m.filter.Focus()
	case "esc":
		m.filter.SetValue("")
		return m, nil
	}
	return m, nil
}

// rowSource implements fuzzy.Source over instance rows.
type rowSource []*store.InstanceRow

func (s rowSource) String(i int) string {
	r := s[i]
	return r.Project + " " + r.Agent + " " + r.InstanceID
}

func (s rowSource) Len() int { return len(s) }

// visibleRows applies the fuzzy filter, keeping registry order when the
// filter is empty and match-score order otherwise.
func (m StatusModel) visibleRows() []*store.InstanceRow {
	query := m.filter.Value()
	if query == "" {
		return m.rows
	}
	matches := fuzzy.FindFrom(query, rowSource(m.rows))
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	out := make([]*store.InstanceRow, 0, len(matches))
	for _, match := range matches {
		out = append(out, m.rows[match.Index])
	}
	return out
}

func (m StatusModel) View() string {
	title := TitleStyle.Render("termrelay")
	header := HeaderStyle.Render(fmt.Sprintf("  %-20s %-10s %-9s %-24s %s",
		"PROJECT", "AGENT", "STATE", "WINDOW", "UPDATED"))

	lines := []string{title, header}
	for _, r := range m.visibleRows() {
		lines = append(lines, m.renderRow(r))
	}
	if len(m.rows) == 0 {
		if m.loadErr != nil {
			lines = append(lines, OfflineStyle.Render("  registry unavailable: "+m.loadErr.Error()))
		} else {
			lines = append(lines, DimStyle.Render("  no tracked instances"))
		}
	}

	footer := DimStyle.Render("q quit · / filter · esc clear")
	if m.filtering || m.filter.Value() != "" {
		footer = FilterStyle.Render(m.filter.View())
	}
	lines = append(lines, "", footer)

	body := ""
	for i, line := range lines {
		if i > 0 {
			body += "\n"
		}
		body += line
	}
	return PanelStyle.Width(max(m.width-2, 40)).Render(body)
}

func (m StatusModel) renderRow(r *store.InstanceRow) string {
	indicator := "●"
	if r.State == "working" {
		indicator = m.spin.View()
	}

	window := r.Session + ":" + r.Window
	line := fmt.Sprintf("%s %-20s %-10s %-9s %-24s %s",
		indicator,
		truncateCell(r.Project, 20),
		truncateCell(r.Agent, 10),
		r.State,
		truncateCell(window, 24),
		r.UpdatedAt.Format("15:04:05"),
	)
	return StateStyle(r.State).Render(line)
}

// truncateCell clips a value to a column width, wide runes included.
func truncateCell(s string, width int) string {
	if runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}
