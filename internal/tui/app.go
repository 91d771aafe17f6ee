// Package tui provides the live Bubble Tea dashboard for a running session.
package tui

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/theirongolddev/ccmeter/internal/cli"
	"github.com/theirongolddev/ccmeter/internal/model"
	"github.com/theirongolddev/ccmeter/internal/status"
	"github.com/theirongolddev/ccmeter/internal/tui/components"
	"github.com/theirongolddev/ccmeter/internal/tui/theme"
)

// Poller fetches the live session state. *status.Client implements it.
type Poller interface {
	Status(ctx context.Context) (status.Status, error)
	Calls(ctx context.Context) ([]model.APICall, error)
}

// PollMsg carries the result of one poll.
type PollMsg struct {
	Status status.Status
	Calls  []model.APICall
	Err    error
	At     time.Time
}

type tickMsg struct{}

const (
	minTerminalWidth = 60
	maxContentWidth  = 140
	minContentHeight = 5
)

// App is the root Bubble Tea model.
type App struct {
	poller   Poller
	addr     string
	interval time.Duration

	status   status.Status
	calls    []model.APICall
	loaded   bool
	lastPoll time.Time
	lastErr  error
	polling  bool

	width     int
	height    int
	activeTab int
	cursor    int
	showHelp  bool

	spinner spinner.Model
}

// NewApp returns a dashboard polling p every interval. addr is shown in the
// status bar.
func NewApp(p Poller, addr string, interval time.Duration) App {
	if interval < 250*time.Millisecond {
		interval = time.Second
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(theme.Active.Accent)

	return App{
		poller:   p,
		addr:     addr,
		interval: interval,
		spinner:  sp,
		polling:  true,
	}
}

// Init implements tea.Model.
func (a App) Init() tea.Cmd {
	return tea.Batch(pollCmd(a.poller), a.spinner.Tick, tickCmd(a.interval))
}

// Update implements tea.Model.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		return a, nil

	case tea.KeyMsg:
		return a.updateKey(msg)

	case tea.MouseMsg:
		if msg.Action != tea.MouseActionPress || msg.Button != tea.MouseButtonLeft || msg.Y != 0 {
			return a, nil
		}
		if tab := a.tabAtX(msg.X); tab >= 0 {
			a.activeTab = tab
		}
		return a, nil

	case spinner.TickMsg:
		if a.loaded {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case tickMsg:
		cmds := []tea.Cmd{tickCmd(a.interval)}
		if !a.polling {
			a.polling = true
			cmds = append(cmds, pollCmd(a.poller))
		}
		return a, tea.Batch(cmds...)

	case PollMsg:
		a.polling = false
		a.lastPoll = msg.At
		a.lastErr = msg.Err
		if msg.Err == nil {
			a.status = msg.Status
			a.calls = msg.Calls
			a.loaded = true
			a.cursor = min(a.cursor, max(len(a.calls)-1, 0))
		}
		return a, nil
	}
	return a, nil
}

func (a App) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" || key == "q" {
		return a, tea.Quit
	}
	if key == "?" {
		a.showHelp = !a.showHelp
		return a, nil
	}
	if a.showHelp {
		a.showHelp = false
		return a, nil
	}

	switch key {
	case "r":
		if !a.polling {
			a.polling = true
			return a, pollCmd(a.poller)
		}
	case "left":
		a.activeTab = (a.activeTab - 1 + len(components.Tabs)) % len(components.Tabs)
	case "right", "tab":
		a.activeTab = (a.activeTab + 1) % len(components.Tabs)
	case "j", "down":
		if a.cursor < len(a.calls)-1 {
			a.cursor++
		}
	case "k", "up":
		if a.cursor > 0 {
			a.cursor--
		}
	case "g":
		a.cursor = 0
	case "G":
		a.cursor = max(len(a.calls)-1, 0)
	default:
		if len(key) == 1 {
			if idx := components.TabIdxByKey(rune(key[0])); idx >= 0 {
				a.activeTab = idx
			}
		}
	}
	return a, nil
}

// tabAtX returns the tab under column x, or -1.
func (a App) tabAtX(x int) int {
	pos := 0
	for i, tab := range components.Tabs {
		w := components.TabVisualWidth(tab, i == a.activeTab)
		if x >= pos && x < pos+w {
			return i
		}
		pos += w + 1
	}
	return -1
}

// View implements tea.Model.
func (a App) View() string {
	if a.width == 0 {
		return ""
	}
	if a.width < minTerminalWidth {
		return fmt.Sprintf("\n  Terminal too narrow (%d cols, need %d)\n", a.width, minTerminalWidth)
	}
	if !a.loaded {
		return a.viewConnecting()
	}
	if a.showHelp {
		return a.viewHelp()
	}
	return a.viewMain()
}

func (a App) contentWidth() int {
	return min(a.width, maxContentWidth)
}

func (a App) viewConnecting() string {
	t := theme.Active
	cardStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(t.BorderAccent).
		Padding(1, 3)
	logo := lipgloss.NewStyle().Foreground(t.Accent).Bold(true).Render("◈ ccmeter")
	muted := lipgloss.NewStyle().Foreground(t.TextMuted)

	var b strings.Builder
	b.WriteString(logo)
	b.WriteString(muted.Render(" · live session"))
	b.WriteString("\n\n")
	b.WriteString(a.spinner.View())
	b.WriteString(muted.Render(" Waiting for " + a.addr))
	if a.lastErr != nil {
		b.WriteString("\n\n")
		b.WriteString(lipgloss.NewStyle().Foreground(t.Orange).Render(truncStr(a.lastErr.Error(), 60)))
	}
	return lipgloss.Place(a.width, a.height, lipgloss.Center, lipgloss.Center, cardStyle.Render(b.String()))
}

func (a App) viewHelp() string {
	t := theme.Active
	keyStyle := lipgloss.NewStyle().Foreground(t.Accent).Bold(true)
	descStyle := lipgloss.NewStyle().Foreground(t.TextMuted)

	bindings := []struct{ key, desc string }{
		{"o c m", "Jump to view"},
		{"← →", "Previous / next view"},
		{"j k", "Move through calls"},
		{"g G", "First / last call"},
		{"r", "Poll now"},
		{"?", "Toggle help"},
		{"q", "Quit (the session keeps running)"},
	}
	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Foreground(t.Accent).Bold(true).Render("◈ Keys"))
	b.WriteString("\n\n")
	for _, bind := range bindings {
		fmt.Fprintf(&b, "%s  %s\n", keyStyle.Render(fmt.Sprintf("%-6s", bind.key)), descStyle.Render(bind.desc))
	}
	card := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(t.BorderAccent).
		Padding(1, 3).
		Render(strings.TrimSuffix(b.String(), "\n"))
	return lipgloss.Place(a.width, a.height, lipgloss.Center, lipgloss.Center, card)
}

func (a App) viewMain() string {
	cw := a.contentWidth()

	header := components.RenderTabBar(a.activeTab)
	statusBar := components.RenderStatusBar(a.width, a.statusText(), a.lastErr != nil)
	contentH := max(a.height-lipgloss.Height(header)-lipgloss.Height(statusBar), minContentHeight)

	var content string
	switch a.activeTab {
	case 0:
		content = a.renderOverview(cw)
	case 1:
		content = a.renderCalls(cw, contentH)
	case 2:
		content = a.renderModels(cw)
	}
	content = padHeight(truncateHeight(content, contentH), contentH)

	return lipgloss.JoinVertical(lipgloss.Left, header, content, statusBar)
}

func (a App) statusText() string {
	if a.lastErr != nil {
		return fmt.Sprintf("%s unreachable, last data %s", a.addr, humanize.Time(a.lastPoll))
	}
	pending := ""
	if a.status.Pending > 0 {
		pending = fmt.Sprintf("%d streaming · ", a.status.Pending)
	}
	return fmt.Sprintf("%ssession %s · %s", pending, cli.ShortID(a.status.SessionID), a.addr)
}

func (a App) renderOverview(cw int) string {
	t := theme.Active
	l := a.status.Ledger

	last := ""
	if l.Turns > 0 {
		last = "last " + cli.FormatCost(l.LastTurnCost)
	}
	cards := components.MetricCardRow([]components.Metric{
		{Label: "Turns", Value: cli.FormatNumber(int64(l.Turns)), Note: "started " + humanize.Time(a.status.StartedAt)},
		{Label: "Cost", Value: cli.FormatCost(l.EstimatedCost), Note: last},
		{Label: "Input", Value: cli.FormatTokens(l.InputTokens), Note: "cache read " + cli.FormatTokens(l.CacheReadTokens)},
		{Label: "Output", Value: cli.FormatTokens(l.OutputTokens), Note: "cache write " + cli.FormatTokens(l.CacheWriteTokens)},
	}, cw)

	inner := components.CardInnerWidth(cw)
	costs := make([]float64, len(a.calls))
	for i, c := range a.calls {
		costs[i] = c.EstimatedCost
	}
	var body strings.Builder
	body.WriteString(components.RatioBar("Cache hit", cacheHitRate(l), 10, max(inner-16, 10)))
	body.WriteString("\n\n")
	body.WriteString(lipgloss.NewStyle().Foreground(t.TextMuted).Render("Cost per turn"))
	body.WriteString("\n")
	if len(costs) == 0 {
		body.WriteString(lipgloss.NewStyle().Foreground(t.TextDim).Render("no finalized calls yet"))
	} else {
		body.WriteString(components.Sparkline(costs, inner, t.Green))
	}
	if l.LastModel != "" {
		body.WriteString("\n\n")
		body.WriteString(lipgloss.NewStyle().Foreground(t.TextMuted).Render("Model  "))
		body.WriteString(lipgloss.NewStyle().Foreground(t.TextPrimary).Render(l.LastModel))
	}

	return cards + "\n" + components.ContentCard("Session", body.String(), cw)
}

func cacheHitRate(l model.Ledger) float64 {
	total := l.InputTokens + l.CacheWriteTokens + l.CacheReadTokens
	if total == 0 {
		return 0
	}
	return float64(l.CacheReadTokens) / float64(total)
}

func (a App) renderCalls(cw, h int) string {
	t := theme.Active
	if len(a.calls) == 0 {
		return lipgloss.NewStyle().Foreground(t.TextDim).Render("  No finalized calls yet.")
	}

	headerStyle := lipgloss.NewStyle().Foreground(t.Accent).Bold(true)
	rowStyle := lipgloss.NewStyle().Foreground(t.TextPrimary)
	selStyle := rowStyle.Reverse(true)
	partialStyle := lipgloss.NewStyle().Foreground(t.Orange)

	modelW := max(cw-62, 12)
	format := fmt.Sprintf(" %%4s  %%-%ds  %%7s  %%7s  %%7s  %%8s  %%8s  %%-10s", modelW)

	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf(format, "Turn", "Model", "In", "Out", "CacheR", "Cost", "Took", "Stop")))
	b.WriteString("\n")

	// Newest first, scrolled so the cursor stays visible.
	rows := slices.Clone(a.calls)
	slices.Reverse(rows)
	visible := max(h-1, 1)
	offset := max(a.cursor-visible+1, 0)
	for i := offset; i < len(rows) && i < offset+visible; i++ {
		c := rows[i]
		stop := c.StopReason
		if c.ErrorType != "" {
			stop = c.ErrorType
		}
		line := fmt.Sprintf(format,
			fmt.Sprint(c.Turn),
			truncStr(shortModel(c.Model), modelW),
			cli.FormatTokens(c.InputTokens),
			cli.FormatTokens(c.OutputTokens),
			cli.FormatTokens(c.CacheReadTokens),
			cli.FormatCost(c.EstimatedCost),
			cli.FormatDuration(c.Duration),
			truncStr(stop, 10),
		)
		switch {
		case i == a.cursor:
			b.WriteString(selStyle.Render(line))
		case c.Partial:
			b.WriteString(partialStyle.Render(line))
		default:
			b.WriteString(rowStyle.Render(line))
		}
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

type modelRow struct {
	name  string
	calls int
	cost  float64
	out   int64
}

func (a App) renderModels(cw int) string {
	t := theme.Active
	byModel := map[string]*modelRow{}
	total := 0.0
	for _, c := range a.calls {
		r, ok := byModel[c.Model]
		if !ok {
			r = &modelRow{name: c.Model}
			byModel[c.Model] = r
		}
		r.calls++
		r.cost += c.EstimatedCost
		r.out += c.OutputTokens
		total += c.EstimatedCost
	}
	if len(byModel) == 0 {
		return lipgloss.NewStyle().Foreground(t.TextDim).Render("  No finalized calls yet.")
	}

	rows := make([]*modelRow, 0, len(byModel))
	for _, r := range byModel {
		rows = append(rows, r)
	}
	slices.SortFunc(rows, func(x, y *modelRow) int {
		if x.cost != y.cost {
			if x.cost > y.cost {
				return -1
			}
			return 1
		}
		return strings.Compare(x.name, y.name)
	})

	inner := components.CardInnerWidth(cw)
	barW := max(inner-50, 10)
	var b strings.Builder
	for _, r := range rows {
		share := 0.0
		if total > 0 {
			share = r.cost / total
		}
		fmt.Fprintf(&b, "%-22s %4d calls  %8s  %6s out  ",
			truncStr(shortModel(r.name), 22), r.calls, cli.FormatCost(r.cost), cli.FormatTokens(r.out))
		b.WriteString(components.ShareBar(share, barW, t.Blue))
		b.WriteString("\n")
	}
	return components.ContentCard("Models (recent calls)", strings.TrimSuffix(b.String(), "\n"), cw)
}

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg { return tickMsg{} })
}

func pollCmd(p Poller) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		st, err := p.Status(ctx)
		if err != nil {
			return PollMsg{Err: err, At: time.Now()}
		}
		calls, err := p.Calls(ctx)
		return PollMsg{Status: st, Calls: calls, Err: err, At: time.Now()}
	}
}

func shortModel(name string) string {
	if s, ok := strings.CutPrefix(name, "claude-"); ok {
		return s
	}
	if name == "" {
		return "unknown"
	}
	return name
}

func truncStr(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}

func truncateHeight(s string, limit int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= limit {
		return s
	}
	return strings.Join(lines[:limit], "\n")
}

func padHeight(s string, h int) string {
	lines := strings.Split(s, "\n")
	if len(lines) >= h {
		return s
	}
	return s + strings.Repeat("\n", h-len(lines))
}
