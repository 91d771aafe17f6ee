package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theirongolddev/ccmeter/internal/config"
	"github.com/theirongolddev/ccmeter/internal/model"
	"github.com/theirongolddev/ccmeter/internal/status"
	"github.com/theirongolddev/ccmeter/internal/tui/components"
)

type fakePoller struct {
	st    status.Status
	calls []model.APICall
	err   error
}

func (f *fakePoller) Status(context.Context) (status.Status, error) { return f.st, f.err }
func (f *fakePoller) Calls(context.Context) ([]model.APICall, error) { return f.calls, f.err }

func sampleCalls() []model.APICall {
	return []model.APICall{
		{Turn: 1, Model: "claude-sonnet-4-5", InputTokens: 1000, OutputTokens: 200, EstimatedCost: 0.006, StopReason: "tool_use"},
		{Turn: 2, Model: "claude-sonnet-4-5", InputTokens: 1500, OutputTokens: 400, EstimatedCost: 0.0105, StopReason: "end_turn"},
		{Turn: 3, Model: "claude-haiku-4-5", InputTokens: 300, OutputTokens: 20, EstimatedCost: 0.0004, Partial: true},
	}
}

func loadedApp(t *testing.T) App {
	t.Helper()
	p := &fakePoller{
		st: status.Status{
			SessionID: "0123456789abcdef",
			StartedAt: time.Now().Add(-time.Minute),
			Ledger:    model.Ledger{Turns: 3, InputTokens: 2800, OutputTokens: 620, EstimatedCost: 0.0169, LastModel: "claude-haiku-4-5"},
		},
		calls: sampleCalls(),
	}
	a := NewApp(p, "127.0.0.1:7878", time.Second)
	m, _ := a.Update(tea.WindowSizeMsg{Width: 120, Height: 30})
	msg := pollCmd(p)()
	m, _ = m.(App).Update(msg)
	return m.(App)
}

func TestPollLoadsState(t *testing.T) {
	a := loadedApp(t)
	assert.True(t, a.loaded)
	assert.False(t, a.polling)
	assert.Len(t, a.calls, 3)
	assert.Equal(t, 3, a.status.Ledger.Turns)
}

func TestPollErrorKeepsLastState(t *testing.T) {
	a := loadedApp(t)
	m, _ := a.Update(PollMsg{Err: errors.New("connection refused"), At: time.Now()})
	a = m.(App)
	assert.Error(t, a.lastErr)
	assert.Len(t, a.calls, 3)
	assert.Contains(t, a.statusText(), "unreachable")
}

func TestViewsRender(t *testing.T) {
	a := loadedApp(t)
	for tab := range components.Tabs {
		a.activeTab = tab
		out := a.View()
		require.NotEmpty(t, out)
		assert.LessOrEqual(t, strings.Count(out, "\n")+1, 30, "tab %d overflows height", tab)
	}

	a.activeTab = 1
	assert.Contains(t, a.View(), "sonnet-4-5")
	a.activeTab = 2
	assert.Contains(t, a.View(), "haiku-4-5")
}

func TestKeysNavigate(t *testing.T) {
	a := loadedApp(t)
	press := func(k string) {
		var msg tea.KeyMsg
		switch k {
		case "right":
			msg = tea.KeyMsg{Type: tea.KeyRight}
		default:
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
		}
		m, _ := a.Update(msg)
		a = m.(App)
	}

	press("c")
	assert.Equal(t, 1, a.activeTab)
	press("j")
	press("j")
	press("j")
	assert.Equal(t, 2, a.cursor, "cursor clamps at last call")
	press("g")
	assert.Equal(t, 0, a.cursor)
	press("right")
	assert.Equal(t, 2, a.activeTab)
	press("?")
	assert.True(t, a.showHelp)
	press("x")
	assert.False(t, a.showHelp)
}

func TestTabAtXMatchesTabWidths(t *testing.T) {
	for active := range components.Tabs {
		a := App{activeTab: active}
		pos := 0
		for i, tab := range components.Tabs {
			w := components.TabVisualWidth(tab, i == active)
			if got := a.tabAtX(pos + w/2); got != i {
				t.Fatalf("active=%d x=%d -> tab %d, want %d", active, pos+w/2, got, i)
			}
			pos += w + 1
		}
		if got := a.tabAtX(pos + 50); got != -1 {
			t.Errorf("x past the bar = %d, want -1", got)
		}
	}
}

func TestCacheHitRate(t *testing.T) {
	assert.Equal(t, 0.0, cacheHitRate(model.Ledger{}))
	assert.InDelta(t, 0.75, cacheHitRate(model.Ledger{InputTokens: 10, CacheWriteTokens: 15, CacheReadTokens: 75}), 1e-9)
}

func TestSetupValuesRoundTrip(t *testing.T) {
	cfg := config.DefaultConfig()
	vals := valuesFromConfig(cfg)
	vals.upstream = " https://proxy.example.com/ "
	vals.statusEnabled = false
	vals.themeName = "tokyo-night"
	vals.apply(&cfg)

	assert.Equal(t, "https://proxy.example.com", cfg.Proxy.Upstream)
	assert.False(t, cfg.Status.Enabled)
	assert.Equal(t, "tokyo-night", cfg.Appearance.Theme)
	assert.True(t, cfg.Storage.Journal)
}

func TestSetupValidators(t *testing.T) {
	assert.NoError(t, validateUpstream("https://api.anthropic.com"))
	assert.Error(t, validateUpstream("api.anthropic.com"))
	assert.NoError(t, validateListen("127.0.0.1:7878"))
	assert.Error(t, validateListen("7878"))
}
