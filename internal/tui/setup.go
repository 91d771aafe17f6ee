package tui

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/theirongolddev/ccmeter/internal/config"
	"github.com/theirongolddev/ccmeter/internal/logging"
	"github.com/theirongolddev/ccmeter/internal/tui/theme"
)

// setupValues holds the form fields while the form is open.
type setupValues struct {
	upstream      string
	statusEnabled bool
	statusListen  string
	dataDir       string
	journal       bool
	logLevel      string
	themeName     string
}

func valuesFromConfig(cfg config.Config) *setupValues {
	return &setupValues{
		upstream:      cfg.Proxy.Upstream,
		statusEnabled: cfg.Status.Enabled,
		statusListen:  cfg.Status.Listen,
		dataDir:       cfg.Storage.DataDir,
		journal:       cfg.Storage.Journal,
		logLevel:      cfg.Logging.Level,
		themeName:     cfg.Appearance.Theme,
	}
}

// apply copies the form values onto cfg.
func (v *setupValues) apply(cfg *config.Config) {
	cfg.Proxy.Upstream = strings.TrimRight(strings.TrimSpace(v.upstream), "/")
	cfg.Status.Enabled = v.statusEnabled
	cfg.Status.Listen = strings.TrimSpace(v.statusListen)
	cfg.Storage.DataDir = strings.TrimSpace(v.dataDir)
	cfg.Storage.Journal = v.journal
	cfg.Logging.Level = v.logLevel
	cfg.Appearance.Theme = v.themeName
}

func newSetupForm(vals *setupValues) *huh.Form {
	themeOpts := make([]huh.Option[string], len(theme.All))
	for i, t := range theme.All {
		themeOpts[i] = huh.NewOption(t.Name, t.Name)
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("ccmeter setup").
				Description("ccmeter runs your agent behind a local proxy and records\nthe tokens and cost of every streamed API call."),
			huh.NewInput().
				Title("Upstream API").
				Description("Where proxied requests go").
				Value(&vals.upstream).
				Validate(validateUpstream),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Serve live status?").
				Description("Lets `ccmeter watch` follow a running session").
				Value(&vals.statusEnabled),
			huh.NewInput().
				Title("Status address").
				Value(&vals.statusListen).
				Validate(validateListen),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Data directory").
				Description("Leave blank for the XDG default").
				Value(&vals.dataDir),
			huh.NewConfirm().
				Title("Keep a JSONL journal next to the database?").
				Value(&vals.journal),
			huh.NewSelect[string]().
				Title("Log level").
				Options(huh.NewOptions("debug", "info", "warn", "error")...).
				Value(&vals.logLevel),
			huh.NewSelect[string]().
				Title("Color theme").
				Options(themeOpts...).
				Value(&vals.themeName),
		),
	).WithShowHelp(false)
}

func validateUpstream(s string) error {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("enter an http(s) URL")
	}
	return nil
}

func validateListen(s string) error {
	if _, _, err := net.SplitHostPort(strings.TrimSpace(s)); err != nil {
		return errors.New("enter host:port")
	}
	return nil
}

// RunSetup shows the setup form over the current config and saves the
// result. It returns the saved config.
func RunSetup() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		cfg = config.DefaultConfig()
	}
	vals := valuesFromConfig(cfg)

	if err := newSetupForm(vals).Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return cfg, err
		}
		return cfg, fmt.Errorf("setup form: %w", err)
	}
	vals.apply(&cfg)
	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		return cfg, err
	}
	theme.SetActive(cfg.Appearance.Theme)

	if err := config.Save(cfg); err != nil {
		return cfg, fmt.Errorf("saving config: %w", err)
	}
	return cfg, nil
}
