package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/theirongolddev/ccmeter/internal/cli"
	"github.com/theirongolddev/ccmeter/internal/config"
	"github.com/theirongolddev/ccmeter/internal/engine"
	"github.com/theirongolddev/ccmeter/internal/intercept"
	"github.com/theirongolddev/ccmeter/internal/status"
	"github.com/theirongolddev/ccmeter/internal/store"
	"github.com/theirongolddev/ccmeter/internal/supervisor"
)

var runCmd = &cobra.Command{
	Use:   "run [flags] -- command [args...]",
	Short: "Run a command behind the metering proxy",
	Long: "Start a local proxy, launch the command with ANTHROPIC_BASE_URL pointing at\n" +
		"it, and record every streamed Messages API call it makes. The exit status\n" +
		"is the command's own.",
	Example: "  ccmeter run -- claude\n  ccmeter run --upstream https://gateway.internal -- claude -p \"fix the tests\"",
	Args:    cobra.MinimumNArgs(1),
	RunE:    runRun,
}

var (
	flagRunUpstream   string
	flagRunListen     string
	flagRunStatusAddr string
	flagRunNoStatus   bool
	flagRunOffline    bool
)

func init() {
	runCmd.Flags().StringVar(&flagRunUpstream, "upstream", "", "Upstream API base URL (default from config)")
	runCmd.Flags().StringVar(&flagRunListen, "listen", "", "Proxy listen address (default from config)")
	runCmd.Flags().StringVar(&flagRunStatusAddr, "status-addr", "", "Live status listen address (default from config)")
	runCmd.Flags().BoolVar(&flagRunNoStatus, "no-status", false, "Do not serve live status")
	runCmd.Flags().BoolVar(&flagRunOffline, "offline", false, "Do not refresh the pricing feed")
	rootCmd.AddCommand(runCmd)
}

func runRun(_ *cobra.Command, args []string) error {
	cfg := loadConfig()
	if flagRunUpstream != "" {
		cfg.Proxy.Upstream = flagRunUpstream
	}
	if flagRunListen != "" {
		cfg.Proxy.Listen = flagRunListen
	}
	if flagRunStatusAddr != "" {
		cfg.Status.Listen = flagRunStatusAddr
	}
	if flagRunNoStatus {
		cfg.Status.Enabled = false
	}

	logger := openLogger(cfg)
	defer func() { _ = logger.Close() }()
	log := logger.Logger

	sessionID := uuid.NewString()
	cwd, _ := os.Getwd()
	log = log.With("session", sessionID)

	sink, closeSink, err := openSinks(cfg, log)
	if err != nil {
		return err
	}
	defer closeSink()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calc := config.NewCalculator(cfg.Pricing.Overrides)
	loadPrices(ctx, cfg, calc, log)

	eng := engine.New(engine.Options{
		SessionID: sessionID,
		Cwd:       cwd,
		Cost:      calc,
		Sink:      sink,
		Logger:    log,
	})
	// Every exit path, a panic included, must flush before the sink closes.
	defer func() {
		if r := recover(); r != nil {
			eng.Flush()
			panic(r)
		}
	}()
	defer eng.Flush()

	eng.LogEvent(map[string]any{"kind": "session_start", "cwd": cwd, "command": args})

	statusAddr := startStatus(ctx, cfg, eng, cwd, args, log)

	transport := &intercept.Transport{
		Tracker: eng,
		Match:   intercept.Matcher{Path: cfg.Proxy.Path, Exclude: cfg.Proxy.ExcludePath},
		Logger:  log,
	}

	if !flagQuiet {
		fmt.Fprintf(os.Stderr, "  ccmeter session %s", cli.ShortID(sessionID))
		if statusAddr != "" {
			fmt.Fprintf(os.Stderr, " · watch with: ccmeter watch --addr %s", statusAddr)
		}
		fmt.Fprintln(os.Stderr)
	}

	code, runErr := supervisor.Supervise(ctx, supervisor.Options{
		Command:   args,
		Listen:    cfg.Proxy.Listen,
		Upstream:  cfg.Proxy.Upstream,
		Transport: transport,
		Env:       []string{"CCMETER_SESSION_ID=" + sessionID},
		Logger:    log,
	})

	if n := eng.Flush(); n > 0 && !flagQuiet {
		fmt.Fprintln(os.Stderr, cli.RenderWarning(fmt.Sprintf("%d call(s) were still streaming at exit; recorded as partial", n)))
	}
	ledger := eng.Ledger()
	eng.LogEvent(map[string]any{"kind": "session_end", "exit_code": code, "turns": ledger.Turns, "cost_usd": ledger.EstimatedCost})
	if !flagQuiet {
		fmt.Fprintln(os.Stderr, "  "+cli.RenderLedger(ledger))
	}

	if runErr != nil {
		return runErr
	}
	if code != 0 {
		return exitError{code: code}
	}
	return nil
}

// openSinks opens the database and, if enabled, the journal. Either one
// alone is enough to run.
func openSinks(cfg config.Config, log *slog.Logger) (engine.Sink, func(), error) {
	var sinks store.Fanout
	var closers []func() error

	db, dbErr := store.Open(config.DBPath(cfg))
	if dbErr == nil {
		sinks = append(sinks, db)
		closers = append(closers, db.Close)
	} else {
		log.Error("database unavailable", "path", config.DBPath(cfg), "err", dbErr)
	}

	if cfg.Storage.Journal {
		j, err := store.OpenJournal(config.JournalDir(cfg))
		if err != nil {
			log.Error("journal unavailable", "dir", config.JournalDir(cfg), "err", err)
		} else {
			sinks = append(sinks, j)
		}
	}

	if len(sinks) == 0 {
		return nil, nil, fmt.Errorf("no record store available: %w", dbErr)
	}
	if dbErr != nil && !flagQuiet {
		fmt.Fprintln(os.Stderr, cli.RenderWarning("database unavailable, recording to journal only"))
	}

	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil && !errors.Is(err, store.ErrClosed) {
				log.Warn("closing store", "err", err)
			}
		}
	}
	return sinks, closeAll, nil
}

// loadPrices merges the cached feed immediately and refreshes it in the
// background when stale. Calls finalized before the refresh lands are
// priced from the cache or the built-in table.
func loadPrices(ctx context.Context, cfg config.Config, calc *config.Calculator, log *slog.Logger) {
	if cfg.Pricing.FeedURL == "" {
		return
	}
	feed := priceFeed(cfg, log)
	if res, err := feed.Cached(); err == nil {
		calc.MergeFeed(res.Prices)
	}
	if flagRunOffline {
		return
	}
	go func() {
		res, err := feed.Load(ctx, false)
		if err != nil {
			log.Warn("price feed unavailable", "err", err)
			return
		}
		if !res.FromCache {
			calc.MergeFeed(res.Prices)
		}
	}()
}

// startStatus serves live status if enabled and returns its address, or ""
// when it is off or could not bind.
func startStatus(ctx context.Context, cfg config.Config, eng *engine.Engine, cwd string, args []string, log *slog.Logger) string {
	if !cfg.Status.Enabled {
		return ""
	}
	svc := status.New(status.Config{
		Addr:         cfg.Status.Listen,
		EventsBuffer: cfg.Status.EventsBuffer,
		SessionID:    eng.SessionID(),
		Cwd:          cwd,
		Command:      args,
	}, eng, log)

	ln, err := svc.Listen()
	if err != nil {
		log.Warn("live status disabled", "err", err)
		if !flagQuiet {
			fmt.Fprintln(os.Stderr, cli.RenderWarning(fmt.Sprintf("live status disabled: %v", err)))
		}
		return ""
	}
	eng.Observe(svc.Observe)
	go func() {
		if err := svc.Serve(ctx, ln); err != nil {
			log.Warn("status service stopped", "err", err)
		}
	}()
	return ln.Addr().String()
}
