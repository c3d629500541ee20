package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"sentinel/internal/agent"
	"sentinel/internal/browser"
	"sentinel/internal/config"
	"sentinel/internal/intel"
	"sentinel/internal/notify"
	"sentinel/internal/orchestrate"
	"sentinel/internal/schedule"
	"sentinel/internal/server"
	"sentinel/internal/store"
	"sentinel/internal/types"
)

var (
	cfgPath string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "sentinel",
	Short: "Sentinel - continuous agent-driven QA runs",
	Long: `Sentinel drives a real browser with an LLM agent to test web
applications continuously: rotating devices, network conditions, locales,
and user personas, and turning what the agent finds into deduplicated,
severity-scored issues with screenshots and video evidence.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server and schedule rotations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "sentinel.yaml", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	level := cfg.Level
	if verbose {
		level = "debug"
	}
	if level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", level, err)
		}
		zc.Level = zap.NewAtomicLevelAt(parsed)
	}
	return zc.Build()
}

func serve() error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.OpenSQLite(cfg.Storage.DatabasePath, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()
	if err := st.SeedDefaults(ctx); err != nil {
		return fmt.Errorf("seed defaults: %w", err)
	}
	for _, p := range cfg.Projects {
		if err := st.UpsertProject(ctx, &types.Project{
			ID:            p.ID,
			Name:          p.Name,
			BaseURL:       p.BaseURL,
			SensitiveKeys: p.SensitiveKeys,
			SlackChannel:  p.SlackChannel,
		}); err != nil {
			return fmt.Errorf("register project %s: %w", p.ID, err)
		}
	}

	loop, err := agent.New(ctx, agent.Config{
		Model:       cfg.Agent.Model,
		APIKey:      cfg.Agent.APIKey,
		BaseURL:     cfg.Agent.BaseURL,
		MaxTurns:    cfg.Agent.MaxTurns,
		Timeout:     cfg.Agent.AgentTimeout(),
		ImageWindow: cfg.Agent.ImageWindow,
	})
	if err != nil {
		return fmt.Errorf("init agent: %w", err)
	}

	mgr := browser.NewManager(browser.Config{
		DebuggerURL:         cfg.Browser.DebuggerURL,
		ChromeBin:           cfg.Browser.ChromeBin,
		Headless:            cfg.Browser.IsHeadless(),
		NavigationTimeoutMs: cfg.Browser.NavigationTimeoutMs,
	}, logger)
	defer func() { _ = mgr.Shutdown() }()

	opener := func(ctx context.Context, runID string, opts browser.SessionOptions) (orchestrate.BrowserSession, error) {
		return mgr.NewSession(ctx, runID, opts)
	}
	notifier := notify.NewSlack(cfg.Notify.SlackWebhookURL, cfg.Notify.Owners, logger)
	analyzer := intel.NewAnalyzer(st, logger)
	executor := orchestrate.NewExecutor(st, loop, opener, notifier, analyzer, cfg.Storage.EvidenceRoot, logger)

	// Scheduled runs detach via Start so stopping a schedule never touches
	// a run already in flight.
	schedules := schedule.NewManager(func(req orchestrate.RunRequest) (string, error) {
		return executor.Start(req), nil
	}, logger)
	defer schedules.Shutdown()

	api := server.New(st, executor, schedules, analyzer, logger)
	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("api listening", zap.String("addr", cfg.Server.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	logger.Info("stopped")
	return nil
}
