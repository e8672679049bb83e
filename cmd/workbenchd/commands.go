package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/agent-workbench/internal/agent"
	"github.com/hochfrequenz/agent-workbench/internal/bus"
	"github.com/hochfrequenz/agent-workbench/internal/config"
	"github.com/hochfrequenz/agent-workbench/internal/forge"
	"github.com/hochfrequenz/agent-workbench/internal/git"
	"github.com/hochfrequenz/agent-workbench/internal/logging"
	"github.com/hochfrequenz/agent-workbench/internal/maintenance"
	"github.com/hochfrequenz/agent-workbench/internal/notify"
	"github.com/hochfrequenz/agent-workbench/internal/reconciler"
	"github.com/hochfrequenz/agent-workbench/internal/service"
	"github.com/hochfrequenz/agent-workbench/internal/session"
	"github.com/hochfrequenz/agent-workbench/internal/store"
	"github.com/hochfrequenz/agent-workbench/internal/watcher"
	"github.com/hochfrequenz/agent-workbench/web/api"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

var (
	serveHost string
	servePort int
)

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the workbench daemon",
		RunE:  runServe,
	}
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides config)")
	rootCmd.AddCommand(serveCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("workbenchd %s (%s/%s)\n", version, runtime.GOOS, runtime.GOARCH)
		},
	}
	rootCmd.AddCommand(versionCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	logger := logging.New(logging.Options{Level: cfg.Logging.Level})

	for _, dir := range []string{cfg.Storage.DataDir, cfg.Storage.WorktreeRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	eventBus := bus.New()
	gitDriver := git.NewDriver(logger.With("component", "git"))
	forges := forge.NewManager(gitDriver, logger.With("component", "forge"))

	agents := []agent.Agent{
		agent.NewClaudeAgent(cfg.Agents.ClaudePackage),
		agent.NewGeminiAgent(cfg.Agents.GeminiBinary, cfg.Agents.GeminiContextFiles),
	}
	engine := session.NewEngine(session.NewRegistry(), agents, st, eventBus, logger.With("component", "engine"))

	watch, err := watcher.New(eventBus, cfg.WatchDebounce(), logger.With("component", "watcher"))
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watch.Close()

	svc := service.New(service.Options{
		Store:        st,
		Git:          gitDriver,
		Engine:       engine,
		Forges:       forges,
		Bus:          eventBus,
		Watcher:      watch,
		WorktreeRoot: cfg.Storage.WorktreeRoot,
		Logger:       logger.With("component", "service"),
	})
	if err := svc.LoadForgeCredentials(); err != nil {
		return fmt.Errorf("loading forge credentials: %w", err)
	}
	if err := svc.LoadAgentKeys(); err != nil {
		return fmt.Errorf("loading agent keys: %w", err)
	}

	// Pick watching back up for attempts that were live before a restart.
	if active, err := st.ActiveWorktreePaths(); err != nil {
		logger.Warn("listing active worktrees", "error", err)
	} else {
		for path := range active {
			if err := watch.AddWorktree(path); err != nil {
				logger.Warn("watching worktree", "path", path, "error", err)
			}
		}
	}

	rec := reconciler.New(st, forges, eventBus, cfg.ReconcileInterval(), logger.With("component", "reconciler"))

	var notifiers []notify.Notifier
	if cfg.Notifications.Desktop {
		notifiers = append(notifiers, notify.NewDesktopNotifier(true))
	}
	if cfg.Notifications.SlackWebhook != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(cfg.Notifications.SlackWebhook))
	}
	bridge := notify.NewBridge(eventBus, notify.NewMultiNotifier(notifiers...), st, logger.With("component", "notify"))

	server := api.NewServer(api.Options{
		Service:    svc,
		Store:      st,
		Git:        gitDriver,
		Forges:     forges,
		Reconciler: rec,
		Bus:        eventBus,
		Logger:     logger.With("component", "api"),
		Version:    version,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(ctx, cfg.ListenAddr()) })
	g.Go(func() error { return watch.Run(ctx) })
	g.Go(func() error { return rec.Run(ctx) })
	g.Go(func() error { return bridge.Run(ctx) })
	if cfg.Janitor.Enabled {
		janitor, err := maintenance.NewJanitor(st, gitDriver, cfg.Storage.WorktreeRoot, cfg.Janitor.Schedule, logger.With("component", "janitor"))
		if err != nil {
			return fmt.Errorf("configuring janitor: %w", err)
		}
		g.Go(func() error { return janitor.Run(ctx) })
	}

	logger.Info("workbench daemon started",
		"version", version,
		"addr", cfg.ListenAddr(),
		"data_dir", cfg.Storage.DataDir,
		"worktree_root", cfg.Storage.WorktreeRoot)

	err = g.Wait()

	// Children outlive neither the daemon nor their registry slots.
	engine.StopAll()
	return err
}
