// Package main provides the entry point for the tabreader host: a local
// process that manages a browser read-aloud queue over stdio.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/tabreader/internal/ai"
	"github.com/dgnsrekt/tabreader/internal/config"
	"github.com/dgnsrekt/tabreader/internal/host"
	"github.com/dgnsrekt/tabreader/internal/ignore"
	"github.com/dgnsrekt/tabreader/internal/resolver"
	"github.com/dgnsrekt/tabreader/internal/storage"
	"github.com/dgnsrekt/tabreader/prefetch"
	"github.com/dgnsrekt/tabreader/queue"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile  string
	debug       bool
	storageKind string

	rootCmd = &cobra.Command{
		Use:   "tabreader",
		Short: "Read browser tabs aloud, with an AI prefetch pipeline",
		Long: "\nTabreader is the native host behind a browser read-aloud queue. " +
			"It keeps the queue durable, drives playback through the browser's " +
			"speech engine, and summarizes and translates upcoming tabs ahead of time.",
		SilenceErrors: false,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		RunE:          serve,
	}
)

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default tabreader.yml in the user config dir)")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.Flags().StringVar(&storageKind, "storage", "", "storage backend: memory, file or redis")

	_ = viper.BindPFlag("debug", rootCmd.Flags().Lookup("debug"))
	_ = viper.BindPFlag("storage", rootCmd.Flags().Lookup("storage"))
	viper.SetEnvPrefix("tabreader")
	viper.AutomaticEnv()

	rootCmd.AddCommand(configCmd)
}

// setupLog routes logs to the file named by TABREADER_LOGFILE, or stderr.
// Logging must never touch stdout; that stream carries protocol frames.
func setupLog() (func() error, error) {
	log.SetOutput(os.Stderr)
	log.SetReportTimestamp(true)

	path := os.Getenv("TABREADER_LOGFILE")
	if path == "" {
		return func() error { return nil }, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("unable to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("unable to open log file: %w", err)
	}
	log.SetOutput(f)
	return f.Close, nil
}

func serve(*cobra.Command, []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if viper.GetBool("debug") {
		cfg.Debug = true
	}
	if s := viper.GetString("storage"); s != "" {
		cfg.Storage = s
	}

	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.Default()
	logger.Info("starting tabreader host", "version", Version, "storage", cfg.Storage)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	ignores, err := ignore.NewList(cfg.IgnoreFile, logger.With("component", "ignore"))
	if err != nil {
		return fmt.Errorf("failed to load ignore list: %w", err)
	}
	if err := ignores.Watch(); err != nil {
		logger.Warn("ignore list watching disabled", "error", err)
	}
	defer func() { _ = ignores.Close() }()

	results := prefetch.NewStore(
		prefetch.WithCapacity(cfg.Queue.ResultCapacity),
		prefetch.WithTTL(cfg.Queue.ResultTTL),
	)

	transport := host.NewTransport(os.Stdin, os.Stdout)
	player := host.NewBridgePlayer(transport, logger.With("component", "player"))

	manager, err := queue.NewManager(queue.Options{
		Store:         store,
		Resolver:      resolver.New(results),
		Player:        player,
		Ignores:       ignores,
		Logger:        logger.With("component", "queue"),
		SaveDelay:     cfg.Queue.SaveDelay,
		ContentBudget: cfg.Queue.ContentBudget,
	})
	if err != nil {
		return err
	}
	if err := manager.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize queue: %w", err)
	}

	aiClient := ai.NewClient(cfg.AI, logger.With("component", "ai"))
	if !aiClient.HasCredential() {
		logger.Warn("no AI API key configured, prefetch jobs will fail until one is set")
	}

	board := prefetch.NewBoard(store, logger.With("component", "prefetch"))

	var scheduler *prefetch.Scheduler
	worker := prefetch.NewWorker(prefetch.WorkerOptions{
		Tabs:       manager,
		AI:         aiClient,
		Settings:   manager.Settings,
		Board:      board,
		Results:    results,
		OnCleared:  func(tabID int64) { scheduler.Clear(tabID) },
		RetryDelay: cfg.Queue.RetryDelay,
		Logger:     logger.With("component", "prefetch"),
	})
	scheduler = prefetch.NewScheduler(prefetch.SchedulerOptions{
		Sink:      worker,
		Lookahead: cfg.Queue.Lookahead,
		Cooldown:  cfg.Queue.Cooldown,
		Logger:    logger.With("component", "prefetch"),
	})

	coordinator := prefetch.NewCoordinator(manager, scheduler, worker, board, logger.With("component", "prefetch"))
	coordinator.Start(ctx)
	defer coordinator.Stop()

	h := host.New(transport, manager, player, coordinator, board, logger.With("component", "host"))
	runErr := h.Run(ctx)

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := manager.FlushPersistence(flushCtx); err != nil {
		logger.Warn("final queue flush failed", "error", err)
	}

	if runErr != nil && ctx.Err() != nil {
		// Shutdown via signal; not an error.
		logger.Info("shutting down")
		return nil
	}
	return runErr
}

// openStore builds the configured persistence backend.
func openStore(ctx context.Context, cfg config.Config, logger *log.Logger) (storage.KV, func(), error) {
	switch cfg.Storage {
	case config.StorageMemory:
		return storage.NewMemoryStore(), func() {}, nil

	case config.StorageRedis:
		store, err := storage.NewRedisStore(ctx, cfg.Redis, logger.With("component", "storage"))
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil

	default:
		store, err := storage.NewFileStore(filepath.Join(cfg.DataDir, "state"), logger.With("component", "storage"))
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}
}
