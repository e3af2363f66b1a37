package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/patchbay-io/patchbay/internal/api"
	"github.com/patchbay-io/patchbay/internal/lockfile"
	"github.com/patchbay-io/patchbay/internal/messaging"
	"github.com/patchbay-io/patchbay/internal/outbox"
	"github.com/patchbay-io/patchbay/internal/store"
	"github.com/patchbay-io/patchbay/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for Patchbay state data
	DefaultStateDir = "/var/lib/patchbay"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "patchbay.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	// One instance per state directory: the rate limiter's per-key locking is
	// process-local, so a second instance would race on bucket state.
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	st, err := openStore(*flags.dbDSN)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	resolver := messaging.NewResolver(st)
	processor := outbox.NewProcessor(st, resolver,
		outbox.WithInterval(*flags.pollInterval))
	server := api.NewServer(st, resolver, processor,
		api.WithAddr(*flags.apiAddr),
		api.WithWorkerToken(*flags.workerToken))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *flags.pollInterval > 0 {
		go processor.Run(ctx)
	} else {
		slog.Info("Outbox poll loop disabled; relying on POST /worker/outbox")
	}

	slog.Info("Bootstrapping Patchbay",
		"addr", *flags.apiAddr, "state_dir", *flags.stateDir,
		"dsn_type", store.DetectDSNType(*flags.dbDSN), "poll_interval", *flags.pollInterval)
	if err := server.Run(ctx); err != nil {
		slog.Error("Patchbay failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Patchbay exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL  string
	StateDir     string
	APIAddr      string
	WorkerToken  string
	PollInterval time.Duration
}

// Flags holds command line flag values
type Flags struct {
	stateDir     *string
	dbDSN        *string
	apiAddr      *string
	workerToken  *string
	pollInterval *time.Duration
}

// initializeLogger sets up structured logging with the level from LOG_LEVEL.
func initializeLogger() {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		StateDir:     os.Getenv("PATCHBAY_STATE_DIR"),
		APIAddr:      os.Getenv("PATCHBAY_ADDR"),
		WorkerToken:  os.Getenv("OUTBOX_WORKER_TOKEN"),
		PollInterval: util.ParseDurationEnv("OUTBOX_POLL_INTERVAL", 30*time.Second),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No PATCHBAY_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// No database URL means SQLite in the state directory.
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"PATCHBAY_STATE_DIR", config.StateDir,
		"PATCHBAY_ADDR", config.APIAddr,
		"OUTBOX_WORKER_TOKEN_SET", config.WorkerToken != "",
		"OUTBOX_POLL_INTERVAL", config.PollInterval)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:     flag.String("state-dir", config.StateDir, "state directory for Patchbay data (overrides $PATCHBAY_STATE_DIR)"),
		dbDSN:        flag.String("db-dsn", config.DatabaseURL, "database DSN, Postgres URL or SQLite path (overrides $DATABASE_URL)"),
		apiAddr:      flag.String("api-addr", config.APIAddr, "API server address (overrides $PATCHBAY_ADDR)"),
		workerToken:  flag.String("worker-token", config.WorkerToken, "token for POST /worker/outbox (overrides $OUTBOX_WORKER_TOKEN)"),
		pollInterval: flag.Duration("poll-interval", config.PollInterval, "outbox poll interval, 0 disables the in-process loop (overrides $OUTBOX_POLL_INTERVAL)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"workerToken_set", *flags.workerToken != "",
		"pollInterval", *flags.pollInterval)

	return flags
}

// openStore selects the backend from the DSN shape.
func openStore(dsn string) (store.Store, error) {
	if store.DetectDSNType(dsn) == "postgres" {
		s, err := store.NewPostgresStore(store.WithPostgresDSN(dsn))
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	s, err := store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
	if err != nil {
		return nil, err
	}
	return s, nil
}
