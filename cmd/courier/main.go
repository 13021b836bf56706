package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/feedbackkit/courier/internal/events"
	"github.com/feedbackkit/courier/internal/messagecenter"
	"github.com/feedbackkit/courier/internal/queue"
	"github.com/feedbackkit/courier/internal/store"
	"github.com/feedbackkit/courier/internal/transport"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for Courier state data
	DefaultStateDir = "/var/lib/courier"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "courier.db"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	if *flags.apiToken == "" {
		slog.Error("No API token configured, set COURIER_API_TOKEN or --api-token")
		os.Exit(1)
	}

	// Start the service
	slog.Info("Bootstrapping Courier delivery core")
	slog.Debug("Final configuration",
		"api_base_url", *flags.apiBaseURL,
		"dsn_set", *flags.dbDSN != "",
		"foreground_poll", *flags.foregroundPoll,
		"background_poll", *flags.backgroundPoll)
	if err := run(flags); err != nil {
		slog.Error("Courier failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Courier exited successfully")
}

// Config holds environment configuration
type Config struct {
	APIBaseURL  string
	APIToken    string
	DatabaseURL string
	StateDir    string
}

// Flags holds command line flag values
type Flags struct {
	apiBaseURL     *string
	apiToken       *string
	apiVersion     *int
	dbDSN          *string
	stateDir       *string
	foregroundPoll *time.Duration
	backgroundPoll *time.Duration
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
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
		APIBaseURL:  os.Getenv("COURIER_API_BASE_URL"),
		APIToken:    os.Getenv("COURIER_API_TOKEN"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StateDir:    os.Getenv("COURIER_STATE_DIR"),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No COURIER_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"COURIER_API_BASE_URL", config.APIBaseURL,
		"COURIER_API_TOKEN_SET", config.APIToken != "",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"COURIER_STATE_DIR", config.StateDir)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		apiBaseURL:     flag.String("api-base-url", config.APIBaseURL, "feedback API base URL (overrides $COURIER_API_BASE_URL)"),
		apiToken:       flag.String("api-token", config.APIToken, "conversation token (overrides $COURIER_API_TOKEN)"),
		apiVersion:     flag.Int("api-version", transport.DefaultAPIVersion, "wire protocol version sent as X-API-Version"),
		dbDSN:          flag.String("db-dsn", config.DatabaseURL, "database DSN, SQLite path or PostgreSQL URL (overrides $DATABASE_URL)"),
		stateDir:       flag.String("state-dir", config.StateDir, "state directory for Courier data (overrides $COURIER_STATE_DIR)"),
		foregroundPoll: flag.Duration("foreground-poll", messagecenter.DefaultForegroundPollInterval, "message poll interval while foregrounded"),
		backgroundPoll: flag.Duration("background-poll", messagecenter.DefaultBackgroundPollInterval, "message poll interval while backgrounded"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"apiBaseURL", *flags.apiBaseURL,
		"apiTokenSet", *flags.apiToken != "",
		"dbDSN_set", *flags.dbDSN != "",
		"stateDir", *flags.stateDir,
		"foregroundPoll", *flags.foregroundPoll,
		"backgroundPoll", *flags.backgroundPoll)

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags
}

// courierStore is the full store surface plus startup schema normalization.
type courierStore interface {
	store.Store
	NormalizeLegacyRecords() error
	Close() error
}

// openStore selects the backend by DSN shape and runs the legacy record
// normalization before anything reads the tables.
func openStore(dsn string) (courierStore, error) {
	var (
		st  courierStore
		err error
	)
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql")
		st, err = store.NewPostgresStore(store.WithDSN(dsn))
	} else {
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", dsn)
		st, err = store.NewSQLiteStore(store.WithDSN(dsn))
	}
	if err != nil {
		return nil, err
	}
	if err := st.NormalizeLegacyRecords(); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

func run(flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(*flags.dbDSN)
	if err != nil {
		return err
	}
	defer st.Close()

	client := transport.NewClient(*flags.apiBaseURL, *flags.apiToken, transport.WithAPIVersion(*flags.apiVersion))
	dispatcher := events.NewDispatcher()

	manager := messagecenter.NewManager(st, client, dispatcher)
	worker := queue.NewWorker(st, st, client, manager, dispatcher)
	manager.SetWorker(worker)
	poller := messagecenter.NewPoller(manager, *flags.foregroundPoll, *flags.backgroundPoll)
	poller.SetForeground(true)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		worker.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		poller.Run(ctx)
	}()

	<-ctx.Done()
	slog.Info("Shutdown signal received")
	wg.Wait()
	return nil
}
