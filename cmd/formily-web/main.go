package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/Formily/formily-web/internal/api"
	"github.com/Formily/formily-web/internal/config"
	"github.com/Formily/formily-web/internal/hub"
	"github.com/Formily/formily-web/internal/lockfile"
	"github.com/Formily/formily-web/internal/scheduler"
	"github.com/Formily/formily-web/internal/store"
	"github.com/Formily/formily-web/internal/surveys"
	"github.com/Formily/formily-web/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for formily-web state data
	DefaultStateDir = "/var/lib/formily-web"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "formily-web.db"
	// DefaultAPIAddr is the default API listen address
	DefaultAPIAddr = ":8080"
	// DefaultSweepCron re-evaluates survey eligibility every five minutes
	DefaultSweepCron = "*/5 * * * *"
)

func main() {
	// Load environment configuration
	cfg := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(cfg)

	// Initialize structured logger once the effective debug setting is known
	initializeLogger(*flags.debug)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	slog.Info("Bootstrapping formily-web with configured modules")
	if err := run(flags); err != nil {
		slog.Error("formily-web failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("formily-web exited successfully")
}

func run(flags Flags) error {
	// File-based storage means exclusive ownership of the state directory.
	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		lock, err := lockfile.AcquireLock(*flags.stateDir)
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	surveyPool, err := config.LoadSurveys(*flags.surveysPath)
	if err != nil {
		return err
	}

	st, err := buildStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	userID := *flags.userID
	if userID == "" {
		userID = util.GenerateVisitorID()
		slog.Debug("No user ID configured, generated anonymous visitor ID", "userID", userID)
	}

	h := hub.New(hub.Config{
		Surveys: surveyPool,
		UserID:  userID,
		Debug:   *flags.debug,
	})

	timer := scheduler.NewSimpleTimer()
	defer timer.Stop()

	manager := surveys.NewManager(h, surveys.Options{
		Client:   surveys.NewStoreClient(st, userID),
		Renderer: surveys.LogRenderer{},
		Frame:    surveys.NopFrame{},
		Timer:    timer,
	})
	defer manager.Stop()

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.AddJob(*flags.sweepCron, manager.Sweep); err != nil {
		return err
	}
	slog.Debug("Eligibility sweep scheduled", "cron", *flags.sweepCron)

	server := api.NewServer(h, manager, st)
	return server.Run(*flags.apiAddr)
}

// Config holds environment configuration
type Config struct {
	DatabaseURL string
	StateDir    string
	SurveysPath string
	UserID      string
	APIAddr     string
	SweepCron   string
	Debug       bool
}

// Flags holds command line flag values
type Flags struct {
	stateDir    *string
	dbDSN       *string
	surveysPath *string
	userID      *string
	apiAddr     *string
	sweepCron   *string
	debug       *bool
}

// initializeLogger sets up structured logging
func initializeLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
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

	cfg := Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StateDir:    os.Getenv("FORMILY_STATE_DIR"),
		SurveysPath: os.Getenv("FORMILY_SURVEYS"),
		UserID:      os.Getenv("FORMILY_USER_ID"),
		APIAddr:     os.Getenv("API_ADDR"),
		SweepCron:   os.Getenv("SWEEP_SCHEDULE"),
		Debug:       util.ParseBoolEnv("FORMILY_DEBUG", false),
	}

	if cfg.StateDir == "" {
		cfg.StateDir = DefaultStateDir
		slog.Debug("No FORMILY_STATE_DIR set, using default", "default_state_dir", cfg.StateDir)
	}
	if cfg.SurveysPath == "" {
		cfg.SurveysPath = filepath.Join(cfg.StateDir, "surveys.json")
		slog.Debug("No FORMILY_SURVEYS set, using default", "surveys_path", cfg.SurveysPath)
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = filepath.Join(cfg.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", cfg.DatabaseURL)
	}
	if cfg.APIAddr == "" {
		cfg.APIAddr = DefaultAPIAddr
	}
	if cfg.SweepCron == "" {
		cfg.SweepCron = DefaultSweepCron
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", cfg.DatabaseURL != "",
		"FORMILY_STATE_DIR", cfg.StateDir,
		"FORMILY_SURVEYS", cfg.SurveysPath,
		"FORMILY_USER_ID_SET", cfg.UserID != "",
		"API_ADDR", cfg.APIAddr,
		"SWEEP_SCHEDULE", cfg.SweepCron,
		"FORMILY_DEBUG", cfg.Debug)

	return cfg
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(cfg Config) Flags {
	flags := Flags{
		stateDir:    flag.String("state-dir", cfg.StateDir, "state directory for formily-web data (overrides $FORMILY_STATE_DIR)"),
		dbDSN:       flag.String("db-dsn", cfg.DatabaseURL, "database DSN (overrides $DATABASE_URL)"),
		surveysPath: flag.String("surveys", cfg.SurveysPath, "path to survey pool JSON (overrides $FORMILY_SURVEYS)"),
		userID:      flag.String("user-id", cfg.UserID, "visiting user identity (overrides $FORMILY_USER_ID)"),
		apiAddr:     flag.String("api-addr", cfg.APIAddr, "API server address (overrides $API_ADDR)"),
		sweepCron:   flag.String("sweep-cron", cfg.SweepCron, "cron schedule for eligibility sweeps (overrides $SWEEP_SCHEDULE)"),
		debug:       flag.Bool("debug", cfg.Debug, "enable debug logging (overrides $FORMILY_DEBUG)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"surveysPath", *flags.surveysPath,
		"userID_set", *flags.userID != "",
		"apiAddr", *flags.apiAddr,
		"sweepCron", *flags.sweepCron,
		"debug", *flags.debug)

	// Update derived paths when only the state directory was overridden
	if *flags.stateDir != cfg.StateDir {
		if *flags.dbDSN == filepath.Join(cfg.StateDir, DefaultDBFileName) {
			*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
			slog.Debug("Updated dbDSN based on state directory", "db_path", *flags.dbDSN)
		}
		if *flags.surveysPath == filepath.Join(cfg.StateDir, "surveys.json") {
			*flags.surveysPath = filepath.Join(*flags.stateDir, "surveys.json")
			slog.Debug("Updated surveys path based on state directory", "surveys_path", *flags.surveysPath)
		}
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if !strings.Contains(*flags.dbDSN, "postgres://") && !strings.Contains(*flags.dbDSN, "host=") {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	return nil
}

// buildStore selects a store backend from the configured DSN.
func buildStore(flags Flags) (store.Store, error) {
	dsn := *flags.dbDSN
	if dsn == "" {
		slog.Debug("No database DSN provided, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql")
		return store.NewPostgresStore(store.WithDSN(dsn))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", dsn)
	return store.NewSQLiteStore(store.WithDSN(dsn))
}
