// Package cli implements the memvault commands.
package cli

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aschepis/memvault/config"
	"github.com/aschepis/memvault/database"
	"github.com/aschepis/memvault/logger"
	"github.com/aschepis/memvault/service"
)

// app holds global flags and the components opened for a command.
type app struct {
	configPath string
	dbPath     string
	driver     string
	logFile    string
	logLevel   string
	pretty     bool
	format     string

	out io.Writer
	in  io.Reader

	cfg    *config.Config
	logger zerolog.Logger
	db     *sql.DB
	svc    *service.Service
	comps  service.Components
}

// newRootCmd builds the command tree around a.
func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "memvault",
		Short:         "Local memory store with full-text search",
		Long:          "memvault stores typed memory records in SQLite, indexes them for ranked full-text search and reports usage statistics.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "Config file (default: $MEMVAULT_CONFIG_PATH or ~/.memvault/config.yaml)")
	flags.StringVarP(&a.dbPath, "db", "d", "", "Database path (overrides config and $MEMVAULT_DB)")
	flags.StringVar(&a.driver, "driver", "", "SQLite driver: sqlite or sqlite3 (overrides config)")
	flags.StringVar(&a.logFile, "logfile", "", "Path to log file. If not set, logs to stderr")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error (default: config or $LOG_LEVEL)")
	flags.BoolVar(&a.pretty, "pretty", false, "Use pretty console logs (only valid when logfile is not set)")
	flags.StringVarP(&a.format, "format", "f", "json", "Output format: json or text")

	root.AddCommand(
		a.newStoreCmd(),
		a.newGetCmd(),
		a.newListCmd(),
		a.newDeleteCmd(),
		a.newClearCmd(),
		a.newSearchCmd(),
		a.newIndexStatsCmd(),
		a.newStatsCmd(),
		a.newReconcileCmd(),
		a.newPurgeCmd(),
		a.newServeCmd(),
	)
	return root
}

// Execute runs the command line with args and returns the first error.
// Output goes to out; piped content is read from in.
func Execute(ctx context.Context, args []string, out io.Writer, in io.Reader) error {
	a := &app{out: out, in: in}
	defer a.close()

	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(out)
	root.SetIn(in)
	return root.ExecuteContext(ctx)
}

// setup loads configuration, initializes logging and opens the service.
func (a *app) setup(cmd *cobra.Command) error {
	if a.logFile != "" && a.pretty {
		return fmt.Errorf("--logfile and --pretty are mutually exclusive")
	}
	if a.format != "json" && a.format != "text" {
		return fmt.Errorf("--format must be json or text, got %q", a.format)
	}

	configPath := a.configPath
	if configPath == "" {
		configPath = config.GetConfigPath()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if a.dbPath != "" {
		cfg.Database.Path = a.dbPath
	}
	if a.driver != "" {
		cfg.Database.Driver = a.driver
	}
	if a.logFile != "" {
		cfg.Logging.File = a.logFile
	}
	if a.pretty {
		cfg.Logging.Pretty = true
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg

	log, err := logger.InitWithOptions(cfg.Logging.File, cfg.Logging.Pretty, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.logger = log.With().Str("command", cmd.Name()).Logger()

	db, err := database.Open(database.Options{
		Path:        cfg.Database.Path,
		Driver:      cfg.Database.Driver,
		BusyTimeout: cfg.BusyTimeout(),
	}, a.logger)
	if err != nil {
		return err
	}
	a.db = db

	svc, comps, err := service.NewFromDB(db, a.logger, nil, service.WithRetryPolicy(service.RetryPolicy{
		MaxRetries:      uint64(cfg.Retry.Retries()),
		InitialInterval: cfg.Retry.InitialInterval(),
		MaxInterval:     cfg.Retry.MaxInterval(),
	}))
	if err != nil {
		return err
	}
	a.svc = svc
	a.comps = comps
	return nil
}

func (a *app) close() {
	if a.db == nil {
		return
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to close database")
	}
	a.db = nil
}

// Main runs the CLI against the process arguments and exits non-zero on error.
func Main() {
	if err := Execute(context.Background(), os.Args[1:], os.Stdout, os.Stdin); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
