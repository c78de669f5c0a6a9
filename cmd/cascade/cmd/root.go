package cmd

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/solatis/cascade/internal/core/config"
	"github.com/solatis/cascade/internal/core/db"
	"github.com/solatis/cascade/internal/core/store"
	"github.com/solatis/cascade/internal/logging"
)

// Version is reported by serve at startup.
const Version = "0.1.0"

var (
	configFile string
	dbURL      string
	logLevel   string
	logFormat  string

	// Populated by the root PersistentPreRunE for every subcommand.
	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "cascade",
	Short:         "Cascade declarative rule engine",
	Long:          `Cascade evaluates cascading form, task and routing rule sets and serves them over gRPC.`,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Flags win over file and environment
		flags := cmd.Flags()
		if flags.Changed("db-url") {
			loaded.Database.URL = dbURL
		}
		if flags.Changed("log-level") {
			loaded.Log.Level = logLevel
		}
		if flags.Changed("log-format") {
			loaded.Log.Format = logFormat
		}

		l, err := logging.FromStrings(loaded.Log.Level, loaded.Log.Format, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		cfg, logger = loaded, l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db-url", "", "database connection URL (sqlite://path or postgres://...)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format (json, text)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// openDatabase opens the configured database.
func openDatabase() (*sqlx.DB, error) {
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("--db-url or CASCADE_DATABASE_URL required")
	}
	database, err := db.Open(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return database, nil
}

// openStore opens the database and loads named queries.
// The caller closes the returned connection.
func openStore() (*sqlx.DB, *db.Queries, *store.Store, error) {
	database, err := openDatabase()
	if err != nil {
		return nil, nil, nil, err
	}
	queries, err := db.LoadQueries(database)
	if err != nil {
		database.Close()
		return nil, nil, nil, fmt.Errorf("failed to load queries: %w", err)
	}
	return database, queries, store.New(queries), nil
}
