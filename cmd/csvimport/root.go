package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/csvimport/internal/config"
	"github.com/JonMunkholm/csvimport/internal/importer"
	"github.com/JonMunkholm/csvimport/internal/logging"
	"github.com/JonMunkholm/csvimport/internal/store"
	"github.com/JonMunkholm/csvimport/internal/store/postgres"
	"github.com/JonMunkholm/csvimport/internal/store/sqlite"
)

// app carries what PersistentPreRunE prepared for the subcommands.
type app struct {
	envFile  string
	jobsFile string

	cfg  *config.Config
	logs io.Closer
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "csvimport",
		Short:         "Stage CSV files into the database and archive them",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.logs.Close()
		},
	}

	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	root.PersistentFlags().StringVar(&a.jobsFile, "jobs", "", "import definitions file (overrides IMPORT_JOBS_FILE)")

	root.AddCommand(
		newServeCmd(a),
		newRunCmd(a),
		newCountCmd(a),
		newMigrateCmd(a),
	)
	return root
}

// setup loads .env, the configuration and the logger.
func (a *app) setup() error {
	// Overload so the file wins over stale shell exports
	if err := godotenv.Overload(a.envFile); err != nil {
		slog.Debug("no .env file found, using environment variables", "file", a.envFile)
	} else {
		slog.Debug("loaded .env file", "file", a.envFile)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if a.jobsFile != "" {
		cfg.Import.JobsFile = a.jobsFile
	}

	logs, err := logging.Setup(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logs = logs
	slog.Debug("configuration loaded", "config", cfg.String())
	return nil
}

// openStore connects to the backend selected by DATABASE_URL and applies
// pending migrations.
func (a *app) openStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch a.cfg.Database.Driver() {
	case config.DriverPostgres:
		st, err = postgres.Open(ctx, a.cfg.Database)
	case config.DriverSQLite:
		st, err = sqlite.Open(a.cfg.Database.SQLitePath())
	default:
		return nil, fmt.Errorf("unsupported database URL scheme")
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

// newRunner loads the jobs file and builds a runner over st.
func (a *app) newRunner(st store.Store) (*importer.Runner, error) {
	jobs, err := config.LoadJobs(a.cfg.Import.JobsFile)
	if err != nil {
		return nil, err
	}

	slog.Info("imports loaded", "file", a.cfg.Import.JobsFile, "count", len(jobs.Names()))

	return importer.NewRunner(jobs, st, importer.Options{
		VarDir:    a.cfg.Import.VarDir,
		BatchSize: a.cfg.Import.BatchSize,
		Limiter:   importer.NewRunLimiter(a.cfg.Import.MaxConcurrent, a.cfg.Import.MaxWaitTime),
	}), nil
}
