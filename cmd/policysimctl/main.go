package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"policysim/internal/logging"
	"policysim/internal/metrics"
	"policysim/internal/storage"
	simapi "policysim/pkg/policysim"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app carries the flags shared by every subcommand.
type app struct {
	logLevel   string
	logJSON    bool
	storeKind  string
	dbPath     string
	resultsDir string

	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{logger: zap.NewNop()}
	root := &cobra.Command{
		Use:           "policysimctl",
		Short:         "Monte Carlo calibration of regression-based policy effect estimates",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := logging.New(a.logLevel, a.logJSON)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = a.logger.Sync()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.logLevel, "log-level", "info", "log level: debug|info|warn|error")
	flags.BoolVar(&a.logJSON, "log-json", false, "emit JSON logs")
	flags.StringVar(&a.storeKind, "store", storage.DefaultStoreKind(), "run index backend: memory|sqlite")
	flags.StringVar(&a.dbPath, "db-path", "policysim.db", "sqlite database path")
	flags.StringVar(&a.resultsDir, "results-dir", "results", "directory for result files")

	root.AddCommand(
		newInitCmd(a),
		newRunCmd(a),
		newRunsCmd(a),
		newShowCmd(a),
		newDeleteCmd(a),
		newLoadCmd(a),
	)
	return root
}

func (a *app) client(m *metrics.Metrics) (*simapi.Client, error) {
	return simapi.New(simapi.Options{
		StoreKind:  a.storeKind,
		DBPath:     a.dbPath,
		ResultsDir: a.resultsDir,
		Logger:     a.logger,
		Metrics:    m,
	})
}
