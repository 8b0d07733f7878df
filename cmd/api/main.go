// The main package for the query API executable.
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

	"github.com/estado-transparente/pipeline/internal/api"
	"github.com/estado-transparente/pipeline/internal/app"
	"github.com/estado-transparente/pipeline/internal/config"
	"github.com/estado-transparente/pipeline/internal/faults"
	"github.com/estado-transparente/pipeline/internal/logging"
	"github.com/estado-transparente/pipeline/internal/store"
)

var (
	cfgFile  string
	bindAddr string

	cfg           config.Config
	log           *zap.Logger
	restoreLogger func()
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "api",
		Short: "Serves the read-only fiscal query API",
		Long: `api exposes the canonical store over HTTP: metric and entity lookups,
fact queries, year-over-year comparisons, evidence bundles and the
headline dashboard. Every handler is read-only; ingestion happens in the
collector and parser binaries.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
		PersistentPostRun: teardown,
		RunE:              runServe,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults come from the environment)")
	cmd.Flags().StringVar(&bindAddr, "bind", "", "listen address (overrides API_BIND)")
	cmd.AddCommand(newMigrateCmd())
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Applies canonical store migrations and exits",
		RunE:  runMigrate,
	}
}

// setup runs before every subcommand: load config, build the logger.
func setup(*cobra.Command, []string) error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return err
	}
	if bindAddr != "" {
		cfg.API.Bind = bindAddr
	}
	log, err = logging.New(cfg.Log.Level, cfg.Log.Dev)
	if err != nil {
		return err
	}
	restoreLogger = logging.Replace(log)
	return nil
}

func teardown(*cobra.Command, []string) {
	if restoreLogger != nil {
		restoreLogger()
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := context.WithCancel(cmd.Context())
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := &http.Server{
		Addr:              cfg.API.Bind,
		Handler:           api.NewServer(a.Store, a.Blobs, cfg, log).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("http server started", zap.String("bind", cfg.API.Bind))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	}
	log.Info("shutdown complete")
	return nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	pool, err := store.Connect(cmd.Context(), cfg.DB)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := store.Migrate(cmd.Context(), pool); err != nil {
		return err
	}
	log.Info("migrations applied")
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "api:", err)
		os.Exit(faults.ExitCode(faults.KindOf(err)))
	}
}
