// The main package for the collector executable.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/estado-transparente/pipeline/internal/app"
	"github.com/estado-transparente/pipeline/internal/collector"
	"github.com/estado-transparente/pipeline/internal/config"
	"github.com/estado-transparente/pipeline/internal/faults"
	"github.com/estado-transparente/pipeline/internal/logging"
)

var (
	cfgFile  string
	sourceID string
	rawURL   string
	dryRun   bool
	force    bool

	cfg           config.Config
	log           *zap.Logger
	restoreLogger func()
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collector --source-id <id> --url <url>",
		Short: "Captures one source document as an immutable artifact",
		Long: `collector fetches a registered source URL, hashes the bytes, stores
them in the raw blob store and registers the artifact in the canonical
store. Ingestion is idempotent over content: refetching identical bytes
reuses the existing artifact.

On success the artifact id is printed to stdout.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
		PersistentPostRun: teardown,
		RunE:              runIngest,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults come from the environment)")
	cmd.Flags().StringVar(&sourceID, "source-id", "", "registered source to ingest")
	cmd.Flags().StringVar(&rawURL, "url", "", "document URL (http, https or file)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "fetch and hash without writing blob or artifact")
	cmd.Flags().BoolVar(&force, "force", false, "rewrite blob bytes for an already-registered artifact")
	_ = cmd.MarkFlagRequired("source-id")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

// setup loads config and builds the logger before the run.
func setup(*cobra.Command, []string) error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return err
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

func runIngest(cmd *cobra.Command, _ []string) error {
	a, err := app.New(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Collector().Ingest(cmd.Context(), sourceID, rawURL, collector.Options{
		DryRun: dryRun,
		Force:  force,
	})
	if err != nil {
		return err
	}

	log.Info("ingest complete",
		zap.Stringer("job_id", res.JobID),
		zap.String("content_hash", res.ContentHash),
		zap.Int64("size_bytes", res.SizeBytes),
		zap.Bool("reused", res.Reused),
		zap.Bool("dry_run", res.DryRun),
	)
	if res.ArtifactID != uuid.Nil {
		fmt.Println(res.ArtifactID)
	} else {
		fmt.Println(res.ContentHash)
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "collector:", err)
		os.Exit(faults.ExitCode(faults.KindOf(err)))
	}
}
