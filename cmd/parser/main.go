// The main package for the parser executable.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/estado-transparente/pipeline/internal/app"
	"github.com/estado-transparente/pipeline/internal/config"
	"github.com/estado-transparente/pipeline/internal/faults"
	"github.com/estado-transparente/pipeline/internal/id/uuid"
	"github.com/estado-transparente/pipeline/internal/logging"
	"github.com/estado-transparente/pipeline/internal/parser"
)

var (
	cfgFile    string
	artifactID string
	dryRun     bool
	verify     bool

	cfg           config.Config
	log           *zap.Logger
	restoreLogger func()
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parser --artifact-id <uuid>",
		Short: "Parses a registered artifact into canonical facts",
		Long: `parser validates one stored artifact against its source contract and,
when the schema matches exactly, aggregates it into facts with row-level
provenance under a fresh snapshot. Ambiguity is never recovered from: a
changed header or a malformed row aborts the parse with no facts written.

On success the snapshot id is printed to stdout. With --dry-run the batch
is computed and discarded; with --verify the recomputed facts hash is
checked against the last successful parse.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
		PersistentPostRun: teardown,
		RunE:              runParse,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults come from the environment)")
	cmd.Flags().StringVar(&artifactID, "artifact-id", "", "artifact to parse")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute and report the batch without writing facts")
	cmd.Flags().BoolVar(&verify, "verify", false, "recompute the facts hash and compare with the recorded one")
	_ = cmd.MarkFlagRequired("artifact-id")
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

func runParse(cmd *cobra.Command, _ []string) error {
	id, err := uuid.Parse(artifactID)
	if err != nil {
		return faults.Wrap(faults.KindBadRequest, err, "parser: --artifact-id")
	}

	a, err := app.New(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Parser().Parse(cmd.Context(), id, parser.Options{
		DryRun: dryRun,
		Verify: verify,
	})
	if err != nil {
		return err
	}

	log.Info("parse complete",
		zap.Stringer("job_id", res.JobID),
		zap.Int("facts", res.Facts),
		zap.String("facts_hash", res.FactsHash),
		zap.Bool("dry_run", res.DryRun),
		zap.Bool("verified", res.Verified),
	)
	switch {
	case res.Verified, res.DryRun:
		fmt.Println(res.FactsHash)
	default:
		fmt.Println(res.SnapshotID)
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "parser:", err)
		os.Exit(faults.ExitCode(faults.KindOf(err)))
	}
}
