package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"dsfetch/pkg/auth"
	errs "dsfetch/pkg/errors"
	"dsfetch/pkg/logger"
	"dsfetch/pkg/metrics"
	"dsfetch/pkg/pipeline"
	"dsfetch/pkg/progress"
	"dsfetch/pkg/supervisor"
	"dsfetch/pkg/ui"

	"github.com/spf13/cobra"
)

var (
	// Run command flags
	datasetConfig   string
	split           string
	sourceKind      string
	sourceURL       string
	batchSize       int
	dataDir         string
	bucketURL       string
	progressPath    string
	progressBackend string
	maxAttempts     int
	cooldown        time.Duration
	maxRestarts     int
	logFile         string
	noProgress      bool
	profile         string
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run [dataset]",
	Short: "Download a dataset split into numbered batch artifacts",
	Long: `Stream a dataset split and write it to numbered batch artifacts.

Each full batch is written before the progress record is advanced, so a run
that stops for any reason resumes at the first record not yet recorded.
Records the source yields again after a restart are skipped, not duplicated.

Unexpected failures are logged and the download restarts after a cooldown.
Press Ctrl-C to stop; the batch being written is finished first.`,
	Example: `  # Download the default dataset into ./data
  dsfetch run

  # Download a specific split with smaller batches
  dsfetch run HuggingFaceFW/fineweb-edu --dataset-config sample-10BT --split train --batch-size 500

  # Read a JSON lines export and store batches in S3
  dsfetch run --source-kind jsonl --source-url https://example.com/export.jsonl --bucket-url s3://my-bucket

  # Keep progress in SQLite and give up after 5 restarts
  dsfetch run --progress-backend sqlite --progress-path ./data/progress.db --max-restarts 5`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDownload,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&datasetConfig, "dataset-config", "", "dataset configuration name")
	runCmd.Flags().StringVar(&split, "split", "", "dataset split")
	runCmd.Flags().StringVar(&sourceKind, "source-kind", "", "source type (hub-rows, jsonl)")
	runCmd.Flags().StringVar(&sourceURL, "source-url", "", "URL or path of a JSON lines source")
	runCmd.Flags().IntVarP(&batchSize, "batch-size", "b", 0, "records per batch artifact (default 1000)")
	runCmd.Flags().StringVarP(&dataDir, "data-dir", "o", "", "directory for batch artifacts (default ./data)")
	runCmd.Flags().StringVar(&bucketURL, "bucket-url", "", "blob URL for batch artifacts (file://, s3://, gs://)")
	runCmd.Flags().StringVar(&progressPath, "progress-path", "", "progress record location (default ./data/progress.json)")
	runCmd.Flags().StringVar(&progressBackend, "progress-backend", "", "progress backend (json, sqlite)")
	runCmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "attempts to open the source before giving up (default 20)")
	runCmd.Flags().DurationVar(&cooldown, "cooldown", 0, "wait before restarting after an unexpected error (default 60s)")
	runCmd.Flags().IntVar(&maxRestarts, "max-restarts", 0, "restarts before giving up, 0 restarts forever")
	runCmd.Flags().StringVar(&logFile, "log-file", "", "append log lines to this file (default ./data/data.log)")
	runCmd.Flags().BoolVar(&noProgress, "no-progress", false, "disable the progress line")
	runCmd.Flags().StringVar(&profile, "profile", auth.DefaultProfile, "stored hub token profile")
}

// runFlags collects the run flags that were set explicitly
func runFlags(cmd *cobra.Command, args []string) map[string]interface{} {
	flags := make(map[string]interface{})
	if len(args) == 1 {
		flags["dataset"] = strings.TrimSpace(args[0])
	}

	changed := cmd.Flags().Changed
	if changed("dataset-config") {
		flags["dataset-config"] = datasetConfig
	}
	if changed("split") {
		flags["split"] = split
	}
	if changed("source-kind") {
		flags["source-kind"] = sourceKind
	}
	if changed("source-url") {
		flags["source-url"] = sourceURL
	}
	if changed("batch-size") {
		flags["batch-size"] = batchSize
	}
	if changed("data-dir") {
		flags["data-dir"] = dataDir
	}
	if changed("bucket-url") {
		flags["bucket-url"] = bucketURL
	}
	if changed("progress-path") {
		flags["progress-path"] = progressPath
	}
	if changed("progress-backend") {
		flags["progress-backend"] = progressBackend
	}
	if changed("max-attempts") {
		flags["max-attempts"] = maxAttempts
	}
	if changed("cooldown") {
		flags["cooldown"] = cooldown
	}
	if changed("max-restarts") {
		flags["max-restarts"] = maxRestarts
	}
	if changed("log-file") {
		flags["log-file"] = logFile
	}
	if noProgress {
		flags["no-progress"] = true
	}
	return flags
}

func runDownload(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(runFlags(cmd, args))
	if err != nil {
		return err
	}
	if !cfg.UI.Quiet {
		ui.PrintBanner()
	}

	log, closer, err := logger.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, err := metrics.Init(version)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	defer tel.Shutdown(context.Background())

	if cfg.Progress.Lock {
		lock, err := progress.AcquireLock(progress.LockPath(cfg.Progress.Path), log)
		if err != nil {
			log.WithError(err).Error("Another run holds this progress record")
			return errs.Permanent("acquire lock", err)
		}
		defer func() {
			if err := lock.Release(); err != nil {
				log.WithError(err).Warn("Failed to release lock")
			}
		}()
	}

	store, err := progress.Open(cfg.Progress, log)
	if err != nil {
		return err
	}
	defer store.Close()

	writer, err := openWriter(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer writer.Close()

	id := datasetID(cfg)
	opener := newOpener(cfg, resolveToken(cfg, profile, log), log, tel.Metrics)

	var observer pipeline.Observer
	var display *ui.ProgressDisplay
	if cfg.UI.ProgressEnabled && !cfg.UI.Quiet {
		display = ui.NewProgressDisplay(os.Stderr, id.String(), cfg.Batch.Size, strings.EqualFold(cfg.Logging.Level, "debug"))
		observer = display
	}

	log.InfoWithFields("Starting download", map[string]interface{}{
		"dataset":    id.String(),
		"source":     cfg.Source.Kind,
		"batch_size": cfg.Batch.Size,
		"progress":   store.Location(),
	})

	var last pipeline.Result
	loop := supervisor.New(cfg.Supervisor, log, tel.Metrics)
	err = loop.Run(ctx, func(ctx context.Context, attempt supervisor.Attempt) error {
		p, err := pipeline.New(pipeline.Options{
			Dataset:   id,
			BatchSize: cfg.Batch.Size,
			Opener:    opener,
			Writer:    writer,
			Progress:  store,
			Observer:  observer,
			Metrics:   tel.Metrics,
			Logger:    attempt.Logger,
		})
		if err != nil {
			return errs.Permanent("configure pipeline", err)
		}
		last, err = p.Run(ctx)
		return err
	})

	tel.LogSummary(context.Background(), log)

	notifier := ui.NewNotifier(cfg.UI.Notify)
	switch {
	case err == nil:
		if display != nil {
			display.Complete()
		}
		notifier.SendSuccess("Download complete",
			fmt.Sprintf("%s: %d batches recorded", id, last.LastRecord.LastBatch))
	case errs.IsUserInterrupt(err):
		if rec, readErr := store.Read(context.Background()); readErr == nil {
			ui.PrintWarning("Stopped", fmt.Sprintf("next run resumes at record %d", rec.ResumePoint()))
		}
	case cfg.UI.Notify:
		notifier.SendError("Download failed", err.Error())
	}
	return err
}
