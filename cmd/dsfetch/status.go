package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"time"

	"dsfetch/pkg/progress"
	"dsfetch/pkg/storage"
	"dsfetch/pkg/ui"

	"github.com/spf13/cobra"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the progress record and stored artifacts",
	Long: `Show where the next run will resume, the batch artifacts written so far
and whether a run currently holds the progress lock.`,
	Example: `  dsfetch status
  dsfetch status --config ./fineweb.yaml`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}
	log, closer, err := consoleLogger(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx := context.Background()

	store, err := progress.Open(cfg.Progress, log)
	if err != nil {
		return err
	}
	defer store.Close()

	rec, err := store.Read(ctx)
	if err != nil {
		return err
	}

	writer, err := openWriter(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer writer.Close()

	artifacts, err := writer.List(ctx)
	if err != nil {
		return err
	}

	ui.PrintInfo("Dataset", datasetID(cfg).String())
	ui.PrintInfo("Progress", store.Location())
	if rec.IsZero() {
		ui.PrintInfo("Last batch", "none")
	} else {
		ui.PrintInfo("Last batch", fmt.Sprintf("%d (%s)", rec.LastBatch, writer.ArtifactName(rec.LastBatch)))
		ui.PrintInfo("Last item", strconv.Itoa(rec.LastItem))
	}
	ui.PrintInfo("Resume point", strconv.Itoa(rec.ResumePoint()))

	summary := summarizeArtifacts(artifacts, rec)
	ui.PrintInfo("Artifacts", fmt.Sprintf("%d (%s)", summary.count, ui.FormatBytes(summary.bytes)))
	if summary.count > 0 {
		ui.PrintInfo("Latest artifact", fmt.Sprintf("%s, %s ago", summary.latest.Name,
			ui.FormatDuration(time.Since(summary.latest.ModTime))))
	}
	if summary.unrecorded > 0 {
		ui.PrintWarning(fmt.Sprintf("%d artifacts beyond batch %d are not recorded and will be rewritten",
			summary.unrecorded, rec.LastBatch))
	}

	lockPath := progress.LockPath(cfg.Progress.Path)
	info, err := progress.ReadLock(lockPath)
	switch {
	case err == nil && info.Stale():
		ui.PrintWarning("Stale lock", fmt.Sprintf("pid %d has exited; the next run takes it over", info.PID))
	case err == nil:
		ui.PrintInfo("Lock", fmt.Sprintf("held by pid %d on %s since %s",
			info.PID, info.Hostname, info.AcquiredAt.Local().Format(time.DateTime)))
	case errors.Is(err, fs.ErrNotExist):
		ui.PrintInfo("Lock", "free")
	default:
		ui.PrintWarning("Unreadable lock file", err)
	}
	return nil
}

type artifactSummary struct {
	count      int
	bytes      int64
	latest     storage.Artifact
	unrecorded int
}

// summarizeArtifacts totals the listing and counts artifacts numbered past
// the recorded batch
func summarizeArtifacts(artifacts []storage.Artifact, rec progress.Record) artifactSummary {
	var s artifactSummary
	for _, a := range artifacts {
		s.count++
		s.bytes += a.Size
		if a.ModTime.After(s.latest.ModTime) {
			s.latest = a
		}
		if a.Number > rec.LastBatch {
			s.unrecorded++
		}
	}
	return s
}
