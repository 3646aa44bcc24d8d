package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"dsfetch/internal/verifier"
	"dsfetch/pkg/progress"
	"dsfetch/pkg/ui"

	"github.com/spf13/cobra"
)

// ErrVerifyFailed is returned when stored artifacts disagree with the progress record
var ErrVerifyFailed = errors.New("artifacts do not match the progress record")

// verifyCmd represents the verify command
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check stored artifacts against the progress record",
	Long: `Read back every batch artifact the progress record covers and check that
all of them exist, decode, and together hold exactly the recorded number of
records.`,
	Args: cobra.NoArgs,
	RunE: runVerify,
}

var verifyWorkers int

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().IntVarP(&verifyWorkers, "workers", "w", verifier.DefaultWorkers, "concurrent artifact reads")
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}
	log, closer, err := consoleLogger(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

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

	report, err := verifier.Verify(ctx, writer, rec, verifyWorkers, log)
	if err != nil {
		return err
	}

	ui.PrintInfo("Batches checked", fmt.Sprintf("%d of %d", report.Checked, rec.LastBatch))
	ui.PrintInfo("Records", fmt.Sprintf("%d (expected %d)", report.Items, report.Expected()))
	for _, n := range report.Missing {
		ui.PrintError("Missing artifact", writer.ArtifactName(n))
	}
	for _, n := range report.CorruptBatches() {
		ui.PrintError("Unreadable artifact "+strconv.Itoa(n), report.Corrupt[n])
	}

	if !report.OK() {
		return ErrVerifyFailed
	}
	ui.PrintSuccess("All recorded batches verified")
	return nil
}
