package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	errs "dsfetch/pkg/errors"
	"dsfetch/pkg/progress"
	"dsfetch/pkg/ui"

	"github.com/spf13/cobra"
)

var (
	// Reset command flags
	resetYes       bool
	resetUnlock    bool
	resetArtifacts bool
)

// resetCmd represents the reset command
var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the progress record so the next run starts over",
	Long: `Delete the progress record. The next run starts from the first record and
overwrites existing artifacts as it goes.

Use --unlock to remove a lock file left behind by a run that no longer exists.
Use --artifacts to delete the stored batch artifacts as well.`,
	Example: `  # Start over, asking for confirmation
  dsfetch reset

  # Clear a stale lock without touching progress
  dsfetch reset --unlock --yes`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)

	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "do not ask for confirmation")
	resetCmd.Flags().BoolVar(&resetUnlock, "unlock", false, "only remove a stale lock file")
	resetCmd.Flags().BoolVar(&resetArtifacts, "artifacts", false, "also delete stored batch artifacts")
}

func runReset(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}
	log, closer, err := consoleLogger(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	lockPath := progress.LockPath(cfg.Progress.Path)

	if resetUnlock {
		if !resetYes && !confirm(fmt.Sprintf("Remove lock file %s?", lockPath)) {
			ui.PrintInfo("Reset", "cancelled")
			return nil
		}
		if err := progress.RemoveLock(lockPath); err != nil {
			return err
		}
		log.WithField("path", lockPath).Info("Lock removed")
		ui.PrintSuccess("Lock removed")
		return nil
	}

	// Hold the lock so a running download cannot race the reset
	lock, err := progress.AcquireLock(lockPath, log)
	if err != nil {
		return errs.Permanent("acquire lock", err)
	}
	defer lock.Release()

	prompt := "Delete the progress record? The next run starts from the beginning."
	if resetArtifacts {
		prompt = "Delete the progress record and all batch artifacts?"
	}
	if !resetYes && !confirm(prompt) {
		ui.PrintInfo("Reset", "cancelled")
		return nil
	}

	ctx := context.Background()
	store, err := progress.Open(cfg.Progress, log)
	if err != nil {
		return err
	}
	defer store.Close()

	if resetArtifacts {
		writer, err := openWriter(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer writer.Close()

		artifacts, err := writer.List(ctx)
		if err != nil {
			return err
		}
		for _, a := range artifacts {
			if err := writer.Delete(ctx, a.Number); err != nil {
				return err
			}
		}
		log.WithField("count", len(artifacts)).Info("Artifacts deleted")
	}

	if err := store.Reset(ctx); err != nil {
		return err
	}
	log.WithField("location", store.Location()).Info("Progress reset")
	ui.PrintSuccess("Progress reset")
	return nil
}

// confirm asks a yes/no question on the terminal
func confirm(question string) bool {
	fmt.Printf("%s [y/N]: ", question)
	reader := bufio.NewReader(os.Stdin)
	answer, _ := reader.ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
