package main

import (
	"fmt"
	"os"
	"runtime"

	errs "dsfetch/pkg/errors"
	"dsfetch/pkg/logger"
	"dsfetch/pkg/ui"

	"github.com/spf13/cobra"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	debug      bool
	quiet      bool
	noColor    bool
	notify     bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dsfetch",
	Short: "Resumable batch downloader for streamed datasets",
	Long: `dsfetch streams a remote dataset split record by record and writes it to
numbered batch artifacts. Progress is recorded after every batch, so an
interrupted or failed download picks up exactly where it stopped.

Features:
  - Exact resume after crashes, restarts and Ctrl-C
  - Exponential backoff while the source is unreachable
  - Automatic restart after unexpected failures
  - Local, S3 and GCS artifact storage
  - Hub access tokens kept in the system keychain`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.Version = version
		if noColor || os.Getenv("NO_COLOR") != "" {
			ui.SetColor(false)
		}
	},
}

// versionCmd prints build information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "dsfetch %s\n", rootCmd.Version)
		fmt.Fprintf(cmd.OutOrStdout(), "Go Version: %s\n", runtime.Version())
		fmt.Fprintf(cmd.OutOrStdout(), "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

// Execute adds all child commands to the root command and exits with the
// status of the command that ran.
func Execute() {
	os.Exit(exitCode(rootCmd.Execute()))
}

// exitCode maps a command error to the process exit status. An operator
// interrupt is a clean stop.
func exitCode(err error) int {
	if err == nil || errs.IsUserInterrupt(err) {
		return 0
	}
	ui.PrintError("Error", err.Error())
	return 1
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./dsfetch.yaml or $HOME/.dsfetch.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging and per-batch output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress progress output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVar(&notify, "notify", false, "send a desktop notification when a run ends")

	rootCmd.AddCommand(versionCmd)

	// Version template
	rootCmd.SetVersionTemplate(`dsfetch {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	// Disable default completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// globalFlags returns the persistent flags in the form config.MergeCommandLineFlags expects
func globalFlags() map[string]interface{} {
	flags := make(map[string]interface{})
	if logLevel != "" {
		flags["log-level"] = logLevel
	}
	if debug {
		flags["debug"] = true
	}
	if quiet {
		flags["quiet"] = true
	}
	if noColor {
		flags["no-color"] = true
	}
	if notify {
		flags["notify"] = true
	}
	return flags
}
