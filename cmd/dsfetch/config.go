package main

import (
	"fmt"
	"os"
	"path/filepath"

	"dsfetch/pkg/auth"
	"dsfetch/pkg/config"
	"dsfetch/pkg/ui"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage dsfetch configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (DSFETCH_*, also read from .env)
  - Configuration file
  - Default values (lowest priority)`,
}

// initCmd represents the config init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an example configuration file",
	Long: `Create an example configuration file with all available options.

The file will be created in the current directory as 'dsfetch.yaml'
unless a different path is specified with the --config flag.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

// showCmd represents the config show command
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: `Show the effective configuration after merging all sources.

The hub token is masked.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

// validateCmd represents the config validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long: `Validate the configuration for syntax errors and invalid values.

This command checks:
  - YAML syntax
  - Required fields
  - Value ranges
  - Path accessibility`,
	Args: cobra.NoArgs,
	RunE: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(validateCmd)
}

const exampleConfig = `# dsfetch configuration file
#
# Every option can also be set through environment variables prefixed with
# DSFETCH_, for example DSFETCH_BATCH_SIZE or DSFETCH_COOLDOWN.

# Dataset to download
source:
  # hub-rows streams from the datasets-server rows API, jsonl reads a
  # JSON lines file over http(s) or from disk
  kind: hub-rows
  dataset: HuggingFaceFW/fineweb-edu
  name: sample-10BT
  split: train
  endpoint: https://datasets-server.huggingface.co
  # Only used by kind: jsonl
  url: ""
  # Rows per request, at most 100
  page_size: 100
  # 0 disables throttling
  requests_per_minute: 120
  # Bounds a whole rows page; for jsonl only connecting and headers
  timeout: 30s
  user_agent: dsfetch/1.0

# Records per batch artifact
batch:
  size: 1000

# Where batch artifacts are written
storage:
  directory: ./data
  # Overrides directory; any of file:///path, s3://bucket, gs://bucket
  bucket_url: ""
  prefix: FW_batch
  extension: json

# Resume record
progress:
  # json or sqlite
  backend: json
  path: ./data/progress.json
  # Refuse to start while another run uses the same record
  lock: true

# Backoff while the source cannot be opened
retry:
  max_attempts: 20
  base_delay: 4s
  max_delay: 60s
  multiplier: 2.0
  jitter_factor: 0

# Restart policy after unexpected errors
supervisor:
  cooldown: 60s
  # 0 restarts forever
  max_restarts: 0

logging:
  # debug, info, warn, error
  level: info
  # Log lines are appended here as well as printed
  file: ./data/data.log
  no_color: false

ui:
  progress_enabled: true
  quiet: false
  # Desktop notification when a run ends
  notify: false
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configPath := configFile
	if configPath == "" {
		configPath = "dsfetch.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		fmt.Println("To overwrite, first remove the existing file:")
		fmt.Printf("  rm %s\n\n", configPath)
		return fmt.Errorf("configuration file already exists: %s", configPath)
	}

	if dir := filepath.Dir(configPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(configPath, []byte(exampleConfig), 0644); err != nil {
		return fmt.Errorf("failed to create configuration file: %w", err)
	}

	ui.PrintSuccess("Configuration file created: " + configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Edit the dataset and storage sections")
	fmt.Println("2. Run 'dsfetch config validate' to check the configuration")
	fmt.Println("3. Start downloading with 'dsfetch run'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}

	displayCfg := *cfg
	if displayCfg.Source.Token != "" {
		displayCfg.Source.Token = auth.MaskToken(displayCfg.Source.Token)
	}

	data, err := yaml.Marshal(&displayCfg)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	ui.PrintHighlight("Current Configuration")
	fmt.Println()
	fmt.Print(string(data))

	fmt.Println("\nConfiguration sources (in order of priority):")
	fmt.Println("1. Command line flags")
	fmt.Println("2. Environment variables (DSFETCH_*)")
	if configFile != "" {
		fmt.Printf("3. Configuration file: %s\n", configFile)
	} else {
		fmt.Println("3. Configuration file: (searched in default locations)")
	}
	fmt.Println("4. Default values")
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if configFile != "" {
		ui.PrintInfo("Validating configuration", configFile)
	}

	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}

	problems, warnings := checkConfig(cfg)

	if len(problems) > 0 {
		ui.PrintError("Configuration has errors")
		for _, p := range problems {
			fmt.Printf("  - %s\n", p)
		}
		return fmt.Errorf("configuration has %d errors", len(problems))
	}

	if len(warnings) > 0 {
		ui.PrintWarning("Configuration warnings")
		for _, w := range warnings {
			fmt.Printf("  - %s\n", w)
		}
		fmt.Println()
	}

	ui.PrintSuccess("Configuration is valid")

	bucket, _ := cfg.BucketURL()
	fmt.Println("\nConfiguration summary:")
	fmt.Printf("  Dataset: %s\n", datasetID(cfg))
	fmt.Printf("  Source: %s\n", cfg.Source.Kind)
	fmt.Printf("  Batch size: %d\n", cfg.Batch.Size)
	fmt.Printf("  Artifacts: %s\n", bucket)
	fmt.Printf("  Progress: %s (%s)\n", cfg.Progress.Path, cfg.Progress.Backend)
	fmt.Printf("  Retry: %d attempts, %s to %s\n", cfg.Retry.MaxAttempts, cfg.Retry.BaseDelay, cfg.Retry.MaxDelay)
	fmt.Printf("  Cooldown: %s\n", cfg.Supervisor.Cooldown)
	fmt.Printf("  Log level: %s\n", cfg.Logging.Level)
	return nil
}

// checkConfig runs the checks that need the filesystem, beyond Config.Validate
func checkConfig(cfg *config.Config) (problems, warnings []string) {
	if cfg.Storage.BucketURL == "" {
		if err := os.MkdirAll(cfg.Storage.Directory, 0755); err != nil {
			problems = append(problems, fmt.Sprintf("Cannot create storage directory: %v", err))
		}
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Progress.Path), 0755); err != nil {
		problems = append(problems, fmt.Sprintf("Cannot create progress directory: %v", err))
	}
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
			problems = append(problems, fmt.Sprintf("Cannot create log directory: %v", err))
		}
	}

	if cfg.Source.RequestsPerMinute == 0 {
		warnings = append(warnings, "Request throttling is disabled")
	}
	if cfg.Supervisor.Cooldown == 0 {
		warnings = append(warnings, "Supervisor cooldown is 0, failures restart immediately")
	}
	if !cfg.Progress.Lock {
		warnings = append(warnings, "Progress lock is disabled, concurrent runs can corrupt progress")
	}
	if cfg.Source.Kind == "hub-rows" && cfg.Source.Split == "" {
		warnings = append(warnings, "No split configured")
	}
	return problems, warnings
}
