package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "DSFETCH_"

// Config holds all configuration options for the dataset downloader
type Config struct {
	// Remote dataset to stream
	Source SourceConfig `yaml:"source" json:"source"`

	// Batching of the stream
	Batch BatchConfig `yaml:"batch" json:"batch"`

	// Where batch artifacts are written
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// Where the resume record is kept
	Progress ProgressConfig `yaml:"progress" json:"progress"`

	// Backoff policy for opening the source
	Retry RetryConfig `yaml:"retry" json:"retry"`

	// Restart policy of the outer loop
	Supervisor SupervisorConfig `yaml:"supervisor" json:"supervisor"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Terminal output
	UI UIConfig `yaml:"ui" json:"ui"`
}

// SourceConfig identifies the remote dataset and how to reach it
type SourceConfig struct {
	// Kind selects the source implementation: "hub-rows" or "jsonl"
	Kind    string `yaml:"kind" json:"kind"`
	Dataset string `yaml:"dataset" json:"dataset"`
	Name    string `yaml:"name" json:"name"`
	Split   string `yaml:"split" json:"split"`
	// Endpoint is the datasets-server base URL for hub-rows
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	// URL is the http(s) URL or local path read by the jsonl source
	URL               string        `yaml:"url" json:"url"`
	PageSize          int           `yaml:"page_size" json:"page_size"`
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
	// Timeout bounds each hub page, and only the connect and header phase
	// of a streamed jsonl body
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
	UserAgent         string        `yaml:"user_agent" json:"user_agent"`
	// Token is a hub access token; normally resolved through the auth stores
	Token string `yaml:"token,omitempty" json:"-"`
}

// BatchConfig holds batching configuration
type BatchConfig struct {
	Size int `yaml:"size" json:"size"`
}

// StorageConfig holds artifact storage configuration
type StorageConfig struct {
	// Directory is used when BucketURL is empty
	Directory string `yaml:"directory" json:"directory"`
	// BucketURL is any gocloud.dev/blob URL (file://, mem://, s3://, gs://)
	BucketURL string `yaml:"bucket_url" json:"bucket_url"`
	Prefix    string `yaml:"prefix" json:"prefix"`
	Extension string `yaml:"extension" json:"extension"`
}

// ProgressConfig holds progress record configuration
type ProgressConfig struct {
	// Backend is "json" or "sqlite"
	Backend string `yaml:"backend" json:"backend"`
	Path    string `yaml:"path" json:"path"`
	Lock    bool   `yaml:"lock" json:"lock"`
}

// RetryConfig holds the source-open backoff policy
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" json:"max_attempts"`
	BaseDelay    time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" json:"max_delay"`
	Multiplier   float64       `yaml:"multiplier" json:"multiplier"`
	JitterFactor float64       `yaml:"jitter_factor" json:"jitter_factor"`
}

// SupervisorConfig holds the restart policy
type SupervisorConfig struct {
	Cooldown time.Duration `yaml:"cooldown" json:"cooldown"`
	// MaxRestarts of 0 means restart forever
	MaxRestarts int `yaml:"max_restarts" json:"max_restarts"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	// File receives a copy of every log line when set
	File    string `yaml:"file" json:"file"`
	NoColor bool   `yaml:"no_color" json:"no_color"`
}

// UIConfig holds terminal output preferences
type UIConfig struct {
	ProgressEnabled bool `yaml:"progress_enabled" json:"progress_enabled"`
	Quiet           bool `yaml:"quiet" json:"quiet"`
	// Notify sends a desktop notification when a run finishes or fails
	Notify bool `yaml:"notify" json:"notify"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Source: SourceConfig{
			Kind:              "hub-rows",
			Dataset:           "HuggingFaceFW/fineweb-edu",
			Name:              "sample-10BT",
			Split:             "train",
			Endpoint:          "https://datasets-server.huggingface.co",
			PageSize:          100,
			RequestsPerMinute: 120,
			Timeout:           30 * time.Second,
			UserAgent:         "dsfetch/1.0",
		},
		Batch: BatchConfig{
			Size: 1000,
		},
		Storage: StorageConfig{
			Directory: "./data",
			Prefix:    "FW_batch",
			Extension: "json",
		},
		Progress: ProgressConfig{
			Backend: "json",
			Path:    "./data/progress.json",
			Lock:    true,
		},
		Retry: RetryConfig{
			MaxAttempts:  20,
			BaseDelay:    4 * time.Second,
			MaxDelay:     60 * time.Second,
			Multiplier:   2.0,
			JitterFactor: 0,
		},
		Supervisor: SupervisorConfig{
			Cooldown:    60 * time.Second,
			MaxRestarts: 0,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "./data/data.log",
		},
		UI: UIConfig{
			ProgressEnabled: true,
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	setString := func(name string, dst *string) {
		if v := os.Getenv(envPrefix + name); v != "" {
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if v := os.Getenv(envPrefix + name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	setDuration := func(name string, dst *time.Duration) {
		if v := os.Getenv(envPrefix + name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = d
		}
	}

	// Source
	setString("SOURCE_KIND", &c.Source.Kind)
	setString("DATASET", &c.Source.Dataset)
	setString("DATASET_CONFIG", &c.Source.Name)
	setString("SPLIT", &c.Source.Split)
	setString("ENDPOINT", &c.Source.Endpoint)
	setString("SOURCE_URL", &c.Source.URL)
	setInt("PAGE_SIZE", &c.Source.PageSize)
	setInt("REQUESTS_PER_MINUTE", &c.Source.RequestsPerMinute)
	setDuration("SOURCE_TIMEOUT", &c.Source.Timeout)

	// Batching and storage
	setInt("BATCH_SIZE", &c.Batch.Size)
	setString("DATA_DIR", &c.Storage.Directory)
	setString("BUCKET_URL", &c.Storage.BucketURL)
	setString("BATCH_PREFIX", &c.Storage.Prefix)
	setString("PROGRESS_BACKEND", &c.Progress.Backend)
	setString("PROGRESS_PATH", &c.Progress.Path)

	// Retry and supervisor
	setInt("RETRY_MAX_ATTEMPTS", &c.Retry.MaxAttempts)
	setDuration("RETRY_BASE_DELAY", &c.Retry.BaseDelay)
	setDuration("RETRY_MAX_DELAY", &c.Retry.MaxDelay)
	if v := os.Getenv(envPrefix + "RETRY_MULTIPLIER"); v != "" {
		m, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sRETRY_MULTIPLIER: %w", envPrefix, err))
		} else {
			c.Retry.Multiplier = m
		}
	}
	setDuration("COOLDOWN", &c.Supervisor.Cooldown)
	setInt("MAX_RESTARTS", &c.Supervisor.MaxRestarts)

	// Logging
	setString("LOG_LEVEL", &c.Logging.Level)
	setString("LOG_FILE", &c.Logging.File)
	if debug := os.Getenv(envPrefix + "DEBUG"); debug != "" {
		if strings.ToLower(debug) == "true" || debug == "1" {
			c.Logging.Level = "debug"
		}
	}

	// Hub token, the conventional variable first
	if token := os.Getenv("HF_TOKEN"); token != "" {
		c.Source.Token = token
	}
	setString("HUB_TOKEN", &c.Source.Token)

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		"dsfetch.yaml",
		"dsfetch.yml",
		".dsfetch.yaml",
		filepath.Join(home, ".config", "dsfetch", "config.yaml"),
		filepath.Join(home, ".dsfetch.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	switch c.Source.Kind {
	case "hub-rows":
		if c.Source.Dataset == "" {
			errs = append(errs, errors.New("source dataset is required"))
		}
		if c.Source.Endpoint == "" {
			errs = append(errs, errors.New("source endpoint is required for hub-rows"))
		}
		if c.Source.PageSize <= 0 || c.Source.PageSize > 100 {
			errs = append(errs, errors.New("source page size must be between 1 and 100"))
		}
	case "jsonl":
		if c.Source.URL == "" {
			errs = append(errs, errors.New("source url is required for jsonl"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown source kind %q", c.Source.Kind))
	}
	if c.Source.Timeout <= 0 {
		errs = append(errs, errors.New("source timeout must be positive"))
	}
	if c.Source.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("requests per minute cannot be negative"))
	}

	if c.Batch.Size <= 0 {
		errs = append(errs, errors.New("batch size must be positive"))
	}

	if c.Storage.Directory == "" && c.Storage.BucketURL == "" {
		errs = append(errs, errors.New("storage directory or bucket url is required"))
	}
	if c.Storage.Prefix == "" {
		errs = append(errs, errors.New("storage prefix is required"))
	}
	if c.Storage.Extension == "" {
		errs = append(errs, errors.New("storage extension is required"))
	}

	switch c.Progress.Backend {
	case "json", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unknown progress backend %q", c.Progress.Backend))
	}
	if c.Progress.Path == "" {
		errs = append(errs, errors.New("progress path is required"))
	}

	if c.Retry.MaxAttempts <= 0 {
		errs = append(errs, errors.New("retry max attempts must be positive"))
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		errs = append(errs, errors.New("retry delays cannot be negative"))
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		errs = append(errs, errors.New("retry max delay must not be below base delay"))
	}
	if c.Retry.Multiplier < 1 {
		errs = append(errs, errors.New("retry multiplier must be at least 1"))
	}
	if c.Retry.JitterFactor < 0 || c.Retry.JitterFactor > 1 {
		errs = append(errs, errors.New("retry jitter factor must be between 0 and 1"))
	}

	if c.Supervisor.Cooldown < 0 {
		errs = append(errs, errors.New("supervisor cooldown cannot be negative"))
	}
	if c.Supervisor.MaxRestarts < 0 {
		errs = append(errs, errors.New("supervisor max restarts cannot be negative"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// BucketURL returns the blob URL artifacts are written to
func (c *Config) BucketURL() (string, error) {
	if c.Storage.BucketURL != "" {
		return c.Storage.BucketURL, nil
	}
	abs, err := filepath.Abs(c.Storage.Directory)
	if err != nil {
		return "", fmt.Errorf("failed to resolve storage directory: %w", err)
	}
	return "file://" + filepath.ToSlash(abs), nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["dataset"].(string); ok && v != "" {
		c.Source.Dataset = v
	}
	if v, ok := flags["dataset-config"].(string); ok && v != "" {
		c.Source.Name = v
	}
	if v, ok := flags["split"].(string); ok && v != "" {
		c.Source.Split = v
	}
	if v, ok := flags["source-kind"].(string); ok && v != "" {
		c.Source.Kind = v
	}
	if v, ok := flags["source-url"].(string); ok && v != "" {
		c.Source.URL = v
	}
	if v, ok := flags["batch-size"].(int); ok && v > 0 {
		c.Batch.Size = v
	}
	if v, ok := flags["data-dir"].(string); ok && v != "" {
		c.Storage.Directory = v
	}
	if v, ok := flags["bucket-url"].(string); ok && v != "" {
		c.Storage.BucketURL = v
	}
	if v, ok := flags["progress-path"].(string); ok && v != "" {
		c.Progress.Path = v
	}
	if v, ok := flags["progress-backend"].(string); ok && v != "" {
		c.Progress.Backend = v
	}
	if v, ok := flags["max-attempts"].(int); ok && v > 0 {
		c.Retry.MaxAttempts = v
	}
	if v, ok := flags["cooldown"].(time.Duration); ok && v >= 0 {
		c.Supervisor.Cooldown = v
	}
	if v, ok := flags["max-restarts"].(int); ok && v >= 0 {
		c.Supervisor.MaxRestarts = v
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := flags["log-file"].(string); ok {
		c.Logging.File = v
	}
	if v, ok := flags["debug"].(bool); ok && v {
		c.Logging.Level = "debug"
	}
	if v, ok := flags["no-color"].(bool); ok && v {
		c.Logging.NoColor = true
	}
	if v, ok := flags["quiet"].(bool); ok && v {
		c.UI.Quiet = true
		c.UI.ProgressEnabled = false
	}
	if v, ok := flags["no-progress"].(bool); ok && v {
		c.UI.ProgressEnabled = false
	}
	if v, ok := flags["notify"].(bool); ok && v {
		c.UI.Notify = true
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".dsfetch.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
