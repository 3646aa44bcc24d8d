package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"dsfetch/pkg/auth"
	"dsfetch/pkg/config"
	"dsfetch/pkg/logger"
	"dsfetch/pkg/metrics"
	"dsfetch/pkg/ratelimit"
	"dsfetch/pkg/retry"
	"dsfetch/pkg/source"
	"dsfetch/pkg/storage"

	// Remote artifact buckets
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"
)

// loadConfig loads the configuration with the global flags and cmdFlags applied
func loadConfig(cmdFlags map[string]interface{}) (*config.Config, error) {
	flags := globalFlags()
	for k, v := range cmdFlags {
		flags[k] = v
	}
	return config.Load(configFile, flags)
}

// consoleLogger builds a logger for the inspection commands, which do not
// append to the run log file
func consoleLogger(cfg *config.Config) (logger.Logger, io.Closer, error) {
	logCfg := cfg.Logging
	logCfg.File = ""
	return logger.New(&logCfg)
}

func datasetID(cfg *config.Config) source.ID {
	id := source.ID{Dataset: cfg.Source.Dataset, Config: cfg.Source.Name, Split: cfg.Source.Split}
	if cfg.Source.Kind == "jsonl" && id.Dataset == "" {
		id.Dataset = cfg.Source.URL
	}
	return id
}

// openWriter opens the artifact bucket named by the storage configuration
func openWriter(ctx context.Context, cfg *config.Config, log logger.Logger) (*storage.Writer, error) {
	bucketURL, err := cfg.BucketURL()
	if err != nil {
		return nil, err
	}
	bucket, err := storage.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact storage %s: %w", bucketURL, err)
	}
	return storage.NewWriter(bucket, cfg.Storage.Prefix, cfg.Storage.Extension, log), nil
}

// resolveToken returns the hub token from the configuration or the credential stores
func resolveToken(cfg *config.Config, profile string, log logger.Logger) string {
	if cfg.Source.Token != "" {
		return cfg.Source.Token
	}
	manager, err := auth.NewManager()
	if err != nil {
		log.WithError(err).Debug("Credential stores unavailable")
		return ""
	}
	token := manager.Token(profile)
	if token != "" {
		log.WithField("profile", profile).Debug("Using stored hub token")
	}
	return token
}

// newOpener builds the configured source behind the retrying opener
func newOpener(cfg *config.Config, token string, log logger.Logger, m *metrics.Metrics) source.Opener {
	client := source.NewClient(cfg.Source.Timeout, ratelimit.PerMinute(cfg.Source.RequestsPerMinute), log)
	if cfg.Source.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.Source.UserAgent)
	}
	client.SetToken(token)

	countRetries := func(op string) func(int, error, time.Duration) {
		return func(int, error, time.Duration) {
			m.RecordRetry(context.Background(), op)
		}
	}

	var inner source.Opener
	switch cfg.Source.Kind {
	case "jsonl":
		inner = source.NewJSONLinesOpener(cfg.Source.URL, client, log)
	default:
		hub := source.NewHubRowsOpener(cfg.Source.Endpoint, cfg.Source.PageSize, client, log)
		pageRetry := retry.FromConfig("fetch rows", cfg.Retry, log)
		pageRetry.OnRetry = countRetries("fetch rows")
		hub.PageRetry = pageRetry
		inner = hub
	}

	openRetry := retry.FromConfig("open source", cfg.Retry, log)
	openRetry.OnRetry = countRetries("open source")
	return source.NewRetryingOpener(inner, openRetry, log)
}
