// Package logger provides the structured logging interface used across dsfetch.
//
// It wraps zerolog with a small interface so that components can be handed
// a Logger, a no-op logger, or a TestLogger that captures messages.
//
// Output goes to a colored console writer on stderr and, when a file is
// configured, to an append-only JSON log file as well:
//
//	cfg := &config.LoggingConfig{Level: "info", File: "./data/data.log"}
//	if err := logger.Initialize(cfg); err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	log := logger.GetLogger().WithField("component", "pipeline")
//	log.WithFields(map[string]interface{}{
//	    "batch": 3,
//	    "items": 1000,
//	}).Info("Batch written")
package logger
