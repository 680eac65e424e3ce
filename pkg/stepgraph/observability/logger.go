// Package observability provides structured logging, metrics, and tracing
// for stepgraph runs.
//
// Logging goes through slog. Metrics and tracing use OpenTelemetry and are
// opt-in, with no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds run coordinates to a logger.
//
// Example:
//
//	enriched := EnrichLogger(logger, "run-123", "thread-7", "review")
//	enriched.Info("doing work") // includes run_id, thread_id, node_id
func EnrichLogger(logger *slog.Logger, runID, threadID, nodeID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	attrs := []any{slog.String("run_id", runID)}
	if threadID != "" {
		attrs = append(attrs, slog.String("thread_id", threadID))
	}
	if nodeID != "" {
		attrs = append(attrs, slog.String("node_id", nodeID))
	}
	return logger.With(attrs...)
}

// LogRunStart logs the start of a graph run.
func LogRunStart(logger *slog.Logger, runID, threadID, entry string) {
	if logger == nil {
		return
	}
	logger.Info("graph run starting",
		slog.String("run_id", runID),
		slog.String("thread_id", threadID),
		slog.String("entry", entry),
	)
}

// LogRunComplete logs successful graph run completion.
func LogRunComplete(logger *slog.Logger, runID string, durationMs float64, steps int) {
	if logger == nil {
		return
	}
	logger.Info("graph run completed",
		slog.String("run_id", runID),
		slog.Float64("duration_ms", durationMs),
		slog.Int("steps", steps),
	)
}

// LogRunError logs graph run failure.
func LogRunError(logger *slog.Logger, runID string, err error, durationMs float64, lastNode string) {
	if logger == nil {
		return
	}
	logger.Error("graph run failed",
		slog.String("run_id", runID),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
		slog.String("last_node", lastNode),
	)
}

// LogNodeStart logs node execution start.
func LogNodeStart(logger *slog.Logger, nodeID string, step int) {
	if logger == nil {
		return
	}
	logger.Debug("node starting",
		slog.String("node_id", nodeID),
		slog.Int("step", step),
	)
}

// LogNodeComplete logs successful node completion.
func LogNodeComplete(logger *slog.Logger, nodeID string, durationMs float64, next string) {
	if logger == nil {
		return
	}
	logger.Debug("node completed",
		slog.String("node_id", nodeID),
		slog.Float64("duration_ms", durationMs),
		slog.String("next", next),
	)
}

// LogNodeError logs node execution error.
func LogNodeError(logger *slog.Logger, nodeID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("node failed",
		slog.String("node_id", nodeID),
		slog.String("error", err.Error()),
	)
}

// LogCacheHit logs a node short-circuited by the result cache.
func LogCacheHit(logger *slog.Logger, nodeID string) {
	if logger == nil {
		return
	}
	logger.Debug("cache hit",
		slog.String("node_id", nodeID),
	)
}

// LogCacheMiss logs a cache lookup that found nothing.
func LogCacheMiss(logger *slog.Logger, nodeID string) {
	if logger == nil {
		return
	}
	logger.Debug("cache miss",
		slog.String("node_id", nodeID),
	)
}

// LogCacheError logs a cache backend failure. Cache failures never fail a run.
func LogCacheError(logger *slog.Logger, nodeID, op string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("cache failed",
		slog.String("node_id", nodeID),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// LogInterrupt logs a run stopped by a non-empty error channel.
func LogInterrupt(logger *slog.Logger, runID, nodeID, message string) {
	if logger == nil {
		return
	}
	logger.Warn("graph run interrupted",
		slog.String("run_id", runID),
		slog.String("node_id", nodeID),
		slog.String("message", message),
	)
}

// LogCheckpoint logs a committed checkpoint.
func LogCheckpoint(logger *slog.Logger, nodeID, checkpointID string, sizeBytes int) {
	if logger == nil {
		return
	}
	logger.Debug("checkpoint saved",
		slog.String("node_id", nodeID),
		slog.String("checkpoint_id", checkpointID),
		slog.Int("size_bytes", sizeBytes),
	)
}

// LogCheckpointError logs a checkpoint failure.
func LogCheckpointError(logger *slog.Logger, nodeID string, op string, err error) {
	if logger == nil {
		return
	}
	logger.Error("checkpoint failed",
		slog.String("node_id", nodeID),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// The returned function reports the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
