// Package notify delivers human-readable progress messages from running
// workflows to an observer.
package notify

import (
	"context"
	"errors"
	"log/slog"
)

// Notifier sends a progress message. Implementations must be safe for
// concurrent use.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, text string) error

// Notify implements Notifier.
func (f Func) Notify(ctx context.Context, text string) error {
	return f(ctx, text)
}

// Log writes notifications to a structured logger.
type Log struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLog creates a notifier logging at Info. A nil logger uses
// slog.Default().
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger, level: slog.LevelInfo}
}

// Notify implements Notifier.
func (l *Log) Notify(ctx context.Context, text string) error {
	l.logger.Log(ctx, l.level, "workflow update", "message", text)
	return nil
}

// Multi fans a notification out to every notifier. All are attempted;
// failures are joined.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, text string) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
