// Package logging defines the context-aware structured logger used across
// relayfeed and a log/slog implementation of it.
package logging

import "context"

// Logger takes variadic key/value pairs after the message:
//
//	log.Info(ctx, "poll applied", "feed", feedID, "entries", n)
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that always includes the given pairs.
	With(args ...any) Logger
}
