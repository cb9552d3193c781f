// Package observability provides logging, metrics, and tracing.
package observability

import (
	"context"
	"log/slog"
	"os"

	"github.com/google/uuid"
)

// Logger wraps slog.Logger for packages below the HTTP layer.
type Logger struct {
	*slog.Logger
}

// GlobalLogger is the default logger instance for the application.
var GlobalLogger *Logger

func init() {
	level := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	GlobalLogger = &Logger{Logger: slog.New(handler)}
}

// LogContextKey is a type for context keys used by the logging package.
type LogContextKey string

// Context keys for logging
const (
	CorrelationID LogContextKey = "correlation_id"
	AccountKey    LogContextKey = "account"
)

// GenerateCorrelationID returns a fresh id tying together the records of one
// transformation.
func GenerateCorrelationID() string {
	return uuid.NewString()
}

// WithCorrelationID returns a new context with the given correlation ID.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationID, id)
}

// ExtractCorrelationID retrieves the correlation ID from the context.
func ExtractCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationID).(string); ok {
		return id
	}
	return ""
}

// WithAccount returns a new context carrying the account address for logs.
func WithAccount(ctx context.Context, address string) context.Context {
	return context.WithValue(ctx, AccountKey, address)
}

// ExtractAccount retrieves the account address from the context.
func ExtractAccount(ctx context.Context) string {
	if a, ok := ctx.Value(AccountKey).(string); ok {
		return a
	}
	return ""
}

// RepoLogger records row level changes of one table at debug level.
type RepoLogger struct {
	table  string
	logger *Logger
}

// NewRepoLogger creates a new RepoLogger for the given table.
func NewRepoLogger(table string) *RepoLogger {
	return &RepoLogger{table: table, logger: GlobalLogger}
}

func (l *RepoLogger) attrs(ctx context.Context, operation string, args []any) []any {
	out := make([]any, 0, len(args)+6)
	out = append(out,
		"table", l.table,
		"operation", operation,
		"correlation_id", ExtractCorrelationID(ctx),
	)
	return append(out, args...)
}

// LogCreate logs an inserted row. args are slog key-value pairs.
func (l *RepoLogger) LogCreate(ctx context.Context, args ...any) {
	l.logger.DebugContext(ctx, "row created", l.attrs(ctx, "create", args)...)
}

// LogUpdate logs an updated row.
func (l *RepoLogger) LogUpdate(ctx context.Context, args ...any) {
	l.logger.DebugContext(ctx, "row updated", l.attrs(ctx, "update", args)...)
}

// LogDelete logs a deleted row.
func (l *RepoLogger) LogDelete(ctx context.Context, args ...any) {
	l.logger.DebugContext(ctx, "row deleted", l.attrs(ctx, "delete", args)...)
}

// LogError logs a failed statement.
func (l *RepoLogger) LogError(ctx context.Context, err error, operation string) {
	l.logger.ErrorContext(ctx, "repository error", l.attrs(ctx, operation, []any{"error", err.Error()})...)
}

// LogAfterCommitError logs a failure in work that runs once a transformation
// is already committed, such as cache invalidation or change publishing.
func LogAfterCommitError(ctx context.Context, operation string, err error, args ...any) {
	attrs := append([]any{
		"operation", operation,
		"error", err.Error(),
		"correlation_id", ExtractCorrelationID(ctx),
		"account", ExtractAccount(ctx),
	}, args...)
	GlobalLogger.WarnContext(ctx, "post-commit step failed", attrs...)
}
