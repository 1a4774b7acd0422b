// Package hooks provides bun query hooks that log, measure and trace the
// statements run by dbcontext execution contexts.
package hooks

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/fernandezvara/dbcontext/internal/pgerr"
)

const maxQueryLen = 500

// LoggerHook implements query logging
type LoggerHook struct {
	logger        *slog.Logger
	logAll        bool
	slowThreshold time.Duration
}

// NewLoggerHook creates a new logger hook
func NewLoggerHook(logger *slog.Logger, logAll bool, slowThreshold time.Duration) *LoggerHook {
	return &LoggerHook{
		logger:        logger,
		logAll:        logAll,
		slowThreshold: slowThreshold,
	}
}

// BeforeQuery is called before a query is executed
func (h *LoggerHook) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return ctx
}

// AfterQuery is called after a query is executed
func (h *LoggerHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	duration := time.Since(event.StartTime)
	slow := h.slowThreshold > 0 && duration >= h.slowThreshold

	// Failures are always logged
	if event.Err == nil && !h.logAll && !slow {
		return
	}

	attrs := []slog.Attr{
		slog.Duration("duration", duration),
		slog.String("operation", OperationType(event.Query)),
	}

	if h.logAll || slow {
		attrs = append(attrs, slog.String("query", truncate(event.Query)))
	}

	switch {
	case event.Err != nil:
		attrs = append(attrs, slog.String("error", event.Err.Error()))
		if code := pgerr.Code(event.Err); code != "" {
			attrs = append(attrs, slog.String("sqlstate", code))
		}
		h.logger.LogAttrs(ctx, slog.LevelError, "database query failed", attrs...)
	case slow:
		h.logger.LogAttrs(ctx, slog.LevelWarn, "slow database query", attrs...)
	default:
		h.logger.LogAttrs(ctx, slog.LevelDebug, "database query", attrs...)
	}
}

func truncate(query string) string {
	if len(query) > maxQueryLen {
		return query[:maxQueryLen] + "..."
	}
	return query
}

// OperationType extracts the operation type from a query
func OperationType(query string) string {
	query = strings.TrimSpace(strings.ToUpper(query))
	switch {
	case strings.HasPrefix(query, "SELECT"):
		return "select"
	case strings.HasPrefix(query, "INSERT"):
		return "insert"
	case strings.HasPrefix(query, "UPDATE"):
		return "update"
	case strings.HasPrefix(query, "DELETE"):
		return "delete"
	case strings.HasPrefix(query, "CALL"):
		return "call"
	case strings.HasPrefix(query, "WITH"):
		return "with"
	case strings.HasPrefix(query, "CREATE"):
		return "create"
	case strings.HasPrefix(query, "DROP"):
		return "drop"
	case strings.HasPrefix(query, "ALTER"):
		return "alter"
	case strings.HasPrefix(query, "TRUNCATE"):
		return "truncate"
	case strings.HasPrefix(query, "BEGIN"):
		return "begin"
	case strings.HasPrefix(query, "COMMIT"):
		return "commit"
	case strings.HasPrefix(query, "ROLLBACK"):
		return "rollback"
	default:
		return "other"
	}
}
