package audit

import (
	"context"
	"log/slog"
	"time"
)

// Entry describes one state-changing request
type Entry struct {
	Actor      string
	Action     string
	Path       string
	StatusCode int
	RequestID  string
	Details    string
}

// Outcome classifies a response status for audit records
func (e Entry) Outcome() string {
	switch {
	case e.StatusCode >= 500:
		return "error"
	case e.StatusCode == 401 || e.StatusCode == 403:
		return "denied"
	case e.StatusCode >= 400:
		return "rejected"
	default:
		return "success"
	}
}

type Logger struct {
	logger *slog.Logger
}

func NewLogger(logger *slog.Logger) *Logger {
	return &Logger{logger: logger.With(slog.String("log_type", "audit"))}
}

func (al *Logger) LogAction(ctx context.Context, e Entry) {
	attrs := []slog.Attr{
		slog.String("actor", e.Actor),
		slog.String("action", e.Action),
		slog.String("path", e.Path),
		slog.Int("status_code", e.StatusCode),
		slog.String("outcome", e.Outcome()),
		slog.String("request_id", e.RequestID),
		slog.Time("timestamp", time.Now().UTC()),
	}
	if e.Details != "" {
		attrs = append(attrs, slog.String("details", e.Details))
	}
	al.logger.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
}

// LogDenied records a refused login or credential check
func (al *Logger) LogDenied(ctx context.Context, actor, action, requestID, reason string) {
	al.LogAction(ctx, Entry{
		Actor:      actor,
		Action:     action,
		StatusCode: 401,
		RequestID:  requestID,
		Details:    reason,
	})
}
