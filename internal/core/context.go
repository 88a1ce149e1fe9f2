package core

import "context"

type contextKey string

const (
	ctxKeyRunID  contextKey = "extraction_run_id"
	ctxKeyFormat contextKey = "extraction_format"
)

// ContextWithRunID adds the extraction run id to context for logging.
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, ctxKeyRunID, runID)
}

// ContextWithFormat adds the extraction format code to context for logging.
func ContextWithFormat(ctx context.Context, format string) context.Context {
	return context.WithValue(ctx, ctxKeyFormat, format)
}

// RunIDFromContext extracts the extraction run id from context.
func RunIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyRunID).(string); ok {
		return v
	}
	return ""
}

// FormatFromContext extracts the extraction format code from context.
func FormatFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyFormat).(string); ok {
		return v
	}
	return ""
}
