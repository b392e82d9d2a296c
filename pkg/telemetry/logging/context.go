package logging

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// Context keys for common log fields.
type contextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey contextKey = "request_id"

	// SubjectKey is the context key for subject identifiers.
	SubjectKey contextKey = "subject_id"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithSubject adds a subject identifier to the context.
func WithSubject(ctx context.Context, subjectID string) context.Context {
	return context.WithValue(ctx, SubjectKey, subjectID)
}

// GetSubject retrieves the subject identifier from the context.
func GetSubject(ctx context.Context) string {
	if subjectID, ok := ctx.Value(SubjectKey).(string); ok {
		return subjectID
	}
	return ""
}

// contextAttrs extracts common fields from context for logging.
func contextAttrs(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}

	var attrs []slog.Attr
	if requestID := GetRequestID(ctx); requestID != "" {
		attrs = append(attrs, slog.String("request_id", requestID))
	}
	if subjectID := GetSubject(ctx); subjectID != "" {
		attrs = append(attrs, slog.String("subject_id", subjectID))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		attrs = append(attrs, slog.String("trace_id", sc.TraceID().String()))
	}
	return attrs
}
