package logging

import (
	"context"
	"fmt"
	"regexp"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}
	if sweepID := SweepIDFromContext(ctx); sweepID != "" {
		fields = append(fields, zap.String("sweep.id", sweepID))
	}
	if path := FilePathFromContext(ctx); path != "" {
		fields = append(fields, zap.String("file.path", path))
	}

	return fields
}

type requestCtxKey struct{}
type sweepCtxKey struct{}
type fileCtxKey struct{}

const maxIDLen = 128

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func validateID(id, name string) error {
	if id == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%s contains invalid UTF-8", name)
	}
	if len(id) > maxIDLen {
		return fmt.Errorf("%s exceeds max length %d", name, maxIDLen)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters (must be alphanumeric, hyphen, underscore)", name)
	}
	return nil
}

// ValidID reports whether id can be stored with WithRequestID or WithSweepID
// without panicking.
func ValidID(id string) bool {
	return validateID(id, "id") == nil
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// WithRequestID adds a request ID to context.
// Panics if requestID is empty or contains invalid characters.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if err := validateID(requestID, "requestID"); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// SweepIDFromContext extracts the poller sweep ID from context.
func SweepIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(sweepCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithSweepID tags context with the poller sweep it belongs to.
// Panics if sweepID is empty or contains invalid characters.
func WithSweepID(ctx context.Context, sweepID string) context.Context {
	if err := validateID(sweepID, "sweepID"); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, sweepCtxKey{}, sweepID)
}

// FilePathFromContext extracts the file being processed from context.
func FilePathFromContext(ctx context.Context) string {
	if p, ok := ctx.Value(fileCtxKey{}).(string); ok {
		return p
	}
	return ""
}

// WithFilePath tags context with the file being processed. Empty paths are ignored.
func WithFilePath(ctx context.Context, path string) context.Context {
	if path == "" {
		return ctx
	}
	return context.WithValue(ctx, fileCtxKey{}, path)
}
