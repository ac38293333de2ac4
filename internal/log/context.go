package log

import "context"

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

const (
	// TraceIDKey is the context key for trace IDs.
	TraceIDKey ContextKey = "trace_id"
	// FieldsKey is the context key for additional log fields.
	FieldsKey ContextKey = "log_fields"
)

// Fields is a collection of structured log fields carried in a context.
type Fields map[string]any

// WithFields adds or updates log fields in the context. Existing fields are
// kept, with new fields overwriting on key collision.
func WithFields(ctx context.Context, fields Fields) context.Context {
	merged := make(Fields)
	for k, v := range GetFields(ctx) {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return context.WithValue(ctx, FieldsKey, merged)
}

// GetFields retrieves log fields from the context, or an empty Fields.
func GetFields(ctx context.Context) Fields {
	if fields, ok := ctx.Value(FieldsKey).(Fields); ok {
		return fields
	}
	return make(Fields)
}

// WithTraceID stores a trace ID in the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// TraceID returns the trace ID stored in the context, if any.
func TraceID(ctx context.Context) string {
	if id, ok := ctx.Value(TraceIDKey).(string); ok {
		return id
	}
	return ""
}
