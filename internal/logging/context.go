package logging

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields are structured fields attached to every record logged with a
// context that carries them.
type LogFields struct {
	ScopeID    *int64  // conversation scope
	ResourceID *string // media resource
	Component  string  // e.g. "histkeep.gap"
}

// WithLogFields enriches ctx with fields. Newer non-empty values win.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	merged := mergeFields(GetLogFields(ctx), fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields returns the fields carried by ctx.
func GetLogFields(ctx context.Context) LogFields {
	if ctx == nil {
		return LogFields{}
	}
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, next LogFields) LogFields {
	result := existing
	if next.ScopeID != nil {
		result.ScopeID = next.ScopeID
	}
	if next.ResourceID != nil {
		result.ResourceID = next.ResourceID
	}
	if next.Component != "" {
		result.Component = next.Component
	}
	return result
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
