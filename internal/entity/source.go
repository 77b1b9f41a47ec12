package entity

import "context"

// SourceSystem is recorded when no caller source is set.
const SourceSystem = "system"

type sourceKey struct{}

// WithSource tags ctx with the origin of a control action, such as "api",
// "mqtt" or "cli". The tag is written to the audit trail.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

// SourceFromContext returns the origin set by WithSource, or SourceSystem.
func SourceFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(sourceKey{}).(string); ok && s != "" {
		return s
	}
	return SourceSystem
}
