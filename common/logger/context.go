package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Fields flow through context enrichment, so deliberation code never threads run or
// persona identifiers into individual log statements by hand.
type LogFields struct {
	RunID       *int64  // Run record ID
	Session     *string // Artifact session name (e.g. "run_00042")
	Fingerprint *string // Run input fingerprint (cache key)
	PersonaID   *string // Persona currently speaking
	Round       *int    // Deliberation round index
	MessageID   *string // Redis stream message ID
	Component   string  // Component name (e.g. "panel.meeting.orchestrator")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
// Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, next LogFields) LogFields {
	result := existing

	if next.RunID != nil {
		result.RunID = next.RunID
	}
	if next.Session != nil {
		result.Session = next.Session
	}
	if next.Fingerprint != nil {
		result.Fingerprint = next.Fingerprint
	}
	if next.PersonaID != nil {
		result.PersonaID = next.PersonaID
	}
	if next.Round != nil {
		result.Round = next.Round
	}
	if next.MessageID != nil {
		result.MessageID = next.MessageID
	}
	if next.Component != "" {
		result.Component = next.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{RunID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if truncated.
// Useful for logging potentially long strings like agendas or completions.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
