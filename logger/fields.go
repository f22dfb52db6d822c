package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldRunID   = "run_id"
	FieldStep    = "step"
	FieldAttempt = "attempt"
	FieldTrigger = "trigger"

	// Components
	FieldComponent = "component"
	FieldWorkerID  = "worker_id"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldDelay      = "delay"

	// Errors
	FieldError     = "error"
	FieldErrorKind = "error_kind"

	// Status
	FieldStatus = "status"
	FieldState  = "state"
	FieldBranch = "branch"

	// Files and destinations
	FieldPath      = "path"
	FieldTable     = "table"
	FieldDriver    = "driver"
	FieldRecipient = "recipient"
	FieldSubject   = "subject"

	// Run-history schema
	FieldMigration     = "migration"
	FieldSchemaVersion = "schema_version"
)

// Context keys for propagating logging context
type contextKey string

const (
	runIDKey     contextKey = "logger_run_id"
	componentKey contextKey = "logger_component"
)

// WithRunID adds a run ID to the context for logging
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// WithComponent adds a component name to the context for logging
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if runID, ok := ctx.Value(runIDKey).(string); ok && runID != "" {
		fields = append(fields, FieldRunID, runID)
	}
	if component, ok := ctx.Value(componentKey).(string); ok && component != "" {
		fields = append(fields, FieldComponent, component)
	}

	return fields
}

// LoggerFromContext returns a logger with fields extracted from context.
func LoggerFromContext(base *zap.SugaredLogger, ctx context.Context) *zap.SugaredLogger {
	if base == nil {
		base = Logger
	}
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	type Coordinator struct {
//	    logger *zap.SugaredLogger
//	}
//
//	func New() *Coordinator {
//	    return &Coordinator{
//	        logger: logger.ComponentLogger("pulse.coordinator"),
//	    }
//	}
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

// ChildLogger creates a child logger with additional context.
//
// Example:
//
//	runLogger := logger.ChildLogger(baseLogger, logger.FieldRunID, run.ID)
func ChildLogger(parent *zap.SugaredLogger, keysAndValues ...interface{}) *zap.SugaredLogger {
	return parent.With(keysAndValues...)
}
