package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity
	FieldBuilderID  = "builder_id"
	FieldReportID   = "report_id"
	FieldEntityID   = "entity_id"
	FieldEntityType = "entity_type"
	FieldSymbolicID = "symbolic_id"
	FieldSource     = "entity_source"
	FieldConnection = "connection"

	// Components
	FieldComponent = "component"

	// Operations
	FieldOperation = "operation"
	FieldMode      = "mode"
	FieldEngine    = "engine"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError    = "error"
	FieldCategory = "category"

	// Counts
	FieldCount      = "count"
	FieldAdded      = "added"
	FieldRemoved    = "removed"
	FieldReplaced   = "replaced"
	FieldTotalCount = "total_count"

	// Files
	FieldFile = "file"
)

// Context keys for propagating logging context
type contextKey string

const (
	builderIDKey contextKey = "logger_builder_id"
	operationKey contextKey = "logger_operation"
	componentKey contextKey = "logger_component"
)

// WithBuilderID adds a builder ID to the context for logging
func WithBuilderID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, builderIDKey, id)
}

// WithOperation adds an operation name to the context for logging
func WithOperation(ctx context.Context, op string) context.Context {
	return context.WithValue(ctx, operationKey, op)
}

// WithComponent adds a component name to the context for logging
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if id, ok := ctx.Value(builderIDKey).(string); ok && id != "" {
		fields = append(fields, FieldBuilderID, id)
	}
	if op, ok := ctx.Value(operationKey).(string); ok && op != "" {
		fields = append(fields, FieldOperation, op)
	}
	if component, ok := ctx.Value(componentKey).(string); ok && component != "" {
		fields = append(fields, FieldComponent, component)
	}

	return fields
}

// LoggerFromContext returns a logger with fields extracted from context.
func LoggerFromContext(ctx context.Context) *zap.SugaredLogger {
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return Logger
	}
	return Logger.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	type Builder struct {
//	    log *zap.SugaredLogger
//	}
//
//	func NewBuilder() *Builder {
//	    return &Builder{log: logger.ComponentLogger("storage")}
//	}
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

// ChildLogger creates a child logger with additional context.
//
// Example:
//
//	rbsLog := logger.ChildLogger(b.log, logger.FieldEngine, "graph")
func ChildLogger(parent *zap.SugaredLogger, keysAndValues ...interface{}) *zap.SugaredLogger {
	return parent.With(keysAndValues...)
}
