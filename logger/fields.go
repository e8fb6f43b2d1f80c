package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across bfhtw.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldPipeline    = "pipeline"
	FieldExecutionID = "execution_id"
	FieldItemKey     = "item"
	FieldSource      = "source"
	FieldTable       = "table"

	// Components
	FieldComponent = "component"
	FieldKind      = "kind"

	// Operations
	FieldOperation = "operation"
	FieldTrigger   = "trigger"
	FieldURL       = "url"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldStartTime  = "start_time"
	FieldNextRun    = "next_run"

	// Errors
	FieldError     = "error"
	FieldErrorType = "error_type"

	// Counts and sizes
	FieldCount     = "count"
	FieldBatch     = "batch"
	FieldBatchSize = "batch_size"
	FieldProcessed = "processed"
	FieldFailed    = "failed"
	FieldTotal     = "total"

	// Status
	FieldStatus = "status"
	FieldScore  = "score"

	// Files
	FieldPath = "path"
)

type contextKey string

const (
	pipelineKey    contextKey = "logger_pipeline"
	executionIDKey contextKey = "logger_execution_id"
)

// WithPipeline adds a pipeline name to the context for logging
func WithPipeline(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, pipelineKey, name)
}

// WithExecutionID adds an execution ID to the context for logging
func WithExecutionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, executionIDKey, id)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}
	if name, ok := ctx.Value(pipelineKey).(string); ok && name != "" {
		fields = append(fields, FieldPipeline, name)
	}
	if id, ok := ctx.Value(executionIDKey).(string); ok && id != "" {
		fields = append(fields, FieldExecutionID, id)
	}
	return fields
}

// LoggerFromContext returns base enriched with pipeline and execution
// fields from ctx. A nil base falls back to the global Logger.
func LoggerFromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
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
//	m.logger = logger.ComponentLogger("pulse.manager")
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
