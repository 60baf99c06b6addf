package logging

import (
	"context"
	"log/slog"

	"folio/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldCaptureID is the key for the capture record identifier.
	FieldCaptureID = "capture_id"
	// FieldCameraIndex is the key for the camera index a record concerns.
	FieldCameraIndex = "camera_index"
	// FieldHardwareID is the key for a camera's stable hardware identity.
	FieldHardwareID = "hardware_id"
	// FieldProject is the key for the project name.
	FieldProject = "project"
	// FieldState is the key for orchestrator state names.
	FieldState = "state"
	// FieldCorrelationID is the key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType classifies warnings and errors for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint is the operator's next step for a warning or error.
	FieldErrorHint = "error_hint"
	// FieldImpact is the user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldErrorKind is the snake_case error taxonomy name (see services.Kind).
	FieldErrorKind = "error_kind"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if id, ok := services.CaptureIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCaptureID, id))
	}
	if project, ok := services.ProjectFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldProject, project))
	}
	if index, ok := services.CameraIndexFromContext(ctx); ok {
		fields = append(fields, slog.Int(FieldCameraIndex, index))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
