package services

import "context"

type contextKey string

const (
	captureIDKey   contextKey = "capture_id"
	cameraIndexKey contextKey = "camera_index"
	projectKey     contextKey = "project"
	requestIDKey   contextKey = "request_id"
)

// WithCaptureID annotates context with the capture record identifier.
func WithCaptureID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, captureIDKey, id)
}

// CaptureIDFromContext extracts the capture identifier if present.
func CaptureIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(captureIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithCameraIndex annotates context with the camera a branch of work targets.
func WithCameraIndex(ctx context.Context, index int) context.Context {
	return context.WithValue(ctx, cameraIndexKey, index)
}

// CameraIndexFromContext extracts the camera index if present.
func CameraIndexFromContext(ctx context.Context) (int, bool) {
	v, ok := ctx.Value(cameraIndexKey).(int)
	return v, ok
}

// WithProject annotates context with the project name.
func WithProject(ctx context.Context, name string) context.Context {
	if name == "" {
		return ctx
	}
	return context.WithValue(ctx, projectKey, name)
}

// ProjectFromContext returns the project name if present.
func ProjectFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(projectKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
