package capture

import (
	"fmt"
	"log/slog"

	"folio/internal/backend"
	"folio/internal/backend/picam"
	"folio/internal/backend/rpicam"
	"folio/internal/config"
	"folio/internal/services"
)

// NewBackend constructs the backend variant selected by camera.backend.
func NewBackend(cfg *config.Config, logger *slog.Logger) (backend.Backend, error) {
	switch cfg.Camera.Backend {
	case config.BackendSubprocess:
		return rpicam.New(cfg.Camera.StillBinary,
			rpicam.WithLogger(logger),
			rpicam.WithTimeouts(cfg.ListTimeout(), cfg.CaptureTimeout()),
		)
	case config.BackendPersistent:
		return picam.New(picam.NewHelperOpener(cfg.Camera.HelperBinary, logger),
			picam.WithLogger(logger),
			picam.WithListTimeout(cfg.ListTimeout()),
		)
	default:
		return nil, services.Wrap(services.ErrValidation, "capture", "select backend",
			fmt.Sprintf("unknown backend %q", cfg.Camera.Backend), nil)
	}
}

// BackendName is the provenance name of the backend selected by kind.
func BackendName(kind string) string {
	switch kind {
	case config.BackendPersistent:
		return picam.Name
	case config.BackendSubprocess:
		return rpicam.Name
	default:
		return kind
	}
}
