package capture

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"folio/internal/backend"
	"folio/internal/manifest"
	"folio/internal/services"
)

// CameraDual selects a dual capture in Request.Camera.
const CameraDual = "dual"

// Request is the capture request accepted from API callers.
type Request struct {
	Project string `json:"project"`
	// Camera is a camera index ("0", "1", ...) or "dual".
	Camera            string `json:"camera"`
	Resolution        string `json:"resolution,omitempty"`
	IncludeResolution bool   `json:"include_resolution,omitempty"`
	Filename          string `json:"filename,omitempty"`
	Sequence          string `json:"sequence,omitempty"`
}

// Response is the outcome returned to API callers. Success is true only
// when every camera captured and the record was written. Metadata is keyed
// by file role.
type Response struct {
	Success   bool                         `json:"success"`
	CaptureID string                       `json:"capture_id,omitempty"`
	Status    manifest.Status              `json:"status,omitempty"`
	Paths     []string                     `json:"paths"`
	Timing    manifest.Timing              `json:"timing"`
	Metadata  map[string]*backend.Metadata `json:"metadata,omitempty"`
	Warnings  []string                     `json:"warnings,omitempty"`
	Error     string                       `json:"error,omitempty"`
	ErrorKind string                       `json:"error_kind,omitempty"`
}

// Handle runs req and converts the outcome to a Response. It never returns
// an error; failures are described in the response.
func (o *Orchestrator) Handle(ctx context.Context, req Request) Response {
	result, err := o.dispatch(ctx, req)
	return NewResponse(result, err)
}

func (o *Orchestrator) dispatch(ctx context.Context, req Request) (*Result, error) {
	target := strings.ToLower(strings.TrimSpace(req.Camera))
	if target == CameraDual {
		if strings.TrimSpace(req.Filename) != "" {
			return nil, services.Wrap(services.ErrValidation, "capture", "request", "filename",
				errors.New("a custom filename cannot be used for dual capture"))
		}
		return o.CaptureDual(ctx, DualRequest{
			Project:           req.Project,
			Left:              o.cfg.Camera.LeftIndex,
			Right:             o.cfg.Camera.RightIndex,
			Resolution:        req.Resolution,
			IncludeResolution: req.IncludeResolution,
			Sequence:          req.Sequence,
		})
	}
	index, err := strconv.Atoi(target)
	if err != nil || index < 0 {
		return nil, services.Wrap(services.ErrValidation, "capture", "request", fmt.Sprintf("camera %q", req.Camera),
			errors.New(`camera must be an index or "dual"`))
	}
	return o.CaptureSingle(ctx, SingleRequest{
		Project:           req.Project,
		Camera:            index,
		Resolution:        req.Resolution,
		IncludeResolution: req.IncludeResolution,
		Filename:          req.Filename,
		Sequence:          req.Sequence,
	})
}

// NewResponse converts a capture outcome to its API shape.
func NewResponse(result *Result, err error) Response {
	resp := Response{Paths: []string{}}
	if result != nil {
		resp.CaptureID = result.CaptureID
		resp.Status = result.Status
		resp.Paths = append(resp.Paths, result.Paths()...)
		resp.Timing = result.Record.Timing
		resp.Warnings = result.Warnings
		for _, shot := range result.Shots {
			if shot.Metadata == nil {
				continue
			}
			if resp.Metadata == nil {
				resp.Metadata = make(map[string]*backend.Metadata)
			}
			resp.Metadata[shot.Role] = shot.Metadata
		}
	}
	if err != nil {
		resp.Error = err.Error()
		resp.ErrorKind = services.Kind(err)
		return resp
	}
	resp.Success = result != nil && result.Status == manifest.StatusSuccess
	if result != nil && result.Status == manifest.StatusPartial {
		resp.Error = result.Record.Error
		resp.ErrorKind = services.Kind(shotErrors(result.Shots))
	}
	return resp
}
