package preflight

import (
	"context"
	"fmt"
	"path/filepath"

	"folio/internal/config"
	"folio/internal/deps"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	results = append(results, CheckDirectoryAccess("Projects root", cfg.Paths.ProjectsRoot))
	results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))
	results = append(results, CheckDirectoryAccess("Registry directory", filepath.Dir(cfg.Paths.RegistryPath)))

	for _, status := range CheckSystemDeps(ctx, cfg) {
		results = append(results, fromDependency(status))
	}
	return results
}

// Failed returns the checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}

func fromDependency(status deps.Status) Result {
	name := status.Name
	switch {
	case status.Available:
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (found)", status.Command)}
	case status.Optional:
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (optional: %s)", status.Command, status.Detail)}
	default:
		return Result{Name: name, Detail: fmt.Sprintf("%s (%s)", status.Description, status.Detail)}
	}
}
