package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"folio/internal/manifest"
	"folio/internal/services"
)

// Layout is the directory structure of one project.
type Layout struct {
	Name        string
	Root        string
	ImagesMain  string
	ImagesTemp  string
	ImagesTrash string
	Packages    string
	Metadata    string
}

// Resolve validates name and returns its layout under projectsRoot without
// touching the filesystem.
func Resolve(projectsRoot, name string) (Layout, error) {
	name = strings.TrimSpace(name)
	if err := ValidateName(name); err != nil {
		return Layout{}, err
	}
	root := filepath.Join(projectsRoot, name)
	return Layout{
		Name:        name,
		Root:        root,
		ImagesMain:  filepath.Join(root, "images", "main"),
		ImagesTemp:  filepath.Join(root, "images", "temp"),
		ImagesTrash: filepath.Join(root, "images", "trash"),
		Packages:    filepath.Join(root, "packages"),
		Metadata:    filepath.Join(root, manifest.MetadataDir),
	}, nil
}

// ValidateName rejects names that are empty or would escape the projects root.
func ValidateName(name string) error {
	var reason string
	switch {
	case name == "":
		reason = "project name is required"
	case name == "." || name == "..":
		reason = "project name cannot be . or .."
	case strings.ContainsAny(name, `/\`):
		reason = "project name cannot contain path separators"
	case strings.ContainsRune(name, 0):
		reason = "project name cannot contain NUL"
	case strings.HasPrefix(name, "."):
		reason = "project name cannot start with a dot"
	}
	if reason == "" {
		return nil
	}
	return services.Wrap(services.ErrValidation, "project", "validate name", fmt.Sprintf("%q", name), errors.New(reason))
}

// Dirs lists every directory created at initialization.
func (l Layout) Dirs() []string {
	return []string{l.ImagesMain, l.ImagesTemp, l.ImagesTrash, l.Packages, l.Metadata}
}

// Paths converts the layout to its manifest representation.
func (l Layout) Paths() manifest.ProjectPaths {
	return manifest.ProjectPaths{
		ProjectRoot: l.Root,
		ImagesMain:  l.ImagesMain,
		ImagesTemp:  l.ImagesTemp,
		ImagesTrash: l.ImagesTrash,
		Packages:    l.Packages,
		Metadata:    l.Metadata,
	}
}

// Initialized reports whether the project has a project manifest.
func (l Layout) Initialized() bool {
	path, err := manifest.Path(l.Root, manifest.KindProject)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}

// Ensure creates any missing project directories.
func (l Layout) Ensure() error {
	for _, dir := range l.Dirs() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
