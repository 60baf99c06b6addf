package manifest

import (
	"fmt"
	"path/filepath"
	"strings"

	"folio/internal/camera"
	"folio/internal/fileutil"
)

// NewFileEntry hashes path and describes it relative to projectRoot. A path
// outside the project cannot be recorded.
func NewFileEntry(projectRoot, path, role string, enc camera.Encoding) (FileEntry, error) {
	rel, err := relativeTo(projectRoot, path)
	if err != nil {
		return FileEntry{}, err
	}
	digest, err := fileutil.HashFile(path)
	if err != nil {
		return FileEntry{}, fmt.Errorf("describe %s: %w", path, err)
	}
	mime := enc.MIMEType()
	if strings.EqualFold(filepath.Ext(path), ".dng") {
		mime = "image/x-adobe-dng"
	}
	return FileEntry{
		Role:         role,
		RelativePath: rel,
		Bytes:        digest.Bytes,
		MIMEType:     mime,
		SHA256:       digest.SHA256,
	}, nil
}

func relativeTo(root, path string) (string, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", fmt.Errorf("describe %s: %w", path, err)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("describe %s: outside project %s", path, root)
	}
	return filepath.ToSlash(rel), nil
}
