package manifest

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"folio/internal/logging"
	"folio/internal/services"
)

// Path returns the manifest file for kind under projectRoot.
func Path(projectRoot string, kind Kind) (string, error) {
	switch kind {
	case KindCapture:
		return filepath.Join(projectRoot, MetadataDir, CaptureManifestName), nil
	case KindProject:
		return filepath.Join(projectRoot, MetadataDir, ProjectManifestName), nil
	default:
		return "", fmt.Errorf("unknown manifest kind %q", kind)
	}
}

// Logger is the only writer of manifest files. Appends from one process are
// serialized; each append is a single O_APPEND write.
type Logger struct {
	mu     sync.Mutex
	logger *slog.Logger
}

// NewLogger returns a manifest writer.
func NewLogger(logger *slog.Logger) *Logger {
	return &Logger{logger: logging.NewComponentLogger(logger, "manifest")}
}

// AppendCapture appends a capture record.
func (l *Logger) AppendCapture(projectRoot string, record CaptureRecord) error {
	if record.Warnings == nil {
		record.Warnings = []string{}
	}
	if err := l.Append(projectRoot, KindCapture, record); err != nil {
		return err
	}
	l.logger.Info("capture recorded",
		logging.String(logging.FieldCaptureID, record.CaptureID),
		logging.String(logging.FieldProject, record.ProjectName),
		logging.String("status", string(record.Status)),
		logging.Int("files", len(record.Files)),
	)
	return nil
}

// AppendProject appends a project initialization record.
func (l *Logger) AppendProject(projectRoot string, info ProjectInfo) error {
	if err := l.Append(projectRoot, KindProject, info); err != nil {
		return err
	}
	l.logger.Info("project recorded",
		logging.String(logging.FieldProject, info.ProjectName),
		logging.String("project_id", info.ProjectID),
	)
	return nil
}

// Append serializes record as one JSON line and writes it to the kind's
// manifest, syncing to disk before returning.
func (l *Logger) Append(projectRoot string, kind Kind, record any) error {
	path, err := Path(projectRoot, kind)
	if err != nil {
		return services.Wrap(services.ErrValidation, "manifest", "append", "", err)
	}
	line, err := json.Marshal(record)
	if err != nil {
		return services.Wrap(services.ErrManifestWrite, "manifest", "append", "encode record", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return services.Wrap(services.ErrManifestWrite, "manifest", "append", "create metadata directory", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return services.Wrap(services.ErrManifestWrite, "manifest", "append", "open "+path, err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return services.Wrap(services.ErrManifestWrite, "manifest", "append", "write "+path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return services.Wrap(services.ErrManifestWrite, "manifest", "append", "sync "+path, err)
	}
	if err := f.Close(); err != nil {
		return services.Wrap(services.ErrManifestWrite, "manifest", "append", "close "+path, err)
	}
	return nil
}

// ReadCaptures decodes every capture record in order. A missing manifest
// yields no records.
func ReadCaptures(projectRoot string) ([]CaptureRecord, error) {
	return readLines[CaptureRecord](projectRoot, KindCapture)
}

// ReadProjects decodes every project record in order.
func ReadProjects(projectRoot string) ([]ProjectInfo, error) {
	return readLines[ProjectInfo](projectRoot, KindProject)
}

// LatestProject returns the most recent project record.
func LatestProject(projectRoot string) (ProjectInfo, bool, error) {
	infos, err := ReadProjects(projectRoot)
	if err != nil || len(infos) == 0 {
		return ProjectInfo{}, false, err
	}
	return infos[len(infos)-1], true, nil
}

func readLines[T any](projectRoot string, kind Kind) ([]T, error) {
	path, err := Path(projectRoot, kind)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	var out []T
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}
		var record T
		if err := json.Unmarshal(data, &record); err != nil {
			return out, fmt.Errorf("%s line %d: %w", filepath.Base(path), lineNo, err)
		}
		out = append(out, record)
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("read manifest: %w", err)
	}
	return out, nil
}
