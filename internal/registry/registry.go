package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"folio/internal/backend"
	"folio/internal/calibration"
	"folio/internal/fileutil"
	"folio/internal/logging"
	"folio/internal/services"
)

// DocumentVersion is written to every registry file.
const DocumentVersion = "1.0"

const lockRetryDelay = 50 * time.Millisecond

// Entry is the registry record for one physical camera.
type Entry struct {
	HardwareID        string               `json:"hardware_id"`
	Model             string               `json:"model"`
	Serial            string               `json:"serial,omitempty"`
	Location          string               `json:"location"`
	ID                string               `json:"id,omitempty"`
	MachineID         string               `json:"machine_id"`
	Label             string               `json:"label"`
	LastSeenIndex     int                  `json:"last_seen_index"`
	FirstRegisteredAt time.Time            `json:"first_registered_at"`
	LastSeenAt        time.Time            `json:"last_seen_at"`
	CalibratedAt      *time.Time           `json:"calibrated_at,omitempty"`
	Calibration       *calibration.Profile `json:"calibration"`
}

// Detected is one enumerated camera with its derived identity.
type Detected struct {
	HardwareID string       `json:"hardware_id"`
	Info       backend.Info `json:"info"`
}

type document struct {
	Version string           `json:"version"`
	Cameras map[string]Entry `json:"cameras"`
}

// Lister enumerates attached cameras. Every backend satisfies it.
type Lister interface {
	ListCameras(ctx context.Context) ([]backend.Info, error)
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the component logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logging.NewComponentLogger(logger, "registry")
	}
}

// WithClock replaces the time source (primarily for tests).
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// Registry is the persistent hardware identity store.
type Registry struct {
	path   string
	lister Lister
	logger *slog.Logger
	now    func() time.Time
	lock   *flock.Flock
	mu     sync.Mutex
}

// New returns a registry stored at path, enumerating cameras through lister.
func New(path string, lister Lister, opts ...Option) (*Registry, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("registry path required")
	}
	r := &Registry{
		path:   path,
		lister: lister,
		logger: logging.NewComponentLogger(nil, "registry"),
		now:    time.Now,
		lock:   flock.New(path + ".lock"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Path returns the registry file path.
func (r *Registry) Path() string {
	return r.path
}

// DetectCameras enumerates attached cameras keyed by index. Cameras without a
// derivable identity are logged and skipped.
func (r *Registry) DetectCameras(ctx context.Context) (map[int]Detected, error) {
	if r.lister == nil {
		return nil, services.Wrap(services.ErrConnectivity, "registry", "detect", "", errors.New("no camera lister configured"))
	}
	infos, err := r.lister.ListCameras(ctx)
	if err != nil {
		if errors.Is(err, services.ErrConnectivity) {
			return nil, err
		}
		return nil, services.Wrap(services.ErrConnectivity, "registry", "detect", "", err)
	}
	detected := make(map[int]Detected, len(infos))
	for _, info := range infos {
		id, err := HardwareID(info)
		if err != nil {
			logging.WarnWithContext(r.logger, "camera skipped", "camera_unidentifiable",
				logging.CameraIndex(info.Index),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the camera driver reports an id path"),
				logging.String(logging.FieldImpact, "camera cannot be registered or calibrated"),
			)
			continue
		}
		detected[info.Index] = Detected{HardwareID: id, Info: info}
	}
	return detected, nil
}

// CurrentMapping returns index -> hardware id for attached cameras.
func (r *Registry) CurrentMapping(ctx context.Context) (map[int]string, error) {
	detected, err := r.DetectCameras(ctx)
	if err != nil {
		return nil, err
	}
	mapping := make(map[int]string, len(detected))
	for index, d := range detected {
		mapping[index] = d.HardwareID
	}
	return mapping, nil
}

// RegisterCamera records the camera currently at index. A known identity only
// has its last_seen fields refreshed; its calibration, labels, and first
// registration time are kept and profile is ignored. With force the entry is
// replaced by a fresh one carrying profile.
func (r *Registry) RegisterCamera(ctx context.Context, index int, profile *calibration.Profile, force bool) (string, error) {
	detected, err := r.DetectCameras(ctx)
	if err != nil {
		return "", err
	}
	d, ok := detected[index]
	if !ok {
		return "", services.Wrap(services.ErrConnectivity, "registry", "register",
			fmt.Sprintf("camera %d", index), errors.New("not detected"))
	}
	err = r.mutate(ctx, func(doc *document) error {
		r.upsert(doc, d, profile, force)
		return nil
	})
	if err != nil {
		return "", err
	}
	return d.HardwareID, nil
}

// RegisterDetected records every attached camera in one registry write and
// returns index -> hardware id.
func (r *Registry) RegisterDetected(ctx context.Context) (map[int]string, error) {
	detected, err := r.DetectCameras(ctx)
	if err != nil {
		return nil, err
	}
	mapping := make(map[int]string, len(detected))
	if len(detected) == 0 {
		return mapping, nil
	}
	err = r.mutate(ctx, func(doc *document) error {
		for index, d := range detected {
			r.upsert(doc, d, nil, false)
			mapping[index] = d.HardwareID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mapping, nil
}

func (r *Registry) upsert(doc *document, d Detected, profile *calibration.Profile, force bool) {
	now := r.now().UTC()
	logger := r.logger.With(logging.String(logging.FieldHardwareID, d.HardwareID), logging.CameraIndex(d.Info.Index))
	if entry, ok := doc.Cameras[d.HardwareID]; ok && !force {
		if entry.LastSeenIndex != d.Info.Index {
			logger.Info("camera moved", logging.Int("previous_index", entry.LastSeenIndex))
		}
		entry.LastSeenIndex = d.Info.Index
		entry.LastSeenAt = now
		doc.Cameras[d.HardwareID] = entry
		return
	}
	entry := Entry{
		HardwareID:        d.HardwareID,
		Model:             d.Info.Model,
		Serial:            d.Info.Serial,
		Location:          d.Info.Location,
		ID:                d.Info.ID,
		LastSeenIndex:     d.Info.Index,
		FirstRegisteredAt: now,
		LastSeenAt:        now,
		Calibration:       profile.Clone(),
	}
	if profile != nil {
		entry.CalibratedAt = &now
	}
	doc.Cameras[d.HardwareID] = entry
	logger.Info("camera registered", logging.String("model", d.Info.Model), logging.Bool("forced", force))
}

// GetByHardwareID returns the entry for id.
func (r *Registry) GetByHardwareID(ctx context.Context, id string) (Entry, bool, error) {
	doc, err := r.read(ctx)
	if err != nil {
		return Entry{}, false, err
	}
	entry, ok := doc.Cameras[strings.TrimSpace(id)]
	return entry, ok, nil
}

// GetByIndex resolves the camera currently at index and returns its entry.
// The hardware id is returned even when the camera is not yet registered.
func (r *Registry) GetByIndex(ctx context.Context, index int) (string, Entry, bool, error) {
	detected, err := r.DetectCameras(ctx)
	if err != nil {
		return "", Entry{}, false, err
	}
	d, ok := detected[index]
	if !ok {
		return "", Entry{}, false, nil
	}
	entry, found, err := r.GetByHardwareID(ctx, d.HardwareID)
	return d.HardwareID, entry, found, err
}

// UpdateCalibration replaces the calibration profile for id and stamps
// calibrated_at.
func (r *Registry) UpdateCalibration(ctx context.Context, id string, profile *calibration.Profile) error {
	return r.mutate(ctx, func(doc *document) error {
		entry, ok := doc.Cameras[id]
		if !ok {
			return services.Wrap(services.ErrNotFound, "registry", "update calibration", id, errors.New("camera not registered"))
		}
		now := r.now().UTC()
		entry.Calibration = profile.Clone()
		entry.CalibratedAt = &now
		doc.Cameras[id] = entry
		r.logger.Info("calibration stored", logging.String(logging.FieldHardwareID, id), logging.Bool("focus_usable", profile.FocusUsable()))
		return nil
	})
}

// SetLabel assigns user identification. Nil arguments leave the field unchanged.
func (r *Registry) SetLabel(ctx context.Context, id string, machineID, label *string) error {
	return r.mutate(ctx, func(doc *document) error {
		entry, ok := doc.Cameras[id]
		if !ok {
			return services.Wrap(services.ErrNotFound, "registry", "set label", id, errors.New("camera not registered"))
		}
		if machineID != nil {
			entry.MachineID = strings.TrimSpace(*machineID)
		}
		if label != nil {
			entry.Label = strings.TrimSpace(*label)
		}
		doc.Cameras[id] = entry
		return nil
	})
}

// ListAll returns every registered camera ordered by hardware id.
func (r *Registry) ListAll(ctx context.Context) ([]Entry, error) {
	doc, err := r.read(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(doc.Cameras))
	for _, entry := range doc.Cameras {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].HardwareID < entries[j].HardwareID
	})
	return entries, nil
}

func (r *Registry) read(ctx context.Context) (*document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureDir(); err != nil {
		return nil, err
	}
	ok, err := r.lock.TryRLockContext(ctx, lockRetryDelay)
	if err != nil || !ok {
		return nil, r.lockErr(err)
	}
	defer func() { _ = r.lock.Unlock() }()
	return r.load()
}

func (r *Registry) mutate(ctx context.Context, fn func(*document) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureDir(); err != nil {
		return err
	}
	ok, err := r.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !ok {
		return r.lockErr(err)
	}
	defer func() { _ = r.lock.Unlock() }()

	doc, err := r.load()
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return r.save(doc)
}

func (r *Registry) ensureDir() error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return services.Wrap(services.ErrRegistryPersistence, "registry", "prepare", r.path, err)
	}
	return nil
}

func (r *Registry) lockErr(err error) error {
	if err == nil {
		err = errors.New("lock not acquired")
	}
	return services.Wrap(services.ErrRegistryPersistence, "registry", "lock", r.path+".lock", err)
}

// load must be called with the file lock held.
func (r *Registry) load() (*document, error) {
	doc := &document{Version: DocumentVersion, Cameras: map[string]Entry{}}
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return doc, nil
		}
		return nil, services.Wrap(services.ErrRegistryPersistence, "registry", "read", r.path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, services.Wrap(services.ErrRegistryPersistence, "registry", "parse", r.path, err)
	}
	if doc.Cameras == nil {
		doc.Cameras = map[string]Entry{}
	}
	for id, entry := range doc.Cameras {
		if entry.HardwareID == "" {
			entry.HardwareID = id
			doc.Cameras[id] = entry
		}
	}
	return doc, nil
}

// save must be called with the exclusive file lock held.
func (r *Registry) save(doc *document) error {
	doc.Version = DocumentVersion
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return services.Wrap(services.ErrRegistryPersistence, "registry", "encode", r.path, err)
	}
	if err := fileutil.WriteFileAtomic(r.path, append(data, '\n'), 0o644); err != nil {
		return services.Wrap(services.ErrRegistryPersistence, "registry", "write", r.path, err)
	}
	r.logger.Debug("registry saved", logging.Int("cameras", len(doc.Cameras)), logging.String("path", r.path))
	return nil
}
