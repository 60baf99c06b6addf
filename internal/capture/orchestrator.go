package capture

import (
	"context"
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

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"folio/internal/backend"
	"folio/internal/calibration"
	"folio/internal/camera"
	"folio/internal/config"
	"folio/internal/fileutil"
	"folio/internal/logging"
	"folio/internal/manifest"
	"folio/internal/project"
	"folio/internal/registry"
	"folio/internal/services"
)

// Registry is the part of the camera registry the orchestrator reads and
// updates.
type Registry interface {
	GetByHardwareID(ctx context.Context, id string) (registry.Entry, bool, error)
	RegisterCamera(ctx context.Context, index int, profile *calibration.Profile, force bool) (string, error)
	UpdateCalibration(ctx context.Context, id string, profile *calibration.Profile) error
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the component logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logging.NewComponentLogger(logger, "capture")
	}
}

// WithRegistry enables calibration lookup and persistence.
func WithRegistry(reg Registry) Option {
	return func(o *Orchestrator) {
		o.registry = reg
	}
}

// WithCalibrationEngine enables Calibrate.
func WithCalibrationEngine(engine *calibration.Engine) Option {
	return func(o *Orchestrator) {
		o.engine = engine
	}
}

// WithClock replaces the time source (primarily for tests).
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithSleep replaces the stagger delay (primarily for tests).
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(o *Orchestrator) {
		if sleep != nil {
			o.sleep = sleep
		}
	}
}

// Orchestrator runs capture requests against one backend. Requests for
// different cameras may run concurrently; a second request for a camera that
// is already capturing or calibrating is rejected with ErrCameraBusy.
type Orchestrator struct {
	cfg      *config.Config
	backend  backend.Backend
	manifest *manifest.Logger
	registry Registry
	engine   *calibration.Engine
	logger   *slog.Logger
	now      func() time.Time
	sleep    func(context.Context, time.Duration) error

	mu       sync.Mutex
	inflight map[int]struct{}
	// outputs holds the artifact paths claimed by captures in flight.
	outputs map[string]struct{}
}

// NewOrchestrator returns an orchestrator capturing through be and recording
// to log.
func NewOrchestrator(cfg *config.Config, be backend.Backend, log *manifest.Logger, opts ...Option) (*Orchestrator, error) {
	if cfg == nil || be == nil || log == nil {
		return nil, errors.New("orchestrator requires config, backend and manifest logger")
	}
	o := &Orchestrator{
		cfg:      cfg,
		backend:  be,
		manifest: log,
		logger:   logging.NewComponentLogger(nil, "capture"),
		now:      time.Now,
		sleep:    sleepContext,
		inflight: make(map[int]struct{}),
		outputs:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Backend returns the backend captures run against.
func (o *Orchestrator) Backend() backend.Backend {
	return o.backend
}

// SingleRequest describes a capture from one camera.
type SingleRequest struct {
	Project string
	Camera  int
	// Config replaces the configured defaults for the camera. Its index is
	// overwritten with Camera.
	Config *camera.Config
	// Resolution is a preset name; empty keeps the config's size.
	Resolution            string
	IncludeResolution     bool
	SkipConnectivityCheck bool
	// Filename replaces the generated name. The encoding's extension is
	// appended when the name has none. A name already taken in the images
	// directory is refused.
	Filename string
	// Sequence replaces the timestamp stem of the generated name and is
	// recorded in the manifest. Like Filename it may not reuse a taken name.
	Sequence string
}

// DualRequest describes a staggered capture from two cameras.
type DualRequest struct {
	Project     string
	Left        int
	Right       int
	LeftConfig  *camera.Config
	RightConfig *camera.Config
	Resolution  string
	// IncludeResolution adds the image size to both filenames.
	IncludeResolution bool
	// Stagger replaces the configured delay between the two launches.
	Stagger               *time.Duration
	SkipConnectivityCheck bool
	Sequence              string
}

// Shot is the outcome of one camera's branch of a capture.
type Shot struct {
	Role        string
	Config      camera.Config
	HardwareID  string
	Paths       []string
	StartedAt   time.Time
	Elapsed     time.Duration
	Metadata    *backend.Metadata
	MetadataErr error
	Err         error

	identity registry.Entry
	done     bool
}

// OK reports whether the branch produced its artifacts.
func (s Shot) OK() bool { return s.Err == nil }

// Result is the outcome of a capture request.
type Result struct {
	CaptureID string
	Project   string
	PairID    string
	Status    manifest.Status
	// State is the terminal state the request reached.
	State    State
	History  []State
	Shots    []Shot
	Stagger  time.Duration
	Record   manifest.CaptureRecord
	Warnings []string
	// ManifestErr is set when the capture ran but its record was not durably
	// written. Such a capture has no provenance.
	ManifestErr error
}

// Paths lists every artifact produced, in launch order.
func (r *Result) Paths() []string {
	var out []string
	for _, shot := range r.Shots {
		out = append(out, shot.Paths...)
	}
	return out
}

// Degraded reports whether the capture ran but was not recorded.
func (r *Result) Degraded() bool {
	return r != nil && r.ManifestErr != nil
}

type target struct {
	role     string
	index    int
	override *camera.Config
	filename string
}

type plan struct {
	project           string
	targets           []target
	resolution        string
	includeResolution bool
	skipConnectivity  bool
	sequence          string
	stagger           time.Duration
	paired            bool
}

// job is a target with its resolved configuration and output path.
type job struct {
	role     string
	cfg      camera.Config
	identity registry.Entry
	filename string
	path     string
}

// maxStemAdvance bounds how far a generated timestamp stem moves forward to
// find free names.
const maxStemAdvance = 1000

// CaptureSingle captures one image. Backend failures are recorded in the
// manifest and returned together with the result; connectivity, validation
// and registry failures return before any hardware is touched.
func (o *Orchestrator) CaptureSingle(ctx context.Context, req SingleRequest) (*Result, error) {
	return o.run(ctx, plan{
		project: req.Project,
		targets: []target{{
			role:     manifest.RoleSingle,
			index:    req.Camera,
			override: req.Config,
			filename: strings.TrimSpace(req.Filename),
		}},
		resolution:        req.Resolution,
		includeResolution: req.IncludeResolution,
		skipConnectivity:  req.SkipConnectivityCheck,
		sequence:          strings.TrimSpace(req.Sequence),
	})
}

// CaptureDual captures from two cameras, launching the right camera one
// stagger after the left camera has started. Both cameras are probed before
// either is used. When only one side succeeds the record is partial and no
// error is returned; the failed side is described in the result.
func (o *Orchestrator) CaptureDual(ctx context.Context, req DualRequest) (*Result, error) {
	if req.Left == req.Right {
		return nil, services.Wrap(services.ErrValidation, "capture", "dual", fmt.Sprintf("camera %d", req.Left),
			errors.New("left and right cameras must differ"))
	}
	stagger := o.cfg.Stagger()
	if req.Stagger != nil {
		stagger = *req.Stagger
	}
	if stagger < 0 {
		return nil, services.Wrap(services.ErrValidation, "capture", "dual", "stagger", errors.New("stagger must be >= 0"))
	}
	return o.run(ctx, plan{
		project: req.Project,
		targets: []target{
			{role: manifest.RoleLeft, index: req.Left, override: req.LeftConfig},
			{role: manifest.RoleRight, index: req.Right, override: req.RightConfig},
		},
		resolution:        req.Resolution,
		includeResolution: req.IncludeResolution,
		skipConnectivity:  req.SkipConnectivityCheck,
		sequence:          strings.TrimSpace(req.Sequence),
		stagger:           stagger,
		paired:            true,
	})
}

func (o *Orchestrator) run(ctx context.Context, p plan) (*Result, error) {
	layout, err := project.Resolve(o.cfg.Paths.ProjectsRoot, p.project)
	if err != nil {
		return nil, err
	}
	if p.sequence != "" {
		if err := validateName("sequence", p.sequence); err != nil {
			return nil, err
		}
	}
	indices := make([]int, 0, len(p.targets))
	for _, t := range p.targets {
		if t.index < 0 {
			return nil, services.Wrap(services.ErrValidation, "capture", "request", fmt.Sprintf("camera %d", t.index), errors.New("camera index must be >= 0"))
		}
		if t.filename != "" {
			if err := validateName("filename", t.filename); err != nil {
				return nil, err
			}
		}
		indices = append(indices, t.index)
	}
	release, err := o.reserve(indices...)
	if err != nil {
		return nil, err
	}
	defer release()

	started := o.now()
	captureID := uuid.NewString()
	ctx = services.WithProject(services.WithCaptureID(ctx, captureID), layout.Name)
	logger := logging.WithContext(ctx, o.logger)
	track := newTracker(logger)
	result := &Result{CaptureID: captureID, Project: layout.Name}
	finish := func(err error) (*Result, error) {
		result.State = track.current()
		result.History = track.states()
		return result, err
	}
	fail := func(err error) (*Result, error) {
		track.to(StateFailed)
		result.Status = manifest.StatusFailed
		return finish(err)
	}

	track.to(StateConnectivityCheck)
	attached, err := o.enumerate(ctx, logger, indices, p.skipConnectivity)
	if err != nil {
		return fail(err)
	}

	track.to(StateConfigResolution)
	jobs, warnings, err := o.resolveJobs(ctx, logger, p, attached)
	if err == nil {
		if ensureErr := layout.Ensure(); ensureErr != nil {
			err = services.Wrap(services.ErrManifestWrite, "capture", "project directories", layout.Name, ensureErr)
		}
	}
	if err != nil {
		return fail(err)
	}
	stem, releaseOutputs, err := o.assignOutputs(layout.ImagesMain, jobs, p, started)
	if err != nil {
		return fail(err)
	}
	defer releaseOutputs()
	if p.paired {
		result.PairID = stem
		result.Stagger = p.stagger
	}

	track.to(StateBackendCapture)
	shots := o.launch(ctx, logger, jobs, p.stagger)
	result.Shots = shots
	result.Status = statusOf(shots)
	if result.Status == manifest.StatusFailed {
		track.to(StateFailed)
	} else {
		track.to(StatePostProcess)
	}

	record := o.buildRecord(layout, result, started, p, &warnings)
	result.Warnings = warnings
	record.Warnings = warnings

	shotErr := shotErrors(shots)
	if result.Status != manifest.StatusFailed {
		track.to(StateManifestWrite)
	}
	if err := o.manifest.AppendCapture(layout.Root, record); err != nil {
		result.ManifestErr = err
		logging.ErrorWithContext(logger, "capture not recorded", "manifest_write_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check free space and permissions on the project metadata directory"),
			logging.String(logging.FieldImpact, "captured images have no provenance record"),
		)
		if result.Status != manifest.StatusFailed {
			track.to(StateFailed)
		}
		result.Record = record
		return finish(errors.Join(err, shotErr))
	}
	result.Record = record
	if result.Status == manifest.StatusFailed {
		return finish(shotErr)
	}
	track.to(StateDone)
	logger.Info("capture complete",
		logging.String("status", string(result.Status)),
		logging.Int("files", len(record.Files)),
		logging.Duration("total", o.now().Sub(started)),
	)
	return finish(nil)
}

// enumerate lists attached cameras once. The same list answers the
// connectivity check for indices and the registry identity lookup, so no
// camera is configured before every index is known to be present. With skip
// a failed enumeration only leaves the cameras unidentified.
func (o *Orchestrator) enumerate(ctx context.Context, logger *slog.Logger, indices []int, skip bool) (map[int]backend.Info, error) {
	attached := make(map[int]backend.Info)
	if skip && o.registry == nil {
		logger.Debug("connectivity check skipped", logging.Any("cameras", indices))
		return attached, nil
	}
	infos, listErr := o.backend.ListCameras(ctx)
	for _, info := range infos {
		attached[info.Index] = info
	}
	if skip {
		logger.Debug("connectivity check skipped", logging.Any("cameras", indices))
		if listErr != nil {
			logging.WarnWithContext(logger, "camera identification failed", "camera_identify_failed",
				logging.Error(listErr),
				logging.String(logging.FieldImpact, "calibration is not applied"),
			)
		}
		return attached, nil
	}

	var missing []string
	for _, index := range indices {
		if _, ok := attached[index]; !ok || listErr != nil {
			missing = append(missing, fmt.Sprintf("%d", index))
		}
	}
	if len(missing) == 0 {
		return attached, nil
	}
	cause := errors.New("not connected")
	if listErr != nil {
		cause = fmt.Errorf("not connected: %w", listErr)
	}
	logging.WarnWithContext(logger, "camera not connected", "camera_not_connected",
		logging.String("missing", strings.Join(missing, ",")),
		logging.Int("detected", len(infos)),
		logging.String(logging.FieldErrorHint, "check the camera ribbon cable and run folio cameras detect"),
		logging.String(logging.FieldImpact, "capture not started"),
	)
	return nil, services.Wrap(services.ErrConnectivity, "capture", "connectivity check",
		"camera "+strings.Join(missing, ", camera "), cause)
}

// resolveJobs builds the effective configuration of every target. Output
// paths are left to assignOutputs.
func (o *Orchestrator) resolveJobs(ctx context.Context, logger *slog.Logger, p plan, attached map[int]backend.Info) ([]job, []string, error) {
	var size *camera.Size
	if preset := strings.TrimSpace(p.resolution); preset != "" {
		s, err := camera.ResolutionFor(preset)
		if err != nil {
			return nil, nil, services.Wrap(services.ErrValidation, "capture", "resolution", "", err)
		}
		size = &s
	}

	identities, err := o.identities(ctx, logger, attached)
	if err != nil {
		return nil, nil, err
	}

	var warnings []string
	jobs := make([]job, 0, len(p.targets))
	for _, t := range p.targets {
		cfg := o.cfg.CameraDefaults(t.index)
		if t.override != nil {
			cfg = t.override.Clone().WithIndex(t.index)
		}
		if size != nil {
			cfg = cfg.WithSize(*size)
		}
		if err := cfg.Validate(); err != nil {
			return nil, nil, services.Wrap(services.ErrValidation, "capture", "camera config", fmt.Sprintf("camera %d", t.index), err)
		}

		entry, known := identities[t.index]
		switch {
		case o.registry == nil:
		case !known:
			warnings = append(warnings, fmt.Sprintf("camera %d is not registered; autofocus is used", t.index))
			logging.WarnWithContext(logger, "camera not registered", "camera_unregistered",
				logging.CameraIndex(t.index),
				logging.String(logging.FieldErrorHint, "run folio cameras detect"),
				logging.String(logging.FieldImpact, "autofocus runs on every capture"),
			)
		case !o.cfg.Camera.UseCalibration || cfg.ManualFocus():
		case !entry.Calibration.FocusUsable():
			warnings = append(warnings, fmt.Sprintf("camera %d (%s) has no focus calibration; autofocus is used", t.index, entry.HardwareID))
			logging.WarnWithContext(logger, "no focus calibration", "calibration_missing",
				logging.CameraIndex(t.index),
				logging.String(logging.FieldHardwareID, entry.HardwareID),
				logging.String(logging.FieldErrorHint, fmt.Sprintf("run folio calibrate --camera %d", t.index)),
				logging.String(logging.FieldImpact, "autofocus runs on every capture"),
			)
		default:
			cfg = calibration.Apply(cfg, entry.Calibration)
			logger.Info("calibration applied",
				logging.CameraIndex(t.index),
				logging.String(logging.FieldHardwareID, entry.HardwareID),
				logging.Float64("lens_position", *cfg.LensPosition),
			)
		}

		jobs = append(jobs, job{role: t.role, cfg: cfg, identity: entry, filename: t.filename})
	}
	return jobs, warnings, nil
}

// identities maps attached camera indices to their registry entries. Only
// registry persistence failures are returned; a camera without a stable
// identity stays unidentified.
func (o *Orchestrator) identities(ctx context.Context, logger *slog.Logger, attached map[int]backend.Info) (map[int]registry.Entry, error) {
	out := make(map[int]registry.Entry)
	if o.registry == nil {
		return out, nil
	}
	for index, info := range attached {
		id, err := registry.HardwareID(info)
		if err != nil {
			logger.Debug("camera has no stable identity", logging.CameraIndex(index), logging.Error(err))
			continue
		}
		entry, found, err := o.registry.GetByHardwareID(ctx, id)
		if err != nil {
			return nil, err
		}
		if found {
			out[index] = entry
		}
	}
	return out, nil
}

// assignOutputs names every job's artifacts inside dir and claims them until
// release is called. Taken names are never reused: a caller-chosen name or
// sequence that collides is refused, while a generated timestamp stem moves
// forward one millisecond at a time. Failed captures remove only what they
// claimed here.
func (o *Orchestrator) assignOutputs(dir string, jobs []job, p plan, started time.Time) (string, func(), error) {
	generated := p.sequence == ""
	for _, j := range jobs {
		if j.filename != "" {
			generated = false
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	for advance := 0; ; advance++ {
		stem := p.sequence
		if stem == "" {
			stem = PairID(started.Add(time.Duration(advance) * time.Millisecond))
		}
		var claims []string
		for i, j := range jobs {
			name := j.filename
			if name == "" {
				name = Filename(stem, j.cfg, p.includeResolution)
			} else {
				var err error
				if name, err = withExtension(name, j.cfg.Encoding); err != nil {
					return "", nil, err
				}
			}
			jobs[i].path = filepath.Join(dir, name)
			claims = append(claims, jobs[i].path)
			if j.cfg.Raw {
				claims = append(claims, backend.RawPath(jobs[i].path))
			}
		}
		taken, err := o.firstTaken(claims)
		if err != nil {
			return "", nil, err
		}
		if taken == "" {
			for _, path := range claims {
				o.outputs[path] = struct{}{}
			}
			var once sync.Once
			return stem, func() {
				once.Do(func() {
					o.mu.Lock()
					defer o.mu.Unlock()
					for _, path := range claims {
						delete(o.outputs, path)
					}
				})
			}, nil
		}
		if !generated || advance >= maxStemAdvance {
			return "", nil, services.Wrap(services.ErrValidation, "capture", "output", filepath.Base(taken),
				errors.New("output exists; choose another filename or sequence"))
		}
	}
}

// firstTaken returns the first path that exists on disk or is claimed by a
// capture in flight. Must be called with o.mu held.
func (o *Orchestrator) firstTaken(paths []string) (string, error) {
	seen := make(map[string]struct{}, len(paths))
	for _, path := range paths {
		if _, dup := seen[path]; dup {
			return path, nil
		}
		seen[path] = struct{}{}
		if _, claimed := o.outputs[path]; claimed {
			return path, nil
		}
		_, err := os.Lstat(path)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", services.Wrap(services.ErrValidation, "capture", "output", filepath.Base(path), err)
		}
	}
	return "", nil
}

// launch starts every job on its own worker. Each worker after the first is
// launched one stagger after the previous worker has begun its capture.
func (o *Orchestrator) launch(ctx context.Context, logger *slog.Logger, jobs []job, stagger time.Duration) []Shot {
	shots := make([]Shot, len(jobs))
	var group conc.WaitGroup
	for i, j := range jobs {
		if i > 0 && stagger > 0 {
			if err := o.sleep(ctx, stagger); err != nil {
				for k := i; k < len(jobs); k++ {
					shots[k] = Shot{
						Role:   jobs[k].role,
						Config: jobs[k].cfg,
						Err:    services.Wrap(services.ErrCaptureProcess, "capture", "stagger", fmt.Sprintf("camera %d not launched", jobs[k].cfg.Index), err),
						done:   true,
					}
				}
				break
			}
		}
		begun := make(chan struct{})
		group.Go(func() {
			shots[i] = o.shoot(ctx, logger, j, begun)
		})
		<-begun
	}
	if recovered := group.WaitAndRecover(); recovered != nil {
		for i := range shots {
			if shots[i].done {
				continue
			}
			shots[i].Role = jobs[i].role
			shots[i].Config = jobs[i].cfg
			shots[i].Err = services.Wrap(services.ErrCaptureProcess, "capture", "worker", fmt.Sprintf("camera %d", jobs[i].cfg.Index), recovered.AsError())
			shots[i].done = true
			removePartial(jobs[i].path, jobs[i].cfg.Raw)
		}
	}
	return shots
}

// shoot runs one backend capture. begun is closed once the start time is
// taken, right before the backend is invoked.
func (o *Orchestrator) shoot(ctx context.Context, logger *slog.Logger, j job, begun chan<- struct{}) Shot {
	shot := Shot{
		Role:       j.role,
		Config:     j.cfg,
		HardwareID: j.identity.HardwareID,
		StartedAt:  o.now(),
		identity:   j.identity,
	}
	close(begun)
	ctx = services.WithCameraIndex(ctx, j.cfg.Index)
	logger = logger.With(logging.CameraIndex(j.cfg.Index), logging.String("role", j.role))

	res, err := o.backend.Capture(ctx, j.path, j.cfg)
	shot.Elapsed = o.now().Sub(shot.StartedAt)
	shot.done = true
	if err != nil {
		if services.Kind(err) == "internal" {
			err = services.Wrap(services.ErrCaptureProcess, "capture", "backend", fmt.Sprintf("camera %d", j.cfg.Index), err)
		}
		shot.Err = err
		removePartial(j.path, j.cfg.Raw)
		logging.ErrorWithContext(logger, "camera capture failed", "camera_capture_failed",
			logging.Error(err),
			logging.String("kind", services.Kind(err)),
			logging.Duration("elapsed", shot.Elapsed),
			logging.String(logging.FieldErrorHint, "check the camera connection and retry the capture"),
		)
		return shot
	}
	shot.Paths = res.Paths
	if len(shot.Paths) == 0 {
		shot.Paths = []string{j.path}
	}
	shot.Metadata = res.Metadata
	shot.MetadataErr = res.MetadataErr
	logger.Info("camera captured",
		logging.String("path", shot.Paths[0]),
		logging.Duration("elapsed", shot.Elapsed),
		logging.Bool("metadata", shot.Metadata != nil),
	)
	return shot
}

func statusOf(shots []Shot) manifest.Status {
	ok := 0
	for _, s := range shots {
		if s.OK() {
			ok++
		}
	}
	switch {
	case ok == len(shots):
		return manifest.StatusSuccess
	case ok == 0:
		return manifest.StatusFailed
	default:
		return manifest.StatusPartial
	}
}

func shotErrors(shots []Shot) error {
	var errs []error
	for _, s := range shots {
		if s.Err != nil {
			errs = append(errs, s.Err)
		}
	}
	return errors.Join(errs...)
}

// buildRecord hashes every produced artifact and assembles the manifest
// record. Artifacts that cannot be hashed are reported as warnings.
func (o *Orchestrator) buildRecord(l project.Layout, result *Result, started time.Time, p plan, warnings *[]string) manifest.CaptureRecord {
	record := manifest.CaptureRecord{
		CaptureID:    result.CaptureID,
		ProjectName:  result.Project,
		PairID:       result.PairID,
		Sequence:     p.sequence,
		TimestampUTC: started.UTC().Format(time.RFC3339Nano),
		Files:        []manifest.FileEntry{},
		Software:     manifest.CurrentSoftware(o.backend.Name()),
		Host:         manifest.CurrentHost(),
		Status:       result.Status,
	}
	var failures []string
	for i, shot := range result.Shots {
		cam := manifest.CameraEntry{
			CameraIndex: shot.Config.Index,
			HardwareID:  shot.HardwareID,
			Model:       shot.identity.Model,
			Serial:      shot.identity.Serial,
			Config:      shot.Config,
			Metadata:    shot.Metadata,
		}
		if i < len(p.targets) {
			cam.CameraIndex = p.targets[i].index
		}
		if shot.MetadataErr != nil {
			cam.MetadataError = shot.MetadataErr.Error()
			*warnings = append(*warnings, fmt.Sprintf("camera %d: metadata unavailable: %v", cam.CameraIndex, shot.MetadataErr))
		}
		record.Cameras = append(record.Cameras, cam)

		if shot.Err != nil {
			failures = append(failures, fmt.Sprintf("%s camera %d: %v", shot.Role, cam.CameraIndex, shot.Err))
			continue
		}
		for _, path := range shot.Paths {
			entry, err := manifest.NewFileEntry(l.Root, path, shot.Role, shot.Config.Encoding)
			if err != nil {
				*warnings = append(*warnings, fmt.Sprintf("camera %d: %v", cam.CameraIndex, err))
				continue
			}
			record.Files = append(record.Files, entry)
		}
	}
	sort.Strings(failures)
	if result.Status == manifest.StatusPartial {
		*warnings = append(*warnings, failures...)
	}
	if len(failures) > 0 {
		record.Error = strings.Join(failures, "; ")
	}
	record.Timing = timingOf(result.Shots, p, started, o.now())
	return record
}

func timingOf(shots []Shot, p plan, started, finished time.Time) manifest.Timing {
	timing := manifest.Timing{
		StartedAt:    started.UTC().Format(time.RFC3339Nano),
		TotalSeconds: finished.Sub(started).Seconds(),
	}
	seconds := func(s Shot) *float64 {
		if s.StartedAt.IsZero() {
			return nil
		}
		v := s.Elapsed.Seconds()
		return &v
	}
	if len(shots) > 0 {
		timing.Camera1Seconds = seconds(shots[0])
	}
	if len(shots) > 1 {
		timing.Camera2Seconds = seconds(shots[1])
	}
	if p.paired {
		ms := p.stagger.Milliseconds()
		timing.StaggerMillis = &ms
		if len(shots) > 1 && !shots[0].StartedAt.IsZero() && !shots[1].StartedAt.IsZero() {
			offset := float64(shots[1].StartedAt.Sub(shots[0].StartedAt)) / float64(time.Millisecond)
			timing.LaunchOffsetMillis = &offset
		}
	}
	return timing
}

// reserve marks indices as in flight until the returned release is called.
func (o *Orchestrator) reserve(indices ...int) (func(), error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, index := range indices {
		if _, busy := o.inflight[index]; busy {
			return nil, services.Wrap(services.ErrCameraBusy, "capture", "reserve", fmt.Sprintf("camera %d", index),
				errors.New("another capture is in flight on this camera"))
		}
	}
	for _, index := range indices {
		o.inflight[index] = struct{}{}
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			for _, index := range indices {
				delete(o.inflight, index)
			}
		})
	}, nil
}

// Busy reports whether index has a capture or calibration in flight.
func (o *Orchestrator) Busy(index int) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, busy := o.inflight[index]
	return busy
}

// removePartial deletes what a failed capture left at its own claimed
// outputs.
func removePartial(path string, raw bool) {
	_ = fileutil.RemoveIfExists(path)
	if raw {
		_ = fileutil.RemoveIfExists(backend.RawPath(path))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
