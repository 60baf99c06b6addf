package testsupport

import (
	"context"
	"sync"
	"time"

	"folio/internal/backend"
	"folio/internal/camera"
)

// FakeImageSize is the number of bytes the fake backend writes per image.
const FakeImageSize = 4096

// CaptureCall records one Capture invocation on FakeBackend.
type CaptureCall struct {
	Index  int
	Path   string
	Config camera.Config
	At     time.Time
}

// FakeBackend is an in-memory camera backend. Captures write patterned files
// so hashing and manifests can be exercised without hardware.
type FakeBackend struct {
	mu           sync.Mutex
	cameras      []backend.Info
	disconnected map[int]bool
	failures     map[int]error
	holds        map[int]chan struct{}
	entered      map[int]chan struct{}
	metadata     *backend.Metadata
	metadataErr  error
	calls        []CaptureCall
	listErr      error
	enumerations int
	cleanups     int
}

var _ backend.Backend = (*FakeBackend)(nil)

// NewFakeBackend returns a backend reporting cameras as attached.
func NewFakeBackend(cameras ...backend.Info) *FakeBackend {
	return &FakeBackend{
		cameras:      cameras,
		disconnected: make(map[int]bool),
		failures:     make(map[int]error),
		holds:        make(map[int]chan struct{}),
		entered:      make(map[int]chan struct{}),
	}
}

func (f *FakeBackend) Name() string { return "fake" }

func (f *FakeBackend) SupportsStreaming() bool { return false }

func (f *FakeBackend) SupportsLiveAdjustment() bool { return false }

// IsConnected reports whether index is attached and not disconnected.
func (f *FakeBackend) IsConnected(_ context.Context, index int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil || f.disconnected[index] {
		return false
	}
	for _, cam := range f.cameras {
		if cam.Index == index {
			return true
		}
	}
	return false
}

// ListCameras returns the attached cameras.
func (f *FakeBackend) ListCameras(context.Context) ([]backend.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enumerations++
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []backend.Info
	for _, cam := range f.cameras {
		if !f.disconnected[cam.Index] {
			out = append(out, cam)
		}
	}
	return out, nil
}

// Capture writes an image for cfg.Index, or a truncated file followed by
// the configured failure.
func (f *FakeBackend) Capture(ctx context.Context, outputPath string, cfg camera.Config) (backend.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, CaptureCall{Index: cfg.Index, Path: outputPath, Config: cfg.Clone(), At: time.Now()})
	hold := f.holds[cfg.Index]
	entered := f.entered[cfg.Index]
	delete(f.holds, cfg.Index)
	delete(f.entered, cfg.Index)
	failure := f.failures[cfg.Index]
	md, mdErr := f.metadata, f.metadataErr
	f.mu.Unlock()

	if hold != nil {
		close(entered)
		select {
		case <-hold:
		case <-ctx.Done():
			return backend.Result{}, ctx.Err()
		}
	}
	if failure != nil {
		_ = writePattern(outputPath, 16, 0x00)
		return backend.Result{}, failure
	}

	fill := byte(0x10 + cfg.Index)
	if err := writePattern(outputPath, FakeImageSize, fill); err != nil {
		return backend.Result{}, err
	}
	result := backend.Result{Paths: []string{outputPath}, MetadataErr: mdErr}
	if cfg.Raw {
		raw := backend.RawPath(outputPath)
		if err := writePattern(raw, 2*FakeImageSize, fill); err != nil {
			return backend.Result{}, err
		}
		result.Paths = append(result.Paths, raw)
	}
	if md != nil {
		copied := *md
		result.Metadata = &copied
	}
	return result, nil
}

// Cleanup counts calls.
func (f *FakeBackend) Cleanup() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups++
	return nil
}

// Disconnect makes index report as absent.
func (f *FakeBackend) Disconnect(index int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected[index] = true
}

// FailEnumeration makes ListCameras return err; nil restores it.
func (f *FakeBackend) FailEnumeration(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

// Fail makes captures on index return err.
func (f *FakeBackend) Fail(index int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[index] = err
}

// SetMetadata sets the metadata returned with every capture.
func (f *FakeBackend) SetMetadata(md *backend.Metadata, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metadata = md
	f.metadataErr = err
}

// Block makes the next capture on index wait until release is called or its
// context ends.
// entered is closed once that capture has started.
func (f *FakeBackend) Block(index int) (entered <-chan struct{}, release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hold := make(chan struct{})
	in := make(chan struct{})
	f.holds[index] = hold
	f.entered[index] = in
	var once sync.Once
	return in, func() {
		once.Do(func() { close(hold) })
	}
}

// Calls returns every capture invocation so far.
func (f *FakeBackend) Calls() []CaptureCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]CaptureCall(nil), f.calls...)
}

// Enumerations returns the number of ListCameras calls.
func (f *FakeBackend) Enumerations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enumerations
}

// Cleanups returns the number of Cleanup calls.
func (f *FakeBackend) Cleanups() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cleanups
}
