package testsupport

import (
	"context"
	"sync"

	"folio/internal/backend"
)

// Sensor id paths of the reference dual-camera rig.
const (
	LeftSensorID  = "/base/axi/pcie@1000120000/rp1/i2c@88000/imx519@1a"
	RightSensorID = "/base/axi/pcie@1000120000/rp1/i2c@80000/imx519@1a"
)

// StubLister reports a fixed, replaceable camera list.
type StubLister struct {
	mu      sync.Mutex
	cameras []backend.Info
	err     error
}

// NewStubLister returns a lister reporting cameras.
func NewStubLister(cameras ...backend.Info) *StubLister {
	return &StubLister{cameras: cameras}
}

// DualRig returns the left and right sensors at indices 0 and 1.
func DualRig() []backend.Info {
	return []backend.Info{
		{Index: 0, Model: "imx519", ID: LeftSensorID, Location: "2"},
		{Index: 1, Model: "imx519", ID: RightSensorID, Location: "2"},
	}
}

// ListCameras implements registry.Lister.
func (s *StubLister) ListCameras(context.Context) ([]backend.Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]backend.Info(nil), s.cameras...), nil
}

// Set replaces the reported cameras.
func (s *StubLister) Set(cameras ...backend.Info) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cameras = cameras
}

// Fail makes subsequent calls return err.
func (s *StubLister) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}
