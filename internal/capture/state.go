package capture

import (
	"log/slog"
	"time"

	"folio/internal/logging"
)

// State is a step of the per-request capture state machine.
type State string

const (
	StateIdle              State = "idle"
	StateConnectivityCheck State = "connectivity_check"
	StateConfigResolution  State = "config_resolution"
	StateBackendCapture    State = "backend_capture"
	StatePostProcess       State = "post_process"
	StateManifestWrite     State = "manifest_write"
	StateDone              State = "done"
	StateFailed            State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

var transitions = map[State][]State{
	StateIdle:              {StateConnectivityCheck},
	StateConnectivityCheck: {StateConfigResolution, StateFailed},
	StateConfigResolution:  {StateBackendCapture, StateFailed},
	StateBackendCapture:    {StatePostProcess, StateFailed},
	StatePostProcess:       {StateManifestWrite},
	StateManifestWrite:     {StateDone, StateFailed},
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// tracker records and logs the states one request passes through.
type tracker struct {
	logger  *slog.Logger
	state   State
	entered time.Time
	history []State
}

func newTracker(logger *slog.Logger) *tracker {
	return &tracker{
		logger:  logger,
		state:   StateIdle,
		entered: time.Now(),
		history: []State{StateIdle},
	}
}

// to moves to next. Invalid transitions are logged and ignored.
func (t *tracker) to(next State) {
	if !canTransition(t.state, next) {
		logging.WarnWithContext(t.logger, "invalid capture state transition", "capture_state_invalid",
			logging.String("from", string(t.state)),
			logging.String("to", string(next)),
			logging.String(logging.FieldErrorHint, "report this capture id with the daemon log"),
			logging.String(logging.FieldImpact, "state history is incomplete"),
		)
		return
	}
	t.logger.Info("capture state",
		logging.State(string(next)),
		logging.String("from", string(t.state)),
		logging.Duration("in_previous", time.Since(t.entered)),
	)
	t.state = next
	t.entered = time.Now()
	t.history = append(t.history, next)
}

func (t *tracker) current() State { return t.state }

func (t *tracker) states() []State {
	return append([]State(nil), t.history...)
}
