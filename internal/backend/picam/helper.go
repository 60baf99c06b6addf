package picam

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"folio/internal/backend"
	"folio/internal/logging"
)

// The helper process owns one camera. It reads one JSON request per line on
// stdin and answers each with one JSON response line on stdout, in order:
//
//	-> {"id":1,"op":"configure","params":{"size":[4624,3472],"format":"BGR888",...}}
//	<- {"id":1,"ok":true}
//	-> {"id":2,"op":"capture_file","params":{"path":"/p/a.jpg","format":"jpeg"}}
//	<- {"id":2,"ok":true,"result":{"ExposureTime":10000,"ColourGains":[1.9,1.6]}}
//	<- {"id":3,"ok":false,"error":"camera busy"}
//
// capture_file answers with the metadata of the frame it saved.
//
// Ops: open, configure, start, stop, set_controls, capture_file, capture_raw,
// capture_metadata, autofocus_cycle, close. Invoked with --list instead of
// --camera, the helper prints a JSON array of attached cameras and exits.

const closeTimeout = 5 * time.Second

type helperRequest struct {
	ID     uint64 `json:"id"`
	Op     string `json:"op"`
	Params any    `json:"params,omitempty"`
}

type helperResponse struct {
	ID     uint64          `json:"id"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// HelperOpener launches one helper process per opened camera.
type HelperOpener struct {
	binary string
	logger *slog.Logger
}

// NewHelperOpener returns an opener for the helper at binary.
func NewHelperOpener(binary string, logger *slog.Logger) *HelperOpener {
	return &HelperOpener{
		binary: strings.TrimSpace(binary),
		logger: logging.NewComponentLogger(logger, "camhelper"),
	}
}

type helperCamera struct {
	Num      int    `json:"Num"`
	Model    string `json:"Model"`
	ID       string `json:"Id"`
	Location any    `json:"Location"`
}

// List runs the helper with --list.
func (o *HelperOpener) List(ctx context.Context) ([]backend.Info, error) {
	cmd := exec.CommandContext(ctx, o.binary, "--list") //nolint:gosec
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("%s --list: %w: %s", o.binary, err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("%s --list: %w", o.binary, err)
	}
	var cameras []helperCamera
	if err := json.Unmarshal(out, &cameras); err != nil {
		return nil, fmt.Errorf("decode camera list: %w", err)
	}
	infos := make([]backend.Info, 0, len(cameras))
	for i, cam := range cameras {
		index := cam.Num
		if index == 0 && i > 0 {
			index = i
		}
		info := backend.Info{Index: index, Model: cam.Model, ID: cam.ID}
		if cam.Location != nil {
			info.Location = fmt.Sprint(cam.Location)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Open starts a helper for index and asks it to open the camera.
func (o *HelperOpener) Open(ctx context.Context, index int) (Handle, error) {
	// The helper outlives ctx, so it is not bound to it.
	cmd := exec.Command(o.binary, "--camera", strconv.Itoa(index)) //nolint:gosec
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", o.binary, err)
	}

	logger := o.logger.With(logging.CameraIndex(index))
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			logger.Debug(scanner.Text())
		}
	}()

	h := newHelperHandle(stdin, stdout, cmd.Wait, func() { _ = cmd.Process.Kill() })
	if err := h.call(ctx, "open", map[string]int{"camera": index}, nil); err != nil {
		_ = h.Close()
		return nil, err
	}
	return h, nil
}

// helperHandle is a Handle backed by the JSON-lines protocol.
type helperHandle struct {
	mu        sync.Mutex
	stdin     io.WriteCloser
	enc       *json.Encoder
	responses chan helperResponse
	readErr   error
	wait      func() error
	kill      func()
	seq       uint64
	started   bool
	closed    bool
}

func newHelperHandle(stdin io.WriteCloser, stdout io.Reader, wait func() error, kill func()) *helperHandle {
	h := &helperHandle{
		stdin:     stdin,
		enc:       json.NewEncoder(stdin),
		responses: make(chan helperResponse, 8),
		wait:      wait,
		kill:      kill,
	}
	go h.readLoop(stdout)
	return h
}

func (h *helperHandle) readLoop(stdout io.Reader) {
	dec := json.NewDecoder(bufio.NewReader(stdout))
	for {
		var resp helperResponse
		if err := dec.Decode(&resp); err != nil {
			if errors.Is(err, io.EOF) {
				err = errors.New("helper exited")
			}
			h.readErr = err
			close(h.responses)
			return
		}
		h.responses <- resp
	}
}

func (h *helperHandle) call(ctx context.Context, op string, params any, result any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.callLocked(ctx, op, params, result)
}

func (h *helperHandle) callLocked(ctx context.Context, op string, params any, result any) error {
	if h.closed {
		return fmt.Errorf("%s: %w", op, ErrHandleClosed)
	}
	h.seq++
	id := h.seq
	if err := h.enc.Encode(helperRequest{ID: id, Op: op, Params: params}); err != nil {
		h.closed = true
		h.kill()
		return fmt.Errorf("%s: send request: %w: %w", op, ErrHandleClosed, err)
	}
	select {
	case resp, ok := <-h.responses:
		if !ok {
			h.closed = true
			return fmt.Errorf("%s: %w: %w", op, ErrHandleClosed, h.readErr)
		}
		if resp.ID != id {
			return fmt.Errorf("%s: response id %d does not match request %d", op, resp.ID, id)
		}
		if !resp.OK {
			return fmt.Errorf("%s: %s", op, resp.Error)
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("%s: decode result: %w", op, err)
			}
		}
		return nil
	case <-ctx.Done():
		// The helper may still answer later; the stream is no longer trustworthy.
		h.closed = true
		h.kill()
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
}

func (h *helperHandle) Configure(ctx context.Context, cfg StreamConfig) error {
	return h.call(ctx, "configure", cfg, nil)
}

func (h *helperHandle) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.callLocked(ctx, "start", nil, nil); err != nil {
		return err
	}
	h.started = true
	return nil
}

func (h *helperHandle) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.callLocked(ctx, "stop", nil, nil); err != nil {
		return err
	}
	h.started = false
	return nil
}

// Closed reports whether the helper can no longer be reached.
func (h *helperHandle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *helperHandle) Started() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.started
}

func (h *helperHandle) SetControls(ctx context.Context, controls Controls) error {
	return h.call(ctx, "set_controls", map[string]any{"controls": controls}, nil)
}

func (h *helperHandle) CaptureFile(ctx context.Context, path, format string) (RawMetadata, error) {
	var md RawMetadata
	if err := h.call(ctx, "capture_file", map[string]string{"path": path, "format": format}, &md); err != nil {
		return nil, err
	}
	return md, nil
}

func (h *helperHandle) CaptureRaw(ctx context.Context, path string) error {
	return h.call(ctx, "capture_raw", map[string]string{"path": path}, nil)
}

func (h *helperHandle) CaptureMetadata(ctx context.Context) (RawMetadata, error) {
	var md RawMetadata
	if err := h.call(ctx, "capture_metadata", nil, &md); err != nil {
		return nil, err
	}
	return md, nil
}

func (h *helperHandle) AutofocusCycle(ctx context.Context) (bool, error) {
	var result struct {
		Success bool `json:"success"`
	}
	if err := h.call(ctx, "autofocus_cycle", nil, &result); err != nil {
		return false, err
	}
	return result.Success, nil
}

// Close asks the helper to release the camera, then waits for it to exit,
// killing it if it does not exit within closeTimeout.
func (h *helperHandle) Close() error {
	h.mu.Lock()
	var closeErr error
	if !h.closed {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		closeErr = h.callLocked(ctx, "close", nil, nil)
		cancel()
		h.closed = true
	}
	h.started = false
	h.mu.Unlock()

	_ = h.stdin.Close()
	done := make(chan error, 1)
	go func() { done <- h.wait() }()
	select {
	case err := <-done:
		if closeErr == nil && err != nil {
			closeErr = fmt.Errorf("helper exit: %w", err)
		}
	case <-time.After(closeTimeout):
		h.kill()
		<-done
		if closeErr == nil {
			closeErr = errors.New("helper did not exit; killed")
		}
	}
	return closeErr
}
