package picam

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

// fakeHelper answers requests read from in on out using respond.
func fakeHelper(t *testing.T, respond func(req map[string]any) string) (*helperHandle, <-chan struct{}) {
	t.Helper()
	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()
	exited := make(chan struct{})

	go func() {
		defer close(exited)
		defer respW.Close()
		scanner := bufio.NewScanner(reqR)
		for scanner.Scan() {
			var req map[string]any
			if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
				return
			}
			line := respond(req)
			if line == "" {
				continue
			}
			if _, err := io.WriteString(respW, line+"\n"); err != nil {
				return
			}
		}
	}()

	wait := func() error {
		<-exited
		return nil
	}
	kill := func() {
		reqR.Close()
	}
	return newHelperHandle(reqW, respR, wait, kill), exited
}

func ok(req map[string]any, result string) string {
	id, _ := json.Marshal(req["id"])
	if result == "" {
		return `{"id":` + string(id) + `,"ok":true}`
	}
	return `{"id":` + string(id) + `,"ok":true,"result":` + result + `}`
}

func TestHelperHandleRoundTrip(t *testing.T) {
	var ops []string
	h, _ := fakeHelper(t, func(req map[string]any) string {
		op := req["op"].(string)
		ops = append(ops, op)
		switch op {
		case "capture_metadata":
			return ok(req, `{"LensPosition":1.5,"ColourGains":[2.0,1.5]}`)
		case "autofocus_cycle":
			return ok(req, `{"success":true}`)
		}
		return ok(req, "")
	})
	ctx := context.Background()

	if err := h.Configure(ctx, StreamConfig{Format: "BGR888", BufferCount: 2}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := h.Start(ctx); err != nil || !h.Started() {
		t.Fatalf("Start: %v started=%v", err, h.Started())
	}
	converged, err := h.AutofocusCycle(ctx)
	if err != nil || !converged {
		t.Fatalf("AutofocusCycle = %v, %v", converged, err)
	}
	md, err := h.CaptureMetadata(ctx)
	if err != nil {
		t.Fatalf("CaptureMetadata: %v", err)
	}
	if lp, found := LensPosition(md); !found || lp != 1.5 {
		t.Fatalf("LensPosition = %v %v", lp, found)
	}
	if gains, found := ColourGains(md); !found || gains.Red != 2.0 || gains.Blue != 1.5 {
		t.Fatalf("ColourGains = %+v %v", gains, found)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := strings.Join(ops, ","); got != "configure,start,autofocus_cycle,capture_metadata,close" {
		t.Fatalf("unexpected op sequence %s", got)
	}
	if err := h.Start(ctx); err == nil {
		t.Fatal("expected error after close")
	}
}

func TestHelperHandleReportsHelperError(t *testing.T) {
	h, _ := fakeHelper(t, func(req map[string]any) string {
		id, _ := json.Marshal(req["id"])
		return `{"id":` + string(id) + `,"ok":false,"error":"camera busy"}`
	})
	err := h.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "camera busy") {
		t.Fatalf("expected helper error, got %v", err)
	}
	if h.Started() {
		t.Fatal("failed start must not mark handle started")
	}
}

func TestHelperHandleTimesOutAndKills(t *testing.T) {
	h, exited := fakeHelper(t, func(map[string]any) string { return "" })
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := h.CaptureFile(ctx, "/tmp/x.jpg", "jpeg")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("helper was not killed after timeout")
	}
	if !h.Closed() {
		t.Fatal("timed out handle must report closed")
	}
	if err := h.SetControls(context.Background(), Controls{}); !errors.Is(err, ErrHandleClosed) {
		t.Fatalf("expected ErrHandleClosed, got %v", err)
	}
}

func TestHelperHandleReportsExitedHelper(t *testing.T) {
	h, exited := fakeHelper(t, func(req map[string]any) string {
		if req["op"] == "start" {
			return "not json"
		}
		return ok(req, "")
	})
	err := h.Start(context.Background())
	if !errors.Is(err, ErrHandleClosed) {
		t.Fatalf("expected ErrHandleClosed after helper stream broke, got %v", err)
	}
	if !h.Closed() {
		t.Fatal("handle must report closed once its helper is gone")
	}
	_ = h.Close()
	<-exited
}

func TestHelperHandleCaptureFileReturnsFrameMetadata(t *testing.T) {
	h, _ := fakeHelper(t, func(req map[string]any) string {
		if req["op"] == "capture_file" {
			return ok(req, `{"ExposureTime":8000,"SensorTimestamp":123456}`)
		}
		return ok(req, "")
	})
	md, err := h.CaptureFile(context.Background(), "/tmp/x.jpg", "jpeg")
	if err != nil {
		t.Fatalf("CaptureFile: %v", err)
	}
	if md["ExposureTime"] != float64(8000) {
		t.Fatalf("unexpected metadata %v", md)
	}
	_ = h.Close()
}

func TestParseMetadataRejectsBadTypes(t *testing.T) {
	if _, err := ParseMetadata(RawMetadata{"ExposureTime": "fast"}); err == nil {
		t.Fatal("expected type error")
	}
	if _, err := ParseMetadata(nil); err == nil {
		t.Fatal("expected error for nil metadata")
	}
	md, err := ParseMetadata(RawMetadata{"ColourTemperature": float64(5200), "SensorTimestamp": float64(99)})
	if err != nil {
		t.Fatalf("ParseMetadata: %v", err)
	}
	if md.ColourTemperature != 5200 || md.SensorTimestamp != 99 || md.LensPosition != nil || md.ColourGains != nil {
		t.Fatalf("unexpected metadata %+v", md)
	}
}
