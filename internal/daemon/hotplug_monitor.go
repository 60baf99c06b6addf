package daemon

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pilebones/go-udev/netlink"

	"folio/internal/config"
	"folio/internal/logging"
)

// hotplugMonitor listens for udev netlink events on video4linux devices and
// re-runs camera detection once the bus has been quiet for the debounce
// period. Attaching a camera module produces a burst of node events; the
// debounce collapses each burst into a single detection.
type hotplugMonitor struct {
	logger   *slog.Logger
	handler  func(ctx context.Context) error
	debounce time.Duration

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	timer   *time.Timer
	pending []string
	running bool
	fired   int
}

// newHotplugMonitor creates a monitor when hotplug is enabled in cfg.
func newHotplugMonitor(cfg *config.Config, logger *slog.Logger, handler func(ctx context.Context) error) *hotplugMonitor {
	if cfg == nil || !cfg.Daemon.Hotplug {
		return nil
	}
	return &hotplugMonitor{
		logger:   logging.NewComponentLogger(logger, "hotplug-monitor"),
		handler:  handler,
		debounce: cfg.HotplugDebounce(),
	}
}

// Start begins listening for udev netlink events. Failure to open the netlink
// socket is logged and otherwise ignored; detection stays available on demand.
func (m *hotplugMonitor) Start(ctx context.Context) error {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		logging.WarnWithContext(m.logger, "failed to connect to netlink socket; cameras will only be detected on request",
			"netlink_connect_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "ensure the daemon has permission to access netlink sockets"),
			logging.String(logging.FieldImpact, "camera hotplug is not detected automatically"),
		)
		return nil
	}

	m.conn = conn
	m.quit = make(chan struct{})
	m.running = true

	quit := m.quit
	go m.monitorLoop(ctx, conn, quit)

	m.logger.Info("hotplug monitor started",
		logging.String(logging.FieldEventType, "hotplug_monitor_started"),
		logging.Duration("debounce", m.debounce),
	)
	return nil
}

// Stop shuts down the monitor and drops any pending detection.
func (m *hotplugMonitor) Stop() {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.pending = nil

	if !m.running {
		return
	}
	if m.quit != nil {
		close(m.quit)
		m.quit = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.running = false

	m.logger.Info("hotplug monitor stopped",
		logging.String(logging.FieldEventType, "hotplug_monitor_stopped"),
	)
}

// Running reports whether the netlink listener is active.
func (m *hotplugMonitor) Running() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *hotplugMonitor) monitorLoop(ctx context.Context, conn *netlink.UEventConn, quit <-chan struct{}) {
	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(queue, errs, m.buildMatcher())

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-queue:
			m.handleEvent(ctx, uevent)
		case err := <-errs:
			logging.WarnWithContext(m.logger, "netlink monitor error",
				"hotplug_monitor_error",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check kernel netlink subsystem"),
				logging.String(logging.FieldImpact, "camera hotplug may be missed"),
			)
		}
	}
}

// buildMatcher matches video4linux add and remove events.
func (m *hotplugMonitor) buildMatcher() netlink.Matcher {
	action := "add|remove"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "video4linux",
		},
	})
	return rules
}

// handleEvent records a matched uevent and (re)arms the debounce timer.
func (m *hotplugMonitor) handleEvent(ctx context.Context, uevent netlink.UEvent) {
	devname := extractDeviceName(uevent)
	if devname == "" {
		m.logger.Debug("ignoring event without device name",
			logging.String("action", string(uevent.Action)),
			logging.String("kobj", uevent.KObj),
		)
		return
	}

	m.logger.Debug("camera device event",
		logging.String("device", devname),
		logging.String("action", string(uevent.Action)),
	)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, string(uevent.Action)+" "+devname)
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.debounce, func() { m.fire(ctx) })
}

// fire runs detection for the events collected since the last quiet period.
func (m *hotplugMonitor) fire(ctx context.Context) {
	m.mu.Lock()
	events := m.pending
	m.pending = nil
	m.timer = nil
	m.fired++
	m.mu.Unlock()

	if len(events) == 0 || ctx.Err() != nil {
		return
	}

	m.logger.Info("camera hotplug detected",
		logging.String(logging.FieldEventType, "hotplug_detected"),
		logging.Int("events", len(events)),
		logging.String("devices", strings.Join(events, ", ")),
	)
	if m.handler == nil {
		return
	}
	if err := m.handler(ctx); err != nil {
		logging.WarnWithContext(m.logger, "camera detection after hotplug failed",
			"hotplug_detection_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "run folio cameras detect to retry"),
			logging.String(logging.FieldImpact, "camera registry may not reflect attached cameras"),
		)
	}
}

// extractDeviceName gets the device path from a uevent.
func extractDeviceName(uevent netlink.UEvent) string {
	if devname := uevent.Env["DEVNAME"]; devname != "" {
		if !strings.HasPrefix(devname, "/") {
			return "/dev/" + devname
		}
		return devname
	}

	devpath := uevent.Env["DEVPATH"]
	if devpath == "" {
		return ""
	}
	parts := strings.Split(devpath, "/")
	return "/dev/" + parts[len(parts)-1]
}
