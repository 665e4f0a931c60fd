package daemon

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/pilebones/go-udev/netlink"

	"ipoddock/internal/config"
	"ipoddock/internal/logging"
	"ipoddock/internal/syncer"
)

// netlinkMonitor listens for udev netlink events and triggers a sync when the
// player is plugged in. This avoids udev rules that call the CLI as root.
type netlinkMonitor struct {
	logger    *slog.Logger
	trigger   func(reason string) bool
	vendorID  string
	productID string
	settle    time.Duration

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
	pending *time.Timer
}

// newNetlinkMonitor creates a monitor for the configured USB vendor/product.
func newNetlinkMonitor(cfg *config.Config, logger *slog.Logger, trigger func(reason string) bool) *netlinkMonitor {
	if cfg == nil {
		return nil
	}
	vendor := strings.ToLower(strings.TrimSpace(cfg.Device.USBVendorID))
	if vendor == "" {
		return nil
	}
	return &netlinkMonitor{
		logger:    logging.NewComponentLogger(logger, "netlink-monitor"),
		trigger:   trigger,
		vendorID:  vendor,
		productID: strings.ToLower(strings.TrimSpace(cfg.Device.USBProductID)),
		settle:    time.Duration(cfg.Device.SettleSeconds) * time.Second,
	}
}

// Start begins listening for udev netlink events.
func (m *netlinkMonitor) Start(ctx context.Context) error {
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
		logging.WarnWithContext(m.logger, "failed to connect to netlink socket; syncs need a manual or API trigger", "netlink_connect_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "ensure the daemon has permission to access netlink sockets"),
			logging.String(logging.FieldImpact, "plugging in the player will not start a sync"),
		)
		return nil
	}

	m.conn = conn
	m.quit = make(chan struct{})
	m.running = true

	quit := m.quit
	go m.monitorLoop(ctx, quit)

	m.logger.Info("netlink monitor started",
		logging.String(logging.FieldEventType, "netlink_monitor_started"),
		logging.String("usb_vendor_id", m.vendorID),
		logging.String("usb_product_id", m.productID),
	)
	return nil
}

// Stop shuts down the netlink monitor and drops any pending trigger.
func (m *netlinkMonitor) Stop() {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending != nil {
		m.pending.Stop()
		m.pending = nil
	}
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

	m.logger.Info("netlink monitor stopped",
		logging.String(logging.FieldEventType, "netlink_monitor_stopped"),
	)
}

// Running reports whether the netlink monitor is active.
func (m *netlinkMonitor) Running() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *netlinkMonitor) monitorLoop(ctx context.Context, quit <-chan struct{}) {
	events := make(chan netlink.UEvent)
	errs := make(chan error)

	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return
	}

	monitorQuit := conn.Monitor(events, errs, m.buildMatcher())

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-events:
			m.handleEvent(ctx, uevent)
		case err := <-errs:
			logging.WarnWithContext(m.logger, "netlink monitor error", "netlink_monitor_error",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check kernel netlink subsystem"),
				logging.String(logging.FieldImpact, "player attach detection may be affected"),
			)
		}
	}
}

// buildMatcher matches ACTION=add for the configured USB device.
func (m *netlinkMonitor) buildMatcher() netlink.Matcher {
	// Rule values are unanchored regular expressions.
	action := "^add$"
	env := map[string]string{
		"SUBSYSTEM":    "^usb$",
		"DEVTYPE":      "^usb_device$",
		"ID_VENDOR_ID": "^" + regexp.QuoteMeta(m.vendorID) + "$",
	}
	if m.productID != "" {
		env["ID_MODEL_ID"] = "^" + regexp.QuoteMeta(m.productID) + "$"
	}
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{Action: &action, Env: env})
	return rules
}

func (m *netlinkMonitor) handleEvent(ctx context.Context, uevent netlink.UEvent) {
	vendor := strings.ToLower(uevent.Env["ID_VENDOR_ID"])
	product := strings.ToLower(uevent.Env["ID_MODEL_ID"])
	if vendor != m.vendorID || (m.productID != "" && product != m.productID) {
		m.logger.Debug("ignoring usb event for another device",
			logging.String("usb_vendor_id", vendor),
			logging.String("usb_product_id", product),
		)
		return
	}
	if ctx.Err() != nil {
		return
	}

	m.logger.Info("player attached via netlink",
		logging.String(logging.FieldEventType, "netlink_player_attached"),
		logging.String("devpath", uevent.Env["DEVPATH"]),
		logging.Duration("settle", m.settle),
	)
	m.schedule()
}

// schedule debounces attach events: a burst yields one trigger after settle.
func (m *netlinkMonitor) schedule() {
	if m.trigger == nil {
		return
	}
	if m.settle <= 0 {
		m.fire()
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending != nil {
		m.pending.Reset(m.settle)
		return
	}
	m.pending = time.AfterFunc(m.settle, func() {
		m.mu.Lock()
		m.pending = nil
		m.mu.Unlock()
		m.fire()
	})
}

func (m *netlinkMonitor) fire() {
	result := "started"
	if !m.trigger(syncer.ReasonUSB) {
		result = "not_started"
	}
	m.logger.Info("usb sync trigger",
		logging.String("decision_type", "sync_trigger"),
		logging.String("decision_result", result),
		logging.String("decision_reason", "player attached"),
	)
}
