package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"ipoddock/internal/config"
	"ipoddock/internal/logging"
	"ipoddock/internal/services"
)

const defaultDeviceWait = 5 * time.Second

// Handle is a live, exclusive claim on the mounted player filesystem.
type Handle struct {
	DevicePath string
	MountPoint string
	AcquiredAt time.Time
	// Mounted reports whether Acquire ran mount itself rather than reusing
	// an existing mount.
	Mounted bool

	released bool
}

// MountObserver is told about every successful Acquire and every Release.
type MountObserver interface {
	MountAcquired(h *Handle)
	MountReleased(h *Handle, err error)
}

// Manager serializes access to the player's block device.
type Manager struct {
	device     string
	mountPoint string
	autoDetect bool
	useSudo    bool
	eject      bool
	deviceWait time.Duration

	lockPath string
	logger   *slog.Logger
	observer MountObserver
	ejector  Ejector

	mu        sync.Mutex
	current   *Handle
	acquiring bool
	lock      *flock.Flock
}

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logging.NewComponentLogger(logger, "device") }
}

// WithObserver registers the mount-change observer.
func WithObserver(observer MountObserver) Option {
	return func(m *Manager) { m.observer = observer }
}

// WithEjector replaces the eject implementation.
func WithEjector(ejector Ejector) Option {
	return func(m *Manager) { m.ejector = ejector }
}

// WithDeviceWait bounds how long Acquire waits for the device node to appear.
func WithDeviceWait(d time.Duration) Option {
	return func(m *Manager) { m.deviceWait = d }
}

// NewManager builds a Manager from the device section of cfg.
func NewManager(cfg *config.Config, opts ...Option) *Manager {
	m := &Manager{
		device:     cfg.Device.Device,
		mountPoint: filepath.Clean(cfg.Device.MountPoint),
		autoDetect: cfg.Device.AutoDetect,
		useSudo:    cfg.Device.UseSudo,
		eject:      cfg.Device.Eject,
		deviceWait: defaultDeviceWait,
		lockPath:   cfg.DeviceLockPath(),
		logger:     logging.NewComponentLogger(nil, "device"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.ejector == nil {
		m.ejector = NewEjector(m.useSudo)
	}
	return m
}

// MountPoint returns the configured mount point.
func (m *Manager) MountPoint() string {
	return m.mountPoint
}

// Live reports whether a handle is currently outstanding.
func (m *Manager) Live() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

// Current returns a copy of the live handle, or nil.
func (m *Manager) Current() *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	h := *m.current
	return &h
}

// Acquire locates and mounts the player, returning an exclusive handle.
// devicePath overrides configuration and detection when non-empty.
func (m *Manager) Acquire(ctx context.Context, devicePath string) (*Handle, error) {
	m.mu.Lock()
	if m.current != nil || m.acquiring {
		m.mu.Unlock()
		return nil, services.Wrap(services.ErrDeviceBusy, "device", "acquire", "a mount handle is already live", nil)
	}
	m.acquiring = true
	m.mu.Unlock()

	h, lock, err := m.acquire(ctx, devicePath)

	m.mu.Lock()
	m.acquiring = false
	if err == nil {
		m.current = h
		m.lock = lock
	}
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if m.observer != nil {
		m.observer.MountAcquired(h)
	}
	return h, nil
}

func (m *Manager) acquire(ctx context.Context, devicePath string) (*Handle, *flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(m.lockPath), 0o755); err != nil {
		return nil, nil, services.Wrap(services.ErrConfiguration, "device", "acquire", "create lock directory", err)
	}
	lock := flock.New(m.lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, nil, services.Wrap(services.ErrDeviceBusy, "device", "acquire", "lock device", err)
	}
	if !locked {
		return nil, nil, services.Wrap(services.ErrDeviceBusy, "device", "acquire", "device lock held by another process", nil)
	}

	h, err := m.mount(ctx, devicePath)
	if err != nil {
		_ = lock.Unlock()
		return nil, nil, err
	}
	return h, lock, nil
}

func (m *Manager) mount(ctx context.Context, devicePath string) (*Handle, error) {
	device := m.resolveDevice(ctx, devicePath)
	if !waitForDevice(ctx, device, m.deviceWait) {
		if err := ctx.Err(); err != nil {
			return nil, services.Wrap(services.ErrDeviceNotFound, "device", "acquire", fmt.Sprintf("waiting for %s", device), err)
		}
		return nil, services.Wrap(services.ErrDeviceNotFound, "device", "acquire", fmt.Sprintf("%s does not exist", device), nil)
	}
	device = canonicalPath(device)
	logger := m.logger.With(logging.String(logging.FieldDevice, device), logging.String(logging.FieldMountPoint, m.mountPoint))

	points, err := resolveMountPoints(device)
	if err != nil && !errors.Is(err, errMountNotFound) {
		return nil, services.Wrap(services.ErrExternalTool, "device", "acquire", "read mount table", err)
	}
	for _, point := range points {
		if filepath.Clean(point) == m.mountPoint {
			logger.Info("device already mounted",
				logging.String("decision_type", "mount"),
				logging.String("decision_result", "reuse"),
				logging.String("decision_reason", "found at configured mount point in mount table"),
			)
			return &Handle{DevicePath: device, MountPoint: m.mountPoint, AcquiredAt: time.Now(), Mounted: false}, nil
		}
	}

	if other, err := deviceAt(m.mountPoint); err == nil && !sameDevice(canonicalPath(other), device) {
		return nil, services.Wrap(services.ErrDeviceBusy, "device", "acquire",
			fmt.Sprintf("mount point %s is occupied by %s", m.mountPoint, other), nil)
	}

	if err := os.MkdirAll(m.mountPoint, 0o755); err != nil {
		if !m.useSudo {
			return nil, services.Wrap(services.ErrConfiguration, "device", "acquire", "create mount point", err)
		}
		if _, err := privileged(ctx, m.useSudo, "mkdir", "-p", m.mountPoint); err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "device", "acquire", "create mount point", err)
		}
	}

	logger.Info("mounting device",
		logging.String("decision_type", "mount"),
		logging.String("decision_result", "mount"),
		logging.String("decision_reason", "device not mounted at configured mount point"),
	)
	if _, err := privileged(ctx, m.useSudo, "mount", device, m.mountPoint); err != nil {
		// A partition that will not mount is as unusable as a missing one;
		// the cause keeps the mount(8) output.
		return nil, services.Wrap(services.ErrDeviceNotFound, "device", "mount", fmt.Sprintf("mount %s at %s", device, m.mountPoint), err)
	}
	return &Handle{DevicePath: device, MountPoint: m.mountPoint, AcquiredAt: time.Now(), Mounted: true}, nil
}

func (m *Manager) resolveDevice(ctx context.Context, devicePath string) string {
	if devicePath != "" {
		return devicePath
	}
	if !m.autoDetect {
		return m.device
	}
	// An existing by-label link is authoritative; detection is the fallback.
	if m.device != "" {
		if _, err := os.Stat(m.device); err == nil {
			return m.device
		}
	}
	candidate, err := Detect(ctx)
	if err != nil {
		m.logger.Debug("device detection failed; using configured device",
			logging.Error(err),
			logging.String(logging.FieldDevice, m.device),
		)
		return m.device
	}
	m.logger.Info("detected device",
		logging.String(logging.FieldDevice, candidate.Path),
		logging.String("fstype", candidate.FSType),
		logging.Int64("size_bytes", candidate.Size),
		logging.String("label", candidate.Label),
	)
	return candidate.Path
}

// Release flushes, unmounts and (optionally) ejects the device. The handle
// is invalidated and the lock dropped whatever the outcome; an umount
// failure is returned wrapped in ErrUnmount. Releasing a handle that is not
// live is a no-op.
func (m *Manager) Release(ctx context.Context, h *Handle) error {
	m.mu.Lock()
	if h == nil || h.released || m.current == nil || m.current != h {
		m.mu.Unlock()
		return nil
	}
	h.released = true
	m.current = nil
	lock := m.lock
	m.lock = nil
	m.mu.Unlock()

	err := m.unmount(ctx, h)
	if lock != nil {
		if unlockErr := lock.Unlock(); unlockErr != nil {
			m.logger.Debug("device lock release failed", logging.Error(unlockErr))
		}
	}
	if m.observer != nil {
		m.observer.MountReleased(h, err)
	}
	return err
}

func (m *Manager) unmount(ctx context.Context, h *Handle) error {
	logger := m.logger.With(logging.String(logging.FieldDevice, h.DevicePath), logging.String(logging.FieldMountPoint, h.MountPoint))

	unix.Sync()

	logger.Info("unmounting device")
	if _, err := privileged(ctx, m.useSudo, "umount", h.MountPoint); err != nil {
		wrapped := services.Wrap(services.ErrUnmount, "device", "release", fmt.Sprintf("umount %s", h.MountPoint), err)
		logging.WarnWithContext(logger, "unmount failed", "unmount_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "run umount "+h.MountPoint+" manually before unplugging"),
			logging.String(logging.FieldImpact, "device is unsafe to disconnect"),
		)
		return wrapped
	}

	if m.eject {
		if err := m.ejector.Eject(ctx, h.DevicePath); err != nil {
			logging.WarnWithContext(logger, "eject failed", "eject_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "the filesystem is unmounted; the player may keep showing do-not-disconnect"),
				logging.String(logging.FieldImpact, "none to data; the player may need a manual eject"),
			)
		}
	}
	logger.Info("device released", logging.Duration("held", time.Since(h.AcquiredAt)))
	return nil
}
