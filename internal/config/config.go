package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	QueueDir string `toml:"queue_dir"`
	InboxDir string `toml:"inbox_dir"`
	WorkDir  string `toml:"work_dir"`
	LogDir   string `toml:"log_dir"`
}

// API contains HTTP API configuration.
type API struct {
	Bind        string `toml:"bind"`
	Token       string `toml:"token"`
	MaxUploadMB int    `toml:"max_upload_mb"`
	SyncPerMin  int    `toml:"sync_requests_per_minute"`
}

// Device contains configuration for locating and mounting the player.
type Device struct {
	Device        string `toml:"device"`
	MountPoint    string `toml:"mount_point"`
	AutoDetect    bool   `toml:"auto_detect"`
	UseSudo       bool   `toml:"use_sudo"`
	Eject         bool   `toml:"eject"`
	USBVendorID   string `toml:"usb_vendor_id"`
	USBProductID  string `toml:"usb_product_id"`
	SettleSeconds int    `toml:"settle_seconds"`
}

// Audio contains transcoding configuration.
type Audio struct {
	SupportedFormats []string `toml:"supported_formats"`
	Bitrate          int      `toml:"bitrate"`
	FFmpegBinary     string   `toml:"ffmpeg_binary"`
	FFprobeBinary    string   `toml:"ffprobe_binary"`
}

// Inbox contains configuration for the drop-folder watcher.
type Inbox struct {
	Enabled       bool `toml:"enabled"`
	SettleSeconds int  `toml:"settle_seconds"`
	KeepSource    bool `toml:"keep_source"`
}

// Workflow contains sync session timing and retry policy.
type Workflow struct {
	SyncTimeoutSeconds    int  `toml:"sync_timeout_seconds"`
	CleanupTimeoutSeconds int  `toml:"cleanup_timeout_seconds"`
	MaxAttempts           int  `toml:"max_attempts"`
	AutoSync              bool `toml:"auto_sync"`
}

// Notify contains push notification settings.
type Notify struct {
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	OnSuccess             bool   `toml:"on_success"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
	MaxSizeMB     int    `toml:"max_size_mb"`
	MaxBackups    int    `toml:"max_backups"`
}

// Config encapsulates all configuration values for ipoddock.
//
// Configuration sections by subsystem:
//   - Paths: queue, inbox, transcode work and log directories
//   - API: HTTP bind address, bearer token and upload limits
//   - Device: player block device, mount point and USB identity
//   - Audio: device-compatible formats and transcoder binaries
//   - Inbox: drop-folder watcher behaviour
//   - Workflow: sync deadlines and the retry ceiling
//   - Notify: ntfy push notifications
//   - Logging: log format, level, and rotation
type Config struct {
	Paths    Paths    `toml:"paths"`
	API      API      `toml:"api"`
	Device   Device   `toml:"device"`
	Audio    Audio    `toml:"audio"`
	Inbox    Inbox    `toml:"inbox"`
	Workflow Workflow `toml:"workflow"`
	Notify   Notify   `toml:"notify"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("ipoddock.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// The mount point is not created here; the device manager owns it.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.QueueDir, c.Paths.WorkDir, c.Paths.LogDir}
	if c.Inbox.Enabled {
		dirs = append(dirs, c.Paths.InboxDir)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.QueueDir, "ipoddock.lock")
}

// DeviceLockPath returns the lock file guarding exclusive device mounts.
func (c *Config) DeviceLockPath() string {
	return filepath.Join(c.Paths.QueueDir, "device.lock")
}

// SyncTimeout returns the overall deadline for one sync session.
func (c *Config) SyncTimeout() time.Duration {
	return time.Duration(c.Workflow.SyncTimeoutSeconds) * time.Second
}

// NotifyTimeout bounds one ntfy request.
func (c *Config) NotifyTimeout() time.Duration {
	return time.Duration(c.Notify.RequestTimeoutSeconds) * time.Second
}

// CleanupTimeout bounds commit and unmount once a session deadline has passed.
func (c *Config) CleanupTimeout() time.Duration {
	return time.Duration(c.Workflow.CleanupTimeoutSeconds) * time.Second
}

// MaxUploadBytes returns the upload size ceiling for the HTTP API.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.API.MaxUploadMB) << 20
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
