package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeAPI()
	if err := c.normalizeDevice(); err != nil {
		return err
	}
	c.normalizeAudio()
	c.normalizeInbox()
	c.normalizeWorkflow()
	c.normalizeNotify()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.QueueDir, err = expandPath(strings.TrimSpace(c.Paths.QueueDir)); err != nil {
		return fmt.Errorf("paths.queue_dir: %w", err)
	}
	if c.Paths.InboxDir, err = expandPath(strings.TrimSpace(c.Paths.InboxDir)); err != nil {
		return fmt.Errorf("paths.inbox_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		c.Paths.WorkDir = defaultWorkDir
	}
	if c.Paths.WorkDir, err = expandPath(strings.TrimSpace(c.Paths.WorkDir)); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if value, ok := lookupEnv("IPOD_API_TOKEN", "IPOD_API_KEY"); ok {
		c.API.Token = value
	}
	c.API.Token = strings.TrimSpace(c.API.Token)
	if c.API.MaxUploadMB <= 0 {
		c.API.MaxUploadMB = defaultMaxUploadMB
	}
	if c.API.SyncPerMin < 0 {
		c.API.SyncPerMin = 0
	}
}

func (c *Config) normalizeDevice() error {
	if value, ok := lookupEnv("IPOD_DEVICE"); ok {
		c.Device.Device = value
		// An explicit device in the environment wins over detection.
		c.Device.AutoDetect = false
	}
	if value, ok := lookupEnv("IPOD_MOUNT"); ok {
		c.Device.MountPoint = value
	}
	c.Device.Device = strings.TrimSpace(c.Device.Device)
	var err error
	if c.Device.MountPoint, err = expandPath(strings.TrimSpace(c.Device.MountPoint)); err != nil {
		return fmt.Errorf("device.mount_point: %w", err)
	}
	c.Device.USBVendorID = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c.Device.USBVendorID), "0x"))
	c.Device.USBProductID = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c.Device.USBProductID), "0x"))
	if c.Device.SettleSeconds < 0 {
		c.Device.SettleSeconds = 0
	}
	return nil
}

func (c *Config) normalizeAudio() {
	formats := make([]string, 0, len(c.Audio.SupportedFormats))
	seen := make(map[string]struct{}, len(c.Audio.SupportedFormats))
	for _, format := range c.Audio.SupportedFormats {
		normalized := strings.ToLower(strings.TrimSpace(format))
		if normalized == "" {
			continue
		}
		if !strings.HasPrefix(normalized, ".") {
			normalized = "." + normalized
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		formats = append(formats, normalized)
	}
	if len(formats) == 0 {
		formats = append(formats, DefaultSupportedFormats...)
	}
	c.Audio.SupportedFormats = formats
	c.Audio.FFmpegBinary = strings.TrimSpace(c.Audio.FFmpegBinary)
	if c.Audio.FFmpegBinary == "" {
		c.Audio.FFmpegBinary = defaultFFmpegBinary
	}
	c.Audio.FFprobeBinary = strings.TrimSpace(c.Audio.FFprobeBinary)
	if c.Audio.FFprobeBinary == "" {
		c.Audio.FFprobeBinary = defaultFFprobeBinary
	}
}

func (c *Config) normalizeInbox() {
	if value, ok := lookupEnv("IPOD_KEEP_LOCAL"); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			c.Inbox.KeepSource = parsed
		}
	}
	if c.Inbox.SettleSeconds <= 0 {
		c.Inbox.SettleSeconds = defaultInboxSettleSeconds
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.CleanupTimeoutSeconds <= 0 {
		c.Workflow.CleanupTimeoutSeconds = defaultCleanupTimeoutSeconds
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	if value, ok := lookupEnv("IPOD_LOG_LEVEL"); ok {
		c.Logging.Level = value
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = defaultLogMaxSizeMB
	}
	if c.Logging.MaxBackups < 0 {
		c.Logging.MaxBackups = 0
	}
}

// lookupEnv returns the first non-empty value among keys.
func lookupEnv(keys ...string) (string, bool) {
	for _, key := range keys {
		if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value), true
		}
	}
	return "", false
}

func (c *Config) normalizeNotify() {
	if value, ok := lookupEnv("IPOD_NTFY_TOPIC"); ok {
		c.Notify.NtfyTopic = value
	}
	c.Notify.NtfyTopic = strings.TrimSpace(c.Notify.NtfyTopic)
	if c.Notify.RequestTimeoutSeconds <= 0 {
		c.Notify.RequestTimeoutSeconds = defaultNotifyTimeoutSeconds
	}
}
