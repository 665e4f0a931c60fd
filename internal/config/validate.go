package config

import (
	"errors"
	"fmt"
	"strings"
)

const (
	minBitrate = 64
	maxBitrate = 320
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateDevice(); err != nil {
		return err
	}
	if err := c.validateAudio(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateNotify(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.QueueDir == "" {
		return errors.New("paths.queue_dir must be set")
	}
	if c.Inbox.Enabled && c.Paths.InboxDir == "" {
		return errors.New("paths.inbox_dir must be set when inbox.enabled is true")
	}
	if c.Inbox.Enabled && c.Paths.InboxDir == c.Paths.QueueDir {
		return errors.New("paths.inbox_dir must differ from paths.queue_dir")
	}
	return nil
}

func (c *Config) validateDevice() error {
	if !c.Device.AutoDetect && c.Device.Device == "" {
		return errors.New("device.device must be set when device.auto_detect is false")
	}
	if c.Device.MountPoint == "" || c.Device.MountPoint == "/" {
		return fmt.Errorf("device.mount_point %q is not a usable mount point", c.Device.MountPoint)
	}
	if err := validateUSBID("device.usb_vendor_id", c.Device.USBVendorID); err != nil {
		return err
	}
	if err := validateUSBID("device.usb_product_id", c.Device.USBProductID); err != nil {
		return err
	}
	return nil
}

func validateUSBID(field, value string) error {
	if value == "" {
		return nil
	}
	if len(value) != 4 {
		return fmt.Errorf("%s must be four hex digits, got %q", field, value)
	}
	for _, r := range value {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return fmt.Errorf("%s must be four hex digits, got %q", field, value)
		}
	}
	return nil
}

func (c *Config) validateAudio() error {
	if c.Audio.Bitrate < minBitrate || c.Audio.Bitrate > maxBitrate {
		return fmt.Errorf("audio.bitrate must be between %d and %d kbps", minBitrate, maxBitrate)
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.SyncTimeoutSeconds <= 0 {
		return errors.New("workflow.sync_timeout_seconds must be positive")
	}
	if c.Workflow.CleanupTimeoutSeconds <= 0 {
		return errors.New("workflow.cleanup_timeout_seconds must be positive")
	}
	if c.Workflow.MaxAttempts < 1 {
		return errors.New("workflow.max_attempts must be at least 1")
	}
	return nil
}

func (c *Config) validateNotify() error {
	topic := c.Notify.NtfyTopic
	if topic == "" {
		return nil
	}
	if !strings.HasPrefix(topic, "http://") && !strings.HasPrefix(topic, "https://") {
		return fmt.Errorf("notify.ntfy_topic must be an http(s) URL, got %q", topic)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
}
