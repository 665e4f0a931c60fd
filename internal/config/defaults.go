package config

const (
	defaultConfigPath            = "~/.config/ipoddock/config.toml"
	defaultQueueDir              = "~/.local/share/ipoddock/queue"
	defaultInboxDir              = "~/.local/share/ipoddock/inbox"
	defaultWorkDir               = "~/.cache/ipoddock/work"
	defaultLogDir                = "~/.local/share/ipoddock/logs"
	defaultAPIBind               = "127.0.0.1:8000"
	defaultMaxUploadMB           = 100
	defaultSyncPerMinute         = 12
	defaultDevice                = "/dev/disk/by-label/IPOD"
	defaultMountPoint            = "/media/ipod"
	defaultUSBVendorID           = "05ac"
	defaultUSBProductID          = "1209"
	defaultDeviceSettleSeconds   = 3
	defaultBitrate               = 192
	defaultFFmpegBinary          = "ffmpeg"
	defaultFFprobeBinary         = "ffprobe"
	defaultInboxSettleSeconds    = 2
	defaultSyncTimeoutSeconds    = 1800
	defaultCleanupTimeoutSeconds = 120
	defaultMaxAttempts           = 5
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultLogRetentionDays      = 30
	defaultLogMaxSizeMB          = 20
	defaultLogMaxBackups         = 5
	defaultNotifyTimeoutSeconds  = 10
)

// DefaultSupportedFormats lists extensions the player decodes natively.
var DefaultSupportedFormats = []string{".mp3", ".m4a", ".m4b", ".aac", ".aif", ".aiff", ".wav"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	formats := make([]string, len(DefaultSupportedFormats))
	copy(formats, DefaultSupportedFormats)
	return Config{
		Paths: Paths{
			QueueDir: defaultQueueDir,
			InboxDir: defaultInboxDir,
			WorkDir:  defaultWorkDir,
			LogDir:   defaultLogDir,
		},
		API: API{
			Bind:        defaultAPIBind,
			MaxUploadMB: defaultMaxUploadMB,
			SyncPerMin:  defaultSyncPerMinute,
		},
		Device: Device{
			Device:        defaultDevice,
			MountPoint:    defaultMountPoint,
			AutoDetect:    true,
			Eject:         true,
			USBVendorID:   defaultUSBVendorID,
			USBProductID:  defaultUSBProductID,
			SettleSeconds: defaultDeviceSettleSeconds,
		},
		Audio: Audio{
			SupportedFormats: formats,
			Bitrate:          defaultBitrate,
			FFmpegBinary:     defaultFFmpegBinary,
			FFprobeBinary:    defaultFFprobeBinary,
		},
		Inbox: Inbox{
			Enabled:       true,
			SettleSeconds: defaultInboxSettleSeconds,
		},
		Workflow: Workflow{
			SyncTimeoutSeconds:    defaultSyncTimeoutSeconds,
			CleanupTimeoutSeconds: defaultCleanupTimeoutSeconds,
			MaxAttempts:           defaultMaxAttempts,
			AutoSync:              true,
		},
		Notify: Notify{
			RequestTimeoutSeconds: defaultNotifyTimeoutSeconds,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
			MaxSizeMB:     defaultLogMaxSizeMB,
			MaxBackups:    defaultLogMaxBackups,
		},
	}
}
