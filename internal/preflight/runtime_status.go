package preflight

import (
	"context"
	"fmt"
	"os"
	"time"

	"ipoddock/internal/config"
	"ipoddock/internal/device"
)

// DeviceProbe reports whether the player is currently attached.
type DeviceProbe struct {
	Detected bool
	Device   string
	Label    string
	FSType   string
}

// ProbeDevice looks for the player without mounting it.
func ProbeDevice(ctx context.Context, cfg *config.Config) DeviceProbe {
	if cfg == nil {
		return DeviceProbe{}
	}
	if cfg.Device.AutoDetect {
		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if candidate, err := device.Detect(probeCtx); err == nil {
			return DeviceProbe{Detected: true, Device: candidate.Path, Label: candidate.Label, FSType: candidate.FSType}
		}
	}
	if _, err := os.Stat(cfg.Device.Device); err == nil {
		return DeviceProbe{Detected: true, Device: cfg.Device.Device}
	}
	return DeviceProbe{Device: cfg.Device.Device}
}

// DeviceDetail renders a display-friendly summary for status UIs.
func (p DeviceProbe) DeviceDetail() string {
	if !p.Detected {
		return "No player detected"
	}
	if p.Label == "" {
		return fmt.Sprintf("Player on %s", p.Device)
	}
	return fmt.Sprintf("Player '%s' (%s) on %s", p.Label, p.FSType, p.Device)
}
