package preflight

import (
	"context"

	"ipoddock/internal/config"
	"ipoddock/internal/deps"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Queue directory", cfg.Paths.QueueDir),
		CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}
	if cfg.Inbox.Enabled {
		results = append(results, CheckDirectoryAccess("Inbox directory", cfg.Paths.InboxDir))
	}
	results = append(results, CheckMountPoint(cfg.Device.MountPoint, cfg.Device.UseSudo))

	for _, status := range CheckSystemDeps(ctx, cfg) {
		result := Result{Name: status.Name, Passed: status.Available}
		switch {
		case status.Available:
			result.Detail = status.Path
		case status.Optional:
			result.Passed = true
			result.Detail = status.Detail + " (optional)"
		default:
			result.Detail = status.Detail
		}
		results = append(results, result)
	}
	return results
}

// Failed reports whether any result did not pass.
func Failed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return true
		}
	}
	return false
}

// CheckSystemDeps evaluates the binaries the current config needs. Both the
// daemon and the CLI use it so the requirement list lives in one place.
func CheckSystemDeps(_ context.Context, cfg *config.Config) []deps.Status {
	requirements := []deps.Requirement{
		{Name: "FFmpeg", Command: cfg.Audio.FFmpegBinary, Description: "Required to transcode incompatible audio"},
		{Name: "FFprobe", Command: cfg.Audio.FFprobeBinary, Description: "Required to read tags and validate output"},
		{Name: "mount", Command: "mount", Description: "Required to attach the player filesystem"},
		{Name: "umount", Command: "umount", Description: "Required to detach the player filesystem"},
		{Name: "lsblk", Command: "lsblk", Description: "Locates the player when auto-detect is enabled", Optional: !cfg.Device.AutoDetect},
	}
	if cfg.Device.Eject {
		requirements = append(requirements, deps.Requirement{
			Name:        "eject",
			Command:     "eject",
			Description: "Powers the player down after unmount",
			Optional:    true,
		})
	}
	if cfg.Device.UseSudo {
		requirements = append(requirements, deps.Requirement{
			Name:        "sudo",
			Command:     "sudo",
			Description: "Required for privileged mount and umount",
		})
	}
	return deps.CheckBinaries(requirements)
}
