// Package device owns the player's block device: locating it, mounting it
// at the configured mount point, and flushing, unmounting and ejecting it
// when a sync session ends.
//
// A Manager hands out at most one live Handle at a time. Exclusivity holds
// within the process (a second Acquire fails fast with ErrDeviceBusy) and
// across processes through a flock on the device lock file. Release always
// invalidates the handle and drops the lock, even when umount fails, so the
// next session is never wedged behind a stale handle.
//
// System commands go through the package-level runCommand variable so tests
// can substitute a recorder.
package device
