package device

import "testing"

// FakeSystem lets tests outside the package drive a Manager against the
// stubbed mount table.
type FakeSystem = fakeSystem

// InstallFakeSystem replaces system commands and the mount table for t.
func InstallFakeSystem(t *testing.T) *FakeSystem { return installFakeSystem(t) }

// Commands returns the system commands run so far.
func (fs *fakeSystem) Commands() []string { return fs.commands() }

// Mounted reports whether anything is mounted at mountPoint.
func (fs *fakeSystem) Mounted(mountPoint string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, ok := fs.mounts[mountPoint]
	return ok
}
