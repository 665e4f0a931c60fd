package device

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// runCommand executes a system command and returns its stdout. It is a
// package-level variable so tests can replace it with a stub.
var runCommand = func(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if stderr := strings.TrimSpace(string(exitErr.Stderr)); stderr != "" {
				return out, fmt.Errorf("%w: %s", err, stderr)
			}
		}
		return out, err
	}
	return out, nil
}

var geteuid = os.Geteuid

// privileged runs name through "sudo --non-interactive" when useSudo is set
// and the process is not already root.
func privileged(ctx context.Context, useSudo bool, name string, args ...string) ([]byte, error) {
	if useSudo && geteuid() != 0 {
		return runCommand(ctx, "sudo", append([]string{"--non-interactive", "--", name}, args...)...)
	}
	return runCommand(ctx, name, args...)
}
