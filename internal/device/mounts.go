package device

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var errMountNotFound = errors.New("mount not found")

// mountsFile is read to discover existing mounts.
var mountsFile = "/proc/mounts"

type mountEntry struct {
	device string
	path   string
}

func readMounts() ([]mountEntry, error) {
	f, err := os.Open(mountsFile)
	if err != nil {
		return nil, fmt.Errorf("open mounts: %w", err)
	}
	defer f.Close()

	var entries []mountEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		entries = append(entries, mountEntry{
			device: decodeMountField(fields[0]),
			path:   decodeMountField(fields[1]),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan mounts: %w", err)
	}
	return entries, nil
}

// resolveMountPoints returns every path device is mounted at.
func resolveMountPoints(device string) ([]string, error) {
	entries, err := readMounts()
	if err != nil {
		return nil, err
	}
	requested := canonicalPath(device)
	var points []string
	for _, entry := range entries {
		if sameDevice(requested, canonicalPath(entry.device)) {
			points = append(points, entry.path)
		}
	}
	if len(points) == 0 {
		return nil, errMountNotFound
	}
	return points, nil
}

// deviceAt returns the device mounted at mountPoint.
func deviceAt(mountPoint string) (string, error) {
	entries, err := readMounts()
	if err != nil {
		return "", err
	}
	want := filepath.Clean(mountPoint)
	for i := len(entries) - 1; i >= 0; i-- {
		if filepath.Clean(entries[i].path) == want {
			return entries[i].device, nil
		}
	}
	return "", errMountNotFound
}

func canonicalPath(path string) string {
	canonical, _ := filepath.EvalSymlinks(path)
	if canonical == "" {
		return path
	}
	return canonical
}

func decodeMountField(field string) string {
	replacer := strings.NewReplacer(
		"\\040", " ",
		"\\011", "\t",
		"\\012", "\n",
		"\\134", "\\",
	)
	return replacer.Replace(field)
}

func sameDevice(a, b string) bool {
	if a == b {
		return true
	}
	if strings.HasPrefix(a, "/dev/") && strings.HasPrefix(b, "/dev/") {
		return filepath.Base(a) == filepath.Base(b)
	}
	return false
}
