package services

import (
	"errors"
	"fmt"
	"strings"
)

// Taxonomy markers. Every failure that crosses a component boundary is
// wrapped with exactly one of these so callers can classify it with errors.Is.
var (
	ErrStorage        = errors.New("storage error")
	ErrDeviceNotFound = errors.New("device not found")
	ErrDeviceBusy     = errors.New("device busy")
	ErrUnmount        = errors.New("unmount error")
	ErrTranscode      = errors.New("transcode error")
	ErrImport         = errors.New("import error")
	ErrCommit         = errors.New("commit error")
	ErrValidation     = errors.New("validation error")
	ErrConfiguration  = errors.New("configuration error")
	ErrNotFound       = errors.New("not found")
	ErrExternalTool   = errors.New("external tool error")
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrExternalTool
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

var classification = []struct {
	marker error
	kind   string
}{
	{ErrStorage, "storage"},
	{ErrDeviceNotFound, "device_not_found"},
	{ErrDeviceBusy, "device_busy"},
	{ErrUnmount, "unmount"},
	{ErrTranscode, "transcode"},
	{ErrImport, "import"},
	{ErrCommit, "commit"},
	{ErrValidation, "validation"},
	{ErrConfiguration, "configuration"},
	{ErrNotFound, "not_found"},
	{ErrExternalTool, "external_tool"},
}

// Classify returns the taxonomy name of err, "" for nil and "unknown" when no
// marker is present. The first matching marker in taxonomy order wins.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	for _, entry := range classification {
		if errors.Is(err, entry.marker) {
			return entry.kind
		}
	}
	return "unknown"
}

// SessionLevel reports whether err aborts a whole sync session rather than a
// single queue item.
func SessionLevel(err error) bool {
	switch {
	case errors.Is(err, ErrDeviceNotFound),
		errors.Is(err, ErrDeviceBusy),
		errors.Is(err, ErrCommit),
		errors.Is(err, ErrStorage):
		return true
	default:
		return false
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
