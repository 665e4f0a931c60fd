package device

import (
	"context"
	"fmt"
)

// Ejector defines device eject operations.
type Ejector interface {
	Eject(ctx context.Context, device string) error
}

type commandEjector struct {
	useSudo bool
}

// NewEjector creates an ejector that shells out to the eject utility.
func NewEjector(useSudo bool) Ejector {
	return commandEjector{useSudo: useSudo}
}

func (e commandEjector) Eject(ctx context.Context, device string) error {
	if _, err := privileged(ctx, e.useSudo, "eject", device); err != nil {
		return fmt.Errorf("eject %s: %w", device, err)
	}
	return nil
}
