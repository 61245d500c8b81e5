package monitor

import (
	"errors"
	"fmt"
	"strings"

	"netifmon/internal/models"
)

var (
	ErrNotFound    = errors.New("interface not monitored")
	ErrCapacity    = errors.New("monitor registry full")
	ErrSpawn       = errors.New("failed to start sampler")
	ErrParse       = errors.New("malformed sampler line")
	ErrJoinTimeout = errors.New("timed out stopping monitor")
	ErrInvalidName = errors.New("invalid interface name")
)

// ValidateName rejects names that cannot be a Linux interface name or would
// overflow the fixed-size name field.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if len(name) > models.MaxNameLen {
		return fmt.Errorf("%w: %q exceeds %d bytes", ErrInvalidName, name, models.MaxNameLen)
	}
	if name == "." || name == ".." || strings.ContainsAny(name, "/: \t\r\n\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
