package pad

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a pad location could not be opened in the requested mode. For reads
	// this usually means the device and host were never paired.
	ErrNotFound = errors.New("pad not found")
	// ErrNoMountPoint indicates the device volume is not mounted anywhere.
	ErrNoMountPoint = errors.New("volume has no mount point")
	// ErrShortRead indicates a pad exists but holds fewer than Size bytes. This is a corruption
	// condition (for example an interrupted write), not a missing pairing.
	ErrShortRead = errors.New("pad is truncated")
)

// ShortReadError reports how much of a truncated pad could be read.
type ShortReadError struct {
	Name string
	Read int
}

func (e *ShortReadError) Error() string {
	return fmt.Sprintf("%s: read %d of %d bytes", e.Name, e.Read, Size)
}

func (e *ShortReadError) Unwrap() error {
	return ErrShortRead
}

func notFound(name string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrNotFound, name, err)
}
