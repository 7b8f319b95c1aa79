// Package volume locates the mounted filesystem of a removable drive.
package volume

import (
	"context"
	"errors"
)

// ErrNotPresent indicates the drive currently has no usable mounted volume.
var ErrNotPresent = errors.New("no mounted volume for drive")

// Drive identifies a physical removable device.
type Drive struct {
	Serial string
}

// Volume is a mounted filesystem on a Drive.
type Volume struct {
	Device     string // Resolved device node, e.g. /dev/sdb1.
	MountPoint string
	FSType     string
	Ignored    bool
}

//go:generate mockgen -destination=../../mocks/volume.go -package=mocks -mock_names=Resolver=MockResolver . Resolver

// Resolver maps a Drive to its mounted volume.
//
// Implementations must only return volumes that are mounted and not ignored, and must be safe to
// call repeatedly: verification polls the Resolver while waiting for a device to settle.
type Resolver interface {
	// FindMountedVolume returns ErrNotPresent if drive has no usable volume.
	FindMountedVolume(ctx context.Context, drive Drive) (*Volume, error)
}
