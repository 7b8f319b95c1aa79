// Package pad reads and writes the one-time pads shared between a removable device and the host it
// was paired with.
//
// A pad is a fixed-size random secret with no header, version, or checksum. One copy lives on the
// device at
//
//	<mount point>/<device directory>/<hostname>.otp
//
// so that a single device can carry pads for several hosts, and the other lives on the host at
//
//	<system directory>/<device serial>.otp
//
// so that a single host can hold pads for several devices. The host copy may alternatively be kept
// in the system keyring (see [Keyring]).
//
// Locations are accessed through a [Slot]. Opening a slot for writing never modifies the location,
// which lets callers open both copies before writing either one.
package pad

import (
	"crypto/subtle"
	"path/filepath"
)

// Size is the length of a pad in bytes (1024 four-byte words).
const Size = 4096

// Extension is appended to the host name or device serial to form a pad's file name.
const Extension = ".otp"

// Pad holds one copy of the shared secret.
type Pad [Size]byte

// Equal reports whether p and other hold the same secret. The comparison runs in constant time.
func (p *Pad) Equal(other *Pad) bool {
	if p == nil || other == nil {
		return false
	}
	return subtle.ConstantTimeCompare(p[:], other[:]) == 1
}

// DevicePath returns the location of the device-side pad that belongs to hostname.
func DevicePath(mountPoint, directory, hostname string) string {
	return filepath.Join(mountPoint, directory, hostname+Extension)
}

// HostPath returns the location of the host-side pad that belongs to the device with the given
// serial number.
func HostPath(directory, serial string) string {
	return filepath.Join(directory, serial+Extension)
}
