package otp

import (
	"golang.org/x/sys/unix"

	"github.com/usbauth/padlock/internal/log"
	"github.com/usbauth/padlock/pkg/pad"
	"github.com/usbauth/padlock/pkg/volume"
)

// HostPads opens host-side pads. It is implemented by [pad.Directory] and [pad.Keyring].
type HostPads interface {
	OpenHost(serial string, mode pad.Mode) (pad.Slot, error)
}

// Rotator writes a fresh pad to both the device and the host.
type Rotator struct {
	Source          pad.Source
	Host            HostPads
	DeviceDirectory string
	Hostname        string

	// Atomic stages both pads in temporary files and only renames them into place once both are
	// on disk. A failure before the renames then leaves the old pair intact.
	Atomic bool

	// SyncFS flushes all filesystems. Nil means unix.Sync.
	SyncFS func()

	// OpenDevice opens the device-side pad. Nil means pad.OpenDevice.
	OpenDevice func(mountPoint, directory, hostname string, mode pad.Mode) (pad.Slot, error)
}

// Rotate replaces the pads of the device with the given serial number, mounted as vol.
//
// Both locations are opened before either is written, so a location that cannot be opened aborts
// the rotation with the old pair intact. A pad file created by the aborted open is removed again.
func (r *Rotator) Rotate(vol *volume.Volume, serial string) error {
	mode := pad.ModeWrite
	if r.Atomic {
		mode = pad.ModeStage
	}

	openDevice := r.OpenDevice
	if openDevice == nil {
		openDevice = pad.OpenDevice
	}
	device, err := openDevice(vol.MountPoint, r.DeviceDirectory, r.Hostname, mode)
	if err != nil {
		return &RotationError{Op: "open device pad", Err: err}
	}
	defer closeSlot(device)

	host, err := r.Host.OpenHost(serial, mode)
	if err != nil {
		return &RotationError{Op: "open host pad", Err: err}
	}
	defer closeSlot(host)

	var fresh pad.Pad
	log.Debug("Generating %d byte pad...", pad.Size)
	if err := r.Source.Fill(&fresh); err != nil {
		return &RotationError{Op: "generate pad", Err: err}
	}

	// In place writes modify the pad as soon as they start.
	inPlace := mode == pad.ModeWrite

	log.Debug("Writing pad to %s", host.Name())
	if err := host.Write(&fresh); err != nil {
		return &RotationError{Op: "write host pad", Err: err, Desynchronized: inPlace}
	}
	log.Debug("Writing pad to %s", device.Name())
	if err := device.Write(&fresh); err != nil {
		return &RotationError{Op: "write device pad", Err: err, Desynchronized: inPlace}
	}

	log.Debug("Synchronizing pads...")
	if err := host.Sync(); err != nil {
		return &RotationError{Op: "sync host pad", Err: err, Desynchronized: inPlace}
	}
	if err := device.Sync(); err != nil {
		return &RotationError{Op: "sync device pad", Err: err, Desynchronized: inPlace}
	}

	if err := host.Commit(); err != nil {
		return &RotationError{Op: "commit host pad", Err: err, Desynchronized: inPlace}
	}
	if err := device.Commit(); err != nil {
		return &RotationError{Op: "commit device pad", Err: err, Desynchronized: true}
	}

	// The device may be unplugged as soon as authentication returns.
	syncFS := r.SyncFS
	if syncFS == nil {
		syncFS = unix.Sync
	}
	syncFS()
	log.Debug("One time pads updated")
	return nil
}

func closeSlot(s pad.Slot) {
	if err := s.Close(); err != nil {
		log.Warning("Error closing %s: %s", s.Name(), err)
	}
}
