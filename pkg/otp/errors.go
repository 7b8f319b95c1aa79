package otp

import (
	"errors"
	"fmt"
)

var (
	// ErrVolumeAbsent indicates the device's volume did not appear before the probe timeout.
	ErrVolumeAbsent = errors.New("device volume did not appear before probe timeout")
	// ErrPadMismatch indicates the device pad differs from the host pad.
	ErrPadMismatch = errors.New("device pad does not match host pad")
)

// RotationError describes a failed pad rotation.
type RotationError struct {
	Op  string
	Err error
	// Desynchronized is set when one location may hold the new pad (or a partial write) while the
	// other still holds the old one. The device will be denied until it is enrolled again.
	Desynchronized bool
}

func (e *RotationError) Error() string {
	msg := fmt.Sprintf("pad rotation failed to %s: %s", e.Op, e.Err)
	if e.Desynchronized {
		msg += " (pads may be out of sync)"
	}
	return msg
}

func (e *RotationError) Unwrap() error {
	return e.Err
}

// IsDesynchronized returns true if err is a RotationError that may have left the pads out of sync.
func IsDesynchronized(err error) bool {
	var rotErr *RotationError
	return errors.As(err, &rotErr) && rotErr.Desynchronized
}
