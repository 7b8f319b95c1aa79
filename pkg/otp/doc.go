/*
Package otp authenticates a removable device by comparing one-time pads and rotates the pads after
every successful comparison.

A device is paired with a host by writing the same random [pad.Pad] to both of them. At login the
[Verifier] waits for the device's volume to be mounted, loads the pad stored on the device and the
pad stored on the host, and accepts the device only if the two are identical. It then hands off to
the [Rotator], which replaces both copies with a fresh pad. A clone of the device taken before that
point no longer matches the host and is rejected.

# Policy

The outcome of a check follows the order in which the locations are examined:

  - No volume appears before the probe timeout: allowed unless enforcement is enabled.
  - The host pad cannot be opened: allowed, and a new pair is written.
  - The device pad cannot be opened: denied.
  - Either pad is shorter than [pad.Size]: denied.
  - The pads differ: denied and both are left untouched.
  - The pads match: allowed, and a new pair is written.

A rotation failure is logged and reported in [Result.RotationErr] but never turns an allowed check
into a denial.

# Concurrency

Checks are synchronous and block for up to the probe timeout. The package does not lock pad
locations: callers must not run two checks for the same host and device at the same time, or the
second rotation may overwrite the first and leave the pair out of sync.

# Examples

	resolver := volume.NewMountTable()
	host := pad.Directory{Path: "/var/lib/pamusb"}
	v := otp.NewVerifier(otp.Options{
		ProbeTimeout:    10 * time.Second,
		Enforce:         true,
		DeviceDirectory: ".pamusb",
		Hostname:        "workstation",
	}, resolver, host, pad.CryptoSource{})

	if !v.VerifyAndRotate(ctx, volume.Drive{Serial: "4C530001230912116334"}) {
		// deny
	}
*/
package otp
