package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/usbauth/padlock/internal/log"
	"github.com/usbauth/padlock/pkg/pad"
	"github.com/usbauth/padlock/pkg/volume"
)

// DefaultPollInterval is the wait between two attempts to locate the device's volume.
const DefaultPollInterval = 250 * time.Millisecond

// Options configures a Verifier.
type Options struct {
	// ProbeTimeout bounds how long Check waits for the device's volume to be mounted.
	ProbeTimeout time.Duration
	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration
	// Enforce denies devices whose volume never appears. When false such devices are allowed.
	Enforce bool
	// DeviceDirectory is the directory, relative to the volume's mount point, holding device pads.
	DeviceDirectory string
	// Hostname names this host's pad on the device.
	Hostname string
	// AtomicRotation stages rotated pads before renaming them into place. See [Rotator.Atomic].
	AtomicRotation bool
}

func (o *Options) pollInterval() time.Duration {
	if o.PollInterval <= 0 {
		return DefaultPollInterval
	}
	return o.PollInterval
}

// Outcome classifies how a Check was decided.
type Outcome int

const (
	OutcomeAbsent           Outcome = iota // No volume appeared before the probe timeout.
	OutcomeHostPadMissing                  // The host pad could not be opened.
	OutcomeDevicePadMissing                // The device pad could not be opened.
	OutcomeUnreadable                      // A pad could not be read in full.
	OutcomeMismatched                      // The pads differ.
	OutcomeMatched                         // The pads are identical.
)

var outcomeNames = map[Outcome]string{
	OutcomeAbsent:           "absent",
	OutcomeHostPadMissing:   "host pad missing",
	OutcomeDevicePadMissing: "device pad missing",
	OutcomeUnreadable:       "pad unreadable",
	OutcomeMismatched:       "mismatched",
	OutcomeMatched:          "matched",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Result reports the decision of a Check.
type Result struct {
	// ID correlates the log lines of one attempt.
	ID      string
	Outcome Outcome
	Allowed bool
	Volume  *volume.Volume
	// Err explains why the pads could not be compared or did not match.
	Err error
	// RotationErr is set if the pads should have been rotated but were not.
	RotationErr error
}

// Verifier checks a device against its host pad.
type Verifier struct {
	Options  Options
	Resolver volume.Resolver
	Host     HostPads
	Rotator  *Rotator
}

// NewVerifier returns a Verifier that rotates pads with source after each successful check.
func NewVerifier(opts Options, resolver volume.Resolver, host HostPads, source pad.Source) *Verifier {
	return &Verifier{
		Options:  opts,
		Resolver: resolver,
		Host:     host,
		Rotator: &Rotator{
			Source:          source,
			Host:            host,
			DeviceDirectory: opts.DeviceDirectory,
			Hostname:        opts.Hostname,
			Atomic:          opts.AtomicRotation,
		},
	}
}

// VerifyAndRotate returns true if the device should be accepted.
func (v *Verifier) VerifyAndRotate(ctx context.Context, drive volume.Drive) bool {
	return v.Check(ctx, drive).Allowed
}

// Check waits for the drive's volume, compares its pad with the host pad, and rotates both pads if
// the device is accepted.
func (v *Verifier) Check(ctx context.Context, drive volume.Drive) Result {
	id := newAttemptID()

	vol, err := v.WaitForVolume(ctx, drive)
	if err != nil {
		result := Result{ID: id, Outcome: OutcomeAbsent, Allowed: !v.Options.Enforce, Err: err}
		if result.Allowed {
			log.Info("[%s] No volume for device %s (%s), allowing because pad enforcement is disabled", id, drive.Serial, err)
		} else {
			log.Error("[%s] No volume for device %s: %s", id, drive.Serial, err)
		}
		return result
	}

	result := v.compare(vol, drive.Serial)
	result.ID = id
	result.Volume = vol
	if !result.Allowed {
		log.Error("[%s] Pad check failed for device %s: %s", id, drive.Serial, result.Err)
		return result
	}

	log.Info("[%s] Verification %s, updating one time pads...", id, result.Outcome)
	if err := v.Rotator.Rotate(vol, drive.Serial); err != nil {
		log.Error("[%s] Unable to update pads: %s", id, err)
		result.RotationErr = err
	}
	return result
}

// WaitForVolume polls the Resolver until it returns a volume for drive or the probe timeout
// expires. The deadline is fixed when WaitForVolume is called.
func (v *Verifier) WaitForVolume(ctx context.Context, drive volume.Drive) (*volume.Volume, error) {
	interval := v.Options.pollInterval()
	timeout := v.Options.ProbeTimeout
	maxAttempts := int((timeout + interval - 1) / interval)
	deadline := time.Now().Add(timeout)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		log.Debug("Waiting for volumes to come up...")
		vol, err := v.Resolver.FindMountedVolume(ctx, drive)
		if err == nil && vol != nil {
			return vol, nil
		}
		if err != nil && !errors.Is(err, volume.ErrNotPresent) {
			log.Debug("Volume lookup failed: %s", err)
		}

		wait := time.Until(deadline)
		if wait <= 0 {
			break
		}
		if wait > interval {
			wait = interval
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, ErrVolumeAbsent
}

func (v *Verifier) compare(vol *volume.Volume, serial string) Result {
	host, err := v.Host.OpenHost(serial, pad.ModeRead)
	if err != nil {
		// Nothing to compare against.
		log.Warning("Host pad unavailable: %s", err)
		return Result{Outcome: OutcomeHostPadMissing, Allowed: true, Err: err}
	}
	defer closeSlot(host)

	device, err := pad.OpenDevice(vol.MountPoint, v.Options.DeviceDirectory, v.Options.Hostname, pad.ModeRead)
	if err != nil {
		return Result{Outcome: OutcomeDevicePadMissing, Err: err}
	}
	defer closeSlot(device)

	log.Debug("Loading device pad...")
	devicePad, err := device.Read()
	if err != nil {
		return Result{Outcome: OutcomeUnreadable, Err: err}
	}
	log.Debug("Loading host pad...")
	hostPad, err := host.Read()
	if err != nil {
		return Result{Outcome: OutcomeUnreadable, Err: err}
	}

	if !devicePad.Equal(hostPad) {
		return Result{Outcome: OutcomeMismatched, Err: ErrPadMismatch}
	}
	return Result{Outcome: OutcomeMatched, Allowed: true}
}

func newAttemptID() string {
	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return "-"
	}
	return id.String()
}
