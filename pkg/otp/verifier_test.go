package otp_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/99designs/keyring"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/usbauth/padlock/mocks"
	"github.com/usbauth/padlock/pkg/otp"
	"github.com/usbauth/padlock/pkg/pad"
	"github.com/usbauth/padlock/pkg/volume"
)

const (
	testHostname  = "workstation"
	testDeviceDir = ".pamusb"
)

var testDrive = volume.Drive{Serial: "SN1234"}

func freshPad() []byte {
	var p pad.Pad
	Expect(pad.CryptoSource{}.Fill(&p)).To(Succeed())
	return p[:]
}

// rejectWrites refuses to open host pads for writing.
type rejectWrites struct {
	otp.HostPads
}

func (r rejectWrites) OpenHost(serial string, mode pad.Mode) (pad.Slot, error) {
	if mode != pad.ModeRead {
		return nil, errors.New("read-only host store")
	}
	return r.HostPads.OpenHost(serial, mode)
}

var _ = Describe("Verifier", func() {
	var (
		ctrl       *gomock.Controller
		resolver   *mocks.MockResolver
		verifier   *otp.Verifier
		mountPoint string
		systemDir  string
		devicePath string
		hostPath   string
		syncCount  int
	)

	readFile := func(path string) []byte {
		data, err := os.ReadFile(path)
		Expect(err).ToNot(HaveOccurred())
		return data
	}

	volumePresent := func() {
		resolver.EXPECT().
			FindMountedVolume(gomock.Any(), testDrive).
			Return(&volume.Volume{Device: "/dev/sdb1", MountPoint: mountPoint, FSType: "vfat"}, nil).
			AnyTimes()
	}

	volumeAbsent := func() {
		resolver.EXPECT().
			FindMountedVolume(gomock.Any(), testDrive).
			Return(nil, volume.ErrNotPresent).
			AnyTimes()
	}

	BeforeEach(func() {
		ctrl = gomock.NewController(GinkgoT())
		resolver = mocks.NewMockResolver(ctrl)

		root := GinkgoT().TempDir()
		mountPoint = filepath.Join(root, "media")
		systemDir = filepath.Join(root, "system")
		Expect(os.MkdirAll(filepath.Join(mountPoint, testDeviceDir), 0700)).To(Succeed())
		Expect(os.MkdirAll(systemDir, 0700)).To(Succeed())
		devicePath = pad.DevicePath(mountPoint, testDeviceDir, testHostname)
		hostPath = pad.HostPath(systemDir, testDrive.Serial)

		verifier = otp.NewVerifier(otp.Options{
			ProbeTimeout:    100 * time.Millisecond,
			PollInterval:    10 * time.Millisecond,
			Enforce:         true,
			DeviceDirectory: testDeviceDir,
			Hostname:        testHostname,
		}, resolver, pad.Directory{Path: systemDir}, pad.CryptoSource{})
		syncCount = 0
		verifier.Rotator.SyncFS = func() { syncCount++ }
	})

	Describe("when the volume never appears", func() {
		BeforeEach(volumeAbsent)

		It("allows the device when enforcement is disabled", func() {
			verifier.Options.Enforce = false
			result := verifier.Check(context.Background(), testDrive)
			Expect(result.Allowed).To(BeTrue())
			Expect(result.Outcome).To(Equal(otp.OutcomeAbsent))
			Expect(result.Err).To(MatchError(otp.ErrVolumeAbsent))
			Expect(syncCount).To(Equal(0))
		})

		It("denies the device when enforcement is enabled", func() {
			Expect(verifier.VerifyAndRotate(context.Background(), testDrive)).To(BeFalse())
		})

		It("stops polling when the context is cancelled", func() {
			verifier.Options.ProbeTimeout = time.Hour
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			result := verifier.Check(ctx, testDrive)
			Expect(result.Allowed).To(BeFalse())
			Expect(result.Err).To(MatchError(context.Canceled))
		})
	})

	Describe("polling", func() {
		It("blocks for the probe timeout and no more than one interval longer", func() {
			verifier.Options.ProbeTimeout = 200 * time.Millisecond
			verifier.Options.PollInterval = 50 * time.Millisecond
			resolver.EXPECT().
				FindMountedVolume(gomock.Any(), testDrive).
				Return(nil, volume.ErrNotPresent).
				MinTimes(1).MaxTimes(4)

			start := time.Now()
			_, err := verifier.WaitForVolume(context.Background(), testDrive)
			elapsed := time.Since(start)

			Expect(err).To(MatchError(otp.ErrVolumeAbsent))
			Expect(elapsed).To(BeNumerically(">=", 200*time.Millisecond))
			// Allow some scheduling slack on top of one poll interval.
			Expect(elapsed).To(BeNumerically("<", 250*time.Millisecond+100*time.Millisecond))
		})

		It("returns the volume once it is mounted", func() {
			mounted := &volume.Volume{MountPoint: mountPoint}
			gomock.InOrder(
				resolver.EXPECT().FindMountedVolume(gomock.Any(), testDrive).Return(nil, volume.ErrNotPresent).Times(2),
				resolver.EXPECT().FindMountedVolume(gomock.Any(), testDrive).Return(mounted, nil),
			)
			vol, err := verifier.WaitForVolume(context.Background(), testDrive)
			Expect(err).ToNot(HaveOccurred())
			Expect(vol).To(Equal(mounted))
		})

		It("keeps polling through resolver errors", func() {
			mounted := &volume.Volume{MountPoint: mountPoint}
			gomock.InOrder(
				resolver.EXPECT().FindMountedVolume(gomock.Any(), testDrive).Return(nil, errors.New("mount table unreadable")),
				resolver.EXPECT().FindMountedVolume(gomock.Any(), testDrive).Return(mounted, nil),
			)
			vol, err := verifier.WaitForVolume(context.Background(), testDrive)
			Expect(err).ToNot(HaveOccurred())
			Expect(vol).To(Equal(mounted))
		})

		It("does not poll with a zero probe timeout", func() {
			verifier.Options.ProbeTimeout = 0
			_, err := verifier.WaitForVolume(context.Background(), testDrive)
			Expect(err).To(MatchError(otp.ErrVolumeAbsent))
		})
	})

	Describe("when the volume is present", func() {
		BeforeEach(volumePresent)

		It("rotates matching pads", func() {
			original := freshPad()
			Expect(os.WriteFile(devicePath, original, 0600)).To(Succeed())
			Expect(os.WriteFile(hostPath, original, 0600)).To(Succeed())

			result := verifier.Check(context.Background(), testDrive)
			Expect(result.Allowed).To(BeTrue())
			Expect(result.Outcome).To(Equal(otp.OutcomeMatched))
			Expect(result.RotationErr).ToNot(HaveOccurred())
			Expect(result.ID).To(HaveLen(26))

			device, host := readFile(devicePath), readFile(hostPath)
			Expect(device).To(HaveLen(pad.Size))
			Expect(device).To(Equal(host))
			Expect(device).ToNot(Equal(original))
			Expect(syncCount).To(Equal(1))
		})

		It("accepts the rotated pads on the next attempt", func() {
			original := freshPad()
			Expect(os.WriteFile(devicePath, original, 0600)).To(Succeed())
			Expect(os.WriteFile(hostPath, original, 0600)).To(Succeed())

			Expect(verifier.VerifyAndRotate(context.Background(), testDrive)).To(BeTrue())
			Expect(verifier.VerifyAndRotate(context.Background(), testDrive)).To(BeTrue())
		})

		It("rejects a copy of the device taken before the last rotation", func() {
			original := freshPad()
			Expect(os.WriteFile(devicePath, original, 0600)).To(Succeed())
			Expect(os.WriteFile(hostPath, original, 0600)).To(Succeed())

			Expect(verifier.VerifyAndRotate(context.Background(), testDrive)).To(BeTrue())

			// The clone still carries the old pad.
			Expect(os.WriteFile(devicePath, original, 0600)).To(Succeed())
			Expect(verifier.VerifyAndRotate(context.Background(), testDrive)).To(BeFalse())
		})

		It("denies mismatched pads and leaves them untouched", func() {
			device, host := freshPad(), freshPad()
			Expect(os.WriteFile(devicePath, device, 0600)).To(Succeed())
			Expect(os.WriteFile(hostPath, host, 0600)).To(Succeed())

			result := verifier.Check(context.Background(), testDrive)
			Expect(result.Allowed).To(BeFalse())
			Expect(result.Outcome).To(Equal(otp.OutcomeMismatched))
			Expect(result.Err).To(MatchError(otp.ErrPadMismatch))
			Expect(readFile(devicePath)).To(Equal(device))
			Expect(readFile(hostPath)).To(Equal(host))
			Expect(syncCount).To(Equal(0))
		})

		It("denies a device without a pad and leaves the host pad untouched", func() {
			host := freshPad()
			Expect(os.WriteFile(hostPath, host, 0600)).To(Succeed())

			result := verifier.Check(context.Background(), testDrive)
			Expect(result.Allowed).To(BeFalse())
			Expect(result.Outcome).To(Equal(otp.OutcomeDevicePadMissing))
			Expect(result.Err).To(MatchError(pad.ErrNotFound))
			Expect(readFile(hostPath)).To(Equal(host))
			Expect(devicePath).ToNot(BeAnExistingFile())
		})

		It("allows a device when the host has no pad and writes a new pair", func() {
			device := freshPad()
			Expect(os.WriteFile(devicePath, device, 0600)).To(Succeed())

			result := verifier.Check(context.Background(), testDrive)
			Expect(result.Allowed).To(BeTrue())
			Expect(result.Outcome).To(Equal(otp.OutcomeHostPadMissing))
			Expect(result.RotationErr).ToNot(HaveOccurred())
			Expect(readFile(hostPath)).To(Equal(readFile(devicePath)))
			Expect(readFile(devicePath)).ToNot(Equal(device))
		})

		It("denies truncated pads even when their prefixes match", func() {
			original := freshPad()
			Expect(os.WriteFile(devicePath, original[:100], 0600)).To(Succeed())
			Expect(os.WriteFile(hostPath, original, 0600)).To(Succeed())

			result := verifier.Check(context.Background(), testDrive)
			Expect(result.Allowed).To(BeFalse())
			Expect(result.Outcome).To(Equal(otp.OutcomeUnreadable))
			Expect(result.Err).To(MatchError(pad.ErrShortRead))
			Expect(readFile(hostPath)).To(Equal(original))
		})

		It("keeps an allowed decision when rotation fails", func() {
			original := freshPad()
			Expect(os.WriteFile(devicePath, original, 0600)).To(Succeed())
			Expect(os.WriteFile(hostPath, original, 0600)).To(Succeed())
			verifier.Host = rejectWrites{verifier.Host}
			verifier.Rotator.Host = verifier.Host

			result := verifier.Check(context.Background(), testDrive)
			Expect(result.Allowed).To(BeTrue())
			Expect(result.RotationErr).To(HaveOccurred())
			Expect(otp.IsDesynchronized(result.RotationErr)).To(BeFalse())
			// The device pad was opened but never written.
			Expect(readFile(devicePath)).To(Equal(original))
			Expect(readFile(hostPath)).To(Equal(original))
		})

		It("rotates atomically when configured", func() {
			original := freshPad()
			Expect(os.WriteFile(devicePath, original, 0600)).To(Succeed())
			Expect(os.WriteFile(hostPath, original, 0600)).To(Succeed())
			verifier.Rotator.Atomic = true

			Expect(verifier.VerifyAndRotate(context.Background(), testDrive)).To(BeTrue())
			Expect(readFile(devicePath)).To(Equal(readFile(hostPath)))
			Expect(readFile(devicePath)).ToNot(Equal(original))

			entries, err := os.ReadDir(systemDir)
			Expect(err).ToNot(HaveOccurred())
			Expect(entries).To(HaveLen(1))
			entries, err = os.ReadDir(filepath.Dir(devicePath))
			Expect(err).ToNot(HaveOccurred())
			Expect(entries).To(HaveLen(1))
		})

		It("compares against a host pad kept in the keyring", func() {
			original := freshPad()
			Expect(os.WriteFile(devicePath, original, 0600)).To(Succeed())
			kr := keyring.NewArrayKeyring([]keyring.Item{{Key: pad.KeyName(testDrive.Serial), Data: original}})
			host := pad.Keyring{Open: func() (keyring.Keyring, error) { return kr, nil }}
			verifier.Host = host
			verifier.Rotator.Host = host

			Expect(verifier.VerifyAndRotate(context.Background(), testDrive)).To(BeTrue())
			item, err := kr.Get(pad.KeyName(testDrive.Serial))
			Expect(err).ToNot(HaveOccurred())
			Expect(item.Data).To(Equal(readFile(devicePath)))
			Expect(item.Data).ToNot(Equal(original))
		})
	})
})
