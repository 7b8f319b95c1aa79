// Verifies, enrolls, and locates removable devices paired with this host through one-time pads

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/usbauth/padlock/internal/log"
	"github.com/usbauth/padlock/pkg/cli"
	"github.com/usbauth/padlock/pkg/otp"
	"github.com/usbauth/padlock/pkg/pad"
)

// EnvModuleArgs holds a pam_usb style option line, which lets PAM stacks configure the command
// through pam_exec's environment.
const EnvModuleArgs = "PADLOCK_MODULE_ARGS"

func writeErr(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, format, a...)
	fmt.Fprintf(os.Stderr, "\n")
}

const usageText = `
Authenticates a removable device by comparing the one-time pad stored on it with the pad stored on
this host, and replaces both pads with a fresh one after every successful comparison.

  verify   Exit with status 0 if the device is accepted, 1 otherwise. Suitable for pam_exec.
  enroll   Write a new pad pair to the device and this host.
  probe    Print the mounted volume of the device.

Options may also be provided through environment variables (see below) or as a single pam_usb
style option line in $PADLOCK_MODULE_ARGS, for example:

  PADLOCK_MODULE_ARGS='serial=4C530001 probe_timeout=5 enforce_otp=true'`

func usage(w io.Writer) {
	fmt.Fprintf(w, "usage: %s [OPTION...] verify|enroll|probe\n", filepath.Base(os.Args[0]))
	fmt.Fprintln(w, usageText)
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "OPTIONS:")
	flag.PrintDefaults()
}

func main() {
	status := 1
	defer func() {
		os.Exit(status)
	}()

	config := cli.NewConfig()
	config.RegisterCommandLineFlags(flag.CommandLine)
	flag.Usage = func() { usage(flag.CommandLine.Output()) }
	flag.Parse()

	if args, ok := os.LookupEnv(EnvModuleArgs); ok {
		if err := config.ParseModuleArgs(args); err != nil {
			writeErr("Invalid $%s: %s", EnvModuleArgs, err)
			return
		}
	}
	config.ReadFromEnvironment()
	if err := config.ApplyLogging(); err != nil {
		writeErr("Failed to configure logging: %s", err)
		return
	}

	if flag.NArg() != 1 {
		usage(os.Stderr)
		return
	}

	ctx := context.Background()
	switch flag.Arg(0) {
	case "verify":
		status = verify(ctx, config)
	case "enroll":
		status = enroll(ctx, config)
	case "probe":
		status = probe(ctx, config)
	default:
		writeErr("Unrecognized command-line argument.")
		writeErr("")
		usage(os.Stderr)
	}
}

func verify(ctx context.Context, config *cli.Config) int {
	verifier, err := config.Verifier()
	if err != nil {
		writeErr("Invalid configuration: %s", err)
		return 1
	}
	result := verifier.Check(ctx, config.Drive())
	if !result.Allowed {
		log.Warning("[%s] Access denied for device %s (%s)", result.ID, config.Serial, result.Outcome)
		return 1
	}
	if result.RotationErr != nil && otp.IsDesynchronized(result.RotationErr) {
		log.Error("[%s] Device %s must be enrolled again", result.ID, config.Serial)
	}
	log.Info("[%s] Access granted for device %s (%s)", result.ID, config.Serial, result.Outcome)
	return 0
}

func enroll(ctx context.Context, config *cli.Config) int {
	verifier, err := config.Verifier()
	if err != nil {
		writeErr("Invalid configuration: %s", err)
		return 1
	}
	vol, err := verifier.WaitForVolume(ctx, config.Drive())
	if err != nil {
		writeErr("Device %s not found: %s", config.Serial, err)
		return 1
	}
	if vol.MountPoint == "" {
		writeErr("Device %s is not mounted", config.Serial)
		return 1
	}

	if err := os.MkdirAll(filepath.Join(vol.MountPoint, config.DeviceDirectory), 0700); err != nil {
		writeErr("Failed to create pad directory on device: %s", err)
		return 1
	}
	if dir, ok := verifier.Host.(pad.Directory); ok {
		if err := dir.Ensure(); err != nil {
			writeErr("Failed to create pad directory on host: %s", err)
			return 1
		}
	}

	if err := verifier.Rotator.Rotate(vol, config.Serial); err != nil {
		writeErr("Failed to write pads: %s", err)
		return 1
	}
	fmt.Printf("Enrolled device %s (%s) with host %s\n", config.Serial, vol.MountPoint, config.Hostname)
	return 0
}

func probe(ctx context.Context, config *cli.Config) int {
	if config.Serial == "" {
		writeErr("%s", cli.ErrNoSerial)
		return 1
	}
	vol, err := config.Resolver().FindMountedVolume(ctx, config.Drive())
	if err != nil {
		writeErr("Device %s: %s", config.Serial, err)
		return 1
	}
	fmt.Printf("device      : %s\n", vol.Device)
	fmt.Printf("mount point : %s\n", vol.MountPoint)
	fmt.Printf("filesystem  : %s\n", vol.FSType)
	fmt.Printf("device pad  : %s\n", pad.DevicePath(vol.MountPoint, config.DeviceDirectory, config.Hostname))
	if config.HostStore == cli.HostStoreKeyring {
		fmt.Printf("host pad    : keyring:%s\n", pad.KeyName(config.Serial))
	} else {
		fmt.Printf("host pad    : %s\n", pad.HostPath(config.SystemDirectory, config.Serial))
	}
	if _, err := os.Stat(pad.DevicePath(vol.MountPoint, config.DeviceDirectory, config.Hostname)); errors.Is(err, os.ErrNotExist) {
		fmt.Println("WARN: device carries no pad for this host; run enroll")
	}
	return 0
}
