/*
Package cli builds verifiers from command-line flags, environment variables, and PAM module
arguments. It defines a [Config] type that registers the flags on a [flag.FlagSet] and fills in
anything left unset from the environment.

Host pads can be kept in a directory (the default) or in an OS credential store through
[keyring]'s platform-agnostic interface.

# Examples

	config := NewConfig()
	config.RegisterCommandLineFlags(flag.CommandLine)
	flag.Parse()
	config.ReadFromEnvironment() // Fills in missing fields using environment variables

	verifier, err := config.Verifier()
	if err != nil {
		panic(err)
	}
	if !verifier.VerifyAndRotate(ctx, config.Drive()) {
		os.Exit(1)
	}

When invoked from PAM, options may instead be given as a single argument line using the option
names of the pam_usb configuration file:

	config.ParseModuleArgs(`serial=4C530001 enforce_otp=true device_otp_directory=".pamusb"`)

Explicit flags take precedence over module arguments, which take precedence over the environment.
*/
package cli

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/99designs/keyring"
	"github.com/google/shlex"

	"github.com/usbauth/padlock/internal/log"
	"github.com/usbauth/padlock/pkg/otp"
	"github.com/usbauth/padlock/pkg/pad"
	"github.com/usbauth/padlock/pkg/volume"
)

// Environment variable names used by [Config.ReadFromEnvironment].
const (
	EnvSerial       = "PADLOCK_SERIAL"
	EnvHostname     = "PADLOCK_HOSTNAME"
	EnvProbeTimeout = "PADLOCK_PROBE_TIMEOUT"
	EnvEnforceOTP   = "PADLOCK_ENFORCE_OTP"
	EnvDeviceDir    = "PADLOCK_DEVICE_OTP_DIRECTORY"
	EnvSystemDir    = "PADLOCK_SYSTEM_OTP_DIRECTORY"
	EnvHostStore    = "PADLOCK_HOST_STORE"
	EnvRandomSource = "PADLOCK_RANDOM_SOURCE"
	EnvAtomic       = "PADLOCK_ATOMIC_ROTATION"
	EnvLogLevel     = "PADLOCK_LOG_LEVEL"
	EnvKeyringType  = "PADLOCK_KEYRING_TYPE"
	EnvKeyringPass  = "PADLOCK_KEYRING_PASSWORD"
	EnvKeyringPath  = "PADLOCK_KEYRING_PATH"
	EnvKeyringDebug = "PADLOCK_KEYRING_DEBUG"
)

// Host pad stores accepted by -host-store.
const (
	HostStoreFile    = "file"
	HostStoreKeyring = "keyring"
)

const (
	defaultProbeTimeout = 10 * time.Second
	defaultDeviceDir    = ".pamusb"
	defaultSystemDir    = "/var/lib/pamusb"
	syslogTag           = "padlock"
)

// envFlags maps flag names to the environment variables that provide their fallback values.
var envFlags = map[string]string{
	"serial":           EnvSerial,
	"hostname":         EnvHostname,
	"probe-timeout":    EnvProbeTimeout,
	"enforce":          EnvEnforceOTP,
	"device-dir":       EnvDeviceDir,
	"system-dir":       EnvSystemDir,
	"host-store":       EnvHostStore,
	"random":           EnvRandomSource,
	"atomic":           EnvAtomic,
	"log-level":        EnvLogLevel,
	"keyring-type":     EnvKeyringType,
	"keyring-file-dir": EnvKeyringPath,
}

// moduleArgs maps pam_usb option names to flag names.
var moduleArgs = map[string]string{
	"serial":               "serial",
	"hostname":             "hostname",
	"probe_timeout":        "probe-timeout",
	"enforce_otp":          "enforce",
	"device_otp_directory": "device-dir",
	"system_otp_directory": "system-dir",
	"host_store":           "host-store",
	"random_source":        "random",
	"atomic_rotation":      "atomic",
	"log_level":            "log-level",
	"syslog":               "syslog",
	"ignore_fs":            "ignore-fs",
	"debug":                "debug",
}

var (
	ErrNoSerial   = errors.New("device serial number not provided")
	ErrNoHostname = errors.New("hostname not provided and could not be determined")
)

// FSTypeList is used to collect filesystem types from repeated command-line arguments.
type FSTypeList []string

// Set updates a FSTypeList from a command-line argument. Comma-separated values are split.
func (l *FSTypeList) Set(value string) error {
	for _, name := range strings.Split(value, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			return fmt.Errorf("empty filesystem type in '%s'", value)
		}
		*l = append(*l, name)
	}
	return nil
}

func (l *FSTypeList) String() string {
	if l == nil {
		return ""
	}
	return strings.Join(*l, ",")
}

// seconds accepts either a plain number of seconds, as pam_usb configuration files use, or a Go
// duration string.
type seconds struct {
	d *time.Duration
}

func (s seconds) Set(value string) error {
	if n, err := strconv.Atoi(value); err == nil {
		if n < 0 {
			return fmt.Errorf("negative timeout %d", n)
		}
		*s.d = time.Duration(n) * time.Second
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	if d < 0 {
		return fmt.Errorf("negative timeout %s", value)
	}
	*s.d = d
	return nil
}

func (s seconds) String() string {
	if s.d == nil {
		return ""
	}
	return s.d.String()
}

type levelValue struct {
	level *log.Level
}

func (l levelValue) Set(value string) error {
	level, err := log.ParseLevel(value)
	if err != nil {
		return err
	}
	*l.level = level
	return nil
}

func (l levelValue) String() string {
	if l.level == nil {
		return ""
	}
	return l.level.String()
}

// Config fields determine how a device is located and where its pads are kept.
type Config struct {
	Serial          string
	Hostname        string
	ProbeTimeout    time.Duration
	EnforceOTP      bool
	DeviceDirectory string
	SystemDirectory string
	HostStore       string // HostStoreFile or HostStoreKeyring
	RandomSource    string // "crypto" or "legacy"
	AtomicRotation  bool

	ByIDDir       string
	MountsFile    string
	IgnoreFSTypes FSTypeList

	LogLevel log.Level
	Syslog   bool

	Backend     keyring.Config
	BackendType backendType
	Debug       bool // Enable keyring debug messages

	password *string
	flags    *flag.FlagSet
}

// NewConfig returns a Config populated with the pam_usb defaults.
func NewConfig() *Config {
	c := Config{
		ProbeTimeout:    defaultProbeTimeout,
		EnforceOTP:      true,
		DeviceDirectory: defaultDeviceDir,
		SystemDirectory: defaultSystemDir,
		HostStore:       HostStoreFile,
		RandomSource:    "crypto",
		ByIDDir:         volume.DefaultByIDDir,
		MountsFile:      volume.DefaultMountsFile,
		LogLevel:        log.LevelWarning,
		Backend: keyring.Config{
			ServiceName:              keyringServiceName,
			KeychainTrustApplication: true,
			KeyCtlScope:              "user",
		},
	}
	if hostname, err := os.Hostname(); err == nil {
		c.Hostname = hostname
	}
	c.BackendType = backendType{&c}
	c.Backend.KeychainPasswordFunc = c.getPassword
	c.Backend.FilePasswordFunc = c.getPassword
	return &c
}

// RegisterCommandLineFlags adds c's options to fs. Current field values become the flag defaults.
func (c *Config) RegisterCommandLineFlags(fs *flag.FlagSet) {
	c.flags = fs
	fs.StringVar(&c.Serial, "serial", c.Serial, "Serial number of the paired device. Defaults to $PADLOCK_SERIAL.")
	fs.StringVar(&c.Hostname, "hostname", c.Hostname, "`Name` of this host's pad on the device.")
	fs.Var(seconds{&c.ProbeTimeout}, "probe-timeout", "How long to wait for the device volume (`seconds` or duration).")
	fs.BoolVar(&c.EnforceOTP, "enforce", c.EnforceOTP, "Deny authentication when the device volume does not appear.")
	fs.StringVar(&c.DeviceDirectory, "device-dir", c.DeviceDirectory, "`Directory` on the device volume holding pads.")
	fs.StringVar(&c.SystemDirectory, "system-dir", c.SystemDirectory, "`Directory` on this host holding pads.")
	fs.StringVar(&c.HostStore, "host-store", c.HostStore, "Where host pads are kept (file|keyring).")
	fs.StringVar(&c.RandomSource, "random", c.RandomSource, "Pad generator (crypto|legacy). legacy reproduces the predictable pid/time seeded generator of older releases.")
	fs.BoolVar(&c.AtomicRotation, "atomic", c.AtomicRotation, "Stage rotated pads and rename them into place once both are written.")
	fs.StringVar(&c.ByIDDir, "by-id-dir", c.ByIDDir, "`Directory` of udev disk links used to find the device.")
	fs.StringVar(&c.MountsFile, "mounts", c.MountsFile, "Mount table `file`.")
	fs.Var(&c.IgnoreFSTypes, "ignore-fs", "Filesystem `types` that never hold pads (can be repeated or comma-separated).")
	fs.Var(levelValue{&c.LogLevel}, "log-level", "Log `level` (none|error|warning|info|debug). Defaults to $PADLOCK_LOG_LEVEL.")
	fs.BoolVar(&c.Syslog, "syslog", c.Syslog, "Log to syslog instead of stderr.")
	fs.BoolFunc("debug", "Shorthand for -log-level debug.", func(value string) error {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		if enabled {
			c.LogLevel = log.LevelDebug
		}
		return nil
	})

	var names []string
	for _, name := range keyring.AvailableBackends() {
		names = append(names, string(name))
	}
	sort.Strings(names)
	fs.Var(&c.BackendType, "keyring-type", "Keyring `type` ("+strings.Join(names, "|")+"). Defaults to $PADLOCK_KEYRING_TYPE.")
	fs.StringVar(&c.Backend.FileDir, "keyring-file-dir", keyringDirectory, "keyring `directory` for file-backed keyring types")
	fs.BoolVar(&c.Debug, "keyring-debug", false, "Enable keyring debug logging")
}

func (c *Config) flagSet() *flag.FlagSet {
	if c.flags == nil {
		c.RegisterCommandLineFlags(flag.NewFlagSet("padlock", flag.ContinueOnError))
	}
	return c.flags
}

func (c *Config) explicit() map[string]bool {
	set := make(map[string]bool)
	c.flagSet().Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	return set
}

// ParseModuleArgs applies a PAM-style argument line, such as
//
//	serial=4C530001 probe_timeout=5 device_otp_directory="my pads"
//
// Quoting follows shell rules. Options already set on the command line are not overwritten.
func (c *Config) ParseModuleArgs(line string) error {
	args, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("failed to parse module arguments: %w", err)
	}
	explicit := c.explicit()
	for _, arg := range args {
		key, value, found := strings.Cut(arg, "=")
		if !found {
			// Bare options are boolean switches, as in "debug".
			value = "true"
		}
		name, ok := moduleArgs[key]
		if !ok {
			return fmt.Errorf("unknown module argument '%s'", key)
		}
		if explicit[name] {
			log.Debug("Ignoring module argument %s; set on command line", key)
			continue
		}
		if err := c.flagSet().Set(name, value); err != nil {
			return fmt.Errorf("invalid value for %s: %w", key, err)
		}
	}
	return nil
}

// ReadFromEnvironment populates c using environment variables. Values that are already set
// explicitly (by flags or module arguments) are not overwritten.
//
// Calling ReadFromEnvironment after flag.Parse() prevents the environment from overriding explicit
// command-line parameters.
func (c *Config) ReadFromEnvironment() {
	explicit := c.explicit()
	for name, env := range envFlags {
		if explicit[name] {
			continue
		}
		value, ok := os.LookupEnv(env)
		if !ok || value == "" {
			continue
		}
		if err := c.flagSet().Set(name, value); err != nil {
			log.Warning("Ignoring $%s: %s", env, err)
			continue
		}
		log.Debug("Set %s to '%s' from $%s", name, value, env)
	}
	if c.password == nil {
		password := os.Getenv(EnvKeyringPass)
		c.password = &password
		if len(password) > 0 {
			log.Debug("Keyring password read from $%s", EnvKeyringPass)
		}
	}
	if !c.Debug {
		_, c.Debug = os.LookupEnv(EnvKeyringDebug)
	}
}

// ApplyLogging configures the global logger from c.
func (c *Config) ApplyLogging() error {
	log.SetLevel(c.LogLevel)
	if c.Syslog {
		return log.UseSyslog(syslogTag)
	}
	return nil
}

// Validate checks that c identifies a device and a host.
func (c *Config) Validate() error {
	if c.Serial == "" {
		return ErrNoSerial
	}
	if c.Hostname == "" {
		return ErrNoHostname
	}
	if strings.ContainsRune(c.Serial, os.PathSeparator) || strings.ContainsRune(c.Hostname, os.PathSeparator) {
		return fmt.Errorf("serial and hostname must not contain '%c'", os.PathSeparator)
	}
	return nil
}

// Drive returns the device identified by c.
func (c *Config) Drive() volume.Drive {
	return volume.Drive{Serial: c.Serial}
}

// Options returns the verifier options described by c.
func (c *Config) Options() otp.Options {
	return otp.Options{
		ProbeTimeout:    c.ProbeTimeout,
		Enforce:         c.EnforceOTP,
		DeviceDirectory: c.DeviceDirectory,
		Hostname:        c.Hostname,
		AtomicRotation:  c.AtomicRotation,
	}
}

// Resolver returns the volume resolver described by c.
func (c *Config) Resolver() volume.Resolver {
	return &volume.MountTable{
		ByIDDir:       c.ByIDDir,
		MountsFile:    c.MountsFile,
		IgnoreFSTypes: c.IgnoreFSTypes,
	}
}

// HostPads returns the host-side pad store described by c.
func (c *Config) HostPads() (otp.HostPads, error) {
	switch c.HostStore {
	case "", HostStoreFile:
		return pad.Directory{Path: c.SystemDirectory}, nil
	case HostStoreKeyring:
		return pad.Keyring{Open: c.openKeyring}, nil
	}
	return nil, fmt.Errorf("unknown host store '%s'", c.HostStore)
}

// Source returns the pad generator described by c.
func (c *Config) Source() (pad.Source, error) {
	source, err := pad.SourceByName(c.RandomSource)
	if err != nil {
		return nil, err
	}
	if _, legacy := source.(pad.LegacySource); legacy {
		log.Warning("Using the legacy pad generator; pads are predictable")
	}
	return source, nil
}

// Verifier builds a verifier from c.
func (c *Config) Verifier() (*otp.Verifier, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	host, err := c.HostPads()
	if err != nil {
		return nil, err
	}
	source, err := c.Source()
	if err != nil {
		return nil, err
	}
	return otp.NewVerifier(c.Options(), c.Resolver(), host, source), nil
}
