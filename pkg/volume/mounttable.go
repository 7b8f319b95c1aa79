package volume

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultByIDDir    = "/dev/disk/by-id"
	DefaultMountsFile = "/proc/self/mounts"
)

// MountTable resolves drives using udev's by-id links and the kernel mount table.
//
// A drive matches every by-id entry whose serial field equals its serial number; those links resolve
// to the drive's block devices (the whole disk and each partition). The first mount table entry whose
// source resolves to one of those devices is the drive's volume.
type MountTable struct {
	ByIDDir       string
	MountsFile    string
	IgnoreFSTypes []string
}

// NewMountTable returns a MountTable that reads the system locations.
func NewMountTable() *MountTable {
	return &MountTable{ByIDDir: DefaultByIDDir, MountsFile: DefaultMountsFile}
}

func (m *MountTable) FindMountedVolume(ctx context.Context, drive Drive) (*Volume, error) {
	if drive.Serial == "" {
		return nil, errors.New("drive has no serial number")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	devices, err := m.devices(drive.Serial)
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, ErrNotPresent
	}

	file, err := os.Open(m.MountsFile)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		source := unescapeMountField(fields[0])
		if !filepath.IsAbs(source) {
			continue
		}
		if resolved, err := filepath.EvalSymlinks(source); err == nil {
			source = resolved
		}
		if !devices[source] {
			continue
		}
		v := &Volume{
			Device:     source,
			MountPoint: unescapeMountField(fields[1]),
			FSType:     fields[2],
		}
		v.Ignored = m.ignored(v)
		if v.Ignored {
			continue
		}
		return v, nil
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", m.MountsFile, err)
	}
	return nil, ErrNotPresent
}

func (m *MountTable) devices(serial string) (map[string]bool, error) {
	entries, err := os.ReadDir(m.ByIDDir)
	if errors.Is(err, fs.ErrNotExist) {
		// udev creates the directory once the first disk appears.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	devices := make(map[string]bool)
	for _, entry := range entries {
		if !matchesSerial(entry.Name(), serial) {
			continue
		}
		target, err := filepath.EvalSymlinks(filepath.Join(m.ByIDDir, entry.Name()))
		if err != nil {
			// Dangling link, the device is going away.
			continue
		}
		devices[target] = true
	}
	return devices, nil
}

// matchesSerial reports whether a by-id link name such as usb-Vendor_Model_SERIAL-0:0-part1 belongs
// to the drive with the given serial number. The serial must be the whole trailing field of the
// udev ID_SERIAL, so 123 does not match a link for 1234 or A123.
func matchesSerial(name, serial string) bool {
	if i := strings.LastIndex(name, "-part"); i >= 0 && isDigits(name[i+len("-part"):]) {
		name = name[:i]
	}
	if i := strings.LastIndex(name, "-"); i >= 0 && isInstance(name[i+1:]) {
		name = name[:i]
	}
	// Strip the bus prefix (usb-, ata-, mmc-, ...).
	if i := strings.Index(name, "-"); i >= 0 {
		name = name[i+1:]
	}
	return name == serial || strings.HasSuffix(name, "_"+serial)
}

// isInstance reports whether s is a SCSI host:lun suffix like 0:0.
func isInstance(s string) bool {
	host, lun, ok := strings.Cut(s, ":")
	return ok && isDigits(host) && isDigits(lun)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func (m *MountTable) ignored(v *Volume) bool {
	for _, fsType := range m.IgnoreFSTypes {
		if v.FSType == fsType {
			return true
		}
	}
	return false
}

// unescapeMountField decodes the octal escapes (\040 for space and so on) the kernel uses in
// /proc/mounts.
func unescapeMountField(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) && isOctal(s[i+1]) && isOctal(s[i+2]) && isOctal(s[i+3]) {
			b.WriteByte((s[i+1]-'0')<<6 | (s[i+2]-'0')<<3 | (s[i+3] - '0'))
			i += 3
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isOctal(c byte) bool {
	return c >= '0' && c <= '7'
}
