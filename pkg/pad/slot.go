package pad

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Mode selects how a Slot is opened.
type Mode int

const (
	// ModeRead opens an existing pad for reading.
	ModeRead Mode = iota
	// ModeWrite opens a pad for overwriting in place, creating it if necessary. Opening does not
	// truncate; the previous contents survive until Write is called.
	ModeWrite
	// ModeStage writes to a temporary file next to the pad. The pad itself is only replaced when
	// Commit renames the temporary file over it.
	ModeStage
)

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	case ModeStage:
		return "stage"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// filePerm keeps pads readable by their owner only.
const filePerm = 0600

// Slot is an opened pad location.
//
// Callers must Close every Slot they open, including on error paths.
type Slot interface {
	// Name identifies the location in log messages.
	Name() string
	// Read loads the pad. It returns an error wrapping ErrShortRead if fewer than Size bytes are
	// available.
	Read() (*Pad, error)
	// Write replaces the pad's contents.
	Write(p *Pad) error
	// Sync forces written data to durable storage.
	Sync() error
	// Commit publishes a staged write. It does nothing for slots that write in place.
	Commit() error
	// Close releases the slot. A staged write that was not committed is discarded, and so is a pad
	// file created by the open but never written.
	Close() error
}

type fileSlot struct {
	path      string
	file      *os.File
	mode      Mode
	committed bool
	// created is set when a ModeWrite open made a new file.
	created bool
	written bool
}

// OpenFile opens the pad stored at path.
func OpenFile(path string, mode Mode) (Slot, error) {
	var (
		file    *os.File
		err     error
		created bool
	)
	switch mode {
	case ModeRead:
		file, err = os.Open(path)
	case ModeWrite:
		file, err = os.OpenFile(path, os.O_WRONLY, filePerm)
		if errors.Is(err, os.ErrNotExist) {
			file, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerm)
			created = err == nil
		}
	case ModeStage:
		file, err = os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	default:
		return nil, fmt.Errorf("unsupported mode %s", mode)
	}
	if err != nil {
		return nil, notFound(path, err)
	}
	return &fileSlot{path: path, file: file, mode: mode, created: created}, nil
}

// OpenDevice opens the device-side pad that belongs to hostname on the volume mounted at
// mountPoint.
func OpenDevice(mountPoint, directory, hostname string, mode Mode) (Slot, error) {
	if mountPoint == "" {
		return nil, ErrNoMountPoint
	}
	return OpenFile(DevicePath(mountPoint, directory, hostname), mode)
}

func (s *fileSlot) Name() string {
	return s.path
}

func (s *fileSlot) Read() (*Pad, error) {
	var p Pad
	n, err := io.ReadFull(s.file, p[:])
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, &ShortReadError{Name: s.path, Read: n}
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *fileSlot) Write(p *Pad) error {
	s.written = true
	switch s.mode {
	case ModeWrite:
		if _, err := s.file.WriteAt(p[:], 0); err != nil {
			return err
		}
		// A pad written over a longer file must not keep the old tail.
		return s.file.Truncate(Size)
	case ModeStage:
		_, err := s.file.Write(p[:])
		return err
	}
	return fmt.Errorf("%s: opened for %s", s.path, s.mode)
}

func (s *fileSlot) Sync() error {
	return s.file.Sync()
}

func (s *fileSlot) Commit() error {
	if s.mode != ModeStage || s.committed {
		return nil
	}
	if err := os.Rename(s.file.Name(), s.path); err != nil {
		return err
	}
	s.committed = true
	return syncDir(filepath.Dir(s.path))
}

func (s *fileSlot) Close() error {
	err := s.file.Close()
	var leftover string
	switch {
	case s.mode == ModeStage && !s.committed:
		leftover = s.file.Name()
	case s.mode == ModeWrite && s.created && !s.written:
		// An aborted rotation must not leave an empty pad behind.
		leftover = s.path
	}
	if leftover != "" {
		if rmErr := os.Remove(leftover); rmErr != nil && err == nil {
			err = rmErr
		}
	}
	return err
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// Directory stores host-side pads as files in a system directory.
type Directory struct {
	Path string
}

// OpenHost opens the host-side pad for the device with the given serial number.
func (d Directory) OpenHost(serial string, mode Mode) (Slot, error) {
	return OpenFile(HostPath(d.Path, serial), mode)
}

// Ensure creates the directory if it does not exist yet.
func (d Directory) Ensure() error {
	return os.MkdirAll(d.Path, 0700)
}
