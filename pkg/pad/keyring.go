package pad

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

const keyringPadService = "otp"

// Keyring stores host-side pads in the system keyring instead of a directory. The keyring is
// opened lazily so that password prompts only happen when a pad is actually needed.
type Keyring struct {
	Open func() (keyring.Keyring, error)
}

// KeyName returns the keyring item name used for the device with the given serial number.
func KeyName(serial string) string {
	return keyringPadService + "." + serial
}

// OpenHost opens the host-side pad for the device with the given serial number. In ModeRead the
// item must already exist. In ModeWrite the item is stored by Write; in ModeStage Write only buffers
// the pad and Commit stores it.
func (k Keyring) OpenHost(serial string, mode Mode) (Slot, error) {
	name := KeyName(serial)
	if k.Open == nil {
		return nil, notFound(name, errors.New("no keyring configured"))
	}
	kr, err := k.Open()
	if err != nil {
		return nil, notFound(name, err)
	}
	slot := &keyringSlot{kr: kr, key: name, mode: mode}
	if mode == ModeRead {
		item, err := kr.Get(name)
		if err != nil {
			return nil, notFound(name, err)
		}
		slot.data = item.Data
	}
	return slot, nil
}

type keyringSlot struct {
	kr   keyring.Keyring
	key  string
	mode Mode
	data []byte
	// staged holds a ModeStage pad until Commit.
	staged []byte
}

func (s *keyringSlot) Name() string {
	return "keyring:" + s.key
}

func (s *keyringSlot) Read() (*Pad, error) {
	if s.mode != ModeRead {
		return nil, fmt.Errorf("%s: opened for %s", s.Name(), s.mode)
	}
	var p Pad
	if n := copy(p[:], s.data); n < Size {
		return nil, &ShortReadError{Name: s.Name(), Read: n}
	}
	return &p, nil
}

func (s *keyringSlot) Write(p *Pad) error {
	if s.mode == ModeRead {
		return fmt.Errorf("%s: opened for %s", s.Name(), s.mode)
	}
	data := make([]byte, Size)
	copy(data, p[:])
	if s.mode == ModeStage {
		s.staged = data
		return nil
	}
	return s.store(data)
}

func (s *keyringSlot) store(data []byte) error {
	if err := s.kr.Set(keyring.Item{
		Key:         s.key,
		Data:        data,
		Label:       "one-time pad " + s.key,
		Description: "removable device pad",
	}); err != nil {
		return fmt.Errorf("failed to store pad in keyring: %w", err)
	}
	return nil
}

func (s *keyringSlot) Sync() error {
	return nil
}

func (s *keyringSlot) Commit() error {
	if s.staged == nil {
		return nil
	}
	if err := s.store(s.staged); err != nil {
		return err
	}
	s.staged = nil
	return nil
}

func (s *keyringSlot) Close() error {
	s.data = nil
	s.staged = nil
	return nil
}
