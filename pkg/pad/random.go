package pad

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	mrand "math/rand"
	"os"
	"time"
)

// Source produces fresh pads.
type Source interface {
	Fill(p *Pad) error
}

// CryptoSource draws pads from a cryptographically secure reader. The zero value uses
// crypto/rand.Reader.
type CryptoSource struct {
	Reader io.Reader
}

func (c CryptoSource) Fill(p *Pad) error {
	r := c.Reader
	if r == nil {
		r = rand.Reader
	}
	if _, err := io.ReadFull(r, p[:]); err != nil {
		return fmt.Errorf("failed to generate pad: %w", err)
	}
	return nil
}

// LegacySource reproduces the generator used by earlier pam_usb releases: 1024 31-bit words from a
// PRNG seeded with the process id multiplied by the current Unix time. The seed is predictable and
// the source exists only for compatibility; prefer CryptoSource.
type LegacySource struct {
	// Now overrides the clock used for seeding. Nil means time.Now.
	Now func() time.Time
}

func (l LegacySource) Fill(p *Pad) error {
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	r := mrand.New(mrand.NewSource(int64(os.Getpid()) * now().Unix()))
	for i := 0; i < Size; i += 4 {
		binary.LittleEndian.PutUint32(p[i:], uint32(r.Int31()))
	}
	return nil
}

// SourceByName returns the Source for a configuration value ("crypto" or "legacy").
func SourceByName(name string) (Source, error) {
	switch name {
	case "", "crypto":
		return CryptoSource{}, nil
	case "legacy":
		return LegacySource{}, nil
	}
	return nil, fmt.Errorf("unknown random source '%s'", name)
}
