package metadata

import (
	"encoding/binary"
	"fmt"

	"go.uber.org/zap"
)

// SuperMagic identifies a flashfs volume ("FLFS" little-endian on disk).
const SuperMagic uint32 = 0x53464C46

// Highest on-disk revision this build understands. A volume written by a
// newer major or minor revision is refused.
const (
	MajorRevision uint8 = 1
	MinorRevision uint8 = 2
)

// SignatureSize is the encoded size of a Signature.
const SignatureSize = 6

// Signature is the magic/version header of superblock-like records.
type Signature struct {
	Magic uint32
	Major uint8
	Minor uint8
}

// PutSignature encodes the signature little-endian into the first
// SignatureSize bytes of b.
func PutSignature(b []byte, sig Signature) error {
	if len(b) < SignatureSize {
		return fmt.Errorf("%w: %d bytes", ErrShortBuffer, len(b))
	}
	binary.LittleEndian.PutUint32(b[0:4], sig.Magic)
	b[4] = sig.Major
	b[5] = sig.Minor
	return nil
}

// ParseSignature decodes a signature from the first SignatureSize bytes
// of b.
func ParseSignature(b []byte) (Signature, error) {
	if len(b) < SignatureSize {
		return Signature{}, fmt.Errorf("%w: %d bytes", ErrShortBuffer, len(b))
	}
	return Signature{
		Magic: binary.LittleEndian.Uint32(b[0:4]),
		Major: b[4],
		Minor: b[5],
	}, nil
}

// ValidateSignature reports whether the signature carries the expected
// magic and a revision this build supports. An unsupported revision is
// described in the log so an operator knows which driver to upgrade.
func (c *Checker) ValidateSignature(sig Signature) bool {
	if sig.Magic != SuperMagic {
		return false
	}

	if sig.Major > MajorRevision || sig.Minor > MinorRevision {
		c.log.Info("volume has unsupported version",
			zap.Uint8("found_major", sig.Major),
			zap.Uint8("found_minor", sig.Minor),
			zap.Uint8("expected_major", MajorRevision),
			zap.Uint8("expected_minor", MinorRevision))
		return false
	}
	return true
}
