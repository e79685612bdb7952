// Package metadata implements the one binary contract the page core
// owns: the {bytes, flags, csum} check record embedded inside larger
// on-disk structures, plus the volume signature validator.
package metadata

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"time"

	"go.uber.org/zap"
)

// Check record flags. Only CRC32 is implemented; the remaining bits are
// reserved for future schemes.
const (
	FlagCRC32 uint16 = 1 << 0
)

// RecordSize is the encoded size of a CheckRecord.
const RecordSize = 8

var (
	ErrNilRecord            = errors.New("nil check record")
	ErrCorruptedLength      = errors.New("declared length exceeds checked buffer")
	ErrUnsupportedAlgorithm = errors.New("check record flags select no supported algorithm")
	ErrShortBuffer          = errors.New("buffer too small for check record")
)

// CheckRecord is the embedded integrity descriptor: the number of covered
// bytes, the algorithm flags and the checksum itself.
type CheckRecord struct {
	Bytes uint16
	Flags uint16
	Csum  uint32
}

// PutRecord encodes the record little-endian into the first RecordSize
// bytes of b.
func PutRecord(b []byte, rec *CheckRecord) error {
	if rec == nil {
		return ErrNilRecord
	}
	if len(b) < RecordSize {
		return fmt.Errorf("%w: %d bytes", ErrShortBuffer, len(b))
	}
	binary.LittleEndian.PutUint16(b[0:2], rec.Bytes)
	binary.LittleEndian.PutUint16(b[2:4], rec.Flags)
	binary.LittleEndian.PutUint32(b[4:8], rec.Csum)
	return nil
}

// ParseRecord decodes a record from the first RecordSize bytes of b.
func ParseRecord(b []byte) (CheckRecord, error) {
	if len(b) < RecordSize {
		return CheckRecord{}, fmt.Errorf("%w: %d bytes", ErrShortBuffer, len(b))
	}
	return CheckRecord{
		Bytes: binary.LittleEndian.Uint16(b[0:2]),
		Flags: binary.LittleEndian.Uint16(b[2:4]),
		Csum:  binary.LittleEndian.Uint32(b[4:8]),
	}, nil
}

// Checker computes and verifies check records.
type Checker struct {
	log *zap.Logger
}

// NewChecker creates a checker emitting diagnostics to logger.
func NewChecker(logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{log: logger.Named("metadata")}
}

// Compute checksums the first rec.Bytes bytes of buf according to the
// record's flags and writes the result into rec.Csum.
func (c *Checker) Compute(rec *CheckRecord, buf []byte) error {
	if rec == nil {
		return ErrNilRecord
	}

	if int(rec.Bytes) > len(buf) {
		c.log.Error("corrupted size of checked data",
			zap.Uint16("bytes", rec.Bytes),
			zap.Int("buf_size", len(buf)))
		return fmt.Errorf("%w: %d > %d", ErrCorruptedLength, rec.Bytes, len(buf))
	}

	if rec.Flags&FlagCRC32 == 0 {
		c.log.Error("unknown check flags set",
			zap.Uint16("flags", rec.Flags))
		return fmt.Errorf("%w: flags %#x", ErrUnsupportedAlgorithm, rec.Flags)
	}

	rec.Csum = crc32.ChecksumIEEE(buf[:rec.Bytes])
	return nil
}

// Verify recomputes the checksum and compares it with the stored one. The
// stored field is restored either way. Any internal failure reports false
// rather than an error: a computation that cannot run and a detected
// corruption look the same to the caller.
func (c *Checker) Verify(rec *CheckRecord, buf []byte) bool {
	if rec == nil {
		return false
	}

	stored := rec.Csum
	if err := c.Compute(rec, buf); err != nil {
		c.log.Error("fail to calculate checksum", zap.Error(err))
		rec.Csum = stored
		return false
	}

	calc := rec.Csum
	rec.Csum = stored

	if stored != calc {
		c.log.Error("checksum mismatch",
			zap.Uint32("stored", stored),
			zap.Uint32("calculated", calc))
		return false
	}
	return true
}

// Timestamp returns the current time in nanoseconds since the epoch, the
// resolution volume records are stamped with.
func Timestamp() uint64 {
	return uint64(time.Now().UnixNano())
}
