// Package memops provides the bounds-checked byte-range primitives used
// to move data into, out of and between page frames. Every operation
// validates the full range against the declared capacities before a
// single byte is touched; an out-of-range copy silently corrupting an
// adjacent page-granular structure is exactly the failure mode this
// package exists to rule out, so the checks run in every build.
package memops

import (
	"errors"
	"fmt"

	pagemanager "github.com/sushant-115/flashfs/core/memory_engine/page_manager"
)

// ErrRange reports a copy, move or fill whose range does not fit the
// declared source or destination capacity. The destination is unmodified.
var ErrRange = errors.New("byte range violates buffer bounds")

// checkRange validates off+length against the declared capacity and the
// actual backing length. Widened to uint64 so a hostile off+length cannot
// wrap around.
func checkRange(role string, off, size, length uint32, actual int) error {
	if uint64(off)+uint64(length) > uint64(size) {
		return fmt.Errorf("%w: %s off %d, length %d, size %d",
			ErrRange, role, off, length, size)
	}
	if uint64(off)+uint64(length) > uint64(actual) {
		return fmt.Errorf("%w: %s off %d, length %d, backing %d",
			ErrRange, role, off, length, actual)
	}
	return nil
}

// Copy copies length bytes from src+srcOff to dst+dstOff. The declared
// capacities are checked first; on violation no byte is copied.
func Copy(dst []byte, dstOff, dstSize uint32, src []byte, srcOff, srcSize uint32, length uint32) error {
	if err := checkRange("src", srcOff, srcSize, length, len(src)); err != nil {
		return err
	}
	if err := checkRange("dst", dstOff, dstSize, length, len(dst)); err != nil {
		return err
	}

	copy(dst[dstOff:dstOff+length], src[srcOff:srcOff+length])
	return nil
}

// Move is Copy with overlap-safe semantics for ranges inside the same
// buffer. The builtin copy already handles overlapping slices, so the
// contract difference is documentary; callers state their intent.
func Move(dst []byte, dstOff, dstSize uint32, src []byte, srcOff, srcSize uint32, length uint32) error {
	return Copy(dst, dstOff, dstSize, src, srcOff, srcSize, length)
}

// CopyToPage copies length bytes from a raw buffer into a page frame.
func CopyToPage(dst *pagemanager.Page, dstOff, dstSize uint32, src []byte, srcOff, srcSize uint32, length uint32) error {
	if dst == nil {
		return fmt.Errorf("%w: nil destination page", ErrRange)
	}
	return Copy(dst.Data(), dstOff, dstSize, src, srcOff, srcSize, length)
}

// CopyFromPage copies length bytes out of a page frame into a raw buffer.
func CopyFromPage(dst []byte, dstOff, dstSize uint32, src *pagemanager.Page, srcOff, srcSize uint32, length uint32) error {
	if src == nil {
		return fmt.Errorf("%w: nil source page", ErrRange)
	}
	return Copy(dst, dstOff, dstSize, src.Data(), srcOff, srcSize, length)
}

// CopyPage copies length bytes between two page frames.
func CopyPage(dst *pagemanager.Page, dstOff, dstSize uint32, src *pagemanager.Page, srcOff, srcSize uint32, length uint32) error {
	if dst == nil || src == nil {
		return fmt.Errorf("%w: nil page", ErrRange)
	}
	return Copy(dst.Data(), dstOff, dstSize, src.Data(), srcOff, srcSize, length)
}

// MovePage moves length bytes between page ranges, overlap-safe when both
// handles refer to the same page.
func MovePage(dst *pagemanager.Page, dstOff, dstSize uint32, src *pagemanager.Page, srcOff, srcSize uint32, length uint32) error {
	return CopyPage(dst, dstOff, dstSize, src, srcOff, srcSize, length)
}

// Fill writes length copies of value into the page at dstOff.
func Fill(dst *pagemanager.Page, dstOff, dstSize uint32, value byte, length uint32) error {
	if dst == nil {
		return fmt.Errorf("%w: nil destination page", ErrRange)
	}
	data := dst.Data()
	if err := checkRange("dst", dstOff, dstSize, length, len(data)); err != nil {
		return err
	}

	region := data[dstOff : dstOff+length]
	for i := range region {
		region[i] = value
	}
	return nil
}

// Zero clears length bytes of the page at dstOff.
func Zero(dst *pagemanager.Page, dstOff, dstSize uint32, length uint32) error {
	return Fill(dst, dstOff, dstSize, 0, length)
}
