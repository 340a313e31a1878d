package vhd

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel-ish typed errors for the codec and resolver's failure
// kinds. Callers compare typed errors with errors.As and the sentinel
// values with errors.Is. Codec errors are wrapped with
// github.com/pkg/errors where OpenFile surfaces them, so a %+v print
// carries the call stack back to the offending field; StructuralError
// and InvalidSectorError are returned unwrapped.

// FormatError reports a malformed on-disk structure: wrong magic,
// wrong version, bad checksum, unknown enum value, or a malformed
// variable-length field.
type FormatError struct {
	Field string
	Want  any
	Got   any
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("vhd: format error in %s: want %v, got %v", e.Field, e.Want, e.Got)
}

// StructuralError reports a value that parsed cleanly but violates a
// structural invariant (e.g. max_table_entries too large, current_size
// exceeds capacity).
type StructuralError struct {
	Reason string
}

func (e *StructuralError) Error() string {
	return "vhd: structural error: " + e.Reason
}

// InvalidSectorError reports a virtual sector outside the addressable
// range of a VHD layer.
type InvalidSectorError struct {
	Sector int64
	Max    int64
}

func (e *InvalidSectorError) Error() string {
	return fmt.Sprintf("vhd: invalid sector %d (max %d)", e.Sector, e.Max)
}

// ErrParentNotFound is returned when a differencing disk's parent
// cannot be resolved through any parent locator and the configured
// search path.
var ErrParentNotFound = errors.New("vhd: parent not found")

// ErrFixedUnsupported is returned by the resolver/writer for the
// still-unimplemented fixed-disk read/write path; the codec itself
// parses fixed footers fine.
var ErrFixedUnsupported = errors.New("vhd: fixed disk read/write is not supported by the resolver")

func wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, format, args...)
}
