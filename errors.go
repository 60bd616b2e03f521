package zipcore

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error is the abstract parent of every error this package raises. It is
// never returned directly; it exists so callers can catch any zipcore
// failure with a single type switch or errors.As.
type Error interface {
	error
	zipError()
}

// FormatError reports a corrupt, truncated, or structurally invalid
// archive, an I/O short-write, use of a closed Reader/Writer, or an input
// that violates the format's own limits (oversize name, NUL in name).
type FormatError struct {
	msg   string
	cause error
}

func (e *FormatError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("zipcore: %s: %v", e.msg, e.cause)
	}
	return "zipcore: " + e.msg
}

func (e *FormatError) Unwrap() error { return e.cause }
func (*FormatError) zipError()       {}

func newFormatError(msg string) error {
	return &FormatError{msg: msg}
}

func wrapFormatError(cause error, msg string) error {
	return &FormatError{msg: msg, cause: errors.WithStack(cause)}
}

func formatErrorf(format string, args ...interface{}) error {
	return &FormatError{msg: fmt.Sprintf(format, args...)}
}

// UnsupportedFeature reports an archive feature this package deliberately
// does not implement: encryption, a compression method other than Store or
// Deflate, or an unsupported Writer open mode.
type UnsupportedFeature struct {
	msg string
}

func (e *UnsupportedFeature) Error() string { return "zipcore: unsupported: " + e.msg }
func (*UnsupportedFeature) zipError()       {}

func newUnsupportedFeature(format string, args ...interface{}) error {
	return &UnsupportedFeature{msg: fmt.Sprintf(format, args...)}
}

// CrcError reports that the CRC-32 of an entry's decompressed bytes does
// not match the CRC-32 recorded for it in the archive.
type CrcError struct {
	Name     string
	Expected uint32
	Actual   uint32
}

func (e *CrcError) Error() string {
	return fmt.Sprintf("zipcore: CRC-32 mismatch for %q: expected %#08x, got %#08x", e.Name, e.Expected, e.Actual)
}
func (*CrcError) zipError() {}

// CompressionError reports that the deflate codec rejected a stream, or
// that bytes remained after a deflate stream's logical end within the
// region the central directory said was compressed data.
type CompressionError struct {
	msg   string
	cause error
}

func (e *CompressionError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("zipcore: compression: %s: %v", e.msg, e.cause)
	}
	return "zipcore: compression: " + e.msg
}

func (e *CompressionError) Unwrap() error { return e.cause }
func (*CompressionError) zipError()       {}

func newCompressionError(msg string) error {
	return &CompressionError{msg: msg}
}

func wrapCompressionError(cause error, msg string) error {
	return &CompressionError{msg: msg, cause: errors.WithStack(cause)}
}
