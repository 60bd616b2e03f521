// Copyright 2010 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipcore

import (
	"os"
	"time"
)

// Unix file type bits as packed into a central directory header's external
// attributes high 16 bits, matching the convention set by Info-ZIP and
// followed by every major implementation since.
const (
	unixModeDir     = 0o040000
	unixModeRegular = 0o100000
	unixFileModeMask = 0o170000

	defaultFileExternalAttrs = 0o100644 << 16
	defaultDirExternalAttrs  = 0o040755 << 16
)

// Entry is the reader-side view of one archived item, per the data model in
// §3: everything the central directory (optionally overridden by its ZIP64
// extra field) says about one name.
type Entry struct {
	Name             string
	IsDir            bool
	CompressedSize   uint64
	UncompressedSize uint64
	CRC32            uint32
	Method           uint16
	Flags            uint16
	Modified         time.Time
	Comment          string
	Extra            []byte

	// LocalHeaderOffset is the absolute byte offset of this entry's local
	// file header within the archive (§3's data model).
	LocalHeaderOffset uint64

	externalAttrs uint32
}

// Mode reports the POSIX file mode encoded in the entry's external
// attributes, falling back to a directory/file default when the producing
// archiver didn't set the Unix bits (external attributes' low byte is
// usually an MS-DOS attribute byte in that case, which carries no
// permission bits worth trusting).
func (e *Entry) Mode() os.FileMode {
	unixMode := e.externalAttrs >> 16
	if unixMode&unixFileModeMask == 0 {
		if e.IsDir {
			return os.ModeDir | 0o755
		}
		return 0o644
	}
	mode := os.FileMode(unixMode & 0o777)
	switch unixMode & unixFileModeMask {
	case unixModeDir:
		mode |= os.ModeDir
	case unixModeRegular:
		// no extra bits
	default:
		// symlink, device, etc: preserve permission bits only, since the
		// reader engine (§4.3) only ever yields regular-file or directory
		// byte streams.
	}
	return mode
}

// pendingEntry is the writer's record of one already-emitted entry, kept in
// append order so Close can regenerate the central directory (§4.4 "State").
type pendingEntry struct {
	name               []byte
	crc32              uint32
	compressedSize     uint64
	uncompressedSize   uint64
	method             uint16
	flags              uint16
	dosDate, dosTime   uint16
	localHeaderOffset  uint64
	needsZip64         bool
	isDir              bool
}

func (p *pendingEntry) externalAttrs() uint32 {
	if p.isDir {
		return defaultDirExternalAttrs
	}
	return defaultFileExternalAttrs
}

// versionNeeded reports the version-needed-to-extract field for this entry,
// 45 (ZIP64) or 20 (classic), per §4.4.1.
func (p *pendingEntry) versionNeeded() uint16 {
	if p.needsZip64 {
		return versionZip64
	}
	return versionDefault
}
