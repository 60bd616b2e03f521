// Copyright 2010 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipcore

import (
	"io"
)

// On-disk record signatures and fixed lengths, per the PKZIP APPNOTE.
const (
	sigLocalFileHeader = 0x04034B50
	sigCentralDir       = 0x02014B50
	sigEOCD             = 0x06054B50
	sigZip64EOCD        = 0x06064B50
	sigZip64Locator     = 0x07064B50
	sigDataDescriptor   = 0x08074B50 // canonical, signed form; this package always writes it and requires it on read

	localFileHeaderFixedLen = 30 // + filename + extra
	centralDirFixedLen      = 46 // + filename + extra + comment
	eocdFixedLen            = 22 // + comment
	zip64EocdFixedLen       = 56 // + extra
	zip64LocatorLen         = 20
	dataDescriptorLen       = 16 // sig + crc32 + 2x uint32
	dataDescriptor64Len     = 24 // sig + crc32 + 2x uint64

	zip64ExtraTag = 0x0001
)

// Compression methods. Only Store and Deflate are supported; Bzip2 and
// Lzma are recognized so an UnsupportedFeature can name them precisely.
const (
	Store   uint16 = 0
	Deflate uint16 = 8
	bzip2   uint16 = 12
	lzma    uint16 = 14
)

// General purpose bit flags.
const (
	flagEncrypted       uint16 = 0x0001
	flagDataDescriptor  uint16 = 0x0008
	flagStrongEncrypted uint16 = 0x0040
	flagUTF8            uint16 = 0x0800
)

// Version numbers.
const (
	versionDefault    uint16 = 20
	versionZip64      uint16 = 45
	versionMadeByUnix uint16 = 63 // Unix, 3.0 (63 = 3*20 + 3)
)

// Classic 32/16-bit sentinels and the count above which ZIP64 is mandatory.
const (
	sentinel32 = 0xFFFFFFFF
	sentinel16 = 0xFFFF

	maxClassicSize   = uint64(0xFFFFFFFF) // values > this need ZIP64
	maxClassicCount  = 0xFFFF
	maxCentralDirectoryEntries = 10_000_000 // matches the original implementation's hard limit, not just a suggestion
)

// localFileHeader is the 30-byte-fixed record preceding each entry's
// compressed data.
type localFileHeader struct {
	version            uint16
	flags              uint16
	method             uint16
	modTime            uint16
	modDate            uint16
	crc32              uint32
	compressedSize32   uint32
	uncompressedSize32 uint32
	filename           []byte
	extra              []byte
}

func parseLocalFileHeader(r io.Reader) (*localFileHeader, error) {
	sig, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if sig != sigLocalFileHeader {
		return nil, formatErrorf("invalid local file header signature: %#08x, expected %#08x", sig, uint32(sigLocalFileHeader))
	}

	h := &localFileHeader{}
	if h.version, err = readUint16(r); err != nil {
		return nil, err
	}
	if h.flags, err = readUint16(r); err != nil {
		return nil, err
	}
	if h.method, err = readUint16(r); err != nil {
		return nil, err
	}
	if h.modTime, err = readUint16(r); err != nil {
		return nil, err
	}
	if h.modDate, err = readUint16(r); err != nil {
		return nil, err
	}
	if h.crc32, err = readUint32(r); err != nil {
		return nil, err
	}
	if h.compressedSize32, err = readUint32(r); err != nil {
		return nil, err
	}
	if h.uncompressedSize32, err = readUint32(r); err != nil {
		return nil, err
	}
	filenameLen, err := readUint16(r)
	if err != nil {
		return nil, err
	}
	extraLen, err := readUint16(r)
	if err != nil {
		return nil, err
	}
	if h.filename, err = readExactN(r, int(filenameLen)); err != nil {
		return nil, err
	}
	if h.extra, err = readExactN(r, int(extraLen)); err != nil {
		return nil, err
	}
	return h, nil
}

// writeLocalFileHeader writes the fixed 30-byte portion of a local file
// header plus filename and extra; it does not write the compressed data
// that follows.
func writeLocalFileHeader(w io.Writer, h *localFileHeader) error {
	var buf [localFileHeaderFixedLen]byte
	b := writeBuf(buf[:])
	b.uint32(sigLocalFileHeader)
	b.uint16(h.version)
	b.uint16(h.flags)
	b.uint16(h.method)
	b.uint16(h.modTime)
	b.uint16(h.modDate)
	b.uint32(h.crc32)
	b.uint32(h.compressedSize32)
	b.uint32(h.uncompressedSize32)
	b.uint16(uint16(len(h.filename)))
	b.uint16(uint16(len(h.extra)))
	if err := writeFull(w, buf[:]); err != nil {
		return err
	}
	if err := writeFull(w, h.filename); err != nil {
		return err
	}
	return writeFull(w, h.extra)
}

// centralDirHeader is the 46-byte-fixed central directory record for one
// entry.
type centralDirHeader struct {
	versionMadeBy      uint16
	version            uint16
	flags              uint16
	method             uint16
	modTime            uint16
	modDate            uint16
	crc32              uint32
	compressedSize32   uint32
	uncompressedSize32 uint32
	diskNum            uint16
	internalAttrs      uint16
	externalAttrs      uint32
	localHeaderOffset32 uint32
	filename           []byte
	extra              []byte
	comment            []byte
}

func parseCentralDirHeader(r io.Reader) (*centralDirHeader, error) {
	sig, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if sig != sigCentralDir {
		return nil, formatErrorf("invalid central directory header signature: %#08x, expected %#08x", sig, uint32(sigCentralDir))
	}

	h := &centralDirHeader{}
	if h.versionMadeBy, err = readUint16(r); err != nil {
		return nil, err
	}
	if h.version, err = readUint16(r); err != nil {
		return nil, err
	}
	if h.flags, err = readUint16(r); err != nil {
		return nil, err
	}
	if h.method, err = readUint16(r); err != nil {
		return nil, err
	}
	if h.modTime, err = readUint16(r); err != nil {
		return nil, err
	}
	if h.modDate, err = readUint16(r); err != nil {
		return nil, err
	}
	if h.crc32, err = readUint32(r); err != nil {
		return nil, err
	}
	if h.compressedSize32, err = readUint32(r); err != nil {
		return nil, err
	}
	if h.uncompressedSize32, err = readUint32(r); err != nil {
		return nil, err
	}
	filenameLen, err := readUint16(r)
	if err != nil {
		return nil, err
	}
	extraLen, err := readUint16(r)
	if err != nil {
		return nil, err
	}
	commentLen, err := readUint16(r)
	if err != nil {
		return nil, err
	}
	if h.diskNum, err = readUint16(r); err != nil {
		return nil, err
	}
	if h.internalAttrs, err = readUint16(r); err != nil {
		return nil, err
	}
	if h.externalAttrs, err = readUint32(r); err != nil {
		return nil, err
	}
	if h.localHeaderOffset32, err = readUint32(r); err != nil {
		return nil, err
	}
	if h.filename, err = readExactN(r, int(filenameLen)); err != nil {
		return nil, err
	}
	if h.extra, err = readExactN(r, int(extraLen)); err != nil {
		return nil, err
	}
	if h.comment, err = readExactN(r, int(commentLen)); err != nil {
		return nil, err
	}
	return h, nil
}

func writeCentralDirHeader(w io.Writer, h *centralDirHeader) error {
	var buf [centralDirFixedLen]byte
	b := writeBuf(buf[:])
	b.uint32(sigCentralDir)
	b.uint16(h.versionMadeBy)
	b.uint16(h.version)
	b.uint16(h.flags)
	b.uint16(h.method)
	b.uint16(h.modTime)
	b.uint16(h.modDate)
	b.uint32(h.crc32)
	b.uint32(h.compressedSize32)
	b.uint32(h.uncompressedSize32)
	b.uint16(uint16(len(h.filename)))
	b.uint16(uint16(len(h.extra)))
	b.uint16(uint16(len(h.comment)))
	b.uint16(h.diskNum)
	b.uint16(h.internalAttrs)
	b.uint32(h.externalAttrs)
	b.uint32(h.localHeaderOffset32)
	if err := writeFull(w, buf[:]); err != nil {
		return err
	}
	if err := writeFull(w, h.filename); err != nil {
		return err
	}
	if err := writeFull(w, h.extra); err != nil {
		return err
	}
	return writeFull(w, h.comment)
}

// eocdRecord is the classic 22-byte-fixed end-of-central-directory record.
type eocdRecord struct {
	diskNum          uint16
	cdDisk           uint16
	cdRecordsOnDisk  uint16
	cdRecordsTotal   uint16
	cdSize32         uint32
	cdOffset32       uint32
	comment          []byte
}

func parseEOCD(r io.Reader) (*eocdRecord, error) {
	sig, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if sig != sigEOCD {
		return nil, formatErrorf("invalid end of central directory signature: %#08x, expected %#08x", sig, uint32(sigEOCD))
	}
	e := &eocdRecord{}
	if e.diskNum, err = readUint16(r); err != nil {
		return nil, err
	}
	if e.cdDisk, err = readUint16(r); err != nil {
		return nil, err
	}
	if e.cdRecordsOnDisk, err = readUint16(r); err != nil {
		return nil, err
	}
	if e.cdRecordsTotal, err = readUint16(r); err != nil {
		return nil, err
	}
	if e.cdSize32, err = readUint32(r); err != nil {
		return nil, err
	}
	if e.cdOffset32, err = readUint32(r); err != nil {
		return nil, err
	}
	commentLen, err := readUint16(r)
	if err != nil {
		return nil, err
	}
	if e.comment, err = readExactN(r, int(commentLen)); err != nil {
		return nil, err
	}
	return e, nil
}

func writeEOCD(w io.Writer, e *eocdRecord) error {
	var buf [eocdFixedLen]byte
	b := writeBuf(buf[:])
	b.uint32(sigEOCD)
	b.uint16(e.diskNum)
	b.uint16(e.cdDisk)
	b.uint16(e.cdRecordsOnDisk)
	b.uint16(e.cdRecordsTotal)
	b.uint32(e.cdSize32)
	b.uint32(e.cdOffset32)
	b.uint16(uint16(len(e.comment)))
	if err := writeFull(w, buf[:]); err != nil {
		return err
	}
	return writeFull(w, e.comment)
}

// zip64EocdRecord is the fixed 56-byte ZIP64 end-of-central-directory
// record (no trailing extra data is emitted by this package, though the
// format allows it).
type zip64EocdRecord struct {
	versionMadeBy   uint16
	versionNeeded   uint16
	diskNum         uint32
	cdDisk          uint32
	cdRecordsOnDisk uint64
	cdRecordsTotal  uint64
	cdSize          uint64
	cdOffset        uint64
}

func parseZip64EOCD(r io.Reader) (*zip64EocdRecord, error) {
	sig, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if sig != sigZip64EOCD {
		return nil, formatErrorf("invalid ZIP64 end of central directory signature: %#08x, expected %#08x", sig, uint32(sigZip64EOCD))
	}
	// size field: bytes of record following signature+size, excluding any
	// trailing vendor-specific data we don't parse.
	if _, err := readUint64(r); err != nil {
		return nil, err
	}
	z := &zip64EocdRecord{}
	if z.versionMadeBy, err = readUint16(r); err != nil {
		return nil, err
	}
	if z.versionNeeded, err = readUint16(r); err != nil {
		return nil, err
	}
	if z.diskNum, err = readUint32(r); err != nil {
		return nil, err
	}
	if z.cdDisk, err = readUint32(r); err != nil {
		return nil, err
	}
	if z.cdRecordsOnDisk, err = readUint64(r); err != nil {
		return nil, err
	}
	if z.cdRecordsTotal, err = readUint64(r); err != nil {
		return nil, err
	}
	if z.cdSize, err = readUint64(r); err != nil {
		return nil, err
	}
	if z.cdOffset, err = readUint64(r); err != nil {
		return nil, err
	}
	return z, nil
}

func writeZip64EOCD(w io.Writer, z *zip64EocdRecord) error {
	var buf [zip64EocdFixedLen]byte
	b := writeBuf(buf[:])
	b.uint32(sigZip64EOCD)
	b.uint64(zip64EocdFixedLen - 12) // size excludes signature (4) and size field itself (8)
	b.uint16(z.versionMadeBy)
	b.uint16(z.versionNeeded)
	b.uint32(z.diskNum)
	b.uint32(z.cdDisk)
	b.uint64(z.cdRecordsOnDisk)
	b.uint64(z.cdRecordsTotal)
	b.uint64(z.cdSize)
	b.uint64(z.cdOffset)
	return writeFull(w, buf[:])
}

// zip64Locator is the fixed 20-byte record placed immediately before the
// classic EOCD when ZIP64 is in use.
type zip64Locator struct {
	diskNum         uint32
	zip64EocdOffset uint64
	totalDisks      uint32
}

func parseZip64Locator(r io.Reader) (*zip64Locator, error) {
	sig, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if sig != sigZip64Locator {
		return nil, formatErrorf("invalid ZIP64 locator signature: %#08x, expected %#08x", sig, uint32(sigZip64Locator))
	}
	l := &zip64Locator{}
	if l.diskNum, err = readUint32(r); err != nil {
		return nil, err
	}
	if l.zip64EocdOffset, err = readUint64(r); err != nil {
		return nil, err
	}
	if l.totalDisks, err = readUint32(r); err != nil {
		return nil, err
	}
	return l, nil
}

func writeZip64Locator(w io.Writer, l *zip64Locator) error {
	var buf [zip64LocatorLen]byte
	b := writeBuf(buf[:])
	b.uint32(sigZip64Locator)
	b.uint32(l.diskNum)
	b.uint64(l.zip64EocdOffset)
	b.uint32(l.totalDisks)
	return writeFull(w, buf[:])
}

// zip64ExtraField holds whichever prefix of (original size, compressed
// size, local header offset, disk start) was present in a ZIP64 extra
// field. On write, the canonical local header and every ZIP64 central
// directory record carry (original size, compressed size, local header
// offset), and the data-descriptor local header carries the local header
// offset alone. On read, values are taken in this order only for the
// classic fields the caller reports as holding a sentinel, as many as fit
// within the field's declared size; a producer that also emits values for
// non-sentinel fields is read correctly only when every classic slot
// holds its sentinel.
type zip64ExtraField struct {
	originalSize       *uint64
	compressedSize     *uint64
	localHeaderOffset  *uint64
	diskStart          *uint32
}

// parseZip64ExtraField walks tag/size pairs in a local or central directory
// extra field, interpreting only tag 0x0001. Other tags are skipped
// opaquely. A declared size that would overrun the buffer terminates the
// walk without error, per §4.2.
//
// The zip64 extra field's values are present positionally only for the
// classic fields that actually hold a sentinel (original size, compressed
// size, local header offset, disk start, in that fixed order, per APPNOTE
// 4.5.3) — the field's own length can't disambiguate "only the second value
// present" from "only the first," so the caller must say which classic
// fields were sentineled in the record this extra field came from.
func parseZip64ExtraField(extra []byte, wantOriginalSize, wantCompressedSize, wantLocalHeaderOffset bool) *zip64ExtraField {
	pos := 0
	for pos+4 <= len(extra) {
		tag := uint16(extra[pos]) | uint16(extra[pos+1])<<8
		size := int(uint16(extra[pos+2]) | uint16(extra[pos+3])<<8)
		pos += 4
		if size < 0 || pos+size > len(extra) {
			return nil
		}
		if tag != zip64ExtraTag {
			pos += size
			continue
		}
		field := extra[pos : pos+size]
		z := &zip64ExtraField{}
		fp := 0
		if wantOriginalSize && fp+8 <= len(field) {
			v := leUint64(field[fp:])
			z.originalSize = &v
			fp += 8
		}
		if wantCompressedSize && fp+8 <= len(field) {
			v := leUint64(field[fp:])
			z.compressedSize = &v
			fp += 8
		}
		if wantLocalHeaderOffset && fp+8 <= len(field) {
			v := leUint64(field[fp:])
			z.localHeaderOffset = &v
			fp += 8
		}
		if fp+4 <= len(field) {
			v := leUint32(field[fp:])
			z.diskStart = &v
		}
		return z
	}
	return nil
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func leUint32(b []byte) uint32 {
	var v uint32
	for i := 3; i >= 0; i-- {
		v = v<<8 | uint32(b[i])
	}
	return v
}

// buildZip64ExtraField serializes a tag-0x0001 extra field carrying exactly
// the given 64-bit values, in order (original size, compressed size, local
// header offset). Callers pass 1 value (local header offset only, for the
// data-descriptor local header variant) or 3 values (the canonical local
// header and every central directory record), per §4.4.
func buildZip64ExtraField(values ...uint64) []byte {
	size := 8 * len(values)
	buf := make([]byte, 4+size)
	b := writeBuf(buf)
	b.uint16(zip64ExtraTag)
	b.uint16(uint16(size))
	for _, v := range values {
		b.uint64(v)
	}
	return buf
}

// dataDescriptor is the optional record following compressed data when
// flag bit 3 is set.
type dataDescriptor struct {
	crc32            uint32
	compressedSize   uint64
	uncompressedSize uint64
}

// parseDataDescriptor reads a data descriptor, requiring the canonical
// signed signature (§6: "the reader requires the signature for any
// descriptor it validates").
func parseDataDescriptor(r io.Reader, isZip64 bool) (*dataDescriptor, error) {
	sig, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if sig != sigDataDescriptor {
		return nil, formatErrorf("invalid data descriptor signature: %#08x, expected %#08x", sig, uint32(sigDataDescriptor))
	}
	d := &dataDescriptor{}
	if d.crc32, err = readUint32(r); err != nil {
		return nil, err
	}
	if isZip64 {
		if d.compressedSize, err = readUint64(r); err != nil {
			return nil, err
		}
		if d.uncompressedSize, err = readUint64(r); err != nil {
			return nil, err
		}
	} else {
		cs, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		us, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		d.compressedSize, d.uncompressedSize = uint64(cs), uint64(us)
	}
	return d, nil
}

func writeDataDescriptor(w io.Writer, crc32 uint32, compressedSize, uncompressedSize uint64, isZip64 bool) error {
	if isZip64 {
		var buf [dataDescriptor64Len]byte
		b := writeBuf(buf[:])
		b.uint32(sigDataDescriptor)
		b.uint32(crc32)
		b.uint64(compressedSize)
		b.uint64(uncompressedSize)
		return writeFull(w, buf[:])
	}
	var buf [dataDescriptorLen]byte
	b := writeBuf(buf[:])
	b.uint32(sigDataDescriptor)
	b.uint32(crc32)
	b.uint32(uint32(compressedSize))
	b.uint32(uint32(uncompressedSize))
	return writeFull(w, buf[:])
}
