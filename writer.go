// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipcore

import (
	"bytes"
	"hash/crc32"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
)

// writerSizeOverride lets a test substitute synthetic uncompressed/
// compressed sizes for the next AddBytes call, so ZIP64-boundary decisions
// and central directory emission can be exercised without allocating
// multi-gigabyte payloads. Mirrors the teacher's testHookCloseSizeOffset.
type writerSizeOverride struct {
	uncompressedSize uint64
	compressedSize   uint64
}

// Writer serializes entries sequentially to an append-only sink and emits a
// correct central directory and trailer at Close, per §4.4.
type Writer struct {
	dst    io.WriteSeeker
	closer io.Closer
	closed bool

	offset     uint64
	entries    []*pendingEntry
	needsZip64 bool

	nextSizeOverride *writerSizeOverride
}

// NewWriter creates (or truncates) the named file and returns a Writer that
// owns the resulting handle.
func NewWriter(name string) (*Writer, error) {
	f, err := os.Create(name)
	if err != nil {
		return nil, wrapFormatError(err, "create archive")
	}
	w := &Writer{dst: f, closer: f}
	return w, nil
}

// NewWriterFromSeeker wraps a caller-owned sink. Close never closes dst.
func NewWriterFromSeeker(dst io.WriteSeeker) *Writer {
	return &Writer{dst: dst}
}

// OpenWriter mirrors NewWriterFromSeeker but enforces §6's "mode \"w\" (any
// other mode rejected)" contract explicitly.
func OpenWriter(dst io.WriteSeeker, mode string) (*Writer, error) {
	if mode != "w" {
		return nil, newUnsupportedFeature("open mode %q is not supported; only \"w\" is", mode)
	}
	return NewWriterFromSeeker(dst), nil
}

// normalizeEntryName applies §4.4 step 1: backslash normalization, length
// bound [1,255], and NUL rejection.
func normalizeEntryName(name string) (nameBytes []byte, isDir bool, err error) {
	normalized := strings.ReplaceAll(name, "\\", "/")
	nameBytes = []byte(normalized)
	if len(nameBytes) < 1 || len(nameBytes) > 255 {
		return nil, false, formatErrorf("entry name length %d is out of range [1,255]: %q", len(nameBytes), name)
	}
	if bytes.IndexByte(nameBytes, 0) >= 0 {
		return nil, false, formatErrorf("entry name contains a NUL byte: %q", name)
	}
	return nameBytes, strings.HasSuffix(normalized, "/"), nil
}

func compressData(data []byte, method uint16) ([]byte, error) {
	switch method {
	case Store:
		return data, nil
	case Deflate:
		var buf bytes.Buffer
		fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, wrapCompressionError(err, "create deflate writer")
		}
		if _, err := fw.Write(data); err != nil {
			return nil, wrapCompressionError(err, "write deflate stream")
		}
		if err := fw.Close(); err != nil {
			return nil, wrapCompressionError(err, "close deflate stream")
		}
		return buf.Bytes(), nil
	case bzip2, lzma:
		return nil, newUnsupportedFeature("compression method %d is not supported", method)
	default:
		return nil, newUnsupportedFeature("unknown compression method %d", method)
	}
}

// AddBytes compresses data and appends it as one entry, per §4.4's
// add_bytes procedure.
func (w *Writer) AddBytes(name string, data []byte, method uint16, useDescriptor bool) error {
	if w.closed {
		return newFormatError("writer is closed")
	}
	nameBytes, isDir, err := normalizeEntryName(name)
	if err != nil {
		return err
	}

	crc := crc32.ChecksumIEEE(data)
	compressed, err := compressData(data, method)
	if err != nil {
		return err
	}

	uncompressedSize := uint64(len(data))
	compressedSize := uint64(len(compressed))
	if w.nextSizeOverride != nil {
		uncompressedSize = w.nextSizeOverride.uncompressedSize
		compressedSize = w.nextSizeOverride.compressedSize
		w.nextSizeOverride = nil
	}

	localHeaderOffset := w.offset
	entryNeedsZip64 := uncompressedSize > maxClassicSize || compressedSize > maxClassicSize || localHeaderOffset > maxClassicSize
	offsetNeedsZip64 := localHeaderOffset > maxClassicSize

	var flags uint16 = flagUTF8
	if useDescriptor {
		flags |= flagDataDescriptor
	}
	dosDate, dosTime, err := timeToDosDateTime(time.Now())
	if err != nil {
		return err
	}

	pe := &pendingEntry{
		name:              nameBytes,
		crc32:             crc,
		compressedSize:    compressedSize,
		uncompressedSize:  uncompressedSize,
		method:            method,
		flags:             flags,
		dosDate:           dosDate,
		dosTime:           dosTime,
		localHeaderOffset: localHeaderOffset,
		needsZip64:        entryNeedsZip64,
		isDir:             isDir,
	}

	var headerLen int64
	if useDescriptor {
		headerLen, err = writeLocalHeaderDescriptorVariant(w.dst, pe, offsetNeedsZip64)
	} else {
		headerLen, err = writeLocalHeaderCanonical(w.dst, pe)
	}
	if err != nil {
		return err
	}
	w.offset += uint64(headerLen)

	if err := writeFull(w.dst, compressed); err != nil {
		return err
	}
	w.offset += uint64(len(compressed))

	if useDescriptor {
		if err := writeDataDescriptor(w.dst, crc, compressedSize, uncompressedSize, entryNeedsZip64); err != nil {
			return err
		}
		if entryNeedsZip64 {
			w.offset += dataDescriptor64Len
		} else {
			w.offset += dataDescriptorLen
		}
	}

	w.entries = append(w.entries, pe)
	if entryNeedsZip64 {
		w.needsZip64 = true
	}
	return nil
}

// writeLocalHeaderCanonical implements §4.4.1.
func writeLocalHeaderCanonical(dst io.Writer, pe *pendingEntry) (int64, error) {
	compressedSize32 := uint32(pe.compressedSize)
	uncompressedSize32 := uint32(pe.uncompressedSize)
	var extra []byte
	if pe.needsZip64 {
		compressedSize32 = sentinel32
		uncompressedSize32 = sentinel32
		extra = buildZip64ExtraField(pe.uncompressedSize, pe.compressedSize, pe.localHeaderOffset)
	}
	lh := &localFileHeader{
		version:            pe.versionNeeded(),
		flags:              pe.flags,
		method:             pe.method,
		modTime:            pe.dosTime,
		modDate:            pe.dosDate,
		crc32:              pe.crc32,
		compressedSize32:   compressedSize32,
		uncompressedSize32: uncompressedSize32,
		filename:           pe.name,
		extra:              extra,
	}
	cw := &countWriter{w: dst}
	if err := writeLocalFileHeader(cw, lh); err != nil {
		return 0, err
	}
	return cw.count, nil
}

// writeLocalHeaderDescriptorVariant implements §4.4.2.
func writeLocalHeaderDescriptorVariant(dst io.Writer, pe *pendingEntry, offsetNeedsZip64 bool) (int64, error) {
	var extra []byte
	if offsetNeedsZip64 {
		extra = buildZip64ExtraField(pe.localHeaderOffset)
	}
	lh := &localFileHeader{
		version:            pe.versionNeeded(),
		flags:              pe.flags,
		method:             pe.method,
		modTime:            pe.dosTime,
		modDate:            pe.dosDate,
		crc32:              0,
		compressedSize32:   0,
		uncompressedSize32: 0,
		filename:           pe.name,
		extra:              extra,
	}
	cw := &countWriter{w: dst}
	if err := writeLocalFileHeader(cw, lh); err != nil {
		return 0, err
	}
	return cw.count, nil
}

// AddFile reads sourcePath fully and delegates to AddBytes.
func (w *Writer) AddFile(nameInZip, sourcePath string, method uint16) error {
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return wrapFormatError(err, "read source file")
	}
	return w.AddBytes(nameInZip, data, method, false)
}

// AddStream reads src to completion and delegates to AddBytes with a data
// descriptor, since the uncompressed size isn't known in advance.
func (w *Writer) AddStream(name string, src io.Reader, method uint16) error {
	data, err := io.ReadAll(src)
	if err != nil {
		return wrapFormatError(err, "read source stream")
	}
	return w.AddBytes(name, data, method, true)
}

// Close finalizes the archive: central directory, archive-level ZIP64
// decision, and trailer. It is idempotent (§8 "finalizing a writer twice is
// a no-op").
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	defer func() { w.closed = true }()

	cdStart := w.offset
	cw := &countWriter{w: w.dst}
	for _, pe := range w.entries {
		if err := writeCentralDirEntry(cw, pe); err != nil {
			return err
		}
	}
	w.offset += uint64(cw.count)
	cdSize := uint64(cw.count)

	entryCount := uint64(len(w.entries))
	archiveZip64 := w.needsZip64 || entryCount > maxClassicCount || cdSize > maxClassicSize || cdStart > maxClassicSize

	var err error
	if archiveZip64 {
		err = w.writeZip64Trailer(cdStart, cdSize, entryCount)
	} else {
		err = writeEOCD(w.dst, &eocdRecord{
			cdRecordsOnDisk: uint16(entryCount),
			cdRecordsTotal:  uint16(entryCount),
			cdSize32:        uint32(cdSize),
			cdOffset32:      uint32(cdStart),
		})
	}
	if err != nil {
		return err
	}

	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}

func writeCentralDirEntry(dst io.Writer, pe *pendingEntry) error {
	compressedSize32 := uint32(pe.compressedSize)
	uncompressedSize32 := uint32(pe.uncompressedSize)
	localOffset32 := uint32(pe.localHeaderOffset)
	var extra []byte
	if pe.needsZip64 {
		compressedSize32 = sentinel32
		uncompressedSize32 = sentinel32
		localOffset32 = sentinel32
		extra = buildZip64ExtraField(pe.uncompressedSize, pe.compressedSize, pe.localHeaderOffset)
	}
	ch := &centralDirHeader{
		versionMadeBy:       versionMadeByUnix,
		version:             pe.versionNeeded(),
		flags:               pe.flags,
		method:              pe.method,
		modTime:             pe.dosTime,
		modDate:             pe.dosDate,
		crc32:               pe.crc32,
		compressedSize32:    compressedSize32,
		uncompressedSize32:  uncompressedSize32,
		externalAttrs:       pe.externalAttrs(),
		localHeaderOffset32: localOffset32,
		filename:            pe.name,
		extra:               extra,
	}
	return writeCentralDirHeader(dst, ch)
}

func (w *Writer) writeZip64Trailer(cdStart, cdSize, entryCount uint64) error {
	zip64EocdOffset := w.offset
	z64 := &zip64EocdRecord{
		versionMadeBy:   versionMadeByUnix,
		versionNeeded:   versionZip64,
		cdRecordsOnDisk: entryCount,
		cdRecordsTotal:  entryCount,
		cdSize:          cdSize,
		cdOffset:        cdStart,
	}
	if err := writeZip64EOCD(w.dst, z64); err != nil {
		return err
	}
	w.offset += zip64EocdFixedLen

	locator := &zip64Locator{zip64EocdOffset: zip64EocdOffset, totalDisks: 1}
	if err := writeZip64Locator(w.dst, locator); err != nil {
		return err
	}
	w.offset += zip64LocatorLen

	return writeEOCD(w.dst, &eocdRecord{
		cdRecordsOnDisk: sentinel16,
		cdRecordsTotal:  sentinel16,
		cdSize32:        sentinel32,
		cdOffset32:      sentinel32,
	})
}
