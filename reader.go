package zipcore

import (
	"bytes"
	"hash/crc32"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/flate"
)

// maxEOCDTailSearch bounds the trailing slice read while hunting for the
// end-of-central-directory signature: the EOCD's fixed 22 bytes plus the
// largest possible comment (65535 bytes).
const maxEOCDTailSearch = 65557

// Reader parses an archive's central directory once at construction and
// decodes entries on demand, per §4.3 and the Lifecycle note in §3.
type Reader struct {
	src    io.ReadSeeker
	size   int64
	closer io.Closer
	closed bool

	names   []string
	entries map[string]*Entry
}

// Open opens the named file and parses it as a ZIP archive. The returned
// Reader owns the file handle and releases it in Close, including when
// Open itself fails partway through parsing (§5's scoped-acquisition
// obligation).
func Open(name string) (*Reader, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, wrapFormatError(err, "open archive")
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, wrapFormatError(err, "stat archive")
	}
	r, err := newReader(f, fi.Size())
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// OpenReader parses an archive from a caller-supplied, caller-owned source.
// Close never closes src.
func OpenReader(src io.ReadSeeker, size int64) (*Reader, error) {
	return newReader(src, size)
}

func newReader(src io.ReadSeeker, size int64) (*Reader, error) {
	eocdOffset, eocd, err := findEOCD(src, size)
	if err != nil {
		return nil, err
	}

	var cdOffset, cdSize, entryCount uint64
	var foundZip64 bool
	if eocdOffset >= 20 {
		locator, err := tryParseZip64Locator(src, eocdOffset-20)
		if err != nil {
			return nil, err
		}
		if locator != nil {
			if locator.zip64EocdOffset >= uint64(size) {
				return nil, formatErrorf("ZIP64 end of central directory offset %d is outside the archive (size %d)", locator.zip64EocdOffset, size)
			}
			if _, err := src.Seek(int64(locator.zip64EocdOffset), io.SeekStart); err != nil {
				return nil, wrapFormatError(err, "seek to ZIP64 end of central directory")
			}
			z64, err := parseZip64EOCD(src)
			if err != nil {
				return nil, err
			}
			cdOffset, cdSize, entryCount = z64.cdOffset, z64.cdSize, z64.cdRecordsTotal
			foundZip64 = true
		}
	}
	if !foundZip64 {
		cdOffset = uint64(eocd.cdOffset32)
		cdSize = uint64(eocd.cdSize32)
		entryCount = uint64(eocd.cdRecordsTotal)
	}

	if entryCount > maxCentralDirectoryEntries {
		return nil, formatErrorf("central directory claims %d entries, exceeding the %d entry limit", entryCount, maxCentralDirectoryEntries)
	}
	if cdOffset > uint64(size) || cdSize > uint64(size) || cdOffset+cdSize > uint64(size) {
		return nil, formatErrorf("central directory (offset %d, size %d) lies outside the archive (size %d)", cdOffset, cdSize, size)
	}

	if _, err := src.Seek(int64(cdOffset), io.SeekStart); err != nil {
		return nil, wrapFormatError(err, "seek to central directory")
	}

	r := &Reader{
		src:     src,
		size:    size,
		names:   make([]string, 0, entryCount),
		entries: make(map[string]*Entry, entryCount),
	}
	for i := uint64(0); i < entryCount; i++ {
		h, err := parseCentralDirHeader(src)
		if err != nil {
			return nil, wrapFormatError(err, "central directory is truncated")
		}
		entry := buildEntry(h)
		if _, exists := r.entries[entry.Name]; !exists {
			r.names = append(r.names, entry.Name)
		}
		r.entries[entry.Name] = entry
	}
	return r, nil
}

// findEOCD searches the trailing maxEOCDTailSearch bytes of the archive for
// the rightmost classic EOCD signature, per §4.3.
func findEOCD(src io.ReadSeeker, size int64) (int64, *eocdRecord, error) {
	tailSize := int64(maxEOCDTailSearch)
	if size < tailSize {
		tailSize = size
	}
	tailStart := size - tailSize
	if _, err := src.Seek(tailStart, io.SeekStart); err != nil {
		return 0, nil, wrapFormatError(err, "seek to archive tail")
	}
	tail := make([]byte, tailSize)
	if err := readExact(src, tail); err != nil {
		return 0, nil, err
	}

	offset := int64(-1)
	for i := len(tail) - 4; i >= 0; i-- {
		if tail[i] == 0x50 && tail[i+1] == 0x4B && tail[i+2] == 0x05 && tail[i+3] == 0x06 {
			offset = tailStart + int64(i)
			break
		}
	}
	if offset < 0 {
		return 0, nil, newFormatError("end of central directory record not found")
	}

	if _, err := src.Seek(offset, io.SeekStart); err != nil {
		return 0, nil, wrapFormatError(err, "seek to end of central directory record")
	}
	eocd, err := parseEOCD(src)
	if err != nil {
		return 0, nil, err
	}
	return offset, eocd, nil
}

// tryParseZip64Locator attempts to read a ZIP64 locator at offset. A
// signature mismatch is not an error: it means the archive is classic
// (§4.3 "ZIP64 probing").
func tryParseZip64Locator(src io.ReadSeeker, offset int64) (*zip64Locator, error) {
	if _, err := src.Seek(offset, io.SeekStart); err != nil {
		return nil, wrapFormatError(err, "seek to ZIP64 locator")
	}
	sig, err := readUint32(src)
	if err != nil {
		return nil, err
	}
	if sig != sigZip64Locator {
		return nil, nil
	}
	l := &zip64Locator{}
	if l.diskNum, err = readUint32(src); err != nil {
		return nil, err
	}
	if l.zip64EocdOffset, err = readUint64(src); err != nil {
		return nil, err
	}
	if l.totalDisks, err = readUint32(src); err != nil {
		return nil, err
	}
	return l, nil
}

// buildEntry converts a parsed central directory record into the reader's
// public Entry, applying name normalization, UTF-8 recovery, directory
// detection, and the ZIP64 extra field override, per §4.3.
func buildEntry(h *centralDirHeader) *Entry {
	name := strings.ToValidUTF8(string(h.filename), "�")
	name = strings.ReplaceAll(name, "\\", "/")

	isDir := strings.HasSuffix(name, "/") || (h.externalAttrs>>16)&unixFileModeMask == unixModeDir

	uncompressedSize := uint64(h.uncompressedSize32)
	compressedSize := uint64(h.compressedSize32)
	localHeaderOffset := uint64(h.localHeaderOffset32)

	wantOriginalSize := h.uncompressedSize32 == sentinel32
	wantCompressedSize := h.compressedSize32 == sentinel32
	wantLocalHeaderOffset := h.localHeaderOffset32 == sentinel32
	if z64 := parseZip64ExtraField(h.extra, wantOriginalSize, wantCompressedSize, wantLocalHeaderOffset); z64 != nil {
		if wantOriginalSize && z64.originalSize != nil {
			uncompressedSize = *z64.originalSize
		}
		if wantCompressedSize && z64.compressedSize != nil {
			compressedSize = *z64.compressedSize
		}
		if wantLocalHeaderOffset && z64.localHeaderOffset != nil {
			localHeaderOffset = *z64.localHeaderOffset
		}
	}

	return &Entry{
		Name:              name,
		IsDir:             isDir,
		CompressedSize:    compressedSize,
		UncompressedSize:  uncompressedSize,
		CRC32:             h.crc32,
		Method:            h.method,
		Flags:             h.flags,
		Modified:          dosDateTimeToTime(h.modDate, h.modTime),
		Comment:           string(h.comment),
		Extra:             h.extra,
		externalAttrs:     h.externalAttrs,
		LocalHeaderOffset: localHeaderOffset,
	}
}

// List returns entry names in central directory order.
func (r *Reader) List() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// GetInfo looks up an entry by name, normalizing backslashes to forward
// slashes first (§6).
func (r *Reader) GetInfo(name string) (*Entry, bool) {
	e, ok := r.entries[strings.ReplaceAll(name, "\\", "/")]
	return e, ok
}

// OpenEntry decodes one entry's bytes, per the per-entry decode pipeline in
// §4.3.
func (r *Reader) OpenEntry(name string) (io.ReadCloser, error) {
	if r.closed {
		return nil, newFormatError("reader is closed")
	}
	entry, ok := r.GetInfo(name)
	if !ok {
		return nil, formatErrorf("no such entry: %q", name)
	}
	if entry.IsDir {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	if entry.Flags&(flagEncrypted|flagStrongEncrypted) != 0 {
		return nil, newUnsupportedFeature("entry %q is encrypted", name)
	}

	if entry.LocalHeaderOffset >= uint64(r.size) {
		return nil, formatErrorf("local header offset %d for %q is outside the archive", entry.LocalHeaderOffset, name)
	}
	if _, err := r.src.Seek(int64(entry.LocalHeaderOffset), io.SeekStart); err != nil {
		return nil, wrapFormatError(err, "seek to local header")
	}
	lh, err := parseLocalFileHeader(r.src)
	if err != nil {
		return nil, err
	}

	compressedLength := entry.CompressedSize
	usesDescriptor := entry.Flags&flagDataDescriptor != 0
	if !usesDescriptor {
		wantOriginalSize := lh.uncompressedSize32 == sentinel32
		wantCompressedSize := lh.compressedSize32 == sentinel32
		if z64 := parseZip64ExtraField(lh.extra, wantOriginalSize, wantCompressedSize, false); z64 != nil && wantCompressedSize && z64.compressedSize != nil {
			compressedLength = *z64.compressedSize
		} else if lh.compressedSize32 != sentinel32 {
			compressedLength = uint64(lh.compressedSize32)
		}
	}

	pos, err := r.src.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, wrapFormatError(err, "tell position before entry data")
	}
	if uint64(pos)+compressedLength > uint64(r.size) {
		return nil, formatErrorf("entry %q's compressed data runs past the end of the archive", name)
	}
	compressed, err := readExactN(r.src, int(compressedLength))
	if err != nil {
		return nil, err
	}

	if usesDescriptor {
		descriptorIsZip64 := entry.CompressedSize > maxClassicSize || entry.UncompressedSize > maxClassicSize
		if _, err := parseDataDescriptor(r.src, descriptorIsZip64); err != nil {
			return nil, err
		}
	}

	data, err := decompress(entry.Method, compressed)
	if err != nil {
		return nil, err
	}

	if actual := crc32.ChecksumIEEE(data); actual != entry.CRC32 {
		return nil, &CrcError{Name: name, Expected: entry.CRC32, Actual: actual}
	}

	return io.NopCloser(bytes.NewReader(data)), nil
}

// decompress inflates compressed per method, per §4.3 step 7.
func decompress(method uint16, compressed []byte) ([]byte, error) {
	switch method {
	case Store:
		return compressed, nil
	case Deflate:
		src := bytes.NewReader(compressed)
		fr := flate.NewReader(src)
		defer fr.Close()
		data, err := io.ReadAll(fr)
		if err != nil {
			return nil, wrapCompressionError(err, "deflate stream rejected")
		}
		if src.Len() > 0 {
			return nil, newCompressionError("trailing bytes after deflate stream end")
		}
		return data, nil
	case bzip2, lzma:
		return nil, newUnsupportedFeature("compression method %d is not supported", method)
	default:
		return nil, newUnsupportedFeature("unknown compression method %d", method)
	}
}

// Close releases the reader's resources. It is idempotent; only a
// self-opened file handle (via Open) is actually closed.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if r.closer != nil {
		if err := r.closer.Close(); err != nil {
			return wrapFormatError(err, "close archive")
		}
	}
	return nil
}
