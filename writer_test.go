package zipcore

import (
	"bytes"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go4.org/readerutil"
)

// sameByteReaderAt is an io.ReaderAt that yields the same byte at every
// offset, letting tests describe large content by size rather than by
// materializing it (mirrors the teacher's sameBytes in zip_test.go).
type sameByteReaderAt struct{ b byte }

func (s sameByteReaderAt) ReadAt(p []byte, off int64) (int, error) {
	for i := range p {
		p[i] = s.b
	}
	return len(p), nil
}

func TestAddBytesDeflateRoundTrip(t *testing.T) {
	sink := &memSink{}
	w := NewWriterFromSeeker(sink)
	require.NoError(t, w.AddBytes("hello.txt", []byte("Hello, World!"), Deflate, false))
	require.NoError(t, w.Close())

	r, err := OpenReader(sink, sink.size())
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, []string{"hello.txt"}, r.List())
	info, ok := r.GetInfo("hello.txt")
	require.True(t, ok)
	assert.Equal(t, uint32(0xEC4AC3D0), info.CRC32)

	rc, err := r.OpenEntry("hello.txt")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "Hello, World!", string(data))
}

func TestAddBytesStoredRoundTrip(t *testing.T) {
	sink := &memSink{}
	w := NewWriterFromSeeker(sink)
	require.NoError(t, w.AddBytes("a.bin", []byte("A"), Store, false))
	require.NoError(t, w.Close())

	r, err := OpenReader(sink, sink.size())
	require.NoError(t, err)
	defer r.Close()

	info, ok := r.GetInfo("a.bin")
	require.True(t, ok)
	assert.Equal(t, uint32(0xD3D99E8B), info.CRC32)

	rc, err := r.OpenEntry("a.bin")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "A", string(data))
}

func TestWriterPreservesInsertionOrder(t *testing.T) {
	sink := &memSink{}
	w := NewWriterFromSeeker(sink)
	names := []string{"c.txt", "a.txt", "b.txt"}
	for _, n := range names {
		require.NoError(t, w.AddBytes(n, []byte(n), Store, false))
	}
	require.NoError(t, w.Close())

	r, err := OpenReader(sink, sink.size())
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, names, r.List())
}

func TestAddBytesWithDataDescriptor(t *testing.T) {
	sink := &memSink{}
	w := NewWriterFromSeeker(sink)
	require.NoError(t, w.AddBytes("stream.bin", []byte("streamed content"), Deflate, true))
	require.NoError(t, w.Close())

	// The local header's CRC/size slots must be zero when a descriptor is
	// used (§8 invariant 4); confirm directly on the serialized bytes.
	lh, err := parseLocalFileHeader(&sliceReader{b: sink.buf})
	require.NoError(t, err)
	assert.Equal(t, uint32(0), lh.crc32)
	assert.Equal(t, uint32(0), lh.compressedSize32)
	assert.Equal(t, uint32(0), lh.uncompressedSize32)
	assert.NotZero(t, lh.flags&flagDataDescriptor)

	r, err := OpenReader(sink, sink.size())
	require.NoError(t, err)
	defer r.Close()
	rc, err := r.OpenEntry("stream.bin")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "streamed content", string(data))
}

func TestManyEntriesTriggerZip64(t *testing.T) {
	sink := &memSink{}
	w := NewWriterFromSeeker(sink)
	const n = 70000
	for i := 0; i < n; i++ {
		require.NoError(t, w.AddBytes(fmt.Sprintf("name_%d", i), []byte{'x'}, Store, false))
	}
	require.NoError(t, w.Close())

	r, err := OpenReader(sink, sink.size())
	require.NoError(t, err)
	defer r.Close()

	assert.Len(t, r.List(), n)
	_, ok := r.GetInfo("name_0")
	assert.True(t, ok)
	_, ok = r.GetInfo(fmt.Sprintf("name_%d", n-1))
	assert.True(t, ok)

	eocdOffset, _, err := findEOCD(sink, sink.size())
	require.NoError(t, err)
	locator, err := tryParseZip64Locator(sink, eocdOffset-20)
	require.NoError(t, err)
	assert.NotNil(t, locator, "70000 entries exceeds the 16-bit classic count and must upgrade to ZIP64")
}

func TestExactly65535EntriesStaysClassic(t *testing.T) {
	sink := &memSink{}
	w := NewWriterFromSeeker(sink)
	const n = 65535
	for i := 0; i < n; i++ {
		require.NoError(t, w.AddBytes(fmt.Sprintf("f%d", i), nil, Store, false))
	}
	require.NoError(t, w.Close())

	eocdOffset, eocd, err := findEOCD(sink, sink.size())
	require.NoError(t, err)
	assert.Equal(t, uint16(n), eocd.cdRecordsTotal)

	locator, err := tryParseZip64Locator(sink, eocdOffset-20)
	require.NoError(t, err)
	assert.Nil(t, locator, "65535 entries is exactly the classic boundary, no ZIP64 upgrade needed")
}

func TestZip64BoundaryViaSizeOverrideWithoutLargeAllocation(t *testing.T) {
	sink := &memSink{}
	w := NewWriterFromSeeker(sink)
	// Exercise the ZIP64 decision and trailer emission for an entry whose
	// recorded sizes exceed the classic 32-bit limit, without allocating
	// gigabytes of real payload (mirrors the teacher's testHookCloseSizeOffset).
	w.nextSizeOverride = &writerSizeOverride{
		uncompressedSize: maxClassicSize + 1,
		compressedSize:   maxClassicSize + 1,
	}
	require.NoError(t, w.AddBytes("huge.bin", []byte("x"), Store, false))
	require.NoError(t, w.Close())

	r, err := OpenReader(sink, sink.size())
	require.NoError(t, err)
	defer r.Close()
	info, ok := r.GetInfo("huge.bin")
	require.True(t, ok)
	assert.Equal(t, maxClassicSize+1, info.UncompressedSize)
	assert.Equal(t, maxClassicSize+1, info.CompressedSize)

	eocdOffset, _, err := findEOCD(sink, sink.size())
	require.NoError(t, err)
	locator, err := tryParseZip64Locator(sink, eocdOffset-20)
	require.NoError(t, err)
	require.NotNil(t, locator, "an oversize entry must force a ZIP64 locator and EOCD")
}

func TestAddStreamFromComposedReaderUtilSource(t *testing.T) {
	// Compose a size-described body with a literal suffix via
	// go4.org/readerutil, the same combinator the teacher used to describe
	// large synthetic content without allocating it up front.
	body := io.NewSectionReader(sameByteReaderAt{b: 'z'}, 0, 4096)
	suffix := bytes.NewReader([]byte("END\n"))
	combined := readerutil.NewMultiReaderAt(body, suffix)
	src := io.NewSectionReader(combined, 0, combined.Size())

	sink := &memSink{}
	w := NewWriterFromSeeker(sink)
	require.NoError(t, w.AddStream("blob.bin", src, Store))
	require.NoError(t, w.Close())

	r, err := OpenReader(sink, sink.size())
	require.NoError(t, err)
	defer r.Close()
	rc, err := r.OpenEntry("blob.bin")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.True(t, bytes.HasSuffix(data, []byte("END\n")))
	assert.Len(t, data, 4096+4)
}

func TestCloseIsIdempotent(t *testing.T) {
	sink := &memSink{}
	w := NewWriterFromSeeker(sink)
	require.NoError(t, w.AddBytes("x.txt", []byte("x"), Store, false))
	require.NoError(t, w.Close())
	sizeAfterFirstClose := sink.size()
	require.NoError(t, w.Close())
	assert.Equal(t, sizeAfterFirstClose, sink.size(), "a second Close must not write anything more")
}

func TestAddBytesAccepts255ByteName(t *testing.T) {
	sink := &memSink{}
	w := NewWriterFromSeeker(sink)
	name := make([]byte, 255)
	for i := range name {
		name[i] = 'n'
	}
	require.NoError(t, w.AddBytes(string(name), []byte("x"), Store, false))
	require.NoError(t, w.Close())
}

func TestAddBytesRejectsOversizeName(t *testing.T) {
	sink := &memSink{}
	w := NewWriterFromSeeker(sink)
	longName := make([]byte, 256)
	for i := range longName {
		longName[i] = 'a'
	}
	err := w.AddBytes(string(longName), []byte("x"), Store, false)
	require.Error(t, err)
	var fe *FormatError
	assert.ErrorAs(t, err, &fe)
}

func TestAddBytesRejectsNameWithNUL(t *testing.T) {
	sink := &memSink{}
	w := NewWriterFromSeeker(sink)
	err := w.AddBytes("bad\x00name", []byte("x"), Store, false)
	require.Error(t, err)
}

func TestAddBytesNormalizesBackslashes(t *testing.T) {
	sink := &memSink{}
	w := NewWriterFromSeeker(sink)
	require.NoError(t, w.AddBytes(`dir\file.txt`, []byte("x"), Store, false))
	require.NoError(t, w.Close())

	r, err := OpenReader(sink, sink.size())
	require.NoError(t, err)
	defer r.Close()
	_, ok := r.GetInfo("dir/file.txt")
	assert.True(t, ok)
}

func TestEmptyArchiveHasValidEOCD(t *testing.T) {
	sink := &memSink{}
	w := NewWriterFromSeeker(sink)
	require.NoError(t, w.Close())

	r, err := OpenReader(sink, sink.size())
	require.NoError(t, err)
	defer r.Close()
	assert.Empty(t, r.List())
}

// sliceReader is a bare io.Reader over a byte slice, used where a test only
// needs to parse the very first record without a full seekable sink.
type sliceReader struct {
	b   []byte
	pos int
}

func (s *sliceReader) Read(p []byte) (int, error) {
	if s.pos >= len(s.b) {
		return 0, io.EOF
	}
	n := copy(p, s.b[s.pos:])
	s.pos += n
	return n, nil
}
