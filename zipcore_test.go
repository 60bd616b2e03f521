package zipcore

import (
	"errors"
	"io"
)

// memSink is a minimal in-memory io.ReadWriteSeeker backing the writer and
// reader tests: both engines only ever need cursor-based read/write/seek,
// never concurrent ReaderAt-style access (§5).
type memSink struct {
	buf []byte
	pos int64
}

func (m *memSink) Write(p []byte) (int, error) {
	end := m.pos + int64(len(p))
	if end > int64(len(m.buf)) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[m.pos:end], p)
	m.pos = end
	return len(p), nil
}

func (m *memSink) Read(p []byte) (int, error) {
	if m.pos >= int64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[m.pos:])
	m.pos += int64(n)
	return n, nil
}

func (m *memSink) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = m.pos + offset
	case io.SeekEnd:
		newPos = int64(len(m.buf)) + offset
	default:
		return 0, errors.New("memSink: invalid whence")
	}
	if newPos < 0 {
		return 0, errors.New("memSink: negative seek position")
	}
	m.pos = newPos
	return newPos, nil
}

func (m *memSink) size() int64 { return int64(len(m.buf)) }
