// Package stream provides the single byte-stream primitive every PEL section
// codec reads and writes through. All PEL fields are big-endian; this is the
// only package in the repository that encodes that fact.
package stream

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrOutOfRange is returned when a read would consume more bytes than remain
// in the stream.
var ErrOutOfRange = errors.New("stream: out of range")

// Stream is a big-endian byte stream over an owned buffer with an explicit
// cursor. Reads never advance past the end of the buffer; writes grow it.
//
// A zero-value Stream is not usable; construct one with New or NewWriter.
type Stream struct {
	buf []byte
	pos int
}

// New wraps an existing byte slice for reading. The slice is not copied;
// callers must not mutate it while the Stream is in use.
func New(b []byte) *Stream {
	return &Stream{buf: b}
}

// NewWriter returns an empty Stream suitable for writing, with cap pre-
// reserved to reduce reallocation for the common PEL-section size range.
func NewWriter(capHint int) *Stream {
	return &Stream{buf: make([]byte, 0, capHint)}
}

// Bytes returns the underlying buffer. For a writer Stream this is everything
// written so far.
func (s *Stream) Bytes() []byte { return s.buf }

// Len returns the total buffer length.
func (s *Stream) Len() int { return len(s.buf) }

// Offset returns the current cursor position.
func (s *Stream) Offset() int { return s.pos }

// SetOffset repositions the cursor. It does not validate the new offset
// against the buffer length; the next read or write will fail if it is out
// of range.
func (s *Stream) SetOffset(off int) { s.pos = off }

// Remaining returns the number of unread bytes from the current offset.
func (s *Stream) Remaining() int {
	r := len(s.buf) - s.pos
	if r < 0 {
		return 0
	}
	return r
}

func (s *Stream) need(n int) error {
	if s.Remaining() < n {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrOutOfRange, n, s.Remaining())
	}
	return nil
}

// ReadU8 reads one byte.
func (s *Stream) ReadU8() (uint8, error) {
	if err := s.need(1); err != nil {
		return 0, err
	}
	v := s.buf[s.pos]
	s.pos++
	return v, nil
}

// ReadU16 reads a big-endian uint16.
func (s *Stream) ReadU16() (uint16, error) {
	if err := s.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(s.buf[s.pos:])
	s.pos += 2
	return v, nil
}

// ReadU32 reads a big-endian uint32.
func (s *Stream) ReadU32() (uint32, error) {
	if err := s.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(s.buf[s.pos:])
	s.pos += 4
	return v, nil
}

// ReadU64 reads a big-endian uint64.
func (s *Stream) ReadU64() (uint64, error) {
	if err := s.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(s.buf[s.pos:])
	s.pos += 8
	return v, nil
}

// ReadN reads n raw bytes and returns a copy.
func (s *Stream) ReadN(n int) ([]byte, error) {
	if err := s.need(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, s.buf[s.pos:s.pos+n])
	s.pos += n
	return out, nil
}

// PeekN returns a copy of the next n bytes without advancing the cursor.
func (s *Stream) PeekN(n int) ([]byte, error) {
	if err := s.need(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, s.buf[s.pos:s.pos+n])
	return out, nil
}

// ReadASCII reads n bytes and returns them verbatim as a string (no
// trimming); callers that need NUL/space trimming do it themselves so that
// section codecs control their own padding semantics.
func (s *Stream) ReadASCII(n int) (string, error) {
	b, err := s.ReadN(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// WriteU8 appends one byte.
func (s *Stream) WriteU8(v uint8) {
	s.buf = append(s.buf, v)
	s.pos = len(s.buf)
}

// WriteU16 appends a big-endian uint16.
func (s *Stream) WriteU16(v uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	s.buf = append(s.buf, tmp[:]...)
	s.pos = len(s.buf)
}

// WriteU32 appends a big-endian uint32.
func (s *Stream) WriteU32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	s.buf = append(s.buf, tmp[:]...)
	s.pos = len(s.buf)
}

// WriteU64 appends a big-endian uint64.
func (s *Stream) WriteU64(v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	s.buf = append(s.buf, tmp[:]...)
	s.pos = len(s.buf)
}

// WriteN appends raw bytes verbatim.
func (s *Stream) WriteN(b []byte) {
	s.buf = append(s.buf, b...)
	s.pos = len(s.buf)
}

// WritePad appends n zero bytes.
func (s *Stream) WritePad(n int) {
	for i := 0; i < n; i++ {
		s.buf = append(s.buf, 0)
	}
	s.pos = len(s.buf)
}
