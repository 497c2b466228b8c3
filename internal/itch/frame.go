package itch

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
)

const defaultReadBuffer = 1 << 20

// RawFrame is one length-prefixed unit of the input. Payload aliases the
// reader's internal buffer and is only valid until the next call to Next.
type RawFrame struct {
	Length  uint16
	Tag     byte
	Payload []byte
}

// FrameReader splits a byte stream into frames: a 2-byte big-endian length
// followed by that many bytes, the first of which is the type tag.
type FrameReader struct {
	r      *bufio.Reader
	hdr    [2]byte
	buf    []byte
	offset int64
	frames uint64
}

// NewFrameReader wraps r with a read buffer sized for sequential scans.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{
		r:   bufio.NewReaderSize(r, defaultReadBuffer),
		buf: make([]byte, 0, 64),
	}
}

// Next returns the next frame. It returns io.EOF at a clean end of input and a
// *FramingError when the stream is malformed or ends mid-frame.
func (fr *FrameReader) Next() (RawFrame, error) {
	start := fr.offset
	n, err := io.ReadFull(fr.r, fr.hdr[:])
	if err != nil {
		if errors.Is(err, io.EOF) && n == 0 {
			return RawFrame{}, io.EOF
		}
		return RawFrame{}, &FramingError{Offset: start, Reason: "truncated length prefix", Err: err}
	}
	fr.offset += int64(n)

	length := binary.BigEndian.Uint16(fr.hdr[:])
	if length == 0 {
		return RawFrame{}, &FramingError{Offset: start, Reason: "zero frame length"}
	}
	if cap(fr.buf) < int(length) {
		fr.buf = make([]byte, length)
	}
	body := fr.buf[:length]
	n, err = io.ReadFull(fr.r, body)
	fr.offset += int64(n)
	if err != nil {
		return RawFrame{}, &FramingError{Offset: start, Reason: "truncated frame", Err: io.ErrUnexpectedEOF}
	}
	fr.frames++
	return RawFrame{Length: length, Tag: body[0], Payload: body[1:]}, nil
}

// Offset is the number of bytes consumed so far.
func (fr *FrameReader) Offset() int64 { return fr.offset }

// Frames is the number of complete frames returned so far.
func (fr *FrameReader) Frames() uint64 { return fr.frames }
