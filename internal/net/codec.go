package net

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// HeaderSize is the length prefix in front of every payload.
	HeaderSize = 4

	// nullLength marks a null byte array on the wire. It carries no payload.
	nullLength = 0xFFFFFFFF

	DefaultMaxFrameSize = 1 << 20
)

var ErrFrameTooLarge = errors.New("net: frame too large")

// EncodeFrame prefixes payload with its length.
// Wire format: [4 bytes BE: len(payload)][payload].
func EncodeFrame(payload []byte, maxSize int) ([]byte, error) {
	if maxSize > 0 && len(payload) > maxSize {
		return nil, fmt.Errorf("encode frame (%d bytes): %w", len(payload), ErrFrameTooLarge)
	}
	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[:HeaderSize], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// WriteFrame writes one frame to w.
func WriteFrame(w io.Writer, payload []byte, maxSize int) error {
	frame, err := EncodeFrame(payload, maxSize)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Feed appends chunk to buf and tries to cut one frame off the front.
// When a whole frame is buffered it returns the payload and the bytes that
// follow it. Otherwise payload is nil and rest is buf+chunk, untouched, so a
// later call with more bytes sees exactly the same prefix.
func Feed(buf, chunk []byte, maxSize int) (payload, rest []byte, err error) {
	buf = append(buf, chunk...)
	if len(buf) < HeaderSize {
		return nil, buf, nil
	}

	n := binary.BigEndian.Uint32(buf[:HeaderSize])
	if n == nullLength {
		return []byte{}, buf[HeaderSize:], nil
	}
	if maxSize > 0 && uint64(n) > uint64(maxSize) {
		return nil, buf, fmt.Errorf("declared length %d: %w", n, ErrFrameTooLarge)
	}

	end := HeaderSize + int(n)
	if len(buf) < end {
		return nil, buf, nil
	}
	payload = make([]byte, n)
	copy(payload, buf[HeaderSize:end])
	return payload, buf[end:], nil
}

// Assembler reassembles frames from the arbitrary chunks a TCP read returns.
// Not safe for concurrent use; one Assembler belongs to one connection.
type Assembler struct {
	buf     []byte
	maxSize int
}

func NewAssembler(maxSize int) *Assembler {
	return &Assembler{maxSize: maxSize}
}

// Write buffers newly arrived bytes.
func (a *Assembler) Write(chunk []byte) {
	a.buf = append(a.buf, chunk...)
}

// Next returns the next complete payload, or ok=false when more bytes are
// needed. After ErrFrameTooLarge the stream cannot be resynchronised and the
// caller should drop the connection.
func (a *Assembler) Next() (payload []byte, ok bool, err error) {
	payload, rest, err := Feed(a.buf, nil, a.maxSize)
	if err != nil || payload == nil {
		return nil, false, err
	}
	// Compact so the backing array does not grow without bound.
	a.buf = append(a.buf[:0], rest...)
	return payload, true, nil
}

// Buffered reports how many bytes are waiting for the rest of their frame.
func (a *Assembler) Buffered() int {
	return len(a.buf)
}

// Reset abandons any partial frame.
func (a *Assembler) Reset() {
	a.buf = a.buf[:0]
}
