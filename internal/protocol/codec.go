// Package protocol frames request and response payloads on a stream.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Framing selects how payloads are delimited on the wire.
type Framing string

const (
	// FramingLegacy treats the bytes returned by one read as one message.
	// Clients of earlier releases send one request per write and expect one
	// response per read.
	FramingLegacy Framing = "legacy"
	// FramingLength prefixes every payload with its size as a 4-byte
	// big-endian integer.
	FramingLength Framing = "length"
)

const (
	// LegacyReadSize bounds one legacy read.
	LegacyReadSize = 8 * 1024
	// DefaultMaxFrame caps a length-prefixed payload when no limit is set.
	DefaultMaxFrame = 64 * 1024

	headerSize = 4
)

// ErrFrameTooLarge is returned when a length header exceeds the limit.
var ErrFrameTooLarge = errors.New("protocol: frame too large")

// ParseFraming validates a framing name.
func ParseFraming(s string) (Framing, error) {
	switch f := Framing(s); f {
	case FramingLegacy, FramingLength:
		return f, nil
	default:
		return "", fmt.Errorf("protocol: unknown framing %q", s)
	}
}

// Reader yields one payload per call.
type Reader interface {
	ReadFrame() ([]byte, error)
}

// NewReader returns a Reader for framing. maxFrame only applies to
// length-prefixed framing.
func NewReader(r io.Reader, framing Framing, maxFrame int) Reader {
	if framing == FramingLegacy {
		return &legacyReader{r: r, buf: make([]byte, LegacyReadSize)}
	}
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrame
	}
	return &lengthReader{r: r, max: maxFrame}
}

type legacyReader struct {
	r   io.Reader
	buf []byte
}

func (l *legacyReader) ReadFrame() ([]byte, error) {
	n, err := l.r.Read(l.buf)
	if n > 0 {
		out := make([]byte, n)
		copy(out, l.buf[:n])
		return out, nil
	}
	if err == nil {
		err = io.EOF
	}
	return nil, err
}

type lengthReader struct {
	r   io.Reader
	max int
}

func (l *lengthReader) ReadFrame() ([]byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(l.r, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if uint64(size) > uint64(l.max) {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, size, l.max)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(l.r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}

// Encode returns payload framed for the wire.
func Encode(framing Framing, payload []byte) []byte {
	if framing == FramingLegacy {
		out := make([]byte, len(payload))
		copy(out, payload)
		return out
	}
	out := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(out[:headerSize], uint32(len(payload)))
	copy(out[headerSize:], payload)
	return out
}

// WriteFrame writes one framed payload to w.
func WriteFrame(w io.Writer, framing Framing, payload []byte) error {
	_, err := w.Write(Encode(framing, payload))
	return err
}
