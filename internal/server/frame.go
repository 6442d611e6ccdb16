package server

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Frame layout: a 4-byte big-endian length covering the type byte and the
// payload, then the type byte, then the payload.
const (
	// frameLengthSize is the size of the length prefix.
	frameLengthSize = 4

	// MaxFrameSize bounds the length field. A peer announcing a larger
	// frame is misbehaving and gets disconnected instead of allocated for.
	MaxFrameSize = 1 << 20
)

// FrameType identifies the kind of frame.
type FrameType byte

// Frame types.
const (
	// FramePing requests an echo. The payload is arbitrary and returned
	// unchanged in the pong.
	FramePing FrameType = 0x01

	// FramePong answers a ping with the same payload.
	FramePong FrameType = 0x02

	// FrameData carries an application payload.
	FrameData FrameType = 0x10
)

// Frame errors.
var (
	// ErrFrameTooLarge is returned when a length prefix exceeds
	// MaxFrameSize.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")

	// ErrEmptyFrame is returned when a length prefix does not even cover
	// the type byte.
	ErrEmptyFrame = errors.New("frame too short for type byte")
)

// Frame is one unit on the wire.
type Frame struct {
	Type    FrameType
	Payload []byte
}

// WriteFrame writes one frame to w.
func WriteFrame(w io.Writer, f Frame) error {
	if len(f.Payload)+1 > MaxFrameSize {
		return ErrFrameTooLarge
	}

	buf := make([]byte, frameLengthSize+1+len(f.Payload))
	binary.BigEndian.PutUint32(buf, uint32(1+len(f.Payload)))
	buf[frameLengthSize] = byte(f.Type)
	copy(buf[frameLengthSize+1:], f.Payload)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one frame from r.
func ReadFrame(r io.Reader) (Frame, error) {
	var header [frameLengthSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		// A clean EOF between frames is the normal end of stream; pass
		// it through undecorated so callers can detect it.
		if errors.Is(err, io.EOF) {
			return Frame{}, io.EOF
		}
		return Frame{}, fmt.Errorf("failed to read frame header: %w", err)
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameSize {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}
	if length < 1 {
		return Frame{}, ErrEmptyFrame
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, fmt.Errorf("failed to read frame body: %w", err)
	}

	return Frame{Type: FrameType(body[0]), Payload: body[1:]}, nil
}
