// Package wire defines the byte-stream encoding of CAN frames used on
// the TCP tunnel. The encoding is self-delimiting: a one-byte sync
// marker plus an explicit length field lets a decoder recover frame
// alignment after corruption or a mid-stream attach.
//
// Wire layout, 7-byte header plus 0..8 payload bytes:
//
//	[sync:1][flags:1][id:4 BE][len:1][data:0..8]
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/danmuck/canlink/internal/canbus"
)

const (
	// SyncMarker opens every wire frame.
	SyncMarker byte = 0xAA

	// HeaderLen is the fixed portion of a wire frame.
	HeaderLen = 7
	// MaxFrameLen is the largest possible wire frame.
	MaxFrameLen = HeaderLen + canbus.MaxDataLen

	flagExtended byte = 0x01
	flagRemote   byte = 0x02
	flagError    byte = 0x04
	flagReserved byte = 0xF8
)

var ErrMalformedFrame = errors.New("wire: malformed frame")

// EncodedLen returns the wire size of f.
func EncodedLen(f canbus.Frame) int {
	return HeaderLen + len(f.Data)
}

// AppendEncode appends the wire encoding of f to dst. The frame must be
// valid; Encode output always decodes back to an identical frame.
func AppendEncode(dst []byte, f canbus.Frame) []byte {
	var flags byte
	if f.Extended {
		flags |= flagExtended
	}
	if f.Remote {
		flags |= flagRemote
	}
	if f.Error {
		flags |= flagError
	}

	dst = append(dst, SyncMarker, flags)
	dst = binary.BigEndian.AppendUint32(dst, f.ID)
	dst = append(dst, byte(len(f.Data)))
	return append(dst, f.Data...)
}

// Encode returns the wire encoding of f.
func Encode(f canbus.Frame) []byte {
	return AppendEncode(make([]byte, 0, EncodedLen(f)), f)
}

// Decoder reassembles frames from arbitrarily chunked stream input. It
// never assumes frame-aligned reads: Feed accepts whatever a transport
// read returned, and Next is restartable across calls.
type Decoder struct {
	buf []byte
}

// Feed appends one chunk of stream input.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Buffered returns the number of undecoded bytes held.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Next returns the next buffered frame. ok is false when the buffer
// holds no complete frame yet; that is a suspension point, not an
// error. A non-nil error is ErrMalformedFrame: the offending marker has
// been skipped and the caller may keep calling Next.
func (d *Decoder) Next() (canbus.Frame, bool, error) {
	// Scan for the marker; bytes before it are noise from a torn frame
	// or a mid-stream attach.
	i := bytes.IndexByte(d.buf, SyncMarker)
	if i < 0 {
		d.buf = d.buf[:0]
		return canbus.Frame{}, false, nil
	}
	if i > 0 {
		d.advance(i)
	}

	if len(d.buf) < HeaderLen {
		return canbus.Frame{}, false, nil
	}

	flags := d.buf[1]
	length := int(d.buf[6])
	if flags&flagReserved != 0 {
		d.advance(1)
		return canbus.Frame{}, false, fmt.Errorf("%w: reserved flag bits 0x%02X", ErrMalformedFrame, flags)
	}
	if length > canbus.MaxDataLen {
		d.advance(1)
		return canbus.Frame{}, false, fmt.Errorf("%w: data length %d exceeds %d", ErrMalformedFrame, length, canbus.MaxDataLen)
	}

	if len(d.buf) < HeaderLen+length {
		return canbus.Frame{}, false, nil
	}

	f := canbus.Frame{
		ID:       binary.BigEndian.Uint32(d.buf[2:6]),
		Extended: flags&flagExtended != 0,
		Remote:   flags&flagRemote != 0,
		Error:    flags&flagError != 0,
	}
	if length > 0 {
		f.Data = make([]byte, length)
		copy(f.Data, d.buf[HeaderLen:HeaderLen+length])
	}
	if err := f.Validate(); err != nil {
		d.advance(1)
		return canbus.Frame{}, false, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	d.advance(HeaderLen + length)
	return f, true, nil
}

func (d *Decoder) advance(n int) {
	rest := copy(d.buf, d.buf[n:])
	d.buf = d.buf[:rest]
}
