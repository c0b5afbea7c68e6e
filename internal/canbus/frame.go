package canbus

import (
	"errors"
	"fmt"
)

const (
	// MaxDataLen is the classic CAN payload ceiling. Frames carrying more
	// are rejected, never truncated.
	MaxDataLen = 8

	// MaxStandardID is the highest 11-bit identifier.
	MaxStandardID uint32 = 0x7FF
	// MaxExtendedID is the highest 29-bit identifier.
	MaxExtendedID uint32 = 0x1FFFFFFF
)

var ErrInvalidFrame = errors.New("canbus: invalid frame")

// Frame is one classic CAN frame. Whether ID uses the 11-bit or 29-bit
// address space is carried by Extended, never inferred from magnitude.
type Frame struct {
	ID       uint32
	Extended bool
	Remote   bool
	Error    bool
	Data     []byte
}

// NewFrame builds a validated frame.
func NewFrame(id uint32, extended, remote, errorFrame bool, data []byte) (Frame, error) {
	f := Frame{
		ID:       id,
		Extended: extended,
		Remote:   remote,
		Error:    errorFrame,
		Data:     data,
	}
	if err := f.Validate(); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Validate checks the payload length and the identifier against the
// address width selected by Extended.
func (f Frame) Validate() error {
	if len(f.Data) > MaxDataLen {
		return fmt.Errorf("%w: data length %d exceeds %d bytes", ErrInvalidFrame, len(f.Data), MaxDataLen)
	}
	limit := MaxStandardID
	width := "standard"
	if f.Extended {
		limit = MaxExtendedID
		width = "extended"
	}
	if f.ID > limit {
		return fmt.Errorf("%w: id 0x%X out of range for %s addressing", ErrInvalidFrame, f.ID, width)
	}
	return nil
}

func (f Frame) String() string {
	return fmt.Sprintf("can frame id=0x%X extended=%t remote=%t error=%t dlc=%d", f.ID, f.Extended, f.Remote, f.Error, len(f.Data))
}
