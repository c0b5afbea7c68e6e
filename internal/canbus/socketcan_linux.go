//go:build linux

package canbus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// rawFrameLen is the size of the kernel can_frame structure: a 4-byte
// little-endian id word (flags folded into the top bits), a dlc byte,
// 3 bytes of padding, and 8 data bytes.
const rawFrameLen = 16

// DefaultRecvTimeout bounds how long a Receive call can stay blocked,
// so a session shutting down is never stuck behind a silent bus.
const DefaultRecvTimeout = 500 * time.Millisecond

// SocketCAN is a Bus over a raw AF_CAN socket bound to one interface.
// Receive and Transmit are safe to call from two goroutines.
type SocketCAN struct {
	fd   int
	name string
}

// OpenSocketCAN opens a CAN_RAW socket bound to ifName. recvTimeout <= 0
// selects DefaultRecvTimeout.
func OpenSocketCAN(ifName string, recvTimeout time.Duration) (*SocketCAN, error) {
	ifi, err := net.InterfaceByName(ifName)
	if err != nil {
		return nil, fmt.Errorf("canbus: interface %s: %w", ifName, err)
	}

	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("canbus: socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: ifi.Index}); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("canbus: bind %s: %w", ifName, err)
	}

	if recvTimeout <= 0 {
		recvTimeout = DefaultRecvTimeout
	}
	tv := unix.NsecToTimeval(recvTimeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("canbus: set receive timeout: %w", err)
	}

	return &SocketCAN{fd: fd, name: ifName}, nil
}

// Name returns the bound interface name.
func (s *SocketCAN) Name() string {
	return s.name
}

// Receive blocks until one frame arrives or the receive timeout elapses.
func (s *SocketCAN) Receive() (Frame, error) {
	buf := make([]byte, rawFrameLen)
	n, err := unix.Read(s.fd, buf)
	if err != nil {
		return Frame{}, s.wrapErrno("receive", err)
	}
	if n != rawFrameLen {
		return Frame{}, &BusError{
			Interface: s.name,
			Op:        "receive",
			Err:       fmt.Errorf("short read: %d of %d bytes", n, rawFrameLen),
		}
	}
	return unmarshalRawFrame(buf), nil
}

// Transmit places one frame on the bus. Queue-full conditions surface
// as transient bus errors.
func (s *SocketCAN) Transmit(f Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if _, err := unix.Write(s.fd, marshalRawFrame(f)); err != nil {
		return s.wrapErrno("transmit", err)
	}
	return nil
}

func (s *SocketCAN) Close() error {
	return unix.Close(s.fd)
}

// wrapErrno classifies a socket errno into the transient/fatal taxonomy.
func (s *SocketCAN) wrapErrno(op string, err error) error {
	be := &BusError{Interface: s.name, Op: op, Err: err}
	switch {
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
		be.Timeout = true
	case errors.Is(err, unix.EBADF),
		errors.Is(err, unix.ENODEV),
		errors.Is(err, unix.ENETDOWN),
		errors.Is(err, unix.ENXIO):
		be.Fatal = true
	}
	return be
}

func marshalRawFrame(f Frame) []byte {
	id := f.ID
	if f.Extended {
		id |= unix.CAN_EFF_FLAG
	}
	if f.Remote {
		id |= unix.CAN_RTR_FLAG
	}
	if f.Error {
		id |= unix.CAN_ERR_FLAG
	}

	buf := make([]byte, rawFrameLen)
	binary.LittleEndian.PutUint32(buf[0:4], id)
	buf[4] = byte(len(f.Data))
	copy(buf[8:], f.Data)
	return buf
}

func unmarshalRawFrame(buf []byte) Frame {
	raw := binary.LittleEndian.Uint32(buf[0:4])
	f := Frame{
		Extended: raw&unix.CAN_EFF_FLAG != 0,
		Remote:   raw&unix.CAN_RTR_FLAG != 0,
		Error:    raw&unix.CAN_ERR_FLAG != 0,
	}
	if f.Extended {
		f.ID = raw & unix.CAN_EFF_MASK
	} else {
		f.ID = raw & unix.CAN_SFF_MASK
	}

	dlc := buf[4]
	if dlc > MaxDataLen {
		dlc = MaxDataLen
	}
	f.Data = make([]byte, dlc)
	copy(f.Data, buf[8:8+dlc])
	return f
}
