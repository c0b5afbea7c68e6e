package tunnel

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/canlink/internal/canbus"
	"github.com/danmuck/canlink/internal/observability"
	"github.com/danmuck/canlink/internal/wire"
)

// State is the session lifecycle phase. Closed is terminal; a session
// object is never reused.
type State int32

const (
	StateActive State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session owns one TCP connection exclusively and runs two directional
// pumps for its lifetime: bus frames out to the wire, wire frames in to
// the bus. Either pump failing moves the session to Closing; closing
// the connection unblocks the read pump, and the bus adapter's receive
// timeout bounds the other. No frame state survives the session.
type Session struct {
	conn net.Conn
	bus  canbus.Bus
	cfg  Config
	log  zerolog.Logger

	state     atomic.Int32
	closing   chan struct{}
	closeOnce sync.Once
}

// NewSession wraps an established connection. The session takes
// ownership of conn but not of bus, which outlives it.
func NewSession(conn net.Conn, bus canbus.Bus, cfg Config, logger zerolog.Logger) *Session {
	return &Session{
		conn:    conn,
		bus:     bus,
		cfg:     cfg.WithDefaults(),
		log:     logger.With().Str("remote", conn.RemoteAddr().String()).Logger(),
		closing: make(chan struct{}),
	}
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// Run relays frames until either side fails or ctx is cancelled. It
// returns once both pumps have stopped and the connection is closed.
func (s *Session) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, s.beginClose)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.pumpBusToWire()
	}()
	go func() {
		defer wg.Done()
		s.pumpWireToBus()
	}()
	wg.Wait()

	s.beginClose()
	s.state.Store(int32(StateClosed))
	s.log.Info().Msg("session closed")
	return nil
}

// beginClose moves the session to Closing and closes the connection in
// both directions so a pump blocked in Read or Write returns.
func (s *Session) beginClose() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosing))
		close(s.closing)
		_ = s.conn.Close()
	})
}

func (s *Session) stopping() bool {
	select {
	case <-s.closing:
		return true
	default:
		return false
	}
}

func (s *Session) pumpBusToWire() {
	defer s.beginClose()

	buf := make([]byte, 0, wire.MaxFrameLen)
	for {
		if s.stopping() {
			return
		}
		f, err := s.bus.Receive()
		if err != nil {
			if canbus.IsTimeout(err) {
				continue
			}
			if canbus.IsFatal(err) {
				observability.RecordBusError("receive", true)
				s.log.Error().Err(err).Msg("bus receive failed, closing session")
				return
			}
			observability.RecordBusError("receive", false)
			s.log.Warn().Err(err).Msg("transient bus receive error")
			continue
		}

		buf = wire.AppendEncode(buf[:0], f)
		if s.cfg.WriteTimeout > 0 {
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		}
		if _, err := s.conn.Write(buf); err != nil {
			if !s.stopping() {
				s.log.Warn().Err(err).Msg("tunnel write failed, closing session")
			}
			return
		}
		observability.RecordFrameRelayed(observability.DirectionBusToWire)
		s.log.Debug().Uint32("id", f.ID).Int("dlc", len(f.Data)).Msg("CAN => TCP")
	}
}

func (s *Session) pumpWireToBus() {
	defer s.beginClose()

	dec := &wire.Decoder{}
	buf := make([]byte, s.cfg.ReadBufferSize)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			s.drainDecoder(dec)
		}
		if err != nil {
			if !s.stopping() && !errors.Is(err, io.EOF) {
				s.log.Warn().Err(err).Msg("tunnel read failed, closing session")
			}
			return
		}
	}
}

// drainDecoder transmits every frame buffered in dec, in decode order.
// Malformed frames and transmit failures degrade throughput, not the
// session: downstream bus trouble must not sever the tunnel.
func (s *Session) drainDecoder(dec *wire.Decoder) {
	for {
		f, ok, err := dec.Next()
		if err != nil {
			observability.RecordDecodeError()
			s.log.Warn().Err(err).Msg("discarded malformed wire frame")
			continue
		}
		if !ok {
			return
		}
		if err := s.bus.Transmit(f); err != nil {
			observability.RecordBusError("transmit", canbus.IsFatal(err))
			s.log.Warn().Err(err).Uint32("id", f.ID).Msg("bus transmit failed")
			continue
		}
		observability.RecordFrameRelayed(observability.DirectionWireToBus)
		s.log.Debug().Uint32("id", f.ID).Int("dlc", len(f.Data)).Msg("TCP => CAN")
	}
}
