package tunnel

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/canlink/internal/canbus"
	"github.com/danmuck/canlink/internal/observability"
)

// Role selects which end of the tunnel this process is.
type Role string

const (
	// RoleForward dials out to a remote listener and reconnects with
	// backoff for as long as the process runs.
	RoleForward Role = "forward"
	// RoleListen accepts inbound peers, one active session at a time.
	RoleListen Role = "listen"
)

var (
	ErrUnknownRole     = errors.New("tunnel: unknown role")
	ErrAddressRequired = errors.New("tunnel: address required")
)

// ManagerConfig is the immutable role configuration for one process.
type ManagerConfig struct {
	Role    Role
	Address string
	Session Config
}

// Manager establishes connections per role and drives sessions through
// their lifecycle. The bus handle is passed in, shared across sequential
// sessions, and never owned by the manager.
type Manager struct {
	cfg ManagerConfig
	bus canbus.Bus
	log zerolog.Logger
	rng *rand.Rand

	mu     sync.Mutex
	active *Session
}

func NewManager(cfg ManagerConfig, bus canbus.Bus, logger zerolog.Logger) (*Manager, error) {
	if cfg.Role != RoleForward && cfg.Role != RoleListen {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, cfg.Role)
	}
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, ErrAddressRequired
	}
	cfg.Session = cfg.Session.WithDefaults()
	return &Manager{
		cfg: cfg,
		bus: bus,
		log: logger.With().Str("role", string(cfg.Role)).Logger(),
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Run blocks until ctx is cancelled. Session failures never propagate:
// the dial/accept loop is the recovery boundary.
func (m *Manager) Run(ctx context.Context) error {
	switch m.cfg.Role {
	case RoleForward:
		return m.runForward(ctx)
	case RoleListen:
		return m.runListen(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownRole, m.cfg.Role)
	}
}

func (m *Manager) runForward(ctx context.Context) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		attempt++

		dialer := net.Dialer{Timeout: m.cfg.Session.DialTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", m.cfg.Address)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			observability.RecordDialRetry()
			m.log.Warn().Err(err).Int("attempt", attempt).Str("addr", m.cfg.Address).Msg("dial failed")
			if !m.sleepBackoff(ctx, attempt) {
				return nil
			}
			continue
		}

		m.log.Info().Str("addr", conn.RemoteAddr().String()).Msg("connected")
		observability.RecordSessionStart(string(RoleForward))
		sess := NewSession(conn, m.bus, m.cfg.Session, m.log)
		_ = sess.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}

		// A completed session resets the backoff schedule.
		attempt = 0
		if !m.sleepBackoff(ctx, 1) {
			return nil
		}
	}
}

func (m *Manager) runListen(ctx context.Context) error {
	ln, err := net.Listen("tcp", m.cfg.Address)
	if err != nil {
		return fmt.Errorf("tunnel: listen %s: %w", m.cfg.Address, err)
	}
	return m.Serve(ctx, ln)
}

// Serve runs the accept loop on an existing listener. The loop itself
// never terminates on a session failure; it resumes accepting.
func (m *Manager) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	m.log.Info().Str("addr", ln.Addr().String()).Msg("listening")

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		sess := NewSession(conn, m.bus, m.cfg.Session, m.log)
		if !m.activate(sess) {
			observability.RecordPeerRejected()
			m.log.Warn().Str("remote", conn.RemoteAddr().String()).Msg("rejected peer: session already active")
			_ = conn.Close()
			continue
		}

		m.log.Info().Str("remote", conn.RemoteAddr().String()).Msg("peer connected")
		observability.RecordSessionStart(string(RoleListen))
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer m.deactivate(sess)
			_ = sess.Run(ctx)
		}()
	}
}

// activate claims the single-session slot. The minimal listen design
// serializes peers: a newcomer is rejected while a session is live.
func (m *Manager) activate(sess *Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		return false
	}
	m.active = sess
	return true
}

func (m *Manager) deactivate(sess *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == sess {
		m.active = nil
	}
}

func (m *Manager) sleepBackoff(ctx context.Context, attempt int) bool {
	delay := NextBackoffDelay(m.cfg.Session.Backoff, attempt, m.rng)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
