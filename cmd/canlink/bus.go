package main

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/danmuck/canlink/internal/canbus"
	"github.com/danmuck/canlink/internal/config"
	"github.com/danmuck/canlink/internal/tunnel"
)

// openBus opens the configured SocketCAN interface. The listen role
// provisions a virtual CAN device when the interface cannot be opened,
// so a bench machine works without prior `ip link` setup.
func openBus(cfg config.Config, role tunnel.Role, logger zerolog.Logger) (canbus.Bus, error) {
	if cfg.ProvisionVCAN {
		if err := canbus.ProvisionVCAN(cfg.Interface); err != nil {
			return nil, err
		}
	}

	bus, err := canbus.OpenSocketCAN(cfg.Interface, cfg.RecvTimeout)
	if err == nil {
		return bus, nil
	}
	if role != tunnel.RoleListen || cfg.ProvisionVCAN {
		return nil, err
	}

	logger.Warn().Err(err).Str("interface", cfg.Interface).Msg("open failed, provisioning virtual interface")
	if perr := canbus.ProvisionVCAN(cfg.Interface); perr != nil {
		return nil, fmt.Errorf("provision %s after open failure: %w", cfg.Interface, perr)
	}
	return canbus.OpenSocketCAN(cfg.Interface, cfg.RecvTimeout)
}
