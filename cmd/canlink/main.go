// canlink bridges a local CAN interface to a remote peer over a TCP
// tunnel, so two machines exchange live CAN traffic as if they shared
// a physical bus.
//
// Two subcommands select the tunnel role:
//
//	canlink forward -i can0 192.168.2.10:10023
//	canlink listen -i vcan0 -s 0.0.0.0:10023
//
// The forward role dials out and reconnects with backoff; the listen
// role accepts one peer at a time. Exit code 0 means a signal-driven
// shutdown; startup errors (bad interface, unparsable address) are
// fatal and exit nonzero.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/danmuck/canlink/internal/config"
	"github.com/danmuck/canlink/internal/observability"
	"github.com/danmuck/canlink/internal/server"
	"github.com/danmuck/canlink/internal/tunnel"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "canlink: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		printUsage()
		return errors.New("missing command")
	}
	switch args[0] {
	case "forward":
		return runForward(args[1:])
	case "listen":
		return runListen(args[1:])
	case "help", "-h", "--help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func runForward(args []string) error {
	fs := pflag.NewFlagSet("forward", pflag.ContinueOnError)
	iface := fs.StringP("interface", "i", "", "CAN interface (default can0)")
	configPath := fs.String("config", "", "path to config.toml")
	verbose := fs.BoolP("verbose", "v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("forward: destination host:port required")
	}
	return runBridge(tunnel.RoleForward, *configPath, *iface, "can0", fs.Arg(0), *verbose)
}

func runListen(args []string) error {
	fs := pflag.NewFlagSet("listen", pflag.ContinueOnError)
	iface := fs.StringP("interface", "i", "", "CAN interface (default vcan0)")
	socket := fs.StringP("socket", "s", "0.0.0.0:10023", "listen socket")
	configPath := fs.String("config", "", "path to config.toml")
	verbose := fs.BoolP("verbose", "v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if fs.NArg() != 0 {
		return fmt.Errorf("listen: unexpected argument %q", fs.Arg(0))
	}
	return runBridge(tunnel.RoleListen, *configPath, *iface, "vcan0", *socket, *verbose)
}

func runBridge(role tunnel.Role, configPath, iface, ifaceDefault, address string, verbose bool) error {
	logger := observability.InitLogger("canlink", verbose)

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if iface != "" {
		cfg.Interface = iface
	}
	if cfg.Interface == "" {
		cfg.Interface = ifaceDefault
	}

	if role == tunnel.RoleForward {
		resolved, err := net.ResolveTCPAddr("tcp", address)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", address, err)
		}
		logger.Debug().Str("dest", address).Str("resolved", resolved.String()).Msg("destination resolved")
		logger.Info().Str("addr", resolved.String()).Msg("sending to")
	}

	bus, err := openBus(cfg, role, logger)
	if err != nil {
		return err
	}
	defer bus.Close()
	logger.Info().Str("interface", cfg.Interface).Msg("bus opened")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		status := server.New("canlink", logger)
		go func() {
			if err := status.Serve(ctx, cfg.MetricsAddr); err != nil {
				logger.Error().Err(err).Str("addr", cfg.MetricsAddr).Msg("status endpoint failed")
			}
		}()
	}

	mgr, err := tunnel.NewManager(tunnel.ManagerConfig{
		Role:    role,
		Address: address,
		Session: cfg.Session,
	}, bus, logger)
	if err != nil {
		return err
	}
	return mgr.Run(ctx)
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: canlink <command> [flags]

commands:
  forward -i <interface> <host:port>   dial out and stream CAN frames to a remote listener
  listen  -i <interface> -s <bind>     accept an inbound tunnel connection

flags common to both:
  --config <path>   TOML config file
  -v, --verbose     debug logging`)
}
