package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"
	"periph.io/x/host/v3"

	"github.com/mklimuk/accelx"
	"github.com/mklimuk/accelx/accel"
	"github.com/mklimuk/accelx/adapter"
	"github.com/mklimuk/accelx/cmd/accelx/console"
	"github.com/mklimuk/accelx/config"
	"github.com/mklimuk/accelx/gpio"
	"github.com/mklimuk/accelx/i2c"
	"github.com/mklimuk/accelx/sim"
	"github.com/mklimuk/accelx/snsctx"
)

// simAccelX is the reading of the simulated sensor lying flat at the ±2g range.
const simAccelX = 16384

func busFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "adapter",
			Aliases: []string{"a"},
			Usage:   "bus controller: sim, periph, bitbang, mcp2221 or nanopi",
		},
		&cli.StringFlag{
			Name:    "device",
			Aliases: []string{"d"},
			Usage:   "i2c-dev device for the periph adapter",
		},
		&cli.IntFlag{
			Name:  "port",
			Usage: "bus port (gobot bus number)",
		},
		&cli.UintFlag{
			Name:  "clock",
			Usage: "bus clock in Hz",
		},
	}
}

// loadConfig reads the configuration file, if any, and applies command flags.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return cfg, err
		}
	}
	if c.IsSet("adapter") {
		cfg.Adapter.Kind = c.String("adapter")
	}
	if c.IsSet("device") {
		cfg.Adapter.Device = c.String("device")
	}
	if c.IsSet("port") {
		cfg.Bus.Port = c.Int("port")
	}
	if c.IsSet("clock") {
		cfg.Bus.ClockHz = uint32(c.Uint("clock"))
	}
	return cfg, nil
}

// commandContext is cancelled on SIGINT/SIGTERM and carries the verbose flag.
func commandContext(c *cli.Context) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	ctx = snsctx.SetVerbose(ctx, c.Bool("verbose"))
	ctx = snsctx.WithLogger(ctx, slog.Default())
	return ctx, stop
}

func newDriver(cfg config.Config) (accelx.Driver, error) {
	switch cfg.Adapter.Kind {
	case config.AdapterSim:
		dev := sim.NewMPU6050(sim.WithAddress(cfg.Device.Address))
		dev.SetAccelX(simAccelX)
		return dev, nil
	case config.AdapterPeriph:
		return adapter.NewPeriph(cfg.Adapter.Device), nil
	case config.AdapterBitBang:
		if _, err := host.Init(); err != nil {
			return nil, fmt.Errorf("could not init host: %w", err)
		}
		return gpio.NewBitBang(), nil
	case config.AdapterMCP2221:
		return adapter.NewMCP2221(), nil
	case config.AdapterNanoPi:
		return adapter.NewGobot(nanopi.NewNeoAdaptor()), nil
	}
	return nil, fmt.Errorf("%w: unknown adapter %q", accelx.ErrConfigInvalid, cfg.Adapter.Kind)
}

func openSession(cfg config.Config) (*i2c.Session, error) {
	driver, err := newDriver(cfg)
	if err != nil {
		return nil, err
	}
	return i2c.Initialize(cfg.Bus, driver)
}

func newSensor(session *i2c.Session, cfg config.Config) *accel.MPU6050 {
	return accel.NewMPU6050(session,
		accel.WithAddress(cfg.Device.Address),
		accel.WithWakeTimeout(cfg.Device.WakeTimeout),
		accel.WithTxTimeout(cfg.Device.TxTimeout),
	)
}

func shutdown(session *i2c.Session) {
	if err := session.Shutdown(); err != nil {
		console.Errorf("error releasing bus: %s", console.Red(err))
	}
}
