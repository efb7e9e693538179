package main

import (
	"errors"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/accelx/accel"
	"github.com/mklimuk/accelx/cmd/accelx/console"
)

var whoAmICmd = cli.Command{
	Name:  "whoami",
	Usage: "check that an MPU6050 answers at the configured address",
	Flags: busFlags(),
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return console.Exit(console.ExitUsage, "configuration error: %s", console.Red(err))
		}
		ctx, stop := commandContext(c)
		defer stop()
		session, err := openSession(cfg)
		if err != nil {
			return console.Exit(console.ExitBus, "bus initialization error: %s", console.Red(err))
		}
		defer shutdown(session)

		id, err := newSensor(session, cfg).WhoAmI(ctx)
		switch {
		case errors.Is(err, accel.ErrUnexpectedDevice):
			console.PInfof(console.PictoStop, "device at %#x answered %s", cfg.Device.Address, console.Yellow(console.Hex(id)))
			return console.Exit(console.ExitFailure, "not an MPU6050")
		case err != nil:
			return console.Exit(console.ExitBus, "read error: %s", console.Red(err))
		}
		console.PInfof(console.PictoPin, "MPU6050 at %#x (WHO_AM_I %s)", cfg.Device.Address, console.Green(console.Hex(id)))
		return nil
	},
}
