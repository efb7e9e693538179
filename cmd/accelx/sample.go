package main

import (
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"github.com/mklimuk/accelx/cmd/accelx/console"
	"github.com/mklimuk/accelx/sampler"
	"github.com/mklimuk/accelx/snsctx"
)

var sampleCmd = cli.Command{
	Name:  "sample",
	Usage: "wake the sensor and print X-axis acceleration samples",
	Flags: append(busFlags(),
		&cli.IntFlag{
			Name:    "count",
			Aliases: []string{"n"},
			Usage:   "stop after n iterations (0 runs until interrupted)",
		},
		&cli.DurationFlag{
			Name:  "period",
			Usage: "delay between samples",
		},
		&cli.DurationFlag{
			Name:  "settle",
			Usage: "delay between bus setup and the wake write",
		},
	),
	Action: func(c *cli.Context) (err error) {
		cfg, err := loadConfig(c)
		if err != nil {
			return console.Exit(console.ExitUsage, "configuration error: %s", console.Red(err))
		}
		if c.IsSet("count") {
			cfg.Sampler.Limit = c.Int("count")
		}
		if c.IsSet("period") {
			cfg.Sampler.Period = c.Duration("period")
		}
		if c.IsSet("settle") {
			cfg.Sampler.Settle = c.Duration("settle")
		}
		if err := cfg.Validate(); err != nil {
			return console.Exit(console.ExitUsage, "configuration error: %s", console.Red(err))
		}

		ctx, stop := commandContext(c)
		defer stop()
		logger := snsctx.Logger(ctx)

		session, err := openSession(cfg)
		if err != nil {
			return console.Exit(console.ExitBus, "bus initialization error: %s", console.Red(err))
		}
		defer func() {
			if shErr := session.Shutdown(); shErr != nil {
				err = multierr.Append(err, console.Exit(console.ExitBus, "error releasing bus: %s", console.Red(shErr)))
			}
		}()

		settle := time.NewTimer(cfg.Sampler.Settle)
		select {
		case <-settle.C:
		case <-ctx.Done():
			settle.Stop()
			return nil
		}

		sensor := newSensor(session, cfg)
		if err := sensor.Wake(ctx); err != nil {
			if !sampler.Recoverable(err) {
				return console.Exit(console.ExitBus, "wake error: %s", console.Red(err))
			}
			// the loop keeps trying to read; a sleeping device reports zeros
			logger.Warn("could not wake sensor", "address", cfg.Device.Address, "error", err)
		}

		s := sampler.New(sensor, sampler.LineReporter{W: console.Writer()},
			sampler.WithPeriod(cfg.Sampler.Period),
			sampler.WithLimit(cfg.Sampler.Limit),
			sampler.WithLogger(logger),
		)
		if err := s.Run(ctx); err != nil {
			return console.Exit(console.ExitFailure, "sampling error: %s", console.Red(err))
		}
		return nil
	},
}
