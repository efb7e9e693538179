package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/accelx"
	"github.com/mklimuk/accelx/cmd/accelx/console"
	"github.com/mklimuk/accelx/i2c"
)

var busCmd = cli.Command{
	Name:  "bus",
	Usage: "raw bus access",
	Subcommands: cli.Commands{
		&busScanCmd,
		&busTxCmd,
	},
}

var busScanCmd = cli.Command{
	Name:  "scan",
	Usage: "probe all addresses and print the ones that acknowledge",
	Flags: append(busFlags(),
		&cli.DurationFlag{
			Name:  "timeout",
			Value: 10 * time.Millisecond,
			Usage: "per-address probe timeout",
		},
	),
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return console.Exit(console.ExitUsage, "configuration error: %s", console.Red(err))
		}
		if c.Duration("timeout") <= 0 {
			return console.Exit(console.ExitUsage, "timeout must be positive")
		}
		ctx, stop := commandContext(c)
		defer stop()
		session, err := openSession(cfg)
		if err != nil {
			return console.Exit(console.ExitBus, "bus initialization error: %s", console.Red(err))
		}
		defer shutdown(session)

		found, err := session.Scan(ctx, c.Duration("timeout"))
		if err != nil {
			return console.Exit(console.ExitBus, "scan error: %s", console.Red(err))
		}
		printScan(found)
		return nil
	},
}

// printScan prints an i2cdetect style address grid.
func printScan(found []byte) {
	present := make(map[byte]bool, len(found))
	for _, addr := range found {
		present[addr] = true
	}
	var sb strings.Builder
	sb.WriteString("    ")
	for col := 0; col < 16; col++ {
		fmt.Fprintf(&sb, " %x ", col)
	}
	sb.WriteString("\n")
	for row := 0; row < 8; row++ {
		fmt.Fprintf(&sb, "%02x: ", row*16)
		for col := 0; col < 16; col++ {
			addr := byte(row*16 + col)
			switch {
			case addr < i2c.FirstScanAddress || addr > i2c.LastScanAddress:
				sb.WriteString("   ")
			case present[addr]:
				sb.WriteString(console.Green(fmt.Sprintf("%02x", addr)) + " ")
			default:
				sb.WriteString(console.Faint("--") + " ")
			}
		}
		sb.WriteString("\n")
	}
	console.Printf("%s", sb.String())
}

var busTxCmd = cli.Command{
	Name:      "tx",
	Usage:     "execute a single transaction, e.g. `bus tx S A68W W3B P`",
	ArgsUsage: "TOKEN...",
	Flags: append(busFlags(),
		&cli.DurationFlag{
			Name:  "timeout",
			Value: 100 * time.Millisecond,
			Usage: "transaction timeout",
		},
		&cli.BoolFlag{
			Name:    "yes",
			Aliases: []string{"y"},
			Usage:   "do not ask before writing to the device",
		},
	),
	Action: func(c *cli.Context) error {
		if c.NArg() == 0 {
			return console.Exit(console.ExitUsage, "expected transaction tokens")
		}
		plan, err := i2c.ParsePlan(c.Args().Slice())
		if err != nil {
			return console.Exit(console.ExitUsage, "%s", console.Red(err))
		}
		if c.Duration("timeout") <= 0 {
			return console.Exit(console.ExitUsage, "timeout must be positive")
		}
		if plan.Direction() == accelx.Write && len(plan.WriteData()) > 0 && !c.Bool("yes") {
			ok, err := console.Confirm(fmt.Sprintf("write %s to %#x?", console.Hex(plan.WriteData()...), plan.Address()))
			if err != nil {
				return console.Exit(console.ExitFailure, "prompt error: %s", console.Red(err))
			}
			if !ok {
				return nil
			}
		}

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

		data, err := session.Execute(ctx, plan, c.Duration("timeout"))
		if errors.Is(err, accelx.ErrInvalidPlan) {
			// the adapter cannot express this plan
			return console.Exit(console.ExitUsage, "transaction %s rejected: %s", plan, console.Red(err))
		}
		if err != nil {
			return console.Exit(console.ExitBus, "transaction %s failed: %s", plan, console.Red(err))
		}
		if len(data) > 0 {
			console.Printf("%s\n", console.Hex(data...))
		}
		return nil
	},
}
