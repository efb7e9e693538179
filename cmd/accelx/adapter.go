package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/accelx/adapter"
	"github.com/mklimuk/accelx/cmd/accelx/console"
	"github.com/mklimuk/accelx/snsctx"
)

var adapterCmd = cli.Command{
	Name:  "adapter",
	Usage: "MCP2221 USB bridge maintenance",
	Subcommands: cli.Commands{
		&adapterDetectCmd,
		&adapterStatusCmd,
		&adapterReleaseCmd,
	},
}

var adapterDetectCmd = cli.Command{
	Name:  "detect",
	Usage: "list attached MCP2221 bridges",
	Action: func(c *cli.Context) error {
		devices := adapter.Detect()
		if len(devices) == 0 {
			return console.Exit(console.ExitFailure, "%s", adapter.ErrDeviceNotFound)
		}
		w := tabwriter.NewWriter(console.Writer(), 8, 0, 1, ' ', 0)
		_, _ = fmt.Fprintf(w, "INDEX\tPATH\tSERIAL\tVENDOR\tPRODUCT\n")
		for i, dev := range devices {
			_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%#x\t%#x\n", i, dev.Path, dev.Serial, dev.VendorID, dev.ProductID)
		}
		_ = w.Flush()
		return nil
	},
}

func bridgeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  "index",
			Usage: "bridge index as listed by detect",
		},
	}
}

var adapterStatusCmd = cli.Command{
	Name:  "status",
	Usage: "print the bridge I2C engine status",
	Flags: bridgeFlags(),
	Action: func(c *cli.Context) error {
		return bridgeCommand(c, func(ctx context.Context, d *adapter.MCP2221) (*adapter.MCP2221Status, error) {
			return d.Status(ctx)
		})
	},
}

var adapterReleaseCmd = cli.Command{
	Name:  "release",
	Usage: "cancel the pending transfer and free the bus",
	Flags: bridgeFlags(),
	Action: func(c *cli.Context) error {
		return bridgeCommand(c, func(ctx context.Context, d *adapter.MCP2221) (*adapter.MCP2221Status, error) {
			return d.ReleaseBus(ctx)
		})
	},
}

func bridgeCommand(c *cli.Context, fn func(context.Context, *adapter.MCP2221) (*adapter.MCP2221Status, error)) error {
	ctx, cancel := context.WithTimeout(c.Context, 5*time.Second)
	defer cancel()
	ctx = snsctx.SetVerbose(ctx, c.Bool("verbose"))
	d := adapter.NewMCP2221(adapter.WithIndex(c.Int("index")))
	status, err := fn(ctx, d)
	if err != nil {
		return console.Exit(console.ExitBus, "adapter communication error: %s", console.Red(err))
	}
	enc := yaml.NewEncoder(console.Writer())
	if err := enc.Encode(status); err != nil {
		return console.Exit(console.ExitFailure, "encoding error: %s", console.Red(err))
	}
	return enc.Close()
}
