package main

import (
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/accelx/cmd/accelx/console"
)

var configCmd = cli.Command{
	Name:  "config",
	Usage: "configuration helpers",
	Subcommands: cli.Commands{
		&configShowCmd,
	},
}

var configShowCmd = cli.Command{
	Name:  "show",
	Usage: "print the effective configuration as YAML",
	Flags: busFlags(),
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return console.Exit(console.ExitUsage, "configuration error: %s", console.Red(err))
		}
		if err := cfg.Validate(); err != nil {
			return console.Exit(console.ExitUsage, "configuration error: %s", console.Red(err))
		}
		if err := cfg.Encode(console.Writer()); err != nil {
			return console.Exit(console.ExitFailure, "%s", console.Red(err))
		}
		return nil
	},
}
