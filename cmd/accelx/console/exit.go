package console

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

// Exit codes returned by the accelx commands.
const (
	ExitFailure = 1
	ExitUsage   = 2
	ExitBus     = 3
)

func Exit(code int, msg string, args ...interface{}) cli.ExitCoder {
	return cli.Exit(fmt.Sprintf(msg, args...), code)
}
