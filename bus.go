package accelx

import (
	"context"
	"errors"
)

// Bus errors returned by sessions, plans and drivers.
var (
	ErrConfigInvalid    = errors.New("invalid bus configuration")
	ErrAlreadyInstalled = errors.New("bus driver already installed")
	ErrNotInstalled     = errors.New("bus driver not installed")
	ErrNack             = errors.New("device did not acknowledge")
	ErrTimeout          = errors.New("bus transaction timed out")
	ErrInvalidPlan      = errors.New("invalid transaction plan")
	ErrPlanConsumed     = errors.New("transaction plan already executed")
)

// ErrBusBusy is returned when the bus is held by another controller or the
// adapter has not finished its previous transfer.
var ErrBusBusy = errors.New("bus is busy")

// Direction is the R/W bit appended to a 7-bit device address.
type Direction byte

const (
	Write Direction = 0
	Read  Direction = 1
)

func (d Direction) String() string {
	if d == Read {
		return "R"
	}
	return "W"
}

// MaxAddress is the highest 7-bit device address.
const MaxAddress = 0x7F

// AddressByte returns the on-wire address+direction byte.
func AddressByte(address byte, dir Direction) byte {
	return address<<1 | byte(dir&0x01)
}

// Driver is a two-wire bus controller that a session configures and installs.
type Driver interface {
	Configure(cfg BusConfig) error
	Install() error
	Uninstall() error
}

// Line is a controller driven one bus primitive at a time. Implementations
// must return ctx.Err() when the context expires while they wait on the bus.
type Line interface {
	Driver
	Start(ctx context.Context) error
	// WriteByte shifts out b MSB-first and reports whether the receiver acknowledged it.
	WriteByte(ctx context.Context, b byte) (bool, error)
	// ReadByte shifts in one byte MSB-first and then drives ACK when ack is
	// true or NACK when it is false.
	ReadByte(ctx context.Context, ack bool) (byte, error)
	Stop(ctx context.Context) error
}
