package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/mklimuk/accelx"
	bus "github.com/mklimuk/accelx/i2c"
)

var _ bus.Runner = &Periph{}

// Periph runs plans as combined transfers on a bus opened through the periph
// registry, typically a Linux i2c-dev device.
type Periph struct {
	mx     sync.Mutex
	dev    string
	bus    i2c.BusCloser
	owned  bool
	cfg    accelx.BusConfig
	active bool
	xfer   exclusive
}

// NewPeriph prepares a runner for the named bus ("/dev/i2c-1", "1" or "" for
// the first registered bus). The bus is opened on Install.
func NewPeriph(dev string) *Periph {
	return &Periph{dev: dev, xfer: newExclusive()}
}

// NewPeriphFromBus wraps an already opened bus. Uninstall leaves it open.
func NewPeriphFromBus(b i2c.BusCloser) *Periph {
	return &Periph{bus: b, xfer: newExclusive()}
}

func (p *Periph) Configure(cfg accelx.BusConfig) error {
	p.mx.Lock()
	defer p.mx.Unlock()
	if p.active {
		return fmt.Errorf("%w: cannot reconfigure an installed bus", accelx.ErrConfigInvalid)
	}
	p.cfg = cfg
	return nil
}

func (p *Periph) Install() error {
	p.mx.Lock()
	defer p.mx.Unlock()
	if p.active {
		return accelx.ErrAlreadyInstalled
	}
	if p.bus == nil {
		state, err := host.Init()
		if err != nil {
			return fmt.Errorf("could not init host: %w", err)
		}
		for _, driver := range state.Loaded {
			slog.Debug("host driver loaded", "driver", driver.String())
		}
		b, err := i2creg.Open(p.dev)
		if err != nil {
			return fmt.Errorf("could not open i2c bus: %w", err)
		}
		p.bus = b
		p.owned = true
	}
	if p.cfg.ClockHz > 0 {
		// kernel drivers usually fix the clock at boot
		if err := p.bus.SetSpeed(physic.Frequency(p.cfg.ClockHz) * physic.Hertz); err != nil {
			slog.Warn("could not set bus speed", "bus", p.bus.String(), "hz", p.cfg.ClockHz, "error", err)
		}
	}
	p.active = true
	return nil
}

func (p *Periph) Uninstall() error {
	p.mx.Lock()
	defer p.mx.Unlock()
	if !p.active {
		return accelx.ErrNotInstalled
	}
	p.active = false
	if !p.owned {
		return nil
	}
	b := p.bus
	p.bus = nil
	p.owned = false
	if err := b.Close(); err != nil {
		return fmt.Errorf("could not close i2c bus: %w", err)
	}
	return nil
}

func (p *Periph) Run(ctx context.Context, plan *bus.Plan) ([]byte, error) {
	p.mx.Lock()
	b, active := p.bus, p.active
	p.mx.Unlock()
	if !active {
		return nil, accelx.ErrNotInstalled
	}
	w, r, probe, err := buffers(plan)
	if err != nil {
		return nil, err
	}
	return p.xfer.do(ctx, func() ([]byte, error) {
		if err := b.Tx(uint16(plan.Address()), w, r); err != nil {
			return nil, fmt.Errorf("transfer to %#x failed: %w", plan.Address(), mapErrno(err, plan.Address()))
		}
		if probe || plan.Direction() == accelx.Write {
			return []byte{}, nil
		}
		return r, nil
	})
}
