package adapter

import (
	"context"
	"fmt"
	"sync"

	"gobot.io/x/gobot/v2/drivers/i2c"

	"github.com/mklimuk/accelx"
	bus "github.com/mklimuk/accelx/i2c"
)

var _ bus.Runner = &Gobot{}

// GobotConnector is a gobot platform adaptor exposing its i2c buses, such as
// nanopi.NeoAdaptor.
type GobotConnector interface {
	i2c.Connector
	Connect() error
	Finalize() error
}

// Gobot runs plans through a gobot platform adaptor. The session port selects
// the adaptor bus number. The adaptor fixes the bus clock so ClockHz is only
// validated.
type Gobot struct {
	mx        sync.Mutex
	adaptor   GobotConnector
	busNr     int
	drivers   map[byte]*i2c.GenericDriver
	installed bool
	xfer      exclusive
}

func NewGobot(adaptor GobotConnector) *Gobot {
	return &Gobot{
		adaptor: adaptor,
		drivers: make(map[byte]*i2c.GenericDriver),
		xfer:    newExclusive(),
	}
}

func (g *Gobot) Configure(cfg accelx.BusConfig) error {
	g.mx.Lock()
	defer g.mx.Unlock()
	if g.installed {
		return fmt.Errorf("%w: cannot reconfigure an installed bus", accelx.ErrConfigInvalid)
	}
	g.busNr = cfg.Port
	return nil
}

func (g *Gobot) Install() error {
	g.mx.Lock()
	defer g.mx.Unlock()
	if g.installed {
		return accelx.ErrAlreadyInstalled
	}
	if err := g.adaptor.Connect(); err != nil {
		return fmt.Errorf("adaptor connect error: %w", err)
	}
	g.installed = true
	return nil
}

func (g *Gobot) Uninstall() error {
	g.mx.Lock()
	defer g.mx.Unlock()
	if !g.installed {
		return accelx.ErrNotInstalled
	}
	g.installed = false
	for addr, d := range g.drivers {
		_ = d.Halt()
		delete(g.drivers, addr)
	}
	if err := g.adaptor.Finalize(); err != nil {
		return fmt.Errorf("adaptor finalize error: %w", err)
	}
	return nil
}

// driver returns the started device driver for address.
func (g *Gobot) driver(address byte) (*i2c.GenericDriver, error) {
	if d, ok := g.drivers[address]; ok {
		return d, nil
	}
	busNr := g.busNr
	d := i2c.NewGenericDriver(g.adaptor, fmt.Sprintf("dev-%#x", address), int(address), func(c i2c.Config) {
		c.SetBus(busNr)
	})
	if err := d.Start(); err != nil {
		return nil, fmt.Errorf("start error: %w", err)
	}
	g.drivers[address] = d
	return d, nil
}

func (g *Gobot) Run(ctx context.Context, plan *bus.Plan) ([]byte, error) {
	w, r, probe, err := buffers(plan)
	if err != nil {
		return nil, err
	}
	return g.xfer.do(ctx, func() ([]byte, error) {
		g.mx.Lock()
		defer g.mx.Unlock()
		if !g.installed {
			return nil, accelx.ErrNotInstalled
		}
		d, err := g.driver(plan.Address())
		if err != nil {
			return nil, err
		}
		if len(w) > 0 {
			if err := d.Write(w); err != nil {
				return nil, fmt.Errorf("write error: %w", mapErrno(err, plan.Address()))
			}
			return []byte{}, nil
		}
		if err := d.Read(r); err != nil {
			return nil, fmt.Errorf("read error: %w", mapErrno(err, plan.Address()))
		}
		if probe {
			return []byte{}, nil
		}
		return r, nil
	})
}
