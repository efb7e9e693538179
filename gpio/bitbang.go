// Package gpio drives a two-wire bus in software on a pair of GPIO pins.
package gpio

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"

	"github.com/mklimuk/accelx"
)

var _ accelx.Line = &BitBang{}

type BitBangOpts struct {
	// SDA and SCL bypass the pin registry when set.
	SDA gpio.PinIO
	SCL gpio.PinIO
}

type BitBangOpt func(*BitBangOpts)

func WithPins(sda, scl gpio.PinIO) BitBangOpt {
	return func(o *BitBangOpts) {
		o.SDA = sda
		o.SCL = scl
	}
}

// BitBang is an open-drain bus controller. A line is driven low by switching
// the pin to output low and released by switching it back to input, letting
// the pull-up raise it.
type BitBang struct {
	mx        sync.Mutex
	config    BitBangOpts
	sda       gpio.PinIO
	scl       gpio.PinIO
	sdaPull   gpio.Pull
	sclPull   gpio.Pull
	half      time.Duration
	installed bool
}

func NewBitBang(opts ...BitBangOpt) *BitBang {
	var config BitBangOpts
	for _, opt := range opts {
		opt(&config)
	}
	return &BitBang{config: config}
}

func (b *BitBang) Configure(cfg accelx.BusConfig) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	if b.installed {
		return fmt.Errorf("%w: cannot reconfigure an installed bus", accelx.ErrConfigInvalid)
	}
	if cfg.ClockHz == 0 {
		return fmt.Errorf("%w: clock frequency must be positive", accelx.ErrConfigInvalid)
	}
	sda, scl := b.config.SDA, b.config.SCL
	if sda == nil {
		sda = gpioreg.ByName(strconv.Itoa(cfg.DataPin))
	}
	if scl == nil {
		scl = gpioreg.ByName(strconv.Itoa(cfg.ClockPin))
	}
	if sda == nil || scl == nil {
		return fmt.Errorf("%w: pins %d/%d not found", accelx.ErrConfigInvalid, cfg.DataPin, cfg.ClockPin)
	}
	b.sda, b.scl = sda, scl
	b.sdaPull, b.sclPull = pull(cfg.PullUpData), pull(cfg.PullUpClock)
	b.half = time.Second / time.Duration(2*uint64(cfg.ClockHz))
	return nil
}

func pull(up bool) gpio.Pull {
	if up {
		return gpio.PullUp
	}
	return gpio.Float
}

// Install releases both lines and checks that the bus idles high.
func (b *BitBang) Install() error {
	b.mx.Lock()
	defer b.mx.Unlock()
	if b.installed {
		return accelx.ErrAlreadyInstalled
	}
	if b.sda == nil {
		return fmt.Errorf("%w: bus not configured", accelx.ErrConfigInvalid)
	}
	if err := b.releaseSDA(); err != nil {
		return err
	}
	if err := b.scl.In(b.sclPull, gpio.NoEdge); err != nil {
		return fmt.Errorf("could not release SCL: %w", err)
	}
	b.installed = true
	return nil
}

func (b *BitBang) Uninstall() error {
	b.mx.Lock()
	defer b.mx.Unlock()
	if !b.installed {
		return accelx.ErrNotInstalled
	}
	b.installed = false
	if err := b.releaseSDA(); err != nil {
		return err
	}
	if err := b.scl.In(b.sclPull, gpio.NoEdge); err != nil {
		return fmt.Errorf("could not release SCL: %w", err)
	}
	return nil
}

func (b *BitBang) Start(ctx context.Context) error {
	if err := b.releaseSDA(); err != nil {
		return err
	}
	if err := b.clockHigh(ctx); err != nil {
		return err
	}
	if b.sda.Read() == gpio.Low {
		return fmt.Errorf("%w: SDA held low", accelx.ErrBusBusy)
	}
	if err := b.sda.Out(gpio.Low); err != nil {
		return fmt.Errorf("could not drive SDA: %w", err)
	}
	b.wait()
	return b.clockLow()
}

func (b *BitBang) Stop(ctx context.Context) error {
	if err := b.sda.Out(gpio.Low); err != nil {
		return fmt.Errorf("could not drive SDA: %w", err)
	}
	b.wait()
	if err := b.clockHigh(ctx); err != nil {
		return err
	}
	b.wait()
	if err := b.releaseSDA(); err != nil {
		return err
	}
	b.wait()
	return nil
}

func (b *BitBang) WriteByte(ctx context.Context, v byte) (bool, error) {
	for i := 7; i >= 0; i-- {
		if err := b.writeBit(ctx, v&(1<<i) != 0); err != nil {
			return false, err
		}
	}
	bit, err := b.readBit(ctx)
	if err != nil {
		return false, err
	}
	// the receiver acknowledges by pulling SDA low
	return !bit, nil
}

func (b *BitBang) ReadByte(ctx context.Context, ack bool) (byte, error) {
	if err := b.releaseSDA(); err != nil {
		return 0, err
	}
	var v byte
	for i := 0; i < 8; i++ {
		bit, err := b.readBit(ctx)
		if err != nil {
			return 0, err
		}
		v <<= 1
		if bit {
			v |= 1
		}
	}
	if err := b.writeBit(ctx, !ack); err != nil {
		return 0, err
	}
	return v, b.releaseSDA()
}

func (b *BitBang) writeBit(ctx context.Context, high bool) error {
	var err error
	if high {
		err = b.releaseSDA()
	} else {
		err = b.sda.Out(gpio.Low)
	}
	if err != nil {
		return fmt.Errorf("could not set SDA: %w", err)
	}
	b.wait()
	if err := b.clockHigh(ctx); err != nil {
		return err
	}
	b.wait()
	return b.clockLow()
}

func (b *BitBang) readBit(ctx context.Context) (bool, error) {
	if err := b.releaseSDA(); err != nil {
		return false, err
	}
	b.wait()
	if err := b.clockHigh(ctx); err != nil {
		return false, err
	}
	bit := b.sda.Read() == gpio.High
	b.wait()
	return bit, b.clockLow()
}

// clockHigh releases SCL and waits for it to rise. Peripherals stretch the
// clock by holding it low.
func (b *BitBang) clockHigh(ctx context.Context) error {
	if err := b.scl.In(b.sclPull, gpio.NoEdge); err != nil {
		return fmt.Errorf("could not release SCL: %w", err)
	}
	for b.scl.Read() == gpio.Low {
		if err := ctx.Err(); err != nil {
			return err
		}
		b.wait()
	}
	return nil
}

func (b *BitBang) clockLow() error {
	if err := b.scl.Out(gpio.Low); err != nil {
		return fmt.Errorf("could not drive SCL: %w", err)
	}
	return nil
}

func (b *BitBang) releaseSDA() error {
	if err := b.sda.In(b.sdaPull, gpio.NoEdge); err != nil {
		return fmt.Errorf("could not release SDA: %w", err)
	}
	return nil
}

func (b *BitBang) wait() {
	time.Sleep(b.half)
}
