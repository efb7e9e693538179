// Package sim provides a bus controller with a simulated MPU6050 attached.
// It needs no hardware and is used by tests and by the `sim` adapter of the CLI.
package sim

import (
	"context"
	"fmt"
	"sync"

	"github.com/mklimuk/accelx"
)

const (
	DefaultAddress = 0x68

	regAccelXOutH = 0x3B
	regPwrMgmt1   = 0x6B
	regWhoAmI     = 0x75
)

type phase int

const (
	phaseIdle phase = iota
	phaseAddress
	phasePointer
	phaseWrite
	phaseRead
	phaseIgnored
)

type Opt func(*MPU6050)

// WithAddress places the device on an alternate address (0x69 when AD0 is high).
func WithAddress(addr byte) Opt {
	return func(d *MPU6050) {
		d.address = addr
	}
}

// WithNackAddress makes the device ignore its address, as if disconnected.
func WithNackAddress() Opt {
	return func(d *MPU6050) {
		d.nackAddress = true
	}
}

// WithStallAfter makes the device hold the clock low after n bytes have been
// transferred, until the caller gives up.
func WithStallAfter(n int) Opt {
	return func(d *MPU6050) {
		d.stallAfter = n
	}
}

// MPU6050 is a bus controller wired to a simulated MPU6050 register file.
// It implements accelx.Line.
//
// The register pointer auto-increments after every byte read or written, the
// way the real device does, so a read continues from the last selected
// register.
type MPU6050 struct {
	mx sync.Mutex

	address     byte
	nackAddress bool
	stallAfter  int

	cfg       accelx.BusConfig
	installed bool

	regs    [128]byte
	pointer byte
	phase   phase

	transferred int
	starts      int
	stops       int
	naks        int
}

func NewMPU6050(opts ...Opt) *MPU6050 {
	d := &MPU6050{
		address:    DefaultAddress,
		stallAfter: -1,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.regs[regPwrMgmt1] = 0x40 // SLEEP bit set at power-on
	d.regs[regWhoAmI] = DefaultAddress
	return d
}

func (d *MPU6050) Configure(cfg accelx.BusConfig) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if d.installed {
		return accelx.ErrAlreadyInstalled
	}
	d.cfg = cfg
	return nil
}

func (d *MPU6050) Install() error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if d.installed {
		return accelx.ErrAlreadyInstalled
	}
	d.installed = true
	return nil
}

func (d *MPU6050) Uninstall() error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if !d.installed {
		return accelx.ErrNotInstalled
	}
	d.installed = false
	d.phase = phaseIdle
	return nil
}

func (d *MPU6050) Start(ctx context.Context) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if !d.installed {
		return accelx.ErrNotInstalled
	}
	d.starts++
	d.phase = phaseAddress
	return nil
}

func (d *MPU6050) Stop(ctx context.Context) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if !d.installed {
		return accelx.ErrNotInstalled
	}
	d.stops++
	d.phase = phaseIdle
	return nil
}

func (d *MPU6050) WriteByte(ctx context.Context, b byte) (bool, error) {
	if err := d.stall(ctx); err != nil {
		return false, err
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	switch d.phase {
	case phaseAddress:
		if d.nackAddress || b>>1 != d.address {
			d.phase = phaseIgnored
			return false, nil
		}
		if accelx.Direction(b&0x01) == accelx.Read {
			d.phase = phaseRead
		} else {
			d.phase = phasePointer
		}
		return true, nil
	case phasePointer:
		d.pointer = b & 0x7F
		d.phase = phaseWrite
		return true, nil
	case phaseWrite:
		d.regs[d.pointer] = b
		d.pointer = (d.pointer + 1) & 0x7F
		return true, nil
	case phaseIgnored, phaseIdle:
		return false, nil
	default:
		return false, fmt.Errorf("controller wrote while device transmits")
	}
}

func (d *MPU6050) ReadByte(ctx context.Context, ack bool) (byte, error) {
	if err := d.stall(ctx); err != nil {
		return 0, err
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	if d.phase != phaseRead {
		// nobody drives SDA, the pull-up reads back as ones
		return 0xFF, nil
	}
	b := d.regs[d.pointer]
	d.pointer = (d.pointer + 1) & 0x7F
	if !ack {
		d.naks++
		d.phase = phaseIgnored
	}
	return b, nil
}

// stall blocks until ctx is done once the configured number of bytes has
// been transferred.
func (d *MPU6050) stall(ctx context.Context) error {
	d.mx.Lock()
	stall := d.stallAfter >= 0 && d.transferred >= d.stallAfter
	d.transferred++
	d.mx.Unlock()
	if !stall {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

// SetAccelX loads the X-axis acceleration registers.
func (d *MPU6050) SetAccelX(v int16) {
	d.SetRegisters(regAccelXOutH, byte(uint16(v)>>8), byte(v))
}

// SetRegisters writes values into consecutive registers starting at reg.
func (d *MPU6050) SetRegisters(reg byte, values ...byte) {
	d.mx.Lock()
	defer d.mx.Unlock()
	for i, v := range values {
		d.regs[(int(reg)+i)&0x7F] = v
	}
}

func (d *MPU6050) Register(reg byte) byte {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.regs[reg&0x7F]
}

// Asleep reports whether the SLEEP bit of PWR_MGMT_1 is set.
func (d *MPU6050) Asleep() bool {
	return d.Register(regPwrMgmt1)&0x40 != 0
}

func (d *MPU6050) Pointer() byte {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.pointer
}

func (d *MPU6050) Config() accelx.BusConfig {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.cfg
}

func (d *MPU6050) Installed() bool {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.installed
}

// Counters returns the number of START and STOP conditions seen and the
// number of reads the controller terminated with NACK.
func (d *MPU6050) Counters() (starts, stops, naks int) {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.starts, d.stops, d.naks
}
