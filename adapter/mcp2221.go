package adapter

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/karalabe/hid"

	"github.com/mklimuk/accelx"
	bus "github.com/mklimuk/accelx/i2c"
	"github.com/mklimuk/accelx/snsctx"
)

const VendorID = 0x04D8
const ProductID = 0x00DD

const (
	cmdStatus    = 0x10
	cmdWriteData = 0x90
	cmdReadData  = 0x91
	cmdGetData   = 0x40

	statusCancel   = 0x10
	statusSetSpeed = 0x20

	// the bridge clock divider is computed from its 12MHz system clock
	mcp2221Clock = 12_000_000
	// largest single I2C transfer the bridge accepts
	mcp2221MaxTransfer = 60

	commandTimeout = time.Second
)

var ErrCommandFailed = errors.New("command failed")
var ErrDeviceNotFound = errors.New("MCP2221 device not found")

var _ bus.Runner = &MCP2221{}

type hidDevice interface {
	Write(b []byte) (int, error)
	Read(b []byte) (int, error)
	Close() error
}

type MCP2221Opts struct {
	// Index selects the bridge when more than one is attached.
	Index        int
	ResponseWait time.Duration
	open         func(index int) (hidDevice, error)
}

type MCP2221Opt func(*MCP2221Opts)

func WithIndex(index int) MCP2221Opt {
	return func(o *MCP2221Opts) {
		o.Index = index
	}
}

func WithResponseWait(wait time.Duration) MCP2221Opt {
	return func(o *MCP2221Opts) {
		o.ResponseWait = wait
	}
}

func withOpener(open func(index int) (hidDevice, error)) MCP2221Opt {
	return func(o *MCP2221Opts) {
		o.open = open
	}
}

// MCP2221 drives the bus through a Microchip MCP2221 USB-HID bridge. Each
// transfer is a 64-byte HID report followed by a 64-byte response.
type MCP2221 struct {
	mx        sync.Mutex
	config    MCP2221Opts
	request   []byte
	response  []byte
	cfg       accelx.BusConfig
	installed bool
	xfer      exclusive
}

type MCP2221Status struct {
	I2CDataBufferCounter   int    `yaml:"data_buffer_counter"`
	I2CSpeedDivider        int    `yaml:"speed_divider"`
	I2CTimeout             int    `yaml:"timeout"`
	CurrentAddress         string `yaml:"current_address"`
	LastWriteRequestedSize uint16 `yaml:"last_write_requested"`
	LastWriteSentSize      uint16 `yaml:"last_write_sent"`
	ReadPending            int    `yaml:"read_pending"`
}

func NewMCP2221(opts ...MCP2221Opt) *MCP2221 {
	config := MCP2221Opts{
		ResponseWait: 50 * time.Millisecond,
		open:         openHID,
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &MCP2221{
		config:   config,
		request:  make([]byte, 64),
		response: make([]byte, 64),
		xfer:     newExclusive(),
	}
}

// Detect lists the attached MCP2221 bridges.
func Detect() []hid.DeviceInfo {
	return hid.Enumerate(VendorID, ProductID)
}

func openHID(index int) (hidDevice, error) {
	devs := Detect()
	if len(devs) == 0 {
		return nil, ErrDeviceNotFound
	}
	if index < 0 || index >= len(devs) {
		return nil, fmt.Errorf("no device with index %d (%d attached)", index, len(devs))
	}
	dev, err := devs[index].Open()
	if err != nil {
		return nil, fmt.Errorf("error opening device: %w", err)
	}
	return dev, nil
}

func (d *MCP2221) Configure(cfg accelx.BusConfig) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if cfg.ClockHz > 0 && speedDivider(cfg.ClockHz) < 0 {
		return fmt.Errorf("%w: clock %dHz out of the bridge range", accelx.ErrConfigInvalid, cfg.ClockHz)
	}
	d.cfg = cfg
	return nil
}

func speedDivider(hz uint32) int {
	div := int(mcp2221Clock/hz) - 3
	if div < 0 || div > 0xFF {
		return -1
	}
	return div
}

// Install checks that the bridge is attached and applies the bus clock.
func (d *MCP2221) Install() error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if d.installed {
		return accelx.ErrAlreadyInstalled
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout+2*d.config.ResponseWait)
	defer cancel()
	if d.cfg.ClockHz > 0 {
		d.resetBuffers()
		d.request[0] = cmdStatus
		d.request[3] = statusSetSpeed
		d.request[4] = byte(speedDivider(d.cfg.ClockHz))
		if err := d.send(ctx, true); err != nil {
			return fmt.Errorf("set speed request failed: %w", err)
		}
		if d.response[3] != statusSetSpeed {
			return fmt.Errorf("%w: speed not applied, transfer in progress", accelx.ErrBusBusy)
		}
	} else {
		if _, err := d.status(ctx); err != nil {
			return err
		}
	}
	d.installed = true
	return nil
}

// Uninstall cancels any pending transfer and frees the bridge.
func (d *MCP2221) Uninstall() error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if !d.installed {
		return accelx.ErrNotInstalled
	}
	d.installed = false
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout+2*d.config.ResponseWait)
	defer cancel()
	if _, err := d.releaseBus(ctx); err != nil {
		return err
	}
	return nil
}

func (d *MCP2221) Run(ctx context.Context, plan *bus.Plan) ([]byte, error) {
	w, r, probe, err := buffers(plan)
	if err != nil {
		return nil, err
	}
	if len(w) > mcp2221MaxTransfer || len(r) > mcp2221MaxTransfer {
		return nil, fmt.Errorf("%w: transfer longer than %d bytes", accelx.ErrInvalidPlan, mcp2221MaxTransfer)
	}
	return d.xfer.do(ctx, func() ([]byte, error) {
		d.mx.Lock()
		defer d.mx.Unlock()
		if !d.installed {
			return nil, accelx.ErrNotInstalled
		}
		// the bridge supports zero length writes so probes skip the read
		if probe || plan.Direction() == accelx.Write {
			return []byte{}, d.writeToAddr(ctx, plan.Address(), w)
		}
		if err := d.readFromAddr(ctx, plan.Address(), r); err != nil {
			return nil, err
		}
		return r, nil
	})
}

func (d *MCP2221) writeToAddr(ctx context.Context, address byte, buffer []byte) error {
	d.resetBuffers()
	d.request[0] = cmdWriteData
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(buffer)))
	d.request[3] = accelx.AddressByte(address, accelx.Write)
	if len(buffer) > 0 {
		copy(d.request[4:], buffer)
	}
	err := d.send(ctx, true)
	if err != nil {
		return fmt.Errorf("write to %x failed: %w", address, err)
	}
	// write could not be performed
	if d.response[1] == 0x01 {
		snsctx.Logger(ctx).Debug("adapter busy")
		return accelx.ErrBusBusy
	}
	return d.checkAck(ctx, address)
}

// checkAck reads the engine state after a write. The bridge reports a missing
// acknowledgment only through the status command.
func (d *MCP2221) checkAck(ctx context.Context, address byte) error {
	st, err := d.status(ctx)
	if err != nil {
		return err
	}
	if st.nack {
		// the engine keeps waiting for the stop otherwise
		_, _ = d.releaseBus(ctx)
		return fmt.Errorf("%w: address %#x", accelx.ErrNack, address)
	}
	return nil
}

func (d *MCP2221) readFromAddr(ctx context.Context, address byte, buffer []byte) error {
	d.resetBuffers()
	d.request[0] = cmdReadData
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(buffer)))
	d.request[3] = accelx.AddressByte(address, accelx.Read)
	err := d.send(ctx, true)
	if err != nil {
		return fmt.Errorf("bus read from %x failed: %w", address, err)
	}
	if d.response[1] == 0x01 {
		return accelx.ErrBusBusy
	}
	d.request[0] = cmdGetData
	resetBuffer(d.response)
	err = d.send(ctx, true)
	if err != nil {
		return fmt.Errorf("error getting read data from adapter: %w", err)
	}
	if d.response[1] == 0x41 {
		return fmt.Errorf("%w: address %#x did not return data", accelx.ErrNack, address)
	}
	if d.response[3] == 127 || int(d.response[3]) != len(buffer) {
		return fmt.Errorf("invalid data size byte; expected %d, got %d", len(buffer), d.response[3])
	}
	copy(buffer, d.response[4:])
	return nil
}

type engineStatus struct {
	*MCP2221Status
	nack bool
}

func (d *MCP2221) Status(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	st, err := d.status(ctx)
	if err != nil {
		return nil, err
	}
	return st.MCP2221Status, nil
}

func (d *MCP2221) status(ctx context.Context) (engineStatus, error) {
	d.resetBuffers()
	d.request[0] = cmdStatus
	err := d.send(ctx, true)
	if err != nil {
		return engineStatus{}, fmt.Errorf("status request failed: %w", err)
	}
	return engineStatus{
		MCP2221Status: bufferToStatus(d.response),
		// byte 20 carries the ACK bit of the last address byte
		nack: d.response[20]&0x40 != 0,
	}, nil
}

func bufferToStatus(buffer []byte) *MCP2221Status {
	/*
		9: Lower byte (16-bit value) of the requested I2C transfer length
		10: Higher byte (16-bit value) of the requested I2C transfer length
		11:	Lower byte (16-bit value) of the already transferred (through I2C) number of bytes
		12:	Higher byte (16-bit value) of the already transferred (through I2C) number of bytes
		13:	Internal I2C data buffer counter
		14: Current I2C communication speed divider value
		15: Current I2C timeout value
		16:	Lower byte (16-bit value) of the I2C address being used
		17:	Higher byte (16-bit value) of the I2C address being used
	*/
	status := &MCP2221Status{
		I2CDataBufferCounter: int(buffer[13]),
		I2CSpeedDivider:      int(buffer[14]),
		I2CTimeout:           int(buffer[15]),
		ReadPending:          int(buffer[25]),
		CurrentAddress:       hex.EncodeToString(buffer[16:18]),
	}
	status.LastWriteRequestedSize = binary.LittleEndian.Uint16(buffer[9:11])
	status.LastWriteSentSize = binary.LittleEndian.Uint16(buffer[11:13])
	return status
}

func (d *MCP2221) ReleaseBus(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.releaseBus(ctx)
}

func (d *MCP2221) releaseBus(ctx context.Context) (*MCP2221Status, error) {
	d.resetBuffers()
	d.request[0] = cmdStatus
	d.request[2] = statusCancel
	err := d.send(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("release request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

func (d *MCP2221) send(ctx context.Context, response bool) error {
	dev, err := d.config.open(d.config.Index)
	if err != nil {
		return err
	}
	defer func() { _ = dev.Close() }()
	logger := snsctx.Logger(ctx)
	verbose := snsctx.IsVerbose(ctx)
	if verbose {
		logger.Debug("sending message to adapter", "report", hex.EncodeToString(d.request))
	}
	n, err := dev.Write(d.request)
	if err != nil {
		return fmt.Errorf("could not write request: %w", err)
	}
	if n != 64 {
		return fmt.Errorf("short write: %d", n)
	}
	if !response {
		return nil
	}
	wait := time.NewTimer(d.config.ResponseWait)
	defer wait.Stop()
	select {
	case <-wait.C:
	case <-ctx.Done():
		return ctx.Err()
	}
	n, err = dev.Read(d.response)
	if err != nil {
		return fmt.Errorf("could not read response: %w", err)
	}
	if n != 64 {
		return fmt.Errorf("short read: %d", n)
	}
	if d.response[0] != d.request[0] {
		return fmt.Errorf("%w: response to %#02x, expected %#02x", ErrCommandFailed, d.response[0], d.request[0])
	}
	if verbose {
		logger.Debug("read message from adapter", "report", hex.EncodeToString(d.response))
	}
	return nil
}

func (d *MCP2221) resetBuffers() {
	resetBuffer(d.request)
	resetBuffer(d.response)
}

func resetBuffer(buf []byte) {
	for i := range buf {
		buf[i] = 0x00
	}
}
