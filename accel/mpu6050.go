package accel

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/mklimuk/accelx/i2c"
)

// MPU6050 default 7-bit address with AD0 tied to ground; 0x69 with AD0 high.
const (
	MPU6050Address    = 0x68
	MPU6050AltAddress = 0x69
)

// MPU6050 register map (subset)
//
//	0x3B..0x40: ACCEL_{X,Y,Z}OUT_{H,L}
//	0x41..0x42: TEMP_OUT_{H,L}
//	0x43..0x48: GYRO_{X,Y,Z}OUT_{H,L}
//	0x6B:       PWR_MGMT_1, bit 6 is SLEEP (set at power-on)
//	0x75:       WHO_AM_I, reads 0x68 regardless of AD0
const (
	RegAccelXOutH byte = 0x3B
	RegAccelXOutL byte = 0x3C
	RegAccelYOutH byte = 0x3D
	RegAccelYOutL byte = 0x3E
	RegAccelZOutH byte = 0x3F
	RegAccelZOutL byte = 0x40
	RegTempOutH   byte = 0x41
	RegTempOutL   byte = 0x42
	RegGyroXOutH  byte = 0x43
	RegGyroXOutL  byte = 0x44
	RegGyroYOutH  byte = 0x45
	RegGyroYOutL  byte = 0x46
	RegGyroZOutH  byte = 0x47
	RegGyroZOutL  byte = 0x48
	RegPwrMgmt1   byte = 0x6B
	RegWhoAmI     byte = 0x75
)

const whoAmIResponse = 0x68

var ErrUnexpectedDevice = fmt.Errorf("mpu6050: unexpected WHO_AM_I response")

// Sample is a raw accelerometer count along one axis.
type Sample int16

// Decode reconstructs a two's-complement sample from the big-endian register pair.
func Decode(high, low byte) Sample {
	return Sample(int16(binary.BigEndian.Uint16([]byte{high, low})))
}

type MPU6050Opts struct {
	Address     byte
	WakeTimeout time.Duration
	TxTimeout   time.Duration
}

type MPU6050Opt func(*MPU6050Opts)

func WithAddress(addr byte) MPU6050Opt {
	return func(o *MPU6050Opts) {
		o.Address = addr
	}
}

func WithWakeTimeout(timeout time.Duration) MPU6050Opt {
	return func(o *MPU6050Opts) {
		o.WakeTimeout = timeout
	}
}

// WithTxTimeout sets the budget of the register select and read transactions.
func WithTxTimeout(timeout time.Duration) MPU6050Opt {
	return func(o *MPU6050Opts) {
		o.TxTimeout = timeout
	}
}

// MPU6050 represents InvenSense MPU-6050 6-axis motion sensor. Only the
// X-axis accelerometer output is read.
// Typical usage:
//
//	s := NewMPU6050(session)
//	err := s.Wake(ctx)
//	v, err := s.ReadAccelX(ctx)
type MPU6050 struct {
	// mx keeps a register select and the read that depends on it together
	mx      sync.Mutex
	session *i2c.Session
	config  MPU6050Opts
}

func NewMPU6050(session *i2c.Session, opts ...MPU6050Opt) *MPU6050 {
	config := MPU6050Opts{
		Address:     MPU6050Address,
		WakeTimeout: time.Second,
		TxTimeout:   10 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &MPU6050{session: session, config: config}
}

func (s *MPU6050) Address() byte {
	return s.config.Address
}

// Wake clears PWR_MGMT_1, taking the device out of sleep with the internal
// oscillator as clock source.
func (s *MPU6050) Wake(ctx context.Context) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	plan, err := i2c.WriteRegister(s.config.Address, RegPwrMgmt1, 0x00)
	if err != nil {
		return fmt.Errorf("mpu6050: could not build wake plan: %w", err)
	}
	if _, err = s.session.Execute(ctx, plan, s.config.WakeTimeout); err != nil {
		return fmt.Errorf("mpu6050: wake write failed: %w", err)
	}
	return nil
}

// SelectRegister positions the device register pointer. Following reads
// start at reg and auto-increment.
func (s *MPU6050) SelectRegister(ctx context.Context, reg byte) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.selectRegister(ctx, reg)
}

func (s *MPU6050) selectRegister(ctx context.Context, reg byte) error {
	plan, err := i2c.WriteRegister(s.config.Address, reg)
	if err != nil {
		return fmt.Errorf("mpu6050: could not build select plan: %w", err)
	}
	if _, err = s.session.Execute(ctx, plan, s.config.TxTimeout); err != nil {
		return fmt.Errorf("mpu6050: could not set register pointer to %#x: %w", reg, err)
	}
	return nil
}

func (s *MPU6050) readBytes(ctx context.Context, n int) ([]byte, error) {
	plan, err := i2c.ReadBytes(s.config.Address, n)
	if err != nil {
		return nil, fmt.Errorf("mpu6050: could not build read plan: %w", err)
	}
	data, err := s.session.Execute(ctx, plan, s.config.TxTimeout)
	if err != nil {
		return nil, fmt.Errorf("mpu6050: read failed: %w", err)
	}
	if len(data) != n {
		return nil, fmt.Errorf("mpu6050: short read: expected %d bytes, got %d", n, len(data))
	}
	return data, nil
}

// ReadRegisters selects reg and reads n consecutive registers. The pointer is
// written on every call instead of relying on where the previous read left it.
func (s *MPU6050) ReadRegisters(ctx context.Context, reg byte, n int) ([]byte, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if err := s.selectRegister(ctx, reg); err != nil {
		return nil, err
	}
	return s.readBytes(ctx, n)
}

// ReadAccelX returns the raw X-axis acceleration count.
func (s *MPU6050) ReadAccelX(ctx context.Context) (Sample, error) {
	data, err := s.ReadRegisters(ctx, RegAccelXOutH, 2)
	if err != nil {
		return 0, err
	}
	return Decode(data[0], data[1]), nil
}

// WhoAmI checks that the device answering on the address is an MPU6050.
func (s *MPU6050) WhoAmI(ctx context.Context) (byte, error) {
	data, err := s.ReadRegisters(ctx, RegWhoAmI, 1)
	if err != nil {
		return 0, err
	}
	if data[0] != whoAmIResponse {
		return data[0], fmt.Errorf("%w: %#x", ErrUnexpectedDevice, data[0])
	}
	return data[0], nil
}
