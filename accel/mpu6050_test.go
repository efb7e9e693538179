package accel

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/accelx"
	"github.com/mklimuk/accelx/i2c"
	"github.com/mklimuk/accelx/sim"
)

func TestMPU6050_Decode(t *testing.T) {
	tests := []struct {
		given    []byte
		expected Sample
	}{
		{[]byte{0x01, 0x00}, 256},
		{[]byte{0xFF, 0xFF}, -1},
		{[]byte{0x80, 0x00}, -32768},
		{[]byte{0x7F, 0xFF}, 32767},
		{[]byte{0x01, 0x2C}, 300},
		{[]byte{0x00, 0x00}, 0},
	}
	for _, test := range tests {
		t.Run(hex.EncodeToString(test.given), func(t *testing.T) {
			assert.Equal(t, test.expected, Decode(test.given[0], test.given[1]))
		})
	}
}

func newSimSensor(t *testing.T, port int, opts ...sim.Opt) (*MPU6050, *sim.MPU6050) {
	t.Helper()
	dev := sim.NewMPU6050(opts...)
	cfg := accelx.DefaultBusConfig()
	cfg.Port = port
	session, err := i2c.Initialize(cfg, dev)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Shutdown() })
	return NewMPU6050(session), dev
}

func TestMPU6050_WakeAndRead(t *testing.T) {
	s, dev := newSimSensor(t, 100)
	ctx := context.Background()
	dev.SetAccelX(-1234)

	require.True(t, dev.Asleep())
	require.NoError(t, s.Wake(ctx))
	assert.False(t, dev.Asleep())

	v, err := s.ReadAccelX(ctx)
	require.NoError(t, err)
	assert.Equal(t, Sample(-1234), v)
}

func TestMPU6050_ReselectsEveryRead(t *testing.T) {
	s, dev := newSimSensor(t, 101)
	ctx := context.Background()
	dev.SetAccelX(300)

	for i := 0; i < 3; i++ {
		v, err := s.ReadAccelX(ctx)
		require.NoError(t, err)
		assert.Equal(t, Sample(300), v)
	}
	starts, stops, _ := dev.Counters()
	assert.Equal(t, 6, starts, "each sample is a select and a read transaction")
	assert.Equal(t, 6, stops)
}

func TestMPU6050_WhoAmI(t *testing.T) {
	s, _ := newSimSensor(t, 102)
	id, err := s.WhoAmI(context.Background())
	require.NoError(t, err)
	assert.Equal(t, byte(0x68), id)
}

func TestMPU6050_WhoAmIUnexpected(t *testing.T) {
	s, dev := newSimSensor(t, 103)
	dev.SetRegisters(RegWhoAmI, 0x70)
	id, err := s.WhoAmI(context.Background())
	assert.ErrorIs(t, err, ErrUnexpectedDevice)
	assert.Equal(t, byte(0x70), id)
}

func TestMPU6050_AlternateAddress(t *testing.T) {
	dev := sim.NewMPU6050(sim.WithAddress(MPU6050AltAddress))
	cfg := accelx.DefaultBusConfig()
	cfg.Port = 104
	session, err := i2c.Initialize(cfg, dev)
	require.NoError(t, err)
	defer func() { _ = session.Shutdown() }()

	_, err = NewMPU6050(session).ReadAccelX(context.Background())
	assert.ErrorIs(t, err, accelx.ErrNack)

	dev.SetAccelX(42)
	v, err := NewMPU6050(session, WithAddress(MPU6050AltAddress)).ReadAccelX(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Sample(42), v)
}

func TestMPU6050_Nack(t *testing.T) {
	s, _ := newSimSensor(t, 105, sim.WithNackAddress())
	assert.ErrorIs(t, s.Wake(context.Background()), accelx.ErrNack)
	_, err := s.ReadAccelX(context.Background())
	assert.ErrorIs(t, err, accelx.ErrNack)
}

func TestMPU6050_TxTimeout(t *testing.T) {
	dev := sim.NewMPU6050(sim.WithStallAfter(3))
	cfg := accelx.DefaultBusConfig()
	cfg.Port = 106
	session, err := i2c.Initialize(cfg, dev)
	require.NoError(t, err)
	defer func() { _ = session.Shutdown() }()
	s := NewMPU6050(session, WithTxTimeout(15*time.Millisecond))

	start := time.Now()
	_, err = s.ReadAccelX(context.Background())
	assert.ErrorIs(t, err, accelx.ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}
