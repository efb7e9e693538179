package adapter

import (
	"context"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gobot.io/x/gobot/v2/drivers/i2c"

	"github.com/mklimuk/accelx"
	"github.com/mklimuk/accelx/accel"
	bus "github.com/mklimuk/accelx/i2c"
)

type fakeConn struct {
	i2c.Connection
	adaptor *fakeAdaptor
	present bool
}

func (c *fakeConn) Write(b []byte) (int, error) {
	if err := c.WriteBytes(b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (c *fakeConn) WriteBytes(b []byte) error {
	if !c.present {
		return syscall.EREMOTEIO
	}
	c.adaptor.mu.Lock()
	defer c.adaptor.mu.Unlock()
	c.adaptor.written = append(c.adaptor.written, append([]byte(nil), b...))
	return nil
}

func (c *fakeConn) Read(b []byte) (int, error) {
	if !c.present {
		return 0, syscall.EREMOTEIO
	}
	return copy(b, c.adaptor.data), nil
}

func (c *fakeConn) Close() error { return nil }

type fakeAdaptor struct {
	mu        sync.Mutex
	buses     []int
	connects  int
	finalizes int
	written   [][]byte
	data      []byte
}

func (a *fakeAdaptor) GetI2cConnection(address int, busNr int) (i2c.Connection, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buses = append(a.buses, busNr)
	return &fakeConn{adaptor: a, present: address == 0x68}, nil
}

func (a *fakeAdaptor) DefaultI2cBus() int { return 0 }

func (a *fakeAdaptor) Connect() error {
	a.connects++
	return nil
}

func (a *fakeAdaptor) Finalize() error {
	a.finalizes++
	return nil
}

func TestGobot_ReadSensor(t *testing.T) {
	fa := &fakeAdaptor{data: []byte{0x01, 0x2C}}
	cfg := accelx.DefaultBusConfig()
	cfg.Port = 2
	session, err := bus.Initialize(cfg, NewGobot(fa))
	require.NoError(t, err)
	assert.Equal(t, 1, fa.connects)

	sensor := accel.NewMPU6050(session)
	require.NoError(t, sensor.Wake(context.Background()))
	v, err := sensor.ReadAccelX(context.Background())
	require.NoError(t, err)
	assert.Equal(t, accel.Sample(300), v)
	assert.Equal(t, [][]byte{{accel.RegPwrMgmt1, 0x00}, {accel.RegAccelXOutH}}, fa.written)
	assert.Equal(t, []int{2}, fa.buses, "one connection per device on the session port bus")

	require.NoError(t, session.Shutdown())
	assert.Equal(t, 1, fa.finalizes)
}

func TestGobot_MissingDevice(t *testing.T) {
	fa := &fakeAdaptor{}
	cfg := accelx.DefaultBusConfig()
	cfg.Port = 340
	session, err := bus.Initialize(cfg, NewGobot(fa))
	require.NoError(t, err)
	defer func() { _ = session.Shutdown() }()

	plan, err := bus.Probe(0x50)
	require.NoError(t, err)
	_, err = session.Execute(context.Background(), plan, 10*time.Millisecond)
	assert.ErrorIs(t, err, accelx.ErrNack)

	plan, err = bus.Probe(0x68)
	require.NoError(t, err)
	data, err := session.Execute(context.Background(), plan, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestGobot_RejectsOptionalAck(t *testing.T) {
	cfg := accelx.DefaultBusConfig()
	cfg.Port = 341
	session, err := bus.Initialize(cfg, NewGobot(&fakeAdaptor{}))
	require.NoError(t, err)
	defer func() { _ = session.Shutdown() }()

	plan, err := bus.NewBuilder().Start().Address(0x68, accelx.Write).WriteByte(0x6B, false).WriteByte(0x00, true).Stop().Build()
	require.NoError(t, err)
	_, err = session.Execute(context.Background(), plan, 10*time.Millisecond)
	assert.ErrorIs(t, err, accelx.ErrInvalidPlan)
}

func TestGobot_NotInstalled(t *testing.T) {
	g := NewGobot(&fakeAdaptor{})
	plan, err := bus.Probe(0x68)
	require.NoError(t, err)
	_, err = g.Run(context.Background(), plan)
	assert.ErrorIs(t, err, accelx.ErrNotInstalled)
	assert.ErrorIs(t, g.Uninstall(), accelx.ErrNotInstalled)
}
