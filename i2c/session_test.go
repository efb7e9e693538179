package i2c

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/accelx"
	"github.com/mklimuk/accelx/sim"
)

func TestInitialize_OncePerPort(t *testing.T) {
	cfg := accelx.DefaultBusConfig()
	cfg.Port = 1

	s, err := Initialize(cfg, sim.NewMPU6050())
	require.NoError(t, err)

	_, err = Initialize(cfg, sim.NewMPU6050())
	assert.ErrorIs(t, err, accelx.ErrAlreadyInstalled)

	other := cfg
	other.Port = 2
	s2, err := Initialize(other, sim.NewMPU6050())
	require.NoError(t, err, "other ports are independent")
	require.NoError(t, s2.Shutdown())

	require.NoError(t, s.Shutdown())
	s3, err := Initialize(cfg, sim.NewMPU6050())
	require.NoError(t, err, "port is free again after shutdown")
	require.NoError(t, s3.Shutdown())
}

func TestInitialize_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*accelx.BusConfig)
	}{
		{"zero clock", func(c *accelx.BusConfig) { c.ClockHz = 0 }},
		{"shared pins", func(c *accelx.BusConfig) { c.ClockPin = c.DataPin }},
		{"peripheral role", func(c *accelx.BusConfig) { c.Role = accelx.RolePeripheral }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := accelx.DefaultBusConfig()
			cfg.Port = 3
			test.modify(&cfg)
			dev := sim.NewMPU6050()
			_, err := Initialize(cfg, dev)
			assert.ErrorIs(t, err, accelx.ErrConfigInvalid)
			assert.False(t, dev.Installed(), "driver must not be installed on invalid config")
		})
	}
}

func TestInitialize_NilDriver(t *testing.T) {
	_, err := Initialize(accelx.DefaultBusConfig(), nil)
	assert.ErrorIs(t, err, accelx.ErrConfigInvalid)
}

func TestInitialize_ConfiguresDriver(t *testing.T) {
	cfg := accelx.DefaultBusConfig()
	cfg.Port = 4
	cfg.ClockHz = 400_000
	dev := sim.NewMPU6050()

	s, err := Initialize(cfg, dev)
	require.NoError(t, err)
	assert.True(t, dev.Installed())
	assert.Equal(t, cfg, dev.Config())
	assert.Equal(t, cfg, s.Config())

	require.NoError(t, s.Shutdown())
	assert.False(t, dev.Installed())
	assert.NoError(t, s.Shutdown(), "shutdown is idempotent")
}

func TestInitialize_InstallFailureFreesPort(t *testing.T) {
	cfg := accelx.DefaultBusConfig()
	cfg.Port = 5
	runner := new(MockRunner)
	runner.On("Configure", cfg).Return(nil)
	runner.On("Install").Return(errors.New("no such device"))

	_, err := Initialize(cfg, runner)
	require.Error(t, err)

	s, err := Initialize(cfg, sim.NewMPU6050())
	require.NoError(t, err)
	require.NoError(t, s.Shutdown())
}
