package accelx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBusConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*BusConfig)
		valid  bool
	}{
		{"default", func(c *BusConfig) {}, true},
		{"zero clock", func(c *BusConfig) { c.ClockHz = 0 }, false},
		{"same pins", func(c *BusConfig) { c.ClockPin = c.DataPin }, false},
		{"negative pin", func(c *BusConfig) { c.DataPin = -1 }, false},
		{"peripheral role", func(c *BusConfig) { c.Role = RolePeripheral }, false},
		{"empty role", func(c *BusConfig) { c.Role = "" }, false},
		{"negative port", func(c *BusConfig) { c.Port = -2 }, false},
		{"fast mode", func(c *BusConfig) { c.ClockHz = 400_000 }, true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := DefaultBusConfig()
			test.modify(&cfg)
			err := cfg.Validate()
			if test.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrConfigInvalid)
			}
		})
	}
}

func TestAddressByte(t *testing.T) {
	assert.Equal(t, byte(0xD0), AddressByte(0x68, Write))
	assert.Equal(t, byte(0xD1), AddressByte(0x68, Read))
	assert.Equal(t, byte(0x34), AddressByte(0x1A, Write))
	assert.Equal(t, byte(0x35), AddressByte(0x1A, Read))
}
