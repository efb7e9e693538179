package accelx

import "fmt"

type Role string

const (
	RoleController Role = "controller"
	RolePeripheral Role = "peripheral"
)

// BusConfig describes how a bus port is set up. It is not modified once a
// session has been initialized with it.
type BusConfig struct {
	Port        int    `yaml:"port"`
	Role        Role   `yaml:"role"`
	DataPin     int    `yaml:"sda"`
	ClockPin    int    `yaml:"scl"`
	PullUpData  bool   `yaml:"sda_pullup"`
	PullUpClock bool   `yaml:"scl_pullup"`
	ClockHz     uint32 `yaml:"clock_hz"`
}

// DefaultBusConfig matches the reference wiring: controller on port 0,
// SDA on 23, SCL on 22, internal pull-ups enabled, standard mode clock.
func DefaultBusConfig() BusConfig {
	return BusConfig{
		Port:        0,
		Role:        RoleController,
		DataPin:     23,
		ClockPin:    22,
		PullUpData:  true,
		PullUpClock: true,
		ClockHz:     100_000,
	}
}

func (c BusConfig) Validate() error {
	if c.Role != RoleController {
		return fmt.Errorf("%w: unsupported role %q", ErrConfigInvalid, c.Role)
	}
	if c.Port < 0 {
		return fmt.Errorf("%w: negative port %d", ErrConfigInvalid, c.Port)
	}
	if c.ClockHz == 0 {
		return fmt.Errorf("%w: clock rate must be positive", ErrConfigInvalid)
	}
	if c.DataPin < 0 || c.ClockPin < 0 {
		return fmt.Errorf("%w: negative pin number (sda=%d, scl=%d)", ErrConfigInvalid, c.DataPin, c.ClockPin)
	}
	if c.DataPin == c.ClockPin {
		return fmt.Errorf("%w: sda and scl share pin %d", ErrConfigInvalid, c.DataPin)
	}
	return nil
}
