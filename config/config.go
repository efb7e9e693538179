// Package config holds the runtime configuration of the accelx CLI.
package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mklimuk/accelx"
)

const (
	AdapterSim     = "sim"
	AdapterPeriph  = "periph"
	AdapterBitBang = "bitbang"
	AdapterMCP2221 = "mcp2221"
	AdapterNanoPi  = "nanopi"
)

type Device struct {
	Address     uint8         `yaml:"address"`
	WakeTimeout time.Duration `yaml:"wake_timeout"`
	TxTimeout   time.Duration `yaml:"tx_timeout"`
}

type Sampler struct {
	Period time.Duration `yaml:"period"`
	// Settle is the delay between installing the bus driver and waking the device.
	Settle time.Duration `yaml:"settle"`
	Limit  int           `yaml:"limit"`
}

type Adapter struct {
	Kind string `yaml:"kind"`
	// Device is the i2c-dev path for the periph adapter. Gobot platforms use
	// the bus port as their bus number.
	Device string `yaml:"device"`
}

type Config struct {
	Bus     accelx.BusConfig `yaml:"bus"`
	Device  Device           `yaml:"device"`
	Sampler Sampler          `yaml:"sampler"`
	Adapter Adapter          `yaml:"adapter"`
}

func Default() Config {
	return Config{
		Bus: accelx.DefaultBusConfig(),
		Device: Device{
			Address:     0x68,
			WakeTimeout: time.Second,
			TxTimeout:   10 * time.Millisecond,
		},
		Sampler: Sampler{
			Period: 500 * time.Millisecond,
			Settle: 200 * time.Millisecond,
		},
		Adapter: Adapter{
			Kind:   AdapterSim,
			Device: "/dev/i2c-1",
		},
	}
}

// Load reads a YAML file on top of the defaults.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("could not open config file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Decode(f)
}

// Decode reads YAML from r on top of the defaults. Unknown keys are rejected.
func Decode(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, fmt.Errorf("%w: %w", accelx.ErrConfigInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encoding error: %w", err)
	}
	return enc.Close()
}

func (c Config) Validate() error {
	if err := c.Bus.Validate(); err != nil {
		return err
	}
	if c.Device.Address > accelx.MaxAddress {
		return fmt.Errorf("%w: device address %#x is not 7-bit", accelx.ErrConfigInvalid, c.Device.Address)
	}
	if c.Device.WakeTimeout <= 0 || c.Device.TxTimeout <= 0 {
		return fmt.Errorf("%w: transaction timeouts must be positive", accelx.ErrConfigInvalid)
	}
	if c.Sampler.Period <= 0 {
		return fmt.Errorf("%w: sampling period must be positive", accelx.ErrConfigInvalid)
	}
	if c.Sampler.Settle < 0 || c.Sampler.Limit < 0 {
		return fmt.Errorf("%w: settle delay and limit cannot be negative", accelx.ErrConfigInvalid)
	}
	switch c.Adapter.Kind {
	case AdapterSim, AdapterPeriph, AdapterBitBang, AdapterMCP2221, AdapterNanoPi:
	default:
		return fmt.Errorf("%w: unknown adapter %q", accelx.ErrConfigInvalid, c.Adapter.Kind)
	}
	return nil
}
