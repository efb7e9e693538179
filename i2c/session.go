package i2c

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/mklimuk/accelx"
)

var (
	portsMx   sync.Mutex
	installed = map[int]bool{}
)

// Session owns an installed bus driver on one port. Transactions on a session
// never interleave.
type Session struct {
	cfg    accelx.BusConfig
	driver accelx.Driver
	// sem is a single-owner token; holding it grants exclusive use of the bus.
	sem chan struct{}

	mx     sync.Mutex
	closed bool
}

// Initialize validates cfg, configures the driver and installs it on cfg.Port.
// A port can only be installed once until its session is shut down.
func Initialize(cfg accelx.BusConfig, driver accelx.Driver) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if driver == nil {
		return nil, fmt.Errorf("%w: no driver", accelx.ErrConfigInvalid)
	}
	portsMx.Lock()
	defer portsMx.Unlock()
	if installed[cfg.Port] {
		return nil, fmt.Errorf("%w: port %d", accelx.ErrAlreadyInstalled, cfg.Port)
	}
	if err := driver.Configure(cfg); err != nil {
		return nil, fmt.Errorf("could not configure bus driver: %w", err)
	}
	if err := driver.Install(); err != nil {
		return nil, fmt.Errorf("could not install bus driver: %w", err)
	}
	installed[cfg.Port] = true
	slog.Debug("bus driver installed", "port", cfg.Port, "sda", cfg.DataPin, "scl", cfg.ClockPin, "clock_hz", cfg.ClockHz)
	s := &Session{
		cfg:    cfg,
		driver: driver,
		sem:    make(chan struct{}, 1),
	}
	s.sem <- struct{}{}
	return s, nil
}

func (s *Session) Config() accelx.BusConfig {
	return s.cfg
}

// Shutdown uninstalls the driver and frees the port. Calling it again is a no-op.
func (s *Session) Shutdown() error {
	s.mx.Lock()
	if s.closed {
		s.mx.Unlock()
		return nil
	}
	s.closed = true
	s.mx.Unlock()

	// wait for an in-flight transaction to finish
	<-s.sem
	defer func() { s.sem <- struct{}{} }()

	err := s.driver.Uninstall()
	portsMx.Lock()
	delete(installed, s.cfg.Port)
	portsMx.Unlock()
	if err != nil {
		return fmt.Errorf("could not uninstall bus driver: %w", err)
	}
	slog.Debug("bus driver uninstalled", "port", s.cfg.Port)
	return nil
}

func (s *Session) isClosed() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.closed
}
