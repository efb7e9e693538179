// Package sampler periodically reads a sensor and reports every successful
// sample. Transient bus failures skip the sample; the next attempt happens at
// the next period, never earlier.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/mklimuk/accelx"
	"github.com/mklimuk/accelx/accel"
)

// Source provides raw samples.
type Source interface {
	ReadAccelX(ctx context.Context) (accel.Sample, error)
}

// Reporter receives every successful sample.
type Reporter interface {
	Report(ctx context.Context, sample accel.Sample) error
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, sample accel.Sample) error

func (f ReporterFunc) Report(ctx context.Context, sample accel.Sample) error {
	return f(ctx, sample)
}

// LineReporter writes `accel_x: <value>` lines.
type LineReporter struct {
	W io.Writer
}

func (r LineReporter) Report(_ context.Context, sample accel.Sample) error {
	_, err := fmt.Fprintf(r.W, "accel_x: %d\n", sample)
	return err
}

type Opts struct {
	Period time.Duration
	// Limit stops the loop after that many iterations; 0 runs until cancelled.
	Limit  int
	Clock  clock.Clock
	Logger *slog.Logger
}

type Opt func(*Opts)

func WithPeriod(period time.Duration) Opt {
	return func(o *Opts) {
		o.Period = period
	}
}

func WithLimit(n int) Opt {
	return func(o *Opts) {
		o.Limit = n
	}
}

func WithClock(c clock.Clock) Opt {
	return func(o *Opts) {
		o.Clock = c
	}
}

func WithLogger(l *slog.Logger) Opt {
	return func(o *Opts) {
		o.Logger = l
	}
}

type Stats struct {
	Iterations int64
	Reported   int64
	Skipped    int64
}

type Sampler struct {
	source   Source
	reporter Reporter
	config   Opts

	iterations atomic.Int64
	reported   atomic.Int64
	skipped    atomic.Int64
}

func New(source Source, reporter Reporter, opts ...Opt) *Sampler {
	config := Opts{
		Period: 500 * time.Millisecond,
		Clock:  clock.New(),
		Logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &Sampler{source: source, reporter: reporter, config: config}
}

// Run samples until ctx is cancelled or the iteration limit is reached. It
// returns nil in both cases. Only errors that no later iteration can recover
// from end the loop early.
func (s *Sampler) Run(ctx context.Context) error {
	if s.config.Period <= 0 {
		return fmt.Errorf("%w: sampling period must be positive", accelx.ErrConfigInvalid)
	}
	defer func() {
		st := s.Stats()
		s.config.Logger.Info("sampling stopped", "iterations", st.Iterations, "reported", st.Reported, "skipped", st.Skipped)
	}()
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := s.iterate(ctx); err != nil {
			return err
		}
		if s.config.Limit > 0 && s.iterations.Load() >= int64(s.config.Limit) {
			return nil
		}
		timer := s.config.Clock.Timer(s.config.Period)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil
		}
	}
}

func (s *Sampler) iterate(ctx context.Context) error {
	s.iterations.Add(1)
	sample, err := s.source.ReadAccelX(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if Recoverable(err) {
			s.skipped.Add(1)
			s.config.Logger.Warn("sample skipped", "error", err)
			return nil
		}
		return fmt.Errorf("sampling aborted: %w", err)
	}
	if err := s.reporter.Report(ctx, sample); err != nil {
		return fmt.Errorf("could not report sample: %w", err)
	}
	s.reported.Add(1)
	return nil
}

func (s *Sampler) Stats() Stats {
	return Stats{
		Iterations: s.iterations.Load(),
		Reported:   s.reported.Load(),
		Skipped:    s.skipped.Load(),
	}
}

// Recoverable reports whether a failed bus operation can be skipped. Plan
// construction and session lifecycle errors are bugs and stop the loop.
func Recoverable(err error) bool {
	switch {
	case errors.Is(err, accelx.ErrInvalidPlan),
		errors.Is(err, accelx.ErrPlanConsumed),
		errors.Is(err, accelx.ErrNotInstalled),
		errors.Is(err, accelx.ErrConfigInvalid):
		return false
	}
	return true
}
