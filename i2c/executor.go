package i2c

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/mklimuk/accelx"
	"github.com/mklimuk/accelx/snsctx"
)

// Runner is a controller that executes a whole plan in hardware, the way
// command-link style controllers and kernel i2c-dev transfers do. Such
// transfers always abort on a missing ACK, so a Runner rejects plans with
// writes that tolerate one with ErrInvalidPlan.
type Runner interface {
	accelx.Driver
	Run(ctx context.Context, plan *Plan) ([]byte, error)
}

// Execute runs plan on the session within timeout and returns the bytes read.
// The timeout covers waiting for the bus as well as the transfer itself. A plan
// can be executed only once, whether or not it succeeds.
func (s *Session) Execute(ctx context.Context, plan *Plan, timeout time.Duration) ([]byte, error) {
	if plan == nil {
		return nil, fmt.Errorf("%w: nil plan", accelx.ErrInvalidPlan)
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: timeout must be positive, got %s", accelx.ErrConfigInvalid, timeout)
	}
	if !plan.consume() {
		return nil, accelx.ErrPlanConsumed
	}
	if s.isClosed() {
		return nil, accelx.ErrNotInstalled
	}

	txCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case <-s.sem:
	case <-txCtx.Done():
		return nil, s.classify(ctx, txCtx.Err(), plan)
	}
	defer func() { s.sem <- struct{}{} }()
	if s.isClosed() {
		return nil, accelx.ErrNotInstalled
	}

	var data []byte
	var err error
	switch d := s.driver.(type) {
	case Runner:
		data, err = d.Run(txCtx, plan)
	case accelx.Line:
		data, err = runLine(txCtx, d, plan)
	default:
		return nil, fmt.Errorf("driver %T can neither run plans nor drive bus primitives", s.driver)
	}
	if err != nil {
		return nil, s.classify(ctx, err, plan)
	}
	if snsctx.IsVerbose(ctx) {
		snsctx.Logger(ctx).Debug("transaction executed", "plan", plan.String(), "read", hex.EncodeToString(data))
	}
	return data, nil
}

func (s *Session) classify(parent context.Context, err error, plan *Plan) error {
	switch {
	case errors.Is(err, accelx.ErrTimeout):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		// the caller's own deadline expired, not the transaction budget
		if parent.Err() != nil {
			return parent.Err()
		}
		return fmt.Errorf("%w: address %#x", accelx.ErrTimeout, plan.Address())
	}
	return err
}

// runLine walks the plan in order against a primitive-level controller.
func runLine(ctx context.Context, line accelx.Line, plan *Plan) ([]byte, error) {
	data := make([]byte, 0, plan.ReadLen())
	for i, op := range plan.ops {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		switch op.Kind {
		case OpStart:
			if err := line.Start(ctx); err != nil {
				return nil, fmt.Errorf("start condition: %w", err)
			}
		case OpWrite:
			acked, err := line.WriteByte(ctx, op.Value)
			if err != nil {
				return nil, fmt.Errorf("write byte %d (%#02x): %w", i, op.Value, err)
			}
			if op.AckRequired && !acked {
				// release the bus before reporting
				_ = line.Stop(ctx)
				if i == 1 {
					return nil, fmt.Errorf("%w: address %#x", accelx.ErrNack, plan.address)
				}
				return nil, fmt.Errorf("%w: data byte %d (%#02x) to %#x", accelx.ErrNack, i-1, op.Value, plan.address)
			}
		case OpRead:
			b, err := line.ReadByte(ctx, !op.Last)
			if err != nil {
				return nil, fmt.Errorf("read byte %d: %w", len(data), err)
			}
			data = append(data, b)
		case OpStop:
			if err := line.Stop(ctx); err != nil {
				return nil, fmt.Errorf("stop condition: %w", err)
			}
		}
	}
	return data, nil
}
