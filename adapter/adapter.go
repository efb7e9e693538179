// Package adapter provides i2c.Runner implementations backed by real bus
// controllers: Linux i2c-dev through periph, gobot platform adaptors and the
// MCP2221 USB bridge.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"github.com/mklimuk/accelx"
	"github.com/mklimuk/accelx/i2c"
)

// exclusive serializes blocking hardware transfers. A transfer cannot be
// interrupted once handed to the kernel or the USB bridge, so a transfer that
// outlives its deadline keeps the adapter busy until it returns and later
// callers wait for it within their own deadline.
type exclusive struct {
	sem chan struct{}
}

func newExclusive() exclusive {
	e := exclusive{sem: make(chan struct{}, 1)}
	e.sem <- struct{}{}
	return e
}

type result struct {
	data []byte
	err  error
}

func (e exclusive) do(ctx context.Context, fn func() ([]byte, error)) ([]byte, error) {
	select {
	case <-e.sem:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	done := make(chan result, 1)
	go func() {
		defer func() { e.sem <- struct{}{} }()
		data, err := fn()
		done <- result{data: data, err: err}
	}()
	select {
	case res := <-done:
		return res.data, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// buffers returns the write and read buffers of a single combined transfer.
// Address-only write plans become a one byte read which is discarded, the way
// i2cdetect probes addresses where quick writes are unavailable. Combined
// transfers abort on the first missing ACK, so plans tolerating one are
// rejected.
func buffers(plan *i2c.Plan) (w []byte, r []byte, probe bool, err error) {
	for _, op := range plan.Ops() {
		if op.Kind == i2c.OpWrite && !op.AckRequired {
			return nil, nil, false, fmt.Errorf("%w: %s: adapter cannot ignore a missing ACK", accelx.ErrInvalidPlan, op)
		}
	}
	if plan.Direction() == accelx.Read {
		return nil, make([]byte, plan.ReadLen()), false, nil
	}
	w = plan.WriteData()
	if len(w) == 0 {
		return nil, make([]byte, 1), true, nil
	}
	return w, nil, false, nil
}

// mapErrno translates errors reported by the kernel i2c layer.
func mapErrno(err error, address byte) error {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return err
	}
	switch errno {
	case syscall.ENXIO, syscall.EREMOTEIO:
		return fmt.Errorf("%w: address %#x: %w", accelx.ErrNack, address, err)
	case syscall.ETIMEDOUT:
		return fmt.Errorf("%w: address %#x: %w", accelx.ErrTimeout, address, err)
	case syscall.EBUSY, syscall.EAGAIN:
		return fmt.Errorf("%w: %w", accelx.ErrBusBusy, err)
	}
	return err
}
