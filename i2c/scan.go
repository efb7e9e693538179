package i2c

import (
	"context"
	"errors"
	"time"

	"github.com/mklimuk/accelx"
)

// Addresses outside this range are reserved.
const (
	FirstScanAddress = 0x08
	LastScanAddress  = 0x77
)

// Scan probes every non-reserved address with an address-only write and
// returns the ones that acknowledged. Each probe gets its own timeout; a probe
// that times out is reported as absent.
func (s *Session) Scan(ctx context.Context, timeout time.Duration) ([]byte, error) {
	var found []byte
	for addr := byte(FirstScanAddress); addr <= LastScanAddress; addr++ {
		if err := ctx.Err(); err != nil {
			return found, err
		}
		plan, err := Probe(addr)
		if err != nil {
			return found, err
		}
		_, err = s.Execute(ctx, plan, timeout)
		switch {
		case err == nil:
			found = append(found, addr)
		case errors.Is(err, accelx.ErrNack), errors.Is(err, accelx.ErrTimeout):
		default:
			return found, err
		}
	}
	return found, nil
}
