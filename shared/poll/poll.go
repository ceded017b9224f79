// Package poll waits for externally observable conditions that offer no notification mechanism.
package poll

import (
	"fmt"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/strategy"
	"golang.org/x/sys/unix"
)

// ErrTimeout is returned when the condition did not become true within the allowed time.
var ErrTimeout = fmt.Errorf("Timed out")

var errNotReady = fmt.Errorf("Not ready")

// Clock is a monotonic time source.
type Clock interface {
	// Now returns the time elapsed since an arbitrary fixed point.
	Now() time.Duration
}

type bootTime struct{}

// BootTime is a Clock backed by CLOCK_BOOTTIME. It keeps counting while suspended and is not
// affected by changes to the wall clock.
var BootTime Clock = bootTime{}

var processStart = time.Now()

func (bootTime) Now() time.Duration {
	var ts unix.Timespec

	err := unix.ClockGettime(unix.CLOCK_BOOTTIME, &ts)
	if err != nil {
		// time.Since uses the runtime monotonic clock.
		return time.Since(processStart)
	}

	return time.Duration(ts.Nano())
}

// deadline returns a strategy allowing further attempts until timeout has elapsed on clock.
func deadline(clock Clock, timeout time.Duration) strategy.Strategy {
	start := clock.Now()

	return func(attempt uint) bool {
		if attempt == 0 {
			return true
		}

		return clock.Now()-start <= timeout
	}
}

// Until evaluates ready every interval until it returns true or timeout has elapsed on clock.
// The first evaluation happens immediately.
func Until(clock Clock, interval time.Duration, timeout time.Duration, ready func() bool) error {
	err := retry.Retry(func(attempt uint) error {
		if ready() {
			return nil
		}

		return errNotReady
	}, strategy.Wait(interval), deadline(clock, timeout))
	if err != nil {
		return fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}

	return nil
}
