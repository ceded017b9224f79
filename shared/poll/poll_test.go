package poll_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canonical/vold/shared/poll"
)

// fakeClock advances by step every time it is read.
type fakeClock struct {
	now  time.Duration
	step time.Duration
}

func (c *fakeClock) Now() time.Duration {
	c.now += c.step
	return c.now
}

func TestUntilImmediate(t *testing.T) {
	calls := 0
	err := poll.Until(&fakeClock{step: time.Second}, time.Millisecond, time.Second, func() bool {
		calls++
		return true
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestUntilEventually(t *testing.T) {
	calls := 0
	err := poll.Until(&fakeClock{step: 10 * time.Millisecond}, time.Millisecond, time.Second, func() bool {
		calls++
		return calls == 3
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestUntilTimeoutFakeClock(t *testing.T) {
	clock := &fakeClock{step: 100 * time.Millisecond}
	calls := 0
	err := poll.Until(clock, time.Millisecond, 500*time.Millisecond, func() bool {
		calls++
		return false
	})

	assert.True(t, errors.Is(err, poll.ErrTimeout))
	assert.Equal(t, 6, calls)
}

func TestUntilTimeoutBootTime(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping 5s timeout test in short mode")
	}

	start := poll.BootTime.Now()
	err := poll.Until(poll.BootTime, 50*time.Millisecond, 5*time.Second, func() bool { return false })
	elapsed := poll.BootTime.Now() - start

	assert.ErrorIs(t, err, poll.ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, 5*time.Second)
	assert.LessOrEqual(t, elapsed, 5200*time.Millisecond)
}

func TestBootTimeMonotonic(t *testing.T) {
	first := poll.BootTime.Now()
	time.Sleep(time.Millisecond)
	assert.Greater(t, poll.BootTime.Now(), first)
}
