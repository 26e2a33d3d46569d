package atomic_clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClock(t *testing.T) {
	t.Parallel()

	c := Now()
	tim := time.Now()
	const delta = 100 * time.Millisecond

	assert.False(t, c.IsZero())
	assert.InDelta(t, tim.UnixNano(), c.UnixNano(), float64(delta))
	assert.InDelta(t, tim.Unix(), c.Unix(), 1)

	c.SetTime(tim)
	assert.Equal(t, tim.UnixNano(), c.UnixNano())
	assert.True(t, tim.Equal(c.Time()))

	later := New(c.UnixNano() + int64(time.Second))
	assert.Equal(t, time.Second, later.Sub(c))

	c.SetNow()
	assert.True(t, Since(c) < delta)
	assert.True(t, New(0).IsZero())
}
