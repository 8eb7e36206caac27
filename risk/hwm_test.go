package risk

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHighWaterMarkNeverDecreases(t *testing.T) {
	hwm := HighWaterMark{Value: 50000}
	ts := time.Now()

	rng := rand.New(rand.NewSource(42))
	prev := hwm.Value
	for i := 0; i < 1000; i++ {
		equity := 48000 + rng.Float64()*6000
		hwm = hwm.Observe(equity, ts.Add(time.Duration(i)*time.Second))
		assert.GreaterOrEqual(t, hwm.Value, prev, "HWM must be non-decreasing")
		prev = hwm.Value
	}
}

func TestHighWaterMarkTracksNewPeak(t *testing.T) {
	hwm := HighWaterMark{Value: 50000}
	ts := time.Date(2025, 3, 11, 10, 0, 0, 0, time.UTC)

	hwm = hwm.Observe(50150, ts)
	assert.Equal(t, 50150.0, hwm.Value)
	assert.Equal(t, ts, hwm.ReachedAt)

	// A lower sample leaves both value and timestamp untouched.
	hwm = hwm.Observe(49000, ts.Add(time.Minute))
	assert.Equal(t, 50150.0, hwm.Value)
	assert.Equal(t, ts, hwm.ReachedAt)
}

func TestAdminResetIsTheOnlyWayDown(t *testing.T) {
	hwm := HighWaterMark{Value: 151000}
	ts := time.Now()

	hwm = hwm.Observe(149390, ts)
	assert.Equal(t, 151000.0, hwm.Value)

	hwm = AdminReset(150000, ts)
	assert.Equal(t, 150000.0, hwm.Value)
}
