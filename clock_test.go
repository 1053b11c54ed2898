package kvlite

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSystemClock_NowUnix_IsCurrent(t *testing.T) {
	t.Parallel()

	before := time.Now().UTC().Unix()
	got := SystemClock{}.NowUnix()
	after := time.Now().UTC().Unix()

	assert.GreaterOrEqual(t, got, before)
	assert.LessOrEqual(t, got, after)
}

func TestVirtualClock_AdvanceMovesForward(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewVirtualClock(start)

	assert.Equal(t, start.Unix(), clock.NowUnix())

	got := clock.Advance(90 * time.Second)
	assert.Equal(t, start.Unix()+90, got)
	assert.Equal(t, start.Unix()+90, clock.NowUnix())
}

func TestVirtualClock_AdvanceNegativeIsNoOp(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewVirtualClock(start)

	got := clock.Advance(-10 * time.Second)
	assert.Equal(t, start.Unix(), got, "the clock never moves backward")
}

func TestVirtualClock_Set(t *testing.T) {
	t.Parallel()

	clock := NewVirtualClock(time.Unix(0, 0))

	target := time.Date(2030, 6, 15, 12, 0, 0, 0, time.UTC)
	clock.Set(target)

	assert.Equal(t, target.Unix(), clock.NowUnix())
}
