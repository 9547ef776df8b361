package coordination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSlotScheduleIsDeterministic(t *testing.T) {
	now := time.UnixMilli(0)
	clock := func() time.Time { return now }

	r := NewRotation("med-b", 10*time.Second, 100, WithRotationClock(clock))
	r.SetValidators([]string{"med-c", "med-a", "med-b"}) // sorted: a, b, c
	r.SetStake(500)

	// Slot 0 belongs to med-a.
	assert.Equal(t, "med-a", r.SlotHolder())
	assert.False(t, r.ShouldMediate())

	now = now.Add(10 * time.Second)
	assert.Equal(t, "med-b", r.SlotHolder())
	assert.True(t, r.ShouldMediate())

	now = now.Add(10 * time.Second)
	assert.Equal(t, "med-c", r.SlotHolder())

	// Wraps around.
	now = now.Add(10 * time.Second)
	assert.Equal(t, "med-a", r.SlotHolder())
	assert.Equal(t, 1, r.SlotsHeld())
}

func TestStakeFloorGatesSlot(t *testing.T) {
	now := time.UnixMilli(0)
	r := NewRotation("solo", 10*time.Second, 100, WithRotationClock(func() time.Time { return now }))
	r.SetValidators([]string{"solo"})

	r.SetStake(99)
	assert.False(t, r.ShouldMediate())

	r.SetStake(100)
	assert.True(t, r.ShouldMediate())
}

func TestEmptyValidatorSetRefuses(t *testing.T) {
	r := NewRotation("solo", 10*time.Second, 0)
	r.SetStake(1000)
	assert.Empty(t, r.SlotHolder())
	assert.False(t, r.ShouldMediate())
}
