package dedup

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdd_ReplayIsRejected(t *testing.T) {
	b := New(DefaultCapacity)
	assert.True(t, b.Add("a1"))
	assert.False(t, b.Add("a1"))
	assert.Equal(t, 1, b.Size())
}

func TestAdd_EvictsOldestWhenFull(t *testing.T) {
	b := New(3)
	for _, id := range []string{"a", "b", "c", "d"} {
		require.True(t, b.Add(id))
	}
	assert.Equal(t, 3, b.Size())

	// "a" fell out of the window; the rest are still remembered
	assert.False(t, b.Add("b"))
	assert.False(t, b.Add("d"))
	assert.True(t, b.Add("a"))
	// and re-adding "a" pushed out "b"
	assert.True(t, b.Add("b"))
}

func TestSize_NeverExceedsCapacity(t *testing.T) {
	b := New(10)
	for i := 0; i < 1000; i++ {
		b.Add(fmt.Sprintf("id-%d", i))
		require.LessOrEqual(t, b.Size(), b.Capacity())
	}
	assert.Equal(t, 10, b.Size())
	assert.Len(t, b.seen, 10)
}

func TestClear(t *testing.T) {
	b := New(4)
	b.Add("x")
	b.Add("y")
	b.Clear()
	assert.Equal(t, 0, b.Size())
	assert.True(t, b.Add("x"))
}

func TestNew_InvalidCapacityFallsBack(t *testing.T) {
	assert.Equal(t, DefaultCapacity, New(0).Capacity())
}
