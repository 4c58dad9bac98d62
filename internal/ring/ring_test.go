package ring

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverflowKeepsMostRecentInArrivalOrder(t *testing.T) {
	const capacity = 5
	b := New[int](capacity)

	for i := 0; i < capacity; i++ {
		_, evicted := b.Push(i)
		require.False(t, evicted)
	}
	old, evicted := b.Push(capacity)
	require.True(t, evicted)
	assert.Equal(t, 0, old)

	assert.Equal(t, []int{1, 2, 3, 4, 5}, b.Snapshot())
	assert.Equal(t, capacity, b.Len())
	assert.Equal(t, uint64(1), b.Dropped())
}

func TestPopFrontIsFIFO(t *testing.T) {
	b := New[string](3)
	b.Push("a")
	b.Push("b")
	b.Push("c")
	b.Push("d")

	got := []string{}
	for {
		v, ok := b.PopFront()
		if !ok {
			break
		}
		got = append(got, v)
	}
	assert.Equal(t, []string{"b", "c", "d"}, got)
	assert.Zero(t, b.Len())
}

func TestTailAndLast(t *testing.T) {
	b := New[int](4)
	_, ok := b.Last()
	assert.False(t, ok)
	assert.Empty(t, b.Tail(3))

	for i := 1; i <= 6; i++ {
		b.Push(i)
	}
	assert.Equal(t, []int{5, 6}, b.Tail(2))
	assert.Equal(t, []int{3, 4, 5, 6}, b.Tail(10))

	last, ok := b.Last()
	require.True(t, ok)
	assert.Equal(t, 6, last)
}

func TestClearPreservesCapacity(t *testing.T) {
	b := New[int](2)
	b.Push(1)
	b.Push(2)
	b.Clear()

	assert.Zero(t, b.Len())
	b.Push(3)
	assert.Equal(t, []int{3}, b.Snapshot())
	assert.Equal(t, 2, b.Cap())
}

func TestZeroCapacityIsRaised(t *testing.T) {
	b := New[int](0)
	b.Push(1)
	b.Push(2)
	assert.Equal(t, []int{2}, b.Snapshot())
}

func TestConcurrentPush(t *testing.T) {
	b := New[int](100)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				b.Push(i)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, b.Len())
	assert.Equal(t, uint64(300), b.Dropped())
}
