package prioq

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueOrdersByKey(t *testing.T) {
	q := New[string](2, 0)
	for _, k := range []int64{5, 1, 4, 2, 3} {
		require.NoError(t, q.Push(k, string(rune('a'+k))))
	}

	var keys []int64
	for !q.Empty() {
		k, v := q.Pop()
		assert.Equal(t, string(rune('a'+k)), v)
		keys = append(keys, k)
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, keys)
}

func TestQueueRandomised(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	q := New[int](0, 0)
	var want []int64
	for i := 0; i < 1000; i++ {
		k := r.Int63n(500) - 250
		want = append(want, k)
		require.NoError(t, q.Push(k, i))
	}
	sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })

	for i := range want {
		k, _ := q.Pop()
		require.Equal(t, want[i], k)
	}
	assert.True(t, q.Empty())
}

func TestQueueCapacityCeiling(t *testing.T) {
	q := New[int](1, 3)
	require.NoError(t, q.Push(1, 1))
	require.NoError(t, q.Push(2, 2))
	require.NoError(t, q.Push(3, 3))
	assert.ErrorIs(t, q.Push(4, 4), ErrFull)
	assert.Equal(t, 3, q.Len())

	q.Pop()
	assert.NoError(t, q.Push(0, 0))
	k, _ := q.Peek()
	assert.Equal(t, int64(0), k)
}

func TestQueueFilter(t *testing.T) {
	q := New[int](0, 0)
	for i := int64(0); i < 10; i++ {
		require.NoError(t, q.Push(10-i, int(10-i)))
	}
	q.Filter(func(k int64, _ int) bool { return k%2 == 0 })
	assert.Equal(t, 5, q.Len())
	var got []int64
	for !q.Empty() {
		k, _ := q.Pop()
		got = append(got, k)
	}
	assert.Equal(t, []int64{2, 4, 6, 8, 10}, got)
}
