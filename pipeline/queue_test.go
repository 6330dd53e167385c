package pipeline

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestQueueOrder(t *testing.T) {
	q := newQueue[int](3)
	for i := range 3 {
		require.NoError(t, q.push(i))
	}
	require.Equal(t, 3, q.len())

	var got []int
	for range 3 {
		v, ok := q.pop()
		require.True(t, ok)
		got = append(got, v)
	}
	if diff := cmp.Diff([]int{0, 1, 2}, got); diff != "" {
		t.Errorf("reihenfolge (-erwartet +bekommen):\n%s", diff)
	}
	require.Equal(t, 3, q.highWater())
}

func TestQueuePushBlocksWhenFull(t *testing.T) {
	q := newQueue[int](1)
	require.NoError(t, q.push(1))

	done := make(chan error, 1)
	go func() { done <- q.push(2) }()

	select {
	case <-done:
		t.Fatal("push auf voller Queue hat nicht blockiert")
	case <-time.After(20 * time.Millisecond):
	}

	v, ok := q.pop()
	require.True(t, ok)
	require.Equal(t, 1, v)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("push wurde nach pop nicht fortgesetzt")
	}
	require.Equal(t, 1, q.highWater())
}

func TestQueueClose(t *testing.T) {
	q := newQueue[int](2)
	require.NoError(t, q.push(7))

	popped := make(chan bool, 1)
	empty := newQueue[int](1)
	go func() {
		_, ok := empty.pop()
		popped <- ok
	}()

	q.close()
	empty.close()

	select {
	case ok := <-popped:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("close hat wartendes pop nicht geweckt")
	}

	// Queued items survive close.
	v, ok := q.pop()
	require.True(t, ok)
	require.Equal(t, 7, v)

	_, ok = q.pop()
	require.False(t, ok)
	require.ErrorIs(t, q.push(8), errQueueClosed)
}

func TestQueueDrain(t *testing.T) {
	q := newQueue[string](4)
	require.NoError(t, q.push("a"))
	require.NoError(t, q.push("b"))

	require.Equal(t, []string{"a", "b"}, q.drain())
	require.Zero(t, q.len())
	require.Equal(t, 2, q.highWater())
}

func TestQueueBatches(t *testing.T) {
	q := newQueue[*batch](2)
	a, b := &batch{seq: 0}, &batch{seq: 1}
	require.NoError(t, q.push(a))
	require.NoError(t, q.push(b))

	v, ok := q.pop()
	require.True(t, ok)
	require.Same(t, a, v)
	require.Equal(t, []*batch{b}, q.drain())

	q.close()
	v, ok = q.pop()
	require.False(t, ok)
	require.Nil(t, v)
}
