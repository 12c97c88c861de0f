package sched

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablekernel/src/thread"
)

func TestAddMakesThreadImmediatelyNextable(t *testing.T) {
	s := New()
	th := thread.New(1, 1, "t", 0, 0)
	s.Add(th)

	got := s.Next()
	assert.Same(t, th, got)
	assert.Equal(t, 1, s.Count())
}

func TestNextOrdersByEarliestDeadline(t *testing.T) {
	s := New()
	late := thread.New(1, 1, "late", 0, 0)
	early := thread.New(2, 1, "early", 0, 0)

	s.Sleep(late, time.Now().Add(200*time.Millisecond))
	s.Sleep(early, time.Now().Add(10*time.Millisecond))

	got := s.Next()
	assert.Same(t, early, got)
}

func TestRemoveDropsThreadFromReadyQueue(t *testing.T) {
	s := New()
	th := thread.New(1, 1, "t", 0, 0)
	s.Add(th)
	s.Remove(th.Tid)
	assert.Equal(t, 0, s.Count())
}

func TestNextSkipsDestroyedThread(t *testing.T) {
	s := New()
	dead := thread.New(1, 1, "dead", 0, 0)
	alive := thread.New(2, 1, "alive", 0, 0)
	s.Add(dead)
	dead.Destroy()
	s.Add(alive)

	got := s.Next()
	assert.Same(t, alive, got)
}

func TestAssertNotDestroyedPanicsOnDeadThread(t *testing.T) {
	th := thread.New(1, 1, "t", 0, 0)
	th.Destroy()
	assert.Panics(t, func() { AssertNotDestroyed(th) })
}

func TestAssertNotDestroyedOkOnLiveThread(t *testing.T) {
	th := thread.New(1, 1, "t", 0, 0)
	require.NotPanics(t, func() { AssertNotDestroyed(th) })
}
