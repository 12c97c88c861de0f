package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateRoundsUpToPowerOfTwo(t *testing.T) {
	a := New(NewBacking(64), 64, 1)
	f, err := a.Allocate(3, Hints{})
	require.NoError(t, err)
	assert.Equal(t, 4, f.Count)
}

func TestFreeCoalescesBuddies(t *testing.T) {
	a := New(NewBacking(16), 16, 1)
	f1, err := a.Allocate(8, Hints{})
	require.NoError(t, err)
	f2, err := a.Allocate(8, Hints{})
	require.NoError(t, err)

	a.Free(f1)
	a.Free(f2)

	// After freeing both halves, the whole arena should be allocatable again
	// as one run, proving the two 8-page buddies coalesced back to 16.
	whole, err := a.Allocate(16, Hints{})
	require.NoError(t, err)
	assert.Equal(t, 16, whole.Count)
}

func TestAllocateExhaustionReturnsOutOfMemory(t *testing.T) {
	a := New(NewBacking(4), 4, 1)
	_, err := a.Allocate(4, Hints{})
	require.NoError(t, err)

	_, err = a.Allocate(1, Hints{})
	require.Error(t, err)
	var ae *AllocateError
	require.ErrorAs(t, err, &ae)
}

func TestKVAddrOutOfRangeFatal(t *testing.T) {
	b := NewBacking(2)
	assert.Panics(t, func() { b.KVAddr(2) })
}

func TestFreeOfUnknownAllocationFatal(t *testing.T) {
	a := New(NewBacking(4), 4, 1)
	assert.Panics(t, func() { a.Free(PageFrame{Base: 99, Count: 1}) })
}
