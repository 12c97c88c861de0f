package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMinMax(t *testing.T) {
	assert.Equal(t, 3, Min(3, 7))
	assert.Equal(t, 7, Max(3, 7))
}

func TestRoundupRounddown(t *testing.T) {
	assert.Equal(t, 16, Roundup(9, 8))
	assert.Equal(t, 8, Rounddown(9, 8))
	assert.Equal(t, 8, Roundup(8, 8))
}

func TestIsAligned(t *testing.T) {
	assert.True(t, IsAligned(16, 8))
	assert.False(t, IsAligned(17, 8))
}

func TestIsPowerOfTwo(t *testing.T) {
	assert.True(t, IsPowerOfTwo(64))
	assert.False(t, IsPowerOfTwo(63))
	assert.False(t, IsPowerOfTwo(0))
}

func TestCeilDiv(t *testing.T) {
	assert.Equal(t, 3, CeilDiv(5, 2))
	assert.Equal(t, 2, CeilDiv(4, 2))
}

func TestReadnWritenRoundTrip(t *testing.T) {
	buf := make([]uint8, 16)
	Writen(buf, 4, 4, 0xdeadbeef)
	assert.Equal(t, 0xdeadbeef, Readn(buf, 4, 4))

	Writen(buf, 2, 0, 0x1234)
	assert.Equal(t, 0x1234, Readn(buf, 2, 0))

	Writen(buf, 1, 15, 0x7f)
	assert.Equal(t, 0x7f, Readn(buf, 1, 15))
}

func TestReadnOutOfBoundsPanics(t *testing.T) {
	buf := make([]uint8, 4)
	assert.Panics(t, func() { Readn(buf, 4, 1) })
	assert.Panics(t, func() { Writen(buf, 8, 0, 1) })
}
