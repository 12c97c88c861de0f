package lock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIRQSpinWithMutatesValue(t *testing.T) {
	l := NewIRQSpin(0)
	l.With(func(v *int) { *v = 7 })
	got := 0
	l.With(func(v *int) { got = *v })
	assert.Equal(t, 7, got)
}

func TestIRQSpinDoubleLockFatal(t *testing.T) {
	l := NewIRQSpin(0)
	l.lock()
	assert.Panics(t, func() { l.lock() })
}

func TestIRQSpinUnlockUnheldFatal(t *testing.T) {
	l := NewIRQSpin(0)
	assert.Panics(t, func() { l.unlock() })
}

func TestIRQSpinAssertHeld(t *testing.T) {
	l := NewIRQSpin(0)
	assert.Panics(t, func() { l.AssertHeld() })
	l.lock()
	assert.NotPanics(t, func() { l.AssertHeld() })
}

func TestWithErrPropagatesResult(t *testing.T) {
	l := NewIRQSpin("x")
	v, err := WithErr(l, func(s *string) (int, error) {
		return len(*s), nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestSleepMutexSerializesAccess(t *testing.T) {
	m := NewSleepMutex(0)
	done := make(chan struct{})
	go func() {
		m.With(func(v *int) { *v++ })
		close(done)
	}()
	<-done
	m.With(func(v *int) { assert.Equal(t, 1, *v) })
}
