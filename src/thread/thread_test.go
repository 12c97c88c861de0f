package thread

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablekernel/src/defs"
)

func TestNewThreadSeedsRegisterFrame(t *testing.T) {
	th := New(1, 1, "init", 0x1000, 0x7fff0000)
	assert.Equal(t, Runnable, th.State())
	assert.True(t, th.KernelStackAlive)
	assert.EqualValues(t, 0x1000, th.Frame.Entry)
	assert.EqualValues(t, 0x7fff0000, th.Frame.UserSP)
	assert.EqualValues(t, 0x2, th.Frame.RFlags)
}

func TestWakeUpMakesThreadRunnableInstantly(t *testing.T) {
	th := New(1, 1, "t", 0, 0)
	th.SleepUntil(time.Now().Add(time.Hour))
	assert.Equal(t, Sleeping, th.State())

	th.WakeUp()
	assert.Equal(t, Runnable, th.State())
	assert.True(t, th.Deadline().IsZero())
}

func TestDeadlinePrefersEarlierAsyncDeadline(t *testing.T) {
	th := New(1, 1, "t", 0, 0)
	sleepUntil := time.Now().Add(time.Hour)
	th.SleepUntil(sleepUntil)

	asyncD := time.Now().Add(time.Minute)
	th.SetAsyncDeadline(asyncD)
	assert.Equal(t, asyncD, th.Deadline())

	th.ClearAsyncDeadline()
	assert.Equal(t, sleepUntil, th.Deadline())
}

func TestDestroyClearsStackAndWakesWaiters(t *testing.T) {
	th := New(1, 1, "t", 0, 0)
	ch := th.Wait()

	th.Destroy()

	select {
	case <-ch:
	default:
		t.Fatal("waiter was not woken on Destroy")
	}
	assert.Equal(t, Destroyed, th.State())
	assert.False(t, th.KernelStackAlive)
}

func TestWaitOnAlreadyDestroyedThreadReturnsClosedChannel(t *testing.T) {
	th := New(1, 1, "t", 0, 0)
	th.Destroy()
	ch := th.Wait()
	_, ok := <-ch
	assert.False(t, ok)
}

func TestSleepUntilOnDestroyedThreadFatal(t *testing.T) {
	th := New(1, 1, "t", 0, 0)
	th.Destroy()
	assert.Panics(t, func() { th.SleepUntil(time.Now()) })
}

func TestWakeUpOnDestroyedThreadIsNoop(t *testing.T) {
	th := New(1, 1, "t", 0, 0)
	th.Destroy()
	assert.NotPanics(t, func() { th.WakeUp() })
	assert.Equal(t, Destroyed, th.State())
}

func TestPidIsWeakBackReference(t *testing.T) {
	th := New(1, defs.Pid(42), "t", 0, 0)
	require.Equal(t, defs.Pid(42), th.Pid)
}
