// Package thread implements §3's Thread: a kernel stack, a user-stack
// pointer, a sleep deadline, an optional async-deadline override, a wake
// list, and an architecture-neutral register frame. Lifecycle: Running ->
// Sleeping(deadline) -> Runnable -> Destroyed.
//
// Grounded on the teacher's Tnote_t/Threadinfo_t (biscuit/src/tinfo), with
// the per-goroutine runtime.Gptr() "current thread" trick replaced by an
// explicit *Thread threaded through sched/ticket call sites — this module
// targets the ordinary Go scheduler (§A), not a forked runtime, so there is
// no architecture pointer to stash a thread note behind.
package thread

import (
	"sync"
	"time"

	"tablekernel/src/accnt"
	"tablekernel/src/caller"
	"tablekernel/src/defs"
)

// State is a Thread's lifecycle state (§3).
type State int

const (
	Running State = iota
	Sleeping
	Runnable
	Destroyed
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Sleeping:
		return "sleeping"
	case Runnable:
		return "runnable"
	case Destroyed:
		return "destroyed"
	default:
		return "state(?)"
	}
}

// RegisterFrame is the architecture-neutral synthetic iret frame seeded at
// thread creation (supplemented feature E.4, grounded on norost-b's
// thread.rs::new): stack segment/pointer, flags, code segment, instruction
// pointer, and the general-purpose registers an iretq would restore. No
// real iretq executes under the simulation boundary (§A); Entry/UserSP are
// what a real context switch would load into rip/rsp.
type RegisterFrame struct {
	Entry   uintptr // initial rip
	UserSP  uintptr // initial rsp, ring-3
	RFlags  uint64  // 0x2: interrupts initially off, entry point re-enables
	Handle  defs.Handle // saved rax: handle passed to a fresh thread, e.g. from share()
	GPRegs  [14]uint64  // remaining general-purpose registers, zeroed at creation
}

// Thread is one schedulable unit of execution within a Process.
type Thread struct {
	Tid  defs.Tid
	Pid  defs.Pid // weak back-reference; no strong Process pointer (§9 "Cyclic Process<->Thread")
	Name string

	Frame RegisterFrame

	KernelStackAlive bool // kernel stack page mapping live, per Testable Property 5

	mu             sync.Mutex
	state          State
	sleepUntil     time.Time  // zero means "not sleeping" / "sleep forever"
	asyncDeadline  *time.Time // per-ticket timeout override, §4.5 "Cancellation"
	waiters        []chan struct{}
	accnt          accnt.Accnt_t
	runningSince   time.Time
}

// New creates a thread with a seeded RegisterFrame, matching the teacher's
// thread.rs::new synthetic iret frame (supplemented feature E.4): rflags is
// 0x2 (interrupts off; the entry point is responsible for re-enabling them).
func New(tid defs.Tid, pid defs.Pid, name string, entry, userSP uintptr) *Thread {
	return &Thread{
		Tid:              tid,
		Pid:              pid,
		Name:             name,
		KernelStackAlive: true,
		state:            Runnable,
		Frame: RegisterFrame{
			Entry:  entry,
			UserSP: userSP,
			RFlags: 0x2,
		},
	}
}

// State returns the thread's current lifecycle state.
func (t *Thread) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SleepUntil puts the thread to sleep until deadline (time.Time{} for
// "forever", matching Duration::MAX in §4.4's consumer contract: "a thread
// blocks by calling sleep(Duration::MAX)").
func (t *Thread) SleepUntil(deadline time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Destroyed {
		caller.Fatal("SleepUntil on destroyed thread")
	}
	t.state = Sleeping
	t.sleepUntil = deadline
}

// SetAsyncDeadline installs a timeout for the next suspension point. §4.5:
// "A timeout on a Ticket is implemented by the caller setting its thread's
// async_deadline before parking; the scheduler's wake-on-deadline path
// causes the Ticket to observe Cancelled."
func (t *Thread) SetAsyncDeadline(d time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.asyncDeadline = &d
}

// ClearAsyncDeadline removes any pending per-ticket timeout.
func (t *Thread) ClearAsyncDeadline() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.asyncDeadline = nil
}

// AsyncDeadline reports the thread's current async deadline override, if any.
func (t *Thread) AsyncDeadline() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.asyncDeadline == nil {
		return time.Time{}, false
	}
	return *t.asyncDeadline, true
}

// Deadline returns the earlier of sleepUntil and any async deadline; the
// scheduler wakes the thread when now >= Deadline(). A zero sleepUntil
// alone means "sleep forever"; asyncDeadline, if set, still fires.
func (t *Thread) Deadline() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	d := t.sleepUntil
	if t.asyncDeadline != nil && (d.IsZero() || t.asyncDeadline.Before(d)) {
		d = *t.asyncDeadline
	}
	return d
}

// WakeUp marks the thread instantly runnable. This is the Waker contract
// ticket.Waker requires (§4.4: "the waker sets the thread's sleep deadline
// to zero, making it instantly runnable" -- here "runnable now" is
// represented as Runnable with sleepUntil in the past).
func (t *Thread) WakeUp() {
	t.mu.Lock()
	if t.state == Destroyed {
		t.mu.Unlock()
		return
	}
	t.state = Runnable
	t.sleepUntil = time.Time{}
	t.asyncDeadline = nil
	waiters := t.waiters
	t.waiters = nil
	t.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}
}

// MarkRunning records that the thread has been dispatched by the scheduler.
func (t *Thread) MarkRunning() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = Running
	t.runningSince = time.Now()
}

// Accounting returns the thread's CPU-time accumulator.
func (t *Thread) Accounting() *accnt.Accnt_t {
	return &t.accnt
}

// Wait registers a waiter channel, woken when the thread is destroyed. This
// backs sched's `wait()` on a thread (§4.5): "the current thread registers
// its waker and sleeps with Duration::MAX until the target destroys."
func (t *Thread) Wait() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan struct{})
	if t.state == Destroyed {
		close(ch)
		return ch
	}
	t.waiters = append(t.waiters, ch)
	return ch
}

// Destroy unmaps the thread's kernel stack and wakes all waiters (§4.5).
// Safety: the caller must guarantee no CPU is currently executing on this
// thread's stack -- Destroy does not and cannot verify that itself.
func (t *Thread) Destroy() {
	t.mu.Lock()
	if t.state == Destroyed {
		t.mu.Unlock()
		return
	}
	t.state = Destroyed
	t.KernelStackAlive = false
	waiters := t.waiters
	t.waiters = nil
	t.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}
}
