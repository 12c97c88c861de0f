// Package ticket implements §4.4's Ticket/TicketWaker pair, the kernel's
// single asynchronous primitive. A Ticket[T] is a one-shot completion cell:
// Pending with at most one registered waker, then Complete(Result[T]).
// The producer holds the unique TicketWaker[T] (the completion capability);
// the consumer holds the unique Ticket[T] (the receipt). Neither half is
// cloneable — Go enforces this by convention (both are single-field struct
// wrappers around a shared cell) since the compiler has no move-semantics
// to enforce it structurally the way the source language would.
//
// There is no executor here: per §9, the scheduler itself is the executor.
// A waker is typed as "wake a specific Thread", not a general callback.
package ticket

import (
	"sync"
	"time"

	"tablekernel/src/caller"
	"tablekernel/src/defs"
)

// Waker is the narrow interface a Ticket uses to notify a parked consumer.
// sched.Thread implements this by setting its sleep deadline to zero. It is
// intentionally not a func() callback: §9 requires wakers to be typed as
// "wake a specific Thread", not a general-purpose async facility.
type Waker interface {
	WakeUp()
}

// Result carries either a value or an ErrKind, matching the Ticket's single
// completion payload.
type Result[T any] struct {
	Value T
	Err   defs.ErrKind
}

// Ok wraps v as a successful Result.
func Ok[T any](v T) Result[T] { return Result[T]{Value: v} }

// Fail wraps an error kind as a failed Result.
func Fail[T any](e defs.ErrKind) Result[T] {
	if e == defs.EOK {
		caller.Fatal("ticket.Fail called with EOK")
	}
	return Result[T]{Err: e}
}

type cell[T any] struct {
	mu        sync.Mutex
	done      bool
	completed bool // true once complete() has been called, even if Ticket was dropped
	abandoned bool // consumer's deadline fired; a later complete() is discarded
	result    Result[T]
	waker     Waker
	doneCh    chan struct{}
}

// Ticket is the consumer's one-shot receipt for an asynchronous operation.
type Ticket[T any] struct {
	c *cell[T]
}

// TicketWaker is the producer's unique capability to resolve a Ticket.
type TicketWaker[T any] struct {
	c *cell[T]
}

// New returns a pending Ticket and its paired TicketWaker.
func New[T any]() (Ticket[T], TicketWaker[T]) {
	c := &cell[T]{}
	return Ticket[T]{c: c}, TicketWaker[T]{c: c}
}

// NewComplete returns a Ticket that is already resolved with result.
func NewComplete[T any](result Result[T]) Ticket[T] {
	c := &cell[T]{done: true, completed: true, result: result}
	return Ticket[T]{c: c}
}

// Poll registers w as the ticket's waker and reports whether the ticket is
// already complete. Per the invariant in §3 ("at most one registered
// waker"), calling Poll twice with a different waker is a Fatal — the
// consumer contract (§4.4) is to register once, then park.
func (t Ticket[T]) Poll(w Waker) (Result[T], bool) {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.c.done {
		return t.c.result, true
	}
	if t.c.waker != nil && t.c.waker != w {
		caller.Fatal("ticket: Poll called twice with distinct wakers")
	}
	t.c.waker = w
	return Result[T]{}, false
}

// Ready reports whether the ticket is already resolved, without registering
// a waker. Used by synchronous fast paths that want to avoid a park.
func (t Ticket[T]) Ready() (Result[T], bool) {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	return t.c.result, t.c.done
}

// Wait implements the consumer contract of §4.4 for this module's
// simulation boundary (§A): it registers w as the ticket's waker (so
// scheduler bookkeeping -- e.g. a thread.Thread's WakeUp -- still fires
// exactly as it would for a real park/wake cycle) and then blocks the
// calling goroutine until the ticket completes. Each syscall-dispatching
// goroutine stands in for one kernel thread's execution in this
// simulation, so blocking the goroutine here is the direct analogue of
// "the caller thread parks on the ticket and yields" (§2) without needing
// a real cooperative scheduler loop to hand the CPU to another thread.
func (t Ticket[T]) Wait(w Waker) Result[T] {
	t.c.mu.Lock()
	if t.c.done {
		res := t.c.result
		t.c.mu.Unlock()
		return res
	}
	if t.c.waker != nil && t.c.waker != w {
		t.c.mu.Unlock()
		caller.Fatal("ticket: Wait called twice with distinct wakers")
	}
	t.c.waker = w
	if t.c.doneCh == nil {
		t.c.doneCh = make(chan struct{})
	}
	ch := t.c.doneCh
	t.c.mu.Unlock()

	<-ch

	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	return t.c.result
}

// WaitUntil is Wait honoring the calling thread's async_deadline (§4.5:
// "the scheduler's wake-on-deadline path causes the Ticket to observe
// Cancelled"). If deadline passes before the producer completes, the
// ticket resolves Cancelled for its consumer and is marked abandoned: the
// producer's eventual Complete is discarded rather than fatal, exactly as
// if the Ticket had been dropped. A zero deadline means no timeout.
func (t Ticket[T]) WaitUntil(w Waker, deadline time.Time) Result[T] {
	if deadline.IsZero() {
		return t.Wait(w)
	}
	t.c.mu.Lock()
	if t.c.done {
		res := t.c.result
		t.c.mu.Unlock()
		return res
	}
	if t.c.waker != nil && t.c.waker != w {
		t.c.mu.Unlock()
		caller.Fatal("ticket: WaitUntil called twice with distinct wakers")
	}
	t.c.waker = w
	if t.c.doneCh == nil {
		t.c.doneCh = make(chan struct{})
	}
	ch := t.c.doneCh
	t.c.mu.Unlock()

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case <-ch:
		t.c.mu.Lock()
		defer t.c.mu.Unlock()
		return t.c.result
	case <-timer.C:
	}

	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.c.done {
		// completion raced the deadline; the result won.
		return t.c.result
	}
	t.c.abandoned = true
	t.c.done = true
	t.c.result = Fail[T](defs.ECancelled)
	t.c.waker = nil
	return t.c.result
}

// complete resolves the ticket exactly once, firing any registered waker.
// isr selects the lock-free-at-interrupt-time completion path used by
// CompleteISR: §4.4 requires that variant never acquire a sleeping lock,
// which cell's plain sync.Mutex is not (it never blocks longer than the
// two or three stores guarded here), so both paths share this body.
func (c *cell[T]) complete(result Result[T]) {
	c.mu.Lock()
	if c.completed {
		c.mu.Unlock()
		caller.Fatal("ticket: double complete")
	}
	c.completed = true
	if c.abandoned {
		// the consumer already observed Cancelled via its async deadline
		// (§4.5); the result is discarded, same as completing a dropped
		// Ticket.
		c.mu.Unlock()
		return
	}
	c.done = true
	c.result = result
	w := c.waker
	c.waker = nil
	ch := c.doneCh
	c.mu.Unlock()
	if w != nil {
		w.WakeUp()
	}
	if ch != nil {
		close(ch)
	}
}

// Complete resolves the ticket. May be called from any context except an
// interrupt handler; interrupt handlers must use CompleteISR.
func (w TicketWaker[T]) Complete(result Result[T]) {
	w.c.complete(result)
}

// CompleteISR is Complete's interrupt-safe variant: it is guaranteed not to
// acquire any lock that could be held by a thread currently parked (§4.4).
// cell's mutex is only ever held for a handful of stores with no possible
// suspension point inside the critical section, so it is ISR-safe as-is;
// this entry point exists so call sites self-document which context they
// run in and cmd/suspendcheck can special-case it.
func (w TicketWaker[T]) CompleteISR(result Result[T]) {
	w.c.complete(result)
}

// Cancel resolves the ticket with ECancelled, as if the TicketWaker had
// been dropped without completion (§4.4 "a Ticket whose TicketWaker is
// dropped without completion fails with Cancelled").
func (w TicketWaker[T]) Cancel() {
	w.c.mu.Lock()
	if w.c.completed {
		w.c.mu.Unlock()
		return
	}
	w.c.mu.Unlock()
	w.c.complete(Fail[T](defs.ECancelled))
}
