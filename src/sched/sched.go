// Package sched implements §4.5's scheduler: a single-CPU ready queue
// ordered by wake-deadline. next_thread() pops the earliest thread whose
// sleep deadline has passed; if none is ready the caller is expected to
// halt (here: block on a channel) until the next wake event.
//
// Suspension points are exactly Ticket park, Sleep, and Table.TakeJob
// (§4.5); every other kernel operation is expected to run to completion
// without reaching into this package.
package sched

import (
	"container/heap"
	"sync"
	"time"

	"tablekernel/src/caller"
	"tablekernel/src/defs"
	"tablekernel/src/thread"
)

type entry struct {
	t        *thread.Thread
	deadline time.Time
}

type readyHeap []entry

func (h readyHeap) Len() int { return len(h) }
func (h readyHeap) Less(i, j int) bool {
	return h[i].deadline.Before(h[j].deadline)
}
func (h readyHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *readyHeap) Push(x any)        { *h = append(*h, x.(entry)) }
func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Sched is one CPU's scheduler instance. §5: "single-CPU ... any data
// structure may assume no true concurrent mutation from another CPU, only
// interrupt preemption" -- mu exists to serialize goroutines standing in
// for interrupt handlers, not for cross-CPU safety.
type Sched struct {
	mu      sync.Mutex
	ready   readyHeap
	wake    chan struct{}
	threads map[defs.Tid]*thread.Thread
}

// New returns an empty scheduler.
func New() *Sched {
	return &Sched{
		wake:    make(chan struct{}, 1),
		threads: make(map[defs.Tid]*thread.Thread),
	}
}

func (s *Sched) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Add registers t with the scheduler as runnable now.
func (s *Sched) Add(t *thread.Thread) {
	s.mu.Lock()
	s.threads[t.Tid] = t
	heap.Push(&s.ready, entry{t: t, deadline: time.Time{}})
	s.mu.Unlock()
	s.poke()
}

// Requeue re-inserts t at its current deadline; called whenever a thread's
// Deadline() may have changed (after WakeUp, after SleepUntil).
func (s *Sched) Requeue(t *thread.Thread) {
	s.mu.Lock()
	heap.Push(&s.ready, entry{t: t, deadline: t.Deadline()})
	s.mu.Unlock()
	s.poke()
}

// Remove drops t from scheduling, used by Destroy's caller once the thread
// is known dead; a destroyed thread left in the ready heap would otherwise
// violate Testable Property 5 ("destroyed threads have ... no references
// in the ready queue").
func (s *Sched) Remove(tid defs.Tid) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threads, tid)
	out := s.ready[:0]
	for _, e := range s.ready {
		if e.t.Tid != tid {
			out = append(out, e)
		}
	}
	s.ready = out
}

// Next pops the earliest thread whose deadline has passed, blocking (this
// goroutine's stand-in for "the CPU halts") until one becomes ready. A
// destroyed thread popped from the heap (raced with Destroy) is skipped.
func (s *Sched) Next() *thread.Thread {
	for {
		s.mu.Lock()
		now := time.Now()
		for len(s.ready) > 0 {
			top := s.ready[0]
			if top.deadline.After(now) {
				break
			}
			heap.Pop(&s.ready)
			if top.t.State() == thread.Destroyed {
				continue
			}
			s.mu.Unlock()
			top.t.MarkRunning()
			return top.t
		}
		var wait time.Duration
		if len(s.ready) > 0 {
			wait = s.ready[0].deadline.Sub(now)
		} else {
			wait = 50 * time.Millisecond
		}
		s.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-s.wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// Sleep parks the calling thread t until deadline, then re-registers it as
// runnable. This is one of the three suspension points (§4.5).
func (s *Sched) Sleep(t *thread.Thread, deadline time.Time) {
	t.SleepUntil(deadline)
	s.Requeue(t)
}

// Park is the Ticket-park suspension point: t registers itself as the
// ticket's waker (via ticket.Poll, by the caller) and then parks here until
// WakeUp fires. Callers pass Duration::MAX-equivalent (time.Time{}) as the
// deadline unless an async_deadline is already set on t.
func (s *Sched) Park(t *thread.Thread) {
	deadline := t.Deadline()
	s.Sleep(t, deadline)
}

// Count reports the number of threads known to the scheduler, for tests and
// diagnostics.
func (s *Sched) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.threads)
}

// AssertNotDestroyed panics (via caller.Fatal) if t has already been
// destroyed; used by call sites that must not operate on a dead thread.
func AssertNotDestroyed(t *thread.Thread) {
	if t.State() == thread.Destroyed {
		caller.Fatal("operation on destroyed thread")
	}
}
