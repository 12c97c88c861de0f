// Package accnt tracks per-thread CPU-time usage: how long a thread spent
// running versus blocked in the scheduler, kept separate so a table
// implementer's time parked in take_job doesn't count against it.
package accnt

import (
	"sync"
	"sync/atomic"
	"time"
)

// Accnt_t accumulates one thread's runtime and blocked time. Both fields
// are stored in nanoseconds; the mutex only guards the multi-field snapshot
// taken by Fetch/Add, not the single-field atomic updates.
type Accnt_t struct {
	RunNs    int64
	BlockNs  int64
	snapshot sync.Mutex
}

// AddRun adds d to the accumulated running time.
func (a *Accnt_t) AddRun(d time.Duration) {
	atomic.AddInt64(&a.RunNs, int64(d))
}

// AddBlock adds d to the accumulated blocked time.
func (a *Accnt_t) AddBlock(d time.Duration) {
	atomic.AddInt64(&a.BlockNs, int64(d))
}

// Snapshot_t is a consistent point-in-time copy of an Accnt_t.
type Snapshot_t struct {
	Run   time.Duration
	Block time.Duration
}

// Fetch takes a consistent snapshot of both counters.
func (a *Accnt_t) Fetch() Snapshot_t {
	a.snapshot.Lock()
	defer a.snapshot.Unlock()
	return Snapshot_t{
		Run:   time.Duration(atomic.LoadInt64(&a.RunNs)),
		Block: time.Duration(atomic.LoadInt64(&a.BlockNs)),
	}
}

// Add merges n's counters into a, used when a process-wide total is rolled
// up from its threads' individual Accnt_t records.
func (a *Accnt_t) Add(n *Accnt_t) {
	s := n.Fetch()
	a.snapshot.Lock()
	defer a.snapshot.Unlock()
	atomic.AddInt64(&a.RunNs, int64(s.Run))
	atomic.AddInt64(&a.BlockNs, int64(s.Block))
}
