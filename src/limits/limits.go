// Package limits tracks the system-wide resource budgets the kernel
// enforces before handing out a new object, table, or job slot. Every
// budget is a Sysatomic_t: a signed counter that refuses to go negative.
package limits

import "sync/atomic"

// Sysatomic_t is a numeric limit consumed with Take/Taken and returned with
// Give/Given. It never goes negative: an over-budget Taken call is rolled
// back and reports failure instead of panicking, since running out of a
// configured limit is an expected, recoverable condition (unlike running
// out of physical memory, which the frame allocator reports as a hard
// OutOfMemory).
type Sysatomic_t int64

// Taken tries to decrement the limit by n. It reports whether the budget
// had enough headroom.
func (s *Sysatomic_t) Taken(n uint) bool {
	d := int64(n)
	if atomic.AddInt64((*int64)(s), -d) >= 0 {
		return true
	}
	atomic.AddInt64((*int64)(s), d)
	return false
}

// Take is Taken(1).
func (s *Sysatomic_t) Take() bool { return s.Taken(1) }

// Given increases the limit by n.
func (s *Sysatomic_t) Given(n uint) {
	atomic.AddInt64((*int64)(s), int64(n))
}

// Give is Given(1).
func (s *Sysatomic_t) Give() { s.Given(1) }

// Remaining reports the current headroom.
func (s *Sysatomic_t) Remaining() int64 {
	return atomic.LoadInt64((*int64)(s))
}

// PerEntity returns a fresh counter seeded from this budget's current
// value. Per-process and per-table limits are configured once here but
// enforced against a private counter each entity copies out at creation,
// so one process exhausting its handle budget cannot starve another's.
func (s *Sysatomic_t) PerEntity() *Sysatomic_t {
	n := Sysatomic_t(s.Remaining())
	return &n
}

// Syslimit_t is the full set of budgets the kernel enforces. Fields are
// independent Sysatomic_t counters; there is no cross-field locking because
// each is consumed and returned atomically on its own. Processes and
// Tables are system-wide pools drawn from directly; HandlesPerProc,
// JobsPerTable, and StreamBlocks are boot-time defaults each entity copies
// via PerEntity at creation.
type Syslimit_t struct {
	// Processes caps the number of live Process objects, system-wide.
	Processes Sysatomic_t
	// Tables caps the number of concurrently registered Table entries,
	// system-wide.
	Tables Sysatomic_t
	// HandlesPerProc seeds each process's private handle-table budget.
	HandlesPerProc Sysatomic_t
	// JobsPerTable seeds each table's private budget of outstanding jobs
	// (one TicketWaker recorded per job, per §4.3).
	JobsPerTable Sysatomic_t
	// StreamBlocks seeds the data-block budget of a single stream-table.
	StreamBlocks Sysatomic_t
}

// Default returns the out-of-the-box budget set, sized generously for a
// single-CPU simulation rather than a production deployment.
func Default() *Syslimit_t {
	return &Syslimit_t{
		Processes:      1 << 14,
		Tables:         1 << 10,
		HandlesPerProc: 1 << 12,
		JobsPerTable:   1 << 10,
		StreamBlocks:   1 << 16,
	}
}

// Syslimit is the process-wide instance consulted by default by packages
// that don't carry their own explicit *Syslimit_t (tests construct their own
// to exercise exhaustion without perturbing global state).
var Syslimit = Default()
