// Package table implements §4.3's Table registry, Job routing, and the
// client-visible query/open/create surface. Tables are registered
// process-global, discoverable by monotonic TableId and name; next_table
// iteration must preserve registration order (§8 Testable Properties,
// scenario 2), which is why the registry keeps registered tables on a
// github.com/cloudwego/gopkg/container/ring.Ring: a ring traversal
// naturally preserves insertion order without a re-derived linear scan,
// and idempotent next_table(prev) calls (same arg -> same result) fall out
// of the ring's fixed index assignment.
//
// Grounded on the teacher's table/object registration idiom is absent from
// biscuit (biscuit has no table abstraction); this package follows
// norost-b's kernel::object::table design (per spec §3/§4.3), expressed in
// the teacher's hashtable/lock idiom.
package table

import (
	"sync"
	"time"

	"github.com/cloudwego/gopkg/container/ring"

	"tablekernel/src/defs"
	"tablekernel/src/hashtable"
	"tablekernel/src/limits"
	"tablekernel/src/lock"
	"tablekernel/src/object"
	"tablekernel/src/ticket"
)

// Job is the server-side materialization of a client operation that could
// not be completed synchronously by a userspace-owned table (§3).
type Job struct {
	JobID  defs.JobId
	Kind   defs.JobKind
	Handle defs.Handle

	// Arg/Out are the job's input and output Slices into the table's
	// shared stream-table buffer (src/streamtable); table.go only threads
	// the Slice values, it does not itself reach into shared memory.
	Arg Slice
	Out Slice

	Result defs.ErrKind

	waker JobWaker
}

// Slice mirrors streamtable.Slice's two fields without importing that
// package, to avoid a dependency cycle (streamtable needs no knowledge of
// Job, but table.Job carries Slices produced by streamtable). Callers
// convert with streamtable.Slice{Offset: j.Arg.Offset, Length: j.Arg.Length}.
type Slice struct {
	Offset uint32
	Length uint32
}

// NewSlice constructs a Slice; a convenience for streamtable and syscall
// call sites building Job.Arg/Out inline.
func NewSlice(offset, length uint32) Slice {
	return Slice{Offset: offset, Length: length}
}

func (s Slice) Offset32() uint32 { return s.Offset }
func (s Slice) Length32() uint32 { return s.Length }

// JobWaker is the TicketWaker half recorded for an outstanding job, erased
// to a closure so Table doesn't need a generic Job[T] per result type: each
// job kind resolves a different result type (bytes for Read, a handle for
// Open, etc.), but they all share the same "record a waker, fire it on
// finish_job" bookkeeping.
type JobWaker func(result defs.ErrKind, out Slice)

// Table is a named namespace of Objects, implementer-visible via
// TakeJob/FinishJob/CancelJob and client-visible via Query/Open/Create.
type Table struct {
	ID   defs.TableId
	Name string
	Tags []string

	root *object.Object // the table's root Object, for Open/Create routing

	mu          sync.Mutex
	pendingJobs chan *Job // buffered queue; TakeJob blocks on this
	outstanding *lock.IRQSpin[map[defs.JobId]*Job]
	nextJobID   defs.JobId
	limit       *limits.Sysatomic_t

	// kernelInternal marks a table (like uart) whose TakeJob/FinishJob/
	// CancelJob are unreachable, per §4.3 "a kernel-internal table stubs
	// these as unreachable."
	kernelInternal bool
}

// New registers a new table. If kernelInternal is true, TakeJob/FinishJob/
// CancelJob panic if called (§4.3).
func New(id defs.TableId, name string, tags []string, root *object.Object, kernelInternal bool) *Table {
	t := &Table{
		ID:             id,
		Name:           name,
		Tags:           tags,
		root:           root,
		pendingJobs:    make(chan *Job, 256),
		outstanding:    lock.NewIRQSpin(make(map[defs.JobId]*Job)),
		limit:          limits.Syslimit.JobsPerTable.PerEntity(),
		kernelInternal: kernelInternal,
	}
	return t
}

// SubmitJob builds a Job for kind/handle/arg, records waker under its
// JobID, enqueues it for a TakeJob caller, and returns the job's JobID.
// Queueing is FIFO per table (§4.3 "take_job delivers in FIFO order of job
// submission"). Ordering across distinct handles is independent, and §4.3
// explicitly does NOT serialize jobs within one (table, handle) pair --
// SubmitJob does not attempt to; a server implementing ordering semantics
// for its own handle is free to serialize take_job consumption itself.
func (t *Table) SubmitJob(kind defs.JobKind, handle defs.Handle, arg Slice, waker JobWaker) (defs.JobId, defs.ErrKind) {
	if !t.limit.Take() {
		return 0, defs.EOutOfMemory
	}
	t.mu.Lock()
	id := t.nextJobID
	t.nextJobID++
	t.mu.Unlock()

	j := &Job{JobID: id, Kind: kind, Handle: handle, Arg: arg, waker: waker}
	t.outstanding.With(func(m *map[defs.JobId]*Job) {
		(*m)[id] = j
	})

	select {
	case t.pendingJobs <- j:
	default:
		// back-pressure: §8 "rings full -> submitter observes back-pressure
		// (not an error)". The job stays recorded as outstanding and a
		// later TakeJob drains it once the server catches up; since
		// pendingJobs and outstanding are decoupled, this path cannot lose
		// the job, only delay its delivery. Re-send in a goroutine so
		// SubmitJob itself never blocks the caller.
		go func() { t.pendingJobs <- j }()
	}
	return id, defs.EOK
}

// TakeJob is the implementer-visible call: it parks until a client submits
// a request, then returns the Job descriptor. timeout<=0 means wait
// forever. A kernel-internal table must never call this (§4.3).
func (t *Table) TakeJob(timeout time.Duration) (*Job, bool) {
	if t.kernelInternal {
		panic("table: TakeJob on kernel-internal table")
	}
	if timeout <= 0 {
		return <-t.pendingJobs, true
	}
	select {
	case j := <-t.pendingJobs:
		return j, true
	case <-time.After(timeout):
		return nil, false
	}
}

// FinishJob looks up the recorded TicketWaker for j.JobID, moves payload
// from the shared buffer (the caller already copied j.Out/result) into the
// caller's slot, and completes it.
func (t *Table) FinishJob(j *Job, result defs.ErrKind, out Slice) defs.ErrKind {
	if t.kernelInternal {
		panic("table: FinishJob on kernel-internal table")
	}
	var w JobWaker
	t.outstanding.With(func(m *map[defs.JobId]*Job) {
		if rec, ok := (*m)[j.JobID]; ok {
			w = rec.waker
			delete(*m, j.JobID)
		}
	})
	if w == nil {
		return defs.EDoesNotExist
	}
	t.limit.Give()
	w(result, out)
	return defs.EOK
}

// CancelJob discards an outstanding job without waking its client.
func (t *Table) CancelJob(j *Job) {
	if t.kernelInternal {
		panic("table: CancelJob on kernel-internal table")
	}
	t.outstanding.With(func(m *map[defs.JobId]*Job) {
		delete(*m, j.JobID)
	})
	t.limit.Give()
}

// FailOutstanding wakes every outstanding job's client with errk and clears
// the outstanding set, returning how many jobs were failed. Used when the
// table's server goes away: per §5 the peer observes Cancelled on every
// in-flight operation.
func (t *Table) FailOutstanding(errk defs.ErrKind) int {
	if t.kernelInternal {
		panic("table: FailOutstanding on kernel-internal table")
	}
	var wakers []JobWaker
	t.outstanding.With(func(m *map[defs.JobId]*Job) {
		for id, rec := range *m {
			wakers = append(wakers, rec.waker)
			delete(*m, id)
		}
	})
	for _, w := range wakers {
		t.limit.Give()
		w(errk, Slice{})
	}
	return len(wakers)
}

// Root returns the table's root Object, for the registry's Open/Create
// routing.
func (t *Table) Root() *object.Object { return t.root }

// Registry tracks all registered tables, preserving registration order for
// next_table iteration (§4.3, §8 scenario 2).
type Registry struct {
	mu     sync.Mutex
	byID   *hashtable.Table[defs.TableId, *Table]
	byName map[string]*Table
	order  []*Table // registration order; rebuilt into ring on each change
	ring   *ring.Ring[*Table]
	nextID defs.TableId
	limit  *limits.Sysatomic_t
}

// NewRegistry creates an empty table registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:   hashtable.New[defs.TableId, *Table](64, hashtable.Uint32Key[defs.TableId]),
		byName: make(map[string]*Table),
		limit:  &limits.Syslimit.Tables,
	}
}

// Register adds t to the registry, assigning it the next monotonic
// TableId. Registration order is preserved for next_table.
func (r *Registry) Register(name string, tags []string, root *object.Object, kernelInternal bool) (*Table, defs.ErrKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.limit.Take() {
		return nil, defs.EOutOfMemory
	}
	if _, exists := r.byName[name]; exists {
		r.limit.Give()
		return nil, defs.EAlreadyExists
	}
	id := r.nextID
	r.nextID++
	t := New(id, name, tags, root, kernelInternal)
	r.byID.Set(id, t)
	r.byName[name] = t
	r.order = append(r.order, t)
	r.ring = ring.NewFromSlice(r.order)
	return t, defs.EOK
}

// Lookup finds a table by id.
func (r *Registry) Lookup(id defs.TableId) (*Table, bool) {
	return r.byID.Get(id)
}

// LookupByName finds a table by name.
func (r *Registry) LookupByName(name string) (*Table, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byName[name]
	return t, ok
}

// NextTable implements §4.3's next_table(prev?): iterate registered tables
// in registration order. prev==nil starts from the first entry.
func (r *Registry) NextTable(prev *defs.TableId) (defs.TableId, *Table, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ring == nil || len(r.order) == 0 {
		return 0, nil, false
	}
	if prev == nil {
		item := r.ring.Head()
		return item.Value().ID, item.Value(), true
	}
	for idx := 0; idx < len(r.order); idx++ {
		if r.order[idx].ID == *prev {
			item, ok := r.ring.Next(idx)
			if !ok {
				return 0, nil, false
			}
			// §8 scenario 2: next_table(Some(last)) -> None. The ring
			// wraps (Next of the last index returns the head), so detect
			// wraparound explicitly rather than looping forever.
			if idx == len(r.order)-1 {
				return 0, nil, false
			}
			return item.Value().ID, item.Value(), true
		}
	}
	return 0, nil, false
}

// Query produces a ticket resolving to the list of tables matching name/tags,
// per §4.3's query_table.
type Query struct {
	Matches []*Table
	next    int
}

// QueryTable implements query_table(id, name?, tags[]): id selects a
// specific table to query objects within (threaded through by the caller;
// Registry itself only matches on name/tags across all registered tables
// when id is the zero value and name is empty, mirroring "browse
// everything" semantics table-servers build query_next on top of).
func (r *Registry) QueryTable(name string, tags []string) ticket.Ticket[*Query] {
	r.mu.Lock()
	defer r.mu.Unlock()
	q := &Query{}
	for _, t := range r.order {
		if name != "" && t.Name != name {
			continue
		}
		if len(tags) > 0 && !hasAllTags(t.Tags, tags) {
			continue
		}
		q.Matches = append(q.Matches, t)
	}
	return ticket.NewComplete(ticket.Ok(q))
}

func hasAllTags(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, h := range have {
		set[h] = true
	}
	for _, w := range want {
		if !set[w] {
			return false
		}
	}
	return true
}

// QueryNext advances q, producing the next TableId or reporting exhaustion.
func (q *Query) QueryNext() (defs.TableId, bool) {
	if q.next >= len(q.Matches) {
		return 0, false
	}
	id := q.Matches[q.next].ID
	q.next++
	return id, true
}
