// Package proc implements §3's Process: an AddressSpace, a handle table
// mapping Handle -> *Object, a table of owned/created Table registrations,
// and a set of Threads. A Process lives while any Thread references it;
// per §9's redesign note the cyclic strong edge the source accepts is
// broken here with a weak back-pointer (thread.Thread.Pid) plus this
// package's "alive threads" set, and teardown is the explicit two-step
// protocol §9 describes: drain threads, then drop the process.
package proc

import (
	"sync"

	"tablekernel/src/defs"
	"tablekernel/src/frame"
	"tablekernel/src/hashtable"
	"tablekernel/src/limits"
	"tablekernel/src/memobj"
	"tablekernel/src/object"
	"tablekernel/src/sched"
	"tablekernel/src/table"
	"tablekernel/src/thread"

	"tablekernel/src/aspace"
)

// Process owns everything a running program needs: its address space, its
// handle table, the tables it has registered, and its live threads.
type Process struct {
	Pid   defs.Pid
	AS    *aspace.AddressSpace
	Sched *sched.Sched

	mu          sync.Mutex
	handles     *hashtable.Table[defs.Handle, *object.Object]
	nextHandle  defs.Handle
	ownedTables map[defs.TableId]*table.Table
	threads     map[defs.Tid]*thread.Thread
	nextTid     defs.Tid

	handleLimit *limits.Sysatomic_t
}

// New creates a Process with an empty address space, handle table, and
// thread set.
func New(pid defs.Pid, as *aspace.AddressSpace, sc *sched.Sched) *Process {
	return &Process{
		Pid:         pid,
		AS:          as,
		Sched:       sc,
		handles:     hashtable.New[defs.Handle, *object.Object](64, hashtable.Uint32Key[defs.Handle]),
		ownedTables: make(map[defs.TableId]*table.Table),
		threads:     make(map[defs.Tid]*thread.Thread),
		handleLimit: limits.Syslimit.HandlesPerProc.PerEntity(),
	}
}

// FromImage is the kernel side of the loader interface the spec assumes
// (§1): given a memory object holding a loaded, entry-patched driver image
// and an initial stack object, produce a ready-to-run process with one
// thread. The image is mapped read/execute at an auto-placed base and the
// stack read/write; the thread's instruction pointer is the image base plus
// entryOffset and its stack pointer is the top of the stack mapping. ELF
// parsing itself is the loader's job (cmd/mkdriverimage patches the entry
// before the image ever gets here).
func FromImage(pid defs.Pid, as *aspace.AddressSpace, sc *sched.Sched, img memobj.MemoryObject, entryOffset uint64, stack memobj.MemoryObject) (*Process, *thread.Thread, error) {
	if entryOffset >= uint64(img.Len())*frame.PageSize {
		return nil, nil, defs.EInvalidArg.AsError()
	}
	imgBase, _, err := as.MapObject(nil, img, defs.R|defs.X, 0, 0)
	if err != nil {
		return nil, nil, err
	}
	stkBase, stkLen, err := as.MapObject(nil, stack, defs.R|defs.W, 0, 0)
	if err != nil {
		as.UnmapObject(imgBase, img.Len())
		return nil, nil, err
	}
	p := New(pid, as, sc)
	t := p.NewThread("main", uintptr(uint64(imgBase)+entryOffset), uintptr(uint64(stkBase)+stkLen))
	return p, t, nil
}

// NewThread creates and registers a new Thread owned by this process,
// seeding it with entry/userSP per §3's Thread lifecycle and scheduling it
// as runnable.
func (p *Process) NewThread(name string, entry, userSP uintptr) *thread.Thread {
	p.mu.Lock()
	tid := p.nextTid
	p.nextTid++
	p.mu.Unlock()

	t := thread.New(tid, p.Pid, name, entry, userSP)
	p.mu.Lock()
	p.threads[tid] = t
	p.mu.Unlock()
	p.Sched.Add(t)
	return t
}

// ThreadCount reports the number of live (non-destroyed) threads this
// process owns; a Process "lives while any Thread references it" (§3), so
// this is what teardown polls.
func (p *Process) ThreadCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, t := range p.threads {
		if t.State() != thread.Destroyed {
			n++
		}
	}
	return n
}

// DestroyThread destroys tid (caller must guarantee no CPU executes on its
// stack, per thread.Destroy's contract) and drops it from this process's
// thread set.
func (p *Process) DestroyThread(tid defs.Tid) {
	p.mu.Lock()
	t, ok := p.threads[tid]
	if ok {
		delete(p.threads, tid)
	}
	p.mu.Unlock()
	if ok {
		t.Destroy()
		p.Sched.Remove(tid)
	}
}

// Teardown implements §9's explicit "drain threads then drop process"
// protocol: it destroys every thread still registered, then releases every
// handle (dropping the table, which per §5 "Resource accounting" drops
// every Object, which drops any outstanding Tickets -- the peer observes
// Cancelled).
func (p *Process) Teardown() {
	p.mu.Lock()
	tids := make([]defs.Tid, 0, len(p.threads))
	for tid := range p.threads {
		tids = append(tids, tid)
	}
	p.mu.Unlock()
	for _, tid := range tids {
		p.DestroyThread(tid)
	}

	for _, pair := range p.handles.Elems() {
		p.CloseHandle(pair.Key)
	}
}

// AddHandle inserts obj into the handle table, returning the new Handle or
// EOutOfMemory if the per-process handle budget is exhausted (§5 "Resource
// accounting": "every handle in a process handle table is a strong
// reference to its Object").
func (p *Process) AddHandle(obj *object.Object) (defs.Handle, defs.ErrKind) {
	if !p.handleLimit.Take() {
		return 0, defs.EOutOfMemory
	}
	p.mu.Lock()
	h := p.nextHandle
	p.nextHandle++
	p.mu.Unlock()
	p.handles.Set(h, obj)
	return h, defs.EOK
}

// Handle resolves h to its Object.
func (p *Process) Handle(h defs.Handle) (*object.Object, bool) {
	return p.handles.Get(h)
}

// CloseHandle removes h from the table, releasing the process's strong
// reference to its Object.
func (p *Process) CloseHandle(h defs.Handle) bool {
	if p.handles.Del(h) {
		p.handleLimit.Give()
		return true
	}
	return false
}

// OwnTable records that this process registered (and thus owns) t.
func (p *Process) OwnTable(t *table.Table) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ownedTables[t.ID] = t
}

// OwnedTable looks up a table this process owns by id.
func (p *Process) OwnedTable(id defs.TableId) (*table.Table, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.ownedTables[id]
	return t, ok
}
