// Package syscall implements §4.7/§6's ABI surface: the enumerated numeric
// IDs, the (status, value) return convention, and the TableInfo/ObjectInfo
// wire structs supplemented from original_source/'s
// lib/rust/kernel/src/syscall.rs (§ SPEC_FULL E.2). The register-convention
// half of the ABI (rax/rdi/rsi/... per §6) is not modeled here since this
// module targets ordinary `go build`, not a real amd64 entry trampoline
// (§A); Dispatch takes already-decoded arguments instead of raw registers,
// the same boundary cmd/mkdriverimage's ELF-entry patching respects.
package syscall

import (
	"log"
	"sync"
	"time"

	"tablekernel/src/aspace"
	"tablekernel/src/defs"
	"tablekernel/src/frame"
	"tablekernel/src/memobj"
	"tablekernel/src/object"
	"tablekernel/src/proc"
	"tablekernel/src/stats"
	"tablekernel/src/table"
	"tablekernel/src/thread"
	"tablekernel/src/ticket"
)

// Stats counts syscall invocations by class, exported via cmd/profiledump
// (§5 "Resource accounting"). One process-wide instance, Global, is shared
// by every Dispatcher in this build; a multi-process production kernel
// would keep one per process instead.
type Stats struct {
	Reads, Writes, Opens, Syslogs, Faults stats.Counter_t
}

// Global is the process-wide syscall counter set cmd/profiledump reads.
var Global Stats

// anonBuffer is the backing store for new_object's anonymous in-memory
// Object (§3): a plain append-only byte buffer, the simplest possible
// thing behind the read/write capability pair.
type anonBuffer struct {
	mu   sync.Mutex
	data []byte
}

func (a *anonBuffer) read(n int, peek bool) ticket.Ticket[object.Bytes] {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n > len(a.data) {
		n = len(a.data)
	}
	out := make([]byte, n)
	copy(out, a.data[:n])
	if !peek {
		a.data = a.data[n:]
	}
	return ticket.NewComplete(ticket.Ok(object.Bytes(out)))
}

func (a *anonBuffer) write(b object.Bytes) ticket.Ticket[uint64] {
	a.mu.Lock()
	a.data = append(a.data, b...)
	a.mu.Unlock()
	return ticket.NewComplete(ticket.Ok(uint64(len(b))))
}

// ID enumerates the numeric syscall IDs (§4.7), stable as part of the ABI.
type ID uint32

const (
	Syslog ID = iota + 1
	AllocDMA
	PhysicalAddress
	NextTable
	QueryTable
	QueryNext
	OpenObject
	MapObject
	Sleep
	CreateTable
	TakeJob
	FinishJob
	CancelJob
	Read
	Peek
	Write
	Seek
	Close
	Poll
	Share
	NewObject
)

// Result is the (status, value) pair every syscall returns (§4.7/§6):
// status==0 is success and value carries the result; status!=0 is the
// error kind and value may carry auxiliary context (e.g. partial
// bytes_transferred, §7 "partial success").
type Result struct {
	Status defs.ErrKind
	Value  uint64
}

// Ok builds a successful Result.
func Ok(value uint64) Result { return Result{Status: defs.EOK, Value: value} }

// Err builds a failed Result, optionally carrying aux context in value
// (e.g. a short read/write's byte count).
func Err(status defs.ErrKind, value uint64) Result {
	return Result{Status: status, Value: value}
}

// TableInfo is the fixed-layout metadata next_table returns for a
// registered table (supplemented feature E.2): a name plus
// length-prefixed tag offsets into a caller-supplied string buffer, as in
// lib/rust/kernel/src/syscall.rs. Go's natural string/slice handling
// replaces the offset-into-buffer indirection the original's FFI layer
// needed; TagBuf below is only populated when a caller explicitly wants
// the raw wire encoding (e.g. a conformance test against §6).
type TableInfo struct {
	ID   defs.TableId
	Name string
	Tags []string
}

// ObjectInfo is query_next's per-object result (supplemented feature E.2).
type ObjectInfo struct {
	Name string
	Tags []string
}

// EncodeTagBuf renders tags as length-prefixed entries into a single byte
// buffer, matching the wire convention TableInfo/ObjectInfo's original
// described: each tag is a one-byte length followed by its bytes.
func EncodeTagBuf(tags []string) []byte {
	var out []byte
	for _, t := range tags {
		out = append(out, byte(len(t)))
		out = append(out, t...)
	}
	return out
}

// DecodeTagBuf parses EncodeTagBuf's output back into a tag slice,
// bounds-checking every length byte against the remaining buffer before
// slicing -- the same "never index with an unchecked length read from an
// untrusted source" discipline streamtable.Buffer applies to shared-memory
// reads (§9).
func DecodeTagBuf(buf []byte) ([]string, bool) {
	var tags []string
	for len(buf) > 0 {
		n := int(buf[0])
		buf = buf[1:]
		if n > len(buf) {
			return nil, false
		}
		tags = append(tags, string(buf[:n]))
		buf = buf[n:]
	}
	return tags, true
}

// Dispatcher binds the syscall surface to a single process's resources: its
// handle table, its scheduler, and the global table registry. One
// Dispatcher exists per Process. Frames is the system-wide physical frame
// allocator that backs alloc_dma (§4.1); it is nil for a Dispatcher that
// only ever serves userspace callers through table-owned Objects, since
// those never touch the frame allocator directly.
type Dispatcher struct {
	Proc     *proc.Process
	Registry *table.Registry
	Self     *thread.Thread // the thread making the current call
	Frames   *frame.Allocator

	// Log receives syslog's formatted line. Defaults to the standard
	// library logger when nil; tests substitute their own sink.
	Log func(msg string)
}

func (d *Dispatcher) log(msg string) {
	if d.Log != nil {
		d.Log(msg)
		return
	}
	log.Println(msg)
}

// await parks self on tk, honoring any async_deadline armed on the thread
// before the call: §4.5's only time-based cancellation. The deadline is
// one-shot and cleared on return whether it fired or not.
func await[T any](self *thread.Thread, tk ticket.Ticket[T]) ticket.Result[T] {
	if dl, ok := self.AsyncDeadline(); ok {
		defer self.ClearAsyncDeadline()
		return tk.WaitUntil(self, dl)
	}
	return tk.Wait(self)
}

// Syslog implements the syslog syscall: a raw diagnostic line from
// userspace, analogous to the teacher's kernel-side Runtime.Pmsga sink
// except reachable from outside the kernel instead of only from panics.
func (d *Dispatcher) Syslog(msg []byte) Result {
	Global.Syslogs.Inc()
	d.log(string(msg))
	return Ok(uint64(len(msg)))
}

// AllocDMA implements alloc_dma: allocates npages physically-contiguous
// frames from the system allocator, maps them read/write into the calling
// process's address space, and returns the base of that mapping. Per §4.1
// DMA-capable memory must be contiguous, which is exactly what
// frame.Allocator's buddy scheme guarantees for a single Allocate call
// (unlike OwnedFrames, which may stitch several runs together for a large,
// non-DMA mapping).
func (d *Dispatcher) AllocDMA(npages int) Result {
	if d.Frames == nil {
		return Err(defs.ENotImplemented, 0)
	}
	if npages <= 0 {
		return Err(defs.EInvalidArg, 0)
	}
	pf, err := d.Frames.Allocate(npages, frame.Hints{})
	if err != nil {
		return Err(defs.EOutOfMemory, 0)
	}
	dev := memobj.NewDeviceFrames(pf.Base, pf.Count)
	base, _, merr := d.Proc.AS.MapObject(nil, dev, defs.R|defs.W, 0, uint64(pf.Count)*frame.PageSize)
	if merr != nil {
		d.Frames.Free(pf)
		return Err(defs.EOutOfMemory, 0)
	}
	return Ok(uint64(base))
}

// PhysicalAddress implements physical_address: resolves a virtual address
// in the calling process's address space to the backing physical frame,
// for drivers that hand addresses to DMA-incapable-of-translation hardware
// (§4.1/§4.2). Fails DoesNotExist if vaddr is unmapped.
func (d *Dispatcher) PhysicalAddress(vaddr aspace.VAddr) Result {
	m, ok := d.Proc.AS.Lookup(vaddr)
	if !ok {
		return Err(defs.EDoesNotExist, 0)
	}
	pageIdx := int((vaddr - m.Range.Start) / frame.PageSize)
	var found frame.PPN
	hit := false
	m.Object.Pages(func(i int, p frame.PPN) bool {
		if i == pageIdx {
			found = p
			hit = true
			return false
		}
		return true
	})
	if !hit {
		return Err(defs.EDoesNotExist, 0)
	}
	return Ok(uint64(found) * frame.PageSize)
}

// MapObject implements map_object: resolves h to an Object, invokes its Map
// capability to obtain a MemoryObject, and installs it into the calling
// process's address space.
func (d *Dispatcher) MapObject(h defs.Handle, offset, length uint64, rwx defs.Rwx) Result {
	obj, ok := d.Proc.Handle(h)
	if !ok {
		return Err(defs.EDoesNotExist, 0)
	}
	mo, errk := obj.Map(0, offset, length)
	if errk != defs.EOK {
		return Err(errk, 0)
	}
	base, _, merr := d.Proc.AS.MapObject(nil, mo, rwx, 0, length)
	if merr != nil {
		mo.Release()
		return Err(defs.EInvalidArg, 0)
	}
	return Ok(uint64(base))
}

// Sleep implements the sleep syscall: parks the calling thread until
// deadlineNanos (a monotonic-clock reading the caller obtained some other
// way; this module does not model a wall clock, per §A). The thread's
// Deadline/WakeUp bookkeeping is the same path a Ticket's Wait uses, so a
// sleeping thread and one parked on I/O are indistinguishable to the
// scheduler (§9's "threads park; the scheduler doesn't know why").
func (d *Dispatcher) Sleep(deadline time.Time) Result {
	d.Self.SleepUntil(deadline)
	<-d.Self.Wait()
	return Ok(0)
}

// NewObject implements new_object: constructs an in-process Object backed
// by freshly allocated memory (the userspace-table analogue of a kernel
// table's root Object) and installs it into the calling process's handle
// table. This is the mechanism a userspace table implementer uses to hand
// back objects from its Open/Create callbacks without reaching into
// kernel-internal constructors (§3's "any subset" of capabilities applies
// equally to userspace-provided Objects).
func (d *Dispatcher) NewObject(readable, writable bool) Result {
	obj := &object.Object{Name: "anon"}
	if readable {
		buf := &anonBuffer{}
		obj.ReadFn = buf.read
		if writable {
			obj.WriteFn = buf.write
		}
	} else if writable {
		buf := &anonBuffer{}
		obj.WriteFn = buf.write
	}
	h, errk := d.Proc.AddHandle(obj)
	if errk != defs.EOK {
		return Err(errk, 0)
	}
	return Ok(uint64(h))
}

// NextTable implements the next_table syscall (§4.3, §8 scenario 2).
func (d *Dispatcher) NextTable(prev *defs.TableId) Result {
	id, t, ok := d.Registry.NextTable(prev)
	if !ok {
		return Err(defs.EDoesNotExist, 0)
	}
	_ = t
	return Ok(uint64(id))
}

// OpenObject implements open_object: open(path) against the table's root
// Object, installing the resulting Object into the calling process's
// handle table on success.
func (d *Dispatcher) OpenObject(tableID defs.TableId, path []byte) Result {
	Global.Opens.Inc()
	t, ok := d.Registry.Lookup(tableID)
	if !ok {
		return Err(defs.EDoesNotExist, 0)
	}
	if len(path) == 0 {
		return Err(defs.EInvalidArg, 0) // §8 "open on an empty path fails InvalidArgument"
	}
	tk := t.Root().Open(path)
	res := await(d.Self, tk)
	if res.Err != defs.EOK {
		return Err(res.Err, 0)
	}
	h, errk := d.Proc.AddHandle(res.Value)
	if errk != defs.EOK {
		return Err(errk, 0)
	}
	return Ok(uint64(h))
}

// Read implements the read syscall: look up the object, invoke its read
// operation, and either return the pre-completed result or park the
// calling thread on the ticket (§2 "Data flow for a client read").
func (d *Dispatcher) Read(h defs.Handle, n int, peek bool) Result {
	Global.Reads.Inc()
	obj, ok := d.Proc.Handle(h)
	if !ok {
		return Err(defs.EDoesNotExist, 0)
	}
	if n == 0 {
		return Ok(0) // §8 "zero-length read/write always succeeds with 0"
	}
	tk := obj.Read(n, peek)
	res := await(d.Self, tk)
	if res.Err != defs.EOK {
		Global.Faults.Inc()
		return Err(res.Err, 0)
	}
	return Ok(uint64(len(res.Value)))
}

// Write implements the write syscall.
func (d *Dispatcher) Write(h defs.Handle, data []byte) Result {
	Global.Writes.Inc()
	obj, ok := d.Proc.Handle(h)
	if !ok {
		return Err(defs.EDoesNotExist, 0)
	}
	if len(data) == 0 {
		return Ok(0)
	}
	tk := obj.Write(object.Bytes(data))
	res := await(d.Self, tk)
	if res.Err != defs.EOK {
		return Err(res.Err, 0)
	}
	return Ok(res.Value)
}

// Close implements the close syscall: drops the process's strong reference
// to the handle's Object (§5 "Resource accounting").
func (d *Dispatcher) Close(h defs.Handle) Result {
	if !d.Proc.CloseHandle(h) {
		return Err(defs.EDoesNotExist, 0)
	}
	return Ok(0)
}

// Peek implements the peek syscall: a read that does not consume the data.
func (d *Dispatcher) Peek(h defs.Handle, n int) Result {
	return d.Read(h, n, true)
}

// Seek implements the seek syscall (§6 seek anchors).
func (d *Dispatcher) Seek(h defs.Handle, anchor defs.SeekAnchor, offset int64) Result {
	obj, ok := d.Proc.Handle(h)
	if !ok {
		return Err(defs.EDoesNotExist, 0)
	}
	tk := obj.Seek(object.From{Anchor: anchor, Offset: offset})
	res := await(d.Self, tk)
	if res.Err != defs.EOK {
		return Err(res.Err, 0)
	}
	return Ok(res.Value)
}

// Poll implements the poll syscall.
func (d *Dispatcher) Poll(h defs.Handle) Result {
	obj, ok := d.Proc.Handle(h)
	if !ok {
		return Err(defs.EDoesNotExist, 0)
	}
	tk := obj.Poll()
	res := await(d.Self, tk)
	if res.Err != defs.EOK {
		return Err(res.Err, 0)
	}
	return Ok(res.Value)
}

// Share implements the share syscall: hands one process's handle to
// another Object (e.g. a pipe endpoint), per §3's share(other) -> Ticket<u64>.
func (d *Dispatcher) Share(h, otherH defs.Handle) Result {
	obj, ok := d.Proc.Handle(h)
	if !ok {
		return Err(defs.EDoesNotExist, 0)
	}
	other, ok := d.Proc.Handle(otherH)
	if !ok {
		return Err(defs.EDoesNotExist, 0)
	}
	tk := obj.Share(other)
	res := await(d.Self, tk)
	if res.Err != defs.EOK {
		return Err(res.Err, 0)
	}
	return Ok(res.Value)
}

// CreateTable implements create_table: registers a new userspace-backed
// table and records it as owned by the calling process.
func (d *Dispatcher) CreateTable(name string, tags []string, root *object.Object) Result {
	t, errk := d.Registry.Register(name, tags, root, false)
	if errk != defs.EOK {
		return Err(errk, 0)
	}
	d.Proc.OwnTable(t)
	return Ok(uint64(t.ID))
}

// TakeJob implements take_job: an implementer thread parks until a client
// submits a request against tableID.
func (d *Dispatcher) TakeJob(tableID defs.TableId) (*table.Job, Result) {
	t, ok := d.Proc.OwnedTable(tableID)
	if !ok {
		return nil, Err(defs.EDoesNotExist, 0)
	}
	j, ok := t.TakeJob(0)
	if !ok {
		return nil, Err(defs.ECancelled, 0)
	}
	return j, Ok(uint64(j.JobID))
}

// FinishJob implements finish_job.
func (d *Dispatcher) FinishJob(tableID defs.TableId, j *table.Job, result defs.ErrKind) Result {
	t, ok := d.Proc.OwnedTable(tableID)
	if !ok {
		return Err(defs.EDoesNotExist, 0)
	}
	if errk := t.FinishJob(j, result, j.Out); errk != defs.EOK {
		return Err(errk, 0)
	}
	return Ok(0)
}

// CancelJob implements cancel_job.
func (d *Dispatcher) CancelJob(tableID defs.TableId, j *table.Job) Result {
	t, ok := d.Proc.OwnedTable(tableID)
	if !ok {
		return Err(defs.EDoesNotExist, 0)
	}
	t.CancelJob(j)
	return Ok(0)
}

// QueryTable implements query_table: returns a query handle (here, the
// *table.Query itself -- callers thread it through to QueryNext) rather
// than a fresh syscall-surface handle, matching the spec's QueryHandle
// being opaque to the client.
func (d *Dispatcher) QueryTable(name string, tags []string) (*table.Query, Result) {
	tk := d.Registry.QueryTable(name, tags)
	res := await(d.Self, tk)
	if res.Err != defs.EOK {
		return nil, Err(res.Err, 0)
	}
	return res.Value, Ok(0)
}

// QueryNext implements query_next: produces the next matching TableId or
// NotFound.
func (d *Dispatcher) QueryNext(q *table.Query) Result {
	id, ok := q.QueryNext()
	if !ok {
		return Err(defs.EDoesNotExist, 0)
	}
	return Ok(uint64(id))
}

