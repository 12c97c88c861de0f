// Package usertable is the kernel-side glue for a userspace-backed table
// (§4.3): it turns client Object operations into Jobs carried over a
// stream-table Buffer. A client read/write/open/seek on an object served by
// a table server becomes a submission Record on the shared ring with its
// payload copied into the Buffer's block region; the server's completion
// Record is drained by Pump, which moves the payload back out of the shared
// buffer and fires the TicketWaker recorded under the job id.
//
// Value-returning completions (write's byte count, seek's new position,
// open's handle) travel in the completion Record's Arg1 words: Offset is
// the low half, Length the high half. Read and Peek completions instead use
// Arg1 as a real Slice naming the payload the server allocated; Pump's
// caller-side waker copies it out and frees it. CompleteValue/CompleteBytes/
// CompleteErr keep that convention in one place for the server side.
package usertable

import (
	"runtime"

	"tablekernel/src/defs"
	"tablekernel/src/object"
	"tablekernel/src/streamtable"
	"tablekernel/src/table"
	"tablekernel/src/ticket"
	"tablekernel/src/ustr"
)

// Register creates a userspace-backed table whose root Object routes every
// client operation over buf, and returns the Conn the kernel drives it
// with. Clients reach the table through the registry's normal open/create
// path (§4.3); the server drains buf's submission ring and answers on the
// completion ring.
func Register(reg *table.Registry, name string, tags []string, buf *streamtable.Buffer) (*Conn, defs.ErrKind) {
	root := &object.Object{}
	tb, errk := reg.Register(name, tags, root, false)
	if errk != defs.EOK {
		return nil, errk
	}
	c := New(tb, buf)
	*root = *c.Root(name)
	return c, defs.EOK
}

// Conn binds a userspace-backed Table to the shared Buffer its server maps.
// The kernel holds the Conn; the server holds the same *Buffer (in a real
// deployment, the same physical pages mapped into its own address space).
type Conn struct {
	Table *table.Table
	Buf   *streamtable.Buffer
}

// New wires a table to its shared buffer.
func New(t *table.Table, b *streamtable.Buffer) *Conn {
	return &Conn{Table: t, Buf: b}
}

func toWire(s table.Slice) streamtable.Slice {
	return streamtable.Slice{Offset: s.Offset, Length: s.Length}
}

func packValue(v uint64) table.Slice {
	return table.Slice{Offset: uint32(v), Length: uint32(v >> 32)}
}

func unpackValue(s table.Slice) uint64 {
	return uint64(s.Offset) | uint64(s.Length)<<32
}

// submit records the job with the table, then mirrors it onto the
// submission ring for the server. A full ring is back-pressure, not an
// error (§8): the record is retried from a goroutine while the job stays
// recorded, so delivery is delayed rather than lost.
func (c *Conn) submit(kind defs.JobKind, h defs.Handle, arg table.Slice, rec streamtable.Record, w table.JobWaker) defs.ErrKind {
	id, errk := c.Table.SubmitJob(kind, h, arg, w)
	if errk != defs.EOK {
		return errk
	}
	rec.JobID = uint32(id)
	rec.Kind = uint8(kind)
	rec.Handle = uint32(h)
	if !c.Buf.Submission.Push(rec) {
		go func() {
			for !c.Buf.Submission.Push(rec) {
				runtime.Gosched()
			}
		}()
	}
	return defs.EOK
}

// Object builds the client-visible Object for server-side handle h. Each
// capability submits the matching job kind; poll and share have no job kind
// on the wire (§6), so they stay nil and fail NotImplemented.
func (c *Conn) Object(h defs.Handle, name string) *object.Object {
	return &object.Object{
		Name: name,
		ReadFn: func(n int, peek bool) ticket.Ticket[object.Bytes] {
			return c.read(h, n, peek)
		},
		WriteFn: func(b object.Bytes) ticket.Ticket[uint64] {
			return c.write(h, b)
		},
		SeekFn: func(from object.From) ticket.Ticket[uint64] {
			return c.seek(h, from)
		},
		OpenFn: func(path []byte) ticket.Ticket[*object.Object] {
			return c.openOrCreate(defs.JobOpen, h, path)
		},
		CreateFn: func(path []byte) ticket.Ticket[*object.Object] {
			return c.openOrCreate(defs.JobCreate, h, path)
		},
	}
}

// Root returns the Object clients reach through registry open/create
// routing: the server's handle-0 namespace object.
func (c *Conn) Root(name string) *object.Object {
	return c.Object(0, name)
}

func (c *Conn) read(h defs.Handle, n int, peek bool) ticket.Ticket[object.Bytes] {
	kind := defs.JobRead
	if peek {
		kind = defs.JobPeek
	}
	tk, w := ticket.New[object.Bytes]()
	errk := c.submit(kind, h, table.NewSlice(0, uint32(n)),
		streamtable.Record{Arg0: streamtable.Slice{Length: uint32(n)}},
		func(result defs.ErrKind, out table.Slice) {
			if result != defs.EOK {
				w.Complete(ticket.Fail[object.Bytes](result))
				return
			}
			buf := make([]byte, out.Length)
			got := c.Buf.CopyOut(toWire(out), 0, buf)
			c.Buf.Free(toWire(out))
			w.Complete(ticket.Ok(object.Bytes(buf[:got])))
		})
	if errk != defs.EOK {
		w.Complete(ticket.Fail[object.Bytes](errk))
	}
	return tk
}

func (c *Conn) write(h defs.Handle, data object.Bytes) ticket.Ticket[uint64] {
	arg, ok := c.Buf.Alloc(len(data))
	if !ok {
		return ticket.NewComplete(ticket.Fail[uint64](defs.EOutOfMemory))
	}
	c.Buf.CopyIn(arg, 0, data)
	tk, w := ticket.New[uint64]()
	argSlice := table.NewSlice(arg.Offset, arg.Length)
	errk := c.submit(defs.JobWrite, h, argSlice,
		streamtable.Record{Arg0: arg},
		func(result defs.ErrKind, out table.Slice) {
			c.Buf.Free(arg)
			if result != defs.EOK {
				w.Complete(ticket.Fail[uint64](result))
				return
			}
			w.Complete(ticket.Ok(unpackValue(out)))
		})
	if errk != defs.EOK {
		c.Buf.Free(arg)
		w.Complete(ticket.Fail[uint64](errk))
	}
	return tk
}

func (c *Conn) seek(h defs.Handle, from object.From) ticket.Ticket[uint64] {
	tk, w := ticket.New[uint64]()
	errk := c.submit(defs.JobSeek, h, table.Slice{},
		streamtable.Record{FromAnchor: uint8(from.Anchor), FromOffset: from.Offset},
		func(result defs.ErrKind, out table.Slice) {
			if result != defs.EOK {
				w.Complete(ticket.Fail[uint64](result))
				return
			}
			w.Complete(ticket.Ok(unpackValue(out)))
		})
	if errk != defs.EOK {
		w.Complete(ticket.Fail[uint64](errk))
	}
	return tk
}

func (c *Conn) openOrCreate(kind defs.JobKind, h defs.Handle, path []byte) ticket.Ticket[*object.Object] {
	clean, ok := ustr.Sanitize(path)
	if !ok || len(clean) == 0 {
		return ticket.NewComplete(ticket.Fail[*object.Object](defs.EInvalidArg))
	}
	arg, allocOK := c.Buf.Alloc(len(clean))
	if !allocOK {
		return ticket.NewComplete(ticket.Fail[*object.Object](defs.EOutOfMemory))
	}
	c.Buf.CopyIn(arg, 0, clean)
	tk, w := ticket.New[*object.Object]()
	errk := c.submit(kind, h, table.NewSlice(arg.Offset, arg.Length),
		streamtable.Record{Arg0: arg},
		func(result defs.ErrKind, out table.Slice) {
			c.Buf.Free(arg)
			if result != defs.EOK {
				w.Complete(ticket.Fail[*object.Object](result))
				return
			}
			w.Complete(ticket.Ok(c.Object(defs.Handle(unpackValue(out)), clean.String())))
		})
	if errk != defs.EOK {
		c.Buf.Free(arg)
		w.Complete(ticket.Fail[*object.Object](errk))
	}
	return tk
}

// Close tells the server handle h is no longer referenced. The completion
// is discarded; close cannot fail from the client's point of view.
func (c *Conn) Close(h defs.Handle) {
	c.submit(defs.JobClose, h, table.Slice{}, streamtable.Record{},
		func(defs.ErrKind, table.Slice) {})
}

// Pump drains the completion ring, routing each record to the waker its
// table recorded under the job id, and returns the number of completions
// processed. In a real kernel this runs from the finish_job syscall path;
// the simulation calls it after the server pushes completions.
func (c *Conn) Pump() int {
	n := 0
	for {
		rec, ok := c.Buf.Completion.Pop()
		if !ok {
			return n
		}
		j := &table.Job{JobID: defs.JobId(rec.JobID)}
		c.Table.FinishJob(j, defs.ErrKind(rec.Result), table.NewSlice(rec.Arg1.Offset, rec.Arg1.Length))
		n++
	}
}

// Shutdown fails every outstanding job with Cancelled, the peer-observed
// outcome when a table's server drops its side (§5 "Resource accounting").
func (c *Conn) Shutdown() int {
	return c.Table.FailOutstanding(defs.ECancelled)
}

// CompleteValue builds the completion record for a value-returning job
// (write's byte count, seek's position, open/create's handle), packing v
// into Arg1's two words per this package's wire convention.
func CompleteValue(req streamtable.Record, v uint64) streamtable.Record {
	req.Arg1 = streamtable.Slice{Offset: uint32(v), Length: uint32(v >> 32)}
	req.Result = uint32(defs.EOK)
	return req
}

// CompleteBytes allocates a payload slice for a read/peek completion and
// copies data into it. ok is false when the buffer is out of blocks; the
// server should answer with back-pressure (retry later), not an error.
func CompleteBytes(buf *streamtable.Buffer, req streamtable.Record, data []byte) (streamtable.Record, bool) {
	s, ok := buf.Alloc(len(data))
	if !ok {
		return req, false
	}
	buf.CopyIn(s, 0, data)
	req.Arg1 = s
	req.Result = uint32(defs.EOK)
	return req, true
}

// CompleteErr builds a failed completion record.
func CompleteErr(req streamtable.Record, e defs.ErrKind) streamtable.Record {
	req.Arg1 = streamtable.Slice{}
	req.Result = uint32(e)
	return req
}
