// Package object implements §3's Object: a polymorphic capability handle
// exposing any subset of read/write/open/create/seek/poll/share/map.
// Per §9 ("avoid vtables on the hot path"), Object is not an interface with
// nine methods most implementers would leave unimplemented; it is a
// capability bitset plus a small struct of optional function fields, so the
// common read/write/seek dispatch is a direct field call instead of an
// interface method lookup, and an absent capability is a simple nil check
// instead of a method that panics or type-asserts.
//
// Grounded on the teacher's Fdops_i/Fd_t dispatch (biscuit/src/fd,
// biscuit/src/fdops): Fd_t holds a Fops interface value as its dispatch
// target; here the dispatch target is this bitset-and-funcs struct instead
// of a single do-everything interface, matching §9's "tagged-variant
// dispatcher... routes to the implementation or returns NotImplemented."
package object

import (
	"tablekernel/src/defs"
	"tablekernel/src/memobj"
	"tablekernel/src/ticket"
)

// Cap is a bitset of the operations an Object supports.
type Cap uint16

const (
	CapRead Cap = 1 << iota
	CapWrite
	CapOpen
	CapCreate
	CapSeek
	CapPoll
	CapShare
	CapMap
)

// Bytes is a read/write payload copied across the object boundary.
type Bytes []byte

// From describes a seek origin and offset (§6 seek anchors).
type From struct {
	Anchor defs.SeekAnchor
	Offset int64
}

// Object is a capability handle. Each operation field is independent; a nil
// field means NotImplemented for that operation, matching §3 ("each
// operation is independent and implementations may support any subset").
type Object struct {
	Name string // diagnostic only, not part of any wire format

	ReadFn   func(len int, peek bool) ticket.Ticket[Bytes]
	WriteFn  func(b Bytes) ticket.Ticket[uint64]
	OpenFn   func(path []byte) ticket.Ticket[*Object]
	CreateFn func(path []byte) ticket.Ticket[*Object]
	SeekFn   func(from From) ticket.Ticket[uint64]
	PollFn   func() ticket.Ticket[uint64]
	ShareFn  func(other *Object) ticket.Ticket[uint64]
	MapFn    func(base uint64, offset, length uint64) (memobj.MemoryObject, defs.ErrKind)
}

// Caps reports which operations this Object actually supports, computed
// once from which function fields are non-nil rather than stored
// redundantly alongside them.
func (o *Object) Caps() Cap {
	var c Cap
	if o.ReadFn != nil {
		c |= CapRead
	}
	if o.WriteFn != nil {
		c |= CapWrite
	}
	if o.OpenFn != nil {
		c |= CapOpen
	}
	if o.CreateFn != nil {
		c |= CapCreate
	}
	if o.SeekFn != nil {
		c |= CapSeek
	}
	if o.PollFn != nil {
		c |= CapPoll
	}
	if o.ShareFn != nil {
		c |= CapShare
	}
	if o.MapFn != nil {
		c |= CapMap
	}
	return c
}

func notImplemented[T any]() ticket.Ticket[T] {
	return ticket.NewComplete(ticket.Fail[T](defs.ENotImplemented))
}

// Read dispatches to ReadFn or returns a pre-failed NotImplemented ticket.
func (o *Object) Read(len int, peek bool) ticket.Ticket[Bytes] {
	if o.ReadFn == nil {
		return notImplemented[Bytes]()
	}
	return o.ReadFn(len, peek)
}

// Write dispatches to WriteFn or NotImplemented.
func (o *Object) Write(b Bytes) ticket.Ticket[uint64] {
	if o.WriteFn == nil {
		return notImplemented[uint64]()
	}
	return o.WriteFn(b)
}

// Open dispatches to OpenFn or NotImplemented.
func (o *Object) Open(path []byte) ticket.Ticket[*Object] {
	if o.OpenFn == nil {
		return notImplemented[*Object]()
	}
	return o.OpenFn(path)
}

// Create dispatches to CreateFn or NotImplemented.
func (o *Object) Create(path []byte) ticket.Ticket[*Object] {
	if o.CreateFn == nil {
		return notImplemented[*Object]()
	}
	return o.CreateFn(path)
}

// Seek dispatches to SeekFn or NotImplemented.
func (o *Object) Seek(from From) ticket.Ticket[uint64] {
	if o.SeekFn == nil {
		return notImplemented[uint64]()
	}
	return o.SeekFn(from)
}

// Poll dispatches to PollFn or NotImplemented.
func (o *Object) Poll() ticket.Ticket[uint64] {
	if o.PollFn == nil {
		return notImplemented[uint64]()
	}
	return o.PollFn()
}

// Share dispatches to ShareFn or NotImplemented.
func (o *Object) Share(other *Object) ticket.Ticket[uint64] {
	if o.ShareFn == nil {
		return notImplemented[uint64]()
	}
	return o.ShareFn(other)
}

// Map dispatches to MapFn or reports NotImplemented. Map is synchronous
// (Result<MemoryObject>, not a Ticket) per §3.
func (o *Object) Map(base, offset, length uint64) (memobj.MemoryObject, defs.ErrKind) {
	if o.MapFn == nil {
		return nil, defs.ENotImplemented
	}
	return o.MapFn(base, offset, length)
}
