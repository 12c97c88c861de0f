// Package memobj implements §3's MemoryObject: an abstract, ref-counted
// provider of an ordered sequence of physical frames. Three variants are
// specified: OwnedFrames (allocated, zeroable, freed on drop), DeviceFrames
// (MMIO/DMA, not freed), and DriverImage (a contiguous boot-time range).
// The frame list is stable for the object's lifetime; MemoryObject is
// shared via reference counting, matching the teacher's Page_i/Mmapinfo_t
// abstraction over a Pg_t array (biscuit/src/mem) generalized into an
// explicit interface with three concrete implementations instead of one
// physical-memory singleton wearing every hat.
package memobj

import (
	"sync/atomic"

	"tablekernel/src/caller"
	"tablekernel/src/frame"
)

// MemoryObject is an abstract provider of an ordered sequence of physical
// frames (§3). physical_pages_len/physical_pages are implemented by each
// variant directly since Go has no default-method traits.
type MemoryObject interface {
	// Len reports the number of frames backing this object.
	Len() int
	// Pages streams each frame in order to cb; cb returning false stops
	// iteration early.
	Pages(cb func(i int, p frame.PPN) bool)
	// Retain increments the shared reference count.
	Retain()
	// Release decrements the reference count, freeing backing resources
	// (for OwnedFrames) when it reaches zero.
	Release()
}

type refcount struct {
	n atomic.Int32
}

func (r *refcount) retain() {
	if r.n.Add(1) <= 1 {
		caller.Fatal("memobj: retain on a dead object")
	}
}

// returns true if this was the last reference
func (r *refcount) release() bool {
	n := r.n.Add(-1)
	if n < 0 {
		caller.Fatal("memobj: release underflow")
	}
	return n == 0
}

// OwnedFrames is memory the kernel allocated; it is zeroable and freed when
// the last reference drops.
type OwnedFrames struct {
	refcount
	alloc  *frame.Allocator
	frames []frame.PageFrame // one or more PageFrame runs composing the object
	pages  []frame.PPN       // flattened per-page index, built once at creation
}

// NewOwnedFrames allocates npages zeroed pages from alloc as one or more
// PageFrame runs (the allocator only hands out power-of-two runs, so an
// arbitrary npages may require several).
func NewOwnedFrames(alloc *frame.Allocator, npages int, hints frame.Hints) (*OwnedFrames, error) {
	o := &OwnedFrames{alloc: alloc}
	o.n.Store(1)
	remaining := npages
	for remaining > 0 {
		f, err := alloc.Allocate(remaining, hints)
		if err != nil {
			o.freeAll()
			return nil, err
		}
		o.frames = append(o.frames, f)
		for i := 0; i < f.Count && remaining > 0; i++ {
			o.pages = append(o.pages, f.Base+frame.PPN(i))
			remaining--
		}
	}
	for _, p := range o.pages {
		kv := alloc.Backing().KVAddr(p)
		for i := range kv {
			kv[i] = 0
		}
	}
	return o, nil
}

func (o *OwnedFrames) freeAll() {
	for _, f := range o.frames {
		o.alloc.Free(f)
	}
	o.frames = nil
	o.pages = nil
}

func (o *OwnedFrames) Len() int { return len(o.pages) }

func (o *OwnedFrames) Pages(cb func(int, frame.PPN) bool) {
	for i, p := range o.pages {
		if !cb(i, p) {
			return
		}
	}
}

func (o *OwnedFrames) Retain() { o.retain() }

func (o *OwnedFrames) Release() {
	if o.release() {
		o.freeAll()
	}
}

// DeviceFrames wraps an MMIO or DMA physical region that is never freed by
// the kernel (it belongs to the device, not the page allocator).
type DeviceFrames struct {
	refcount
	base  frame.PPN
	count int
}

// NewDeviceFrames describes count frames starting at base, not owned by the
// frame allocator.
func NewDeviceFrames(base frame.PPN, count int) *DeviceFrames {
	d := &DeviceFrames{base: base, count: count}
	d.n.Store(1)
	return d
}

func (d *DeviceFrames) Len() int { return d.count }

func (d *DeviceFrames) Pages(cb func(int, frame.PPN) bool) {
	for i := 0; i < d.count; i++ {
		if !cb(i, d.base+frame.PPN(i)) {
			return
		}
	}
}

func (d *DeviceFrames) Retain() { d.retain() }
func (d *DeviceFrames) Release() {
	d.release() // nothing to free: the device owns the frames
}

// DriverImage is a contiguous range read from boot (an initfs entry, per
// §6's boot-info block): read-only, not freed by the kernel any more than
// DeviceFrames is, but semantically distinct (it's a loaded image, not a
// device register window), matching DriverImage's separate role in §3.
type DriverImage struct {
	refcount
	base  frame.PPN
	count int
}

// NewDriverImage describes count frames starting at base holding a loaded
// driver image.
func NewDriverImage(base frame.PPN, count int) *DriverImage {
	d := &DriverImage{base: base, count: count}
	d.n.Store(1)
	return d
}

func (d *DriverImage) Len() int { return d.count }

func (d *DriverImage) Pages(cb func(int, frame.PPN) bool) {
	for i := 0; i < d.count; i++ {
		if !cb(i, d.base+frame.PPN(i)) {
			return
		}
	}
}

func (d *DriverImage) Retain()  { d.retain() }
func (d *DriverImage) Release() { d.release() }
