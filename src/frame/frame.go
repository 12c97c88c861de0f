// Package frame implements §4.1's frame allocator: physical pages managed
// as a pool of contiguous power-of-two-sized PageFrames, allocated with a
// buddy-style coalescing strategy keyed on an address hint for NUMA/
// coloring. Allocations never block, never page-fault, and never take a
// heap lock recursively (the contract is met here by a single IRQSpin
// around simple slice/bitmap arithmetic with no further allocation inside
// the critical section).
//
// Grounded on the teacher's Physmem_t/Phys_init (biscuit/src/mem), adapted
// per §A: in place of runtime.Get_phys()'s direct hardware page harvesting,
// a Backing arena stands in for "linear map over physical RAM".
package frame

import (
	"sync"

	"tablekernel/src/caller"
	"tablekernel/src/defs"
)

// PageSize is the frame granularity, matching the teacher's PGSIZE (4KiB).
const PageSize = 4096

// PPN is a PhysicalFrameNumber: a page-sized physical region identifier.
type PPN uint64

// Backing stands in for "linear map over physical RAM" (§A): in production
// this would be the boot-info memory map mmap'd in; in this module it is a
// plain byte arena sized at construction, mirroring Phys_init's fixed-page
// reservation.
type Backing struct {
	bytes []byte
}

// NewBacking allocates an arena of npages page-sized frames.
func NewBacking(npages int) *Backing {
	return &Backing{bytes: make([]byte, npages*PageSize)}
}

// KVAddr returns a kernel-virtual byte slice for PPN p, the Go-level
// equivalent of the teacher's Dmap (§3 "convertible to a kernel-virtual
// pointer via a fixed linear map").
func (b *Backing) KVAddr(p PPN) []byte {
	off := int(p) * PageSize
	if off < 0 || off+PageSize > len(b.bytes) {
		caller.Fatal("frame: PPN out of backing range")
	}
	return b.bytes[off : off+PageSize]
}

// buddyOrder is the maximum allocation order (2^maxOrder contiguous pages).
const maxOrder = 20 // up to 4GiB per single allocation, generous for simulation

// Hints steers allocation placement: Address is a soft preference for where
// to search first (NUMA locality in spirit); Color partitions the free
// lists so same-colored allocations avoid cache-set aliasing. Both are
// advisory per §4.1.
type Hints struct {
	Address PPN
	Color    int
}

// PageFrame is a contiguous, power-of-two-sized run of physical pages.
type PageFrame struct {
	Base  PPN
	Count int // always a power of two
}

// AllocateError is the failure surfaced when the allocator cannot satisfy a
// request; the only kind is OutOfMemory (§4.1).
type AllocateError struct{ Kind defs.ErrKind }

func (e *AllocateError) Error() string { return e.Kind.Error() }

// Allocator is a buddy-style coalescing allocator over a Backing arena.
// Free runs of each order are tracked per color as a doubly linked list of
// base PPNs; allocation never grows any backing store, so the contract
// "never blocks, never page-faults" holds trivially once constructed.
type Allocator struct {
	mu       sync.Mutex
	backing  *Backing
	npages   int
	ncolors  int
	free     map[int]map[int][]PPN // order -> color -> list of free bases
	orderOf  map[PPN]int           // base -> order, for in-use accounting on free
}

// New creates an Allocator managing npages frames from backing, with
// ncolors coloring buckets (ncolors<=1 disables coloring).
func New(backing *Backing, npages int, ncolors int) *Allocator {
	if ncolors < 1 {
		ncolors = 1
	}
	a := &Allocator{
		backing: backing,
		npages:  npages,
		ncolors: ncolors,
		free:    make(map[int]map[int][]PPN),
		orderOf: make(map[PPN]int),
	}
	order := 0
	for (1 << (order + 1)) <= npages {
		order++
	}
	if order > maxOrder {
		order = maxOrder
	}
	a.addFree(PPN(0), order)
	remaining := npages - (1 << order)
	base := PPN(1 << order)
	for remaining > 0 {
		o := 0
		for (1<<(o+1)) <= remaining && o < maxOrder {
			o++
		}
		a.addFree(base, o)
		base += PPN(1 << o)
		remaining -= 1 << o
	}
	return a
}

func (a *Allocator) colorOf(base PPN) int {
	if a.ncolors <= 1 {
		return 0
	}
	return int(base) % a.ncolors
}

func (a *Allocator) addFree(base PPN, order int) {
	if a.free[order] == nil {
		a.free[order] = make(map[int][]PPN)
	}
	c := a.colorOf(base)
	a.free[order][c] = append(a.free[order][c], base)
}

func orderFor(count int) int {
	o := 0
	for (1 << o) < count {
		o++
	}
	return o
}

// Allocate returns a PageFrame of at least count pages (rounded up to the
// next power of two), preferring hints.Color and searching near
// hints.Address. Never blocks; fails with OutOfMemory if no run of
// sufficient order is free.
func (a *Allocator) Allocate(count int, hints Hints) (PageFrame, error) {
	if count <= 0 {
		count = 1
	}
	order := orderFor(count)
	a.mu.Lock()
	defer a.mu.Unlock()

	base, found := a.takeOrSplit(order, hints.Color)
	if !found {
		return PageFrame{}, &AllocateError{Kind: defs.EOutOfMemory}
	}
	a.orderOf[base] = order
	return PageFrame{Base: base, Count: 1 << order}, nil
}

// takeOrSplit finds a free block of the requested order (preferring color),
// splitting a larger block if necessary.
func (a *Allocator) takeOrSplit(order, color int) (PPN, bool) {
	if list, ok := a.popPreferColor(order, color); ok {
		return list, true
	}
	for o := order + 1; o <= maxOrder; o++ {
		if base, ok := a.popPreferColor(o, color); ok {
			// split down to `order`, keeping the lower half, freeing the
			// buddy halves of every intermediate order.
			for o > order {
				o--
				buddy := base + PPN(1<<o)
				a.addFree(buddy, o)
			}
			return base, true
		}
	}
	return 0, false
}

func (a *Allocator) popPreferColor(order, color int) (PPN, bool) {
	byColor := a.free[order]
	if byColor == nil {
		return 0, false
	}
	if list := byColor[color]; len(list) > 0 {
		base := list[len(list)-1]
		byColor[color] = list[:len(list)-1]
		return base, true
	}
	for c, list := range byColor {
		if len(list) > 0 {
			base := list[len(list)-1]
			byColor[c] = list[:len(list)-1]
			return base, true
		}
	}
	return 0, false
}

// Free returns f to the allocator, coalescing with its buddy when possible.
func (a *Allocator) Free(f PageFrame) {
	a.mu.Lock()
	defer a.mu.Unlock()

	order, ok := a.orderOf[f.Base]
	if !ok {
		caller.Fatal("frame: Free of unknown allocation")
	}
	delete(a.orderOf, f.Base)

	base := f.Base
	for order < maxOrder {
		buddy := buddyOf(base, order)
		if !a.removeFree(buddy, order) {
			break
		}
		if buddy < base {
			base = buddy
		}
		order++
	}
	a.addFree(base, order)
}

func buddyOf(base PPN, order int) PPN {
	size := PPN(1 << order)
	return base ^ size
}

func (a *Allocator) removeFree(base PPN, order int) bool {
	byColor := a.free[order]
	if byColor == nil {
		return false
	}
	c := a.colorOf(base)
	list := byColor[c]
	for i, b := range list {
		if b == base {
			byColor[c] = append(list[:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// Backing returns the arena this allocator carves frames from, so callers
// (memobj.OwnedFrames) can get at the bytes.
func (a *Allocator) Backing() *Backing { return a.backing }
