// Package aspace implements §4.2's AddressSpace and mapper: per-process and
// kernel-wide maps of (inclusive page range -> MemoryObject), programmed
// against an Arch (the MMU stand-in, §A). Grounded on the teacher's
// Vm_t/Vmregion_t (biscuit/src/vm), generalized from a single page-table
// format to the spec's object-agnostic (base, length, MemoryObject)
// mapping list with explicit guard-page placement and the three map/unmap
// failure taxonomies §4.2 calls out.
package aspace

import (
	"fmt"
	"sort"
	"sync"

	"tablekernel/src/defs"
	"tablekernel/src/frame"
	"tablekernel/src/memobj"
)

// VAddr is a virtual address, measured in bytes.
type VAddr uint64

const pageSize = frame.PageSize

// KernelWindowBase is the fixed high-half window kernel mappings live in;
// §4.2 requires it reserve at least 32 TiB.
const KernelWindowBase VAddr = 1 << 47

const kernelWindowSize VAddr = 32 << 40 // 32 TiB, §4.2's reserved minimum

// canonicalHoleLo/Hi model the amd64 canonical-address hole every mapping
// must avoid crossing (§4.2 "no range crosses the canonical-address hole").
const (
	canonicalHoleLo VAddr = 1 << 47
	canonicalHoleHi VAddr = 0xffff8000_00000000
)

// MapErrKind enumerates §4.2's map_object/unmap_object failure taxonomy.
type MapErrKind int

const (
	ErrNone MapErrKind = iota
	ErrOverflow
	ErrZeroSize
	ErrUnalignedOffset
	ErrArchFault
	ErrPartialUnmapUnsupported
)

func (e MapErrKind) Error() string {
	switch e {
	case ErrOverflow:
		return "overflow"
	case ErrZeroSize:
		return "zero size"
	case ErrUnalignedOffset:
		return "unaligned offset"
	case ErrArchFault:
		return "arch fault"
	case ErrPartialUnmapUnsupported:
		return "partial unmap unsupported"
	default:
		return "no error"
	}
}

// AsErrKind maps a MapErrKind to the stable wire error code (§6).
func (e MapErrKind) AsErrKind() defs.ErrKind {
	switch e {
	case ErrOverflow:
		return defs.EOverflow
	case ErrZeroSize, ErrUnalignedOffset:
		return defs.EInvalidArg
	case ErrArchFault:
		return defs.EInvalidArg
	case ErrPartialUnmapUnsupported:
		return defs.EInvalidArg
	default:
		return defs.EOK
	}
}

// Arch stands in for MMU page-table programming (§A): map/unmap/activate/
// identity_map/ArchFault. SoftwareArch backs tests and the in-process
// simulation; a real implementation would drive CR3/page tables.
type Arch interface {
	// Map programs rng -> obj with the given access rights. Returns
	// ErrArchFault on failure (e.g. unsupported rights combination).
	Map(rng Range, obj memobj.MemoryObject, rwx defs.Rwx) error
	// Unmap removes any mapping over rng.
	Unmap(rng Range) error
	// Activate switches the MMU root to this address space (conceptually;
	// SoftwareArch is a no-op since there's no real MMU under test).
	Activate()
	// ActivateDefault switches back to the boot-time default root. Any user
	// pointer held across this call is invalid afterwards; callers must not
	// hold one (§4.2).
	ActivateDefault()
}

// SoftwareArch is a no-op Arch used by tests and the simulation boundary:
// it never faults and never actually programs hardware, standing in for
// "MMU accepted the mapping" (§A).
type SoftwareArch struct{}

func (SoftwareArch) Map(Range, memobj.MemoryObject, defs.Rwx) error { return nil }
func (SoftwareArch) Unmap(Range) error                              { return nil }
func (SoftwareArch) Activate()                                      {}
func (SoftwareArch) ActivateDefault()                               {}

// Range is an inclusive-start, exclusive-end page range, measured in bytes
// but always page-aligned at both ends.
type Range struct {
	Start VAddr
	End   VAddr // exclusive
}

func (r Range) Len() VAddr { return r.End - r.Start }

func (r Range) overlaps(o Range) bool {
	return r.Start < o.End && o.Start < r.End
}

// Mapping is one (page range -> MemoryObject) entry.
type Mapping struct {
	Range  Range
	Object memobj.MemoryObject
	Rwx    defs.Rwx
	Offset uint64 // bytes skipped at the front of Object
}

// AddressSpace holds one process's (or the kernel's) sorted mapping list
// and an Arch to program. Kernel mappings live in a single process-wide
// list distinct from per-process user mappings (§3); callers construct a
// second AddressSpace with Base==KernelWindowBase for that purpose and the
// process-wide singleton is owned by whatever wires proc together.
type AddressSpace struct {
	mu       sync.Mutex
	arch     Arch
	mappings []Mapping // sorted by Range.Start, non-overlapping (Invariant 1)
	base     VAddr     // lowest address this address space may place auto-mapped objects at
	limit    VAddr     // exclusive upper bound for auto-placement
}

// New creates an AddressSpace that auto-places objects in [base, limit)
// using arch to program the MMU.
func New(arch Arch, base, limit VAddr) *AddressSpace {
	return &AddressSpace{arch: arch, base: base, limit: limit}
}

// NewKernel creates the kernel-wide AddressSpace at its fixed high-half
// window (§4.2).
func NewKernel(arch Arch) *AddressSpace {
	return New(arch, KernelWindowBase, KernelWindowBase+kernelWindowSize)
}

func alignUp(v VAddr) VAddr   { return (v + VAddr(pageSize) - 1) &^ VAddr(pageSize-1) }
func isAligned(v VAddr) bool  { return v%VAddr(pageSize) == 0 }

func crossesHole(r Range) bool {
	return r.Start < canonicalHoleHi && r.End > canonicalHoleLo
}

// findFreeRange scans as.mappings (already sorted) for the lowest free
// region of size length past the last existing mapping, leaving one guard
// page before the next mapping if any (§3 "a single guard page separates
// consecutive objects allocated automatically").
func (as *AddressSpace) findFreeRange(length VAddr) (VAddr, error) {
	guard := VAddr(pageSize)
	cursor := as.base
	for _, m := range as.mappings {
		candidateEnd := cursor + length
		if candidateEnd+guard <= m.Range.Start {
			return cursor, nil
		}
		if m.Range.End+guard > cursor {
			cursor = m.Range.End + guard
		}
	}
	if cursor+length > as.limit {
		return 0, ErrOverflow
	}
	return cursor, nil
}

// insertSorted inserts m keeping as.mappings sorted by Start, preserving
// Invariant 1 (sorted, non-overlapping).
func (as *AddressSpace) insertSorted(m Mapping) {
	i := sort.Search(len(as.mappings), func(i int) bool {
		return as.mappings[i].Range.Start >= m.Range.Start
	})
	as.mappings = append(as.mappings, Mapping{})
	copy(as.mappings[i+1:], as.mappings[i:])
	as.mappings[i] = m
}

// MapObject implements §4.2's map_object. If base is nil, the lowest free
// region past the last existing mapping (plus guard page) is chosen. The
// first offset bytes of object are skipped; up to maxLength bytes are
// mapped (clamped to the object's actual remaining length).
func (as *AddressSpace) MapObject(base *VAddr, object memobj.MemoryObject, rwx defs.Rwx, offset uint64, maxLength uint64) (VAddr, uint64, error) {
	if object.Len() == 0 {
		return 0, 0, ErrZeroSize
	}
	if offset%pageSize != 0 {
		return 0, 0, ErrUnalignedOffset
	}

	objBytes := uint64(object.Len()) * pageSize
	if offset >= objBytes {
		return 0, 0, ErrZeroSize
	}
	avail := objBytes - offset
	length := maxLength
	if length == 0 || length > avail {
		length = avail
	}
	length = uint64(alignUp(VAddr(length)))
	if length == 0 {
		return 0, 0, ErrZeroSize
	}

	as.mu.Lock()
	defer as.mu.Unlock()

	var start VAddr
	if base != nil {
		if !isAligned(*base) {
			return 0, 0, ErrUnalignedOffset
		}
		start = *base
		rng := Range{Start: start, End: start + VAddr(length)}
		for _, m := range as.mappings {
			if rng.overlaps(m.Range) {
				return 0, 0, ErrOverflow
			}
		}
	} else {
		var err error
		start, err = as.findFreeRange(VAddr(length))
		if err != nil {
			return 0, 0, err.(MapErrKind)
		}
	}

	rng := Range{Start: start, End: start + VAddr(length)}
	if crossesHole(rng) {
		return 0, 0, ErrOverflow
	}
	if err := as.arch.Map(rng, object, rwx); err != nil {
		return 0, 0, ErrArchFault
	}
	object.Retain()
	as.insertSorted(Mapping{Range: rng, Object: object, Rwx: rwx, Offset: offset})
	return start, length, nil
}

// UnmapObject implements §4.2's unmap_object. Three cases: exact-range
// unmap removes the entry; end-of-range unmap truncates it; any other
// overlap (a "middle" unmap) is unsupported.
func (as *AddressSpace) UnmapObject(base VAddr, count int) error {
	length := VAddr(count) * pageSize
	target := Range{Start: base, End: base + length}

	as.mu.Lock()
	defer as.mu.Unlock()

	for i, m := range as.mappings {
		if !m.Range.overlaps(target) {
			continue
		}
		switch {
		case m.Range == target:
			if err := as.arch.Unmap(target); err != nil {
				return ErrArchFault
			}
			m.Object.Release()
			as.mappings = append(as.mappings[:i], as.mappings[i+1:]...)
			return nil
		case target.Start == m.Range.Start && target.End < m.Range.End:
			// front truncation is equivalent to an end-of-range unmap from
			// the object's perspective once offset bookkeeping is updated.
			if err := as.arch.Unmap(target); err != nil {
				return ErrArchFault
			}
			as.mappings[i].Range.Start = target.End
			as.mappings[i].Offset += uint64(target.Len())
			return nil
		case target.Start > m.Range.Start && target.End == m.Range.End:
			if err := as.arch.Unmap(target); err != nil {
				return ErrArchFault
			}
			as.mappings[i].Range.End = target.Start
			return nil
		default:
			return ErrPartialUnmapUnsupported
		}
	}
	return ErrPartialUnmapUnsupported
}

// IdentityMap adds a direct phys<->virt mapping for MMIO (§4.2); size must
// be page-aligned.
func (as *AddressSpace) IdentityMap(ppn frame.PPN, size uint64) error {
	if size%pageSize != 0 {
		return ErrUnalignedOffset
	}
	base := VAddr(uint64(ppn) * pageSize)
	dev := fixedDeviceObject{ppn: ppn, npages: int(size / pageSize)}
	_, _, err := as.MapObject(&base, dev, defs.R|defs.W, 0, size)
	return err
}

// fixedDeviceObject is a trivial MemoryObject wrapping a known contiguous
// device range for IdentityMap, with no refcounting (the mapping list's
// Release call is a no-op: identity maps describe hardware, not a
// kernel-owned allocation).
type fixedDeviceObject struct {
	ppn    frame.PPN
	npages int
}

func (d fixedDeviceObject) Len() int { return d.npages }
func (d fixedDeviceObject) Pages(cb func(int, frame.PPN) bool) {
	for i := 0; i < d.npages; i++ {
		if !cb(i, d.ppn+frame.PPN(i)) {
			return
		}
	}
}
func (fixedDeviceObject) Retain()  {}
func (fixedDeviceObject) Release() {}

// Activate switches the MMU root to this address space.
func (as *AddressSpace) Activate() {
	as.arch.Activate()
}

// ActivateDefault switches the MMU root back to the boot-time default.
// Every user pointer obtained under this address space is invalid after the
// call; the caller must not hold one across it (§4.2).
func (as *AddressSpace) ActivateDefault() {
	as.arch.ActivateDefault()
}

// Lookup finds the mapping containing va, if any.
func (as *AddressSpace) Lookup(va VAddr) (Mapping, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	i := sort.Search(len(as.mappings), func(i int) bool {
		return as.mappings[i].Range.End > va
	})
	if i < len(as.mappings) && as.mappings[i].Range.Start <= va {
		return as.mappings[i], true
	}
	return Mapping{}, false
}

// Mappings returns a snapshot of the sorted mapping list, for tests and
// diagnostics verifying Invariant 1.
func (as *AddressSpace) Mappings() []Mapping {
	as.mu.Lock()
	defer as.mu.Unlock()
	out := make([]Mapping, len(as.mappings))
	copy(out, as.mappings)
	return out
}

// String renders the mapping list for debugging.
func (as *AddressSpace) String() string {
	as.mu.Lock()
	defer as.mu.Unlock()
	s := ""
	for _, m := range as.mappings {
		s += fmt.Sprintf("[%#x,%#x) rwx=%v\n", m.Range.Start, m.Range.End, m.Rwx)
	}
	return s
}
