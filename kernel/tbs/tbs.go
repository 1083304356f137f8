// Package tbs implements the kernel's general-purpose heap: a bump-style
// arena allocator backed by an intrusive AVL interval tree, one tree per
// 2 MiB arena. Each arena's node array and allocatable span share a single
// fixed virtual region; both are demand-mapped as the tree grows.
package tbs

import (
	"unsafe"

	"github.com/RadianOS/radianos/kernel"
	"github.com/RadianOS/radianos/kernel/mem"
)

const (
	// ArenaDefaultBase is the virtual address of arena 0.
	ArenaDefaultBase = 0x10000000
	// ArenaSpacing separates successive arenas' base addresses.
	ArenaSpacing = 256 * mem.Mb
	// ArenaSpan is the size of a single arena's virtual range.
	ArenaSpan = 2 * mem.Mb
	// MaxArenas bounds how many arenas a Manager can hold.
	MaxArenas = 8

	// cacheLine is the allocation granularity; every request is rounded up
	// to a multiple of this many bytes.
	cacheLine = 64

	// nodeAreaSize is carved out of the front of every arena to hold its
	// node array; the remainder is the allocatable span.
	nodeAreaSize = 256 * mem.Kb
)

var nodeSize = uintptr(unsafe.Sizeof(Node{}))

var (
	errNoFreeInterval  = &kernel.Error{Module: "tbs", Message: "no free interval large enough"}
	errUnknownInterval = &kernel.Error{Module: "tbs", Message: "base does not name a known interval"}
	errDoubleFree      = &kernel.Error{Module: "tbs", Message: "interval already free"}
	errNoArenaSlot     = &kernel.Error{Module: "tbs", Message: "no more arena slots"}
)

// ArenaBacking ensures the page containing vaddr is mapped before the tree
// touches it. Production wires this to PMM+VMM (see KernelBacking); tests
// use a flat host buffer whose memory already exists.
type ArenaBacking interface {
	EnsurePage(vaddr uintptr) *kernel.Error
}

// Node is one interval tree node: [base, base+length) tagged free or used.
// Node 0 is the reserved null sentinel; a zero left/right/parent field
// means "absent", mirroring the handle tables in package db.
type Node struct {
	base   uint64
	length uint64
	left   uint16
	right  uint16
	parent uint16
	height uint8
	isFree bool
}

// Tree is one arena's interval tree. Its node array and allocatable heap
// both live in the byte range [treeBase, treeBase+ArenaSpan); treeBase is
// the arena's own address, not a copy, so reads and writes through it see
// the same memory the kernel's own address space maps.
type Tree struct {
	backing     ArenaBacking
	treeBase    uintptr
	heapBase    uintptr
	heapLimit   uintptr
	backedBytes uintptr
	count       uint16
	root        uint16
}

// NewTree creates a tree whose node array and heap live at base, which
// must name a mapped-or-mappable ArenaSpan-sized virtual range. The
// initial state is a single free interval spanning the whole heap.
func NewTree(base uintptr, backing ArenaBacking) (*Tree, *kernel.Error) {
	t := &Tree{
		backing:   backing,
		treeBase:  base,
		heapBase:  base + uintptr(nodeAreaSize),
		heapLimit: base + uintptr(ArenaSpan),
	}

	if err := t.ensureNodeCapacity(2); err != nil {
		return nil, err
	}
	t.count = 1 // slot 0 is the null sentinel

	rootIdx, err := t.newNode(uint64(t.heapBase), uint64(t.heapLimit-t.heapBase), true)
	if err != nil {
		return nil, err
	}
	t.root = rootIdx

	return t, nil
}

// nodes views the tree's backed node-array bytes as a slice of Node. The
// cast bound (1<<20) is a type-level upper limit, not a real allocation,
// the same technique package pmm uses for its bitmap.
func (t *Tree) nodes() []Node {
	n := int(t.backedBytes / nodeSize)
	return (*[1 << 20]Node)(unsafe.Pointer(t.treeBase))[:n:n]
}

func (t *Tree) node(idx uint16) *Node {
	ns := t.nodes()
	return &ns[idx]
}

// ensureNodeCapacity maps whatever additional node-area pages are needed
// to back `need` node slots.
func (t *Tree) ensureNodeCapacity(need uint16) *kernel.Error {
	neededBytes := uintptr(need) * nodeSize
	if neededBytes <= t.backedBytes {
		return nil
	}
	if neededBytes > uintptr(nodeAreaSize) {
		return errNoFreeInterval
	}

	oldPages := mem.PageCount(mem.Size(t.backedBytes))
	newPages := mem.PageCount(mem.Size(neededBytes))
	for p := oldPages; p < newPages; p++ {
		addr := t.treeBase + uintptr(p)*uintptr(mem.PageSize)
		if err := t.backing.EnsurePage(addr); err != nil {
			return err
		}
	}
	t.backedBytes = uintptr(newPages) * uintptr(mem.PageSize)
	return nil
}

// newNode bump-allocates a fresh, unlinked node slot. Slots are never
// reused once a node is removed from the tree; the node area is sized so
// this is not a practical constraint for a single arena's lifetime.
func (t *Tree) newNode(base, length uint64, isFree bool) (uint16, *kernel.Error) {
	idx := t.count
	if err := t.ensureNodeCapacity(idx + 1); err != nil {
		return 0, err
	}
	t.count++
	*t.node(idx) = Node{base: base, length: length, isFree: isFree}
	return idx, nil
}

func roundUpCacheLine(size uint64) uint64 {
	if size == 0 {
		size = 1
	}
	return (size + cacheLine - 1) &^ (cacheLine - 1)
}

// findFreeFit walks the tree in ascending-base order and returns the
// first free interval at least size bytes long, or 0.
func (t *Tree) findFreeFit(idx uint16, size uint64) uint16 {
	if idx == 0 {
		return 0
	}
	n := t.node(idx)
	if found := t.findFreeFit(n.left, size); found != 0 {
		return found
	}
	if n.isFree && n.length >= size {
		return idx
	}
	return t.findFreeFit(n.right, size)
}

// Allocate rounds size up to a cache line and returns the base address of
// a fresh used interval, splitting a free interval from its high end when
// an exact-size match isn't available. The page containing the returned
// address is ensured mapped before the address is handed back.
func (t *Tree) Allocate(size uint64) (uintptr, *kernel.Error) {
	aligned := roundUpCacheLine(size)

	fit := t.findFreeFit(t.root, aligned)
	if fit == 0 {
		return 0, errNoFreeInterval
	}

	fn := t.node(fit)
	retBase := fn.base
	if fn.length == aligned {
		fn.isFree = false
	} else {
		retBase = fn.base + (fn.length - aligned)
		fn.length -= aligned
		if _, err := t.insertNode(retBase, aligned, false); err != nil {
			fn.length += aligned
			return 0, err
		}
	}

	if err := t.backing.EnsurePage(mem.AlignDown(uintptr(retBase))); err != nil {
		return 0, err
	}
	return uintptr(retBase), nil
}

// insertNode allocates a new node slot and links it into the tree keyed
// on base, rebalancing as it goes.
func (t *Tree) insertNode(base, length uint64, isFree bool) (uint16, *kernel.Error) {
	idx, err := t.newNode(base, length, isFree)
	if err != nil {
		return 0, err
	}
	newRoot := t.insert(t.root, idx)
	t.node(newRoot).parent = 0
	t.root = newRoot
	return idx, nil
}

func (t *Tree) findByBase(idx uint16, base uint64) uint16 {
	for idx != 0 {
		n := t.node(idx)
		if base == n.base {
			return idx
		}
		if base < n.base {
			idx = n.left
		} else {
			idx = n.right
		}
	}
	return 0
}

// Free marks the used interval starting at base as free, then coalesces
// with its address-adjacent neighbours on each side. Neighbours are found
// by re-walking the tree (in-order predecessor/successor), not by
// assuming tree-structural adjacency matches address adjacency.
func (t *Tree) Free(base uintptr) *kernel.Error {
	idx := t.findByBase(t.root, uint64(base))
	if idx == 0 {
		return errUnknownInterval
	}
	n := t.node(idx)
	if n.isFree {
		return errDoubleFree
	}
	n.isFree = true

	for {
		pred := t.predecessor(idx)
		if pred == 0 {
			break
		}
		pn, cur := t.node(pred), t.node(idx)
		if !pn.isFree || pn.base+pn.length != cur.base {
			break
		}
		pn.length += cur.length
		t.removeNode(idx)
		idx = pred
	}
	for {
		succ := t.successor(idx)
		if succ == 0 {
			break
		}
		sn, cur := t.node(succ), t.node(idx)
		if !sn.isFree || cur.base+cur.length != sn.base {
			break
		}
		cur.length += sn.length
		t.removeNode(succ)
	}
	return nil
}

func (t *Tree) removeNode(idx uint16) {
	t.root = t.deleteNode(t.root, idx)
	if t.root != 0 {
		t.node(t.root).parent = 0
	}
}

// KernelBacking wires ArenaBacking to the real PMM+VMM: it maps a fresh
// zeroed frame into the given address space whenever the tree touches an
// unmapped page.
type KernelBacking struct {
	mapPage func(vaddr uintptr) *kernel.Error
}

// NewKernelBacking builds a KernelBacking around a page-mapping function,
// typically a closure over a *db.Database and vmm.AddressSpaceHandle
// (kept out of this package to avoid tbs depending on vmm's test-only
// symbols; see package kmain for the production wiring).
func NewKernelBacking(mapPage func(vaddr uintptr) *kernel.Error) *KernelBacking {
	return &KernelBacking{mapPage: mapPage}
}

// EnsurePage implements ArenaBacking.
func (b *KernelBacking) EnsurePage(vaddr uintptr) *kernel.Error {
	return b.mapPage(mem.AlignDown(vaddr))
}

// Manager owns up to MaxArenas trees and routes allocation requests
// across them, trying each in turn.
type Manager struct {
	trees [MaxArenas]*Tree
	count int
}

// ArenaBase returns the fixed virtual base address of arena i.
func ArenaBase(i int) uintptr {
	return uintptr(ArenaDefaultBase) + uintptr(i)*uintptr(ArenaSpacing)
}

// NewArena constructs a tree at base and registers it with m.
func (m *Manager) NewArena(base uintptr, backing ArenaBacking) (*Tree, *kernel.Error) {
	if m.count >= MaxArenas {
		return nil, errNoArenaSlot
	}
	t, err := NewTree(base, backing)
	if err != nil {
		return nil, err
	}
	m.trees[m.count] = t
	m.count++
	return t, nil
}

// Allocate tries each registered arena in order and returns the first
// successful allocation.
func (m *Manager) Allocate(size uint64) (uintptr, *kernel.Error) {
	for i := 0; i < m.count; i++ {
		if ptr, err := m.trees[i].Allocate(size); err == nil {
			return ptr, nil
		}
	}
	return 0, errNoFreeInterval
}

// Free locates the arena owning addr and frees the interval within it.
func (m *Manager) Free(addr uintptr) *kernel.Error {
	for i := 0; i < m.count; i++ {
		t := m.trees[i]
		if addr >= t.treeBase && addr < t.treeBase+uintptr(ArenaSpan) {
			return t.Free(addr)
		}
	}
	return errUnknownInterval
}
