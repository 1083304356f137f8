package vmm

import (
	"testing"
	"unsafe"

	"github.com/RadianOS/radianos/kernel/db"
	"github.com/RadianOS/radianos/kernel/hal"
	"github.com/RadianOS/radianos/kernel/pmm"
)

// newTestArena backs the PMM with a host-heap buffer so tests can exercise
// real frame allocation and page-table walking without real physical
// memory or privileged instructions.
func newTestArena(t *testing.T, pages uint64) {
	t.Helper()
	buf := make([]byte, (pages+8)*4096+4096)
	base := (uintptr(unsafe.Pointer(&buf[0])) + 4095) &^ 4095

	err := pmm.Init([]hal.MemoryEntry{{
		PhysAddress: base,
		PageCount:   pages + 8,
		Type:        hal.MemoryTypeConventional,
	}})
	if err != nil {
		t.Fatalf("pmm.Init: %v", err)
	}
}

func TestMapSingleThenHasMappingPresent(t *testing.T) {
	newTestArena(t, 64)

	prevFlush, prevCR3 := flushTLBEntryFn, reloadCR3Fn
	defer func() { flushTLBEntryFn, reloadCR3Fn = prevFlush, prevCR3 }()
	flushTLBEntryFn = func(uintptr) {}
	reloadCR3Fn = func(uintptr) {}

	var d db.Database
	d.Init()

	root, err := pmm.AllocPageZeroed()
	if err != nil {
		t.Fatalf("AllocPageZeroed: %v", err)
	}
	aspace, err := New(&d, root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	const vaddr = 0xB8000
	const paddr = 0xB8000
	if err := MapSingle(&d, aspace, paddr, vaddr, FlagPresent|FlagReadWrite); err != nil {
		t.Fatalf("MapSingle: %v", err)
	}

	if !HasMappingPresent(&d, aspace, vaddr) {
		t.Fatalf("expected mapping to be present after MapSingle")
	}

	if err := ReloadCR3(&d, aspace); err != nil {
		t.Fatalf("ReloadCR3: %v", err)
	}
}

func TestMapSingleLeafFlagsAndFrame(t *testing.T) {
	newTestArena(t, 64)

	var d db.Database
	d.Init()

	root, _ := pmm.AllocPageZeroed()
	aspace, err := New(&d, root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	const vaddr = 0x400000
	const paddr = 0x123000
	flags := FlagPresent | FlagReadWrite | FlagUserSupervisor
	if err := MapSingle(&d, aspace, paddr, vaddr, flags); err != nil {
		t.Fatalf("MapSingle: %v", err)
	}

	rootTbl, _ := d.AddressSpaceRoot(aspace)
	cur := table(rootTbl.BasePtr())
	idx := pageTableIndices(vaddr)
	for level := 0; level < 3; level++ {
		cur = table(cur[idx[level]].frame())
	}
	leaf := cur[idx[3]]
	if leaf.frame() != (paddr &^ 0xFFF) {
		t.Fatalf("leaf frame = %#x, want %#x", leaf.frame(), paddr&^0xFFF)
	}
	if leaf.flags() != flags {
		t.Fatalf("leaf flags = %#x, want %#x", leaf.flags(), flags)
	}
}

func TestMapIsIdempotent(t *testing.T) {
	newTestArena(t, 64)

	var d db.Database
	d.Init()
	root, _ := pmm.AllocPageZeroed()
	aspace, _ := New(&d, root)

	const vaddr = 0x600000
	const paddr = 0x600000
	flags := FlagPresent | FlagReadWrite

	if err := Map(&d, aspace, paddr, vaddr, 1, flags); err != nil {
		t.Fatalf("Map: %v", err)
	}
	if err := Map(&d, aspace, paddr, vaddr, 1, flags); err != nil {
		t.Fatalf("Map (repeat): %v", err)
	}
	if !HasMappingPresent(&d, aspace, vaddr) {
		t.Fatalf("expected mapping to remain present after repeated Map")
	}
}

func TestHasMappingPresentFalseWithoutAllocating(t *testing.T) {
	newTestArena(t, 64)

	var d db.Database
	d.Init()
	root, _ := pmm.AllocPageZeroed()
	aspace, _ := New(&d, root)

	if HasMappingPresent(&d, aspace, 0xDEAD000) {
		t.Fatalf("expected no mapping for an address never mapped")
	}
}
