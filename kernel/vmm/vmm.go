package vmm

import (
	"unsafe"

	"github.com/RadianOS/radianos/kernel"
	"github.com/RadianOS/radianos/kernel/cpu"
	"github.com/RadianOS/radianos/kernel/db"
	"github.com/RadianOS/radianos/kernel/hal"
	"github.com/RadianOS/radianos/kernel/pmm"
)

const entriesPerTable = 512

var (
	allocPageZeroedFn = pmm.AllocPageZeroed
	flushTLBEntryFn   = cpu.FlushTLBEntry
	reloadCR3Fn       = cpu.ReloadCR3
)

var errAlloc = &kernel.Error{Module: "vmm", Message: "failed to allocate a page-table frame"}
var errNotFound = &kernel.Error{Module: "vmm", Message: "unknown address space"}

// AddressSpaceHandle wraps a db.ObjectHandle tagged db.TypeAddressSpace.
type AddressSpaceHandle = db.ObjectHandle

// table returns the 512-entry page table stored at the identity-mapped
// physical address frameAddr.
func table(frameAddr uintptr) *[entriesPerTable]pte {
	return (*[entriesPerTable]pte)(unsafe.Pointer(frameAddr))
}

// New registers rootFrame as the root PML4 of a new address space and
// identity-maps the kernel image range [hal.KernelStart, hal.KernelEnd)
// into it with PRESENT|READ_WRITE, per spec §4.2.
func New(d *db.Database, rootFrame pmm.Handle) (AddressSpaceHandle, *kernel.Error) {
	t := table(rootFrame.BasePtr())
	for i := range t {
		t[i] = 0
	}

	h := d.NewAddressSpace(rootFrame)

	for addr := hal.KernelStart; addr < hal.KernelEnd; addr += uintptr(pageSize) {
		if err := MapSingle(d, h, addr, addr, FlagPresent|FlagReadWrite); err != nil {
			return db.NoneHandle, err
		}
	}

	return h, nil
}

const pageSize = 4096

// MapSingle walks the 4-level page table for aspace, allocating and
// zeroing any missing internal table along the way, and installs a leaf
// mapping from vaddr to paddr with flags. If a traversed internal PTE is
// already present but carries different flags, its flags are overridden
// entirely (spec §4.2 edge case); the leaf is always overwritten.
func MapSingle(d *db.Database, aspace AddressSpaceHandle, paddr, vaddr uintptr, flags PTEFlags) *kernel.Error {
	root, ok := d.AddressSpaceRoot(aspace)
	if !ok {
		return errNotFound
	}

	idx := pageTableIndices(vaddr)
	cur := table(root.BasePtr())

	for level := 0; level < 3; level++ {
		entry := cur[idx[level]]
		if !entry.present() {
			frame, err := allocPageZeroedFn()
			if err != nil {
				return errAlloc
			}
			entry = newPTE(frame.BasePtr(), flags|FlagPresent)
			cur[idx[level]] = entry
		} else if entry.flags() != flags|FlagPresent {
			entry = newPTE(entry.frame(), flags|FlagPresent)
			cur[idx[level]] = entry
		}
		cur = table(entry.frame())
	}

	cur[idx[3]] = newPTE(paddr, flags)
	return nil
}

// Map iterates MapSingle across count consecutive 4 KiB pages, advancing
// paddr and vaddr by the page size on each step.
func Map(d *db.Database, aspace AddressSpaceHandle, paddr, vaddr uintptr, count uint64, flags PTEFlags) *kernel.Error {
	for i := uint64(0); i < count; i++ {
		if err := MapSingle(d, aspace, paddr, vaddr, flags); err != nil {
			return err
		}
		paddr += uintptr(pageSize)
		vaddr += uintptr(pageSize)
	}
	return nil
}

// HasMappingPresent walks the table without allocating and reports
// whether the leaf PTE is present. A missing table at any level reports
// false rather than allocating one.
func HasMappingPresent(d *db.Database, aspace AddressSpaceHandle, vaddr uintptr) bool {
	root, ok := d.AddressSpaceRoot(aspace)
	if !ok {
		return false
	}

	idx := pageTableIndices(vaddr)
	cur := table(root.BasePtr())

	for level := 0; level < 3; level++ {
		entry := cur[idx[level]]
		if !entry.present() {
			return false
		}
		cur = table(entry.frame())
	}

	return cur[idx[3]].present()
}

// InvalidateSingle flushes the TLB entry for vaddr. Callers are
// responsible for calling this (or ReloadCR3) after mutating an existing
// mapping; mappings that grow a previously-empty subtree need no explicit
// invalidation.
func InvalidateSingle(vaddr uintptr) {
	flushTLBEntryFn(vaddr)
}

// ReloadCR3 loads aspace's root frame into CR3.
func ReloadCR3(d *db.Database, aspace AddressSpaceHandle) *kernel.Error {
	root, ok := d.AddressSpaceRoot(aspace)
	if !ok {
		return errNotFound
	}
	reloadCR3Fn(root.BasePtr())
	return nil
}
