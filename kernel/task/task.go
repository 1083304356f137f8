// Package task implements the Task Manager described in spec §4.5:
// workers (address-space owners), tasks (fixed per-task user stacks),
// ELF program loading, and a cooperative round-robin scheduler.
package task

import (
	"bytes"
	"debug/elf"
	"unsafe"

	"github.com/RadianOS/radianos/kernel"
	"github.com/RadianOS/radianos/kernel/cpu"
	"github.com/RadianOS/radianos/kernel/db"
	"github.com/RadianOS/radianos/kernel/mem"
	"github.com/RadianOS/radianos/kernel/pmm"
	"github.com/RadianOS/radianos/kernel/vmm"
)

// TaskStackBase is the fixed virtual address every task's user stack page
// is mapped at, per spec §3.
const TaskStackBase = 0x1100_0000

var (
	errWorkerNotFound = &kernel.Error{Module: "task", Message: "unknown worker"}
	errTaskCapacity   = &kernel.Error{Module: "task", Message: "worker task capacity exceeded"}
	errELFParse       = &kernel.Error{Module: "task", Message: "failed to parse ELF image"}
)

// switchToUsermodeFn is overridden by tests so SwitchToUsermode's callers
// can be exercised without executing a real SYSRETQ.
var switchToUsermodeFn = cpu.SwitchToUsermode

// TaskHandle names one task as a (worker, index) pair: tasks are not
// tagged db.ObjectHandles since only the worker that owns a task ever
// dereferences it.
type TaskHandle struct {
	Worker db.ObjectHandle
	Index  int
}

// NewWorker registers aspace as the address space of a fresh Worker.
func NewWorker(d *db.Database, aspace db.ObjectHandle) db.ObjectHandle {
	return d.NewWorker(aspace)
}

// NewTask allocates a zeroed stack frame, maps it at TaskStackBase in
// worker's address space, and appends a Task to worker. Worker capacity
// overflow is a hard assertion (spec §4.5's failure semantics), not a
// recoverable error.
func NewTask(d *db.Database, worker db.ObjectHandle) (TaskHandle, *kernel.Error) {
	w := d.Worker(worker)
	if w == nil {
		return TaskHandle{}, errWorkerNotFound
	}
	if len(w.Tasks) >= db.MaxTasksPerWork {
		kernel.Panic(errTaskCapacity)
		return TaskHandle{}, errTaskCapacity
	}

	frame, err := pmm.AllocPageZeroed()
	if err != nil {
		return TaskHandle{}, err
	}
	if err := vmm.MapSingle(d, w.Aspace, frame.BasePtr(), TaskStackBase, vmm.FlagPresent|vmm.FlagReadWrite); err != nil {
		return TaskHandle{}, err
	}

	idx := len(w.Tasks)
	w.Tasks = append(w.Tasks, db.Task{StackPage: frame})
	return TaskHandle{Worker: worker, Index: idx}, nil
}

// LoadELFIntoWorker parses a 64-bit little-endian ELF image and maps its
// PT_LOAD segments into worker's address space: one fresh frame per
// page, file bytes copied in (clamped to the page and to Filesz), the
// mem_size-file_size BSS tail left zero (AllocPageZeroed already zeroes
// it). PT_DYNAMIC segments are skipped; there is no dynamic linking. If
// main is true, the image's entry point is recorded on the worker.
func LoadELFIntoWorker(d *db.Database, worker db.ObjectHandle, data []byte, main bool) *kernel.Error {
	w := d.Worker(worker)
	if w == nil {
		return errWorkerNotFound
	}

	f, perr := elf.NewFile(bytes.NewReader(data))
	if perr != nil {
		return errELFParse
	}

	const flags = vmm.FlagPresent | vmm.FlagReadWrite | vmm.FlagUserSupervisor

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}

		segData := make([]byte, prog.Filesz)
		if _, err := prog.ReadAt(segData, 0); err != nil {
			return errELFParse
		}

		pageBase := mem.AlignDown(uintptr(prog.Vaddr))
		pageEnd := mem.AlignUp(uintptr(prog.Vaddr) + uintptr(prog.Memsz))
		pageCount := uint64(pageEnd-pageBase) >> mem.PageShift

		for p := uint64(0); p < pageCount; p++ {
			vaddr := pageBase + uintptr(p)*uintptr(mem.PageSize)

			frame, ferr := pmm.AllocPageZeroed()
			if ferr != nil {
				return ferr
			}
			if err := copyELFPage(frame, prog.Vaddr, vaddr, segData); err != nil {
				return err
			}
			if err := vmm.MapSingle(d, w.Aspace, frame.BasePtr(), vaddr, flags); err != nil {
				return err
			}
		}
	}

	if main {
		w.EntryPoint = f.Entry
	}
	return nil
}

// copyELFPage copies whatever part of segData belongs to the page at
// vaddr (a page-aligned address within [segVaddr, segVaddr+len(segData))
// or beyond it, in the BSS-only case) into frame.
func copyELFPage(frame pmm.Handle, segVaddr uint64, vaddr uintptr, segData []byte) *kernel.Error {
	segOffset := int64(vaddr) - int64(segVaddr)
	destStart, srcStart := int64(0), segOffset
	if srcStart < 0 {
		destStart, srcStart = -srcStart, 0
	}
	srcEnd := srcStart + (int64(mem.PageSize) - destStart)
	if srcEnd > int64(len(segData)) {
		srcEnd = int64(len(segData))
	}
	if srcEnd > srcStart {
		dst := (*[mem.PageSize]byte)(unsafe.Pointer(frame.BasePtr()))
		copy(dst[destStart:], segData[srcStart:srcEnd])
	}
	return nil
}

// SwitchToUsermode transitions the calling worker's task to ring 3 at
// rip. The scheduler does not save or restore register state across this
// call; a task that returns from ring 3 is expected to have arranged its
// own way back (spec §4.5, §9 open question).
func SwitchToUsermode(rip uintptr) {
	switchToUsermodeFn(rip)
}

// SchedulerTick advances the round-robin "active" worker by one and
// returns its handle. It clears ACTIVE on the currently active worker (if
// any) and sets it on the next worker slot, wrapping from the last slot
// back to slot 1 so the reserved slot 0 is skipped. No register state is saved or restored; this is a
// cooperative hint, not a preemptive context switch.
func SchedulerTick(d *db.Database) db.ObjectHandle {
	n := d.NumWorkers()
	if n <= 1 {
		return db.NoneHandle
	}

	activeIdx := 0
	for i := 1; i < n; i++ {
		if w := d.WorkerAt(i); w != nil && w.Flags&db.WorkerActive != 0 {
			activeIdx = i
			w.Flags &^= db.WorkerActive
			break
		}
	}

	next := activeIdx + 1
	if next >= n {
		next = 1
	}
	if w := d.WorkerAt(next); w != nil {
		w.Flags |= db.WorkerActive
	}
	return db.ObjectHandle{ID: uint16(next), Type: db.TypeWorker}
}
