// Package kmain is the only Go symbol the boot trampoline calls into. It
// brings up every subsystem in dependency order and never returns.
package kmain

import (
	"unsafe"

	"github.com/RadianOS/radianos/kernel"
	"github.com/RadianOS/radianos/kernel/cpu"
	"github.com/RadianOS/radianos/kernel/db"
	"github.com/RadianOS/radianos/kernel/hal"
	"github.com/RadianOS/radianos/kernel/kfmt/early"
	"github.com/RadianOS/radianos/kernel/pmm"
	"github.com/RadianOS/radianos/kernel/policy"
	"github.com/RadianOS/radianos/kernel/task"
	"github.com/RadianOS/radianos/kernel/tbs"
	"github.com/RadianOS/radianos/kernel/vfs"
	"github.com/RadianOS/radianos/kernel/vmm"
)

// database is the single KernelState instance threaded through every
// manager call made during boot and afterwards.
var database db.Database

// Kmain is invoked by the UEFI loader's trampoline with the memory-map
// entry count in RDI and the entry array base in RSI, per spec §6. RSP
// already points at a valid kernel stack established by the linker's
// STACK_TOP symbol.
//
// Kmain is not expected to return. If it does, the trampoline halts the
// CPU.
//
//go:noinline
func Kmain(entryCount uintptr, entries *hal.MemoryEntry) {
	memMap := unsafeMemoryMap(entryCount, entries)

	if err := pmm.Init(memMap); err != nil {
		kernel.Panic(err)
	}
	early.Printf("radianos: pmm up, %d frames\n", pmm.FrameCount())

	cpu.Init(hal.KernelStackTop)
	early.Printf("radianos: gdt/idt/tss up\n")

	database.Init()

	kernelRoot, err := pmm.AllocPageZeroed()
	if err != nil {
		kernel.Panic(err)
	}
	kernelAspace, err := vmm.New(&database, kernelRoot)
	if err != nil {
		kernel.Panic(err)
	}
	early.Printf("radianos: vmm up, kernel address space %d\n", kernelAspace.ID)

	backing := tbs.NewKernelBacking(func(vaddr uintptr) *kernel.Error {
		if vmm.HasMappingPresent(&database, kernelAspace, vaddr) {
			return nil
		}
		frame, err := pmm.AllocPageZeroed()
		if err != nil {
			return err
		}
		return vmm.MapSingle(&database, kernelAspace, frame.BasePtr(), vaddr, vmm.FlagPresent|vmm.FlagReadWrite)
	})
	var arenas tbs.Manager
	if _, err := arenas.NewArena(tbs.ArenaBase(0), backing); err != nil {
		kernel.Panic(err)
	}
	early.Printf("radianos: tbs arena 0 up\n")

	id := policy.Init(&database)
	early.Printf("radianos: policy up, admin user %d\n", id.User.ID)

	tree := vfs.Init(&database)
	early.Printf("radianos: vfs up, log node %d\n", tree.LogNode)

	kernelWorker := task.NewWorker(&database, kernelAspace)
	early.Printf("radianos: kernel worker %d registered\n", kernelWorker.ID)

	for {
		task.SchedulerTick(&database)
		cpu.Halt()
	}
}

// unsafeMemoryMap reinterprets the bootloader's flat entry array as a Go
// slice. count is bootloader-supplied and trusted, matching the contract
// in spec §6.
func unsafeMemoryMap(count uintptr, entries *hal.MemoryEntry) []hal.MemoryEntry {
	return unsafe.Slice(entries, int(count))
}
