// Package cpu builds the GDT, TSS, IDT and ISR vector table, and exposes
// the ring-transition primitives the task manager uses to enter ring 3.
// It has no dependency on any other kernel package (see spec §2: CPU is
// independent in the subsystem dependency graph).
package cpu

// EnableInterrupts sets the interrupt flag (STI), allowing maskable
// interrupts to be delivered.
func EnableInterrupts()

// DisableInterrupts clears the interrupt flag (CLI).
func DisableInterrupts()

// Halt executes HLT in a loop; used by the panic path and cooperative idle
// spins. It never returns.
func Halt()

// FlushTLBEntry invalidates the TLB entry for virtAddr (INVLPG).
func FlushTLBEntry(virtAddr uintptr)

// ReloadCR3 loads physAddr (a page-aligned PML4 frame address) into CR3,
// flushing the entire TLB.
func ReloadCR3(physAddr uintptr)

// ActiveCR3 returns the physical address currently loaded in CR3.
func ActiveCR3() uintptr

// WriteMSR writes val to the model-specific register msr.
func WriteMSR(msr uint32, val uint64)

// ReadMSR reads the model-specific register msr.
func ReadMSR(msr uint32) uint64

// LoadGDT loads the global descriptor table described by limit/base and
// reloads every segment register via a far return.
func LoadGDT(limit uint16, base uintptr)

// LoadIDT loads the interrupt descriptor table described by limit/base.
func LoadIDT(limit uint16, base uintptr)

// LoadTSS loads the task register with the selector for the TSS GDT entry.
func LoadTSS(selector uint16)

// switchToUsermode transfers control to ring 3 at rip via SYSRETQ. It
// assumes STAR/LSTAR/EFER.SCE have already been programmed by Init and
// that rflags image 0x202 is the one SYSRETQ restores.
func switchToUsermode(rip uintptr)
