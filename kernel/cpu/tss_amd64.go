package cpu

import "unsafe"

// TaskStateSegment is the single global TSS used to hold the ring-0 stack
// pointer loaded on every ring transition into the kernel.
type TaskStateSegment struct {
	reserved0 uint32
	RSP       [3]uint64
	reserved1 uint64
	IST       [7]uint64
	reserved2 uint64
	reserved3 uint16
	// IOMapBase points past the end of the TSS, meaning there is no I/O
	// permission bitmap (IOPB offset = sizeof(TaskStateSegment) = 104).
	IOMapBase uint16
}

var tss TaskStateSegment

// setupTSS zeroes the TSS, sets RSP0 to the kernel stack top and points
// IOMapBase at the (absent) IOPB, then installs it into the GDT and loads
// the task register.
func setupTSS(kernelStackTop uintptr) {
	tss = TaskStateSegment{}
	tss.RSP[0] = uint64(kernelStackTop)
	tss.IOMapBase = uint16(unsafe.Sizeof(TaskStateSegment{}))

	setupGDT(uintptr(unsafe.Pointer(&tss)))
	loadTSSFn(SelectorTSS)
}

// SetKernelStack updates RSP0, the stack loaded by the CPU whenever a ring
// transition into ring 0 occurs (interrupt, trap or syscall). The task
// manager calls this before resuming a worker so the next transition lands
// on that worker's kernel stack.
func SetKernelStack(rsp0 uintptr) {
	tss.RSP[0] = uint64(rsp0)
}
