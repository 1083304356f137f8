package cpu

import "unsafe"

// InterruptDescriptor is one 16-byte IDT gate entry (64-bit interrupt
// gate).
type InterruptDescriptor struct {
	OffsetLow  uint16
	Selector   uint16
	ISTFlags   uint8 // low 3 bits: IST index; rest reserved
	TypeAttr   uint8
	OffsetMid  uint16
	OffsetHigh uint32
	Reserved   uint32
}

const (
	idtEntries = 256

	gateTypeInterrupt = 0x8E // present, DPL=0, 64-bit interrupt gate
)

var idt [idtEntries]InterruptDescriptor

// loadIDTFn is overridden by tests so installIDT can be exercised on a
// host CPU without executing the privileged LIDT instruction.
var loadIDTFn = LoadIDT

// intVectorTable backs the ".text.int_vector" region described in spec
// §4.4: 256 16-byte thunks, one per vector, each of the form
// "push imm8 vector; jmp rel32 commonEntry; nops". It is generated once by
// installIDT and never mutated afterwards — register_interrupt only ever
// rewrites the Go-level dispatch table below, per the §9 redesign
// guidance (no TLB shootdown on patch).
var intVectorTable [idtEntries * 16]byte

// handlers is the parallel dispatch table consulted by the shared
// assembly trampoline (isrCommonEntry) once it has identified the vector
// that fired. A nil entry means "unhandled": dispatchInterrupt does nothing
// for it and returns.
var handlers [idtEntries]func(*InterruptFrame)

func buildVectorThunk(vector int) {
	base := vector * 16
	thunk := intVectorTable[base : base+16]
	// push imm8 vector
	thunk[0] = 0x6A
	thunk[1] = byte(vector)
	// jmp rel32 isrCommonEntry
	thunk[2] = 0xE9
	commonAddr := isrCommonEntryAddr()
	thunkJmpEnd := uintptr(unsafe.Pointer(&thunk[7]))
	rel32 := int32(commonAddr - thunkJmpEnd)
	thunk[3] = byte(rel32)
	thunk[4] = byte(rel32 >> 8)
	thunk[5] = byte(rel32 >> 16)
	thunk[6] = byte(rel32 >> 24)
	// remaining 9 bytes: NOP padding
	for i := 7; i < 16; i++ {
		thunk[i] = 0x90
	}
}

func thunkAddr(vector int) uintptr {
	return uintptr(unsafe.Pointer(&intVectorTable[vector*16]))
}

// installIDT generates every vector's thunk, points every IDT gate at its
// thunk and loads the table. All gates start out with a nil handler;
// HandleInterrupt/register_interrupt populate individual vectors.
func installIDT() {
	for v := 0; v < idtEntries; v++ {
		buildVectorThunk(v)

		addr := thunkAddr(v)
		idt[v] = InterruptDescriptor{
			OffsetLow:  uint16(addr),
			Selector:   SelectorKernelCode,
			TypeAttr:   gateTypeInterrupt,
			OffsetMid:  uint16(addr >> 16),
			OffsetHigh: uint32(addr >> 32),
		}
	}

	loadIDTFn(uint16(unsafe.Sizeof(idt))-1, uintptr(unsafe.Pointer(&idt[0])))
}

// HandleInterrupt registers handler to run whenever vector fires. It is
// the stable, spec-facing name for what §4.4 calls register_interrupt.
func HandleInterrupt(vector InterruptNumber, handler func(*InterruptFrame)) {
	handlers[vector] = handler
}

// dispatchInterrupt is called by the shared assembly trampoline with a
// pointer to the saved-register frame; it looks up and invokes the
// handler registered for frame.Vector, if any.
//
//go:nosplit
func dispatchInterrupt(frame *InterruptFrame) {
	if h := handlers[frame.Vector]; h != nil {
		h(frame)
	}
}

// isrCommonEntryAddr returns the address of the shared assembly
// trampoline every vector thunk jumps to.
func isrCommonEntryAddr() uintptr
