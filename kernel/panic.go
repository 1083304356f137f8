package kernel

import (
	"github.com/RadianOS/radianos/kernel/cpu"
	"github.com/RadianOS/radianos/kernel/kfmt/early"
)

var (
	// haltFn is mocked by tests and inlined by the compiler in production builds.
	haltFn = cpu.Halt

	errRuntimePanic = &Error{Module: "rt", Message: "unknown cause"}
)

// Panic outputs the supplied error to COM1 and halts the CPU via a
// disable-interrupts-then-spin loop. Calls to Panic never return.
func Panic(e interface{}) {
	var err *Error

	switch t := e.(type) {
	case *Error:
		err = t
	case string:
		errRuntimePanic.Message = t
		err = errRuntimePanic
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	early.Printf("\n-----------------------------------\n")
	if err != nil {
		early.Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	early.Printf("*** kernel panic: system halted ***")
	early.Printf("\n-----------------------------------\n")

	cpu.DisableInterrupts()
	haltFn()
}
