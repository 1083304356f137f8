package main

import (
	"github.com/RadianOS/radianos/kernel/hal"
	"github.com/RadianOS/radianos/kernel/kmain"
)

var bootEntries *hal.MemoryEntry

// main makes a dummy call to the real kernel entry point. It is
// intentionally defined to prevent the Go compiler from optimizing away
// the kernel code it can't see a caller for.
//
// A global variable is passed as an argument to Kmain to prevent the
// compiler from inlining the call and dropping Kmain from the generated
// object file.
func main() {
	kmain.Kmain(0, bootEntries)
}
