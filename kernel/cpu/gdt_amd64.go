package cpu

import "unsafe"

// GlobalDescriptor is one 8-byte entry of the GDT.
type GlobalDescriptor struct {
	LimitLow  uint16
	BaseLow   uint16
	BaseMid   uint8
	Access    uint8
	FlagLimit uint8 // high nibble: flags, low nibble: limit bits 16-19
	BaseHigh  uint8
}

// Selectors for the fixed GDT layout (§4.4).
const (
	SelectorNull       = 0x00
	SelectorKernelCode = 0x08
	SelectorKernelData = 0x10
	SelectorUserCode   = 0x18
	SelectorUserData   = 0x20
	SelectorTSS        = 0x28
)

const (
	gdtEntries = 7 // null, kcode, kdata, ucode, udata, tss-low, tss-high
)

var gdt [gdtEntries]GlobalDescriptor

// loadGDTFn and loadTSSFn are overridden by tests so setupGDT/setupTSS can
// be exercised on a host CPU without executing LGDT/LTR.
var (
	loadGDTFn = LoadGDT
	loadTSSFn = LoadTSS
)

// setDescriptor populates a flat (base=0, limit=0xFFFFF) descriptor with
// the given access byte and flags nibble, matching every non-TSS GDT
// entry: segmentation is not used for addressing on amd64, only for
// selecting a privilege level and code/data/user/kernel mode.
func setDescriptor(idx int, access, flags uint8) {
	gdt[idx] = GlobalDescriptor{
		LimitLow:  0xFFFF,
		BaseLow:   0,
		BaseMid:   0,
		Access:    access,
		FlagLimit: (flags << 4) | 0xF,
		BaseHigh:  0,
	}
}

// setupGDT populates the fixed 7-entry GDT (null, kernel code/data, user
// code/data, TSS low/high) per the table in spec §4.4 and loads it.
func setupGDT(tssAddr uintptr) {
	// gdt[0] (null) stays zero.
	setDescriptor(1, 0x9A, 0xA) // kernel code
	setDescriptor(2, 0x92, 0xC) // kernel data
	setDescriptor(3, 0xFA, 0xA) // user code
	setDescriptor(4, 0xF2, 0xC) // user data

	tssLimit := uint32(unsafe.Sizeof(TaskStateSegment{})) - 1
	gdt[5] = GlobalDescriptor{
		LimitLow:  uint16(tssLimit),
		BaseLow:   uint16(tssAddr),
		BaseMid:   uint8(tssAddr >> 16),
		Access:    0x89,
		FlagLimit: uint8(tssLimit>>16) & 0xF,
		BaseHigh:  uint8(tssAddr >> 24),
	}
	// gdt[6] carries the high 32 bits of the TSS base address, laid out
	// as a second, otherwise-unused descriptor slot (the TSS descriptor
	// on amd64 is 16 bytes, i.e. two GDT slots).
	gdt[6] = GlobalDescriptor{
		LimitLow: uint16(tssAddr >> 32),
		BaseLow:  uint16(tssAddr >> 48),
	}

	loadGDTFn(uint16(unsafe.Sizeof(gdt))-1, uintptr(unsafe.Pointer(&gdt[0])))
}
