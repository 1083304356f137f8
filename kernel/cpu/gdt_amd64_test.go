package cpu

import "testing"

func TestSetupGDTLayout(t *testing.T) {
	prevGDT, prevTSS := loadGDTFn, loadTSSFn
	defer func() { loadGDTFn, loadTSSFn = prevGDT, prevTSS }()
	loadGDTFn = func(uint16, uintptr) {}
	loadTSSFn = func(uint16) {}

	setupTSS(0)

	cases := []struct {
		idx            int
		access, flags  uint8
	}{
		{1, 0x9A, 0xA},
		{2, 0x92, 0xC},
		{3, 0xFA, 0xA},
		{4, 0xF2, 0xC},
	}
	for _, c := range cases {
		if gdt[c.idx].Access != c.access {
			t.Fatalf("gdt[%d].Access = %#x, want %#x", c.idx, gdt[c.idx].Access, c.access)
		}
		if gdt[c.idx].FlagLimit>>4 != c.flags {
			t.Fatalf("gdt[%d] flags = %#x, want %#x", c.idx, gdt[c.idx].FlagLimit>>4, c.flags)
		}
	}
	if gdt[0] != (GlobalDescriptor{}) {
		t.Fatalf("gdt[0] (null descriptor) must be all-zero")
	}
}

func TestSetupSyscallMSRs(t *testing.T) {
	prevW, prevR := writeMSRFn, readMSRFn
	defer func() { writeMSRFn, readMSRFn = prevW, prevR }()

	written := map[uint32]uint64{}
	writeMSRFn = func(msr uint32, val uint64) { written[msr] = val }
	readMSRFn = func(msr uint32) uint64 {
		if msr == msrEFER {
			return 0
		}
		return written[msr]
	}

	setupSyscallMSRs()

	if written[msrEFER]&eferSCE == 0 {
		t.Fatalf("EFER.SCE was not set")
	}
	wantStar := uint64(SelectorKernelCode)<<32 | uint64(SelectorUserCode-8)<<48
	if written[msrSTAR] != wantStar {
		t.Fatalf("STAR = %#x, want %#x", written[msrSTAR], wantStar)
	}
}
