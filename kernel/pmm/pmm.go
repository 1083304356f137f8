// Package pmm implements the physical page manager: a bitmap frame
// allocator over arenas derived from the UEFI memory map's conventional
// (usable) entries.
package pmm

import (
	"unsafe"

	"github.com/RadianOS/radianos/kernel"
	"github.com/RadianOS/radianos/kernel/hal"
	"github.com/RadianOS/radianos/kernel/mem"
)

const bitsPerWord = 64

// arenaLayout is the pure arithmetic behind carving one arena out of a
// hal.MemoryEntry: where it starts (after the null-page adjustment), how
// many frames it covers, and how much of its own space its bitmap
// consumes. It has no side effects, which makes the null-page and
// degenerate-arena edge cases unit-testable without touching memory.
type arenaLayout struct {
	base        uintptr
	frameCount  uint64
	bitmapWords uint64
	bitmapPages uint64
}

func computeArenaLayout(entry *hal.MemoryEntry) (arenaLayout, bool) {
	base := entry.PhysAddress
	length := mem.Size(entry.PageCount) * mem.PageSize

	// The null page is never allocatable: advance base by one page and
	// shrink length accordingly.
	if base == 0 {
		base += uintptr(mem.PageSize)
		if length < mem.PageSize {
			return arenaLayout{}, false
		}
		length -= mem.PageSize
	}

	frameCount := uint64(length) >> mem.PageShift
	if frameCount == 0 {
		return arenaLayout{}, false
	}

	bitmapWords := (frameCount + bitsPerWord - 1) / bitsPerWord
	bitmapBytes := mem.Size(bitmapWords) * 8
	bitmapPages := mem.PageCount(bitmapBytes)

	if bitmapPages >= frameCount {
		// Degenerate arena: entirely consumed by its own bitmap.
		return arenaLayout{}, false
	}

	return arenaLayout{base: base, frameCount: frameCount, bitmapWords: bitmapWords, bitmapPages: bitmapPages}, true
}

var errOutOfMemory = &kernel.Error{Module: "pmm", Message: "no free frame in any arena"}
var errDoubleFree = &kernel.Error{Module: "pmm", Message: "frame already free"}
var errInvalidHandle = &kernel.Error{Module: "pmm", Message: "handle does not belong to any arena"}

// Handle is a 32-bit index into the global, cross-arena frame table. Arena
// 0's frames occupy [0, n0), arena 1's occupy [n0, n0+n1), and so on.
type Handle uint32

// InvalidHandle is returned by failed allocations.
const InvalidHandle Handle = 0xFFFFFFFF

// arena describes one contiguous, page-aligned physical memory region and
// the bitmap that tracks its frame usage. The bitmap lives at the arena's
// own base address: one bit per frame, one uint64 per 64 frames. Its own
// pages are marked used as soon as they are zeroed.
type arena struct {
	base       uintptr // physical base address of the arena, after the null-page adjustment
	frameBase  uint64  // global frame index of this arena's first frame
	frameCount uint64
	bitmap     []uint64
}

var (
	arenas      []arena
	totalFrames uint64
)

// Init derives one arena per conventional memory-map entry and zeroes each
// arena's bitmap, marking the bitmap's own pages as used so they are never
// handed out.
func Init(entries []hal.MemoryEntry) *kernel.Error {
	arenas = arenas[:0]
	totalFrames = 0

	for i := range entries {
		entry := &entries[i]
		if entry.Type != hal.MemoryTypeConventional {
			continue
		}

		layout, ok := computeArenaLayout(entry)
		if !ok {
			continue
		}
		base, frameCount, bitmapWords, bitmapPages := layout.base, layout.frameCount, layout.bitmapWords, layout.bitmapPages

		bitmap := (*[1 << 28]uint64)(unsafe.Pointer(base))[:bitmapWords:bitmapWords]
		for i := range bitmap {
			bitmap[i] = 0
		}

		a := arena{
			base:       base,
			frameBase:  totalFrames,
			frameCount: frameCount,
			bitmap:     bitmap,
		}
		for i := uint64(0); i < bitmapPages; i++ {
			setBit(&a, i)
		}

		arenas = append(arenas, a)
		totalFrames += frameCount
	}

	return nil
}

func setBit(a *arena, frameIdx uint64) {
	a.bitmap[frameIdx/bitsPerWord] |= 1 << (frameIdx % bitsPerWord)
}

func clearBit(a *arena, frameIdx uint64) {
	a.bitmap[frameIdx/bitsPerWord] &^= 1 << (frameIdx % bitsPerWord)
}

func testBit(a *arena, frameIdx uint64) bool {
	return a.bitmap[frameIdx/bitsPerWord]&(1<<(frameIdx%bitsPerWord)) != 0
}

// AllocPage scans arenas in order and returns the first clear bit it
// finds. Out-of-memory is fatal: there is no retry, compaction or swap.
func AllocPage() (Handle, *kernel.Error) {
	for ai := range arenas {
		a := &arenas[ai]
		for frameIdx := uint64(0); frameIdx < a.frameCount; frameIdx++ {
			if !testBit(a, frameIdx) {
				setBit(a, frameIdx)
				return Handle(a.frameBase + frameIdx), nil
			}
		}
	}
	return InvalidHandle, errOutOfMemory
}

// AllocPageZeroed behaves like AllocPage but also zeroes the returned
// frame's contents.
func AllocPageZeroed() (Handle, *kernel.Error) {
	h, err := AllocPage()
	if err != nil {
		return InvalidHandle, err
	}

	page := (*[mem.PageSize]byte)(unsafe.Pointer(h.BasePtr()))
	for i := range page {
		page[i] = 0
	}
	return h, nil
}

// FreePage clears the bit tracking h. Double-free and free of an
// unallocated handle are both assertion failures: they indicate a
// use-after-free bug in the caller, not a recoverable condition.
func FreePage(h Handle) *kernel.Error {
	a, frameIdx, err := locate(h)
	if err != nil {
		return err
	}
	if !testBit(a, frameIdx) {
		return errDoubleFree
	}
	clearBit(a, frameIdx)
	return nil
}

func locate(h Handle) (*arena, uint64, *kernel.Error) {
	idx := uint64(h)
	for ai := range arenas {
		a := &arenas[ai]
		if idx >= a.frameBase && idx < a.frameBase+a.frameCount {
			return a, idx - a.frameBase, nil
		}
	}
	return nil, 0, errInvalidHandle
}

// BasePtr returns the identity-mapped physical base address of the frame
// referenced by h.
func (h Handle) BasePtr() uintptr {
	idx := uint64(h)
	for ai := range arenas {
		a := &arenas[ai]
		if idx >= a.frameBase && idx < a.frameBase+a.frameCount {
			return a.base + uintptr((idx-a.frameBase)<<mem.PageShift)
		}
	}
	return 0
}

// FrameCount returns the total number of frames tracked across all arenas;
// exposed for diagnostics and tests.
func FrameCount() uint64 {
	return totalFrames
}
