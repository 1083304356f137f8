package tbs

import (
	"testing"
	"unsafe"

	"github.com/RadianOS/radianos/kernel"
)

// flatBacking backs a tree with an already-live host buffer, so EnsurePage
// has nothing to do: the memory exists for the buffer's whole lifetime.
type flatBacking struct{}

func (flatBacking) EnsurePage(uintptr) *kernel.Error { return nil }

func newHostTree(t *testing.T) (*Tree, []byte) {
	t.Helper()
	buf := make([]byte, ArenaSpan)
	base := uintptr(unsafe.Pointer(&buf[0]))
	tree, err := NewTree(base, flatBacking{})
	if err != nil {
		t.Fatalf("NewTree: %v", err)
	}
	return tree, buf
}

// inorderBases walks the tree and returns every node's base in ascending
// order, which should always match tree order since the key is base.
func inorderBases(t *Tree, idx uint16, out *[]uint64) {
	if idx == 0 {
		return
	}
	n := t.node(idx)
	inorderBases(t, n.left, out)
	*out = append(*out, n.base)
	inorderBases(t, n.right, out)
}

func checkBalanced(tt *testing.T, t *Tree, idx uint16) {
	if idx == 0 {
		return
	}
	n := t.node(idx)
	bal := t.balance(idx)
	if bal < -1 || bal > 1 {
		tt.Fatalf("node %d (base %#x) has balance factor %d, want in {-1,0,1}", idx, n.base, bal)
	}
	checkBalanced(tt, t, n.left)
	checkBalanced(tt, t, n.right)
}

func TestAllocateExactFitConsumesWholeInterval(t *testing.T) {
	tree, _ := newHostTree(t)

	full := uint64(ArenaSpan - nodeAreaSize)
	ptr, err := tree.Allocate(full)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if ptr != tree.heapBase {
		t.Fatalf("ptr = %#x, want heap base %#x", ptr, tree.heapBase)
	}

	if _, err := tree.Allocate(cacheLine); err == nil {
		t.Fatalf("expected out-of-space after consuming the whole arena")
	}
}

func TestAllocateSplitsFromHighEnd(t *testing.T) {
	tree, _ := newHostTree(t)

	ptr, err := tree.Allocate(128)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	wantBase := uint64(tree.heapLimit) - 128
	if uint64(ptr) != wantBase {
		t.Fatalf("ptr = %#x, want %#x (high end of the arena)", ptr, wantBase)
	}
}

func TestAllocateRoundsUpToCacheLine(t *testing.T) {
	tree, _ := newHostTree(t)

	ptr1, err := tree.Allocate(1)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	ptr2, err := tree.Allocate(1)
	if err != nil {
		t.Fatalf("Allocate (2nd): %v", err)
	}
	if ptr1-ptr2 != cacheLine {
		t.Fatalf("consecutive 1-byte allocations are %d bytes apart, want %d", ptr1-ptr2, cacheLine)
	}
}

func TestFreeCoalescesWithNeighbours(t *testing.T) {
	tree, _ := newHostTree(t)

	a, err := tree.Allocate(256)
	if err != nil {
		t.Fatalf("Allocate a: %v", err)
	}
	b, err := tree.Allocate(256)
	if err != nil {
		t.Fatalf("Allocate b: %v", err)
	}
	if a != b+256 {
		t.Fatalf("expected a (%#x) and b (%#x) to be address-adjacent", a, b)
	}

	if err := tree.Free(a); err != nil {
		t.Fatalf("Free a: %v", err)
	}
	if err := tree.Free(b); err != nil {
		t.Fatalf("Free b: %v", err)
	}

	// The whole arena should be allocatable again as one interval.
	full := uint64(ArenaSpan - nodeAreaSize)
	if _, err := tree.Allocate(full); err != nil {
		t.Fatalf("Allocate after coalescing: %v", err)
	}
}

func TestDoubleFreeReturnsError(t *testing.T) {
	tree, _ := newHostTree(t)

	ptr, err := tree.Allocate(64)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := tree.Free(ptr); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if err := tree.Free(ptr); err == nil {
		t.Fatalf("expected double-free to return an error")
	}
}

func TestFreeUnknownBaseReturnsError(t *testing.T) {
	tree, _ := newHostTree(t)
	if err := tree.Free(tree.heapBase + 4096); err == nil {
		t.Fatalf("expected freeing a never-allocated base to return an error")
	}
}

func TestInOrderTraversalIsAscendingByBase(t *testing.T) {
	tree, _ := newHostTree(t)

	sizes := []uint64{64, 128, 256, 64, 512, 64, 192, 320, 64, 1024}
	for _, s := range sizes {
		if _, err := tree.Allocate(s); err != nil {
			t.Fatalf("Allocate(%d): %v", s, err)
		}
	}

	var bases []uint64
	inorderBases(tree, tree.root, &bases)
	for i := 1; i < len(bases); i++ {
		if bases[i-1] >= bases[i] {
			t.Fatalf("in-order traversal not ascending at index %d: %#x >= %#x", i, bases[i-1], bases[i])
		}
	}
}

func TestBalanceInvariantHoldsAfterManyInsertsAndFrees(t *testing.T) {
	tree, _ := newHostTree(t)

	var allocated []uintptr
	sizes := []uint64{64, 128, 64, 256, 64, 64, 192, 64, 320, 64, 448, 64, 64, 576}
	for _, s := range sizes {
		ptr, err := tree.Allocate(s)
		if err != nil {
			t.Fatalf("Allocate(%d): %v", s, err)
		}
		allocated = append(allocated, ptr)
	}
	checkBalanced(t, tree, tree.root)

	for i := 0; i < len(allocated); i += 2 {
		if err := tree.Free(allocated[i]); err != nil {
			t.Fatalf("Free: %v", err)
		}
	}
	checkBalanced(t, tree, tree.root)
}

func TestManagerRoutesAcrossArenas(t *testing.T) {
	var m Manager

	bufA := make([]byte, ArenaSpan)
	bufB := make([]byte, ArenaSpan)
	baseA := uintptr(unsafe.Pointer(&bufA[0]))
	baseB := uintptr(unsafe.Pointer(&bufB[0]))

	if _, err := m.NewArena(baseA, flatBacking{}); err != nil {
		t.Fatalf("NewArena A: %v", err)
	}
	if _, err := m.NewArena(baseB, flatBacking{}); err != nil {
		t.Fatalf("NewArena B: %v", err)
	}

	full := uint64(ArenaSpan - nodeAreaSize)
	if _, err := m.Allocate(full); err != nil {
		t.Fatalf("Allocate (fill arena A): %v", err)
	}

	// Arena A is now exhausted; the next allocation must land in B.
	ptr, err := m.Allocate(64)
	if err != nil {
		t.Fatalf("Allocate (should spill into arena B): %v", err)
	}
	if ptr < baseB || ptr >= baseB+uintptr(ArenaSpan) {
		t.Fatalf("ptr = %#x, want it inside arena B [%#x, %#x)", ptr, baseB, baseB+uintptr(ArenaSpan))
	}

	if err := m.Free(ptr); err != nil {
		t.Fatalf("Free: %v", err)
	}
}
