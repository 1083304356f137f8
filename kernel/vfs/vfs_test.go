package vfs

import (
	"testing"

	"github.com/RadianOS/radianos/kernel/db"
	"github.com/RadianOS/radianos/kernel/policy"
)

func TestInitPopulatesDirectorySkeleton(t *testing.T) {
	var d db.Database
	d.Init()
	policy.Init(&d)
	tree := Init(&d)

	paths := []string{
		"/binary",
		"/boot/x86_64",
		"/devices",
		"/mount",
		"/mutable/logs",
		"/mutable/spool",
		"/mutable/cache",
		"/mutable/runtime",
		"/system/include",
		"/system/lib",
		"/system/opt",
		"/system/run",
		"/temp",
		"/user/home",
		"/user/binary",
		"/misc",
		"/opt",
		"/mutable/logs/radian_core.log",
	}
	for _, p := range paths {
		if _, ok := Lookup(&d, p); !ok {
			t.Fatalf("expected path %q to resolve", p)
		}
	}

	logNode, ok := Lookup(&d, "/mutable/logs/radian_core.log")
	if !ok {
		t.Fatalf("expected the log node to resolve")
	}
	if logNode != tree.LogNode {
		t.Fatalf("Lookup found node %d, want tree.LogNode %d", logNode, tree.LogNode)
	}
}

func TestLookupUnknownPathFails(t *testing.T) {
	var d db.Database
	d.Init()
	policy.Init(&d)
	Init(&d)

	if _, ok := Lookup(&d, "/does/not/exist"); ok {
		t.Fatalf("expected an unknown path to fail to resolve")
	}
}

func TestLogProviderDeniesWriteWithoutCapability(t *testing.T) {
	prev := writeFn
	defer func() { writeFn = prev }()
	writeFn = func(data []byte) (int, error) { return len(data), nil }

	var d db.Database
	d.Init()
	policy.Init(&d)
	tree := Init(&d)

	unprivileged := d.NewUser(db.NewName("guest"))
	_, err := InvokeProviderWrite(&d, tree.LogNode, unprivileged, []byte("hello"))
	if err == nil {
		t.Fatalf("expected a write without CapWriteLog to be denied")
	}
	if err.Kind != db.VFSErrPolicy {
		t.Fatalf("err.Kind = %v, want VFSErrPolicy", err.Kind)
	}
}

func TestLogProviderAllowsWriteWithCapability(t *testing.T) {
	var captured []byte
	prev := writeFn
	defer func() { writeFn = prev }()
	writeFn = func(data []byte) (int, error) {
		captured = append(captured, data...)
		return len(data), nil
	}

	var d db.Database
	d.Init()
	id := policy.Init(&d)
	tree := Init(&d)

	n, err := InvokeProviderWrite(&d, tree.LogNode, id.User, []byte("boot ok"))
	if err != nil {
		t.Fatalf("InvokeProviderWrite: %v", err)
	}
	if n != len("boot ok") {
		t.Fatalf("n = %d, want %d", n, len("boot ok"))
	}
	if string(captured) != "boot ok" {
		t.Fatalf("captured = %q, want %q", captured, "boot ok")
	}
}

func TestInvokeProviderWriteByHandleMatchesNodeWrapper(t *testing.T) {
	var captured []byte
	prev := writeFn
	defer func() { writeFn = prev }()
	writeFn = func(data []byte) (int, error) {
		captured = append(captured, data...)
		return len(data), nil
	}

	var d db.Database
	d.Init()
	id := policy.Init(&d)
	tree := Init(&d)

	logNode := d.Node(tree.LogNode)
	n, err := InvokeProviderWriteByHandle(&d, logNode.Provider, id.User, []byte("direct"))
	if err != nil {
		t.Fatalf("InvokeProviderWriteByHandle: %v", err)
	}
	if n != len("direct") || string(captured) != "direct" {
		t.Fatalf("captured = %q, n = %d, want %q", captured, n, "direct")
	}
}

func TestInvokeProviderReadByHandleUnknownHandleFails(t *testing.T) {
	var d db.Database
	d.Init()
	id := policy.Init(&d)
	Init(&d)

	if _, err := InvokeProviderReadByHandle(&d, db.NoProvider, id.User, make([]byte, 1)); err == nil {
		t.Fatalf("expected an unregistered provider handle to fail")
	}
}

func TestUnattachedNodeFallsBackToErrorProvider(t *testing.T) {
	var d db.Database
	d.Init()
	id := policy.Init(&d)
	Init(&d)

	bare := NewNode(&d, "scratch", db.RootNode)
	if _, err := InvokeProviderWrite(&d, bare, id.User, []byte("x")); err == nil {
		t.Fatalf("expected a bare node's write to fail via the default error provider")
	}
}

func TestForEachChildVisitsOnlyDirectChildren(t *testing.T) {
	var d db.Database
	d.Init()
	policy.Init(&d)
	Init(&d)

	mutableNode, ok := Lookup(&d, "/mutable")
	if !ok {
		t.Fatalf("expected /mutable to resolve")
	}

	var names []string
	ForEachChild(&d, mutableNode, func(h db.NodeHandle) {
		n := d.Node(h)
		names = append(names, n.Name.String())
	})
	if len(names) != 4 {
		t.Fatalf("expected 4 direct children of /mutable, got %d: %v", len(names), names)
	}
}
