// Package vfs implements the kernel object database's VFS surface: the
// fixed directory skeleton described in spec §4.7, the default error
// provider every unattached node falls back to, and the COM1-backed log
// provider mounted at /mutable/logs/radian_core.log.
package vfs

import (
	"strings"

	"github.com/RadianOS/radianos/kernel/db"
	"github.com/RadianOS/radianos/kernel/policy"
	"github.com/RadianOS/radianos/kernel/serial"
)

// Tree holds the handles vfs.Init creates that other packages reference
// directly, rather than re-discovering them by path every time.
type Tree struct {
	Root    db.NodeHandle
	LogNode db.NodeHandle
}

// writeFn is the log provider's byte sink, mockable so tests can exercise
// the capability check and byte count without issuing a real OUTB.
var writeFn = serial.COM1Port.Write

func errorRead(_ *db.Database, _ db.ObjectHandle, _ []byte) (int, *db.VFSError) {
	return 0, &db.VFSError{Kind: db.VFSErrUnknown}
}

func errorWrite(_ *db.Database, _ db.ObjectHandle, _ []byte) (int, *db.VFSError) {
	return 0, &db.VFSError{Kind: db.VFSErrUnknown}
}

// logWrite is the log provider's write side: a CapWriteLog check against
// the calling subject, then a raw write to COM1.
func logWrite(d *db.Database, actor db.ObjectHandle, data []byte) (int, *db.VFSError) {
	if !policy.CheckCapability(d, actor, db.CapWriteLog) {
		return 0, &db.VFSError{Kind: db.VFSErrPolicy}
	}
	n, err := writeFn(data)
	if err != nil {
		return n, &db.VFSError{Kind: db.VFSErrCustom}
	}
	return n, nil
}

// logRead: the log is write-only.
func logRead(_ *db.Database, _ db.ObjectHandle, _ []byte) (int, *db.VFSError) {
	return 0, &db.VFSError{Kind: db.VFSErrUnknown}
}

// Init registers the error and log providers and populates the fixed
// directory skeleton under root. It must run after policy.Init, since the
// log provider checks capabilities against the calling subject at write
// time (not at mount time).
func Init(d *db.Database) Tree {
	errProv := d.NewProvider(db.VFSProvider{Read: errorRead, Write: errorWrite})
	root := d.NewNodeWithProvider(db.NewVFSNodeName("/"), db.RootNode, errProv)

	mkdir := func(parent db.NodeHandle, name string) db.NodeHandle {
		return d.NewNode(db.NewVFSNodeName(name), parent)
	}

	mkdir(root, "binary")
	boot := mkdir(root, "boot")
	mkdir(boot, "x86_64")
	mkdir(root, "devices")
	mkdir(root, "mount")

	mutable := mkdir(root, "mutable")
	logs := mkdir(mutable, "logs")
	mkdir(mutable, "spool")
	mkdir(mutable, "cache")
	mkdir(mutable, "runtime")

	system := mkdir(root, "system")
	mkdir(system, "include")
	mkdir(system, "lib")
	mkdir(system, "opt")
	mkdir(system, "run")

	mkdir(root, "temp")

	user := mkdir(root, "user")
	mkdir(user, "home")
	mkdir(user, "binary")

	mkdir(root, "misc")
	mkdir(root, "opt")

	logProv := d.NewProvider(db.VFSProvider{Read: logRead, Write: logWrite})
	logFile := d.NewNodeWithProvider(db.NewVFSNodeName("radian_core.log"), logs, logProv)

	return Tree{Root: root, LogNode: logFile}
}

// NewProvider registers rw and returns its handle.
func NewProvider(d *db.Database, rw db.VFSProvider) db.ProviderHandle {
	return d.NewProvider(rw)
}

// NewNode creates a bare (unattached-provider) node named name under
// parent.
func NewNode(d *db.Database, name string, parent db.NodeHandle) db.NodeHandle {
	return d.NewNode(db.NewVFSNodeName(name), parent)
}

// NewNodeWithProvider creates a node named name under parent with
// provider attached.
func NewNodeWithProvider(d *db.Database, name string, parent db.NodeHandle, provider db.ProviderHandle) db.NodeHandle {
	return d.NewNodeWithProvider(db.NewVFSNodeName(name), parent, provider)
}

// ForEachChild visits every child of parent.
func ForEachChild(d *db.Database, parent db.NodeHandle, f func(db.NodeHandle)) {
	d.ForEachChild(parent, f)
}

// FindChild returns the handle of parent's child named name, if any.
func FindChild(d *db.Database, parent db.NodeHandle, name string) (db.NodeHandle, bool) {
	return d.FindChild(parent, name)
}

// Lookup resolves a slash-separated path from root, e.g.
// "/mutable/logs/radian_core.log".
func Lookup(d *db.Database, path string) (db.NodeHandle, bool) {
	cur := db.RootNode
	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		if part == "" {
			continue
		}
		h, ok := d.FindChild(cur, part)
		if !ok {
			return 0, false
		}
		cur = h
	}
	return cur, true
}

// InvokeProviderWriteByHandle dispatches a write directly through
// handle, matching the literal provider-handle contract of spec §4.7.
// A handle with no write side reports VFSErrUnknown, the default-provider
// fallback described there.
func InvokeProviderWriteByHandle(d *db.Database, handle db.ProviderHandle, actor db.ObjectHandle, data []byte) (int, *db.VFSError) {
	provider, ok := d.Provider(handle)
	if !ok || provider.Write == nil {
		return 0, &db.VFSError{Kind: db.VFSErrUnknown}
	}
	return provider.Write(d, actor, data)
}

// InvokeProviderReadByHandle dispatches a read directly through handle.
func InvokeProviderReadByHandle(d *db.Database, handle db.ProviderHandle, actor db.ObjectHandle, data []byte) (int, *db.VFSError) {
	provider, ok := d.Provider(handle)
	if !ok || provider.Read == nil {
		return 0, &db.VFSError{Kind: db.VFSErrUnknown}
	}
	return provider.Read(d, actor, data)
}

// InvokeProviderWrite resolves node's attached provider and dispatches a
// write through it — the node-to-provider resolution every original call
// site performed inline before calling the provider-handle entry point
// above, factored into the package instead of repeated at each caller. A
// node with no live provider reports VFSErrUnknown.
func InvokeProviderWrite(d *db.Database, node db.NodeHandle, actor db.ObjectHandle, data []byte) (int, *db.VFSError) {
	n := d.Node(node)
	if n == nil {
		return 0, &db.VFSError{Kind: db.VFSErrUnknown}
	}
	return InvokeProviderWriteByHandle(d, n.Provider, actor, data)
}

// InvokeProviderRead resolves node's attached provider and dispatches a
// read through it.
func InvokeProviderRead(d *db.Database, node db.NodeHandle, actor db.ObjectHandle, data []byte) (int, *db.VFSError) {
	n := d.Node(node)
	if n == nil {
		return 0, &db.VFSError{Kind: db.VFSErrUnknown}
	}
	return InvokeProviderReadByHandle(d, n.Provider, actor, data)
}
