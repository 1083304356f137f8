package db

// NodeHandle names a slot in the VFS node table directly by index.
type NodeHandle uint16

// RootNode is the handle of the VFS tree's root; it is its own parent and
// is never deleted.
const RootNode NodeHandle = 0

// ProviderHandle names a slot in the VFS provider table directly by index.
type ProviderHandle uint16

// NoProvider is the sentinel meaning "no provider attached"; reads/writes
// against a node with this provider fall back to the default error
// provider.
const NoProvider ProviderHandle = 0xFFFF

const vfsNameLen = 24

// VFSNodeName is a fixed ≤24-byte ASCII, NUL-padded node name.
type VFSNodeName [vfsNameLen]byte

// NewVFSNodeName truncates or NUL-pads s to fit a VFSNodeName.
func NewVFSNodeName(s string) VFSNodeName {
	var n VFSNodeName
	copy(n[:], s)
	return n
}

// String returns s with trailing NUL bytes trimmed.
func (n VFSNodeName) String() string {
	i := 0
	for i < len(n) && n[i] != 0 {
		i++
	}
	return string(n[:i])
}

// VFSNode is one node of the VFS tree. The tree is a flat list; children
// are discovered by a linear scan for Parent equality, not by storing
// child lists.
type VFSNode struct {
	Name     VFSNodeName
	Parent   NodeHandle
	Provider ProviderHandle
	valid    bool
}

// VFSReadWriteFunc is the shape of a provider's read or write side.
// data is the caller-supplied buffer (write source or read destination);
// the return value is the byte count transferred.
type VFSReadWriteFunc func(d *Database, actor ObjectHandle, data []byte) (int, *VFSError)

// VFSProvider is a read/write function pair attached to zero or more VFS
// nodes, registered once at init.
type VFSProvider struct {
	Write VFSReadWriteFunc
	Read  VFSReadWriteFunc
}

// VFSErrorKind classifies a VFS operation failure.
type VFSErrorKind uint8

const (
	VFSErrUnknown VFSErrorKind = iota
	VFSErrPolicy
	VFSErrCustom
)

// VFSError is the error type returned by provider read/write calls.
type VFSError struct {
	Kind   VFSErrorKind
	Custom uint32
}

func (e *VFSError) Error() string {
	switch e.Kind {
	case VFSErrPolicy:
		return "vfs: policy denied"
	case VFSErrCustom:
		return "vfs: provider error"
	default:
		return "vfs: unknown"
	}
}

type vfsTable struct {
	nodes     [MaxVFSNodes]VFSNode
	numNodes  int
	providers [MaxVFSProviders]VFSProvider
	numProv   int
}

// NewProvider appends a provider and returns its handle.
func (d *Database) NewProvider(rw VFSProvider) ProviderHandle {
	idx := d.vfs.numProv
	d.vfs.providers[idx] = rw
	d.vfs.numProv++
	return ProviderHandle(idx)
}

// Provider returns the provider registered at h and whether it exists.
func (d *Database) Provider(h ProviderHandle) (VFSProvider, bool) {
	if h == NoProvider || int(h) >= d.vfs.numProv {
		return VFSProvider{}, false
	}
	return d.vfs.providers[h], true
}

// NewNode appends a bare node (no provider) under parent and returns its
// handle.
func (d *Database) NewNode(name VFSNodeName, parent NodeHandle) NodeHandle {
	return d.NewNodeWithProvider(name, parent, NoProvider)
}

// NewNodeWithProvider appends a node under parent with the given provider
// attached and returns its handle. If this is the very first node
// created, it becomes the root (handle 0) and parent is ignored in favor
// of self-reference.
func (d *Database) NewNodeWithProvider(name VFSNodeName, parent NodeHandle, provider ProviderHandle) NodeHandle {
	idx := d.vfs.numNodes
	h := NodeHandle(idx)
	if idx == int(RootNode) {
		parent = h
	}
	d.vfs.nodes[idx] = VFSNode{Name: name, Parent: parent, Provider: provider, valid: true}
	d.vfs.numNodes++
	return h
}

// Node returns a pointer to the node named by h, or nil.
func (d *Database) Node(h NodeHandle) *VFSNode {
	if int(h) >= d.vfs.numNodes || !d.vfs.nodes[h].valid {
		return nil
	}
	return &d.vfs.nodes[h]
}

// ForEachChild invokes f for every node whose Parent equals parent, in
// table order, starting the scan at index 1 (the root is never its own
// child).
func (d *Database) ForEachChild(parent NodeHandle, f func(NodeHandle)) {
	for i := 1; i < d.vfs.numNodes; i++ {
		if d.vfs.nodes[i].valid && d.vfs.nodes[i].Parent == parent {
			f(NodeHandle(i))
		}
	}
}

// FindChild returns the handle of parent's child named name, if any.
func (d *Database) FindChild(parent NodeHandle, name string) (NodeHandle, bool) {
	var found NodeHandle
	ok := false
	d.ForEachChild(parent, func(h NodeHandle) {
		if !ok && d.vfs.nodes[h].Name.String() == name {
			found, ok = h, true
		}
	})
	return found, ok
}
