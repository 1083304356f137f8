package db

import "github.com/RadianOS/radianos/kernel/pmm"

// Fixed capacities for the database's tables. The design favors
// fixed-capacity arrays with tombstones over growable vectors so every
// table lives in a single, predictably-sized allocation.
const (
	MaxWorkers      = 256
	MaxTasksPerWork = 4
	MaxPolicyRules  = 512
	MaxVFSNodes     = 1024
	MaxVFSProviders = 64
	MaxAddrSpaces   = 64
	MaxUsers        = 64
	MaxGroups       = 64
)

// AddressSpaceHandle(1) is reserved for the kernel's own address space.
const KernelAddressSpace = 1

// Task is a register-context snapshot bound to a worker. gpr holds the
// sixteen general-purpose registers in the order the common ISR save
// frame pushes them (see package cpu); StackPage is the frame backing the
// task's fixed user stack.
type Task struct {
	GPR       [16]uint64
	StackPage pmm.Handle
}

// WorkerFlag is a bitfield of worker scheduling state.
type WorkerFlag uint8

const (
	WorkerSleep  WorkerFlag = 1 << 0
	WorkerActive WorkerFlag = 1 << 1
)

// Worker owns an address space and up to MaxTasksPerWork tasks.
type Worker struct {
	Aspace     ObjectHandle
	EntryPoint uint64
	Tasks      []Task
	Flags      WorkerFlag
	valid      bool
}

// Name is a fixed 16-byte ASCII, NUL-padded identifier used for users and
// groups.
type Name [16]byte

// NewName truncates or NUL-pads s to fit a Name.
func NewName(s string) Name {
	var n Name
	copy(n[:], s)
	return n
}

// String returns s with trailing NUL bytes trimmed.
func (n Name) String() string {
	i := 0
	for i < len(n) && n[i] != 0 {
		i++
	}
	return string(n[:i])
}

// User is a named principal. PasswordHash is a fixed 512-bit placeholder;
// authentication is out of scope for this kernel core.
type User struct {
	Name         Name
	PasswordHash [64]byte
	valid        bool
}

// Group is a named collection of subjects.
type Group struct {
	Name  Name
	valid bool
}

// addrSpace records the page-frame handle backing one address space's root
// PML4 table.
type addrSpace struct {
	root  pmm.Handle
	valid bool
}

// Database is the process-wide singleton holding every kernel object
// table. It is zero-valued in BSS and brought up lazily by Init; it is
// never destroyed. Every exported method takes *Database explicitly
// rather than operating on package-level state, so there is exactly one
// KernelState value threaded through every manager call.
type Database struct {
	workers   [MaxWorkers]Worker
	numWorker int

	aspaces   [MaxAddrSpaces]addrSpace
	numAspace int

	users    [MaxUsers]User
	numUsers int

	groups    [MaxGroups]Group
	numGroups int

	policy policyTable
	vfs    vfsTable

	initialized bool
}

// Init brings up the database's tables. It is idempotent; calling it more
// than once has no effect beyond the first call.
func (d *Database) Init() {
	if d.initialized {
		return
	}
	d.initialized = true
	// Slot 0 of the address-space, worker, user, group and policy tables is
	// reserved so the zero ObjectHandle (id=0, type=TypeNone) never aliases
	// a real object. The VFS node and provider tables are not reserved:
	// their slot 0 holds the root node and the first registered provider.
	d.numAspace = 1
	d.numWorker = 1
	d.numUsers = 1
	d.numGroups = 1
	d.policy.count = 1
}

// NewAddressSpace registers root as the page-frame handle backing a new
// address space and returns its handle.
func (d *Database) NewAddressSpace(root pmm.Handle) ObjectHandle {
	idx := d.numAspace
	d.aspaces[idx] = addrSpace{root: root, valid: true}
	d.numAspace++
	return ObjectHandle{ID: uint16(idx), Type: TypeAddressSpace}
}

// AddressSpaceRoot returns the page-frame handle backing h's root table.
func (d *Database) AddressSpaceRoot(h ObjectHandle) (pmm.Handle, bool) {
	idx, ok := h.AsAddressSpace()
	if !ok || int(idx) >= d.numAspace || !d.aspaces[idx].valid {
		return 0, false
	}
	return d.aspaces[idx].root, true
}

// NumAddressSpaces returns the number of registered address spaces,
// including the reserved slot 0.
func (d *Database) NumAddressSpaces() int { return d.numAspace }

// NewWorker appends a Worker bound to aspace and returns its handle.
func (d *Database) NewWorker(aspace ObjectHandle) ObjectHandle {
	idx := d.numWorker
	d.workers[idx] = Worker{Aspace: aspace, valid: true}
	d.numWorker++
	return ObjectHandle{ID: uint16(idx), Type: TypeWorker}
}

// Worker returns a pointer to the worker named by h, or nil if h does not
// name a live worker.
func (d *Database) Worker(h ObjectHandle) *Worker {
	idx, ok := h.AsWorker()
	if !ok || int(idx) >= d.numWorker || !d.workers[idx].valid {
		return nil
	}
	return &d.workers[idx]
}

// NumWorkers returns the number of registered workers, including the
// reserved slot 0.
func (d *Database) NumWorkers() int { return d.numWorker }

// WorkerAt returns the worker stored at table index idx directly,
// bypassing handle validation; used by the scheduler's round-robin scan.
func (d *Database) WorkerAt(idx int) *Worker {
	if idx < 0 || idx >= d.numWorker || !d.workers[idx].valid {
		return nil
	}
	return &d.workers[idx]
}

// NewUser appends a user and returns its handle.
func (d *Database) NewUser(name Name) ObjectHandle {
	idx := d.numUsers
	d.users[idx] = User{Name: name, valid: true}
	d.numUsers++
	return ObjectHandle{ID: uint16(idx), Type: TypeUser}
}

// User returns a pointer to the user named by h, or nil.
func (d *Database) User(h ObjectHandle) *User {
	idx, ok := h.AsUser()
	if !ok || int(idx) >= d.numUsers || !d.users[idx].valid {
		return nil
	}
	return &d.users[idx]
}

// NewGroup appends a group and returns its handle.
func (d *Database) NewGroup(name Name) ObjectHandle {
	idx := d.numGroups
	d.groups[idx] = Group{Name: name, valid: true}
	d.numGroups++
	return ObjectHandle{ID: uint16(idx), Type: TypeGroup}
}

// Group returns a pointer to the group named by h, or nil.
func (d *Database) Group(h ObjectHandle) *Group {
	idx, ok := h.AsGroup()
	if !ok || int(idx) >= d.numGroups || !d.groups[idx].valid {
		return nil
	}
	return &d.groups[idx]
}
