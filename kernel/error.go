// Package kernel contains the error and panic primitives shared by every
// other kernel package.
package kernel

// Error describes a kernel error. All kernel errors are defined as global
// variables that are pointers to this structure. This requirement stems
// from the fact that the Go allocator is not available during early boot so
// errors.New (which allocates) cannot be used.
type Error struct {
	// Module is the package where the error occurred.
	Module string

	// Message is the human-readable error description.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Module + ": " + e.Message
}
