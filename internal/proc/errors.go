package proc

import "errors"

// Error taxonomy for process table and scheduler operations.
// Callers classify with errors.Is; operations wrap these with context
// via fmt.Errorf("...: %w", err).
var (
	// ErrProcessNotFound: the operation referenced a PID with no live PCB.
	ErrProcessNotFound = errors.New("process not found")

	// ErrProcessExists: identity allocation collided or the PID space is
	// exhausted.
	ErrProcessExists = errors.New("process already exists")

	// ErrInvalidState: the operation is illegal for the current lifecycle
	// state (e.g. exec on a terminated process, double-terminate).
	ErrInvalidState = errors.New("invalid process state")

	// ErrNoChildAvailable: wait was called with no waitable children.
	ErrNoChildAvailable = errors.New("no child available")

	// ErrInsufficientPermissions: a signal crossed a permission boundary.
	ErrInsufficientPermissions = errors.New("insufficient permissions")

	// ErrResourceExhausted: an allocation would exceed a resource limit.
	ErrResourceExhausted = errors.New("resource exhausted")
)
