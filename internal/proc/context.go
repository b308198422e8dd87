package proc

// Context is an opaque register/context snapshot. It is owned exclusively by
// the PCB it is stored in and is never aliased: Clone is used whenever a copy
// must outlive the original (fork).
type Context struct {
	blob []byte
}

// NewContext wraps a raw register blob.
func NewContext(blob []byte) Context {
	return Context{blob: append([]byte(nil), blob...)}
}

// Bytes returns a copy of the raw blob.
func (c Context) Bytes() []byte {
	return append([]byte(nil), c.blob...)
}

// Clone returns an independent copy of the context.
func (c Context) Clone() Context {
	return Context{blob: append([]byte(nil), c.blob...)}
}

// Empty reports whether the context holds no saved state yet.
func (c Context) Empty() bool {
	return len(c.blob) == 0
}

// ContextEngine saves and restores register state around context switches.
// The scheduler core only goes through this interface, so the scheduling
// logic is architecture-independent and testable without real hardware.
type ContextEngine interface {
	// Save captures the current register state of the process being
	// switched out and returns it as an opaque blob.
	Save(p *Process) Context

	// Restore loads a previously saved context into the process being
	// switched in.
	Restore(p *Process, ctx Context)
}

// SoftwareContextEngine is a pure in-memory ContextEngine. It stands in for
// the architecture-specific save/restore on targets without one, and is the
// engine used by the test suite.
type SoftwareContextEngine struct{}

// Save snapshots a synthetic register image derived from the PID so that
// save/restore round-trips are observable.
func (SoftwareContextEngine) Save(p *Process) Context {
	blob := []byte{
		byte(p.PID), byte(p.PID >> 8), byte(p.PID >> 16), byte(p.PID >> 24),
		byte(p.PID >> 32), byte(p.PID >> 40), byte(p.PID >> 48), byte(p.PID >> 56),
	}
	return NewContext(blob)
}

// Restore installs the saved blob back into the PCB.
func (SoftwareContextEngine) Restore(p *Process, ctx Context) {
	p.Ctx = ctx.Clone()
}

var _ ContextEngine = SoftwareContextEngine{}
