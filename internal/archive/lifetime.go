package archive

import "sync"

// registry tracks the liveness of one root archive's backing store. Nested
// archives hold a token into it instead of a pointer to their parent, so a
// closed root invalidates every archive opened beneath it.
type registry struct {
	mu         sync.Mutex
	generation uint64
	closed     bool
	nested     int
}

// token is a nested archive's claim on a registry generation.
type token struct {
	reg        *registry
	generation uint64
}

func newRegistry() *registry {
	return &registry{generation: 1}
}

func (r *registry) issue() token {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nested++
	return token{reg: r, generation: r.generation}
}

func (t token) alive() bool {
	t.reg.mu.Lock()
	defer t.reg.mu.Unlock()
	return !t.reg.closed && t.reg.generation == t.generation
}

// release marks the registry closed and reports whether this call did it.
func (r *registry) release() (bool, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false, r.nested
	}
	r.closed = true
	r.generation++
	return true, r.nested
}
