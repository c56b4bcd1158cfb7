package board

import "sync"

// ColorRegistry tracks which display colors are claimed and by which
// connection. A color has at most one live owner; releasing an
// unclaimed color is a no-op, and re-claiming by the same connection
// (the reconnect case) is idempotent.
type ColorRegistry struct {
	mu     sync.Mutex
	owners map[string]string // color -> connection id
}

// NewColorRegistry returns an empty registry.
func NewColorRegistry() *ColorRegistry {
	return &ColorRegistry{owners: make(map[string]string)}
}

// Claim reserves color for connID. It fails with a conflict error if
// another live connection already owns the color.
func (r *ColorRegistry) Claim(color, connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, ok := r.owners[color]; ok && owner != connID {
		return Conflictf("This color is already in use. Please choose another one.")
	}
	r.owners[color] = connID
	return nil
}

// Release frees color. It returns true if the color was actually
// claimed, so callers broadcast colorReleased exactly once per claim.
func (r *ColorRegistry) Release(color string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.owners[color]; !ok {
		return false
	}
	delete(r.owners, color)
	return true
}

// Owner returns the connection id holding color, if any.
func (r *ColorRegistry) Owner(color string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	owner, ok := r.owners[color]
	return owner, ok
}

// Colors returns the claimed color set in the usedColors wire shape.
func (r *ColorRegistry) Colors() map[string]bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	used := make(map[string]bool, len(r.owners))
	for color := range r.owners {
		used[color] = true
	}
	return used
}
