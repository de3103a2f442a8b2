package status

import "sync"

// Rotation tracks the active position in a list of targets.
// The index always stays within [0, size) for a non-empty list.
type Rotation struct {
	mu      sync.Mutex
	current int
	size    int
}

// Resize changes the list length, resetting the index to 0 when it
// would fall outside the new list.
func (r *Rotation) Resize(size int) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if size < 0 {
		size = 0
	}
	r.size = size
	if r.current >= size {
		r.current = 0
	}
	return r.current
}

// Next advances by one, wrapping at the end
func (r *Rotation) Next() int {
	return r.step(1)
}

// Previous steps back by one, wrapping at the start
func (r *Rotation) Previous() int {
	return r.step(-1)
}

// Current returns the active index
func (r *Rotation) Current() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Size returns the list length
func (r *Rotation) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

func (r *Rotation) step(delta int) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == 0 {
		return 0
	}
	r.current = ((r.current+delta)%r.size + r.size) % r.size
	return r.current
}
