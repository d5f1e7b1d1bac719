package hg

import (
	"fmt"
	"sync"

	"github.com/OneOfOne/xxhash"
)

// Handler processes an incoming RPC. The handle carries the decoded
// request; the handler reads the input buffer, writes the output buffer
// and calls Respond (synchronously or later from another goroutine).
type Handler func(h *Handle) error

// rpcEntry is one registered function. The registry owns the entry; the
// deleter, when set, runs on replacement and at registry teardown.
type rpcEntry struct {
	name    string
	handler Handler
	data    any
	deleter func(any)
}

// registry maps operation ids to registered functions. Registration
// normally happens during class setup, but lookups and late registration
// are both safe under the read-write lock.
type registry struct {
	mu      sync.RWMutex
	entries map[uint32]*rpcEntry
}

func newRegistry() *registry {
	return &registry{entries: make(map[uint32]*rpcEntry)}
}

// hashName derives the operation id from the function name.
func hashName(name string) uint32 {
	return xxhash.Checksum32([]byte(name))
}

// register inserts a named handler and returns its operation id.
// Re-registering the same name, or a distinct name whose hash collides
// with a registered one, fails.
func (r *registry) register(name string, handler Handler) (uint32, error) {
	if name == "" {
		return 0, fmt.Errorf("register with empty name: %w", ErrInvalidParam)
	}
	id := hashName(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[id]; ok {
		if existing.name != name {
			return 0, fmt.Errorf("id %#x: %q collides with registered %q: %w",
				id, name, existing.name, ErrInvalidParam)
		}
		return 0, fmt.Errorf("%q already registered: %w", name, ErrInvalidParam)
	}

	r.entries[id] = &rpcEntry{name: name, handler: handler}
	return id, nil
}

// registered reports whether name has been registered and its id.
func (r *registry) registered(name string) (bool, uint32) {
	id := hashName(name)

	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[id]
	if !ok || entry.name != name {
		return false, 0
	}
	return true, id
}

// attachData binds user data to a registered id. Replacing existing data
// runs the previous deleter.
func (r *registry) attachData(id uint32, data any, deleter func(any)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("attach data to id %#x: %w", id, ErrNoMatch)
	}
	if entry.deleter != nil {
		entry.deleter(entry.data)
	}
	entry.data = data
	entry.deleter = deleter
	return nil
}

// lookupData returns the user data bound to id, nil when absent.
func (r *registry) lookupData(id uint32) any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry, ok := r.entries[id]; ok {
		return entry.data
	}
	return nil
}

// lookupHandler returns the entry registered under id.
func (r *registry) lookupHandler(id uint32) (*rpcEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("id %#x: %w", id, ErrNoMatch)
	}
	return entry, nil
}

// teardown runs every deleter and drops all entries.
func (r *registry) teardown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, entry := range r.entries {
		if entry.deleter != nil {
			entry.deleter(entry.data)
		}
		delete(r.entries, id)
	}
}
