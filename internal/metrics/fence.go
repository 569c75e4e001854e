package metrics

import "sync"

// Fence orders asynchronous fetch responses by the order their requests
// were issued. Responses may complete in any order; one whose sequence
// number is not newer than the last applied response for the same key is
// stale. Nothing is cancelled: stale responses are simply refused.
type Fence struct {
	mu      sync.Mutex
	next    uint64
	applied map[string]uint64
}

// NewFence creates an empty Fence.
func NewFence() *Fence {
	return &Fence{applied: make(map[string]uint64)}
}

// Issue returns the sequence number for a new request. Numbers increase
// monotonically across all keys.
func (f *Fence) Issue() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	return f.next
}

// Accept records seq as applied for key and returns true, or returns false
// if a request issued later has already been applied.
func (f *Fence) Accept(key string, seq uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if seq <= f.applied[key] {
		return false
	}
	f.applied[key] = seq
	return true
}

// Applied returns the last applied sequence number for key.
func (f *Fence) Applied(key string) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applied[key]
}
