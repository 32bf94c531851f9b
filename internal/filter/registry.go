package filter

import (
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"
)

// Options configures a Registry.
type Options struct {
	// MaxInstances bounds the number of attached instances. 0 means unbounded.
	MaxInstances int
}

// Registry is the authoritative set of attached instances together with the
// shared control channel reference.
//
// Membership and channel existence share one mutex: the create-on-first and
// delete-on-last decisions read the count and write the channel reference in
// one critical section.
//
// All public methods are thread-safe.
type Registry struct {
	mu       sync.Mutex
	entries  []DeviceRecord
	capacity int
	factory  ChannelFactory
	channel  Channel // nil when no channel exists
	closed   bool

	// teardowns holds completion signals of deleted channels that may
	// still be releasing resources.
	teardowns []<-chan struct{}

	observers observers
	logger    Logger
	now       func() time.Time
}

// NewRegistry creates an empty registry. This is the explicit process-start
// initialisation; factory may be nil, in which case no channel is ever created.
func NewRegistry(factory ChannelFactory, opts Options) *Registry {
	return &Registry{
		capacity: opts.MaxInstances,
		factory:  factory,
		logger:   noopLogger{},
		now:      time.Now,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// AddObserver registers an observer for lifecycle events.
func (r *Registry) AddObserver(obs Observer) {
	r.observers.add(obs)
}

// Count returns the number of attached instances.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Snapshot returns a point-in-time copy of all attached instances in
// attach order.
func (r *Registry) Snapshot() []DeviceRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.entries)
}

// Records returns an iterator over a point-in-time copy of the registry.
// The lock is not held while the caller iterates.
func (r *Registry) Records() iter.Seq[DeviceRecord] {
	return slices.Values(r.Snapshot())
}

// Lookup returns the record for h, if attached.
func (r *Registry) Lookup(h Handle) (DeviceRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.indexLocked(h); i >= 0 {
		return r.entries[i], true
	}
	return DeviceRecord{}, false
}

// ChannelID returns the ID of the live control channel, if one exists.
func (r *Registry) ChannelID() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.channel == nil {
		return "", false
	}
	return r.channel.ID(), true
}

// State returns the instance count and the live channel ID read in one
// critical section, so the pair is never torn by a concurrent attach or
// detach.
func (r *Registry) State() (count int, channelID string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.channel != nil {
		channelID, ok = r.channel.ID(), true
	}
	return len(r.entries), channelID, ok
}

// Close is the explicit process-shutdown teardown. It fails with
// ErrRegistryNotEmpty while instances remain attached. On success it returns
// the teardown signals of channels whose release may still be in progress;
// later attaches fail with ErrShutdown.
func (r *Registry) Close() ([]<-chan struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n := len(r.entries); n > 0 {
		return nil, fmt.Errorf("%w: %d instances attached", ErrRegistryNotEmpty, n)
	}

	r.closed = true
	// Only reachable if a caller bypassed Detach; the invariant says no
	// channel exists on an empty registry.
	r.deleteChannelLocked()

	pending := r.teardowns
	r.teardowns = nil
	return pending, nil
}

// insertLocked appends rec and returns the post-insert count.
// Must be called with r.mu held.
func (r *Registry) insertLocked(rec DeviceRecord) (int, error) {
	if r.indexLocked(rec.Handle) >= 0 {
		return 0, fmt.Errorf("%w: %s", ErrDuplicateInstance, rec.Handle)
	}
	if r.capacity > 0 && len(r.entries) >= r.capacity {
		return 0, fmt.Errorf("%w: limit %d", ErrResourceExhausted, r.capacity)
	}
	r.entries = append(r.entries, rec)
	return len(r.entries), nil
}

// indexLocked returns the position of h or -1.
// Must be called with r.mu held.
func (r *Registry) indexLocked(h Handle) int {
	return slices.IndexFunc(r.entries, func(e DeviceRecord) bool {
		return e.Handle == h
	})
}

// removeLocked deletes the entry at position i.
// Must be called with r.mu held.
func (r *Registry) removeLocked(i int) {
	r.entries = slices.Delete(r.entries, i, i+1)
}
