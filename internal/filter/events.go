package filter

import (
	"sync"
	"time"
)

// Logger defines the logging interface used by the filter.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// EventKind identifies a lifecycle transition.
type EventKind string

// Lifecycle event kinds.
const (
	EventAttached            EventKind = "attached"
	EventDetached            EventKind = "detached"
	EventChannelCreated      EventKind = "channel_created"
	EventChannelCreateFailed EventKind = "channel_create_failed"
	EventChannelDeleted      EventKind = "channel_deleted"
	EventQueryDispatched     EventKind = "query_dispatched"
)

// Event describes one lifecycle transition. Count is the registry size
// immediately after the transition.
type Event struct {
	Kind         EventKind
	Handle       Handle
	SerialNumber uint32
	SerialValid  bool
	ChannelID    string
	Count        int
	Err          error
	Time         time.Time
}

// Observer receives lifecycle events. Observe is always called without the
// registry lock held, so implementations may call back into the registry.
type Observer interface {
	Observe(ev Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ev Event)

// Observe calls f(ev).
func (f ObserverFunc) Observe(ev Event) { f(ev) }

// observers is a copy-on-write observer list.
type observers struct {
	mu   sync.RWMutex
	list []Observer
}

func (o *observers) add(obs Observer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	next := make([]Observer, 0, len(o.list)+1)
	next = append(next, o.list...)
	o.list = append(next, obs)
}

func (o *observers) notify(events ...Event) {
	if len(events) == 0 {
		return
	}
	o.mu.RLock()
	list := o.list
	o.mu.RUnlock()

	for _, ev := range events {
		for _, obs := range list {
			obs.Observe(ev)
		}
	}
}
