package hotplug

import (
	"sync"
	"time"

	"github.com/nerrad567/sideband-filter/internal/filter"
	"github.com/nerrad567/sideband-filter/internal/infrastructure/mqtt"
)

// statusQueueSize bounds events waiting to be published.
const statusQueueSize = 256

// Publisher is the part of the bus client the status publisher needs.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// ChannelStatus is the retained channel status message.
type ChannelStatus struct {
	Active    bool      `json:"active"`
	ChannelID string    `json:"channel_id,omitempty"`
	Instances int       `json:"instances"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// InstanceEvent is the payload of a lifecycle event message.
type InstanceEvent struct {
	Kind         string    `json:"kind"`
	Handle       string    `json:"handle,omitempty"`
	SerialNumber *uint32   `json:"serial_number,omitempty"`
	ChannelID    string    `json:"channel_id,omitempty"`
	Instances    int       `json:"instances"`
	Error        string    `json:"error,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// StatusPublisher publishes filter lifecycle events to the bus.
//
// Observe never blocks the filter: events are queued and published by a
// single worker in order. When the queue is full the event is dropped.
type StatusPublisher struct {
	pub    Publisher
	topics mqtt.Topics
	logger Logger

	events    chan filter.Event
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu      sync.Mutex
	dropped int
}

var _ filter.Observer = (*StatusPublisher)(nil)

// NewStatusPublisher creates a publisher and starts its worker.
func NewStatusPublisher(pub Publisher, topics mqtt.Topics) *StatusPublisher {
	p := &StatusPublisher{
		pub:    pub,
		topics: topics,
		logger: noopLogger{},
		events: make(chan filter.Event, statusQueueSize),
		done:   make(chan struct{}),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// SetLogger sets the logger for the publisher. Call before events flow.
func (p *StatusPublisher) SetLogger(logger Logger) {
	p.logger = logger
}

// Observe queues ev for publication.
func (p *StatusPublisher) Observe(ev filter.Event) {
	if ev.Kind == filter.EventQueryDispatched {
		return
	}
	select {
	case <-p.done:
		return
	default:
	}
	select {
	case p.events <- ev:
	default:
		p.mu.Lock()
		p.dropped++
		p.mu.Unlock()
		p.logger.Warn("status queue full, dropping event", "kind", string(ev.Kind))
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (p *StatusPublisher) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Close publishes what is already queued and stops the worker.
func (p *StatusPublisher) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	p.wg.Wait()
}

func (p *StatusPublisher) run() {
	defer p.wg.Done()
	for {
		select {
		case ev := <-p.events:
			p.publish(ev)
		case <-p.done:
			for {
				select {
				case ev := <-p.events:
					p.publish(ev)
				default:
					return
				}
			}
		}
	}
}

func (p *StatusPublisher) publish(ev filter.Event) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic publishing status", "kind", string(ev.Kind), "panic", r)
		}
	}()

	if err := p.pub.PublishJSON(p.topics.InstanceEvent(string(ev.Kind)), newInstanceEvent(ev), false); err != nil {
		p.logger.Warn("publishing lifecycle event failed", "kind", string(ev.Kind), "error", err)
	}

	status, ok := channelStatusFor(ev)
	if !ok {
		return
	}
	if err := p.pub.PublishJSON(p.topics.ChannelStatus(), status, true); err != nil {
		p.logger.Warn("publishing channel status failed", "kind", string(ev.Kind), "error", err)
	}
}

func newInstanceEvent(ev filter.Event) InstanceEvent {
	out := InstanceEvent{
		Kind:      string(ev.Kind),
		Handle:    string(ev.Handle),
		ChannelID: ev.ChannelID,
		Instances: ev.Count,
		Timestamp: ev.Time.UTC(),
	}
	if ev.Kind == filter.EventAttached {
		serial := ev.SerialNumber
		out.SerialNumber = &serial
	}
	if ev.Err != nil {
		out.Error = ev.Err.Error()
	}
	return out
}

// channelStatusFor returns the retained status implied by ev, if it changes
// the channel.
func channelStatusFor(ev filter.Event) (ChannelStatus, bool) {
	status := ChannelStatus{
		Instances: ev.Count,
		Timestamp: ev.Time.UTC(),
	}
	switch ev.Kind {
	case filter.EventChannelCreated:
		status.Active = true
		status.ChannelID = ev.ChannelID
	case filter.EventChannelCreateFailed:
		if ev.Err != nil {
			status.Error = ev.Err.Error()
		}
	case filter.EventChannelDeleted:
	default:
		return ChannelStatus{}, false
	}
	return status, true
}
