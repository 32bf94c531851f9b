package filter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// fakeChannel is a test implementation of Channel.
type fakeChannel struct {
	id      string
	deletes atomic.Int32
	done    chan struct{}
	once    sync.Once

	// onDelete runs inside Delete, i.e. with the registry lock held.
	onDelete func()
	// holdTeardown keeps done open until release is called.
	holdTeardown bool
}

func (c *fakeChannel) ID() string { return c.id }

func (c *fakeChannel) Delete() <-chan struct{} {
	c.deletes.Add(1)
	if c.onDelete != nil {
		c.onDelete()
	}
	if !c.holdTeardown {
		c.release()
	}
	return c.done
}

func (c *fakeChannel) release() {
	c.once.Do(func() { close(c.done) })
}

// fakeFactory is a test implementation of ChannelFactory.
type fakeFactory struct {
	mu       sync.Mutex
	created  []*fakeChannel
	attempts int
	failNext int // number of upcoming Create calls that fail
	handler  QueryHandler

	// onCreate runs inside Create, i.e. with the registry lock held.
	onCreate func()
	// configure adjusts each channel before it is returned.
	configure func(*fakeChannel)
}

var errCreateFailed = errors.New("create failed")

func (f *fakeFactory) Create(h QueryHandler) (Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.attempts++
	if f.onCreate != nil {
		f.onCreate()
	}
	if f.failNext > 0 {
		f.failNext--
		return nil, errCreateFailed
	}

	ch := &fakeChannel{
		id:   fmt.Sprintf("ch-%d", f.attempts),
		done: make(chan struct{}),
	}
	if f.configure != nil {
		f.configure(ch)
	}
	f.handler = h
	f.created = append(f.created, ch)
	return ch, nil
}

func (f *fakeFactory) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func (f *fakeFactory) channels() []*fakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*fakeChannel, len(f.created))
	copy(out, f.created)
	return out
}

// staticSerial is a PropertySource returning a fixed serial number.
type staticSerial uint32

func (s staticSerial) SerialNumber(context.Context) (uint32, error) { return uint32(s), nil }

// failingSerial is a PropertySource that always fails.
type failingSerial struct{}

func (failingSerial) SerialNumber(context.Context) (uint32, error) {
	return 0, errors.New("property not reported")
}

// eventRecorder collects lifecycle events.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) Observe(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func (r *eventRecorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

func newTestDriver(f *fakeFactory, opts Options) (*Driver, *Registry) {
	reg := NewRegistry(f, opts)
	return NewDriver(reg, DriverOptions{DefaultSerial: 0xFFFFFFFF}), reg
}

func attach(t interface {
	Helper()
	Fatalf(string, ...any)
}, d *Driver, h Handle, serial uint32) AttachResult {
	t.Helper()
	res, err := d.Attach(context.Background(), Instance{Handle: h, Properties: staticSerial(serial)})
	if err != nil {
		t.Fatalf("Attach(%q) error = %v", h, err)
	}
	return res
}
