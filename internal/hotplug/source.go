package hotplug

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nerrad567/sideband-filter/internal/filter"
	"github.com/nerrad567/sideband-filter/internal/infrastructure/mqtt"
)

// Subscriber is the part of the bus client the source needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Logger defines the logging interface used by the hotplug package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Source turns attach/detach notifications into filter callbacks.
type Source struct {
	sub       Subscriber
	callbacks filter.Callbacks
	topics    mqtt.Topics
	qos       byte
	logger    Logger

	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	subscribed []string
	attached   []filter.Handle // attach order
	closed     bool

	// inflight counts attach callbacks running outside mu. Close waits for
	// them before collecting the handles it detaches; drained is set once it
	// has, and a callback finishing later detaches its own instance.
	inflight sync.WaitGroup
	drained  bool
}

// NewSource creates a source delivering notifications under topics to cb.
func NewSource(sub Subscriber, cb filter.Callbacks, topics mqtt.Topics, qos byte) *Source {
	return &Source{
		sub:       sub,
		callbacks: cb,
		topics:    topics,
		qos:       qos,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the source.
func (s *Source) SetLogger(logger Logger) {
	s.logger = logger
}

// Start subscribes to the attach and detach topics. ctx bounds every
// callback the source makes; it is cancelled by Close.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	subs := []struct {
		topic   string
		handler mqtt.MessageHandler
	}{
		{s.topics.HotplugAttach(), s.handleAttach},
		{s.topics.HotplugDetach(), s.handleDetach},
	}
	for _, sub := range subs {
		if err := s.sub.Subscribe(sub.topic, s.qos, sub.handler); err != nil {
			s.unsubscribeLocked()
			return fmt.Errorf("subscribing to %s: %w", sub.topic, err)
		}
		s.subscribed = append(s.subscribed, sub.topic)
	}

	s.logger.Info("hotplug source started",
		"attach_topic", s.topics.HotplugAttach(),
		"detach_topic", s.topics.HotplugDetach(),
	)
	return nil
}

// Attached returns the handles this source attached and has not yet
// detached, in attach order.
func (s *Source) Attached() []filter.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]filter.Handle, len(s.attached))
	copy(out, s.attached)
	return out
}

// Close stops listening and detaches every instance still attached through
// this source, newest first. Attaches already in progress are waited for
// until ctx is done. It is safe to call more than once.
func (s *Source) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	err := s.unsubscribeLocked()
	s.mu.Unlock()

	s.waitInflight(ctx)

	s.mu.Lock()
	s.drained = true
	remaining := s.attached
	s.attached = nil
	s.mu.Unlock()

	for i := len(remaining) - 1; i >= 0; i-- {
		s.callbacks.OnDetach(ctx, remaining[i])
	}
	if s.cancel != nil {
		s.cancel()
	}

	s.logger.Info("hotplug source closed", "detached", len(remaining))
	return err
}

// waitInflight blocks until running attach callbacks return or ctx is done.
func (s *Source) waitInflight(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("hotplug source closed with attaches in progress", "error", ctx.Err())
	}
}

func (s *Source) unsubscribeLocked() error {
	var errs []error
	for _, topic := range s.subscribed {
		if err := s.sub.Unsubscribe(topic); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribing from %s: %w", topic, err))
		}
	}
	s.subscribed = nil
	return errors.Join(errs...)
}

func (s *Source) handleAttach(_ string, payload []byte) error {
	n, err := decodeNotification(payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.Debug("attach after close ignored", "handle", n.Handle)
		return nil
	}
	ctx := s.ctx
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	h := filter.Handle(n.Handle)
	if err := s.callbacks.OnAttach(ctx, n.instance()); err != nil {
		return fmt.Errorf("attaching %s: %w", n.Handle, err)
	}

	s.mu.Lock()
	if s.drained {
		s.mu.Unlock()
		s.logger.Warn("attach completed after close, detaching", "handle", n.Handle)
		s.callbacks.OnDetach(context.WithoutCancel(ctx), h)
		return nil
	}
	s.attached = append(s.attached, h)
	s.mu.Unlock()
	return nil
}

func (s *Source) handleDetach(_ string, payload []byte) error {
	n, err := decodeNotification(payload)
	if err != nil {
		return err
	}
	h := filter.Handle(n.Handle)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	ctx := s.ctx
	for i, a := range s.attached {
		if a == h {
			s.attached = append(s.attached[:i], s.attached[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	// Forwarded even for unknown handles; the filter treats them as no-ops.
	s.callbacks.OnDetach(ctx, h)
	return nil
}
