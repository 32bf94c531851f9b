package audit

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/sideband-filter/internal/filter"
)

const (
	// SourceFilter marks entries written from registry lifecycle events.
	SourceFilter = "filter"

	recorderQueueSize = 256
	writeTimeout      = 5 * time.Second
	purgeInterval     = time.Hour
)

// Logger defines the logging interface used by the audit package.
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

// RecorderOptions configures a Recorder.
type RecorderOptions struct {
	// RetentionDays bounds how long entries are kept. 0 keeps them forever.
	RetentionDays int
}

// Recorder is a filter.Observer that writes lifecycle events to a
// Repository from a single background worker. Query dispatches are not
// recorded.
type Recorder struct {
	repo      Repository
	retention time.Duration
	logger    Logger

	entries   chan Entry
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ filter.Observer = (*Recorder)(nil)

// NewRecorder creates a recorder writing to repo. Call Start to begin
// writing.
func NewRecorder(repo Repository, opts RecorderOptions) *Recorder {
	return &Recorder{
		repo:      repo,
		retention: time.Duration(opts.RetentionDays) * 24 * time.Hour,
		logger:    noopLogger{},
		entries:   make(chan Entry, recorderQueueSize),
		done:      make(chan struct{}),
	}
}

// SetLogger sets the logger for the recorder.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// Start launches the writer and, when retention is set, the hourly purge.
func (r *Recorder) Start() {
	r.wg.Add(1)
	go r.writeLoop()

	if r.retention > 0 {
		r.wg.Add(1)
		go r.purgeLoop()
	}
}

// Observe implements filter.Observer.
func (r *Recorder) Observe(ev filter.Event) {
	if ev.Kind == filter.EventQueryDispatched {
		return
	}
	select {
	case <-r.done:
		return
	default:
	}
	select {
	case r.entries <- EntryFromEvent(ev):
	default:
		r.logger.Warn("audit queue full, dropping entry", "action", string(ev.Kind), "handle", string(ev.Handle))
	}
}

// Close writes what is already queued and stops the recorder.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() { close(r.done) })
	r.wg.Wait()
}

// EntryFromEvent converts a lifecycle event into an audit entry.
func EntryFromEvent(ev filter.Event) Entry {
	e := Entry{
		Action:    string(ev.Kind),
		Handle:    string(ev.Handle),
		ChannelID: ev.ChannelID,
		Instances: ev.Count,
		Source:    SourceFilter,
		CreatedAt: ev.Time,
	}
	switch ev.Kind {
	case filter.EventAttached:
		serial := ev.SerialNumber
		e.SerialNumber = &serial
		if !ev.SerialValid {
			e.Details = map[string]any{"serial_default": true}
		}
	case filter.EventDetached:
		serial := ev.SerialNumber
		e.SerialNumber = &serial
	}
	if ev.Err != nil {
		if e.Details == nil {
			e.Details = map[string]any{}
		}
		e.Details["error"] = ev.Err.Error()
	}
	return e
}

func (r *Recorder) writeLoop() {
	defer r.wg.Done()
	for {
		select {
		case e := <-r.entries:
			r.write(e)
		case <-r.done:
			for {
				select {
				case e := <-r.entries:
					r.write(e)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(e Entry) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("panic writing audit entry", "action", e.Action, "panic", p)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.repo.Create(ctx, &e); err != nil {
		r.logger.Warn("writing audit entry failed", "action", e.Action, "handle", e.Handle, "error", err)
	}
}

func (r *Recorder) purgeLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	r.purge()
	for {
		select {
		case <-ticker.C:
			r.purge()
		case <-r.done:
			return
		}
	}
}

func (r *Recorder) purge() {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	n, err := r.repo.Purge(ctx, time.Now().Add(-r.retention))
	if err != nil {
		r.logger.Warn("purging audit entries failed", "error", err)
		return
	}
	if n > 0 {
		r.logger.Info("purged audit entries", "count", n, "retention_days", int(r.retention.Hours()/24))
	}
}
