package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/sideband-filter/internal/filter"
)

// Measurement names.
const (
	MeasurementLifecycle = "sideband_lifecycle"
	MeasurementInstances = "sideband_instances"
)

// PointWriter accepts points for asynchronous delivery.
type PointWriter interface {
	WritePoint(p *write.Point)
}

// LifecycleWriter is a filter.Observer that records every lifecycle event
// as a point, plus the instance count after each membership change.
type LifecycleWriter struct {
	w       PointWriter
	service string
}

var _ filter.Observer = (*LifecycleWriter)(nil)

// NewLifecycleWriter creates an observer writing to w, tagging every point
// with service.
func NewLifecycleWriter(w PointWriter, service string) *LifecycleWriter {
	return &LifecycleWriter{w: w, service: service}
}

// Observe implements filter.Observer. Query dispatches are not recorded.
func (l *LifecycleWriter) Observe(ev filter.Event) {
	if ev.Kind == filter.EventQueryDispatched {
		return
	}
	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	l.w.WritePoint(LifecyclePoint(l.service, ev, ts))

	if ev.Kind == filter.EventAttached || ev.Kind == filter.EventDetached {
		l.w.WritePoint(write.NewPoint(MeasurementInstances,
			map[string]string{"service": l.service},
			map[string]any{"count": int64(ev.Count)},
			ts,
		))
	}
}

// LifecyclePoint builds the point for one event.
func LifecyclePoint(service string, ev filter.Event, ts time.Time) *write.Point {
	tags := map[string]string{
		"service": service,
		"kind":    string(ev.Kind),
	}
	if ev.Handle != "" {
		tags["handle"] = string(ev.Handle)
	}

	fields := map[string]any{
		"instances": int64(ev.Count),
	}
	if ev.ChannelID != "" {
		fields["channel_id"] = ev.ChannelID
	}
	if ev.Kind == filter.EventAttached || ev.Kind == filter.EventDetached {
		fields["serial_number"] = int64(ev.SerialNumber)
	}
	if ev.Kind == filter.EventAttached {
		fields["serial_valid"] = ev.SerialValid
	}
	if ev.Err != nil {
		fields["error"] = ev.Err.Error()
	}

	return write.NewPoint(MeasurementLifecycle, tags, fields, ts)
}
