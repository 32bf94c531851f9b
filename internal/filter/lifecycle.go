package filter

// Channel is one instance of the shared control channel.
//
// Delete must be idempotent and must not block on in-flight requests: it is
// called with the registry lock held, and a request being dispatched may be
// waiting for that same lock. The returned channel is closed once every
// resource owned by the channel has been released.
type Channel interface {
	ID() string
	Delete() <-chan struct{}
}

// ChannelFactory builds a fully initialised, published channel whose
// requests are answered by h. Create runs inside the registry's critical
// section and must never call back into the registry. On error, every
// partially acquired resource must already be released.
type ChannelFactory interface {
	Create(h QueryHandler) (Channel, error)
}

// AttachResult reports what an attach did beyond registering the instance.
type AttachResult struct {
	// Count is the registry size immediately after insertion.
	Count int

	// ChannelCreated is true when this attach created the control channel.
	ChannelCreated bool
	ChannelID      string

	// ChannelErr is set when this attach was responsible for creating the
	// channel and creation failed. The attach itself still succeeded.
	ChannelErr error

	// PropertyErr is set when the serial number could not be read and the
	// default was recorded instead.
	PropertyErr error
}

// DetachResult reports the outcome of a detach.
type DetachResult struct {
	// Found is false when the handle was not attached; nothing changed.
	Found bool

	// Count is the registry size after removal.
	Count int

	ChannelDeleted bool
	ChannelID      string
}

// Attach registers rec and, if it is the first entry, creates the control
// channel before releasing the lock.
//
// Registration failures are returned as errors. A channel creation failure
// is reported in AttachResult.ChannelErr and does not unwind the attach.
func (r *Registry) Attach(rec DeviceRecord) (AttachResult, error) {
	if rec.Handle == "" {
		return AttachResult{}, ErrInvalidHandle
	}
	if rec.AttachedAt.IsZero() {
		rec.AttachedAt = r.now()
	}

	res, events, err := r.attach(rec)
	r.observers.notify(events...)
	return res, err
}

func (r *Registry) attach(rec DeviceRecord) (AttachResult, []Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return AttachResult{}, nil, ErrShutdown
	}

	count, err := r.insertLocked(rec)
	if err != nil {
		return AttachResult{}, nil, err
	}

	res := AttachResult{Count: count}
	events := []Event{{
		Kind:         EventAttached,
		Handle:       rec.Handle,
		SerialNumber: rec.SerialNumber,
		SerialValid:  rec.SerialValid,
		Count:        count,
		Time:         rec.AttachedAt,
	}}

	// The creator decision is read here, under the lock, against this
	// insert's own post-insert count.
	if count != 1 {
		return res, events, nil
	}

	ch, err := r.createChannelLocked()
	switch {
	case err != nil:
		res.ChannelErr = err
		events = append(events, Event{
			Kind:   EventChannelCreateFailed,
			Handle: rec.Handle,
			Count:  count,
			Err:    err,
			Time:   r.now(),
		})
	case ch != nil:
		res.ChannelCreated = true
		res.ChannelID = ch.ID()
		events = append(events, Event{
			Kind:      EventChannelCreated,
			Handle:    rec.Handle,
			ChannelID: ch.ID(),
			Count:     count,
			Time:      r.now(),
		})
	}

	return res, events, nil
}

// Detach removes the instance for h. If h is the last entry, the channel is
// deleted first and the entry removed afterwards, both under one lock hold.
// Detaching an unknown handle is a no-op.
func (r *Registry) Detach(h Handle) DetachResult {
	res, events := r.detach(h)
	r.observers.notify(events...)
	return res
}

func (r *Registry) detach(h Handle) (DetachResult, []Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexLocked(h)
	if i < 0 {
		return DetachResult{Count: len(r.entries)}, nil
	}
	rec := r.entries[i]

	var res DetachResult
	var events []Event

	// count == 1 here means the entry about to be removed is the last one.
	if len(r.entries) == 1 {
		if id := r.deleteChannelLocked(); id != "" {
			res.ChannelDeleted = true
			res.ChannelID = id
			events = append(events, Event{
				Kind:      EventChannelDeleted,
				Handle:    h,
				ChannelID: id,
				Count:     1,
				Time:      r.now(),
			})
		}
	}

	r.removeLocked(i)

	res.Found = true
	res.Count = len(r.entries)
	events = append(events, Event{
		Kind:         EventDetached,
		Handle:       h,
		SerialNumber: rec.SerialNumber,
		ChannelID:    res.ChannelID,
		Count:        res.Count,
		Time:         r.now(),
	})
	return res, events
}

// ResetResult reports the outcome of ResetChannel.
type ResetResult struct {
	// Count is the registry size during the reset.
	Count int

	// DeletedID is the ID of the channel that was replaced, if any.
	DeletedID string

	ChannelCreated bool
	ChannelID      string

	// ChannelErr is set when the replacement channel could not be created.
	ChannelErr error
}

// ResetChannel replaces the control channel while instances stay attached.
// The live channel, if any, is deleted and a new one created in the same
// critical section, so the channel exists exactly while the registry is
// populated. A failed creation is reported in ResetResult.ChannelErr and can
// be retried with another reset. On an empty registry nothing is created and
// repeated calls are no-ops.
func (r *Registry) ResetChannel() (ResetResult, error) {
	res, events, err := r.resetChannel()
	r.observers.notify(events...)
	return res, err
}

func (r *Registry) resetChannel() (ResetResult, []Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ResetResult{}, nil, ErrShutdown
	}

	res := ResetResult{Count: len(r.entries)}
	var events []Event

	if id := r.deleteChannelLocked(); id != "" {
		res.DeletedID = id
		events = append(events, Event{
			Kind:      EventChannelDeleted,
			ChannelID: id,
			Count:     res.Count,
			Time:      r.now(),
		})
	}
	if res.Count == 0 {
		return res, events, nil
	}

	ch, err := r.createChannelLocked()
	switch {
	case err != nil:
		res.ChannelErr = err
		events = append(events, Event{
			Kind:  EventChannelCreateFailed,
			Count: res.Count,
			Err:   err,
			Time:  r.now(),
		})
	case ch != nil:
		res.ChannelCreated = true
		res.ChannelID = ch.ID()
		events = append(events, Event{
			Kind:      EventChannelCreated,
			ChannelID: ch.ID(),
			Count:     res.Count,
			Time:      r.now(),
		})
	}
	return res, events, nil
}

// createChannelLocked builds and publishes a new channel.
// Must be called with r.mu held.
func (r *Registry) createChannelLocked() (Channel, error) {
	if r.factory == nil {
		return nil, nil
	}
	if r.channel != nil {
		// A channel can only survive into a 0→1 transition if someone
		// emptied the registry without Detach. Keep the existing one.
		r.logger.Warn("control channel already exists on first attach", "channel_id", r.channel.ID())
		return r.channel, nil
	}

	r.logger.Info("creating control channel")
	ch, err := r.factory.Create(r)
	if err != nil {
		r.logger.Warn("control channel creation failed", "error", err)
		return nil, err
	}

	r.channel = ch
	r.logger.Info("control channel created", "channel_id", ch.ID())
	return ch, nil
}

// deleteChannelLocked drops the channel reference and starts its release.
// It returns the deleted channel's ID, or "" if there was none.
// Must be called with r.mu held.
func (r *Registry) deleteChannelLocked() string {
	if r.channel == nil {
		return ""
	}

	ch := r.channel
	r.channel = nil
	id := ch.ID()

	r.logger.Info("deleting control channel", "channel_id", id)
	done := ch.Delete()
	if done != nil {
		r.trackTeardownLocked(done)
	}
	return id
}

// trackTeardownLocked records done, pruning signals that have already fired.
func (r *Registry) trackTeardownLocked(done <-chan struct{}) {
	pending := r.teardowns[:0]
	for _, d := range r.teardowns {
		select {
		case <-d:
		default:
			pending = append(pending, d)
		}
	}
	r.teardowns = append(pending, done)
}
