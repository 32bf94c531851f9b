package filter

import (
	"context"
	"fmt"
)

// PropertySource is the host's per-instance property query capability.
type PropertySource interface {
	// SerialNumber returns the instance's UI number.
	SerialNumber(ctx context.Context) (uint32, error)
}

// Instance describes one instance the host is attaching the filter to.
type Instance struct {
	Handle     Handle
	Properties PropertySource
}

// Callbacks is the capability the host invokes as instances appear and
// disappear. The filter never initiates an attach or detach itself.
type Callbacks interface {
	OnAttach(ctx context.Context, inst Instance) error
	OnDetach(ctx context.Context, h Handle)
}

// DriverOptions configures a Driver.
type DriverOptions struct {
	// DefaultSerial is recorded when an instance's serial number cannot be read.
	DefaultSerial uint32
}

// Driver implements Callbacks on top of a Registry.
type Driver struct {
	registry      *Registry
	defaultSerial uint32
	logger        Logger
}

var _ Callbacks = (*Driver)(nil)

// NewDriver creates a driver bound to reg.
func NewDriver(reg *Registry, opts DriverOptions) *Driver {
	return &Driver{
		registry:      reg,
		defaultSerial: opts.DefaultSerial,
		logger:        noopLogger{},
	}
}

// SetLogger sets the logger for the driver.
func (d *Driver) SetLogger(logger Logger) {
	d.logger = logger
}

// Registry returns the registry the driver is bound to.
func (d *Driver) Registry() *Registry {
	return d.registry
}

// OnAttach implements Callbacks.
func (d *Driver) OnAttach(ctx context.Context, inst Instance) error {
	_, err := d.Attach(ctx, inst)
	return err
}

// OnDetach implements Callbacks.
func (d *Driver) OnDetach(_ context.Context, h Handle) {
	d.Detach(h)
}

// Attach queries the instance's serial number once, builds its record and
// registers it.
//
// A property query failure is logged and the default serial is recorded.
// A control channel failure is logged and reported in the result; neither
// fails the attach. Only registration failures are returned as errors.
func (d *Driver) Attach(ctx context.Context, inst Instance) (AttachResult, error) {
	serial, valid, propErr := d.querySerial(ctx, inst)
	if propErr != nil {
		d.logger.Warn("failed to read serial number property",
			"handle", inst.Handle,
			"default_serial", serial,
			"error", propErr,
		)
	}

	res, err := d.registry.Attach(DeviceRecord{
		Handle:       inst.Handle,
		SerialNumber: serial,
		SerialValid:  valid,
	})
	if err != nil {
		d.logger.Error("registering instance failed", "handle", inst.Handle, "error", err)
		return res, fmt.Errorf("attaching %q: %w", inst.Handle, err)
	}
	res.PropertyErr = propErr

	if res.ChannelErr != nil {
		// Per-instance filtering must not depend on the shared channel.
		d.logger.Warn("control channel unavailable until the next first attach",
			"handle", inst.Handle,
			"error", res.ChannelErr,
		)
	}

	d.logger.Info("instance attached",
		"handle", inst.Handle,
		"serial_number", serial,
		"instances", res.Count,
		"channel_created", res.ChannelCreated,
	)
	return res, nil
}

// Detach removes the instance for h. Unknown handles are ignored, so a
// duplicate removal notification is harmless.
func (d *Driver) Detach(h Handle) DetachResult {
	res := d.registry.Detach(h)
	if !res.Found {
		d.logger.Debug("detach for unknown instance ignored", "handle", h)
		return res
	}

	d.logger.Info("instance detached",
		"handle", h,
		"instances", res.Count,
		"channel_deleted", res.ChannelDeleted,
	)
	return res
}

// Shutdown is the explicit process-shutdown teardown. It fails while
// instances are still attached, otherwise waits until every deleted channel
// has released its resources or ctx expires.
func (d *Driver) Shutdown(ctx context.Context) error {
	pending, err := d.registry.Close()
	if err != nil {
		return fmt.Errorf("shutting down filter: %w", err)
	}

	for _, done := range pending {
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("waiting for control channel teardown: %w", ctx.Err())
		}
	}

	d.logger.Info("filter shut down")
	return nil
}

func (d *Driver) querySerial(ctx context.Context, inst Instance) (serial uint32, valid bool, err error) {
	if inst.Properties == nil {
		return d.defaultSerial, false, ErrPropertyUnavailable
	}
	n, err := inst.Properties.SerialNumber(ctx)
	if err != nil {
		return d.defaultSerial, false, fmt.Errorf("%w: %w", ErrPropertyUnavailable, err)
	}
	return n, true, nil
}
