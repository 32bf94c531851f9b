// Package filter is the control layer of the sideband filter.
//
// It tracks every device instance the host attaches the filter to and owns
// the single shared control channel through which a management process
// queries all attached instances at once.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────────┐
//	│                          Registry (one lock)                      │
//	│                                                                   │
//	│   entries []DeviceRecord ───── channel Channel (nil when absent)  │
//	│        │                              │                           │
//	│   Attach: insert, create on 0→1       │                           │
//	│   Detach: delete on 1→0, then remove  │                           │
//	│   HandleQuery: enumerate entries ◀────┘ (queued, one at a time)   │
//	└──────────────────────────────────────────────────────────────────┘
//	         ▲                                        ▲
//	         │ OnAttach / OnDetach                    │ ChannelFactory.Create
//	  ┌──────┴──────┐                          ┌──────┴──────┐
//	  │   Driver    │◀── host (hotplug)        │   control   │
//	  └─────────────┘                          └─────────────┘
//
// # Lifecycle protocol
//
// Registry membership and channel existence are guarded by the same mutex.
// The decision to create the channel is taken while the lock is held and the
// post-insert count is 1, so two instances attaching at once can never both
// become the creator. On detach the channel is deleted before the last entry
// is removed, inside the same critical section, so no observer sees an empty
// registry with a live channel or a populated registry whose channel is gone.
//
// A failed channel creation never fails the attach: the instance is fully
// registered and the channel is retried on the next 0→1 transition.
//
// # Usage
//
//	reg := filter.NewRegistry(controlFactory, filter.Options{MaxInstances: 64})
//	reg.SetLogger(log)
//	drv := filter.NewDriver(reg, filter.DriverOptions{DefaultSerial: 0})
//	drv.SetLogger(log)
//
//	// Host callbacks
//	drv.OnAttach(ctx, filter.Instance{Handle: "usb-1-1", Properties: props})
//	drv.OnDetach(ctx, "usb-1-1")
//
//	// Process shutdown
//	if err := drv.Shutdown(ctx); err != nil {
//	    return err
//	}
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. Every registry access,
// read-only enumeration included, takes the same exclusive lock.
package filter
