package filter

import "time"

// Handle is the opaque key the host supplies for one attached instance.
// The filter compares handles but never interprets them.
type Handle string

// DeviceRecord is the per-instance context created at attach time.
// Records are immutable and owned by the registry entry that holds them.
type DeviceRecord struct {
	Handle Handle

	// SerialNumber is the instance's UI number as reported by its property
	// source, or the configured default when discovery failed.
	SerialNumber uint32

	// SerialValid is false when SerialNumber holds the default value.
	SerialValid bool

	AttachedAt time.Time
}
