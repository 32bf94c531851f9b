package hotplug

import "errors"

var (
	// ErrInvalidNotification is returned for a payload that cannot be decoded
	// or lacks a handle.
	ErrInvalidNotification = errors.New("hotplug: invalid notification")

	// ErrNoSerialNumber is returned by the property source of an instance
	// announced without a ui_number.
	ErrNoSerialNumber = errors.New("hotplug: instance reported no serial number")

	// ErrClosed is returned when starting a closed source.
	ErrClosed = errors.New("hotplug: source closed")
)
