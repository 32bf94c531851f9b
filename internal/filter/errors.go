package filter

import "errors"

// Domain errors for the filter package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, filter.ErrResourceExhausted) {
//	    // registry is full
//	}
var (
	// ErrResourceExhausted is returned when the registry cannot accept another instance.
	ErrResourceExhausted = errors.New("filter: registry capacity exhausted")

	// ErrDuplicateInstance is returned when a handle is attached twice.
	ErrDuplicateInstance = errors.New("filter: instance already attached")

	// ErrInvalidHandle is returned when an attach carries an empty handle.
	ErrInvalidHandle = errors.New("filter: invalid instance handle")

	// ErrPropertyUnavailable is returned when the serial number property cannot be read.
	ErrPropertyUnavailable = errors.New("filter: device property unavailable")

	// ErrShutdown is returned for attaches after the registry has been shut down.
	ErrShutdown = errors.New("filter: registry shut down")

	// ErrRegistryNotEmpty is returned by shutdown while instances are still attached.
	ErrRegistryNotEmpty = errors.New("filter: registry not empty")

	// ErrChannelDeleted is returned when a query arrives on a channel that is no
	// longer the published one.
	ErrChannelDeleted = errors.New("filter: control channel deleted")

	// ErrInvalidRequest is returned for queries with malformed buffer metadata.
	ErrInvalidRequest = errors.New("filter: invalid request")
)
