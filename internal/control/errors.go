package control

import "errors"

// Domain errors for control channel operations.
var (
	// ErrNameInUse is returned when the socket path or alias is held by
	// another live endpoint.
	ErrNameInUse = errors.New("control: channel name already in use")

	// ErrQueueFull is returned when the request queue cannot accept more work.
	ErrQueueFull = errors.New("control: request queue full")

	// ErrChannelDeleted is returned for requests on a deleted channel.
	ErrChannelDeleted = errors.New("control: channel deleted")

	// ErrNotReady is returned for requests that arrive before the channel
	// finished initialising.
	ErrNotReady = errors.New("control: channel not ready")

	// ErrPublishFailed is returned when the symbolic alias cannot be published.
	ErrPublishFailed = errors.New("control: alias publication failed")

	// ErrInvalidConfig is returned for an unusable channel configuration.
	ErrInvalidConfig = errors.New("control: invalid configuration")

	// ErrRequestRejected is returned by Client when the channel completed a
	// request with a non-success status.
	ErrRequestRejected = errors.New("control: request rejected")
)
