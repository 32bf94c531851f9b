// Package hotplug adapts bus notifications into filter attach and detach
// callbacks, and reports lifecycle changes back onto the bus.
//
// The host announces instances on two topics:
//
//	<root>/hotplug/attach  {"handle":"usb-1-4","ui_number":17}
//	<root>/hotplug/detach  {"handle":"usb-1-4"}
//
// ui_number is the instance's serial number property. When it is absent the
// property query fails and the filter records its default serial.
//
// Source tracks what it attached, so Close detaches every remaining
// instance before the filter is shut down.
//
// StatusPublisher is a filter.Observer that keeps a retained channel status
// message on <root>/system/channel and emits one event per transition on
// <root>/events/<kind>.
package hotplug
