// Package control implements the shared control channel used by management
// processes to query the filter.
//
// A channel is an HTTP/1.1 endpoint on a Unix-domain socket. Each channel
// instance has its own identity, a sequential request queue with a single
// worker, and an optional symbolic alias (a symlink) published alongside the
// socket. Channels are built by a Factory, which the filter registry calls
// when the first instance attaches.
//
// Creation is all-or-nothing:
//
//	allocate → bind socket → set socket mode → start queue →
//	publish alias → start serving → Active
//
// If any step fails, everything acquired so far is released in reverse order.
// Requests arriving before the channel is Active are rejected.
//
// Deletion never waits for in-flight requests. It stops serving, withdraws
// the alias, stops the queue and removes the socket, then returns a channel
// that is closed once the serving goroutine and queue worker have exited.
//
// Wire protocol:
//
//	POST /v1/ioctl   {"code":N,"input_length":N,"output_length":N}
//	                 → {"status":"success","information":0,"instances":[...]}
//	GET  /v1/channel → {"id":"...","state":"active"}
//
// Client wraps the protocol for management tools.
package control
