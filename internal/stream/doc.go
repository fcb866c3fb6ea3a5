// Package stream tracks the relay's open event streams and fans
// backend push events out to all of them.
//
// # Model
//
// A connection is an opaque UUID paired with an emit capability
// (EmitFunc). The registry never touches the transport: SSE, WebSocket,
// or a buffered channel in tests all look the same behind EmitFunc.
//
// A connection is either OPEN (registered) or CLOSED (unregistered);
// there are no other states. Registration happens when a client opens a
// stream, unregistration when the transport disconnects or a write
// fails. Broadcast itself never removes a connection — a failed emit is
// logged and the stream's own cleanup path does the removal, so one
// broken pipe cannot disturb the other streams mid-iteration.
package stream
