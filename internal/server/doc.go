// Package server is archie-relay's HTTP surface.
//
// # Routes
//
//	GET  /events       protected   long-lived SSE stream of push events
//	POST /message      protected   forward a user message to the backend
//	POST /push         trusted     broadcast a backend event to all streams
//	POST /relay/vargo  credential  forward a message to the Telegram chat
//	GET  /healthz      open        liveness probe
//
// Anything else is a 404. Every response carries the wildcard CORS
// header set and OPTIONS pre-flights return an empty success before
// dispatch. Protected routes run the auth middleware before any other
// work; /push is reachable only from the trusted local process and
// /relay/vargo is guarded by the presence of the relay credential.
//
// # Streaming
//
// Each /events connection owns one goroutine that serializes all writes
// to its ResponseWriter: broadcasts arrive through a buffered channel
// registered with the stream registry, and a 15 second ticker emits
// keep-alive comment lines between them. A write failure or client
// disconnect ends the goroutine, which unregisters the connection and
// stops the ticker. One broken stream never disturbs another.
//
// # Errors
//
// Failures map to a small taxonomy: 400 for unparsable or incomplete
// bodies, 401 for missing or unverified credentials, 404 for unmatched
// routes, 429 past the message rate limit, and 500 for upstream or
// configuration failures. Bodies are structured JSON with a generic
// message; upstream error text stays in the logs.
package server
