// Package base provides the protocol-agnostic core of the RPC transport:
// the socket worker on the client side and a matching server transport loop,
// both independent of the specific network protocol. Protocol-specific
// connectors (see the tcp package) are plugged in via the interfaces defined
// in the transport package.
//
// The package focuses on:
//   - Connection lifecycle of a single resilient transport connection
//   - Bounded-count, fixed-delay reconnection with at most one pending retry
//     timer per worker
//   - Heartbeat liveness monitoring while connected
//   - Dispatch of inbound frames to either heartbeat handling or
//     application-level decoding
//
// Key Components:
//
//   - Worker: Owns one transport handle, the status state machine, a frame
//     assembler and a heartbeat monitor. Exactly one transport handle is
//     open per worker at any instant; every new connection attempt releases
//     the previous handle first. A transport closure is never silently
//     ignored: it either schedules a retry or produces a terminal close
//     notification.
//
//   - serverTransport: Accepts connections, decodes request frames, answers
//     heartbeat probes and routes requests to a registered handler. Intended
//     as demo peer and test endpoint; it shares the full wire contract with
//     the worker.
//
// Failure semantics:
//
//	Transport errors are non-fatal and logged; the subsequent closure drives
//	the retry policy. A heartbeat timeout forces closure and re-enters the
//	same path. Exhausting the retry budget is the only fatal condition for a
//	worker and is reported through the observer, never by crashing the
//	process. Malformed frames are logged and dropped without tearing down
//	the connection.
//
// Thread Safety:
//
//	All public methods are thread-safe. Observer callbacks are invoked from
//	worker goroutines without holding internal locks, so observers may call
//	back into the worker.
package base
