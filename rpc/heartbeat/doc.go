// Package heartbeat implements the liveness mechanism of the RPC transport
// core. A Monitor periodically checks the elapsed time since the last
// outbound write and the last observed peer activity: it sends a probe frame
// when the connection has been idle on writes, and fires a timeout callback
// when the peer has been silent past a threshold.
//
// The monitor does not know about framing. It is constructed with a probe
// write function and a timeout callback, so the owning worker decides what a
// probe looks like on the wire and how a timeout tears the connection down.
package heartbeat
