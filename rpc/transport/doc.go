// Package transport defines the contracts of the RPC transport core: the
// worker status state machine, the socket worker interface, the observer
// contract between a worker and its owner, and the connector interfaces that
// allow plugging in different network protocols.
//
// Concrete implementations live in subpackages:
//
//   - base: the protocol-agnostic socket worker engine and the demo server
//     transport loop.
//
//   - tcp: TCP connectors for both sides, including socket tuning
//     (TCP_NODELAY, buffers, keep-alive).
package transport
