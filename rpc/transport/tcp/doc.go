// Package tcp implements TCP socket-based connectors for the RPC transport
// core. It provides concrete implementations of the transport package's
// connector interfaces.
//
// This package builds on the base package's worker and server transport,
// inheriting the connection lifecycle, retry and heartbeat behavior. The
// client connector additionally tunes each established connection:
// TCP_NODELAY is enabled by default (small RPC frames favor latency over
// throughput), and write/read buffer sizes, keep-alive and linger can be
// configured via the common.ClientConfig socket settings.
package tcp
