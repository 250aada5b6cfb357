// Package rpc provides the transport core of an RPC client: a single
// resilient TCP connection per socket worker, with automatic reconnection,
// heartbeat liveness monitoring and dispatch of inbound frames to either
// heartbeat handling or application-level decoding.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures and utilities used across the system,
//     including the Message protocol, the RequestContext, configuration
//     structures, and logging.
//
//   - codec: The wire format - message serialization with multiple format
//     options (Binary, JSON, GOB), the frame protocol shared by requests,
//     responses and heartbeat probes, and the incremental frame assembler.
//
//   - heartbeat: The liveness monitor bound to one connection at a time.
//
//   - transport: Contracts of the core - the worker status state machine,
//     the socket worker and observer interfaces, and pluggable connector
//     interfaces, with the worker engine in transport/base and TCP
//     connectors in transport/tcp.
package rpc
