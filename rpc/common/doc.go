// Package common provides core data structures and utilities shared across
// the RPC transport core. It contains the Message protocol used for requests
// and responses, the RequestContext that correlates a request with its
// eventual response, the client and server configuration structures, and the
// logging setup.
//
// Key Components:
//
//   - Message: The single message structure used for both requests and
//     responses, together with factory functions for each message type.
//
//   - RequestContext: Carries a correlation id and the request message. The
//     socket worker stamps its own id onto the context on every write so the
//     owner can attribute in-flight failures to a specific worker.
//
//   - ClientConfig/ServerConfig: Configuration structures with formatted
//     String() output for startup logging. ClientConfig embeds the worker
//     retry and heartbeat policy.
//
//   - Logger factory: Custom formatting for all package loggers, initialized
//     once via InitLoggers.
package common
