// Package codec provides the wire format of the RPC transport core: message
// serialization, frame encoding and incremental frame assembly.
//
// The package focuses on:
//   - Providing a consistent interface for different serialization formats
//   - A compact, self-delimiting frame format shared by requests, responses
//     and heartbeat probes
//   - Turning an unstructured byte stream into discrete frames
//
// Key Components:
//
//   - ISerializer: Core interface that all serializer implementations must
//     satisfy.
//
//   - binarySerializerImpl: Custom binary format implementation optimized for
//     speed and space efficiency. Uses a flag-based approach to encode only
//     present fields, resulting in compact serialized data with minimal
//     overhead. Recommended for production use.
//
//   - jsonSerializerImpl: Implementation using JSON encoding, useful for
//     debugging or interoperability with other systems, but with lower
//     performance.
//
//   - gobSerializerImpl: Implementation using Go's built-in gob encoding,
//     offering good compatibility with Go's type system but with larger
//     serialized sizes.
//
//   - Frame: A complete unit of bytes on the wire. The 16 byte header carries
//     magic, version, flags, a request id and the payload length. Heartbeat
//     probes are frames with the heartbeat flag set and no payload, so
//     liveness checks share the framing of application traffic.
//
//   - Assembler: Buffers partial transport reads and emits only complete
//     frames through a registered callback. Cleared by the socket worker on
//     every transport closure.
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent use.
//	The Assembler synchronizes Feed and Clear internally.
package codec
