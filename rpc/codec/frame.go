package codec

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// --------------------------------------------------------------------------
// Frame format
// --------------------------------------------------------------------------

// Every frame on the wire starts with a fixed 16 byte header:
//   - 2 bytes: magic (uint16, big endian)
//   - 1 byte:  protocol version
//   - 1 byte:  flags (bit 0: heartbeat, bit 1: request)
//   - 8 bytes: request id (uint64, big endian)
//   - 4 bytes: payload length (uint32, big endian)
// followed by the payload. Heartbeat frames carry no payload.
const (
	FrameMagic   uint16 = 0xdabc
	FrameVersion byte   = 1
	HeaderSize          = 16

	// MaxPayloadSize bounds a single frame. A header announcing more than
	// this is treated as a protocol violation, not a large frame.
	MaxPayloadSize = 16 << 20
)

// Frame flag bits
const (
	FlagHeartbeat byte = 1 << 0
	FlagRequest   byte = 1 << 1
)

// Frame is a complete, self-delimited unit of bytes on the wire, either a
// heartbeat probe or an application request/response payload.
type Frame struct {
	Flags     byte
	RequestID uint64
	Payload   []byte
}

// IsHeartbeat reports whether the frame is a heartbeat probe
func (f Frame) IsHeartbeat() bool {
	return f.Flags&FlagHeartbeat != 0
}

// HeartbeatFrame returns a new heartbeat probe frame
func HeartbeatFrame() Frame {
	return Frame{Flags: FlagHeartbeat}
}

// --------------------------------------------------------------------------
// Frame encoding / decoding
// --------------------------------------------------------------------------

// EncodeFrame serializes a frame into a single byte slice
func EncodeFrame(f Frame) []byte {
	buf := make([]byte, HeaderSize+len(f.Payload))
	putHeader(buf, f)
	copy(buf[HeaderSize:], f.Payload)
	return buf
}

// WriteFrame writes a frame to the connection. Header and payload are
// combined into a single write via net.Buffers to reduce syscalls.
func WriteFrame(w io.Writer, f Frame) error {
	header := make([]byte, HeaderSize)
	putHeader(header, f)

	b := net.Buffers{header, f.Payload}
	_, err := b.WriteTo(w)
	return err
}

// ReadFrame reads a single frame from the reader, blocking until the frame
// is complete. It is used by the server side, where a blocking read loop per
// connection is acceptable; the client side assembles frames incrementally
// via the Assembler instead.
func ReadFrame(r io.Reader) (Frame, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return Frame{}, err
	}

	f, payloadLen, err := parseHeader(header)
	if err != nil {
		return Frame{}, err
	}

	if payloadLen == 0 {
		return f, nil
	}

	f.Payload = make([]byte, payloadLen)
	if _, err := io.ReadFull(r, f.Payload); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// putHeader writes the frame header into buf, which must hold HeaderSize bytes
func putHeader(buf []byte, f Frame) {
	binary.BigEndian.PutUint16(buf[0:2], FrameMagic)
	buf[2] = FrameVersion
	buf[3] = f.Flags
	binary.BigEndian.PutUint64(buf[4:12], f.RequestID)
	binary.BigEndian.PutUint32(buf[12:16], uint32(len(f.Payload)))
}

// parseHeader validates and decodes a frame header
func parseHeader(header []byte) (Frame, int, error) {
	if magic := binary.BigEndian.Uint16(header[0:2]); magic != FrameMagic {
		return Frame{}, 0, fmt.Errorf("bad frame magic 0x%04x", magic)
	}
	if version := header[2]; version != FrameVersion {
		return Frame{}, 0, fmt.Errorf("unsupported frame version %d", version)
	}

	payloadLen := binary.BigEndian.Uint32(header[12:16])
	if payloadLen > MaxPayloadSize {
		return Frame{}, 0, fmt.Errorf("frame payload of %d bytes exceeds maximum of %d", payloadLen, MaxPayloadSize)
	}

	return Frame{
		Flags:     header[3],
		RequestID: binary.BigEndian.Uint64(header[4:12]),
	}, int(payloadLen), nil
}
