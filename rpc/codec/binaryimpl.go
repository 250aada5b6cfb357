package codec

import (
	"encoding/binary"
	"fmt"
	"github.com/ValentinKolb/dRPC/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() ISerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements ISerializer using a custom binary format
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasService byte = 1 << 0
	hasMethod  byte = 1 << 1
	hasPayload byte = 1 << 2
	hasOk      byte = 1 << 3
	hasErr     byte = 1 << 4
	hasMeta    byte = 1 << 5
)

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.ISerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	// Calculate total size needed
	totalSize := b.sizeBytes(msg)
	result := make([]byte, totalSize)

	// Write message type
	result[0] = byte(msg.MsgType)

	// Initialize flags byte
	var flags byte = 0

	// Set position for writing
	pos := 2 // Start after MsgType and flags

	// Handle Service
	if msg.Service != "" {
		flags |= hasService
		pos += putLengthPrefixed(result[pos:], []byte(msg.Service))
	}

	// Handle Method
	if msg.Method != "" {
		flags |= hasMethod
		pos += putLengthPrefixed(result[pos:], []byte(msg.Method))
	}

	// Handle Payload
	if msg.Payload != nil {
		flags |= hasPayload
		pos += putLengthPrefixed(result[pos:], msg.Payload)
	}

	// Handle Ok
	if msg.Ok {
		flags |= hasOk
		result[pos] = 1
		pos += 1
	}

	// Handle Err
	if msg.Err != "" {
		flags |= hasErr
		pos += putLengthPrefixed(result[pos:], []byte(msg.Err))
	}

	// Handle Meta
	if msg.Meta != nil {
		flags |= hasMeta
		pos += putLengthPrefixed(result[pos:], msg.Meta)
	}

	// Set flags byte after knowing which fields are present
	result[1] = flags

	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	// Check minimum size (MsgType + flags)
	if len(data) < 2 {
		return fmt.Errorf("data too short for message header")
	}

	// Read message type
	msg.MsgType = common.MessageType(data[0])

	// Read flags
	flags := data[1]

	// Initialize read position
	pos := 2

	// Read Service if present
	if flags&hasService != 0 {
		field, n, err := readLengthPrefixed(data[pos:], "service")
		if err != nil {
			return err
		}
		msg.Service = string(field)
		pos += n
	} else {
		msg.Service = ""
	}

	// Read Method if present
	if flags&hasMethod != 0 {
		field, n, err := readLengthPrefixed(data[pos:], "method")
		if err != nil {
			return err
		}
		msg.Method = string(field)
		pos += n
	} else {
		msg.Method = ""
	}

	// Read Payload if present
	if flags&hasPayload != 0 {
		field, n, err := readLengthPrefixed(data[pos:], "payload")
		if err != nil {
			return err
		}
		// Reuse the target buffer where possible to avoid allocations
		if msg.Payload == nil || cap(msg.Payload) < len(field) {
			msg.Payload = make([]byte, len(field))
		} else {
			msg.Payload = msg.Payload[:len(field)]
		}
		copy(msg.Payload, field)
		pos += n
	} else {
		msg.Payload = nil
	}

	// Read Ok if present
	if flags&hasOk != 0 {
		if pos+1 > len(data) {
			return fmt.Errorf("data too short for Ok flag")
		}
		msg.Ok = data[pos] != 0
		pos += 1
	} else {
		msg.Ok = false
	}

	// Read Err if present
	if flags&hasErr != 0 {
		field, n, err := readLengthPrefixed(data[pos:], "error")
		if err != nil {
			return err
		}
		msg.Err = string(field)
		pos += n
	} else {
		msg.Err = ""
	}

	// Read Meta if present
	if flags&hasMeta != 0 {
		field, n, err := readLengthPrefixed(data[pos:], "meta")
		if err != nil {
			return err
		}
		if msg.Meta == nil || cap(msg.Meta) < len(field) {
			msg.Meta = make([]byte, len(field))
		} else {
			msg.Meta = msg.Meta[:len(field)]
		}
		copy(msg.Meta, field)
		pos += n
	} else {
		msg.Meta = nil
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// putLengthPrefixed writes a 4 byte big endian length followed by the data
// and returns the number of bytes written
func putLengthPrefixed(dst, data []byte) int {
	binary.BigEndian.PutUint32(dst[:4], uint32(len(data)))
	copy(dst[4:4+len(data)], data)
	return 4 + len(data)
}

// readLengthPrefixed reads a 4 byte big endian length followed by the data
// and returns the field, the number of bytes consumed and an error if the
// input is truncated
func readLengthPrefixed(src []byte, field string) ([]byte, int, error) {
	if len(src) < 4 {
		return nil, 0, fmt.Errorf("data too short for %s length", field)
	}
	n := binary.BigEndian.Uint32(src[:4])
	if 4+int(n) > len(src) {
		return nil, 0, fmt.Errorf("data too short for %s data", field)
	}
	return src[4 : 4+n], 4 + int(n), nil
}

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	// 1 byte for MsgType + 1 byte for flags
	size := 2

	// Add sizes for fields that require length encoding
	if msg.Service != "" {
		size += 4 + len(msg.Service)
	}
	if msg.Method != "" {
		size += 4 + len(msg.Method)
	}
	if msg.Payload != nil {
		size += 4 + len(msg.Payload)
	}
	if msg.Ok {
		size += 1
	}
	if msg.Err != "" {
		size += 4 + len(msg.Err)
	}
	if msg.Meta != nil {
		size += 4 + len(msg.Meta)
	}

	return size
}
