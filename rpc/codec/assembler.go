package codec

import (
	"sync"
)

// FrameFunc is the callback invoked by the Assembler once per complete frame
type FrameFunc func(f Frame)

// Assembler buffers partial transport reads and emits only complete frames.
// A socket worker owns one assembler for its lifetime and clears it on every
// transport closure so stale partial frames never leak into the next
// connection.
//
// Feed and Clear are safe for concurrent use; frames are emitted in the order
// their bytes arrived.
type Assembler struct {
	mu      sync.Mutex
	buf     []byte
	onFrame FrameFunc
}

// NewAssembler creates an assembler that delivers complete frames to onFrame
func NewAssembler(onFrame FrameFunc) *Assembler {
	return &Assembler{onFrame: onFrame}
}

// Feed appends raw bytes from the transport and emits every frame that is now
// complete. A malformed header (bad magic, unknown version, oversized length)
// is unrecoverable for the byte stream and returned as an error; the caller
// is expected to tear down the connection.
func (a *Assembler) Feed(data []byte) error {
	a.mu.Lock()

	a.buf = append(a.buf, data...)

	var complete []Frame
	for len(a.buf) >= HeaderSize {
		f, payloadLen, err := parseHeader(a.buf[:HeaderSize])
		if err != nil {
			// Drop the poisoned buffer, the stream has lost framing
			a.buf = nil
			a.mu.Unlock()
			return err
		}

		total := HeaderSize + payloadLen
		if len(a.buf) < total {
			break // partial frame, wait for more bytes
		}

		if payloadLen > 0 {
			f.Payload = make([]byte, payloadLen)
			copy(f.Payload, a.buf[HeaderSize:total])
		}
		a.buf = a.buf[total:]
		complete = append(complete, f)
	}
	cb := a.onFrame
	a.mu.Unlock()

	// Deliver outside the lock so the callback may feed writes back into the
	// worker without deadlocking
	if cb != nil {
		for _, f := range complete {
			cb(f)
		}
	}
	return nil
}

// Clear discards any partially buffered frame
func (a *Assembler) Clear() {
	a.mu.Lock()
	a.buf = nil
	a.mu.Unlock()
}

// Buffered returns the number of bytes currently held back as an incomplete frame
func (a *Assembler) Buffered() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buf)
}
