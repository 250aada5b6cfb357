package base

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/ValentinKolb/dRPC/rpc/codec"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/ValentinKolb/dRPC/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var srvLogger = logger.GetLogger("transport/server")

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// serverTransport implements the core server transport functionality
// independent of the specific transport medium. It speaks the same frame
// protocol as the socket worker and answers heartbeat probes with probes.
type serverTransport struct {
	connector  transport.IServerConnector
	handler    transport.ServerHandleFunc
	serializer codec.ISerializer
	config     common.ServerConfig

	mu       sync.Mutex
	listener net.Listener
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, etc.)
// -----------------------------------------------------------

// NewBaseServerTransport creates a new base server transport with the specified connector
func NewBaseServerTransport(connector transport.IServerConnector, serializer codec.ISerializer) transport.IServerTransport {
	return &serverTransport{
		connector:  connector,
		serializer: serializer,
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IServerTransport)
// --------------------------------------------------------------------------

func (t *serverTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *serverTransport) Listen(config common.ServerConfig) error {
	t.config = config

	// Create listener using the connector
	listener, err := t.connector.Listen(config)
	if err != nil {
		return fmt.Errorf("failed to create listener: %v", err)
	}
	t.mu.Lock()
	t.listener = listener
	t.mu.Unlock()

	srvLogger.Infof("starting %s server on %s", t.connector.GetName(), listener.Addr())

	// Accept connections
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			srvLogger.Errorf("accept error: %v", err)
			continue
		}

		// Handle the connection in a goroutine
		go t.handleConnection(conn)
	}
}

func (t *serverTransport) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

func (t *serverTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Close()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// handleConnection handles incoming frames for one connection
func (t *serverTransport) handleConnection(conn net.Conn) {
	defer conn.Close()

	// Timeout in seconds
	timeout := time.Duration(t.config.TimeoutSecond) * time.Second

	// Create a mutex to protect writes to the connection, responses and
	// heartbeat replies may interleave
	var connMutex sync.Mutex

	writeFrame := func(f codec.Frame) error {
		connMutex.Lock()
		defer connMutex.Unlock()

		if timeout > 0 {
			if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
				return fmt.Errorf("failed to set write deadline: %v", err)
			}
		}
		return codec.WriteFrame(conn, f)
	}

	// Handler function that processes one request in a worker goroutine
	handleRequest := func(f codec.Frame) {
		var req common.Message
		if err := t.serializer.Deserialize(f.Payload, &req); err != nil {
			srvLogger.Errorf("dropping undecodable request %d: %v", f.RequestID, err)
			return
		}

		// Process the request
		start := time.Now()
		resp := t.handler(&req)
		srvLogger.Debugf("processed request %d (%s/%s) in %s", f.RequestID, req.Service, req.Method, time.Since(start))

		payload, err := t.serializer.Serialize(*resp)
		if err != nil {
			srvLogger.Errorf("failed to serialize response %d: %v", f.RequestID, err)
			return
		}

		// Write the response with the same requestID
		if err := writeFrame(codec.Frame{RequestID: f.RequestID, Payload: payload}); err != nil {
			srvLogger.Errorf("failed to write response %d: %v", f.RequestID, err)
		}
	}

	// Handle frames in a loop
	for {
		if timeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
				srvLogger.Errorf("failed to set read deadline: %v", err)
				return
			}
		}

		frame, err := codec.ReadFrame(conn)

		// Case EOF: Connection closed by client
		if err == io.EOF {
			srvLogger.Infof("connection closed by client")
			return
		}

		// Case error: log and close connection
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				srvLogger.Errorf("error reading frame: %v", err)
			}
			return
		}

		// Answer heartbeat probes immediately, they never reach the handler
		if frame.IsHeartbeat() {
			if err := writeFrame(codec.HeartbeatFrame()); err != nil {
				srvLogger.Errorf("failed to answer heartbeat: %v", err)
				return
			}
			continue
		}

		// Process in a goroutine so slow handlers do not stall heartbeats
		go handleRequest(frame)
	}
}
