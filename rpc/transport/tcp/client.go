package tcp

import (
	"net"
	"time"

	"github.com/ValentinKolb/dRPC/rpc/codec"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/ValentinKolb/dRPC/rpc/transport"
	"github.com/ValentinKolb/dRPC/rpc/transport/base"
)

// clientConnector implements the IClientConnector interface for TCP sockets
type clientConnector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IClientConnector)
// --------------------------------------------------------------------------

func (c *clientConnector) GetName() string {
	return "tcp"
}

func (c *clientConnector) Connect(endpoint string, config common.ClientConfig) (net.Conn, error) {
	if config.TimeoutSecond > 0 {
		timeout := time.Duration(config.TimeoutSecond) * time.Second
		return net.DialTimeout("tcp", endpoint, timeout)
	}
	return net.Dial("tcp", endpoint)
}

// UpgradeConnection applies performance optimizations to a TCP connection
// using configuration values from TCPConf and SocketConf
func (c *clientConnector) UpgradeConnection(conn net.Conn, config common.ClientConfig) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil // Not a TCP connection, nothing to upgrade
	}

	// Disable Nagle's algorithm (TCPNoDelay) if configured, favoring latency
	// over throughput for small RPC frames
	if err := tcpConn.SetNoDelay(config.TCP.TCPNoDelay); err != nil {
		return err
	}

	// Set socket write buffer size if configured
	if config.Socket.WriteBufferSize > 0 {
		if err := tcpConn.SetWriteBuffer(config.Socket.WriteBufferSize); err != nil {
			return err
		}
	}

	// Set socket read buffer size if configured
	if config.Socket.ReadBufferSize > 0 {
		if err := tcpConn.SetReadBuffer(config.Socket.ReadBufferSize); err != nil {
			return err
		}
	}

	// Enable TCP keep-alive if configured
	if config.TCP.TCPKeepAliveSec > 0 {
		if err := tcpConn.SetKeepAlive(true); err != nil {
			return err
		}

		keepAlivePeriod := time.Duration(config.TCP.TCPKeepAliveSec) * time.Second
		if err := tcpConn.SetKeepAlivePeriod(keepAlivePeriod); err != nil {
			return err
		}
	}

	// Set TCP linger option if configured
	if config.TCP.TCPLingerSec > 0 {
		if err := tcpConn.SetLinger(config.TCP.TCPLingerSec); err != nil {
			return err
		}
	}

	return nil
}

// --------------------------------------------------------------------------
// Worker Factory Method
// --------------------------------------------------------------------------

// NewTCPWorker creates a socket worker that connects over TCP
func NewTCPWorker(
	config common.ClientConfig,
	serializer codec.ISerializer,
	observer transport.IObserver,
) (*base.Worker, error) {
	return base.NewWorker(config, &clientConnector{}, serializer, observer)
}
