package common

import (
	"fmt"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Shared socket configuration structs
// --------------------------------------------------------------------------

// SocketConf holds buffer settings shared by client and server sockets
type SocketConf struct {
	WriteBufferSize int
	ReadBufferSize  int
}

// TCPConf holds TCP specific socket settings
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

// WorkerConf holds the retry and heartbeat parameters of a single socket worker
type WorkerConf struct {
	// MaxRetries is the reconnection budget of the worker. After this many
	// consecutive failed reconnection attempts the worker becomes CLOSED.
	MaxRetries int
	// RetryDelayMs is the fixed delay between a transport closure and the
	// next reconnection attempt
	RetryDelayMs int
	// HeartbeatIntervalMs is the probe cadence while the worker is connected.
	// Zero disables heartbeat monitoring.
	HeartbeatIntervalMs int
	// HeartbeatTimeoutMs is the silence threshold after which the peer is
	// considered dead. Defaults to three times the interval.
	HeartbeatTimeoutMs int
}

// ClientConfig holds all configuration parameters for a client side worker
type ClientConfig struct {
	Endpoint      string // host:port of the remote service
	TimeoutSecond int    // dial and write deadline

	Worker WorkerConf
	Socket SocketConf
	TCP    TCPConf
}

// Defaults for the worker retry and heartbeat policy
const (
	DefaultMaxRetries          = 20
	DefaultRetryDelayMs        = 3000
	DefaultHeartbeatIntervalMs = 10000
)

// DefaultClientConfig returns a ClientConfig with the default worker policy
// for the given endpoint
func DefaultClientConfig(endpoint string) ClientConfig {
	return ClientConfig{
		Endpoint:      endpoint,
		TimeoutSecond: 10,
		Worker: WorkerConf{
			MaxRetries:          DefaultMaxRetries,
			RetryDelayMs:        DefaultRetryDelayMs,
			HeartbeatIntervalMs: DefaultHeartbeatIntervalMs,
			HeartbeatTimeoutMs:  3 * DefaultHeartbeatIntervalMs,
		},
		TCP: TCPConf{
			TCPNoDelay: true, // favor latency over throughput for small RPC frames
		},
	}
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Endpoint", c.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))

	// Worker policy
	addSection("Worker Policy")
	addField("Max Retries", strconv.Itoa(c.Worker.MaxRetries))
	addField("Retry Delay", fmt.Sprintf("%d ms", c.Worker.RetryDelayMs))
	addField("Heartbeat Interval", fmt.Sprintf("%d ms", c.Worker.HeartbeatIntervalMs))
	addField("Heartbeat Timeout", fmt.Sprintf("%d ms", c.Worker.HeartbeatTimeoutMs))

	// Socket settings
	addSection("Socket")
	addField("TCP NoDelay", fmt.Sprintf("%t", c.TCP.TCPNoDelay))
	addField("TCP KeepAlive", fmt.Sprintf("%d sec", c.TCP.TCPKeepAliveSec))
	addField("TCP Linger", fmt.Sprintf("%d sec", c.TCP.TCPLingerSec))
	addField("Write Buffer", fmt.Sprintf("%d bytes", c.Socket.WriteBufferSize))
	addField("Read Buffer", fmt.Sprintf("%d bytes", c.Socket.ReadBufferSize))

	return sb.String()
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters for the demo server transport
type ServerConfig struct {
	Endpoint      string // listen address
	TimeoutSecond int    // per-request read/write deadline

	Socket SocketConf
	TCP    TCPConf

	// Logging configuration
	LogLevel string
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("RPC Server")
	addField("Endpoint", c.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}
