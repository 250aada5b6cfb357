package transport

import (
	"net"

	"github.com/ValentinKolb/dRPC/rpc/common"
)

// --------------------------------------------------------------------------
// Observer Contract
// --------------------------------------------------------------------------

// Event identifies the worker a lifecycle notification originates from
type Event struct {
	WorkerID uint64
	Host     string
	Port     int
}

// IObserver is the callback contract a worker uses to report connect, data
// and close events to its owner. The worker holds a single observer slot;
// Subscribe replaces it. Replacing with NoopObserver is the teardown idiom.
//
// Callbacks are invoked from worker goroutines and must not block for long.
type IObserver interface {
	// OnConnect is called after a transport level connect succeeded
	OnConnect(e Event)
	// OnData is called once per decoded application response
	OnData(msg *common.Message)
	// OnClose is called exactly once when the worker exhausted its retry
	// budget and became terminally closed
	OnClose(e Event)
}

// NoopObserver is an IObserver that ignores all notifications
type NoopObserver struct{}

func (NoopObserver) OnConnect(Event)        {}
func (NoopObserver) OnData(*common.Message) {}
func (NoopObserver) OnClose(Event)          {}

// --------------------------------------------------------------------------
// Socket Worker
// --------------------------------------------------------------------------

// IWorker is the interface of a single socket worker: one resilient transport
// connection to one remote endpoint
type IWorker interface {
	// ID returns the process-unique id of this worker
	ID() uint64
	// Write serializes and sends a request. It fails fast with
	// ErrNotConnected while the worker is not connected.
	Write(ctx *common.RequestContext) error
	// Status returns the current connection state
	Status() Status
	// IsAvailable is true iff the worker status is connected
	IsAvailable() bool
	// IsRetrying is true iff a reconnection is scheduled
	IsRetrying() bool
	// ResetRetryBudget restores the retry budget to its maximum. If the
	// worker is closed this eagerly starts a new connection attempt.
	ResetRetryBudget()
	// Subscribe replaces the current observer and returns the worker for
	// chaining
	Subscribe(o IObserver) IWorker
	// Close tears the worker down: it cancels any pending retry timer,
	// stops the heartbeat monitor and releases the transport handle
	Close() error
}

// --------------------------------------------------------------------------
// Connector interfaces for dependency injection
// --------------------------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection to the given endpoint
	Connect(endpoint string, config common.ClientConfig) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.ClientConfig) error
}

// IServerConnector defines the interface for transport-specific server operations
type IServerConnector interface {
	// Listen creates a listener and returns it
	Listen(config common.ServerConfig) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "tcp")
	GetName() string
}

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc is a function type that handles incoming requests.
// It is called by the server transport once per decoded request message and
// returns the response to send back.
type ServerHandleFunc func(req *common.Message) (resp *common.Message)

// IServerTransport is the interface for the demo server transport. It speaks
// the same wire contract as the socket worker, including heartbeat probes.
type IServerTransport interface {
	// RegisterHandler registers the handler called for every request
	RegisterHandler(handler ServerHandleFunc)
	// Listen starts the transport layer and serves until Close is called
	Listen(config common.ServerConfig) error
	// Addr returns the bound listener address, nil before Listen
	Addr() net.Addr
	// Close stops the listener
	Close() error
}
