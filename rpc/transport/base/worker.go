package base

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dRPC/rpc/codec"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/ValentinKolb/dRPC/rpc/heartbeat"
	"github.com/ValentinKolb/dRPC/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("transport/worker")

// nextWorkerID generates process-unique worker ids. Ids are never reused.
var nextWorkerID uint64

var (
	// ErrNotConnected is returned by Write while the worker is not connected.
	// Writes are rejected fast instead of being queued; callers should check
	// IsAvailable first.
	ErrNotConnected = errors.New("worker is not connected")

	// ErrWorkerClosed is returned when operating on an externally closed worker
	ErrWorkerClosed = errors.New("worker is closed")
)

// Transport level counters
var (
	metricConnects          = metrics.NewCounter("drpc_worker_connects_total")
	metricRetries           = metrics.NewCounter("drpc_worker_retries_total")
	metricExhausted         = metrics.NewCounter("drpc_worker_retry_exhausted_total")
	metricFramesIn          = metrics.NewCounter("drpc_worker_frames_in_total")
	metricFramesOut         = metrics.NewCounter("drpc_worker_frames_out_total")
	metricDecodeErrors      = metrics.NewCounter("drpc_worker_decode_errors_total")
	metricHeartbeatsSent    = metrics.NewCounter("drpc_worker_heartbeats_sent_total")
	metricHeartbeatTimeouts = metrics.NewCounter("drpc_worker_heartbeat_timeouts_total")
)

// -----------------------------------------------------------
// Socket Worker
// -----------------------------------------------------------

// Worker owns exactly one transport connection to one remote endpoint and
// orchestrates connect, retry, write and teardown. It keeps a bounded retry
// budget: every transport closure either schedules a reconnection after a
// fixed delay or, once the budget is exhausted, moves the worker to the
// terminal closed state and notifies the observer.
type Worker struct {
	id   uint64
	host string
	port int

	config     common.ClientConfig
	connector  transport.IClientConnector
	serializer codec.ISerializer

	// inflight tracks requests written on this worker that have not yet been
	// answered, keyed by request id. Used by the owner to attribute failures
	// after a terminal close.
	inflight *xsync.MapOf[uint64, *common.RequestContext]

	// mu guards all mutable connection state below
	mu         sync.Mutex
	status     transport.Status
	retries    int
	conn       net.Conn
	connGen    uint64 // bumped per connect attempt, stale events are discarded
	retryTimer *time.Timer
	monitor    *heartbeat.Monitor
	assembler  *codec.Assembler
	observer   transport.IObserver
	closed     bool

	// wmu serializes writes to the connection (application frames and probes)
	wmu sync.Mutex
}

// NewWorker creates a worker for the endpoint in config and immediately
// begins connecting in the background. It fails only on malformed endpoint
// input. A nil observer defaults to NoopObserver.
func NewWorker(
	config common.ClientConfig,
	connector transport.IClientConnector,
	serializer codec.ISerializer,
	observer transport.IObserver,
) (*Worker, error) {
	host, portStr, err := net.SplitHostPort(config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %v", config.Endpoint, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: non-numeric port", config.Endpoint)
	}

	if observer == nil {
		observer = transport.NoopObserver{}
	}

	w := &Worker{
		id:         atomic.AddUint64(&nextWorkerID, 1),
		host:       host,
		port:       port,
		config:     config,
		connector:  connector,
		serializer: serializer,
		inflight:   xsync.NewMapOf[uint64, *common.RequestContext](),
		status:     transport.StatusPadding,
		retries:    config.Worker.MaxRetries,
		observer:   observer,
	}
	w.assembler = codec.NewAssembler(w.dispatch)

	Logger.Infof("worker %d: created for %s via %s", w.id, config.Endpoint, connector.GetName())
	go w.connect()

	return w, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IWorker)
// --------------------------------------------------------------------------

func (w *Worker) ID() uint64 {
	return w.id
}

func (w *Worker) Status() transport.Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *Worker) IsAvailable() bool {
	return w.Status() == transport.StatusConnected
}

func (w *Worker) IsRetrying() bool {
	return w.Status() == transport.StatusRetry
}

func (w *Worker) Write(ctx *common.RequestContext) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWorkerClosed
	}
	if w.status != transport.StatusConnected || w.conn == nil {
		w.mu.Unlock()
		return ErrNotConnected
	}
	conn := w.conn
	monitor := w.monitor
	ctx.WorkerID = w.id // attribute the request to this worker
	w.mu.Unlock()

	payload, err := w.serializer.Serialize(*ctx.Message)
	if err != nil {
		return fmt.Errorf("failed to serialize request %d: %v", ctx.RequestID, err)
	}

	w.inflight.Store(ctx.RequestID, ctx)

	// Record write recency before the bytes hit the wire so the heartbeat
	// monitor never probes a connection that is actively writing
	if monitor != nil {
		monitor.NoteWrite()
	}

	frame := codec.Frame{
		Flags:     codec.FlagRequest,
		RequestID: ctx.RequestID,
		Payload:   payload,
	}
	if err := w.writeFrame(conn, frame); err != nil {
		w.inflight.Delete(ctx.RequestID)
		return fmt.Errorf("failed to write request %d: %v", ctx.RequestID, err)
	}

	metricFramesOut.Inc()
	return nil
}

func (w *Worker) ResetRetryBudget() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.retries = w.config.Worker.MaxRetries

	// Leaving the terminal state requires an eager reconnect; in any other
	// state only the counter is restored
	if w.status == transport.StatusClosed {
		Logger.Infof("worker %d: retry budget reset, reconnecting to %s", w.id, w.config.Endpoint)
		w.transition(transport.StatusPadding)
		w.mu.Unlock()
		go w.connect()
		return
	}
	w.mu.Unlock()
}

func (w *Worker) Subscribe(o transport.IObserver) transport.IWorker {
	if o == nil {
		o = transport.NoopObserver{}
	}
	w.mu.Lock()
	w.observer = o
	w.mu.Unlock()
	return w
}

func (w *Worker) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWorkerClosed
	}
	w.closed = true
	w.connGen++ // invalidate all outstanding transport events
	if w.retryTimer != nil {
		w.retryTimer.Stop()
		w.retryTimer = nil
	}
	if w.monitor != nil {
		w.monitor.Stop()
		w.monitor = nil
	}
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
	w.assembler.Clear()
	w.transition(transport.StatusClosed)
	w.mu.Unlock()

	Logger.Infof("worker %d: closed", w.id)
	return nil
}

// Pending returns the requests written on this worker that have not been
// answered. After a terminal close the owner uses it to fail the affected
// requests, attributed via the worker id stamped on each context.
func (w *Worker) Pending() []*common.RequestContext {
	pending := make([]*common.RequestContext, 0, w.inflight.Size())
	w.inflight.Range(func(_ uint64, ctx *common.RequestContext) bool {
		pending = append(pending, ctx)
		return true
	})
	return pending
}

// --------------------------------------------------------------------------
// Connect / retry path
// --------------------------------------------------------------------------

// connect performs one connection attempt. Exactly one attempt runs per
// retry timer firing; any previously open handle is released first.
func (w *Worker) connect() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	if w.conn != nil {
		// At most one open transport handle per worker, no graceful handshake
		_ = w.conn.Close()
		w.conn = nil
	}
	w.connGen++
	gen := w.connGen
	w.mu.Unlock()

	conn, err := w.connector.Connect(w.config.Endpoint, w.config)
	if err != nil {
		Logger.Warningf("worker %d: failed to connect to %s: %v", w.id, w.config.Endpoint, err)
		w.onClosure(gen)
		return
	}

	if err := w.connector.UpgradeConnection(conn, w.config); err != nil {
		Logger.Warningf("worker %d: failed to upgrade connection to %s: %v", w.id, w.config.Endpoint, err)
		_ = conn.Close()
		w.onClosure(gen)
		return
	}

	w.mu.Lock()
	if w.closed || gen != w.connGen {
		// The worker moved on while we were dialing
		w.mu.Unlock()
		_ = conn.Close()
		return
	}
	w.conn = conn
	w.transition(transport.StatusConnected)
	w.retries = w.config.Worker.MaxRetries // budget resets on success
	w.monitor = w.newMonitor(conn)
	observer := w.observer
	w.mu.Unlock()

	metricConnects.Inc()
	Logger.Infof("worker %d: connected to %s", w.id, w.config.Endpoint)

	go w.readLoop(conn, gen)
	observer.OnConnect(w.event())
}

// newMonitor builds a heartbeat monitor bound to the given transport handle.
// Returns nil if heartbeating is disabled. Callers must hold w.mu.
func (w *Worker) newMonitor(conn net.Conn) *heartbeat.Monitor {
	interval := time.Duration(w.config.Worker.HeartbeatIntervalMs) * time.Millisecond
	if interval <= 0 {
		return nil
	}
	timeout := time.Duration(w.config.Worker.HeartbeatTimeoutMs) * time.Millisecond
	label := fmt.Sprintf("worker-%d %s", w.id, w.config.Endpoint)

	sendProbe := func() error {
		metricHeartbeatsSent.Inc()
		return w.writeFrame(conn, codec.HeartbeatFrame())
	}
	// A heartbeat timeout forces closure as if the transport had closed with
	// an error: closing the handle unblocks the read loop, which then runs
	// the regular retry path
	onTimeout := func() {
		metricHeartbeatTimeouts.Inc()
		Logger.Warningf("worker %d: heartbeat timeout, forcing close of %s", w.id, w.config.Endpoint)
		_ = conn.Close()
	}

	return heartbeat.NewMonitor(label, interval, timeout, sendProbe, onTimeout)
}

// readLoop pumps raw bytes from the transport into the frame assembler until
// the connection dies, then hands off to the closure handler.
func (w *Worker) readLoop(conn net.Conn, gen uint64) {
	buf := make([]byte, 64*1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if ferr := w.assembler.Feed(buf[:n]); ferr != nil {
				// The byte stream lost framing, nothing on this connection
				// can be trusted anymore
				Logger.Errorf("worker %d: %v, dropping connection", w.id, ferr)
				_ = conn.Close()
				break
			}
		}
		if err != nil {
			// Transport errors are logged only; the closure below drives the
			// retry logic
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				Logger.Warningf("worker %d: transport error: %v", w.id, err)
			}
			break
		}
	}
	w.onClosure(gen)
}

// onClosure handles a transport closure for the given connection generation:
// it either schedules a reconnection or, with the retry budget exhausted,
// transitions to the terminal closed state and notifies the observer.
func (w *Worker) onClosure(gen uint64) {
	w.mu.Lock()
	if w.closed || gen != w.connGen {
		w.mu.Unlock()
		return // stale event from a superseded connection
	}
	w.connGen++

	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
	if w.monitor != nil {
		// The monitor only lives while connected
		w.monitor.Stop()
		w.monitor = nil
	}
	// Stale partial frames must not leak into the next connection
	w.assembler.Clear()

	if w.retries > 0 {
		w.transition(transport.StatusRetry)

		// At most one pending retry timer per worker: cancel before rescheduling
		if w.retryTimer != nil {
			w.retryTimer.Stop()
		}
		delay := time.Duration(w.config.Worker.RetryDelayMs) * time.Millisecond
		w.retryTimer = time.AfterFunc(delay, w.retryFire)
		remaining := w.retries
		w.mu.Unlock()

		Logger.Infof("worker %d: connection to %s lost, retrying in %dms (%d attempts left)",
			w.id, w.config.Endpoint, w.config.Worker.RetryDelayMs, remaining)
		return
	}

	// Retry budget exhausted, the worker is done until an external reset
	w.transition(transport.StatusClosed)
	observer := w.observer
	w.mu.Unlock()

	metricExhausted.Inc()
	if pending := w.inflight.Size(); pending > 0 {
		Logger.Warningf("worker %d: closing with %d unanswered requests", w.id, pending)
	}
	Logger.Warningf("worker %d: retry budget exhausted for %s, worker closed", w.id, w.config.Endpoint)
	observer.OnClose(w.event())
}

// retryFire runs when the retry delay elapsed. It consumes one unit of the
// retry budget and starts exactly one new connection attempt.
func (w *Worker) retryFire() {
	w.mu.Lock()
	if w.closed || w.status != transport.StatusRetry {
		w.mu.Unlock()
		return
	}
	w.retries--
	w.transition(transport.StatusPadding)
	w.mu.Unlock()

	metricRetries.Inc()
	w.connect()
}

// --------------------------------------------------------------------------
// Frame dispatch
// --------------------------------------------------------------------------

// dispatch is invoked by the assembler once per complete frame. Heartbeat
// probes feed the monitor and never reach the application layer; everything
// else is decoded and handed to the observer.
func (w *Worker) dispatch(f codec.Frame) {
	metricFramesIn.Inc()

	// Every inbound frame proves the peer is alive, not just probe answers.
	// Without this a busy connection suppresses probing (writes are never
	// idle) and steady response traffic would still run into the silence
	// timeout.
	w.mu.Lock()
	monitor := w.monitor
	w.mu.Unlock()
	if monitor != nil {
		monitor.NoteLiveness()
	}

	if f.IsHeartbeat() {
		return
	}

	var msg common.Message
	if err := w.serializer.Deserialize(f.Payload, &msg); err != nil {
		// A malformed frame is a per-frame fault: log, drop, keep the
		// connection and all subsequent frames
		metricDecodeErrors.Inc()
		Logger.Errorf("worker %d: dropping undecodable frame (request %d): %v", w.id, f.RequestID, err)
		return
	}

	w.inflight.Delete(f.RequestID)

	w.mu.Lock()
	observer := w.observer
	w.mu.Unlock()
	observer.OnData(&msg)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// writeFrame serializes access to the connection for application frames and
// heartbeat probes
func (w *Worker) writeFrame(conn net.Conn, f codec.Frame) error {
	w.wmu.Lock()
	defer w.wmu.Unlock()

	if w.config.TimeoutSecond > 0 {
		timeout := time.Duration(w.config.TimeoutSecond) * time.Second
		_ = conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	return codec.WriteFrame(conn, f)
}

// transition moves the state machine to the given status. Illegal transitions
// indicate a bug in the worker and are logged, never silently performed.
func (w *Worker) transition(to transport.Status) {
	if w.status == to {
		return
	}
	if !w.status.CanTransition(to) {
		Logger.Errorf("worker %d: illegal status transition %s -> %s", w.id, w.status, to)
		return
	}
	Logger.Debugf("worker %d: status %s -> %s", w.id, w.status, to)
	w.status = to
}

// event builds the lifecycle notification payload for this worker
func (w *Worker) event() transport.Event {
	return transport.Event{WorkerID: w.id, Host: w.host, Port: w.port}
}

var (
	_ transport.IWorker = (*Worker)(nil)
)
