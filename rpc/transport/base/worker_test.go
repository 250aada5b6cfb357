package base

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dRPC/rpc/codec"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/ValentinKolb/dRPC/rpc/transport"
)

// --------------------------------------------------------------------------
// Test helpers
// --------------------------------------------------------------------------

// testConnector dials plain TCP without any socket tuning
type testConnector struct{}

func (testConnector) Connect(endpoint string, config common.ClientConfig) (net.Conn, error) {
	return net.DialTimeout("tcp", endpoint, time.Second)
}

func (testConnector) GetName() string { return "tcp-test" }

func (testConnector) UpgradeConnection(conn net.Conn, config common.ClientConfig) error {
	return nil
}

// countingConnector counts dial attempts on top of plain TCP
type countingConnector struct {
	dials atomic.Int64
}

func (c *countingConnector) Connect(endpoint string, config common.ClientConfig) (net.Conn, error) {
	c.dials.Add(1)
	return net.DialTimeout("tcp", endpoint, time.Second)
}

func (c *countingConnector) GetName() string { return "tcp-test" }

func (c *countingConnector) UpgradeConnection(conn net.Conn, config common.ClientConfig) error {
	return nil
}

// testServerConnector listens on an ephemeral local port
type testServerConnector struct{}

func (testServerConnector) Listen(config common.ServerConfig) (net.Listener, error) {
	return net.Listen("tcp", config.Endpoint)
}

func (testServerConnector) GetName() string { return "tcp-test" }

// testObserver records lifecycle events and received messages
type testObserver struct {
	mu       sync.Mutex
	connects []transport.Event
	closes   []transport.Event
	messages []*common.Message
}

func (o *testObserver) OnConnect(e transport.Event) {
	o.mu.Lock()
	o.connects = append(o.connects, e)
	o.mu.Unlock()
}

func (o *testObserver) OnData(msg *common.Message) {
	o.mu.Lock()
	o.messages = append(o.messages, msg)
	o.mu.Unlock()
}

func (o *testObserver) OnClose(e transport.Event) {
	o.mu.Lock()
	o.closes = append(o.closes, e)
	o.mu.Unlock()
}

func (o *testObserver) connectCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.connects)
}

func (o *testObserver) closeCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.closes)
}

func (o *testObserver) messageCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.messages)
}

// framePeer is a minimal frame speaking TCP endpoint for driving the worker
// from the remote side
type framePeer struct {
	ln net.Listener
}

// newFramePeer starts a listener that runs handle once per accepted connection
func newFramePeer(t *testing.T, handle func(conn net.Conn)) *framePeer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go handle(conn)
		}
	}()
	return &framePeer{ln: ln}
}

func (p *framePeer) addr() string { return p.ln.Addr().String() }
func (p *framePeer) close()       { _ = p.ln.Close() }

// echoHandle answers every request frame with a reply carrying the same
// payload and request id, and answers heartbeat probes with probes
func echoHandle(serializer codec.ISerializer) func(conn net.Conn) {
	return func(conn net.Conn) {
		defer conn.Close()
		for {
			frame, err := codec.ReadFrame(conn)
			if err != nil {
				return
			}
			if frame.IsHeartbeat() {
				if err := codec.WriteFrame(conn, codec.HeartbeatFrame()); err != nil {
					return
				}
				continue
			}

			var req common.Message
			if err := serializer.Deserialize(frame.Payload, &req); err != nil {
				return
			}
			payload, err := serializer.Serialize(*common.NewReplyResponse(req.Payload, nil))
			if err != nil {
				return
			}
			if err := codec.WriteFrame(conn, codec.Frame{RequestID: frame.RequestID, Payload: payload}); err != nil {
				return
			}
		}
	}
}

// newTestConfig returns a client config with fast retry timing and heartbeats
// disabled, suitable for unit tests
func newTestConfig(endpoint string) common.ClientConfig {
	config := common.DefaultClientConfig(endpoint)
	config.TimeoutSecond = 2
	config.Worker.MaxRetries = 2
	config.Worker.RetryDelayMs = 20
	config.Worker.HeartbeatIntervalMs = 0
	config.Worker.HeartbeatTimeoutMs = 0
	return config
}

// waitFor polls cond until it holds or the deadline passes
func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", msg)
}

// deadEndpoint reserves an ephemeral port and releases it again, yielding an
// address that refuses connections
func deadEndpoint(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to reserve port: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

// TestNewWorkerInvalidEndpoint tests that a malformed endpoint fails the
// constructor instead of the connect path
func TestNewWorkerInvalidEndpoint(t *testing.T) {
	testCases := []string{
		"no-port-at-all",
		"127.0.0.1:abc",
		"",
	}

	for _, endpoint := range testCases {
		config := newTestConfig(endpoint)
		if _, err := NewWorker(config, testConnector{}, codec.NewBinarySerializer(), nil); err == nil {
			t.Errorf("Expected error for endpoint %q but got none", endpoint)
		}
	}
}

// TestWorkerConnectAndEcho tests the happy path: connect notification, a
// request write and the echoed response reaching the observer
func TestWorkerConnectAndEcho(t *testing.T) {
	serializer := codec.NewBinarySerializer()
	peer := newFramePeer(t, echoHandle(serializer))
	defer peer.close()

	observer := &testObserver{}
	w, err := NewWorker(newTestConfig(peer.addr()), testConnector{}, serializer, observer)
	if err != nil {
		t.Fatalf("Failed to create worker: %v", err)
	}
	defer w.Close()

	waitFor(t, 2*time.Second, func() bool {
		return observer.connectCount() == 1
	}, "connect notification")

	if !w.IsAvailable() {
		t.Errorf("Expected worker to be available after connect")
	}
	if got := w.Status(); got != transport.StatusConnected {
		t.Errorf("Expected status connected, got %s", got)
	}

	// The connect event must identify the worker and the endpoint
	observer.mu.Lock()
	event := observer.connects[0]
	observer.mu.Unlock()
	if event.WorkerID != w.ID() {
		t.Errorf("Expected event worker id %d, got %d", w.ID(), event.WorkerID)
	}
	if event.Host != "127.0.0.1" {
		t.Errorf("Expected event host 127.0.0.1, got %s", event.Host)
	}
	if event.Port == 0 {
		t.Errorf("Expected non-zero event port")
	}

	// Write a request and wait for the echo
	ctx := common.NewRequestContext(1, common.NewCallRequest("test.Service", "echo", []byte("hello")))
	if err := w.Write(ctx); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if ctx.WorkerID != w.ID() {
		t.Errorf("Expected request to be attributed to worker %d, got %d", w.ID(), ctx.WorkerID)
	}

	waitFor(t, 2*time.Second, func() bool {
		return observer.messageCount() == 1
	}, "echo response")

	observer.mu.Lock()
	msg := observer.messages[0]
	observer.mu.Unlock()
	if string(msg.Payload) != "hello" {
		t.Errorf("Expected payload 'hello', got %q", msg.Payload)
	}

	// The answered request must no longer be pending
	waitFor(t, 2*time.Second, func() bool {
		return len(w.Pending()) == 0
	}, "pending request to clear")
}

// TestWriteFailsFastWhenNotConnected tests that Write rejects immediately
// instead of queueing while no connection is open
func TestWriteFailsFastWhenNotConnected(t *testing.T) {
	config := newTestConfig(deadEndpoint(t))
	config.Worker.RetryDelayMs = 500 // keep the worker in retry during the test

	w, err := NewWorker(config, testConnector{}, codec.NewBinarySerializer(), nil)
	if err != nil {
		t.Fatalf("Failed to create worker: %v", err)
	}
	defer w.Close()

	ctx := common.NewRequestContext(1, common.NewCallRequest("test.Service", "echo", nil))
	err = w.Write(ctx)
	if err != ErrNotConnected {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
	if len(w.Pending()) != 0 {
		t.Errorf("A rejected write must not be tracked as pending")
	}
}

// TestWorkerRetryExhaustion tests that a dead endpoint consumes the whole
// retry budget and produces exactly one close notification
func TestWorkerRetryExhaustion(t *testing.T) {
	config := newTestConfig(deadEndpoint(t))
	config.Worker.MaxRetries = 3
	config.Worker.RetryDelayMs = 10

	observer := &testObserver{}
	w, err := NewWorker(config, testConnector{}, codec.NewBinarySerializer(), observer)
	if err != nil {
		t.Fatalf("Failed to create worker: %v", err)
	}
	defer w.Close()

	waitFor(t, 2*time.Second, func() bool {
		return w.Status() == transport.StatusClosed
	}, "worker to reach closed")

	waitFor(t, 2*time.Second, func() bool {
		return observer.closeCount() == 1
	}, "close notification")

	// The close event identifies the worker and endpoint
	observer.mu.Lock()
	event := observer.closes[0]
	observer.mu.Unlock()
	if event.WorkerID != w.ID() {
		t.Errorf("Expected close event worker id %d, got %d", w.ID(), event.WorkerID)
	}
	if event.Host != "127.0.0.1" {
		t.Errorf("Expected close event host 127.0.0.1, got %s", event.Host)
	}

	// No duplicate notification and no connect must ever have fired
	time.Sleep(100 * time.Millisecond)
	if got := observer.closeCount(); got != 1 {
		t.Errorf("Expected exactly 1 close notification, got %d", got)
	}
	if got := observer.connectCount(); got != 0 {
		t.Errorf("Expected no connect notifications, got %d", got)
	}
}

// TestWorkerRetryAfterPeerClose tests that losing an established connection
// schedules a retry with a full budget and reconnects
func TestWorkerRetryAfterPeerClose(t *testing.T) {
	serializer := codec.NewBinarySerializer()

	// The peer closes the first connection right after the client sent a
	// request; later connections behave as a normal echo server
	var accepted atomic.Int64
	echo := echoHandle(serializer)
	peer := newFramePeer(t, func(conn net.Conn) {
		if accepted.Add(1) == 1 {
			// Wait for one frame, then drop the connection
			_, _ = codec.ReadFrame(conn)
			_ = conn.Close()
			return
		}
		echo(conn)
	})
	defer peer.close()

	config := newTestConfig(peer.addr())
	config.Worker.MaxRetries = 5
	config.Worker.RetryDelayMs = 200 // comfortable window to observe the retry state

	observer := &testObserver{}
	w, err := NewWorker(config, testConnector{}, serializer, observer)
	if err != nil {
		t.Fatalf("Failed to create worker: %v", err)
	}
	defer w.Close()

	waitFor(t, 2*time.Second, func() bool {
		return observer.connectCount() == 1
	}, "first connect")

	// Trigger the peer side close
	ctx := common.NewRequestContext(1, common.NewCallRequest("test.Service", "echo", []byte("x")))
	if err := w.Write(ctx); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return w.IsRetrying()
	}, "worker to enter retry")

	// Losing an established connection must not consume budget yet, the
	// counter is only decremented when the retry timer fires
	w.mu.Lock()
	remaining := w.retries
	w.mu.Unlock()
	if remaining != config.Worker.MaxRetries {
		t.Errorf("Expected full retry budget of %d while waiting, got %d", config.Worker.MaxRetries, remaining)
	}

	// The scheduled retry must reconnect
	waitFor(t, 2*time.Second, func() bool {
		return observer.connectCount() == 2
	}, "reconnect")

	if got := observer.closeCount(); got != 0 {
		t.Errorf("Expected no close notification for a recoverable loss, got %d", got)
	}
	if !w.IsAvailable() {
		t.Errorf("Expected worker to be available after reconnect")
	}
}

// TestWorkerResetRetryBudget tests that a closed worker reconnects after an
// explicit budget reset
func TestWorkerResetRetryBudget(t *testing.T) {
	serializer := codec.NewBinarySerializer()
	endpoint := deadEndpoint(t)

	config := newTestConfig(endpoint)
	config.Worker.MaxRetries = 1
	config.Worker.RetryDelayMs = 10

	observer := &testObserver{}
	w, err := NewWorker(config, testConnector{}, serializer, observer)
	if err != nil {
		t.Fatalf("Failed to create worker: %v", err)
	}
	defer w.Close()

	waitFor(t, 2*time.Second, func() bool {
		return w.Status() == transport.StatusClosed
	}, "worker to exhaust its budget")

	// Bring the endpoint up, then reset
	ln, err := net.Listen("tcp", endpoint)
	if err != nil {
		t.Skipf("Could not re-bind reserved port %s: %v", endpoint, err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go echoHandle(serializer)(conn)
		}
	}()

	w.ResetRetryBudget()

	waitFor(t, 2*time.Second, func() bool {
		return observer.connectCount() == 1
	}, "reconnect after budget reset")

	if !w.IsAvailable() {
		t.Errorf("Expected worker to be available after budget reset")
	}
}

// TestWorkerResetWhileRetryingKeepsSchedule tests that a budget reset during
// retry only restores the counter: no eager connect attempt starts, and the
// already-pending retry timer still fires exactly once
func TestWorkerResetWhileRetryingKeepsSchedule(t *testing.T) {
	config := newTestConfig(deadEndpoint(t))
	config.Worker.MaxRetries = 4
	config.Worker.RetryDelayMs = 300

	connector := &countingConnector{}
	w, err := NewWorker(config, connector, codec.NewBinarySerializer(), nil)
	if err != nil {
		t.Fatalf("Failed to create worker: %v", err)
	}
	defer w.Close()

	// Let one retry timer fire so the budget is partially consumed: the
	// initial attempt plus one retry make two dials
	waitFor(t, 2*time.Second, func() bool {
		return connector.dials.Load() == 2 && w.IsRetrying()
	}, "second failed attempt")

	w.mu.Lock()
	remaining := w.retries
	w.mu.Unlock()
	if remaining != config.Worker.MaxRetries-1 {
		t.Fatalf("Expected %d retries left before reset, got %d", config.Worker.MaxRetries-1, remaining)
	}

	w.ResetRetryBudget()

	// The counter is restored but the worker stays in retry, waiting on the
	// timer that was already scheduled
	w.mu.Lock()
	remaining = w.retries
	w.mu.Unlock()
	if remaining != config.Worker.MaxRetries {
		t.Errorf("Expected restored budget of %d, got %d", config.Worker.MaxRetries, remaining)
	}
	if !w.IsRetrying() {
		t.Errorf("Expected worker to stay in retry after reset, status=%s", w.Status())
	}

	// No eager connect attempt within the remaining delay window
	time.Sleep(100 * time.Millisecond)
	if got := connector.dials.Load(); got != 2 {
		t.Errorf("Expected no eager dial after reset while retrying, got %d dials", got)
	}

	// The pending timer fires exactly once, consuming one unit of the
	// restored budget
	waitFor(t, 2*time.Second, func() bool {
		return connector.dials.Load() == 3
	}, "scheduled retry to fire")

	waitFor(t, 2*time.Second, func() bool {
		return w.IsRetrying()
	}, "worker to re-enter retry")
	w.mu.Lock()
	remaining = w.retries
	w.mu.Unlock()
	if remaining != config.Worker.MaxRetries-1 {
		t.Errorf("Expected %d retries left after one firing, got %d", config.Worker.MaxRetries-1, remaining)
	}

	// And only once: the next firing is a full delay away
	time.Sleep(100 * time.Millisecond)
	if got := connector.dials.Load(); got != 3 {
		t.Errorf("Expected exactly one dial from the pending timer, got %d total", got)
	}
}

// TestWorkerResetWhileConnectedKeepsConnection tests that a budget reset on a
// healthy worker does not force a reconnect
func TestWorkerResetWhileConnectedKeepsConnection(t *testing.T) {
	serializer := codec.NewBinarySerializer()
	peer := newFramePeer(t, echoHandle(serializer))
	defer peer.close()

	observer := &testObserver{}
	w, err := NewWorker(newTestConfig(peer.addr()), testConnector{}, serializer, observer)
	if err != nil {
		t.Fatalf("Failed to create worker: %v", err)
	}
	defer w.Close()

	waitFor(t, 2*time.Second, func() bool {
		return observer.connectCount() == 1
	}, "connect")

	w.ResetRetryBudget()

	time.Sleep(100 * time.Millisecond)
	if got := observer.connectCount(); got != 1 {
		t.Errorf("Expected no reconnect on reset while connected, got %d connects", got)
	}
	if !w.IsAvailable() {
		t.Errorf("Expected worker to stay available")
	}
}

// TestWorkerHeartbeatNeverReachesObserver tests that heartbeat frames from
// the peer are consumed by the transport layer
func TestWorkerHeartbeatNeverReachesObserver(t *testing.T) {
	serializer := codec.NewBinarySerializer()

	// The peer sends a heartbeat probe followed by a real message, then keeps
	// answering probes so the connection stays healthy
	peer := newFramePeer(t, func(conn net.Conn) {
		defer conn.Close()
		if err := codec.WriteFrame(conn, codec.HeartbeatFrame()); err != nil {
			return
		}
		payload, err := serializer.Serialize(*common.NewEventMessage([]byte("event-meta")))
		if err != nil {
			return
		}
		if err := codec.WriteFrame(conn, codec.Frame{RequestID: 7, Payload: payload}); err != nil {
			return
		}
		for {
			frame, err := codec.ReadFrame(conn)
			if err != nil {
				return
			}
			if frame.IsHeartbeat() {
				if err := codec.WriteFrame(conn, codec.HeartbeatFrame()); err != nil {
					return
				}
			}
		}
	})
	defer peer.close()

	config := newTestConfig(peer.addr())
	config.Worker.HeartbeatIntervalMs = 50

	observer := &testObserver{}
	w, err := NewWorker(config, testConnector{}, serializer, observer)
	if err != nil {
		t.Fatalf("Failed to create worker: %v", err)
	}
	defer w.Close()

	waitFor(t, 2*time.Second, func() bool {
		return observer.messageCount() == 1
	}, "application message")

	// Only the application message came through, the probe was consumed
	observer.mu.Lock()
	msg := observer.messages[0]
	observer.mu.Unlock()
	if msg.MsgType != common.MsgTEvent {
		t.Errorf("Expected event message, got %s", msg.MsgType)
	}
	if got := observer.messageCount(); got != 1 {
		t.Errorf("Expected exactly 1 message, got %d", got)
	}

	// The probe counted as liveness, the connection must stay up
	time.Sleep(200 * time.Millisecond)
	if !w.IsAvailable() {
		t.Errorf("Expected worker to stay available")
	}
	if got := observer.messageCount(); got != 1 {
		t.Errorf("Expected no further messages, got %d", got)
	}
}

// TestWorkerSendsProbesWhenIdle tests that an idle connected worker emits
// heartbeat probes on the wire
func TestWorkerSendsProbesWhenIdle(t *testing.T) {
	var probes atomic.Int64

	// The peer counts heartbeat frames and answers them
	peer := newFramePeer(t, func(conn net.Conn) {
		defer conn.Close()
		for {
			frame, err := codec.ReadFrame(conn)
			if err != nil {
				return
			}
			if frame.IsHeartbeat() {
				probes.Add(1)
				if err := codec.WriteFrame(conn, codec.HeartbeatFrame()); err != nil {
					return
				}
			}
		}
	})
	defer peer.close()

	config := newTestConfig(peer.addr())
	config.Worker.HeartbeatIntervalMs = 30

	w, err := NewWorker(config, testConnector{}, codec.NewBinarySerializer(), nil)
	if err != nil {
		t.Fatalf("Failed to create worker: %v", err)
	}
	defer w.Close()

	waitFor(t, 2*time.Second, func() bool {
		return probes.Load() >= 2
	}, "heartbeat probes on the wire")

	// Answered probes keep the connection alive
	if !w.IsAvailable() {
		t.Errorf("Expected worker to stay available while probes are answered")
	}
}

// TestWorkerBusyTrafficSurvivesTimeoutWindows tests that steady
// request/response traffic with a responsive peer never trips the heartbeat
// timeout, even though constant writes suppress probing
func TestWorkerBusyTrafficSurvivesTimeoutWindows(t *testing.T) {
	serializer := codec.NewBinarySerializer()
	peer := newFramePeer(t, echoHandle(serializer))
	defer peer.close()

	config := newTestConfig(peer.addr())
	config.Worker.HeartbeatIntervalMs = 40
	config.Worker.HeartbeatTimeoutMs = 120

	observer := &testObserver{}
	w, err := NewWorker(config, testConnector{}, serializer, observer)
	if err != nil {
		t.Fatalf("Failed to create worker: %v", err)
	}
	defer w.Close()

	waitFor(t, 2*time.Second, func() bool {
		return observer.connectCount() == 1
	}, "connect")

	// Write faster than the probe interval for several timeout windows; every
	// request is answered, so the responses must keep the connection alive
	var sent uint64
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		sent++
		ctx := common.NewRequestContext(sent, common.NewCallRequest("test.Service", "echo", []byte("busy")))
		if err := w.Write(ctx); err != nil {
			t.Fatalf("Write %d failed while the peer is responsive: %v (status=%s)", sent, err, w.Status())
		}
		time.Sleep(15 * time.Millisecond)
	}

	if !w.IsAvailable() {
		t.Errorf("Expected worker to stay available under busy traffic, status=%s", w.Status())
	}
	if got := observer.connectCount(); got != 1 {
		t.Errorf("Expected a single connect under busy traffic, got %d", got)
	}

	waitFor(t, 2*time.Second, func() bool {
		return observer.messageCount() == int(sent)
	}, "all responses")
}

// TestWorkerHeartbeatTimeout tests that a peer that never answers probes is
// treated like a closed transport
func TestWorkerHeartbeatTimeout(t *testing.T) {
	// The peer accepts and then stays completely silent
	peer := newFramePeer(t, func(conn net.Conn) {
		defer conn.Close()
		buf := make([]byte, 1024)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	})
	defer peer.close()

	config := newTestConfig(peer.addr())
	config.Worker.MaxRetries = 0 // first closure is terminal
	config.Worker.HeartbeatIntervalMs = 20
	config.Worker.HeartbeatTimeoutMs = 60

	observer := &testObserver{}
	w, err := NewWorker(config, testConnector{}, codec.NewBinarySerializer(), observer)
	if err != nil {
		t.Fatalf("Failed to create worker: %v", err)
	}
	defer w.Close()

	waitFor(t, 2*time.Second, func() bool {
		return observer.connectCount() == 1
	}, "connect")

	// Silence past the timeout must close the worker
	waitFor(t, 2*time.Second, func() bool {
		return observer.closeCount() == 1
	}, "close after heartbeat timeout")

	if got := w.Status(); got != transport.StatusClosed {
		t.Errorf("Expected status closed after heartbeat timeout, got %s", got)
	}
}

// TestWorkerDropsUndecodableFrame tests that a frame with a garbage payload
// is dropped without affecting the connection or later frames
func TestWorkerDropsUndecodableFrame(t *testing.T) {
	serializer := codec.NewBinarySerializer()

	peer := newFramePeer(t, func(conn net.Conn) {
		defer conn.Close()
		// A well-framed but undecodable payload (too short for a message header)
		if err := codec.WriteFrame(conn, codec.Frame{RequestID: 1, Payload: []byte{0xff}}); err != nil {
			return
		}
		// Followed by a valid message
		payload, err := serializer.Serialize(*common.NewEventMessage(nil))
		if err != nil {
			return
		}
		if err := codec.WriteFrame(conn, codec.Frame{RequestID: 2, Payload: payload}); err != nil {
			return
		}
		_, _ = codec.ReadFrame(conn)
	})
	defer peer.close()

	observer := &testObserver{}
	w, err := NewWorker(newTestConfig(peer.addr()), testConnector{}, serializer, observer)
	if err != nil {
		t.Fatalf("Failed to create worker: %v", err)
	}
	defer w.Close()

	waitFor(t, 2*time.Second, func() bool {
		return observer.messageCount() == 1
	}, "valid message after dropped frame")

	// The connection survived the bad frame
	if !w.IsAvailable() {
		t.Errorf("Expected worker to stay available after a dropped frame")
	}
	if got := observer.messageCount(); got != 1 {
		t.Errorf("Expected exactly 1 message, got %d", got)
	}
}

// TestWorkerClose tests that an explicit close cancels retries and suppresses
// observer notifications
func TestWorkerClose(t *testing.T) {
	config := newTestConfig(deadEndpoint(t))
	config.Worker.RetryDelayMs = 50

	observer := &testObserver{}
	w, err := NewWorker(config, testConnector{}, codec.NewBinarySerializer(), observer)
	if err != nil {
		t.Fatalf("Failed to create worker: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return w.IsRetrying()
	}, "worker to enter retry")

	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if got := w.Status(); got != transport.StatusClosed {
		t.Errorf("Expected status closed, got %s", got)
	}

	// Closing twice reports the worker as already closed
	if err := w.Close(); err != ErrWorkerClosed {
		t.Errorf("Expected ErrWorkerClosed on second close, got %v", err)
	}

	// Writes after close fail with the dedicated error
	ctx := common.NewRequestContext(1, common.NewCallRequest("test.Service", "echo", nil))
	if err := w.Write(ctx); err != ErrWorkerClosed {
		t.Errorf("Expected ErrWorkerClosed on write, got %v", err)
	}

	// The cancelled retry must never fire and an external close is not
	// reported through the observer
	time.Sleep(150 * time.Millisecond)
	if got := observer.closeCount(); got != 0 {
		t.Errorf("Expected no close notification after explicit close, got %d", got)
	}
	if got := observer.connectCount(); got != 0 {
		t.Errorf("Expected no connect after explicit close, got %d", got)
	}
}

// TestWorkerSubscribe tests that a newly subscribed observer receives
// subsequent events
func TestWorkerSubscribe(t *testing.T) {
	serializer := codec.NewBinarySerializer()
	peer := newFramePeer(t, echoHandle(serializer))
	defer peer.close()

	first := &testObserver{}
	w, err := NewWorker(newTestConfig(peer.addr()), testConnector{}, serializer, first)
	if err != nil {
		t.Fatalf("Failed to create worker: %v", err)
	}
	defer w.Close()

	waitFor(t, 2*time.Second, func() bool {
		return first.connectCount() == 1
	}, "connect")

	// Swap the observer, subsequent data goes to the replacement
	second := &testObserver{}
	if got := w.Subscribe(second); got != transport.IWorker(w) {
		t.Errorf("Expected Subscribe to return the worker for chaining")
	}

	ctx := common.NewRequestContext(1, common.NewCallRequest("test.Service", "echo", []byte("to-second")))
	if err := w.Write(ctx); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return second.messageCount() == 1
	}, "message on replacement observer")

	if got := first.messageCount(); got != 0 {
		t.Errorf("Expected no messages on the replaced observer, got %d", got)
	}
}

// TestServerTransportEcho tests the worker against the real server transport,
// including heartbeat probing in both directions
func TestServerTransportEcho(t *testing.T) {
	serializer := codec.NewBinarySerializer()

	server := NewBaseServerTransport(testServerConnector{}, serializer)
	server.RegisterHandler(func(req *common.Message) *common.Message {
		return common.NewReplyResponse(req.Payload, nil)
	})

	serverConfig := common.ServerConfig{
		Endpoint:      "127.0.0.1:0",
		TimeoutSecond: 2,
	}
	go func() {
		if err := server.Listen(serverConfig); err != nil {
			t.Errorf("Server listen failed: %v", err)
		}
	}()
	defer server.Close()

	waitFor(t, 2*time.Second, func() bool {
		return server.Addr() != nil
	}, "server to start")

	config := newTestConfig(server.Addr().String())
	config.Worker.HeartbeatIntervalMs = 50

	observer := &testObserver{}
	w, err := NewWorker(config, testConnector{}, serializer, observer)
	if err != nil {
		t.Fatalf("Failed to create worker: %v", err)
	}
	defer w.Close()

	waitFor(t, 2*time.Second, func() bool {
		return observer.connectCount() == 1
	}, "connect")

	ctx := common.NewRequestContext(1, common.NewCallRequest("test.Service", "echo", []byte("through the server")))
	if err := w.Write(ctx); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return observer.messageCount() == 1
	}, "response")

	observer.mu.Lock()
	msg := observer.messages[0]
	observer.mu.Unlock()
	if string(msg.Payload) != "through the server" {
		t.Errorf("Expected echoed payload, got %q", msg.Payload)
	}

	// The server answers probes, so the worker stays connected through
	// several heartbeat windows
	time.Sleep(300 * time.Millisecond)
	if !w.IsAvailable() {
		t.Errorf("Expected worker to stay available while the server answers probes")
	}
}
