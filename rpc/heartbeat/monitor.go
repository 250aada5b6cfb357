package heartbeat

import (
	"sync"
	"time"

	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("heartbeat")

// SendProbeFunc writes one heartbeat probe frame to the transport
type SendProbeFunc func() error

// TimeoutFunc is invoked once when the peer has been silent past the timeout
type TimeoutFunc func()

// Monitor tracks write recency on a single connection, emits probe frames
// when the connection has been idle on writes, and signals a timeout when the
// peer has been silent too long.
//
// A monitor is bound to exactly one transport connection. The socket worker
// constructs a fresh monitor on every successful connect and stops it when
// the transport closes.
type Monitor struct {
	label    string
	interval time.Duration
	timeout  time.Duration

	sendProbe SendProbeFunc
	onTimeout TimeoutFunc

	mu           sync.Mutex
	lastWrite    time.Time
	lastLiveness time.Time

	done     chan struct{}
	stopOnce sync.Once
}

// NewMonitor creates and starts a monitor. Probes are sent when no outbound
// write happened for a full interval; onTimeout fires once when no liveness
// was observed for the timeout duration. A timeout <= 0 defaults to three
// times the interval.
func NewMonitor(label string, interval, timeout time.Duration, sendProbe SendProbeFunc, onTimeout TimeoutFunc) *Monitor {
	if timeout <= 0 {
		timeout = 3 * interval
	}
	now := time.Now()
	m := &Monitor{
		label:        label,
		interval:     interval,
		timeout:      timeout,
		sendProbe:    sendProbe,
		onTimeout:    onTimeout,
		lastWrite:    now,
		lastLiveness: now,
		done:         make(chan struct{}),
	}
	go m.run()
	return m
}

// NoteWrite records the current time as the most recent outbound write.
// Callers invoke it before every application write so idle probing backs off
// while real traffic is flowing.
func (m *Monitor) NoteWrite() {
	m.mu.Lock()
	m.lastWrite = time.Now()
	m.mu.Unlock()
}

// NoteLiveness records that the peer proved liveness, either by answering a
// probe or by sending one of its own.
func (m *Monitor) NoteLiveness() {
	m.mu.Lock()
	m.lastLiveness = time.Now()
	m.mu.Unlock()
}

// Stop terminates the monitor. It is idempotent and safe to call from the
// timeout callback.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
	})
}

// run is the ticker loop. All timing decisions happen here, on one goroutine.
func (m *Monitor) run() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return

		case <-ticker.C:
			now := time.Now()

			m.mu.Lock()
			silentFor := now.Sub(m.lastLiveness)
			idleFor := now.Sub(m.lastWrite)
			m.mu.Unlock()

			if silentFor > m.timeout {
				Logger.Warningf("%s: peer silent for %v (timeout %v), giving up", m.label, silentFor, m.timeout)
				m.Stop()
				m.onTimeout()
				return
			}

			if idleFor >= m.interval {
				if err := m.sendProbe(); err != nil {
					// A failed probe write is not itself fatal, the transport
					// close handler owns teardown
					Logger.Warningf("%s: failed to send probe: %v", m.label, err)
					continue
				}
				Logger.Debugf("%s: probe sent after %v idle", m.label, idleFor)
				m.NoteWrite()
			}
		}
	}
}
