// Package keepalive closes connections that stop answering probes.
//
// A Watchdog probes its connection once per interval. If a full interval
// passes without an Ack for the previous probe, the connection is closed, so a
// silent peer is dropped after at most two intervals.
package keepalive

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// Conn is the probed side of a connection. Ping must not block for long; it
// is called from the watchdog goroutine.
type Conn interface {
	Ping() error
	Close() error
}

type Supervisor struct {
	interval time.Duration
	clock    clock.Clock
}

// New returns a Supervisor probing every interval. A nil clk uses the wall
// clock. A non-positive interval disables probing.
func New(interval time.Duration, clk clock.Clock) *Supervisor {
	if clk == nil {
		clk = clock.New()
	}
	return &Supervisor{interval: interval, clock: clk}
}

// Watch starts supervising conn. The ticker is armed before Watch returns.
func (s *Supervisor) Watch(conn Conn) *Watchdog {
	w := &Watchdog{
		conn: conn,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	if s.interval <= 0 {
		close(w.done)
		return w
	}
	ticker := s.clock.Ticker(s.interval)
	go w.run(ticker)
	return w
}

// Watchdog tracks the liveness of one connection.
type Watchdog struct {
	conn Conn

	awaitingAck atomic.Bool
	timedOut    atomic.Bool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func (w *Watchdog) run(ticker *clock.Ticker) {
	defer close(w.done)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
		}

		if w.awaitingAck.Load() {
			w.timedOut.Store(true)
			_ = w.conn.Close()
			return
		}
		// Flag first: the ack may arrive before Ping returns.
		w.awaitingAck.Store(true)
		if err := w.conn.Ping(); err != nil {
			_ = w.conn.Close()
			return
		}
	}
}

// Ack records a probe response.
func (w *Watchdog) Ack() {
	w.awaitingAck.Store(false)
}

// Stop cancels supervision. It is safe to call from any goroutine, more than
// once, and after the watchdog has already fired.
func (w *Watchdog) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// Done is closed once the watchdog goroutine has exited.
func (w *Watchdog) Done() <-chan struct{} { return w.done }

// TimedOut reports whether the watchdog closed the connection for missing an
// ack.
func (w *Watchdog) TimedOut() bool { return w.timedOut.Load() }
