package keepalive

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const interval = 30 * time.Second

type fakeConn struct {
	pings   chan struct{}
	closed  chan struct{}
	closes  atomic.Int32
	pingErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		pings:  make(chan struct{}, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Ping() error {
	c.pings <- struct{}{}
	return c.pingErr
}

func (c *fakeConn) Close() error {
	if c.closes.Add(1) == 1 {
		close(c.closed)
	}
	return nil
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for %s", what)
	}
}

func TestWatchdog_ClosesAfterTwoSilentIntervals(t *testing.T) {
	mock := clock.NewMock()
	conn := newFakeConn()
	w := New(interval, mock).Watch(conn)
	defer w.Stop()

	mock.Add(interval)
	waitFor(t, conn.pings, "first ping")
	select {
	case <-conn.closed:
		t.Fatal("closed after a single interval")
	default:
	}

	mock.Add(interval)
	waitFor(t, conn.closed, "close")
	waitFor(t, w.Done(), "watchdog exit")

	assert.True(t, w.TimedOut())
	assert.Equal(t, int32(1), conn.closes.Load())
}

func TestWatchdog_AckKeepsConnectionAlive(t *testing.T) {
	mock := clock.NewMock()
	conn := newFakeConn()
	w := New(interval, mock).Watch(conn)
	defer w.Stop()

	for i := 0; i < 5; i++ {
		mock.Add(interval)
		waitFor(t, conn.pings, "ping")
		w.Ack()
	}

	assert.False(t, w.TimedOut())
	assert.Equal(t, int32(0), conn.closes.Load())
}

func TestWatchdog_StopIsIdempotentAndPreventsClose(t *testing.T) {
	mock := clock.NewMock()
	conn := newFakeConn()
	w := New(interval, mock).Watch(conn)

	mock.Add(interval)
	waitFor(t, conn.pings, "ping")

	w.Stop()
	w.Stop()
	waitFor(t, w.Done(), "watchdog exit")

	mock.Add(interval)
	mock.Add(interval)
	assert.False(t, w.TimedOut())
	assert.Equal(t, int32(0), conn.closes.Load())
}

func TestWatchdog_PingErrorClosesWithoutTimeout(t *testing.T) {
	mock := clock.NewMock()
	conn := newFakeConn()
	conn.pingErr = errors.New("write: broken pipe")
	w := New(interval, mock).Watch(conn)
	defer w.Stop()

	mock.Add(interval)
	waitFor(t, conn.closed, "close")
	waitFor(t, w.Done(), "watchdog exit")
	assert.False(t, w.TimedOut())
}

func TestSupervisor_NonPositiveIntervalDisablesProbing(t *testing.T) {
	conn := newFakeConn()
	w := New(0, clock.NewMock()).Watch(conn)
	w.Stop()

	select {
	case <-w.Done():
	default:
		t.Fatal("disabled watchdog should report done immediately")
	}
	require.Empty(t, conn.pings)
}
