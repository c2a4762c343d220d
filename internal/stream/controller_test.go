package stream

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 2 * time.Millisecond
)

func newTestClient(dialer *fakeDialer, max int) *Client {
	return NewClient(Config{Name: "test", Backoff: fastBackoff(max)}, dialer, nil)
}

func TestConnectIsIdempotent(t *testing.T) {
	d := newFakeDialer()
	c := newTestClient(d, 3)

	var connected atomic.Int32
	c.OnConnected(func(Connected) { connected.Add(1) })

	require.NoError(t, c.Connect())
	require.NoError(t, c.Connect())
	d.next(t)
	require.Eventually(t, func() bool { return c.State() == StateConnected }, waitFor, tick)

	require.NoError(t, c.Connect())
	assert.Equal(t, 1, d.callCount())
	assert.Equal(t, int32(1), connected.Load())

	require.NoError(t, c.Disconnect(context.Background()))
}

func TestReconnectResubscribesFullSetOnce(t *testing.T) {
	d := newFakeDialer()
	c := newTestClient(d, 5)

	var disconnects atomic.Int32
	c.OnDisconnected(func(e Disconnected) {
		if !e.Manual {
			disconnects.Add(1)
		}
	})

	require.NoError(t, c.Subscribe("BTCUSDT@ticker"))
	require.NoError(t, c.Connect())

	first := d.next(t)
	require.Eventually(t, func() bool { return len(first.frames(t)) == 1 }, waitFor, tick)
	assert.Equal(t, []string{"BTCUSDT@ticker"}, first.frames(t)[0].Params)

	first.drop()

	second := d.next(t)
	require.Eventually(t, func() bool { return len(second.frames(t)) == 1 }, waitFor, tick)
	require.Eventually(t, func() bool { return c.State() == StateConnected }, waitFor, tick)

	// give a stray duplicate a chance to show up
	time.Sleep(20 * time.Millisecond)
	frames := second.frames(t)
	require.Len(t, frames, 1)
	assert.Equal(t, MethodSubscribe, frames[0].Method)
	assert.Equal(t, []string{"BTCUSDT@ticker"}, frames[0].Params)
	assert.Equal(t, int32(1), disconnects.Load())
	assert.Equal(t, 0, c.Attempts())
	assert.True(t, first.isClosed())

	require.NoError(t, c.Disconnect(context.Background()))
}

func TestSubscribeWhileConnectedSendsImmediately(t *testing.T) {
	d := newFakeDialer()
	c := newTestClient(d, 3)
	require.NoError(t, c.Connect())
	conn := d.next(t)
	require.Eventually(t, c.controller.Connected, waitFor, tick)

	require.NoError(t, c.Subscribe("ethusdt@aggTrade"))
	require.NoError(t, c.Unsubscribe("ethusdt@aggTrade"))

	frames := conn.frames(t)
	require.Len(t, frames, 2)
	assert.Equal(t, MethodSubscribe, frames[0].Method)
	assert.Equal(t, MethodUnsubscribe, frames[1].Method)
	assert.Less(t, frames[0].ID, frames[1].ID)

	require.NoError(t, c.Disconnect(context.Background()))
}

func TestSubscribeInConnectedHandlerIsNotDuplicated(t *testing.T) {
	d := newFakeDialer()
	c := newTestClient(d, 3)
	// runs after the socket opened, before the wanted set is resent
	c.OnConnected(func(Connected) { _ = c.Subscribe("ethusdt@aggTrade") })

	require.NoError(t, c.Subscribe("btcusdt@ticker"))
	require.NoError(t, c.Connect())
	conn := d.next(t)
	require.Eventually(t, c.controller.Connected, waitFor, tick)

	time.Sleep(20 * time.Millisecond)
	frames := conn.frames(t)
	require.Len(t, frames, 1)
	assert.Equal(t, []string{"btcusdt@ticker", "ethusdt@aggTrade"}, frames[0].Params)

	// once synced, new channels go out on their own
	require.NoError(t, c.Subscribe("solusdt@aggTrade"))
	frames = conn.frames(t)
	require.Len(t, frames, 2)
	assert.Equal(t, []string{"solusdt@aggTrade"}, frames[1].Params)

	require.NoError(t, c.Disconnect(context.Background()))
}

func TestReconnectExhaustedFiresOnce(t *testing.T) {
	d := newFakeDialer()
	d.fail = func(int) bool { return true }
	c := newTestClient(d, 3)

	var exhausted atomic.Int32
	var lastAttempts atomic.Int32
	c.OnReconnectExhausted(func(e ReconnectExhausted) {
		exhausted.Add(1)
		lastAttempts.Store(int32(e.Attempts))
	})

	require.NoError(t, c.Connect())
	require.Eventually(t, func() bool { return exhausted.Load() == 1 }, waitFor, tick)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), exhausted.Load())
	assert.Equal(t, int32(3), lastAttempts.Load())
	// the initial dial plus three retries
	assert.Equal(t, 4, d.callCount())
	assert.Equal(t, StateFailed, c.State())
}

func TestReconnectExhaustedRevokesSession(t *testing.T) {
	keys := &fakeListenKeys{credential: true}
	d := newFakeDialer()
	d.fail = func(int) bool { return true }
	c := NewClient(Config{Name: "private", Backoff: fastBackoff(1), SessionValidity: 40 * time.Millisecond}, d, keys)

	var exhausted atomic.Int32
	c.OnReconnectExhausted(func(ReconnectExhausted) { exhausted.Add(1) })

	_, err := c.SubscribeUserData(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Connect())
	require.Eventually(t, func() bool { return exhausted.Load() == 1 }, waitFor, tick)

	require.Eventually(t, func() bool {
		_, _, revoked := keys.counts()
		return revoked == 1
	}, waitFor, tick)
	_, ok := c.Session()
	assert.False(t, ok)
	assert.Empty(t, c.Wanted())

	time.Sleep(10 * time.Millisecond)
	_, n, _ := keys.counts()
	time.Sleep(100 * time.Millisecond)
	_, after, _ := keys.counts()
	assert.Equal(t, n, after, "no keep-alive once the connection is gone")
	assert.Equal(t, StateFailed, c.State())
}

func TestConnectAfterExhaustionStartsFresh(t *testing.T) {
	d := newFakeDialer()
	d.fail = func(n int) bool { return n <= 2 }
	c := newTestClient(d, 1)

	var exhausted atomic.Int32
	c.OnReconnectExhausted(func(ReconnectExhausted) { exhausted.Add(1) })

	require.NoError(t, c.Connect())
	require.Eventually(t, func() bool { return c.State() == StateFailed }, waitFor, tick)
	assert.Equal(t, int32(1), exhausted.Load())

	require.NoError(t, c.Connect())
	d.next(t)
	require.Eventually(t, func() bool { return c.State() == StateConnected }, waitFor, tick)

	require.NoError(t, c.Disconnect(context.Background()))
}

func TestDisconnectSuppressesReconnect(t *testing.T) {
	d := newFakeDialer()
	c := newTestClient(d, 5)

	manual := make(chan Disconnected, 1)
	c.OnDisconnected(func(e Disconnected) { manual <- e })

	require.NoError(t, c.Connect())
	conn := d.next(t)
	require.Eventually(t, func() bool { return c.State() == StateConnected }, waitFor, tick)

	require.NoError(t, c.Disconnect(context.Background()))

	select {
	case e := <-manual:
		assert.True(t, e.Manual)
	case <-time.After(waitFor):
		t.Fatal("no disconnected event")
	}
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, StateDisconnected, c.State())
	assert.Equal(t, 1, d.callCount())
	assert.True(t, conn.isClosed())
	assert.ErrorIs(t, c.controller.Send([]byte("{}")), ErrNotConnected)
}

func TestTransportErrorReportedOnceThenClosed(t *testing.T) {
	d := newFakeDialer()
	c := newTestClient(d, 5)

	var transport atomic.Int32
	c.OnError(func(err error) {
		var te *TransportError
		if errors.As(err, &te) {
			transport.Add(1)
		}
	})

	require.NoError(t, c.Connect())
	conn := d.next(t)
	require.Eventually(t, func() bool { return c.State() == StateConnected }, waitFor, tick)

	conn.drop()
	d.next(t)
	require.Eventually(t, func() bool { return c.State() == StateConnected }, waitFor, tick)

	assert.Equal(t, int32(1), transport.Load())
	assert.True(t, conn.isClosed())

	require.NoError(t, c.Disconnect(context.Background()))
}

func TestHeartbeatWritesPings(t *testing.T) {
	d := newFakeDialer()
	c := NewClient(Config{Name: "hb", Heartbeat: 5 * time.Millisecond, Backoff: fastBackoff(3)}, d, nil)

	require.NoError(t, c.Connect())
	conn := d.next(t)
	require.Eventually(t, func() bool { return conn.pingCount() >= 2 }, waitFor, tick)
	assert.False(t, c.LastHeartbeat().IsZero())

	require.NoError(t, c.Disconnect(context.Background()))
	n := conn.pingCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, conn.pingCount(), "heartbeat must stop with the connection")
}

func TestClosedClientRejectsUse(t *testing.T) {
	c := newTestClient(newFakeDialer(), 3)
	require.NoError(t, c.Close(context.Background()))

	assert.ErrorIs(t, c.Connect(), ErrClientClosed)
	assert.ErrorIs(t, c.Subscribe("btcusdt@ticker"), ErrClientClosed)
	_, err := c.SubscribeUserData(context.Background())
	assert.ErrorIs(t, err, ErrClientClosed)
}
