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

func TestSubscribeUserDataWithoutCredentialFailsFast(t *testing.T) {
	keys := &fakeListenKeys{}
	c := NewClient(Config{Name: "private"}, newFakeDialer(), keys)

	_, err := c.SubscribeUserData(context.Background())

	require.ErrorIs(t, err, ErrMissingCredential)
	created, keepAlives, revoked := keys.counts()
	assert.Zero(t, created+keepAlives+revoked, "no side-channel call expected")
	assert.Empty(t, c.Wanted())
	_, ok := c.Session()
	assert.False(t, ok)
}

func TestSubscribeUserDataWithoutServiceFails(t *testing.T) {
	c := NewClient(Config{Name: "public"}, newFakeDialer(), nil)
	_, err := c.SubscribeUserData(context.Background())
	assert.ErrorIs(t, err, ErrNoSessionService)
}

func TestSubscribeUserDataRegistersToken(t *testing.T) {
	keys := &fakeListenKeys{credential: true}
	c := NewClient(Config{Name: "private", SessionValidity: time.Hour}, newFakeDialer(), keys)

	sess, err := c.SubscribeUserData(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "lk-1", sess.Token)
	assert.Equal(t, time.Hour, sess.Validity)
	assert.Equal(t, 30*time.Minute, sess.RefreshInterval)
	assert.True(t, c.Subscribed("lk-1"))

	again, err := c.SubscribeUserData(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sess.Token, again.Token)
	created, _, _ := keys.counts()
	assert.Equal(t, 1, created)

	require.NoError(t, c.Disconnect(context.Background()))
}

func TestDisconnectRevokesSession(t *testing.T) {
	keys := &fakeListenKeys{credential: true}
	d := newFakeDialer()
	c := NewClient(Config{Name: "private", Backoff: fastBackoff(3)}, d, keys)

	require.NoError(t, c.Connect())
	conn := d.next(t)
	require.Eventually(t, c.controller.Connected, waitFor, tick)

	_, err := c.SubscribeUserData(context.Background())
	require.NoError(t, err)

	require.NoError(t, c.Disconnect(context.Background()))

	_, _, revoked := keys.counts()
	assert.Equal(t, 1, revoked)
	assert.False(t, c.Subscribed("lk-1"))
	_, ok := c.Session()
	assert.False(t, ok)

	frames := conn.frames(t)
	require.Len(t, frames, 2)
	assert.Equal(t, MethodSubscribe, frames[0].Method)
	assert.Equal(t, []string{"lk-1"}, frames[0].Params)
	assert.Equal(t, MethodUnsubscribe, frames[1].Method)
	assert.Equal(t, []string{"lk-1"}, frames[1].Params)
}

func TestSessionSurvivesReconnect(t *testing.T) {
	keys := &fakeListenKeys{credential: true}
	d := newFakeDialer()
	c := NewClient(Config{Name: "private", Backoff: fastBackoff(3)}, d, keys)

	_, err := c.SubscribeUserData(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Connect())

	first := d.next(t)
	require.Eventually(t, func() bool { return len(first.frames(t)) == 1 }, waitFor, tick)
	first.drop()

	second := d.next(t)
	require.Eventually(t, func() bool { return len(second.frames(t)) == 1 }, waitFor, tick)
	assert.Equal(t, []string{"lk-1"}, second.frames(t)[0].Params)

	created, _, revoked := keys.counts()
	assert.Equal(t, 1, created)
	assert.Zero(t, revoked)

	require.NoError(t, c.Disconnect(context.Background()))
}

func TestSessionRefreshFailureIsSurfaced(t *testing.T) {
	keys := &fakeListenKeys{credential: true, keepAliveErr: errors.New("listen key does not exist")}
	bus := NewBus()
	m := NewSessionManager(keys, NewRegistry(&fakeSender{}), bus, 40*time.Millisecond, 0)

	var refreshErrs atomic.Int32
	var failedKey atomic.Value
	bus.OnError(func(err error) {
		var re *SessionRefreshError
		if errors.As(err, &re) {
			refreshErrs.Add(1)
			failedKey.Store(re.ListenKey)
		}
	})

	sess, err := m.Subscribe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20*time.Millisecond, sess.RefreshInterval)

	require.Eventually(t, func() bool { return refreshErrs.Load() == 1 }, waitFor, tick)
	assert.Equal(t, "lk-1", failedKey.Load())

	cur, ok := m.Current()
	require.True(t, ok)
	assert.True(t, cur.Failed)

	// no automatic retry
	time.Sleep(80 * time.Millisecond)
	_, keepAlives, _ := keys.counts()
	assert.Equal(t, 1, keepAlives)
	assert.Equal(t, int32(1), refreshErrs.Load())

	// the caller may replace the failed session
	keys.mu.Lock()
	keys.keepAliveErr = nil
	keys.mu.Unlock()
	next, err := m.Subscribe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "lk-2", next.Token)
	_, _, revoked := keys.counts()
	assert.Equal(t, 1, revoked)

	require.NoError(t, m.Close(context.Background()))
}

func TestSessionRefreshKeepsSessionAlive(t *testing.T) {
	keys := &fakeListenKeys{credential: true}
	m := NewSessionManager(keys, NewRegistry(&fakeSender{}), NewBus(), 20*time.Millisecond, 5*time.Millisecond)

	sess, err := m.Subscribe(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, n, _ := keys.counts()
		return n >= 3
	}, waitFor, tick)

	cur, ok := m.Current()
	require.True(t, ok)
	assert.False(t, cur.Failed)
	assert.True(t, cur.ExpiresAt().After(sess.ExpiresAt()))

	require.NoError(t, m.Close(context.Background()))
	time.Sleep(10 * time.Millisecond)
	_, n, _ := keys.counts()
	time.Sleep(30 * time.Millisecond)
	_, after, _ := keys.counts()
	assert.Equal(t, n, after, "refresh timer must stop on close")
}

func TestSubscribeUserDataWhileRefreshing(t *testing.T) {
	keys := &fakeListenKeys{credential: true}
	m := NewSessionManager(keys, NewRegistry(&fakeSender{}), NewBus(), 2*time.Millisecond, 0)

	first, err := m.Subscribe(context.Background())
	require.NoError(t, err)

	deadline := time.Now().Add(50 * time.Millisecond)
	for time.Now().Before(deadline) {
		s, err := m.Subscribe(context.Background())
		require.NoError(t, err)
		require.Equal(t, first.Token, s.Token)
		require.False(t, s.Failed)
	}
	created, keepAlives, _ := keys.counts()
	assert.Equal(t, 1, created)
	assert.Positive(t, keepAlives)

	require.NoError(t, m.Close(context.Background()))
}

func TestListenKeyExpiredMarksSessionFailed(t *testing.T) {
	keys := &fakeListenKeys{credential: true}
	d := newFakeDialer()
	c := NewClient(Config{Name: "private", Backoff: fastBackoff(3)}, d, keys)

	_, err := c.SubscribeUserData(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Connect())
	conn := d.next(t)

	conn.deliver(`{"e":"listenKeyExpired","E":1576653824250,"listenKey":"lk-1"}`)

	require.Eventually(t, func() bool {
		s, ok := c.Session()
		return ok && s.Failed
	}, waitFor, tick)

	require.NoError(t, c.Disconnect(context.Background()))
}
