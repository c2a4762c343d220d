package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"xstream/internal/application/port"
)

var errConnClosed = errors.New("use of closed connection")

// fakeConn is an in-memory port.Conn. Frames pushed with deliver are
// returned by ReadMessage; writes are recorded.
type fakeConn struct {
	in     chan []byte
	fail   chan error
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	written [][]byte
	pings   int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		fail:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case b := <-f.in:
		return b, nil
	case err := <-f.fail:
		return nil, err
	case <-f.closed:
		return nil, errConnClosed
	}
}

func (f *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-f.closed:
		return errConnClosed
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) WritePing() error {
	select {
	case <-f.closed:
		return errConnClosed
	default:
	}
	f.mu.Lock()
	f.pings++
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) deliver(frame string) { f.in <- []byte(frame) }

// drop simulates the peer going away.
func (f *fakeConn) drop() { f.fail <- errors.New("connection reset by peer") }

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeConn) frames(t *testing.T) []ControlFrame {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ControlFrame, 0, len(f.written))
	for _, b := range f.written {
		var cf ControlFrame
		require.NoError(t, json.Unmarshal(b, &cf))
		out = append(out, cf)
	}
	return out
}

func (f *fakeConn) pingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

// fakeDialer hands out a fresh fakeConn per successful dial.
type fakeDialer struct {
	mu    sync.Mutex
	calls int
	// fail decides whether dial number n (1-based) fails
	fail  func(n int) bool
	conns chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeConn, 16)}
}

func (d *fakeDialer) Dial(ctx context.Context) (port.Conn, error) {
	d.mu.Lock()
	d.calls++
	n := d.calls
	fail := d.fail
	d.mu.Unlock()

	if fail != nil && fail(n) {
		return nil, errors.New("dial tcp: connection refused")
	}
	c := newFakeConn()
	d.conns <- c
	return c, nil
}

func (d *fakeDialer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *fakeDialer) next(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-d.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dial")
		return nil
	}
}

// fakeListenKeys is an in-memory port.ListenKeyService.
type fakeListenKeys struct {
	mu           sync.Mutex
	credential   bool
	keepAliveErr error
	created      int
	keepAlives   int
	revoked      []string
}

func (f *fakeListenKeys) HasCredential() bool { return f.credential }

func (f *fakeListenKeys) CreateListenKey(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	return fmt.Sprintf("lk-%d", f.created), nil
}

func (f *fakeListenKeys) KeepAliveListenKey(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keepAlives++
	return f.keepAliveErr
}

func (f *fakeListenKeys) CloseListenKey(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, key)
	return nil
}

func (f *fakeListenKeys) counts() (created, keepAlives, revoked int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created, f.keepAlives, len(f.revoked)
}

// fakeSender records frames for registry tests.
type fakeSender struct {
	connected bool
	frames    []ControlFrame
}

func (s *fakeSender) Connected() bool { return s.connected }

func (s *fakeSender) Send(frame []byte) error {
	var cf ControlFrame
	if err := json.Unmarshal(frame, &cf); err != nil {
		return err
	}
	s.frames = append(s.frames, cf)
	return nil
}

func fastBackoff(max int) Backoff {
	return Backoff{Base: 5 * time.Millisecond, Cap: 20 * time.Millisecond, MaxAttempts: max}
}
