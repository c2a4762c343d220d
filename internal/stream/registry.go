package stream

import (
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
)

const (
	MethodSubscribe   = "SUBSCRIBE"
	MethodUnsubscribe = "UNSUBSCRIBE"
)

// ControlFrame 订阅控制帧 {method, params, id}
type ControlFrame struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// frameSender is the part of the controller the registry needs. Connected
// reports true only once the post-connect resubscribe went out.
type frameSender interface {
	Connected() bool
	Send(frame []byte) error
}

// Registry 期望订阅集合的唯一来源
// 集合与连接状态无关：断线期间的 Subscribe/Unsubscribe 同样生效，重连后整体重发
type Registry struct {
	mu    sync.Mutex
	order []string
	set   map[string]struct{}

	// sendMu orders live frames against the resubscribe after a connect
	sendMu sync.Mutex

	nextID atomic.Int64
	sender frameSender
}

// NewRegistry 创建订阅注册表
func NewRegistry(sender frameSender) *Registry {
	return &Registry{
		set:    make(map[string]struct{}),
		sender: sender,
	}
}

// Subscribe adds channels to the wanted set. When connected, one SUBSCRIBE
// frame carrying only the newly added channels is sent. Already present
// channels are ignored.
func (r *Registry) Subscribe(channels ...string) error {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()
	added := r.add(channels)
	if len(added) == 0 || !r.sender.Connected() {
		return nil
	}
	return r.send(MethodSubscribe, added)
}

// Unsubscribe removes channels from the wanted set. When connected, one
// UNSUBSCRIBE frame carrying only the removed channels is sent.
func (r *Registry) Unsubscribe(channels ...string) error {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()
	removed := r.remove(channels)
	if len(removed) == 0 || !r.sender.Connected() {
		return nil
	}
	return r.send(MethodUnsubscribe, removed)
}

// Resubscribe sends the whole wanted set in a single SUBSCRIBE frame.
// Called by the controller after (re)connect; it only reads the set.
func (r *Registry) Resubscribe() error {
	return r.resync(nil)
}

// resync is Resubscribe with a callback run, still under sendMu, once the
// frame is out. Subscribe calls waiting on sendMu then see the connection
// as synced and send only their own channels.
func (r *Registry) resync(synced func()) error {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()
	if wanted := r.Wanted(); len(wanted) > 0 {
		if err := r.send(MethodSubscribe, wanted); err != nil {
			return err
		}
	}
	if synced != nil {
		synced()
	}
	return nil
}

// Wanted returns a copy of the wanted set in insertion order.
func (r *Registry) Wanted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Has reports whether channel is currently wanted.
func (r *Registry) Has(channel string) bool {
	r.mu.Lock()
	_, ok := r.set[channel]
	r.mu.Unlock()
	return ok
}

// Len returns the size of the wanted set.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

func (r *Registry) add(channels []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var added []string
	for _, ch := range channels {
		ch = strings.TrimSpace(ch)
		if ch == "" {
			continue
		}
		if _, ok := r.set[ch]; ok {
			continue
		}
		r.set[ch] = struct{}{}
		r.order = append(r.order, ch)
		added = append(added, ch)
	}
	return added
}

func (r *Registry) remove(channels []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for _, ch := range channels {
		ch = strings.TrimSpace(ch)
		if _, ok := r.set[ch]; !ok {
			continue
		}
		delete(r.set, ch)
		removed = append(removed, ch)
	}
	if len(removed) == 0 {
		return nil
	}

	kept := r.order[:0]
	for _, ch := range r.order {
		if _, ok := r.set[ch]; ok {
			kept = append(kept, ch)
		}
	}
	// clear the tail so removed strings are not retained
	for i := len(kept); i < len(r.order); i++ {
		r.order[i] = ""
	}
	r.order = kept
	return removed
}

func (r *Registry) send(method string, params []string) error {
	b, err := json.Marshal(ControlFrame{
		Method: method,
		Params: params,
		ID:     r.nextID.Add(1),
	})
	if err != nil {
		return err
	}
	return r.sender.Send(b)
}
