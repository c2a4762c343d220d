package feed

import (
	"sync"
	"time"
)

// Metrics 吞吐量快照
// Rate 是上一个完整窗口的消息数（采样值，不做平滑），Window 是当前窗口已累计的消息数
type Metrics struct {
	Rate         int64
	Window       int64
	Total        int64
	LastRollover time.Time
	Gaps         int64
	Resyncs      int64
	Ignored      int64
	Errors       int64
}

// meter counts messages in a fixed window. rollover is driven externally so
// the schedule can follow connection lifetime.
type meter struct {
	mu sync.Mutex
	m  Metrics
}

func (m *meter) hit() {
	m.mu.Lock()
	m.m.Window++
	m.m.Total++
	m.mu.Unlock()
}

// rollover publishes the current window as the rate and starts a new one.
func (m *meter) rollover(now time.Time) {
	m.mu.Lock()
	m.m.Rate = m.m.Window
	m.m.Window = 0
	m.m.LastRollover = now
	m.mu.Unlock()
}

// idle clears the gauge once no connection is feeding it.
func (m *meter) idle(now time.Time) {
	m.mu.Lock()
	m.m.Rate = 0
	m.m.Window = 0
	m.m.LastRollover = now
	m.mu.Unlock()
}

func (m *meter) count(field func(*Metrics)) {
	m.mu.Lock()
	field(&m.m)
	m.mu.Unlock()
}

func (m *meter) gap()     { m.count(func(x *Metrics) { x.Gaps++ }) }
func (m *meter) resync()  { m.count(func(x *Metrics) { x.Resyncs++ }) }
func (m *meter) ignored() { m.count(func(x *Metrics) { x.Ignored++ }) }
func (m *meter) errored() { m.count(func(x *Metrics) { x.Errors++ }) }

func (m *meter) snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m
}
