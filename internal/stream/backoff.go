package stream

import "time"

// Backoff 重连退避策略：delay(n) = min(Base * 2^n, Cap)，n 从 0 开始
type Backoff struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
}

// DefaultBackoff 默认退避配置
var DefaultBackoff = Backoff{
	Base:        500 * time.Millisecond,
	Cap:         30 * time.Second,
	MaxAttempts: 10,
}

func (b Backoff) normalize() Backoff {
	if b.Base <= 0 {
		b.Base = DefaultBackoff.Base
	}
	if b.Cap < b.Base {
		b.Cap = b.Base
	}
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = DefaultBackoff.MaxAttempts
	}
	return b
}

// Delay returns the wait before reconnect attempt n (0-based).
func (b Backoff) Delay(n int) time.Duration {
	b = b.normalize()
	if n < 0 {
		n = 0
	}
	d := b.Base
	for i := 0; i < n; i++ {
		d *= 2
		// overflow or cap reached
		if d <= 0 || d >= b.Cap {
			return b.Cap
		}
	}
	return minDur(d, b.Cap)
}

// Exhausted reports whether n failed attempts used up the budget.
func (b Backoff) Exhausted(n int) bool {
	return n >= b.normalize().MaxAttempts
}

func minDur(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
