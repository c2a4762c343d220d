package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"xstream/internal/application/port"
)

const (
	DefaultListenKeyValidity = 60 * time.Minute
	sessionCallTimeout       = 10 * time.Second
)

// Session 私有数据流的 listen key 及其有效期
type Session struct {
	Token           string
	CreatedAt       time.Time
	RefreshedAt     time.Time
	Validity        time.Duration
	RefreshInterval time.Duration
	Failed          bool
}

// ExpiresAt is the time the exchange drops the key unless refreshed.
func (s Session) ExpiresAt() time.Time {
	last := s.RefreshedAt
	if last.IsZero() {
		last = s.CreatedAt
	}
	return last.Add(s.Validity)
}

// SessionManager 按需创建 listen key，定时续期，断开时注销
type SessionManager struct {
	svc      port.ListenKeyService
	registry *Registry
	bus      *Bus
	validity time.Duration
	refresh  time.Duration

	// opMu serialises create/close so two callers never provision two keys
	opMu    sync.Mutex
	mu      sync.Mutex
	session *Session
	timer   *time.Timer
}

// NewSessionManager refreshes at half the validity window when refresh <= 0.
func NewSessionManager(svc port.ListenKeyService, registry *Registry, bus *Bus, validity, refresh time.Duration) *SessionManager {
	if validity <= 0 {
		validity = DefaultListenKeyValidity
	}
	if refresh <= 0 || refresh >= validity {
		refresh = validity / 2
	}
	return &SessionManager{
		svc:      svc,
		registry: registry,
		bus:      bus,
		validity: validity,
		refresh:  refresh,
	}
}

// Subscribe provisions a listen key and subscribes to it as a channel.
// Without a credential it fails immediately, before any network call.
// An existing healthy session is reused; a failed one is replaced.
func (m *SessionManager) Subscribe(ctx context.Context) (Session, error) {
	if m.svc == nil {
		return Session{}, ErrNoSessionService
	}
	if !m.svc.HasCredential() {
		return Session{}, ErrMissingCredential
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	var prev Session
	var has bool
	if m.session != nil {
		prev, has = *m.session, true
	}
	m.mu.Unlock()
	if has && !prev.Failed {
		return prev, nil
	}
	if has {
		m.drop(ctx, prev.Token)
	}

	token, err := m.svc.CreateListenKey(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("create listen key: %w", err)
	}

	now := time.Now()
	sess := &Session{
		Token:           token,
		CreatedAt:       now,
		Validity:        m.validity,
		RefreshInterval: m.refresh,
	}
	m.mu.Lock()
	m.session = sess
	m.timer = time.AfterFunc(m.refresh, func() { m.keepAlive(token) })
	out := *sess
	m.mu.Unlock()

	log.Info().
		Dur("refresh", m.refresh).
		Dur("validity", m.validity).
		Msg("user data session created")

	if err := m.registry.Subscribe(token); err != nil {
		// the key stays in the wanted set and is sent again on reconnect
		log.Warn().Err(err).Msg("subscribe listen key deferred")
	}
	return out, nil
}

// Close revokes the current listen key and removes it from the wanted set.
func (m *SessionManager) Close(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	sess := m.session
	m.mu.Unlock()
	if sess == nil {
		return nil
	}
	return m.drop(ctx, sess.Token)
}

// Current returns a copy of the active session.
func (m *SessionManager) Current() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return Session{}, false
	}
	return *m.session, true
}

// drop stops the refresh timer, unsubscribes and revokes token.
func (m *SessionManager) drop(ctx context.Context, token string) error {
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.session != nil && m.session.Token == token {
		m.session = nil
	}
	m.mu.Unlock()

	if err := m.registry.Unsubscribe(token); err != nil {
		log.Warn().Err(err).Msg("unsubscribe listen key failed")
	}
	if err := m.svc.CloseListenKey(ctx, token); err != nil {
		return fmt.Errorf("close listen key: %w", err)
	}
	log.Info().Msg("user data session revoked")
	return nil
}

func (m *SessionManager) keepAlive(token string) {
	ctx, cancel := context.WithTimeout(context.Background(), sessionCallTimeout)
	defer cancel()
	err := m.svc.KeepAliveListenKey(ctx, token)

	m.mu.Lock()
	if m.session == nil || m.session.Token != token {
		m.mu.Unlock()
		return
	}
	if err != nil {
		m.session.Failed = true
		m.timer = nil
		m.mu.Unlock()

		log.Error().Err(err).Msg("listen key refresh failed")
		m.bus.emitError(&SessionRefreshError{ListenKey: token, Err: err})
		return
	}
	m.session.RefreshedAt = time.Now()
	m.timer = time.AfterFunc(m.refresh, func() { m.keepAlive(token) })
	m.mu.Unlock()

	log.Debug().Msg("listen key refreshed")
}

// expire marks the session failed after the exchange reported the key expired.
func (m *SessionManager) expire() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return
	}
	m.session.Failed = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}
