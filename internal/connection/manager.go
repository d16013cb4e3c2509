// Package connection keeps a sync-server connection that higher layers can
// treat as always available. It owns reconnection, the attempt budget that
// trips into Disabled, and the offline mode.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"inkdown-collab/internal/logging"
	"inkdown-collab/internal/protocol"
	"inkdown-collab/internal/transport"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

var (
	ErrNoCredential    = errors.New("no credential")
	ErrDisabled        = errors.New("connection disabled")
	ErrConnectInFlight = errors.New("connection attempt already in flight")
	ErrConnectFailed   = errors.New("connection attempt failed")
	ErrClosed          = errors.New("connection manager closed")
)

const (
	DefaultMaxAttempts    = 5
	DefaultConnectTimeout = 10 * time.Second
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 5 * time.Second
)

// Prober runs the two independent preconditions of a manual reconnect.
type Prober interface {
	CheckServer(ctx context.Context) error
	VerifyCredential(ctx context.Context, credential string) error
}

type Options struct {
	// Dialer is ignored in offline mode.
	Dialer transport.Dialer
	Prober Prober
	// Offline swaps in the loopback transport: sends are acknowledged
	// locally and nothing reaches other collaborators.
	Offline        bool
	MaxAttempts    int
	ConnectTimeout time.Duration
	AutoReconnect  bool
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	EventBuffer    int
	Logger         *zap.Logger
}

type Manager struct {
	dialer         transport.Dialer
	prober         Prober
	offline        bool
	maxAttempts    int
	connectTimeout time.Duration
	autoReconnect  bool
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	events chan *protocol.Envelope

	mu           sync.Mutex
	state        State
	session      transport.Session
	attempts     int
	credential   string
	reconnecting bool
	closed       bool
	subscribers  map[int]chan State
	nextSub      int
}

func NewManager(opts Options) *Manager {
	logger := logging.OrNop(opts.Logger).Named("connection")

	m := &Manager{
		dialer:         opts.Dialer,
		prober:         opts.Prober,
		offline:        opts.Offline,
		maxAttempts:    opts.MaxAttempts,
		connectTimeout: opts.ConnectTimeout,
		autoReconnect:  opts.AutoReconnect,
		initialBackoff: opts.InitialBackoff,
		maxBackoff:     opts.MaxBackoff,
		logger:         logger,
		state:          Disconnected,
		subscribers:    make(map[int]chan State),
	}
	if m.maxAttempts <= 0 {
		m.maxAttempts = DefaultMaxAttempts
	}
	if m.connectTimeout <= 0 {
		m.connectTimeout = DefaultConnectTimeout
	}
	if m.initialBackoff <= 0 {
		m.initialBackoff = DefaultInitialBackoff
	}
	if m.maxBackoff <= 0 {
		m.maxBackoff = DefaultMaxBackoff
	}
	buffer := opts.EventBuffer
	if buffer <= 0 {
		buffer = 256
	}
	m.events = make(chan *protocol.Envelope, buffer)
	m.ctx, m.cancel = context.WithCancel(context.Background())

	if m.offline {
		m.dialer = transport.NewLoopbackDialer(logger)
		logger.Warn("offline mode enabled: sends are acknowledged locally and never reach collaborators")
	}

	return m
}

// Initialize establishes the transport. It returns the live session when one
// already exists and never panics or retries on its own: failures come back
// as a nil session and a sentinel error that callers are free to ignore.
func (m *Manager) Initialize(ctx context.Context, credential string) (transport.Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	switch m.state {
	case Disabled:
		m.mu.Unlock()
		m.logger.Debug("initialize skipped: connection disabled")
		return nil, ErrDisabled
	case Connecting:
		m.mu.Unlock()
		m.logger.Debug("initialize skipped: attempt already in flight")
		return nil, ErrConnectInFlight
	case Connected:
		if m.session != nil {
			session := m.session
			m.mu.Unlock()
			return session, nil
		}
	}
	if credential == "" && !m.offline {
		m.mu.Unlock()
		m.logger.Warn("initialize skipped: no credential")
		return nil, ErrNoCredential
	}
	if credential != "" {
		m.credential = credential
	}
	if !m.offline {
		m.attempts++
	}
	attempt := m.attempts
	m.setStateLocked(Connecting)
	m.mu.Unlock()

	if m.offline {
		m.logger.Info("offline mode: using loopback connection")
	} else {
		m.logger.Info("connecting", zap.Int("attempt", attempt), zap.Int("max_attempts", m.maxAttempts))
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	session, err := m.dialer.Dial(dialCtx, credential)
	cancel()

	m.mu.Lock()
	if err != nil {
		if m.state == Connecting {
			if !m.offline && m.attempts >= m.maxAttempts {
				m.setStateLocked(Disabled)
				m.logger.Warn("connection attempts exhausted, disabling",
					zap.Int("attempts", m.attempts), zap.Error(err))
			} else {
				m.setStateLocked(Disconnected)
				m.logger.Warn("connection attempt failed",
					zap.Int("attempt", attempt), zap.Error(err))
			}
		}
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}

	if m.state != Connecting || m.closed {
		// Disabled or closed while the dial was in flight.
		m.mu.Unlock()
		session.Close()
		return nil, ErrDisabled
	}

	m.session = session
	m.attempts = 0
	m.setStateLocked(Connected)
	m.mu.Unlock()

	m.logger.Info("connected")
	go m.pump(session)

	return session, nil
}

// Disable forces the Disabled state and tears down any live connection.
func (m *Manager) Disable() {
	m.mu.Lock()
	session := m.session
	m.session = nil
	m.setStateLocked(Disabled)
	m.mu.Unlock()

	if session != nil {
		session.Close()
	}
	m.logger.Info("connection disabled")
}

// Enable clears Disabled and, without a live connection, initializes again
// with the last credential. It reports whether a connection is live.
func (m *Manager) Enable(ctx context.Context) bool {
	m.mu.Lock()
	if m.state == Connected {
		m.mu.Unlock()
		return true
	}
	if m.state == Disabled {
		m.attempts = 0
		m.setStateLocked(Disconnected)
	}
	credential := m.credential
	m.mu.Unlock()

	m.logger.Info("connection enabled")
	session, err := m.Initialize(ctx, credential)
	return err == nil && session != nil
}

// Reconnect is the manual path. Server reachability and credential validity
// are checked before an attempt is spent on either being down.
func (m *Manager) Reconnect(ctx context.Context) bool {
	m.mu.Lock()
	if m.state == Disabled || m.closed {
		m.mu.Unlock()
		m.logger.Info("reconnect skipped: connection disabled")
		return false
	}
	m.attempts = 0
	stale := m.session
	m.session = nil
	if m.state == Connected {
		m.setStateLocked(Disconnected)
	}
	credential := m.credential
	m.mu.Unlock()

	if stale != nil {
		stale.Close()
	}

	if !m.offline {
		if m.prober != nil {
			if err := m.prober.CheckServer(ctx); err != nil {
				m.logger.Warn("reconnect aborted: server unavailable", zap.Error(err))
				return false
			}
		}
		if err := checkCredentialLocally(credential, time.Now()); err != nil {
			m.logger.Warn("reconnect aborted: credential rejected locally", zap.Error(err))
			return false
		}
		if m.prober != nil {
			if err := m.prober.VerifyCredential(ctx, credential); err != nil {
				m.logger.Warn("reconnect aborted: credential invalid", zap.Error(err))
				return false
			}
		}
	}

	session, err := m.Initialize(ctx, credential)
	return err == nil && session != nil
}

// Emit sends best effort on the live session. Failures are logged and
// reported as false, never returned as errors.
func (m *Manager) Emit(ctx context.Context, name protocol.EventName, payload interface{}) bool {
	m.mu.Lock()
	session := m.session
	state := m.state
	m.mu.Unlock()

	if state != Connected || session == nil {
		return false
	}

	env, err := protocol.NewEnvelope(name, payload)
	if err != nil {
		m.logger.Error("failed to encode event", zap.String("event", string(name)), zap.Error(err))
		return false
	}
	if err := session.Send(ctx, env); err != nil {
		m.logger.Warn("emit failed", zap.String("event", string(name)), zap.Error(err))
		return false
	}
	return true
}

// Events is one inbound stream that survives reconnects.
func (m *Manager) Events() <-chan *protocol.Envelope {
	return m.events
}

// Subscribe delivers state changes. Slow readers only see the latest state.
func (m *Manager) Subscribe() (<-chan State, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan State, 1)
	if m.closed {
		close(ch)
		return ch, func() {}
	}
	id := m.nextSub
	m.nextSub++
	m.subscribers[id] = ch
	ch <- m.state

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if sub, ok := m.subscribers[id]; ok {
			delete(m.subscribers, id)
			close(sub)
		}
	}
}

func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == Connected
}

func (m *Manager) IsEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state != Disabled
}

func (m *Manager) IsOffline() bool {
	return m.offline
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Close disposes the manager. It is not usable afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	session := m.session
	m.session = nil
	m.setStateLocked(Disconnected)
	for id, sub := range m.subscribers {
		delete(m.subscribers, id)
		close(sub)
	}
	m.mu.Unlock()

	m.cancel()
	if session != nil {
		session.Close()
	}
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	for _, sub := range m.subscribers {
		select {
		case <-sub:
		default:
		}
		sub <- s
	}
}

func (m *Manager) pump(session transport.Session) {
	for env := range session.Inbound() {
		select {
		case m.events <- env:
		case <-m.ctx.Done():
			return
		}
	}
	<-session.Done()
	m.sessionEnded(session)
}

func (m *Manager) sessionEnded(session transport.Session) {
	m.mu.Lock()
	if m.session != session {
		// Torn down on purpose by Disable, Reconnect or Close.
		m.mu.Unlock()
		return
	}
	m.session = nil
	if m.state == Connected {
		m.setStateLocked(Disconnected)
	}
	err := session.Err()
	retry := m.autoReconnect && !m.offline && !m.closed && m.state == Disconnected
	m.mu.Unlock()

	m.logger.Warn("connection lost", zap.Error(err))
	if retry {
		go m.reconnectLoop()
	}
}

func (m *Manager) reconnectLoop() {
	m.mu.Lock()
	if m.reconnecting {
		m.mu.Unlock()
		return
	}
	m.reconnecting = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.reconnecting = false
		m.mu.Unlock()
	}()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.initialBackoff
	b.MaxInterval = m.maxBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	for {
		timer := time.NewTimer(b.NextBackOff())
		select {
		case <-m.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		m.mu.Lock()
		credential := m.credential
		m.mu.Unlock()

		_, err := m.Initialize(m.ctx, credential)
		switch {
		case err == nil:
			return
		case errors.Is(err, ErrDisabled), errors.Is(err, ErrNoCredential), errors.Is(err, ErrClosed):
			return
		}
	}
}
