package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stine-notifier/stine/pkg/platforms"
)

// ErrAuthFatal means logging in cannot succeed without user action: the
// credentials were rejected, or a fresh session was rejected as well.
var ErrAuthFatal = platforms.ErrAuthFatal

// DefaultMaxIdle is how long a session stays usable after its last use.
// The portal drops idle sessions after about half an hour.
const DefaultMaxIdle = 30 * time.Minute

const touchInterval = time.Minute

type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Debugf(string, ...interface{}) {}

// Manager hands out a valid session and applies the retry policy: a
// rejected session is dropped and one new login is attempted; a second
// rejection is fatal. Logins are serialized, so no call proceeds with a
// session that is being replaced.
type Manager struct {
	auth    platforms.Authenticator
	store   Store
	creds   platforms.Credentials
	maxIdle time.Duration
	now     func() time.Time
	log     Logger

	mu        sync.Mutex
	current   *platforms.Session
	lastSaved time.Time
}

type Option func(*Manager)

// WithMaxIdle sets the idle window; zero or less disables idle expiry.
func WithMaxIdle(d time.Duration) Option { return func(m *Manager) { m.maxIdle = d } }

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func WithLogger(l Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

func NewManager(auth platforms.Authenticator, store Store, creds platforms.Credentials, opts ...Option) *Manager {
	m := &Manager{
		auth:    auth,
		store:   store,
		creds:   creds,
		maxIdle: DefaultMaxIdle,
		now:     time.Now,
		log:     nopLogger{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EnsureValid returns the current or persisted session if it is still
// usable, and logs in otherwise.
func (m *Manager) EnsureValid(ctx context.Context) (platforms.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && m.usable(*m.current) {
		return *m.current, nil
	}
	if m.current == nil {
		s, err := m.store.Load()
		if err != nil {
			m.log.Warnf("Could not read persisted session: %v", err)
		}
		if s != nil && m.usable(*s) {
			m.log.Debugf("Reusing session issued at %s", s.IssuedAt.Format(time.RFC3339))
			m.current = s
			m.lastSaved = s.LastUsed
			return *s, nil
		}
	}
	return m.login(ctx)
}

// Refresh discards the current session and logs in.
func (m *Manager) Refresh(ctx context.Context) (platforms.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = nil
	return m.login(ctx)
}

// Invalidate drops stale if it is still the current session. A session that
// was already replaced by another caller is left alone.
func (m *Manager) Invalidate(stale platforms.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil && m.current.Token != stale.Token {
		return
	}
	m.current = nil
	if err := m.store.Clear(); err != nil {
		m.log.Warnf("Could not remove persisted session: %v", err)
	}
}

// Clear forgets the session in memory and on disk.
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = nil
	return m.store.Clear()
}

// Current returns the persisted session without logging in.
func (m *Manager) Current() (*platforms.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		cp := *m.current
		return &cp, nil
	}
	return m.store.Load()
}

// Expired reports whether s is past the idle window.
func (m *Manager) Expired(s platforms.Session) bool {
	return !m.usable(s)
}

// Do runs fn with a valid session. When fn fails with
// platforms.ErrAuthExpired the session is invalidated, EnsureValid is run
// once more and fn is retried once. A second rejection returns an error
// wrapping ErrAuthFatal.
func (m *Manager) Do(ctx context.Context, fn func(platforms.Session) error) error {
	s, err := m.EnsureValid(ctx)
	if err != nil {
		return err
	}
	err = fn(s)
	if !errors.Is(err, platforms.ErrAuthExpired) {
		if err == nil {
			m.touch(s)
		}
		return err
	}

	m.log.Infof("Session was rejected by the portal, logging in again")
	m.Invalidate(s)
	if s, err = m.EnsureValid(ctx); err != nil {
		return err
	}
	err = fn(s)
	if errors.Is(err, platforms.ErrAuthExpired) {
		m.Invalidate(s)
		return fmt.Errorf("%w: fresh session rejected: %w", ErrAuthFatal, err)
	}
	if err == nil {
		m.touch(s)
	}
	return err
}

func (m *Manager) usable(s platforms.Session) bool {
	if !s.Valid || s.Token == "" {
		return false
	}
	if m.creds.Username != "" && s.Username != "" && s.Username != m.creds.Username {
		return false
	}
	if m.maxIdle <= 0 {
		return true
	}
	last := s.LastUsed
	if last.IsZero() {
		last = s.IssuedAt
	}
	return m.now().Sub(last) < m.maxIdle
}

func (m *Manager) login(ctx context.Context) (platforms.Session, error) {
	if m.creds.Username == "" || m.creds.Password == "" {
		return platforms.Session{}, fmt.Errorf("%w: no username or password configured", ErrAuthFatal)
	}
	m.log.Debugf("Logging in as %s", m.creds.Username)
	s, err := m.auth.Login(ctx, m.creds)
	if err != nil {
		if errors.Is(err, platforms.ErrAuthFailed) {
			return platforms.Session{}, fmt.Errorf("%w: %w", ErrAuthFatal, err)
		}
		return platforms.Session{}, err
	}
	now := m.now().UTC()
	s.Valid = true
	if s.Username == "" {
		s.Username = m.creds.Username
	}
	if s.IssuedAt.IsZero() {
		s.IssuedAt = now
	}
	s.LastUsed = now
	if err := m.store.Save(s); err != nil {
		m.log.Warnf("Could not persist session: %v", err)
	}
	m.current = &s
	m.lastSaved = now
	return s, nil
}

// touch records a successful use. The file is rewritten at most once per
// touchInterval.
func (m *Manager) touch(s platforms.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.Token != s.Token {
		return
	}
	now := m.now().UTC()
	m.current.LastUsed = now
	if now.Sub(m.lastSaved) < touchInterval {
		return
	}
	if err := m.store.Save(*m.current); err != nil {
		m.log.Warnf("Could not persist session: %v", err)
		return
	}
	m.lastSaved = now
}
