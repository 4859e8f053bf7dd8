package portal

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"

	"github.com/mohammad-safakhou/poodle/internal/telemetry"
	"golang.org/x/net/publicsuffix"
)

// DefaultLoginAttempts bounds the handshakes tried per EnsureActive call.
const DefaultLoginAttempts = 3

// Credential is the username/password pair submitted to the identity provider.
type Credential struct {
	Username string
	Password string
}

func (c Credential) String() string {
	return fmt.Sprintf("Credential{Username: %q}", c.Username)
}

// Session is an HTTP client whose cookie jar carries the portal login.
type Session struct {
	client    *http.Client
	createdAt time.Time
}

// NewSession returns a session with an empty cookie jar.
func NewSession(timeout time.Duration) (*Session, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	return &Session{
		client:    &http.Client{Jar: jar, Timeout: timeout},
		createdAt: time.Now(),
	}, nil
}

// Client exposes the underlying HTTP client.
func (s *Session) Client() *http.Client {
	return s.client
}

// CreatedAt is when the session's cookie jar was created.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// Authenticator produces a fresh, logged-in Session.
type Authenticator interface {
	Handshake(ctx context.Context) (*Session, error)
}

type sessionState interface {
	name() string
}

type stateUnknown struct{}

type stateActive struct {
	session *Session
}

type stateFailed struct {
	err error
}

func (stateUnknown) name() string { return "unknown" }
func (stateActive) name() string  { return "active" }
func (stateFailed) name() string  { return "failed" }

type sessionEvent interface {
	isSessionEvent()
}

type handshakeSucceeded struct{ session *Session }
type handshakeFailed struct{ err error }
type probeRejected struct{ status int }
type invalidated struct{}

func (handshakeSucceeded) isSessionEvent() {}
func (handshakeFailed) isSessionEvent()    {}
func (probeRejected) isSessionEvent()      {}
func (invalidated) isSessionEvent()        {}

// transition is the only place session state changes.
func transition(s sessionState, ev sessionEvent) sessionState {
	switch ev := ev.(type) {
	case handshakeSucceeded:
		return stateActive{session: ev.session}
	case handshakeFailed:
		return stateFailed{err: ev.err}
	case probeRejected, invalidated:
		return stateUnknown{}
	}
	return s
}

// SessionManager owns the single live portal session and refreshes it on
// demand. All methods are safe for concurrent use; at most one handshake runs
// at a time.
type SessionManager struct {
	auth     Authenticator
	probeURL string
	attempts int
	logger   *log.Logger
	metrics  *telemetry.Metrics

	mu    sync.Mutex
	state sessionState
}

// SessionManagerOptions configures NewSessionManager.
type SessionManagerOptions struct {
	// ProbeURL is fetched to check that a held session is still valid.
	ProbeURL string
	// Attempts bounds the handshakes per EnsureActive call.
	Attempts int
	Logger   *log.Logger
	Metrics  *telemetry.Metrics
}

func NewSessionManager(auth Authenticator, opts SessionManagerOptions) *SessionManager {
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = DefaultLoginAttempts
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &SessionManager{
		auth:     auth,
		probeURL: opts.ProbeURL,
		attempts: attempts,
		logger:   logger,
		metrics:  opts.Metrics,
		state:    stateUnknown{},
	}
}

// EnsureActive returns a logged-in session. A held session is probed first;
// when the portal rejects it a new handshake runs within the same call.
func (m *SessionManager) EnsureActive(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if active, ok := m.state.(stateActive); ok {
		status, err := m.probe(ctx, active.session)
		if err != nil {
			return nil, err
		}
		if isSuccess(status) {
			return active.session, nil
		}
		m.logger.Printf("session probe returned %d, logging in again", status)
		m.state = transition(m.state, probeRejected{status: status})
	}
	return m.login(ctx)
}

// Invalidate drops the held session so the next EnsureActive logs in again.
func (m *SessionManager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = transition(m.state, invalidated{})
}

// State reports "unknown", "active" or "failed".
func (m *SessionManager) State() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.name()
}

// LastError returns the error that put the manager into the failed state.
func (m *SessionManager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if failed, ok := m.state.(stateFailed); ok {
		return failed.err
	}
	return nil
}

func (m *SessionManager) login(ctx context.Context) (*Session, error) {
	var lastErr error
	for attempt := 1; attempt <= m.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		session, err := m.auth.Handshake(ctx)
		if err == nil {
			m.metrics.Handshake("success")
			m.logger.Printf("logged in on attempt %d", attempt)
			m.state = transition(m.state, handshakeSucceeded{session: session})
			return session, nil
		}
		m.metrics.Handshake("failure")
		m.logger.Printf("login attempt %d/%d failed: %v", attempt, m.attempts, err)
		lastErr = err
	}
	err := fmt.Errorf("%w after %d attempts: %v", ErrLoginFailed, m.attempts, lastErr)
	m.state = transition(m.state, handshakeFailed{err: err})
	return nil, err
}

func (m *SessionManager) probe(ctx context.Context, s *Session) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.probeURL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, networkError("probe", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
