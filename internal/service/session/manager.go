// Package session tracks the authentication session and the caller's
// portal role, and decides which auth events actually represent an
// identity change.
package session

import (
	"context"
	"sync"

	"github.com/helixlife/portal-bff-go/internal/domain"
	"github.com/helixlife/portal-bff-go/internal/infra/observability"
	"github.com/helixlife/portal-bff-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("service/session")

// State of the session manager.
type State int

const (
	StateInitializing State = iota
	StateUnauthenticated
	StateAuthenticated
)

// Sink receives the session whenever the user identity changes.
// The aggregate loader is the primary sink.
type Sink interface {
	SetSession(sess *domain.Session)
}

// Manager is the auth session state machine for one user session.
//
// The critical distinction: a token refresh updates the session reference
// only. Treating every auth event as "user changed" would cancel and
// restart the profile loader on routine refreshes, discarding in-flight
// work. The previous user id is tracked as plain mutable state under the
// mutex so the comparison is against the true previous value.
type Manager struct {
	gateway   port.AuthGateway
	roles     port.RoleStore
	roleCache port.Cache[string]
	metrics   *observability.Metrics
	logger    *zap.Logger

	mu         sync.Mutex
	state      State
	sess       *domain.Session
	role       string
	loading    bool
	prevUserID string
	sinks      []Sink
}

// NewManager creates a manager in the Initializing state.
func NewManager(gateway port.AuthGateway, roles port.RoleStore, roleCache port.Cache[string], metrics *observability.Metrics, logger *zap.Logger) *Manager {
	return &Manager{
		gateway:   gateway,
		roles:     roles,
		roleCache: roleCache,
		metrics:   metrics,
		logger:    logger,
		state:     StateInitializing,
		loading:   true,
	}
}

// AttachSink registers a sink for identity changes.
func (m *Manager) AttachSink(s Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks = append(m.sinks, s)
}

// Start resolves any existing session from the gateway.
// Initializing → Unauthenticated when no session exists, otherwise
// Initializing → Authenticated once the role resolves.
func (m *Manager) Start(ctx context.Context, accessToken string) {
	ctx, span := tracer.Start(ctx, "Session.Start")
	defer span.End()

	if accessToken == "" {
		m.toUnauthenticated()
		return
	}

	sess, err := m.gateway.GetSession(ctx, accessToken)
	if err != nil {
		m.logger.Error("session: failed to resolve existing session", zap.Error(err))
		m.toUnauthenticated()
		return
	}
	if sess == nil {
		m.toUnauthenticated()
		return
	}

	m.authenticate(ctx, sess, true)
}

// HandleAuthEvent processes an auth-state notification from the gateway.
func (m *Manager) HandleAuthEvent(ctx context.Context, evt domain.AuthEvent) {
	ctx, span := tracer.Start(ctx, "Session.HandleAuthEvent")
	defer span.End()

	switch evt.Type {
	case domain.AuthSignedOut:
		m.signOut()

	case domain.AuthTokenRefreshed:
		if evt.Session == nil {
			m.signOut()
			return
		}
		m.mu.Lock()
		if m.state == StateAuthenticated && evt.Session.UserID == m.prevUserID {
			// Same identity: swap the session reference only. No loading
			// flip, no sink push, no loader restart.
			m.sess = evt.Session
			m.mu.Unlock()
			m.logger.Debug("session: token refreshed",
				zap.String("user_id", evt.Session.UserID),
			)
			return
		}
		m.mu.Unlock()
		// A refresh carrying a different identity is a sign-in in disguise.
		m.authenticate(ctx, evt.Session, true)

	case domain.AuthSignedIn:
		if evt.Session == nil {
			m.signOut()
			return
		}
		m.authenticate(ctx, evt.Session, true)

	default:
		m.logger.Warn("session: ignoring unknown auth event", zap.String("type", evt.Type))
	}
}

// EnsureSession is the per-request path: it behaves like a token refresh
// for a known identity and like a sign-in for a new one.
func (m *Manager) EnsureSession(ctx context.Context, sess *domain.Session) {
	if sess == nil {
		return
	}
	m.mu.Lock()
	if m.state == StateAuthenticated && sess.UserID == m.prevUserID {
		m.sess = sess
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.authenticate(ctx, sess, false)
}

// authenticate enters role resolution and, when the identity changed,
// pushes the new session to the sinks. forceRole re-resolves the role even
// for an unchanged identity (explicit sign-in events do this).
func (m *Manager) authenticate(ctx context.Context, sess *domain.Session, forceRole bool) {
	m.mu.Lock()
	identityChanged := sess.UserID != m.prevUserID || m.state != StateAuthenticated
	if !identityChanged && !forceRole {
		m.sess = sess
		m.mu.Unlock()
		return
	}
	m.loading = true
	m.sess = sess
	m.prevUserID = sess.UserID
	m.state = StateAuthenticated
	sinks := append([]Sink(nil), m.sinks...)
	m.mu.Unlock()

	role := m.resolveRole(ctx, sess.UserID)

	m.mu.Lock()
	// Only commit if this identity is still the current one; a rapid
	// sign-out or user switch may have happened while the role resolved.
	if m.prevUserID == sess.UserID && m.state == StateAuthenticated {
		m.role = role
		m.loading = false
	}
	m.mu.Unlock()

	m.logger.Info("session: authenticated",
		zap.String("user_id", sess.UserID),
		zap.String("role", role),
	)

	if identityChanged {
		for _, s := range sinks {
			s.SetSession(sess)
		}
	}
}

// signOut moves to Unauthenticated and tears the sinks down.
func (m *Manager) signOut() {
	m.mu.Lock()
	hadSession := m.sess != nil || m.state == StateInitializing
	m.state = StateUnauthenticated
	m.sess = nil
	m.role = ""
	m.prevUserID = ""
	m.loading = false
	sinks := append([]Sink(nil), m.sinks...)
	m.mu.Unlock()

	if hadSession {
		m.logger.Info("session: signed out")
	}
	for _, s := range sinks {
		s.SetSession(nil)
	}
}

func (m *Manager) toUnauthenticated() {
	m.mu.Lock()
	m.state = StateUnauthenticated
	m.sess = nil
	m.role = ""
	m.loading = false
	m.mu.Unlock()
}

// resolveRole fetches the portal role, with a TTL cache in front.
func (m *Manager) resolveRole(ctx context.Context, userID string) string {
	cacheKey := "role:" + userID
	if m.roleCache != nil {
		if cached, ok := m.roleCache.Get(cacheKey); ok {
			m.metrics.IncrCacheHit("role")
			return cached
		}
		m.metrics.IncrCacheMiss("role")
	}

	role, err := m.roles.GetRole(ctx, userID)
	if err != nil {
		m.logger.Error("session: role resolution failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		m.metrics.IncrExternalError("role")
		return domain.RoleClient
	}

	if m.roleCache != nil {
		m.roleCache.Set(cacheKey, role)
	}
	return role
}

// Session returns the current session (nil when unauthenticated).
func (m *Manager) Session() *domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess
}

// Role returns the resolved portal role ("" when unauthenticated).
func (m *Manager) Role() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.role
}

// State returns the current state machine state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Loading reports whether the manager is resolving a session or role.
func (m *Manager) Loading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loading
}

// IsStaff reports whether the resolved role grants CRM access.
func (m *Manager) IsStaff() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.IsStaffRole(m.role)
}
