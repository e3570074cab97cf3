// Package hub owns the per-user service instances. Each authenticated user
// gets one session manager wired to one aggregate loader; the hub creates
// them on first sight, routes auth events to them, and tears them down on
// sign-out or idleness.
package hub

import (
	"context"
	"sync"
	"time"

	"github.com/helixlife/portal-bff-go/internal/domain"
	"github.com/helixlife/portal-bff-go/internal/infra/observability"
	"github.com/helixlife/portal-bff-go/internal/port"
	"github.com/helixlife/portal-bff-go/internal/service/aggregate"
	"github.com/helixlife/portal-bff-go/internal/service/session"

	"go.uber.org/zap"
)

// Entry is one user's live service pair.
type Entry struct {
	Manager *session.Manager
	Loader  *aggregate.Loader

	lastSeen time.Time
}

// Hub is the registry of per-user entries.
type Hub struct {
	gateway     port.AuthGateway
	roles       port.RoleStore
	roleCache   port.Cache[string]
	profiles    port.ProfileStore
	submissions port.SubmissionStore
	orders      port.OrderStore
	crm         port.CRMStore
	metrics     *observability.Metrics
	logger      *zap.Logger
	loaderOpts  []aggregate.Option

	mu      sync.Mutex
	entries map[string]*Entry
}

// New creates an empty hub.
func New(
	gateway port.AuthGateway,
	roles port.RoleStore,
	roleCache port.Cache[string],
	profiles port.ProfileStore,
	submissions port.SubmissionStore,
	orders port.OrderStore,
	crm port.CRMStore,
	metrics *observability.Metrics,
	logger *zap.Logger,
	loaderOpts ...aggregate.Option,
) *Hub {
	return &Hub{
		gateway:     gateway,
		roles:       roles,
		roleCache:   roleCache,
		profiles:    profiles,
		submissions: submissions,
		orders:      orders,
		crm:         crm,
		metrics:     metrics,
		logger:      logger,
		loaderOpts:  loaderOpts,
		entries:     make(map[string]*Entry),
	}
}

// Ensure returns the entry for the session's user, creating it on first
// sight. A fresh entry starts its manager against the gateway so the
// session is resolved the way an app load resolves it; after that the
// manager decides whether the call is a token refresh (session reference
// swap only) or a new identity (loader restart).
func (h *Hub) Ensure(ctx context.Context, sess *domain.Session) *Entry {
	h.mu.Lock()
	e, ok := h.entries[sess.UserID]
	if !ok {
		e = h.newEntryLocked(sess.UserID)
	}
	e.lastSeen = time.Now()
	h.mu.Unlock()

	if !ok {
		e.Manager.Start(ctx, sess.AccessToken)
	}
	e.Manager.EnsureSession(ctx, sess)
	return e
}

// Lookup returns the entry for a user without creating one.
func (h *Hub) Lookup(userID string) (*Entry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[userID]
	return e, ok
}

// HandleAuthEvent routes a gateway auth event to the user's entry.
// A signed-out event removes the entry after the manager has torn the
// loader down through its sink.
func (h *Hub) HandleAuthEvent(ctx context.Context, userID string, evt domain.AuthEvent) {
	h.mu.Lock()
	e, ok := h.entries[userID]
	if !ok {
		if evt.Type == domain.AuthSignedOut || evt.Session == nil {
			h.mu.Unlock()
			return
		}
		e = h.newEntryLocked(userID)
	}
	e.lastSeen = time.Now()
	h.mu.Unlock()

	e.Manager.HandleAuthEvent(ctx, evt)

	if evt.Type == domain.AuthSignedOut {
		h.evict(userID)
	}
}

// EvictIdle removes entries not seen within the ttl. Run from a ticker.
func (h *Hub) EvictIdle(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)

	h.mu.Lock()
	var stale []string
	for id, e := range h.entries {
		if e.lastSeen.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	h.mu.Unlock()

	for _, id := range stale {
		h.evict(id)
	}
	if len(stale) > 0 {
		h.logger.Info("hub: evicted idle entries", zap.Int("count", len(stale)))
	}
	return len(stale)
}

// Close tears down every entry.
func (h *Hub) Close() {
	h.mu.Lock()
	entries := h.entries
	h.entries = make(map[string]*Entry)
	h.mu.Unlock()

	for _, e := range entries {
		e.Loader.Close()
	}
}

// newEntryLocked builds a manager/loader pair. Callers hold h.mu.
func (h *Hub) newEntryLocked(userID string) *Entry {
	loader := aggregate.NewLoader(h.profiles, h.submissions, h.orders, h.crm, h.metrics, h.logger, h.loaderOpts...)
	mgr := session.NewManager(h.gateway, h.roles, h.roleCache, h.metrics, h.logger)
	mgr.AttachSink(loader)

	e := &Entry{Manager: mgr, Loader: loader, lastSeen: time.Now()}
	h.entries[userID] = e
	h.logger.Debug("hub: created entry", zap.String("user_id", userID))
	return e
}

func (h *Hub) evict(userID string) {
	h.mu.Lock()
	e, ok := h.entries[userID]
	if ok {
		delete(h.entries, userID)
	}
	h.mu.Unlock()

	if ok {
		e.Loader.Close()
		h.logger.Debug("hub: evicted entry", zap.String("user_id", userID))
	}
}
