// Package aggregate builds the merged profile view for one authenticated
// session: profile, membership, purchases, submissions, documents and
// orders, fetched concurrently and committed as a single snapshot.
package aggregate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/helixlife/portal-bff-go/internal/domain"
	"github.com/helixlife/portal-bff-go/internal/infra/observability"
	"github.com/helixlife/portal-bff-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("service/aggregate")

// Fetch cycle outcomes recorded in metrics.
const (
	outcomeCommitted  = "committed"
	outcomeSuperseded = "superseded"
	outcomeFailed     = "failed"
	outcomeTimeout    = "timeout"
)

// cycle identifies one fetch attempt. The pointer itself is the identity
// checked before any commit: a cycle may only touch state while it is still
// the loader's current cycle.
type cycle struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Loader owns the aggregated profile view for one user session.
// At most one fetch cycle is live at a time; superseded cycles are
// cancelled and their late results discarded.
type Loader struct {
	profiles      port.ProfileStore
	submissions   port.SubmissionStore
	orders        port.OrderStore
	crm           port.CRMStore
	metrics       *observability.Metrics
	logger        *zap.Logger
	timeout       time.Duration
	purchaseLimit int

	mu        sync.Mutex
	sess      *domain.Session
	cur       *cycle
	snap      domain.AggregatedProfile
	listeners []func(domain.AggregatedProfile)
	wg        sync.WaitGroup
}

// Option tweaks loader construction.
type Option func(*Loader)

// WithTimeout overrides the per-cycle wall-clock budget (default 15s).
func WithTimeout(d time.Duration) Option {
	return func(l *Loader) { l.timeout = d }
}

// WithPurchaseLimit overrides the recent-purchases cap (default 10).
func WithPurchaseLimit(n int) Option {
	return func(l *Loader) { l.purchaseLimit = n }
}

// NewLoader creates a loader with all dependencies injected.
func NewLoader(
	profiles port.ProfileStore,
	submissions port.SubmissionStore,
	orders port.OrderStore,
	crm port.CRMStore,
	metrics *observability.Metrics,
	logger *zap.Logger,
	opts ...Option,
) *Loader {
	l := &Loader{
		profiles:      profiles,
		submissions:   submissions,
		orders:        orders,
		crm:           crm,
		metrics:       metrics,
		logger:        logger,
		timeout:       15 * time.Second,
		purchaseLimit: 10,
		snap:          emptySnapshot(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetSession reacts to a session identity change. A nil session tears the
// view down: any in-flight cycle is cancelled and all fields are cleared.
// A non-nil session cancels the previous cycle and starts a fresh one.
func (l *Loader) SetSession(sess *domain.Session) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cur != nil {
		l.cur.cancel()
		l.cur = nil
	}
	l.sess = sess

	if sess == nil {
		l.snap = emptySnapshot()
		l.notifyLocked()
		return
	}

	l.startCycleLocked(sess)
}

// Refresh triggers a new fetch cycle unconditionally.
func (l *Loader) Refresh() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cur != nil {
		l.cur.cancel()
		l.cur = nil
	}
	if l.sess == nil {
		l.snap = emptySnapshot()
		l.notifyLocked()
		return
	}
	l.startCycleLocked(l.sess)
}

// Snapshot returns the current aggregated view.
func (l *Loader) Snapshot() domain.AggregatedProfile {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snap
}

// OnChange registers a listener invoked after every snapshot change.
// Listeners run synchronously and must not call back into the loader.
func (l *Loader) OnChange(fn func(domain.AggregatedProfile)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// Close cancels any in-flight cycle and waits for it to wind down.
func (l *Loader) Close() {
	l.mu.Lock()
	if l.cur != nil {
		l.cur.cancel()
		l.cur = nil
	}
	l.sess = nil
	l.mu.Unlock()
	l.wg.Wait()
}

// startCycleLocked arms the timeout guard and launches the cycle goroutine.
// Callers hold l.mu.
func (l *Loader) startCycleLocked(sess *domain.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	c := &cycle{ctx: ctx, cancel: cancel}
	l.cur = c
	l.snap.Loading = true
	l.notifyLocked()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.run(c, sess)
	}()
}

// run executes one fetch cycle: two concurrent batches, then a commit
// guarded by the cycle-identity check.
func (l *Loader) run(c *cycle, sess *domain.Session) {
	start := time.Now()
	outcome := outcomeFailed
	defer func() {
		c.cancel()
		// Cleanup: if this cycle is still current (it finished without being
		// superseded), clear loading and mark the view initialized.
		l.mu.Lock()
		if l.cur == c {
			l.cur = nil
			l.snap.Loading = false
			l.snap.Initialized = true
			l.notifyLocked()
		}
		l.mu.Unlock()
		l.metrics.RecordFetchCycle(outcome, time.Since(start))
	}()

	ctx, span := tracer.Start(c.ctx, "Loader.FetchCycle")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", sess.UserID))

	// --- Batch 1: session-scoped reads, all concurrent ---
	var (
		profile     *domain.Profile
		submissions []domain.Submission
		orders      []domain.Order
		client      *domain.Client
	)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		p, err := l.profiles.GetProfile(gCtx, sess.UserID)
		if err != nil {
			return err
		}
		profile = p
		return nil
	})

	g.Go(func() error {
		s, err := l.submissions.ListSubmissions(gCtx, sess.UserID)
		if err != nil {
			return err
		}
		submissions = s
		return nil
	})

	g.Go(func() error {
		o, err := l.orders.ListOrders(gCtx, sess.UserID)
		if err != nil {
			return err
		}
		orders = o
		return nil
	})

	g.Go(func() error {
		// A missing client link is not an error; it just means the
		// client-scoped batch is skipped.
		cl, err := l.crm.FindClientByUserID(gCtx, sess.UserID)
		if err != nil {
			return err
		}
		client = cl
		return nil
	})

	if err := g.Wait(); err != nil {
		outcome = l.failureOutcome(c, err, "batch1")
		return
	}

	// --- Batch 2: client-scoped reads, only with a linked client record ---
	var (
		membership *domain.Membership
		purchases  []domain.Purchase
		documents  []domain.Document
	)

	if client != nil {
		g2, g2Ctx := errgroup.WithContext(ctx)

		g2.Go(func() error {
			m, err := l.crm.GetActiveMembership(g2Ctx, client.ID)
			if err != nil {
				return err
			}
			membership = m
			return nil
		})

		g2.Go(func() error {
			p, err := l.crm.ListRecentPurchases(g2Ctx, client.ID, l.purchaseLimit)
			if err != nil {
				return err
			}
			purchases = p
			return nil
		})

		g2.Go(func() error {
			d, err := l.crm.ListSharedDocuments(g2Ctx, client.ID)
			if err != nil {
				return err
			}
			documents = d
			return nil
		})

		if err := g2.Wait(); err != nil {
			outcome = l.failureOutcome(c, err, "batch2")
			return
		}
	}

	// --- Commit, only if this cycle is still the current one ---
	l.mu.Lock()
	if l.cur != c {
		l.mu.Unlock()
		l.metrics.IncrStaleCommitDropped()
		l.logger.Debug("aggregate: discarding superseded cycle results",
			zap.String("user_id", sess.UserID),
		)
		outcome = outcomeSuperseded
		return
	}

	l.cur = nil
	l.snap = domain.AggregatedProfile{
		Profile:         profile,
		Membership:      membership,
		Purchases:       orEmpty(purchases),
		Submissions:     orEmpty(submissions),
		Documents:       orEmpty(documents),
		Orders:          orEmpty(orders),
		AssignedCoaches: domain.AssignedCoachesOf(submissions),
		Loading:         false,
		Initialized:     true,
	}
	l.notifyLocked()
	l.mu.Unlock()

	outcome = outcomeCommitted
}

// failureOutcome classifies a batch failure. Cancellation is not an error:
// a superseded cycle stays silent, a timed-out one logs a warning, and
// anything else is logged without retry — the only recovery paths are a
// manual refresh or the next session change.
func (l *Loader) failureOutcome(c *cycle, err error, batch string) string {
	if ctxErr := c.ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			l.logger.Warn("aggregate: fetch cycle timed out",
				zap.String("batch", batch),
				zap.Duration("timeout", l.timeout),
			)
			return outcomeTimeout
		}
		return outcomeSuperseded
	}

	l.logger.Error("aggregate: fetch cycle failed",
		zap.String("batch", batch),
		zap.Error(err),
	)
	l.metrics.IncrExternalError("supabase")
	return outcomeFailed
}

// notifyLocked invokes listeners with a copy of the snapshot. Callers hold l.mu.
func (l *Loader) notifyLocked() {
	snap := l.snap
	for _, fn := range l.listeners {
		fn(snap)
	}
}

func emptySnapshot() domain.AggregatedProfile {
	return domain.AggregatedProfile{
		Purchases:       []domain.Purchase{},
		Submissions:     []domain.Submission{},
		Documents:       []domain.Document{},
		Orders:          []domain.Order{},
		AssignedCoaches: []domain.CoachAssignment{},
	}
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
