// Package collection keeps a local copy of a remote table in sync, either
// by full refetch or by applying change-feed deltas. One Collection serves
// one entity type (CRM clients, memberships, purchases).
package collection

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/helixlife/portal-bff-go/internal/domain"
	"github.com/helixlife/portal-bff-go/internal/infra/observability"
	"github.com/helixlife/portal-bff-go/internal/port"

	"go.uber.org/zap"
)

// Notifier surfaces write outcomes to the user (the toast analog).
type Notifier interface {
	Success(msg string)
	Error(msg string)
}

// LogNotifier is a zap-backed Notifier for headless contexts.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n *LogNotifier) Success(msg string) { n.Logger.Info("notify: " + msg) }
func (n *LogNotifier) Error(msg string)   { n.Logger.Warn("notify: " + msg) }

// Config wires one entity type into a Collection.
type Config[T any] struct {
	// Table is the remote table name, also the feed subject suffix.
	Table string

	// Fetch replaces the whole collection, newest-first.
	Fetch func(ctx context.Context) ([]T, error)

	// ID extracts the record id used to match deltas.
	ID func(T) string

	// Match is the scope filter applied to insert deltas. Nil matches all.
	Match func(T) bool

	// Optional write-through operations.
	Create func(ctx context.Context, item T) (T, error)
	Update func(ctx context.Context, id string, updates map[string]any) error
	Delete func(ctx context.Context, id string) error
}

// Collection is a realtime-aware local copy of one remote table.
type Collection[T any] struct {
	cfg      Config[T]
	feed     port.ChangeFeed
	notifier Notifier
	metrics  *observability.Metrics
	logger   *zap.Logger

	mu         sync.RWMutex
	items      []T
	loading    bool
	subscribed bool
	unsub      func()
	done       chan struct{}
}

// New creates a collection. Pass a nil feed to disable realtime deltas;
// writes then converge by full refetch.
func New[T any](cfg Config[T], feed port.ChangeFeed, notifier Notifier, metrics *observability.Metrics, logger *zap.Logger) *Collection[T] {
	return &Collection[T]{
		cfg:      cfg,
		feed:     feed,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
		items:    []T{},
	}
}

// Fetch replaces the entire local collection with a fresh full read.
func (c *Collection[T]) Fetch(ctx context.Context) error {
	c.mu.Lock()
	c.loading = true
	c.mu.Unlock()

	rows, err := c.cfg.Fetch(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loading = false
	if err != nil {
		c.logger.Error("collection: fetch failed",
			zap.String("table", c.cfg.Table),
			zap.Error(err),
		)
		return err
	}
	if rows == nil {
		rows = []T{}
	}
	c.items = rows
	return nil
}

// Items returns a copy of the local collection.
func (c *Collection[T]) Items() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]T(nil), c.items...)
}

// Loading reports whether a full read is in flight.
func (c *Collection[T]) Loading() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loading
}

// Subscribe starts applying change-feed deltas for the table. Deltas never
// trigger a refetch — that would defeat the purpose of the subscription.
func (c *Collection[T]) Subscribe(ctx context.Context) error {
	if c.feed == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribed {
		return nil
	}

	events, unsub, err := c.feed.Subscribe(ctx, c.cfg.Table)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", c.cfg.Table, err)
	}

	done := make(chan struct{})
	c.subscribed = true
	c.unsub = unsub
	c.done = done

	go func() {
		defer close(done)
		for evt := range events {
			c.apply(evt)
		}
	}()

	return nil
}

// SetScope swaps the scope filter. Any active subscription is torn down
// first so deltas for the old scope can never land in the new one; the
// caller re-subscribes and refetches.
func (c *Collection[T]) SetScope(match func(T) bool) {
	c.mu.Lock()
	unsub, done := c.teardownLocked()
	c.cfg.Match = match
	c.mu.Unlock()

	waitTeardown(unsub, done)
}

// Close tears down the subscription.
func (c *Collection[T]) Close() {
	c.mu.Lock()
	unsub, done := c.teardownLocked()
	c.mu.Unlock()

	waitTeardown(unsub, done)
}

func (c *Collection[T]) teardownLocked() (func(), chan struct{}) {
	if !c.subscribed {
		return nil, nil
	}
	c.subscribed = false
	unsub := c.unsub
	done := c.done
	c.unsub = nil
	c.done = nil
	return unsub, done
}

func waitTeardown(unsub func(), done chan struct{}) {
	if unsub == nil {
		return
	}
	unsub()
	if done != nil {
		<-done
	}
}

// apply folds one delta into the local collection.
func (c *Collection[T]) apply(evt domain.ChangeEvent) {
	var rec T
	if err := json.Unmarshal(evt.Record, &rec); err != nil {
		c.logger.Warn("collection: dropping undecodable delta",
			zap.String("table", c.cfg.Table),
			zap.String("type", evt.Type),
			zap.Error(err),
		)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch evt.Type {
	case domain.FeedInsert:
		// Prepend, but only when the record passes the active scope filter.
		if c.cfg.Match != nil && !c.cfg.Match(rec) {
			return
		}
		c.items = append([]T{rec}, c.items...)

	case domain.FeedUpdate:
		id := c.cfg.ID(rec)
		for i := range c.items {
			if c.cfg.ID(c.items[i]) == id {
				c.items[i] = rec // in place, same position
				break
			}
		}

	case domain.FeedDelete:
		id := c.cfg.ID(rec)
		for i := range c.items {
			if c.cfg.ID(c.items[i]) == id {
				c.items = append(c.items[:i], c.items[i+1:]...)
				break
			}
		}

	default:
		c.logger.Warn("collection: unknown delta type",
			zap.String("table", c.cfg.Table),
			zap.String("type", evt.Type),
		)
		return
	}

	c.metrics.IncrFeedEvent(c.cfg.Table, evt.Type)
}

// Create writes a new record through the store. Without an active
// subscription the only way to learn the write's effect is to re-read, so
// the collection refetches; with one, the insert delta will arrive.
func (c *Collection[T]) Create(ctx context.Context, item T) error {
	if c.cfg.Create == nil {
		return &domain.ErrValidation{Field: "operation", Message: "create not supported for " + c.cfg.Table}
	}

	if _, err := c.cfg.Create(ctx, item); err != nil {
		c.notifier.Error("could not create " + c.cfg.Table + " record")
		return err
	}
	c.notifier.Success(c.cfg.Table + " record created")

	return c.convergeAfterWrite(ctx)
}

// UpdateByID patches a record through the store.
func (c *Collection[T]) UpdateByID(ctx context.Context, id string, updates map[string]any) error {
	if c.cfg.Update == nil {
		return &domain.ErrValidation{Field: "operation", Message: "update not supported for " + c.cfg.Table}
	}

	if err := c.cfg.Update(ctx, id, updates); err != nil {
		c.notifier.Error("could not update " + c.cfg.Table + " record")
		return err
	}
	c.notifier.Success(c.cfg.Table + " record updated")

	return c.convergeAfterWrite(ctx)
}

// DeleteByID removes a record through the store.
func (c *Collection[T]) DeleteByID(ctx context.Context, id string) error {
	if c.cfg.Delete == nil {
		return &domain.ErrValidation{Field: "operation", Message: "delete not supported for " + c.cfg.Table}
	}

	if err := c.cfg.Delete(ctx, id); err != nil {
		c.notifier.Error("could not delete " + c.cfg.Table + " record")
		return err
	}
	c.notifier.Success(c.cfg.Table + " record deleted")

	return c.convergeAfterWrite(ctx)
}

func (c *Collection[T]) convergeAfterWrite(ctx context.Context) error {
	c.mu.RLock()
	subscribed := c.subscribed
	c.mu.RUnlock()

	if subscribed {
		return nil
	}
	return c.Fetch(ctx)
}
