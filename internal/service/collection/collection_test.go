package collection_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/helixlife/portal-bff-go/internal/domain"
	"github.com/helixlife/portal-bff-go/internal/infra/observability"
	"github.com/helixlife/portal-bff-go/internal/service/collection"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- Mocks ---

// stubFeed hands out a channel the test pushes events into.
type stubFeed struct {
	mu     sync.Mutex
	events chan domain.ChangeEvent
	closed bool
}

func newStubFeed() *stubFeed {
	return &stubFeed{events: make(chan domain.ChangeEvent, 16)}
}

func (s *stubFeed) Subscribe(_ context.Context, _ string) (<-chan domain.ChangeEvent, func(), error) {
	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.closed {
			s.closed = true
			close(s.events)
		}
	}
	return s.events, cancel, nil
}

func (s *stubFeed) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *stubFeed) push(t *testing.T, eventType string, record any) {
	t.Helper()
	raw, err := json.Marshal(record)
	require.NoError(t, err)
	s.events <- domain.ChangeEvent{Type: eventType, Table: "clients", Record: raw}
}

// fetchStore tracks how often the full fetch runs.
type fetchStore struct {
	mu      sync.Mutex
	rows    []domain.Client
	fetches int
}

func (f *fetchStore) fetch(_ context.Context) ([]domain.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	return append([]domain.Client(nil), f.rows...), nil
}

func (f *fetchStore) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

type silentNotifier struct{}

func (silentNotifier) Success(string) {}
func (silentNotifier) Error(string)   {}

func newClientCollection(store *fetchStore, feed *stubFeed, match func(domain.Client) bool) *collection.Collection[domain.Client] {
	cfg := collection.Config[domain.Client]{
		Table: "clients",
		Fetch: store.fetch,
		ID:    func(c domain.Client) string { return c.ID },
		Match: match,
		Create: func(_ context.Context, c domain.Client) (domain.Client, error) {
			return c, nil
		},
		Update: func(_ context.Context, _ string, _ map[string]any) error { return nil },
		Delete: func(_ context.Context, _ string) error { return nil },
	}
	var f = feed
	if f == nil {
		return collection.New(cfg, nil, silentNotifier{}, observability.NewMetrics(), zap.NewNop())
	}
	return collection.New(cfg, f, silentNotifier{}, observability.NewMetrics(), zap.NewNop())
}

// --- Tests ---

func TestCollection_FetchReplacesAll(t *testing.T) {
	store := &fetchStore{rows: []domain.Client{{ID: "c1"}, {ID: "c2"}}}
	col := newClientCollection(store, nil, nil)

	require.NoError(t, col.Fetch(context.Background()))
	assert.Len(t, col.Items(), 2)

	store.mu.Lock()
	store.rows = []domain.Client{{ID: "c3"}}
	store.mu.Unlock()

	require.NoError(t, col.Fetch(context.Background()))
	items := col.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "c3", items[0].ID)
}

func TestCollection_InsertDeltaPrepends(t *testing.T) {
	store := &fetchStore{rows: []domain.Client{{ID: "c1"}}}
	feed := newStubFeed()
	col := newClientCollection(store, feed, nil)
	defer col.Close()

	require.NoError(t, col.Fetch(context.Background()))
	require.NoError(t, col.Subscribe(context.Background()))

	feed.push(t, domain.FeedInsert, domain.Client{ID: "c-new", FullName: "New Client"})

	require.Eventually(t, func() bool {
		return len(col.Items()) == 2
	}, time.Second, 5*time.Millisecond)

	items := col.Items()
	assert.Equal(t, "c-new", items[0].ID, "insert delta must prepend")
	assert.Equal(t, 1, store.fetchCount(), "deltas must never trigger a refetch")
}

func TestCollection_InsertDeltaRespectsScopeFilter(t *testing.T) {
	store := &fetchStore{}
	feed := newStubFeed()
	match := func(c domain.Client) bool { return c.Status == "active" }
	col := newClientCollection(store, feed, match)
	defer col.Close()

	require.NoError(t, col.Subscribe(context.Background()))

	feed.push(t, domain.FeedInsert, domain.Client{ID: "c-out", Status: "archived"})
	feed.push(t, domain.FeedInsert, domain.Client{ID: "c-in", Status: "active"})

	require.Eventually(t, func() bool {
		return len(col.Items()) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, "c-in", col.Items()[0].ID)
}

func TestCollection_UpdateDeltaReplacesInPlace(t *testing.T) {
	store := &fetchStore{rows: []domain.Client{{ID: "c1", FullName: "Old"}, {ID: "c2"}}}
	feed := newStubFeed()
	col := newClientCollection(store, feed, nil)
	defer col.Close()

	require.NoError(t, col.Fetch(context.Background()))
	require.NoError(t, col.Subscribe(context.Background()))

	feed.push(t, domain.FeedUpdate, domain.Client{ID: "c1", FullName: "Updated"})

	require.Eventually(t, func() bool {
		items := col.Items()
		return len(items) == 2 && items[0].FullName == "Updated"
	}, time.Second, 5*time.Millisecond)

	// Position preserved, nothing duplicated.
	items := col.Items()
	assert.Equal(t, "c1", items[0].ID)
	assert.Equal(t, "c2", items[1].ID)
}

func TestCollection_DeleteDeltaRemovesExactlyOne(t *testing.T) {
	store := &fetchStore{rows: []domain.Client{{ID: "c1"}, {ID: "c2"}, {ID: "c3"}}}
	feed := newStubFeed()
	col := newClientCollection(store, feed, nil)
	defer col.Close()

	require.NoError(t, col.Fetch(context.Background()))
	require.NoError(t, col.Subscribe(context.Background()))

	feed.push(t, domain.FeedDelete, domain.Client{ID: "c2"})

	require.Eventually(t, func() bool {
		return len(col.Items()) == 2
	}, time.Second, 5*time.Millisecond)

	items := col.Items()
	assert.Equal(t, "c1", items[0].ID)
	assert.Equal(t, "c3", items[1].ID)
}

func TestCollection_WriteRefetchesOnlyWhenUnsubscribed(t *testing.T) {
	store := &fetchStore{}
	feed := newStubFeed()
	col := newClientCollection(store, feed, nil)

	// Unsubscribed: a write converges by refetch.
	require.NoError(t, col.Create(context.Background(), domain.Client{ID: "c1"}))
	assert.Equal(t, 1, store.fetchCount())

	// Subscribed: the delta will arrive, no refetch.
	require.NoError(t, col.Subscribe(context.Background()))
	require.NoError(t, col.Create(context.Background(), domain.Client{ID: "c2"}))
	assert.Equal(t, 1, store.fetchCount())

	col.Close()
}

func TestCollection_SetScopeTearsDownSubscription(t *testing.T) {
	store := &fetchStore{}
	feed := newStubFeed()
	match := func(c domain.Client) bool { return c.Status == "active" }
	col := newClientCollection(store, feed, match)

	require.NoError(t, col.Subscribe(context.Background()))

	feed.push(t, domain.FeedInsert, domain.Client{ID: "c-old", Status: "active"})
	require.Eventually(t, func() bool {
		return len(col.Items()) == 1
	}, time.Second, 5*time.Millisecond)

	// Narrowing the scope must tear the subscription down so deltas for the
	// old scope can never land in the new one.
	col.SetScope(func(c domain.Client) bool { return c.Status == "archived" })
	require.True(t, feed.isClosed(), "old subscription must be gone after a scope change")

	// Unsubscribed again: a write converges by refetch under the new scope.
	store.mu.Lock()
	store.rows = []domain.Client{{ID: "c-arch", Status: "archived"}}
	store.mu.Unlock()

	require.NoError(t, col.Create(context.Background(), domain.Client{ID: "c-arch", Status: "archived"}))
	assert.Equal(t, 1, store.fetchCount())

	items := col.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "c-arch", items[0].ID)
}

func TestCollection_CloseTearsDownSubscription(t *testing.T) {
	store := &fetchStore{}
	feed := newStubFeed()
	col := newClientCollection(store, feed, nil)

	require.NoError(t, col.Subscribe(context.Background()))
	col.Close()

	// After Close the write path must refetch again.
	require.NoError(t, col.Create(context.Background(), domain.Client{ID: "c1"}))
	assert.Equal(t, 1, store.fetchCount())
}

func TestCollection_NilFeedDisablesRealtime(t *testing.T) {
	store := &fetchStore{}
	col := newClientCollection(store, nil, nil)

	require.NoError(t, col.Subscribe(context.Background()))
	require.NoError(t, col.Create(context.Background(), domain.Client{ID: "c1"}))
	assert.Equal(t, 1, store.fetchCount(), "writes without a feed converge by refetch")
}
