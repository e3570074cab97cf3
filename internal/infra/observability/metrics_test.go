package observability_test

import (
	"testing"
	"time"

	"github.com/helixlife/portal-bff-go/internal/infra/observability"
)

func TestMetrics_PortalSnapshotCountsAllErrorSources(t *testing.T) {
	m := observability.NewMetrics()

	m.IncrExternalError("supabase")
	m.IncrExternalError("role")
	m.RecordFetchCycle("committed", 10*time.Millisecond)
	m.IncrCheckout("started")
	m.IncrCheckout("failed")

	snap := m.GetPortalSnapshot()

	// Errors from every source count, not just the gateway label.
	if snap.ExternalErrors != 2 {
		t.Errorf("expected 2 external errors, got %d", snap.ExternalErrors)
	}
	if snap.FetchCycles != 1 {
		t.Errorf("expected 1 fetch cycle, got %d", snap.FetchCycles)
	}
	if snap.CheckoutsStarted != 1 || snap.CheckoutsFailed != 1 {
		t.Errorf("unexpected checkout counters: %+v", snap)
	}
}

func TestMetrics_CacheHitRate(t *testing.T) {
	m := observability.NewMetrics()

	m.IncrCacheHit("role")
	m.IncrCacheHit("role")
	m.IncrCacheMiss("role")

	snap := m.GetPortalSnapshot()
	if snap.CacheHitRate < 0.66 || snap.CacheHitRate > 0.67 {
		t.Errorf("expected hit rate ~2/3, got %f", snap.CacheHitRate)
	}
}
