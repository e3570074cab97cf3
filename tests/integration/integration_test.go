package integration_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/helixlife/portal-bff-go/internal/config"
	"github.com/helixlife/portal-bff-go/internal/domain"
	"github.com/helixlife/portal-bff-go/internal/handler"
	"github.com/helixlife/portal-bff-go/internal/infra/cache"
	"github.com/helixlife/portal-bff-go/internal/infra/cartfile"
	"github.com/helixlife/portal-bff-go/internal/infra/observability"
	"github.com/helixlife/portal-bff-go/internal/infra/resilience"
	"github.com/helixlife/portal-bff-go/internal/infra/supabase"
	"github.com/helixlife/portal-bff-go/internal/service/cart"
	"github.com/helixlife/portal-bff-go/internal/service/collection"
	"github.com/helixlife/portal-bff-go/internal/service/hub"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	integrationSecret = "integration-secret"
	integrationUserID = "user-int-1"
)

// newGatewayMock serves the slice of the Supabase API the portal touches:
// GoTrue password grant, PostgREST table reads/writes and edge functions.
func newGatewayMock(t *testing.T) *httptest.Server {
	t.Helper()

	accessToken := func() string {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject:   integrationUserID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		})
		signed, err := tok.SignedString([]byte(integrationSecret))
		if err != nil {
			t.Fatalf("sign token: %v", err)
		}
		return signed
	}()

	writeRows := func(w http.ResponseWriter, rows any) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rows)
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		// --- GoTrue ---
		case strings.HasPrefix(r.URL.Path, "/auth/v1/token"):
			writeRows(w, map[string]any{
				"access_token":  accessToken,
				"refresh_token": "refresh-int-1",
				"expires_in":    3600,
				"user":          map[string]string{"id": integrationUserID, "email": "int@example.com"},
			})
		case strings.HasPrefix(r.URL.Path, "/auth/v1/user"):
			w.WriteHeader(http.StatusUnauthorized)
		case strings.HasPrefix(r.URL.Path, "/auth/v1/logout"):
			w.WriteHeader(http.StatusNoContent)

		// --- PostgREST ---
		case strings.HasPrefix(r.URL.Path, "/rest/v1/profiles"):
			writeRows(w, []map[string]any{{
				"user_id":   integrationUserID,
				"full_name": "Ingrid Integration",
				"email":     "int@example.com",
			}})
		case strings.HasPrefix(r.URL.Path, "/rest/v1/user_roles"):
			writeRows(w, []any{}) // no row: plain client
		case strings.HasPrefix(r.URL.Path, "/rest/v1/submissions"):
			writeRows(w, []map[string]any{{
				"id":         "sub-int-1",
				"user_id":    integrationUserID,
				"status":     domain.SubmissionAssigned,
				"specialty":  "nutrition",
				"updated_at": time.Now().Format(time.RFC3339),
			}})
		case strings.HasPrefix(r.URL.Path, "/rest/v1/crm_clients"):
			writeRows(w, []any{}) // no CRM link: loader skips client batch
		case strings.HasPrefix(r.URL.Path, "/rest/v1/orders"):
			if r.Method == http.MethodPost {
				var row map[string]any
				json.NewDecoder(r.Body).Decode(&row)
				row["id"] = "ord-int-1"
				w.WriteHeader(http.StatusCreated)
				writeRows(w, []map[string]any{row})
				return
			}
			writeRows(w, []any{})
		case strings.HasPrefix(r.URL.Path, "/rest/v1/order_items"):
			w.WriteHeader(http.StatusCreated)
			writeRows(w, []any{})

		// --- Edge functions ---
		case strings.HasPrefix(r.URL.Path, "/functions/v1/create-payment-session"):
			writeRows(w, map[string]string{
				"url":      "https://pay.example/int-session",
				"order_id": "ord-int-1",
			})

		default:
			t.Logf("gateway mock: unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func newPortal(t *testing.T, gatewayURL string) http.Handler {
	t.Helper()

	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	cb := resilience.NewCircuitBreaker("integration")
	rcfg := resilience.Config{MaxRetries: 1, InitialBackoff: 10 * time.Millisecond, MaxConcurrency: 10}
	httpClient := &http.Client{Timeout: 5 * time.Second}

	gw := supabase.NewClient(httpClient, gatewayURL, "anon-key", "service-key", cb, rcfg, logger)

	cartStore, err := cartfile.New(t.TempDir())
	if err != nil {
		t.Fatalf("cart store: %v", err)
	}
	cartSvc := cart.NewService(cartStore, logger)
	checkoutSvc := cart.NewCheckout(gw, gw, cartSvc, metrics, logger)

	roleCache := cache.New[string](time.Minute)
	userHub := hub.New(gw, gw, roleCache, gw, gw, gw, gw, metrics, logger)
	t.Cleanup(userHub.Close)

	notifier := &collection.LogNotifier{Logger: logger}
	clientsCol := collection.New(collection.Config[domain.Client]{
		Table: "crm_clients",
		Fetch: gw.ListClients,
		ID:    func(c domain.Client) string { return c.ID },
	}, nil, notifier, metrics, logger)
	membershipsCol := collection.New(collection.Config[domain.Membership]{
		Table: "memberships",
		Fetch: gw.ListMemberships,
		ID:    func(m domain.Membership) string { return m.ID },
	}, nil, notifier, metrics, logger)

	cfg := config.Load()
	cfg.SupabaseURL = gatewayURL
	cfg.SupabaseJWTSecret = integrationSecret

	return handler.NewRouter(handler.Deps{
		Cfg:         cfg,
		Hub:         userHub,
		Carts:       cartSvc,
		Checkout:    checkoutSvc,
		Gateway:     gw,
		CRM:         gw,
		Objects:     gw,
		Clients:     clientsCol,
		Memberships: membershipsCol,
		Metrics:     metrics,
		Logger:      logger,
	})
}

// TestIntegration_SignInOverviewCheckout walks the portal's main path against
// a mocked gateway: password sign-in, aggregated overview, cart, checkout.
func TestIntegration_SignInOverviewCheckout(t *testing.T) {
	gateway := newGatewayMock(t)
	defer gateway.Close()

	router := newPortal(t, gateway.URL)

	// --- Sign in ---
	body, _ := json.Marshal(map[string]string{"email": "int@example.com", "password": "secret"})
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/signin", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("signin: expected 200, got %d. Body: %s", rec.Code, rec.Body.String())
	}
	var sess domain.Session
	if err := json.NewDecoder(rec.Body).Decode(&sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if sess.UserID != integrationUserID || sess.AccessToken == "" {
		t.Fatalf("unexpected session: %+v", sess)
	}
	authed := func(method, path string, payload any) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if payload != nil {
			json.NewEncoder(&buf).Encode(payload)
		}
		r := httptest.NewRequest(method, path, &buf)
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set("Authorization", "Bearer "+sess.AccessToken)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, r)
		return rec
	}

	// --- Aggregated overview: poll until the background fetch commits ---
	var snap domain.AggregatedProfile
	deadline := time.Now().Add(3 * time.Second)
	for {
		rec := authed(http.MethodGet, "/v1/me/overview", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("overview: expected 200, got %d. Body: %s", rec.Code, rec.Body.String())
		}
		if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
			t.Fatalf("decode overview: %v", err)
		}
		if snap.Initialized && !snap.Loading {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("overview never initialized: %+v", snap)
		}
		time.Sleep(20 * time.Millisecond)
	}

	if snap.Profile == nil || snap.Profile.FullName != "Ingrid Integration" {
		t.Fatalf("expected profile from gateway, got %+v", snap.Profile)
	}
	if len(snap.AssignedCoaches) != 1 || snap.AssignedCoaches[0].Specialty != "nutrition" {
		t.Errorf("expected one nutrition coach assignment, got %+v", snap.AssignedCoaches)
	}
	if snap.Membership != nil {
		t.Errorf("expected no membership without a CRM link, got %+v", snap.Membership)
	}

	// --- Cart & checkout ---
	rec = authed(http.MethodPost, "/v1/cart/items", domain.CartItem{
		VariantID: "v-int-1",
		Title:     "Methylation Test Kit",
		UnitPrice: 199,
		Quantity:  1,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("add item: expected 200, got %d. Body: %s", rec.Code, rec.Body.String())
	}

	rec = authed(http.MethodPost, "/v1/checkout", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout: expected 201, got %d. Body: %s", rec.Code, rec.Body.String())
	}
	var result domain.CheckoutResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("decode checkout result: %v", err)
	}
	if result.OrderID != "ord-int-1" {
		t.Errorf("expected order ord-int-1, got %q", result.OrderID)
	}
	if result.RedirectURL != "https://pay.example/int-session" {
		t.Errorf("expected payment redirect, got %q", result.RedirectURL)
	}
}

// TestIntegration_GatewayDownDegradesGracefully points the portal at a dead
// gateway: sign-in fails upstream, but operational endpoints stay up.
func TestIntegration_GatewayDownDegradesGracefully(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	dead.Close() // connection refused from here on

	router := newPortal(t, dead.URL)

	body, _ := json.Marshal(map[string]string{"email": "x@example.com", "password": "y"})
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/signin", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("signin against dead gateway: expected 502, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("readyz: expected 200, got %d", rec.Code)
	}
}
