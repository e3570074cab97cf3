package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/helixlife/portal-bff-go/internal/config"
	"github.com/helixlife/portal-bff-go/internal/domain"
	"github.com/helixlife/portal-bff-go/internal/handler"
	"github.com/helixlife/portal-bff-go/internal/infra/cartfile"
	"github.com/helixlife/portal-bff-go/internal/infra/observability"
	"github.com/helixlife/portal-bff-go/internal/service/cart"
	"github.com/helixlife/portal-bff-go/internal/service/collection"
	"github.com/helixlife/portal-bff-go/internal/service/hub"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const testJWTSecret = "test-secret"

// fakeBackend implements every gateway-facing port the router needs.
type fakeBackend struct {
	roles   map[string]string
	clients []domain.Client
}

// AuthGateway
func (f *fakeBackend) GetSession(_ context.Context, _ string) (*domain.Session, error) {
	return nil, nil
}
func (f *fakeBackend) SignIn(_ context.Context, email, _ string) (*domain.Session, error) {
	return &domain.Session{UserID: "user-signin", AccessToken: "tok", Email: email}, nil
}
func (f *fakeBackend) SignUp(_ context.Context, email, _ string) (*domain.Session, error) {
	return &domain.Session{UserID: "user-signup", AccessToken: "tok", Email: email}, nil
}
func (f *fakeBackend) SignOut(_ context.Context, _ string) error { return nil }
func (f *fakeBackend) RefreshSession(_ context.Context, _ string) (*domain.Session, error) {
	return &domain.Session{UserID: "user-signin", AccessToken: "tok-2"}, nil
}

// RoleStore
func (f *fakeBackend) GetRole(_ context.Context, userID string) (string, error) {
	if role, ok := f.roles[userID]; ok {
		return role, nil
	}
	return domain.RoleClient, nil
}

// ProfileStore / SubmissionStore / OrderStore
func (f *fakeBackend) GetProfile(_ context.Context, userID string) (*domain.Profile, error) {
	return &domain.Profile{UserID: userID, FullName: "Test User"}, nil
}
func (f *fakeBackend) ListSubmissions(_ context.Context, _ string) ([]domain.Submission, error) {
	return nil, nil
}
func (f *fakeBackend) ListOrders(_ context.Context, _ string) ([]domain.Order, error) {
	return nil, nil
}
func (f *fakeBackend) GetOrder(_ context.Context, userID, orderID string) (*domain.Order, error) {
	return &domain.Order{ID: orderID, UserID: userID, Status: domain.OrderPending}, nil
}
func (f *fakeBackend) CreateOrder(_ context.Context, o *domain.Order) (*domain.Order, error) {
	created := *o
	created.ID = "ord-test"
	return &created, nil
}
func (f *fakeBackend) CreateOrderItems(_ context.Context, _ []domain.OrderItem) error { return nil }
func (f *fakeBackend) ListStalePending(_ context.Context, _ time.Time) ([]domain.Order, error) {
	return nil, nil
}
func (f *fakeBackend) MarkAbandoned(_ context.Context, _ string) error { return nil }

// CRMStore
func (f *fakeBackend) FindClientByUserID(_ context.Context, _ string) (*domain.Client, error) {
	return nil, nil
}
func (f *fakeBackend) GetActiveMembership(_ context.Context, _ string) (*domain.Membership, error) {
	return nil, nil
}
func (f *fakeBackend) ListRecentPurchases(_ context.Context, _ string, _ int) ([]domain.Purchase, error) {
	return nil, nil
}
func (f *fakeBackend) ListSharedDocuments(_ context.Context, _ string) ([]domain.Document, error) {
	return nil, nil
}
func (f *fakeBackend) ListClients(_ context.Context) ([]domain.Client, error) {
	return f.clients, nil
}
func (f *fakeBackend) CreateClient(_ context.Context, c *domain.Client) (*domain.Client, error) {
	return c, nil
}
func (f *fakeBackend) UpdateClient(_ context.Context, _ string, _ map[string]any) error { return nil }
func (f *fakeBackend) DeleteClient(_ context.Context, _ string) error                   { return nil }
func (f *fakeBackend) ListMemberships(_ context.Context) ([]domain.Membership, error) {
	return nil, nil
}
func (f *fakeBackend) CreateMembership(_ context.Context, m *domain.Membership) (*domain.Membership, error) {
	return m, nil
}
func (f *fakeBackend) ListPurchases(_ context.Context, _ string) ([]domain.Purchase, error) {
	return nil, nil
}
func (f *fakeBackend) CreatePurchase(_ context.Context, p *domain.Purchase) (*domain.Purchase, error) {
	return p, nil
}
func (f *fakeBackend) CreateDocument(_ context.Context, d *domain.Document) (*domain.Document, error) {
	return d, nil
}
func (f *fakeBackend) GetDocument(_ context.Context, _ string) (*domain.Document, error) {
	return nil, &domain.ErrNotFound{Resource: "document", ID: "x"}
}
func (f *fakeBackend) DeleteDocument(_ context.Context, _ string) error { return nil }

// ObjectStore
func (f *fakeBackend) Upload(_ context.Context, _, _ string, _ []byte, _ string) error { return nil }
func (f *fakeBackend) SignedURL(_ context.Context, _, _ string, _ time.Duration) (string, error) {
	return "https://storage.example/signed", nil
}
func (f *fakeBackend) Delete(_ context.Context, _, _ string) error { return nil }

// FunctionInvoker
func (f *fakeBackend) Invoke(_ context.Context, name string, _ any, out any) error {
	if name == "create-payment-session" && out != nil {
		raw, _ := json.Marshal(map[string]any{"url": "https://pay.example/s1"})
		return json.Unmarshal(raw, out)
	}
	return nil
}

func newTestRouter(t *testing.T, backend *fakeBackend) http.Handler {
	t.Helper()

	logger := zap.NewNop()
	metrics := observability.NewMetrics()

	cartStore, err := cartfile.New(t.TempDir())
	if err != nil {
		t.Fatalf("cart store: %v", err)
	}
	cartSvc := cart.NewService(cartStore, logger)
	checkoutSvc := cart.NewCheckout(backend, backend, cartSvc, metrics, logger)

	userHub := hub.New(backend, backend, nil, backend, backend, backend, backend, metrics, logger)
	t.Cleanup(userHub.Close)

	notifier := &collection.LogNotifier{Logger: logger}
	clientsCol := collection.New(collection.Config[domain.Client]{
		Table: "clients",
		Fetch: backend.ListClients,
		ID:    func(c domain.Client) string { return c.ID },
	}, nil, notifier, metrics, logger)
	membershipsCol := collection.New(collection.Config[domain.Membership]{
		Table: "memberships",
		Fetch: backend.ListMemberships,
		ID:    func(m domain.Membership) string { return m.ID },
	}, nil, notifier, metrics, logger)

	cfg := config.Load()
	cfg.SupabaseJWTSecret = testJWTSecret

	return handler.NewRouter(handler.Deps{
		Cfg:         cfg,
		Hub:         userHub,
		Carts:       cartSvc,
		Checkout:    checkoutSvc,
		Gateway:     backend,
		CRM:         backend,
		Objects:     backend,
		Clients:     clientsCol,
		Memberships: membershipsCol,
		Metrics:     metrics,
		Logger:      logger,
	})
}

func signToken(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func doRequest(router http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// --- Tests ---

func TestRouter_Healthz(t *testing.T) {
	router := newTestRouter(t, &fakeBackend{})

	rec := doRequest(router, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = doRequest(router, http.MethodGet, "/readyz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRouter_ProtectedRoutesRequireToken(t *testing.T) {
	router := newTestRouter(t, &fakeBackend{})

	for _, path := range []string{"/v1/cart", "/v1/me/overview", "/v1/crm/clients"} {
		rec := doRequest(router, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401 without token, got %d", path, rec.Code)
		}
	}
}

func TestRouter_RejectsBadToken(t *testing.T) {
	router := newTestRouter(t, &fakeBackend{})

	rec := doRequest(router, http.MethodGet, "/v1/cart", "not-a-jwt", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for malformed token, got %d", rec.Code)
	}
}

func TestRouter_CartFlow(t *testing.T) {
	router := newTestRouter(t, &fakeBackend{})
	token := signToken(t, "user-1")

	rec := doRequest(router, http.MethodGet, "/v1/cart", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get cart: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	addBody := domain.CartItem{VariantID: "v1", Title: "Omega-3", UnitPrice: 25, Quantity: 2}
	rec = doRequest(router, http.MethodPost, "/v1/cart/items", token, addBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("add item: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var c domain.Cart
	if err := json.NewDecoder(rec.Body).Decode(&c); err != nil {
		t.Fatalf("decode cart: %v", err)
	}
	if len(c.Items) != 1 || c.Items[0].Quantity != 2 {
		t.Fatalf("unexpected cart: %+v", c)
	}
}

func TestRouter_CheckoutReturnsRedirect(t *testing.T) {
	router := newTestRouter(t, &fakeBackend{})
	token := signToken(t, "user-1")

	addBody := domain.CartItem{VariantID: "v1", Title: "Test Kit", UnitPrice: 99, Quantity: 1}
	if rec := doRequest(router, http.MethodPost, "/v1/cart/items", token, addBody); rec.Code != http.StatusOK {
		t.Fatalf("add item failed: %d", rec.Code)
	}

	rec := doRequest(router, http.MethodPost, "/v1/checkout", token, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var result domain.CheckoutResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.RedirectURL == "" || result.OrderID == "" {
		t.Fatalf("expected redirect URL and order id, got %+v", result)
	}
}

func TestRouter_StaffGate(t *testing.T) {
	backend := &fakeBackend{
		roles:   map[string]string{"coach-1": domain.RoleCoach},
		clients: []domain.Client{{ID: "c1", FullName: "Client One"}},
	}
	router := newTestRouter(t, backend)

	// Plain client: denied.
	rec := doRequest(router, http.MethodGet, "/v1/crm/clients", signToken(t, "user-1"), nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-staff, got %d", rec.Code)
	}

	// Coach: allowed.
	rec = doRequest(router, http.MethodGet, "/v1/crm/clients", signToken(t, "coach-1"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for staff, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRouter_OverviewReturnsSnapshot(t *testing.T) {
	router := newTestRouter(t, &fakeBackend{})
	token := signToken(t, "user-1")

	rec := doRequest(router, http.MethodGet, "/v1/me/overview", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var snap domain.AggregatedProfile
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
}

func TestRouter_SignIn(t *testing.T) {
	router := newTestRouter(t, &fakeBackend{})

	rec := doRequest(router, http.MethodPost, "/v1/auth/signin", "", map[string]string{
		"email":    "user@example.com",
		"password": "secret",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var sess domain.Session
	if err := json.NewDecoder(rec.Body).Decode(&sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if sess.UserID == "" || sess.AccessToken == "" {
		t.Fatalf("expected a session, got %+v", sess)
	}

	rec = doRequest(router, http.MethodPost, "/v1/auth/signin", "", map[string]string{"email": "x"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing password, got %d", rec.Code)
	}
}
