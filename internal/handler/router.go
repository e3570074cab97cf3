package handler

import (
	"net/http"

	"github.com/helixlife/portal-bff-go/internal/config"
	"github.com/helixlife/portal-bff-go/internal/domain"
	"github.com/helixlife/portal-bff-go/internal/infra/observability"
	"github.com/helixlife/portal-bff-go/internal/port"
	"github.com/helixlife/portal-bff-go/internal/service/cart"
	"github.com/helixlife/portal-bff-go/internal/service/collection"
	"github.com/helixlife/portal-bff-go/internal/service/hub"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// Deps bundles everything the router needs.
type Deps struct {
	Cfg         *config.Config
	Hub         *hub.Hub
	Carts       *cart.Service
	Checkout    *cart.Checkout
	Gateway     port.AuthGateway
	CRM         port.CRMStore
	Objects     port.ObjectStore
	Clients     *collection.Collection[domain.Client]
	Memberships *collection.Collection[domain.Membership]
	Metrics     *observability.Metrics
	Logger      *zap.Logger
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(d.Logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.Cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(d.Gateway, d.Logger))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(d.Metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {

		// Auth: credential exchange with the gateway, and the event relay
		// the frontend uses to forward gateway auth-state notifications.
		r.Route("/auth", func(r chi.Router) {
			r.Post("/signin", authSignInHandler(d.Gateway, d.Hub, d.Logger))
			r.Post("/signup", authSignUpHandler(d.Gateway, d.Hub, d.Logger))
			r.Post("/refresh", authRefreshHandler(d.Gateway, d.Hub, d.Logger))

			r.Group(func(r chi.Router) {
				r.Use(JWTAuthMiddleware(d.Cfg.SupabaseJWTSecret, d.Hub, d.Logger))
				r.Post("/signout", authSignOutHandler(d.Gateway, d.Hub, d.Logger))
				r.Post("/event", authEventHandler(d.Hub, d.Logger))
			})
		})

		// Everything below requires a gateway-issued token.
		r.Group(func(r chi.Router) {
			r.Use(JWTAuthMiddleware(d.Cfg.SupabaseJWTSecret, d.Hub, d.Logger))

			// Aggregated profile view
			r.Get("/me/overview", overviewHandler(d.Logger))
			r.Post("/me/refresh", refreshHandler(d.Logger))

			// Portal metrics snapshot
			r.Get("/metrics/portal", portalMetricsHandler(d.Metrics))

			// Cart & checkout
			r.Get("/cart", getCartHandler(d.Carts, d.Logger))
			r.Post("/cart/items", addCartItemHandler(d.Carts, d.Logger))
			r.Put("/cart/items/{variantID}", updateCartItemHandler(d.Carts, d.Logger))
			r.Delete("/cart/items/{variantID}", removeCartItemHandler(d.Carts, d.Logger))
			r.Post("/checkout", checkoutHandler(d.Checkout, d.Logger))
			r.Post("/orders/{orderID}/verify", verifyPaymentHandler(d.Checkout, d.Logger))

			// Shared documents (reads open to the owning client; writes staff-gated below)
			r.Get("/documents/{docID}/url", documentURLHandler(d.CRM, d.Objects, d.Logger))

			// Staff-only area
			r.Group(func(r chi.Router) {
				r.Use(RequireStaff(d.Logger))

				r.Get("/crm/clients", listClientsHandler(d.Clients, d.Logger))
				r.Post("/crm/clients", createClientHandler(d.Clients, d.Logger))
				r.Patch("/crm/clients/{clientID}", updateClientHandler(d.Clients, d.Logger))
				r.Delete("/crm/clients/{clientID}", deleteClientHandler(d.Clients, d.Logger))

				r.Get("/crm/memberships", listMembershipsHandler(d.Memberships, d.Logger))
				r.Post("/crm/memberships", createMembershipHandler(d.Memberships, d.Logger))

				r.Get("/crm/purchases", listPurchasesHandler(d.CRM, d.Logger))
				r.Post("/crm/purchases", createPurchaseHandler(d.CRM, d.Logger))

				r.Post("/documents", uploadDocumentHandler(d.CRM, d.Objects, d.Logger))
				r.Delete("/documents/{docID}", deleteDocumentHandler(d.CRM, d.Objects, d.Logger))
			})
		})
	})

	return r
}

// healthzHandler probes the gateway's auth API with a throwaway token so
// the check exercises the same path real requests take.
func healthzHandler(gateway port.AuthGateway, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "healthy"
		if gateway != nil {
			if _, err := gateway.GetSession(r.Context(), "health-check"); err != nil {
				status = "degraded"
				logger.Warn("healthz: gateway probe failed", zap.Error(err))
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": status})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func portalMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetPortalSnapshot())
	}
}
