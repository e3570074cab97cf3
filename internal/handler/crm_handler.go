package handler

import (
	"encoding/json"
	"net/http"

	"github.com/helixlife/portal-bff-go/internal/domain"
	"github.com/helixlife/portal-bff-go/internal/port"
	"github.com/helixlife/portal-bff-go/internal/service/collection"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ============================================================
// CRM collections (staff area)
// ============================================================

func listClientsHandler(clients *collection.Collection[domain.Client], logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/crm/clients")
		defer span.End()

		// Serve from the realtime-synced local copy; refetch only when the
		// collection has nothing yet.
		items := clients.Items()
		if len(items) == 0 {
			if err := clients.Fetch(ctx); err != nil {
				handleServiceError(w, err, logger)
				return
			}
			items = clients.Items()
		}
		writeJSON(w, http.StatusOK, map[string]any{"clients": items})
	}
}

func createClientHandler(clients *collection.Collection[domain.Client], logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/crm/clients")
		defer span.End()

		var client domain.Client
		if err := json.NewDecoder(r.Body).Decode(&client); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if client.FullName == "" {
			writeError(w, http.StatusBadRequest, "full_name is required")
			return
		}

		if err := clients.Create(ctx, client); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}
}

func updateClientHandler(clients *collection.Collection[domain.Client], logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PATCH /v1/crm/clients/{clientID}")
		defer span.End()

		clientID := chi.URLParam(r, "clientID")

		var updates map[string]any
		if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if len(updates) == 0 {
			writeError(w, http.StatusBadRequest, "no fields to update")
			return
		}

		if err := clients.UpdateByID(ctx, clientID, updates); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func deleteClientHandler(clients *collection.Collection[domain.Client], logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/crm/clients/{clientID}")
		defer span.End()

		clientID := chi.URLParam(r, "clientID")
		if err := clients.DeleteByID(ctx, clientID); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func listMembershipsHandler(memberships *collection.Collection[domain.Membership], logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/crm/memberships")
		defer span.End()

		items := memberships.Items()
		if len(items) == 0 {
			if err := memberships.Fetch(ctx); err != nil {
				handleServiceError(w, err, logger)
				return
			}
			items = memberships.Items()
		}
		writeJSON(w, http.StatusOK, map[string]any{"memberships": items})
	}
}

func createMembershipHandler(memberships *collection.Collection[domain.Membership], logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/crm/memberships")
		defer span.End()

		var m domain.Membership
		if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if m.ClientID == "" || m.Tier == "" {
			writeError(w, http.StatusBadRequest, "client_id and tier are required")
			return
		}

		if err := memberships.Create(ctx, m); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}
}

// Purchases are always scoped to one client, so they go straight through
// the store rather than through a shared collection.
func listPurchasesHandler(crm port.CRMStore, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/crm/purchases")
		defer span.End()

		clientID := r.URL.Query().Get("client_id")
		if clientID == "" {
			writeError(w, http.StatusBadRequest, "client_id is required")
			return
		}

		purchases, err := crm.ListPurchases(ctx, clientID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if purchases == nil {
			purchases = []domain.Purchase{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"purchases": purchases})
	}
}

func createPurchaseHandler(crm port.CRMStore, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/crm/purchases")
		defer span.End()

		var p domain.Purchase
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if p.ClientID == "" || p.Item == "" {
			writeError(w, http.StatusBadRequest, "client_id and item are required")
			return
		}

		created, err := crm.CreatePurchase(ctx, &p)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}
