package handler

import (
	"encoding/json"
	"net/http"

	"github.com/helixlife/portal-bff-go/internal/domain"
	"github.com/helixlife/portal-bff-go/internal/service/cart"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ============================================================
// Cart & checkout
// ============================================================

func getCartHandler(carts *cart.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/cart")
		defer span.End()

		sess := SessionFromContext(ctx)
		c, err := carts.Get(sess.UserID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func addCartItemHandler(carts *cart.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/cart/items")
		defer span.End()

		var item domain.CartItem
		if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		sess := SessionFromContext(ctx)
		c, err := carts.AddItem(sess.UserID, item)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func updateCartItemHandler(carts *cart.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/cart/items/{variantID}")
		defer span.End()

		variantID := chi.URLParam(r, "variantID")

		var req struct {
			SellingPlanID string `json:"selling_plan_id,omitempty"`
			Quantity      int    `json:"quantity"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		sess := SessionFromContext(ctx)
		c, err := carts.UpdateQuantity(sess.UserID, variantID, req.SellingPlanID, req.Quantity)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func removeCartItemHandler(carts *cart.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/cart/items/{variantID}")
		defer span.End()

		variantID := chi.URLParam(r, "variantID")
		sellingPlanID := r.URL.Query().Get("selling_plan_id")

		sess := SessionFromContext(ctx)
		c, err := carts.RemoveItem(sess.UserID, variantID, sellingPlanID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func checkoutHandler(checkout *cart.Checkout, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/checkout")
		defer span.End()

		sess := SessionFromContext(ctx)
		result, err := checkout.SubmitOrder(ctx, sess)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, result)
	}
}

func verifyPaymentHandler(checkout *cart.Checkout, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/orders/{orderID}/verify")
		defer span.End()

		orderID := chi.URLParam(r, "orderID")
		if orderID == "" {
			writeError(w, http.StatusBadRequest, "orderID is required")
			return
		}

		sess := SessionFromContext(ctx)
		result, err := checkout.VerifyPayment(ctx, sess, orderID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}
