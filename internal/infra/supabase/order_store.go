package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/helixlife/portal-bff-go/internal/domain"

	"go.opentelemetry.io/otel/attribute"
)

// ============================================================
// Order store — orders and order line items
// ============================================================

// ListOrders returns a user's orders newest-first with line items embedded.
// Orders still awaiting payment-session completion are excluded: a pending
// order is an in-progress checkout, not history.
func (c *Client) ListOrders(ctx context.Context, userID string) ([]domain.Order, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListOrders")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	path := fmt.Sprintf("orders?user_id=eq.%s&status=neq.%s&order=created_at.desc&select=*,items:order_items(*)",
		userID, domain.OrderPending)
	body, err := c.doRequest(ctx, http.MethodGet, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/orders", Err: err}
	}
	if body == nil {
		return []domain.Order{}, nil
	}

	var rows []domain.Order
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode orders: %w", err)
	}
	return rows, nil
}

// GetOrder fetches one order scoped to its owner.
func (c *Client) GetOrder(ctx context.Context, userID, orderID string) (*domain.Order, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetOrder")
	defer span.End()

	path := fmt.Sprintf("orders?user_id=eq.%s&id=eq.%s&select=*,items:order_items(*)&limit=1", userID, orderID)
	body, err := c.doRequest(ctx, http.MethodGet, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/orders", Err: err}
	}

	var rows []domain.Order
	if body != nil {
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, fmt.Errorf("decode order: %w", err)
		}
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "order", ID: orderID}
	}
	return &rows[0], nil
}

// CreateOrder inserts an order row. The caller sets status and total;
// checkout always creates orders as pending.
func (c *Client) CreateOrder(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateOrder")
	defer span.End()

	row := map[string]any{
		"user_id":          order.UserID,
		"status":           order.Status,
		"total":            order.Total,
		"idempotency_key":  order.IdempotencyKey,
		"shipping_address": order.ShippingAddress,
		"created_at":       time.Now().Format(time.RFC3339),
	}

	body, err := c.doPost(ctx, "orders", row)
	if err != nil {
		return nil, err
	}

	var results []domain.Order
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("no result from orders insert")
	}
	return &results[0], nil
}

// CreateOrderItems inserts all line items of an order in one batch.
func (c *Client) CreateOrderItems(ctx context.Context, items []domain.OrderItem) error {
	ctx, span := tracer.Start(ctx, "Supabase.CreateOrderItems")
	defer span.End()

	rows := make([]map[string]any, 0, len(items))
	for _, it := range items {
		rows = append(rows, map[string]any{
			"order_id":        it.OrderID,
			"variant_id":      it.VariantID,
			"selling_plan_id": it.SellingPlanID,
			"title":           it.Title,
			"unit_price":      it.UnitPrice,
			"quantity":        it.Quantity,
		})
	}

	_, err := c.doPost(ctx, "order_items", rows)
	return err
}

// ListStalePending returns pending orders created before the cutoff.
// Used by the reconciliation sweep over abandoned checkouts.
func (c *Client) ListStalePending(ctx context.Context, olderThan time.Time) ([]domain.Order, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListStalePending")
	defer span.End()

	path := fmt.Sprintf("orders?status=eq.%s&created_at=lt.%s&order=created_at.asc",
		domain.OrderPending, olderThan.UTC().Format(time.RFC3339))
	body, err := c.doRequest(ctx, http.MethodGet, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/orders", Err: err}
	}
	if body == nil {
		return []domain.Order{}, nil
	}

	var rows []domain.Order
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode stale orders: %w", err)
	}
	return rows, nil
}

// MarkAbandoned flips a pending order to abandoned.
func (c *Client) MarkAbandoned(ctx context.Context, orderID string) error {
	ctx, span := tracer.Start(ctx, "Supabase.MarkAbandoned")
	defer span.End()

	return c.doPatch(ctx, fmt.Sprintf("orders?id=eq.%s&status=eq.%s", orderID, domain.OrderPending), map[string]any{
		"status":     domain.OrderAbandoned,
		"updated_at": time.Now().Format(time.RFC3339),
	})
}
