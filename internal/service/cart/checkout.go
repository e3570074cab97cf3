package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/helixlife/portal-bff-go/internal/domain"
	"github.com/helixlife/portal-bff-go/internal/infra/observability"
	"github.com/helixlife/portal-bff-go/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("service/checkout")

// Edge functions invoked by the checkout sequence.
const (
	fnCreatePaymentSession = "create-payment-session"
	fnVerifyPayment        = "verify-payment"
)

// Checkout runs the order submission sequence: order row → line items →
// payment session. The sequence is sequential, not transactional: a later
// step failing leaves the earlier rows in place and the order in pending.
// There is no automatic rollback; the reconciliation sweep marks stale
// pending orders abandoned.
type Checkout struct {
	orders  port.OrderStore
	fns     port.FunctionInvoker
	carts   *Service
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewCheckout creates the checkout service.
func NewCheckout(orders port.OrderStore, fns port.FunctionInvoker, carts *Service, metrics *observability.Metrics, logger *zap.Logger) *Checkout {
	return &Checkout{
		orders:  orders,
		fns:     fns,
		carts:   carts,
		metrics: metrics,
		logger:  logger,
	}
}

// paymentSessionResponse is the shape returned by create-payment-session.
type paymentSessionResponse struct {
	URL     string `json:"url"`
	OrderID string `json:"order_id"`
}

// SubmitOrder executes the checkout sequence for the user's cart and
// returns the payment redirect URL with the order id. The caller navigates
// the user to that URL; the pending → paid transition happens out of band.
// On failure the cart is left intact so the user can retry.
func (c *Checkout) SubmitOrder(ctx context.Context, sess *domain.Session) (*domain.CheckoutResult, error) {
	// Step 1: require an active session before any network call.
	if sess == nil || sess.UserID == "" {
		return nil, &domain.ErrUnauthorized{Message: "sign in to complete your order"}
	}

	ctx, span := tracer.Start(ctx, "Checkout.SubmitOrder")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", sess.UserID))

	cart, err := c.carts.Get(sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	if len(cart.Items) == 0 {
		return nil, &domain.ErrValidation{Field: "cart", Message: "cart is empty"}
	}

	c.metrics.IncrCheckout("started")

	// Step 2: create the order row in pending with the computed total.
	order, err := c.orders.CreateOrder(ctx, &domain.Order{
		UserID:         sess.UserID,
		Status:         domain.OrderPending,
		Total:          cart.Subtotal(),
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		c.metrics.IncrCheckout("failed")
		c.logger.Error("checkout: order creation failed",
			zap.String("user_id", sess.UserID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("create order: %w", err)
	}
	span.SetAttributes(attribute.String("order.id", order.ID))

	// Step 3: one line item per cart entry.
	items := make([]domain.OrderItem, 0, len(cart.Items))
	for _, it := range cart.Items {
		items = append(items, domain.OrderItem{
			OrderID:       order.ID,
			VariantID:     it.VariantID,
			SellingPlanID: it.SellingPlanID,
			Title:         it.Title,
			UnitPrice:     it.UnitPrice,
			Quantity:      it.Quantity,
		})
	}
	if err := c.orders.CreateOrderItems(ctx, items); err != nil {
		c.metrics.IncrCheckout("failed")
		// The order row stays in pending; the reconciliation sweep will
		// pick it up.
		c.logger.Error("checkout: line item creation failed",
			zap.String("order_id", order.ID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("create order items: %w", err)
	}

	// Step 4: hand the cart snapshot to the payment-session function.
	var payment paymentSessionResponse
	payload := map[string]any{
		"order_id": order.ID,
		"user_id":  sess.UserID,
		"items":    cart.Items,
		"total":    cart.Subtotal(),
	}
	if err := c.fns.Invoke(ctx, fnCreatePaymentSession, payload, &payment); err != nil {
		c.metrics.IncrCheckout("failed")
		c.logger.Error("checkout: payment session creation failed",
			zap.String("order_id", order.ID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("create payment session: %w", err)
	}
	if payment.URL == "" {
		c.metrics.IncrCheckout("failed")
		return nil, fmt.Errorf("payment session returned no redirect url for order %s", order.ID)
	}

	c.metrics.IncrCheckout("succeeded")
	c.logger.Info("checkout: payment session created",
		zap.String("user_id", sess.UserID),
		zap.String("order_id", order.ID),
		zap.Float64("total", order.Total),
	)

	return &domain.CheckoutResult{
		OrderID:     order.ID,
		RedirectURL: payment.URL,
	}, nil
}

// VerifyPayment asks the verify-payment function whether an order has been
// paid. The status transition itself is applied server-side by the
// function; the portal only reads the outcome.
func (c *Checkout) VerifyPayment(ctx context.Context, sess *domain.Session, orderID string) (*domain.PaymentVerification, error) {
	if sess == nil || sess.UserID == "" {
		return nil, &domain.ErrUnauthorized{}
	}

	ctx, span := tracer.Start(ctx, "Checkout.VerifyPayment")
	defer span.End()

	// Scope check before invoking: the order must belong to the caller.
	if _, err := c.orders.GetOrder(ctx, sess.UserID, orderID); err != nil {
		return nil, err
	}

	var result domain.PaymentVerification
	payload := map[string]any{"order_id": orderID}
	if err := c.fns.Invoke(ctx, fnVerifyPayment, payload, &result); err != nil {
		return nil, err
	}

	if result.Paid {
		// Payment confirmed: the cart has served its purpose.
		if err := c.carts.Clear(sess.UserID); err != nil {
			c.logger.Warn("checkout: failed to clear cart after payment",
				zap.String("user_id", sess.UserID),
				zap.Error(err),
			)
		}
	}

	return &result, nil
}

// ReconcileStale marks pending orders older than the cutoff as abandoned.
// This is the explicit cleanup for the checkout sequence's partial-failure
// gap: orders whose line items or payment session never materialized.
func (c *Checkout) ReconcileStale(ctx context.Context, cutoff time.Duration) (int, error) {
	ctx, span := tracer.Start(ctx, "Checkout.ReconcileStale")
	defer span.End()

	stale, err := c.orders.ListStalePending(ctx, time.Now().Add(-cutoff))
	if err != nil {
		return 0, fmt.Errorf("list stale pending orders: %w", err)
	}

	reconciled := 0
	for _, o := range stale {
		if err := c.orders.MarkAbandoned(ctx, o.ID); err != nil {
			c.logger.Error("checkout: failed to mark order abandoned",
				zap.String("order_id", o.ID),
				zap.Error(err),
			)
			continue
		}
		reconciled++
	}

	if reconciled > 0 {
		c.logger.Info("checkout: reconciled stale pending orders",
			zap.Int("count", reconciled),
		)
	}
	return reconciled, nil
}
