// Package cart implements the persisted shopping cart and the checkout
// submission sequence.
package cart

import (
	"time"

	"github.com/helixlife/portal-bff-go/internal/domain"
	"github.com/helixlife/portal-bff-go/internal/port"

	"go.uber.org/zap"
)

// Service manages per-user carts. Cart lines are keyed by
// (variantID, sellingPlanID): AddItem merges quantities on an exact key
// match and appends otherwise. UpdateQuantity and RemoveItem address lines
// by the same full key — matching on variantID alone would silently hit
// the wrong line when the same variant is carted both one-off and on a
// subscription plan.
type Service struct {
	store  port.CartStore
	logger *zap.Logger
}

// NewService creates the cart service.
func NewService(store port.CartStore, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Get returns the user's persisted cart.
func (s *Service) Get(userID string) (*domain.Cart, error) {
	return s.store.Load(userID)
}

// AddItem merges the item into the cart by (variantID, sellingPlanID).
func (s *Service) AddItem(userID string, item domain.CartItem) (*domain.Cart, error) {
	if item.VariantID == "" {
		return nil, &domain.ErrValidation{Field: "variant_id", Message: "required"}
	}
	if item.Quantity <= 0 {
		return nil, &domain.ErrValidation{Field: "quantity", Message: "must be positive"}
	}

	cart, err := s.store.Load(userID)
	if err != nil {
		return nil, err
	}

	merged := false
	for i := range cart.Items {
		if cart.Items[i].VariantID == item.VariantID && cart.Items[i].SellingPlanID == item.SellingPlanID {
			cart.Items[i].Quantity += item.Quantity
			merged = true
			break
		}
	}
	if !merged {
		cart.Items = append(cart.Items, item)
	}
	cart.UpdatedAt = time.Now()

	if err := s.store.Save(userID, cart); err != nil {
		return nil, err
	}

	s.logger.Debug("cart: item added",
		zap.String("user_id", userID),
		zap.String("variant_id", item.VariantID),
		zap.Bool("merged", merged),
	)
	return cart, nil
}

// UpdateQuantity sets the quantity of the line matching the full key.
// A quantity of zero or less removes the line.
func (s *Service) UpdateQuantity(userID, variantID, sellingPlanID string, quantity int) (*domain.Cart, error) {
	if quantity <= 0 {
		return s.RemoveItem(userID, variantID, sellingPlanID)
	}

	cart, err := s.store.Load(userID)
	if err != nil {
		return nil, err
	}

	for i := range cart.Items {
		if cart.Items[i].VariantID == variantID && cart.Items[i].SellingPlanID == sellingPlanID {
			cart.Items[i].Quantity = quantity
			cart.UpdatedAt = time.Now()
			if err := s.store.Save(userID, cart); err != nil {
				return nil, err
			}
			return cart, nil
		}
	}

	return nil, &domain.ErrNotFound{Resource: "cart item", ID: variantID}
}

// RemoveItem deletes the line matching the full key. Removing a line that
// is not there is a no-op, not an error.
func (s *Service) RemoveItem(userID, variantID, sellingPlanID string) (*domain.Cart, error) {
	cart, err := s.store.Load(userID)
	if err != nil {
		return nil, err
	}

	for i := range cart.Items {
		if cart.Items[i].VariantID == variantID && cart.Items[i].SellingPlanID == sellingPlanID {
			cart.Items = append(cart.Items[:i], cart.Items[i+1:]...)
			break
		}
	}
	cart.UpdatedAt = time.Now()

	if err := s.store.Save(userID, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

// Clear empties the cart.
func (s *Service) Clear(userID string) error {
	return s.store.Save(userID, &domain.Cart{Items: []domain.CartItem{}, UpdatedAt: time.Now()})
}
