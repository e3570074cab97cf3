// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"
	"time"

	"github.com/helixlife/portal-bff-go/internal/domain"
)

// ProfileStore retrieves account profiles.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*domain.Profile, error)
}

// SubmissionStore retrieves coaching-intake submissions.
type SubmissionStore interface {
	ListSubmissions(ctx context.Context, userID string) ([]domain.Submission, error)
}

// OrderStore defines all data operations for orders.
type OrderStore interface {
	// ListOrders returns a user's orders newest-first, excluding orders
	// still awaiting payment-session completion.
	ListOrders(ctx context.Context, userID string) ([]domain.Order, error)
	GetOrder(ctx context.Context, userID, orderID string) (*domain.Order, error)
	CreateOrder(ctx context.Context, order *domain.Order) (*domain.Order, error)
	CreateOrderItems(ctx context.Context, items []domain.OrderItem) error

	// Reconciliation sweep over orders stuck in pending.
	ListStalePending(ctx context.Context, olderThan time.Time) ([]domain.Order, error)
	MarkAbandoned(ctx context.Context, orderID string) error
}

// CRMStore defines all data operations for the coaching CRM.
type CRMStore interface {
	// FindClientByUserID returns the CRM client record linked to an
	// authenticated user, or (nil, nil) when no record is linked.
	FindClientByUserID(ctx context.Context, userID string) (*domain.Client, error)

	// GetActiveMembership returns the most recent active membership for a
	// client (start date descending, limit 1), or (nil, nil) when none.
	GetActiveMembership(ctx context.Context, clientID string) (*domain.Membership, error)

	// ListRecentPurchases returns purchases newest-first, capped at limit.
	ListRecentPurchases(ctx context.Context, clientID string, limit int) ([]domain.Purchase, error)

	// ListSharedDocuments returns documents flagged shared-with-client.
	ListSharedDocuments(ctx context.Context, clientID string) ([]domain.Document, error)

	// Collections (staff CRM area)
	ListClients(ctx context.Context) ([]domain.Client, error)
	CreateClient(ctx context.Context, client *domain.Client) (*domain.Client, error)
	UpdateClient(ctx context.Context, clientID string, updates map[string]any) error
	DeleteClient(ctx context.Context, clientID string) error
	ListMemberships(ctx context.Context) ([]domain.Membership, error)
	CreateMembership(ctx context.Context, m *domain.Membership) (*domain.Membership, error)
	ListPurchases(ctx context.Context, clientID string) ([]domain.Purchase, error)
	CreatePurchase(ctx context.Context, p *domain.Purchase) (*domain.Purchase, error)

	// Documents (write path)
	CreateDocument(ctx context.Context, doc *domain.Document) (*domain.Document, error)
	GetDocument(ctx context.Context, docID string) (*domain.Document, error)
	DeleteDocument(ctx context.Context, docID string) error
}

// RoleStore resolves the portal role for an authenticated user.
type RoleStore interface {
	GetRole(ctx context.Context, userID string) (string, error)
}

// AuthGateway wraps the remote gateway's auth API. Credentials never touch
// the portal; sign-in exchanges them with the gateway directly.
type AuthGateway interface {
	GetSession(ctx context.Context, accessToken string) (*domain.Session, error)
	SignIn(ctx context.Context, email, password string) (*domain.Session, error)
	SignUp(ctx context.Context, email, password string) (*domain.Session, error)
	SignOut(ctx context.Context, accessToken string) error
	RefreshSession(ctx context.Context, refreshToken string) (*domain.Session, error)
}

// FunctionInvoker invokes a server function hosted on the remote gateway.
// The response body is decoded into out when out is non-nil.
type FunctionInvoker interface {
	Invoke(ctx context.Context, name string, payload any, out any) error
}

// ObjectStore wraps the remote gateway's object storage.
type ObjectStore interface {
	Upload(ctx context.Context, bucket, path string, data []byte, contentType string) error
	SignedURL(ctx context.Context, bucket, path string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, bucket, path string) error
}

// ChangeFeed delivers row mutations for a table as a push stream.
// The returned cancel func tears the subscription down.
type ChangeFeed interface {
	Subscribe(ctx context.Context, table string) (<-chan domain.ChangeEvent, func(), error)
}

// CartStore persists a user's cart across sessions.
type CartStore interface {
	Load(userID string) (*domain.Cart, error)
	Save(userID string, cart *domain.Cart) error
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
