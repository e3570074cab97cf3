package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/helixlife/portal-bff-go/internal/domain"
	"github.com/helixlife/portal-bff-go/internal/infra/resilience"

	"go.opentelemetry.io/otel/attribute"
)

// ============================================================
// CRM store — clients, memberships, purchases, documents
// ============================================================

// FindClientByUserID returns the CRM client record linked to an auth user.
// A missing link is not an error: (nil, nil) means "no client record yet",
// and the caller skips the client-scoped reads.
// Loader-critical read: wrapped in circuit breaker + retry.
func (c *Client) FindClientByUserID(ctx context.Context, userID string) (*domain.Client, error) {
	ctx, span := tracer.Start(ctx, "Supabase.FindClientByUserID")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	var client *domain.Client

	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			path := fmt.Sprintf("crm_clients?user_id=eq.%s&limit=1", userID)
			body, err := c.doRequest(ctx, http.MethodGet, path)
			if err != nil {
				return err
			}
			if body == nil || string(body) == "[]" {
				return nil // no linked client record
			}

			var rows []domain.Client
			if err := json.Unmarshal(body, &rows); err != nil {
				return fmt.Errorf("decode crm client: %w", err)
			}
			if len(rows) > 0 {
				client = &rows[0]
			}
			return nil
		})
	})

	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/crm_clients", Err: err}
	}

	return client, nil
}

// GetActiveMembership returns the most recent active membership for a client.
// At most one active membership is surfaced, enforced here by query ordering
// and limit, not by application logic.
func (c *Client) GetActiveMembership(ctx context.Context, clientID string) (*domain.Membership, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetActiveMembership")
	defer span.End()
	span.SetAttributes(attribute.String("client.id", clientID))

	path := fmt.Sprintf("memberships?client_id=eq.%s&status=eq.active&order=start_date.desc&limit=1", clientID)
	body, err := c.doRequest(ctx, http.MethodGet, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/memberships", Err: err}
	}
	if body == nil || string(body) == "[]" {
		return nil, nil
	}

	var rows []domain.Membership
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode membership: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// ListRecentPurchases returns purchases newest-first, capped at limit.
func (c *Client) ListRecentPurchases(ctx context.Context, clientID string, limit int) ([]domain.Purchase, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListRecentPurchases")
	defer span.End()
	span.SetAttributes(attribute.String("client.id", clientID))

	path := fmt.Sprintf("purchases?client_id=eq.%s&order=purchase_date.desc&limit=%d", clientID, limit)
	body, err := c.doRequest(ctx, http.MethodGet, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/purchases", Err: err}
	}
	if body == nil {
		return []domain.Purchase{}, nil
	}

	var rows []domain.Purchase
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode purchases: %w", err)
	}
	return rows, nil
}

// ListSharedDocuments returns documents flagged shared-with-client.
func (c *Client) ListSharedDocuments(ctx context.Context, clientID string) ([]domain.Document, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListSharedDocuments")
	defer span.End()
	span.SetAttributes(attribute.String("client.id", clientID))

	path := fmt.Sprintf("documents?client_id=eq.%s&shared_with_client=eq.true&order=uploaded_at.desc", clientID)
	body, err := c.doRequest(ctx, http.MethodGet, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/documents", Err: err}
	}
	if body == nil {
		return []domain.Document{}, nil
	}

	var rows []domain.Document
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode documents: %w", err)
	}
	return rows, nil
}

// --- Collections (staff CRM area) ---

// ListClients returns all CRM clients, newest-first.
func (c *Client) ListClients(ctx context.Context) ([]domain.Client, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListClients")
	defer span.End()

	body, err := c.doRequest(ctx, http.MethodGet, "crm_clients?order=created_at.desc")
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/crm_clients", Err: err}
	}
	if body == nil {
		return []domain.Client{}, nil
	}

	var rows []domain.Client
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode crm clients: %w", err)
	}
	return rows, nil
}

func (c *Client) CreateClient(ctx context.Context, client *domain.Client) (*domain.Client, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateClient")
	defer span.End()

	row := map[string]any{
		"user_id":   client.UserID,
		"full_name": client.FullName,
		"email":     client.Email,
		"status":    client.Status,
		"coach_id":  client.CoachID,
	}

	body, err := c.doPost(ctx, "crm_clients", row)
	if err != nil {
		return nil, err
	}

	var results []domain.Client
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("decode crm client: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("no result from crm_clients insert")
	}
	return &results[0], nil
}

func (c *Client) UpdateClient(ctx context.Context, clientID string, updates map[string]any) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateClient")
	defer span.End()

	return c.doPatch(ctx, fmt.Sprintf("crm_clients?id=eq.%s", clientID), updates)
}

func (c *Client) DeleteClient(ctx context.Context, clientID string) error {
	ctx, span := tracer.Start(ctx, "Supabase.DeleteClient")
	defer span.End()

	return c.doDelete(ctx, fmt.Sprintf("crm_clients?id=eq.%s", clientID))
}

// ListMemberships returns all memberships, newest-first.
func (c *Client) ListMemberships(ctx context.Context) ([]domain.Membership, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListMemberships")
	defer span.End()

	body, err := c.doRequest(ctx, http.MethodGet, "memberships?order=start_date.desc")
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/memberships", Err: err}
	}
	if body == nil {
		return []domain.Membership{}, nil
	}

	var rows []domain.Membership
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode memberships: %w", err)
	}
	return rows, nil
}

func (c *Client) CreateMembership(ctx context.Context, m *domain.Membership) (*domain.Membership, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateMembership")
	defer span.End()

	row := map[string]any{
		"client_id":     m.ClientID,
		"tier":          m.Tier,
		"status":        m.Status,
		"start_date":    m.StartDate.Format(time.RFC3339),
		"renewal_date":  m.RenewalDate.Format(time.RFC3339),
		"monthly_price": m.MonthlyPrice,
	}

	body, err := c.doPost(ctx, "memberships", row)
	if err != nil {
		return nil, err
	}

	var results []domain.Membership
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("decode membership: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("no result from memberships insert")
	}
	return &results[0], nil
}

// ListPurchases returns all purchases for a client, newest-first (uncapped;
// the CRM collection view shows full history).
func (c *Client) ListPurchases(ctx context.Context, clientID string) ([]domain.Purchase, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListPurchases")
	defer span.End()

	path := "purchases?order=purchase_date.desc"
	if clientID != "" {
		path = fmt.Sprintf("purchases?client_id=eq.%s&order=purchase_date.desc", clientID)
	}
	body, err := c.doRequest(ctx, http.MethodGet, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/purchases", Err: err}
	}
	if body == nil {
		return []domain.Purchase{}, nil
	}

	var rows []domain.Purchase
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode purchases: %w", err)
	}
	return rows, nil
}

func (c *Client) CreatePurchase(ctx context.Context, p *domain.Purchase) (*domain.Purchase, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreatePurchase")
	defer span.End()

	row := map[string]any{
		"client_id":     p.ClientID,
		"item":          p.Item,
		"amount":        p.Amount,
		"purchase_date": p.PurchaseDate.Format(time.RFC3339),
	}

	body, err := c.doPost(ctx, "purchases", row)
	if err != nil {
		return nil, err
	}

	var results []domain.Purchase
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("decode purchase: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("no result from purchases insert")
	}
	return &results[0], nil
}

// --- Documents (write path) ---

func (c *Client) CreateDocument(ctx context.Context, doc *domain.Document) (*domain.Document, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateDocument")
	defer span.End()

	row := map[string]any{
		"client_id":          doc.ClientID,
		"name":               doc.Name,
		"bucket":             doc.Bucket,
		"path":               doc.Path,
		"shared_with_client": doc.SharedWithClient,
		"uploaded_at":        time.Now().Format(time.RFC3339),
	}

	body, err := c.doPost(ctx, "documents", row)
	if err != nil {
		return nil, err
	}

	var results []domain.Document
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("no result from documents insert")
	}
	return &results[0], nil
}

func (c *Client) GetDocument(ctx context.Context, docID string) (*domain.Document, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetDocument")
	defer span.End()

	path := fmt.Sprintf("documents?id=eq.%s&limit=1", docID)
	body, err := c.doRequest(ctx, http.MethodGet, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/documents", Err: err}
	}

	var rows []domain.Document
	if body != nil {
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "document", ID: docID}
	}
	return &rows[0], nil
}

func (c *Client) DeleteDocument(ctx context.Context, docID string) error {
	ctx, span := tracer.Start(ctx, "Supabase.DeleteDocument")
	defer span.End()

	return c.doDelete(ctx, fmt.Sprintf("documents?id=eq.%s", docID))
}
