// Package supabase adapts the remote data gateway (PostgREST + GoTrue +
// Storage + Edge Functions) to the portal's ports. Every table read/write,
// auth call and function invocation in the portal goes through this client.
package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/helixlife/portal-bff-go/internal/domain"
	"github.com/helixlife/portal-bff-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("supabase")

// Client wraps HTTP calls to the Supabase REST, auth, storage and
// functions APIs.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	serviceRoleKey string
	cb             *gobreaker.CircuitBreaker
	cfg            resilience.Config
	logger         *zap.Logger
}

// NewClient creates a Supabase client.
func NewClient(httpClient *http.Client, baseURL, apiKey, serviceRoleKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient:     httpClient,
		baseURL:        baseURL,
		apiKey:         apiKey,
		serviceRoleKey: serviceRoleKey,
		cb:             cb,
		cfg:            cfg,
		logger:         logger,
	}
}

// doRequest executes an authenticated GET/DELETE-style request against
// PostgREST and returns the raw body. 404/204 return (nil, nil).
func (c *Client) doRequest(ctx context.Context, method, path string) ([]byte, error) {
	url := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, path)
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		c.logger.Error("supabase: failed to create request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.serviceRoleKey))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("supabase: request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Error("supabase: failed to read response body",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent {
		return nil, nil // no data
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("supabase: non-2xx response",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
		)
		return nil, fmt.Errorf("supabase returned status %d: %s", resp.StatusCode, string(body))
	}

	c.logger.Debug("supabase: request OK",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
	)

	return body, nil
}

// --- Profile API (implements port.ProfileStore) ---

// supabaseProfile maps the profiles table columns to our domain.
type supabaseProfile struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
}

// GetProfile fetches an account profile by user id.
// Loader-critical read: wrapped in circuit breaker + retry.
func (c *Client) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetProfile")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	var profile *domain.Profile

	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			path := fmt.Sprintf("profiles?user_id=eq.%s&limit=1", userID)
			body, err := c.doRequest(ctx, http.MethodGet, path)
			if err != nil {
				return err
			}

			if body == nil || string(body) == "[]" {
				return &domain.ErrNotFound{Resource: "profile", ID: userID}
			}

			var rows []supabaseProfile
			if err := json.Unmarshal(body, &rows); err != nil {
				return fmt.Errorf("failed to decode profile: %w", err)
			}
			if len(rows) == 0 {
				return &domain.ErrNotFound{Resource: "profile", ID: userID}
			}

			p := rows[0]
			profile = &domain.Profile{
				UserID:   p.UserID,
				FullName: p.FullName,
				Email:    p.Email,
				Phone:    p.Phone,
			}
			return nil
		})
	})

	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/profile", Err: err}
	}

	return profile, nil
}

// --- Role API (implements port.RoleStore) ---

type supabaseUserRole struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// GetRole resolves the portal role for a user. Users with no row in
// user_roles are plain clients.
func (c *Client) GetRole(ctx context.Context, userID string) (string, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetRole")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	role := domain.RoleClient

	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			path := fmt.Sprintf("user_roles?user_id=eq.%s&limit=1", userID)
			body, err := c.doRequest(ctx, http.MethodGet, path)
			if err != nil {
				return err
			}
			if body == nil || string(body) == "[]" {
				return nil
			}

			var rows []supabaseUserRole
			if err := json.Unmarshal(body, &rows); err != nil {
				return fmt.Errorf("failed to decode user role: %w", err)
			}
			if len(rows) > 0 && rows[0].Role != "" {
				role = rows[0].Role
			}
			return nil
		})
	})

	if err != nil {
		return "", &domain.ErrExternalService{Service: "supabase/role", Err: err}
	}

	return role, nil
}

// --- Submissions API (implements port.SubmissionStore) ---

// ListSubmissions fetches a user's coaching-intake submissions, newest-first.
func (c *Client) ListSubmissions(ctx context.Context, userID string) ([]domain.Submission, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListSubmissions")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	path := fmt.Sprintf("submissions?user_id=eq.%s&order=created_at.desc", userID)
	body, err := c.doRequest(ctx, http.MethodGet, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/submissions", Err: err}
	}
	if body == nil {
		return []domain.Submission{}, nil
	}

	var rows []domain.Submission
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode submissions: %w", err)
	}
	return rows, nil
}
