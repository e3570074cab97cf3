package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/helixlife/portal-bff-go/internal/domain"

	"go.uber.org/zap"
)

// ============================================================
// Auth gateway — GoTrue API (implements port.AuthGateway)
// ============================================================
//
// Credentials pass straight through to the gateway; the portal never
// stores or hashes them.

type gotrueTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	User         struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

type gotrueUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// GetSession asks the gateway whether the access token still maps to a user.
// Returns (nil, nil) for an invalid/expired token.
func (c *Client) GetSession(ctx context.Context, accessToken string) (*domain.Session, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetSession")
	defer span.End()

	body, status, err := c.doAuthRequest(ctx, http.MethodGet, "user", accessToken, nil)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/auth", Err: err}
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return nil, nil
	}
	if status < 200 || status >= 300 {
		return nil, &domain.ErrExternalService{
			Service: "supabase/auth",
			Err:     fmt.Errorf("auth user returned %d: %s", status, string(body)),
		}
	}

	var u gotrueUser
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, fmt.Errorf("decode auth user: %w", err)
	}
	if u.ID == "" {
		return nil, nil
	}

	return &domain.Session{
		UserID:      u.ID,
		Email:       u.Email,
		AccessToken: accessToken,
	}, nil
}

// SignIn exchanges credentials for a session (password grant).
func (c *Client) SignIn(ctx context.Context, email, password string) (*domain.Session, error) {
	ctx, span := tracer.Start(ctx, "Supabase.SignIn")
	defer span.End()

	payload := map[string]string{"email": email, "password": password}
	body, status, err := c.doAuthRequest(ctx, http.MethodPost, "token?grant_type=password", "", payload)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/auth", Err: err}
	}
	if status == http.StatusBadRequest || status == http.StatusUnauthorized {
		return nil, &domain.ErrUnauthorized{Message: "invalid email or password"}
	}
	if status < 200 || status >= 300 {
		return nil, &domain.ErrExternalService{
			Service: "supabase/auth",
			Err:     fmt.Errorf("sign-in returned %d: %s", status, string(body)),
		}
	}

	return sessionFromTokenResponse(body)
}

// SignUp registers a new user with the gateway.
func (c *Client) SignUp(ctx context.Context, email, password string) (*domain.Session, error) {
	ctx, span := tracer.Start(ctx, "Supabase.SignUp")
	defer span.End()

	payload := map[string]string{"email": email, "password": password}
	body, status, err := c.doAuthRequest(ctx, http.MethodPost, "signup", "", payload)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/auth", Err: err}
	}
	if status == http.StatusUnprocessableEntity || status == http.StatusConflict {
		return nil, &domain.ErrConflict{Message: "an account with this email already exists"}
	}
	if status < 200 || status >= 300 {
		return nil, &domain.ErrExternalService{
			Service: "supabase/auth",
			Err:     fmt.Errorf("sign-up returned %d: %s", status, string(body)),
		}
	}

	return sessionFromTokenResponse(body)
}

// SignOut revokes the user's tokens at the gateway.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	ctx, span := tracer.Start(ctx, "Supabase.SignOut")
	defer span.End()

	_, status, err := c.doAuthRequest(ctx, http.MethodPost, "logout", accessToken, nil)
	if err != nil {
		return &domain.ErrExternalService{Service: "supabase/auth", Err: err}
	}
	if (status < 200 || status >= 300) && status != http.StatusUnauthorized {
		return &domain.ErrExternalService{
			Service: "supabase/auth",
			Err:     fmt.Errorf("sign-out returned %d", status),
		}
	}
	return nil
}

// RefreshSession rotates the refresh token into a fresh session.
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*domain.Session, error) {
	ctx, span := tracer.Start(ctx, "Supabase.RefreshSession")
	defer span.End()

	payload := map[string]string{"refresh_token": refreshToken}
	body, status, err := c.doAuthRequest(ctx, http.MethodPost, "token?grant_type=refresh_token", "", payload)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/auth", Err: err}
	}
	if status == http.StatusBadRequest || status == http.StatusUnauthorized {
		return nil, &domain.ErrUnauthorized{Message: "invalid refresh token"}
	}
	if status < 200 || status >= 300 {
		return nil, &domain.ErrExternalService{
			Service: "supabase/auth",
			Err:     fmt.Errorf("refresh returned %d: %s", status, string(body)),
		}
	}

	return sessionFromTokenResponse(body)
}

// doAuthRequest executes a request against the GoTrue API. The bearer token
// is the user token when given, the anon key otherwise.
func (c *Client) doAuthRequest(ctx context.Context, method, path, userToken string, payload any) ([]byte, int, error) {
	url := fmt.Sprintf("%s/auth/v1/%s", c.baseURL, path)

	var reqBody io.Reader
	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, err
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, 0, err
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	bearer := c.apiKey
	if userToken != "" {
		bearer = userToken
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", bearer))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("supabase: auth request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	c.logger.Debug("supabase: auth request done",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
	)

	return body, resp.StatusCode, nil
}

func sessionFromTokenResponse(body []byte) (*domain.Session, error) {
	var tok gotrueTokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}

	return &domain.Session{
		UserID:       tok.User.ID,
		Email:        tok.User.Email,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second),
	}, nil
}
