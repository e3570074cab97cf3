package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/helixlife/portal-bff-go/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Edge functions (implements port.FunctionInvoker)
// ============================================================

// Invoke calls a server function hosted on the gateway and decodes the
// response into out when out is non-nil. Used for payment-session creation
// and payment verification; the payment processor's secret key lives in the
// function, never here.
func (c *Client) Invoke(ctx context.Context, name string, payload any, out any) error {
	ctx, span := tracer.Start(ctx, "Supabase.Invoke")
	defer span.End()
	span.SetAttributes(attribute.String("function.name", name))

	url := fmt.Sprintf("%s/functions/v1/%s", c.baseURL, name)

	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return err
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.serviceRoleKey))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("supabase: function invocation failed",
			zap.String("function", name),
			zap.Error(err),
		)
		return &domain.ErrExternalService{Service: "supabase/functions/" + name, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("supabase: function non-2xx",
			zap.String("function", name),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
		)
		return &domain.ErrExternalService{
			Service: "supabase/functions/" + name,
			Err:     fmt.Errorf("function %s returned %d: %s", name, resp.StatusCode, string(body)),
		}
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode %s response: %w", name, err)
		}
	}

	c.logger.Debug("supabase: function OK", zap.String("function", name))
	return nil
}
