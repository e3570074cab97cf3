package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Object storage (implements port.ObjectStore)
// ============================================================

// Upload writes an object to a storage bucket.
func (c *Client) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) error {
	ctx, span := tracer.Start(ctx, "Supabase.StorageUpload")
	defer span.End()
	span.SetAttributes(attribute.String("storage.bucket", bucket), attribute.String("storage.path", path))

	url := fmt.Sprintf("%s/storage/v1/object/%s/%s", c.baseURL, bucket, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.serviceRoleKey))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("supabase: storage upload failed",
			zap.String("bucket", bucket),
			zap.String("path", path),
			zap.Error(err),
		)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		c.logger.Warn("supabase: storage upload non-2xx",
			zap.String("bucket", bucket),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
		)
		return fmt.Errorf("storage upload returned %d: %s", resp.StatusCode, string(body))
	}

	c.logger.Debug("supabase: storage upload OK", zap.String("bucket", bucket), zap.String("path", path))
	return nil
}

// SignedURL resolves a time-limited download URL for an object.
func (c *Client) SignedURL(ctx context.Context, bucket, path string, ttl time.Duration) (string, error) {
	ctx, span := tracer.Start(ctx, "Supabase.StorageSignedURL")
	defer span.End()

	url := fmt.Sprintf("%s/storage/v1/object/sign/%s/%s", c.baseURL, bucket, path)
	payload, err := json.Marshal(map[string]int{"expiresIn": int(ttl.Seconds())})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.serviceRoleKey))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("supabase: storage sign failed",
			zap.String("bucket", bucket),
			zap.String("path", path),
			zap.Error(err),
		)
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("storage sign returned %d: %s", resp.StatusCode, string(body))
	}

	var signed struct {
		SignedURL string `json:"signedURL"`
	}
	if err := json.Unmarshal(body, &signed); err != nil {
		return "", fmt.Errorf("decode signed url: %w", err)
	}

	return c.baseURL + "/storage/v1" + signed.SignedURL, nil
}

// Delete removes an object from a storage bucket.
func (c *Client) Delete(ctx context.Context, bucket, path string) error {
	ctx, span := tracer.Start(ctx, "Supabase.StorageDelete")
	defer span.End()

	url := fmt.Sprintf("%s/storage/v1/object/%s/%s", c.baseURL, bucket, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.serviceRoleKey))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("supabase: storage delete failed",
			zap.String("bucket", bucket),
			zap.String("path", path),
			zap.Error(err),
		)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("storage delete returned %d: %s", resp.StatusCode, string(body))
	}

	c.logger.Debug("supabase: storage delete OK", zap.String("bucket", bucket), zap.String("path", path))
	return nil
}
