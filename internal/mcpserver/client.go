package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the configuration for connecting to the Vigil platform.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:8080"
}

// VigilClient is a pure HTTP client for the Vigil screening API.
type VigilClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewVigilClient creates a new client for the Vigil platform.
func NewVigilClient(cfg Config) *VigilClient {
	return &VigilClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// apiError represents an error response from the platform.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the platform and returns the response body.
func (c *VigilClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// ScreenTransaction submits an inline transaction for screening and returns
// the completed run.
func (c *VigilClient) ScreenTransaction(ctx context.Context, tx map[string]any) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/api/investigate", nil, map[string]any{
		"transaction": tx,
	})
}

// ScreenStored screens a transaction already known to the platform by ID.
func (c *VigilClient) ScreenStored(ctx context.Context, transactionID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/api/investigate", nil, map[string]any{
		"transaction_id": transactionID,
	})
}

// GetInvestigation returns the most recent screening run for a transaction.
func (c *VigilClient) GetInvestigation(ctx context.Context, transactionID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/api/investigations/"+transactionID, nil, nil)
}

// ListInvestigations returns all recorded screening runs.
func (c *VigilClient) ListInvestigations(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/api/investigations", nil, nil)
}

// ListTransactions lists stored transactions with optional filters.
func (c *VigilClient) ListTransactions(ctx context.Context, merchantCategory string, fraudOnly bool, minAmount string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if merchantCategory != "" {
		q.Set("merchant_category", merchantCategory)
	}
	if fraudOnly {
		q.Set("is_fraud", "true")
	}
	if minAmount != "" {
		q.Set("min_amount", minAmount)
	}
	if limit > 0 {
		q.Set("page_size", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/api/transactions", q, nil)
}

// GetPlatformMetrics returns the dashboard aggregates.
func (c *VigilClient) GetPlatformMetrics(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/api/metrics", nil, nil)
}

// GenerateSAR requests a Suspicious Activity Report draft for a screened
// transaction.
func (c *VigilClient) GenerateSAR(ctx context.Context, transactionID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/api/investigations/"+transactionID+"/sar", nil, nil)
}
