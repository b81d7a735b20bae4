// Package moco is the rate-limited client for the MOCO CRM sync
// collaborator. The automation engine only sees its Execute contract; this
// package owns the HTTP and throttling details.
package moco

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"leadscore_backend/platform/apperr"

	"golang.org/x/time/rate"
)

const defaultRPS = 2

// Client talks to the MOCO API. All requests go through a shared limiter so
// automation bursts never trip the remote rate limit.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
}

func NewClient(baseURL, apiKey string, rps float64) *Client {
	if rps <= 0 {
		rps = defaultRPS
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// SyncLead pushes a lead payload to MOCO and returns the remote response
// body. Failures come back as external errors so the action queue retries
// them.
func (c *Client) SyncLead(ctx context.Context, payload map[string]any) (map[string]any, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, apperr.Wrap(apperr.KindExternal, "moco rate limit wait", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "encode moco payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/leads/sync", bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "build moco request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token token="+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindExternal, "moco request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindExternal, "read moco response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperr.External(fmt.Sprintf("moco returned %d: %s", resp.StatusCode, raw))
	}

	var decoded map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, apperr.Wrap(apperr.KindExternal, "decode moco response", err)
		}
	}
	return decoded, nil
}
