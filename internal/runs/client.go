package runs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"backend-runtrack/internal/tracking"
)

// APIError is a non-2xx answer from the runs backend.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("runs api: status %d: %s", e.Status, e.Detail)
}

// UserMessage is the detail shown to the runner.
func (e *APIError) UserMessage() string { return e.Detail }

// Client talks to the runs backend over a pooled HTTP client.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    newPooledHTTPClient(8, timeout),
	}
}

func newPooledHTTPClient(poolSize int, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:          poolSize,
			MaxIdleConnsPerHost:   poolSize,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}
}

// SaveRun posts a finished run. It is never retried.
func (c *Client) SaveRun(ctx context.Context, token string, rec tracking.RunRecord) (tracking.SavedRun, error) {
	var saved tracking.SavedRun
	err := c.do(ctx, http.MethodPost, "/api/runs", token, rec, &saved)
	return saved, err
}

// ListRuns returns the caller's runs, newest first as the backend orders them.
func (c *Client) ListRuns(ctx context.Context, token string) ([]Run, error) {
	var out []Run
	if err := c.do(ctx, http.MethodGet, "/api/runs", token, nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []Run{}
	}
	return out, nil
}

func (c *Client) Ranking(ctx context.Context) ([]RankingEntry, error) {
	var out []RankingEntry
	if err := c.do(ctx, http.MethodGet, "/api/ranking", "", nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []RankingEntry{}
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Detail: errorDetail(resp.StatusCode, data)}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// errorDetail pulls a readable message out of an error body. FastAPI style
// {"detail": "..."} wins, then {"error"} and {"message"}, then the status text.
func errorDetail(status int, body []byte) string {
	var payload struct {
		Detail  json.RawMessage `json:"detail"`
		Error   string          `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		var detail string
		if len(payload.Detail) > 0 && json.Unmarshal(payload.Detail, &detail) == nil && detail != "" {
			return detail
		}
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return fmt.Sprintf("status %d", status)
}
