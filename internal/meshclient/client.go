// Package meshclient is a small Go SDK for talking to an eventmesh node's
// HTTP surface, used by cmd/meshctl. Grounded on the teacher's
// internal/client/client.go: a single *http.Client wrapped behind typed
// methods (CreateEvent/GetClock/...), a checkStatus helper turning non-2xx
// responses into a typed APIError, and a GetRaw escape hatch for endpoints
// that don't warrant their own typed method.
package meshclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to exactly one eventmesh node. It never fans a request out
// to other nodes itself — that's the gossip layer's job.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client against baseURL (e.g. "http://localhost:8080").
func New(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// EventResponse mirrors the JSON shape of eventlog.Event.
type EventResponse struct {
	ID                string         `json:"id"`
	NodeID            string         `json:"nodeId"`
	Timestamp         uint64         `json:"timestamp"`
	CreationTimestamp int64          `json:"creationTimestamp"`
	Payload           map[string]any `json:"payload"`
}

// CreateEvent posts a new event's payload and returns the stored event.
func (c *Client) CreateEvent(ctx context.Context, payload map[string]any) (*EventResponse, error) {
	body, err := json.Marshal(map[string]any{"payload": payload})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/events", c.baseURL), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST /events failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var result EventResponse
	return &result, json.NewDecoder(resp.Body).Decode(&result)
}

// ListEvents fetches every event currently known to the node.
func (c *Client) ListEvents(ctx context.Context) ([]EventResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/events", c.baseURL), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET /events failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var result struct {
		Events []EventResponse `json:"events"`
		Count  int             `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return result.Events, nil
}

// ClockResponse is a node's current watermark map.
type ClockResponse struct {
	Watermarks map[string]uint64 `json:"watermarks"`
}

// GetClock fetches the node's current vector clock (watermark map).
func (c *Client) GetClock(ctx context.Context) (*ClockResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/clock", c.baseURL), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET /clock failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var result ClockResponse
	return &result, json.NewDecoder(resp.Body).Decode(&result)
}

// GetProjection fetches one registered projection's current snapshot state
// as raw JSON — projections have heterogeneous shapes, so this stays
// untyped and returns the response body unchanged.
func (c *Client) GetProjection(ctx context.Context, projType string) (string, error) {
	return c.GetRaw(ctx, fmt.Sprintf("/projections/%s", projType))
}

// SaveProjections forces an immediate snapshot of every projection.
func (c *Client) SaveProjections(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/projections/save", c.baseURL), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("POST /projections/save failed: %w", err)
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// ─── Errors ─────────────────────────────────────────────────────────────────

// APIError carries the HTTP status and message body from a failed call.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	var apiErr struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Error
	if msg == "" {
		msg = string(body)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
