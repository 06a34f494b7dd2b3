package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/DoyleJ11/checker-lobby/pkg/types"
)

// Client talks to the lobby's assignment API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new API client.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// PresenceURL is the websocket endpoint matching the client's base URL.
func (c *Client) PresenceURL() string {
	u := c.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}

// CreateSession asks the server for a fresh session id.
func (c *Client) CreateSession(ctx context.Context) (uuid.UUID, error) {
	var created types.SessionCreated
	if err := c.post(ctx, "/api/sessions", nil, &created); err != nil {
		return uuid.Nil, fmt.Errorf("client.CreateSession: %w", err)
	}
	return created.SessionID, nil
}

// GetSession fetches the public view of a session.
func (c *Client) GetSession(ctx context.Context, id uuid.UUID) (*types.SessionView, error) {
	var v types.SessionView
	if err := c.get(ctx, "/api/sessions/"+id.String(), &v); err != nil {
		return nil, fmt.Errorf("client.GetSession: %w", err)
	}
	return &v, nil
}

// Assign claims a free slot.
func (c *Client) Assign(ctx context.Context, id uuid.UUID, slot int, name string) (types.AssignmentResult, error) {
	var res types.AssignmentResult
	if err := c.post(ctx, slotPath(id, slot, "assign"), types.AssignRequest{Name: name}, &res); err != nil {
		return types.AssignmentResult{}, fmt.Errorf("client.Assign: %w", err)
	}
	return res, nil
}

// Reassign resumes a claim with its secret.
func (c *Client) Reassign(ctx context.Context, id uuid.UUID, slot int, secret string) (types.AssignmentResult, error) {
	var res types.AssignmentResult
	if err := c.post(ctx, slotPath(id, slot, "reassign"), types.SecretRequest{Secret: secret}, &res); err != nil {
		return types.AssignmentResult{}, fmt.Errorf("client.Reassign: %w", err)
	}
	return res, nil
}

// Unassign releases a claim.
func (c *Client) Unassign(ctx context.Context, id uuid.UUID, slot int, secret string) error {
	if err := c.post(ctx, slotPath(id, slot, "unassign"), types.SecretRequest{Secret: secret}, nil); err != nil {
		return fmt.Errorf("client.Unassign: %w", err)
	}
	return nil
}

func slotPath(id uuid.UUID, slot int, op string) string {
	return "/api/sessions/" + id.String() + "/slots/" + strconv.Itoa(slot) + "/" + op
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.doRequest(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	return c.doRequest(ctx, http.MethodPost, path, body, out)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	if resp.StatusCode >= 400 {
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if readErr != nil {
			return &HTTPError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("failed to read body: %v", readErr)}
		}
		var apiErr types.ErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			return &HTTPError{StatusCode: resp.StatusCode, Code: apiErr.Error, Message: apiErr.Message}
		}
		return &HTTPError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
