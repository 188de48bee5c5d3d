// Package e2etest provides an HTTP client for exercising a running callagent
// server from the outside, used by the smoke test.
package e2etest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/myrjola/callagent/internal/errors"
	"github.com/myrjola/callagent/internal/models"
)

type Client struct {
	client *http.Client
	url    string
}

func NewClient(url string) *Client {
	return &Client{
		client: &http.Client{Timeout: 30 * time.Second},
		url:    url,
	}
}

// WaitForReady calls the specified endpoint until it gets a HTTP 200 Success
// response or until the context is cancelled or the 1-second timeout is reached.
func (c *Client) WaitForReady(ctx context.Context, urlPath string) error {
	timeout := 1 * time.Second
	startTime := time.Now()
	var (
		err  error
		req  *http.Request
		resp *http.Response
	)
	for {
		if req, err = http.NewRequestWithContext(
			ctx,
			http.MethodGet,
			c.url+urlPath,
			nil,
		); err != nil {
			return errors.Wrap(err, "create request")
		}

		if resp, err = c.client.Do(req); err == nil {
			if resp.StatusCode == http.StatusOK {
				if err = resp.Body.Close(); err != nil {
					return errors.Wrap(err, "close response body")
				}
				return nil
			}
			if err = resp.Body.Close(); err != nil {
				return errors.Wrap(err, "close response body")
			}
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "context cancelled")
		default:
			if time.Since(startTime) >= timeout {
				return errors.New("timeout waiting for endpoint to be ready")
			}
			time.Sleep(100 * time.Millisecond) //nolint:mnd // 100ms
		}
	}
}

// Healthy checks the health endpoint.
func (c *Client) Healthy(ctx context.Context) error {
	var response struct {
		Status string `json:"status"`
	}
	if err := c.getJSON(ctx, "/api/healthy", &response); err != nil {
		return err
	}
	if response.Status != "ok" {
		return errors.New("unexpected health status", slog.String("status", response.Status))
	}
	return nil
}

// CreateInvestigation creates a draft investigation and returns its id.
func (c *Client) CreateInvestigation(
	ctx context.Context,
	requirement string,
	concurrency int,
	contacts []models.ContactInput,
) (string, error) {
	var response struct {
		ID string `json:"id"`
	}
	err := c.postJSON(ctx, "/api/investigations", map[string]any{
		"requirement": requirement,
		"concurrency": concurrency,
		"contacts":    contacts,
	}, &response)
	if err != nil {
		return "", err
	}
	if response.ID == "" {
		return "", errors.New("server returned empty investigation id")
	}
	return response.ID, nil
}

// Results fetches the investigation's results payload.
func (c *Client) Results(ctx context.Context, investigationID string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.getJSON(ctx, "/api/investigations/"+investigationID+"/results", &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *Client) getJSON(ctx context.Context, urlPath string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+urlPath, nil)
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	return c.doJSON(req, v)
}

func (c *Client) postJSON(ctx context.Context, urlPath string, body any, v any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "marshal request body")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+urlPath, bytes.NewReader(encoded))
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doJSON(req, v)
}

func (c *Client) doJSON(req *http.Request, v any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read response body")
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return errors.New("unexpected status code",
			slog.Int("status", resp.StatusCode),
			slog.String("path", req.URL.Path),
			slog.String("body", string(payload)))
	}
	if v == nil {
		return nil
	}
	if err = json.Unmarshal(payload, v); err != nil {
		return errors.Wrap(err, "unmarshal response body", slog.String("path", req.URL.Path))
	}
	return nil
}
