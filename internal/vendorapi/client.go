// Package vendorapi wraps the third-party telematics HTTP API. The client
// carries an already-issued access token; acquiring and refreshing that
// token happens upstream.
package vendorapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Per-point response headers defined by the vendor wire contract.
const (
	HeaderDataAge    = "sc-data-age"
	HeaderFetchedAt  = "sc-fetched-at"
	HeaderUnitSystem = "sc-unit-system"
)

// StatusError is a completed vendor response with a non-2xx status.
type StatusError struct {
	Status  int
	Message string
}

// Error implements error.
func (e *StatusError) Error() string {
	return fmt.Sprintf("vendor status %d: %s", e.Status, e.Message)
}

// BatchItem is one per-endpoint entry of a batch response.
type BatchItem struct {
	Path    string            `json:"path"`
	Code    int               `json:"code"`
	Body    json.RawMessage   `json:"body"`
	Headers map[string]string `json:"headers"`
}

// Header returns a batch item header value, or empty.
func (i BatchItem) Header(name string) string {
	if i.Headers == nil {
		return ""
	}
	return i.Headers[name]
}

// BatchResponse is the vendor's combined reply to a batch request.
type BatchResponse struct {
	Responses []BatchItem `json:"responses"`
}

// CommandResponse acknowledges a vehicle command.
type CommandResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Client issues authenticated calls against one vehicle.
type Client struct {
	baseURL     string
	vehicleID   string
	accessToken string
	client      *http.Client
	logger      *zap.Logger
}

// NewClient builds a vendor API client. The overall http.Client timeout is a
// backstop; callers bound individual calls with their own context deadline.
func NewClient(baseURL, vehicleID, accessToken string, logger *zap.Logger) *Client {
	return &Client{
		baseURL:     baseURL,
		vehicleID:   vehicleID,
		accessToken: accessToken,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger,
	}
}

type batchRequest struct {
	Requests []batchRequestPath `json:"requests"`
}

type batchRequestPath struct {
	Path string `json:"path"`
}

// Batch issues one combined call for the given endpoint paths.
func (c *Client) Batch(ctx context.Context, paths []string) (*BatchResponse, error) {
	body := batchRequest{Requests: make([]batchRequestPath, 0, len(paths))}
	for _, p := range paths {
		body.Requests = append(body.Requests, batchRequestPath{Path: p})
	}

	var response BatchResponse
	if err := c.post(ctx, "/batch", body, &response); err != nil {
		return nil, err
	}
	if response.Responses == nil {
		return nil, &StatusError{Status: http.StatusBadGateway, Message: "invalid batch response format"}
	}
	return &response, nil
}

// Execute sends a control command to a vehicle endpoint.
func (c *Client) Execute(ctx context.Context, path string, body any) (*CommandResponse, error) {
	var response CommandResponse
	if err := c.post(ctx, path, body, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/v2.0/vehicles/%s%s", c.baseURL, c.vehicleID, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var payload struct {
			Message     string `json:"message"`
			Description string `json:"description"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		message := payload.Message
		if message == "" {
			message = payload.Description
		}
		c.logger.Warn("vendor call returned non-success",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return &StatusError{Status: resp.StatusCode, Message: message}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
