package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"academy-attendance/internal/ingest"
	"academy-attendance/internal/model"
)

// APIError is a non-2xx answer from the attendance service.
type APIError struct {
	Status int
	Body   []byte
}

func (e *APIError) Error() string {
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(e.Body, &body) == nil && body.Error != "" {
		return fmt.Sprintf("api error %d: %s", e.Status, body.Error)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, strings.TrimSpace(string(e.Body)))
}

// Client calls the admin endpoints of the attendance service.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Devices(ctx context.Context, delivery, status string) ([]model.BiometricDevice, error) {
	q := url.Values{}
	if delivery != "" {
		q.Set("delivery", delivery)
	}
	if status != "" {
		q.Set("status", status)
	}
	path := "/api/devices"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var devices []model.BiometricDevice
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

// SyncDevice triggers a pull of one device. When the device could not be
// reached the report is returned together with the error.
func (c *Client) SyncDevice(ctx context.Context, id string) (*ingest.SyncReport, error) {
	var report ingest.SyncReport
	err := c.doJSON(ctx, http.MethodPost, "/api/devices/"+url.PathEscape(id)+"/sync", nil, &report)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusBadGateway {
		if json.Unmarshal(apiErr.Body, &report) == nil {
			return &report, fmt.Errorf("device unreachable: %s", report.Error)
		}
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}

func (c *Client) SyncAll(ctx context.Context) ([]ingest.SyncReport, error) {
	var reports []ingest.SyncReport
	if err := c.doJSON(ctx, http.MethodPost, "/api/devices/sync", nil, &reports); err != nil {
		return nil, err
	}
	return reports, nil
}

func (c *Client) Probe(ctx context.Context, id string) (*ingest.ProbeResult, error) {
	var result ingest.ProbeResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/devices/"+url.PathEscape(id)+"/test", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) Unresolved(ctx context.Context, limit int) ([]model.RawAttendanceEvent, error) {
	path := "/api/devices/events/unresolved"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var events []model.RawAttendanceEvent
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return &APIError{Status: resp.StatusCode, Body: respBody}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
