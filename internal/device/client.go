package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"academy-attendance/internal/model"
)

var ErrUnreachable = errors.New("device unreachable")

// Client talks to pull-model devices (or the vendor gateway in front of
// them) over their HTTP log API.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
}

func NewClient(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{},
		timeout:    timeout,
	}
}

type logsResponse struct {
	Logs []json.RawMessage `json:"logs"`
}

// FetchLogs retrieves captures recorded after since, in the order the
// device returns them. A nil since fetches the full log.
func (c *Client) FetchLogs(ctx context.Context, d *model.BiometricDevice, since *time.Time) ([]json.RawMessage, error) {
	q := url.Values{}
	if since != nil {
		q.Set("since", since.UTC().Format(time.RFC3339))
	}
	path := "/api/v1/attendance/logs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var result logsResponse
	if err := c.doJSON(ctx, http.MethodGet, d, path, &result); err != nil {
		return nil, fmt.Errorf("fetch logs: %w", err)
	}
	return result.Logs, nil
}

// Probe checks the device answers at its configured address. Any HTTP
// response below 500 counts as reachable.
func (c *Client) Probe(ctx context.Context, d *model.BiometricDevice) error {
	if d.Address == "" {
		return fmt.Errorf("%w: no address configured", ErrUnreachable)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(d.Address, "/")+"/", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", ErrUnreachable, resp.StatusCode)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method string, d *model.BiometricDevice, path string, result any) error {
	if d.Address == "" {
		return fmt.Errorf("%w: no address configured", ErrUnreachable)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(d.Address, "/")+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if d.Credential != "" {
		req.Header.Set("Authorization", "Bearer "+d.Credential)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("device api error %d: %s", resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
