package devicehub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Device describes one fingerprint sensor known to the hub.
type Device struct {
	ID            string `json:"id"`
	DeviceID      string `json:"deviceId"`
	Location      string `json:"location"`
	LastHeartbeat string `json:"lastHeartbeat"`
	LastSync      string `json:"lastSync"`
	Status        string `json:"status"`
}

// Client calls the device hub service for sensor fleet status.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. With skip set, List returns canned fleet data
// so the dashboard works without a running hub.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// List fetches the current device fleet.
func (c *Client) List(ctx context.Context) ([]Device, error) {
	if c.Skip {
		now := time.Now()
		return []Device{
			{
				ID:            "ESP32-001",
				DeviceID:      "ESP32-001",
				Location:      "Building A - Entrance",
				LastHeartbeat: now.Format(time.RFC3339),
				LastSync:      now.Format(time.RFC3339),
				Status:        "online",
			},
			{
				ID:            "ESP32-002",
				DeviceID:      "ESP32-002",
				Location:      "Building B - Main Hall",
				LastHeartbeat: now.Add(-5 * time.Minute).Format(time.RFC3339),
				LastSync:      now.Format(time.RFC3339),
				Status:        "offline",
			},
		}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/devices", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("device hub request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("device hub error %s: %s", resp.Status, string(bodyBytes))
	}

	var out []Device
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return out, nil
}

// Health checks hub reachability.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("device hub unhealthy: %s", resp.Status)
	}
	return nil
}
