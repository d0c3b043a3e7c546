// Package client provides a client library for connecting to a remote
// astrocommd broker over its REST API.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rustyeddy/astrocomm/logging"
)

// Client represents a connection to a remote astrocommd broker.
// It provides methods for making REST API calls to the server.
type Client struct {
	// BaseURL is the base URL of the broker (e.g., "http://localhost:8011")
	BaseURL string

	// HTTPClient is the underlying HTTP client used for requests
	HTTPClient *http.Client
}

// NewClient creates a new client connected to the specified server URL.
// The serverURL should include the protocol and port (e.g., "http://localhost:8011").
//
// Example:
//
//	c := client.NewClient("http://localhost:8011")
//	stats, err := c.GetStats()
func NewClient(serverURL string) *Client {
	return &Client{
		BaseURL: serverURL,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) getJSON(path string, out any) error {
	resp, err := c.HTTPClient.Get(c.BaseURL + path)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned error: %d - %s", resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// GetStats retrieves runtime and broker statistics from the server.
// This calls the /api/stats endpoint on the server.
func (c *Client) GetStats() (map[string]interface{}, error) {
	var stats map[string]interface{}
	if err := c.getJSON("/api/stats", &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// GetDevices retrieves the registered device catalog from the server.
// This calls the /api/devices endpoint on the server.
func (c *Client) GetDevices() (map[string]interface{}, error) {
	var devices map[string]interface{}
	if err := c.getJSON("/api/devices", &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

// GetVersion retrieves the running broker's version string.
// This calls the /version endpoint on the server.
func (c *Client) GetVersion() (map[string]any, error) {
	var version map[string]any
	if err := c.getJSON("/version", &version); err != nil {
		return nil, err
	}
	return version, nil
}

// GetLogConfig retrieves the running logging configuration.
// This calls the /api/log endpoint on the server.
func (c *Client) GetLogConfig() (logging.Config, error) {
	var cfg logging.Config
	if err := c.getJSON("/api/log", &cfg); err != nil {
		return logging.Config{}, err
	}
	return cfg, nil
}

// SetLogConfig updates the running logging configuration and returns what
// the server applied. This calls PUT /api/log.
func (c *Client) SetLogConfig(cfg logging.Config) (logging.Config, error) {
	body, err := json.Marshal(cfg)
	if err != nil {
		return logging.Config{}, fmt.Errorf("failed to encode config: %w", err)
	}

	req, err := http.NewRequest(http.MethodPut, c.BaseURL+"/api/log", bytes.NewReader(body))
	if err != nil {
		return logging.Config{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return logging.Config{}, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return logging.Config{}, fmt.Errorf("server returned error: %d - %s", resp.StatusCode, string(respBody))
	}

	var out logging.Config
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return logging.Config{}, fmt.Errorf("failed to decode response: %w", err)
	}
	return out, nil
}

// Ping checks if the server is reachable and responding.
// Returns nil if the server is healthy, error otherwise.
func (c *Client) Ping() error {
	resp, err := c.HTTPClient.Get(c.BaseURL + "/ping")
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned error: %d", resp.StatusCode)
	}

	return nil
}
