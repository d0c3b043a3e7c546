package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/astrocomm/logging"
)

func TestNewClient(t *testing.T) {
	c := NewClient("http://localhost:8011")
	require.NotNil(t, c)
	assert.Equal(t, "http://localhost:8011", c.BaseURL)
}

func TestGetStats(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/stats", r.URL.Path)
		stats := map[string]interface{}{
			"Goroutines": 10,
			"CPUs":       4,
			"GoVersion":  "go1.21.0",
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats)
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	stats, err := c.GetStats()
	require.NoError(t, err)
	assert.Equal(t, float64(10), stats["Goroutines"])
}

func TestGetStatsServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("internal server error"))
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	_, err := c.GetStats()
	assert.Error(t, err)
}

func TestPing(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ping", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	assert.NoError(t, c.Ping())
}

func TestGetDevices(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/devices", r.URL.Path)
		devices := map[string]interface{}{
			"dome-1": map[string]interface{}{"Connected": true},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(devices)
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	devices, err := c.GetDevices()
	require.NoError(t, err)
	assert.Contains(t, devices, "dome-1")
}

func TestGetDevicesServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("internal server error"))
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	_, err := c.GetDevices()
	assert.Error(t, err)
}

func TestGetVersion(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/version", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"version": "0.1.0"})
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	v, err := c.GetVersion()
	require.NoError(t, err)
	assert.Equal(t, "0.1.0", v["version"])
}

func TestGetLogConfig(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/log", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(logging.DefaultConfig())
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	cfg, err := c.GetLogConfig()
	require.NoError(t, err)
	assert.Equal(t, logging.DefaultConfig().Level, cfg.Level)
}

func TestSetLogConfig(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		var cfg logging.Config
		require.NoError(t, json.NewDecoder(r.Body).Decode(&cfg))
		assert.Equal(t, "debug", cfg.Level)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(cfg)
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	cfg, err := c.SetLogConfig(logging.Config{Level: "debug", Format: "text", Output: "stdout"})
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Level)
}
