package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/rustyeddy/astrocomm/utils"
)

// BrokerStats is the subset of broker.Broker that StatsHandler reports on.
// Kept as an interface here so server doesn't import broker.
type BrokerStats interface {
	SessionCount() int
	DeviceCount() int
	TrafficSnapshot() TrafficSnapshot
}

// TrafficSnapshot mirrors broker.Snapshot without server importing broker.
type TrafficSnapshot struct {
	MessagesSent     uint64
	MessagesReceived uint64
	ErrorCount       uint64
	Uptime           time.Duration
}

// statsBody is what /api/stats actually serializes: runtime stats (teacher's
// utils.Stats shape) plus, when a broker is wired, live session/device
// counts and aggregate traffic.
type statsBody struct {
	*utils.Stats
	Sessions         int    `json:"sessions,omitempty"`
	Devices          int    `json:"devices,omitempty"`
	MessagesSent     uint64 `json:"messagesSent,omitempty"`
	MessagesReceived uint64 `json:"messagesReceived,omitempty"`
	ErrorCount       uint64 `json:"errorCount,omitempty"`
}

// StatsHandler handles REST API requests for runtime and broker statistics.
type StatsHandler struct {
	src BrokerStats
}

// NewStatsHandler builds a StatsHandler. src may be nil, in which case
// /api/stats reports runtime stats only (matching the teacher's behavior
// before a broker existed).
func NewStatsHandler(src BrokerStats) *StatsHandler {
	return &StatsHandler{src: src}
}

// ServeHTTP implements http.Handler to return runtime statistics as JSON.
func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body := statsBody{Stats: utils.GetStats()}
	if h != nil && h.src != nil {
		body.Sessions = h.src.SessionCount()
		body.Devices = h.src.DeviceCount()
		traffic := h.src.TrafficSnapshot()
		body.MessagesSent = traffic.MessagesSent
		body.MessagesReceived = traffic.MessagesReceived
		body.ErrorCount = traffic.ErrorCount
	}

	data, err := json.Marshal(body)
	if err != nil {
		slog.Error("Failed to encode stats", "error", err)
		http.Error(w, "Failed to encode stats", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
