package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/rustyeddy/astrocomm/registry"
)

// DeviceLister is the subset of registry.Registry that DevicesHandler
// reports on. Declared as an interface so server doesn't need the broker
// wiring, only the registry it already depends on for record shapes.
type DeviceLister interface {
	List(types ...string) map[string]registry.Record
}

// DevicesHandler serves the registered device catalog as JSON.
type DevicesHandler struct {
	src DeviceLister
}

func NewDevicesHandler(src DeviceLister) *DevicesHandler {
	return &DevicesHandler{src: src}
}

func (h *DevicesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var devices map[string]registry.Record
	if h != nil && h.src != nil {
		devices = h.src.List()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(devices); err != nil {
		slog.Error("Failed to encode devices", "error", err)
		http.Error(w, "Failed to encode devices", http.StatusInternalServerError)
	}
}

// VersionHandler answers /version with the running release string.
type VersionHandler struct {
	Version string
}

func (h VersionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"version": h.Version})
}
