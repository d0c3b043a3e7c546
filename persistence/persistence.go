// Package persistence is the external device-catalog collaborator
// (spec §1, "on-disk persistence of user/device config... external
// collaborator whose interface the core consumes"): a JSON snapshot file
// the registry loads at startup and debounce-saves to on mutation.
package persistence

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/rustyeddy/astrocomm/registry"
)

// document is the on-disk shape: { "devices": {...}, "savedAt": "<iso>" }.
type document struct {
	Devices map[string]registry.Record `json:"devices"`
	SavedAt time.Time                  `json:"savedAt"`
}

// FileStore implements registry.Snapshotter over a single JSON file.
type FileStore struct {
	Path string
	log  *slog.Logger
}

// NewFileStore builds a snapshotter writing to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path, log: slog.Default().With("component", "persistence", "path", path)}
}

// Save atomically writes records to Path: the document is written to a
// temp file in the same directory, then renamed into place, so a crash
// mid-write never corrupts the last good snapshot.
func (f *FileStore) Save(records map[string]registry.Record) error {
	doc := document{Devices: records, SavedAt: time.Now().UTC()}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("persistence: marshal snapshot: %w", err)
	}

	dir := filepath.Dir(f.Path)
	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("persistence: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("persistence: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("persistence: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.Path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("persistence: rename temp file: %w", err)
	}
	f.log.Debug("snapshot saved", "devices", len(records))
	return nil
}

// Load reads the snapshot file. A missing file is not an error: it means
// no snapshot has ever been written, so the registry starts empty.
func (f *FileStore) Load() (map[string]registry.Record, error) {
	b, err := os.ReadFile(f.Path)
	if os.IsNotExist(err) {
		return map[string]registry.Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("persistence: read snapshot: %w", err)
	}

	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("persistence: decode snapshot: %w", err)
	}
	if doc.Devices == nil {
		doc.Devices = make(map[string]registry.Record)
	}
	f.log.Debug("snapshot loaded", "devices", len(doc.Devices), "savedAt", doc.SavedAt)
	return doc.Devices, nil
}
