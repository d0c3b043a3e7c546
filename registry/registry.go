// Package registry is the device catalog (C4): the single piece of
// cross-peer mutable state in the broker. It tracks which devices exist,
// which are currently connected, and their last-known properties, and hands
// debounced snapshots to an external persistence collaborator.
package registry

import (
	"sync"
	"time"

	"github.com/rustyeddy/astrocomm/envelope"
)

// Record is one device's catalog entry.
type Record struct {
	Info       envelope.DeviceInfo
	Connected  bool
	Properties map[string]any
	LastSeen   time.Time
}

func (r Record) clone() Record {
	props := make(map[string]any, len(r.Properties))
	for k, v := range r.Properties {
		props[k] = v
	}
	r.Properties = props
	return r
}

// Snapshotter is the external persistence collaborator; Save is called on a
// debounce timer after any mutation when autosave is enabled.
type Snapshotter interface {
	Save(records map[string]Record) error
	Load() (map[string]Record, error)
}

// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	records map[string]Record

	snapshot      Snapshotter
	autosave      bool
	debounce      time.Duration
	saveTimer     *time.Timer
	saveTimerOnce sync.Once
}

// Option configures a Registry at construction.
type Option func(*Registry)

// WithPersistence enables debounced autosave through snap, flushing no more
// often than debounce after the last mutation.
func WithPersistence(snap Snapshotter, debounce time.Duration) Option {
	return func(r *Registry) {
		r.snapshot = snap
		r.autosave = true
		r.debounce = debounce
	}
}

// New builds an empty registry and applies opts.
func New(opts ...Option) *Registry {
	r := &Registry{records: make(map[string]Record)}
	for _, o := range opts {
		o(r)
	}
	return r
}

// LoadSnapshot restores device records from the persistence collaborator,
// if one is configured. Restored records start disconnected (spec §4.4).
func (r *Registry) LoadSnapshot() error {
	if r.snapshot == nil {
		return nil
	}
	records, err := r.snapshot.Load()
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, rec := range records {
		rec.Connected = false
		r.records[id] = rec
	}
	return nil
}

// Register adds or replaces a device record. It is rejected if id exists and
// is currently connected; otherwise it replaces the record and marks it
// connected (spec §4.4).
func (r *Registry) Register(info envelope.DeviceInfo) bool {
	r.mu.Lock()
	if existing, ok := r.records[info.ID]; ok && existing.Connected {
		r.mu.Unlock()
		return false
	}
	r.records[info.ID] = Record{
		Info:       info,
		Connected:  true,
		Properties: make(map[string]any),
		LastSeen:   time.Now(),
	}
	r.mu.Unlock()
	r.scheduleSave()
	return true
}

// Unregister removes a device entirely.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	delete(r.records, id)
	r.mu.Unlock()
	r.scheduleSave()
}

// Update merges partial device info fields into an existing record. It is a
// no-op if id is unknown.
func (r *Registry) Update(id string, partial envelope.DeviceInfo) {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	if partial.Type != "" {
		rec.Info.Type = partial.Type
	}
	if partial.Manufacturer != "" {
		rec.Info.Manufacturer = partial.Manufacturer
	}
	if partial.Model != "" {
		rec.Info.Model = partial.Model
	}
	if partial.FirmwareVersion != "" {
		rec.Info.FirmwareVersion = partial.FirmwareVersion
	}
	if partial.Capabilities != nil {
		rec.Info.Capabilities = partial.Capabilities
	}
	r.records[id] = rec
	r.mu.Unlock()
	r.scheduleSave()
}

// SetConnected flips a device's connected flag and bumps lastSeen.
func (r *Registry) SetConnected(id string, connected bool) {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	rec.Connected = connected
	rec.LastSeen = time.Now()
	r.records[id] = rec
	r.mu.Unlock()
	r.scheduleSave()
}

// Get returns a copy of the record for id.
func (r *Registry) Get(id string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return Record{}, false
	}
	return rec.clone(), true
}

// List returns copies of all records whose type is in types, or all records
// if types is empty.
func (r *Registry) List(types ...string) map[string]Record {
	want := make(map[string]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Record, len(r.records))
	for id, rec := range r.records {
		if len(want) > 0 && !want[rec.Info.Type] {
			continue
		}
		out[id] = rec.clone()
	}
	return out
}

// SetProperty stores value under name on device id and returns the previous
// value, if any, so callers can decide whether to fan out a change event.
// It is atomic with respect to readers (spec §4.4).
func (r *Registry) SetProperty(id, name string, value any) (old any, existed bool) {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return nil, false
	}
	old, existed = rec.Properties[name]
	rec.Properties[name] = value
	rec.LastSeen = time.Now()
	r.records[id] = rec
	r.mu.Unlock()
	r.scheduleSave()
	return old, existed
}

// GetProperty reads a single property by name.
func (r *Registry) GetProperty(id, name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, false
	}
	v, ok := rec.Properties[name]
	return v, ok
}

// scheduleSave debounces a snapshot write; it is a no-op without autosave.
func (r *Registry) scheduleSave() {
	if !r.autosave || r.snapshot == nil {
		return
	}
	r.mu.Lock()
	if r.saveTimer != nil {
		r.saveTimer.Stop()
	}
	r.saveTimer = time.AfterFunc(r.debounce, r.flush)
	r.mu.Unlock()
}

func (r *Registry) flush() {
	r.mu.RLock()
	snap := make(map[string]Record, len(r.records))
	for id, rec := range r.records {
		snap[id] = rec.clone()
	}
	r.mu.RUnlock()
	_ = r.snapshot.Save(snap)
}
