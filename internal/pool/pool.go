// Package pool manages per-provider credential pools. Each provider tag
// owns an ordered list of entries; selection round-robins over the
// currently-healthy subset.
package pool

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// maxErrorCount is the consecutive-error threshold after which an entry is
// taken out of rotation.
const maxErrorCount = 3

// ErrNoneAvailable reports that every entry of a provider's pool is
// unhealthy or the pool is empty.
var ErrNoneAvailable = errors.New("no healthy provider available")

// Entry is one credential set inside a provider pool plus its runtime
// status.
type Entry struct {
	Config map[string]any

	UUID          string
	IsHealthy     bool
	LastUsed      *time.Time
	UsageCount    int
	ErrorCount    int
	LastErrorTime *time.Time
}

// Manager holds the pools and the per-provider round-robin cursors.
type Manager struct {
	mu       sync.RWMutex
	pools    map[string][]Entry
	cursors  map[string]int
	filePath string
}

// New builds a Manager from inline pool definitions, typically the
// provider_pools config block. Status fields present on an entry are
// restored; everything else starts healthy.
func New(pools map[string][]map[string]any, filePath string) *Manager {
	m := &Manager{
		pools:    make(map[string][]Entry, len(pools)),
		cursors:  make(map[string]int, len(pools)),
		filePath: filePath,
	}
	for provider, configs := range pools {
		entries := make([]Entry, 0, len(configs))
		for _, cfg := range configs {
			entries = append(entries, entryFromConfig(cfg))
		}
		m.pools[provider] = entries
	}
	log.Infof("provider pools initialized for %d provider(s)", len(m.pools))
	return m
}

// LoadFile builds a Manager from a pools JSON file of the shape
// {provider: [entry, ...]}. State written back by a previous run is
// restored.
func LoadFile(path string) (*Manager, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pools file: %w", err)
	}
	var raw map[string][]map[string]any
	if err = json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse pools file: %w", err)
	}
	return New(raw, path), nil
}

func entryFromConfig(cfg map[string]any) Entry {
	e := Entry{Config: cfg, IsHealthy: true}
	if v, ok := cfg["uuid"].(string); ok {
		e.UUID = v
	}
	if v, ok := cfg["is_healthy"].(bool); ok {
		e.IsHealthy = v
	}
	if v, ok := cfg["usage_count"].(float64); ok {
		e.UsageCount = int(v)
	}
	if v, ok := cfg["error_count"].(float64); ok {
		e.ErrorCount = int(v)
	}
	return e
}

// Providers lists the provider tags that have a pool.
func (m *Manager) Providers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.pools))
	for provider := range m.pools {
		out = append(out, provider)
	}
	return out
}

// Has reports whether a pool exists for the provider tag.
func (m *Manager) Has(provider string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries, ok := m.pools[provider]
	return ok && len(entries) > 0
}

// Select returns the next healthy entry for the provider, advancing the
// round-robin cursor over the healthy subset. The returned config is the
// entry's raw JSON document.
func (m *Manager) Select(provider string) (uuid string, config []byte, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.pools[provider]
	var healthy []int
	for i, e := range entries {
		if e.IsHealthy {
			healthy = append(healthy, i)
		}
	}
	if len(healthy) == 0 {
		return "", nil, ErrNoneAvailable
	}

	cursor := m.cursors[provider]
	selected := healthy[cursor%len(healthy)]
	m.cursors[provider] = (cursor + 1) % len(healthy)

	now := time.Now()
	entries[selected].LastUsed = &now
	entries[selected].UsageCount++

	raw, err := json.Marshal(entries[selected].Config)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode pool entry: %w", err)
	}
	log.Debugf("selected pool entry %s for %s (usage %d)", entries[selected].UUID, provider, entries[selected].UsageCount)

	m.saveLocked()
	return entries[selected].UUID, raw, nil
}

// MarkUnhealthy records an error against the entry; at maxErrorCount
// consecutive errors the entry leaves the rotation.
func (m *Manager) MarkUnhealthy(provider, uuid string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.pools[provider]
	for i := range entries {
		if entries[i].UUID != uuid {
			continue
		}
		entries[i].ErrorCount++
		now := time.Now()
		entries[i].LastErrorTime = &now
		if entries[i].ErrorCount >= maxErrorCount {
			entries[i].IsHealthy = false
			log.Warnf("pool entry %s for %s marked unhealthy after %d errors", uuid, provider, entries[i].ErrorCount)
		} else {
			log.Debugf("pool entry %s for %s error count %d/%d", uuid, provider, entries[i].ErrorCount, maxErrorCount)
		}
		m.saveLocked()
		return
	}
}

// MarkHealthy returns the entry to the rotation and clears its error
// state.
func (m *Manager) MarkHealthy(provider, uuid string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.pools[provider]
	for i := range entries {
		if entries[i].UUID != uuid {
			continue
		}
		entries[i].IsHealthy = true
		entries[i].ErrorCount = 0
		entries[i].LastErrorTime = nil
		log.Infof("pool entry %s for %s marked healthy", uuid, provider)
		m.saveLocked()
		return
	}
}

// saveLocked writes the pool state back to the pools file. Callers hold
// the manager lock. A manager built from inline config has no file and
// skips the write-back.
func (m *Manager) saveLocked() {
	if m.filePath == "" {
		return
	}
	out := make(map[string][]map[string]any, len(m.pools))
	for provider, entries := range m.pools {
		configs := make([]map[string]any, 0, len(entries))
		for _, e := range entries {
			cfg := make(map[string]any, len(e.Config)+4)
			for k, v := range e.Config {
				cfg[k] = v
			}
			cfg["is_healthy"] = e.IsHealthy
			cfg["usage_count"] = e.UsageCount
			cfg["error_count"] = e.ErrorCount
			if e.LastUsed != nil {
				cfg["last_used"] = e.LastUsed.Format(time.RFC3339)
			}
			if e.LastErrorTime != nil {
				cfg["last_error_time"] = e.LastErrorTime.Format(time.RFC3339)
			}
			configs = append(configs, cfg)
		}
		out[provider] = configs
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		log.Errorf("failed to encode pools state: %v", err)
		return
	}
	if err = os.WriteFile(m.filePath, data, 0o644); err != nil {
		log.Errorf("failed to write pools file: %v", err)
	}
}
