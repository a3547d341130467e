// Package memory provides the store of accepted fluent definitions.
//
// Entries are keyed by concept id and reused as prompt context when
// generating concepts that depend on them. The store is safe for concurrent
// use by runs executing in parallel: writes are exclusive, reads are shared.
package memory

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Entry is a stored, previously accepted concept definition.
// Entries are replaced wholesale on re-acceptance, never mutated in place.
type Entry struct {
	ID          string            `json:"id"`
	Description string            `json:"description,omitempty"`
	Rules       string            `json:"rules"`
	Score       float64           `json:"score"`
	CreatedAt   time.Time         `json:"created_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Store is an in-memory key-value store of accepted definitions.
// The zero value is not usable; construct with New.
type Store struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// New creates an empty store
func New() *Store {
	return &Store{entries: make(map[string]Entry)}
}

// Put stores a definition for the concept, overwriting any existing entry
// unconditionally. No version history is kept.
func (s *Store) Put(id, description, rules string, score float64, metadata map[string]string) {
	// Copy the metadata so later caller mutations cannot reach the stored
	// entry.
	var meta map[string]string
	if len(metadata) > 0 {
		meta = make(map[string]string, len(metadata))
		for k, v := range metadata {
			meta[k] = v
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = Entry{
		ID:          id,
		Description: description,
		Rules:       rules,
		Score:       score,
		CreatedAt:   time.Now().UTC(),
		Metadata:    meta,
	}
}

// Get returns the entry for the concept and whether it exists
func (s *Store) Get(id string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e, ok
}

// GetMany returns the entries present for the given ids. Missing ids are
// silently omitted; lookups never error.
func (s *Store) GetMany(ids []string) map[string]Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Entry, len(ids))
	for _, id := range ids {
		if e, ok := s.entries[id]; ok {
			out[id] = e
		}
	}
	return out
}

// Contains reports whether the concept has an accepted definition
func (s *Store) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[id]
	return ok
}

// ListIDs returns all stored concept ids, sorted for stable output
func (s *Store) ListIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of stored entries
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Clear removes all entries. Entries are never deleted implicitly; this is
// the only removal operation.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]Entry)
}

// FormatForInjection renders the entries for the given ids, in the given
// order, as a single text block suitable for verbatim inclusion in a
// generation prompt. Each entry is tagged with its id; descriptions are
// included when requested. Missing ids are skipped.
func (s *Store) FormatForInjection(ids []string, includeDescription bool) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var parts []string
	for _, id := range ids {
		e, ok := s.entries[id]
		if !ok {
			continue
		}
		section := []string{fmt.Sprintf("%% === %s ===", id)}
		if includeDescription && e.Description != "" {
			section = append(section, fmt.Sprintf("%% Description: %s", e.Description))
		}
		section = append(section, e.Rules)
		parts = append(parts, strings.Join(section, "\n"))
	}
	return strings.Join(parts, "\n\n")
}

// Snapshot serializes the full store content as JSON for external
// checkpointing. The mapping is id → entry.
func (s *Store) Snapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.MarshalIndent(s.entries, "", "  ")
}

// Restore replaces the store content with a previously taken snapshot
func (s *Store) Restore(data []byte) error {
	entries := make(map[string]Entry)
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to decode memory snapshot: %w", err)
	}
	for id, e := range entries {
		if e.ID == "" {
			e.ID = id
			entries[id] = e
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = entries
	return nil
}
