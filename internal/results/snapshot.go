package results

import (
	"context"
	"sync/atomic"
	"time"
)

// Snapshot is the full set of result tables loaded at one point in time. It is
// never mutated after LoadAll returns; a reload builds a new one.
type Snapshot struct {
	Catalog  Catalog
	Tables   map[string][]Row
	Errors   map[string]string
	LoadedAt time.Time
}

// Rows returns the table for a category id; missing categories are empty.
func (s *Snapshot) Rows(categoryID string) []Row {
	if s == nil {
		return nil
	}
	return s.Tables[categoryID]
}

// Total counts rows across every category.
func (s *Snapshot) Total() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, rows := range s.Tables {
		n += len(rows)
	}
	return n
}

// Summary is a per-category report for operators.
type Summary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Rows  int    `json:"rows"`
	Error string `json:"error,omitempty"`
}

// Summaries lists every category in catalog order.
func (s *Snapshot) Summaries() []Summary {
	if s == nil {
		return nil
	}
	out := make([]Summary, 0, len(s.Catalog))
	for _, c := range s.Catalog {
		out = append(out, Summary{ID: c.ID, Name: c.Name, Rows: len(s.Tables[c.ID]), Error: s.Errors[c.ID]})
	}
	return out
}

// Holder publishes the current snapshot to concurrent readers.
type Holder struct {
	loader  *Loader
	catalog Catalog
	current atomic.Pointer[Snapshot]
}

// NewHolder wraps an already loaded snapshot.
func NewHolder(loader *Loader, catalog Catalog, initial *Snapshot) *Holder {
	h := &Holder{loader: loader, catalog: catalog}
	if initial == nil {
		initial = &Snapshot{Catalog: catalog, Tables: map[string][]Row{}, Errors: map[string]string{}}
	}
	h.current.Store(initial)
	return h
}

// Current returns the snapshot in use.
func (h *Holder) Current() *Snapshot {
	return h.current.Load()
}

// Reload builds a new snapshot and swaps it in.
func (h *Holder) Reload(ctx context.Context) *Snapshot {
	snap := h.loader.LoadAll(ctx, h.catalog)
	h.current.Store(snap)
	return snap
}
