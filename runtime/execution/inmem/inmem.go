// Package inmem provides an in-memory implementation of execution.Store for
// tests and local development. Records live in a map keyed by execution id
// and do not survive process restarts; production deployments use
// features/execution/mongo.
package inmem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/modulith/orchestration/runtime/execution"
)

// Store implements execution.Store in memory. Records are copied on read and
// write so callers cannot mutate stored state.
type Store struct {
	mu      sync.RWMutex
	records map[string]execution.Record
}

// New constructs an empty Store.
func New() *Store {
	return &Store{records: make(map[string]execution.Record)}
}

// Save inserts or replaces the record with the same ID. RequestedAt defaults
// to time.Now for new records.
func (s *Store) Save(_ context.Context, r *execution.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := clone(*r)
	if existing, ok := s.records[r.ID]; ok && c.RequestedAt.IsZero() {
		c.RequestedAt = existing.RequestedAt
	} else if c.RequestedAt.IsZero() {
		c.RequestedAt = time.Now().UTC()
	}
	s.records[r.ID] = c
	return nil
}

// Get returns a copy of the record for id.
func (s *Store) Get(_ context.Context, id string) (*execution.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, execution.ErrRecordNotFound
	}
	c := clone(r)
	return &c, nil
}

// MarkCanceled stamps the cancel request time of id.
func (s *Store) MarkCanceled(_ context.Context, id string, at time.Time) error {
	return s.update(id, func(r *execution.Record) { r.CanceledAt = &at })
}

// MarkTerminated stamps the termination time and reason of id.
func (s *Store) MarkTerminated(_ context.Context, id, reason string, at time.Time) error {
	return s.update(id, func(r *execution.Record) {
		r.TerminatedAt = &at
		r.Reason = reason
	})
}

// List returns the records matching f, newest first.
func (s *Store) List(_ context.Context, f execution.RecordFilter) ([]*execution.Record, error) {
	s.mu.RLock()
	out := make([]*execution.Record, 0, len(s.records))
	for _, r := range s.records {
		if f.Kind != "" && r.Kind != f.Kind {
			continue
		}
		if f.Unit != "" && r.Unit != f.Unit {
			continue
		}
		c := clone(r)
		out = append(out, &c)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RequestedAt.After(out[j].RequestedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Reset clears all records.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]execution.Record)
}

func (s *Store) update(id string, fn func(*execution.Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return execution.ErrRecordNotFound
	}
	fn(&r)
	s.records[id] = clone(r)
	return nil
}

func clone(r execution.Record) execution.Record {
	if r.Args != nil {
		r.Args = append([]byte(nil), r.Args...)
	}
	if r.CanceledAt != nil {
		t := *r.CanceledAt
		r.CanceledAt = &t
	}
	if r.TerminatedAt != nil {
		t := *r.TerminatedAt
		r.TerminatedAt = &t
	}
	return r
}
