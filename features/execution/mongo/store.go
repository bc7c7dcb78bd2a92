package mongo

import (
	"context"
	"errors"
	"time"

	mongoc "github.com/modulith/orchestration/features/execution/mongo/clients/mongo"
	"github.com/modulith/orchestration/runtime/execution"
)

// Store implements execution.Store by delegating to the Mongo client.
type Store struct {
	client mongoc.Client
}

var _ execution.Store = (*Store)(nil)

// NewStore builds a Store using the provided client.
func NewStore(client mongoc.Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: client}, nil
}

// Save upserts the record.
func (s *Store) Save(ctx context.Context, r *execution.Record) error {
	if r == nil {
		return errors.New("record is required")
	}
	return s.client.SaveExecution(ctx, *r)
}

// Get loads the record for id.
func (s *Store) Get(ctx context.Context, id string) (*execution.Record, error) {
	rec, err := s.client.LoadExecution(ctx, id)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// MarkCanceled stamps the cancel request time.
func (s *Store) MarkCanceled(ctx context.Context, id string, at time.Time) error {
	return s.client.MarkCanceled(ctx, id, at)
}

// MarkTerminated stamps the termination time and reason.
func (s *Store) MarkTerminated(ctx context.Context, id, reason string, at time.Time) error {
	return s.client.MarkTerminated(ctx, id, reason, at)
}

// List returns the records matching f, newest first.
func (s *Store) List(ctx context.Context, f execution.RecordFilter) ([]*execution.Record, error) {
	recs, err := s.client.ListExecutions(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]*execution.Record, len(recs))
	for i := range recs {
		out[i] = &recs[i]
	}
	return out, nil
}

// Name implements health.Pinger.
func (s *Store) Name() string {
	return s.client.Name()
}

// Ping implements health.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}
