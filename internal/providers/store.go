package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nulpointcorp/llm-router/internal/store"
)

// Store maps provider records onto a store.Collection. It only encodes and
// decodes; selection rules live in Registry.
type Store struct {
	coll store.Collection
}

// NewStore wraps coll, typically the "models" collection.
func NewStore(coll store.Collection) *Store {
	return &Store{coll: coll}
}

// GetAll returns every record keyed by id. A field whose value cannot be
// decoded is skipped and reported through the returned skipped ids.
func (s *Store) GetAll(ctx context.Context) (map[string]Record, []string, error) {
	raw, err := s.coll.GetAll(ctx)
	if err != nil {
		return nil, nil, err
	}

	out := make(map[string]Record, len(raw))
	var skipped []string
	for id, v := range raw {
		var rec Record
		if err := json.Unmarshal(v, &rec); err != nil {
			skipped = append(skipped, id)
			continue
		}
		rec.ID = id
		out[id] = rec
	}
	return out, skipped, nil
}

// Get returns the record stored under id.
func (s *Store) Get(ctx context.Context, id string) (Record, bool, error) {
	v, ok, err := s.coll.Get(ctx, id)
	if err != nil || !ok {
		return Record{}, false, err
	}
	var rec Record
	if err := json.Unmarshal(v, &rec); err != nil {
		return Record{}, false, fmt.Errorf("providers: decode record %s: %w", id, err)
	}
	rec.ID = id
	return rec, true, nil
}

// Set writes rec under rec.ID, replacing any existing record.
func (s *Store) Set(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("providers: record id is empty")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("providers: encode record %s: %w", rec.ID, err)
	}
	return s.coll.Set(ctx, rec.ID, data)
}

// Delete removes the record stored under id. Missing ids are not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.coll.Delete(ctx, id)
}
