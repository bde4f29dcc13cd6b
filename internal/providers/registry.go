package providers

import (
	"context"
	"log/slog"
	"sort"
	"strings"
)

// Registry resolves a caller-facing model id to a provider record.
//
// The whole collection is read on every call: records added or removed through
// the admin API (or directly in Redis) take effect on the next request without
// any invalidation step.
type Registry struct {
	store *Store
	log   *slog.Logger
}

// NewRegistry creates a Registry over st. log may be nil.
func NewRegistry(st *Store, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{store: st, log: log}
}

// Store returns the underlying record store.
func (r *Registry) Store() *Store { return r.store }

// Resolve returns the record serving modelID.
//
// When several records share a model id the oldest one (createdAt, then id)
// wins and a warning names the others. ErrModelUnsupported is returned when
// nothing matches; store failures are returned unchanged.
func (r *Registry) Resolve(ctx context.Context, modelID string) (*Record, error) {
	all, skipped, err := r.store.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	if len(skipped) > 0 {
		r.log.WarnContext(ctx, "undecodable_provider_records",
			slog.String("ids", strings.Join(skipped, ",")),
		)
	}

	var matches []Record
	for _, rec := range all {
		if rec.Model == modelID {
			matches = append(matches, rec)
		}
	}
	if len(matches) == 0 {
		return nil, ErrModelUnsupported
	}

	sortRecords(matches)
	if len(matches) > 1 {
		ids := make([]string, 0, len(matches))
		for _, m := range matches {
			ids = append(ids, m.ID)
		}
		r.log.WarnContext(ctx, "duplicate_model_registration",
			slog.String("model", modelID),
			slog.String("selected", matches[0].ID),
			slog.String("ids", strings.Join(ids, ",")),
		)
	}

	rec := matches[0]
	return &rec, nil
}

// List returns every record with its API key masked.
func (r *Registry) List(ctx context.Context) (map[string]Record, error) {
	all, _, err := r.store.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	for id, rec := range all {
		all[id] = rec.Masked()
	}
	return all, nil
}

// Sorted returns the records of m ordered by createdAt, then id.
func Sorted(m map[string]Record) []Record {
	out := make([]Record, 0, len(m))
	for _, rec := range m {
		out = append(out, rec)
	}
	sortRecords(out)
	return out
}

func sortRecords(recs []Record) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].CreatedAt != recs[j].CreatedAt {
			return recs[i].CreatedAt < recs[j].CreatedAt
		}
		return recs[i].ID < recs[j].ID
	})
}
