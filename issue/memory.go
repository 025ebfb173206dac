package issue

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"roadassist/geo"
)

// MemoryRepository keeps issues in process. Pending issues are additionally
// held in a quad-tree so Nearby does not scan the whole store.
type MemoryRepository struct {
	mu      sync.Mutex
	issues  map[string]Issue
	pending *geo.Index
	events  []Event
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		issues:  make(map[string]Issue),
		pending: geo.NewIndex(),
	}
}

func (r *MemoryRepository) Create(ctx context.Context, iss Issue, created Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := iss.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.issues[iss.ID]; exists {
		return fmt.Errorf("issue: %s already exists: %w", iss.ID, ErrConflict)
	}
	stored := iss.Clone()
	if err := r.reindex(stored); err != nil {
		return fmt.Errorf("issue: index %s: %w", iss.ID, err)
	}
	r.issues[iss.ID] = stored
	r.record(created)
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (Issue, error) {
	if err := ctx.Err(); err != nil {
		return Issue{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	iss, ok := r.issues[id]
	if !ok {
		return Issue{}, fmt.Errorf("issue: %s: %w", id, ErrNotFound)
	}
	return iss.Clone(), nil
}

func (r *MemoryRepository) Apply(ctx context.Context, id string, fn Transition) (Issue, error) {
	if err := ctx.Err(); err != nil {
		return Issue{}, err
	}

	// The mutex is held from read to write, so no version check is needed.
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.issues[id]
	if !ok {
		return Issue{}, fmt.Errorf("issue: %s: %w", id, ErrNotFound)
	}

	next := current.Clone()
	ev, err := fn(&next)
	if err != nil {
		return Issue{}, err
	}
	if err := next.Validate(); err != nil {
		return Issue{}, err
	}
	if err := ctx.Err(); err != nil {
		return Issue{}, err
	}

	next.Version = current.Version + 1
	if err := r.reindex(next); err != nil {
		return Issue{}, fmt.Errorf("issue: index %s: %w", id, err)
	}
	r.issues[id] = next
	r.record(ev)
	return next.Clone(), nil
}

func (r *MemoryRepository) Nearby(ctx context.Context, q NearbyQuery) ([]NearbyResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	matches := r.pending.Within(q.Point, q.MaxDistance)
	out := make([]NearbyResult, 0, len(matches))
	for _, m := range matches {
		iss, ok := r.issues[m.ID]
		if !ok || iss.Status != StatusPending {
			continue
		}
		out = append(out, NearbyResult{Issue: iss.Clone(), Distance: m.Distance})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		if !out[i].Issue.CreatedAt.Equal(out[j].Issue.CreatedAt) {
			return out[i].Issue.CreatedAt.Before(out[j].Issue.CreatedAt)
		}
		return out[i].Issue.ID < out[j].Issue.ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (r *MemoryRepository) ListByOwner(ctx context.Context, ownerID string) ([]Issue, error) {
	return r.filter(ctx, func(iss Issue) bool { return iss.OwnerID == ownerID })
}

func (r *MemoryRepository) ListByProvider(ctx context.Context, providerID string) ([]Issue, error) {
	return r.filter(ctx, func(iss Issue) bool { return iss.HasOfferFrom(providerID) })
}

// Events returns every event recorded so far, oldest first.
func (r *MemoryRepository) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *MemoryRepository) filter(ctx context.Context, keep func(Issue) bool) ([]Issue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Issue, 0, 8)
	for _, iss := range r.issues {
		if keep(iss) {
			out = append(out, iss.Clone())
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// reindex keeps the spatial index equal to the set of pending issues.
func (r *MemoryRepository) reindex(iss Issue) error {
	if iss.Status == StatusPending {
		return r.pending.Insert(iss.ID, iss.Location)
	}
	r.pending.Remove(iss.ID)
	return nil
}

func (r *MemoryRepository) record(ev Event) {
	if ev.Topic == "" {
		return
	}
	r.events = append(r.events, ev)
}

func sortNewestFirst(issues []Issue) {
	sort.Slice(issues, func(i, j int) bool {
		if !issues[i].CreatedAt.Equal(issues[j].CreatedAt) {
			return issues[i].CreatedAt.After(issues[j].CreatedAt)
		}
		return issues[i].ID < issues[j].ID
	})
}
