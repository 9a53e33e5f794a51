package schedule

import (
	"context"

	"go.uber.org/multierr"
)

// Targeter binds filter criteria once and applies bulk operations to every
// matching schedule, keeping the live engine in sync.
type Targeter struct {
	manager *Manager
	filter  Filter
}

// Target builds a targeter over the manager.
func (m *Manager) Target(f Filter) *Targeter {
	return &Targeter{manager: m, filter: f}
}

func (t *Targeter) each(ctx context.Context, op func(ctx context.Context, id int64) error) (int, error) {
	jobs, err := t.manager.store.Query(ctx, t.filter, 0, 0)
	if err != nil {
		return 0, err
	}
	var errs error
	applied := 0
	for _, j := range jobs {
		if err := op(ctx, j.ID); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		applied++
	}
	return applied, errs
}

// Pause disables every matching schedule. Returns how many were paused.
func (t *Targeter) Pause(ctx context.Context) (int, error) {
	return t.each(ctx, t.manager.Pause)
}

// Resume re-enables every matching schedule.
func (t *Targeter) Resume(ctx context.Context) (int, error) {
	return t.each(ctx, t.manager.Resume)
}

// Remove deletes every matching schedule.
func (t *Targeter) Remove(ctx context.Context) (int, error) {
	return t.each(ctx, t.manager.Remove)
}
