package store

import (
	"context"
	"database/sql"
	"time"
)

// ChangeSnapshot captures update markers for the profile tables.
type ChangeSnapshot struct {
	Profiles       string
	Configurations string
	ActiveProfile  string
}

// ChangeEvent describes what changed since the last snapshot.
type ChangeEvent struct {
	ProfilesChanged       bool
	ConfigurationsChanged bool
	ActiveProfileChanged  bool
	Snapshot              ChangeSnapshot
}

// Changed returns true when at least one tracked group changed.
func (e ChangeEvent) Changed() bool {
	return e.ProfilesChanged || e.ConfigurationsChanged || e.ActiveProfileChanged
}

// Watch polls the store for changes made by this or another process and
// emits events on the returned channel. The caller must cancel ctx to
// terminate the watcher. The interval is clamped to a minimum of 500ms.
func (s *Store) Watch(ctx context.Context, interval time.Duration) (<-chan ChangeEvent, error) {
	if s == nil {
		return nil, sql.ErrConnDone
	}

	if interval <= 0 {
		interval = time.Second
	}
	if interval < 500*time.Millisecond {
		interval = 500 * time.Millisecond
	}

	initial, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan ChangeEvent, 1)
	go func() {
		defer close(out)

		last := initial
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				next, err := s.snapshot(ctx)
				if err != nil {
					continue
				}
				ev := diffSnapshots(last, next)
				if !ev.Changed() {
					continue
				}
				select {
				case out <- ev:
					last = next
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// snapshot combines row counts with the newest updated_at so deletions are
// noticed too.
func (s *Store) snapshot(ctx context.Context) (ChangeSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return ChangeSnapshot{}, sql.ErrConnDone
	}

	var snap ChangeSnapshot
	if err := s.db.QueryRowContext(ctx, `
        SELECT COUNT(*) || ':' || IFNULL(MAX(updated_at), '')
        FROM profiles
    `).Scan(&snap.Profiles); err != nil {
		return ChangeSnapshot{}, err
	}

	if err := s.db.QueryRowContext(ctx, `
        SELECT COUNT(*) || ':' || IFNULL(MAX(updated_at), '')
        FROM service_configurations
    `).Scan(&snap.Configurations); err != nil {
		return ChangeSnapshot{}, err
	}

	if err := s.db.QueryRowContext(ctx, `
        SELECT IFNULL(MAX(id), '')
        FROM profiles
        WHERE is_enabled = 1
    `).Scan(&snap.ActiveProfile); err != nil {
		return ChangeSnapshot{}, err
	}

	return snap, nil
}

func diffSnapshots(prev, curr ChangeSnapshot) ChangeEvent {
	return ChangeEvent{
		ProfilesChanged:       curr.Profiles != prev.Profiles,
		ConfigurationsChanged: curr.Configurations != prev.Configurations,
		ActiveProfileChanged:  curr.ActiveProfile != prev.ActiveProfile,
		Snapshot:              curr,
	}
}
