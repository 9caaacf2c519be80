package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arrdeck/arrdeck/internal/config/store/dbutil"
)

// ExistingNames returns the subset of names that already belong to a
// profile, compared case-insensitively, in input order.
func (s *Store) ExistingNames(ctx context.Context, names []string) ([]string, error) {
	var taken []string
	err := s.readTx(ctx, "check profile names", func(tx *sql.Tx) error {
		for _, name := range names {
			var id string
			err := tx.QueryRowContext(ctx, `SELECT id FROM profiles WHERE name_key = ?`, nameKey(name)).Scan(&id)
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			if err != nil {
				return storageErr("check profile name", err)
			}
			taken = append(taken, name)
		}
		return nil
	})
	return taken, err
}

// ImportProfiles applies imported profiles in a single transaction and
// returns the profiles that were created or overwritten.
//
// A profile whose name is already taken is skipped unless overwrite is set,
// in which case its configurations are replaced (and their secrets
// deleted) while its id and creation time are kept. New profiles get a
// fresh id. Imported profiles are never enabled and imported
// configurations get fresh ids and no secrets.
func (s *Store) ImportProfiles(ctx context.Context, entries []ImportedProfile, overwrite bool) ([]Profile, error) {
	seen := make(map[string]bool, len(entries))
	for i := range entries {
		name, err := cleanName(entries[i].Name)
		if err != nil {
			return nil, err
		}
		key := nameKey(name)
		if seen[key] {
			return nil, ValidationError{Field: "name", Message: fmt.Sprintf("profile name %q appears more than once", name)}
		}
		seen[key] = true
		for _, cfg := range entries[i].Configurations {
			if err := validateConfiguration(cfg.Normalize()); err != nil {
				return nil, err
			}
		}
	}

	var (
		result  []Profile
		skipped int
	)
	err := s.writeTx(ctx, "import profiles", func(tx *sql.Tx, ops *vaultOps) error {
		now := s.now()
		stamp := dbutil.FormatTime(now)
		for _, entry := range entries {
			name, _ := cleanName(entry.Name)

			var existingID string
			err := tx.QueryRowContext(ctx, `SELECT id FROM profiles WHERE name_key = ?`, nameKey(name)).Scan(&existingID)
			switch {
			case errors.Is(err, sql.ErrNoRows):
				existingID = ""
			case err != nil:
				return storageErr("look up profile", err)
			}

			profileID := existingID
			switch {
			case existingID != "" && !overwrite:
				skipped++
				continue
			case existingID != "":
				ids, err := configurationIDs(ctx, tx, existingID)
				if err != nil {
					return err
				}
				for _, id := range ids {
					ops.removeConfig(id)
				}
				if _, err := tx.ExecContext(ctx, `DELETE FROM service_configurations WHERE profile_id = ?`, existingID); err != nil {
					return storageErr("replace profile configurations", err)
				}
				if err := touchProfile(ctx, tx, existingID, stamp); err != nil {
					return err
				}
			default:
				profileID = uuid.NewString()
				created := entry.CreatedAt
				if created.IsZero() {
					created = now
				}
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO profiles (id, name, name_key, is_enabled, created_at, updated_at)
					 VALUES (?, ?, ?, 0, ?, ?)`,
					profileID, name, nameKey(name), dbutil.FormatTime(created), stamp,
				); err != nil {
					return storageErr("insert imported profile", err)
				}
			}

			for _, cfg := range entry.Configurations {
				cfg = cfg.Normalize().Clone()
				cfg.ID = uuid.NewString()
				cfg.ProfileID = profileID
				if cfg.CreatedAt.IsZero() {
					cfg.CreatedAt = now
				}
				cfg.UpdatedAt = now
				if err := insertConfiguration(ctx, tx, cfg); err != nil {
					return err
				}
			}

			p, err := loadProfile(ctx, tx, `WHERE id = ?`, profileID, profileID)
			if err != nil {
				return err
			}
			result = append(result, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("profiles imported",
		zap.Int("applied", len(result)),
		zap.Int("skipped", skipped),
		zap.Bool("overwrite", overwrite),
	)
	if result == nil {
		result = []Profile{}
	}
	return result, nil
}
