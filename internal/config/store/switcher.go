package store

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/arrdeck/arrdeck/internal/config/store/dbutil"
)

// SwitchTo makes id the single active profile. Disabling the current
// profile and enabling the target happen in one transaction, so an unknown
// id leaves the store unchanged. Switching to the already active profile
// is a no-op.
func (s *Store) SwitchTo(ctx context.Context, id string) (Profile, error) {
	var active Profile
	err := s.writeTx(ctx, "switch profile", func(tx *sql.Tx, _ *vaultOps) error {
		if err := s.switchInTx(ctx, tx, id); err != nil {
			return err
		}
		var err error
		active, err = loadProfile(ctx, tx, `WHERE id = ?`, id, id)
		return err
	})
	if err != nil {
		return Profile{}, err
	}
	s.logger.Info("switched profile", zap.String("profile_id", active.ID), zap.String("name", active.Name))
	return active, nil
}

// switchInTx disables every other enabled profile, then enables id. Only
// rows whose flag actually changes get a new updated_at.
func (s *Store) switchInTx(ctx context.Context, tx *sql.Tx, id string) error {
	target, err := loadProfileRow(ctx, tx, id)
	if err != nil {
		return err
	}
	if target.IsEnabled {
		return nil
	}

	now := dbutil.FormatTime(s.now())
	if _, err := tx.ExecContext(ctx,
		`UPDATE profiles SET is_enabled = 0, updated_at = ? WHERE is_enabled = 1 AND id <> ?`, now, id,
	); err != nil {
		return storageErr("disable active profile", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE profiles SET is_enabled = 1, updated_at = ? WHERE id = ?`, now, id,
	); err != nil {
		return storageErr("enable profile", err)
	}
	return nil
}
