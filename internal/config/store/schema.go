package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	storecrypto "github.com/arrdeck/arrdeck/internal/config/store/crypto"
	"github.com/arrdeck/arrdeck/internal/config/store/dbutil"
)

const schemaVersion = 1

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		name_key TEXT NOT NULL UNIQUE,
		is_enabled INTEGER NOT NULL DEFAULT 0 CHECK (is_enabled IN (0, 1)),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	// At most one enabled profile; "at least one" is kept by the
	// operations themselves.
	`CREATE UNIQUE INDEX IF NOT EXISTS profiles_single_enabled
		ON profiles(is_enabled) WHERE is_enabled = 1`,
	`CREATE TABLE IF NOT EXISTS service_configurations (
		id TEXT PRIMARY KEY,
		profile_id TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
		service_type TEXT NOT NULL,
		is_enabled INTEGER NOT NULL DEFAULT 1 CHECK (is_enabled IN (0, 1)),
		host TEXT NOT NULL DEFAULT '',
		auth_type TEXT NOT NULL,
		headers TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS service_configurations_profile
		ON service_configurations(profile_id, created_at)`,
}

func applySchema(ctx context.Context, db *sql.DB) error {
	if err := checkSchemaVersion(ctx, db); err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin schema tx", err)
	}
	defer tx.Rollback()

	for _, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return storageErr("apply schema", err)
		}
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return storageErr("set schema version", err)
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit schema", err)
	}
	return nil
}

// checkSchemaVersion refuses databases written by a newer release.
func checkSchemaVersion(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return storageErr("read schema version", err)
	}
	if version > schemaVersion {
		return dataErr("check schema version", fmt.Errorf("database schema %d is newer than supported version %d", version, schemaVersion))
	}
	return nil
}

// seedAndRepair creates the default profile on first use and restores the
// exactly-one-enabled invariant after a crash or a manual edit.
func (s *Store) seedAndRepair(ctx context.Context) error {
	return s.writeTx(ctx, "seed profiles", func(tx *sql.Tx, _ *vaultOps) error {
		var total int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles`).Scan(&total); err != nil {
			return storageErr("count profiles", err)
		}
		now := dbutil.FormatTime(s.now())
		if total == 0 {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO profiles (id, name, name_key, is_enabled, created_at, updated_at)
				 VALUES (?, ?, ?, 1, ?, ?)`,
				uuid.NewString(), DefaultProfileName, nameKey(DefaultProfileName), now, now,
			)
			if err != nil {
				return storageErr("seed default profile", err)
			}
			s.logger.Info("created default profile", zap.String("name", DefaultProfileName))
			return nil
		}

		var enabled int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles WHERE is_enabled = 1`).Scan(&enabled); err != nil {
			return storageErr("count enabled profiles", err)
		}
		if enabled == 1 {
			return nil
		}

		// The partial unique index prevents more than one enabled row, so
		// only the zero case is reachable; enable the earliest profile.
		var id string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM profiles ORDER BY created_at ASC, id ASC LIMIT 1`,
		).Scan(&id)
		if err != nil {
			return storageErr("select profile to enable", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE profiles SET is_enabled = 1, updated_at = ? WHERE id = ?`, now, id,
		); err != nil {
			return storageErr("repair enabled profile", err)
		}
		s.logger.Warn("no profile was enabled; enabled the earliest profile", zap.String("profile_id", id))
		return nil
	})
}

// sweepOrphanSecrets deletes vault entries whose configuration row is gone,
// e.g. after a crash between a committed delete and the vault cleanup.
func (s *Store) sweepOrphanSecrets(ctx context.Context) error {
	keys, err := s.secrets.Keys(ctx, "")
	if errors.Is(err, storecrypto.ErrEnumerationUnsupported) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	known := make(map[string]bool)
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM service_configurations`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		known[id] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}

	removed := 0
	for _, key := range keys {
		configID, _, ok := strings.Cut(key, "/")
		if ok && known[configID] {
			continue
		}
		if err := s.secrets.Delete(ctx, key); err != nil && !errors.Is(err, storecrypto.ErrSecretNotFound) {
			return fmt.Errorf("delete orphan secret %s: %w", key, err)
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("removed orphan secrets", zap.Int("count", removed))
	}
	return nil
}
