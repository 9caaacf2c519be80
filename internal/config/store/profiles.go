package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/text/cases"

	"github.com/arrdeck/arrdeck/internal/config/store/dbutil"
	"github.com/arrdeck/arrdeck/internal/services"
)

const profileColumns = `id, name, is_enabled, created_at, updated_at`

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// nameKey is the case-insensitive identity of a profile name.
func nameKey(name string) string {
	// A Caser keeps state and must not be shared between goroutines.
	return cases.Fold().String(strings.TrimSpace(name))
}

func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ValidationError{Field: "name", Message: "profile name must not be empty"}
	}
	return name, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Profiles returns every profile with its configurations, oldest first.
func (s *Store) Profiles(ctx context.Context) ([]Profile, error) {
	var out []Profile
	err := s.readTx(ctx, "list profiles", func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT `+profileColumns+` FROM profiles ORDER BY created_at ASC, id ASC`)
		if err != nil {
			return storageErr("list profiles", err)
		}
		defer rows.Close()

		for rows.Next() {
			p, err := scanProfile(rows)
			if err != nil {
				return err
			}
			out = append(out, p)
		}
		if err := rows.Err(); err != nil {
			return storageErr("iterate profiles", err)
		}
		rows.Close()

		for i := range out {
			cfgs, err := loadConfigurations(ctx, tx, out[i].ID)
			if err != nil {
				return err
			}
			out[i].Configurations = cfgs
		}
		return nil
	})
	return out, err
}

// Profile returns a profile by id.
func (s *Store) Profile(ctx context.Context, id string) (Profile, error) {
	var p Profile
	err := s.readTx(ctx, "get profile", func(tx *sql.Tx) error {
		var err error
		p, err = loadProfile(ctx, tx, `WHERE id = ?`, id, id)
		return err
	})
	return p, err
}

// ProfileByName returns a profile by name, compared case-insensitively.
func (s *Store) ProfileByName(ctx context.Context, name string) (Profile, error) {
	var p Profile
	err := s.readTx(ctx, "get profile by name", func(tx *sql.Tx) error {
		var err error
		p, err = loadProfile(ctx, tx, `WHERE name_key = ?`, strings.TrimSpace(name), nameKey(name))
		return err
	})
	return p, err
}

// EnabledProfile returns the active profile.
func (s *Store) EnabledProfile(ctx context.Context) (Profile, error) {
	var p Profile
	err := s.readTx(ctx, "get enabled profile", func(tx *sql.Tx) error {
		var err error
		p, err = loadProfile(ctx, tx, `WHERE is_enabled = 1`, "enabled", nil)
		return err
	})
	return p, err
}

// CreateProfile adds a profile. The result is disabled unless it is the
// first profile in the store, in which case it becomes the active one.
func (s *Store) CreateProfile(ctx context.Context, name string) (Profile, error) {
	name, err := cleanName(name)
	if err != nil {
		return Profile{}, err
	}

	var created Profile
	err = s.writeTx(ctx, "create profile", func(tx *sql.Tx, _ *vaultOps) error {
		if err := ensureNameFree(ctx, tx, name, ""); err != nil {
			return err
		}
		var total int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles`).Scan(&total); err != nil {
			return storageErr("count profiles", err)
		}

		now := s.now()
		created = Profile{
			ID:             uuid.NewString(),
			Name:           name,
			IsEnabled:      total == 0,
			CreatedAt:      now,
			UpdatedAt:      now,
			Configurations: []services.Configuration{},
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO profiles (id, name, name_key, is_enabled, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			created.ID, created.Name, nameKey(created.Name), created.IsEnabled,
			dbutil.FormatTime(now), dbutil.FormatTime(now),
		)
		if isUniqueViolation(err) {
			return nameTaken(name)
		}
		if err != nil {
			return storageErr("insert profile", err)
		}
		return nil
	})
	if err != nil {
		return Profile{}, err
	}
	s.logger.Info("profile created", zap.String("profile_id", created.ID), zap.String("name", created.Name))
	return created, nil
}

// RenameProfile changes a profile's name under the same uniqueness rule as
// CreateProfile, ignoring the profile's own current name.
func (s *Store) RenameProfile(ctx context.Context, id, newName string) (Profile, error) {
	newName, err := cleanName(newName)
	if err != nil {
		return Profile{}, err
	}

	var renamed Profile
	err = s.writeTx(ctx, "rename profile", func(tx *sql.Tx, _ *vaultOps) error {
		if _, err := loadProfileRow(ctx, tx, id); err != nil {
			return err
		}
		if err := ensureNameFree(ctx, tx, newName, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE profiles SET name = ?, name_key = ?, updated_at = ? WHERE id = ?`,
			newName, nameKey(newName), dbutil.FormatTime(s.now()), id,
		)
		if isUniqueViolation(err) {
			return nameTaken(newName)
		}
		if err != nil {
			return storageErr("rename profile", err)
		}
		renamed, err = loadProfile(ctx, tx, `WHERE id = ?`, id, id)
		return err
	})
	if err != nil {
		return Profile{}, err
	}
	return renamed, nil
}

// DeleteProfile removes a profile with its configurations and their
// secrets. Deleting the active profile first moves activation to the
// earliest-created remaining profile within the same transaction; the last
// remaining profile cannot be deleted.
func (s *Store) DeleteProfile(ctx context.Context, id string) error {
	return s.DeleteProfileSwitchingTo(ctx, id, "")
}

// DeleteProfileSwitchingTo is DeleteProfile with an explicit successor for
// activation. successorID is only consulted when the deleted profile is the
// active one; empty selects the earliest-created remaining profile.
func (s *Store) DeleteProfileSwitchingTo(ctx context.Context, id, successorID string) error {
	var successor string
	err := s.writeTx(ctx, "delete profile", func(tx *sql.Tx, ops *vaultOps) error {
		target, err := loadProfileRow(ctx, tx, id)
		if err != nil {
			return err
		}

		var total int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles`).Scan(&total); err != nil {
			return storageErr("count profiles", err)
		}
		if total <= 1 {
			return ValidationError{Field: "profile", Message: "cannot delete the last profile"}
		}

		if target.IsEnabled {
			successor, err = pickSuccessor(ctx, tx, id, successorID)
			if err != nil {
				return err
			}
			if err := s.switchInTx(ctx, tx, successor); err != nil {
				return err
			}
		}

		configIDs, err := configurationIDs(ctx, tx, id)
		if err != nil {
			return err
		}
		for _, cid := range configIDs {
			ops.removeConfig(cid)
		}

		// Children first, then the parent; the foreign key cascade is a
		// backstop, not the mechanism.
		if _, err := tx.ExecContext(ctx, `DELETE FROM service_configurations WHERE profile_id = ?`, id); err != nil {
			return storageErr("delete profile configurations", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM profiles WHERE id = ?`, id); err != nil {
			return storageErr("delete profile", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	fields := []zap.Field{zap.String("profile_id", id)}
	if successor != "" {
		fields = append(fields, zap.String("activated", successor))
	}
	s.logger.Info("profile deleted", fields...)
	return nil
}

func pickSuccessor(ctx context.Context, tx *sql.Tx, deletedID, requested string) (string, error) {
	if requested != "" {
		if requested == deletedID {
			return "", ValidationError{Field: "successor", Message: "successor must differ from the deleted profile"}
		}
		if _, err := loadProfileRow(ctx, tx, requested); err != nil {
			return "", err
		}
		return requested, nil
	}
	var id string
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM profiles WHERE id <> ? ORDER BY created_at ASC, id ASC LIMIT 1`, deletedID,
	).Scan(&id)
	if err != nil {
		return "", storageErr("select successor profile", err)
	}
	return id, nil
}

func ensureNameFree(ctx context.Context, q querier, name, exceptID string) error {
	var existing string
	err := q.QueryRowContext(ctx,
		`SELECT id FROM profiles WHERE name_key = ? AND id <> ?`, nameKey(name), exceptID,
	).Scan(&existing)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return storageErr("check profile name", err)
	}
	return nameTaken(name)
}

func nameTaken(name string) error {
	return ValidationError{Field: "name", Message: fmt.Sprintf("profile name %q is already taken", name)}
}

// loadProfile reads one profile selected by where, with configurations.
// key is used for the NotFoundError.
func loadProfile(ctx context.Context, q querier, where, key string, arg any) (Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles ` + where + ` LIMIT 1`
	var row *sql.Row
	if arg == nil {
		row = q.QueryRowContext(ctx, query)
	} else {
		row = q.QueryRowContext(ctx, query, arg)
	}
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, NotFoundError{Entity: "profile", Key: key}
	}
	if err != nil {
		return Profile{}, err
	}
	p.Configurations, err = loadConfigurations(ctx, q, p.ID)
	if err != nil {
		return Profile{}, err
	}
	return p, nil
}

// loadProfileRow reads a profile without its configurations.
func loadProfileRow(ctx context.Context, q querier, id string) (Profile, error) {
	p, err := scanProfile(q.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, NotFoundError{Entity: "profile", Key: id}
	}
	return p, err
}

func scanProfile(row dbutil.RowScanner) (Profile, error) {
	var (
		p                Profile
		created, updated string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.IsEnabled, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Profile{}, err
		}
		return Profile{}, storageErr("scan profile", err)
	}
	var err error
	if p.CreatedAt, err = dbutil.ParseTime(created); err != nil {
		return Profile{}, dataErr("parse profile created_at", err)
	}
	if p.UpdatedAt, err = dbutil.ParseTime(updated); err != nil {
		return Profile{}, dataErr("parse profile updated_at", err)
	}
	return p, nil
}

func touchProfile(ctx context.Context, tx *sql.Tx, id, now string) error {
	if _, err := tx.ExecContext(ctx, `UPDATE profiles SET updated_at = ? WHERE id = ?`, now, id); err != nil {
		return storageErr("touch profile", err)
	}
	return nil
}
