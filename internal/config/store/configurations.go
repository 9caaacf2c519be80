package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arrdeck/arrdeck/internal/config/store/dbutil"
	"github.com/arrdeck/arrdeck/internal/services"
)

const configurationColumns = `id, profile_id, service_type, is_enabled, host, auth_type, headers, created_at, updated_at`

// Configurations lists the configurations owned by a profile in creation
// order.
func (s *Store) Configurations(ctx context.Context, profileID string) ([]services.Configuration, error) {
	var out []services.Configuration
	err := s.readTx(ctx, "list configurations", func(tx *sql.Tx) error {
		if _, err := loadProfileRow(ctx, tx, profileID); err != nil {
			return err
		}
		var err error
		out, err = loadConfigurations(ctx, tx, profileID)
		return err
	})
	return out, err
}

// Configuration returns a configuration by id.
func (s *Store) Configuration(ctx context.Context, id string) (services.Configuration, error) {
	var cfg services.Configuration
	err := s.readTx(ctx, "get configuration", func(tx *sql.Tx) error {
		var err error
		cfg, err = loadConfiguration(ctx, tx, id)
		return err
	})
	return cfg, err
}

// Attach validates cfg and stores it under profileID with a new id. When
// secrets is non-nil its values are written to the vault as part of the
// same operation: a vault failure rolls the insert back.
func (s *Store) Attach(ctx context.Context, profileID string, cfg services.Configuration, secrets *Secrets) (services.Configuration, error) {
	cfg = cfg.Normalize().Clone()
	if err := validateConfiguration(cfg); err != nil {
		return services.Configuration{}, err
	}
	var values map[string]string
	if secrets != nil {
		var err error
		if values, err = secretValues(cfg.AuthType, *secrets); err != nil {
			return services.Configuration{}, err
		}
	}

	now := s.now()
	cfg.ID = uuid.NewString()
	cfg.ProfileID = profileID
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	if cfg.Headers == nil {
		cfg.Headers = map[string]string{}
	}

	err := s.writeTx(ctx, "attach configuration", func(tx *sql.Tx, ops *vaultOps) error {
		if _, err := loadProfileRow(ctx, tx, profileID); err != nil {
			return err
		}
		if err := insertConfiguration(ctx, tx, cfg); err != nil {
			return err
		}
		if err := touchProfile(ctx, tx, profileID, dbutil.FormatTime(now)); err != nil {
			return err
		}
		for slot, value := range values {
			ops.put(secretKey(cfg.ID, slot), value)
		}
		return nil
	})
	if err != nil {
		return services.Configuration{}, err
	}
	s.logger.Info("configuration attached",
		zap.String("configuration_id", cfg.ID),
		zap.String("profile_id", profileID),
		zap.String("service_type", string(cfg.Type)),
		zap.Bool("with_secrets", len(values) > 0),
	)
	return cfg, nil
}

// UpdateConfiguration replaces the mutable fields (enabled flag, host,
// headers) of an existing configuration. The service type cannot change.
func (s *Store) UpdateConfiguration(ctx context.Context, cfg services.Configuration) (services.Configuration, error) {
	cfg = cfg.Normalize().Clone()
	if err := validateConfiguration(cfg); err != nil {
		return services.Configuration{}, err
	}
	if cfg.Headers == nil {
		cfg.Headers = map[string]string{}
	}

	var updated services.Configuration
	err := s.writeTx(ctx, "update configuration", func(tx *sql.Tx, _ *vaultOps) error {
		existing, err := loadConfiguration(ctx, tx, cfg.ID)
		if err != nil {
			return err
		}
		if existing.Type != cfg.Type {
			return ValidationError{
				Field:   "serviceType",
				Message: fmt.Sprintf("cannot change service type from %s to %s", existing.Type, cfg.Type),
			}
		}
		headers, err := encodeHeaders(cfg.Headers)
		if err != nil {
			return err
		}
		now := s.now()
		if _, err := tx.ExecContext(ctx,
			`UPDATE service_configurations
			 SET is_enabled = ?, host = ?, auth_type = ?, headers = ?, updated_at = ?
			 WHERE id = ?`,
			cfg.IsEnabled, cfg.Host, string(cfg.AuthType), headers, dbutil.FormatTime(now), cfg.ID,
		); err != nil {
			return storageErr("update configuration", err)
		}
		if err := touchProfile(ctx, tx, existing.ProfileID, dbutil.FormatTime(now)); err != nil {
			return err
		}

		updated = cfg
		updated.ProfileID = existing.ProfileID
		updated.CreatedAt = existing.CreatedAt
		updated.UpdatedAt = now
		return nil
	})
	if err != nil {
		return services.Configuration{}, err
	}
	return updated, nil
}

// Detach removes a configuration and its vault entries. The vault entries
// are deleted before the row deletion commits; if that fails nothing is
// removed.
func (s *Store) Detach(ctx context.Context, id string) error {
	err := s.writeTx(ctx, "detach configuration", func(tx *sql.Tx, ops *vaultOps) error {
		existing, err := loadConfiguration(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM service_configurations WHERE id = ?`, id); err != nil {
			return storageErr("delete configuration", err)
		}
		if err := touchProfile(ctx, tx, existing.ProfileID, dbutil.FormatTime(s.now())); err != nil {
			return err
		}
		ops.removeConfig(id)
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("configuration detached", zap.String("configuration_id", id))
	return nil
}

func validateConfiguration(cfg services.Configuration) error {
	err := cfg.Validate()
	if err == nil {
		return nil
	}
	var fieldErr *services.FieldError
	if errors.As(err, &fieldErr) {
		return ValidationError{Field: fieldErr.Field, Message: fieldErr.Message}
	}
	return ValidationError{Field: "configuration", Message: err.Error()}
}

// secretValues maps the populated fields of sec to vault slots, rejecting
// fields that do not belong to auth.
func secretValues(auth services.AuthType, sec Secrets) (map[string]string, error) {
	values := make(map[string]string)
	misplaced := func(field string) error {
		return ValidationError{Field: field, Message: fmt.Sprintf("not used by %s authentication", auth)}
	}

	switch auth {
	case services.AuthAPIKey:
		if sec.Username != "" || sec.Password != "" {
			return nil, misplaced("credentials")
		}
		if sec.MACAddress != "" || sec.BroadcastAddress != "" {
			return nil, misplaced("wakeOnLAN")
		}
		if sec.APIKey != "" {
			values[slotAPIKey] = sec.APIKey
		}
	case services.AuthUsernamePassword:
		if sec.APIKey != "" {
			return nil, misplaced("apiKey")
		}
		if sec.MACAddress != "" || sec.BroadcastAddress != "" {
			return nil, misplaced("wakeOnLAN")
		}
		if sec.Username != "" || sec.Password != "" {
			if err := checkCredentials(sec.Username, sec.Password); err != nil {
				return nil, err
			}
			values[slotUsername] = sec.Username
			values[slotPassword] = sec.Password
		}
	case services.AuthNone:
		if sec.APIKey != "" {
			return nil, misplaced("apiKey")
		}
		if sec.Username != "" || sec.Password != "" {
			return nil, misplaced("credentials")
		}
		if sec.MACAddress != "" || sec.BroadcastAddress != "" {
			mac, broadcast, err := normalizeWakeOnLAN(sec.MACAddress, sec.BroadcastAddress)
			if err != nil {
				return nil, err
			}
			values[slotMACAddress] = mac
			values[slotBroadcastAddress] = broadcast
		}
	}
	return values, nil
}

func checkCredentials(username, password string) error {
	if strings.TrimSpace(username) == "" {
		return ValidationError{Field: "username", Message: "username must not be empty"}
	}
	if password == "" {
		return ValidationError{Field: "password", Message: "password must not be empty"}
	}
	return nil
}

// DefaultBroadcastAddress is used when a Wake-on-LAN target names no
// broadcast address.
const DefaultBroadcastAddress = "255.255.255.255"

func normalizeWakeOnLAN(mac, broadcast string) (string, string, error) {
	hw, err := net.ParseMAC(strings.TrimSpace(mac))
	if err != nil || len(hw) != 6 {
		return "", "", ValidationError{Field: "macAddress", Message: fmt.Sprintf("invalid MAC address %q", mac)}
	}
	broadcast = strings.TrimSpace(broadcast)
	if broadcast == "" {
		broadcast = DefaultBroadcastAddress
	}
	ip := net.ParseIP(broadcast)
	if ip == nil || ip.To4() == nil {
		return "", "", ValidationError{Field: "broadcastAddress", Message: fmt.Sprintf("invalid IPv4 broadcast address %q", broadcast)}
	}
	return hw.String(), ip.String(), nil
}

func insertConfiguration(ctx context.Context, tx *sql.Tx, cfg services.Configuration) error {
	headers, err := encodeHeaders(cfg.Headers)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO service_configurations (`+configurationColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cfg.ID, cfg.ProfileID, string(cfg.Type), cfg.IsEnabled, cfg.Host, string(cfg.AuthType), headers,
		dbutil.FormatTime(cfg.CreatedAt), dbutil.FormatTime(cfg.UpdatedAt),
	)
	if err != nil {
		return storageErr("insert configuration", err)
	}
	return nil
}

func loadConfiguration(ctx context.Context, q querier, id string) (services.Configuration, error) {
	cfg, err := scanConfiguration(q.QueryRowContext(ctx,
		`SELECT `+configurationColumns+` FROM service_configurations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return services.Configuration{}, NotFoundError{Entity: "service configuration", Key: id}
	}
	return cfg, err
}

func loadConfigurations(ctx context.Context, q querier, profileID string) ([]services.Configuration, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+configurationColumns+` FROM service_configurations
		 WHERE profile_id = ? ORDER BY created_at ASC, id ASC`, profileID)
	if err != nil {
		return nil, storageErr("list configurations", err)
	}
	defer rows.Close()

	out := []services.Configuration{}
	for rows.Next() {
		cfg, err := scanConfiguration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate configurations", err)
	}
	return out, nil
}

func configurationIDs(ctx context.Context, q querier, profileID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT id FROM service_configurations WHERE profile_id = ?`, profileID)
	if err != nil {
		return nil, storageErr("list configuration ids", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("scan configuration id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate configuration ids", err)
	}
	return ids, nil
}

func scanConfiguration(row dbutil.RowScanner) (services.Configuration, error) {
	var (
		cfg                       services.Configuration
		svcType, auth, headersRaw string
		created, updated          string
	)
	err := row.Scan(&cfg.ID, &cfg.ProfileID, &svcType, &cfg.IsEnabled, &cfg.Host, &auth, &headersRaw, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return services.Configuration{}, err
		}
		return services.Configuration{}, storageErr("scan configuration", err)
	}
	cfg.Type = services.Type(svcType)
	cfg.AuthType = services.AuthType(auth)

	cfg.Headers = map[string]string{}
	if headersRaw != "" {
		if err := json.Unmarshal([]byte(headersRaw), &cfg.Headers); err != nil {
			return services.Configuration{}, dataErr(fmt.Sprintf("decode headers of configuration %s", cfg.ID), err)
		}
	}
	if cfg.CreatedAt, err = dbutil.ParseTime(created); err != nil {
		return services.Configuration{}, dataErr("parse configuration created_at", err)
	}
	if cfg.UpdatedAt, err = dbutil.ParseTime(updated); err != nil {
		return services.Configuration{}, dataErr("parse configuration updated_at", err)
	}
	return cfg, nil
}

func encodeHeaders(headers map[string]string) (string, error) {
	if len(headers) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(headers)
	if err != nil {
		return "", dataErr("encode headers", err)
	}
	return string(raw), nil
}
