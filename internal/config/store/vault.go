package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	storecrypto "github.com/arrdeck/arrdeck/internal/config/store/crypto"
	"github.com/arrdeck/arrdeck/internal/services"
)

// Vault stores credentials for service configurations, keyed by
// configuration id. It shares the store's lock, so secret writes are
// serialised with configuration writes.
type Vault struct {
	store *Store
}

// SetAPIKey stores the API key of an apiKey configuration, replacing any
// previous value.
func (v *Vault) SetAPIKey(ctx context.Context, configID, apiKey string) error {
	if strings.TrimSpace(apiKey) == "" {
		return ValidationError{Field: "apiKey", Message: "API key must not be empty"}
	}
	return v.write(ctx, "set api key", configID, services.AuthAPIKey, map[string]string{
		slotAPIKey: apiKey,
	})
}

// APIKey returns the stored API key. ok is false when none is stored.
func (v *Vault) APIKey(ctx context.Context, configID string) (string, bool, error) {
	values, err := v.read(ctx, "get api key", configID, slotAPIKey)
	if err != nil {
		return "", false, err
	}
	key, ok := values[slotAPIKey]
	return key, ok && key != "", nil
}

// SetCredentials stores the username and password of a usernamePassword
// configuration.
func (v *Vault) SetCredentials(ctx context.Context, configID, username, password string) error {
	if err := checkCredentials(username, password); err != nil {
		return err
	}
	return v.write(ctx, "set credentials", configID, services.AuthUsernamePassword, map[string]string{
		slotUsername: username,
		slotPassword: password,
	})
}

// Credentials returns the stored username/password pair. ok is false unless
// both halves are present.
func (v *Vault) Credentials(ctx context.Context, configID string) (Credentials, bool, error) {
	values, err := v.read(ctx, "get credentials", configID, slotUsername, slotPassword)
	if err != nil {
		return Credentials{}, false, err
	}
	creds := Credentials{Username: values[slotUsername], Password: values[slotPassword]}
	if creds.Username == "" || creds.Password == "" {
		return Credentials{}, false, nil
	}
	return creds, true, nil
}

// SetWakeOnLAN stores the MAC and broadcast address of a wakeOnLAN
// configuration. An empty broadcast address selects DefaultBroadcastAddress.
func (v *Vault) SetWakeOnLAN(ctx context.Context, configID, mac, broadcast string) error {
	mac, broadcast, err := normalizeWakeOnLAN(mac, broadcast)
	if err != nil {
		return err
	}
	return v.write(ctx, "set wake-on-lan target", configID, services.AuthNone, map[string]string{
		slotMACAddress:       mac,
		slotBroadcastAddress: broadcast,
	})
}

// WakeOnLAN returns the stored Wake-on-LAN target.
func (v *Vault) WakeOnLAN(ctx context.Context, configID string) (WakeOnLANTarget, bool, error) {
	values, err := v.read(ctx, "get wake-on-lan target", configID, slotMACAddress, slotBroadcastAddress)
	if err != nil {
		return WakeOnLANTarget{}, false, err
	}
	target := WakeOnLANTarget{MACAddress: values[slotMACAddress], BroadcastAddress: values[slotBroadcastAddress]}
	if target.MACAddress == "" {
		return WakeOnLANTarget{}, false, nil
	}
	if target.BroadcastAddress == "" {
		target.BroadcastAddress = DefaultBroadcastAddress
	}
	return target, true, nil
}

// DeleteSecrets removes every secret stored for a configuration. Deleting
// secrets that do not exist is not an error.
func (v *Vault) DeleteSecrets(ctx context.Context, configID string) error {
	return v.store.writeTx(ctx, "delete secrets", func(_ *sql.Tx, ops *vaultOps) error {
		ops.removeConfig(configID)
		return nil
	})
}

// DeleteAll empties the vault: secrets of every known configuration and any
// entry the backend can enumerate.
func (v *Vault) DeleteAll(ctx context.Context) error {
	s := v.store
	var removed int
	err := s.writeTx(ctx, "delete all secrets", func(tx *sql.Tx, ops *vaultOps) error {
		rows, err := tx.QueryContext(ctx, `SELECT id FROM service_configurations`)
		if err != nil {
			return storageErr("list configuration ids", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return storageErr("scan configuration id", err)
			}
			ops.removeConfig(id)
		}
		if err := rows.Err(); err != nil {
			return storageErr("iterate configuration ids", err)
		}

		keys, err := s.secrets.Keys(ctx, "")
		if err != nil && !errors.Is(err, storecrypto.ErrEnumerationUnsupported) {
			return storageErr("list secrets", err)
		}
		for _, key := range keys {
			ops.remove(key)
		}
		removed = len(ops.keys())
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("vault cleared", zap.Int("keys", removed))
	return nil
}

// ValidateConfiguration combines structural validation with a check that
// the secrets required by the authentication type are stored. Disabled
// configurations only get the structural check.
func (v *Vault) ValidateConfiguration(ctx context.Context, cfg services.Configuration) error {
	cfg = cfg.Normalize()
	if err := validateConfiguration(cfg); err != nil {
		return err
	}
	if !cfg.IsEnabled {
		return nil
	}

	switch cfg.AuthType {
	case services.AuthAPIKey:
		_, ok, err := v.APIKey(ctx, cfg.ID)
		if err != nil {
			return err
		}
		if !ok {
			return ValidationError{Field: "apiKey", Message: "no API key stored"}
		}
	case services.AuthUsernamePassword:
		_, ok, err := v.Credentials(ctx, cfg.ID)
		if err != nil {
			return err
		}
		if !ok {
			return ValidationError{Field: "credentials", Message: "username and password are required"}
		}
	}
	return nil
}

// write stores values for configID after checking, inside the store
// transaction, that the configuration exists and uses auth.
func (v *Vault) write(ctx context.Context, op, configID string, auth services.AuthType, values map[string]string) error {
	err := v.store.writeTx(ctx, op, func(tx *sql.Tx, ops *vaultOps) error {
		cfg, err := loadConfiguration(ctx, tx, configID)
		if err != nil {
			return err
		}
		if cfg.AuthType != auth {
			return ValidationError{
				Field:   "authenticationType",
				Message: fmt.Sprintf("configuration %s uses %s authentication", configID, cfg.AuthType),
			}
		}
		for slot, value := range values {
			ops.put(secretKey(configID, slot), value)
		}
		return nil
	})
	if err != nil {
		return err
	}
	slots := make([]string, 0, len(values))
	for slot := range values {
		slots = append(slots, slot)
	}
	sort.Strings(slots)
	v.store.logger.Debug("secrets stored", zap.String("configuration_id", configID), zap.Strings("slots", slots))
	return nil
}

func (v *Vault) read(ctx context.Context, op, configID string, slots ...string) (map[string]string, error) {
	s := v.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, storageErr(op, sql.ErrConnDone)
	}

	keys := make([]string, len(slots))
	for i, slot := range slots {
		keys[i] = secretKey(configID, slot)
	}
	found, err := s.secrets.GetBatch(ctx, keys)
	if err != nil {
		return nil, storageErr(op, err)
	}
	values := make(map[string]string, len(found))
	for i, slot := range slots {
		if value, ok := found[keys[i]]; ok {
			values[slot] = value
		}
	}
	return values, nil
}
