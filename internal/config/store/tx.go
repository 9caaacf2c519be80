package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	storecrypto "github.com/arrdeck/arrdeck/internal/config/store/crypto"
)

// Vault slots stored per configuration.
const (
	slotAPIKey           = "api_key"
	slotUsername         = "username"
	slotPassword         = "password"
	slotMACAddress       = "mac_address"
	slotBroadcastAddress = "broadcast_address"
)

var allSlots = []string{slotAPIKey, slotUsername, slotPassword, slotMACAddress, slotBroadcastAddress}

func secretKey(configID, slot string) string {
	return configID + "/" + slot
}

func secretKeys(configID string) []string {
	keys := make([]string, 0, len(allSlots))
	for _, slot := range allSlots {
		keys = append(keys, secretKey(configID, slot))
	}
	return keys
}

// vaultOps collects the vault writes belonging to one store transaction.
// They are applied after the SQL work succeeds and before the commit.
type vaultOps struct {
	set map[string]string
	del []string
}

func (o *vaultOps) put(key, value string) {
	if o.set == nil {
		o.set = make(map[string]string)
	}
	o.set[key] = value
}

func (o *vaultOps) remove(key string) {
	o.del = append(o.del, key)
}

func (o *vaultOps) removeConfig(configID string) {
	o.del = append(o.del, secretKeys(configID)...)
}

func (o *vaultOps) empty() bool {
	return len(o.set) == 0 && len(o.del) == 0
}

func (o *vaultOps) keys() []string {
	seen := make(map[string]bool, len(o.set)+len(o.del))
	keys := make([]string, 0, len(o.set)+len(o.del))
	for k := range o.set {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for _, k := range o.del {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// writeTx runs fn in a database transaction under the store's write lock.
// Vault changes queued by fn are applied before the commit: if they fail
// the transaction is rolled back, and if the commit fails the previous
// secret values are restored. Either way the configuration rows and the
// vault never disagree once writeTx returns.
func (s *Store) writeTx(ctx context.Context, op string, fn func(tx *sql.Tx, ops *vaultOps) error) error {
	if s.readOnly {
		return readOnlyErr(op)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return storageErr(op, sql.ErrConnDone)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(op+": begin tx", err)
	}
	defer tx.Rollback()

	ops := &vaultOps{}
	if err := fn(tx, ops); err != nil {
		return err
	}

	var snapshot map[string]string
	var touched []string
	if !ops.empty() {
		touched = ops.keys()
		snapshot, err = s.secrets.GetBatch(ctx, touched)
		if err != nil {
			return storageErr(op+": snapshot secrets", err)
		}
		if err := s.applyVaultOps(ctx, ops); err != nil {
			s.restoreSecrets(ctx, op, touched, snapshot)
			return storageErr(op+": write secrets", err)
		}
	}

	if err := tx.Commit(); err != nil {
		if touched != nil {
			s.restoreSecrets(ctx, op, touched, snapshot)
		}
		return storageErr(op+": commit", err)
	}
	return nil
}

func (s *Store) applyVaultOps(ctx context.Context, ops *vaultOps) error {
	for _, key := range ops.del {
		if _, overwritten := ops.set[key]; overwritten {
			continue
		}
		if err := s.secrets.Delete(ctx, key); err != nil && !errors.Is(err, storecrypto.ErrSecretNotFound) {
			return fmt.Errorf("delete %s: %w", key, err)
		}
	}
	if len(ops.set) > 0 {
		if err := s.secrets.SetBatch(ctx, ops.set); err != nil {
			return err
		}
	}
	return nil
}

// restoreSecrets is the compensating action for a failed vault write or
// commit: keys are put back to their snapshot values, keys that did not
// exist are deleted. Failures are logged; the original error is what the
// caller sees.
func (s *Store) restoreSecrets(ctx context.Context, op string, keys []string, snapshot map[string]string) {
	ctx = context.WithoutCancel(ctx)
	if len(snapshot) > 0 {
		if err := s.secrets.SetBatch(ctx, snapshot); err != nil {
			s.logger.Error("restore secrets failed", zap.String("op", op), zap.Error(err))
		}
	}
	for _, key := range keys {
		if _, existed := snapshot[key]; existed {
			continue
		}
		if err := s.secrets.Delete(ctx, key); err != nil && !errors.Is(err, storecrypto.ErrSecretNotFound) {
			s.logger.Error("remove secret during rollback failed",
				zap.String("op", op), zap.String("key", key), zap.Error(err))
		}
	}
}

// readTx runs fn in a read-only transaction under the store's read lock so
// multi-query reads see one snapshot.
func (s *Store) readTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return storageErr(op, sql.ErrConnDone)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(op+": begin tx", err)
	}
	defer tx.Rollback()
	return fn(tx)
}
