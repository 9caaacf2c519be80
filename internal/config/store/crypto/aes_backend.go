package crypto

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

const vaultSchema = `CREATE TABLE IF NOT EXISTS secrets (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// upsertSecretSQL is shared by Set and SetBatch to prevent drift.
const upsertSecretSQL = `
	INSERT INTO secrets (key, value, updated_at)
	VALUES (?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		updated_at = CURRENT_TIMESTAMP
`

// OpenVaultDB opens (and initialises) the SQLite file holding encrypted
// secrets. It is deliberately a separate database from the configuration
// store so non-secret data and ciphertext never share a file.
func OpenVaultDB(ctx context.Context, path string, readOnly bool) (*sql.DB, error) {
	dsn := path
	if readOnly {
		dsn = fmt.Sprintf("file:%s?mode=ro", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("vault: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	pragmas := []string{"PRAGMA busy_timeout = 5000"}
	if !readOnly {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = FULL")
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("vault: apply pragma %q: %w", pragma, err)
		}
	}
	if !readOnly {
		if _, err := db.ExecContext(ctx, vaultSchema); err != nil {
			db.Close()
			return nil, fmt.Errorf("vault: apply schema: %w", err)
		}
	}
	return db, nil
}

// AESBackend stores AES-256-GCM encrypted values in the vault database.
type AESBackend struct {
	db  *sql.DB
	key []byte
}

// NewAESBackend creates an AESBackend backed by the given DB and encryption key.
func NewAESBackend(db *sql.DB, key []byte) *AESBackend {
	return &AESBackend{db: db, key: key}
}

// SetBatch atomically encrypts and upserts multiple secrets in a single transaction.
func (ab *AESBackend) SetBatch(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	tx, err := ab.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("aes-file: begin tx: %w", err)
	}
	defer tx.Rollback() // no-op after successful Commit

	stmt, err := tx.PrepareContext(ctx, upsertSecretSQL)
	if err != nil {
		return fmt.Errorf("aes-file: prepare: %w", err)
	}
	defer stmt.Close()

	for key, value := range values {
		encrypted, err := EncryptValue(ab.key, value)
		if err != nil {
			return fmt.Errorf("aes-file: encrypt %q: %w", key, err)
		}
		if _, err := stmt.ExecContext(ctx, key, encrypted); err != nil {
			return fmt.Errorf("aes-file: set %q: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("aes-file: commit: %w", err)
	}
	return nil
}

// Set encrypts the value and upserts it.
func (ab *AESBackend) Set(ctx context.Context, key, value string) error {
	encrypted, err := EncryptValue(ab.key, value)
	if err != nil {
		return fmt.Errorf("aes-file: encrypt %q: %w", key, err)
	}
	if _, err := ab.db.ExecContext(ctx, upsertSecretSQL, key, encrypted); err != nil {
		return fmt.Errorf("aes-file: set %q: %w", key, err)
	}
	return nil
}

// GetBatch retrieves and decrypts multiple secrets in a single query.
func (ab *AESBackend) GetBatch(ctx context.Context, keys []string) (map[string]string, error) {
	if len(keys) == 0 {
		return make(map[string]string), nil
	}

	placeholders := make([]string, len(keys))
	args := make([]any, 0, len(keys))
	for i, k := range keys {
		placeholders[i] = "?"
		args = append(args, k)
	}

	query := fmt.Sprintf(
		`SELECT key, value FROM secrets WHERE key IN (%s)`,
		strings.Join(placeholders, ","),
	)

	rows, err := ab.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("aes-file: get batch: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string, len(keys))
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("aes-file: scan batch: %w", err)
		}
		decrypted, err := DecryptValue(ab.key, raw)
		if err != nil {
			return nil, fmt.Errorf("aes-file: decrypt batch %q: %w", key, err)
		}
		result[key] = decrypted
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("aes-file: iterate batch: %w", err)
	}
	return result, nil
}

// Get reads and decrypts a secret.
func (ab *AESBackend) Get(ctx context.Context, key string) (string, error) {
	var raw string
	err := ab.db.QueryRowContext(ctx, `SELECT value FROM secrets WHERE key = ?`, key).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("aes-file: get %q: %w", key, ErrSecretNotFound)
		}
		return "", fmt.Errorf("aes-file: get %q: %w", key, err)
	}
	decrypted, err := DecryptValue(ab.key, raw)
	if err != nil {
		return "", fmt.Errorf("aes-file: decrypt %q: %w", key, err)
	}
	return decrypted, nil
}

// Delete removes a secret.
func (ab *AESBackend) Delete(ctx context.Context, key string) error {
	result, err := ab.db.ExecContext(ctx, `DELETE FROM secrets WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("aes-file: delete %q: %w", key, err)
	}
	rows, raErr := result.RowsAffected()
	if raErr != nil {
		return fmt.Errorf("aes-file: delete %q rows affected: %w", key, raErr)
	}
	if rows == 0 {
		return fmt.Errorf("aes-file: delete %q: %w", key, ErrSecretNotFound)
	}
	return nil
}

// Keys lists stored keys with the given prefix in lexical order.
func (ab *AESBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := ab.db.QueryContext(ctx,
		`SELECT key FROM secrets WHERE substr(key, 1, ?) = ? ORDER BY key`,
		len(prefix), prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("aes-file: list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("aes-file: scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("aes-file: iterate keys: %w", err)
	}
	return keys, nil
}

// Available reports whether an encryption key is loaded.
func (ab *AESBackend) Available() bool {
	return ab.key != nil
}

// Name returns the backend identifier for logging.
func (ab *AESBackend) Name() string { return "aes-file" }
