package crypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"
)

const (
	KeySize     = 32 // AES-256
	KeyFileName = ".secrets.key"
	// EncPrefix marks encrypted values in the vault database.
	EncPrefix = "enc:v1:"
)

// LoadKey reads an existing encryption key from keyPath.
// Returns nil, nil if the file doesn't exist (key not yet created).
func LoadKey(keyPath string, logger *zap.Logger) ([]byte, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	f, err := os.Open(keyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("vault: read encryption key: %w", err)
	}
	defer f.Close()

	// Check permissions on the same file descriptor to avoid TOCTOU races.
	// Skip on Windows where Go returns synthetic mode bits (0666/0444).
	if runtime.GOOS != "windows" {
		if info, statErr := f.Stat(); statErr == nil {
			if perm := info.Mode().Perm(); perm&0o077 != 0 {
				logger.Warn("encryption key has overly permissive mode",
					zap.String("path", keyPath), zap.String("mode", fmt.Sprintf("0%o", perm)))
			}
		} else {
			logger.Warn("could not check encryption key permissions", zap.String("path", keyPath), zap.Error(statErr))
		}
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("vault: read encryption key: %w", err)
	}
	if len(data) != KeySize {
		return nil, fmt.Errorf("vault: encryption key at %s has invalid size %d (expected %d)", keyPath, len(data), KeySize)
	}
	return data, nil
}

// CreateKey generates a new 32-byte AES key and writes it to keyPath.
// The key is written to a temp file and then hard-linked into place, so
// keyPath is never observed partially written and a concurrent creator
// loses the race with EEXIST instead of clobbering the winner's key.
//
// Callers must verify that creating a new key is safe (i.e. no existing
// encrypted values in the vault) before calling this function.
func CreateKey(keyPath string) ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("vault: generate encryption key: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(keyPath), ".secrets.key.tmp.*")
	if err != nil {
		return nil, fmt.Errorf("vault: create encryption key temp: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(key); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("vault: write encryption key temp: %w", err)
	}
	if err := tmpFile.Chmod(0o600); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("vault: chmod encryption key temp: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("vault: close encryption key temp: %w", err)
	}

	if err := os.Link(tmpPath, keyPath); err != nil {
		os.Remove(tmpPath)
		if os.IsExist(err) {
			raceKey, loadErr := LoadKey(keyPath, nil)
			if loadErr != nil {
				return nil, loadErr
			}
			if raceKey == nil {
				return nil, fmt.Errorf("vault: encryption key %s disappeared after race (created by another process but now missing)", keyPath)
			}
			return raceKey, nil
		}
		return nil, fmt.Errorf("vault: link encryption key: %w", err)
	}
	os.Remove(tmpPath)

	return key, nil
}

// KeyPath returns the path for the encryption key next to the vault DB.
func KeyPath(vaultPath string) string {
	return filepath.Join(filepath.Dir(vaultPath), KeyFileName)
}

// LoadOrCreateKey loads the key beside the vault database, minting a new
// one only when the vault holds no encrypted rows. A missing key next to
// existing ciphertext is an error: a fresh key would make every stored
// secret permanently unreadable.
func LoadOrCreateKey(ctx context.Context, db *sql.DB, vaultPath string, logger *zap.Logger) ([]byte, error) {
	keyPath := KeyPath(vaultPath)
	key, err := LoadKey(keyPath, logger)
	if err != nil {
		return nil, err
	}
	if key != nil {
		return key, nil
	}
	hasEnc, err := HasEncryptedValues(ctx, db)
	if err != nil {
		return nil, err
	}
	if hasEnc {
		return nil, fmt.Errorf("vault: encryption key %s is missing but the vault already contains encrypted values; restore the original key file or remove %s", keyPath, vaultPath)
	}
	return CreateKey(keyPath)
}

// HasEncryptedValues checks whether the secrets table contains any values
// with the enc:v1: prefix.
func HasEncryptedValues(ctx context.Context, db *sql.DB) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM secrets WHERE value LIKE ?`,
		EncPrefix+"%",
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("vault: check encrypted values: %w", err)
	}
	return count > 0, nil
}

// EncryptValue encrypts plaintext using AES-256-GCM and returns a prefixed base64 string.
func EncryptValue(key []byte, plaintext string) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return EncPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts a value produced by EncryptValue. Values without the
// enc:v1: prefix are rejected.
func DecryptValue(key []byte, stored string) (string, error) {
	if !strings.HasPrefix(stored, EncPrefix) {
		return "", fmt.Errorf("vault: value is not encrypted (missing %s prefix)", EncPrefix)
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, EncPrefix))
	if err != nil {
		return "", fmt.Errorf("vault: decode encrypted value: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("vault: encrypted value too short")
	}

	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("vault: decrypt value: %w", err)
	}

	return string(plaintext), nil
}
