package crypto

import (
	"context"
	"errors"
)

// ErrSecretNotFound is returned when a secret key does not exist in the backend.
var ErrSecretNotFound = errors.New("secret not found")

// ErrEnumerationUnsupported is returned by backends that cannot list keys.
var ErrEnumerationUnsupported = errors.New("secret backend cannot enumerate keys")

// SecretBackend abstracts secret storage (keychain vs AES-file).
type SecretBackend interface {
	Set(ctx context.Context, key, value string) error
	// SetBatch atomically stores multiple secrets. Implementations that
	// support transactions (e.g., AESBackend) commit all-or-nothing.
	SetBatch(ctx context.Context, values map[string]string) error
	Get(ctx context.Context, key string) (string, error)
	// GetBatch retrieves multiple secrets. Implementations should skip keys
	// that don't exist (no ErrSecretNotFound for individual missing keys).
	GetBatch(ctx context.Context, keys []string) (map[string]string, error)
	Delete(ctx context.Context, key string) error
	// Keys lists stored keys starting with prefix ("" lists everything).
	Keys(ctx context.Context, prefix string) ([]string, error)
	Available() bool
	Name() string // "keychain" or "aes-file", for logging
}
