package crypto

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// FallbackBackend pairs the keychain (primary) with the encrypted vault
// database (secondary). Every write lands in the vault, so a profile's
// secrets can be listed and restored even when the keychain goes away.
// Reads prefer the keychain.
type FallbackBackend struct {
	primary   SecretBackend
	secondary SecretBackend
	logger    *zap.Logger
}

func NewFallbackBackend(primary, secondary SecretBackend, logger *zap.Logger) *FallbackBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackBackend{
		primary:   primary,
		secondary: secondary,
		logger:    logger,
	}
}

// SetBatch commits values to the vault in one transaction, then copies them
// to the keychain. Keychain failures are logged only.
func (fb *FallbackBackend) SetBatch(ctx context.Context, values map[string]string) error {
	if err := fb.secondary.SetBatch(ctx, values); err != nil {
		return err
	}
	if fb.primary.Available() {
		if err := fb.primary.SetBatch(ctx, values); err != nil {
			fb.logger.Warn("keychain batch write failed; vault holds the values",
				zap.String("backend", fb.primary.Name()), zap.Error(err))
		}
	}
	return nil
}

// Set writes the vault first and then the keychain, like SetBatch.
func (fb *FallbackBackend) Set(ctx context.Context, key, value string) error {
	if err := fb.secondary.Set(ctx, key, value); err != nil {
		return err
	}
	if fb.primary.Available() {
		if err := fb.primary.Set(ctx, key, value); err != nil {
			fb.logger.Warn("keychain write failed; vault holds the value",
				zap.String("backend", fb.primary.Name()), zap.String("key", key), zap.Error(err))
		}
	}
	return nil
}

// GetBatch reads from the keychain and fills whatever it lacks from the
// vault.
func (fb *FallbackBackend) GetBatch(ctx context.Context, keys []string) (map[string]string, error) {
	found := make(map[string]string, len(keys))
	if fb.primary.Available() {
		fromKeychain, err := fb.primary.GetBatch(ctx, keys)
		if err != nil {
			fb.logger.Warn("keychain batch read failed; reading vault",
				zap.String("backend", fb.primary.Name()), zap.Error(err))
		}
		for k, v := range fromKeychain {
			found[k] = v
		}
	}

	var rest []string
	for _, k := range keys {
		if _, ok := found[k]; !ok {
			rest = append(rest, k)
		}
	}
	if len(rest) == 0 {
		return found, nil
	}
	fromVault, err := fb.secondary.GetBatch(ctx, rest)
	if err != nil {
		return nil, err
	}
	for k, v := range fromVault {
		found[k] = v
	}
	return found, nil
}

func (fb *FallbackBackend) Get(ctx context.Context, key string) (string, error) {
	if fb.primary.Available() {
		val, err := fb.primary.Get(ctx, key)
		if err == nil {
			return val, nil
		}
		if !errors.Is(err, ErrSecretNotFound) {
			fb.logger.Warn("keychain read failed; reading vault",
				zap.String("backend", fb.primary.Name()), zap.String("key", key), zap.Error(err))
		}
	}
	return fb.secondary.Get(ctx, key)
}

// Delete clears the keychain before the vault. A keychain entry that cannot
// be removed fails the call, since Get would still return it.
func (fb *FallbackBackend) Delete(ctx context.Context, key string) error {
	primaryHad := false
	if fb.primary.Available() {
		if err := fb.primary.Delete(ctx, key); err != nil {
			if !errors.Is(err, ErrSecretNotFound) {
				return fmt.Errorf("delete from %s: %w", fb.primary.Name(), err)
			}
		} else {
			primaryHad = true
		}
	}

	err := fb.secondary.Delete(ctx, key)
	if err != nil && primaryHad && errors.Is(err, ErrSecretNotFound) {
		// Only the keychain held it.
		return nil
	}
	return err
}

// Keys lists the vault, which sees every write.
func (fb *FallbackBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	return fb.secondary.Keys(ctx, prefix)
}

func (fb *FallbackBackend) Available() bool {
	return fb.primary.Available() || fb.secondary.Available()
}

func (fb *FallbackBackend) Name() string {
	return fb.primary.Name() + "+" + fb.secondary.Name()
}
