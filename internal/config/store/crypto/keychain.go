package crypto

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zalando/go-keyring"
	"go.uber.org/zap"
)

const (
	keychainService = "arrdeck"
	// compositeKeySep (ASCII unit separator) joins namespace and secret key
	// into the keyring user field.
	compositeKeySep   = "\x1f"
	keychainOpTimeout = 5 * time.Second
	keychainProbeTime = 3 * time.Second
	keychainProbeKey  = "__availability__"
)

// errKeychainDisabled is returned once a keychain call has hung past its
// deadline. The vault then reads and writes the encrypted database only.
var errKeychainDisabled = errors.New("disabled by circuit breaker")

// keyringProvider is the slice of go-keyring the backend calls.
type keyringProvider interface {
	Set(service, user, password string) error
	Get(service, user string) (string, error)
	Delete(service, user string) error
}

type osKeyring struct{}

func (osKeyring) Set(service, user, password string) error {
	return keyring.Set(service, user, password)
}
func (osKeyring) Get(service, user string) (string, error) { return keyring.Get(service, user) }
func (osKeyring) Delete(service, user string) error        { return keyring.Delete(service, user) }

// KeychainBackend keeps service secrets in the OS keychain. Entries are
// scoped by namespace, which is the path of the configuration database, so
// two arrdeck homes never share credentials.
type KeychainBackend struct {
	namespace string
	provider  keyringProvider
	logger    *zap.Logger
	// skipOSCheck forces the write/delete availability check even on darwin.
	skipOSCheck bool
	forced      atomic.Bool
	tripped     atomic.Bool
	opTimeout   time.Duration

	probeOnce sync.Once
	probeOK   bool
}

func NewKeychainBackend(namespace string, logger *zap.Logger) *KeychainBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeychainBackend{
		namespace: namespace,
		provider:  osKeyring{},
		logger:    logger,
		opTimeout: keychainOpTimeout,
	}
}

func newKeychainBackendWithProvider(namespace string, p keyringProvider) *KeychainBackend {
	return &KeychainBackend{
		namespace:   namespace,
		provider:    p,
		logger:      zap.NewNop(),
		skipOSCheck: true,
		opTimeout:   keychainOpTimeout,
	}
}

// SetForceAvailable skips the availability check (ARRDECK_SECRET_BACKEND=keychain).
func (kb *KeychainBackend) SetForceAvailable() {
	kb.forced.Store(true)
}

// userField builds "<namespace>\x1f<key>".
func (kb *KeychainBackend) userField(key string) (string, error) {
	if kb.namespace == "" || key == "" {
		return "", fmt.Errorf("keychain: empty namespace or key (namespace=%q key=%q)", kb.namespace, key)
	}
	if strings.Contains(kb.namespace, compositeKeySep) || strings.Contains(key, compositeKeySep) {
		return "", fmt.Errorf("keychain: namespace or key contains separator 0x1F (namespace=%q key=%q)", kb.namespace, key)
	}
	return kb.namespace + compositeKeySep + key, nil
}

// guard runs fn under the per-call deadline. go-keyring calls cannot be
// cancelled, so a hung call keeps its goroutine until the OS returns; the
// backend trips instead of waiting again.
func (kb *KeychainBackend) guard(op string, fn func() error) error {
	if kb.tripped.Load() {
		return fmt.Errorf("keychain %s: %w", op, errKeychainDisabled)
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()

	timer := time.NewTimer(kb.opTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		kb.tripped.Store(true)
		kb.logger.Warn("keychain call hung; using encrypted database only",
			zap.String("op", op), zap.Duration("timeout", kb.opTimeout))
		return fmt.Errorf("keychain %s timed out after %v", op, kb.opTimeout)
	}
}

// call resolves the user field for key and runs fn through guard. A missing
// keyring entry comes back as ErrSecretNotFound.
func (kb *KeychainBackend) call(op, key string, fn func(user string) error) error {
	user, err := kb.userField(key)
	if err != nil {
		return err
	}
	err = kb.guard(op, func() error { return fn(user) })
	switch {
	case err == nil:
		return nil
	case errors.Is(err, keyring.ErrNotFound):
		return fmt.Errorf("keychain: %s %q: %w", op, key, ErrSecretNotFound)
	default:
		return fmt.Errorf("keychain: %s %q: %w", op, key, err)
	}
}

func (kb *KeychainBackend) Set(_ context.Context, key, value string) error {
	return kb.call("set", key, func(user string) error {
		return kb.provider.Set(keychainService, user, value)
	})
}

func (kb *KeychainBackend) Get(_ context.Context, key string) (string, error) {
	var value string
	err := kb.call("get", key, func(user string) error {
		var err error
		value, err = kb.provider.Get(keychainService, user)
		return err
	})
	if err != nil {
		return "", err
	}
	return value, nil
}

func (kb *KeychainBackend) Delete(_ context.Context, key string) error {
	return kb.call("delete", key, func(user string) error {
		return kb.provider.Delete(keychainService, user)
	})
}

// SetBatch writes entries one by one. It is not atomic; FallbackBackend has
// already committed the same values to the database.
func (kb *KeychainBackend) SetBatch(ctx context.Context, values map[string]string) error {
	for key, value := range values {
		if err := kb.Set(ctx, key, value); err != nil {
			return err
		}
	}
	return nil
}

// GetBatch returns the keys present in the keychain; missing keys are left
// out of the result.
func (kb *KeychainBackend) GetBatch(ctx context.Context, keys []string) (map[string]string, error) {
	found := make(map[string]string, len(keys))
	for _, key := range keys {
		value, err := kb.Get(ctx, key)
		if errors.Is(err, ErrSecretNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		found[key] = value
	}
	return found, nil
}

// Keys is unsupported: keychains cannot be listed portably.
func (kb *KeychainBackend) Keys(context.Context, string) ([]string, error) {
	return nil, ErrEnumerationUnsupported
}

// Available reports whether the keychain can be used. A tripped backend is
// never available, even when forced. The check runs once.
func (kb *KeychainBackend) Available() bool {
	if kb.tripped.Load() {
		return false
	}
	if kb.forced.Load() {
		return true
	}
	kb.probeOnce.Do(func() {
		if runtime.GOOS == "darwin" && !kb.skipOSCheck {
			kb.probeOK = kb.hasDefaultKeychain()
			return
		}
		kb.probeOK = kb.canWrite()
	})
	return kb.probeOK
}

// hasDefaultKeychain asks `security` instead of touching an entry, which
// could raise an unlock dialog on macOS.
func (kb *KeychainBackend) hasDefaultKeychain() bool {
	ctx, cancel := context.WithTimeout(context.Background(), keychainProbeTime)
	defer cancel()
	if err := exec.CommandContext(ctx, "security", "default-keychain", "-d", "user").Run(); err != nil {
		kb.logger.Info("keychain unavailable: no default keychain", zap.Error(err))
		return false
	}
	return true
}

// canWrite writes and removes a throwaway entry. A stale entry from an
// interrupted earlier check is removed first.
func (kb *KeychainBackend) canWrite() bool {
	user, err := kb.userField(keychainProbeKey)
	if err != nil {
		kb.logger.Info("keychain unavailable", zap.Error(err))
		return false
	}

	done := make(chan error, 1)
	go func() {
		_ = kb.provider.Delete(keychainService, user)
		if err := kb.provider.Set(keychainService, user, "ok"); err != nil {
			done <- err
			return
		}
		done <- kb.provider.Delete(keychainService, user)
	}()

	timer := time.NewTimer(keychainProbeTime)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			kb.logger.Info("keychain unavailable", zap.Error(err))
			return false
		}
		return true
	case <-timer.C:
		kb.logger.Info("keychain check timed out, likely waiting on an OS prompt")
		return false
	}
}

func (kb *KeychainBackend) Name() string { return "keychain" }
