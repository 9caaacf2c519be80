package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/arrdeck/arrdeck/internal/config"
	storecrypto "github.com/arrdeck/arrdeck/internal/config/store/crypto"
)

const (
	defaultBusyTimeout        = 5 * time.Second
	defaultConnectionLifetime = 0 // unlimited
	openTimeout               = 10 * time.Second
)

// ErrLocked is wrapped by the StorageError returned when another process
// already holds the instance open for writing.
var ErrLocked = errors.New("instance is locked by another process")

// Options describes parameters for opening a configuration store.
type Options struct {
	InstanceName  string // Logical instance name (defaults to config.DefaultInstance)
	Home          string // Root directory override (defaults to config.GetHome())
	DBPath        string // Optional override for config.db path (primarily for tests)
	VaultPath     string // Optional override for secrets.db; defaults next to DBPath
	ReadOnly      bool   // Open without taking the writer lock; every mutation fails
	SecretBackend string // config.SecretBackendFile (default), Auto or Keychain
	// Secrets replaces the vault backend entirely. The store does not close it.
	Secrets storecrypto.SecretBackend
	Logger  *zap.Logger
	Clock   func() time.Time
}

// Store is the single handle to an instance's profiles, service
// configurations and their secrets. All mutations are serialised through
// mu; reads share it.
type Store struct {
	mu       sync.RWMutex
	db       *sql.DB
	vaultDB  *sql.DB
	secrets  storecrypto.SecretBackend
	lock     *flock.Flock
	dbPath   string
	readOnly bool
	logger   *zap.Logger
	clock    func() time.Time
	vault    *Vault
}

// Open initialises the store for the given instance. A read-write open
// takes an exclusive advisory lock on the instance, creates the schema,
// seeds the default profile, repairs the single-active-profile invariant
// and removes vault entries whose configuration no longer exists.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.InstanceName == "" {
		opts.InstanceName = config.DefaultInstance
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("store")
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	dbPath, vaultPath, lockPath, err := resolvePaths(opts)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, openTimeout)
	defer cancel()

	s := &Store{
		dbPath:   dbPath,
		readOnly: opts.ReadOnly,
		logger:   logger,
		clock:    clock,
	}

	if !opts.ReadOnly {
		s.lock = flock.New(lockPath)
		locked, err := s.lock.TryLock()
		if err != nil {
			return nil, storageErr("acquire writer lock", err)
		}
		if !locked {
			return nil, storageErr("acquire writer lock", fmt.Errorf("%w: %s", ErrLocked, lockPath))
		}
	}

	if err := s.openDatabase(ctx); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.openSecrets(ctx, opts, vaultPath); err != nil {
		s.Close()
		return nil, err
	}

	if !opts.ReadOnly {
		if err := s.seedAndRepair(ctx); err != nil {
			s.Close()
			return nil, err
		}
		if err := s.sweepOrphanSecrets(ctx); err != nil {
			// Orphans are unreachable through the API; failing to remove
			// them must not block the instance from opening.
			logger.Warn("orphan secret sweep failed", zap.Error(err))
		}
	}

	s.vault = &Vault{store: s}
	logger.Debug("store opened",
		zap.String("db", dbPath),
		zap.String("secrets", s.secrets.Name()),
		zap.Bool("read_only", opts.ReadOnly),
	)
	return s, nil
}

func resolvePaths(opts Options) (dbPath, vaultPath, lockPath string, err error) {
	if opts.DBPath == "" {
		home := opts.Home
		if home == "" {
			home = config.GetHome()
		}
		paths := config.InstancePathsAt(home, opts.InstanceName)
		if !opts.ReadOnly {
			if err := config.EnsureInstanceDirs(paths); err != nil {
				return "", "", "", storageErr("ensure instance directories", err)
			}
		}
		dbPath, vaultPath, lockPath = paths.ConfigDB, paths.SecretsDB, paths.Lock
	} else {
		dbPath = opts.DBPath
		dir := filepath.Dir(dbPath)
		if !opts.ReadOnly {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return "", "", "", storageErr("ensure database directory", err)
			}
		}
		vaultPath = filepath.Join(dir, "secrets.db")
		lockPath = filepath.Join(dir, "arrdeck.lock")
	}
	if opts.VaultPath != "" {
		vaultPath = opts.VaultPath
	}
	return dbPath, vaultPath, lockPath, nil
}

func (s *Store) openDatabase(ctx context.Context) error {
	dsn := s.dbPath
	if s.readOnly {
		if _, err := os.Stat(s.dbPath); err != nil {
			return storageErr("open sqlite store", err)
		}
		dsn = fmt.Sprintf("file:%s?mode=ro", s.dbPath)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return storageErr("open sqlite store", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(defaultConnectionLifetime)
	db.SetConnMaxIdleTime(defaultConnectionLifetime)
	s.db = db

	if err := applyPragmas(ctx, db, s.readOnly); err != nil {
		return err
	}
	if s.readOnly {
		return checkSchemaVersion(ctx, db)
	}
	return applySchema(ctx, db)
}

func (s *Store) openSecrets(ctx context.Context, opts Options, vaultPath string) error {
	if opts.Secrets != nil {
		s.secrets = opts.Secrets
		return nil
	}

	var aes storecrypto.SecretBackend
	if opts.ReadOnly {
		backend, err := s.openReadOnlyVault(ctx, vaultPath)
		if err != nil {
			return err
		}
		aes = backend
	} else {
		db, err := storecrypto.OpenVaultDB(ctx, vaultPath, false)
		if err != nil {
			return storageErr("open vault", err)
		}
		s.vaultDB = db
		key, err := storecrypto.LoadOrCreateKey(ctx, db, vaultPath, s.logger)
		if err != nil {
			return storageErr("load vault key", err)
		}
		aes = storecrypto.NewAESBackend(db, key)
	}

	switch strings.ToLower(strings.TrimSpace(opts.SecretBackend)) {
	case "", config.SecretBackendFile:
		s.secrets = aes
	case config.SecretBackendAuto:
		kc := storecrypto.NewKeychainBackend(s.dbPath, s.logger)
		s.secrets = storecrypto.NewFallbackBackend(kc, aes, s.logger)
	case config.SecretBackendKeychain:
		kc := storecrypto.NewKeychainBackend(s.dbPath, s.logger)
		kc.SetForceAvailable()
		s.secrets = storecrypto.NewFallbackBackend(kc, aes, s.logger)
	default:
		return ValidationError{Field: "secret_backend", Message: fmt.Sprintf("unknown backend %q", opts.SecretBackend)}
	}
	return nil
}

// openReadOnlyVault opens the existing vault without creating anything.
// An instance that never stored a secret has no vault file; reads then
// simply report every secret as absent.
func (s *Store) openReadOnlyVault(ctx context.Context, vaultPath string) (storecrypto.SecretBackend, error) {
	if _, err := os.Stat(vaultPath); errors.Is(err, os.ErrNotExist) {
		return emptyBackend{}, nil
	}
	db, err := storecrypto.OpenVaultDB(ctx, vaultPath, true)
	if err != nil {
		return nil, storageErr("open vault", err)
	}
	s.vaultDB = db
	key, err := storecrypto.LoadKey(storecrypto.KeyPath(vaultPath), s.logger)
	if err != nil {
		return nil, storageErr("load vault key", err)
	}
	if key == nil {
		s.logger.Warn("vault key missing; stored secrets are unreadable in read-only mode")
		return emptyBackend{}, nil
	}
	return storecrypto.NewAESBackend(db, key), nil
}

// Close releases the databases and the writer lock.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.db != nil {
		errs = append(errs, s.db.Close())
		s.db = nil
	}
	if s.vaultDB != nil {
		errs = append(errs, s.vaultDB.Close())
		s.vaultDB = nil
	}
	if s.lock != nil {
		errs = append(errs, s.lock.Unlock())
		s.lock = nil
	}
	return errors.Join(errs...)
}

// Vault returns the secret vault bound to this store.
func (s *Store) Vault() *Vault {
	return s.vault
}

// ReadOnly reports whether the store was opened without write access.
func (s *Store) ReadOnly() bool {
	return s.readOnly
}

// DBPath returns the configuration database location.
func (s *Store) DBPath() string {
	return s.dbPath
}

// SecretBackendName names the active secret backend for diagnostics.
func (s *Store) SecretBackendName() string {
	return s.secrets.Name()
}

func (s *Store) now() time.Time {
	return s.clock().UTC()
}

func applyPragmas(ctx context.Context, db *sql.DB, readOnly bool) error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", defaultBusyTimeout.Milliseconds()),
		"PRAGMA foreign_keys = ON",
	}
	if !readOnly {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return storageErr(fmt.Sprintf("apply pragma %q", pragma), err)
		}
	}
	return nil
}

// emptyBackend stands in for a vault that has never been written.
type emptyBackend struct{}

func (emptyBackend) Set(context.Context, string, string) error { return ErrReadOnly }
func (emptyBackend) SetBatch(context.Context, map[string]string) error {
	return ErrReadOnly
}
func (emptyBackend) Get(context.Context, string) (string, error) {
	return "", storecrypto.ErrSecretNotFound
}
func (emptyBackend) GetBatch(context.Context, []string) (map[string]string, error) {
	return map[string]string{}, nil
}
func (emptyBackend) Delete(context.Context, string) error           { return ErrReadOnly }
func (emptyBackend) Keys(context.Context, string) ([]string, error) { return nil, nil }
func (emptyBackend) Available() bool                                { return true }
func (emptyBackend) Name() string                                   { return "empty" }
