package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	storecrypto "github.com/arrdeck/arrdeck/internal/config/store/crypto"
)

// testClock hands out strictly increasing timestamps.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

// memSecrets is an in-memory SecretBackend with switchable failures.
type memSecrets struct {
	mu         sync.Mutex
	data       map[string]string
	failSet    bool
	failDelete bool
}

func newMemSecrets() *memSecrets {
	return &memSecrets{data: make(map[string]string)}
}

var errInjected = errors.New("injected vault failure")

func (m *memSecrets) Set(ctx context.Context, key, value string) error {
	return m.SetBatch(ctx, map[string]string{key: value})
}

func (m *memSecrets) SetBatch(_ context.Context, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSet {
		return errInjected
	}
	for k, v := range values {
		m.data[k] = v
	}
	return nil
}

func (m *memSecrets) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", storecrypto.ErrSecretNotFound
	}
	return v, nil
}

func (m *memSecrets) GetBatch(_ context.Context, keys []string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	for _, k := range keys {
		if v, ok := m.data[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (m *memSecrets) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDelete {
		return errInjected
	}
	if _, ok := m.data[key]; !ok {
		return storecrypto.ErrSecretNotFound
	}
	delete(m.data, key)
	return nil
}

func (m *memSecrets) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *memSecrets) Available() bool { return true }
func (m *memSecrets) Name() string    { return "memory" }

func (m *memSecrets) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

func (m *memSecrets) setFailures(set, del bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSet = set
	m.failDelete = del
}

func openTestStore(t *testing.T, mutate ...func(*Options)) *Store {
	t.Helper()
	opts := Options{
		DBPath: filepath.Join(t.TempDir(), "config.db"),
		Logger: zaptest.NewLogger(t),
		Clock:  newTestClock().Now,
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	s, err := Open(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func withSecrets(b storecrypto.SecretBackend) func(*Options) {
	return func(o *Options) { o.Secrets = b }
}

func requireSingleEnabled(t *testing.T, s *Store) Profile {
	t.Helper()
	profiles, err := s.Profiles(context.Background())
	require.NoError(t, err)
	var enabled []Profile
	for _, p := range profiles {
		if p.IsEnabled {
			enabled = append(enabled, p)
		}
	}
	require.Len(t, enabled, 1, "exactly one profile must be enabled")
	return enabled[0]
}

func TestOpenSeedsDefaultProfile(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	profiles, err := s.Profiles(ctx)
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	require.Equal(t, DefaultProfileName, profiles[0].Name)
	require.True(t, profiles[0].IsEnabled)
	require.Empty(t, profiles[0].Configurations)

	active, err := s.EnabledProfile(ctx)
	require.NoError(t, err)
	require.Equal(t, profiles[0].ID, active.ID)
	require.Equal(t, "aes-file", s.SecretBackendName())
}

func TestReopenKeepsProfiles(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	opts := Options{DBPath: filepath.Join(dir, "config.db")}

	s, err := Open(ctx, opts)
	require.NoError(t, err)
	work, err := s.CreateProfile(ctx, "Work")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, opts)
	require.NoError(t, err)
	defer s.Close()

	profiles, err := s.Profiles(ctx)
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	got, err := s.Profile(ctx, work.ID)
	require.NoError(t, err)
	require.Equal(t, "Work", got.Name)
	requireSingleEnabled(t, s)
}

func TestOpenWithInstanceHome(t *testing.T) {
	home := t.TempDir()
	s, err := Open(context.Background(), Options{Home: home, InstanceName: "lab"})
	require.NoError(t, err)
	defer s.Close()
	require.Equal(t, filepath.Join(home, "instances", "lab", "config.db"), s.DBPath())
}

func TestSecondWriterIsLocked(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	opts := Options{DBPath: filepath.Join(dir, "config.db")}

	first, err := Open(ctx, opts)
	require.NoError(t, err)
	defer first.Close()

	_, err = Open(ctx, opts)
	require.Error(t, err)
	require.True(t, IsStorage(err))
	require.ErrorIs(t, err, ErrLocked)

	reader, err := Open(ctx, Options{DBPath: opts.DBPath, ReadOnly: true})
	require.NoError(t, err)
	defer reader.Close()
	profiles, err := reader.Profiles(ctx)
	require.NoError(t, err)
	require.Len(t, profiles, 1)
}

func TestLockReleasedOnClose(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	opts := Options{DBPath: filepath.Join(dir, "config.db")}

	first, err := Open(ctx, opts)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(ctx, opts)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestReadOnlyStoreRejectsWrites(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	dbPath := filepath.Join(dir, "config.db")

	rw, err := Open(ctx, Options{DBPath: dbPath})
	require.NoError(t, err)
	require.NoError(t, rw.Close())

	ro, err := Open(ctx, Options{DBPath: dbPath, ReadOnly: true})
	require.NoError(t, err)
	defer ro.Close()
	require.True(t, ro.ReadOnly())

	_, err = ro.CreateProfile(ctx, "Nope")
	require.ErrorIs(t, err, ErrReadOnly)
	require.True(t, IsStorage(err))

	_, ok, err := ro.Vault().APIKey(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReadOnlyOpenOfMissingDatabaseFails(t *testing.T) {
	_, err := Open(context.Background(), Options{
		DBPath:   filepath.Join(t.TempDir(), "config.db"),
		ReadOnly: true,
	})
	require.Error(t, err)
	require.True(t, IsStorage(err))
}

func TestOpenRejectsNewerSchema(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	dbPath := filepath.Join(dir, "config.db")

	s, err := Open(ctx, Options{DBPath: dbPath})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	raw, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	_, err = raw.ExecContext(ctx, "PRAGMA user_version = 99")
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	_, err = Open(ctx, Options{DBPath: dbPath})
	require.Error(t, err)
	require.True(t, IsData(err))
}

func TestOpenRepairsMissingActiveProfile(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	dbPath := filepath.Join(dir, "config.db")

	s, err := Open(ctx, Options{DBPath: dbPath})
	require.NoError(t, err)
	_, err = s.CreateProfile(ctx, "Second")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	raw, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	_, err = raw.ExecContext(ctx, "UPDATE profiles SET is_enabled = 0")
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	s, err = Open(ctx, Options{DBPath: dbPath})
	require.NoError(t, err)
	defer s.Close()

	active := requireSingleEnabled(t, s)
	require.Equal(t, DefaultProfileName, active.Name)
}

func TestOpenRejectsUnknownSecretBackend(t *testing.T) {
	_, err := Open(context.Background(), Options{
		DBPath:        filepath.Join(t.TempDir(), "config.db"),
		SecretBackend: "floppy",
	})
	require.Error(t, err)
	require.True(t, IsValidation(err))
}

func TestOpenSweepsOrphanSecrets(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	secrets := newMemSecrets()
	opts := Options{DBPath: filepath.Join(dir, "config.db"), Secrets: secrets}

	s, err := Open(ctx, opts)
	require.NoError(t, err)
	profile, err := s.EnabledProfile(ctx)
	require.NoError(t, err)
	cfg, err := s.Attach(ctx, profile.ID, radarr("http://radarr.local:7878"), &Secrets{APIKey: "live-key"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	require.NoError(t, secrets.Set(ctx, "ghost-config/api_key", "stale"))
	require.NoError(t, secrets.Set(ctx, "not-a-vault-key", "junk"))

	s, err = Open(ctx, opts)
	require.NoError(t, err)
	defer s.Close()

	keys, err := secrets.Keys(ctx, "")
	require.NoError(t, err)
	require.Equal(t, []string{cfg.ID + "/api_key"}, keys)
}

func TestErrorHelpers(t *testing.T) {
	require.True(t, IsValidation(ValidationError{Field: "name", Message: "bad"}))
	require.True(t, IsNotFound(NotFoundError{Entity: "profile", Key: "x"}))
	require.True(t, IsData(DataError{Op: "decode", Err: errors.New("boom")}))
	require.True(t, IsStorage(StorageError{Op: "write", Err: errors.New("boom")}))
	require.False(t, IsNotFound(errors.New("plain")))

	require.Equal(t, "invalid name: bad", ValidationError{Field: "name", Message: "bad"}.Error())
	require.Equal(t, "profile x not found", NotFoundError{Entity: "profile", Key: "x"}.Error())
}

func TestClosedStoreReturnsStorageErrors(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	cfg, err := s.Attach(ctx, activeProfile(t, s).ID, radarr("http://radarr.lan:7878"), &Secrets{APIKey: "k"})
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.CreateProfile(ctx, "Late")
	require.True(t, IsStorage(err), "got %v", err)
	require.ErrorIs(t, err, sql.ErrConnDone)

	_, err = s.Profiles(ctx)
	require.True(t, IsStorage(err), "got %v", err)

	_, _, err = s.Vault().APIKey(ctx, cfg.ID)
	require.True(t, IsStorage(err), "got %v", err)

	_, err = s.Watch(ctx, time.Second)
	require.ErrorIs(t, err, sql.ErrConnDone)
}
