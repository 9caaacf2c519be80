package crypto

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func makeTestKey() []byte {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := OpenVaultDB(context.Background(), filepath.Join(t.TempDir(), "secrets.db"), false)
	if err != nil {
		t.Fatalf("open vault db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	t.Parallel()

	key := makeTestKey()
	plaintext := "radarr-api-key-12345"
	encrypted, err := EncryptValue(key, plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if !strings.HasPrefix(encrypted, EncPrefix) {
		t.Fatalf("expected %s prefix, got %q", EncPrefix, encrypted)
	}
	if strings.Contains(encrypted, plaintext) {
		t.Fatal("ciphertext must not contain the plaintext")
	}

	decrypted, err := DecryptValue(key, encrypted)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if decrypted != plaintext {
		t.Fatalf("expected %q, got %q", plaintext, decrypted)
	}
}

func TestDecryptRejectsUnprefixedValue(t *testing.T) {
	t.Parallel()

	if _, err := DecryptValue(makeTestKey(), "plaintext-secret"); err == nil {
		t.Fatal("expected error for value without encryption prefix")
	}
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	t.Parallel()

	keyB := make([]byte, KeySize)
	for i := range keyB {
		keyB[i] = 0xFF
	}

	encrypted, err := EncryptValue(makeTestKey(), "secret")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := DecryptValue(keyB, encrypted); err == nil {
		t.Fatal("expected decryption with wrong key to fail")
	}
}

func TestCreateKeyWritesPrivateFile(t *testing.T) {
	t.Parallel()

	keyPath := filepath.Join(t.TempDir(), KeyFileName)
	key, err := CreateKey(keyPath)
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	if len(key) != KeySize {
		t.Fatalf("expected %d byte key, got %d", KeySize, len(key))
	}

	info, err := os.Stat(keyPath)
	if err != nil {
		t.Fatalf("stat key: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("expected mode 0600, got %o", perm)
	}

	loaded, err := LoadKey(keyPath, nil)
	if err != nil {
		t.Fatalf("load key: %v", err)
	}
	if string(loaded) != string(key) {
		t.Fatal("loaded key differs from created key")
	}
}

func TestCreateKeyConcurrentCallersAgree(t *testing.T) {
	t.Parallel()

	keyPath := filepath.Join(t.TempDir(), KeyFileName)

	const workers = 8
	keys := make([][]byte, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			keys[i], errs[i] = CreateKey(keyPath)
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if string(keys[i]) != string(keys[0]) {
			t.Fatalf("worker %d got a different key", i)
		}
	}
}

func TestLoadKeyMissingReturnsNil(t *testing.T) {
	t.Parallel()

	key, err := LoadKey(filepath.Join(t.TempDir(), KeyFileName), nil)
	if err != nil {
		t.Fatalf("load key: %v", err)
	}
	if key != nil {
		t.Fatal("expected nil key for missing file")
	}
}

func TestLoadKeyRejectsWrongSize(t *testing.T) {
	t.Parallel()

	keyPath := filepath.Join(t.TempDir(), KeyFileName)
	if err := os.WriteFile(keyPath, []byte("short"), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	if _, err := LoadKey(keyPath, nil); err == nil {
		t.Fatal("expected error for truncated key")
	}
}

func TestLoadOrCreateKeyRefusesWhenCiphertextExists(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	vaultPath := filepath.Join(dir, "secrets.db")
	ctx := context.Background()

	db, err := OpenVaultDB(ctx, vaultPath, false)
	if err != nil {
		t.Fatalf("open vault db: %v", err)
	}
	defer db.Close()

	key, err := LoadOrCreateKey(ctx, db, vaultPath, nil)
	if err != nil {
		t.Fatalf("first LoadOrCreateKey: %v", err)
	}
	if err := NewAESBackend(db, key).Set(ctx, "cfg/api_key", "value"); err != nil {
		t.Fatalf("set: %v", err)
	}

	again, err := LoadOrCreateKey(ctx, db, vaultPath, nil)
	if err != nil {
		t.Fatalf("second LoadOrCreateKey: %v", err)
	}
	if string(again) != string(key) {
		t.Fatal("expected existing key to be reused")
	}

	if err := os.Remove(KeyPath(vaultPath)); err != nil {
		t.Fatalf("remove key: %v", err)
	}
	if _, err := LoadOrCreateKey(ctx, db, vaultPath, nil); err == nil {
		t.Fatal("expected refusal to mint a key over existing ciphertext")
	}
}
