package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"

	configstore "github.com/arrdeck/arrdeck/internal/config/store"
)

// OpenStore opens a store in a temporary directory with the file secret
// backend and closes it when the test ends.
func OpenStore(t *testing.T) *configstore.Store {
	t.Helper()
	store, err := configstore.Open(context.Background(), configstore.Options{
		DBPath: filepath.Join(t.TempDir(), "config.db"),
		Logger: zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}
