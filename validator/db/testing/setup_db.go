// Package testing allows for spinning up a real bolt-db instance for testing
// purposes.
package testing

import (
	"testing"

	"github.com/chainswarm/subnet2/validator/db/iface"
	"github.com/chainswarm/subnet2/validator/db/kv"
)

// SetupDB instantiates and returns a database backed by a temporary
// directory, torn down when the test completes.
func SetupDB(t testing.TB) iface.Database {
	db, err := kv.NewKVStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to instantiate database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Fatalf("Failed to close database: %v", err)
		}
		if err := db.ClearDB(); err != nil {
			t.Fatalf("Failed to clear database: %v", err)
		}
	})
	return db
}
