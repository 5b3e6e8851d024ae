package adapter

import (
	"context"
	"path/filepath"
	"testing"

	"creatorhub/internal/infra"
)

func TestOpenMemory(t *testing.T) {
	stores, err := Open(context.Background(), &infra.Config{StoreDriver: infra.StoreMemory}, infra.NopLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer stores.Close()
	if stores.Jobs == nil || stores.Ledger == nil || stores.Regenerations == nil {
		t.Fatalf("memory stores not wired: %+v", stores)
	}
	if stores.Ping != nil || stores.Credentials != nil {
		t.Fatalf("memory backend should have no ping or credentials")
	}
}

func TestOpenSQLite(t *testing.T) {
	cfg := &infra.Config{StoreDriver: infra.StoreSQLite, SQLitePath: filepath.Join(t.TempDir(), "hub.db")}
	stores, err := Open(context.Background(), cfg, infra.NopLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer stores.Close()
	if err := stores.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), &infra.Config{StoreDriver: "etcd"}, infra.NopLogger()); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
