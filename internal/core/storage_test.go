package core

import (
	"context"
	"path/filepath"
	"testing"
)

func TestOpenPersistentStoreDrivers(t *testing.T) {
	ctx := context.Background()
	mem, err := OpenPersistentStore(ctx, StorageConfig{Driver: StorageMemory}, NewDefaultRulesEngine())
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	_ = mem.Close()

	sq, err := OpenPersistentStore(ctx, StorageConfig{SQLitePath: filepath.Join(t.TempDir(), "state.db")}, NewDefaultRulesEngine())
	if err != nil {
		t.Fatalf("sqlite default: %v", err)
	}
	_ = sq.Close()

	if _, err := OpenPersistentStore(ctx, StorageConfig{Driver: StoragePostgres}, NewDefaultRulesEngine()); err == nil {
		t.Fatalf("expected missing dsn error")
	}
	if _, err := OpenPersistentStore(ctx, StorageConfig{Driver: "mongo"}, NewDefaultRulesEngine()); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

func TestDefaultRulesEngineRegistersBuiltins(t *testing.T) {
	names := NewDefaultRulesEngine().Rules()
	if len(names) != 2 || names[0] != "kit_sound_integrity" || names[1] != "work_item_revisions" {
		t.Fatalf("unexpected rules %v", names)
	}
}
