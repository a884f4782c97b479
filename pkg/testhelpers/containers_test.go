//go:build integration

package testhelpers

import (
	"context"
	"testing"
)

func TestEngineDB_Schema(t *testing.T) {
	edb := GetEngineDB(t)
	ctx := context.Background()

	for _, table := range engineTables {
		var exists bool
		err := edb.DB.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_schema = 'public' AND table_name = $1
			)`, table).Scan(&exists)
		if err != nil {
			t.Fatalf("failed to check table %s: %v", table, err)
		}
		if !exists {
			t.Errorf("expected table %s to exist after migrations", table)
		}
	}
}

func TestResetEngineDB(t *testing.T) {
	edb := GetEngineDB(t)
	ctx := context.Background()

	first := CreateTestUser(t, edb, "reset-check")
	ResetEngineDB(t, edb)

	var count int
	if err := edb.DB.QueryRow(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		t.Fatalf("failed to count users: %v", err)
	}
	if count != 0 {
		t.Errorf("expected no users after reset, got %d", count)
	}

	second := CreateTestUser(t, edb, "reset-check")
	if second > first {
		t.Errorf("expected identity restart, got id %d after %d", second, first)
	}
}
