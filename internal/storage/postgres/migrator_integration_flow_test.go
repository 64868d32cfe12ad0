package postgres

import (
	"context"
	"testing"
	"time"
)

// checkMigrationStatus сверяет версию и число применённых миграций.
func checkMigrationStatus(t *testing.T, ctx context.Context, store *Store, stage string, wantVersion int64, wantApplied int) {
	t.Helper()

	version, applied, err := store.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("migration status %s: %v", stage, err)
	}
	if version != wantVersion || applied != wantApplied {
		t.Fatalf("unexpected status %s: version=%d applied=%d, want version=%d applied=%d",
			stage, version, applied, wantVersion, wantApplied)
	}
}

func TestMigrator_PostgresLifecycle(t *testing.T) {
	store := openRawPostgresStoreForIntegrationTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	// Сбрасываем состояние схемы перед прогоном.
	if err := store.MigrateDown(ctx, 100); err != nil {
		t.Fatalf("migrate down reset: %v", err)
	}
	checkMigrationStatus(t, ctx, store, "after reset", 0, 0)

	if err := store.MigrateUp(ctx, 0); err != nil {
		t.Fatalf("migrate up all: %v", err)
	}
	checkMigrationStatus(t, ctx, store, "after up all", 2, 2)

	// Повторный up ничего не меняет.
	if err := store.MigrateUp(ctx, 0); err != nil {
		t.Fatalf("idempotent migrate up: %v", err)
	}
	checkMigrationStatus(t, ctx, store, "after idempotent up", 2, 2)

	if err := store.MigrateDown(ctx, 1); err != nil {
		t.Fatalf("migrate down 1: %v", err)
	}
	checkMigrationStatus(t, ctx, store, "after down 1", 1, 1)

	// steps<=0 трактуется как один шаг.
	if err := store.MigrateDown(ctx, 0); err != nil {
		t.Fatalf("migrate down default step: %v", err)
	}
	checkMigrationStatus(t, ctx, store, "after down default", 0, 0)

	// Down на пустой схеме — no-op.
	if err := store.MigrateDown(ctx, 1); err != nil {
		t.Fatalf("migrate down on empty must be no-op: %v", err)
	}
}

func TestMigrator_GuardsAndUnsupportedDirection(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var nilStore *Store
	for name, call := range map[string]func() error{
		"MigrateUp":       func() error { return nilStore.MigrateUp(ctx, 0) },
		"MigrateDown":     func() error { return nilStore.MigrateDown(ctx, 1) },
		"MigrationStatus": func() error { _, _, err := nilStore.MigrationStatus(ctx); return err },
	} {
		if err := call(); err == nil {
			t.Fatalf("expected error for nil store %s", name)
		}
	}

	store := openRawPostgresStoreForIntegrationTest(t)
	if err := store.migrate(ctx, migrationDirection("sideways"), 0); err == nil {
		t.Fatal("expected unsupported direction error")
	}
}
