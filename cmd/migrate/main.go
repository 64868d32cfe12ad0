// migrate применяет встроенные SQL-миграции к базе магазина.
// Направление задаётся флагом -direction: up, down или status.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/shopfront/internal/storage/postgres"
)

const commandTimeout = 30 * time.Second

func main() {
	direction := flag.String("direction", "up", "migration direction: up|down|status")
	steps := flag.Int("steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	dsnFlag := flag.String("dsn", "", "PostgreSQL DSN (fallback: SHOPFRONT_POSTGRES_DSN)")
	flag.Parse()

	dsn := strings.TrimSpace(*dsnFlag)
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("SHOPFRONT_POSTGRES_DSN"))
	}
	if dsn == "" {
		fail("SHOPFRONT_POSTGRES_DSN (or -dsn) is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		fail("open postgres store: %v", err)
	}
	defer store.Close()

	summary, err := execute(ctx, store, *direction, *steps)
	if err != nil {
		fail("%v", err)
	}
	fmt.Println(summary)
}

// execute выполняет выбранную команду и возвращает строку-итог
// с текущей версией схемы и числом применённых миграций.
func execute(ctx context.Context, store *postgres.Store, direction string, steps int) (string, error) {
	direction = strings.ToLower(strings.TrimSpace(direction))

	switch direction {
	case "up":
		if err := store.MigrateUp(ctx, steps); err != nil {
			return "", fmt.Errorf("migrate up failed: %w", err)
		}
	case "down":
		if steps <= 0 {
			steps = 1
		}
		if err := store.MigrateDown(ctx, steps); err != nil {
			return "", fmt.Errorf("migrate down failed: %w", err)
		}
	case "status":
	default:
		return "", fmt.Errorf("unsupported direction: %s (use up|down|status)", direction)
	}

	version, count, err := store.MigrationStatus(ctx)
	if err != nil {
		return "", fmt.Errorf("migration status failed: %w", err)
	}

	if direction == "status" {
		return fmt.Sprintf("migration status: version=%d applied=%d", version, count), nil
	}
	return fmt.Sprintf("migrate %s ok: version=%d applied=%d", direction, version, count), nil
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
