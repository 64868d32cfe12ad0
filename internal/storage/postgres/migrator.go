package postgres

import (
	"cmp"
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

//go:embed sql/migrations/*.sql
var migrationsFS embed.FS

const migrationsGlob = "sql/migrations/*.sql"

// Ключ advisory-лока, общий для всех инстансов сервиса: одновременный
// запуск с авто-миграцией не должен гонять DDL параллельно.
const migrationLockKey = int64(730451209)

const migrationTableDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// NNNN_name.up.sql / NNNN_name.down.sql
var migrationFilePattern = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

type migrationDirection string

const (
	migrationUp   migrationDirection = "up"
	migrationDown migrationDirection = "down"
)

// migration — пара up/down SQL под одной версией.
type migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

// attach кладёт тело в нужную половину пары, отвергая дубликаты.
func (m *migration) attach(direction, body string) error {
	switch migrationDirection(direction) {
	case migrationUp:
		if m.UpSQL != "" {
			return fmt.Errorf("duplicate up migration for version %d", m.Version)
		}
		m.UpSQL = body
	case migrationDown:
		if m.DownSQL != "" {
			return fmt.Errorf("duplicate down migration for version %d", m.Version)
		}
		m.DownSQL = body
	}
	return nil
}

// MigrateUp применяет недостающие up-миграции в порядке версий.
// steps=0 применяет все доступные.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.migrate(ctx, migrationUp, steps)
}

// MigrateDown откатывает последние применённые миграции.
// steps<=0 трактуется как один шаг, чтобы случайный вызов не снёс схему.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return s.migrate(ctx, migrationDown, steps)
}

// MigrationStatus возвращает максимальную применённую версию и число
// записей в schema_migrations.
func (s *Store) MigrationStatus(ctx context.Context) (version int64, applied int, err error) {
	if s == nil || s.db == nil {
		return 0, 0, fmt.Errorf("postgres store is not initialized")
	}

	statusCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err = s.db.ExecContext(statusCtx, migrationTableDDL); err != nil {
		return 0, 0, fmt.Errorf("ensure migration table: %w", err)
	}

	row := s.db.QueryRowContext(statusCtx,
		`SELECT COALESCE(MAX(version), 0), COUNT(*) FROM schema_migrations`)
	if err = row.Scan(&version, &applied); err != nil {
		return 0, 0, fmt.Errorf("query migration status: %w", err)
	}

	return version, applied, nil
}

func (s *Store) migrate(ctx context.Context, direction migrationDirection, steps int) error {
	switch {
	case s == nil, s.db == nil:
		return fmt.Errorf("postgres store is not initialized")
	}

	migrations, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		return err
	}

	// Лок и весь прогон идут на одном соединении: pg_advisory_lock
	// привязан к сессии.
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	return withMigrationLock(ctx, conn, func() error {
		if _, err := conn.ExecContext(ctx, migrationTableDDL); err != nil {
			return fmt.Errorf("ensure migration table: %w", err)
		}

		switch direction {
		case migrationUp:
			return applyPendingUp(ctx, conn, migrations, steps)
		case migrationDown:
			return rollbackApplied(ctx, conn, migrations, steps)
		default:
			return fmt.Errorf("unsupported migration direction: %s", direction)
		}
	})
}

// withMigrationLock выполняет fn под сессионным advisory-локом.
func withMigrationLock(ctx context.Context, conn *sql.Conn, fn func() error) error {
	lockCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", migrationLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", migrationLockKey)
	}()

	return fn()
}

func applyPendingUp(ctx context.Context, conn *sql.Conn, migrations []migration, steps int) error {
	appliedList, err := queryVersions(ctx, conn,
		`SELECT version FROM schema_migrations`)
	if err != nil {
		return err
	}
	applied := make(map[int64]bool, len(appliedList))
	for _, version := range appliedList {
		applied[version] = true
	}

	done := 0
	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		if err := runMigrationTx(ctx, conn, m, migrationUp); err != nil {
			return err
		}
		if done++; steps > 0 && done >= steps {
			break
		}
	}

	return nil
}

func rollbackApplied(ctx context.Context, conn *sql.Conn, migrations []migration, steps int) error {
	byVersion := make(map[int64]migration, len(migrations))
	for _, m := range migrations {
		byVersion[m.Version] = m
	}

	versions, err := queryVersions(ctx, conn,
		`SELECT version FROM schema_migrations ORDER BY version DESC LIMIT $1`, steps)
	if err != nil {
		return err
	}

	for _, version := range versions {
		m, ok := byVersion[version]
		if !ok {
			return fmt.Errorf("cannot rollback unknown migration version %d", version)
		}
		if err := runMigrationTx(ctx, conn, m, migrationDown); err != nil {
			return err
		}
	}

	return nil
}

// runMigrationTx выполняет SQL миграции и правку schema_migrations
// в одной транзакции.
func runMigrationTx(ctx context.Context, conn *sql.Conn, m migration, direction migrationDirection) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx (%s %d): %w", direction, m.Version, err)
	}

	body, record, recordArgs := m.UpSQL,
		`INSERT INTO schema_migrations (version, name, applied_at) VALUES ($1, $2, NOW())`,
		[]any{m.Version, m.Name}
	if direction == migrationDown {
		body, record, recordArgs = m.DownSQL,
			`DELETE FROM schema_migrations WHERE version = $1`,
			[]any{m.Version}
	}

	if _, err := tx.ExecContext(ctx, body); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("execute %s migration %d_%s: %w", direction, m.Version, m.Name, err)
	}
	if _, err := tx.ExecContext(ctx, record, recordArgs...); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record %s migration %d_%s: %w", direction, m.Version, m.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s migration %d_%s: %w", direction, m.Version, m.Name, err)
	}

	return nil
}

// queryVersions выполняет запрос, возвращающий один столбец version.
func queryVersions(ctx context.Context, conn *sql.Conn, query string, args ...any) ([]int64, error) {
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query migration versions: %w", err)
	}
	defer rows.Close()

	var versions []int64
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan migration version: %w", err)
		}
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate migration versions: %w", err)
	}

	return versions, nil
}

// parseMigrationFile разбирает имя файла миграции на версию, имя и направление.
func parseMigrationFile(base string) (version int64, name, direction string, err error) {
	matches := migrationFilePattern.FindStringSubmatch(base)
	if len(matches) != 4 {
		return 0, "", "", fmt.Errorf("invalid migration file name: %s", base)
	}

	version, err = strconv.ParseInt(matches[1], 10, 64)
	if err != nil {
		return 0, "", "", fmt.Errorf("parse migration version from %s: %w", base, err)
	}

	return version, matches[2], matches[3], nil
}

// loadMigrationsFromFS собирает пары up/down из встроенных SQL-файлов.
// Обе половины каждой версии обязательны.
func loadMigrationsFromFS(fsys fs.FS) ([]migration, error) {
	files, err := fs.Glob(fsys, migrationsGlob)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no migration files found")
	}

	pairs := make(map[int64]*migration, len(files)/2)
	for _, file := range files {
		base := filepath.Base(file)
		version, name, direction, err := parseMigrationFile(base)
		if err != nil {
			return nil, err
		}

		raw, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read migration file %s: %w", file, err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration file is empty: %s", base)
		}

		pair := pairs[version]
		switch {
		case pair == nil:
			pair = &migration{Version: version, Name: name}
			pairs[version] = pair
		case pair.Name != name:
			return nil, fmt.Errorf("migration name mismatch for version %d: %s vs %s", version, pair.Name, name)
		}
		if err := pair.attach(direction, body); err != nil {
			return nil, err
		}
	}

	migrations := make([]migration, 0, len(pairs))
	for _, pair := range pairs {
		if pair.UpSQL == "" || pair.DownSQL == "" {
			return nil, fmt.Errorf("migration %d_%s must have both up and down files", pair.Version, pair.Name)
		}
		migrations = append(migrations, *pair)
	}
	slices.SortFunc(migrations, func(a, b migration) int {
		return cmp.Compare(a.Version, b.Version)
	})

	return migrations, nil
}
