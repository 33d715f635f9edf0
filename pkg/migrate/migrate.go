package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/pressly/goose/v3"
)

const (
	DefaultDir = "pkg/migrate/migrations"

	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite3"
)

//go:embed migrations/*.sql
var embedded embed.FS

// EmbeddedMigrations returns the migrations compiled into the binary, rooted
// so goose sees the .sql files at the top level.
func EmbeddedMigrations() fs.FS {
	sub, err := fs.Sub(embedded, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Source picks the on-disk directory when one is given and the embedded set
// otherwise.
func Source(dir string) fs.FS {
	if dir == "" {
		return EmbeddedMigrations()
	}
	return os.DirFS(dir)
}

// Migrator applies goose migrations through a Provider, so nothing here
// touches goose's package-level state.
type Migrator struct {
	provider *goose.Provider
}

// Applied is one migration a command ran.
type Applied struct {
	Version   int64
	Path      string
	Direction string
}

// State is the status line of one known migration.
type State struct {
	Version int64
	Path    string
	Applied bool
}

func New(db *sql.DB, dialect string, migrations fs.FS) (*Migrator, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	var d goose.Dialect
	switch dialect {
	case DialectPostgres:
		d = goose.DialectPostgres
	case DialectSQLite:
		d = goose.DialectSQLite3
	default:
		return nil, fmt.Errorf("unsupported migration dialect %q", dialect)
	}
	provider, err := goose.NewProvider(d, db, migrations)
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	return &Migrator{provider: provider}, nil
}

func (m *Migrator) Up(ctx context.Context) ([]Applied, error) {
	results, err := m.provider.Up(ctx)
	if err != nil {
		return applied(results), fmt.Errorf("goose up: %w", err)
	}
	return applied(results), nil
}

// Down rolls back the most recent migration.
func (m *Migrator) Down(ctx context.Context) (Applied, error) {
	result, err := m.provider.Down(ctx)
	if err != nil {
		return Applied{}, fmt.Errorf("goose down: %w", err)
	}
	out := applied([]*goose.MigrationResult{result})
	if len(out) == 0 {
		return Applied{}, nil
	}
	return out[0], nil
}

// To moves the schema up or down until target is the newest applied version.
func (m *Migrator) To(ctx context.Context, target int64) ([]Applied, error) {
	current, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}
	var results []*goose.MigrationResult
	switch {
	case current == target:
		return nil, nil
	case current < target:
		results, err = m.provider.UpTo(ctx, target)
	default:
		results, err = m.provider.DownTo(ctx, target)
	}
	if err != nil {
		return applied(results), fmt.Errorf("goose migrate to %d: %w", target, err)
	}
	return applied(results), nil
}

func (m *Migrator) Version(ctx context.Context) (int64, error) {
	v, err := m.provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

func (m *Migrator) Status(ctx context.Context) ([]State, error) {
	statuses, err := m.provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("goose status: %w", err)
	}
	out := make([]State, 0, len(statuses))
	for _, s := range statuses {
		if s == nil || s.Source == nil {
			continue
		}
		out = append(out, State{
			Version: s.Source.Version,
			Path:    s.Source.Path,
			Applied: s.State == goose.StateApplied,
		})
	}
	return out, nil
}

func applied(results []*goose.MigrationResult) []Applied {
	out := make([]Applied, 0, len(results))
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		out = append(out, Applied{Version: r.Source.Version, Path: r.Source.Path, Direction: r.Direction})
	}
	return out
}

// ParseVersion accepts the YYYYMMDDHHMMSS prefix used by migration files.
func ParseVersion(raw string) (int64, error) {
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS)", raw)
	}
	return v, nil
}

// UpEmbedded applies the compiled-in migrations to a postgres database.
func UpEmbedded(ctx context.Context, db *sql.DB) ([]Applied, error) {
	m, err := New(db, DialectPostgres, EmbeddedMigrations())
	if err != nil {
		return nil, err
	}
	return m.Up(ctx)
}
