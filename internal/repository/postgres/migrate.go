package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/lock"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

type MigrationStatus struct {
	Version   int64
	Name      string
	Applied   bool
	AppliedAt *time.Time
}

// Migrator applies the embedded goose migrations, tracked in goose_db_version.
type Migrator struct {
	provider *goose.Provider
}

// NewMigrator loads the embedded migrations. With locking, concurrent runs are serialized on
// a Postgres advisory lock.
func NewMigrator(db *sqlx.DB, locking bool) (*Migrator, error) {
	fsys, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open migrations: %w", err)
	}

	var opts []goose.ProviderOption
	if locking {
		locker, err := lock.NewPostgresSessionLocker()
		if err != nil {
			return nil, fmt.Errorf("failed to create migration lock: %w", err)
		}
		opts = append(opts, goose.WithSessionLocker(locker))
	}

	provider, err := goose.NewProvider(goose.DialectPostgres, db.DB, fsys, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}
	return &Migrator{provider: provider}, nil
}

// Sources lists the known migrations in version order.
func (m *Migrator) Sources() []MigrationStatus {
	sources := m.provider.ListSources()
	out := make([]MigrationStatus, 0, len(sources))
	for _, s := range sources {
		out = append(out, MigrationStatus{Version: s.Version, Name: path.Base(s.Path)})
	}
	return out
}

// Up applies every pending migration, each in its own transaction, and returns how many
// ran. On failure the count covers the migrations applied before it.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	results, err := m.provider.Up(ctx)
	if err != nil {
		var partial *goose.PartialError
		if errors.As(err, &partial) {
			return len(partial.Applied), fmt.Errorf("failed to apply migration %s: %w",
				path.Base(partial.Failed.Source.Path), partial.Err)
		}
		return 0, fmt.Errorf("failed to apply migrations: %w", err)
	}
	return len(results), nil
}

// Status lists every known migration and whether it has been applied.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	statuses, err := m.provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration status: %w", err)
	}

	out := make([]MigrationStatus, 0, len(statuses))
	for _, s := range statuses {
		st := MigrationStatus{Version: s.Source.Version, Name: path.Base(s.Source.Path)}
		if s.State == goose.StateApplied {
			appliedAt := s.AppliedAt
			st.Applied = true
			st.AppliedAt = &appliedAt
		}
		out = append(out, st)
	}
	return out, nil
}
