package core

import (
	"context"
	"fmt"
	"slices"
)

const historyTable = "oql_migrations"

// Migration represents a single versioned schema change.
type Migration struct {
	Version     int
	Description string
	Up          func(ctx context.Context, tx *Tx) error
	Down        func(ctx context.Context, tx *Tx) error
}

// Migrator applies migrations and records them in the oql_migrations table.
type Migrator struct {
	db      *DB
	history map[int]bool
}

// NewMigrator creates a new Migrator instance.
func NewMigrator(db *DB) *Migrator {
	return &Migrator{
		db:      db,
		history: make(map[int]bool),
	}
}

// Init creates the history table and loads the applied versions.
func (m *Migrator) Init(ctx context.Context) error {
	const createTableSQL = "CREATE TABLE IF NOT EXISTS [" + historyTable + "] (" +
		"[version] INTEGER PRIMARY KEY, " +
		"[description] VARCHAR(255), " +
		"[applied_at] TIMESTAMP DEFAULT CURRENT_TIMESTAMP)"
	if _, err := m.db.Raw(ctx, createTableSQL, nil, nil); err != nil {
		return fmt.Errorf("failed to initialize migration table: %w", err)
	}

	var versions []int
	if _, err := m.db.Raw(ctx, "SELECT [version] FROM ["+historyTable+"]", nil, &versions); err != nil {
		return fmt.Errorf("failed to fetch migration history: %w", err)
	}
	for _, v := range versions {
		m.history[v] = true
	}
	return nil
}

// Applied returns the applied versions in ascending order.
func (m *Migrator) Applied() []int {
	out := make([]int, 0, len(m.history))
	for v := range m.history {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

// Migrate applies, in version order, the migrations not applied yet. Each
// one runs in its own transaction together with its history row.
func (m *Migrator) Migrate(ctx context.Context, migrations ...*Migration) error {
	if err := m.Init(ctx); err != nil {
		return err
	}

	ordered := slices.Clone(migrations)
	slices.SortFunc(ordered, func(a, b *Migration) int { return a.Version - b.Version })

	for _, mig := range ordered {
		if m.history[mig.Version] {
			continue
		}

		err := m.db.Transaction(ctx, func(tx *Tx) error {
			if err := mig.Up(ctx, tx); err != nil {
				return err
			}
			_, err := tx.Raw(ctx,
				"INSERT INTO ["+historyTable+"] ([version],[description]) VALUES (@version,@description)",
				map[string]any{"version": mig.Version, "description": mig.Description}, nil)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to apply migration %d (%s): %w", mig.Version, mig.Description, err)
		}

		m.history[mig.Version] = true
	}

	return nil
}

// Rollback reverts an applied migration.
func (m *Migrator) Rollback(ctx context.Context, mig *Migration) error {
	if !m.history[mig.Version] {
		return fmt.Errorf("migration %d not applied", mig.Version)
	}

	err := m.db.Transaction(ctx, func(tx *Tx) error {
		if mig.Down != nil {
			if err := mig.Down(ctx, tx); err != nil {
				return err
			}
		}
		_, err := tx.Raw(ctx, "DELETE FROM ["+historyTable+"] WHERE [version] = @version",
			map[string]any{"version": mig.Version}, nil)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to rollback migration %d (%s): %w", mig.Version, mig.Description, err)
	}

	delete(m.history, mig.Version)
	return nil
}
