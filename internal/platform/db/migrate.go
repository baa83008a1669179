package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migration is a single schema change applied exactly once, in version order.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the full schema history. Append only; never edit an
// entry that has shipped.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "patient_records",
		SQL: `CREATE TABLE IF NOT EXISTS patient_records (
    id UUID PRIMARY KEY,
    email_idx TEXT NOT NULL DEFAULT '',
    password_hash TEXT NOT NULL DEFAULT '',
    doc JSONB NOT NULL,
    analysis_status VARCHAR(16) NOT NULL DEFAULT 'pending',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	},
	{
		Version: 2,
		Name:    "patient_records_email_idx",
		SQL:     `CREATE INDEX IF NOT EXISTS idx_patient_records_email ON patient_records (email_idx) WHERE email_idx <> ''`,
	},
	{
		Version: 3,
		Name:    "patient_records_status_idx",
		SQL:     `CREATE INDEX IF NOT EXISTS idx_patient_records_status ON patient_records (analysis_status)`,
	},
}

// Migrate applies any migrations not yet recorded in the _migrations
// tracking table. Each migration runs in its own transaction together
// with its tracking row, so a failed migration leaves no partial state.
func Migrate(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	_, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS _migrations (
    version INTEGER PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    applied_at TIMESTAMPTZ DEFAULT NOW()
)`)
	if err != nil {
		return 0, fmt.Errorf("create _migrations table: %w", err)
	}

	applied := map[int]bool{}
	rows, err := pool.Query(ctx, `SELECT version FROM _migrations`)
	if err != nil {
		return 0, fmt.Errorf("read applied migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan migration version: %w", err)
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("read applied migrations: %w", err)
	}

	count := 0
	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return count, fmt.Errorf("begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(ctx, m.SQL); err != nil {
			tx.Rollback(ctx)
			return count, fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Name, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO _migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name); err != nil {
			tx.Rollback(ctx)
			return count, fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return count, fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
		count++
	}

	return count, nil
}

// MigrationStatus reports whether one known migration has been applied.
type MigrationStatus struct {
	Version   int
	Name      string
	Applied   bool
	AppliedAt *time.Time
}

// Status lists every known migration and its applied state.
func Status(ctx context.Context, pool *pgxpool.Pool) ([]MigrationStatus, error) {
	applied := map[int]time.Time{}
	rows, err := pool.Query(ctx, `SELECT version, applied_at FROM _migrations`)
	if err == nil {
		for rows.Next() {
			var v int
			var at time.Time
			if err := rows.Scan(&v, &at); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan migration status: %w", err)
			}
			applied[v] = at
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("read migration status: %w", err)
		}
	}
	// A query error almost certainly means the tracking table does not
	// exist yet; report everything as pending.

	statuses := make([]MigrationStatus, 0, len(migrations))
	for _, m := range migrations {
		st := MigrationStatus{Version: m.Version, Name: m.Name}
		if at, ok := applied[m.Version]; ok {
			st.Applied = true
			st.AppliedAt = &at
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}
