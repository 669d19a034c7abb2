package migrations

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ClickhouseDB is the part of a ClickHouse connection the migrator uses.
type ClickhouseDB interface {
	Exec(ctx context.Context, query string, args ...any) error
	Query(ctx context.Context, query string, args ...any) (driver.Rows, error)
}

const clickhouseLedger = `CREATE TABLE IF NOT EXISTS schema_migrations (
    version     UInt32,
    name        String,
    applied_at  DateTime64(3) DEFAULT now64(3)
) ENGINE = MergeTree
ORDER BY version`

// RunClickhouseMigrations applies the embedded migrations db has not recorded
// and returns the versions it applied. ClickHouse has no transactions, so a
// file that fails halfway is run again in full on the next start and its
// statements have to tolerate that.
func RunClickhouseMigrations(ctx context.Context, db ClickhouseDB) ([]int, error) {
	all, err := Clickhouse()
	if err != nil {
		return nil, err
	}
	if err := db.Exec(ctx, clickhouseLedger); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	done, err := clickhouseApplied(ctx, db)
	if err != nil {
		return nil, err
	}

	var applied []int
	for _, m := range pending(all, done) {
		for _, stmt := range m.Statements {
			if err := db.Exec(ctx, stmt); err != nil {
				return applied, fmt.Errorf("apply migration %03d_%s: %w", m.Version, m.Name, err)
			}
		}
		if err := db.Exec(ctx, "INSERT INTO schema_migrations (version, name) VALUES (?, ?)", uint32(m.Version), m.Name); err != nil {
			return applied, fmt.Errorf("record migration %03d_%s: %w", m.Version, m.Name, err)
		}
		applied = append(applied, m.Version)
	}
	return applied, nil
}

func clickhouseApplied(ctx context.Context, db ClickhouseDB) (map[int]bool, error) {
	rows, err := db.Query(ctx, "SELECT DISTINCT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer rows.Close()

	done := make(map[int]bool)
	for rows.Next() {
		var v uint32
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		done[int(v)] = true
	}
	return done, rows.Err()
}
