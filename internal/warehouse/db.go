// Package warehouse is the analytics sink. Every load deduplicates by
// natural business key: query the keys of the whole batch, subtract the ones
// already present, insert only the remainder.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"marketsync/internal/models"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

const keyColumn = "natural_key"

// StagingTable returns the staging twin used by the merge path.
func StagingTable(target string) string {
	return target + "_staging"
}

// StatusLogTable returns the last-known-status change log for a table.
func StatusLogTable(target string) string {
	return target + "_status_log"
}

type DB struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewDB(path string, brands []models.Brand, logger *zerolog.Logger) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create warehouse directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open warehouse: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("connect warehouse: %w", err)
	}

	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "warehouse").Logger()
	}

	w := &DB{db: db, logger: base}
	if err := w.createTables(brands); err != nil {
		return nil, fmt.Errorf("create warehouse tables: %w", err)
	}

	base.Info().Str("path", path).Int("brands", len(brands)).Msg("warehouse initialized")
	return w, nil
}

func (w *DB) createTables(brands []models.Brand) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS sync_runs (
            id TEXT PRIMARY KEY,
            brand TEXT NOT NULL,
            job_id TEXT NOT NULL,
            started_at DATETIME NOT NULL,
            finished_at DATETIME NOT NULL,
            orders_fetched INTEGER NOT NULL DEFAULT 0,
            orders_inserted INTEGER NOT NULL DEFAULT 0,
            escrow_inserted INTEGER NOT NULL DEFAULT 0,
            returns_inserted INTEGER NOT NULL DEFAULT 0,
            wallet_inserted INTEGER NOT NULL DEFAULT 0,
            ad_spend_inserted INTEGER NOT NULL DEFAULT 0,
            partial BOOLEAN NOT NULL DEFAULT 0,
            error TEXT
        )`,
		`CREATE INDEX IF NOT EXISTS idx_sync_runs_brand ON sync_runs(brand, started_at)`,
	}

	for _, b := range brands {
		queries = append(queries, brandTableDDL(b.Tables)...)
	}

	for _, query := range queries {
		if _, err := w.db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

func brandTableDDL(t models.WarehouseTables) []string {
	ordersDDL := func(name string) string {
		return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
            natural_key TEXT PRIMARY KEY,
            order_no TEXT NOT NULL,
            status TEXT NOT NULL,
            buyer_id TEXT,
            amount REAL,
            currency TEXT,
            created_at DATETIME,
            updated_at DATETIME
        )`, name)
	}
	escrowDDL := func(name string) string {
		return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
            natural_key TEXT PRIMARY KEY,
            order_no TEXT NOT NULL,
            fee_type TEXT NOT NULL,
            amount REAL,
            settled_at DATETIME
        )`, name)
	}
	statusLogDDL := func(name string) string {
		return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
            natural_key TEXT PRIMARY KEY,
            status TEXT NOT NULL,
            updated_at DATETIME
        )`, name)
	}

	return []string{
		ordersDDL(t.Orders),
		statusLogDDL(StatusLogTable(t.Orders)),
		escrowDDL(t.Escrow),
		escrowDDL(StagingTable(t.Escrow)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
            natural_key TEXT PRIMARY KEY,
            return_no TEXT NOT NULL,
            order_no TEXT,
            status TEXT NOT NULL,
            amount REAL,
            created_at DATETIME,
            updated_at DATETIME
        )`, t.Returns),
		statusLogDDL(StatusLogTable(t.Returns)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
            natural_key TEXT PRIMARY KEY,
            txn_id TEXT NOT NULL,
            type TEXT,
            amount REAL,
            date DATETIME
        )`, t.Wallet),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
            natural_key TEXT PRIMARY KEY,
            date TEXT NOT NULL,
            campaign_id TEXT NOT NULL,
            product_id TEXT,
            kind TEXT NOT NULL,
            spend REAL,
            impressions INTEGER
        )`, t.AdSpend),
	}
}

func (w *DB) Close() error {
	return w.db.Close()
}

// ExistingKeys returns which of the candidate keys are already present in the
// table. Batched per call so a load is two round trips, not one per row.
func (w *DB) ExistingKeys(ctx context.Context, table string, keys []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{}, len(keys))
	const chunkSize = 500

	for start := 0; start < len(keys); start += chunkSize {
		end := start + chunkSize
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		query := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s)", keyColumn, table, keyColumn, placeholders)

		args := make([]any, len(chunk))
		for i, k := range chunk {
			args[i] = k
		}

		rows, err := w.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("existing keys %s: %w", table, err)
		}
		for rows.Next() {
			var k string
			if err := rows.Scan(&k); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan existing key: %w", err)
			}
			existing[k] = struct{}{}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return existing, nil
}

// Insert writes rows one statement at a time. A rejected row is logged with
// its key and reason and does not abort the rest of the batch. Returns the
// number of rows actually inserted.
func (w *DB) Insert(ctx context.Context, table string, columns []string, rows [][]any) (int, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(columns)), ",")
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(columns, ", "), placeholders)

	inserted := 0
	for _, row := range rows {
		if _, err := w.db.ExecContext(ctx, query, row...); err != nil {
			w.logger.Error().
				Str("table", table).
				Interface("key", row[0]).
				Err(err).
				Msg("row rejected by warehouse")
			continue
		}
		inserted++
	}
	return inserted, nil
}

// MergeSpec names the columns carried from staging into the target.
type MergeSpec struct {
	Columns []string
}

// RunMerge copies staged rows into the target, ignoring natural-key
// conflicts, and truncates the staging table after a successful merge.
func (w *DB) RunMerge(ctx context.Context, staging, target string, spec MergeSpec) (int, error) {
	cols := strings.Join(spec.Columns, ", ")
	query := fmt.Sprintf("INSERT OR IGNORE INTO %s (%s) SELECT %s FROM %s", target, cols, cols, staging)

	result, err := w.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("merge %s into %s: %w", staging, target, err)
	}
	merged, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	if err := w.Truncate(ctx, staging); err != nil {
		return int(merged), err
	}
	return int(merged), nil
}

// Truncate empties a table.
func (w *DB) Truncate(ctx context.Context, table string) error {
	if _, err := w.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		return fmt.Errorf("truncate %s: %w", table, err)
	}
	return nil
}

// RecordSyncRun persists one pipeline run summary.
func (w *DB) RecordSyncRun(ctx context.Context, run models.SyncRun) error {
	query := `INSERT INTO sync_runs (
        id, brand, job_id, started_at, finished_at,
        orders_fetched, orders_inserted, escrow_inserted,
        returns_inserted, wallet_inserted, ad_spend_inserted, partial, error
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := w.db.ExecContext(ctx, query,
		run.ID, run.Brand, run.JobID, run.StartedAt, run.FinishedAt,
		run.OrdersFetched, run.OrdersInserted, run.EscrowInserted,
		run.ReturnsInserted, run.WalletInserted, run.AdSpendInserted,
		run.Partial, run.Error,
	)
	if err != nil {
		return fmt.Errorf("record sync run %s: %w", run.ID, err)
	}
	return nil
}

// SyncRunsSince returns run summaries started on or after the given time,
// newest first.
func (w *DB) SyncRunsSince(ctx context.Context, since time.Time) ([]models.SyncRun, error) {
	query := `SELECT id, brand, job_id, started_at, finished_at,
               orders_fetched, orders_inserted, escrow_inserted,
               returns_inserted, wallet_inserted, ad_spend_inserted, partial, error
              FROM sync_runs WHERE started_at >= ? ORDER BY started_at DESC`

	rows, err := w.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("list sync runs: %w", err)
	}
	defer rows.Close()

	var runs []models.SyncRun
	for rows.Next() {
		var r models.SyncRun
		if err := rows.Scan(
			&r.ID, &r.Brand, &r.JobID, &r.StartedAt, &r.FinishedAt,
			&r.OrdersFetched, &r.OrdersInserted, &r.EscrowInserted,
			&r.ReturnsInserted, &r.WalletInserted, &r.AdSpendInserted, &r.Partial, &r.Error,
		); err != nil {
			return nil, fmt.Errorf("scan sync run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (w *DB) lastStatuses(ctx context.Context, logTable string, keys []string) (map[string]string, error) {
	statuses := make(map[string]string, len(keys))
	const chunkSize = 500

	for start := 0; start < len(keys); start += chunkSize {
		end := start + chunkSize
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		query := fmt.Sprintf("SELECT %s, status FROM %s WHERE %s IN (%s)", keyColumn, logTable, keyColumn, placeholders)

		args := make([]any, len(chunk))
		for i, k := range chunk {
			args[i] = k
		}

		rows, err := w.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("last statuses %s: %w", logTable, err)
		}
		for rows.Next() {
			var k, status string
			if err := rows.Scan(&k, &status); err != nil {
				rows.Close()
				return nil, err
			}
			statuses[k] = status
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return statuses, nil
}

func (w *DB) upsertStatus(ctx context.Context, logTable, key, status string) error {
	query := fmt.Sprintf(`INSERT INTO %s (natural_key, status, updated_at) VALUES (?, ?, ?)
        ON CONFLICT(natural_key) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`, logTable)
	_, err := w.db.ExecContext(ctx, query, key, status, time.Now())
	return err
}

func (w *DB) updateStatus(ctx context.Context, table, key, status string) error {
	query := fmt.Sprintf("UPDATE %s SET status = ?, updated_at = ? WHERE %s = ?", table, keyColumn)
	_, err := w.db.ExecContext(ctx, query, status, time.Now(), key)
	return err
}
