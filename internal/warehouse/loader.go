package warehouse

import (
	"context"

	"marketsync/internal/metrics"
	"marketsync/internal/models"

	"github.com/rs/zerolog"
)

// Loader applies the idempotent merge pattern per fetch domain. Upstream
// windows can overlap between runs, so every load filters the batch down to
// keys the warehouse has not seen.
type Loader struct {
	db     *DB
	tables models.WarehouseTables
	logger zerolog.Logger
}

func NewLoader(db *DB, tables models.WarehouseTables, logger *zerolog.Logger) *Loader {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "loader").Logger()
	}
	return &Loader{db: db, tables: tables, logger: base}
}

// LoadOrders inserts unseen orders and updates rows whose status changed
// since the last write. Rows with an unchanged status are suppressed via the
// status change log to avoid no-op updates.
func (l *Loader) LoadOrders(ctx context.Context, orders []models.Order) (int, error) {
	if len(orders) == 0 {
		return 0, nil
	}

	keys := make([]string, len(orders))
	for i, o := range orders {
		keys[i] = o.NaturalKey()
	}

	logTable := StatusLogTable(l.tables.Orders)
	last, err := l.db.lastStatuses(ctx, logTable, keys)
	if err != nil {
		return 0, err
	}

	type statusEntry struct{ key, status string }
	var freshRows [][]any
	var logEntries []statusEntry
	updated := 0
	for _, o := range orders {
		key := o.NaturalKey()
		prev, seen := last[key]
		switch {
		case !seen:
			freshRows = append(freshRows, []any{key, o.OrderNo, o.Status, o.BuyerID, o.Amount, o.Currency, o.CreatedAt, o.UpdatedAt})
			logEntries = append(logEntries, statusEntry{key, o.Status})
		case prev != o.Status:
			if err := l.db.updateStatus(ctx, l.tables.Orders, key, o.Status); err != nil {
				return 0, err
			}
			logEntries = append(logEntries, statusEntry{key, o.Status})
			updated++
		}
	}

	inserted, err := l.db.Insert(ctx, l.tables.Orders,
		[]string{"natural_key", "order_no", "status", "buyer_id", "amount", "currency", "created_at", "updated_at"},
		freshRows)
	if err != nil {
		return 0, err
	}
	for _, e := range logEntries {
		if err := l.db.upsertStatus(ctx, logTable, e.key, e.status); err != nil {
			return inserted, err
		}
	}

	metrics.AddRows(l.tables.Orders, inserted)
	l.logger.Info().
		Int("fetched", len(orders)).
		Int("inserted", inserted).
		Int("status_updates", updated).
		Msg("orders loaded")
	return inserted, nil
}

// LoadReturns mirrors LoadOrders for return requests.
func (l *Loader) LoadReturns(ctx context.Context, returns []models.ReturnRecord) (int, error) {
	if len(returns) == 0 {
		return 0, nil
	}

	keys := make([]string, len(returns))
	for i, r := range returns {
		keys[i] = r.NaturalKey()
	}

	logTable := StatusLogTable(l.tables.Returns)
	last, err := l.db.lastStatuses(ctx, logTable, keys)
	if err != nil {
		return 0, err
	}

	var freshRows [][]any
	type statusEntry struct{ key, status string }
	var logEntries []statusEntry
	for _, r := range returns {
		key := r.NaturalKey()
		prev, seen := last[key]
		switch {
		case !seen:
			freshRows = append(freshRows, []any{key, r.ReturnNo, r.OrderNo, r.Status, r.Amount, r.CreatedAt})
			logEntries = append(logEntries, statusEntry{key, r.Status})
		case prev != r.Status:
			if err := l.db.updateStatus(ctx, l.tables.Returns, key, r.Status); err != nil {
				return 0, err
			}
			logEntries = append(logEntries, statusEntry{key, r.Status})
		}
	}

	inserted, err := l.db.Insert(ctx, l.tables.Returns,
		[]string{"natural_key", "return_no", "order_no", "status", "amount", "created_at"},
		freshRows)
	if err != nil {
		return 0, err
	}
	for _, e := range logEntries {
		if err := l.db.upsertStatus(ctx, logTable, e.key, e.status); err != nil {
			return inserted, err
		}
	}

	metrics.AddRows(l.tables.Returns, inserted)
	return inserted, nil
}

// LoadEscrow uses the staging-then-merge path: the escrow schema is the wide
// one, and batches can be large. Staging is truncated after a successful
// merge.
func (l *Loader) LoadEscrow(ctx context.Context, lines []models.EscrowLine) (int, error) {
	if len(lines) == 0 {
		return 0, nil
	}

	staging := StagingTable(l.tables.Escrow)
	rows := make([][]any, len(lines))
	for i, e := range lines {
		rows[i] = []any{e.NaturalKey(), e.OrderNo, e.FeeType, e.Amount, e.SettledAt}
	}

	columns := []string{"natural_key", "order_no", "fee_type", "amount", "settled_at"}
	if _, err := l.db.Insert(ctx, staging, columns, rows); err != nil {
		return 0, err
	}

	merged, err := l.db.RunMerge(ctx, staging, l.tables.Escrow, MergeSpec{Columns: columns})
	if err != nil {
		return 0, err
	}

	metrics.AddRows(l.tables.Escrow, merged)
	return merged, nil
}

// LoadWallet filters the batch against existing keys and bulk-inserts the
// remainder.
func (l *Loader) LoadWallet(ctx context.Context, txns []models.WalletTransaction) (int, error) {
	if len(txns) == 0 {
		return 0, nil
	}

	keys := make([]string, len(txns))
	for i, t := range txns {
		keys[i] = t.NaturalKey()
	}
	existing, err := l.db.ExistingKeys(ctx, l.tables.Wallet, keys)
	if err != nil {
		return 0, err
	}

	var rows [][]any
	for _, t := range txns {
		if _, ok := existing[t.NaturalKey()]; ok {
			continue
		}
		rows = append(rows, []any{t.NaturalKey(), t.TxnID, t.Type, t.Amount, t.Date})
	}

	inserted, err := l.db.Insert(ctx, l.tables.Wallet,
		[]string{"natural_key", "txn_id", "type", "amount", "date"}, rows)
	if err != nil {
		return 0, err
	}
	metrics.AddRows(l.tables.Wallet, inserted)
	return inserted, nil
}

// LoadAdSpend filters daily spend aggregates by date+campaign+product+kind.
func (l *Loader) LoadAdSpend(ctx context.Context, lines []models.AdSpendLine) (int, error) {
	if len(lines) == 0 {
		return 0, nil
	}

	keys := make([]string, len(lines))
	for i, a := range lines {
		keys[i] = a.NaturalKey()
	}
	existing, err := l.db.ExistingKeys(ctx, l.tables.AdSpend, keys)
	if err != nil {
		return 0, err
	}

	var rows [][]any
	for _, a := range lines {
		if _, ok := existing[a.NaturalKey()]; ok {
			continue
		}
		rows = append(rows, []any{a.NaturalKey(), a.Date, a.CampaignID, a.ProductID, a.Kind, a.Spend, a.Impressions})
	}

	inserted, err := l.db.Insert(ctx, l.tables.AdSpend,
		[]string{"natural_key", "date", "campaign_id", "product_id", "kind", "spend", "impressions"}, rows)
	if err != nil {
		return 0, err
	}
	metrics.AddRows(l.tables.AdSpend, inserted)
	return inserted, nil
}
