package warehouse

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"marketsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTables() models.WarehouseTables {
	return models.WarehouseTables{
		Orders:  "alpha_orders",
		Escrow:  "alpha_escrow",
		Returns: "alpha_returns",
		Wallet:  "alpha_wallet",
		AdSpend: "alpha_ad_spend",
	}
}

func newTestLoader(t *testing.T) (*Loader, *DB) {
	t.Helper()
	brand := models.Brand{Key: "alpha", Tables: testTables()}
	db, err := NewDB(filepath.Join(t.TempDir(), "warehouse.db"), []models.Brand{brand}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewLoader(db, brand.Tables, nil), db
}

func TestLoadOrdersSkipsExistingKeys(t *testing.T) {
	loader, _ := newTestLoader(t)
	ctx := context.Background()

	existing := models.Order{OrderNo: "o-1", Status: "shipped", Amount: 10}
	n, err := loader.LoadOrders(ctx, []models.Order{existing})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// One already-present key, one new key: exactly one row inserted.
	fresh := models.Order{OrderNo: "o-2", Status: "created", Amount: 20}
	n, err = loader.LoadOrders(ctx, []models.Order{existing, fresh})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLoadOrdersStatusChangeSuppression(t *testing.T) {
	loader, db := newTestLoader(t)
	ctx := context.Background()

	order := models.Order{OrderNo: "o-1", Status: "created"}
	_, err := loader.LoadOrders(ctx, []models.Order{order})
	require.NoError(t, err)

	// Unchanged status: no insert, no update.
	n, err := loader.LoadOrders(ctx, []models.Order{order})
	require.NoError(t, err)
	assert.Zero(t, n)

	// Changed status: row is updated in place, not duplicated.
	order.Status = "shipped"
	n, err = loader.LoadOrders(ctx, []models.Order{order})
	require.NoError(t, err)
	assert.Zero(t, n)

	existing, err := db.ExistingKeys(ctx, "alpha_orders", []string{"o-1"})
	require.NoError(t, err)
	assert.Len(t, existing, 1)

	statuses, err := db.lastStatuses(ctx, StatusLogTable("alpha_orders"), []string{"o-1"})
	require.NoError(t, err)
	assert.Equal(t, "shipped", statuses["o-1"])
}

func TestLoadReturnsStatusChangeSuppression(t *testing.T) {
	loader, db := newTestLoader(t)
	ctx := context.Background()

	ret := models.ReturnRecord{ReturnNo: "r-1", OrderNo: "o-1", Status: "requested", Amount: 15}
	n, err := loader.LoadReturns(ctx, []models.ReturnRecord{ret})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Unchanged status: suppressed entirely.
	n, err = loader.LoadReturns(ctx, []models.ReturnRecord{ret})
	require.NoError(t, err)
	assert.Zero(t, n)

	// Changed status: updated in place, no new row.
	ret.Status = "approved"
	n, err = loader.LoadReturns(ctx, []models.ReturnRecord{ret})
	require.NoError(t, err)
	assert.Zero(t, n)

	existing, err := db.ExistingKeys(ctx, "alpha_returns", []string{"r-1"})
	require.NoError(t, err)
	assert.Len(t, existing, 1)

	statuses, err := db.lastStatuses(ctx, StatusLogTable("alpha_returns"), []string{"r-1"})
	require.NoError(t, err)
	assert.Equal(t, "approved", statuses["r-1"])
}

func TestLoadEscrowStagingMerge(t *testing.T) {
	loader, db := newTestLoader(t)
	ctx := context.Background()

	lines := []models.EscrowLine{
		{OrderNo: "o-1", FeeType: "commission", Amount: 1.2},
		{OrderNo: "o-1", FeeType: "shipping", Amount: 3.4},
	}
	n, err := loader.LoadEscrow(ctx, lines)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Same lines again: merge ignores conflicts, nothing new lands.
	n, err = loader.LoadEscrow(ctx, lines)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Staging is truncated after a successful merge.
	staged, err := db.ExistingKeys(ctx, StagingTable("alpha_escrow"), []string{"o-1|commission", "o-1|shipping"})
	require.NoError(t, err)
	assert.Empty(t, staged)
}

func TestLoadWalletIdempotent(t *testing.T) {
	loader, _ := newTestLoader(t)
	ctx := context.Background()

	txns := []models.WalletTransaction{
		{TxnID: "t-1", Type: "settlement", Amount: 100, Date: time.Now()},
		{TxnID: "t-2", Type: "withdrawal", Amount: -50, Date: time.Now()},
	}
	n, err := loader.LoadWallet(ctx, txns)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = loader.LoadWallet(ctx, append(txns, models.WalletTransaction{TxnID: "t-3", Amount: 7}))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLoadAdSpendKeyIncludesKind(t *testing.T) {
	loader, _ := newTestLoader(t)
	ctx := context.Background()

	basic := models.AdSpendLine{Date: "2026-08-29", CampaignID: "c-1", ProductID: "p-1", Kind: "basic", Spend: 5}
	gmv := basic
	gmv.Kind = "product-gmv-max"

	n, err := loader.LoadAdSpend(ctx, []models.AdSpendLine{basic, gmv})
	require.NoError(t, err)
	assert.Equal(t, 2, n, "same date/campaign/product under different kinds are distinct rows")
}

func TestLargeBatchExistingKeys(t *testing.T) {
	loader, db := newTestLoader(t)
	ctx := context.Background()

	// More than one IN chunk.
	var txns []models.WalletTransaction
	for i := 0; i < 1200; i++ {
		txns = append(txns, models.WalletTransaction{TxnID: fmt.Sprintf("t-%d", i), Amount: float64(i)})
	}
	n, err := loader.LoadWallet(ctx, txns)
	require.NoError(t, err)
	assert.Equal(t, 1200, n)

	keys := make([]string, len(txns))
	for i, tx := range txns {
		keys[i] = tx.NaturalKey()
	}
	existing, err := db.ExistingKeys(ctx, "alpha_wallet", keys)
	require.NoError(t, err)
	assert.Len(t, existing, 1200)
}

func TestRecordAndListSyncRuns(t *testing.T) {
	_, db := newTestLoader(t)
	ctx := context.Background()

	run := models.SyncRun{
		ID:             "run-1",
		Brand:          "alpha",
		JobID:          "alpha-2026-08-29T02:00:00Z",
		StartedAt:      time.Now().Add(-time.Hour),
		FinishedAt:     time.Now(),
		OrdersFetched:  120,
		OrdersInserted: 100,
	}
	require.NoError(t, db.RecordSyncRun(ctx, run))

	runs, err := db.SyncRunsSince(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 120, runs[0].OrdersFetched)
	assert.Equal(t, 100, runs[0].OrdersInserted)
}
