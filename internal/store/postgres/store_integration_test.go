package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retail-ledger/internal/core"
	"retail-ledger/internal/counter"
	"retail-ledger/internal/store/postgres"
)

func setupTestDB(t *testing.T) *postgres.Store {
	t.Helper()
	_ = godotenv.Load("../../../.env")

	// Integration tests truncate every table, so they only run against a
	// dedicated database.
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}
	require.NoError(t, postgres.Migrate(dbURL, zerolog.Nop()))

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, `
		TRUNCATE TABLE audit_logs, daily_sales, sales_returns, purchase_orders, invoices,
			cashbox_daily, treasury_transactions, cashbox_contributions, installments, debts,
			debtors, stock_movements, products, sequences CASCADE
	`)
	require.NoError(t, err)
	return postgres.New(pool)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestStore_StockGuardRollsBackWholeBatch(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertProduct(ctx, core.Product{ID: "P1", Name: "Lamp", ShopQty: dec("2")}))
	require.NoError(t, s.UpsertProduct(ctx, core.Product{ID: "P2", Name: "Bulb", ShopQty: dec("1")}))

	_, err := s.ApplyStockDeltas(ctx, []core.StockDelta{
		{ProductID: "P1", ShopDelta: dec("-1")},
		{ProductID: "P2", ShopDelta: dec("-5")},
	})
	var short *core.InsufficientStockError
	require.True(t, errors.As(err, &short))
	assert.Equal(t, "P2", short.ProductID)
	assert.True(t, dec("5").Equal(short.Required))
	assert.True(t, dec("1").Equal(short.Available))

	p, err := s.GetProduct(ctx, "P1")
	require.NoError(t, err)
	assert.True(t, dec("2").Equal(p.ShopQty), "first delta is rolled back")

	out, err := s.ApplyStockDeltas(ctx, []core.StockDelta{{ProductID: "P2", ShopDelta: dec("-3"), Override: true}})
	require.NoError(t, err)
	assert.True(t, dec("-2").Equal(out[0].ShopQty))

	_, err = s.ApplyStockDeltas(ctx, []core.StockDelta{{ProductID: "missing", ShopDelta: dec("1")}})
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestStore_DebtInsertIsIdempotentAndVersioned(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertDebtor(ctx, core.Debtor{Type: core.DebtorCustomer, ID: "C1", Name: "Ada"}))

	now := time.Now().UTC().Truncate(time.Second)
	d := core.Debt{
		ID: "D1", DebtorType: core.DebtorCustomer, DebtorID: "C1",
		OriginalAmount: dec("50"), RemainingAmount: dec("50"), DueDate: now, Status: core.DebtActive,
		ReferenceType: core.RefManual, ReferenceID: "r1", CreatedAt: now, UpdatedAt: now,
	}
	first, created, err := s.InsertDebtIfAbsent(ctx, d)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(1), first.Version)

	d.ID = "D2"
	again, created, err := s.InsertDebtIfAbsent(ctx, d)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "D1", again.ID)

	first.RemainingAmount = dec("20")
	updated, err := s.UpdateDebt(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	_, err = s.UpdateDebt(ctx, first)
	require.ErrorIs(t, err, core.ErrConcurrencyConflict, "stale version loses")
}

func TestStore_RunInTxRollsBackOnError(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.UpsertProduct(ctx, core.Product{ID: "P1", Name: "Lamp"}); err != nil {
			return err
		}
		if _, err := s.NextSequence(ctx, "invoice"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetProduct(ctx, "P1")
	require.ErrorIs(t, err, core.ErrNotFound)

	n, err := s.NextSequence(ctx, "invoice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestCoordinator_SaleAndReversalOnPostgres(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertProduct(ctx, core.Product{ID: "P1", Name: "Lamp", ShopQty: dec("10"), BuyPrice: dec("40")}))
	require.NoError(t, s.UpsertDebtor(ctx, core.Debtor{Type: core.DebtorCustomer, ID: "C1", Name: "Ada"}))

	coord := core.NewCoordinator(s, counter.NewStoreCounter(s), s, core.DefaultPolicy(), zerolog.Nop())
	res, err := coord.RecordSale(ctx, core.SaleRequest{Invoice: core.Invoice{
		CustomerID:  "C1",
		PaymentType: core.SaleCredit,
		PaidAmount:  dec("100"),
		Items:       []core.InvoiceItem{{ProductID: "P1", Qty: dec("3"), UnitPrice: dec("100")}},
	}})
	require.NoError(t, err)
	assert.True(t, res.Atomic)
	assert.Equal(t, "INV-000001", res.Invoice.Number)
	require.NotNil(t, res.Debt)
	assert.True(t, dec("200").Equal(res.Debt.RemainingAmount))

	cust, err := s.GetDebtor(ctx, core.DebtorCustomer, "C1")
	require.NoError(t, err)
	assert.True(t, dec("200").Equal(cust.Balance))

	stored, err := s.GetInvoice(ctx, res.Invoice.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.SaleStats)
	assert.True(t, dec("200").Equal(stored.SaleStats.CreditSales))

	box, err := coord.Treasury().GetDailyCashbox(ctx, time.Now())
	require.NoError(t, err)
	assert.True(t, dec("100").Equal(box.SalesIncome))

	_, err = coord.ReverseSale(ctx, res.Invoice.ID, "u1")
	require.NoError(t, err)

	p, err := s.GetProduct(ctx, "P1")
	require.NoError(t, err)
	assert.True(t, dec("10").Equal(p.ShopQty))
	cust, err = s.GetDebtor(ctx, core.DebtorCustomer, "C1")
	require.NoError(t, err)
	assert.True(t, cust.Balance.IsZero())
	_, err = s.GetInvoice(ctx, res.Invoice.ID)
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestCoordinator_FailedSaleLeavesNoTraceOnPostgres(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertProduct(ctx, core.Product{ID: "P1", Name: "Lamp", ShopQty: dec("10")}))
	require.NoError(t, s.UpsertProduct(ctx, core.Product{ID: "P2", Name: "Bulb", ShopQty: dec("1")}))

	coord := core.NewCoordinator(s, counter.NewStoreCounter(s), s, core.DefaultPolicy(), zerolog.Nop())
	_, err := coord.RecordSale(ctx, core.SaleRequest{Invoice: core.Invoice{
		PaymentType: core.SaleCash,
		Items: []core.InvoiceItem{
			{ProductID: "P1", Qty: dec("2"), UnitPrice: dec("5")},
			{ProductID: "P2", Qty: dec("2"), UnitPrice: dec("5")},
		},
	}})
	require.ErrorIs(t, err, core.ErrInsufficientStock)

	p, err := s.GetProduct(ctx, "P1")
	require.NoError(t, err)
	assert.True(t, dec("10").Equal(p.ShopQty))

	_, err = coord.Treasury().GetDailyCashbox(ctx, time.Now())
	require.ErrorIs(t, err, core.ErrNotFound)
}
