package core_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"retail-ledger/internal/core"
	"retail-ledger/internal/counter"
	"retail-ledger/internal/store/memory"
)

var testNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

type fixture struct {
	ctx   context.Context
	store *memory.Store
	coord *core.Coordinator
}

// newFixture builds a coordinator over a fresh memory store with a fixed clock.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	return newFixtureWith(t, st, st)
}

func newFixtureWith(t *testing.T, mem *memory.Store, store core.Store) *fixture {
	t.Helper()
	policy := core.DefaultPolicy()
	policy.Now = func() time.Time { return testNow }
	return &fixture{
		ctx:   context.Background(),
		store: mem,
		coord: core.NewCoordinator(store, counter.NewStoreCounter(store), store, policy, zerolog.Nop()),
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func requireDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	require.True(t, dec(want).Equal(got), append([]any{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

func (f *fixture) addProduct(t *testing.T, id, warehouse, shop, cost string) {
	t.Helper()
	require.NoError(t, f.store.UpsertProduct(f.ctx, core.Product{
		ID:           id,
		Code:         id,
		Name:         "Product " + id,
		WarehouseQty: dec(warehouse),
		ShopQty:      dec(shop),
		BuyPrice:     dec(cost),
	}))
}

func (f *fixture) addCustomer(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.store.UpsertDebtor(f.ctx, core.Debtor{Type: core.DebtorCustomer, ID: id, Name: "Customer " + id}))
}

func (f *fixture) addSupplier(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.store.UpsertDebtor(f.ctx, core.Debtor{Type: core.DebtorSupplier, ID: id, Name: "Supplier " + id}))
}

func (f *fixture) product(t *testing.T, id string) core.Product {
	t.Helper()
	p, err := f.store.GetProduct(f.ctx, id)
	require.NoError(t, err)
	return p
}

func (f *fixture) debtor(t *testing.T, typ core.DebtorType, id string) core.Debtor {
	t.Helper()
	d, err := f.store.GetDebtor(f.ctx, typ, id)
	require.NoError(t, err)
	return d
}

func (f *fixture) cashbox(t *testing.T, day time.Time) core.CashboxDaily {
	t.Helper()
	c, err := f.coord.Treasury().GetDailyCashbox(f.ctx, day)
	require.NoError(t, err)
	return c
}

// openDebtSum is the sum of remaining amounts over the open debts of a debtor.
func (f *fixture) openDebtSum(t *testing.T, typ core.DebtorType, id string) decimal.Decimal {
	t.Helper()
	debts, err := f.store.ListDebts(f.ctx, core.DebtFilter{
		DebtorType: typ,
		DebtorID:   id,
		Statuses:   []core.DebtStatus{core.DebtActive, core.DebtOverdue},
	})
	require.NoError(t, err)
	sum := decimal.Zero
	for _, d := range debts {
		sum = sum.Add(d.RemainingAmount)
	}
	return sum
}

// requireBalanced asserts that a debtor balance equals its open debts.
func (f *fixture) requireBalanced(t *testing.T, typ core.DebtorType, id string) {
	t.Helper()
	d := f.debtor(t, typ, id)
	require.True(t, d.Balance.Equal(f.openDebtSum(t, typ, id)),
		"balance %s of %s %s differs from open debts %s", d.Balance, typ, id, f.openDebtSum(t, typ, id))
}

func creditSale(customerID string, items ...core.InvoiceItem) core.SaleRequest {
	return core.SaleRequest{
		Invoice: core.Invoice{CustomerID: customerID, PaymentType: core.SaleCredit, Items: items},
		UserID:  "u1",
	}
}

func item(productID, qty, price string) core.InvoiceItem {
	return core.InvoiceItem{ProductID: productID, Qty: dec(qty), UnitPrice: dec(price)}
}
