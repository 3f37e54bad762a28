package app_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retail-ledger/internal/app"
	"retail-ledger/internal/core"
	"retail-ledger/internal/store/memory"
)

var testNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

func newApp(t *testing.T) *app.App {
	t.Helper()
	policy := core.DefaultPolicy()
	policy.Now = func() time.Time { return testNow }
	return app.NewWithStore(memory.New(), policy, zerolog.Nop())
}

func run(t *testing.T, a *app.App, name, raw string) (any, error) {
	t.Helper()
	o, ok := app.Lookup(name)
	require.True(t, ok, "operation %s is registered", name)
	return o.Run(context.Background(), a, []byte(raw))
}

const catalog = `{
  "products": [{"id": "P1", "code": "A-1", "name": "Lamp", "shopQty": "10", "buyPrice": "40"}],
  "debtors":  [{"type": "Customer", "id": "C1", "name": "Ada"}]
}`

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestOperations_SortedAndUnique(t *testing.T) {
	ops := app.Operations()
	require.NotEmpty(t, ops)

	seen := map[string]bool{}
	for i, o := range ops {
		assert.False(t, seen[o.Name], "duplicate operation %s", o.Name)
		seen[o.Name] = true
		assert.NotEmpty(t, o.Short, o.Name)
		if i > 0 {
			assert.Less(t, ops[i-1].Name, o.Name)
		}
	}
	for _, name := range []string{"sale", "reverse-sale", "receive-purchase", "total-payment", "sale-return", "reconcile-cashbox", "seed-catalog"} {
		assert.True(t, seen[name], name)
	}

	_, ok := app.Lookup("no-such-op")
	assert.False(t, ok)
}

func TestRun_SeedThenSell(t *testing.T) {
	a := newApp(t)

	out, err := run(t, a, "seed-catalog", catalog)
	require.NoError(t, err)
	assert.Equal(t, app.SeedCatalogResult{Products: 1, Debtors: 1}, out)

	out, err = run(t, a, "sale", `{
  "invoice": {
    "customerId": "C1",
    "paymentType": "credit",
    "paidAmount": "100",
    "items": [{"productId": "P1", "qty": "3", "unitPrice": "100"}]
  },
  "userId": "cashier"
}`)
	require.NoError(t, err)
	sale, ok := out.(*core.SaleResult)
	require.True(t, ok)
	assert.Equal(t, "INV-000001", sale.Invoice.Number)
	require.NotNil(t, sale.Debt)
	assert.True(t, decimal.RequireFromString("200").Equal(sale.Debt.RemainingAmount))

	out, err = run(t, a, "debtor", `{"debtorType": "Customer", "debtorId": "C1"}`)
	require.NoError(t, err)
	d, ok := out.(core.Debtor)
	require.True(t, ok)
	assert.True(t, decimal.RequireFromString("200").Equal(d.Balance))

	out, err = run(t, a, "current-balance", "")
	require.NoError(t, err)
	bal, ok := out.(app.BalanceResult)
	require.True(t, ok)
	assert.True(t, decimal.RequireFromString("100").Equal(bal.Balance))
}

func TestRun_RejectsUnknownFields(t *testing.T) {
	a := newApp(t)

	_, err := run(t, a, "write-off", `{"debtId": "D1", "reason": "x", "amount": "5"}`)
	require.ErrorIs(t, err, core.ErrValidation)
	assert.Contains(t, err.Error(), "write-off")

	_, err = run(t, a, "write-off", `{"debtId": `)
	require.ErrorIs(t, err, core.ErrValidation)
}

func TestRun_SeedCatalogValidatesBeforeWriting(t *testing.T) {
	a := newApp(t)

	_, err := run(t, a, "seed-catalog", `{
  "products": [
    {"id": "P1", "name": "Lamp", "shopQty": "1"},
    {"id": "P2", "name": "Bulb", "shopQty": "-1"}
  ]
}`)
	require.ErrorIs(t, err, core.ErrValidation)

	_, err = a.Store.GetProduct(context.Background(), "P1")
	require.ErrorIs(t, err, core.ErrNotFound, "nothing is written when one entry is invalid")

	_, err = run(t, a, "upsert-debtor", `{"type": "Partner", "id": "X"}`)
	require.ErrorIs(t, err, core.ErrValidation)
}

func TestRun_UpsertProductComputesTotal(t *testing.T) {
	a := newApp(t)

	out, err := run(t, a, "upsert-product", `{"id": "P1", "name": "Lamp", "warehouseQty": "4", "shopQty": "6"}`)
	require.NoError(t, err)
	p, ok := out.(core.Product)
	require.True(t, ok)
	assert.True(t, decimal.RequireFromString("10").Equal(p.StockQty))
}

func TestRun_UpsertDebtorRenameKeepsBalance(t *testing.T) {
	a := newApp(t)
	_, err := run(t, a, "seed-catalog", catalog)
	require.NoError(t, err)
	_, err = run(t, a, "create-debt", `{"debtorType": "Customer", "debtorId": "C1", "amount": "200", "referenceType": "Manual", "referenceId": "loan-1"}`)
	require.NoError(t, err)

	out, err := run(t, a, "upsert-debtor", `{"type": "Customer", "id": "C1", "name": "Ada Lovelace", "balance": "0", "creditBalance": "0"}`)
	require.NoError(t, err)
	d, ok := out.(core.Debtor)
	require.True(t, ok)
	assert.Equal(t, "Ada Lovelace", d.Name)
	assert.True(t, decimal.RequireFromString("200").Equal(d.Balance), "balance only moves through the debt ledger")

	out, err = run(t, a, "list-debts", `{"debtorType": "Customer", "debtorId": "C1"}`)
	require.NoError(t, err)
	debts, ok := out.([]core.Debt)
	require.True(t, ok)
	require.Len(t, debts, 1)
	assert.True(t, debts[0].RemainingAmount.Equal(d.Balance))
}

func TestRun_UpsertDebtorOpeningBalanceIsBackedByDebt(t *testing.T) {
	a := newApp(t)

	out, err := run(t, a, "upsert-debtor", `{"type": "Supplier", "id": "S1", "name": "Acme", "balance": "75"}`)
	require.NoError(t, err)
	d, ok := out.(core.Debtor)
	require.True(t, ok)
	assert.True(t, decimal.RequireFromString("75").Equal(d.Balance))

	out, err = run(t, a, "list-debts", `{"debtorType": "Supplier", "debtorId": "S1"}`)
	require.NoError(t, err)
	debts, ok := out.([]core.Debt)
	require.True(t, ok)
	require.Len(t, debts, 1)
	assert.True(t, decimal.RequireFromString("75").Equal(debts[0].RemainingAmount))

	_, err = run(t, a, "upsert-debtor", `{"type": "Supplier", "id": "S2", "name": "Bad", "balance": "-1"}`)
	require.ErrorIs(t, err, core.ErrValidation)
}

func TestRun_UpsertProductRenameKeepsStock(t *testing.T) {
	a := newApp(t)
	_, err := run(t, a, "seed-catalog", catalog)
	require.NoError(t, err)

	out, err := run(t, a, "upsert-product", `{"id": "P1", "code": "A-1", "name": "Desk lamp", "shopQty": "0", "buyPrice": "0"}`)
	require.NoError(t, err)
	p, ok := out.(core.Product)
	require.True(t, ok)
	assert.Equal(t, "Desk lamp", p.Name)
	assert.True(t, decimal.RequireFromString("10").Equal(p.ShopQty))
	assert.True(t, decimal.RequireFromString("40").Equal(p.BuyPrice))

	out, err = run(t, a, "product-history", `{"productId": "P1"}`)
	require.NoError(t, err)
	moves, ok := out.([]core.StockMovement)
	require.True(t, ok)
	require.Len(t, moves, 1, "the rename leaves no movement")
	assert.Equal(t, core.MovementInitial, moves[0].Kind)
	assert.True(t, decimal.RequireFromString("10").Equal(moves[0].ShopDelta))
}

func TestOperation_Schema(t *testing.T) {
	o, ok := app.Lookup("reconcile-cashbox")
	require.True(t, ok)

	raw, err := json.Marshal(o.Schema())
	require.NoError(t, err)

	var schema struct {
		Type                 string                     `json:"type"`
		Required             []string                   `json:"required"`
		AdditionalProperties *bool                      `json:"additionalProperties"`
		Properties           map[string]json.RawMessage `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(raw, &schema))
	assert.Equal(t, "object", schema.Type)
	assert.ElementsMatch(t, []string{"date", "actualBalance"}, schema.Required)
	require.NotNil(t, schema.AdditionalProperties)
	assert.False(t, *schema.AdditionalProperties)

	var balance struct {
		Type    string `json:"type"`
		Pattern string `json:"pattern"`
	}
	require.NoError(t, json.Unmarshal(schema.Properties["actualBalance"], &balance))
	assert.Equal(t, "string", balance.Type, "decimals travel as strings")
	assert.NotEmpty(t, balance.Pattern)
}
