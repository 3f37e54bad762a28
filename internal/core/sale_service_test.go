package core_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retail-ledger/internal/core"
)

func (f *fixture) sell(t *testing.T, req core.SaleRequest) *core.SaleResult {
	t.Helper()
	res, err := f.coord.RecordSale(f.ctx, req)
	require.NoError(t, err)
	return res
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestSale_CreditSaleOpensDebtForRemainder(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "P1", "0", "10", "40")
	f.addCustomer(t, "C1")

	req := creditSale("C1", item("P1", "3", "100"))
	req.Invoice.PaidAmount = dec("100")
	res := f.sell(t, req)

	inv := res.Invoice
	assert.Equal(t, "INV-000001", inv.Number)
	assert.Equal(t, core.PaymentPartial, inv.PaymentStatus)
	assert.Equal(t, "Customer C1", inv.CustomerName)
	requireDec(t, "300", inv.Total)
	requireDec(t, "120", inv.TotalCost)
	requireDec(t, "180", inv.Profit)
	require.NotNil(t, inv.DueDate)
	assert.Equal(t, testNow.AddDate(0, 0, 15), *inv.DueDate)
	assert.Equal(t, core.LocationShop, inv.Items[0].Source)

	require.NotNil(t, res.Transaction)
	requireDec(t, "100", res.Transaction.Amount)
	assert.Equal(t, "REC-1", res.Transaction.ReceiptNumber)
	require.NotNil(t, res.Debt)
	requireDec(t, "200", res.Debt.RemainingAmount)
	assert.Equal(t, inv.ID, res.Debt.ReferenceID)
	assert.False(t, res.Atomic)

	cust := f.debtor(t, core.DebtorCustomer, "C1")
	requireDec(t, "200", cust.Balance)
	requireDec(t, "300", cust.TotalPurchases)
	require.NotNil(t, cust.LastPurchaseDate)
	f.requireBalanced(t, core.DebtorCustomer, "C1")

	requireDec(t, "7", f.product(t, "P1").ShopQty)
	requireDec(t, "100", f.cashbox(t, testNow).SalesIncome)

	stats, err := f.store.GetDailySales(f.ctx, testNow)
	require.NoError(t, err)
	requireDec(t, "300", stats.Revenue)
	requireDec(t, "200", stats.CreditSales)
	assert.Equal(t, 1, stats.InvoiceCount)

	logs := f.store.AuditLogs()
	require.NotEmpty(t, logs)
	assert.Equal(t, "SALE_CREATED", logs[len(logs)-1].Action)
}

func TestSale_CashSaleDefaultsPaidToTotal(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "P1", "5", "0", "2")

	res := f.sell(t, core.SaleRequest{Invoice: core.Invoice{
		PaymentType: core.SaleCash,
		Items: []core.InvoiceItem{
			{ProductID: "P1", Qty: dec("2"), UnitPrice: dec("10"), Source: core.LocationWarehouse},
			{ProductName: "Gift wrapping", Qty: dec("1"), UnitPrice: dec("3"), IsService: true},
		},
	}})

	requireDec(t, "23", res.Invoice.PaidAmount)
	assert.Equal(t, core.PaymentPaid, res.Invoice.PaymentStatus)
	assert.Nil(t, res.Debt)
	assert.Nil(t, res.Invoice.DueDate)
	require.Len(t, res.Movements, 1, "service lines never touch stock")
	requireDec(t, "3", f.product(t, "P1").WarehouseQty)
}

func TestSale_BankSaleBooksBankIncome(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "P1", "0", "5", "2")

	res := f.sell(t, core.SaleRequest{Invoice: core.Invoice{PaymentType: core.SaleBank, Items: []core.InvoiceItem{item("P1", "1", "70")}}})
	assert.Equal(t, core.MethodBank, res.Transaction.Method)

	c := f.cashbox(t, testNow)
	requireDec(t, "70", c.BankIncome)
	requireDec(t, "0", c.SalesIncome)
}

func TestSale_UsesCustomerCredit(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "P1", "0", "5", "2")
	require.NoError(t, f.store.UpsertDebtor(f.ctx, core.Debtor{Type: core.DebtorCustomer, ID: "C1", Name: "Credit", CreditBalance: dec("30")}))

	req := core.SaleRequest{Invoice: core.Invoice{CustomerID: "C1", Items: []core.InvoiceItem{item("P1", "1", "100")}, UsedCreditBalance: dec("30")}}
	res := f.sell(t, req)
	requireDec(t, "70", res.Transaction.Amount, "only cash actually received is booked")
	requireDec(t, "0", f.debtor(t, core.DebtorCustomer, "C1").CreditBalance)

	req.Invoice.UsedCreditBalance = dec("1")
	_, err := f.coord.RecordSale(f.ctx, req)
	require.ErrorIs(t, err, core.ErrInsufficientBalance)
}

func TestSale_Validation(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "P1", "0", "5", "2")
	f.addCustomer(t, "C1")

	tests := []struct {
		name string
		req  core.SaleRequest
		want error
	}{
		{"no items", core.SaleRequest{}, core.ErrValidation},
		{"credit without customer", creditSale("", item("P1", "1", "10")), core.ErrValidation},
		{"unknown customer", creditSale("nobody", item("P1", "1", "10")), core.ErrNotFound},
		{"unknown product", creditSale("C1", item("P9", "1", "10")), core.ErrNotFound},
		{"zero quantity", creditSale("C1", item("P1", "0", "10")), core.ErrValidation},
		{"overpaid", core.SaleRequest{Invoice: core.Invoice{PaidAmount: dec("50"), Items: []core.InvoiceItem{item("P1", "1", "10")}}}, core.ErrValidation},
		{"unknown payment type", core.SaleRequest{Invoice: core.Invoice{PaymentType: "barter", Items: []core.InvoiceItem{item("P1", "1", "10")}}}, core.ErrValidation},
		{"short stock", creditSale("C1", item("P1", "6", "10")), core.ErrInsufficientStock},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.coord.RecordSale(f.ctx, tc.req)
			require.ErrorIs(t, err, tc.want)
		})
	}
	requireDec(t, "5", f.product(t, "P1").ShopQty)
	requireDec(t, "0", f.debtor(t, core.DebtorCustomer, "C1").Balance)
}

func TestSale_ReverseRestoresEveryLedger(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "P1", "0", "10", "40")
	f.addCustomer(t, "C1")
	req := creditSale("C1", item("P1", "3", "100"))
	req.Invoice.PaidAmount = dec("100")
	sale := f.sell(t, req)

	rev, err := f.coord.ReverseSale(f.ctx, sale.Invoice.ID, "u1")
	require.NoError(t, err)
	require.NotNil(t, rev.DeletedDebt)
	assert.Len(t, rev.Transactions, 1)
	assert.Len(t, rev.Movements, 1)

	requireDec(t, "10", f.product(t, "P1").ShopQty)
	cust := f.debtor(t, core.DebtorCustomer, "C1")
	requireDec(t, "0", cust.Balance)
	requireDec(t, "0", cust.TotalPurchases)
	requireDec(t, "0", f.cashbox(t, testNow).SalesIncome)

	stats, err := f.store.GetDailySales(f.ctx, testNow)
	require.NoError(t, err)
	requireDec(t, "0", stats.Revenue)
	assert.Equal(t, 0, stats.InvoiceCount)

	_, err = f.store.GetInvoice(f.ctx, sale.Invoice.ID)
	require.ErrorIs(t, err, core.ErrNotFound)

	_, err = f.coord.ReverseSale(f.ctx, sale.Invoice.ID, "u1")
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestSale_ReverseAfterPaymentClearsStatistics(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "P1", "0", "10", "40")
	f.addCustomer(t, "C1")
	req := creditSale("C1", item("P1", "3", "100"))
	req.Invoice.PaidAmount = dec("100")
	sale := f.sell(t, req)
	require.NotNil(t, sale.Invoice.SaleStats)

	_, err := f.coord.RecordCustomerPayment(f.ctx, core.CustomerPaymentRequest{InvoiceID: sale.Invoice.ID, Amount: dec("50")})
	require.NoError(t, err)

	_, err = f.coord.ReverseSale(f.ctx, sale.Invoice.ID, "u1")
	require.NoError(t, err)

	stats, err := f.store.GetDailySales(f.ctx, testNow)
	require.NoError(t, err)
	requireDec(t, "0", stats.Revenue)
	requireDec(t, "0", stats.Cost)
	requireDec(t, "0", stats.ItemsSold)
	requireDec(t, "0", stats.CashSales)
	requireDec(t, "0", stats.CreditSales)
	assert.Equal(t, 0, stats.InvoiceCount)
	requireDec(t, "0", f.cashbox(t, testNow).SalesIncome)
	requireDec(t, "0", f.debtor(t, core.DebtorCustomer, "C1").Balance)
}

func TestSale_ReverseReturnsCreditAndWarehouseStock(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "P1", "8", "0", "1")
	require.NoError(t, f.store.UpsertDebtor(f.ctx, core.Debtor{Type: core.DebtorCustomer, ID: "C1", Name: "Credit", CreditBalance: dec("5")}))

	sale := f.sell(t, core.SaleRequest{Invoice: core.Invoice{
		CustomerID:        "C1",
		UsedCreditBalance: dec("5"),
		Items:             []core.InvoiceItem{{ProductID: "P1", Qty: dec("2"), UnitPrice: dec("10"), Source: core.LocationWarehouse}},
	}})
	requireDec(t, "6", f.product(t, "P1").WarehouseQty)

	_, err := f.coord.ReverseSale(f.ctx, sale.Invoice.ID, "u1")
	require.NoError(t, err)
	requireDec(t, "8", f.product(t, "P1").WarehouseQty)
	requireDec(t, "5", f.debtor(t, core.DebtorCustomer, "C1").CreditBalance)
}
