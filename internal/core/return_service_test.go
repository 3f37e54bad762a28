package core_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retail-ledger/internal/core"
)

func TestReturn_CashRefundOfWalkInSale(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "P1", "0", "5", "20")
	sale := f.sell(t, core.SaleRequest{Invoice: core.Invoice{Items: []core.InvoiceItem{item("P1", "2", "50")}}})

	res, err := f.coord.ProcessSaleReturn(f.ctx, core.SaleReturnRequest{
		InvoiceID: sale.Invoice.ID,
		Items:     []core.ReturnLine{{InvoiceItemID: sale.Invoice.Items[0].ID, Qty: dec("1"), Reason: "damaged"}},
	})
	require.NoError(t, err)

	ret := res.Return
	assert.Equal(t, "RET-000001", ret.Number)
	assert.Equal(t, core.RefundCash, ret.RefundMethod)
	requireDec(t, "50", ret.TotalRefund)
	requireDec(t, "50", ret.TreasuryDeducted)
	requireDec(t, "0", ret.DebtReduced)

	require.NotNil(t, res.Transaction)
	assert.Equal(t, core.TransactionExpense, res.Transaction.Type)
	assert.Equal(t, core.RefSalesReturn, res.Transaction.ReferenceType)
	requireDec(t, "50", f.cashbox(t, testNow).PurchaseExpenses)

	assert.True(t, res.Invoice.HasReturns)
	requireDec(t, "50", res.Invoice.Total)
	requireDec(t, "50", res.Invoice.PaidAmount)
	requireDec(t, "1", res.Invoice.Items[0].Qty)
	requireDec(t, "4", f.product(t, "P1").ShopQty)

	_, err = f.coord.ReverseSale(f.ctx, sale.Invoice.ID, "u1")
	require.ErrorIs(t, err, core.ErrValidation, "returned invoices cannot be reversed")
}

func TestReturn_RefundReducesInvoiceDebtFirst(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "P1", "0", "10", "10")
	f.addCustomer(t, "C1")
	req := creditSale("C1", item("P1", "3", "100"))
	req.Invoice.PaidAmount = dec("100")
	sale := f.sell(t, req)

	res, err := f.coord.ProcessSaleReturn(f.ctx, core.SaleReturnRequest{
		InvoiceID: sale.Invoice.ID,
		Items:     []core.ReturnLine{{InvoiceItemID: sale.Invoice.Items[0].ID, Qty: dec("1")}},
	})
	require.NoError(t, err)
	requireDec(t, "100", res.Return.DebtReduced)
	requireDec(t, "0", res.Return.TreasuryDeducted)
	assert.Nil(t, res.Transaction, "no cash leaves the drawer while the invoice is still owed")

	requireDec(t, "200", res.Invoice.Total)
	requireDec(t, "100", res.Invoice.PaidAmount)
	requireDec(t, "100", f.debtor(t, core.DebtorCustomer, "C1").Balance)
	f.requireBalanced(t, core.DebtorCustomer, "C1")
}

func TestReturn_CustomerBalanceRefundPaysOtherDebtsThenCredit(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "P1", "0", "10", "10")
	f.addCustomer(t, "C1")
	req := creditSale("C1", item("P1", "3", "100"))
	req.Invoice.PaidAmount = dec("100")
	sale := f.sell(t, req)
	other := f.debtDueIn(t, core.DebtorCustomer, "C1", "older", "80", -3)

	res, err := f.coord.ProcessSaleReturn(f.ctx, core.SaleReturnRequest{
		InvoiceID:    sale.Invoice.ID,
		Items:        []core.ReturnLine{{InvoiceItemID: sale.Invoice.Items[0].ID, Qty: dec("3")}},
		RefundMethod: core.RefundCustomerBalance,
	})
	require.NoError(t, err)

	ret := res.Return
	requireDec(t, "300", ret.TotalRefund)
	requireDec(t, "280", ret.DebtReduced)
	requireDec(t, "20", ret.CustomerBalanceAdded)
	require.Len(t, res.Applied, 2)
	assert.Equal(t, other.ID, res.Applied[1].DebtID)

	cust := f.debtor(t, core.DebtorCustomer, "C1")
	requireDec(t, "0", cust.Balance)
	requireDec(t, "20", cust.CreditBalance)
	f.requireBalanced(t, core.DebtorCustomer, "C1")

	assert.Empty(t, res.Invoice.Items)
	requireDec(t, "0", res.Invoice.Total)
	requireDec(t, "10", f.product(t, "P1").ShopQty)
}

func TestReturn_Validation(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "P1", "0", "5", "20")
	sale := f.sell(t, core.SaleRequest{Invoice: core.Invoice{Items: []core.InvoiceItem{item("P1", "2", "50")}}})
	itemID := sale.Invoice.Items[0].ID

	tests := []struct {
		name string
		req  core.SaleReturnRequest
		want error
	}{
		{"no items", core.SaleReturnRequest{InvoiceID: sale.Invoice.ID}, core.ErrValidation},
		{"unknown refund method", core.SaleReturnRequest{InvoiceID: sale.Invoice.ID, RefundMethod: "voucher",
			Items: []core.ReturnLine{{InvoiceItemID: itemID, Qty: dec("1")}}}, core.ErrValidation},
		{"more than sold", core.SaleReturnRequest{InvoiceID: sale.Invoice.ID,
			Items: []core.ReturnLine{{InvoiceItemID: itemID, Qty: dec("3")}}}, core.ErrValidation},
		{"unknown item", core.SaleReturnRequest{InvoiceID: sale.Invoice.ID,
			Items: []core.ReturnLine{{InvoiceItemID: "nope", Qty: dec("1")}}}, core.ErrValidation},
		{"walk-in to balance", core.SaleReturnRequest{InvoiceID: sale.Invoice.ID, RefundMethod: core.RefundCustomerBalance,
			Items: []core.ReturnLine{{InvoiceItemID: itemID, Qty: dec("1")}}}, core.ErrValidation},
		{"unknown invoice", core.SaleReturnRequest{InvoiceID: "missing",
			Items: []core.ReturnLine{{InvoiceItemID: itemID, Qty: dec("1")}}}, core.ErrNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.coord.ProcessSaleReturn(f.ctx, tc.req)
			require.ErrorIs(t, err, tc.want)
		})
	}
	requireDec(t, "3", f.product(t, "P1").ShopQty)
}

func TestReturn_DiscountIsRefundedInProportion(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "P1", "0", "5", "20")
	req := core.SaleRequest{Invoice: core.Invoice{Items: []core.InvoiceItem{item("P1", "3", "100")}, Discount: dec("50")}}
	sale := f.sell(t, req)
	requireDec(t, "250", sale.Invoice.Total)
	itemID := sale.Invoice.Items[0].ID

	first, err := f.coord.ProcessSaleReturn(f.ctx, core.SaleReturnRequest{
		InvoiceID: sale.Invoice.ID,
		Items:     []core.ReturnLine{{InvoiceItemID: itemID, Qty: dec("1")}},
	})
	require.NoError(t, err)
	requireDec(t, "83.33", first.Return.TotalRefund)
	requireDec(t, "83.33", first.Return.TreasuryDeducted)
	requireDec(t, "166.67", first.Invoice.Total)
	requireDec(t, "166.67", first.Invoice.PaidAmount)
	assert.Equal(t, core.PaymentPaid, first.Invoice.PaymentStatus)

	second, err := f.coord.ProcessSaleReturn(f.ctx, core.SaleReturnRequest{
		InvoiceID: sale.Invoice.ID,
		Items:     []core.ReturnLine{{InvoiceItemID: itemID, Qty: dec("2")}},
	})
	require.NoError(t, err)
	requireDec(t, "166.67", second.Return.TotalRefund)
	requireDec(t, "0", second.Invoice.Total)
	requireDec(t, "0", second.Invoice.PaidAmount)

	box := f.cashbox(t, testNow)
	requireDec(t, "250", box.SalesIncome)
	requireDec(t, "250", box.PurchaseExpenses, "the refunds add up to what was charged")
	requireDec(t, "5", f.product(t, "P1").ShopQty)
}

func TestReturn_CashRefundNeverExceedsWhatWasPaid(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "P1", "0", "10", "10")
	f.addCustomer(t, "C1")
	req := creditSale("C1", item("P1", "3", "100"))
	req.Invoice.PaidAmount = dec("100")
	sale := f.sell(t, req)
	require.NotNil(t, sale.Debt)
	_, err := f.coord.WriteOffDebt(f.ctx, sale.Debt.ID, "customer left town", "u1")
	require.NoError(t, err)

	res, err := f.coord.ProcessSaleReturn(f.ctx, core.SaleReturnRequest{
		InvoiceID: sale.Invoice.ID,
		Items:     []core.ReturnLine{{InvoiceItemID: sale.Invoice.Items[0].ID, Qty: dec("3")}},
	})
	require.NoError(t, err)
	requireDec(t, "300", res.Return.TotalRefund)
	requireDec(t, "0", res.Return.DebtReduced)
	requireDec(t, "100", res.Return.TreasuryDeducted)
	requireDec(t, "0", res.Invoice.PaidAmount)
	requireDec(t, "0", f.cashbox(t, testNow).NetChange)
}

func TestReturn_CreditReturnShrinksInstallments(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "P1", "0", "10", "10")
	f.addCustomer(t, "C1")
	sale := f.sell(t, creditSale("C1", item("P1", "3", "100")))
	require.NotNil(t, sale.Debt)
	_, err := f.coord.Debts().CreateInstallmentPlan(f.ctx, core.InstallmentPlanRequest{DebtID: sale.Debt.ID, Count: 3, Interval: core.IntervalMonthly})
	require.NoError(t, err)

	res, err := f.coord.ProcessSaleReturn(f.ctx, core.SaleReturnRequest{
		InvoiceID: sale.Invoice.ID,
		Items:     []core.ReturnLine{{InvoiceItemID: sale.Invoice.Items[0].ID, Qty: dec("1")}},
	})
	require.NoError(t, err)
	requireDec(t, "100", res.Return.DebtReduced)

	ins, err := f.coord.Debts().GetInstallments(f.ctx, core.InstallmentFilter{
		DebtID:   sale.Debt.ID,
		Statuses: []core.InstallmentStatus{core.InstallmentPending, core.InstallmentOverdue},
	})
	require.NoError(t, err)
	require.Len(t, ins, 3)
	sum := dec("0")
	for _, in := range ins {
		sum = sum.Add(in.Amount)
	}
	requireDec(t, "200", sum, "the schedule follows the reduced debt")
	requireDec(t, "66.67", ins[0].Amount)
	f.requireBalanced(t, core.DebtorCustomer, "C1")
}
