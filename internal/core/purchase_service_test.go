package core_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retail-ledger/internal/core"
)

func (f *fixture) purchaseOrder(t *testing.T, supplierID string, items ...core.PurchaseItem) core.PurchaseOrder {
	t.Helper()
	po, err := f.coord.CreatePurchaseOrder(f.ctx, core.PurchaseOrder{SupplierID: supplierID, Items: items}, "u1")
	require.NoError(t, err)
	return po
}

func (f *fixture) receive(t *testing.T, poID string, pt core.PurchasePaymentType) *core.PurchaseReceiveResult {
	t.Helper()
	res, err := f.coord.RecordPurchaseReceive(f.ctx, core.PurchaseReceiveRequest{PurchaseOrderID: poID, PaymentType: pt, UserID: "u1"})
	require.NoError(t, err)
	return res
}

func poItem(productID, qty, cost string) core.PurchaseItem {
	return core.PurchaseItem{ProductID: productID, Qty: dec(qty), CostPrice: dec(cost)}
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestPurchase_CreateOrder(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "P1", "0", "0", "0")
	f.addSupplier(t, "S1")

	po := f.purchaseOrder(t, "S1", poItem("P1", "4", "2.5"))
	assert.Equal(t, "PO-000001", po.Number)
	assert.Equal(t, core.PurchaseDraft, po.Status)
	assert.Equal(t, "Product P1", po.Items[0].ProductName)
	requireDec(t, "10", po.TotalCost)
	assert.Equal(t, core.PaymentPending, po.PaymentStatus)

	_, err := f.coord.CreatePurchaseOrder(f.ctx, core.PurchaseOrder{SupplierID: "S9", Items: []core.PurchaseItem{poItem("P1", "1", "1")}}, "u1")
	require.ErrorIs(t, err, core.ErrNotFound)
	_, err = f.coord.CreatePurchaseOrder(f.ctx, core.PurchaseOrder{SupplierID: "S1"}, "u1")
	require.ErrorIs(t, err, core.ErrValidation)
	_, err = f.coord.CreatePurchaseOrder(f.ctx, core.PurchaseOrder{SupplierID: "S1", Items: []core.PurchaseItem{poItem("P1", "1", "-1")}}, "u1")
	require.ErrorIs(t, err, core.ErrValidation)
}

func TestPurchase_CreditReceiveAndReverse(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "P1", "10", "0", "5")
	f.addSupplier(t, "S1")
	po := f.purchaseOrder(t, "S1", poItem("P1", "5", "8"))

	res := f.receive(t, po.ID, core.PurchaseCredit)
	assert.Equal(t, core.PurchaseReceived, res.PurchaseOrder.Status)
	assert.Nil(t, res.Transaction)
	require.NotNil(t, res.Debt)
	requireDec(t, "40", res.Debt.RemainingAmount)
	assert.Equal(t, testNow.AddDate(0, 0, 30), res.Debt.DueDate)

	p := f.product(t, "P1")
	requireDec(t, "15", p.WarehouseQty)
	requireDec(t, "6", p.BuyPrice)
	requireDec(t, "40", f.debtor(t, core.DebtorSupplier, "S1").Balance)

	_, err := f.coord.RecordPurchaseReceive(f.ctx, core.PurchaseReceiveRequest{PurchaseOrderID: po.ID})
	require.ErrorIs(t, err, core.ErrValidation, "an order is received once")

	rev, err := f.coord.ReversePurchaseReceive(f.ctx, po.ID, "u1")
	require.NoError(t, err)
	require.NotNil(t, rev.DeletedDebt)

	p = f.product(t, "P1")
	requireDec(t, "10", p.WarehouseQty)
	requireDec(t, "5", p.BuyPrice)
	requireDec(t, "0", f.debtor(t, core.DebtorSupplier, "S1").Balance)

	stored, err := f.store.GetPurchaseOrder(f.ctx, po.ID)
	require.NoError(t, err)
	assert.Equal(t, core.PurchaseReversed, stored.Status)

	_, err = f.coord.ReversePurchaseReceive(f.ctx, po.ID, "u1")
	require.ErrorIs(t, err, core.ErrValidation)
}

func TestPurchase_CashReceiveBooksExpense(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "P1", "0", "0", "0")
	f.addSupplier(t, "S1")
	po := f.purchaseOrder(t, "S1", poItem("P1", "2", "15"))

	res := f.receive(t, po.ID, core.PurchaseCash)
	require.NotNil(t, res.Transaction)
	assert.Nil(t, res.Debt)
	assert.Empty(t, res.Transaction.ReceiptNumber)
	assert.Equal(t, core.PaymentPaid, res.PurchaseOrder.PaymentStatus)
	requireDec(t, "30", f.cashbox(t, testNow).PurchaseExpenses)
	requireDec(t, "15", f.product(t, "P1").BuyPrice)

	rev, err := f.coord.ReversePurchaseReceive(f.ctx, po.ID, "u1")
	require.NoError(t, err)
	assert.Len(t, rev.Transactions, 1)
	requireDec(t, "0", f.cashbox(t, testNow).PurchaseExpenses)
	requireDec(t, "0", f.product(t, "P1").WarehouseQty)
}

func TestPurchase_ReverseRejectedWhenPartlyPaid(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "P1", "0", "0", "0")
	f.addSupplier(t, "S1")
	po := f.purchaseOrder(t, "S1", poItem("P1", "5", "8"))
	f.receive(t, po.ID, core.PurchaseCredit)

	_, err := f.coord.RecordSupplierPayment(f.ctx, core.SupplierPaymentRequest{PurchaseOrderID: po.ID, Amount: dec("15")})
	require.NoError(t, err)

	_, err = f.coord.ReversePurchaseReceive(f.ctx, po.ID, "u1")
	require.ErrorIs(t, err, core.ErrValidation)
	requireDec(t, "5", f.product(t, "P1").WarehouseQty)
}

func TestPurchase_ReverseRejectedWhenStockLeftWarehouse(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "P1", "0", "0", "0")
	f.addSupplier(t, "S1")
	po := f.purchaseOrder(t, "S1", poItem("P1", "5", "8"))
	f.receive(t, po.ID, core.PurchaseCash)

	_, err := f.coord.Stock().TransferToShop(f.ctx, "P1", dec("3"), "u1", "")
	require.NoError(t, err)

	_, err = f.coord.ReversePurchaseReceive(f.ctx, po.ID, "u1")
	require.ErrorIs(t, err, core.ErrInsufficientStock)
	requireDec(t, "40", f.cashbox(t, testNow).PurchaseExpenses, "nothing was reversed")
}
