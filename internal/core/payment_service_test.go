package core_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retail-ledger/internal/core"
)

func (f *fixture) debtDueIn(t *testing.T, typ core.DebtorType, debtorID, refID, amount string, days int) core.Debt {
	t.Helper()
	due := testNow.AddDate(0, 0, days)
	d, _, err := f.coord.Debts().CreateDebt(f.ctx, core.CreateDebtRequest{
		DebtorType:    typ,
		DebtorID:      debtorID,
		Amount:        dec(amount),
		DueDate:       &due,
		ReferenceType: core.RefManual,
		ReferenceID:   refID,
	})
	require.NoError(t, err)
	return d
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestPayment_CustomerPaymentAgainstInvoice(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "P1", "0", "10", "40")
	f.addCustomer(t, "C1")
	req := creditSale("C1", item("P1", "3", "100"))
	req.Invoice.PaidAmount = dec("100")
	sale := f.sell(t, req)

	res, err := f.coord.RecordCustomerPayment(f.ctx, core.CustomerPaymentRequest{InvoiceID: sale.Invoice.ID, Amount: dec("50")})
	require.NoError(t, err)
	require.Len(t, res.Applied, 1)
	requireDec(t, "150", res.Applied[0].Remaining)
	assert.Equal(t, "REC-2", res.Transaction.ReceiptNumber)

	inv, err := f.store.GetInvoice(f.ctx, sale.Invoice.ID)
	require.NoError(t, err)
	requireDec(t, "150", inv.PaidAmount)
	assert.Equal(t, core.PaymentPartial, inv.PaymentStatus)
	require.Len(t, inv.Payments, 1)
	requireDec(t, "150", f.debtor(t, core.DebtorCustomer, "C1").Balance)
	f.requireBalanced(t, core.DebtorCustomer, "C1")

	_, err = f.coord.RecordCustomerPayment(f.ctx, core.CustomerPaymentRequest{InvoiceID: sale.Invoice.ID, Amount: dec("500")})
	require.ErrorIs(t, err, core.ErrValidation)
	_, err = f.coord.RecordCustomerPayment(f.ctx, core.CustomerPaymentRequest{InvoiceID: sale.Invoice.ID, Amount: dec("-1")})
	require.ErrorIs(t, err, core.ErrValidation)
	_, err = f.coord.RecordCustomerPayment(f.ctx, core.CustomerPaymentRequest{InvoiceID: "missing", Amount: dec("1")})
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestPayment_CustomerPaymentNeverOverpaysInvoice(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "P1", "0", "10", "40")
	f.addCustomer(t, "C1")
	sale := f.sell(t, creditSale("C1", item("P1", "1", "100")))

	res, err := f.coord.RecordCustomerPayment(f.ctx, core.CustomerPaymentRequest{InvoiceID: sale.Invoice.ID, Amount: dec("100.01")})
	require.NoError(t, err, "a payment within the settle tolerance is accepted")
	requireDec(t, "100", res.Transaction.Amount)

	inv, err := f.store.GetInvoice(f.ctx, sale.Invoice.ID)
	require.NoError(t, err)
	requireDec(t, "100", inv.PaidAmount)
	requireDec(t, "0", inv.Remaining())
	assert.Equal(t, core.PaymentPaid, inv.PaymentStatus)
	require.Len(t, inv.Payments, 1)
	requireDec(t, "100", inv.Payments[0].Amount)
	requireDec(t, "100", f.cashbox(t, testNow).SalesIncome)
	f.requireBalanced(t, core.DebtorCustomer, "C1")
}

func TestPayment_TotalPaymentOldestFirstThenCredit(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.UpsertDebtor(f.ctx, core.Debtor{Type: core.DebtorCustomer, ID: "C1", Name: "Legacy", Balance: dec("30")}))
	later := f.debtDueIn(t, core.DebtorCustomer, "C1", "later", "50", 20)
	sooner := f.debtDueIn(t, core.DebtorCustomer, "C1", "sooner", "100", 5)

	res, err := f.coord.RecordTotalCustomerPayment(f.ctx, core.TotalPaymentRequest{CustomerID: "C1", Amount: dec("200")})
	require.NoError(t, err)
	require.Len(t, res.Applied, 2)
	assert.Equal(t, sooner.ID, res.Applied[0].DebtID)
	assert.Equal(t, later.ID, res.Applied[1].DebtID)
	assert.Equal(t, core.DebtSettled, res.Applied[1].Status)
	requireDec(t, "30", res.UntrackedCut)
	requireDec(t, "20", res.CreditAdded)

	cust := f.debtor(t, core.DebtorCustomer, "C1")
	requireDec(t, "0", cust.Balance)
	requireDec(t, "20", cust.CreditBalance)

	require.NotNil(t, res.Transaction)
	assert.Equal(t, core.RefUnifiedCollection, res.Transaction.ReferenceType)
	requireDec(t, "200", f.cashbox(t, testNow).SalesIncome)

	_, err = f.coord.RecordTotalCustomerPayment(f.ctx, core.TotalPaymentRequest{CustomerID: "C1", Amount: dec("1")})
	require.ErrorIs(t, err, core.ErrInsufficientBalance, "nothing is owed any more")
}

func TestPayment_TotalPaymentMarksInvoicesPaid(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "P1", "0", "10", "40")
	f.addCustomer(t, "C1")
	req := creditSale("C1", item("P1", "3", "100"))
	req.Invoice.PaidAmount = dec("100")
	sale := f.sell(t, req)

	res, err := f.coord.RecordTotalCustomerPayment(f.ctx, core.TotalPaymentRequest{CustomerID: "C1", Amount: dec("120")})
	require.NoError(t, err)
	require.Len(t, res.Applied, 1)
	requireDec(t, "0", res.CreditAdded)

	inv, err := f.store.GetInvoice(f.ctx, sale.Invoice.ID)
	require.NoError(t, err)
	requireDec(t, "220", inv.PaidAmount)
	f.requireBalanced(t, core.DebtorCustomer, "C1")

	_, err = f.coord.RecordTotalCustomerPayment(f.ctx, core.TotalPaymentRequest{CustomerID: "C1", Amount: dec("80")})
	require.NoError(t, err)
	inv, err = f.store.GetInvoice(f.ctx, sale.Invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, core.PaymentPaid, inv.PaymentStatus)
}

func TestPayment_TotalPaymentAlsoSettlesSchedules(t *testing.T) {
	f := newFixture(t)
	f.addCustomer(t, "C1")
	d := f.debtDueIn(t, core.DebtorCustomer, "C1", "r", "90", 10)
	_, err := f.coord.Debts().CreateInstallmentPlan(f.ctx, core.InstallmentPlanRequest{DebtID: d.ID, Count: 3, Interval: core.IntervalWeekly, StartDate: testNow})
	require.NoError(t, err)

	_, err = f.coord.RecordTotalCustomerPayment(f.ctx, core.TotalPaymentRequest{CustomerID: "C1", Amount: dec("30")})
	require.NoError(t, err)

	paid, err := f.coord.Debts().GetInstallments(f.ctx, core.InstallmentFilter{DebtID: d.ID, Statuses: []core.InstallmentStatus{core.InstallmentPaid}})
	require.NoError(t, err)
	require.Len(t, paid, 1)
	assert.Equal(t, 1, paid[0].Seq)
}

func TestPayment_SupplierPayment(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "P1", "0", "0", "0")
	f.addSupplier(t, "S1")
	po := f.purchaseOrder(t, "S1", poItem("P1", "5", "8"))
	f.receive(t, po.ID, core.PurchaseCredit)

	res, err := f.coord.RecordSupplierPayment(f.ctx, core.SupplierPaymentRequest{PurchaseOrderID: po.ID, Amount: dec("15"), Method: core.MethodBank})
	require.NoError(t, err)
	assert.Equal(t, core.TransactionExpense, res.Transaction.Type)
	assert.Empty(t, res.Transaction.ReceiptNumber)

	stored, err := f.store.GetPurchaseOrder(f.ctx, po.ID)
	require.NoError(t, err)
	requireDec(t, "15", stored.PaidAmount)
	assert.Equal(t, core.PaymentPartial, stored.PaymentStatus)
	requireDec(t, "25", f.debtor(t, core.DebtorSupplier, "S1").Balance)
	requireDec(t, "15", f.cashbox(t, testNow).BankExpenses)

	_, err = f.coord.RecordSupplierPayment(f.ctx, core.SupplierPaymentRequest{PurchaseOrderID: po.ID, Amount: dec("26")})
	require.ErrorIs(t, err, core.ErrValidation)

	draft := f.purchaseOrder(t, "S1", poItem("P1", "1", "1"))
	_, err = f.coord.RecordSupplierPayment(f.ctx, core.SupplierPaymentRequest{PurchaseOrderID: draft.ID, Amount: dec("1")})
	require.ErrorIs(t, err, core.ErrValidation, "drafts are not payable")
}

func TestPayment_DebtPayment(t *testing.T) {
	f := newFixture(t)
	f.addSupplier(t, "S1")
	f.addCustomer(t, "C1")
	sd := f.debtDueIn(t, core.DebtorSupplier, "S1", "rent", "60", 3)
	cd := f.debtDueIn(t, core.DebtorCustomer, "C1", "loan", "10", 3)

	_, err := f.coord.RecordDebtPayment(f.ctx, core.DebtPaymentRequest{DebtID: sd.ID, Amount: dec("61")})
	require.ErrorIs(t, err, core.ErrInsufficientBalance)

	res, err := f.coord.RecordDebtPayment(f.ctx, core.DebtPaymentRequest{DebtID: sd.ID, Amount: dec("60")})
	require.NoError(t, err)
	assert.Equal(t, core.TransactionExpense, res.Transaction.Type)
	assert.Equal(t, core.DebtSettled, res.Applied[0].Status)
	requireDec(t, "0", f.debtor(t, core.DebtorSupplier, "S1").Balance)

	res, err = f.coord.RecordDebtPayment(f.ctx, core.DebtPaymentRequest{DebtID: cd.ID, Amount: dec("4")})
	require.NoError(t, err)
	assert.Equal(t, core.TransactionIncome, res.Transaction.Type)
	assert.Equal(t, core.RefDebt, res.Transaction.ReferenceType)
	requireDec(t, "6", f.debtor(t, core.DebtorCustomer, "C1").Balance)

	_, err = f.coord.RecordDebtPayment(f.ctx, core.DebtPaymentRequest{DebtID: sd.ID, Amount: dec("1")})
	require.ErrorIs(t, err, core.ErrValidation, "settled debts take no payment")
}

func TestPayment_DebtPaymentUpdatesInvoice(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "P1", "0", "10", "1")
	f.addCustomer(t, "C1")
	sale := f.sell(t, creditSale("C1", item("P1", "1", "40")))

	_, err := f.coord.RecordDebtPayment(f.ctx, core.DebtPaymentRequest{DebtID: sale.Debt.ID, Amount: dec("40")})
	require.NoError(t, err)

	inv, err := f.store.GetInvoice(f.ctx, sale.Invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, core.PaymentPaid, inv.PaymentStatus)
}

func TestPayment_DebtPaymentWithinToleranceSettlesSchedule(t *testing.T) {
	f := newFixture(t)
	f.addCustomer(t, "C1")
	d := f.debtDueIn(t, core.DebtorCustomer, "C1", "a", "30", 3)
	other := f.debtDueIn(t, core.DebtorCustomer, "C1", "b", "20", 5)
	_, err := f.coord.Debts().CreateInstallmentPlan(f.ctx, core.InstallmentPlanRequest{DebtID: d.ID, Count: 1, Interval: core.IntervalWeekly, StartDate: testNow})
	require.NoError(t, err)
	_, err = f.coord.Debts().CreateInstallmentPlan(f.ctx, core.InstallmentPlanRequest{DebtID: other.ID, Count: 1, Interval: core.IntervalWeekly, StartDate: testNow.AddDate(0, 0, 1)})
	require.NoError(t, err)

	res, err := f.coord.RecordDebtPayment(f.ctx, core.DebtPaymentRequest{DebtID: d.ID, Amount: dec("30.01")})
	require.NoError(t, err)
	requireDec(t, "30", res.Applied[0].Amount)
	requireDec(t, "30", res.Transaction.Amount)

	ins, err := f.coord.Debts().GetInstallments(f.ctx, core.InstallmentFilter{DebtID: other.ID})
	require.NoError(t, err)
	require.Len(t, ins, 1)
	requireDec(t, "20", ins[0].Amount, "only the applied amount reaches the schedules")
	assert.Equal(t, core.InstallmentPending, ins[0].Status)
	f.requireBalanced(t, core.DebtorCustomer, "C1")
}

func TestPayment_WriteOffIsAudited(t *testing.T) {
	f := newFixture(t)
	f.addCustomer(t, "C1")
	d := f.debtDueIn(t, core.DebtorCustomer, "C1", "r", "10", -90)
	assert.Equal(t, 90, d.DaysOverdue(testNow))

	_, err := f.coord.WriteOffDebt(f.ctx, d.ID, "uncollectable", "u1")
	require.NoError(t, err)

	logs := f.store.AuditLogs()
	require.NotEmpty(t, logs)
	last := logs[len(logs)-1]
	assert.Equal(t, "DEBT_WRITTEN_OFF", last.Action)
	assert.Equal(t, d.ID, last.EntityID)
	assert.WithinDuration(t, testNow, last.CreatedAt, time.Second)
}
