package core

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

type CustomerPaymentRequest struct {
	InvoiceID string          `json:"invoiceId"`
	Amount    decimal.Decimal `json:"amount"`
	Method    PaymentMethod   `json:"method,omitempty"`
	Note      string          `json:"note,omitempty"`
	UserID    string          `json:"userId,omitempty"`
}

type TotalPaymentRequest struct {
	CustomerID string          `json:"customerId"`
	Amount     decimal.Decimal `json:"amount"`
	Method     PaymentMethod   `json:"method,omitempty"`
	Note       string          `json:"note,omitempty"`
	UserID     string          `json:"userId,omitempty"`
}

type SupplierPaymentRequest struct {
	PurchaseOrderID string          `json:"purchaseOrderId"`
	Amount          decimal.Decimal `json:"amount"`
	Method          PaymentMethod   `json:"method,omitempty"`
	Note            string          `json:"note,omitempty"`
	UserID          string          `json:"userId,omitempty"`
}

type DebtPaymentRequest struct {
	DebtID string          `json:"debtId"`
	Amount decimal.Decimal `json:"amount"`
	Method PaymentMethod   `json:"method,omitempty"`
	Note   string          `json:"note,omitempty"`
	UserID string          `json:"userId,omitempty"`
}

// DebtApplication is the part of a payment applied to one debt.
type DebtApplication struct {
	DebtID        string          `json:"debtId"`
	ReferenceType string          `json:"referenceType"`
	ReferenceID   string          `json:"referenceId"`
	Amount        decimal.Decimal `json:"amount"`
	Remaining     decimal.Decimal `json:"remaining"`
	Status        DebtStatus      `json:"status"`
}

type PaymentResult struct {
	Applied      []DebtApplication    `json:"applied"`
	UntrackedCut decimal.Decimal      `json:"untrackedCut"`
	CreditAdded  decimal.Decimal      `json:"creditAdded"`
	Transaction  *TreasuryTransaction `json:"transaction,omitempty"`
	Outcome
}

func validatePayment(amount decimal.Decimal, method *PaymentMethod) error {
	if !amount.IsPositive() {
		return NewValidationError("amount", "payment amount must be positive, got %s", amount)
	}
	if *method == "" {
		*method = MethodCash
	}
	if !method.Valid() {
		return NewValidationError("method", "unknown payment method %q", *method)
	}
	return nil
}

func exceeds(amount, limit decimal.Decimal) bool {
	return amount.GreaterThan(limit.Add(settleTolerance))
}

// ── Customer payment against one invoice ─────────────────────────────────────

func (c *Coordinator) RecordCustomerPayment(ctx context.Context, req CustomerPaymentRequest) (*PaymentResult, error) {
	if err := validatePayment(req.Amount, &req.Method); err != nil {
		return nil, err
	}
	var res *PaymentResult
	err := c.withRetry(ctx, "customer payment", func() error {
		var err error
		res, err = c.recordCustomerPayment(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.audit(ctx, AuditEntry{UserID: req.UserID, Action: "CUSTOMER_PAYMENT", Entity: RefInvoice, EntityID: req.InvoiceID,
		Diff: map[string]any{"amount": req.Amount.StringFixed(2), "method": string(req.Method)}, Note: req.Note})
	return res, nil
}

func (c *Coordinator) recordCustomerPayment(ctx context.Context, req CustomerPaymentRequest) (*PaymentResult, error) {
	inv, err := c.store.GetInvoice(ctx, req.InvoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Reversal != nil {
		return nil, NewValidationError("invoiceId", "invoice %s is being reversed", inv.Number)
	}
	remaining := inv.Remaining()
	if !remaining.IsPositive() {
		return nil, NewValidationError("invoiceId", "invoice %s is already paid", inv.Number)
	}
	if exceeds(req.Amount, remaining) {
		return nil, NewValidationError("amount", "payment %s exceeds invoice remainder %s", req.Amount.StringFixed(2), remaining.StringFixed(2))
	}

	res := &PaymentResult{}
	before := cloneInvoice(inv)
	after := cloneInvoice(inv)
	amount := after.RecordPayment(InvoicePayment{Amount: req.Amount, Method: req.Method, Date: c.policy.now(), Note: req.Note, UserID: req.UserID})

	var (
		debtApplied decimal.Decimal
		debtID      string
		schedules   []Installment
	)
	steps := []step{
		{
			name:       "update invoice",
			apply:      func(ctx context.Context) error { return c.store.UpdateInvoice(ctx, after) },
			compensate: func(ctx context.Context) error { return c.store.UpdateInvoice(ctx, before) },
		},
		{
			name: "settle invoice debt",
			apply: func(ctx context.Context) error {
				d, err := c.debts.FindByReference(ctx, RefInvoice, inv.ID)
				if err != nil || d == nil || !d.Status.Open() {
					return err
				}
				app, err := c.payDebt(ctx, *d, amount)
				if err != nil {
					return err
				}
				debtID, debtApplied = d.ID, app.Amount
				res.Applied = append(res.Applied, app)
				return nil
			},
			compensate: func(ctx context.Context) error {
				if debtID == "" {
					return nil
				}
				_, _, err := c.debts.UpdateBalance(ctx, debtID, debtApplied.Neg())
				return err
			},
		},
	}
	if inv.CustomerID != "" {
		steps = append(steps, step{
			name: "update schedules",
			apply: func(ctx context.Context) error {
				var err error
				schedules, err = c.debts.ApplyPaymentToSchedules(ctx, DebtorCustomer, inv.CustomerID, debtApplied)
				return err
			},
			compensate: func(ctx context.Context) error { return c.debts.RestoreInstallments(ctx, schedules) },
		})
	}
	steps = append(steps, c.treasuryStep(res, TransactionRequest{
		Type:          TransactionIncome,
		Amount:        amount,
		Method:        req.Method,
		Description:   "Payment for invoice " + inv.Number,
		ReferenceType: RefInvoice,
		ReferenceID:   inv.ID,
		PartnerID:     inv.CustomerID,
		UserID:        req.UserID,
	}))

	res.Outcome, err = c.execute(ctx, "customer payment", steps)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ── Total customer payment ────────────────────────────────────────────────────

// RecordTotalCustomerPayment spreads one payment over the customer's open
// debts, oldest due date first. What is left reduces any balance not backed by
// a debt and the rest becomes customer credit.
func (c *Coordinator) RecordTotalCustomerPayment(ctx context.Context, req TotalPaymentRequest) (*PaymentResult, error) {
	if req.CustomerID == "" {
		return nil, NewValidationError("customerId", "customer is required")
	}
	if err := validatePayment(req.Amount, &req.Method); err != nil {
		return nil, err
	}
	var res *PaymentResult
	err := c.withRetry(ctx, "total customer payment", func() error {
		var err error
		res, err = c.recordTotalCustomerPayment(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.audit(ctx, AuditEntry{UserID: req.UserID, Action: "CUSTOMER_TOTAL_PAYMENT", Entity: string(DebtorCustomer), EntityID: req.CustomerID,
		Diff: map[string]any{"amount": req.Amount.StringFixed(2), "debts": len(res.Applied), "creditAdded": res.CreditAdded.StringFixed(2)}, Note: req.Note})
	return res, nil
}

func (c *Coordinator) recordTotalCustomerPayment(ctx context.Context, req TotalPaymentRequest) (*PaymentResult, error) {
	cust, err := c.debts.GetDebtor(ctx, DebtorCustomer, req.CustomerID)
	if err != nil {
		return nil, err
	}
	debts, err := c.openDebts(ctx, DebtorCustomer, req.CustomerID)
	if err != nil {
		return nil, err
	}
	outstanding := decimal.Zero
	for _, d := range debts {
		outstanding = outstanding.Add(d.RemainingAmount)
	}
	untracked := decimal.Max(cust.Balance.Sub(outstanding), decimal.Zero)
	if !outstanding.Add(untracked).IsPositive() {
		return nil, &InsufficientBalanceError{Subject: "customer " + req.CustomerID + " (nothing owed)", Required: req.Amount, Available: decimal.Zero}
	}

	res := &PaymentResult{}
	var (
		invoices  []Invoice
		schedules []Installment
	)
	applied := func() decimal.Decimal {
		sum := decimal.Zero
		for _, a := range res.Applied {
			sum = sum.Add(a.Amount)
		}
		return sum
	}

	steps := []step{
		{
			name: "apply to debts",
			apply: func(ctx context.Context) error {
				left := req.Amount
				for _, d := range debts {
					if !left.IsPositive() {
						break
					}
					app, err := c.payDebt(ctx, d, left)
					if err != nil {
						return err
					}
					res.Applied = append(res.Applied, app)
					left = left.Sub(app.Amount)
					if d.ReferenceType == RefInvoice {
						prev, err := c.markInvoicePaid(ctx, d.ReferenceID, app.Amount, req.Method, req.Note, req.UserID)
						if err != nil {
							return err
						}
						if prev != nil {
							invoices = append(invoices, *prev)
						}
					}
				}
				return nil
			},
			compensate: func(ctx context.Context) error {
				var errs []error
				for i := len(res.Applied) - 1; i >= 0; i-- {
					if _, _, err := c.debts.UpdateBalance(ctx, res.Applied[i].DebtID, res.Applied[i].Amount.Neg()); err != nil {
						errs = append(errs, err)
					}
				}
				for _, inv := range invoices {
					if err := c.store.UpdateInvoice(ctx, inv); err != nil {
						errs = append(errs, err)
					}
				}
				return errors.Join(errs...)
			},
		},
		{
			name: "absorb leftover",
			apply: func(ctx context.Context) error {
				left := req.Amount.Sub(applied())
				if !left.IsPositive() {
					return nil
				}
				res.UntrackedCut = decimal.Min(left, untracked)
				res.CreditAdded = left.Sub(res.UntrackedCut)
				if res.UntrackedCut.IsPositive() {
					if _, err := c.debts.ApplyBalanceDelta(ctx, DebtorCustomer, req.CustomerID, res.UntrackedCut.Neg()); err != nil {
						return err
					}
				}
				if res.CreditAdded.IsPositive() {
					if _, err := c.store.IncrementDebtor(ctx, DebtorCustomer, req.CustomerID, DebtorDelta{CreditBalance: res.CreditAdded}); err != nil {
						return err
					}
				}
				return nil
			},
			compensate: func(ctx context.Context) error {
				if res.CreditAdded.IsPositive() {
					if _, err := c.store.IncrementDebtor(ctx, DebtorCustomer, req.CustomerID, DebtorDelta{CreditBalance: res.CreditAdded.Neg()}); err != nil {
						return err
					}
				}
				if res.UntrackedCut.IsPositive() {
					_, err := c.debts.ApplyBalanceDelta(ctx, DebtorCustomer, req.CustomerID, res.UntrackedCut)
					return err
				}
				return nil
			},
		},
		{
			name: "update schedules",
			apply: func(ctx context.Context) error {
				var err error
				schedules, err = c.debts.ApplyPaymentToSchedules(ctx, DebtorCustomer, req.CustomerID, applied())
				return err
			},
			compensate: func(ctx context.Context) error { return c.debts.RestoreInstallments(ctx, schedules) },
		},
		c.treasuryStep(res, TransactionRequest{
			Type:          TransactionIncome,
			Amount:        req.Amount,
			Method:        req.Method,
			Description:   "Collection from customer " + cust.Name,
			ReferenceType: RefUnifiedCollection,
			ReferenceID:   req.CustomerID,
			PartnerID:     req.CustomerID,
			UserID:        req.UserID,
		}),
	}

	res.Outcome, err = c.execute(ctx, "total customer payment", steps)
	if err != nil {
		return nil, err
	}
	c.log.Info().Str("customer_id", req.CustomerID).Str("amount", req.Amount.StringFixed(2)).Int("debts", len(res.Applied)).
		Str("credit_added", res.CreditAdded.StringFixed(2)).Msg("total customer payment recorded")
	return res, nil
}

// ── Supplier payment against one purchase order ──────────────────────────────

func (c *Coordinator) RecordSupplierPayment(ctx context.Context, req SupplierPaymentRequest) (*PaymentResult, error) {
	if err := validatePayment(req.Amount, &req.Method); err != nil {
		return nil, err
	}
	var res *PaymentResult
	err := c.withRetry(ctx, "supplier payment", func() error {
		var err error
		res, err = c.recordSupplierPayment(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.audit(ctx, AuditEntry{UserID: req.UserID, Action: "SUPPLIER_PAYMENT", Entity: RefPurchaseOrder, EntityID: req.PurchaseOrderID,
		Diff: map[string]any{"amount": req.Amount.StringFixed(2), "method": string(req.Method)}, Note: req.Note})
	return res, nil
}

func (c *Coordinator) recordSupplierPayment(ctx context.Context, req SupplierPaymentRequest) (*PaymentResult, error) {
	po, err := c.store.GetPurchaseOrder(ctx, req.PurchaseOrderID)
	if err != nil {
		return nil, err
	}
	if po.Status != PurchaseReceived || po.Reversal != nil {
		return nil, NewValidationError("purchaseOrderId", "purchase order %s is not open for payment", po.Number)
	}
	remaining := po.Remaining()
	if !remaining.IsPositive() {
		return nil, NewValidationError("purchaseOrderId", "purchase order %s is already paid", po.Number)
	}
	if exceeds(req.Amount, remaining) {
		return nil, NewValidationError("amount", "payment %s exceeds purchase order remainder %s", req.Amount.StringFixed(2), remaining.StringFixed(2))
	}

	res := &PaymentResult{}
	before := po
	after := po
	after.PaidAmount = po.PaidAmount.Add(req.Amount)
	after.PaymentStatus = paymentStatusFor(after.PaidAmount, after.TotalCost)
	after.UpdatedAt = c.policy.now()

	var (
		debtID      string
		debtApplied decimal.Decimal
		schedules   []Installment
	)
	steps := []step{
		{
			name:       "update purchase order",
			apply:      func(ctx context.Context) error { return c.store.UpdatePurchaseOrder(ctx, after) },
			compensate: func(ctx context.Context) error { return c.store.UpdatePurchaseOrder(ctx, before) },
		},
		{
			name: "settle supplier debt",
			apply: func(ctx context.Context) error {
				d, err := c.debts.FindByReference(ctx, RefPurchaseOrder, po.ID)
				if err != nil || d == nil || !d.Status.Open() {
					return err
				}
				app, err := c.payDebt(ctx, *d, req.Amount)
				if err != nil {
					return err
				}
				debtID, debtApplied = d.ID, app.Amount
				res.Applied = append(res.Applied, app)
				return nil
			},
			compensate: func(ctx context.Context) error {
				if debtID == "" {
					return nil
				}
				_, _, err := c.debts.UpdateBalance(ctx, debtID, debtApplied.Neg())
				return err
			},
		},
		{
			name: "update schedules",
			apply: func(ctx context.Context) error {
				var err error
				schedules, err = c.debts.ApplyPaymentToSchedules(ctx, DebtorSupplier, po.SupplierID, debtApplied)
				return err
			},
			compensate: func(ctx context.Context) error { return c.debts.RestoreInstallments(ctx, schedules) },
		},
		c.treasuryStep(res, TransactionRequest{
			Type:          TransactionExpense,
			Amount:        req.Amount,
			Method:        req.Method,
			Description:   "Payment for purchase order " + po.Number,
			ReferenceType: RefPurchaseOrder,
			ReferenceID:   po.ID,
			PartnerID:     po.SupplierID,
			UserID:        req.UserID,
		}),
	}

	res.Outcome, err = c.execute(ctx, "supplier payment", steps)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ── Manual payment against one debt ──────────────────────────────────────────

// RecordDebtPayment pays one debt directly. Customer debts book an income,
// supplier debts an expense.
func (c *Coordinator) RecordDebtPayment(ctx context.Context, req DebtPaymentRequest) (*PaymentResult, error) {
	if err := validatePayment(req.Amount, &req.Method); err != nil {
		return nil, err
	}
	var res *PaymentResult
	err := c.withRetry(ctx, "debt payment", func() error {
		var err error
		res, err = c.recordDebtPayment(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.audit(ctx, AuditEntry{UserID: req.UserID, Action: "DEBT_PAYMENT", Entity: RefDebt, EntityID: req.DebtID,
		Diff: map[string]any{"amount": req.Amount.StringFixed(2), "method": string(req.Method)}, Note: req.Note})
	return res, nil
}

func (c *Coordinator) recordDebtPayment(ctx context.Context, req DebtPaymentRequest) (*PaymentResult, error) {
	d, err := c.debts.GetDebt(ctx, req.DebtID)
	if err != nil {
		return nil, err
	}
	if !d.Status.Open() {
		return nil, NewValidationError("debtId", "debt %s is %s", d.ID, d.Status)
	}
	if exceeds(req.Amount, d.RemainingAmount) {
		return nil, &InsufficientBalanceError{Subject: "debt " + d.ID, Required: req.Amount, Available: d.RemainingAmount}
	}

	amount := decimal.Min(req.Amount, d.RemainingAmount)
	res := &PaymentResult{}
	var (
		schedules []Installment
		prevInv   *Invoice
		prevPO    *PurchaseOrder
	)
	txType := TransactionIncome
	if d.DebtorType == DebtorSupplier {
		txType = TransactionExpense
	}
	steps := []step{
		{
			name: "settle debt",
			apply: func(ctx context.Context) error {
				app, err := c.payDebt(ctx, d, amount)
				if err != nil {
					return err
				}
				res.Applied = append(res.Applied, app)
				return nil
			},
			compensate: func(ctx context.Context) error {
				_, _, err := c.debts.UpdateBalance(ctx, d.ID, res.Applied[0].Amount.Neg())
				return err
			},
		},
		{
			name: "update schedules",
			apply: func(ctx context.Context) error {
				var err error
				schedules, err = c.debts.ApplyPaymentToSchedules(ctx, d.DebtorType, d.DebtorID, res.Applied[0].Amount)
				return err
			},
			compensate: func(ctx context.Context) error { return c.debts.RestoreInstallments(ctx, schedules) },
		},
		{
			name: "update source document",
			apply: func(ctx context.Context) error {
				var err error
				applied := res.Applied[0].Amount
				switch d.ReferenceType {
				case RefInvoice:
					prevInv, err = c.markInvoicePaid(ctx, d.ReferenceID, applied, req.Method, req.Note, req.UserID)
				case RefPurchaseOrder:
					prevPO, err = c.markPurchasePaid(ctx, d.ReferenceID, applied)
				}
				return err
			},
			compensate: func(ctx context.Context) error {
				if prevInv != nil {
					return c.store.UpdateInvoice(ctx, *prevInv)
				}
				if prevPO != nil {
					return c.store.UpdatePurchaseOrder(ctx, *prevPO)
				}
				return nil
			},
		},
		c.treasuryStep(res, TransactionRequest{
			Type:          txType,
			Amount:        amount,
			Method:        req.Method,
			Description:   "Debt payment " + d.Description,
			ReferenceType: RefDebt,
			ReferenceID:   d.ID,
			PartnerID:     d.DebtorID,
			UserID:        req.UserID,
		}),
	}

	res.Outcome, err = c.execute(ctx, "debt payment", steps)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// WriteOffDebt writes a debt off and records the action.
func (c *Coordinator) WriteOffDebt(ctx context.Context, debtID, reason, userID string) (Debt, error) {
	d, err := c.debts.WriteOff(ctx, debtID, reason, userID)
	if err != nil {
		return Debt{}, err
	}
	c.audit(ctx, AuditEntry{UserID: userID, Action: "DEBT_WRITTEN_OFF", Entity: RefDebt, EntityID: debtID,
		Diff: map[string]any{"amount": d.RemainingAmount.StringFixed(2)}, Note: reason})
	return d, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func (c *Coordinator) openDebts(ctx context.Context, t DebtorType, debtorID string) ([]Debt, error) {
	debts, err := c.debts.ListDebts(ctx, DebtFilter{DebtorType: t, DebtorID: debtorID, Statuses: []DebtStatus{DebtActive, DebtOverdue}})
	if err != nil {
		return nil, err
	}
	sortByDue(debts)
	return debts, nil
}

// payDebt applies at most the remaining amount of d.
func (c *Coordinator) payDebt(ctx context.Context, d Debt, amount decimal.Decimal) (DebtApplication, error) {
	pay := decimal.Min(amount, d.RemainingAmount)
	updated, applied, err := c.debts.UpdateBalance(ctx, d.ID, pay)
	if err != nil {
		return DebtApplication{}, err
	}
	return DebtApplication{
		DebtID:        d.ID,
		ReferenceType: d.ReferenceType,
		ReferenceID:   d.ReferenceID,
		Amount:        applied,
		Remaining:     updated.RemainingAmount,
		Status:        updated.Status,
	}, nil
}

// markInvoicePaid records a payment on an invoice and returns its prior
// state. A missing invoice is skipped.
func (c *Coordinator) markInvoicePaid(ctx context.Context, invoiceID string, amount decimal.Decimal, method PaymentMethod, note, userID string) (*Invoice, error) {
	inv, err := c.store.GetInvoice(ctx, invoiceID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	prev := cloneInvoice(inv)
	inv.RecordPayment(InvoicePayment{Amount: amount, Method: method, Date: c.policy.now(), Note: note, UserID: userID})
	if err := c.store.UpdateInvoice(ctx, inv); err != nil {
		return nil, err
	}
	return &prev, nil
}

func (c *Coordinator) markPurchasePaid(ctx context.Context, poID string, amount decimal.Decimal) (*PurchaseOrder, error) {
	po, err := c.store.GetPurchaseOrder(ctx, poID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	prev := po
	po.PaidAmount = decimal.Min(po.PaidAmount.Add(amount), decimal.Max(po.TotalCost, po.PaidAmount))
	po.PaymentStatus = paymentStatusFor(po.PaidAmount, po.TotalCost)
	po.UpdatedAt = c.policy.now()
	if err := c.store.UpdatePurchaseOrder(ctx, po); err != nil {
		return nil, err
	}
	return &prev, nil
}

// treasuryStep records req and stores the transaction on res.
func (c *Coordinator) treasuryStep(res *PaymentResult, req TransactionRequest) step {
	name := "record income"
	if req.Type == TransactionExpense {
		name = "record expense"
	}
	return step{
		name: name,
		apply: func(ctx context.Context) error {
			t, err := c.treasury.Record(ctx, req)
			if err != nil {
				return err
			}
			res.Transaction = &t
			return nil
		},
		compensate: func(ctx context.Context) error {
			_, err := c.treasury.Undo(ctx, res.Transaction.ID)
			return err
		},
	}
}

func cloneInvoice(inv Invoice) Invoice {
	out := inv
	out.Items = append([]InvoiceItem(nil), inv.Items...)
	out.Payments = append([]InvoicePayment(nil), inv.Payments...)
	if inv.Reversal != nil {
		r := *inv.Reversal
		r.Done = append([]string(nil), inv.Reversal.Done...)
		out.Reversal = &r
	}
	return out
}
