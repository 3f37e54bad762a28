package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SaleRequest carries the invoice to record. ID and Number are assigned when empty.
type SaleRequest struct {
	Invoice Invoice `json:"invoice"`
	UserID  string  `json:"userId,omitempty"`
}

type SaleResult struct {
	Invoice     Invoice              `json:"invoice"`
	Movements   []StockMovement      `json:"movements"`
	Transaction *TreasuryTransaction `json:"transaction,omitempty"`
	Debt        *Debt                `json:"debt,omitempty"`
	Outcome
}

type SaleReversalResult struct {
	InvoiceID    string                `json:"invoiceId"`
	DeletedDebt  *Debt                 `json:"deletedDebt,omitempty"`
	Transactions []TreasuryTransaction `json:"transactions"`
	Movements    []StockMovement       `json:"movements"`
	Outcome
}

// RecordSale saves the invoice, takes the sold goods out of stock, books the
// cash actually received, opens a customer debt for any unpaid remainder and
// updates the sales statistics.
func (c *Coordinator) RecordSale(ctx context.Context, req SaleRequest) (*SaleResult, error) {
	var res *SaleResult
	err := c.withRetry(ctx, "sale", func() error {
		var err error
		res, err = c.recordSale(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.audit(ctx, AuditEntry{
		UserID: req.UserID, Action: "SALE_CREATED", Entity: RefInvoice, EntityID: res.Invoice.ID,
		Diff: map[string]any{
			"number":    res.Invoice.Number,
			"total":     res.Invoice.Total.StringFixed(2),
			"paid":      res.Invoice.PaidAmount.StringFixed(2),
			"remaining": res.Invoice.Remaining().StringFixed(2),
		},
	})
	return res, nil
}

func (c *Coordinator) recordSale(ctx context.Context, req SaleRequest) (*SaleResult, error) {
	inv, err := c.prepareInvoice(ctx, req)
	if err != nil {
		return nil, err
	}
	stats := saleStats(inv)
	inv.SaleStats = &stats
	res := &SaleResult{Invoice: inv}
	ref := MovementRef{Type: RefInvoice, ID: inv.ID, UserID: req.UserID, Note: "Sale " + inv.Number}
	lines := saleLines(inv.Items)
	netCash := inv.PaidAmount.Sub(inv.UsedCreditBalance)
	remaining := inv.Remaining()

	steps := []step{
		{
			name:       "save invoice",
			apply:      func(ctx context.Context) error { return c.store.InsertInvoice(ctx, inv) },
			compensate: func(ctx context.Context) error { return c.store.DeleteInvoice(ctx, inv.ID) },
		},
		{
			name: "reduce stock",
			apply: func(ctx context.Context) error {
				var err error
				res.Movements, err = c.stock.ReduceStockForSale(ctx, lines, ref)
				return err
			},
			compensate: func(ctx context.Context) error {
				_, err := c.stock.RestockSale(ctx, lines, MovementRef{Type: RefInvoice, ID: inv.ID, UserID: req.UserID, Note: "compensation"})
				return err
			},
		},
	}
	if inv.UsedCreditBalance.IsPositive() {
		used := inv.UsedCreditBalance
		steps = append(steps, step{
			name:  "spend credit balance",
			apply: func(ctx context.Context) error { return c.spendCredit(ctx, inv.CustomerID, used) },
			compensate: func(ctx context.Context) error {
				_, err := c.store.IncrementDebtor(ctx, DebtorCustomer, inv.CustomerID, DebtorDelta{CreditBalance: used})
				return err
			},
		})
	}
	if netCash.IsPositive() {
		steps = append(steps, step{
			name: "record income",
			apply: func(ctx context.Context) error {
				t, err := c.treasury.Record(ctx, TransactionRequest{
					Type:          TransactionIncome,
					Amount:        netCash,
					Method:        inv.PaymentMethod,
					Description:   "Sale " + inv.Number,
					ReferenceType: RefInvoice,
					ReferenceID:   inv.ID,
					PartnerID:     inv.CustomerID,
					Date:          inv.Date,
					UserID:        req.UserID,
				})
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
		})
	}
	if remaining.IsPositive() {
		steps = append(steps, step{
			name: "create customer debt",
			apply: func(ctx context.Context) error {
				d, _, err := c.debts.CreateDebt(ctx, CreateDebtRequest{
					DebtorType:    DebtorCustomer,
					DebtorID:      inv.CustomerID,
					Amount:        remaining,
					DueDate:       inv.DueDate,
					ReferenceType: RefInvoice,
					ReferenceID:   inv.ID,
					Description:   "Invoice " + inv.Number,
					UserID:        req.UserID,
				})
				if err != nil {
					return err
				}
				res.Debt = &d
				return nil
			},
			compensate: func(ctx context.Context) error {
				_, err := c.debts.DeleteDebt(ctx, res.Debt.ID)
				return err
			},
		})
	}
	steps = append(steps, step{
		name: "update daily sales",
		apply: func(ctx context.Context) error {
			_, err := c.store.IncrementDailySales(ctx, DayOf(inv.Date), stats)
			return err
		},
		compensate: func(ctx context.Context) error {
			_, err := c.store.IncrementDailySales(ctx, DayOf(inv.Date), stats.neg())
			return err
		},
	})
	if inv.CustomerID != "" {
		at := inv.Date
		steps = append(steps, step{
			name: "update customer totals",
			apply: func(ctx context.Context) error {
				_, err := c.store.IncrementDebtor(ctx, DebtorCustomer, inv.CustomerID, DebtorDelta{TotalPurchases: inv.Total, LastPurchaseAt: &at})
				return err
			},
			compensate: func(ctx context.Context) error {
				_, err := c.store.IncrementDebtor(ctx, DebtorCustomer, inv.CustomerID, DebtorDelta{TotalPurchases: inv.Total.Neg()})
				return err
			},
		})
	}

	res.Outcome, err = c.execute(ctx, "sale", steps)
	if err != nil {
		return nil, err
	}
	c.log.Info().Str("invoice_id", inv.ID).Str("number", inv.Number).Str("total", inv.Total.StringFixed(2)).
		Str("paid", inv.PaidAmount.StringFixed(2)).Bool("atomic", res.Atomic).Msg("sale recorded")
	return res, nil
}

// prepareInvoice validates the request and fills in identifiers, costs,
// totals, defaults and the due date.
func (c *Coordinator) prepareInvoice(ctx context.Context, req SaleRequest) (Invoice, error) {
	inv := req.Invoice
	inv.Items = append([]InvoiceItem(nil), req.Invoice.Items...)
	inv.Payments = nil
	inv.Reversal = nil
	if len(inv.Items) == 0 {
		return Invoice{}, NewValidationError("items", "invoice has no items")
	}
	if inv.PaymentType == "" {
		inv.PaymentType = SaleCash
	}
	if !inv.PaymentType.Valid() {
		return Invoice{}, NewValidationError("paymentType", "unknown payment type %q", inv.PaymentType)
	}
	if inv.PaymentMethod == "" {
		inv.PaymentMethod = MethodCash
		if inv.PaymentType == SaleBank {
			inv.PaymentMethod = MethodBank
		}
	}
	if !inv.PaymentMethod.Valid() {
		return Invoice{}, NewValidationError("paymentMethod", "unknown payment method %q", inv.PaymentMethod)
	}
	for _, f := range []struct {
		name string
		v    decimal.Decimal
	}{{"paidAmount", inv.PaidAmount}, {"usedCreditBalance", inv.UsedCreditBalance}, {"discount", inv.Discount}, {"tax", inv.Tax}} {
		if f.v.IsNegative() {
			return Invoice{}, NewValidationError(f.name, "must not be negative, got %s", f.v)
		}
	}

	for i := range inv.Items {
		it := &inv.Items[i]
		if !it.Qty.IsPositive() {
			return Invoice{}, NewValidationError(fmt.Sprintf("items[%d].qty", i), "quantity must be positive, got %s", it.Qty)
		}
		if it.UnitPrice.IsNegative() {
			return Invoice{}, NewValidationError(fmt.Sprintf("items[%d].unitPrice", i), "unit price must not be negative, got %s", it.UnitPrice)
		}
		if it.ID == "" {
			it.ID = uuid.NewString()
		}
		if it.IsService || it.ProductID == "" {
			continue
		}
		if it.Source == "" {
			it.Source = LocationShop
		}
		if !it.Source.Valid() {
			return Invoice{}, NewValidationError(fmt.Sprintf("items[%d].source", i), "unknown location %q", it.Source)
		}
		p, err := c.stock.GetProduct(ctx, it.ProductID)
		if err != nil {
			return Invoice{}, err
		}
		it.CostPrice = p.BuyPrice
		if it.ProductName == "" {
			it.ProductName = p.Name
		}
	}

	inv.recompute()
	if inv.Total.IsNegative() {
		return Invoice{}, NewValidationError("discount", "discount exceeds invoice subtotal")
	}
	if inv.PaidAmount.IsZero() && (inv.PaymentType == SaleCash || inv.PaymentType == SaleBank) {
		inv.PaidAmount = inv.Total
	}
	if inv.PaidAmount.GreaterThan(inv.Total) {
		return Invoice{}, NewValidationError("paidAmount", "paid amount %s exceeds total %s", inv.PaidAmount.StringFixed(2), inv.Total.StringFixed(2))
	}
	if inv.UsedCreditBalance.GreaterThan(inv.PaidAmount) {
		return Invoice{}, NewValidationError("usedCreditBalance", "credit used %s exceeds paid amount %s", inv.UsedCreditBalance.StringFixed(2), inv.PaidAmount.StringFixed(2))
	}
	inv.PaymentStatus = paymentStatusFor(inv.PaidAmount, inv.Total)

	needsCustomer := inv.Remaining().IsPositive() || inv.UsedCreditBalance.IsPositive()
	if needsCustomer && inv.CustomerID == "" {
		return Invoice{}, NewValidationError("customerId", "a customer is required for credit sales")
	}
	if inv.CustomerID != "" {
		cust, err := c.debts.GetDebtor(ctx, DebtorCustomer, inv.CustomerID)
		if err != nil {
			return Invoice{}, err
		}
		if inv.CustomerName == "" {
			inv.CustomerName = cust.Name
		}
		if inv.UsedCreditBalance.GreaterThan(cust.CreditBalance) {
			return Invoice{}, &InsufficientBalanceError{
				Subject:   "customer credit " + inv.CustomerID,
				Required:  inv.UsedCreditBalance,
				Available: cust.CreditBalance,
			}
		}
	}

	now := c.policy.now()
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.Number == "" {
		n, err := c.nextNumber(ctx, "invoice", "INV")
		if err != nil {
			return Invoice{}, err
		}
		inv.Number = n
	}
	if inv.Date.IsZero() {
		inv.Date = now
	}
	if inv.Remaining().IsPositive() && inv.DueDate == nil {
		due := inv.Date.AddDate(0, 0, c.policy.CustomerTermsDays)
		inv.DueDate = &due
	}
	inv.CreatedBy = req.UserID
	inv.CreatedAt = now
	inv.UpdatedAt = now
	return inv, nil
}

// spendCredit takes used credit off the customer and rejects it when a
// concurrent sale already consumed it.
func (c *Coordinator) spendCredit(ctx context.Context, customerID string, used decimal.Decimal) error {
	d, err := c.store.IncrementDebtor(ctx, DebtorCustomer, customerID, DebtorDelta{CreditBalance: used.Neg()})
	if err != nil {
		return err
	}
	if !d.CreditBalance.IsNegative() {
		return nil
	}
	if _, err := c.store.IncrementDebtor(ctx, DebtorCustomer, customerID, DebtorDelta{CreditBalance: used}); err != nil {
		return err
	}
	return &InsufficientBalanceError{
		Subject:   "customer credit " + customerID,
		Required:  used,
		Available: d.CreditBalance.Add(used),
	}
}

func saleLines(items []InvoiceItem) []SaleLine {
	lines := make([]SaleLine, 0, len(items))
	for _, it := range items {
		lines = append(lines, SaleLine{ProductID: it.ProductID, Qty: it.Qty, Source: it.Source, IsService: it.IsService})
	}
	return lines
}

func saleStats(inv Invoice) DailySalesDelta {
	items := decimal.Zero
	for _, it := range inv.Items {
		items = items.Add(it.Qty)
	}
	return DailySalesDelta{
		Revenue:      inv.Total,
		Cost:         inv.TotalCost,
		InvoiceCount: 1,
		ItemsSold:    items,
		CashSales:    inv.PaidAmount,
		CreditSales:  inv.Remaining(),
	}
}

// ReverseSale undoes a recorded sale: the customer debt is deleted, the
// statistics and customer totals are reversed, the treasury entries of the
// invoice are removed, the goods go back to their source location and the
// invoice is deleted. An interrupted reversal can be invoked again.
func (c *Coordinator) ReverseSale(ctx context.Context, invoiceID, userID string) (*SaleReversalResult, error) {
	var res *SaleReversalResult
	err := c.withRetry(ctx, "sale reversal", func() error {
		var err error
		res, err = c.reverseSale(ctx, invoiceID, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.audit(ctx, AuditEntry{UserID: userID, Action: "SALE_REVERSED", Entity: RefInvoice, EntityID: invoiceID})
	return res, nil
}

func (c *Coordinator) reverseSale(ctx context.Context, invoiceID, userID string) (*SaleReversalResult, error) {
	inv, err := c.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.HasReturns {
		return nil, NewValidationError("invoiceId", "invoice %s has returns and cannot be reversed", inv.Number)
	}
	progress := inv.Reversal
	if progress == nil {
		progress = &ReversalProgress{StartedAt: c.policy.now()}
	}
	res := &SaleReversalResult{InvoiceID: inv.ID}
	stats := saleStats(inv)
	if inv.SaleStats != nil {
		stats = *inv.SaleStats
	}
	ref := MovementRef{Type: RefInvoice, ID: inv.ID, UserID: userID, Note: "Sale reversal " + inv.Number}

	steps := []step{
		{name: "delete customer debt", apply: func(ctx context.Context) error {
			d, err := c.debts.FindByReference(ctx, RefInvoice, inv.ID)
			if err != nil || d == nil {
				return err
			}
			res.DeletedDebt, err = c.debts.DeleteDebt(ctx, d.ID)
			return err
		}},
		{name: "reverse daily sales", apply: func(ctx context.Context) error {
			_, err := c.store.IncrementDailySales(ctx, DayOf(inv.Date), stats.neg())
			return err
		}},
	}
	if inv.CustomerID != "" {
		steps = append(steps, step{name: "reverse customer totals", apply: func(ctx context.Context) error {
			_, err := c.store.IncrementDebtor(ctx, DebtorCustomer, inv.CustomerID, DebtorDelta{
				TotalPurchases: inv.Total.Neg(),
				CreditBalance:  inv.UsedCreditBalance,
			})
			return err
		}})
	}
	steps = append(steps,
		step{name: "delete treasury entries", apply: func(ctx context.Context) error {
			var err error
			res.Transactions, err = c.treasury.DeleteByReference(ctx, RefInvoice, inv.ID)
			return err
		}},
		step{name: "restock goods", apply: func(ctx context.Context) error {
			var err error
			res.Movements, err = c.stock.RestockSale(ctx, saleLines(inv.Items), ref)
			return err
		}},
		step{name: "delete invoice", apply: func(ctx context.Context) error {
			return c.store.DeleteInvoice(ctx, inv.ID)
		}},
	)

	save := func(ctx context.Context) error {
		inv.Reversal = progress
		inv.UpdatedAt = c.policy.now()
		return c.store.UpdateInvoice(ctx, inv)
	}
	res.Outcome, err = c.resume(ctx, "sale reversal", steps, progress, save)
	if err != nil {
		return nil, err
	}
	c.log.Info().Str("invoice_id", inv.ID).Str("number", inv.Number).Bool("atomic", res.Atomic).Msg("sale reversed")
	return res, nil
}
