package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReturnLine selects a quantity of one invoice item to take back.
type ReturnLine struct {
	InvoiceItemID string          `json:"invoiceItemId"`
	Qty           decimal.Decimal `json:"qty"`
	Reason        string          `json:"reason,omitempty"`
}

type SaleReturnRequest struct {
	InvoiceID    string       `json:"invoiceId"`
	Items        []ReturnLine `json:"items"`
	RefundMethod RefundMethod `json:"refundMethod"`
	UserID       string       `json:"userId,omitempty"`
}

type SaleReturnResult struct {
	Return      SalesReturn          `json:"return"`
	Invoice     Invoice              `json:"invoice"`
	Movements   []StockMovement      `json:"movements"`
	Applied     []DebtApplication    `json:"applied,omitempty"`
	Transaction *TreasuryTransaction `json:"transaction,omitempty"`
	Outcome
}

// ProcessSaleReturn takes goods back into the shop at unchanged cost,
// rewrites the invoice and refunds the customer. Each line is refunded at its
// share of the discounted invoice total. The refund first cancels what is
// still owed on the invoice itself and the remaining schedule shrinks with it;
// only the excess, at most what was paid, is paid out in cash or, for
// customer balance refunds, settles other open debts oldest first with the
// rest kept as customer credit.
func (c *Coordinator) ProcessSaleReturn(ctx context.Context, req SaleReturnRequest) (*SaleReturnResult, error) {
	if req.RefundMethod == "" {
		req.RefundMethod = RefundCash
	}
	if req.RefundMethod != RefundCash && req.RefundMethod != RefundCustomerBalance {
		return nil, NewValidationError("refundMethod", "unknown refund method %q", req.RefundMethod)
	}
	if len(req.Items) == 0 {
		return nil, NewValidationError("items", "return has no items")
	}
	var res *SaleReturnResult
	err := c.withRetry(ctx, "sale return", func() error {
		var err error
		res, err = c.processSaleReturn(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.audit(ctx, AuditEntry{UserID: req.UserID, Action: "SALE_RETURNED", Entity: RefSalesReturn, EntityID: res.Return.ID,
		Diff: map[string]any{
			"invoiceId":    req.InvoiceID,
			"totalRefund":  res.Return.TotalRefund.StringFixed(2),
			"refundMethod": string(req.RefundMethod),
		}})
	return res, nil
}

func (c *Coordinator) processSaleReturn(ctx context.Context, req SaleReturnRequest) (*SaleReturnResult, error) {
	inv, err := c.store.GetInvoice(ctx, req.InvoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Reversal != nil {
		return nil, NewValidationError("invoiceId", "invoice %s is being reversed", inv.Number)
	}
	if req.RefundMethod == RefundCustomerBalance && inv.CustomerID == "" {
		return nil, NewValidationError("refundMethod", "walk-in sales can only be refunded in cash")
	}

	before := cloneInvoice(inv)
	after := cloneInvoice(inv)
	ret := SalesReturn{
		ID:           uuid.NewString(),
		Date:         c.policy.now(),
		InvoiceID:    inv.ID,
		CustomerID:   inv.CustomerID,
		RefundMethod: req.RefundMethod,
		CreatedBy:    req.UserID,
		CreatedAt:    c.policy.now(),
	}

	index := map[string]int{}
	for i, it := range after.Items {
		index[it.ID] = i
	}
	// Lines are refunded at their share of the invoice total so that discount
	// and tax are given back in proportion.
	net := decimal.NewFromInt(1)
	if inv.Subtotal.IsPositive() {
		net = inv.Total.Div(inv.Subtotal)
	}
	var restock []SaleLine
	for i, ln := range req.Items {
		pos, ok := index[ln.InvoiceItemID]
		if !ok {
			return nil, NewValidationError(fmt.Sprintf("items[%d].invoiceItemId", i), "item %s is not on invoice %s", ln.InvoiceItemID, inv.Number)
		}
		it := &after.Items[pos]
		if !ln.Qty.IsPositive() {
			return nil, NewValidationError(fmt.Sprintf("items[%d].qty", i), "quantity must be positive, got %s", ln.Qty)
		}
		if ln.Qty.GreaterThan(it.Qty) {
			return nil, NewValidationError(fmt.Sprintf("items[%d].qty", i), "returning %s of %s but only %s left on the invoice", ln.Qty, it.ProductName, it.Qty)
		}
		refund := ln.Qty.Mul(it.UnitPrice).Mul(net).Round(2)
		ret.Items = append(ret.Items, ReturnItem{
			InvoiceItemID: it.ID,
			ProductID:     it.ProductID,
			ProductName:   it.ProductName,
			Qty:           ln.Qty,
			UnitPrice:     it.UnitPrice,
			RefundAmount:  refund,
			IsService:     it.IsService,
			Reason:        ln.Reason,
		})
		ret.TotalRefund = ret.TotalRefund.Add(refund)
		it.Qty = it.Qty.Sub(ln.Qty)
		if !it.IsService {
			restock = append(restock, SaleLine{ProductID: it.ProductID, Qty: ln.Qty, Source: LocationShop})
		}
	}
	kept := after.Items[:0]
	for _, it := range after.Items {
		if it.Qty.IsPositive() {
			kept = append(kept, it)
		}
	}
	after.Items = kept
	if len(kept) == 0 {
		if diff := inv.Total.Sub(ret.TotalRefund); !diff.IsZero() {
			last := &ret.Items[len(ret.Items)-1]
			last.RefundAmount = last.RefundAmount.Add(diff)
			ret.TotalRefund = inv.Total
		}
	}
	after.recompute()
	if inv.Subtotal.IsPositive() {
		after.Tax = inv.Tax.Mul(after.Subtotal).Div(inv.Subtotal).Round(2)
	}
	after.Discount = after.Subtotal.Add(after.Tax).Sub(inv.Total.Sub(ret.TotalRefund))
	after.recompute()

	own, err := c.debts.FindByReference(ctx, RefInvoice, inv.ID)
	if err != nil {
		return nil, err
	}
	ownCut := decimal.Zero
	if own != nil && own.Status.Open() {
		ownCut = decimal.Min(ret.TotalRefund, own.RemainingAmount)
	}
	excess := decimal.Min(ret.TotalRefund.Sub(ownCut), inv.PaidAmount)
	after.PaidAmount = decimal.Max(after.PaidAmount.Sub(excess), decimal.Zero)
	after.PaymentStatus = paymentStatusFor(after.PaidAmount, after.Total)
	after.HasReturns = true
	after.UpdatedAt = c.policy.now()

	number, err := c.nextNumber(ctx, "sales_return", "RET")
	if err != nil {
		return nil, err
	}
	ret.Number = number
	res := &SaleReturnResult{Invoice: after}
	ref := MovementRef{Type: RefSalesReturn, ID: ret.ID, UserID: req.UserID, Note: "Return " + ret.Number + " of " + inv.Number}

	var (
		creditAdded decimal.Decimal
		schedules   []Installment
	)
	steps := []step{
		{
			name:       "rewrite invoice",
			apply:      func(ctx context.Context) error { return c.store.UpdateInvoice(ctx, after) },
			compensate: func(ctx context.Context) error { return c.store.UpdateInvoice(ctx, before) },
		},
		{
			name: "restock returned goods",
			apply: func(ctx context.Context) error {
				var err error
				res.Movements, err = c.stock.IncreaseStockForReturn(ctx, restock, ref)
				return err
			},
			compensate: func(ctx context.Context) error {
				moves := make([]MoveRequest, 0, len(restock))
				for _, ln := range restock {
					moves = append(moves, MoveRequest{ProductID: ln.ProductID, Kind: MovementSale, Qty: ln.Qty, Location: LocationShop, Override: true, Note: "compensation"})
				}
				if len(moves) == 0 {
					return nil
				}
				_, err := c.stock.BulkMove(ctx, moves)
				return err
			},
		},
	}
	if ownCut.IsPositive() {
		steps = append(steps, step{
			name: "reduce invoice debt",
			apply: func(ctx context.Context) error {
				app, err := c.payDebt(ctx, *own, ownCut)
				if err != nil {
					return err
				}
				res.Applied = append(res.Applied, app)
				ret.DebtReduced = ret.DebtReduced.Add(app.Amount)
				return nil
			},
			compensate: func(ctx context.Context) error {
				_, _, err := c.debts.UpdateBalance(ctx, own.ID, ownCut.Neg())
				return err
			},
		}, step{
			name: "rescale invoice schedule",
			apply: func(ctx context.Context) error {
				var err error
				schedules, err = c.debts.RescaleInstallments(ctx, own.ID)
				return err
			},
			compensate: func(ctx context.Context) error { return c.debts.RestoreInstallments(ctx, schedules) },
		})
	}
	if excess.IsPositive() && req.RefundMethod == RefundCash {
		steps = append(steps, step{
			name: "refund cash",
			apply: func(ctx context.Context) error {
				t, err := c.treasury.Record(ctx, TransactionRequest{
					Type:          TransactionExpense,
					Amount:        excess,
					Method:        MethodCash,
					Description:   "Refund " + ret.Number + " for invoice " + inv.Number,
					ReferenceType: RefSalesReturn,
					ReferenceID:   ret.ID,
					PartnerID:     inv.CustomerID,
					UserID:        req.UserID,
				})
				if err != nil {
					return err
				}
				res.Transaction = &t
				ret.TreasuryDeducted = excess
				return nil
			},
			compensate: func(ctx context.Context) error {
				_, err := c.treasury.Undo(ctx, res.Transaction.ID)
				return err
			},
		})
	}
	if excess.IsPositive() && req.RefundMethod == RefundCustomerBalance {
		var others []DebtApplication
		steps = append(steps, step{
			name: "refund to customer balance",
			apply: func(ctx context.Context) error {
				debts, err := c.openDebts(ctx, DebtorCustomer, inv.CustomerID)
				if err != nil {
					return err
				}
				left := excess
				for _, d := range debts {
					if !left.IsPositive() {
						break
					}
					if d.ReferenceType == RefInvoice && d.ReferenceID == inv.ID {
						continue
					}
					app, err := c.payDebt(ctx, d, left)
					if err != nil {
						return err
					}
					others = append(others, app)
					left = left.Sub(app.Amount)
					ret.DebtReduced = ret.DebtReduced.Add(app.Amount)
				}
				res.Applied = append(res.Applied, others...)
				if left.IsPositive() {
					if _, err := c.store.IncrementDebtor(ctx, DebtorCustomer, inv.CustomerID, DebtorDelta{CreditBalance: left}); err != nil {
						return err
					}
					creditAdded = left
					ret.CustomerBalanceAdded = left
				}
				return nil
			},
			compensate: func(ctx context.Context) error {
				var errs []error
				if creditAdded.IsPositive() {
					if _, err := c.store.IncrementDebtor(ctx, DebtorCustomer, inv.CustomerID, DebtorDelta{CreditBalance: creditAdded.Neg()}); err != nil {
						errs = append(errs, err)
					}
				}
				for i := len(others) - 1; i >= 0; i-- {
					if _, _, err := c.debts.UpdateBalance(ctx, others[i].DebtID, others[i].Amount.Neg()); err != nil {
						errs = append(errs, err)
					}
				}
				return errors.Join(errs...)
			},
		})
	}
	steps = append(steps, step{
		name:       "save return",
		apply:      func(ctx context.Context) error { return c.store.InsertSalesReturn(ctx, ret) },
		compensate: func(ctx context.Context) error { return c.store.DeleteSalesReturn(ctx, ret.ID) },
	})

	res.Outcome, err = c.execute(ctx, "sale return", steps)
	if err != nil {
		return nil, err
	}
	res.Return = ret
	c.log.Info().Str("return_id", ret.ID).Str("number", ret.Number).Str("invoice_id", inv.ID).
		Str("refund", ret.TotalRefund.StringFixed(2)).Str("method", string(req.RefundMethod)).Msg("sale return processed")
	return res, nil
}
