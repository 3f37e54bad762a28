package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// CashEntryRequest is a manual income or expense not tied to a document.
type CashEntryRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Reason   string          `json:"reason"`
	Category string          `json:"category,omitempty"`
	Method   PaymentMethod   `json:"method,omitempty"`
	Date     time.Time       `json:"date,omitempty"`
	UserID   string          `json:"userId,omitempty"`
}

// RecordExpense books a manual expense such as rent or salaries.
func (c *Coordinator) RecordExpense(ctx context.Context, req CashEntryRequest) (TreasuryTransaction, error) {
	if req.Category == "" {
		req.Category = string(CategoryOther)
	}
	if !ExpenseCategory(req.Category).Valid() {
		return TreasuryTransaction{}, NewValidationError("category", "unknown expense category %q", req.Category)
	}
	return c.recordCashEntry(ctx, TransactionExpense, "EXPENSE_RECORDED", req)
}

// RecordIncome books a manual income.
func (c *Coordinator) RecordIncome(ctx context.Context, req CashEntryRequest) (TreasuryTransaction, error) {
	return c.recordCashEntry(ctx, TransactionIncome, "INCOME_RECORDED", req)
}

func (c *Coordinator) recordCashEntry(ctx context.Context, t TransactionType, action string, req CashEntryRequest) (TreasuryTransaction, error) {
	if req.Reason == "" {
		return TreasuryTransaction{}, NewValidationError("reason", "reason is required")
	}
	tx, err := c.treasury.Record(ctx, TransactionRequest{
		Type:          t,
		Amount:        req.Amount,
		Method:        req.Method,
		Description:   req.Reason,
		Category:      req.Category,
		ReferenceType: RefManual,
		Date:          req.Date,
		Manual:        true,
		UserID:        req.UserID,
	})
	if err != nil {
		return TreasuryTransaction{}, err
	}
	c.audit(ctx, AuditEntry{UserID: req.UserID, Action: action, Entity: "TreasuryTransaction", EntityID: tx.ID,
		Diff: map[string]any{"amount": tx.Amount.StringFixed(2), "category": req.Category}, Note: req.Reason})
	return tx, nil
}

// UndoTransaction removes a treasury transaction and its cashbox contribution.
func (c *Coordinator) UndoTransaction(ctx context.Context, transactionID, userID string) (TreasuryTransaction, error) {
	tx, err := c.treasury.Undo(ctx, transactionID)
	if err != nil {
		return TreasuryTransaction{}, err
	}
	c.audit(ctx, AuditEntry{UserID: userID, Action: "TRANSACTION_UNDONE", Entity: "TreasuryTransaction", EntityID: tx.ID,
		Diff: map[string]any{"amount": tx.Amount.StringFixed(2), "type": string(tx.Type)}})
	return tx, nil
}
