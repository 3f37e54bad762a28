package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// TreasuryLedger records money movements and keeps the daily cashbox in step with them.
type TreasuryLedger interface {
	// Record stores a transaction and adds its contribution to the cashbox of
	// its day. Incomes receive the next receipt number.
	Record(ctx context.Context, req TransactionRequest) (TreasuryTransaction, error)
	// Undo removes a transaction and subtracts exactly the contribution it made.
	Undo(ctx context.Context, transactionID string) (TreasuryTransaction, error)
	// DeleteByReference undoes every transaction of a source document. It is
	// safe to call again after a partial failure.
	DeleteByReference(ctx context.Context, refType, refID string) ([]TreasuryTransaction, error)
	GetTransaction(ctx context.Context, id string) (TreasuryTransaction, error)
	ListTransactions(ctx context.Context, f TransactionFilter) ([]TreasuryTransaction, error)

	GetDailyCashbox(ctx context.Context, day time.Time) (CashboxDaily, error)
	CashboxHistory(ctx context.Context, from, to time.Time) ([]CashboxDaily, error)
	// Reconcile freezes the counted closing balance of a day.
	Reconcile(ctx context.Context, day time.Time, actual decimal.Decimal, userID, notes string) (CashboxDaily, error)
	// GetCurrentBalance is the closing of the latest reconciled day, or the
	// projection of the latest day when it is not reconciled.
	GetCurrentBalance(ctx context.Context) (decimal.Decimal, error)
}

type treasuryLedger struct {
	store interface {
		TxRunner
		TreasuryStore
	}
	receipts ReceiptCounter
	policy   Policy
	log      zerolog.Logger
}

func NewTreasuryLedger(store Store, receipts ReceiptCounter, policy Policy, log zerolog.Logger) TreasuryLedger {
	return &treasuryLedger{
		store:    store,
		receipts: receipts,
		policy:   policy,
		log:      log.With().Str("component", "treasury").Logger(),
	}
}

// ── Transactions ──────────────────────────────────────────────────────────────

func (l *treasuryLedger) Record(ctx context.Context, req TransactionRequest) (TreasuryTransaction, error) {
	if !req.Type.Valid() {
		return TreasuryTransaction{}, NewValidationError("type", "unknown transaction type %q", req.Type)
	}
	if !req.Amount.IsPositive() {
		return TreasuryTransaction{}, NewValidationError("amount", "amount must be positive, got %s", req.Amount)
	}
	if req.Method == "" {
		req.Method = MethodCash
	}
	if !req.Method.Valid() {
		return TreasuryTransaction{}, NewValidationError("method", "unknown payment method %q", req.Method)
	}
	if req.ReferenceType == "" {
		return TreasuryTransaction{}, NewValidationError("referenceType", "reference type is required")
	}
	if req.Description == "" {
		req.Description = fmt.Sprintf("%s %s", req.ReferenceType, req.ReferenceID)
	}

	now := l.policy.now()
	date := req.Date
	if date.IsZero() {
		date = now
	}
	day := DayOf(date)
	amount := req.Amount.Round(2)
	bucket := BucketFor(req.Type, req.Method, req.Manual)

	t := TreasuryTransaction{
		ID:            uuid.NewString(),
		Type:          req.Type,
		Amount:        amount,
		Method:        req.Method,
		Description:   req.Description,
		Category:      req.Category,
		ReferenceType: req.ReferenceType,
		ReferenceID:   req.ReferenceID,
		PartnerID:     req.PartnerID,
		Date:          date.UTC(),
		CreatedBy:     req.UserID,
		CreatedAt:     now,
	}
	contrib := CashboxContribution{
		ID:        uuid.NewString(),
		Date:      day,
		Bucket:    bucket,
		Amount:    amount,
		Reason:    req.Description,
		Category:  req.Category,
		CreatedBy: req.UserID,
		CreatedAt: now,
	}
	t.CashboxContributionID = contrib.ID

	if t.Type == TransactionIncome {
		n, err := l.receipts.Next(ctx)
		if err != nil {
			return TreasuryTransaction{}, WrapInternal("next receipt number", err)
		}
		t.ReceiptNumber = fmt.Sprintf("%s%d", l.policy.ReceiptPrefix, n)
	}

	err := l.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := l.store.InsertContribution(ctx, contrib); err != nil {
			return err
		}
		if _, err := l.store.UpdateCashbox(ctx, day, l.applyFn(bucket, amount)); err != nil {
			return err
		}
		return l.store.InsertTransaction(ctx, t)
	})
	if err != nil {
		return TreasuryTransaction{}, err
	}
	l.log.Info().Str("transaction_id", t.ID).Str("type", string(t.Type)).Str("method", string(t.Method)).
		Str("amount", amount.StringFixed(2)).Str("bucket", string(bucket)).Str("ref_type", t.ReferenceType).
		Str("ref_id", t.ReferenceID).Str("receipt", t.ReceiptNumber).Msg("treasury transaction recorded")
	return t, nil
}

func (l *treasuryLedger) Undo(ctx context.Context, transactionID string) (TreasuryTransaction, error) {
	var t TreasuryTransaction
	err := l.store.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		t, err = l.store.GetTransaction(ctx, transactionID)
		if err != nil {
			return err
		}
		c, err := l.store.GetContribution(ctx, t.CashboxContributionID)
		switch {
		case errors.Is(err, ErrNotFound):
			// contribution already reversed by an interrupted undo
		case err != nil:
			return err
		default:
			if err := l.store.DeleteContribution(ctx, c.ID); err != nil {
				return err
			}
			if _, err := l.store.UpdateCashbox(ctx, c.Date, l.applyFn(c.Bucket, c.Amount.Neg())); err != nil {
				return err
			}
		}
		return l.store.DeleteTransaction(ctx, t.ID)
	})
	if err != nil {
		return TreasuryTransaction{}, err
	}
	l.log.Info().Str("transaction_id", t.ID).Str("amount", t.Amount.StringFixed(2)).Msg("treasury transaction undone")
	return t, nil
}

func (l *treasuryLedger) DeleteByReference(ctx context.Context, refType, refID string) ([]TreasuryTransaction, error) {
	if refType == "" || refID == "" {
		return nil, NewValidationError("reference", "reference type and id are required")
	}
	var undone []TreasuryTransaction
	err := l.store.RunInTx(ctx, func(ctx context.Context) error {
		undone = undone[:0]
		txs, err := l.store.ListTransactions(ctx, TransactionFilter{ReferenceType: refType, ReferenceID: refID})
		if err != nil {
			return err
		}
		for _, t := range txs {
			if _, err := l.Undo(ctx, t.ID); err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
			undone = append(undone, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return undone, nil
}

func (l *treasuryLedger) GetTransaction(ctx context.Context, id string) (TreasuryTransaction, error) {
	return l.store.GetTransaction(ctx, id)
}

func (l *treasuryLedger) ListTransactions(ctx context.Context, f TransactionFilter) ([]TreasuryTransaction, error) {
	if f.Type != "" && !f.Type.Valid() {
		return nil, NewValidationError("type", "unknown transaction type %q", f.Type)
	}
	return l.store.ListTransactions(ctx, f)
}

// ── Cashbox ───────────────────────────────────────────────────────────────────

// applyFn seeds a new day from the previous one and adds amount to bucket.
// Later days are not re-seeded when an earlier day changes.
func (l *treasuryLedger) applyFn(bucket CashboxBucket, amount decimal.Decimal) func(c *CashboxDaily, prior *CashboxDaily) error {
	return func(c *CashboxDaily, prior *CashboxDaily) error {
		if prior != nil {
			c.OpeningBalance = effectiveClosing(*prior)
		}
		c.Apply(bucket, amount)
		c.UpdatedAt = l.policy.now()
		return nil
	}
}

func effectiveClosing(c CashboxDaily) decimal.Decimal {
	if c.IsReconciled {
		return c.ClosingBalance
	}
	c.Recalculate()
	return c.Expected()
}

func (l *treasuryLedger) GetDailyCashbox(ctx context.Context, day time.Time) (CashboxDaily, error) {
	c, err := l.store.GetCashbox(ctx, DayOf(day))
	if err != nil {
		return CashboxDaily{}, err
	}
	c.Recalculate()
	return c, nil
}

func (l *treasuryLedger) CashboxHistory(ctx context.Context, from, to time.Time) ([]CashboxDaily, error) {
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return nil, NewValidationError("to", "end date is before start date")
	}
	if !from.IsZero() {
		from = DayOf(from)
	}
	if !to.IsZero() {
		to = DayOf(to)
	}
	return l.store.ListCashboxes(ctx, from, to)
}

func (l *treasuryLedger) Reconcile(ctx context.Context, day time.Time, actual decimal.Decimal, userID, notes string) (CashboxDaily, error) {
	if actual.IsNegative() {
		return CashboxDaily{}, NewValidationError("actual", "counted balance cannot be negative, got %s", actual)
	}
	day = DayOf(day)
	var c CashboxDaily
	err := l.store.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := l.store.GetCashbox(ctx, day); err != nil {
			return err
		}
		var err error
		c, err = l.store.UpdateCashbox(ctx, day, func(c *CashboxDaily, _ *CashboxDaily) error {
			now := l.policy.now()
			c.IsReconciled = true
			c.ClosingBalance = actual.Round(2)
			c.ReconciledBy = userID
			c.ReconciledAt = &now
			c.ReconciliationNotes = notes
			c.UpdatedAt = now
			c.Recalculate()
			return nil
		})
		return err
	})
	if err != nil {
		return CashboxDaily{}, err
	}
	l.log.Info().Str("day", day.Format("2006-01-02")).Str("closing", c.ClosingBalance.StringFixed(2)).
		Str("difference", c.Difference.StringFixed(2)).Str("user_id", userID).Msg("cashbox reconciled")
	return c, nil
}

func (l *treasuryLedger) GetCurrentBalance(ctx context.Context) (decimal.Decimal, error) {
	c, err := l.store.LatestCashbox(ctx)
	if errors.Is(err, ErrNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return effectiveClosing(c), nil
}
