package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DebtLedger owns debts, installment schedules and debtor balances.
// ApplyBalanceDelta is the only path that changes Debtor.Balance.
type DebtLedger interface {
	// CreateDebt is idempotent on (debtor type, debtor, reference type, reference).
	CreateDebt(ctx context.Context, req CreateDebtRequest) (Debt, bool, error)
	GetDebt(ctx context.Context, debtID string) (Debt, error)
	ListDebts(ctx context.Context, f DebtFilter) ([]Debt, error)
	FindByReference(ctx context.Context, refType, refID string) (*Debt, error)
	// UpdateBalance applies a payment (or, when negative, its reversal) to a
	// debt and moves the debtor balance by the amount actually applied.
	UpdateBalance(ctx context.Context, debtID string, amountPaid decimal.Decimal) (Debt, decimal.Decimal, error)
	WriteOff(ctx context.Context, debtID, reason, userID string) (Debt, error)
	DeleteDebt(ctx context.Context, debtID string) (*Debt, error)
	ApplyBalanceDelta(ctx context.Context, t DebtorType, debtorID string, delta decimal.Decimal) (Debtor, error)
	GetDebtor(ctx context.Context, t DebtorType, debtorID string) (Debtor, error)

	CreateInstallmentPlan(ctx context.Context, req InstallmentPlanRequest) ([]Installment, error)
	GetInstallments(ctx context.Context, f InstallmentFilter) ([]Installment, error)
	// ApplyPaymentToSchedules settles the oldest unpaid installments of a debtor
	// first and returns their prior state so a caller can restore it.
	ApplyPaymentToSchedules(ctx context.Context, t DebtorType, debtorID string, amount decimal.Decimal) ([]Installment, error)
	RestoreInstallments(ctx context.Context, prior []Installment) error
	// RescaleInstallments resizes the unpaid installments of a debt so they add
	// up to its remaining amount and returns their prior state.
	RescaleInstallments(ctx context.Context, debtID string) ([]Installment, error)

	GetAgingData(ctx context.Context, t DebtorType) (AgingReport, error)
	GetDebtOverview(ctx context.Context) (DebtOverview, error)
	// SyncDebts backs an untracked debtor balance with an opening-balance debt.
	SyncDebts(ctx context.Context, t DebtorType, debtorID string) (SyncResult, error)
}

type debtLedger struct {
	store interface {
		TxRunner
		DebtStore
	}
	policy Policy
	log    zerolog.Logger
}

func NewDebtLedger(store Store, policy Policy, log zerolog.Logger) DebtLedger {
	return &debtLedger{store: store, policy: policy, log: log.With().Str("component", "debt").Logger()}
}

// ── Debts ─────────────────────────────────────────────────────────────────────

func (l *debtLedger) CreateDebt(ctx context.Context, req CreateDebtRequest) (Debt, bool, error) {
	if !req.DebtorType.Valid() {
		return Debt{}, false, NewValidationError("debtorType", "unknown debtor type %q", req.DebtorType)
	}
	if req.DebtorID == "" {
		return Debt{}, false, NewValidationError("debtorId", "debtor is required")
	}
	if !req.Amount.IsPositive() {
		return Debt{}, false, NewValidationError("amount", "debt amount must be positive, got %s", req.Amount)
	}
	if req.ReferenceType == "" {
		return Debt{}, false, NewValidationError("referenceType", "reference type is required")
	}

	now := l.policy.now()
	due := now.AddDate(0, 0, l.policy.termsFor(req.DebtorType))
	if req.DueDate != nil && !req.DueDate.IsZero() {
		due = req.DueDate.UTC()
	}
	refID := req.ReferenceID
	if refID == "" && req.ReferenceType == RefManual {
		refID = uuid.NewString()
	}
	d := Debt{
		ID:              uuid.NewString(),
		DebtorType:      req.DebtorType,
		DebtorID:        req.DebtorID,
		OriginalAmount:  req.Amount.Round(2),
		RemainingAmount: req.Amount.Round(2),
		DueDate:         due,
		Status:          DebtActive,
		ReferenceType:   req.ReferenceType,
		ReferenceID:     refID,
		Description:     req.Description,
		CreatedBy:       req.UserID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	var created bool
	err := l.store.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := l.store.GetDebtor(ctx, req.DebtorType, req.DebtorID); err != nil {
			return err
		}
		stored, ok, err := l.store.InsertDebtIfAbsent(ctx, d)
		if err != nil {
			return err
		}
		d, created = stored, ok
		if !created {
			return nil
		}
		_, err = l.ApplyBalanceDelta(ctx, d.DebtorType, d.DebtorID, d.RemainingAmount)
		return err
	})
	if err != nil {
		return Debt{}, false, err
	}
	if created {
		l.log.Info().Str("debt_id", d.ID).Str("debtor_type", string(d.DebtorType)).Str("debtor_id", d.DebtorID).
			Str("amount", d.OriginalAmount.StringFixed(2)).Msg("debt created")
	}
	return d, created, nil
}

func (l *debtLedger) GetDebt(ctx context.Context, debtID string) (Debt, error) {
	return l.store.GetDebt(ctx, debtID)
}

func (l *debtLedger) ListDebts(ctx context.Context, f DebtFilter) ([]Debt, error) {
	if f.DebtorType != "" && !f.DebtorType.Valid() {
		return nil, NewValidationError("debtorType", "unknown debtor type %q", f.DebtorType)
	}
	return l.store.ListDebts(ctx, f)
}

// FindByReference returns the debt of a source document, or nil when there is none.
func (l *debtLedger) FindByReference(ctx context.Context, refType, refID string) (*Debt, error) {
	debts, err := l.store.ListDebts(ctx, DebtFilter{ReferenceType: refType, ReferenceID: refID, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(debts) == 0 {
		return nil, nil
	}
	return &debts[0], nil
}

func (l *debtLedger) UpdateBalance(ctx context.Context, debtID string, amountPaid decimal.Decimal) (Debt, decimal.Decimal, error) {
	if amountPaid.IsZero() {
		return Debt{}, decimal.Zero, NewValidationError("amount", "payment amount must not be zero")
	}
	var (
		d       Debt
		applied decimal.Decimal
	)
	err := l.store.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		d, err = l.store.GetDebt(ctx, debtID)
		if err != nil {
			return err
		}
		if d.Status == DebtWrittenOff {
			return NewValidationError("debtId", "debt %s is written off", debtID)
		}
		if amountPaid.IsPositive() && d.Status == DebtSettled {
			return &InsufficientBalanceError{Subject: "debt " + debtID, Required: amountPaid, Available: decimal.Zero}
		}
		applied, err = d.applyPayment(amountPaid, l.policy.now())
		if err != nil {
			return err
		}
		d, err = l.store.UpdateDebt(ctx, d)
		if err != nil {
			return err
		}
		if applied.IsZero() {
			return nil
		}
		_, err = l.ApplyBalanceDelta(ctx, d.DebtorType, d.DebtorID, applied.Neg())
		return err
	})
	if err != nil {
		return Debt{}, decimal.Zero, err
	}
	l.log.Debug().Str("debt_id", debtID).Str("applied", applied.StringFixed(2)).
		Str("remaining", d.RemainingAmount.StringFixed(2)).Str("status", string(d.Status)).Msg("debt balance updated")
	return d, applied, nil
}

func (l *debtLedger) WriteOff(ctx context.Context, debtID, reason, userID string) (Debt, error) {
	if reason == "" {
		return Debt{}, NewValidationError("reason", "write-off reason is required")
	}
	var d Debt
	err := l.store.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		d, err = l.store.GetDebt(ctx, debtID)
		if err != nil {
			return err
		}
		switch d.Status {
		case DebtSettled:
			return NewValidationError("debtId", "debt %s is already settled", debtID)
		case DebtWrittenOff:
			return nil
		}
		d.Status = DebtWrittenOff
		d.WriteOffReason = reason
		d.UpdatedAt = l.policy.now()
		if d, err = l.store.UpdateDebt(ctx, d); err != nil {
			return err
		}
		if err := l.cancelUnpaid(ctx, d.ID); err != nil {
			return err
		}
		_, err = l.ApplyBalanceDelta(ctx, d.DebtorType, d.DebtorID, d.RemainingAmount.Neg())
		return err
	})
	if err != nil {
		return Debt{}, err
	}
	l.log.Info().Str("debt_id", debtID).Str("user_id", userID).Str("amount", d.RemainingAmount.StringFixed(2)).Msg("debt written off")
	return d, nil
}

// DeleteDebt removes the debt and its schedule and takes its open remainder
// off the debtor balance. A missing debt is not an error; nil is returned.
func (l *debtLedger) DeleteDebt(ctx context.Context, debtID string) (*Debt, error) {
	var deleted *Debt
	err := l.store.RunInTx(ctx, func(ctx context.Context) error {
		d, err := l.store.GetDebt(ctx, debtID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if d.Status.Open() && d.RemainingAmount.IsPositive() {
			if _, err := l.ApplyBalanceDelta(ctx, d.DebtorType, d.DebtorID, d.RemainingAmount.Neg()); err != nil {
				return err
			}
		}
		if err := l.store.DeleteInstallments(ctx, d.ID); err != nil {
			return err
		}
		if err := l.store.DeleteDebt(ctx, d.ID); err != nil {
			return err
		}
		deleted = &d
		return nil
	})
	if err != nil {
		return nil, err
	}
	if deleted != nil {
		l.log.Info().Str("debt_id", debtID).Str("remaining", deleted.RemainingAmount.StringFixed(2)).Msg("debt deleted")
	}
	return deleted, nil
}

func (l *debtLedger) ApplyBalanceDelta(ctx context.Context, t DebtorType, debtorID string, delta decimal.Decimal) (Debtor, error) {
	if !t.Valid() {
		return Debtor{}, NewValidationError("debtorType", "unknown debtor type %q", t)
	}
	return l.store.IncrementDebtor(ctx, t, debtorID, DebtorDelta{Balance: delta})
}

func (l *debtLedger) GetDebtor(ctx context.Context, t DebtorType, debtorID string) (Debtor, error) {
	return l.store.GetDebtor(ctx, t, debtorID)
}

// ── Installments ──────────────────────────────────────────────────────────────

// CreateInstallmentPlan splits the remaining amount into count equal parts
// rounded to 2 places; the last installment absorbs the rounding remainder.
// Existing unpaid installments are replaced.
func (l *debtLedger) CreateInstallmentPlan(ctx context.Context, req InstallmentPlanRequest) ([]Installment, error) {
	if req.Count <= 0 {
		return nil, NewValidationError("count", "installment count must be positive, got %d", req.Count)
	}
	switch req.Interval {
	case IntervalDaily, IntervalWeekly, IntervalMonthly:
	default:
		return nil, NewValidationError("interval", "unknown interval %q", req.Interval)
	}
	start := req.StartDate
	if start.IsZero() {
		start = l.policy.now()
	}

	var plan []Installment
	err := l.store.RunInTx(ctx, func(ctx context.Context) error {
		d, err := l.store.GetDebt(ctx, req.DebtID)
		if err != nil {
			return err
		}
		if !d.Status.Open() || !d.RemainingAmount.IsPositive() {
			return NewValidationError("debtId", "debt %s has nothing left to schedule", d.ID)
		}
		plan = SplitInstallments(d, req.Count, req.Interval, start)
		return l.store.ReplaceUnpaidInstallments(ctx, d.ID, plan)
	})
	if err != nil {
		return nil, err
	}
	l.log.Info().Str("debt_id", req.DebtID).Int("count", req.Count).Str("interval", string(req.Interval)).Msg("installment plan created")
	return plan, nil
}

// SplitInstallments builds count installments for the remaining amount of d.
func SplitInstallments(d Debt, count int, interval Interval, start time.Time) []Installment {
	total := d.RemainingAmount
	per := total.Div(decimal.NewFromInt(int64(count))).Round(2)
	last := total.Sub(per.Mul(decimal.NewFromInt(int64(count - 1))))

	out := make([]Installment, count)
	for i := 0; i < count; i++ {
		amount := per
		if i == count-1 {
			amount = last
		}
		due := start.UTC()
		switch interval {
		case IntervalDaily:
			due = due.AddDate(0, 0, i)
		case IntervalWeekly:
			due = due.AddDate(0, 0, 7*i)
		default:
			due = due.AddDate(0, i, 0)
		}
		out[i] = Installment{
			ID:         uuid.NewString(),
			DebtID:     d.ID,
			DebtorType: d.DebtorType,
			DebtorID:   d.DebtorID,
			Seq:        i + 1,
			Amount:     amount,
			DueDate:    due,
			Status:     InstallmentPending,
			Notes:      fmt.Sprintf("Installment %d/%d", i+1, count),
		}
	}
	return out
}

func (l *debtLedger) GetInstallments(ctx context.Context, f InstallmentFilter) ([]Installment, error) {
	return l.store.ListInstallments(ctx, f)
}

func (l *debtLedger) ApplyPaymentToSchedules(ctx context.Context, t DebtorType, debtorID string, amount decimal.Decimal) ([]Installment, error) {
	if !amount.IsPositive() {
		return nil, nil
	}
	var prior []Installment
	err := l.store.RunInTx(ctx, func(ctx context.Context) error {
		prior = prior[:0]
		open, err := l.store.ListInstallments(ctx, InstallmentFilter{
			DebtorType: t,
			DebtorID:   debtorID,
			Statuses:   []InstallmentStatus{InstallmentPending, InstallmentOverdue},
		})
		if err != nil {
			return err
		}
		left := amount
		now := l.policy.now()
		for _, in := range open {
			if !left.IsPositive() {
				break
			}
			prior = append(prior, in)
			if left.GreaterThanOrEqual(in.Amount) {
				left = left.Sub(in.Amount)
				in.Status = InstallmentPaid
				in.PaidAt = &now
			} else {
				in.Amount = in.Amount.Sub(left)
				left = decimal.Zero
			}
			if err := l.store.UpdateInstallment(ctx, in); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return prior, nil
}

func (l *debtLedger) RescaleInstallments(ctx context.Context, debtID string) ([]Installment, error) {
	var prior []Installment
	err := l.store.RunInTx(ctx, func(ctx context.Context) error {
		d, err := l.store.GetDebt(ctx, debtID)
		if err != nil {
			return err
		}
		prior, err = l.unpaid(ctx, debtID)
		if err != nil || len(prior) == 0 {
			return err
		}
		return l.store.ReplaceUnpaidInstallments(ctx, debtID, Rescale(prior, d.RemainingAmount))
	})
	if err != nil {
		return nil, err
	}
	return prior, nil
}

// Rescale resizes unpaid installments proportionally so they add up to
// total. The last installment absorbs the rounding remainder. A zero total
// cancels them all.
func Rescale(unpaid []Installment, total decimal.Decimal) []Installment {
	sum := decimal.Zero
	for _, in := range unpaid {
		sum = sum.Add(in.Amount)
	}
	out := make([]Installment, len(unpaid))
	copy(out, unpaid)
	if !total.IsPositive() || !sum.IsPositive() {
		for i := range out {
			out[i].Status = InstallmentCancelled
		}
		return out
	}
	left := total
	for i := range out {
		if i == len(out)-1 {
			out[i].Amount = left
			break
		}
		out[i].Amount = out[i].Amount.Mul(total).Div(sum).Round(2)
		left = left.Sub(out[i].Amount)
	}
	return out
}

func (l *debtLedger) unpaid(ctx context.Context, debtID string) ([]Installment, error) {
	return l.store.ListInstallments(ctx, InstallmentFilter{
		DebtID:   debtID,
		Statuses: []InstallmentStatus{InstallmentPending, InstallmentOverdue},
	})
}

func (l *debtLedger) cancelUnpaid(ctx context.Context, debtID string) error {
	open, err := l.unpaid(ctx, debtID)
	if err != nil {
		return err
	}
	for _, in := range open {
		in.Status = InstallmentCancelled
		if err := l.store.UpdateInstallment(ctx, in); err != nil {
			return err
		}
	}
	return nil
}

func (l *debtLedger) RestoreInstallments(ctx context.Context, prior []Installment) error {
	return l.store.RunInTx(ctx, func(ctx context.Context) error {
		for _, in := range prior {
			if err := l.store.UpdateInstallment(ctx, in); err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
		}
		return nil
	})
}

// ── Reporting ─────────────────────────────────────────────────────────────────

func (l *debtLedger) GetAgingData(ctx context.Context, t DebtorType) (AgingReport, error) {
	if !t.Valid() {
		return AgingReport{}, NewValidationError("debtorType", "unknown debtor type %q", t)
	}
	debts, err := l.store.ListDebts(ctx, DebtFilter{DebtorType: t})
	if err != nil {
		return AgingReport{}, err
	}
	return Aging(t, debts, l.policy.now()), nil
}

// Aging buckets the open debts by days overdue: current <= 0, tier1 1-30,
// tier2 31-60, tier3 above 60.
func Aging(t DebtorType, debts []Debt, now time.Time) AgingReport {
	r := AgingReport{DebtorType: t}
	for _, d := range debts {
		if d.Status != DebtWrittenOff {
			r.TotalCollected = r.TotalCollected.Add(d.Paid())
		}
		if !d.Status.Open() {
			continue
		}
		r.OpenDebts++
		amt := d.RemainingAmount
		r.TotalOutstanding = r.TotalOutstanding.Add(amt)
		days := d.DaysOverdue(now.UTC())
		switch {
		case days <= 0:
			r.Tiers.Current = r.Tiers.Current.Add(amt)
		case days <= 30:
			r.Tiers.Tier1 = r.Tiers.Tier1.Add(amt)
		case days <= 60:
			r.Tiers.Tier2 = r.Tiers.Tier2.Add(amt)
		default:
			r.Tiers.Tier3 = r.Tiers.Tier3.Add(amt)
		}
		if days > 0 {
			r.TotalOverdue = r.TotalOverdue.Add(amt)
		}
	}
	r.Risk = CalculateRisk(r.Tiers)
	return r
}

var (
	riskCriticalShare = decimal.RequireFromString("0.4")
	riskWarningShare  = decimal.RequireFromString("0.2")
)

// CalculateRisk is CRITICAL when tier3 exceeds 40% of the outstanding total,
// WARNING above 20% and HEALTHY otherwise.
func CalculateRisk(t AgingTiers) RiskLevel {
	total := t.Current.Add(t.Tier1).Add(t.Tier2).Add(t.Tier3)
	if !total.IsPositive() {
		return RiskHealthy
	}
	share := t.Tier3.Div(total)
	switch {
	case share.GreaterThan(riskCriticalShare):
		return RiskCritical
	case share.GreaterThan(riskWarningShare):
		return RiskWarning
	default:
		return RiskHealthy
	}
}

func (l *debtLedger) GetDebtOverview(ctx context.Context) (DebtOverview, error) {
	recv, err := l.GetAgingData(ctx, DebtorCustomer)
	if err != nil {
		return DebtOverview{}, err
	}
	pay, err := l.GetAgingData(ctx, DebtorSupplier)
	if err != nil {
		return DebtOverview{}, err
	}
	return DebtOverview{Receivables: recv, Payables: pay}, nil
}

// SyncDebts makes a debtor balance agree with its open debts. A balance not
// backed by any debt becomes one Manual opening-balance debt; open debts
// exceeding the balance raise it.
func (l *debtLedger) SyncDebts(ctx context.Context, t DebtorType, debtorID string) (SyncResult, error) {
	if !t.Valid() {
		return SyncResult{}, NewValidationError("debtorType", "unknown debtor type %q", t)
	}
	var res SyncResult
	err := l.store.RunInTx(ctx, func(ctx context.Context) error {
		res = SyncResult{}
		current, err := l.store.GetDebtor(ctx, t, debtorID)
		if err != nil {
			return err
		}
		debts, err := l.store.ListDebts(ctx, DebtFilter{
			DebtorType: t,
			DebtorID:   debtorID,
			Statuses:   []DebtStatus{DebtActive, DebtOverdue},
		})
		if err != nil {
			return err
		}
		backed := decimal.Zero
		for _, d := range debts {
			backed = backed.Add(d.RemainingAmount)
		}
		untracked := current.Balance.Sub(backed)
		res.Debtor = current
		switch {
		case untracked.IsZero():
			return nil
		case untracked.IsNegative():
			l.log.Warn().Str("debtor_type", string(t)).Str("debtor_id", debtorID).
				Str("balance", current.Balance.StringFixed(2)).Str("open_debts", backed.StringFixed(2)).Msg("debtor balance raised to open debts")
			res.Debtor, err = l.ApplyBalanceDelta(ctx, t, debtorID, untracked.Neg())
			return err
		}

		now := l.policy.now()
		opening := Debt{
			ID:              uuid.NewString(),
			DebtorType:      t,
			DebtorID:        debtorID,
			OriginalAmount:  untracked.Round(2),
			RemainingAmount: untracked.Round(2),
			DueDate:         now.AddDate(0, 0, l.policy.termsFor(t)),
			Status:          DebtActive,
			ReferenceType:   RefManual,
			ReferenceID:     "opening:" + debtorID + ":" + DayOf(now).Format("2006-01-02"),
			Description:     "Opening balance",
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		stored, created, err := l.store.InsertDebtIfAbsent(ctx, opening)
		if err != nil {
			return err
		}
		if !created {
			return NewValidationError("debtorId", "opening balance of %s %s was already synced today as debt %s", t, debtorID, stored.ID)
		}
		res.OpeningDebt = &stored
		l.log.Info().Str("debtor_type", string(t)).Str("debtor_id", debtorID).Str("debt_id", stored.ID).
			Str("amount", stored.OriginalAmount.StringFixed(2)).Msg("opening balance debt created")
		return nil
	})
	if err != nil {
		return SyncResult{}, err
	}
	return res, nil
}

// sortByDue orders debts oldest due date first.
func sortByDue(debts []Debt) {
	sort.SliceStable(debts, func(i, j int) bool {
		if debts[i].DueDate.Equal(debts[j].DueDate) {
			return debts[i].CreatedAt.Before(debts[j].CreatedAt)
		}
		return debts[i].DueDate.Before(debts[j].DueDate)
	})
}
