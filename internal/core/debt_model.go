package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// DebtorType is the kind of party owing or being owed.
type DebtorType string

const (
	DebtorCustomer DebtorType = "Customer"
	DebtorSupplier DebtorType = "Supplier"
)

func (t DebtorType) Valid() bool {
	return t == DebtorCustomer || t == DebtorSupplier
}

// DebtStatus is the lifecycle state of a debt.
type DebtStatus string

const (
	DebtActive     DebtStatus = "active"
	DebtOverdue    DebtStatus = "overdue"
	DebtSettled    DebtStatus = "settled"
	DebtWrittenOff DebtStatus = "written-off"
)

// Open reports whether the debt still counts towards the debtor balance.
func (s DebtStatus) Open() bool {
	return s == DebtActive || s == DebtOverdue
}

// Reference types shared by debts, treasury transactions and movements.
const (
	RefInvoice           = "Invoice"
	RefPurchaseOrder     = "PurchaseOrder"
	RefSalesReturn       = "SalesReturn"
	RefDebt              = "Debt"
	RefManual            = "Manual"
	RefUnifiedCollection = "UnifiedCollection"
)

// settleTolerance is the remaining amount at or below which a debt is settled.
var settleTolerance = decimal.RequireFromString("0.01")

// Debt is an outstanding obligation tied to a source document.
type Debt struct {
	ID              string          `json:"id"`
	DebtorType      DebtorType      `json:"debtorType"`
	DebtorID        string          `json:"debtorId"`
	OriginalAmount  decimal.Decimal `json:"originalAmount"`
	RemainingAmount decimal.Decimal `json:"remainingAmount"`
	DueDate         time.Time       `json:"dueDate"`
	Status          DebtStatus      `json:"status"`
	ReferenceType   string          `json:"referenceType"`
	ReferenceID     string          `json:"referenceId"`
	Description     string          `json:"description,omitempty"`
	WriteOffReason  string          `json:"writeOffReason,omitempty"`
	CreatedBy       string          `json:"createdBy,omitempty"`
	Version         int64           `json:"version"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Paid is the part of the original amount already collected or paid out.
func (d Debt) Paid() decimal.Decimal {
	return d.OriginalAmount.Sub(d.RemainingAmount)
}

// DaysOverdue is the number of whole days past the due date, or <= 0 when not yet due.
func (d Debt) DaysOverdue(now time.Time) int {
	return int(DayOf(now).Sub(DayOf(d.DueDate)).Hours() / 24)
}

// applyPayment reduces (or, for a negative amount, restores) the remaining
// amount and re-derives the status. It returns the change actually applied
// to the remaining amount.
func (d *Debt) applyPayment(amount decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	before := d.RemainingAmount
	next := before.Sub(amount)
	if next.GreaterThan(d.OriginalAmount) {
		return decimal.Zero, NewValidationError("amount", "reversal of %s exceeds paid amount %s on debt %s",
			amount.Neg().StringFixed(2), d.Paid().StringFixed(2), d.ID)
	}
	if next.LessThanOrEqual(settleTolerance) {
		next = decimal.Zero
	}
	d.RemainingAmount = next
	switch {
	case next.IsZero():
		d.Status = DebtSettled
	case d.DaysOverdue(now) > 0:
		d.Status = DebtOverdue
	default:
		d.Status = DebtActive
	}
	d.UpdatedAt = now
	return before.Sub(next), nil
}

// DebtKey identifies the source document of a debt. Creation is idempotent on it.
type DebtKey struct {
	DebtorType    DebtorType
	DebtorID      string
	ReferenceType string
	ReferenceID   string
}

// CreateDebtRequest is the input of DebtLedger.CreateDebt.
type CreateDebtRequest struct {
	DebtorType    DebtorType      `json:"debtorType"`
	DebtorID      string          `json:"debtorId"`
	Amount        decimal.Decimal `json:"amount"`
	DueDate       *time.Time      `json:"dueDate,omitempty"`
	ReferenceType string          `json:"referenceType"`
	ReferenceID   string          `json:"referenceId"`
	Description   string          `json:"description,omitempty"`
	UserID        string          `json:"userId,omitempty"`
}

// DebtFilter narrows ListDebts. Zero fields are ignored.
type DebtFilter struct {
	DebtorType    DebtorType
	DebtorID      string
	ReferenceType string
	ReferenceID   string
	Statuses      []DebtStatus
	DueBefore     time.Time
	Limit         int
	Offset        int
}

// Debtor carries the running balances of a customer or supplier.
// Balance equals the sum of remaining amounts of its open debts.
type Debtor struct {
	Type             DebtorType      `json:"type"`
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Balance          decimal.Decimal `json:"balance"`
	CreditBalance    decimal.Decimal `json:"creditBalance"`
	TotalPurchases   decimal.Decimal `json:"totalPurchases"`
	LastPurchaseDate *time.Time      `json:"lastPurchaseDate,omitempty"`
}

// DebtorDelta is applied to a debtor as atomic increments.
type DebtorDelta struct {
	Balance        decimal.Decimal
	CreditBalance  decimal.Decimal
	TotalPurchases decimal.Decimal
	LastPurchaseAt *time.Time
}

// InstallmentStatus is the state of one scheduled installment.
type InstallmentStatus string

const (
	InstallmentPending   InstallmentStatus = "PENDING"
	InstallmentPaid      InstallmentStatus = "PAID"
	InstallmentOverdue   InstallmentStatus = "OVERDUE"
	InstallmentCancelled InstallmentStatus = "CANCELLED"
)

// Installment is one entry of a debt's payment schedule.
type Installment struct {
	ID         string            `json:"id"`
	DebtID     string            `json:"debtId"`
	DebtorType DebtorType        `json:"debtorType"`
	DebtorID   string            `json:"debtorId"`
	Seq        int               `json:"seq"`
	Amount     decimal.Decimal   `json:"amount"`
	DueDate    time.Time         `json:"dueDate"`
	Status     InstallmentStatus `json:"status"`
	PaidAt     *time.Time        `json:"paidAt,omitempty"`
	Notes      string            `json:"notes,omitempty"`
}

// InstallmentFilter narrows ListInstallments. Zero fields are ignored.
type InstallmentFilter struct {
	DebtID     string
	DebtorType DebtorType
	DebtorID   string
	Statuses   []InstallmentStatus
}

// Interval is the spacing of installment due dates.
type Interval string

const (
	IntervalDaily   Interval = "daily"
	IntervalWeekly  Interval = "weekly"
	IntervalMonthly Interval = "monthly"
)

// InstallmentPlanRequest is the input of DebtLedger.CreateInstallmentPlan.
type InstallmentPlanRequest struct {
	DebtID    string    `json:"debtId"`
	Count     int       `json:"count"`
	Interval  Interval  `json:"interval"`
	StartDate time.Time `json:"startDate"`
	UserID    string    `json:"userId,omitempty"`
}

// AgingTiers buckets outstanding amounts by days overdue.
type AgingTiers struct {
	Current decimal.Decimal `json:"current"`
	Tier1   decimal.Decimal `json:"tier1"`
	Tier2   decimal.Decimal `json:"tier2"`
	Tier3   decimal.Decimal `json:"tier3"`
}

// AgingReport summarises the open debts of one debtor type.
type AgingReport struct {
	DebtorType       DebtorType      `json:"debtorType"`
	TotalOutstanding decimal.Decimal `json:"totalOutstanding"`
	TotalOverdue     decimal.Decimal `json:"totalOverdue"`
	TotalCollected   decimal.Decimal `json:"totalCollected"`
	OpenDebts        int             `json:"openDebts"`
	Tiers            AgingTiers      `json:"tiers"`
	Risk             RiskLevel       `json:"risk"`
}

// RiskLevel grades the share of tier-3 debt.
type RiskLevel string

const (
	RiskHealthy  RiskLevel = "HEALTHY"
	RiskWarning  RiskLevel = "WARNING"
	RiskCritical RiskLevel = "CRITICAL"
)

// SyncResult reports the debtor after SyncDebts and the opening-balance debt
// it created, if any.
type SyncResult struct {
	Debtor      Debtor `json:"debtor"`
	OpeningDebt *Debt  `json:"openingDebt,omitempty"`
}

// DebtOverview pairs customer and supplier aging.
type DebtOverview struct {
	Receivables AgingReport `json:"receivables"`
	Payables    AgingReport `json:"payables"`
}
