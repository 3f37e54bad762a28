package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TxRunner groups store calls into one unit of work.
//
// When SupportsAtomicTransactions is true, every store call made with the
// context passed to fn joins one transaction that commits when fn returns nil.
// Otherwise RunInTx just calls fn and each store call stands alone.
type TxRunner interface {
	SupportsAtomicTransactions() bool
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Sequencer issues monotonically increasing numbers per named counter.
type Sequencer interface {
	NextSequence(ctx context.Context, name string) (int64, error)
}

// CatalogStore maintains the product and partner master data the ledgers refer to.
// Levels, costs and balances are taken only when the record is created; an
// existing record only has its code and name replaced.
type CatalogStore interface {
	UpsertProduct(ctx context.Context, p Product) error
	UpsertDebtor(ctx context.Context, d Debtor) error
}

// ProductStore persists products and the movement log.
type ProductStore interface {
	GetProduct(ctx context.Context, id string) (Product, error)
	// ApplyStockDeltas applies all deltas or none of them. Decrements are
	// conditional on the current quantity at the storage layer.
	ApplyStockDeltas(ctx context.Context, deltas []StockDelta) ([]Product, error)
	// SetStockLevels overwrites both locations, and the buy price when given.
	SetStockLevels(ctx context.Context, productID string, warehouseQty, shopQty decimal.Decimal, buyPrice *decimal.Decimal) (before Product, after Product, err error)
	InsertMovements(ctx context.Context, movements []StockMovement) error
	ListMovements(ctx context.Context, f MovementFilter) ([]StockMovement, error)
}

// DebtStore persists debtors, debts and installment schedules.
type DebtStore interface {
	GetDebtor(ctx context.Context, t DebtorType, id string) (Debtor, error)
	// IncrementDebtor adds delta to the debtor as atomic increments.
	IncrementDebtor(ctx context.Context, t DebtorType, id string, delta DebtorDelta) (Debtor, error)

	// InsertDebtIfAbsent stores d unless a debt with the same DebtKey exists,
	// in which case the existing debt is returned with created=false.
	InsertDebtIfAbsent(ctx context.Context, d Debt) (debt Debt, created bool, err error)
	GetDebt(ctx context.Context, id string) (Debt, error)
	// UpdateDebt writes d if its Version still matches the stored one and
	// returns it with the incremented version. A lost race is a
	// ConcurrencyConflictError.
	UpdateDebt(ctx context.Context, d Debt) (Debt, error)
	DeleteDebt(ctx context.Context, id string) error
	// ListDebts orders by due date, then creation time.
	ListDebts(ctx context.Context, f DebtFilter) ([]Debt, error)

	// ReplaceUnpaidInstallments deletes the PENDING and OVERDUE installments of
	// the debt and inserts the given ones.
	ReplaceUnpaidInstallments(ctx context.Context, debtID string, installments []Installment) error
	// ListInstallments orders by due date, then sequence.
	ListInstallments(ctx context.Context, f InstallmentFilter) ([]Installment, error)
	UpdateInstallment(ctx context.Context, in Installment) error
	DeleteInstallments(ctx context.Context, debtID string) error
}

// TreasuryStore persists transactions, cashbox contributions and cashbox days.
type TreasuryStore interface {
	InsertTransaction(ctx context.Context, tx TreasuryTransaction) error
	GetTransaction(ctx context.Context, id string) (TreasuryTransaction, error)
	DeleteTransaction(ctx context.Context, id string) error
	// ListTransactions orders by date, newest first.
	ListTransactions(ctx context.Context, f TransactionFilter) ([]TreasuryTransaction, error)

	InsertContribution(ctx context.Context, c CashboxContribution) error
	GetContribution(ctx context.Context, id string) (CashboxContribution, error)
	DeleteContribution(ctx context.Context, id string) error

	// UpdateCashbox loads the row for day under lock, or a zero row when none
	// exists yet, passes it to fn and persists the result. prior is the most
	// recent earlier row and is only provided when the row is new.
	UpdateCashbox(ctx context.Context, day time.Time, fn func(c *CashboxDaily, prior *CashboxDaily) error) (CashboxDaily, error)
	// GetCashbox includes the itemised manual entries.
	GetCashbox(ctx context.Context, day time.Time) (CashboxDaily, error)
	LatestCashbox(ctx context.Context) (CashboxDaily, error)
	ListCashboxes(ctx context.Context, from, to time.Time) ([]CashboxDaily, error)
}

// DocumentStore persists invoices, purchase orders, returns and sales statistics.
type DocumentStore interface {
	InsertInvoice(ctx context.Context, inv Invoice) error
	GetInvoice(ctx context.Context, id string) (Invoice, error)
	UpdateInvoice(ctx context.Context, inv Invoice) error
	DeleteInvoice(ctx context.Context, id string) error

	InsertPurchaseOrder(ctx context.Context, po PurchaseOrder) error
	GetPurchaseOrder(ctx context.Context, id string) (PurchaseOrder, error)
	UpdatePurchaseOrder(ctx context.Context, po PurchaseOrder) error

	InsertSalesReturn(ctx context.Context, r SalesReturn) error
	DeleteSalesReturn(ctx context.Context, id string) error
	ListSalesReturns(ctx context.Context, invoiceID string) ([]SalesReturn, error)

	IncrementDailySales(ctx context.Context, day time.Time, delta DailySalesDelta) (DailySales, error)
	GetDailySales(ctx context.Context, day time.Time) (DailySales, error)
}

// ActionLogger records audit entries. Failures never abort the audited operation.
type ActionLogger interface {
	LogAction(ctx context.Context, e AuditEntry) error
}

// Store is the full persistence contract used by the ledgers and the coordinator.
type Store interface {
	TxRunner
	Sequencer
	CatalogStore
	ProductStore
	DebtStore
	TreasuryStore
	DocumentStore
	ActionLogger
}

// ReceiptCounter issues receipt sequence numbers.
type ReceiptCounter interface {
	Next(ctx context.Context) (int64, error)
}

// Policy holds configurable business defaults.
type Policy struct {
	CustomerTermsDays int
	SupplierTermsDays int
	ReceiptPrefix     string
	// Now is the clock used for due dates, cashbox days and aging.
	Now func() time.Time
}

// DefaultPolicy returns 15/30 day terms, REC- receipts and the wall clock.
func DefaultPolicy() Policy {
	return Policy{
		CustomerTermsDays: 15,
		SupplierTermsDays: 30,
		ReceiptPrefix:     "REC-",
		Now:               time.Now,
	}
}

func (p Policy) now() time.Time {
	if p.Now == nil {
		return time.Now().UTC()
	}
	return p.Now().UTC()
}

func (p Policy) termsFor(t DebtorType) int {
	if t == DebtorSupplier {
		return p.SupplierTermsDays
	}
	return p.CustomerTermsDays
}
