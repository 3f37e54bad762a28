package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType is the direction of a treasury transaction.
type TransactionType string

const (
	TransactionIncome  TransactionType = "INCOME"
	TransactionExpense TransactionType = "EXPENSE"
)

func (t TransactionType) Valid() bool {
	return t == TransactionIncome || t == TransactionExpense
}

// PaymentMethod is how money moved.
type PaymentMethod string

const (
	MethodCash       PaymentMethod = "cash"
	MethodBank       PaymentMethod = "bank"
	MethodWallet     PaymentMethod = "wallet"
	MethodCheck      PaymentMethod = "check"
	MethodAdjustment PaymentMethod = "adjustment"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodBank, MethodWallet, MethodCheck, MethodAdjustment:
		return true
	}
	return false
}

// CashboxBucket names the daily cashbox field a transaction contributes to.
type CashboxBucket string

const (
	BucketSalesIncome      CashboxBucket = "sales_income"
	BucketPurchaseExpenses CashboxBucket = "purchase_expenses"
	BucketBankIncome       CashboxBucket = "bank_income"
	BucketBankExpenses     CashboxBucket = "bank_expenses"
	BucketWalletIncome     CashboxBucket = "wallet_income"
	BucketWalletExpenses   CashboxBucket = "wallet_expenses"
	BucketCheckIncome      CashboxBucket = "check_income"
	BucketCheckExpenses    CashboxBucket = "check_expenses"
	BucketManualIncome     CashboxBucket = "manual_income"
	BucketManualExpense    CashboxBucket = "manual_expense"
)

// Manual reports whether the bucket is one of the itemised manual lists.
func (b CashboxBucket) Manual() bool {
	return b == BucketManualIncome || b == BucketManualExpense
}

// BucketFor maps a transaction to its cashbox bucket. The mapping is the same
// for every reference type: non-cash methods go to their own accumulators,
// manual or adjustment cash goes to the itemised manual lists and all other
// cash goes to the drawer totals.
func BucketFor(t TransactionType, m PaymentMethod, manual bool) CashboxBucket {
	income := t == TransactionIncome
	pick := func(in, out CashboxBucket) CashboxBucket {
		if income {
			return in
		}
		return out
	}
	switch m {
	case MethodBank:
		return pick(BucketBankIncome, BucketBankExpenses)
	case MethodWallet:
		return pick(BucketWalletIncome, BucketWalletExpenses)
	case MethodCheck:
		return pick(BucketCheckIncome, BucketCheckExpenses)
	}
	if manual || m == MethodAdjustment {
		return pick(BucketManualIncome, BucketManualExpense)
	}
	return pick(BucketSalesIncome, BucketPurchaseExpenses)
}

// ExpenseCategory classifies manual expenses.
type ExpenseCategory string

const (
	CategoryRent      ExpenseCategory = "rent"
	CategoryUtilities ExpenseCategory = "utilities"
	CategorySalaries  ExpenseCategory = "salaries"
	CategorySupplies  ExpenseCategory = "supplies"
	CategoryOther     ExpenseCategory = "other"
)

func (c ExpenseCategory) Valid() bool {
	switch c {
	case CategoryRent, CategoryUtilities, CategorySalaries, CategorySupplies, CategoryOther:
		return true
	}
	return false
}

// TreasuryTransaction is a recorded money movement. Only incomes carry a
// receipt number. CashboxContributionID points at the exact cashbox
// contribution the transaction produced so that undo can reverse it.
type TreasuryTransaction struct {
	ID                    string          `json:"id"`
	Type                  TransactionType `json:"type"`
	ReceiptNumber         string          `json:"receiptNumber,omitempty"`
	Amount                decimal.Decimal `json:"amount"`
	Method                PaymentMethod   `json:"method"`
	Description           string          `json:"description"`
	Category              string          `json:"category,omitempty"`
	ReferenceType         string          `json:"referenceType"`
	ReferenceID           string          `json:"referenceId,omitempty"`
	PartnerID             string          `json:"partnerId,omitempty"`
	Date                  time.Time       `json:"date"`
	CashboxContributionID string          `json:"cashboxContributionId"`
	CreatedBy             string          `json:"createdBy,omitempty"`
	CreatedAt             time.Time       `json:"createdAt"`
}

// CashboxContribution is the signed amount one transaction added to one
// cashbox bucket on one day.
type CashboxContribution struct {
	ID        string          `json:"id"`
	Date      time.Time       `json:"date"`
	Bucket    CashboxBucket   `json:"bucket"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason,omitempty"`
	Category  string          `json:"category,omitempty"`
	CreatedBy string          `json:"createdBy,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// CashboxDaily is the per-day cash drawer aggregate.
//
// TotalIncome = SalesIncome + ManualIncomeTotal, TotalExpenses =
// PurchaseExpenses + ManualExpenseTotal and NetChange is their difference.
// Bank, wallet and check accumulators are reported but are not part of the
// drawer. Until reconciliation ClosingBalance is the projection
// OpeningBalance + NetChange; after it the counted amount is kept and
// Difference = ClosingBalance - (OpeningBalance + NetChange).
type CashboxDaily struct {
	Date                time.Time             `json:"date"`
	OpeningBalance      decimal.Decimal       `json:"openingBalance"`
	ClosingBalance      decimal.Decimal       `json:"closingBalance"`
	SalesIncome         decimal.Decimal       `json:"salesIncome"`
	PurchaseExpenses    decimal.Decimal       `json:"purchaseExpenses"`
	BankIncome          decimal.Decimal       `json:"bankIncome"`
	BankExpenses        decimal.Decimal       `json:"bankExpenses"`
	WalletIncome        decimal.Decimal       `json:"walletIncome"`
	WalletExpenses      decimal.Decimal       `json:"walletExpenses"`
	CheckIncome         decimal.Decimal       `json:"checkIncome"`
	CheckExpenses       decimal.Decimal       `json:"checkExpenses"`
	ManualIncomeTotal   decimal.Decimal       `json:"manualIncomeTotal"`
	ManualExpenseTotal  decimal.Decimal       `json:"manualExpenseTotal"`
	ManualIncome        []CashboxContribution `json:"manualIncome,omitempty"`
	ManualExpenses      []CashboxContribution `json:"manualExpenses,omitempty"`
	TotalIncome         decimal.Decimal       `json:"totalIncome"`
	TotalExpenses       decimal.Decimal       `json:"totalExpenses"`
	NetChange           decimal.Decimal       `json:"netChange"`
	Difference          decimal.Decimal       `json:"difference"`
	IsReconciled        bool                  `json:"isReconciled"`
	ReconciledBy        string                `json:"reconciledBy,omitempty"`
	ReconciledAt        *time.Time            `json:"reconciledAt,omitempty"`
	ReconciliationNotes string                `json:"reconciliationNotes,omitempty"`
	UpdatedAt           time.Time             `json:"updatedAt"`
}

// Expected is the projected drawer amount at the end of the day.
func (c *CashboxDaily) Expected() decimal.Decimal {
	return c.OpeningBalance.Add(c.NetChange)
}

// Recalculate derives the totals, the projected closing balance and the
// reconciliation difference from the stored fields.
func (c *CashboxDaily) Recalculate() {
	c.TotalIncome = c.SalesIncome.Add(c.ManualIncomeTotal)
	c.TotalExpenses = c.PurchaseExpenses.Add(c.ManualExpenseTotal)
	c.NetChange = c.TotalIncome.Sub(c.TotalExpenses)
	if !c.IsReconciled {
		c.ClosingBalance = c.Expected()
	}
	c.Difference = c.ClosingBalance.Sub(c.Expected())
}

// Apply adds a signed amount to bucket and recalculates.
func (c *CashboxDaily) Apply(bucket CashboxBucket, amount decimal.Decimal) {
	switch bucket {
	case BucketSalesIncome:
		c.SalesIncome = c.SalesIncome.Add(amount)
	case BucketPurchaseExpenses:
		c.PurchaseExpenses = c.PurchaseExpenses.Add(amount)
	case BucketBankIncome:
		c.BankIncome = c.BankIncome.Add(amount)
	case BucketBankExpenses:
		c.BankExpenses = c.BankExpenses.Add(amount)
	case BucketWalletIncome:
		c.WalletIncome = c.WalletIncome.Add(amount)
	case BucketWalletExpenses:
		c.WalletExpenses = c.WalletExpenses.Add(amount)
	case BucketCheckIncome:
		c.CheckIncome = c.CheckIncome.Add(amount)
	case BucketCheckExpenses:
		c.CheckExpenses = c.CheckExpenses.Add(amount)
	case BucketManualIncome:
		c.ManualIncomeTotal = c.ManualIncomeTotal.Add(amount)
	case BucketManualExpense:
		c.ManualExpenseTotal = c.ManualExpenseTotal.Add(amount)
	}
	c.Recalculate()
}

// TransactionRequest is the input of TreasuryLedger.Record.
type TransactionRequest struct {
	Type          TransactionType `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	Method        PaymentMethod   `json:"method"`
	Description   string          `json:"description"`
	Category      string          `json:"category,omitempty"`
	ReferenceType string          `json:"referenceType"`
	ReferenceID   string          `json:"referenceId,omitempty"`
	PartnerID     string          `json:"partnerId,omitempty"`
	Date          time.Time       `json:"date,omitempty"`
	Manual        bool            `json:"manual,omitempty"`
	UserID        string          `json:"userId,omitempty"`
}

// TransactionFilter narrows ListTransactions. Zero fields are ignored.
type TransactionFilter struct {
	Type          TransactionType
	ReferenceType string
	ReferenceID   string
	PartnerID     string
	From          time.Time
	To            time.Time
	Limit         int
}

// DayOf truncates t to its calendar date. Cashbox rows are keyed by it.
func DayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
