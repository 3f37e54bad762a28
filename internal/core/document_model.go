package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// SalePaymentType is how an invoice is settled at the counter.
type SalePaymentType string

const (
	SaleCash    SalePaymentType = "cash"
	SaleBank    SalePaymentType = "bank"
	SaleCredit  SalePaymentType = "credit"
	SalePartial SalePaymentType = "partial"
)

func (t SalePaymentType) Valid() bool {
	switch t {
	case SaleCash, SaleBank, SaleCredit, SalePartial:
		return true
	}
	return false
}

// PaymentStatus of an invoice or purchase order.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPartial PaymentStatus = "partial"
	PaymentPaid    PaymentStatus = "paid"
)

func paymentStatusFor(paid, total decimal.Decimal) PaymentStatus {
	switch {
	case !paid.IsPositive():
		return PaymentPending
	case paid.GreaterThanOrEqual(total):
		return PaymentPaid
	default:
		return PaymentPartial
	}
}

// ReversalProgress records the reversal steps already applied to a document
// so that an interrupted reversal can be resumed.
type ReversalProgress struct {
	StartedAt time.Time `json:"startedAt"`
	Done      []string  `json:"done"`
}

func (r *ReversalProgress) has(step string) bool {
	if r == nil {
		return false
	}
	for _, s := range r.Done {
		if s == step {
			return true
		}
	}
	return false
}

// InvoiceItem is one sold line.
type InvoiceItem struct {
	ID          string          `json:"id"`
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	Qty         decimal.Decimal `json:"qty"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Source      Location        `json:"source"`
	IsService   bool            `json:"isService,omitempty"`
	Total       decimal.Decimal `json:"total"`
	CostPrice   decimal.Decimal `json:"costPrice"`
	Profit      decimal.Decimal `json:"profit"`
}

// InvoicePayment is one payment received against an invoice.
type InvoicePayment struct {
	Amount decimal.Decimal `json:"amount"`
	Method PaymentMethod   `json:"method"`
	Date   time.Time       `json:"date"`
	Note   string          `json:"note,omitempty"`
	UserID string          `json:"userId,omitempty"`
}

// Invoice is the sale document. CustomerID is empty for walk-in sales.
type Invoice struct {
	ID                string            `json:"id"`
	Number            string            `json:"number"`
	Date              time.Time         `json:"date"`
	CustomerID        string            `json:"customerId,omitempty"`
	CustomerName      string            `json:"customerName,omitempty"`
	Items             []InvoiceItem     `json:"items"`
	Subtotal          decimal.Decimal   `json:"subtotal"`
	Discount          decimal.Decimal   `json:"discount"`
	Tax               decimal.Decimal   `json:"tax"`
	Total             decimal.Decimal   `json:"total"`
	TotalCost         decimal.Decimal   `json:"totalCost"`
	Profit            decimal.Decimal   `json:"profit"`
	PaymentType       SalePaymentType   `json:"paymentType"`
	PaymentMethod     PaymentMethod     `json:"paymentMethod"`
	PaidAmount        decimal.Decimal   `json:"paidAmount"`
	UsedCreditBalance decimal.Decimal   `json:"usedCreditBalance"`
	PaymentStatus     PaymentStatus     `json:"paymentStatus"`
	DueDate           *time.Time        `json:"dueDate,omitempty"`
	Payments          []InvoicePayment  `json:"payments,omitempty"`
	HasReturns        bool              `json:"hasReturns,omitempty"`
	Notes             string            `json:"notes,omitempty"`
	CreatedBy         string            `json:"createdBy,omitempty"`
	Reversal          *ReversalProgress `json:"reversal,omitempty"`
	SaleStats         *DailySalesDelta  `json:"saleStats,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

// Remaining is the unpaid part of the invoice total.
func (inv Invoice) Remaining() decimal.Decimal {
	r := inv.Total.Sub(inv.PaidAmount)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// recompute derives line totals, document totals and the payment status.
func (inv *Invoice) recompute() {
	subtotal := decimal.Zero
	cost := decimal.Zero
	for i := range inv.Items {
		it := &inv.Items[i]
		it.Total = it.Qty.Mul(it.UnitPrice).Round(2)
		it.Profit = it.Total.Sub(it.Qty.Mul(it.CostPrice)).Round(2)
		subtotal = subtotal.Add(it.Total)
		cost = cost.Add(it.Qty.Mul(it.CostPrice))
	}
	inv.Subtotal = subtotal
	inv.Total = subtotal.Sub(inv.Discount).Add(inv.Tax)
	inv.TotalCost = cost.Round(2)
	inv.Profit = inv.Total.Sub(inv.TotalCost)
	inv.PaymentStatus = paymentStatusFor(inv.PaidAmount, inv.Total)
}

// RecordPayment appends a payment and advances the payment status. The paid
// amount never exceeds the total; the part that fits is returned.
func (inv *Invoice) RecordPayment(p InvoicePayment) decimal.Decimal {
	if room := inv.Total.Sub(inv.PaidAmount); p.Amount.GreaterThan(room) {
		p.Amount = decimal.Max(room, decimal.Zero)
	}
	inv.Payments = append(inv.Payments, p)
	inv.PaidAmount = inv.PaidAmount.Add(p.Amount)
	inv.PaymentStatus = paymentStatusFor(inv.PaidAmount, inv.Total)
	inv.UpdatedAt = p.Date
	return p.Amount
}

// PurchaseStatus is the receiving state of a purchase order.
type PurchaseStatus string

const (
	PurchaseDraft    PurchaseStatus = "DRAFT"
	PurchaseReceived PurchaseStatus = "RECEIVED"
	PurchaseReversed PurchaseStatus = "REVERSED"
)

// PurchasePaymentType is how a receipt is settled with the supplier.
type PurchasePaymentType string

const (
	PurchaseCash   PurchasePaymentType = "cash"
	PurchaseBank   PurchasePaymentType = "bank"
	PurchaseCredit PurchasePaymentType = "credit"
)

// PurchaseItem is one ordered line.
type PurchaseItem struct {
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName,omitempty"`
	Qty         decimal.Decimal `json:"qty"`
	CostPrice   decimal.Decimal `json:"costPrice"`
}

// PurchaseOrder is the supplier document.
type PurchaseOrder struct {
	ID            string              `json:"id"`
	Number        string              `json:"number"`
	SupplierID    string              `json:"supplierId"`
	Items         []PurchaseItem      `json:"items"`
	TotalCost     decimal.Decimal     `json:"totalCost"`
	PaidAmount    decimal.Decimal     `json:"paidAmount"`
	PaymentStatus PaymentStatus       `json:"paymentStatus"`
	PaymentType   PurchasePaymentType `json:"paymentType,omitempty"`
	Status        PurchaseStatus      `json:"status"`
	DueDate       *time.Time          `json:"dueDate,omitempty"`
	ReceivedAt    *time.Time          `json:"receivedAt,omitempty"`
	Reversal      *ReversalProgress   `json:"reversal,omitempty"`
	Notes         string              `json:"notes,omitempty"`
	CreatedBy     string              `json:"createdBy,omitempty"`
	CreatedAt     time.Time           `json:"createdAt"`
	UpdatedAt     time.Time           `json:"updatedAt"`
}

// Remaining is the unpaid part of the purchase order.
func (po PurchaseOrder) Remaining() decimal.Decimal {
	r := po.TotalCost.Sub(po.PaidAmount)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

func (po *PurchaseOrder) recompute() {
	total := decimal.Zero
	for _, it := range po.Items {
		total = total.Add(it.Qty.Mul(it.CostPrice))
	}
	po.TotalCost = total.Round(2)
	po.PaymentStatus = paymentStatusFor(po.PaidAmount, po.TotalCost)
}

// RefundMethod is how a sales return is paid back.
type RefundMethod string

const (
	RefundCash            RefundMethod = "cash"
	RefundCustomerBalance RefundMethod = "customerBalance"
)

// ReturnItem is one returned line.
type ReturnItem struct {
	InvoiceItemID string          `json:"invoiceItemId"`
	ProductID     string          `json:"productId"`
	ProductName   string          `json:"productName,omitempty"`
	Qty           decimal.Decimal `json:"qty"`
	UnitPrice     decimal.Decimal `json:"unitPrice"`
	RefundAmount  decimal.Decimal `json:"refundAmount"`
	IsService     bool            `json:"isService,omitempty"`
	Reason        string          `json:"reason,omitempty"`
}

// SalesReturn documents goods taken back against an invoice.
type SalesReturn struct {
	ID                   string          `json:"id"`
	Number               string          `json:"number"`
	Date                 time.Time       `json:"date"`
	InvoiceID            string          `json:"invoiceId"`
	CustomerID           string          `json:"customerId,omitempty"`
	Items                []ReturnItem    `json:"items"`
	TotalRefund          decimal.Decimal `json:"totalRefund"`
	RefundMethod         RefundMethod    `json:"refundMethod"`
	DebtReduced          decimal.Decimal `json:"debtReduced"`
	CustomerBalanceAdded decimal.Decimal `json:"customerBalanceAdded"`
	TreasuryDeducted     decimal.Decimal `json:"treasuryDeducted"`
	CreatedBy            string          `json:"createdBy,omitempty"`
	CreatedAt            time.Time       `json:"createdAt"`
}

// DailySales are the per-day sales statistics.
type DailySales struct {
	Date         time.Time       `json:"date"`
	Revenue      decimal.Decimal `json:"revenue"`
	Cost         decimal.Decimal `json:"cost"`
	Profit       decimal.Decimal `json:"profit"`
	InvoiceCount int             `json:"invoiceCount"`
	ItemsSold    decimal.Decimal `json:"itemsSold"`
	CashSales    decimal.Decimal `json:"cashSales"`
	CreditSales  decimal.Decimal `json:"creditSales"`
}

// DailySalesDelta is added to a DailySales row. Negative values reverse a sale.
// Invoices keep the delta their sale added so a reversal takes back exactly
// that, whatever was paid in between.
type DailySalesDelta struct {
	Revenue      decimal.Decimal `json:"revenue"`
	Cost         decimal.Decimal `json:"cost"`
	InvoiceCount int             `json:"invoiceCount"`
	ItemsSold    decimal.Decimal `json:"itemsSold"`
	CashSales    decimal.Decimal `json:"cashSales"`
	CreditSales  decimal.Decimal `json:"creditSales"`
}

func (d DailySalesDelta) neg() DailySalesDelta {
	return DailySalesDelta{
		Revenue:      d.Revenue.Neg(),
		Cost:         d.Cost.Neg(),
		InvoiceCount: -d.InvoiceCount,
		ItemsSold:    d.ItemsSold.Neg(),
		CashSales:    d.CashSales.Neg(),
		CreditSales:  d.CreditSales.Neg(),
	}
}

// AuditEntry is one line of the action log.
type AuditEntry struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId,omitempty"`
	Action    string         `json:"action"`
	Entity    string         `json:"entity"`
	EntityID  string         `json:"entityId"`
	Diff      map[string]any `json:"diff,omitempty"`
	Note      string         `json:"note,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}
