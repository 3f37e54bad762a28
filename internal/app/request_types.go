package app

import (
	"time"

	"github.com/shopspring/decimal"

	"retail-ledger/internal/core"
)

// Requests for operations whose core signature takes plain arguments.

type InvoiceRef struct {
	InvoiceID string `json:"invoiceId" jsonschema:"required"`
	UserID    string `json:"userId,omitempty"`
}

type PurchaseOrderRef struct {
	PurchaseOrderID string `json:"purchaseOrderId" jsonschema:"required"`
	UserID          string `json:"userId,omitempty"`
}

type CreatePurchaseOrderRequest struct {
	Order  core.PurchaseOrder `json:"order" jsonschema:"required"`
	UserID string             `json:"userId,omitempty"`
}

type WriteOffRequest struct {
	DebtID string `json:"debtId" jsonschema:"required"`
	Reason string `json:"reason" jsonschema:"required"`
	UserID string `json:"userId,omitempty"`
}

type TransactionRef struct {
	TransactionID string `json:"transactionId" jsonschema:"required"`
	UserID        string `json:"userId,omitempty"`
}

type ReconcileRequest struct {
	Date          time.Time       `json:"date" jsonschema:"required"`
	ActualBalance decimal.Decimal `json:"actualBalance" jsonschema:"required"`
	Notes         string          `json:"notes,omitempty"`
	UserID        string          `json:"userId,omitempty"`
}

type DayRequest struct {
	Date time.Time `json:"date" jsonschema:"required"`
}

type RangeRequest struct {
	From time.Time `json:"from,omitempty"`
	To   time.Time `json:"to,omitempty"`
}

type DebtQuery struct {
	DebtorType    core.DebtorType   `json:"debtorType,omitempty"`
	DebtorID      string            `json:"debtorId,omitempty"`
	ReferenceType string            `json:"referenceType,omitempty"`
	ReferenceID   string            `json:"referenceId,omitempty"`
	Statuses      []core.DebtStatus `json:"statuses,omitempty"`
	Limit         int               `json:"limit,omitempty"`
	Offset        int               `json:"offset,omitempty"`
}

type InstallmentQuery struct {
	DebtID     string          `json:"debtId,omitempty"`
	DebtorType core.DebtorType `json:"debtorType,omitempty"`
	DebtorID   string          `json:"debtorId,omitempty"`
}

type AgingRequest struct {
	DebtorType core.DebtorType `json:"debtorType" jsonschema:"required,enum=Customer,enum=Supplier"`
}

type DebtorRef struct {
	DebtorType core.DebtorType `json:"debtorType" jsonschema:"required,enum=Customer,enum=Supplier"`
	DebtorID   string          `json:"debtorId" jsonschema:"required"`
}

type TransferRequest struct {
	ProductID string          `json:"productId" jsonschema:"required"`
	Qty       decimal.Decimal `json:"qty" jsonschema:"required"`
	Note      string          `json:"note,omitempty"`
	UserID    string          `json:"userId,omitempty"`
}

type AdjustStockRequest struct {
	ProductID    string          `json:"productId" jsonschema:"required"`
	WarehouseQty decimal.Decimal `json:"warehouseQty"`
	ShopQty      decimal.Decimal `json:"shopQty"`
	Reason       string          `json:"reason" jsonschema:"required"`
	UserID       string          `json:"userId,omitempty"`
}

type InitialBalanceRequest struct {
	ProductID    string          `json:"productId" jsonschema:"required"`
	WarehouseQty decimal.Decimal `json:"warehouseQty"`
	ShopQty      decimal.Decimal `json:"shopQty"`
	BuyPrice     decimal.Decimal `json:"buyPrice"`
	UserID       string          `json:"userId,omitempty"`
}

type AvailabilityRequest struct {
	Lines []core.SaleLine `json:"lines" jsonschema:"required"`
}

type ProductHistoryRequest struct {
	ProductID string `json:"productId" jsonschema:"required"`
	Limit     int    `json:"limit,omitempty"`
}

type TransactionQuery struct {
	Type          core.TransactionType `json:"type,omitempty"`
	ReferenceType string               `json:"referenceType,omitempty"`
	ReferenceID   string               `json:"referenceId,omitempty"`
	PartnerID     string               `json:"partnerId,omitempty"`
	From          time.Time            `json:"from,omitempty"`
	To            time.Time            `json:"to,omitempty"`
	Limit         int                  `json:"limit,omitempty"`
}

type SeedCatalogRequest struct {
	Products []core.Product `json:"products,omitempty"`
	Debtors  []core.Debtor  `json:"debtors,omitempty"`
}

type NoRequest struct{}

// Results for operations whose core signature returns several values.

type CreateDebtResult struct {
	Debt    core.Debt `json:"debt"`
	Created bool      `json:"created"`
}

type BalanceResult struct {
	Balance decimal.Decimal `json:"balance"`
}

type OKResult struct {
	OK bool `json:"ok"`
}

type SeedCatalogResult struct {
	Products int `json:"products"`
	Debtors  int `json:"debtors"`
}
