package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sort"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/shopspring/decimal"

	"retail-ledger/internal/core"
)

// Operation is one request the ledger accepts from an adapter. Request is a
// zero value of the request type and only serves schema generation.
type Operation struct {
	Name    string
	Short   string
	Request any
	run     func(ctx context.Context, a *App, raw []byte) (any, error)
}

// Run decodes raw into the operation's request type and executes it.
func (o Operation) Run(ctx context.Context, a *App, raw []byte) (any, error) {
	return o.run(ctx, a, raw)
}

// Schema describes the request as JSON Schema. Decimals travel as strings.
func (o Operation) Schema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t == reflect.TypeOf(decimal.Decimal{}) {
				return &jsonschema.Schema{Type: "string", Pattern: `^-?[0-9]+(\.[0-9]+)?$`}
			}
			return nil
		},
	}
	return reflector.Reflect(o.Request)
}

func op[Req any](name, short string, run func(ctx context.Context, a *App, req Req) (any, error)) Operation {
	var zero Req
	return Operation{
		Name:    name,
		Short:   short,
		Request: zero,
		run: func(ctx context.Context, a *App, raw []byte) (any, error) {
			var req Req
			if len(bytes.TrimSpace(raw)) > 0 {
				dec := json.NewDecoder(bytes.NewReader(raw))
				dec.DisallowUnknownFields()
				if err := dec.Decode(&req); err != nil {
					return nil, core.NewValidationError("request", "invalid %s request: %v", name, err)
				}
			}
			return run(ctx, a, req)
		},
	}
}

// Operations returns the registry, built once per process and sorted by name.
var Operations = sync.OnceValue(func() []Operation {
	ops := []Operation{
		// ── Compound operations ──
		op("sale", "Record a sale invoice", func(ctx context.Context, a *App, req core.SaleRequest) (any, error) {
			return a.Coordinator.RecordSale(ctx, req)
		}),
		op("reverse-sale", "Reverse a sale completely", func(ctx context.Context, a *App, req InvoiceRef) (any, error) {
			return a.Coordinator.ReverseSale(ctx, req.InvoiceID, req.UserID)
		}),
		op("create-purchase-order", "Create a draft purchase order", func(ctx context.Context, a *App, req CreatePurchaseOrderRequest) (any, error) {
			return a.Coordinator.CreatePurchaseOrder(ctx, req.Order, req.UserID)
		}),
		op("receive-purchase", "Receive a purchase order into the warehouse", func(ctx context.Context, a *App, req core.PurchaseReceiveRequest) (any, error) {
			return a.Coordinator.RecordPurchaseReceive(ctx, req)
		}),
		op("reverse-purchase", "Reverse a received purchase order", func(ctx context.Context, a *App, req PurchaseOrderRef) (any, error) {
			return a.Coordinator.ReversePurchaseReceive(ctx, req.PurchaseOrderID, req.UserID)
		}),
		op("customer-payment", "Collect a payment against one invoice", func(ctx context.Context, a *App, req core.CustomerPaymentRequest) (any, error) {
			return a.Coordinator.RecordCustomerPayment(ctx, req)
		}),
		op("total-payment", "Collect a payment across a customer's open debts, oldest first", func(ctx context.Context, a *App, req core.TotalPaymentRequest) (any, error) {
			return a.Coordinator.RecordTotalCustomerPayment(ctx, req)
		}),
		op("supplier-payment", "Pay a supplier against a purchase order", func(ctx context.Context, a *App, req core.SupplierPaymentRequest) (any, error) {
			return a.Coordinator.RecordSupplierPayment(ctx, req)
		}),
		op("debt-payment", "Record a payment against a single debt", func(ctx context.Context, a *App, req core.DebtPaymentRequest) (any, error) {
			return a.Coordinator.RecordDebtPayment(ctx, req)
		}),
		op("sale-return", "Take goods back against an invoice", func(ctx context.Context, a *App, req core.SaleReturnRequest) (any, error) {
			return a.Coordinator.ProcessSaleReturn(ctx, req)
		}),
		op("expense", "Record a manual expense", func(ctx context.Context, a *App, req core.CashEntryRequest) (any, error) {
			return a.Coordinator.RecordExpense(ctx, req)
		}),
		op("income", "Record a manual income", func(ctx context.Context, a *App, req core.CashEntryRequest) (any, error) {
			return a.Coordinator.RecordIncome(ctx, req)
		}),
		op("undo-transaction", "Delete a treasury transaction and its cashbox effect", func(ctx context.Context, a *App, req TransactionRef) (any, error) {
			return a.Coordinator.UndoTransaction(ctx, req.TransactionID, req.UserID)
		}),
		op("write-off", "Write off the remainder of a debt", func(ctx context.Context, a *App, req WriteOffRequest) (any, error) {
			return a.Coordinator.WriteOffDebt(ctx, req.DebtID, req.Reason, req.UserID)
		}),

		// ── Debts ──
		op("create-debt", "Create a debt, idempotent on its source document", func(ctx context.Context, a *App, req core.CreateDebtRequest) (any, error) {
			d, created, err := a.Coordinator.Debts().CreateDebt(ctx, req)
			if err != nil {
				return nil, err
			}
			return CreateDebtResult{Debt: d, Created: created}, nil
		}),
		op("list-debts", "List debts", func(ctx context.Context, a *App, req DebtQuery) (any, error) {
			return a.Coordinator.Debts().ListDebts(ctx, core.DebtFilter{
				DebtorType:    req.DebtorType,
				DebtorID:      req.DebtorID,
				ReferenceType: req.ReferenceType,
				ReferenceID:   req.ReferenceID,
				Statuses:      req.Statuses,
				Limit:         req.Limit,
				Offset:        req.Offset,
			})
		}),
		op("installment-plan", "Replace the unpaid schedule of a debt", func(ctx context.Context, a *App, req core.InstallmentPlanRequest) (any, error) {
			return a.Coordinator.Debts().CreateInstallmentPlan(ctx, req)
		}),
		op("installments", "List installments", func(ctx context.Context, a *App, req InstallmentQuery) (any, error) {
			return a.Coordinator.Debts().GetInstallments(ctx, core.InstallmentFilter{
				DebtID:     req.DebtID,
				DebtorType: req.DebtorType,
				DebtorID:   req.DebtorID,
			})
		}),
		op("aging", "Aging report for customers or suppliers", func(ctx context.Context, a *App, req AgingRequest) (any, error) {
			return a.Coordinator.Debts().GetAgingData(ctx, req.DebtorType)
		}),
		op("debt-overview", "Receivables and payables aging", func(ctx context.Context, a *App, _ NoRequest) (any, error) {
			return a.Coordinator.Debts().GetDebtOverview(ctx)
		}),
		op("sync-debts", "Back an untracked debtor balance with an opening-balance debt", func(ctx context.Context, a *App, req DebtorRef) (any, error) {
			return a.Coordinator.Debts().SyncDebts(ctx, req.DebtorType, req.DebtorID)
		}),
		op("debtor", "Show a customer or supplier balance", func(ctx context.Context, a *App, req DebtorRef) (any, error) {
			return a.Coordinator.Debts().GetDebtor(ctx, req.DebtorType, req.DebtorID)
		}),

		// ── Treasury ──
		op("cashbox", "Show the cashbox of one day", func(ctx context.Context, a *App, req DayRequest) (any, error) {
			return a.Coordinator.Treasury().GetDailyCashbox(ctx, req.Date)
		}),
		op("cashbox-history", "List cashbox days in a range", func(ctx context.Context, a *App, req RangeRequest) (any, error) {
			return a.Coordinator.Treasury().CashboxHistory(ctx, req.From, req.To)
		}),
		op("reconcile-cashbox", "Freeze a day's counted closing balance", func(ctx context.Context, a *App, req ReconcileRequest) (any, error) {
			return a.Coordinator.Treasury().Reconcile(ctx, req.Date, req.ActualBalance, req.UserID, req.Notes)
		}),
		op("current-balance", "Drawer balance of the latest cashbox day", func(ctx context.Context, a *App, _ NoRequest) (any, error) {
			b, err := a.Coordinator.Treasury().GetCurrentBalance(ctx)
			if err != nil {
				return nil, err
			}
			return BalanceResult{Balance: b}, nil
		}),
		op("list-transactions", "List treasury transactions", func(ctx context.Context, a *App, req TransactionQuery) (any, error) {
			return a.Coordinator.Treasury().ListTransactions(ctx, core.TransactionFilter{
				Type:          req.Type,
				ReferenceType: req.ReferenceType,
				ReferenceID:   req.ReferenceID,
				PartnerID:     req.PartnerID,
				From:          req.From,
				To:            req.To,
				Limit:         req.Limit,
			})
		}),

		// ── Stock ──
		op("move-stock", "Record a manual stock movement", func(ctx context.Context, a *App, req core.MoveRequest) (any, error) {
			return a.Coordinator.Stock().MoveStock(ctx, req)
		}),
		op("transfer-to-shop", "Move stock from the warehouse to the shop", func(ctx context.Context, a *App, req TransferRequest) (any, error) {
			return a.Coordinator.Stock().TransferToShop(ctx, req.ProductID, req.Qty, req.UserID, req.Note)
		}),
		op("transfer-to-warehouse", "Move stock from the shop to the warehouse", func(ctx context.Context, a *App, req TransferRequest) (any, error) {
			return a.Coordinator.Stock().TransferToWarehouse(ctx, req.ProductID, req.Qty, req.UserID, req.Note)
		}),
		op("adjust-stock", "Overwrite both stock locations after a count", func(ctx context.Context, a *App, req AdjustStockRequest) (any, error) {
			return a.Coordinator.Stock().AdjustStock(ctx, req.ProductID, req.WarehouseQty, req.ShopQty, req.Reason, req.UserID)
		}),
		op("initial-balance", "Register opening stock and cost", func(ctx context.Context, a *App, req InitialBalanceRequest) (any, error) {
			return a.Coordinator.Stock().RegisterInitialBalance(ctx, req.ProductID, req.WarehouseQty, req.ShopQty, req.BuyPrice, req.UserID)
		}),
		op("check-availability", "Check sale lines against stock", func(ctx context.Context, a *App, req AvailabilityRequest) (any, error) {
			return a.Coordinator.Stock().ValidateAvailability(ctx, req.Lines)
		}),
		op("product-history", "List the movements of a product", func(ctx context.Context, a *App, req ProductHistoryRequest) (any, error) {
			return a.Coordinator.Stock().ProductHistory(ctx, req.ProductID, req.Limit)
		}),

		// ── Master data ──
		op("upsert-product", "Create a product or rename an existing one", func(ctx context.Context, a *App, req core.Product) (any, error) {
			if err := validateProduct(req); err != nil {
				return nil, err
			}
			if err := a.upsertProduct(ctx, req); err != nil {
				return nil, err
			}
			return a.Store.GetProduct(ctx, req.ID)
		}),
		op("upsert-debtor", "Create a customer or supplier, or rename an existing one", func(ctx context.Context, a *App, req core.Debtor) (any, error) {
			if err := validateDebtor(req); err != nil {
				return nil, err
			}
			if err := a.upsertDebtor(ctx, req); err != nil {
				return nil, err
			}
			return a.Coordinator.Debts().GetDebtor(ctx, req.Type, req.ID)
		}),
		op("seed-catalog", "Load products and partners in one unit of work", func(ctx context.Context, a *App, req SeedCatalogRequest) (any, error) {
			for _, p := range req.Products {
				if err := validateProduct(p); err != nil {
					return nil, err
				}
			}
			for _, d := range req.Debtors {
				if err := validateDebtor(d); err != nil {
					return nil, err
				}
			}
			err := a.Store.RunInTx(ctx, func(ctx context.Context) error {
				for _, p := range req.Products {
					if err := a.upsertProduct(ctx, p); err != nil {
						return err
					}
				}
				for _, d := range req.Debtors {
					if err := a.upsertDebtor(ctx, d); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
			a.log.Info().Int("products", len(req.Products)).Int("debtors", len(req.Debtors)).Msg("catalog seeded")
			return SeedCatalogResult{Products: len(req.Products), Debtors: len(req.Debtors)}, nil
		}),
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].Name < ops[j].Name })
	return ops
})

// upsertProduct creates p with empty stock and books its levels and cost as an
// initial balance, so the movement log explains every unit. Existing products
// are only renamed; their stock changes through adjust-stock.
func (a *App) upsertProduct(ctx context.Context, p core.Product) error {
	_, err := a.Store.GetProduct(ctx, p.ID)
	switch {
	case err == nil:
		return a.Store.UpsertProduct(ctx, core.Product{ID: p.ID, Code: p.Code, Name: p.Name})
	case !errors.Is(err, core.ErrNotFound):
		return err
	}
	if err := a.Store.UpsertProduct(ctx, core.Product{ID: p.ID, Code: p.Code, Name: p.Name}); err != nil {
		return err
	}
	if p.WarehouseQty.IsZero() && p.ShopQty.IsZero() && p.BuyPrice.IsZero() {
		return nil
	}
	_, err = a.Coordinator.Stock().RegisterInitialBalance(ctx, p.ID, p.WarehouseQty, p.ShopQty, p.BuyPrice, "")
	return err
}

// upsertDebtor creates d and backs a carried-over balance with an opening
// debt. Existing debtors are only renamed; balances move through the ledgers.
func (a *App) upsertDebtor(ctx context.Context, d core.Debtor) error {
	_, err := a.Store.GetDebtor(ctx, d.Type, d.ID)
	switch {
	case err == nil:
		return a.Store.UpsertDebtor(ctx, core.Debtor{Type: d.Type, ID: d.ID, Name: d.Name})
	case !errors.Is(err, core.ErrNotFound):
		return err
	}
	opening := d.Balance
	d.Balance = decimal.Zero
	if err := a.Store.UpsertDebtor(ctx, d); err != nil {
		return err
	}
	if !opening.IsPositive() {
		return nil
	}
	if _, err := a.Coordinator.Debts().ApplyBalanceDelta(ctx, d.Type, d.ID, opening); err != nil {
		return err
	}
	_, err = a.Coordinator.Debts().SyncDebts(ctx, d.Type, d.ID)
	return err
}

func validateProduct(p core.Product) error {
	if p.ID == "" || p.Name == "" {
		return core.NewValidationError("id", "product id and name are required")
	}
	if p.WarehouseQty.IsNegative() || p.ShopQty.IsNegative() || p.BuyPrice.IsNegative() {
		return core.NewValidationError("product", "product %s has negative stock or cost", p.ID)
	}
	return nil
}

func validateDebtor(d core.Debtor) error {
	if !d.Type.Valid() || d.ID == "" {
		return core.NewValidationError("type", "debtor type and id are required")
	}
	if d.Balance.IsNegative() || d.CreditBalance.IsNegative() {
		return core.NewValidationError("balance", "debtor %s has a negative balance", d.ID)
	}
	return nil
}

// Lookup finds an operation by name.
func Lookup(name string) (Operation, bool) {
	for _, o := range Operations() {
		if o.Name == name {
			return o, true
		}
	}
	return Operation{}, false
}
