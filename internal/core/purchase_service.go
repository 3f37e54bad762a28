package core

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PurchaseReceiveRequest struct {
	PurchaseOrderID string              `json:"purchaseOrderId"`
	PaymentType     PurchasePaymentType `json:"paymentType"`
	Method          PaymentMethod       `json:"method,omitempty"`
	DueDate         *time.Time          `json:"dueDate,omitempty"`
	UserID          string              `json:"userId,omitempty"`
}

type PurchaseReceiveResult struct {
	PurchaseOrder PurchaseOrder        `json:"purchaseOrder"`
	Movements     []StockMovement      `json:"movements"`
	Transaction   *TreasuryTransaction `json:"transaction,omitempty"`
	Debt          *Debt                `json:"debt,omitempty"`
	Outcome
}

type PurchaseReversalResult struct {
	PurchaseOrderID string                `json:"purchaseOrderId"`
	DeletedDebt     *Debt                 `json:"deletedDebt,omitempty"`
	Transactions    []TreasuryTransaction `json:"transactions"`
	Movements       []StockMovement       `json:"movements"`
	Outcome
}

// CreatePurchaseOrder stores a draft purchase order for a known supplier.
func (c *Coordinator) CreatePurchaseOrder(ctx context.Context, po PurchaseOrder, userID string) (PurchaseOrder, error) {
	if po.SupplierID == "" {
		return PurchaseOrder{}, NewValidationError("supplierId", "supplier is required")
	}
	if len(po.Items) == 0 {
		return PurchaseOrder{}, NewValidationError("items", "purchase order has no items")
	}
	po.Items = append([]PurchaseItem(nil), po.Items...)
	for i := range po.Items {
		it := &po.Items[i]
		if err := validateReceiptLine(i, ReceiptLine{ProductID: it.ProductID, Qty: it.Qty, UnitCost: it.CostPrice}); err != nil {
			return PurchaseOrder{}, err
		}
		p, err := c.stock.GetProduct(ctx, it.ProductID)
		if err != nil {
			return PurchaseOrder{}, err
		}
		if it.ProductName == "" {
			it.ProductName = p.Name
		}
	}
	if _, err := c.debts.GetDebtor(ctx, DebtorSupplier, po.SupplierID); err != nil {
		return PurchaseOrder{}, err
	}
	now := c.policy.now()
	if po.ID == "" {
		po.ID = uuid.NewString()
	}
	if po.Number == "" {
		n, err := c.nextNumber(ctx, "purchase_order", "PO")
		if err != nil {
			return PurchaseOrder{}, err
		}
		po.Number = n
	}
	po.Status = PurchaseDraft
	po.PaidAmount = decimal.Zero
	po.Reversal = nil
	po.ReceivedAt = nil
	po.CreatedBy = userID
	po.CreatedAt = now
	po.UpdatedAt = now
	po.recompute()
	if err := c.store.InsertPurchaseOrder(ctx, po); err != nil {
		return PurchaseOrder{}, err
	}
	c.audit(ctx, AuditEntry{UserID: userID, Action: "PURCHASE_ORDER_CREATED", Entity: RefPurchaseOrder, EntityID: po.ID,
		Diff: map[string]any{"number": po.Number, "totalCost": po.TotalCost.StringFixed(2)}})
	return po, nil
}

// RecordPurchaseReceive brings the ordered goods into the warehouse at
// weighted average cost and either pays the supplier or opens a supplier debt.
func (c *Coordinator) RecordPurchaseReceive(ctx context.Context, req PurchaseReceiveRequest) (*PurchaseReceiveResult, error) {
	var res *PurchaseReceiveResult
	err := c.withRetry(ctx, "purchase receive", func() error {
		var err error
		res, err = c.recordPurchaseReceive(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.audit(ctx, AuditEntry{UserID: req.UserID, Action: "PURCHASE_RECEIVED", Entity: RefPurchaseOrder, EntityID: res.PurchaseOrder.ID,
		Diff: map[string]any{"paymentType": string(res.PurchaseOrder.PaymentType), "totalCost": res.PurchaseOrder.TotalCost.StringFixed(2)}})
	return res, nil
}

func (c *Coordinator) recordPurchaseReceive(ctx context.Context, req PurchaseReceiveRequest) (*PurchaseReceiveResult, error) {
	po, err := c.store.GetPurchaseOrder(ctx, req.PurchaseOrderID)
	if err != nil {
		return nil, err
	}
	if po.Status != PurchaseDraft {
		return nil, NewValidationError("purchaseOrderId", "purchase order %s is %s", po.Number, po.Status)
	}
	payType := req.PaymentType
	if payType == "" {
		payType = PurchaseCash
	}
	method := req.Method
	switch payType {
	case PurchaseCash:
		if method == "" {
			method = MethodCash
		}
	case PurchaseBank:
		method = MethodBank
	case PurchaseCredit:
	default:
		return nil, NewValidationError("paymentType", "unknown payment type %q", payType)
	}
	if method != "" && !method.Valid() {
		return nil, NewValidationError("method", "unknown payment method %q", method)
	}

	prev := po
	prev.Items = append([]PurchaseItem(nil), po.Items...)
	now := c.policy.now()
	received := po
	received.Status = PurchaseReceived
	received.PaymentType = payType
	received.ReceivedAt = &now
	received.UpdatedAt = now
	if payType != PurchaseCredit {
		received.PaidAmount = po.TotalCost
	}
	if payType == PurchaseCredit && received.DueDate == nil {
		due := req.DueDate
		if due == nil {
			d := now.AddDate(0, 0, c.policy.SupplierTermsDays)
			due = &d
		}
		received.DueDate = due
	}
	received.recompute()

	res := &PurchaseReceiveResult{PurchaseOrder: received}
	lines := receiptLines(po.Items)
	ref := MovementRef{Type: RefPurchaseOrder, ID: po.ID, UserID: req.UserID, Note: "Purchase receive " + po.Number}

	steps := []step{{
		name: "receive stock",
		apply: func(ctx context.Context) error {
			var err error
			res.Movements, err = c.stock.IncreaseStockForPurchase(ctx, lines, ref)
			return err
		},
		compensate: func(ctx context.Context) error {
			_, err := c.stock.ReverseReceipt(ctx, lines, MovementRef{Type: RefPurchaseOrder, ID: po.ID, UserID: req.UserID, Note: "compensation"}, true)
			return err
		},
	}}
	if po.TotalCost.IsPositive() && payType != PurchaseCredit {
		steps = append(steps, step{
			name: "record expense",
			apply: func(ctx context.Context) error {
				t, err := c.treasury.Record(ctx, TransactionRequest{
					Type:          TransactionExpense,
					Amount:        po.TotalCost,
					Method:        method,
					Description:   "Purchase " + po.Number,
					ReferenceType: RefPurchaseOrder,
					ReferenceID:   po.ID,
					PartnerID:     po.SupplierID,
					UserID:        req.UserID,
				})
				if err != nil {
					return err
				}
				res.Transaction = &t
				return nil
			},
			compensate: func(ctx context.Context) error {
				_, err := c.treasury.Undo(ctx, res.Transaction.ID)
				return err
			},
		})
	}
	if po.TotalCost.IsPositive() && payType == PurchaseCredit {
		steps = append(steps, step{
			name: "create supplier debt",
			apply: func(ctx context.Context) error {
				d, _, err := c.debts.CreateDebt(ctx, CreateDebtRequest{
					DebtorType:    DebtorSupplier,
					DebtorID:      po.SupplierID,
					Amount:        po.TotalCost,
					DueDate:       received.DueDate,
					ReferenceType: RefPurchaseOrder,
					ReferenceID:   po.ID,
					Description:   "Purchase order " + po.Number,
					UserID:        req.UserID,
				})
				if err != nil {
					return err
				}
				res.Debt = &d
				return nil
			},
			compensate: func(ctx context.Context) error {
				_, err := c.debts.DeleteDebt(ctx, res.Debt.ID)
				return err
			},
		})
	}
	steps = append(steps, step{
		name:       "mark received",
		apply:      func(ctx context.Context) error { return c.store.UpdatePurchaseOrder(ctx, received) },
		compensate: func(ctx context.Context) error { return c.store.UpdatePurchaseOrder(ctx, prev) },
	})

	res.Outcome, err = c.execute(ctx, "purchase receive", steps)
	if err != nil {
		return nil, err
	}
	c.log.Info().Str("purchase_order_id", po.ID).Str("number", po.Number).Str("payment_type", string(payType)).
		Str("total_cost", po.TotalCost.StringFixed(2)).Bool("atomic", res.Atomic).Msg("purchase received")
	return res, nil
}

// ReversePurchaseReceive undoes a receipt symmetrically with the sale
// reversal. It is rejected once any received quantity has left the
// warehouse or the supplier debt has been partly paid.
func (c *Coordinator) ReversePurchaseReceive(ctx context.Context, purchaseOrderID, userID string) (*PurchaseReversalResult, error) {
	var res *PurchaseReversalResult
	err := c.withRetry(ctx, "purchase reversal", func() error {
		var err error
		res, err = c.reversePurchaseReceive(ctx, purchaseOrderID, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.audit(ctx, AuditEntry{UserID: userID, Action: "PURCHASE_REVERSED", Entity: RefPurchaseOrder, EntityID: purchaseOrderID})
	return res, nil
}

func (c *Coordinator) reversePurchaseReceive(ctx context.Context, purchaseOrderID, userID string) (*PurchaseReversalResult, error) {
	po, err := c.store.GetPurchaseOrder(ctx, purchaseOrderID)
	if err != nil {
		return nil, err
	}
	if po.Status != PurchaseReceived {
		return nil, NewValidationError("purchaseOrderId", "purchase order %s is %s", po.Number, po.Status)
	}
	progress := po.Reversal
	if progress == nil {
		progress = &ReversalProgress{StartedAt: c.policy.now()}
	}
	lines := receiptLines(po.Items)

	if !progress.has("delete supplier debt") {
		d, err := c.debts.FindByReference(ctx, RefPurchaseOrder, po.ID)
		if err != nil {
			return nil, err
		}
		if d != nil && d.Paid().IsPositive() {
			return nil, NewValidationError("purchaseOrderId", "supplier debt of %s is partly paid (%s)", po.Number, d.Paid().StringFixed(2))
		}
	}
	if !progress.has("remove stock") {
		if err := c.checkWarehouseCovers(ctx, lines); err != nil {
			return nil, err
		}
	}

	res := &PurchaseReversalResult{PurchaseOrderID: po.ID}
	ref := MovementRef{Type: RefPurchaseOrder, ID: po.ID, UserID: userID, Note: "Purchase reversal " + po.Number}
	steps := []step{
		{name: "delete supplier debt", apply: func(ctx context.Context) error {
			d, err := c.debts.FindByReference(ctx, RefPurchaseOrder, po.ID)
			if err != nil || d == nil {
				return err
			}
			res.DeletedDebt, err = c.debts.DeleteDebt(ctx, d.ID)
			return err
		}},
		{name: "delete treasury entries", apply: func(ctx context.Context) error {
			var err error
			res.Transactions, err = c.treasury.DeleteByReference(ctx, RefPurchaseOrder, po.ID)
			return err
		}},
		{name: "remove stock", apply: func(ctx context.Context) error {
			var err error
			res.Movements, err = c.stock.ReverseReceipt(ctx, lines, ref, false)
			return err
		}},
		{name: "mark reversed", apply: func(ctx context.Context) error {
			po.Status = PurchaseReversed
			po.Reversal = progress
			po.UpdatedAt = c.policy.now()
			return c.store.UpdatePurchaseOrder(ctx, po)
		}},
	}
	save := func(ctx context.Context) error {
		po.Reversal = progress
		po.UpdatedAt = c.policy.now()
		return c.store.UpdatePurchaseOrder(ctx, po)
	}
	res.Outcome, err = c.resume(ctx, "purchase reversal", steps, progress, save)
	if err != nil {
		return nil, err
	}
	c.log.Info().Str("purchase_order_id", po.ID).Str("number", po.Number).Bool("atomic", res.Atomic).Msg("purchase receive reversed")
	return res, nil
}

func (c *Coordinator) checkWarehouseCovers(ctx context.Context, lines []ReceiptLine) error {
	need := map[string]decimal.Decimal{}
	var order []string
	for _, ln := range lines {
		if _, ok := need[ln.ProductID]; !ok {
			order = append(order, ln.ProductID)
		}
		need[ln.ProductID] = need[ln.ProductID].Add(ln.Qty)
	}
	for _, id := range order {
		p, err := c.stock.GetProduct(ctx, id)
		if err != nil {
			return err
		}
		if p.WarehouseQty.LessThan(need[id]) {
			return &InsufficientStockError{
				ProductID:   p.ID,
				ProductName: p.Name,
				Location:    LocationWarehouse,
				Required:    need[id],
				Available:   p.WarehouseQty,
			}
		}
	}
	return nil
}

func receiptLines(items []PurchaseItem) []ReceiptLine {
	lines := make([]ReceiptLine, len(items))
	for i, it := range items {
		lines[i] = ReceiptLine{ProductID: it.ProductID, Qty: it.Qty, UnitCost: it.CostPrice}
	}
	return lines
}
