package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// StockLedger owns product quantities at the two locations, the weighted
// average buy price and the append-only movement log.
type StockLedger interface {
	GetProduct(ctx context.Context, productID string) (Product, error)
	// ReduceStockForSale decrements every physical line at its source
	// location. Either all lines are applied or none.
	ReduceStockForSale(ctx context.Context, lines []SaleLine, ref MovementRef) ([]StockMovement, error)
	// RestockSale puts sold quantities back at their original source location.
	RestockSale(ctx context.Context, lines []SaleLine, ref MovementRef) ([]StockMovement, error)
	// IncreaseStockForReturn puts returned quantities into the shop at unchanged cost.
	IncreaseStockForReturn(ctx context.Context, lines []SaleLine, ref MovementRef) ([]StockMovement, error)
	// IncreaseStockForPurchase receives into the warehouse and re-averages the buy price.
	IncreaseStockForPurchase(ctx context.Context, lines []ReceiptLine, ref MovementRef) ([]StockMovement, error)
	// ReverseReceipt removes a received quantity from the warehouse and
	// unwinds its effect on the buy price.
	ReverseReceipt(ctx context.Context, lines []ReceiptLine, ref MovementRef, override bool) ([]StockMovement, error)

	MoveStock(ctx context.Context, req MoveRequest) (StockMovement, error)
	BulkMove(ctx context.Context, reqs []MoveRequest) ([]StockMovement, error)
	TransferToShop(ctx context.Context, productID string, qty decimal.Decimal, userID, note string) (StockMovement, error)
	TransferToWarehouse(ctx context.Context, productID string, qty decimal.Decimal, userID, note string) (StockMovement, error)
	AdjustStock(ctx context.Context, productID string, warehouseQty, shopQty decimal.Decimal, reason, userID string) ([]StockMovement, error)
	RegisterInitialBalance(ctx context.Context, productID string, warehouseQty, shopQty, buyPrice decimal.Decimal, userID string) ([]StockMovement, error)

	ValidateAvailability(ctx context.Context, lines []SaleLine) ([]Availability, error)
	ProductHistory(ctx context.Context, productID string, limit int) ([]StockMovement, error)
	ListMovements(ctx context.Context, f MovementFilter) ([]StockMovement, error)
}

type stockLedger struct {
	store interface {
		TxRunner
		ProductStore
	}
	policy Policy
	log    zerolog.Logger
}

func NewStockLedger(store Store, policy Policy, log zerolog.Logger) StockLedger {
	return &stockLedger{store: store, policy: policy, log: log.With().Str("component", "stock").Logger()}
}

// moveSpec is one movement record produced by a delta.
type moveSpec struct {
	kind      MovementKind
	location  Location
	qty       decimal.Decimal
	warehouse decimal.Decimal
	shop      decimal.Decimal
}

type plannedDelta struct {
	delta StockDelta
	moves []moveSpec
	ref   *MovementRef
}

func (l *stockLedger) GetProduct(ctx context.Context, productID string) (Product, error) {
	return l.store.GetProduct(ctx, productID)
}

// ── Document-driven changes ───────────────────────────────────────────────────

func (l *stockLedger) ReduceStockForSale(ctx context.Context, lines []SaleLine, ref MovementRef) ([]StockMovement, error) {
	plan, err := saleDeltas(lines, -1, MovementSale)
	if err != nil {
		return nil, err
	}
	return l.commit(ctx, plan, ref)
}

func (l *stockLedger) RestockSale(ctx context.Context, lines []SaleLine, ref MovementRef) ([]StockMovement, error) {
	plan, err := saleDeltas(lines, 1, MovementIn)
	if err != nil {
		return nil, err
	}
	for i := range plan {
		plan[i].delta.Override = true
	}
	return l.commit(ctx, plan, ref)
}

func (l *stockLedger) IncreaseStockForReturn(ctx context.Context, lines []SaleLine, ref MovementRef) ([]StockMovement, error) {
	shop := make([]SaleLine, len(lines))
	for i, ln := range lines {
		ln.Source = LocationShop
		shop[i] = ln
	}
	return l.RestockSale(ctx, shop, ref)
}

func saleDeltas(lines []SaleLine, sign int64, kind MovementKind) ([]plannedDelta, error) {
	var plan []plannedDelta
	for i, ln := range lines {
		if ln.IsService || ln.ProductID == "" {
			continue
		}
		if !ln.Qty.IsPositive() {
			return nil, NewValidationError(fmt.Sprintf("lines[%d].qty", i), "quantity must be positive, got %s", ln.Qty)
		}
		src := ln.Source
		if src == "" {
			src = LocationShop
		}
		if !src.Valid() {
			return nil, NewValidationError(fmt.Sprintf("lines[%d].source", i), "unknown location %q", src)
		}
		signed := ln.Qty.Mul(decimal.NewFromInt(sign))
		d := StockDelta{ProductID: ln.ProductID}
		if src == LocationWarehouse {
			d.WarehouseDelta = signed
		} else {
			d.ShopDelta = signed
		}
		plan = append(plan, plannedDelta{delta: d, moves: []moveSpec{{kind: kind, location: src, qty: ln.Qty}}})
	}
	return plan, nil
}

func (l *stockLedger) IncreaseStockForPurchase(ctx context.Context, lines []ReceiptLine, ref MovementRef) ([]StockMovement, error) {
	var plan []plannedDelta
	for i, ln := range lines {
		if err := validateReceiptLine(i, ln); err != nil {
			return nil, err
		}
		qty, cost := ln.Qty, ln.UnitCost
		plan = append(plan, plannedDelta{
			delta: StockDelta{
				ProductID:      ln.ProductID,
				WarehouseDelta: qty,
				Override:       true,
				Reprice: func(p Product) decimal.Decimal {
					return WeightedAverageCost(p.StockQty, p.BuyPrice, qty, cost)
				},
			},
			moves: []moveSpec{{kind: MovementIn, location: LocationWarehouse, qty: qty}},
		})
	}
	return l.commit(ctx, plan, ref)
}

func (l *stockLedger) ReverseReceipt(ctx context.Context, lines []ReceiptLine, ref MovementRef, override bool) ([]StockMovement, error) {
	var plan []plannedDelta
	for i, ln := range lines {
		if err := validateReceiptLine(i, ln); err != nil {
			return nil, err
		}
		qty, cost := ln.Qty, ln.UnitCost
		plan = append(plan, plannedDelta{
			delta: StockDelta{
				ProductID:      ln.ProductID,
				WarehouseDelta: qty.Neg(),
				Override:       override,
				Reprice: func(p Product) decimal.Decimal {
					return UnwindAverageCost(p.StockQty, p.BuyPrice, qty, cost)
				},
			},
			moves: []moveSpec{{kind: MovementOut, location: LocationWarehouse, qty: qty}},
		})
	}
	return l.commit(ctx, plan, ref)
}

func validateReceiptLine(i int, ln ReceiptLine) error {
	if ln.ProductID == "" {
		return NewValidationError(fmt.Sprintf("lines[%d].productId", i), "product is required")
	}
	if !ln.Qty.IsPositive() {
		return NewValidationError(fmt.Sprintf("lines[%d].qty", i), "quantity must be positive, got %s", ln.Qty)
	}
	if ln.UnitCost.IsNegative() {
		return NewValidationError(fmt.Sprintf("lines[%d].unitCost", i), "unit cost cannot be negative, got %s", ln.UnitCost)
	}
	return nil
}

// ── Manual movements ──────────────────────────────────────────────────────────

func (l *stockLedger) MoveStock(ctx context.Context, req MoveRequest) (StockMovement, error) {
	moves, err := l.BulkMove(ctx, []MoveRequest{req})
	if err != nil {
		return StockMovement{}, err
	}
	return moves[0], nil
}

// BulkMove validates every request first and then applies all of them in one
// conditional update, so a single shortfall leaves every product untouched.
func (l *stockLedger) BulkMove(ctx context.Context, reqs []MoveRequest) ([]StockMovement, error) {
	if len(reqs) == 0 {
		return nil, NewValidationError("moves", "at least one movement is required")
	}
	plan := make([]plannedDelta, 0, len(reqs))
	for i, req := range reqs {
		pd, err := moveDelta(i, req)
		if err != nil {
			return nil, err
		}
		pd.ref = &MovementRef{Type: RefManual, UserID: req.UserID, Note: req.Note}
		plan = append(plan, pd)
	}
	return l.commit(ctx, plan, MovementRef{Type: RefManual})
}

func moveDelta(i int, req MoveRequest) (plannedDelta, error) {
	field := func(name string) string { return fmt.Sprintf("moves[%d].%s", i, name) }
	if req.ProductID == "" {
		return plannedDelta{}, NewValidationError(field("productId"), "product is required")
	}
	if !req.Qty.IsPositive() {
		return plannedDelta{}, NewValidationError(field("qty"), "quantity must be positive, got %s", req.Qty)
	}
	if req.Location != "" && !req.Location.Valid() {
		return plannedDelta{}, NewValidationError(field("location"), "unknown location %q", req.Location)
	}
	at := func(def Location) Location {
		if req.Location != "" {
			return req.Location
		}
		return def
	}
	d := StockDelta{ProductID: req.ProductID, Override: req.Override}
	var loc Location
	switch req.Kind {
	case MovementIn, MovementAdjust:
		loc = at(LocationWarehouse)
		addAt(&d, loc, req.Qty)
	case MovementOut:
		loc = at(LocationWarehouse)
		addAt(&d, loc, req.Qty.Neg())
	case MovementSale:
		loc = at(LocationShop)
		addAt(&d, loc, req.Qty.Neg())
	case MovementTransferToShop:
		loc = LocationShop
		d.WarehouseDelta = req.Qty.Neg()
		d.ShopDelta = req.Qty
	case MovementTransferToWarehouse:
		loc = LocationWarehouse
		d.ShopDelta = req.Qty.Neg()
		d.WarehouseDelta = req.Qty
	default:
		return plannedDelta{}, NewValidationError(field("kind"), "unsupported movement kind %q", req.Kind)
	}
	return plannedDelta{delta: d, moves: []moveSpec{{kind: req.Kind, location: loc, qty: req.Qty}}}, nil
}

func addAt(d *StockDelta, loc Location, qty decimal.Decimal) {
	if loc == LocationWarehouse {
		d.WarehouseDelta = d.WarehouseDelta.Add(qty)
	} else {
		d.ShopDelta = d.ShopDelta.Add(qty)
	}
}

func (l *stockLedger) TransferToShop(ctx context.Context, productID string, qty decimal.Decimal, userID, note string) (StockMovement, error) {
	return l.MoveStock(ctx, MoveRequest{ProductID: productID, Kind: MovementTransferToShop, Qty: qty, UserID: userID, Note: note})
}

func (l *stockLedger) TransferToWarehouse(ctx context.Context, productID string, qty decimal.Decimal, userID, note string) (StockMovement, error) {
	return l.MoveStock(ctx, MoveRequest{ProductID: productID, Kind: MovementTransferToWarehouse, Qty: qty, UserID: userID, Note: note})
}

// AdjustStock overwrites both locations after a physical count and records
// one ADJUST movement carrying the signed change of each location.
func (l *stockLedger) AdjustStock(ctx context.Context, productID string, warehouseQty, shopQty decimal.Decimal, reason, userID string) ([]StockMovement, error) {
	if reason == "" {
		return nil, NewValidationError("reason", "adjustment reason is required")
	}
	return l.overwrite(ctx, productID, warehouseQty, shopQty, nil, MovementAdjust, MovementRef{Type: RefManual, UserID: userID, Note: reason})
}

// RegisterInitialBalance seeds opening quantities and cost for a product.
func (l *stockLedger) RegisterInitialBalance(ctx context.Context, productID string, warehouseQty, shopQty, buyPrice decimal.Decimal, userID string) ([]StockMovement, error) {
	if buyPrice.IsNegative() {
		return nil, NewValidationError("buyPrice", "buy price cannot be negative, got %s", buyPrice)
	}
	return l.overwrite(ctx, productID, warehouseQty, shopQty, &buyPrice, MovementInitial, MovementRef{Type: RefManual, UserID: userID, Note: "initial balance"})
}

func (l *stockLedger) overwrite(ctx context.Context, productID string, warehouseQty, shopQty decimal.Decimal, buyPrice *decimal.Decimal, kind MovementKind, ref MovementRef) ([]StockMovement, error) {
	if productID == "" {
		return nil, NewValidationError("productId", "product is required")
	}
	if warehouseQty.IsNegative() || shopQty.IsNegative() {
		return nil, NewValidationError("qty", "quantities cannot be negative")
	}
	var out []StockMovement
	err := l.store.RunInTx(ctx, func(ctx context.Context) error {
		before, after, err := l.store.SetStockLevels(ctx, productID, warehouseQty, shopQty, buyPrice)
		if err != nil {
			return err
		}
		out = out[:0]
		wd := after.WarehouseQty.Sub(before.WarehouseQty)
		sd := after.ShopQty.Sub(before.ShopQty)
		if wd.IsZero() && sd.IsZero() && kind != MovementInitial {
			return nil
		}
		var loc Location
		switch {
		case sd.IsZero():
			loc = LocationWarehouse
		case wd.IsZero():
			loc = LocationShop
		}
		m := moveSpec{kind: kind, location: loc, qty: wd.Abs().Add(sd.Abs()), warehouse: wd, shop: sd}
		out = append(out, l.movement(after, m, ref))
		return l.store.InsertMovements(ctx, out)
	})
	if err != nil {
		return nil, err
	}
	l.log.Info().Str("product_id", productID).Str("kind", string(kind)).
		Str("warehouse_qty", warehouseQty.String()).Str("shop_qty", shopQty.String()).Msg("stock levels overwritten")
	return out, nil
}

// ── Queries ───────────────────────────────────────────────────────────────────

func (l *stockLedger) ValidateAvailability(ctx context.Context, lines []SaleLine) ([]Availability, error) {
	var out []Availability
	required := map[string]decimal.Decimal{}
	for _, ln := range lines {
		if ln.IsService || ln.ProductID == "" {
			continue
		}
		src := ln.Source
		if src == "" {
			src = LocationShop
		}
		key := ln.ProductID + "/" + string(src)
		required[key] = required[key].Add(ln.Qty)
		p, err := l.store.GetProduct(ctx, ln.ProductID)
		if err != nil {
			return nil, err
		}
		out = append(out, Availability{
			ProductID:   p.ID,
			ProductName: p.Name,
			Location:    src,
			Required:    required[key],
			Available:   p.QtyAt(src),
			OK:          p.QtyAt(src).GreaterThanOrEqual(required[key]),
		})
	}
	return out, nil
}

func (l *stockLedger) ProductHistory(ctx context.Context, productID string, limit int) ([]StockMovement, error) {
	if _, err := l.store.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	return l.store.ListMovements(ctx, MovementFilter{ProductID: productID, Limit: limit})
}

func (l *stockLedger) ListMovements(ctx context.Context, f MovementFilter) ([]StockMovement, error) {
	return l.store.ListMovements(ctx, f)
}

// ── Internals ─────────────────────────────────────────────────────────────────

// commit applies the planned deltas and appends their movements in one unit of work.
func (l *stockLedger) commit(ctx context.Context, plan []plannedDelta, ref MovementRef) ([]StockMovement, error) {
	if len(plan) == 0 {
		return nil, nil
	}
	deltas := make([]StockDelta, len(plan))
	for i, pd := range plan {
		deltas[i] = pd.delta
	}
	var out []StockMovement
	err := l.store.RunInTx(ctx, func(ctx context.Context) error {
		products, err := l.store.ApplyStockDeltas(ctx, deltas)
		if err != nil {
			return err
		}
		out = out[:0]
		for i, pd := range plan {
			r := ref
			if pd.ref != nil {
				r = *pd.ref
			}
			for _, m := range pd.moves {
				m.warehouse, m.shop = pd.delta.WarehouseDelta, pd.delta.ShopDelta
				out = append(out, l.movement(products[i], m, r))
			}
		}
		return l.store.InsertMovements(ctx, out)
	})
	if err != nil {
		return nil, err
	}
	l.log.Debug().Str("ref_type", ref.Type).Str("ref_id", ref.ID).Int("lines", len(plan)).Msg("stock deltas applied")
	return out, nil
}

func (l *stockLedger) movement(p Product, m moveSpec, ref MovementRef) StockMovement {
	return StockMovement{
		ID:             uuid.NewString(),
		ProductID:      p.ID,
		Kind:           m.kind,
		Location:       m.location,
		Qty:            m.qty,
		WarehouseDelta: m.warehouse,
		ShopDelta:      m.shop,
		UnitCost:       p.BuyPrice,
		ReferenceType:  ref.Type,
		ReferenceID:    ref.ID,
		Note:           ref.Note,
		CreatedBy:      ref.UserID,
		Snapshot:       StockSnapshot{WarehouseQty: p.WarehouseQty, ShopQty: p.ShopQty},
		CreatedAt:      l.policy.now(),
	}
}
