package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Location is one of the two physical stock locations of a product.
type Location string

const (
	LocationShop      Location = "shop"
	LocationWarehouse Location = "warehouse"
)

func (l Location) Valid() bool {
	return l == LocationShop || l == LocationWarehouse
}

// MovementKind classifies an appended stock movement.
type MovementKind string

const (
	MovementIn                  MovementKind = "IN"
	MovementOut                 MovementKind = "OUT"
	MovementSale                MovementKind = "SALE"
	MovementAdjust              MovementKind = "ADJUST"
	MovementTransferToShop      MovementKind = "TRANSFER_TO_SHOP"
	MovementTransferToWarehouse MovementKind = "TRANSFER_TO_WAREHOUSE"
	MovementInitial             MovementKind = "INITIAL_BALANCE"
)

func (k MovementKind) Valid() bool {
	switch k {
	case MovementIn, MovementOut, MovementSale, MovementAdjust,
		MovementTransferToShop, MovementTransferToWarehouse, MovementInitial:
		return true
	}
	return false
}

// Product holds the two stock locations and the weighted-average unit cost.
// StockQty is always WarehouseQty + ShopQty.
type Product struct {
	ID           string          `json:"id"`
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	WarehouseQty decimal.Decimal `json:"warehouseQty"`
	ShopQty      decimal.Decimal `json:"shopQty"`
	StockQty     decimal.Decimal `json:"stockQty"`
	BuyPrice     decimal.Decimal `json:"buyPrice"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// QtyAt returns the quantity held at loc.
func (p Product) QtyAt(loc Location) decimal.Decimal {
	if loc == LocationWarehouse {
		return p.WarehouseQty
	}
	return p.ShopQty
}

// StockSnapshot is the post-move level of both locations recorded on a movement.
type StockSnapshot struct {
	WarehouseQty decimal.Decimal `json:"warehouseQty"`
	ShopQty      decimal.Decimal `json:"shopQty"`
}

// StockMovement is one append-only change record. Qty is unsigned; the
// signed change of each location is carried in WarehouseDelta and ShopDelta,
// so replaying the deltas of a product's history rebuilds its levels.
// Overwrites touching both locations leave Location empty.
type StockMovement struct {
	ID             string          `json:"id"`
	ProductID      string          `json:"productId"`
	Kind           MovementKind    `json:"kind"`
	Location       Location        `json:"location,omitempty"`
	Qty            decimal.Decimal `json:"qty"`
	WarehouseDelta decimal.Decimal `json:"warehouseDelta"`
	ShopDelta      decimal.Decimal `json:"shopDelta"`
	UnitCost      decimal.Decimal `json:"unitCost"`
	ReferenceType string          `json:"referenceType,omitempty"`
	ReferenceID   string          `json:"referenceId,omitempty"`
	Note          string          `json:"note,omitempty"`
	CreatedBy     string          `json:"createdBy,omitempty"`
	Snapshot      StockSnapshot   `json:"snapshot"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// StockDelta is one signed change applied by the store as a conditional
// update. Without Override the update fails with InsufficientStockError when
// either location would go negative. Reprice, when set, is evaluated on the
// locked pre-change product and its result becomes the new buy price.
type StockDelta struct {
	ProductID      string
	WarehouseDelta decimal.Decimal
	ShopDelta      decimal.Decimal
	Override       bool
	Reprice        func(before Product) decimal.Decimal
}

// MovementRef links movements to the document that caused them.
type MovementRef struct {
	Type   string
	ID     string
	UserID string
	Note   string
}

// SaleLine is a stock line of a sale. Service lines never touch stock.
type SaleLine struct {
	ProductID string          `json:"productId"`
	Qty       decimal.Decimal `json:"qty"`
	Source    Location        `json:"source"`
	IsService bool            `json:"isService,omitempty"`
}

// ReceiptLine is a purchase-receive line carrying the supplier's unit cost.
type ReceiptLine struct {
	ProductID string          `json:"productId"`
	Qty       decimal.Decimal `json:"qty"`
	UnitCost  decimal.Decimal `json:"unitCost"`
}

// MoveRequest describes a single manual movement.
type MoveRequest struct {
	ProductID string          `json:"productId"`
	Kind      MovementKind    `json:"kind"`
	Qty       decimal.Decimal `json:"qty"`
	Location  Location        `json:"location,omitempty"`
	Override  bool            `json:"override,omitempty"`
	Note      string          `json:"note,omitempty"`
	UserID    string          `json:"userId,omitempty"`
}

// MovementFilter narrows ListMovements. Zero fields are ignored.
type MovementFilter struct {
	ProductID string
	Kind      MovementKind
	From      time.Time
	To        time.Time
	Limit     int
}

// Availability reports whether a location can cover a requested quantity.
type Availability struct {
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	Location    Location        `json:"location"`
	Required    decimal.Decimal `json:"required"`
	Available   decimal.Decimal `json:"available"`
	OK          bool            `json:"ok"`
}

// WeightedAverageCost is the purchase costing rule:
// (oldQty*oldCost + recvQty*recvCost) / (oldQty + recvQty), rounded to 4
// places. The cost is unchanged when the combined quantity is not positive.
func WeightedAverageCost(oldQty, oldCost, recvQty, recvCost decimal.Decimal) decimal.Decimal {
	total := oldQty.Add(recvQty)
	if !total.IsPositive() {
		return oldCost
	}
	return oldQty.Mul(oldCost).Add(recvQty.Mul(recvCost)).Div(total).Round(4)
}

// UnwindAverageCost removes a previously averaged receipt from the cost.
// When nothing remains the cost is left as it is.
func UnwindAverageCost(curQty, curCost, recvQty, recvCost decimal.Decimal) decimal.Decimal {
	rest := curQty.Sub(recvQty)
	if !rest.IsPositive() {
		return curCost
	}
	cost := curQty.Mul(curCost).Sub(recvQty.Mul(recvCost)).Div(rest).Round(4)
	if cost.IsNegative() {
		return decimal.Zero
	}
	return cost
}
