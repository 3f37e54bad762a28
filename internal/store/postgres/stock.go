package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"retail-ledger/internal/core"
)

const productColumns = `id, code, name, warehouse_qty, shop_qty, stock_qty, buy_price, updated_at`

func scanProduct(row rowScanner) (core.Product, error) {
	var p core.Product
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.WarehouseQty, &p.ShopQty, &p.StockQty, &p.BuyPrice, &p.UpdatedAt)
	return p, err
}

// ── Catalog ───────────────────────────────────────────────────────────────────

func (s *Store) UpsertProduct(ctx context.Context, p core.Product) error {
	_, err := s.q(ctx).Exec(ctx, `
		INSERT INTO products (id, code, name, warehouse_qty, shop_qty, buy_price, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (id) DO UPDATE SET
			code = EXCLUDED.code,
			name = EXCLUDED.name,
			updated_at = NOW()
	`, p.ID, p.Code, p.Name, p.WarehouseQty, p.ShopQty, p.BuyPrice)
	if err != nil {
		return dbErr("failed to upsert product", err)
	}
	return nil
}

func (s *Store) UpsertDebtor(ctx context.Context, d core.Debtor) error {
	_, err := s.q(ctx).Exec(ctx, `
		INSERT INTO debtors (debtor_type, id, name, balance, credit_balance, total_purchases, last_purchase_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (debtor_type, id) DO UPDATE SET
			name = EXCLUDED.name
	`, string(d.Type), d.ID, d.Name, d.Balance, d.CreditBalance, d.TotalPurchases, d.LastPurchaseDate)
	if err != nil {
		return dbErr("failed to upsert debtor", err)
	}
	return nil
}

// ── Products ──────────────────────────────────────────────────────────────────

func (s *Store) GetProduct(ctx context.Context, id string) (core.Product, error) {
	p, err := scanProduct(s.q(ctx).QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.Product{}, &core.NotFoundError{Entity: "product", ID: id}
		}
		return core.Product{}, dbErr("failed to fetch product", err)
	}
	return p, nil
}

func (s *Store) lockProduct(ctx context.Context, id string) (core.Product, error) {
	p, err := scanProduct(s.q(ctx).QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.Product{}, &core.NotFoundError{Entity: "product", ID: id}
		}
		return core.Product{}, dbErr("failed to lock product", err)
	}
	return p, nil
}

// ApplyStockDeltas issues one conditional UPDATE per delta so that two
// concurrent sales can never both pass the quantity check.
func (s *Store) ApplyStockDeltas(ctx context.Context, deltas []core.StockDelta) ([]core.Product, error) {
	var out []core.Product
	err := s.RunInTx(ctx, func(ctx context.Context) error {
		out = make([]core.Product, 0, len(deltas))
		for _, d := range deltas {
			p, err := s.applyDelta(ctx, d)
			if err != nil {
				return err
			}
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) applyDelta(ctx context.Context, d core.StockDelta) (core.Product, error) {
	var price *decimal.Decimal
	if d.Reprice != nil {
		before, err := s.lockProduct(ctx, d.ProductID)
		if err != nil {
			return core.Product{}, err
		}
		next := d.Reprice(before)
		price = &next
	}

	p, err := scanProduct(s.q(ctx).QueryRow(ctx, `
		UPDATE products SET
			warehouse_qty = warehouse_qty + $2,
			shop_qty = shop_qty + $3,
			buy_price = COALESCE($4, buy_price),
			updated_at = NOW()
		WHERE id = $1 AND ($5 OR (warehouse_qty + $2 >= 0 AND shop_qty + $3 >= 0))
		RETURNING `+productColumns,
		d.ProductID, d.WarehouseDelta, d.ShopDelta, price, d.Override))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return core.Product{}, dbErr("failed to update stock", err)
	}

	// No row matched: either the product is missing or the guard refused.
	cur, err := s.GetProduct(ctx, d.ProductID)
	if err != nil {
		return core.Product{}, err
	}
	loc, delta := core.LocationShop, d.ShopDelta
	if cur.WarehouseQty.Add(d.WarehouseDelta).IsNegative() {
		loc, delta = core.LocationWarehouse, d.WarehouseDelta
	}
	return core.Product{}, &core.InsufficientStockError{
		ProductID:   cur.ID,
		ProductName: cur.Name,
		Location:    loc,
		Required:    delta.Neg(),
		Available:   cur.QtyAt(loc),
	}
}

func (s *Store) SetStockLevels(ctx context.Context, productID string, warehouseQty, shopQty decimal.Decimal, buyPrice *decimal.Decimal) (core.Product, core.Product, error) {
	var before, after core.Product
	err := s.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if before, err = s.lockProduct(ctx, productID); err != nil {
			return err
		}
		after, err = scanProduct(s.q(ctx).QueryRow(ctx, `
			UPDATE products SET
				warehouse_qty = $2,
				shop_qty = $3,
				buy_price = COALESCE($4, buy_price),
				updated_at = NOW()
			WHERE id = $1
			RETURNING `+productColumns,
			productID, warehouseQty, shopQty, buyPrice))
		if err != nil {
			return dbErr("failed to overwrite stock levels", err)
		}
		return nil
	})
	if err != nil {
		return core.Product{}, core.Product{}, err
	}
	return before, after, nil
}

// ── Movements ─────────────────────────────────────────────────────────────────

func (s *Store) InsertMovements(ctx context.Context, movements []core.StockMovement) error {
	if len(movements) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range movements {
		batch.Queue(`
			INSERT INTO stock_movements (id, product_id, kind, location, qty, warehouse_delta, shop_delta, unit_cost,
				reference_type, reference_id, note, created_by, warehouse_qty_after, shop_qty_after, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		`, m.ID, m.ProductID, string(m.Kind), string(m.Location), m.Qty, m.WarehouseDelta, m.ShopDelta, m.UnitCost,
			m.ReferenceType, m.ReferenceID, m.Note, m.CreatedBy, m.Snapshot.WarehouseQty, m.Snapshot.ShopQty, m.CreatedAt)
	}
	if err := s.q(ctx).SendBatch(ctx, batch).Close(); err != nil {
		return dbErr("failed to insert stock movements", err)
	}
	return nil
}

func (s *Store) ListMovements(ctx context.Context, f core.MovementFilter) ([]core.StockMovement, error) {
	var w filter
	if f.ProductID != "" {
		w.add("product_id = $%d", f.ProductID)
	}
	if f.Kind != "" {
		w.add("kind = $%d", string(f.Kind))
	}
	if !f.From.IsZero() {
		w.add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		w.add("created_at <= $%d", f.To)
	}
	sql := `
		SELECT id, product_id, kind, location, qty, warehouse_delta, shop_delta, unit_cost, reference_type, reference_id,
			note, created_by, warehouse_qty_after, shop_qty_after, created_at
		FROM stock_movements` + w.where() + ` ORDER BY created_at DESC, id DESC` + w.page(f.Limit, 0)

	rows, err := s.q(ctx).Query(ctx, sql, w.args...)
	if err != nil {
		return nil, dbErr("failed to list stock movements", err)
	}
	defer rows.Close()

	var out []core.StockMovement
	for rows.Next() {
		var m core.StockMovement
		var kind, loc string
		if err := rows.Scan(&m.ID, &m.ProductID, &kind, &loc, &m.Qty, &m.WarehouseDelta, &m.ShopDelta, &m.UnitCost, &m.ReferenceType, &m.ReferenceID,
			&m.Note, &m.CreatedBy, &m.Snapshot.WarehouseQty, &m.Snapshot.ShopQty, &m.CreatedAt); err != nil {
			return nil, dbErr("failed to scan stock movement", err)
		}
		m.Kind, m.Location = core.MovementKind(kind), core.Location(loc)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(fmt.Sprintf("failed to read stock movements for %q", f.ProductID), err)
	}
	return out, nil
}
