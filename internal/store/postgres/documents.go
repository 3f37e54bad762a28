package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"retail-ledger/internal/core"
)

// Line items, payments and reversal progress are stored as JSONB; pgx
// encodes and decodes them directly.

// ── Invoices ──────────────────────────────────────────────────────────────────

const invoiceColumns = `id, number, date, customer_id, customer_name, items, subtotal, discount, tax, total,
	total_cost, profit, payment_type, payment_method, paid_amount, used_credit_balance, payment_status,
	due_date, payments, has_returns, notes, created_by, reversal, created_at, updated_at, sale_stats`

func invoiceArgs(inv core.Invoice) []any {
	items := inv.Items
	if items == nil {
		items = []core.InvoiceItem{}
	}
	payments := inv.Payments
	if payments == nil {
		payments = []core.InvoicePayment{}
	}
	return []any{inv.ID, inv.Number, inv.Date, inv.CustomerID, inv.CustomerName, items, inv.Subtotal,
		inv.Discount, inv.Tax, inv.Total, inv.TotalCost, inv.Profit, string(inv.PaymentType),
		string(inv.PaymentMethod), inv.PaidAmount, inv.UsedCreditBalance, string(inv.PaymentStatus),
		inv.DueDate, payments, inv.HasReturns, inv.Notes, inv.CreatedBy, inv.Reversal, inv.CreatedAt, inv.UpdatedAt,
		inv.SaleStats}
}

func scanInvoice(row rowScanner) (core.Invoice, error) {
	var inv core.Invoice
	var paymentType, method, status string
	err := row.Scan(&inv.ID, &inv.Number, &inv.Date, &inv.CustomerID, &inv.CustomerName, &inv.Items, &inv.Subtotal,
		&inv.Discount, &inv.Tax, &inv.Total, &inv.TotalCost, &inv.Profit, &paymentType,
		&method, &inv.PaidAmount, &inv.UsedCreditBalance, &status,
		&inv.DueDate, &inv.Payments, &inv.HasReturns, &inv.Notes, &inv.CreatedBy, &inv.Reversal, &inv.CreatedAt, &inv.UpdatedAt,
		&inv.SaleStats)
	inv.PaymentType = core.SalePaymentType(paymentType)
	inv.PaymentMethod = core.PaymentMethod(method)
	inv.PaymentStatus = core.PaymentStatus(status)
	return inv, err
}

func (s *Store) InsertInvoice(ctx context.Context, inv core.Invoice) error {
	_, err := s.q(ctx).Exec(ctx, `
		INSERT INTO invoices (`+invoiceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)
	`, invoiceArgs(inv)...)
	if err != nil {
		return dbErr("failed to insert invoice", err)
	}
	return nil
}

func (s *Store) GetInvoice(ctx context.Context, id string) (core.Invoice, error) {
	inv, err := scanInvoice(s.q(ctx).QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.Invoice{}, &core.NotFoundError{Entity: "invoice", ID: id}
		}
		return core.Invoice{}, dbErr("failed to fetch invoice", err)
	}
	return inv, nil
}

func (s *Store) UpdateInvoice(ctx context.Context, inv core.Invoice) error {
	tag, err := s.q(ctx).Exec(ctx, `
		UPDATE invoices SET
			number = $2, date = $3, customer_id = $4, customer_name = $5, items = $6, subtotal = $7,
			discount = $8, tax = $9, total = $10, total_cost = $11, profit = $12, payment_type = $13,
			payment_method = $14, paid_amount = $15, used_credit_balance = $16, payment_status = $17,
			due_date = $18, payments = $19, has_returns = $20, notes = $21, created_by = $22, reversal = $23,
			created_at = $24, updated_at = $25, sale_stats = $26
		WHERE id = $1
	`, invoiceArgs(inv)...)
	if err != nil {
		return dbErr("failed to update invoice", err)
	}
	if tag.RowsAffected() == 0 {
		return &core.NotFoundError{Entity: "invoice", ID: inv.ID}
	}
	return nil
}

func (s *Store) DeleteInvoice(ctx context.Context, id string) error {
	if _, err := s.q(ctx).Exec(ctx, `DELETE FROM invoices WHERE id = $1`, id); err != nil {
		return dbErr("failed to delete invoice", err)
	}
	return nil
}

// ── Purchase orders ───────────────────────────────────────────────────────────

const purchaseColumns = `id, number, supplier_id, items, total_cost, paid_amount, payment_status, payment_type,
	status, due_date, received_at, reversal, notes, created_by, created_at, updated_at`

func purchaseArgs(po core.PurchaseOrder) []any {
	items := po.Items
	if items == nil {
		items = []core.PurchaseItem{}
	}
	return []any{po.ID, po.Number, po.SupplierID, items, po.TotalCost, po.PaidAmount, string(po.PaymentStatus),
		string(po.PaymentType), string(po.Status), po.DueDate, po.ReceivedAt, po.Reversal, po.Notes, po.CreatedBy,
		po.CreatedAt, po.UpdatedAt}
}

func scanPurchaseOrder(row rowScanner) (core.PurchaseOrder, error) {
	var po core.PurchaseOrder
	var paymentStatus, paymentType, status string
	err := row.Scan(&po.ID, &po.Number, &po.SupplierID, &po.Items, &po.TotalCost, &po.PaidAmount, &paymentStatus,
		&paymentType, &status, &po.DueDate, &po.ReceivedAt, &po.Reversal, &po.Notes, &po.CreatedBy,
		&po.CreatedAt, &po.UpdatedAt)
	po.PaymentStatus = core.PaymentStatus(paymentStatus)
	po.PaymentType = core.PurchasePaymentType(paymentType)
	po.Status = core.PurchaseStatus(status)
	return po, err
}

func (s *Store) InsertPurchaseOrder(ctx context.Context, po core.PurchaseOrder) error {
	_, err := s.q(ctx).Exec(ctx, `
		INSERT INTO purchase_orders (`+purchaseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, purchaseArgs(po)...)
	if err != nil {
		return dbErr("failed to insert purchase order", err)
	}
	return nil
}

func (s *Store) GetPurchaseOrder(ctx context.Context, id string) (core.PurchaseOrder, error) {
	po, err := scanPurchaseOrder(s.q(ctx).QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchase_orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.PurchaseOrder{}, &core.NotFoundError{Entity: "purchase order", ID: id}
		}
		return core.PurchaseOrder{}, dbErr("failed to fetch purchase order", err)
	}
	return po, nil
}

func (s *Store) UpdatePurchaseOrder(ctx context.Context, po core.PurchaseOrder) error {
	tag, err := s.q(ctx).Exec(ctx, `
		UPDATE purchase_orders SET
			number = $2, supplier_id = $3, items = $4, total_cost = $5, paid_amount = $6, payment_status = $7,
			payment_type = $8, status = $9, due_date = $10, received_at = $11, reversal = $12, notes = $13,
			created_by = $14, created_at = $15, updated_at = $16
		WHERE id = $1
	`, purchaseArgs(po)...)
	if err != nil {
		return dbErr("failed to update purchase order", err)
	}
	if tag.RowsAffected() == 0 {
		return &core.NotFoundError{Entity: "purchase order", ID: po.ID}
	}
	return nil
}

// ── Sales returns ─────────────────────────────────────────────────────────────

func (s *Store) InsertSalesReturn(ctx context.Context, r core.SalesReturn) error {
	items := r.Items
	if items == nil {
		items = []core.ReturnItem{}
	}
	_, err := s.q(ctx).Exec(ctx, `
		INSERT INTO sales_returns (id, number, date, invoice_id, customer_id, items, total_refund, refund_method,
			debt_reduced, customer_balance_added, treasury_deducted, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, r.ID, r.Number, r.Date, r.InvoiceID, r.CustomerID, items, r.TotalRefund, string(r.RefundMethod),
		r.DebtReduced, r.CustomerBalanceAdded, r.TreasuryDeducted, r.CreatedBy, r.CreatedAt)
	if err != nil {
		return dbErr("failed to insert sales return", err)
	}
	return nil
}

func (s *Store) DeleteSalesReturn(ctx context.Context, id string) error {
	if _, err := s.q(ctx).Exec(ctx, `DELETE FROM sales_returns WHERE id = $1`, id); err != nil {
		return dbErr("failed to delete sales return", err)
	}
	return nil
}

func (s *Store) ListSalesReturns(ctx context.Context, invoiceID string) ([]core.SalesReturn, error) {
	var w filter
	if invoiceID != "" {
		w.add("invoice_id = $%d", invoiceID)
	}
	rows, err := s.q(ctx).Query(ctx, `
		SELECT id, number, date, invoice_id, customer_id, items, total_refund, refund_method,
			debt_reduced, customer_balance_added, treasury_deducted, created_by, created_at
		FROM sales_returns`+w.where()+` ORDER BY created_at`, w.args...)
	if err != nil {
		return nil, dbErr("failed to list sales returns", err)
	}
	defer rows.Close()

	var out []core.SalesReturn
	for rows.Next() {
		var r core.SalesReturn
		var method string
		if err := rows.Scan(&r.ID, &r.Number, &r.Date, &r.InvoiceID, &r.CustomerID, &r.Items, &r.TotalRefund, &method,
			&r.DebtReduced, &r.CustomerBalanceAdded, &r.TreasuryDeducted, &r.CreatedBy, &r.CreatedAt); err != nil {
			return nil, dbErr("failed to scan sales return", err)
		}
		r.RefundMethod = core.RefundMethod(method)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("failed to read sales returns", err)
	}
	return out, nil
}

// ── Daily sales ───────────────────────────────────────────────────────────────

const dailySalesReturning = `RETURNING date, revenue, cost, invoice_count, items_sold, cash_sales, credit_sales`

func scanDailySales(row rowScanner) (core.DailySales, error) {
	var d core.DailySales
	err := row.Scan(&d.Date, &d.Revenue, &d.Cost, &d.InvoiceCount, &d.ItemsSold, &d.CashSales, &d.CreditSales)
	d.Date = core.DayOf(d.Date)
	d.Profit = d.Revenue.Sub(d.Cost)
	return d, err
}

func (s *Store) IncrementDailySales(ctx context.Context, day time.Time, d core.DailySalesDelta) (core.DailySales, error) {
	row, err := scanDailySales(s.q(ctx).QueryRow(ctx, `
		INSERT INTO daily_sales (date, revenue, cost, invoice_count, items_sold, cash_sales, credit_sales)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (date) DO UPDATE SET
			revenue = daily_sales.revenue + EXCLUDED.revenue,
			cost = daily_sales.cost + EXCLUDED.cost,
			invoice_count = daily_sales.invoice_count + EXCLUDED.invoice_count,
			items_sold = daily_sales.items_sold + EXCLUDED.items_sold,
			cash_sales = daily_sales.cash_sales + EXCLUDED.cash_sales,
			credit_sales = daily_sales.credit_sales + EXCLUDED.credit_sales
		`+dailySalesReturning,
		core.DayOf(day), d.Revenue, d.Cost, d.InvoiceCount, d.ItemsSold, d.CashSales, d.CreditSales))
	if err != nil {
		return core.DailySales{}, dbErr("failed to update daily sales", err)
	}
	return row, nil
}

func (s *Store) GetDailySales(ctx context.Context, day time.Time) (core.DailySales, error) {
	day = core.DayOf(day)
	row, err := scanDailySales(s.q(ctx).QueryRow(ctx, `
		SELECT date, revenue, cost, invoice_count, items_sold, cash_sales, credit_sales
		FROM daily_sales WHERE date = $1
	`, day))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.DailySales{}, &core.NotFoundError{Entity: "daily sales", ID: day.Format("2006-01-02")}
		}
		return core.DailySales{}, dbErr("failed to fetch daily sales", err)
	}
	return row, nil
}

// ── Audit ─────────────────────────────────────────────────────────────────────

func (s *Store) LogAction(ctx context.Context, e core.AuditEntry) error {
	_, err := s.q(ctx).Exec(ctx, `
		INSERT INTO audit_logs (id, user_id, action, entity, entity_id, diff, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, e.UserID, e.Action, e.Entity, e.EntityID, e.Diff, e.Note, e.CreatedAt)
	if err != nil {
		return dbErr("failed to write audit log", err)
	}
	return nil
}
