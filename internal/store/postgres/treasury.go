package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"retail-ledger/internal/core"
)

// ── Transactions ──────────────────────────────────────────────────────────────

const transactionColumns = `id, type, receipt_number, amount, method, description, category, reference_type,
	reference_id, partner_id, date, cashbox_contribution_id, created_by, created_at`

func scanTransaction(row rowScanner) (core.TreasuryTransaction, error) {
	var t core.TreasuryTransaction
	var typ, method string
	err := row.Scan(&t.ID, &typ, &t.ReceiptNumber, &t.Amount, &method, &t.Description, &t.Category, &t.ReferenceType,
		&t.ReferenceID, &t.PartnerID, &t.Date, &t.CashboxContributionID, &t.CreatedBy, &t.CreatedAt)
	t.Type, t.Method = core.TransactionType(typ), core.PaymentMethod(method)
	return t, err
}

func (s *Store) InsertTransaction(ctx context.Context, t core.TreasuryTransaction) error {
	_, err := s.q(ctx).Exec(ctx, `
		INSERT INTO treasury_transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, t.ID, string(t.Type), t.ReceiptNumber, t.Amount, string(t.Method), t.Description, t.Category, t.ReferenceType,
		t.ReferenceID, t.PartnerID, t.Date, t.CashboxContributionID, t.CreatedBy, t.CreatedAt)
	if err != nil {
		return dbErr("failed to insert treasury transaction", err)
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (core.TreasuryTransaction, error) {
	t, err := scanTransaction(s.q(ctx).QueryRow(ctx, `SELECT `+transactionColumns+` FROM treasury_transactions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.TreasuryTransaction{}, &core.NotFoundError{Entity: "transaction", ID: id}
		}
		return core.TreasuryTransaction{}, dbErr("failed to fetch treasury transaction", err)
	}
	return t, nil
}

func (s *Store) DeleteTransaction(ctx context.Context, id string) error {
	if _, err := s.q(ctx).Exec(ctx, `DELETE FROM treasury_transactions WHERE id = $1`, id); err != nil {
		return dbErr("failed to delete treasury transaction", err)
	}
	return nil
}

func (s *Store) ListTransactions(ctx context.Context, f core.TransactionFilter) ([]core.TreasuryTransaction, error) {
	var w filter
	if f.Type != "" {
		w.add("type = $%d", string(f.Type))
	}
	if f.ReferenceType != "" {
		w.add("reference_type = $%d", f.ReferenceType)
	}
	if f.ReferenceID != "" {
		w.add("reference_id = $%d", f.ReferenceID)
	}
	if f.PartnerID != "" {
		w.add("partner_id = $%d", f.PartnerID)
	}
	if !f.From.IsZero() {
		w.add("date >= $%d", f.From)
	}
	if !f.To.IsZero() {
		w.add("date <= $%d", f.To)
	}
	sql := `SELECT ` + transactionColumns + ` FROM treasury_transactions` + w.where() +
		` ORDER BY date DESC, created_at DESC` + w.page(f.Limit, 0)

	rows, err := s.q(ctx).Query(ctx, sql, w.args...)
	if err != nil {
		return nil, dbErr("failed to list treasury transactions", err)
	}
	defer rows.Close()

	var out []core.TreasuryTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, dbErr("failed to scan treasury transaction", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("failed to read treasury transactions", err)
	}
	return out, nil
}

// ── Cashbox contributions ─────────────────────────────────────────────────────

const contributionColumns = `id, date, bucket, amount, reason, category, created_by, created_at`

func scanContribution(row rowScanner) (core.CashboxContribution, error) {
	var c core.CashboxContribution
	var bucket string
	err := row.Scan(&c.ID, &c.Date, &bucket, &c.Amount, &c.Reason, &c.Category, &c.CreatedBy, &c.CreatedAt)
	c.Bucket = core.CashboxBucket(bucket)
	return c, err
}

func (s *Store) InsertContribution(ctx context.Context, c core.CashboxContribution) error {
	_, err := s.q(ctx).Exec(ctx, `
		INSERT INTO cashbox_contributions (`+contributionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, c.ID, core.DayOf(c.Date), string(c.Bucket), c.Amount, c.Reason, c.Category, c.CreatedBy, c.CreatedAt)
	if err != nil {
		return dbErr("failed to insert cashbox contribution", err)
	}
	return nil
}

func (s *Store) GetContribution(ctx context.Context, id string) (core.CashboxContribution, error) {
	c, err := scanContribution(s.q(ctx).QueryRow(ctx, `SELECT `+contributionColumns+` FROM cashbox_contributions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.CashboxContribution{}, &core.NotFoundError{Entity: "cashbox contribution", ID: id}
		}
		return core.CashboxContribution{}, dbErr("failed to fetch cashbox contribution", err)
	}
	return c, nil
}

func (s *Store) DeleteContribution(ctx context.Context, id string) error {
	if _, err := s.q(ctx).Exec(ctx, `DELETE FROM cashbox_contributions WHERE id = $1`, id); err != nil {
		return dbErr("failed to delete cashbox contribution", err)
	}
	return nil
}

// ── Cashbox ───────────────────────────────────────────────────────────────────

const cashboxColumns = `date, opening_balance, closing_balance, sales_income, purchase_expenses,
	bank_income, bank_expenses, wallet_income, wallet_expenses, check_income, check_expenses,
	manual_income_total, manual_expense_total, total_income, total_expenses, net_change, difference,
	is_reconciled, reconciled_by, reconciled_at, reconciliation_notes, updated_at`

func scanCashbox(row rowScanner) (core.CashboxDaily, error) {
	var c core.CashboxDaily
	err := row.Scan(&c.Date, &c.OpeningBalance, &c.ClosingBalance, &c.SalesIncome, &c.PurchaseExpenses,
		&c.BankIncome, &c.BankExpenses, &c.WalletIncome, &c.WalletExpenses, &c.CheckIncome, &c.CheckExpenses,
		&c.ManualIncomeTotal, &c.ManualExpenseTotal, &c.TotalIncome, &c.TotalExpenses, &c.NetChange, &c.Difference,
		&c.IsReconciled, &c.ReconciledBy, &c.ReconciledAt, &c.ReconciliationNotes, &c.UpdatedAt)
	c.Date = core.DayOf(c.Date)
	return c, err
}

// UpdateCashbox claims the day's row with an empty insert first so that two
// writers creating the same day serialize on the row lock.
func (s *Store) UpdateCashbox(ctx context.Context, day time.Time, fn func(c *core.CashboxDaily, prior *core.CashboxDaily) error) (core.CashboxDaily, error) {
	day = core.DayOf(day)
	var out core.CashboxDaily
	err := s.RunInTx(ctx, func(ctx context.Context) error {
		tag, err := s.q(ctx).Exec(ctx, `INSERT INTO cashbox_daily (date) VALUES ($1) ON CONFLICT (date) DO NOTHING`, day)
		if err != nil {
			return dbErr("failed to create cashbox day", err)
		}
		created := tag.RowsAffected() == 1

		c, err := scanCashbox(s.q(ctx).QueryRow(ctx, `SELECT `+cashboxColumns+` FROM cashbox_daily WHERE date = $1 FOR UPDATE`, day))
		if err != nil {
			return dbErr("failed to lock cashbox day", err)
		}

		var prior *core.CashboxDaily
		if created {
			p, err := scanCashbox(s.q(ctx).QueryRow(ctx, `
				SELECT `+cashboxColumns+` FROM cashbox_daily WHERE date < $1 ORDER BY date DESC LIMIT 1
			`, day))
			switch {
			case err == nil:
				prior = &p
			case !errors.Is(err, pgx.ErrNoRows):
				return dbErr("failed to fetch previous cashbox day", err)
			}
		}

		if err := fn(&c, prior); err != nil {
			return err
		}
		c.UpdatedAt = time.Now().UTC()
		_, err = s.q(ctx).Exec(ctx, `
			UPDATE cashbox_daily SET
				opening_balance = $2, closing_balance = $3, sales_income = $4, purchase_expenses = $5,
				bank_income = $6, bank_expenses = $7, wallet_income = $8, wallet_expenses = $9,
				check_income = $10, check_expenses = $11, manual_income_total = $12, manual_expense_total = $13,
				total_income = $14, total_expenses = $15, net_change = $16, difference = $17,
				is_reconciled = $18, reconciled_by = $19, reconciled_at = $20, reconciliation_notes = $21,
				updated_at = $22
			WHERE date = $1
		`, day, c.OpeningBalance, c.ClosingBalance, c.SalesIncome, c.PurchaseExpenses,
			c.BankIncome, c.BankExpenses, c.WalletIncome, c.WalletExpenses,
			c.CheckIncome, c.CheckExpenses, c.ManualIncomeTotal, c.ManualExpenseTotal,
			c.TotalIncome, c.TotalExpenses, c.NetChange, c.Difference,
			c.IsReconciled, c.ReconciledBy, c.ReconciledAt, c.ReconciliationNotes, c.UpdatedAt)
		if err != nil {
			return dbErr("failed to save cashbox day", err)
		}
		out, err = s.withManualEntries(ctx, c)
		return err
	})
	if err != nil {
		return core.CashboxDaily{}, err
	}
	return out, nil
}

func (s *Store) withManualEntries(ctx context.Context, c core.CashboxDaily) (core.CashboxDaily, error) {
	rows, err := s.q(ctx).Query(ctx, `
		SELECT `+contributionColumns+` FROM cashbox_contributions
		WHERE date = $1 AND bucket = ANY($2)
		ORDER BY created_at
	`, c.Date, []string{string(core.BucketManualIncome), string(core.BucketManualExpense)})
	if err != nil {
		return core.CashboxDaily{}, dbErr("failed to list manual cashbox entries", err)
	}
	defer rows.Close()

	c.ManualIncome, c.ManualExpenses = nil, nil
	for rows.Next() {
		entry, err := scanContribution(rows)
		if err != nil {
			return core.CashboxDaily{}, dbErr("failed to scan manual cashbox entry", err)
		}
		if entry.Bucket == core.BucketManualIncome {
			c.ManualIncome = append(c.ManualIncome, entry)
		} else {
			c.ManualExpenses = append(c.ManualExpenses, entry)
		}
	}
	if err := rows.Err(); err != nil {
		return core.CashboxDaily{}, dbErr("failed to read manual cashbox entries", err)
	}
	return c, nil
}

func (s *Store) GetCashbox(ctx context.Context, day time.Time) (core.CashboxDaily, error) {
	day = core.DayOf(day)
	c, err := scanCashbox(s.q(ctx).QueryRow(ctx, `SELECT `+cashboxColumns+` FROM cashbox_daily WHERE date = $1`, day))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.CashboxDaily{}, &core.NotFoundError{Entity: "cashbox", ID: day.Format("2006-01-02")}
		}
		return core.CashboxDaily{}, dbErr("failed to fetch cashbox day", err)
	}
	return s.withManualEntries(ctx, c)
}

func (s *Store) LatestCashbox(ctx context.Context) (core.CashboxDaily, error) {
	c, err := scanCashbox(s.q(ctx).QueryRow(ctx, `SELECT `+cashboxColumns+` FROM cashbox_daily ORDER BY date DESC LIMIT 1`))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.CashboxDaily{}, &core.NotFoundError{Entity: "cashbox", ID: "latest"}
		}
		return core.CashboxDaily{}, dbErr("failed to fetch latest cashbox day", err)
	}
	return c, nil
}

func (s *Store) ListCashboxes(ctx context.Context, from, to time.Time) ([]core.CashboxDaily, error) {
	var w filter
	if !from.IsZero() {
		w.add("date >= $%d", core.DayOf(from))
	}
	if !to.IsZero() {
		w.add("date <= $%d", core.DayOf(to))
	}
	rows, err := s.q(ctx).Query(ctx, `SELECT `+cashboxColumns+` FROM cashbox_daily`+w.where()+` ORDER BY date`, w.args...)
	if err != nil {
		return nil, dbErr("failed to list cashbox days", err)
	}
	defer rows.Close()

	var out []core.CashboxDaily
	for rows.Next() {
		c, err := scanCashbox(rows)
		if err != nil {
			return nil, dbErr("failed to scan cashbox day", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("failed to read cashbox days", err)
	}
	return out, nil
}
