package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"retail-ledger/internal/core"
)

// ── Debtors ───────────────────────────────────────────────────────────────────

func (s *Store) GetDebtor(ctx context.Context, t core.DebtorType, id string) (core.Debtor, error) {
	d, err := scanDebtor(s.q(ctx).QueryRow(ctx, `
		SELECT debtor_type, id, name, balance, credit_balance, total_purchases, last_purchase_date
		FROM debtors WHERE debtor_type = $1 AND id = $2
	`, string(t), id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.Debtor{}, &core.NotFoundError{Entity: string(t), ID: id}
		}
		return core.Debtor{}, dbErr("failed to fetch debtor", err)
	}
	return d, nil
}

func scanDebtor(row rowScanner) (core.Debtor, error) {
	var d core.Debtor
	var t string
	err := row.Scan(&t, &d.ID, &d.Name, &d.Balance, &d.CreditBalance, &d.TotalPurchases, &d.LastPurchaseDate)
	d.Type = core.DebtorType(t)
	return d, err
}

func (s *Store) IncrementDebtor(ctx context.Context, t core.DebtorType, id string, delta core.DebtorDelta) (core.Debtor, error) {
	d, err := scanDebtor(s.q(ctx).QueryRow(ctx, `
		UPDATE debtors SET
			balance = balance + $3,
			credit_balance = credit_balance + $4,
			total_purchases = total_purchases + $5,
			last_purchase_date = COALESCE($6, last_purchase_date)
		WHERE debtor_type = $1 AND id = $2
		RETURNING debtor_type, id, name, balance, credit_balance, total_purchases, last_purchase_date
	`, string(t), id, delta.Balance, delta.CreditBalance, delta.TotalPurchases, delta.LastPurchaseAt))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.Debtor{}, &core.NotFoundError{Entity: string(t), ID: id}
		}
		return core.Debtor{}, dbErr("failed to update debtor balance", err)
	}
	return d, nil
}

// ── Debts ─────────────────────────────────────────────────────────────────────

const debtColumns = `id, debtor_type, debtor_id, original_amount, remaining_amount, due_date, status,
	reference_type, reference_id, description, write_off_reason, created_by, version, created_at, updated_at`

func scanDebt(row rowScanner) (core.Debt, error) {
	var d core.Debt
	var t, status string
	err := row.Scan(&d.ID, &t, &d.DebtorID, &d.OriginalAmount, &d.RemainingAmount, &d.DueDate, &status,
		&d.ReferenceType, &d.ReferenceID, &d.Description, &d.WriteOffReason, &d.CreatedBy, &d.Version,
		&d.CreatedAt, &d.UpdatedAt)
	d.DebtorType, d.Status = core.DebtorType(t), core.DebtStatus(status)
	return d, err
}

// InsertDebtIfAbsent relies on the unique reference index: a conflicting
// insert returns no row and the existing debt is read back.
func (s *Store) InsertDebtIfAbsent(ctx context.Context, d core.Debt) (core.Debt, bool, error) {
	created, err := scanDebt(s.q(ctx).QueryRow(ctx, `
		INSERT INTO debts (id, debtor_type, debtor_id, original_amount, remaining_amount, due_date, status,
			reference_type, reference_id, description, write_off_reason, created_by, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 1, $13, $14)
		ON CONFLICT (debtor_type, debtor_id, reference_type, reference_id) DO NOTHING
		RETURNING `+debtColumns,
		d.ID, string(d.DebtorType), d.DebtorID, d.OriginalAmount, d.RemainingAmount, d.DueDate, string(d.Status),
		d.ReferenceType, d.ReferenceID, d.Description, d.WriteOffReason, d.CreatedBy, d.CreatedAt, d.UpdatedAt))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return core.Debt{}, false, dbErr("failed to insert debt", err)
	}
	existing, err := scanDebt(s.q(ctx).QueryRow(ctx, `
		SELECT `+debtColumns+` FROM debts
		WHERE debtor_type = $1 AND debtor_id = $2 AND reference_type = $3 AND reference_id = $4
	`, string(d.DebtorType), d.DebtorID, d.ReferenceType, d.ReferenceID))
	if err != nil {
		return core.Debt{}, false, dbErr("failed to fetch existing debt", err)
	}
	return existing, false, nil
}

func (s *Store) GetDebt(ctx context.Context, id string) (core.Debt, error) {
	d, err := scanDebt(s.q(ctx).QueryRow(ctx, `SELECT `+debtColumns+` FROM debts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.Debt{}, &core.NotFoundError{Entity: "debt", ID: id}
		}
		return core.Debt{}, dbErr("failed to fetch debt", err)
	}
	return d, nil
}

func (s *Store) UpdateDebt(ctx context.Context, d core.Debt) (core.Debt, error) {
	updated, err := scanDebt(s.q(ctx).QueryRow(ctx, `
		UPDATE debts SET
			remaining_amount = $3,
			due_date = $4,
			status = $5,
			description = $6,
			write_off_reason = $7,
			updated_at = $8,
			version = version + 1
		WHERE id = $1 AND version = $2
		RETURNING `+debtColumns,
		d.ID, d.Version, d.RemainingAmount, d.DueDate, string(d.Status), d.Description, d.WriteOffReason, d.UpdatedAt))
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return core.Debt{}, dbErr("failed to update debt", err)
	}
	if _, err := s.GetDebt(ctx, d.ID); err != nil {
		return core.Debt{}, err
	}
	return core.Debt{}, &core.ConcurrencyConflictError{Entity: "debt", ID: d.ID}
}

func (s *Store) DeleteDebt(ctx context.Context, id string) error {
	if _, err := s.q(ctx).Exec(ctx, `DELETE FROM debts WHERE id = $1`, id); err != nil {
		return dbErr("failed to delete debt", err)
	}
	return nil
}

func (s *Store) ListDebts(ctx context.Context, f core.DebtFilter) ([]core.Debt, error) {
	var w filter
	if f.DebtorType != "" {
		w.add("debtor_type = $%d", string(f.DebtorType))
	}
	if f.DebtorID != "" {
		w.add("debtor_id = $%d", f.DebtorID)
	}
	if f.ReferenceType != "" {
		w.add("reference_type = $%d", f.ReferenceType)
	}
	if f.ReferenceID != "" {
		w.add("reference_id = $%d", f.ReferenceID)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		w.add("status = ANY($%d)", statuses)
	}
	if !f.DueBefore.IsZero() {
		w.add("due_date < $%d", f.DueBefore)
	}
	sql := `SELECT ` + debtColumns + ` FROM debts` + w.where() + ` ORDER BY due_date, created_at` + w.page(f.Limit, f.Offset)

	rows, err := s.q(ctx).Query(ctx, sql, w.args...)
	if err != nil {
		return nil, dbErr("failed to list debts", err)
	}
	defer rows.Close()

	var out []core.Debt
	for rows.Next() {
		d, err := scanDebt(rows)
		if err != nil {
			return nil, dbErr("failed to scan debt", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("failed to read debts", err)
	}
	return out, nil
}

// ── Installments ──────────────────────────────────────────────────────────────

func (s *Store) ReplaceUnpaidInstallments(ctx context.Context, debtID string, installments []core.Installment) error {
	return s.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.q(ctx).Exec(ctx, `DELETE FROM installments WHERE debt_id = $1 AND status IN ($2, $3)`,
			debtID, string(core.InstallmentPending), string(core.InstallmentOverdue)); err != nil {
			return dbErr("failed to delete unpaid installments", err)
		}
		if len(installments) == 0 {
			return nil
		}
		batch := &pgx.Batch{}
		for _, in := range installments {
			batch.Queue(`
				INSERT INTO installments (id, debt_id, debtor_type, debtor_id, seq, amount, due_date, status, paid_at, notes)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			`, in.ID, in.DebtID, string(in.DebtorType), in.DebtorID, in.Seq, in.Amount, in.DueDate,
				string(in.Status), in.PaidAt, in.Notes)
		}
		if err := s.q(ctx).SendBatch(ctx, batch).Close(); err != nil {
			return dbErr("failed to insert installments", err)
		}
		return nil
	})
}

func (s *Store) ListInstallments(ctx context.Context, f core.InstallmentFilter) ([]core.Installment, error) {
	var w filter
	if f.DebtID != "" {
		w.add("debt_id = $%d", f.DebtID)
	}
	if f.DebtorType != "" {
		w.add("debtor_type = $%d", string(f.DebtorType))
	}
	if f.DebtorID != "" {
		w.add("debtor_id = $%d", f.DebtorID)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		w.add("status = ANY($%d)", statuses)
	}
	rows, err := s.q(ctx).Query(ctx, `
		SELECT id, debt_id, debtor_type, debtor_id, seq, amount, due_date, status, paid_at, notes
		FROM installments`+w.where()+` ORDER BY due_date, seq`, w.args...)
	if err != nil {
		return nil, dbErr("failed to list installments", err)
	}
	defer rows.Close()

	var out []core.Installment
	for rows.Next() {
		var in core.Installment
		var t, status string
		if err := rows.Scan(&in.ID, &in.DebtID, &t, &in.DebtorID, &in.Seq, &in.Amount, &in.DueDate,
			&status, &in.PaidAt, &in.Notes); err != nil {
			return nil, dbErr("failed to scan installment", err)
		}
		in.DebtorType, in.Status = core.DebtorType(t), core.InstallmentStatus(status)
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("failed to read installments", err)
	}
	return out, nil
}

func (s *Store) UpdateInstallment(ctx context.Context, in core.Installment) error {
	tag, err := s.q(ctx).Exec(ctx, `
		UPDATE installments SET amount = $2, due_date = $3, status = $4, paid_at = $5, notes = $6
		WHERE id = $1
	`, in.ID, in.Amount, in.DueDate, string(in.Status), in.PaidAt, in.Notes)
	if err != nil {
		return dbErr("failed to update installment", err)
	}
	if tag.RowsAffected() == 0 {
		return &core.NotFoundError{Entity: "installment", ID: in.ID}
	}
	return nil
}

func (s *Store) DeleteInstallments(ctx context.Context, debtID string) error {
	if _, err := s.q(ctx).Exec(ctx, `DELETE FROM installments WHERE debt_id = $1`, debtID); err != nil {
		return dbErr("failed to delete installments", err)
	}
	return nil
}
