package memory

import (
	"context"
	"sort"
	"time"

	"retail-ledger/internal/core"
)

func cloneInvoice(inv core.Invoice) core.Invoice {
	out := inv
	out.Items = append([]core.InvoiceItem(nil), inv.Items...)
	out.Payments = append([]core.InvoicePayment(nil), inv.Payments...)
	if inv.Reversal != nil {
		r := *inv.Reversal
		r.Done = append([]string(nil), inv.Reversal.Done...)
		out.Reversal = &r
	}
	return out
}

func clonePurchaseOrder(po core.PurchaseOrder) core.PurchaseOrder {
	out := po
	out.Items = append([]core.PurchaseItem(nil), po.Items...)
	if po.Reversal != nil {
		r := *po.Reversal
		r.Done = append([]string(nil), po.Reversal.Done...)
		out.Reversal = &r
	}
	return out
}

func (s *Store) InsertInvoice(_ context.Context, inv core.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.invoices[inv.ID]; ok {
		return core.NewValidationError("id", "invoice %s already exists", inv.ID)
	}
	s.invoices[inv.ID] = cloneInvoice(inv)
	return nil
}

func (s *Store) GetInvoice(_ context.Context, id string) (core.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return core.Invoice{}, &core.NotFoundError{Entity: "invoice", ID: id}
	}
	return cloneInvoice(inv), nil
}

func (s *Store) UpdateInvoice(_ context.Context, inv core.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.invoices[inv.ID]; !ok {
		return &core.NotFoundError{Entity: "invoice", ID: inv.ID}
	}
	s.invoices[inv.ID] = cloneInvoice(inv)
	return nil
}

func (s *Store) DeleteInvoice(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.invoices, id)
	return nil
}

func (s *Store) InsertPurchaseOrder(_ context.Context, po core.PurchaseOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.purchases[po.ID]; ok {
		return core.NewValidationError("id", "purchase order %s already exists", po.ID)
	}
	s.purchases[po.ID] = clonePurchaseOrder(po)
	return nil
}

func (s *Store) GetPurchaseOrder(_ context.Context, id string) (core.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	po, ok := s.purchases[id]
	if !ok {
		return core.PurchaseOrder{}, &core.NotFoundError{Entity: "purchase order", ID: id}
	}
	return clonePurchaseOrder(po), nil
}

func (s *Store) UpdatePurchaseOrder(_ context.Context, po core.PurchaseOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.purchases[po.ID]; !ok {
		return &core.NotFoundError{Entity: "purchase order", ID: po.ID}
	}
	s.purchases[po.ID] = clonePurchaseOrder(po)
	return nil
}

func (s *Store) InsertSalesReturn(_ context.Context, r core.SalesReturn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.Items = append([]core.ReturnItem(nil), r.Items...)
	s.returns[r.ID] = r
	return nil
}

func (s *Store) DeleteSalesReturn(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.returns, id)
	return nil
}

func (s *Store) ListSalesReturns(_ context.Context, invoiceID string) ([]core.SalesReturn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.SalesReturn
	for _, r := range s.returns {
		if invoiceID == "" || r.InvoiceID == invoiceID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) IncrementDailySales(_ context.Context, day time.Time, d core.DailySalesDelta) (core.DailySales, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	day = core.DayOf(day)
	row, ok := s.dailySales[day]
	if !ok {
		row = core.DailySales{Date: day}
	}
	row.Revenue = row.Revenue.Add(d.Revenue)
	row.Cost = row.Cost.Add(d.Cost)
	row.Profit = row.Revenue.Sub(row.Cost)
	row.InvoiceCount += d.InvoiceCount
	row.ItemsSold = row.ItemsSold.Add(d.ItemsSold)
	row.CashSales = row.CashSales.Add(d.CashSales)
	row.CreditSales = row.CreditSales.Add(d.CreditSales)
	s.dailySales[day] = row
	return row, nil
}

func (s *Store) GetDailySales(_ context.Context, day time.Time) (core.DailySales, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	day = core.DayOf(day)
	row, ok := s.dailySales[day]
	if !ok {
		return core.DailySales{}, &core.NotFoundError{Entity: "daily sales", ID: day.Format("2006-01-02")}
	}
	return row, nil
}

func (s *Store) LogAction(_ context.Context, e core.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditLogs = append(s.auditLogs, e)
	return nil
}

// AuditLogs returns the recorded audit entries, oldest first.
func (s *Store) AuditLogs() []core.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.AuditEntry(nil), s.auditLogs...)
}
