// Package memory is an in-process store. It has no multi-record
// transactions, so compound operations over it run as compensated sagas.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"retail-ledger/internal/core"
)

type Store struct {
	mu sync.Mutex

	sequences     map[string]int64
	products      map[string]core.Product
	movements     []core.StockMovement
	debtors       map[debtorKey]core.Debtor
	debts         map[string]core.Debt
	installments  map[string]core.Installment
	transactions  map[string]core.TreasuryTransaction
	contributions map[string]core.CashboxContribution
	cashboxes     map[time.Time]core.CashboxDaily
	invoices      map[string]core.Invoice
	purchases     map[string]core.PurchaseOrder
	returns       map[string]core.SalesReturn
	dailySales    map[time.Time]core.DailySales
	auditLogs     []core.AuditEntry
}

type debtorKey struct {
	t  core.DebtorType
	id string
}

var _ core.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		sequences:     map[string]int64{},
		products:      map[string]core.Product{},
		debtors:       map[debtorKey]core.Debtor{},
		debts:         map[string]core.Debt{},
		installments:  map[string]core.Installment{},
		transactions:  map[string]core.TreasuryTransaction{},
		contributions: map[string]core.CashboxContribution{},
		cashboxes:     map[time.Time]core.CashboxDaily{},
		invoices:      map[string]core.Invoice{},
		purchases:     map[string]core.PurchaseOrder{},
		returns:       map[string]core.SalesReturn{},
		dailySales:    map[time.Time]core.DailySales{},
	}
}

func (s *Store) SupportsAtomicTransactions() bool { return false }

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (s *Store) NextSequence(_ context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequences[name]++
	return s.sequences[name], nil
}

// ── Catalog ───────────────────────────────────────────────────────────────────

func (s *Store) UpsertProduct(_ context.Context, p core.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.products[p.ID]; ok {
		cur.Code, cur.Name = p.Code, p.Name
		cur.UpdatedAt = time.Now().UTC()
		s.products[p.ID] = cur
		return nil
	}
	p.StockQty = p.WarehouseQty.Add(p.ShopQty)
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	s.products[p.ID] = p
	return nil
}

func (s *Store) UpsertDebtor(_ context.Context, d core.Debtor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := debtorKey{d.Type, d.ID}
	if cur, ok := s.debtors[k]; ok {
		cur.Name = d.Name
		s.debtors[k] = cur
		return nil
	}
	s.debtors[k] = d
	return nil
}

// ── Products ──────────────────────────────────────────────────────────────────

func (s *Store) GetProduct(_ context.Context, id string) (core.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return core.Product{}, &core.NotFoundError{Entity: "product", ID: id}
	}
	return p, nil
}

// ApplyStockDeltas works on copies and only writes them back once every delta passed.
func (s *Store) ApplyStockDeltas(_ context.Context, deltas []core.StockDelta) ([]core.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	work := map[string]core.Product{}
	out := make([]core.Product, 0, len(deltas))
	now := time.Now().UTC()
	for _, d := range deltas {
		p, ok := work[d.ProductID]
		if !ok {
			if p, ok = s.products[d.ProductID]; !ok {
				return nil, &core.NotFoundError{Entity: "product", ID: d.ProductID}
			}
		}
		wh := p.WarehouseQty.Add(d.WarehouseDelta)
		shop := p.ShopQty.Add(d.ShopDelta)
		if !d.Override {
			if wh.IsNegative() {
				return nil, shortfall(p, core.LocationWarehouse, d.WarehouseDelta)
			}
			if shop.IsNegative() {
				return nil, shortfall(p, core.LocationShop, d.ShopDelta)
			}
		}
		if d.Reprice != nil {
			p.BuyPrice = d.Reprice(p)
		}
		p.WarehouseQty, p.ShopQty = wh, shop
		p.StockQty = wh.Add(shop)
		p.UpdatedAt = now
		work[p.ID] = p
		out = append(out, p)
	}
	for id, p := range work {
		s.products[id] = p
	}
	return out, nil
}

func shortfall(p core.Product, loc core.Location, delta decimal.Decimal) error {
	return &core.InsufficientStockError{
		ProductID:   p.ID,
		ProductName: p.Name,
		Location:    loc,
		Required:    delta.Neg(),
		Available:   p.QtyAt(loc),
	}
}

func (s *Store) SetStockLevels(_ context.Context, productID string, warehouseQty, shopQty decimal.Decimal, buyPrice *decimal.Decimal) (core.Product, core.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before, ok := s.products[productID]
	if !ok {
		return core.Product{}, core.Product{}, &core.NotFoundError{Entity: "product", ID: productID}
	}
	after := before
	after.WarehouseQty, after.ShopQty = warehouseQty, shopQty
	after.StockQty = warehouseQty.Add(shopQty)
	if buyPrice != nil {
		after.BuyPrice = *buyPrice
	}
	after.UpdatedAt = time.Now().UTC()
	s.products[productID] = after
	return before, after, nil
}

func (s *Store) InsertMovements(_ context.Context, movements []core.StockMovement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.movements = append(s.movements, movements...)
	return nil
}

func (s *Store) ListMovements(_ context.Context, f core.MovementFilter) ([]core.StockMovement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.StockMovement
	for i := len(s.movements) - 1; i >= 0; i-- {
		m := s.movements[i]
		if f.ProductID != "" && m.ProductID != f.ProductID {
			continue
		}
		if f.Kind != "" && m.Kind != f.Kind {
			continue
		}
		if !f.From.IsZero() && m.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && m.CreatedAt.After(f.To) {
			continue
		}
		out = append(out, m)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// ── Debtors and debts ─────────────────────────────────────────────────────────

func (s *Store) GetDebtor(_ context.Context, t core.DebtorType, id string) (core.Debtor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.debtors[debtorKey{t, id}]
	if !ok {
		return core.Debtor{}, &core.NotFoundError{Entity: string(t), ID: id}
	}
	return d, nil
}

func (s *Store) IncrementDebtor(_ context.Context, t core.DebtorType, id string, delta core.DebtorDelta) (core.Debtor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := debtorKey{t, id}
	d, ok := s.debtors[k]
	if !ok {
		return core.Debtor{}, &core.NotFoundError{Entity: string(t), ID: id}
	}
	d.Balance = d.Balance.Add(delta.Balance)
	d.CreditBalance = d.CreditBalance.Add(delta.CreditBalance)
	d.TotalPurchases = d.TotalPurchases.Add(delta.TotalPurchases)
	if delta.LastPurchaseAt != nil {
		at := *delta.LastPurchaseAt
		d.LastPurchaseDate = &at
	}
	s.debtors[k] = d
	return d, nil
}

func (s *Store) InsertDebtIfAbsent(_ context.Context, d core.Debt) (core.Debt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.debts {
		if existing.DebtorType == d.DebtorType && existing.DebtorID == d.DebtorID &&
			existing.ReferenceType == d.ReferenceType && existing.ReferenceID == d.ReferenceID {
			return existing, false, nil
		}
	}
	d.Version = 1
	s.debts[d.ID] = d
	return d, true, nil
}

func (s *Store) GetDebt(_ context.Context, id string) (core.Debt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.debts[id]
	if !ok {
		return core.Debt{}, &core.NotFoundError{Entity: "debt", ID: id}
	}
	return d, nil
}

func (s *Store) UpdateDebt(_ context.Context, d core.Debt) (core.Debt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.debts[d.ID]
	if !ok {
		return core.Debt{}, &core.NotFoundError{Entity: "debt", ID: d.ID}
	}
	if cur.Version != d.Version {
		return core.Debt{}, &core.ConcurrencyConflictError{Entity: "debt", ID: d.ID}
	}
	d.Version++
	s.debts[d.ID] = d
	return d, nil
}

func (s *Store) DeleteDebt(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.debts, id)
	return nil
}

func (s *Store) ListDebts(_ context.Context, f core.DebtFilter) ([]core.Debt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Debt
	for _, d := range s.debts {
		if f.DebtorType != "" && d.DebtorType != f.DebtorType {
			continue
		}
		if f.DebtorID != "" && d.DebtorID != f.DebtorID {
			continue
		}
		if f.ReferenceType != "" && d.ReferenceType != f.ReferenceType {
			continue
		}
		if f.ReferenceID != "" && d.ReferenceID != f.ReferenceID {
			continue
		}
		if len(f.Statuses) > 0 && !containsStatus(f.Statuses, d.Status) {
			continue
		}
		if !f.DueBefore.IsZero() && !d.DueDate.Before(f.DueBefore) {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].DueDate.Before(out[j].DueDate)
	})
	return page(out, f.Offset, f.Limit), nil
}

func containsStatus(list []core.DebtStatus, s core.DebtStatus) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

// ── Installments ──────────────────────────────────────────────────────────────

func (s *Store) ReplaceUnpaidInstallments(_ context.Context, debtID string, installments []core.Installment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, in := range s.installments {
		if in.DebtID == debtID && (in.Status == core.InstallmentPending || in.Status == core.InstallmentOverdue) {
			delete(s.installments, id)
		}
	}
	for _, in := range installments {
		s.installments[in.ID] = in
	}
	return nil
}

func (s *Store) ListInstallments(_ context.Context, f core.InstallmentFilter) ([]core.Installment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Installment
	for _, in := range s.installments {
		if f.DebtID != "" && in.DebtID != f.DebtID {
			continue
		}
		if f.DebtorType != "" && in.DebtorType != f.DebtorType {
			continue
		}
		if f.DebtorID != "" && in.DebtorID != f.DebtorID {
			continue
		}
		if len(f.Statuses) > 0 {
			match := false
			for _, st := range f.Statuses {
				if in.Status == st {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].Seq < out[j].Seq
		}
		return out[i].DueDate.Before(out[j].DueDate)
	})
	return out, nil
}

func (s *Store) UpdateInstallment(_ context.Context, in core.Installment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.installments[in.ID]; !ok {
		return &core.NotFoundError{Entity: "installment", ID: in.ID}
	}
	s.installments[in.ID] = in
	return nil
}

func (s *Store) DeleteInstallments(_ context.Context, debtID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, in := range s.installments {
		if in.DebtID == debtID {
			delete(s.installments, id)
		}
	}
	return nil
}
