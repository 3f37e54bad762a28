package memory

import (
	"context"
	"sort"
	"time"

	"retail-ledger/internal/core"
)

func (s *Store) InsertTransaction(_ context.Context, t core.TreasuryTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions[t.ID] = t
	return nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (core.TreasuryTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[id]
	if !ok {
		return core.TreasuryTransaction{}, &core.NotFoundError{Entity: "transaction", ID: id}
	}
	return t, nil
}

func (s *Store) DeleteTransaction(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.transactions, id)
	return nil
}

func (s *Store) ListTransactions(_ context.Context, f core.TransactionFilter) ([]core.TreasuryTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.TreasuryTransaction
	for _, t := range s.transactions {
		if f.Type != "" && t.Type != f.Type {
			continue
		}
		if f.ReferenceType != "" && t.ReferenceType != f.ReferenceType {
			continue
		}
		if f.ReferenceID != "" && t.ReferenceID != f.ReferenceID {
			continue
		}
		if f.PartnerID != "" && t.PartnerID != f.PartnerID {
			continue
		}
		if !f.From.IsZero() && t.Date.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && t.Date.After(f.To) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Date.After(out[j].Date)
	})
	return page(out, 0, f.Limit), nil
}

func (s *Store) InsertContribution(_ context.Context, c core.CashboxContribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contributions[c.ID] = c
	return nil
}

func (s *Store) GetContribution(_ context.Context, id string) (core.CashboxContribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contributions[id]
	if !ok {
		return core.CashboxContribution{}, &core.NotFoundError{Entity: "cashbox contribution", ID: id}
	}
	return c, nil
}

func (s *Store) DeleteContribution(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contributions, id)
	return nil
}

func (s *Store) UpdateCashbox(_ context.Context, day time.Time, fn func(c *core.CashboxDaily, prior *core.CashboxDaily) error) (core.CashboxDaily, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	day = core.DayOf(day)
	c, ok := s.cashboxes[day]
	var prior *core.CashboxDaily
	if !ok {
		c = core.CashboxDaily{Date: day}
		prior = s.priorCashbox(day)
	}
	if err := fn(&c, prior); err != nil {
		return core.CashboxDaily{}, err
	}
	c.ManualIncome, c.ManualExpenses = nil, nil
	s.cashboxes[day] = c
	return s.withManualEntries(c), nil
}

func (s *Store) priorCashbox(day time.Time) *core.CashboxDaily {
	var best *core.CashboxDaily
	for d, c := range s.cashboxes {
		if !d.Before(day) {
			continue
		}
		if best == nil || d.After(best.Date) {
			cp := c
			best = &cp
		}
	}
	return best
}

func (s *Store) withManualEntries(c core.CashboxDaily) core.CashboxDaily {
	for _, contrib := range s.contributions {
		if !contrib.Date.Equal(c.Date) {
			continue
		}
		switch contrib.Bucket {
		case core.BucketManualIncome:
			c.ManualIncome = append(c.ManualIncome, contrib)
		case core.BucketManualExpense:
			c.ManualExpenses = append(c.ManualExpenses, contrib)
		}
	}
	byTime := func(list []core.CashboxContribution) {
		sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	}
	byTime(c.ManualIncome)
	byTime(c.ManualExpenses)
	return c
}

func (s *Store) GetCashbox(_ context.Context, day time.Time) (core.CashboxDaily, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	day = core.DayOf(day)
	c, ok := s.cashboxes[day]
	if !ok {
		return core.CashboxDaily{}, &core.NotFoundError{Entity: "cashbox", ID: day.Format("2006-01-02")}
	}
	return s.withManualEntries(c), nil
}

func (s *Store) LatestCashbox(_ context.Context) (core.CashboxDaily, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *core.CashboxDaily
	for d, c := range s.cashboxes {
		if latest == nil || d.After(latest.Date) {
			cp := c
			latest = &cp
		}
	}
	if latest == nil {
		return core.CashboxDaily{}, &core.NotFoundError{Entity: "cashbox", ID: "latest"}
	}
	return *latest, nil
}

func (s *Store) ListCashboxes(_ context.Context, from, to time.Time) ([]core.CashboxDaily, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.CashboxDaily
	for d, c := range s.cashboxes {
		if !from.IsZero() && d.Before(from) {
			continue
		}
		if !to.IsZero() && d.After(to) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}
