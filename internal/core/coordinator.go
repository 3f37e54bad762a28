package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Coordinator runs the compound business operations that touch several
// ledgers. On a store with atomic transactions every operation commits or
// rolls back as a unit; otherwise applied steps are compensated in reverse
// order and a PartialApplicationError reports what happened.
type Coordinator struct {
	store    Store
	stock    StockLedger
	debts    DebtLedger
	treasury TreasuryLedger
	actions  ActionLogger
	policy   Policy
	log      zerolog.Logger
}

// NewCoordinator wires the three ledgers over store. actions may be nil.
func NewCoordinator(store Store, receipts ReceiptCounter, actions ActionLogger, policy Policy, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		store:    store,
		stock:    NewStockLedger(store, policy, log),
		debts:    NewDebtLedger(store, policy, log),
		treasury: NewTreasuryLedger(store, receipts, policy, log),
		actions:  actions,
		policy:   policy,
		log:      log.With().Str("component", "coordinator").Logger(),
	}
}

func (c *Coordinator) Stock() StockLedger       { return c.stock }
func (c *Coordinator) Debts() DebtLedger        { return c.debts }
func (c *Coordinator) Treasury() TreasuryLedger { return c.treasury }

// Outcome tells the caller how a compound operation was applied.
type Outcome struct {
	Atomic bool     `json:"atomic"`
	Steps  []string `json:"steps"`
}

type step struct {
	name       string
	apply      func(ctx context.Context) error
	compensate func(ctx context.Context) error
}

func stepNames(steps []step) []string {
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.name
	}
	return names
}

// execute applies steps in order.
func (c *Coordinator) execute(ctx context.Context, op string, steps []step) (Outcome, error) {
	if c.store.SupportsAtomicTransactions() {
		err := c.store.RunInTx(ctx, func(ctx context.Context) error {
			for _, s := range steps {
				if err := s.apply(ctx); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return Outcome{Atomic: true}, err
		}
		return Outcome{Atomic: true, Steps: stepNames(steps)}, nil
	}

	var done []step
	for _, s := range steps {
		err := s.apply(ctx)
		if err == nil {
			done = append(done, s)
			continue
		}
		if len(done) == 0 {
			return Outcome{}, err
		}
		perr := &PartialApplicationError{Operation: op, Completed: stepNames(done), Failed: s.name, Err: err}
		cctx := context.WithoutCancel(ctx)
		for i := len(done) - 1; i >= 0; i-- {
			d := done[i]
			if d.compensate == nil {
				perr.Uncompensated = append(perr.Uncompensated, d.name)
				continue
			}
			if cerr := d.compensate(cctx); cerr != nil {
				c.log.Error().Err(cerr).Str("operation", op).Str("step", d.name).Msg("compensation failed")
				perr.Uncompensated = append(perr.Uncompensated, d.name)
				continue
			}
			perr.Compensated = append(perr.Compensated, d.name)
		}
		ev := c.log.Warn()
		if perr.NeedsReconciliation() {
			ev = c.log.Error()
		}
		ev.Err(err).Str("operation", op).Str("failed", s.name).Strs("compensated", perr.Compensated).
			Strs("uncompensated", perr.Uncompensated).Msg("compound operation rolled back by compensation")
		return Outcome{Steps: perr.Completed}, perr
	}
	return Outcome{Steps: stepNames(steps)}, nil
}

// resume applies the steps of a reversal that progress does not list yet.
// Without atomic transactions each finished step is checkpointed through save
// so that a failed reversal can be invoked again and continue where it stopped.
func (c *Coordinator) resume(ctx context.Context, op string, steps []step, progress *ReversalProgress, save func(ctx context.Context) error) (Outcome, error) {
	var pending []step
	for _, s := range steps {
		if !progress.has(s.name) {
			pending = append(pending, s)
		}
	}
	if c.store.SupportsAtomicTransactions() {
		return c.execute(ctx, op, pending)
	}
	for i, s := range pending {
		if err := s.apply(ctx); err != nil {
			if len(progress.Done) == 0 {
				return Outcome{}, err
			}
			c.log.Warn().Err(err).Str("operation", op).Str("failed", s.name).Strs("done", progress.Done).
				Msg("reversal interrupted, re-invoke to resume")
			return Outcome{Steps: progress.Done}, &PartialApplicationError{
				Operation:     op,
				Completed:     append([]string(nil), progress.Done...),
				Failed:        s.name,
				Uncompensated: append([]string(nil), progress.Done...),
				Err:           err,
			}
		}
		progress.Done = append(progress.Done, s.name)
		if i == len(pending)-1 {
			break
		}
		if err := save(ctx); err != nil && !errors.Is(err, ErrNotFound) {
			return Outcome{Steps: progress.Done}, &PartialApplicationError{
				Operation:     op,
				Completed:     append([]string(nil), progress.Done...),
				Failed:        "save reversal progress",
				Uncompensated: append([]string(nil), progress.Done...),
				Err:           err,
			}
		}
	}
	return Outcome{Steps: stepNames(steps)}, nil
}

// withRetry runs fn again once when it lost a concurrency race and left
// nothing behind.
func (c *Coordinator) withRetry(ctx context.Context, op string, fn func() error) error {
	err := fn()
	if err == nil || !errors.Is(err, ErrConcurrencyConflict) || ctx.Err() != nil {
		return err
	}
	var perr *PartialApplicationError
	if errors.As(err, &perr) && perr.NeedsReconciliation() {
		return err
	}
	c.log.Info().Err(err).Str("operation", op).Msg("retrying after concurrency conflict")
	return fn()
}

// audit records an action log entry. Failures are logged and swallowed.
func (c *Coordinator) audit(ctx context.Context, e AuditEntry) {
	if c.actions == nil {
		return
	}
	e.ID = uuid.NewString()
	e.CreatedAt = c.policy.now()
	if err := c.actions.LogAction(context.WithoutCancel(ctx), e); err != nil {
		c.log.Warn().Err(err).Str("action", e.Action).Str("entity", e.Entity).Str("entity_id", e.EntityID).
			Msg("failed to write audit log")
	}
}

func (c *Coordinator) nextNumber(ctx context.Context, counter, prefix string) (string, error) {
	n, err := c.store.NextSequence(ctx, counter)
	if err != nil {
		return "", WrapInternal("next "+counter+" number", err)
	}
	return fmt.Sprintf("%s-%06d", prefix, n), nil
}
