/*
saga.go - Multi-record commits

PURPOSE:
  Some transitions touch several records at once: submitting a plan with
  its line items, batching items for delivery, confirming a delivery together
  with the tank stock it adds. They must be all-or-nothing.

STRATEGY:
  1. If the ledger implements BatchLedger, hand it every submission at once.
  2. Otherwise apply the submissions one by one. If step k fails, undo steps
     k-1..0 in reverse order:
       - a created record is tombstoned
       - an updated record gets its previous body back
     then report the original failure.

  The compensating writes are themselves compare-and-set on the version the
  forward step produced, so a compensation never overwrites a change made by
  someone else in between. Such a conflict is logged and reported alongside
  the original failure.
*/
package procurement

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// change is one step of a multi-record commit.
type change struct {
	rec    record
	sub    Submission
	before *Submission // nil when the step creates the record
}

// creating builds a step that creates rec.
func creating(rec record) (change, error) {
	sub, err := encode(rec)
	if err != nil {
		return change{}, err
	}
	sub.ExpectedVersion = 0
	return change{rec: rec, sub: sub}, nil
}

// updating builds a step from the encoded state before a mutation and the
// mutated record.
func updating(before Submission, rec record) (change, error) {
	sub, err := encode(rec)
	if err != nil {
		return change{}, err
	}
	return change{rec: rec, sub: sub, before: &before}, nil
}

// undo returns the compensating submission for a step that produced applied.
func (c change) undo(applied Envelope) Submission {
	if c.before == nil {
		return Submission{
			Kind:            c.sub.Kind,
			ID:              c.sub.ID,
			ExpectedVersion: applied.Version,
			Data:            c.sub.Data,
			Labels:          c.sub.Labels,
			Tombstone:       true,
		}
	}
	return Submission{
		Kind:            c.before.Kind,
		ID:              c.before.ID,
		ExpectedVersion: applied.Version,
		Data:            c.before.Data,
		Labels:          c.before.Labels,
	}
}

// commit applies every change or none of them.
func (e *Engine) commit(ctx context.Context, op string, changes []change) error {
	if len(changes) == 0 {
		return nil
	}
	if bl, ok := e.Ledger.(BatchLedger); ok {
		return e.commitBatch(ctx, bl, changes)
	}
	return e.commitSaga(ctx, op, changes)
}

func (e *Engine) commitBatch(ctx context.Context, bl BatchLedger, changes []change) error {
	subs := make([]Submission, len(changes))
	for i, c := range changes {
		subs[i] = c.sub
	}
	bctx, cancel := e.bounded(ctx)
	defer cancel()
	envs, err := bl.SubmitAll(bctx, subs)
	if err != nil {
		return ledgerErr(err)
	}
	for i, env := range envs {
		changes[i].rec.setVersion(env.Version)
	}
	return nil
}

func (e *Engine) commitSaga(ctx context.Context, op string, changes []change) error {
	applied := make([]Envelope, 0, len(changes))
	for _, c := range changes {
		env, err := e.submit(ctx, c.sub)
		if err != nil {
			if cerr := e.compensate(ctx, op, changes[:len(applied)], applied); cerr != nil {
				return fmt.Errorf("%w (compensation incomplete: %v)", err, cerr)
			}
			return err
		}
		applied = append(applied, env)
	}
	for i, env := range applied {
		changes[i].rec.setVersion(env.Version)
	}
	return nil
}

// compensate reverts applied steps in reverse order and keeps going past
// individual failures so that as much as possible is undone.
func (e *Engine) compensate(ctx context.Context, op string, changes []change, applied []Envelope) error {
	var errs []error
	for i := len(applied) - 1; i >= 0; i-- {
		c := changes[i]
		e.log().Warn("compensating saga step",
			zap.String("op", op),
			zap.String("kind", string(c.sub.Kind)),
			zap.String("id", c.sub.ID),
		)
		if _, err := e.submit(context.WithoutCancel(ctx), c.undo(applied[i])); err != nil {
			e.log().Error("compensation failed",
				zap.String("op", op),
				zap.String("kind", string(c.sub.Kind)),
				zap.String("id", c.sub.ID),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s %s: %w", c.sub.Kind, c.sub.ID, err))
		}
	}
	return errors.Join(errs...)
}
