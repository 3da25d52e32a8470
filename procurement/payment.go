/*
payment.go - Installment payments with two-party sign-off

PURPOSE:
  Tracks payments against the frozen gross total of a plan. Each payment
  needs two sequential sign-offs before it counts:

    submitted ──ConfirmFirstParty──▶ first signed ──ConfirmSecondParty──▶ counted

BALANCE:
  PaidToDate       = Σ amount of payments with both slots filled
  RemainingBalance = max(0, gross − PaidToDate)

  Unsigned and half-signed payments never change PaidToDate.

OVER-PAYMENT:
  No upper bound is enforced by default: advance and partial payments are
  reconciled later. Setting Engine.MaxOverpaymentTolerance turns on a check
  at submission time against the sum of every live payment, signed or not.

DELETION:
  A payment can be deleted (tombstoned) only while the first-party slot is
  empty. After that its history is part of the audit trail.
*/
package procurement

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// SubmitPayment records a new payment with both sign-off slots empty.
func (e *Engine) SubmitPayment(ctx context.Context, id PlanID, amount Value, bank BankDetails, actor ActorID) (*Payment, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidAmount, amount)
	}
	a, err := e.Assessment(ctx, id)
	if err != nil {
		return nil, err
	}

	// Live payments of a plan always sum within range.
	payments, err := e.Payments(ctx, id)
	if err != nil {
		return nil, err
	}
	amounts := []Value{amount}
	for _, p := range payments {
		amounts = append(amounts, p.Amount)
	}
	submitted, err := Sum(amounts...)
	if err != nil {
		return nil, fmt.Errorf("%w: payments of plan %s: %w", ErrInvalidAmount, id, err)
	}
	if tol := e.MaxOverpaymentTolerance; tol != nil {
		if limit := a.GrossTotal.Add(*tol); submitted.GreaterThan(limit) {
			return nil, fmt.Errorf("%w: submitted %s exceeds %s", ErrOverpayment, submitted, limit)
		}
	}

	p := &Payment{
		ID:          PaymentID(e.newID()),
		PlanID:      id,
		Bank:        bank,
		Amount:      amount,
		SubmittedBy: actor,
		SubmittedAt: e.now(),
	}
	if err := e.save(ctx, p); err != nil {
		return nil, fmt.Errorf("submit payment for plan %s: %w", id, err)
	}

	e.log().Info("payment submitted",
		zap.String("payment_id", string(p.ID)),
		zap.String("plan_id", string(id)),
		zap.Stringer("amount", amount),
	)
	return p, nil
}

// Payment reads one payment.
func (e *Engine) Payment(ctx context.Context, id PaymentID) (*Payment, error) {
	p, err := load[Payment](ctx, e, KindPayment, string(id))
	if err != nil {
		return nil, fmt.Errorf("payment %s: %w", id, err)
	}
	return p, nil
}

// Payments lists the live payments of a plan.
func (e *Engine) Payments(ctx context.Context, id PlanID) ([]*Payment, error) {
	return loadAll[Payment](ctx, e, KindPayment, Filter{LabelPlanID: string(id)})
}

// ConfirmFirstParty fills the first sign-off slot.
func (e *Engine) ConfirmFirstParty(ctx context.Context, id PaymentID, actor ActorID) (*Payment, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	p, err := e.Payment(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.FirstParty != nil {
		return nil, fmt.Errorf("%w: first party of payment %s signed by %s", ErrAlreadySigned, id, p.FirstParty.Actor)
	}
	p.FirstParty = &Signoff{Actor: actor, At: e.now()}
	if err := e.save(ctx, p); err != nil {
		return nil, fmt.Errorf("first sign-off of payment %s: %w", id, err)
	}
	e.logSignoff(p, "first", actor)
	return p, nil
}

// ConfirmSecondParty fills the second sign-off slot. Only after this does
// the payment count toward paid-to-date.
func (e *Engine) ConfirmSecondParty(ctx context.Context, id PaymentID, actor ActorID) (*Payment, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	p, err := e.Payment(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.FirstParty == nil {
		return nil, fmt.Errorf("%w: payment %s", ErrFirstPartyPending, id)
	}
	if p.SecondParty != nil {
		return nil, fmt.Errorf("%w: second party of payment %s signed by %s", ErrAlreadySigned, id, p.SecondParty.Actor)
	}
	if p.FirstParty.Actor == actor {
		return nil, fmt.Errorf("%w: %s", ErrSameSigner, actor)
	}
	at := e.now()
	if at < p.FirstParty.At {
		at = p.FirstParty.At
	}
	p.SecondParty = &Signoff{Actor: actor, At: at}
	if err := e.save(ctx, p); err != nil {
		return nil, fmt.Errorf("second sign-off of payment %s: %w", id, err)
	}
	e.logSignoff(p, "second", actor)
	return p, nil
}

// DeletePayment tombstones a payment nobody has signed yet.
func (e *Engine) DeletePayment(ctx context.Context, id PaymentID) error {
	p, err := e.Payment(ctx, id)
	if err != nil {
		return err
	}
	if p.FirstParty != nil {
		return fmt.Errorf("%w: payment %s", ErrCannotDeleteSignedPayment, id)
	}
	sub, err := encode(p)
	if err != nil {
		return err
	}
	sub.Tombstone = true
	if _, err := e.submit(ctx, sub); err != nil {
		return fmt.Errorf("delete payment %s: %w", id, err)
	}
	e.log().Info("payment deleted",
		zap.String("payment_id", string(id)),
		zap.String("plan_id", string(p.PlanID)),
	)
	return nil
}

func (e *Engine) logSignoff(p *Payment, slot string, actor ActorID) {
	e.log().Info("payment signed",
		zap.String("payment_id", string(p.ID)),
		zap.String("plan_id", string(p.PlanID)),
		zap.String("slot", slot),
		zap.String("actor", string(actor)),
	)
}

// =============================================================================
// BALANCE QUERIES
// =============================================================================

// PaymentBalance summarizes the payments of an assessed plan.
type PaymentBalance struct {
	PlanID     PlanID `json:"plan_id"`
	GrossTotal Value  `json:"gross_total"`
	PaidToDate Value  `json:"paid_to_date"`
	// Pending is the sum of payments that are not fully signed.
	Pending   Value `json:"pending"`
	Remaining Value `json:"remaining"`
	// Overpaid is how far PaidToDate exceeds the gross total.
	Overpaid Value `json:"overpaid"`
	Payments int   `json:"payments"`
}

// SettlePayments computes the balance of a set of payments against a gross
// total. It is pure so reporting code can reuse it.
func SettlePayments(gross Value, payments []*Payment) PaymentBalance {
	var b PaymentBalance
	b.GrossTotal = gross
	b.Payments = len(payments)
	for _, p := range payments {
		if p.FullySigned() {
			b.PaidToDate = b.PaidToDate.Add(p.Amount)
		} else {
			b.Pending = b.Pending.Add(p.Amount)
		}
	}
	b.Remaining = gross.Sub(b.PaidToDate).Max(0)
	b.Overpaid = b.PaidToDate.Sub(gross).Max(0)
	return b
}

// PaidToDate sums the fully signed payments of a plan.
func (e *Engine) PaidToDate(ctx context.Context, id PlanID) (Value, error) {
	payments, err := e.Payments(ctx, id)
	if err != nil {
		return 0, err
	}
	return SettlePayments(0, payments).PaidToDate, nil
}

// RemainingBalance is max(0, gross − paid-to-date).
func (e *Engine) RemainingBalance(ctx context.Context, id PlanID) (Value, error) {
	b, err := e.Balance(ctx, id)
	if err != nil {
		return 0, err
	}
	return b.Remaining, nil
}

// Balance returns the full payment summary of an assessed plan.
func (e *Engine) Balance(ctx context.Context, id PlanID) (PaymentBalance, error) {
	a, err := e.Assessment(ctx, id)
	if err != nil {
		return PaymentBalance{}, err
	}
	payments, err := e.Payments(ctx, id)
	if err != nil {
		return PaymentBalance{}, err
	}
	b := SettlePayments(a.GrossTotal, payments)
	b.PlanID = id
	return b, nil
}
