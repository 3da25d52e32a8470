/*
tax.go - Tax assessment of an approved plan

PURPOSE:
  Fixes the gross (tax-inclusive) total of a plan once, at approval time:

    gross = net + applyRate(net, vat) + applyRate(net, fuelTax) + applyRate(net, withholding)
    applyRate(x, r) = round(x * r / 10000), half-up

FREEZE:
  The assessment stores the rate snapshot it used and sets Calculated.
  There is exactly one assessment per plan (its id is derived from the plan
  id) and it is never rewritten, so later edits of the rate table cannot
  change an assessed plan.

EXAMPLE:
  net 1,000,000.00 at VAT 11.00%, fuel tax 5.00%, withholding 0%
  → gross 1,160,000.00
*/
package procurement

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Validate rejects negative rates.
func (r TaxRates) Validate() error {
	if r.VAT.IsNegative() || r.FuelTax.IsNegative() || r.Withholding.IsNegative() {
		return ErrInvalidRate
	}
	return nil
}

// ComputeAssessment is the pure calculation behind Assess. It fails with
// ErrInvalidValue when a component or the gross total is out of range.
func ComputeAssessment(net Value, rates TaxRates) (TaxAssessment, error) {
	a := TaxAssessment{NetTotal: net, Rates: rates}
	var err error
	if a.VATAmount, err = net.ApplyRate(rates.VAT); err != nil {
		return TaxAssessment{}, fmt.Errorf("vat: %w", err)
	}
	if a.FuelTaxAmount, err = net.ApplyRate(rates.FuelTax); err != nil {
		return TaxAssessment{}, fmt.Errorf("fuel tax: %w", err)
	}
	if a.WithholdingAmount, err = net.ApplyRate(rates.Withholding); err != nil {
		return TaxAssessment{}, fmt.Errorf("withholding: %w", err)
	}
	if a.GrossTotal, err = Sum(net, a.VATAmount, a.FuelTaxAmount, a.WithholdingAmount); err != nil {
		return TaxAssessment{}, fmt.Errorf("gross total: %w", err)
	}
	return a, nil
}

func assessmentID(plan PlanID) string { return "tax-" + string(plan) }

// Assess creates the frozen tax assessment of an approved plan.
func (e *Engine) Assess(ctx context.Context, id PlanID, rates TaxRates, actor ActorID) (*TaxAssessment, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := rates.Validate(); err != nil {
		return nil, err
	}
	plan, err := e.Plan(ctx, id)
	if err != nil {
		return nil, err
	}
	if plan.State != PlanApproved {
		return nil, fmt.Errorf("%w: plan %s is %s", ErrPlanNotApproved, id, plan.State)
	}
	if _, err := e.Assessment(ctx, id); err == nil {
		return nil, fmt.Errorf("%w: plan %s", ErrAlreadyAssessed, id)
	} else if !errors.Is(err, ErrNotAssessed) {
		return nil, err
	}

	a, err := ComputeAssessment(plan.NetTotal, rates)
	if err != nil {
		return nil, fmt.Errorf("assess plan %s: %w", id, err)
	}
	a.ID = assessmentID(id)
	a.PlanID = id
	a.Calculated = true
	a.AssessedBy = actor
	a.AssessedAt = e.now()

	err = e.save(ctx, &a)
	if errors.Is(err, ErrStaleState) {
		// Someone else created it between our read and write.
		return nil, fmt.Errorf("%w: plan %s", ErrAlreadyAssessed, id)
	}
	if err != nil {
		return nil, fmt.Errorf("assess plan %s: %w", id, err)
	}

	e.log().Info("plan assessed",
		zap.String("plan_id", string(id)),
		zap.Stringer("net_total", a.NetTotal),
		zap.Stringer("gross_total", a.GrossTotal),
	)
	return &a, nil
}

// Assessment reads the assessment of a plan, or ErrNotAssessed.
func (e *Engine) Assessment(ctx context.Context, id PlanID) (*TaxAssessment, error) {
	a, err := load[TaxAssessment](ctx, e, KindAssessment, assessmentID(id))
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: plan %s", ErrNotAssessed, id)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ApproveAndAssess approves a plan and fixes its gross total in one call.
// If the assessment fails the approval stands and Assess can be retried.
func (e *Engine) ApproveAndAssess(ctx context.Context, id PlanID, actor ActorID, rates TaxRates) (*PurchasePlan, *TaxAssessment, error) {
	if err := rates.Validate(); err != nil {
		return nil, nil, err
	}
	plan, err := e.Approve(ctx, id, actor)
	if err != nil {
		return nil, nil, err
	}
	a, err := e.Assess(ctx, id, rates, actor)
	if err != nil {
		return plan, nil, err
	}
	return plan, a, nil
}
