/*
plan.go - Purchase plan submission and approval

PURPOSE:
  A station submits a purchase plan together with its line items. A single
  actor then approves or rejects it. The decision is terminal.

STATE MACHINE:
  ┌─────────┐  Approve(actor)        ┌──────────┐
  │ pending │ ─────────────────────▶ │ approved │ ──▶ Assess, payments, fulfillment
  └─────────┘                        └──────────┘
       │       Reject(actor, note)   ┌──────────┐
       └───────────────────────────▶ │ rejected │ ──▶ queryable, dead end
                                     └──────────┘

INVARIANTS:
  - Decision is nil ⇔ state is pending
  - RejectionNote is non-empty ⇔ state is rejected
  - Price and quantity of the items never change after submission

CONCURRENCY:
  Approve and Reject are compare-and-set on the version that was read. If
  another actor decided in between, the ledger rejects the write and the
  caller gets ErrStaleState; re-reading then reports ErrAlreadyDecided.

SEE ALSO:
  - lineitem.go: Fulfillment stages of the items
  - tax.go:      Assessment performed once the plan is approved
*/
package procurement

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// =============================================================================
// SUBMISSION
// =============================================================================

// LineDraft is one line of a plan being submitted.
type LineDraft struct {
	ProductID ProductID
	TankID    TankID
	UnitPrice Value
	Quantity  Value
	Unit      string
}

// PlanDraft is the input to SubmitPlan.
type PlanDraft struct {
	StationID   StationID
	SubmittedBy ActorID
	// SubmittedAt defaults to now when zero.
	SubmittedAt int64
	Lines       []LineDraft
}

// SubmitPlan creates a pending plan and its line items in one commit.
func (e *Engine) SubmitPlan(ctx context.Context, draft PlanDraft) (*PurchasePlan, []PlanLineItem, error) {
	if err := requireActor(draft.SubmittedBy); err != nil {
		return nil, nil, err
	}
	if draft.StationID == "" {
		return nil, nil, fmt.Errorf("%w: station is required", ErrInvalidLineItem)
	}
	if len(draft.Lines) == 0 {
		return nil, nil, ErrNoLineItems
	}

	at := draft.SubmittedAt
	if at == 0 {
		at = e.now()
	}
	plan := &PurchasePlan{
		ID:          PlanID(e.newID()),
		StationID:   draft.StationID,
		SubmittedBy: draft.SubmittedBy,
		SubmittedAt: at,
		State:       PlanPending,
	}

	items := make([]PlanLineItem, len(draft.Lines))
	subtotals := make([]Value, len(draft.Lines))
	for i, l := range draft.Lines {
		if err := validateLine(i, l); err != nil {
			return nil, nil, err
		}
		subtotal, err := l.UnitPrice.MulQuantity(l.Quantity)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: line %d subtotal: %w", ErrInvalidLineItem, i, err)
		}
		subtotals[i] = subtotal
		items[i] = PlanLineItem{
			ID:        LineItemID(e.newID()),
			PlanID:    plan.ID,
			ProductID: l.ProductID,
			TankID:    l.TankID,
			UnitPrice: l.UnitPrice,
			Quantity:  l.Quantity,
			Unit:      l.Unit,
			Subtotal:  subtotal,
		}
	}
	net, err := Sum(subtotals...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: net total: %w", ErrInvalidLineItem, err)
	}
	plan.NetTotal = net

	changes := make([]change, 0, len(items)+1)
	for i := range items {
		c, err := creating(&items[i])
		if err != nil {
			return nil, nil, err
		}
		changes = append(changes, c)
	}
	c, err := creating(plan)
	if err != nil {
		return nil, nil, err
	}
	changes = append(changes, c)

	if err := e.commit(ctx, "submit_plan", changes); err != nil {
		return nil, nil, fmt.Errorf("submit plan: %w", err)
	}

	e.log().Info("plan submitted",
		zap.String("plan_id", string(plan.ID)),
		zap.String("station_id", string(plan.StationID)),
		zap.Int("items", len(items)),
		zap.Stringer("net_total", plan.NetTotal),
	)
	return plan, items, nil
}

func validateLine(i int, l LineDraft) error {
	switch {
	case l.ProductID == "":
		return fmt.Errorf("%w: line %d: product is required", ErrInvalidLineItem, i)
	case l.TankID == "":
		return fmt.Errorf("%w: line %d: destination tank is required", ErrInvalidLineItem, i)
	case l.UnitPrice.IsNegative():
		return fmt.Errorf("%w: line %d: unit price cannot be negative", ErrInvalidLineItem, i)
	case !l.Quantity.IsPositive():
		return fmt.Errorf("%w: line %d: quantity must be positive", ErrInvalidLineItem, i)
	case strings.TrimSpace(l.Unit) == "":
		return fmt.Errorf("%w: line %d: unit of measure is required", ErrInvalidLineItem, i)
	}
	return nil
}

// =============================================================================
// DECISION
// =============================================================================

// Approve moves a pending plan to approved.
func (e *Engine) Approve(ctx context.Context, id PlanID, actor ActorID) (*PurchasePlan, error) {
	return e.decide(ctx, id, actor, PlanApproved, "")
}

// Reject moves a pending plan to rejected. The note is required.
func (e *Engine) Reject(ctx context.Context, id PlanID, actor ActorID, note string) (*PurchasePlan, error) {
	if strings.TrimSpace(note) == "" {
		return nil, ErrMissingNote
	}
	return e.decide(ctx, id, actor, PlanRejected, strings.TrimSpace(note))
}

func (e *Engine) decide(ctx context.Context, id PlanID, actor ActorID, to PlanState, note string) (*PurchasePlan, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	plan, err := e.Plan(ctx, id)
	if err != nil {
		return nil, err
	}
	if plan.State != PlanPending {
		return nil, fmt.Errorf("%w: plan %s is %s", ErrAlreadyDecided, id, plan.State)
	}

	plan.State = to
	plan.Decision = &Signoff{Actor: actor, At: e.now()}
	plan.RejectionNote = note
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	if err := e.save(ctx, plan); err != nil {
		return nil, fmt.Errorf("%s plan %s: %w", to, id, err)
	}

	e.log().Info("plan decided",
		zap.String("plan_id", string(id)),
		zap.String("state", string(to)),
		zap.String("actor", string(actor)),
	)
	return plan, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// PlanFilter narrows plan listings. Empty fields match everything.
type PlanFilter struct {
	StationID StationID
	State     PlanState
}

func (f PlanFilter) filter() Filter {
	out := Filter{}
	if f.StationID != "" {
		out[LabelStationID] = string(f.StationID)
	}
	if f.State != "" {
		out[LabelState] = string(f.State)
	}
	return out
}

// Plan reads one plan.
func (e *Engine) Plan(ctx context.Context, id PlanID) (*PurchasePlan, error) {
	plan, err := load[PurchasePlan](ctx, e, KindPlan, string(id))
	if err != nil {
		return nil, fmt.Errorf("plan %s: %w", id, err)
	}
	return plan, nil
}

// ListPlans returns one page of plans.
func (e *Engine) ListPlans(ctx context.Context, f PlanFilter, offset, limit int) ([]*PurchasePlan, error) {
	return loadPage[PurchasePlan](ctx, e, KindPlan, f.filter(), offset, limit)
}

// RejectedPlans returns one page of rejected plans for the audit view.
func (e *Engine) RejectedPlans(ctx context.Context, f PlanFilter, offset, limit int) ([]*PurchasePlan, error) {
	f.State = PlanRejected
	return e.ListPlans(ctx, f, offset, limit)
}

// LineItems returns every item of a plan in submission order.
func (e *Engine) LineItems(ctx context.Context, id PlanID) ([]*PlanLineItem, error) {
	return loadAll[PlanLineItem](ctx, e, KindLineItem, Filter{LabelPlanID: string(id)})
}
