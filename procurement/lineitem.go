/*
lineitem.go - Line item fulfillment stages

STAGES (forward only, one at a time):
  none ──Confirm──▶ confirmed ──CreateBatch──▶ batched ──Deliver──▶ delivered

  Each transition appends one StageMark (actor, timestamp) to the item's
  trail. Any other request fails with ErrInvalidStageTransition; stages
  never reverse. Delivery applies the item quantity to its destination tank.

SEE ALSO:
  - shipment.go: Batching and batch-wide delivery
  - stock.go:    Tank stock updated on delivery
*/
package procurement

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// LineItem reads one line item.
func (e *Engine) LineItem(ctx context.Context, id LineItemID) (*PlanLineItem, error) {
	item, err := load[PlanLineItem](ctx, e, KindLineItem, string(id))
	if err != nil {
		return nil, fmt.Errorf("line item %s: %w", id, err)
	}
	return item, nil
}

// Confirm records the first fulfillment stage. The owning plan must be approved.
func (e *Engine) Confirm(ctx context.Context, id LineItemID, actor ActorID) (*PlanLineItem, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	item, err := e.LineItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Stage != StageNone {
		return nil, &StageError{ItemID: id, From: item.Stage, To: StageConfirmed}
	}
	plan, err := e.Plan(ctx, item.PlanID)
	if err != nil {
		return nil, err
	}
	if plan.State != PlanApproved {
		return nil, fmt.Errorf("%w: plan %s is %s", ErrPlanNotApproved, plan.ID, plan.State)
	}

	if err := item.advance(StageConfirmed, actor, e.now()); err != nil {
		return nil, err
	}
	if err := e.save(ctx, item); err != nil {
		return nil, fmt.Errorf("confirm item %s: %w", id, err)
	}
	e.logStage(item, actor)
	return item, nil
}

// Deliver records delivery of a single batched item and adds its quantity
// to the destination tank in the same commit.
func (e *Engine) Deliver(ctx context.Context, id LineItemID, actor ActorID) (*PlanLineItem, StockEvent, error) {
	if err := requireActor(actor); err != nil {
		return nil, StockEvent{}, err
	}
	item, err := e.LineItem(ctx, id)
	if err != nil {
		return nil, StockEvent{}, err
	}
	if item.Stage != StageBatched {
		return nil, StockEvent{}, &StageError{ItemID: id, From: item.Stage, To: StageDelivered}
	}

	changes, events, err := e.deliveryChanges(ctx, []*PlanLineItem{item}, actor)
	if err != nil {
		return nil, StockEvent{}, err
	}
	if err := e.commit(ctx, "deliver_item", changes); err != nil {
		return nil, StockEvent{}, fmt.Errorf("deliver item %s: %w", id, err)
	}
	e.logStage(item, actor)
	e.logStockEvents(events)
	return item, events[0], nil
}

// deliveryChanges advances items to delivered and computes the tank stock
// writes. Deltas that land on the same (tank, product) are summed.
func (e *Engine) deliveryChanges(ctx context.Context, items []*PlanLineItem, actor ActorID) ([]change, []StockEvent, error) {
	at := e.now()
	changes := make([]change, 0, len(items)*2)

	var events []StockEvent
	index := map[string]int{}
	for _, item := range items {
		before, err := encode(item)
		if err != nil {
			return nil, nil, err
		}
		if err := item.advance(StageDelivered, actor, at); err != nil {
			return nil, nil, err
		}
		c, err := updating(before, item)
		if err != nil {
			return nil, nil, err
		}
		changes = append(changes, c)

		key := TankStockID(item.TankID, item.ProductID)
		if i, ok := index[key]; ok {
			if events[i].Delta, err = Sum(events[i].Delta, item.Quantity); err != nil {
				return nil, nil, fmt.Errorf("tank %s delta: %w", key, err)
			}
			continue
		}
		index[key] = len(events)
		events = append(events, StockEvent{TankID: item.TankID, ProductID: item.ProductID, Delta: item.Quantity})
	}

	for _, ev := range events {
		c, err := e.stockChange(ctx, ev, at)
		if err != nil {
			return nil, nil, err
		}
		changes = append(changes, c)
	}
	return changes, events, nil
}

func (e *Engine) logStage(item *PlanLineItem, actor ActorID) {
	e.log().Info("line item advanced",
		zap.String("item_id", string(item.ID)),
		zap.String("plan_id", string(item.PlanID)),
		zap.Stringer("stage", item.Stage),
		zap.String("actor", string(actor)),
	)
}
