/*
shipment.go - Grouping confirmed items into deliveries

PURPOSE:
  Collects confirmed line items, possibly from several plans, into one
  immutable ShipmentBatch with its delivery-order number and vehicle. The
  items move to batched in the same commit. Confirming the delivery later
  moves every item to delivered and adds the quantities to tank stock.

ATOMICITY:
  CreateBatch checks every item first and writes nothing if one of them is
  not confirmed. The writes themselves (items + batch) go through commit(),
  which is atomic on a BatchLedger and a compensated saga otherwise. A
  failure while writing is reported as ErrBatchCreationFailed wrapping the
  cause; no item stays batched.

  ConfirmDelivery follows the same pattern for items + tank stock rows.
  Items of the batch delivered individually beforehand are left as they
  are; the rest are delivered together.

SEE ALSO:
  - saga.go:     commit() and compensation
  - lineitem.go: Stage transitions
*/
package procurement

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// BatchRequest is the input to CreateBatch.
type BatchRequest struct {
	Items           []ItemRef
	BatchDate       int64
	DeliveryOrderNo string
	VehicleID       string
	Note            string
	Actor           ActorID
}

// DeliveryReceipt is the result of ConfirmDelivery.
type DeliveryReceipt struct {
	Batch       *ShipmentBatch
	Items       []*PlanLineItem
	StockEvents []StockEvent
	DeliveredBy ActorID
	DeliveredAt int64
}

// ConfirmedItems lists the items waiting to be batched, across all plans or
// only the given ones.
func (e *Engine) ConfirmedItems(ctx context.Context, plans ...PlanID) ([]*PlanLineItem, error) {
	filter := Filter{LabelStage: StageConfirmed.String()}
	if len(plans) == 0 {
		return loadAll[PlanLineItem](ctx, e, KindLineItem, filter)
	}
	var out []*PlanLineItem
	for _, id := range plans {
		filter[LabelPlanID] = string(id)
		items, err := loadAll[PlanLineItem](ctx, e, KindLineItem, filter)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
	}
	return out, nil
}

// CreateBatch groups confirmed items into a new shipment batch.
func (e *Engine) CreateBatch(ctx context.Context, req BatchRequest) (*ShipmentBatch, error) {
	if err := requireActor(req.Actor); err != nil {
		return nil, err
	}
	if len(req.Items) == 0 {
		return nil, ErrEmptyBatch
	}
	if strings.TrimSpace(req.DeliveryOrderNo) == "" || strings.TrimSpace(req.VehicleID) == "" {
		return nil, ErrMissingDocumentRef
	}

	seen := make(map[LineItemID]bool, len(req.Items))
	items := make([]*PlanLineItem, 0, len(req.Items))
	var notConfirmed []LineItemID
	for _, ref := range req.Items {
		if seen[ref.LineItemID] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateItem, ref.LineItemID)
		}
		seen[ref.LineItemID] = true

		item, err := e.LineItem(ctx, ref.LineItemID)
		if err != nil {
			return nil, err
		}
		if ref.PlanID != "" && item.PlanID != ref.PlanID {
			return nil, fmt.Errorf("%w: item %s belongs to plan %s, not %s", ErrNotFound, item.ID, item.PlanID, ref.PlanID)
		}
		if item.Stage != StageConfirmed {
			notConfirmed = append(notConfirmed, item.ID)
			continue
		}
		items = append(items, item)
	}
	if len(notConfirmed) > 0 {
		return nil, &NotConfirmedError{Items: notConfirmed}
	}

	now := e.now()
	batch := &ShipmentBatch{
		ID:              BatchID(e.newID()),
		BatchDate:       req.BatchDate,
		DeliveryOrderNo: strings.TrimSpace(req.DeliveryOrderNo),
		VehicleID:       strings.TrimSpace(req.VehicleID),
		Note:            req.Note,
		CreatedBy:       req.Actor,
		CreatedAt:       now,
	}
	if batch.BatchDate == 0 {
		batch.BatchDate = now
	}

	changes := make([]change, 0, len(items)+1)
	for _, item := range items {
		before, err := encode(item)
		if err != nil {
			return nil, err
		}
		if err := item.advance(StageBatched, req.Actor, now); err != nil {
			return nil, err
		}
		item.BatchID = batch.ID
		c, err := updating(before, item)
		if err != nil {
			return nil, err
		}
		changes = append(changes, c)
		batch.Items = append(batch.Items, ItemRef{PlanID: item.PlanID, LineItemID: item.ID})
	}
	c, err := creating(batch)
	if err != nil {
		return nil, err
	}
	changes = append(changes, c)

	if err := e.commit(ctx, "create_batch", changes); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBatchCreationFailed, err)
	}

	e.log().Info("shipment batch created",
		zap.String("batch_id", string(batch.ID)),
		zap.Int("items", len(batch.Items)),
		zap.String("delivery_order_no", batch.DeliveryOrderNo),
		zap.String("vehicle_id", batch.VehicleID),
	)
	return batch, nil
}

// Batch reads one shipment batch, or ErrBatchNotFound.
func (e *Engine) Batch(ctx context.Context, id BatchID) (*ShipmentBatch, error) {
	b, err := load[ShipmentBatch](ctx, e, KindBatch, string(id))
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// ConfirmDelivery moves the remaining items of a batch to delivered and
// applies their quantities to tank stock. Items of the batch already
// delivered on their own through Deliver are skipped; a batch with nothing
// left to deliver is a StageError on its first item.
func (e *Engine) ConfirmDelivery(ctx context.Context, id BatchID, actor ActorID) (*DeliveryReceipt, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	batch, err := e.Batch(ctx, id)
	if err != nil {
		return nil, err
	}

	items := make([]*PlanLineItem, 0, len(batch.Items))
	var first *PlanLineItem
	for _, ref := range batch.Items {
		item, err := e.LineItem(ctx, ref.LineItemID)
		if err != nil {
			return nil, err
		}
		if first == nil {
			first = item
		}
		if item.BatchID != batch.ID {
			return nil, &StageError{ItemID: item.ID, From: item.Stage, To: StageDelivered}
		}
		switch item.Stage {
		case StageBatched:
			items = append(items, item)
		case StageDelivered:
			continue
		default:
			return nil, &StageError{ItemID: item.ID, From: item.Stage, To: StageDelivered}
		}
	}
	if len(items) == 0 {
		return nil, &StageError{ItemID: first.ID, From: first.Stage, To: StageDelivered}
	}

	changes, events, err := e.deliveryChanges(ctx, items, actor)
	if err != nil {
		return nil, err
	}
	if err := e.commit(ctx, "confirm_delivery", changes); err != nil {
		return nil, fmt.Errorf("confirm delivery of batch %s: %w", id, err)
	}

	receipt := &DeliveryReceipt{
		Batch:       batch,
		Items:       items,
		StockEvents: events,
		DeliveredBy: actor,
	}
	if m, ok := items[0].Mark(StageDelivered); ok {
		receipt.DeliveredAt = m.At
	}

	e.log().Info("shipment batch delivered",
		zap.String("batch_id", string(id)),
		zap.Int("items", len(items)),
		zap.String("actor", string(actor)),
	)
	e.logStockEvents(events)
	return receipt, nil
}
