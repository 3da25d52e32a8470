/*
stock.go - Per-tank stock and per-product totals

PURPOSE:
  Keeps one TankStock row per (tank, product). Delivery confirmation adds to
  it; reconciling stock-entry screens may add or remove through ApplyDelta.

DERIVED TOTALS:
  ProductTotal is recomputed from the live tank rows on every call. There is
  no stored per-product counter, so the total cannot drift from its parts.

UNDERFLOW:
  A delta that would take a tank below zero fails with ErrInsufficientStock
  and leaves the row unchanged.
*/
package procurement

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// TankStock reads the stock row of a tank for a product. Missing rows read as zero.
func (e *Engine) TankStock(ctx context.Context, tank TankID, product ProductID) (*TankStock, error) {
	id := TankStockID(tank, product)
	row, err := load[TankStock](ctx, e, KindTankStock, id)
	if errors.Is(err, ErrNotFound) {
		return &TankStock{ID: id, TankID: tank, ProductID: product}, nil
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

// stockChange reads the current row and builds the write that applies ev.
func (e *Engine) stockChange(ctx context.Context, ev StockEvent, at int64) (change, error) {
	row, err := e.TankStock(ctx, ev.TankID, ev.ProductID)
	if err != nil {
		return change{}, err
	}
	next, err := Sum(row.Current, ev.Delta)
	if err != nil {
		return change{}, fmt.Errorf("tank %s: %w", row.ID, err)
	}
	if next.IsNegative() {
		return change{}, &InsufficientStockError{
			TankID:    ev.TankID,
			ProductID: ev.ProductID,
			Available: row.Current,
			Requested: ev.Delta.Neg(),
		}
	}

	if row.Version == 0 {
		row.Current = next
		row.UpdatedAt = at
		return creating(row)
	}
	before, err := encode(row)
	if err != nil {
		return change{}, err
	}
	row.Current = next
	row.UpdatedAt = at
	return updating(before, row)
}

// ApplyDelta adds delta to the stock of a tank, creating the row at zero if
// needed. A zero delta only reads.
func (e *Engine) ApplyDelta(ctx context.Context, tank TankID, product ProductID, delta Value) (*TankStock, error) {
	if tank == "" || product == "" {
		return nil, fmt.Errorf("%w: tank and product are required", ErrInvalidLineItem)
	}
	if delta.IsZero() {
		return e.TankStock(ctx, tank, product)
	}
	ev := StockEvent{TankID: tank, ProductID: product, Delta: delta}
	c, err := e.stockChange(ctx, ev, e.now())
	if err != nil {
		return nil, err
	}
	if err := e.commit(ctx, "apply_delta", []change{c}); err != nil {
		return nil, fmt.Errorf("apply stock delta to %s: %w", c.sub.ID, err)
	}
	e.logStockEvents([]StockEvent{ev})
	return c.rec.(*TankStock), nil
}

// TankStocks lists every tank row holding product.
func (e *Engine) TankStocks(ctx context.Context, product ProductID) ([]*TankStock, error) {
	return loadAll[TankStock](ctx, e, KindTankStock, Filter{LabelProductID: string(product)})
}

// ProductTotal is the live sum of a product's tank rows.
func (e *Engine) ProductTotal(ctx context.Context, product ProductID) (Value, error) {
	s, err := e.ProductStock(ctx, product)
	if err != nil {
		return 0, err
	}
	return s.Total, nil
}

// ProductStock returns the total of a product with the rows it was summed from.
func (e *Engine) ProductStock(ctx context.Context, product ProductID) (ProductStock, error) {
	rows, err := e.TankStocks(ctx, product)
	if err != nil {
		return ProductStock{}, err
	}
	out := ProductStock{ProductID: product, Tanks: make([]TankStock, 0, len(rows))}
	levels := make([]Value, 0, len(rows))
	for _, r := range rows {
		levels = append(levels, r.Current)
		out.Tanks = append(out.Tanks, *r)
	}
	if out.Total, err = Sum(levels...); err != nil {
		return ProductStock{}, fmt.Errorf("product %s total: %w", product, err)
	}
	return out, nil
}

func (e *Engine) logStockEvents(events []StockEvent) {
	for _, ev := range events {
		e.log().Info("stock applied",
			zap.String("tank_id", string(ev.TankID)),
			zap.String("product_id", string(ev.ProductID)),
			zap.Stringer("delta", ev.Delta),
		)
	}
}
