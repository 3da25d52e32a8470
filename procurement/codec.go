package procurement

import (
	"context"
	"encoding/json"
	"fmt"
)

// record is implemented by every type the engine stores in the ledger.
type record interface {
	kind() Kind
	recordID() string
	labels() Labels
	version() int64
	setVersion(int64)
}

func (p *PurchasePlan) kind() Kind         { return KindPlan }
func (p *PurchasePlan) recordID() string   { return string(p.ID) }
func (p *PurchasePlan) version() int64     { return p.Version }
func (p *PurchasePlan) setVersion(v int64) { p.Version = v }
func (p *PurchasePlan) labels() Labels {
	return Labels{LabelState: string(p.State), LabelStationID: string(p.StationID)}
}

func (li *PlanLineItem) kind() Kind         { return KindLineItem }
func (li *PlanLineItem) recordID() string   { return string(li.ID) }
func (li *PlanLineItem) version() int64     { return li.Version }
func (li *PlanLineItem) setVersion(v int64) { li.Version = v }
func (li *PlanLineItem) labels() Labels {
	return Labels{
		LabelPlanID:    string(li.PlanID),
		LabelStage:     li.Stage.String(),
		LabelProductID: string(li.ProductID),
		LabelBatchID:   string(li.BatchID),
	}
}

func (a *TaxAssessment) kind() Kind         { return KindAssessment }
func (a *TaxAssessment) recordID() string   { return a.ID }
func (a *TaxAssessment) version() int64     { return a.Version }
func (a *TaxAssessment) setVersion(v int64) { a.Version = v }
func (a *TaxAssessment) labels() Labels     { return Labels{LabelPlanID: string(a.PlanID)} }

func (p *Payment) kind() Kind         { return KindPayment }
func (p *Payment) recordID() string   { return string(p.ID) }
func (p *Payment) version() int64     { return p.Version }
func (p *Payment) setVersion(v int64) { p.Version = v }
func (p *Payment) labels() Labels     { return Labels{LabelPlanID: string(p.PlanID)} }

func (b *ShipmentBatch) kind() Kind         { return KindBatch }
func (b *ShipmentBatch) recordID() string   { return string(b.ID) }
func (b *ShipmentBatch) version() int64     { return b.Version }
func (b *ShipmentBatch) setVersion(v int64) { b.Version = v }
func (b *ShipmentBatch) labels() Labels     { return Labels{} }

func (t *TankStock) kind() Kind         { return KindTankStock }
func (t *TankStock) recordID() string   { return t.ID }
func (t *TankStock) version() int64     { return t.Version }
func (t *TankStock) setVersion(v int64) { t.Version = v }
func (t *TankStock) labels() Labels {
	return Labels{LabelTankID: string(t.TankID), LabelProductID: string(t.ProductID)}
}

// encode builds the compare-and-set submission for rec at its observed version.
func encode(rec record) (Submission, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return Submission{}, fmt.Errorf("encode %s %s: %w", rec.kind(), rec.recordID(), err)
	}
	return Submission{
		Kind:            rec.kind(),
		ID:              rec.recordID(),
		ExpectedVersion: rec.version(),
		Data:            data,
		Labels:          rec.labels(),
	}, nil
}

// decode fills dst from env and records the observed version.
func decode[T any, P interface {
	*T
	record
}](env Envelope) (P, error) {
	var v T
	p := P(&v)
	if err := json.Unmarshal(env.Data, p); err != nil {
		return nil, fmt.Errorf("%w: decode %s %s: %v", ErrValidationRejected, env.Kind, env.ID, err)
	}
	p.setVersion(env.Version)
	return p, nil
}

func load[T any, P interface {
	*T
	record
}](ctx context.Context, e *Engine, kind Kind, id string) (P, error) {
	env, err := e.read(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	return decode[T, P](env)
}

func loadAll[T any, P interface {
	*T
	record
}](ctx context.Context, e *Engine, kind Kind, filter Filter) ([]P, error) {
	envs, err := e.listAll(ctx, kind, filter)
	if err != nil {
		return nil, err
	}
	out := make([]P, 0, len(envs))
	for _, env := range envs {
		p, err := decode[T, P](env)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func loadPage[T any, P interface {
	*T
	record
}](ctx context.Context, e *Engine, kind Kind, filter Filter, offset, limit int) ([]P, error) {
	envs, err := e.list(ctx, kind, filter, offset, limit)
	if err != nil {
		return nil, err
	}
	out := make([]P, 0, len(envs))
	for _, env := range envs {
		p, err := decode[T, P](env)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// save submits rec as a single compare-and-set write.
func (e *Engine) save(ctx context.Context, rec record) error {
	sub, err := encode(rec)
	if err != nil {
		return err
	}
	env, err := e.submit(ctx, sub)
	if err != nil {
		return err
	}
	rec.setVersion(env.Version)
	return nil
}
