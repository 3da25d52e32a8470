package procurement_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/warp/fuel-procurement/procurement"
	"github.com/warp/fuel-procurement/procurement/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var v = procurement.MustParseValue

var standardRates = procurement.TaxRates{VAT: v("11.00"), FuelTax: v("5.00")}

// testClock advances one minute per reading.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Minute)
	return c.now
}

func newTestEngine(t *testing.T, ledger procurement.Ledger) *procurement.Engine {
	t.Helper()
	eng := procurement.NewEngine(ledger, nil)
	clock := &testClock{now: time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)}
	eng.Now = clock.Now
	var mu sync.Mutex
	seq := 0
	eng.NewID = func() string {
		mu.Lock()
		defer mu.Unlock()
		seq++
		return fmt.Sprintf("id-%d", seq)
	}
	return eng
}

func newMemoryEngine(t *testing.T) (*procurement.Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return newTestEngine(t, mem), mem
}

func draft(lines ...procurement.LineDraft) procurement.PlanDraft {
	return procurement.PlanDraft{StationID: "station-1", SubmittedBy: "clerk", Lines: lines}
}

func line(product, tank, price, qty string) procurement.LineDraft {
	return procurement.LineDraft{
		ProductID: procurement.ProductID(product),
		TankID:    procurement.TankID(tank),
		UnitPrice: v(price),
		Quantity:  v(qty),
		Unit:      "kL",
	}
}

// approvedPlan submits and approves a plan, returning it with its items.
func approvedPlan(t *testing.T, eng *procurement.Engine, lines ...procurement.LineDraft) (*procurement.PurchasePlan, []procurement.PlanLineItem) {
	t.Helper()
	ctx := context.Background()
	plan, items, err := eng.SubmitPlan(ctx, draft(lines...))
	require.NoError(t, err)
	plan, err = eng.Approve(ctx, plan.ID, "manager")
	require.NoError(t, err)
	return plan, items
}

// assessedPlan returns an approved plan assessed at standard rates.
func assessedPlan(t *testing.T, eng *procurement.Engine, lines ...procurement.LineDraft) (*procurement.PurchasePlan, *procurement.TaxAssessment) {
	t.Helper()
	plan, _ := approvedPlan(t, eng, lines...)
	a, err := eng.Assess(context.Background(), plan.ID, standardRates, "manager")
	require.NoError(t, err)
	return plan, a
}

// confirmedItems returns the items of an approved plan, all confirmed.
func confirmedItems(t *testing.T, eng *procurement.Engine, lines ...procurement.LineDraft) []procurement.ItemRef {
	t.Helper()
	_, items := approvedPlan(t, eng, lines...)
	refs := make([]procurement.ItemRef, 0, len(items))
	for _, item := range items {
		_, err := eng.Confirm(context.Background(), item.ID, "station-lead")
		require.NoError(t, err)
		refs = append(refs, procurement.ItemRef{PlanID: item.PlanID, LineItemID: item.ID})
	}
	return refs
}

func batchRequest(refs ...procurement.ItemRef) procurement.BatchRequest {
	return procurement.BatchRequest{
		Items:           refs,
		DeliveryOrderNo: "DO-1",
		VehicleID:       "B 1234 CD",
		Actor:           "logistics",
	}
}

// =============================================================================
// TEST LEDGERS
// =============================================================================

// sagaLedger hides SubmitAll so the engine falls back to compensation, and
// can fail a chosen submission.
type sagaLedger struct {
	inner *store.Memory

	mu       sync.Mutex
	submits  int
	failAt   int
	failWith error

	// beforeSubmit runs once, before the next submission reaches the store.
	beforeSubmit func()
}

func newSagaLedger() *sagaLedger {
	return &sagaLedger{inner: store.NewMemory()}
}

// FailNth makes the n-th submission from now fail with err.
func (l *sagaLedger) FailNth(n int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failAt = l.submits + n
	l.failWith = err
}

func (l *sagaLedger) Read(ctx context.Context, kind procurement.Kind, id string) (procurement.Envelope, error) {
	return l.inner.Read(ctx, kind, id)
}

func (l *sagaLedger) List(ctx context.Context, kind procurement.Kind, f procurement.Filter, offset, limit int) ([]procurement.Envelope, error) {
	return l.inner.List(ctx, kind, f, offset, limit)
}

func (l *sagaLedger) Submit(ctx context.Context, sub procurement.Submission) (procurement.Envelope, error) {
	l.mu.Lock()
	l.submits++
	fail := l.submits == l.failAt
	hook := l.beforeSubmit
	l.beforeSubmit = nil
	l.mu.Unlock()

	if hook != nil {
		hook()
	}
	if fail {
		return procurement.Envelope{}, l.failWith
	}
	return l.inner.Submit(ctx, sub)
}

// blockingLedger never answers until the context is done.
type blockingLedger struct{}

func (blockingLedger) Read(ctx context.Context, _ procurement.Kind, _ string) (procurement.Envelope, error) {
	<-ctx.Done()
	return procurement.Envelope{}, ctx.Err()
}

func (blockingLedger) Submit(ctx context.Context, _ procurement.Submission) (procurement.Envelope, error) {
	<-ctx.Done()
	return procurement.Envelope{}, ctx.Err()
}

func (blockingLedger) List(ctx context.Context, _ procurement.Kind, _ procurement.Filter, _, _ int) ([]procurement.Envelope, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
