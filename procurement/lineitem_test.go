package procurement_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/fuel-procurement/procurement"
)

func TestConfirm_RequiresApprovedPlan(t *testing.T) {
	eng, _ := newMemoryEngine(t)
	ctx := context.Background()
	_, items, err := eng.SubmitPlan(ctx, draft(line("pertalite", "tank-1", "1.00", "1.00")))
	require.NoError(t, err)

	_, err = eng.Confirm(ctx, items[0].ID, "station-lead")
	assert.ErrorIs(t, err, procurement.ErrPlanNotApproved)

	item, err := eng.LineItem(ctx, items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, procurement.StageNone, item.Stage)
}

func TestConfirm_OnlyOnce(t *testing.T) {
	// GIVEN: A confirmed item
	// WHEN: Confirming it again
	// THEN: A StageError from confirmed to confirmed

	eng, _ := newMemoryEngine(t)
	ctx := context.Background()
	refs := confirmedItems(t, eng, line("pertalite", "tank-1", "1.00", "1.00"))

	_, err := eng.Confirm(ctx, refs[0].LineItemID, "station-lead")
	require.ErrorIs(t, err, procurement.ErrInvalidStageTransition)

	var stageErr *procurement.StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, procurement.StageConfirmed, stageErr.From)
	assert.Equal(t, procurement.StageConfirmed, stageErr.To)
}

func TestDeliver_RequiresBatch(t *testing.T) {
	eng, _ := newMemoryEngine(t)
	ctx := context.Background()
	refs := confirmedItems(t, eng, line("pertalite", "tank-1", "1.00", "5.00"))

	_, _, err := eng.Deliver(ctx, refs[0].LineItemID, "station-lead")
	assert.ErrorIs(t, err, procurement.ErrInvalidStageTransition)

	stock, err := eng.TankStock(ctx, "tank-1", "pertalite")
	require.NoError(t, err)
	assert.Equal(t, procurement.Value(0), stock.Current)
}

func TestLineItem_FullStageTrail(t *testing.T) {
	// GIVEN: An item of an approved plan
	// WHEN: Confirming, batching and delivering it
	// THEN: The trail holds one mark per stage with non-decreasing times,
	//       and the tank receives the item quantity

	eng, _ := newMemoryEngine(t)
	ctx := context.Background()
	refs := confirmedItems(t, eng, line("pertalite", "tank-1", "10000.00", "8.00"))

	batch, err := eng.CreateBatch(ctx, batchRequest(refs...))
	require.NoError(t, err)

	item, ev, err := eng.Deliver(ctx, refs[0].LineItemID, "station-lead")
	require.NoError(t, err)

	assert.Equal(t, procurement.StageDelivered, item.Stage)
	assert.Equal(t, batch.ID, item.BatchID)
	require.Len(t, item.Trail, 3)
	require.NoError(t, item.Validate())
	for i, want := range []procurement.ActorID{"station-lead", "logistics", "station-lead"} {
		assert.Equal(t, want, item.Trail[i].Actor)
	}
	mark, ok := item.Mark(procurement.StageBatched)
	require.True(t, ok)
	assert.Equal(t, procurement.ActorID("logistics"), mark.Actor)

	assert.Equal(t, procurement.StockEvent{TankID: "tank-1", ProductID: "pertalite", Delta: v("8.00")}, ev)

	_, _, err = eng.Deliver(ctx, refs[0].LineItemID, "station-lead")
	assert.ErrorIs(t, err, procurement.ErrInvalidStageTransition)

	total, err := eng.ProductTotal(ctx, "pertalite")
	require.NoError(t, err)
	assert.Equal(t, v("8.00"), total)
}

func TestStage_StringRoundTrip(t *testing.T) {
	for _, s := range []procurement.Stage{procurement.StageNone, procurement.StageConfirmed, procurement.StageBatched, procurement.StageDelivered} {
		got, ok := procurement.ParseStage(s.String())
		require.True(t, ok)
		assert.Equal(t, s, got)
	}
	_, ok := procurement.ParseStage("shipped")
	assert.False(t, ok)
}

func TestPlanLineItem_Validate(t *testing.T) {
	item := procurement.PlanLineItem{
		ID:    "li-1",
		Stage: procurement.StageBatched,
		Trail: []procurement.StageMark{
			{Stage: procurement.StageConfirmed, Actor: "a", At: 200},
			{Stage: procurement.StageBatched, Actor: "b", At: 100},
		},
	}
	assert.ErrorIs(t, item.Validate(), procurement.ErrValidationRejected)

	item.Trail[1].At = 200
	assert.NoError(t, item.Validate())

	item.Stage = procurement.StageDelivered
	assert.ErrorIs(t, item.Validate(), procurement.ErrValidationRejected)
}
