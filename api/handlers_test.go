/*
handlers_test.go - Tests for the HTTP API

Tests for:
- Plan submission, decision and assessment over HTTP
- Error mapping: 404, 409 (precondition and retryable), 422, 400
- Payment sign-off and balance endpoints
- Batch creation and delivery with stock totals
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/fuel-procurement/procurement"
	"github.com/warp/fuel-procurement/procurement/store"
)

func newTestRouter(t *testing.T) (*chi.Mux, *Handler) {
	t.Helper()
	mem := store.NewMemory()
	eng := procurement.NewEngine(mem, nil)
	h := NewHandler(eng, scenarioRates, mem)
	return NewRouter(h, Options{}), h
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out), rec.Body.String())
	return out
}

func createPlan(t *testing.T, router http.Handler) PlanDTO {
	t.Helper()
	rec := do(t, router, http.MethodPost, "/api/plans", CreatePlanRequest{
		StationID:   "station-01",
		SubmittedBy: "clerk-ana",
		Lines: []LineRequest{
			{ProductID: "pertalite", TankID: "tank-01", UnitPrice: "10000.00", Quantity: "100.00", Unit: "kL"},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[PlanDTO](t, rec)
}

// =============================================================================
// PLANS
// =============================================================================

func TestCreatePlan(t *testing.T) {
	router, _ := newTestRouter(t)

	plan := createPlan(t, router)

	assert.Equal(t, "pending", plan.State)
	assert.Equal(t, "1000000.00", plan.NetTotal)
	require.Len(t, plan.Items, 1)
	assert.Equal(t, "none", plan.Items[0].Stage)
	assert.Equal(t, "1000000.00", plan.Items[0].Subtotal)
}

func TestCreatePlan_ValidationFailed(t *testing.T) {
	// GIVEN: A plan whose quantity has three decimal places
	// WHEN: Submitting it
	// THEN: 422 VALIDATION_FAILED naming the field

	router, _ := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/api/plans", CreatePlanRequest{
		StationID:   "station-01",
		SubmittedBy: "clerk-ana",
		Lines: []LineRequest{
			{ProductID: "pertalite", TankID: "tank-01", UnitPrice: "10000.00", Quantity: "1.005", Unit: "kL"},
		},
	})

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "VALIDATION_FAILED", resp.Error)
	assert.Contains(t, resp.Details, "CreatePlanRequest.lines[0].quantity")
}

func TestNewValidator_AmountTag(t *testing.T) {
	v, err := newValidator()
	require.NoError(t, err)

	assert.NoError(t, v.Var("1160000.00", "amount"))
	assert.Error(t, v.Var("1.005", "amount"))
	assert.Error(t, v.Var("abc", "amount"))
	assert.NotPanics(t, func() { mustValidator() })
}

func TestCreatePlan_InvalidBody(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/api/plans", `{"station_id":`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_BODY", decodeBody[ErrorResponse](t, rec).Error)
}

func TestGetPlan_NotFound(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := do(t, router, http.MethodGet, "/api/plans/missing", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeBody[ErrorResponse](t, rec).Error)
}

func TestApprovePlan_WithAssessment(t *testing.T) {
	// GIVEN: A pending plan with net 1,000,000.00
	// WHEN: Approving it with ?assess=true
	// THEN: The response carries the gross total 1,160,000.00 and a second
	//       approval is a 409 ALREADY_DECIDED

	router, _ := newTestRouter(t)
	plan := createPlan(t, router)

	rec := do(t, router, http.MethodPost, "/api/plans/"+plan.ID+"/approve?assess=true", DecisionRequest{Actor: "manager-budi"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	approved := decodeBody[PlanDTO](t, rec)
	assert.Equal(t, "approved", approved.State)
	assert.Equal(t, "manager-budi", approved.DecidedBy)
	require.NotNil(t, approved.Assessment)
	assert.Equal(t, "1160000.00", approved.Assessment.GrossTotal)
	assert.True(t, approved.Assessment.Calculated)

	rec = do(t, router, http.MethodPost, "/api/plans/"+plan.ID+"/approve", DecisionRequest{Actor: "manager-2"})
	require.Equal(t, http.StatusConflict, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "ALREADY_DECIDED", resp.Error)
	assert.False(t, resp.Retryable)

	rec = do(t, router, http.MethodGet, "/api/plans/"+plan.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[PlanDTO](t, rec)
	require.NotNil(t, got.Assessment)
	assert.Equal(t, "11.00", got.Assessment.Rates.VAT)
	assert.Len(t, got.Items, 1)
}

func TestRejectPlan_RequiresNote(t *testing.T) {
	router, _ := newTestRouter(t)
	plan := createPlan(t, router)

	rec := do(t, router, http.MethodPost, "/api/plans/"+plan.ID+"/reject", DecisionRequest{Actor: "manager-budi"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "MISSING_NOTE", decodeBody[ErrorResponse](t, rec).Error)

	rec = do(t, router, http.MethodPost, "/api/plans/"+plan.ID+"/reject", DecisionRequest{Actor: "manager-budi", Note: "over budget"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/plans/rejected", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rejected := decodeBody[[]PlanDTO](t, rec)
	require.Len(t, rejected, 1)
	assert.Equal(t, "over budget", rejected[0].RejectionNote)
}

func TestAssessPlan_OverridesRates(t *testing.T) {
	router, _ := newTestRouter(t)
	plan := createPlan(t, router)
	rec := do(t, router, http.MethodPost, "/api/plans/"+plan.ID+"/approve", DecisionRequest{Actor: "manager-budi"})
	require.Equal(t, http.StatusOK, rec.Code)

	withholding := "2.00"
	rec = do(t, router, http.MethodPost, "/api/plans/"+plan.ID+"/assessment", AssessRequest{Actor: "manager-budi", Withholding: &withholding})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	a := decodeBody[AssessmentDTO](t, rec)
	assert.Equal(t, "20000.00", a.WithholdingAmount)
	assert.Equal(t, "1180000.00", a.GrossTotal)

	rec = do(t, router, http.MethodPost, "/api/plans/"+plan.ID+"/assessment", AssessRequest{Actor: "manager-budi"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ALREADY_ASSESSED", decodeBody[ErrorResponse](t, rec).Error)
}

func TestListPlans_InvalidState(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := do(t, router, http.MethodGet, "/api/plans?state=archived", nil)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "INVALID_STATE", decodeBody[ErrorResponse](t, rec).Error)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestPayments_SignoffAndBalance(t *testing.T) {
	// GIVEN: An assessed plan with gross 1,160,000.00
	// WHEN: A payment of 500,000.00 is signed by two different people
	// THEN: The balance shows it as paid and 660,000.00 remaining

	router, _ := newTestRouter(t)
	plan := createPlan(t, router)
	rec := do(t, router, http.MethodPost, "/api/plans/"+plan.ID+"/approve?assess=true", DecisionRequest{Actor: "manager-budi"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/plans/"+plan.ID+"/payments", SubmitPaymentRequest{
		Actor:  "finance-citra",
		Amount: "500000.00",
		Bank:   BankDTO{BankName: "Bank Mandiri", Reference: "TRF-0001"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	payment := decodeBody[PaymentDTO](t, rec)
	assert.False(t, payment.Counted)

	rec = do(t, router, http.MethodPost, "/api/payments/"+payment.ID+"/second-signoff", ActorRequest{Actor: "director-dewi"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "FIRST_PARTY_PENDING", decodeBody[ErrorResponse](t, rec).Error)

	rec = do(t, router, http.MethodPost, "/api/payments/"+payment.ID+"/first-signoff", ActorRequest{Actor: "finance-citra"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodDelete, "/api/payments/"+payment.ID, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CANNOT_DELETE_SIGNED_PAYMENT", decodeBody[ErrorResponse](t, rec).Error)

	rec = do(t, router, http.MethodPost, "/api/payments/"+payment.ID+"/second-signoff", ActorRequest{Actor: "finance-citra"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "SAME_SIGNER", decodeBody[ErrorResponse](t, rec).Error)

	rec = do(t, router, http.MethodPost, "/api/payments/"+payment.ID+"/second-signoff", ActorRequest{Actor: "director-dewi"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[PaymentDTO](t, rec).Counted)

	rec = do(t, router, http.MethodGet, "/api/plans/"+plan.ID+"/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	b := decodeBody[BalanceDTO](t, rec)
	assert.Equal(t, "1160000.00", b.GrossTotal)
	assert.Equal(t, "500000.00", b.PaidToDate)
	assert.Equal(t, "660000.00", b.Remaining)
}

func TestSubmitPayment_NotAssessed(t *testing.T) {
	router, _ := newTestRouter(t)
	plan := createPlan(t, router)

	rec := do(t, router, http.MethodPost, "/api/plans/"+plan.ID+"/payments", SubmitPaymentRequest{Actor: "finance-citra", Amount: "1.00"})

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "NOT_ASSESSED", decodeBody[ErrorResponse](t, rec).Error)
}

func TestDeletePayment_Unsigned(t *testing.T) {
	router, _ := newTestRouter(t)
	plan := createPlan(t, router)
	do(t, router, http.MethodPost, "/api/plans/"+plan.ID+"/approve?assess=true", DecisionRequest{Actor: "manager-budi"})
	rec := do(t, router, http.MethodPost, "/api/plans/"+plan.ID+"/payments", SubmitPaymentRequest{Actor: "finance-citra", Amount: "10.00"})
	require.Equal(t, http.StatusCreated, rec.Code)
	payment := decodeBody[PaymentDTO](t, rec)

	rec = do(t, router, http.MethodDelete, "/api/payments/"+payment.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/payments/"+payment.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// FULFILLMENT AND STOCK
// =============================================================================

func TestBatchDelivery(t *testing.T) {
	// GIVEN: An approved plan with one item
	// WHEN: Batching before confirming, then confirming, batching and delivering
	// THEN: The early batch is a 409 naming the item, and delivery adds stock

	router, _ := newTestRouter(t)
	plan := createPlan(t, router)
	do(t, router, http.MethodPost, "/api/plans/"+plan.ID+"/approve", DecisionRequest{Actor: "manager-budi"})
	itemID := plan.Items[0].ID

	batchReq := CreateBatchRequest{
		Actor:           "logistics-gita",
		Items:           []ItemRefDTO{{PlanID: plan.ID, LineItemID: itemID}},
		BatchDate:       "2025-03-10",
		DeliveryOrderNo: "DO-2025-0001",
		VehicleID:       "B 9123 XY",
	}
	rec := do(t, router, http.MethodPost, "/api/batches", batchReq)
	require.Equal(t, http.StatusConflict, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "LINE_ITEM_NOT_CONFIRMED", resp.Error)
	assert.NotNil(t, resp.Details)

	rec = do(t, router, http.MethodPost, "/api/items/"+itemID+"/confirm", ActorRequest{Actor: "station-lead"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/items/confirmed?plan_id="+plan.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]LineItemDTO](t, rec), 1)

	rec = do(t, router, http.MethodPost, "/api/batches", batchReq)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	batch := decodeBody[BatchDTO](t, rec)
	assert.Equal(t, "2025-03-10", batch.BatchDate)

	rec = do(t, router, http.MethodPost, "/api/batches/"+batch.ID+"/deliver", ActorRequest{Actor: "station-lead"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	delivery := decodeBody[DeliveryDTO](t, rec)
	require.Len(t, delivery.StockEvents, 1)
	assert.Equal(t, "100.00", delivery.StockEvents[0].Delta)
	assert.Equal(t, "delivered", delivery.Items[0].Stage)
	assert.Len(t, delivery.Items[0].Trail, 3)

	rec = do(t, router, http.MethodPost, "/api/items/"+itemID+"/deliver", ActorRequest{Actor: "station-lead"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INVALID_STAGE_TRANSITION", decodeBody[ErrorResponse](t, rec).Error)

	rec = do(t, router, http.MethodGet, "/api/stock/products/pertalite", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "100.00", decodeBody[ProductStockDTO](t, rec).Total)
}

func TestGetBatch_NotFound(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := do(t, router, http.MethodGet, "/api/batches/missing", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "BATCH_NOT_FOUND", decodeBody[ErrorResponse](t, rec).Error)
}

func TestAdjustStock_Underflow(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/api/stock/adjustments", StockAdjustmentRequest{
		Actor: "station-lead", TankID: "tank-01", ProductID: "pertalite", Delta: "25.00", Reason: "dip reading",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "25.00", decodeBody[TankStockDTO](t, rec).Current)

	rec = do(t, router, http.MethodPost, "/api/stock/adjustments", StockAdjustmentRequest{
		Actor: "station-lead", TankID: "tank-01", ProductID: "pertalite", Delta: "-30.00",
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "INSUFFICIENT_STOCK", resp.Error)
	assert.Equal(t, map[string]any{
		"tank_id": "tank-01", "product_id": "pertalite", "available": "25.00", "requested": "30.00",
	}, resp.Details)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{procurement.ErrStaleState, http.StatusConflict},
		{procurement.ErrAlreadySigned, http.StatusConflict},
		{procurement.ErrNotFound, http.StatusNotFound},
		{procurement.ErrInvalidAmount, http.StatusUnprocessableEntity},
		{procurement.ErrLedgerUnavailable, http.StatusServiceUnavailable},
		{context.Canceled, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := do(t, router, http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
}
