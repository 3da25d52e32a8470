/*
handlers.go - HTTP API handlers for the procurement workflow

PURPOSE:
  Exposes the procurement engine via REST API. Handles HTTP request and
  response, JSON serialization and validation, and delegates every rule to
  the engine.

ENDPOINTS:
  Plans:
    POST   /api/plans                        Submit plan with line items
    GET    /api/plans                        List plans (?station_id, ?state, ?offset, ?limit)
    GET    /api/plans/rejected               Rejected plans (audit view)
    GET    /api/plans/{id}                   Plan with items and assessment
    POST   /api/plans/{id}/approve           Approve (?assess=true also assesses)
    POST   /api/plans/{id}/reject            Reject with note
    POST   /api/plans/{id}/assessment        Create the frozen tax assessment
    GET    /api/plans/{id}/balance           Paid-to-date and remaining balance

  Payments:
    GET    /api/plans/{id}/payments          Payments of a plan
    POST   /api/plans/{id}/payments          Submit payment
    GET    /api/payments/{id}                Get payment
    POST   /api/payments/{id}/first-signoff  Fill first sign-off slot
    POST   /api/payments/{id}/second-signoff Fill second sign-off slot
    DELETE /api/payments/{id}                Delete an unsigned payment

  Fulfillment:
    GET    /api/items/confirmed              Items waiting for a batch (?plan_id)
    GET    /api/items/{id}                   Get line item
    POST   /api/items/{id}/confirm           none -> confirmed
    POST   /api/items/{id}/deliver           batched -> delivered (single item)
    POST   /api/batches                      Create shipment batch
    GET    /api/batches/{id}                 Get batch
    POST   /api/batches/{id}/deliver         Deliver every item of a batch

  Stock:
    GET    /api/stock/products/{id}          Product total with tank rows
    POST   /api/stock/adjustments            Apply a signed tank delta

ERROR HANDLING:
  Errors are returned as ErrorResponse with the engine's stable code:
  - 400: Malformed JSON
  - 404: Record not found
  - 409: Precondition violated; stale state (retryable: true)
  - 422: Request validation, invalid input
  - 503: Ledger unavailable
  - 500: Anything else

SECURITY NOTE:
  No authentication. The actor is taken from the request body as given.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/warp/fuel-procurement/logger"
	"github.com/warp/fuel-procurement/procurement"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter clears a ledger. Only demo scenarios use it.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *procurement.Engine

	// DefaultRates are applied when an assessment request names no rates.
	DefaultRates procurement.TaxRates

	// Resetter is nil when scenario loading is disabled.
	Resetter Resetter

	validate *validator.Validate

	mu              sync.Mutex
	currentScenario string
}

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

// NewHandler creates a handler around an engine.
func NewHandler(eng *procurement.Engine, rates procurement.TaxRates, resetter Resetter) *Handler {
	return &Handler{
		Engine:       eng,
		DefaultRates: rates,
		Resetter:     resetter,
		validate:     mustValidator(),
	}
}

func mustValidator() *validator.Validate {
	v, err := newValidator()
	if err != nil {
		panic(fmt.Sprintf("api: build validator: %v", err))
	}
	return v
}

func newValidator() (*validator.Validate, error) {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	err := v.RegisterValidation("amount", func(fl validator.FieldLevel) bool {
		_, err := procurement.ParseValue(fl.Field().String())
		return err == nil
	})
	if err != nil {
		return nil, fmt.Errorf("register amount: %w", err)
	}
	return v, nil
}

// =============================================================================
// PLAN ENDPOINTS
// =============================================================================

// CreatePlan submits a plan with its line items.
func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var req CreatePlanRequest
	if !h.decode(w, r, &req) {
		return
	}

	draft := procurement.PlanDraft{
		StationID:   procurement.StationID(req.StationID),
		SubmittedBy: procurement.ActorID(req.SubmittedBy),
	}
	for _, l := range req.Lines {
		price, err := procurement.ParseValue(l.UnitPrice)
		if err != nil {
			h.writeEngineError(w, r, err)
			return
		}
		qty, err := procurement.ParseValue(l.Quantity)
		if err != nil {
			h.writeEngineError(w, r, err)
			return
		}
		draft.Lines = append(draft.Lines, procurement.LineDraft{
			ProductID: procurement.ProductID(l.ProductID),
			TankID:    procurement.TankID(l.TankID),
			UnitPrice: price,
			Quantity:  qty,
			Unit:      l.Unit,
		})
	}

	plan, items, err := h.Engine.SubmitPlan(r.Context(), draft)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	dto := toPlanDTO(plan)
	for i := range items {
		dto.Items = append(dto.Items, toLineItemDTO(&items[i]))
	}
	writeJSON(w, http.StatusCreated, dto)
}

// ListPlans returns one page of plans.
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	f, ok := planFilter(w, r)
	if !ok {
		return
	}
	offset, limit, ok := page(w, r)
	if !ok {
		return
	}

	plans, err := h.Engine.ListPlans(r.Context(), f, offset, limit)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanDTOs(plans))
}

// ListRejectedPlans returns rejected plans with their notes.
func (h *Handler) ListRejectedPlans(w http.ResponseWriter, r *http.Request) {
	offset, limit, ok := page(w, r)
	if !ok {
		return
	}
	f := procurement.PlanFilter{StationID: procurement.StationID(r.URL.Query().Get("station_id"))}

	plans, err := h.Engine.RejectedPlans(r.Context(), f, offset, limit)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanDTOs(plans))
}

// GetPlan returns a plan with its items and, once assessed, its assessment.
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := procurement.PlanID(chi.URLParam(r, "id"))

	plan, err := h.Engine.Plan(ctx, id)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	items, err := h.Engine.LineItems(ctx, id)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	dto := toPlanDTO(plan)
	dto.Items = toLineItemDTOs(items)

	a, err := h.Engine.Assessment(ctx, id)
	switch {
	case err == nil:
		dto.Assessment = toAssessmentDTO(a)
	case !errors.Is(err, procurement.ErrNotAssessed):
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// ApprovePlan approves a pending plan. With ?assess=true the default rates
// are applied in the same request.
func (h *Handler) ApprovePlan(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	id := procurement.PlanID(chi.URLParam(r, "id"))
	actor := procurement.ActorID(req.Actor)

	if assess, _ := strconv.ParseBool(r.URL.Query().Get("assess")); assess {
		plan, a, err := h.Engine.ApproveAndAssess(ctx, id, actor, h.DefaultRates)
		if err != nil {
			h.writeEngineError(w, r, err)
			return
		}
		dto := toPlanDTO(plan)
		dto.Assessment = toAssessmentDTO(a)
		writeJSON(w, http.StatusOK, dto)
		return
	}

	plan, err := h.Engine.Approve(ctx, id, actor)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanDTO(plan))
}

// RejectPlan rejects a pending plan with a note.
func (h *Handler) RejectPlan(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if !h.decode(w, r, &req) {
		return
	}
	id := procurement.PlanID(chi.URLParam(r, "id"))

	plan, err := h.Engine.Reject(r.Context(), id, procurement.ActorID(req.Actor), req.Note)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanDTO(plan))
}

// AssessPlan creates the tax assessment of an approved plan.
func (h *Handler) AssessPlan(w http.ResponseWriter, r *http.Request) {
	var req AssessRequest
	if !h.decode(w, r, &req) {
		return
	}
	rates, err := h.ratesFrom(req)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	id := procurement.PlanID(chi.URLParam(r, "id"))

	a, err := h.Engine.Assess(r.Context(), id, rates, procurement.ActorID(req.Actor))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAssessmentDTO(a))
}

func (h *Handler) ratesFrom(req AssessRequest) (procurement.TaxRates, error) {
	rates := h.DefaultRates
	for _, f := range []struct {
		raw *string
		dst *procurement.Value
	}{
		{req.VAT, &rates.VAT},
		{req.FuelTax, &rates.FuelTax},
		{req.Withholding, &rates.Withholding},
	} {
		if f.raw == nil {
			continue
		}
		v, err := procurement.ParseValue(*f.raw)
		if err != nil {
			return procurement.TaxRates{}, err
		}
		*f.dst = v
	}
	return rates, nil
}

// GetBalance returns the payment summary of an assessed plan.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := procurement.PlanID(chi.URLParam(r, "id"))

	b, err := h.Engine.Balance(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(b))
}

// =============================================================================
// PAYMENT ENDPOINTS
// =============================================================================

// ListPayments returns the live payments of a plan.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	id := procurement.PlanID(chi.URLParam(r, "id"))

	payments, err := h.Engine.Payments(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	out := make([]PaymentDTO, 0, len(payments))
	for _, p := range payments {
		out = append(out, toPaymentDTO(p))
	}
	writeJSON(w, http.StatusOK, out)
}

// SubmitPayment records a payment with both sign-off slots empty.
func (h *Handler) SubmitPayment(w http.ResponseWriter, r *http.Request) {
	var req SubmitPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, err := procurement.ParseValue(req.Amount)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	bank := procurement.BankDetails{
		BankName:      req.Bank.BankName,
		AccountName:   req.Bank.AccountName,
		AccountNumber: req.Bank.AccountNumber,
		Reference:     req.Bank.Reference,
	}
	id := procurement.PlanID(chi.URLParam(r, "id"))

	p, err := h.Engine.SubmitPayment(r.Context(), id, amount, bank, procurement.ActorID(req.Actor))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentDTO(p))
}

// GetPayment returns one payment.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.Engine.Payment(r.Context(), procurement.PaymentID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(p))
}

// FirstSignoff fills the first sign-off slot of a payment.
func (h *Handler) FirstSignoff(w http.ResponseWriter, r *http.Request) {
	h.signoff(w, r, h.Engine.ConfirmFirstParty)
}

// SecondSignoff fills the second sign-off slot of a payment.
func (h *Handler) SecondSignoff(w http.ResponseWriter, r *http.Request) {
	h.signoff(w, r, h.Engine.ConfirmSecondParty)
}

func (h *Handler) signoff(w http.ResponseWriter, r *http.Request,
	confirm func(context.Context, procurement.PaymentID, procurement.ActorID) (*procurement.Payment, error)) {
	var req ActorRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := confirm(r.Context(), procurement.PaymentID(chi.URLParam(r, "id")), procurement.ActorID(req.Actor))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(p))
}

// DeletePayment removes a payment nobody has signed.
func (h *Handler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.DeletePayment(r.Context(), procurement.PaymentID(chi.URLParam(r, "id"))); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// FULFILLMENT ENDPOINTS
// =============================================================================

// ListConfirmedItems returns items waiting for a batch.
func (h *Handler) ListConfirmedItems(w http.ResponseWriter, r *http.Request) {
	var plans []procurement.PlanID
	for _, id := range r.URL.Query()["plan_id"] {
		plans = append(plans, procurement.PlanID(id))
	}

	items, err := h.Engine.ConfirmedItems(r.Context(), plans...)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLineItemDTOs(items))
}

// GetItem returns one line item with its stage trail.
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.Engine.LineItem(r.Context(), procurement.LineItemID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLineItemDTO(item))
}

// ConfirmItem moves an item of an approved plan to confirmed.
func (h *Handler) ConfirmItem(w http.ResponseWriter, r *http.Request) {
	var req ActorRequest
	if !h.decode(w, r, &req) {
		return
	}
	item, err := h.Engine.Confirm(r.Context(), procurement.LineItemID(chi.URLParam(r, "id")), procurement.ActorID(req.Actor))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLineItemDTO(item))
}

// DeliverItem moves a single batched item to delivered.
func (h *Handler) DeliverItem(w http.ResponseWriter, r *http.Request) {
	var req ActorRequest
	if !h.decode(w, r, &req) {
		return
	}
	item, ev, err := h.Engine.Deliver(r.Context(), procurement.LineItemID(chi.URLParam(r, "id")), procurement.ActorID(req.Actor))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DeliveryDTO{
		Items:       []LineItemDTO{toLineItemDTO(item)},
		StockEvents: toStockEventDTOs([]procurement.StockEvent{ev}),
	})
}

// CreateBatch groups confirmed items into a shipment batch.
func (h *Handler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req CreateBatchRequest
	if !h.decode(w, r, &req) {
		return
	}

	br := procurement.BatchRequest{
		DeliveryOrderNo: req.DeliveryOrderNo,
		VehicleID:       req.VehicleID,
		Note:            req.Note,
		Actor:           procurement.ActorID(req.Actor),
	}
	if req.BatchDate != "" {
		d, err := time.Parse("2006-01-02", req.BatchDate)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "INVALID_DATE", "batch_date must be YYYY-MM-DD", err.Error())
			return
		}
		br.BatchDate = d.Unix()
	}
	for _, ref := range req.Items {
		br.Items = append(br.Items, procurement.ItemRef{
			PlanID:     procurement.PlanID(ref.PlanID),
			LineItemID: procurement.LineItemID(ref.LineItemID),
		})
	}

	batch, err := h.Engine.CreateBatch(r.Context(), br)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBatchDTO(batch))
}

// GetBatch returns one shipment batch.
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := h.Engine.Batch(r.Context(), procurement.BatchID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchDTO(batch))
}

// DeliverBatch delivers every item of a batch and updates tank stock.
func (h *Handler) DeliverBatch(w http.ResponseWriter, r *http.Request) {
	var req ActorRequest
	if !h.decode(w, r, &req) {
		return
	}
	receipt, err := h.Engine.ConfirmDelivery(r.Context(), procurement.BatchID(chi.URLParam(r, "id")), procurement.ActorID(req.Actor))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DeliveryDTO{
		Batch:       toBatchDTO(receipt.Batch),
		Items:       toLineItemDTOs(receipt.Items),
		StockEvents: toStockEventDTOs(receipt.StockEvents),
	})
}

// =============================================================================
// STOCK ENDPOINTS
// =============================================================================

// GetProductStock returns the derived total of a product.
func (h *Handler) GetProductStock(w http.ResponseWriter, r *http.Request) {
	s, err := h.Engine.ProductStock(r.Context(), procurement.ProductID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductStockDTO(s))
}

// AdjustStock applies a signed delta to one tank.
func (h *Handler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	var req StockAdjustmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	delta, err := procurement.ParseValue(req.Delta)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	row, err := h.Engine.ApplyDelta(r.Context(), procurement.TankID(req.TankID), procurement.ProductID(req.ProductID), delta)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	logger.FromContext(r.Context()).Info("stock adjusted",
		zap.String("actor", req.Actor),
		zap.String("tank_id", req.TankID),
		zap.String("product_id", req.ProductID),
		zap.String("delta", delta.String()),
		zap.String("reason", req.Reason),
	)
	writeJSON(w, http.StatusOK, toTankStockDTO(row))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message, Details: details})
}

// decode reads and validates a JSON body. It writes the error response and
// returns false on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Invalid request body", err.Error())
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Namespace()] = fe.Tag()
			}
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", "Request validation failed", fields)
			return false
		}
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", "Request validation failed", err.Error())
		return false
	}
	return true
}

// statusFor maps an engine error to an HTTP status.
func statusFor(err error) int {
	switch {
	case procurement.IsRetryable(err):
		return http.StatusConflict
	case errors.Is(err, procurement.ErrLedgerUnavailable):
		return http.StatusServiceUnavailable
	case procurement.IsNotFound(err):
		return http.StatusNotFound
	case procurement.IsInput(err):
		return http.StatusUnprocessableEntity
	case procurement.IsPrecondition(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, ErrorResponse{
		Error:     string(procurement.CodeOf(err)),
		Message:   err.Error(),
		Details:   errorDetails(err),
		Retryable: procurement.IsRetryable(err),
	})
}

// errorDetails exposes the fields of structured engine errors.
func errorDetails(err error) any {
	var stage *procurement.StageError
	var stock *procurement.InsufficientStockError
	var pending *procurement.NotConfirmedError
	switch {
	case errors.As(err, &stage):
		return map[string]string{"item_id": string(stage.ItemID), "from": stage.From.String(), "to": stage.To.String()}
	case errors.As(err, &stock):
		return map[string]string{
			"tank_id":    string(stock.TankID),
			"product_id": string(stock.ProductID),
			"available":  stock.Available.String(),
			"requested":  stock.Requested.String(),
		}
	case errors.As(err, &pending):
		return map[string]any{"items": pending.Items}
	}
	return nil
}

func planFilter(w http.ResponseWriter, r *http.Request) (procurement.PlanFilter, bool) {
	q := r.URL.Query()
	f := procurement.PlanFilter{
		StationID: procurement.StationID(q.Get("station_id")),
		State:     procurement.PlanState(q.Get("state")),
	}
	if f.State != "" && !f.State.IsValid() {
		writeError(w, http.StatusUnprocessableEntity, "INVALID_STATE", "state must be pending, approved or rejected", nil)
		return f, false
	}
	return f, true
}

func page(w http.ResponseWriter, r *http.Request) (offset, limit int, ok bool) {
	q := r.URL.Query()
	limit = defaultPageLimit
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusUnprocessableEntity, "INVALID_PAGE", "limit must be a positive integer", nil)
			return 0, 0, false
		}
		limit = min(n, maxPageLimit)
	}
	if s := q.Get("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusUnprocessableEntity, "INVALID_PAGE", "offset must be a non-negative integer", nil)
			return 0, 0, false
		}
		offset = n
	}
	return offset, limit, true
}

func toPlanDTOs(plans []*procurement.PurchasePlan) []PlanDTO {
	out := make([]PlanDTO, 0, len(plans))
	for _, p := range plans {
		out = append(out, toPlanDTO(p))
	}
	return out
}
