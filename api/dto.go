/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine records from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

AMOUNTS:
  Money, quantities and rates travel as decimal strings with at most two
  fractional digits ("1160000.00", "11.00"). They are parsed with
  procurement.ParseValue and never pass through float64.

TIMESTAMPS:
  RFC3339 in UTC.

VALIDATION:
  Request types carry go-playground/validator tags; the custom "amount" tag
  accepts any string ParseValue accepts.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/fuel-procurement/procurement"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// LineRequest is one line of a plan submission.
type LineRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	TankID    string `json:"tank_id" validate:"required"`
	UnitPrice string `json:"unit_price" validate:"required,amount"`
	Quantity  string `json:"quantity" validate:"required,amount"`
	Unit      string `json:"unit" validate:"required"`
}

// CreatePlanRequest submits a purchase plan with its line items.
type CreatePlanRequest struct {
	StationID   string        `json:"station_id" validate:"required"`
	SubmittedBy string        `json:"submitted_by" validate:"required"`
	Lines       []LineRequest `json:"lines" validate:"required,min=1,dive"`
}

// DecisionRequest approves or rejects a plan. Note is required to reject.
type DecisionRequest struct {
	Actor string `json:"actor" validate:"required"`
	Note  string `json:"note"`
}

// AssessRequest creates the tax assessment. Missing rates fall back to the
// configured defaults.
type AssessRequest struct {
	Actor       string  `json:"actor" validate:"required"`
	VAT         *string `json:"vat,omitempty" validate:"omitempty,amount"`
	FuelTax     *string `json:"fuel_tax,omitempty" validate:"omitempty,amount"`
	Withholding *string `json:"withholding,omitempty" validate:"omitempty,amount"`
}

// BankDTO carries transfer references.
type BankDTO struct {
	BankName      string `json:"bank_name,omitempty"`
	AccountName   string `json:"account_name,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
	Reference     string `json:"reference,omitempty"`
}

// SubmitPaymentRequest records a payment against an assessed plan.
type SubmitPaymentRequest struct {
	Actor  string  `json:"actor" validate:"required"`
	Amount string  `json:"amount" validate:"required,amount"`
	Bank   BankDTO `json:"bank"`
}

// ActorRequest is the body of actions that only need an actor.
type ActorRequest struct {
	Actor string `json:"actor" validate:"required"`
}

// ItemRefDTO points at one line item.
type ItemRefDTO struct {
	PlanID     string `json:"plan_id"`
	LineItemID string `json:"line_item_id" validate:"required"`
}

// CreateBatchRequest groups confirmed items into a shipment batch.
type CreateBatchRequest struct {
	Actor           string       `json:"actor" validate:"required"`
	Items           []ItemRefDTO `json:"items" validate:"required,min=1,dive"`
	BatchDate       string       `json:"batch_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	DeliveryOrderNo string       `json:"delivery_order_no" validate:"required"`
	VehicleID       string       `json:"vehicle_id" validate:"required"`
	Note            string       `json:"note,omitempty"`
}

// StockAdjustmentRequest applies a signed delta to a tank.
type StockAdjustmentRequest struct {
	Actor     string `json:"actor" validate:"required"`
	TankID    string `json:"tank_id" validate:"required"`
	ProductID string `json:"product_id" validate:"required"`
	Delta     string `json:"delta" validate:"required,amount"`
	Reason    string `json:"reason,omitempty"`
}

// LoadScenarioRequest is the request to load a demo scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// PlanDTO represents a plan in API responses.
type PlanDTO struct {
	ID            string         `json:"id"`
	StationID     string         `json:"station_id"`
	SubmittedBy   string         `json:"submitted_by"`
	SubmittedAt   string         `json:"submitted_at"`
	NetTotal      string         `json:"net_total"`
	State         string         `json:"state"`
	DecidedBy     string         `json:"decided_by,omitempty"`
	DecidedAt     string         `json:"decided_at,omitempty"`
	RejectionNote string         `json:"rejection_note,omitempty"`
	Items         []LineItemDTO  `json:"items,omitempty"`
	Assessment    *AssessmentDTO `json:"assessment,omitempty"`
}

// StageMarkDTO is one entry of an item's stage trail.
type StageMarkDTO struct {
	Stage string `json:"stage"`
	Actor string `json:"actor"`
	At    string `json:"at"`
}

// LineItemDTO represents a line item in API responses.
type LineItemDTO struct {
	ID        string         `json:"id"`
	PlanID    string         `json:"plan_id"`
	ProductID string         `json:"product_id"`
	TankID    string         `json:"tank_id"`
	UnitPrice string         `json:"unit_price"`
	Quantity  string         `json:"quantity"`
	Unit      string         `json:"unit"`
	Subtotal  string         `json:"subtotal"`
	Stage     string         `json:"stage"`
	Trail     []StageMarkDTO `json:"trail"`
	BatchID   string         `json:"batch_id,omitempty"`
}

// RatesDTO is a tax-rate snapshot.
type RatesDTO struct {
	VAT         string `json:"vat"`
	FuelTax     string `json:"fuel_tax"`
	Withholding string `json:"withholding"`
}

// AssessmentDTO represents a frozen tax assessment.
type AssessmentDTO struct {
	PlanID            string   `json:"plan_id"`
	NetTotal          string   `json:"net_total"`
	Rates             RatesDTO `json:"rates"`
	VATAmount         string   `json:"vat_amount"`
	FuelTaxAmount     string   `json:"fuel_tax_amount"`
	WithholdingAmount string   `json:"withholding_amount"`
	GrossTotal        string   `json:"gross_total"`
	Calculated        bool     `json:"calculated"`
	AssessedBy        string   `json:"assessed_by"`
	AssessedAt        string   `json:"assessed_at"`
}

// SignoffDTO is one filled sign-off slot.
type SignoffDTO struct {
	Actor string `json:"actor"`
	At    string `json:"at"`
}

// PaymentDTO represents a payment in API responses.
type PaymentDTO struct {
	ID          string      `json:"id"`
	PlanID      string      `json:"plan_id"`
	Amount      string      `json:"amount"`
	Bank        BankDTO     `json:"bank"`
	SubmittedBy string      `json:"submitted_by"`
	SubmittedAt string      `json:"submitted_at"`
	FirstParty  *SignoffDTO `json:"first_party,omitempty"`
	SecondParty *SignoffDTO `json:"second_party,omitempty"`
	Counted     bool        `json:"counted"`
}

// BalanceDTO is the payment summary of a plan.
type BalanceDTO struct {
	PlanID     string `json:"plan_id"`
	GrossTotal string `json:"gross_total"`
	PaidToDate string `json:"paid_to_date"`
	Pending    string `json:"pending"`
	Remaining  string `json:"remaining"`
	Overpaid   string `json:"overpaid"`
	Payments   int    `json:"payments"`
}

// BatchDTO represents a shipment batch.
type BatchDTO struct {
	ID              string       `json:"id"`
	BatchDate       string       `json:"batch_date"`
	Items           []ItemRefDTO `json:"items"`
	DeliveryOrderNo string       `json:"delivery_order_no"`
	VehicleID       string       `json:"vehicle_id"`
	Note            string       `json:"note,omitempty"`
	CreatedBy       string       `json:"created_by"`
	CreatedAt       string       `json:"created_at"`
}

// StockEventDTO is one tank delta.
type StockEventDTO struct {
	TankID    string `json:"tank_id"`
	ProductID string `json:"product_id"`
	Delta     string `json:"delta"`
}

// DeliveryDTO is the result of a delivery confirmation.
type DeliveryDTO struct {
	Batch       *BatchDTO       `json:"batch,omitempty"`
	Items       []LineItemDTO   `json:"items"`
	StockEvents []StockEventDTO `json:"stock_events"`
}

// TankStockDTO is the stock of one product in one tank.
type TankStockDTO struct {
	TankID    string `json:"tank_id"`
	ProductID string `json:"product_id"`
	Current   string `json:"current"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// ProductStockDTO is the derived per-product total.
type ProductStockDTO struct {
	ProductID string         `json:"product_id"`
	Total     string         `json:"total"`
	Tanks     []TankStockDTO `json:"tanks"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTime(unix int64) string {
	if unix == 0 {
		return ""
	}
	return time.Unix(unix, 0).UTC().Format(time.RFC3339)
}

func toPlanDTO(p *procurement.PurchasePlan) PlanDTO {
	dto := PlanDTO{
		ID:            string(p.ID),
		StationID:     string(p.StationID),
		SubmittedBy:   string(p.SubmittedBy),
		SubmittedAt:   formatTime(p.SubmittedAt),
		NetTotal:      p.NetTotal.String(),
		State:         string(p.State),
		RejectionNote: p.RejectionNote,
	}
	if p.Decision != nil {
		dto.DecidedBy = string(p.Decision.Actor)
		dto.DecidedAt = formatTime(p.Decision.At)
	}
	return dto
}

func toLineItemDTO(li *procurement.PlanLineItem) LineItemDTO {
	dto := LineItemDTO{
		ID:        string(li.ID),
		PlanID:    string(li.PlanID),
		ProductID: string(li.ProductID),
		TankID:    string(li.TankID),
		UnitPrice: li.UnitPrice.String(),
		Quantity:  li.Quantity.String(),
		Unit:      li.Unit,
		Subtotal:  li.Subtotal.String(),
		Stage:     li.Stage.String(),
		Trail:     make([]StageMarkDTO, 0, len(li.Trail)),
		BatchID:   string(li.BatchID),
	}
	for _, m := range li.Trail {
		dto.Trail = append(dto.Trail, StageMarkDTO{Stage: m.Stage.String(), Actor: string(m.Actor), At: formatTime(m.At)})
	}
	return dto
}

func toLineItemDTOs(items []*procurement.PlanLineItem) []LineItemDTO {
	out := make([]LineItemDTO, 0, len(items))
	for _, li := range items {
		out = append(out, toLineItemDTO(li))
	}
	return out
}

func toAssessmentDTO(a *procurement.TaxAssessment) *AssessmentDTO {
	return &AssessmentDTO{
		PlanID:   string(a.PlanID),
		NetTotal: a.NetTotal.String(),
		Rates: RatesDTO{
			VAT:         a.Rates.VAT.String(),
			FuelTax:     a.Rates.FuelTax.String(),
			Withholding: a.Rates.Withholding.String(),
		},
		VATAmount:         a.VATAmount.String(),
		FuelTaxAmount:     a.FuelTaxAmount.String(),
		WithholdingAmount: a.WithholdingAmount.String(),
		GrossTotal:        a.GrossTotal.String(),
		Calculated:        a.Calculated,
		AssessedBy:        string(a.AssessedBy),
		AssessedAt:        formatTime(a.AssessedAt),
	}
}

func toSignoffDTO(s *procurement.Signoff) *SignoffDTO {
	if s == nil {
		return nil
	}
	return &SignoffDTO{Actor: string(s.Actor), At: formatTime(s.At)}
}

func toPaymentDTO(p *procurement.Payment) PaymentDTO {
	return PaymentDTO{
		ID:     string(p.ID),
		PlanID: string(p.PlanID),
		Amount: p.Amount.String(),
		Bank: BankDTO{
			BankName:      p.Bank.BankName,
			AccountName:   p.Bank.AccountName,
			AccountNumber: p.Bank.AccountNumber,
			Reference:     p.Bank.Reference,
		},
		SubmittedBy: string(p.SubmittedBy),
		SubmittedAt: formatTime(p.SubmittedAt),
		FirstParty:  toSignoffDTO(p.FirstParty),
		SecondParty: toSignoffDTO(p.SecondParty),
		Counted:     p.FullySigned(),
	}
}

func toBalanceDTO(b procurement.PaymentBalance) BalanceDTO {
	return BalanceDTO{
		PlanID:     string(b.PlanID),
		GrossTotal: b.GrossTotal.String(),
		PaidToDate: b.PaidToDate.String(),
		Pending:    b.Pending.String(),
		Remaining:  b.Remaining.String(),
		Overpaid:   b.Overpaid.String(),
		Payments:   b.Payments,
	}
}

func toBatchDTO(b *procurement.ShipmentBatch) *BatchDTO {
	dto := &BatchDTO{
		ID:              string(b.ID),
		BatchDate:       time.Unix(b.BatchDate, 0).UTC().Format("2006-01-02"),
		Items:           make([]ItemRefDTO, 0, len(b.Items)),
		DeliveryOrderNo: b.DeliveryOrderNo,
		VehicleID:       b.VehicleID,
		Note:            b.Note,
		CreatedBy:       string(b.CreatedBy),
		CreatedAt:       formatTime(b.CreatedAt),
	}
	for _, ref := range b.Items {
		dto.Items = append(dto.Items, ItemRefDTO{PlanID: string(ref.PlanID), LineItemID: string(ref.LineItemID)})
	}
	return dto
}

func toStockEventDTOs(events []procurement.StockEvent) []StockEventDTO {
	out := make([]StockEventDTO, 0, len(events))
	for _, ev := range events {
		out = append(out, StockEventDTO{TankID: string(ev.TankID), ProductID: string(ev.ProductID), Delta: ev.Delta.String()})
	}
	return out
}

func toTankStockDTO(t *procurement.TankStock) TankStockDTO {
	return TankStockDTO{
		TankID:    string(t.TankID),
		ProductID: string(t.ProductID),
		Current:   t.Current.String(),
		UpdatedAt: formatTime(t.UpdatedAt),
	}
}

func toProductStockDTO(s procurement.ProductStock) ProductStockDTO {
	dto := ProductStockDTO{
		ProductID: string(s.ProductID),
		Total:     s.Total.String(),
		Tanks:     make([]TankStockDTO, 0, len(s.Tanks)),
	}
	for i := range s.Tanks {
		dto.Tanks = append(dto.Tanks, toTankStockDTO(&s.Tanks[i]))
	}
	return dto
}
