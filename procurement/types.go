/*
types.go - Records the engine reads from and submits to the ledger

KEY CONCEPTS IN THIS FILE:
  - PurchasePlan:  approval state machine (pending → approved | rejected)
  - PlanLineItem:  fulfillment stage machine (none → confirmed → batched → delivered)
  - TaxAssessment: frozen gross total for a plan
  - Payment:       installment with two sequential sign-off slots
  - ShipmentBatch: immutable grouping of confirmed items for one delivery
  - TankStock:     stock of one product in one tank

  Timestamps are Unix-epoch seconds. Quantities and money are Values.
  Version is the ledger version last observed by the engine and is not part
  of the serialized body.
*/
package procurement

import "fmt"

// =============================================================================
// IDENTIFIERS
// =============================================================================

type PlanID string
type LineItemID string
type PaymentID string
type BatchID string
type TankID string
type ProductID string
type StationID string
type ActorID string

// Signoff is an (actor, timestamp) audit pair.
type Signoff struct {
	Actor ActorID `json:"actor"`
	At    int64   `json:"at"`
}

// =============================================================================
// PURCHASE PLAN
// =============================================================================

type PlanState string

const (
	PlanPending  PlanState = "pending"
	PlanApproved PlanState = "approved"
	PlanRejected PlanState = "rejected"
)

func (s PlanState) IsValid() bool {
	switch s {
	case PlanPending, PlanApproved, PlanRejected:
		return true
	}
	return false
}

type PurchasePlan struct {
	ID            PlanID    `json:"id"`
	StationID     StationID `json:"station_id"`
	SubmittedBy   ActorID   `json:"submitted_by"`
	SubmittedAt   int64     `json:"submitted_at"`
	NetTotal      Value     `json:"net_total"`
	State         PlanState `json:"state"`
	Decision      *Signoff  `json:"decision,omitempty"`
	RejectionNote string    `json:"rejection_note,omitempty"`

	Version int64 `json:"-"`
}

// Validate checks the decision invariants: a decision exists exactly when the
// plan is decided, and a note exists exactly when it is rejected.
func (p *PurchasePlan) Validate() error {
	if !p.State.IsValid() {
		return fmt.Errorf("%w: unknown plan state %q", ErrValidationRejected, p.State)
	}
	if (p.Decision == nil) != (p.State == PlanPending) {
		return fmt.Errorf("%w: decision actor must be present iff plan is decided", ErrValidationRejected)
	}
	if (p.RejectionNote != "") != (p.State == PlanRejected) {
		return fmt.Errorf("%w: rejection note must be present iff plan is rejected", ErrValidationRejected)
	}
	return nil
}

// =============================================================================
// LINE ITEM
// =============================================================================

// Stage is the ordered fulfillment stage of a line item.
type Stage int

const (
	StageNone Stage = iota
	StageConfirmed
	StageBatched
	StageDelivered
)

var stageNames = [...]string{"none", "confirmed", "batched", "delivered"}

func (s Stage) String() string {
	if s < StageNone || s > StageDelivered {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// ParseStage is the inverse of String.
func ParseStage(s string) (Stage, bool) {
	for i, n := range stageNames {
		if n == s {
			return Stage(i), true
		}
	}
	return StageNone, false
}

// StageMark records who moved an item into a stage and when.
type StageMark struct {
	Stage Stage   `json:"stage"`
	Actor ActorID `json:"actor"`
	At    int64   `json:"at"`
}

type PlanLineItem struct {
	ID        LineItemID `json:"id"`
	PlanID    PlanID     `json:"plan_id"`
	ProductID ProductID  `json:"product_id"`
	TankID    TankID     `json:"tank_id"`
	UnitPrice Value      `json:"unit_price"`
	Quantity  Value      `json:"quantity"`
	Unit      string     `json:"unit"`
	Subtotal  Value      `json:"subtotal"`

	Stage   Stage       `json:"stage"`
	Trail   []StageMark `json:"trail,omitempty"`
	BatchID BatchID     `json:"batch_id,omitempty"`

	Version int64 `json:"-"`
}

// Mark returns the audit pair for a reached stage.
func (li *PlanLineItem) Mark(s Stage) (StageMark, bool) {
	if s <= StageNone || int(s) > len(li.Trail) {
		return StageMark{}, false
	}
	return li.Trail[s-1], true
}

// Validate checks that the trail holds one mark per reached stage, in order,
// with non-decreasing timestamps.
func (li *PlanLineItem) Validate() error {
	if len(li.Trail) != int(li.Stage) {
		return fmt.Errorf("%w: item %s at %s has %d stage marks", ErrValidationRejected, li.ID, li.Stage, len(li.Trail))
	}
	var last int64
	for i, m := range li.Trail {
		if m.Stage != Stage(i+1) {
			return fmt.Errorf("%w: item %s mark %d is %s", ErrValidationRejected, li.ID, i, m.Stage)
		}
		if m.At < last {
			return fmt.Errorf("%w: item %s stage timestamps regress", ErrValidationRejected, li.ID)
		}
		last = m.At
	}
	return nil
}

// advance moves the item exactly one stage forward.
func (li *PlanLineItem) advance(to Stage, actor ActorID, at int64) error {
	if to != li.Stage+1 || to > StageDelivered {
		return &StageError{ItemID: li.ID, From: li.Stage, To: to}
	}
	if n := len(li.Trail); n > 0 && at < li.Trail[n-1].At {
		at = li.Trail[n-1].At
	}
	li.Trail = append(li.Trail, StageMark{Stage: to, Actor: actor, At: at})
	li.Stage = to
	return nil
}

// =============================================================================
// TAX ASSESSMENT
// =============================================================================

// TaxRates is a snapshot of the active rates, each scaled ×100.
type TaxRates struct {
	VAT         Value `json:"vat"`
	FuelTax     Value `json:"fuel_tax"`
	Withholding Value `json:"withholding"`
}

type TaxAssessment struct {
	ID                string   `json:"id"`
	PlanID            PlanID   `json:"plan_id"`
	NetTotal          Value    `json:"net_total"`
	Rates             TaxRates `json:"rates"`
	VATAmount         Value    `json:"vat_amount"`
	FuelTaxAmount     Value    `json:"fuel_tax_amount"`
	WithholdingAmount Value    `json:"withholding_amount"`
	GrossTotal        Value    `json:"gross_total"`
	Calculated        bool     `json:"calculated"`
	AssessedBy        ActorID  `json:"assessed_by"`
	AssessedAt        int64    `json:"assessed_at"`

	Version int64 `json:"-"`
}

// =============================================================================
// PAYMENT
// =============================================================================

// BankDetails are free-text transfer references.
type BankDetails struct {
	BankName      string `json:"bank_name,omitempty"`
	AccountName   string `json:"account_name,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
	Reference     string `json:"reference,omitempty"`
}

type Payment struct {
	ID          PaymentID   `json:"id"`
	PlanID      PlanID      `json:"plan_id"`
	Bank        BankDetails `json:"bank"`
	Amount      Value       `json:"amount"`
	SubmittedBy ActorID     `json:"submitted_by"`
	SubmittedAt int64       `json:"submitted_at"`
	FirstParty  *Signoff    `json:"first_party,omitempty"`
	SecondParty *Signoff    `json:"second_party,omitempty"`

	Version int64 `json:"-"`
}

// FullySigned reports whether the payment counts toward paid-to-date.
func (p *Payment) FullySigned() bool {
	return p.FirstParty != nil && p.SecondParty != nil
}

// =============================================================================
// SHIPMENT BATCH
// =============================================================================

// ItemRef points at one line item of one plan.
type ItemRef struct {
	PlanID     PlanID     `json:"plan_id"`
	LineItemID LineItemID `json:"line_item_id"`
}

type ShipmentBatch struct {
	ID              BatchID   `json:"id"`
	BatchDate       int64     `json:"batch_date"`
	Items           []ItemRef `json:"items"`
	DeliveryOrderNo string    `json:"delivery_order_no"`
	VehicleID       string    `json:"vehicle_id"`
	Note            string    `json:"note,omitempty"`
	CreatedBy       ActorID   `json:"created_by"`
	CreatedAt       int64     `json:"created_at"`

	Version int64 `json:"-"`
}

// =============================================================================
// STOCK
// =============================================================================

type TankStock struct {
	ID        string    `json:"id"`
	TankID    TankID    `json:"tank_id"`
	ProductID ProductID `json:"product_id"`
	Current   Value     `json:"current"`
	UpdatedAt int64     `json:"updated_at"`

	Version int64 `json:"-"`
}

// TankStockID is the ledger id of the (tank, product) row.
func TankStockID(tank TankID, product ProductID) string {
	return string(tank) + "/" + string(product)
}

// ProductStock is the derived per-product total. It is never stored.
type ProductStock struct {
	ProductID ProductID   `json:"product_id"`
	Total     Value       `json:"total"`
	Tanks     []TankStock `json:"tanks"`
}

// StockEvent is a delta applied to one tank for one product.
type StockEvent struct {
	TankID    TankID    `json:"tank_id"`
	ProductID ProductID `json:"product_id"`
	Delta     Value     `json:"delta"`
}
