/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the ledger with realistic
	procurement data. Every scenario goes through the engine, so the data
	obeys the same rules as production traffic.

AVAILABLE SCENARIOS:

	worked-example:    One plan, net 1,000,000.00, VAT 11% + fuel tax 5%,
	                   one counted and one half-signed payment, delivered
	pending-approvals: Plans from two stations awaiting decision, one rejected
	multi-tank:        One product delivered into several tanks in one batch

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "worked-example"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add it to the loaders map

NOTE:

	Scenarios reset the ledger. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Engine-facing handlers
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/warp/fuel-procurement/procurement"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "worked-example",
		Name:        "Worked Example",
		Description: "Net 1,000,000.00 at VAT 11% and fuel tax 5%: gross 1,160,000.00, partial payments, delivered",
	},
	{
		ID:          "pending-approvals",
		Name:        "Pending Approvals",
		Description: "Plans from two stations waiting for a decision, plus one rejected plan",
	},
	{
		ID:          "multi-tank",
		Name:        "Multi-Tank Delivery",
		Description: "One product delivered into two tanks in a single batch",
	},
}

func (h *Handler) loaders() map[string]func(context.Context) error {
	return map[string]func(context.Context) error{
		"worked-example":    h.loadWorkedExampleScenario,
		"pending-approvals": h.loadPendingApprovalsScenario,
		"multi-tank":        h.loadMultiTankScenario,
	}
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the ledger and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	load, ok := h.loaders()[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "UNKNOWN_SCENARIO", "Unknown scenario", req.ScenarioID)
		return
	}
	if h.Resetter == nil {
		writeError(w, http.StatusConflict, "SCENARIOS_DISABLED", "Scenario loading is disabled", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.Resetter.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "RESET_FAILED", "Failed to reset ledger", err.Error())
		return
	}
	h.currentScenario = ""

	if err := load(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, string(procurement.CodeOf(err)), fmt.Sprintf("Failed to load scenario: %v", err), nil)
		return
	}

	h.currentScenario = req.ScenarioID
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

var scenarioRates = procurement.TaxRates{
	VAT:     procurement.MustParseValue("11.00"),
	FuelTax: procurement.MustParseValue("5.00"),
}

func val(s string) procurement.Value { return procurement.MustParseValue(s) }

func (h *Handler) loadWorkedExampleScenario(ctx context.Context) error {
	// 100.00 kL of Pertalite at 10,000.00 per kL: net 1,000,000.00
	plan, items, err := h.Engine.SubmitPlan(ctx, procurement.PlanDraft{
		StationID:   "station-01",
		SubmittedBy: "clerk-ana",
		Lines: []procurement.LineDraft{
			{ProductID: "pertalite", TankID: "tank-01", UnitPrice: val("10000.00"), Quantity: val("100.00"), Unit: "kL"},
		},
	})
	if err != nil {
		return err
	}

	// gross = 1,000,000.00 + 110,000.00 + 50,000.00 = 1,160,000.00
	if _, _, err := h.Engine.ApproveAndAssess(ctx, plan.ID, "manager-budi", scenarioRates); err != nil {
		return err
	}

	first, err := h.Engine.SubmitPayment(ctx, plan.ID, val("500000.00"), procurement.BankDetails{
		BankName:  "Bank Mandiri",
		Reference: "TRF-0001",
	}, "finance-citra")
	if err != nil {
		return err
	}
	if _, err := h.Engine.ConfirmFirstParty(ctx, first.ID, "finance-citra"); err != nil {
		return err
	}
	if _, err := h.Engine.ConfirmSecondParty(ctx, first.ID, "director-dewi"); err != nil {
		return err
	}

	// Half-signed: does not count toward paid-to-date yet.
	second, err := h.Engine.SubmitPayment(ctx, plan.ID, val("660000.00"), procurement.BankDetails{
		BankName:  "Bank Mandiri",
		Reference: "TRF-0002",
	}, "finance-citra")
	if err != nil {
		return err
	}
	if _, err := h.Engine.ConfirmFirstParty(ctx, second.ID, "finance-citra"); err != nil {
		return err
	}

	return h.deliverAll(ctx, items, "DO-2025-0001", "B 9123 XY")
}

func (h *Handler) loadPendingApprovalsScenario(ctx context.Context) error {
	drafts := []procurement.PlanDraft{
		{
			StationID:   "station-01",
			SubmittedBy: "clerk-ana",
			Lines: []procurement.LineDraft{
				{ProductID: "pertalite", TankID: "tank-01", UnitPrice: val("10000.00"), Quantity: val("16.00"), Unit: "kL"},
				{ProductID: "solar", TankID: "tank-02", UnitPrice: val("6800.00"), Quantity: val("8.00"), Unit: "kL"},
			},
		},
		{
			StationID:   "station-02",
			SubmittedBy: "clerk-eko",
			Lines: []procurement.LineDraft{
				{ProductID: "pertamax", TankID: "tank-11", UnitPrice: val("12950.00"), Quantity: val("8.00"), Unit: "kL"},
			},
		},
		{
			StationID:   "station-02",
			SubmittedBy: "clerk-eko",
			Lines: []procurement.LineDraft{
				{ProductID: "pertamax", TankID: "tank-11", UnitPrice: val("12950.00"), Quantity: val("40.00"), Unit: "kL"},
			},
		},
	}

	var last *procurement.PurchasePlan
	for _, d := range drafts {
		plan, _, err := h.Engine.SubmitPlan(ctx, d)
		if err != nil {
			return err
		}
		last = plan
	}

	_, err := h.Engine.Reject(ctx, last.ID, "manager-budi", "Exceeds tank-11 capacity; resubmit at 24 kL")
	return err
}

func (h *Handler) loadMultiTankScenario(ctx context.Context) error {
	plan, items, err := h.Engine.SubmitPlan(ctx, procurement.PlanDraft{
		StationID:   "station-03",
		SubmittedBy: "clerk-fajar",
		Lines: []procurement.LineDraft{
			{ProductID: "solar", TankID: "tank-21", UnitPrice: val("6800.00"), Quantity: val("8.00"), Unit: "kL"},
			{ProductID: "solar", TankID: "tank-22", UnitPrice: val("6800.00"), Quantity: val("8.00"), Unit: "kL"},
			{ProductID: "solar", TankID: "tank-22", UnitPrice: val("6750.00"), Quantity: val("4.50"), Unit: "kL"},
		},
	})
	if err != nil {
		return err
	}
	if _, _, err := h.Engine.ApproveAndAssess(ctx, plan.ID, "manager-budi", scenarioRates); err != nil {
		return err
	}
	return h.deliverAll(ctx, items, "DO-2025-0002", "B 9456 ZZ")
}

// deliverAll confirms, batches and delivers items in one shipment.
func (h *Handler) deliverAll(ctx context.Context, items []procurement.PlanLineItem, orderNo, vehicle string) error {
	refs := make([]procurement.ItemRef, 0, len(items))
	for _, item := range items {
		if _, err := h.Engine.Confirm(ctx, item.ID, "station-lead"); err != nil {
			return err
		}
		refs = append(refs, procurement.ItemRef{PlanID: item.PlanID, LineItemID: item.ID})
	}

	batch, err := h.Engine.CreateBatch(ctx, procurement.BatchRequest{
		Items:           refs,
		DeliveryOrderNo: orderNo,
		VehicleID:       vehicle,
		Actor:           "logistics-gita",
	})
	if err != nil {
		return err
	}
	_, err = h.Engine.ConfirmDelivery(ctx, batch.ID, "station-lead")
	return err
}
