/*
ledger.go - The external ledger boundary

PURPOSE:
  The ledger is the authoritative, single-writer-per-record store of plan,
  payment and stock facts. The engine consumes it through three calls:

    Read(kind, id)                         → envelope | ErrNotFound
    Submit(kind, id, expectedVersion, ...) → envelope | ErrStaleState | ErrValidationRejected
    List(kind, filter, offset, limit)      → envelopes

CRITICAL INVARIANTS:
  1. COMPARE-AND-SET: every Submit names the version it was computed from.
     ExpectedVersion 0 means "create"; it fails if the record exists.
  2. VERSIONS: a successful Submit returns the stored envelope with
     Version = ExpectedVersion + 1.
  3. TOMBSTONES: records are never erased. A tombstone submission hides the
     record from Read and List but keeps its history.

MULTI-RECORD COMMITS:
  A ledger that can apply several submissions atomically implements
  BatchLedger. The engine uses it when available and otherwise falls back to
  a saga with compensating submissions (see saga.go).

IMPLEMENTATIONS:
  - procurement/store/memory.go: In-memory, for tests and the memory driver
  - store/sqlite/sqlite.go:      SQLite with WAL

SEE ALSO:
  - codec.go: Typed read/submit helpers on top of envelopes
*/
package procurement

import (
	"context"
	"encoding/json"
)

// Kind names a record type in the ledger.
type Kind string

const (
	KindPlan       Kind = "plan"
	KindLineItem   Kind = "line_item"
	KindAssessment Kind = "tax_assessment"
	KindPayment    Kind = "payment"
	KindBatch      Kind = "shipment_batch"
	KindTankStock  Kind = "tank_stock"
)

// Label keys used for List filters.
const (
	LabelPlanID    = "plan_id"
	LabelState     = "state"
	LabelStage     = "stage"
	LabelProductID = "product_id"
	LabelStationID = "station_id"
	LabelBatchID   = "batch_id"
	LabelTankID    = "tank_id"
)

// Labels are indexable string fields stored next to a record body.
type Labels map[string]string

// Filter matches records whose labels equal every given pair.
type Filter map[string]string

// Matches reports whether labels satisfy the filter.
func (f Filter) Matches(l Labels) bool {
	for k, v := range f {
		if l[k] != v {
			return false
		}
	}
	return true
}

// Envelope is a stored record.
type Envelope struct {
	Kind      Kind
	ID        string
	Version   int64
	Data      json.RawMessage
	Labels    Labels
	Tombstone bool
	UpdatedAt int64
}

// Submission is one compare-and-set write.
type Submission struct {
	Kind            Kind
	ID              string
	ExpectedVersion int64
	Data            json.RawMessage
	Labels          Labels
	Tombstone       bool
}

// Ledger is the engine's only external dependency.
type Ledger interface {
	// Read returns the live record or ErrNotFound.
	Read(ctx context.Context, kind Kind, id string) (Envelope, error)

	// Submit applies one write if the stored version equals ExpectedVersion.
	Submit(ctx context.Context, sub Submission) (Envelope, error)

	// List returns live records of kind matching filter, in creation order.
	List(ctx context.Context, kind Kind, filter Filter, offset, limit int) ([]Envelope, error)
}

// BatchLedger applies several submissions all-or-nothing.
type BatchLedger interface {
	Ledger
	SubmitAll(ctx context.Context, subs []Submission) ([]Envelope, error)
}
