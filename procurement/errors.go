/*
errors.go - Centralized error types for the procurement engine

PURPOSE:
  Every failure the engine reports maps to a stable Code so presentation
  layers can render guidance ("already approved by someone else, please
  refresh") without parsing messages.

ERROR CATEGORIES:
  1. Precondition violations - the action is invalid now; never retried
  2. Concurrency errors     - StaleState; caller re-reads and retries
  3. Infrastructure errors  - LedgerUnavailable; propagated unchanged
  4. Input errors           - malformed values or missing fields

USAGE:
  Callers compare with errors.Is against the sentinels, or read the code:

    if errors.Is(err, procurement.ErrAlreadySigned) { ... }
    code := procurement.CodeOf(err) // "ALREADY_SIGNED"

  Engine methods wrap sentinels with context via fmt.Errorf("...: %w").

SEE ALSO:
  - api/handlers.go: Maps codes to HTTP status
*/
package procurement

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error identifier.
type Code string

// Category groups codes by how a caller should react.
type Category int

const (
	CategoryPrecondition Category = iota
	CategoryConcurrency
	CategoryInfrastructure
	CategoryInput
	CategoryNotFound
)

// Error is a sentinel carrying a stable code.
type Error struct {
	Code     Code
	Category Category
	Message  string
}

func (e *Error) Error() string { return e.Message }

func newError(code Code, cat Category, msg string) *Error {
	return &Error{Code: code, Category: cat, Message: msg}
}

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// Precondition violations
	ErrAlreadyDecided            = newError("ALREADY_DECIDED", CategoryPrecondition, "plan already decided")
	ErrAlreadyAssessed           = newError("ALREADY_ASSESSED", CategoryPrecondition, "plan already tax-assessed")
	ErrPlanNotApproved           = newError("PLAN_NOT_APPROVED", CategoryPrecondition, "plan is not approved")
	ErrNotAssessed               = newError("NOT_ASSESSED", CategoryPrecondition, "plan has no tax assessment")
	ErrInvalidStageTransition    = newError("INVALID_STAGE_TRANSITION", CategoryPrecondition, "invalid stage transition")
	ErrFirstPartyPending         = newError("FIRST_PARTY_PENDING", CategoryPrecondition, "first-party sign-off is pending")
	ErrAlreadySigned             = newError("ALREADY_SIGNED", CategoryPrecondition, "sign-off slot already filled")
	ErrSameSigner                = newError("SAME_SIGNER", CategoryPrecondition, "second-party signer must differ from first-party signer")
	ErrCannotDeleteSignedPayment = newError("CANNOT_DELETE_SIGNED_PAYMENT", CategoryPrecondition, "payment already has a sign-off")
	ErrLineItemNotConfirmed      = newError("LINE_ITEM_NOT_CONFIRMED", CategoryPrecondition, "line item is not confirmed")
	ErrInsufficientStock         = newError("INSUFFICIENT_STOCK", CategoryPrecondition, "insufficient stock")
	ErrOverpayment               = newError("OVERPAYMENT", CategoryPrecondition, "payment exceeds gross total plus tolerance")
	ErrBatchCreationFailed       = newError("BATCH_CREATION_FAILED", CategoryInfrastructure, "batch creation failed")

	// Concurrency
	ErrStaleState = newError("STALE_STATE", CategoryConcurrency, "record changed since it was read")

	// Infrastructure
	ErrLedgerUnavailable  = newError("LEDGER_UNAVAILABLE", CategoryInfrastructure, "ledger unavailable")
	ErrValidationRejected = newError("VALIDATION_REJECTED", CategoryInfrastructure, "ledger rejected the submission")

	// Not found
	ErrNotFound      = newError("NOT_FOUND", CategoryNotFound, "record not found")
	ErrBatchNotFound = newError("BATCH_NOT_FOUND", CategoryNotFound, "shipment batch not found")

	// Input
	ErrMissingNote        = newError("MISSING_NOTE", CategoryInput, "rejection note is required")
	ErrMissingActor       = newError("MISSING_ACTOR", CategoryInput, "actor is required")
	ErrInvalidValue       = newError("INVALID_VALUE", CategoryInput, "invalid fixed-point value")
	ErrInvalidAmount      = newError("INVALID_AMOUNT", CategoryInput, "amount must be positive")
	ErrInvalidRate        = newError("INVALID_RATE", CategoryInput, "tax rate cannot be negative")
	ErrNoLineItems        = newError("NO_LINE_ITEMS", CategoryInput, "plan needs at least one line item")
	ErrInvalidLineItem    = newError("INVALID_LINE_ITEM", CategoryInput, "invalid line item")
	ErrEmptyBatch         = newError("EMPTY_BATCH", CategoryInput, "batch needs at least one line item")
	ErrDuplicateItem      = newError("DUPLICATE_ITEM", CategoryInput, "line item listed twice")
	ErrMissingDocumentRef = newError("MISSING_DOCUMENT_REF", CategoryInput, "delivery order number and vehicle are required")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// StageError describes a rejected line-item transition.
type StageError struct {
	ItemID LineItemID
	From   Stage
	To     Stage
}

func (e *StageError) Error() string {
	return fmt.Sprintf("invalid stage transition for item %s: %s -> %s", e.ItemID, e.From, e.To)
}

func (e *StageError) Unwrap() error { return ErrInvalidStageTransition }

// InsufficientStockError provides details about a stock underflow.
type InsufficientStockError struct {
	TankID    TankID
	ProductID ProductID
	Available Value
	Requested Value
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock in tank %s for product %s: available %s, requested %s",
		e.TankID, e.ProductID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// NotConfirmedError lists the items that blocked a batch.
type NotConfirmedError struct {
	Items []LineItemID
}

func (e *NotConfirmedError) Error() string {
	return fmt.Sprintf("line items not confirmed: %v", e.Items)
}

func (e *NotConfirmedError) Unwrap() error { return ErrLineItemNotConfirmed }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// CodeOf returns the stable code of err, or "INTERNAL" for unknown errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "INTERNAL"
}

func categoryOf(err error) (Category, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Category, true
	}
	return 0, false
}

// IsRetryable returns true if re-reading and retrying might succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStaleState)
}

// IsPrecondition returns true for business-rule violations.
func IsPrecondition(err error) bool {
	c, ok := categoryOf(err)
	return ok && c == CategoryPrecondition
}

// IsInput returns true if the caller sent malformed input.
func IsInput(err error) bool {
	c, ok := categoryOf(err)
	return ok && c == CategoryInput
}

// IsInfrastructure returns true for ledger-level failures.
func IsInfrastructure(err error) bool {
	c, ok := categoryOf(err)
	return ok && c == CategoryInfrastructure
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	c, ok := categoryOf(err)
	return ok && c == CategoryNotFound
}
