/*
engine.go - Engine wiring: ledger access, timeouts, clock and ids

PURPOSE:
  Engine is the entry point for every command and query of the workflow.
  It is safe for concurrent use: it holds no mutable state, and several
  engine instances may front the same ledger.

LEDGER CALLS:
  Every call to the ledger is bounded by Timeout. A call that runs out of
  time, or fails below the ledger API, surfaces as ErrLedgerUnavailable.
  Errors the ledger reports with a known code (ErrStaleState,
  ErrNotFound, ErrValidationRejected) propagate unchanged.

EXAMPLE:
  eng := procurement.NewEngine(store.NewMemory(), zap.NewNop())
  plan, items, err := eng.SubmitPlan(ctx, draft)
  plan, err = eng.Approve(ctx, plan.ID, "manager-1")
*/
package procurement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultTimeout  = 5 * time.Second
	DefaultPageSize = 200
)

// Engine enforces workflow preconditions and submits transitions.
type Engine struct {
	Ledger Ledger
	Logger *zap.Logger

	// Timeout bounds each ledger call.
	Timeout time.Duration

	// PageSize is used when a query has to walk every matching record.
	PageSize int

	// MaxOverpaymentTolerance, when set, rejects payment submissions that
	// would take the plan's submitted total above gross + tolerance.
	MaxOverpaymentTolerance *Value

	Now   func() time.Time
	NewID func() string
}

// NewEngine creates an engine with default timeout, clock and id source.
func NewEngine(ledger Ledger, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		Ledger:   ledger,
		Logger:   logger,
		Timeout:  DefaultTimeout,
		PageSize: DefaultPageSize,
		Now:      time.Now,
		NewID:    uuid.NewString,
	}
}

func (e *Engine) now() int64 {
	if e.Now == nil {
		return time.Now().Unix()
	}
	return e.Now().Unix()
}

func (e *Engine) newID() string {
	if e.NewID == nil {
		return uuid.NewString()
	}
	return e.NewID()
}

func (e *Engine) log() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

func (e *Engine) pageSize() int {
	if e.PageSize <= 0 {
		return DefaultPageSize
	}
	return e.PageSize
}

// =============================================================================
// BOUNDED LEDGER CALLS
// =============================================================================

func (e *Engine) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.Timeout)
}

// ledgerErr keeps coded ledger errors and turns everything else into
// ErrLedgerUnavailable.
func ledgerErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *Error
	if errors.As(err, &coded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
}

func (e *Engine) read(ctx context.Context, kind Kind, id string) (Envelope, error) {
	ctx, cancel := e.bounded(ctx)
	defer cancel()
	env, err := e.Ledger.Read(ctx, kind, id)
	return env, ledgerErr(err)
}

func (e *Engine) submit(ctx context.Context, sub Submission) (Envelope, error) {
	ctx, cancel := e.bounded(ctx)
	defer cancel()
	env, err := e.Ledger.Submit(ctx, sub)
	return env, ledgerErr(err)
}

func (e *Engine) list(ctx context.Context, kind Kind, filter Filter, offset, limit int) ([]Envelope, error) {
	ctx, cancel := e.bounded(ctx)
	defer cancel()
	envs, err := e.Ledger.List(ctx, kind, filter, offset, limit)
	return envs, ledgerErr(err)
}

// listAll pages through every record matching filter.
func (e *Engine) listAll(ctx context.Context, kind Kind, filter Filter) ([]Envelope, error) {
	size := e.pageSize()
	var all []Envelope
	for offset := 0; ; offset += size {
		page, err := e.list(ctx, kind, filter, offset, size)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < size {
			return all, nil
		}
	}
}

func requireActor(actor ActorID) error {
	if actor == "" {
		return ErrMissingActor
	}
	return nil
}
