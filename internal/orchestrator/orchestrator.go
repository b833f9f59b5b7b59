// Package orchestrator wires the pipeline:
// reconcile → backfill → allocate → validate → promote.
// Each stage consumes and emits immutable value types; stages never
// reach into each other's state.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"trade-pnl-lab/internal/allocation"
	"trade-pnl-lab/internal/backfill"
	"trade-pnl-lab/internal/domain"
	"trade-pnl-lab/internal/exchange"
	"trade-pnl-lab/internal/observability"
	"trade-pnl-lab/internal/reconciliation"
	"trade-pnl-lab/internal/storage"
	"trade-pnl-lab/internal/validation"
	"trade-pnl-lab/internal/version"
)

// Orchestrator drives complete runs over the core engines.
type Orchestrator struct {
	engine     *allocation.Engine
	validator  *validation.Validator
	manager    *version.Manager
	reconciler *reconciliation.Engine
	backfiller *backfill.Coordinator
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

// Options contains the stores and collaborators for an Orchestrator.
// FillSource is a required capability: wiring fails fast when absent
// rather than degrading silently at runtime.
type Options struct {
	TradeStore      storage.TradeStore
	AllocationStore storage.AllocationStore
	VersionStore    storage.VersionStore
	ReportStore     storage.ReportStore     // nil disables report persistence
	HistoryStore    storage.PnLHistoryStore // nil disables analytics rows
	FillSource      exchange.FillSource
	Lease           version.Lease // nil defaults to an in-process lease
	Metrics         *observability.Metrics
	Logger          zerolog.Logger
}

// New creates a fully wired orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.TradeStore == nil || opts.AllocationStore == nil || opts.VersionStore == nil {
		return nil, errors.New("orchestrator requires trade, allocation and version stores")
	}
	if opts.FillSource == nil {
		return nil, errors.New("orchestrator requires a fill source implementation")
	}

	o := &Orchestrator{
		engine: allocation.NewEngine(allocation.EngineOptions{
			TradeStore:      opts.TradeStore,
			AllocationStore: opts.AllocationStore,
			VersionStore:    opts.VersionStore,
			HistoryStore:    opts.HistoryStore,
			Logger:          opts.Logger,
		}),
		validator: validation.NewValidator(validation.ValidatorOptions{
			TradeStore:      opts.TradeStore,
			AllocationStore: opts.AllocationStore,
			VersionStore:    opts.VersionStore,
			Logger:          opts.Logger,
		}),
		manager: version.NewManager(version.ManagerOptions{
			VersionStore: opts.VersionStore,
			Lease:        opts.Lease,
			Logger:       opts.Logger,
		}),
		reconciler: reconciliation.NewEngine(reconciliation.EngineOptions{
			TradeStore:  opts.TradeStore,
			FillSource:  opts.FillSource,
			ReportStore: opts.ReportStore,
			Logger:      opts.Logger,
		}),
		metrics: opts.Metrics,
		logger:  opts.Logger,
	}

	o.backfiller = backfill.NewCoordinator(backfill.CoordinatorOptions{
		TradeStore: opts.TradeStore,
		FillSource: opts.FillSource,
		Requester:  o,
		Logger:     opts.Logger,
	})

	return o, nil
}

// AllocationOutcome is the result of one allocate→validate→finalize run.
type AllocationOutcome struct {
	Result   *allocation.Result
	Verdict  *validation.Verdict
	Promoted bool
}

// RunAllocation computes, validates and finalizes one allocation version
// under the namespace's computation lease.
func (o *Orchestrator) RunAllocation(ctx context.Context, namespace string, symbols []string, cutoffMs int64) (*AllocationOutcome, error) {
	release, err := o.manager.Begin(ctx, namespace)
	if err != nil {
		return nil, err
	}
	defer release()

	result, err := o.engine.Compute(ctx, allocation.Request{
		Namespace: namespace,
		Symbols:   symbols,
		CutoffMs:  cutoffMs,
	})
	if err != nil {
		return nil, fmt.Errorf("allocation: %w", err)
	}

	verdict, err := o.validator.Validate(ctx, namespace, result.Version.Number)
	if err != nil {
		return nil, fmt.Errorf("validation: %w", err)
	}

	if err := o.manager.Finalize(ctx, namespace, result.Version.Number, verdict.Valid, verdict.Reason()); err != nil {
		return nil, fmt.Errorf("finalize: %w", err)
	}

	if o.metrics != nil {
		o.metrics.AllocationsEmitted.Add(float64(result.Matched))
		o.metrics.ResidueQuantity.Set(result.ResidueQty.InexactFloat64())
		if verdict.Valid {
			o.metrics.VersionsPromoted.Inc()
		} else {
			o.metrics.VersionsInvalid.Inc()
		}
	}

	return &AllocationOutcome{
		Result:   result,
		Verdict:  verdict,
		Promoted: verdict.Valid,
	}, nil
}

// RequestAllocation implements backfill.AllocationRequester.
// Allocation scope covers all symbols of the namespace, not just the
// backfilled ones, so prior matches stay consistent in one version.
func (o *Orchestrator) RequestAllocation(ctx context.Context, namespace string, _ []string) error {
	_, err := o.RunAllocation(ctx, namespace, nil, time.Now().UnixMilli())
	return err
}

// ReconcileOutcome is the result of one reconcile(+backfill) run.
type ReconcileOutcome struct {
	Report   *domain.ReconciliationReport
	Backfill *backfill.Result // nil when auto-backfill was off or nothing was missing
	Partial  error            // PartialBackfillError when a subset of fetches failed
}

// RunReconciliation executes one reconciliation tier and, when
// autoBackfill is set, repairs MissingTrade gaps and triggers a new
// allocation version through the backfill coordinator.
func (o *Orchestrator) RunReconciliation(ctx context.Context, req reconciliation.Request, autoBackfill bool) (*ReconcileOutcome, error) {
	report, err := o.reconciler.Run(ctx, req)
	if err != nil {
		if o.metrics != nil && errors.Is(err, exchange.ErrSourceUnavailable) {
			o.metrics.SourceUnavailable.Inc()
		}
		return nil, err
	}

	if o.metrics != nil {
		for _, d := range report.Discrepancies {
			o.metrics.Discrepancies.WithLabelValues(string(d.Kind)).Inc()
		}
	}

	outcome := &ReconcileOutcome{Report: report}

	if !autoBackfill || len(report.MissingOrderIDs()) == 0 {
		return outcome, nil
	}

	result, err := o.backfiller.Run(ctx, report)
	outcome.Backfill = result
	if o.metrics != nil && result != nil {
		o.metrics.BackfillInserted.Add(float64(result.Inserted))
		o.metrics.BackfillDuplicates.Add(float64(result.Duplicates))
		o.metrics.BackfillFailures.Add(float64(len(result.Failed)))
	}
	if err != nil {
		var partial *backfill.PartialBackfillError
		if errors.As(err, &partial) {
			// Succeeded subset is committed; surface the remainder
			// without failing the run.
			outcome.Partial = partial
			return outcome, nil
		}
		return outcome, fmt.Errorf("backfill: %w", err)
	}

	return outcome, nil
}

// Validate re-checks an existing version and returns the verdict without
// changing its status. Used by the standalone validation entry point.
func (o *Orchestrator) Validate(ctx context.Context, namespace string, number int64) (*validation.Verdict, error) {
	return o.validator.Validate(ctx, namespace, number)
}

// Manager exposes version queries for callers that report on versions.
func (o *Orchestrator) Manager() *version.Manager {
	return o.manager
}
