package consolidate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"github.com/Fantasim/solmigrate/internal/config"
	"github.com/Fantasim/solmigrate/internal/ledger"
	"github.com/Fantasim/solmigrate/internal/logging"
	"github.com/Fantasim/solmigrate/internal/models"
	"github.com/Fantasim/solmigrate/internal/planner"
	"github.com/Fantasim/solmigrate/internal/tx"
)

// Discoverer reads holdings for planning and reclamation.
type Discoverer interface {
	Discover(ctx context.Context, owner solana.PublicKey) (*models.Holdings, error)
	DestinationMints(ctx context.Context, destination solana.PublicKey, program models.TokenProgram) (models.MintSet, error)
	EmptyAccounts(ctx context.Context, owner solana.PublicKey, program models.TokenProgram) ([]models.FungibleHolding, error)
	Coin(ctx context.Context, owner solana.PublicKey) (models.CoinBalance, error)
}

// FeeResolver returns transfer fee rules for mints. It always returns a
// usable schedule; an error means the schedule degraded to zero fees.
type FeeResolver interface {
	Resolve(ctx context.Context, mints []string) (models.FeeSchedule, error)
}

// RunnerOptions tunes a consolidation run.
type RunnerOptions struct {
	Plan        planner.Options
	SettleDelay time.Duration
}

// Runner drives consolidation runs for the signer's account.
type Runner struct {
	discovery Discoverer
	fees      FeeResolver
	signer    tx.Signer
	seq       *Sequencer
	pub       Publisher
	opts      RunnerOptions

	mu     sync.Mutex
	active map[string]struct{}
	status models.RunStatus
}

// NewRunner creates a runner. pub may be nil.
func NewRunner(d Discoverer, f FeeResolver, signer tx.Signer, seq *Sequencer, pub Publisher, opts RunnerOptions) *Runner {
	return &Runner{
		discovery: d,
		fees:      f,
		signer:    signer,
		seq:       seq,
		pub:       pub,
		opts:      opts,
		active:    make(map[string]struct{}),
		status:    models.RunStatus{State: models.StateIdle},
	}
}

// Status returns a snapshot of the runner state.
func (r *Runner) Status() models.RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// RunConsolidation moves every enabled asset class from the signer's account
// to destination. Per-batch failures are reported in the summary. The
// returned error is non-nil only for an invalid destination, a concurrent run
// for the same owner, a planning failure or cancellation; on cancellation the
// partial summary is returned as well.
func (r *Runner) RunConsolidation(ctx context.Context, destination string, toggles models.ClassToggles) (*models.RunSummary, error) {
	dest, err := ledger.ValidateDestination(destination)
	if err != nil {
		slog.Warn("consolidation rejected", "destination", destination, "error", err)
		return nil, err
	}

	owner := r.signer.PublicKey()
	if !r.acquire(owner.String()) {
		return nil, fmt.Errorf("%w: %s", config.ErrRunInProgress, owner)
	}
	defer r.release(owner.String())

	runID := uuid.NewString()
	run := &run{
		Runner:  r,
		owner:   owner,
		dest:    dest,
		toggles: toggles,
		log:     logging.ForRun(runID, owner.String()),
		builder: planner.NewBuilder(owner, dest, r.opts.Plan),
		summary: &models.RunSummary{
			RunID:       runID,
			Owner:       owner.String(),
			Destination: dest.String(),
			StartedAt:   time.Now().UTC().Format(time.RFC3339),
		},
	}

	summary, err := run.execute(ctx)
	r.finish(summary)
	return summary, err
}

func (r *Runner) acquire(owner string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.active[owner]; busy {
		return false
	}
	r.active[owner] = struct{}{}
	return true
}

func (r *Runner) release(owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, owner)
}

func (r *Runner) finish(summary *models.RunSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.State = models.StateDone
	if summary != nil {
		r.status.LastSummary = summary
	}
}

// run is the state of one consolidation.
type run struct {
	*Runner
	owner    solana.PublicKey
	dest     solana.PublicKey
	toggles  models.ClassToggles
	log      *slog.Logger
	summary  *models.RunSummary
	builder  *planner.Builder
	snapshot *models.Holdings
	settled  bool
}

func (x *run) id() string {
	return x.summary.RunID
}

func (x *run) execute(ctx context.Context) (*models.RunSummary, error) {
	x.log.Info("consolidation started",
		"destination", x.dest.String(),
		"toggles", fmt.Sprintf("%+v", x.toggles),
	)

	// Discovering
	x.setState(models.StateDiscovering, "")
	holdings, err := x.discovery.Discover(ctx, x.owner)
	if err != nil {
		return x.cancelled(models.ExecutionOrder, err)
	}
	x.snapshot = holdings
	x.summary.Warnings = append(x.summary.Warnings, holdings.Warnings...)

	destMints := x.destinationMints(ctx)
	schedule := x.feeSchedule(ctx, holdings)
	if err := ctx.Err(); err != nil {
		return x.cancelled(models.ExecutionOrder, err)
	}

	// Planning
	x.setState(models.StatePlanning, "")
	plan := x.builder.Build(holdings, destMints, schedule, x.toggles)

	// Executing
	for i, class := range models.ExecutionOrder {
		if err := ctx.Err(); err != nil {
			return x.cancelled(models.ExecutionOrder[i:], err)
		}
		if !x.toggles.Enabled(class) {
			x.addOutcome(models.ClassOutcome{Class: class, Status: models.StatusSkipped, Reason: models.SkipDisabled})
			continue
		}

		if err, ok := plan.Errors[class]; ok {
			x.warn(class, err)
			x.addOutcome(Summarize(class, []models.ExecutionResult{
				models.Failed(class, 0, err.Error(), config.ErrorCode(err)),
			}))
			continue
		}

		x.setState(models.StateExecuting, class)

		batches, err := x.classBatches(ctx, class, plan)
		if err != nil {
			return x.cancelled(models.ExecutionOrder[i:], err)
		}
		if len(batches) == 0 {
			x.log.Info("class empty", "class", class)
			x.addOutcome(models.ClassOutcome{Class: class, Status: models.StatusSkipped, Reason: models.SkipEmpty})
			continue
		}

		outcome, err := x.seq.ExecuteClass(ctx, x.id(), class, batches, x.pub)
		x.addOutcome(outcome)
		if err != nil {
			return x.cancelled(models.ExecutionOrder[i+1:], err)
		}
	}

	x.summary.FinishedAt = time.Now().UTC().Format(time.RFC3339)
	x.setState(models.StateDone, "")
	publish(x.pub, models.Event{
		Type:  models.EventRunComplete,
		RunID: x.id(),
		State: models.StateDone,
		Data:  x.summary,
	})

	x.log.Info("consolidation complete",
		"classes", len(x.summary.Classes),
		"submitted", x.countStatus(models.StatusSubmitted),
		"failed", x.countStatus(models.StatusFailed),
		"warnings", len(x.summary.Warnings),
	)
	return x.summary, nil
}

// classBatches returns the batches of class. Closure and coin are planned
// here, after transfers settle, from fresh ledger state.
func (x *run) classBatches(ctx context.Context, class models.AssetClass, plan *models.ConsolidationPlan) ([]models.Batch, error) {
	switch class {
	case models.ClassCloseEmpty:
		if err := x.settle(ctx); err != nil {
			return nil, err
		}
		var empty []models.FungibleHolding
		for _, program := range []models.TokenProgram{models.ProgramToken2022, models.ProgramToken} {
			accounts, err := x.discovery.EmptyAccounts(ctx, x.owner, program)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				x.warn(class, fmt.Errorf("%w: %s empty accounts: %v", config.ErrDiscoveryFailure, program, err))
				continue
			}
			empty = append(empty, accounts...)
		}
		batches, err := x.builder.CloseEmpty(empty)
		if err != nil {
			x.warn(class, err)
			return nil, nil
		}
		return batches, nil

	case models.ClassCoin:
		if err := x.settle(ctx); err != nil {
			return nil, err
		}
		balance, err := x.discovery.Coin(ctx, x.owner)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			x.warn(class, fmt.Errorf("%w: fresh balance: %v", config.ErrDiscoveryFailure, err))
			balance = x.snapshot.Coin
		}
		return x.builder.Coin(balance), nil

	default:
		return plan.Batches[class], nil
	}
}

// settle waits once for submitted transfers to be reflected by the ledger.
func (x *run) settle(ctx context.Context) error {
	if x.settled {
		return nil
	}
	x.settled = true
	if !x.anySubmitted() {
		return nil
	}
	x.log.Info("waiting for ledger to settle", "delay", x.opts.SettleDelay)
	return sleepCtx(ctx, x.opts.SettleDelay)
}

func (x *run) destinationMints(ctx context.Context) map[models.TokenProgram]models.MintSet {
	out := make(map[models.TokenProgram]models.MintSet, 2)
	for _, program := range []models.TokenProgram{models.ProgramToken2022, models.ProgramToken} {
		if !x.toggles.Enabled(program.Class()) {
			continue
		}
		set, err := x.discovery.DestinationMints(ctx, x.dest, program)
		if err != nil {
			if ctx.Err() != nil {
				return out
			}
			// Destination account creation is idempotent; an empty set only costs fees.
			x.warn(program.Class(), fmt.Errorf("%w: destination holdings: %v", config.ErrDiscoveryFailure, err))
			set = models.MintSet{}
		}
		out[program] = set
	}
	return out
}

func (x *run) feeSchedule(ctx context.Context, h *models.Holdings) models.FeeSchedule {
	if !x.toggles.Token2022 || len(h.Token2022) == 0 {
		return models.FeeSchedule{}
	}
	mints := make([]string, 0, len(h.Token2022))
	for _, fh := range h.Token2022 {
		mints = append(mints, fh.Mint)
	}

	schedule, err := x.fees.Resolve(ctx, mints)
	if err != nil && ctx.Err() == nil {
		x.warn(models.ClassToken2022, err)
	}
	if schedule == nil {
		schedule = models.FeeSchedule{}
	}
	return schedule
}

// cancelled records the remaining classes as cancelled and returns the
// partial summary with cause.
func (x *run) cancelled(remaining []models.AssetClass, cause error) (*models.RunSummary, error) {
	for _, class := range remaining {
		if _, done := x.summary.Outcome(class); done {
			continue
		}
		x.summary.Classes = append(x.summary.Classes, models.ClassOutcome{
			Class:  class,
			Status: models.StatusSkipped,
			Reason: models.SkipCancelled,
		})
	}
	x.summary.Cancelled = true
	x.summary.FinishedAt = time.Now().UTC().Format(time.RFC3339)

	x.log.Warn("consolidation cancelled", "error", cause)
	x.fail(cause)
	return x.summary, cause
}

func (x *run) fail(err error) {
	code := config.ErrorCode(err)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		code = config.ErrorRunCancelled
	}
	x.setState(models.StateDone, "")
	publish(x.pub, models.Event{
		Type:  models.EventRunError,
		RunID: x.id(),
		State: models.StateDone,
		Data:  tx.RunErrorData{Code: code, Message: err.Error()},
	})
}

func (x *run) addOutcome(outcome models.ClassOutcome) {
	x.summary.Classes = append(x.summary.Classes, outcome)
	x.log.Info("class complete",
		"class", outcome.Class,
		"status", outcome.Status,
		"reason", outcome.Reason,
		"submitted", outcome.Submitted,
		"failed", outcome.Failed,
	)
	publish(x.pub, models.Event{
		Type:  models.EventClassComplete,
		RunID: x.id(),
		State: models.StateExecuting,
		Class: outcome.Class,
		Data:  outcome,
	})
}

func (x *run) warn(class models.AssetClass, err error) {
	x.summary.Warnings = append(x.summary.Warnings, fmt.Sprintf("%s: %v", class, err))
	x.log.Warn("run degraded", "class", class, "error", err)
}

func (x *run) setState(state models.RunState, class models.AssetClass) {
	x.mu.Lock()
	x.status = models.RunStatus{
		State:       state,
		RunID:       x.id(),
		Owner:       x.owner.String(),
		Destination: x.dest.String(),
		LastSummary: x.status.LastSummary,
	}
	x.mu.Unlock()

	publish(x.pub, models.Event{
		Type:  models.EventPhase,
		RunID: x.id(),
		State: state,
		Class: class,
	})
}

func (x *run) anySubmitted() bool {
	for _, c := range x.summary.Classes {
		if c.Submitted > 0 {
			return true
		}
	}
	return false
}

func (x *run) countStatus(status models.ResultStatus) int {
	n := 0
	for _, c := range x.summary.Classes {
		if c.Status == status {
			n++
		}
	}
	return n
}
