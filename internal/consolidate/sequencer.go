package consolidate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/Fantasim/solmigrate/internal/config"
	"github.com/Fantasim/solmigrate/internal/ledger"
	"github.com/Fantasim/solmigrate/internal/models"
	"github.com/Fantasim/solmigrate/internal/planner"
	"github.com/Fantasim/solmigrate/internal/tx"
)

// BlockhashSource supplies the freshest blockhash for each submission.
type BlockhashSource interface {
	GetLatestBlockhash(ctx context.Context) (ledger.Blockhash, error)
}

// ProofResolver turns a compressed asset into a transfer with a fresh proof.
type ProofResolver interface {
	Resolve(ctx context.Context, owner, dest solana.PublicKey, assetID string) (solana.Instruction, *models.ProofBundle, error)
}

// Publisher receives run events.
type Publisher interface {
	Publish(event models.Event)
}

// SequencerOptions tunes submission.
type SequencerOptions struct {
	BroadcastRetries int
	RetryDelay       time.Duration
	CNFTPacing       time.Duration
}

// Sequencer submits the batches of one class, one at a time, in plan order.
type Sequencer struct {
	signer    tx.Signer
	blockhash BlockhashSource
	proofs    ProofResolver
	opts      SequencerOptions
}

// NewSequencer creates a sequencer.
func NewSequencer(signer tx.Signer, blockhash BlockhashSource, proofs ProofResolver, opts SequencerOptions) *Sequencer {
	return &Sequencer{signer: signer, blockhash: blockhash, proofs: proofs, opts: opts}
}

// ExecuteClass submits batches in order. A SigningRejected failure skips the
// rest of the class; any other failure is recorded and the next batch runs.
// The only error returned is context cancellation, together with the
// outcome of the batches processed so far.
func (s *Sequencer) ExecuteClass(ctx context.Context, runID string, class models.AssetClass, batches []models.Batch, pub Publisher) (models.ClassOutcome, error) {
	log := slog.With("runID", runID, "class", class)
	results := make([]models.ExecutionResult, 0, len(batches))

	record := func(r models.ExecutionResult, i int) {
		results = append(results, r)
		publish(pub, models.Event{
			Type:  models.EventBatch,
			RunID: runID,
			State: models.StateExecuting,
			Class: class,
			Data:  tx.BatchEventData{Result: r, Current: i + 1, Total: len(batches)},
		})
	}
	skipRest := func(from int, reason string) {
		for j := from; j < len(batches); j++ {
			record(models.Skipped(class, batches[j].Index, reason), j)
		}
	}

	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			skipRest(i, models.SkipCancelled)
			return Summarize(class, results), err
		}

		if class == models.ClassCNFT && i > 0 && s.opts.CNFTPacing > 0 {
			if err := sleepCtx(ctx, s.opts.CNFTPacing); err != nil {
				skipRest(i, models.SkipCancelled)
				return Summarize(class, results), err
			}
		}

		log.Info("submitting batch",
			"batch", batch.Index,
			"current", i+1,
			"total", len(batches),
			"operations", len(batch.Operations),
		)

		sig, err := s.submit(ctx, batch)
		switch {
		case err == nil:
			log.Info("batch submitted", "batch", batch.Index, "signature", sig.String())
			record(models.Submitted(class, batch.Index, sig.String()), i)

		case ctx.Err() != nil:
			skipRest(i, models.SkipCancelled)
			return Summarize(class, results), ctx.Err()

		case errors.Is(err, config.ErrSigningRejected):
			log.Warn("signing rejected, skipping rest of class",
				"batch", batch.Index,
				"error", err,
			)
			record(models.Failed(class, batch.Index, err.Error(), config.ErrorCode(err)), i)
			skipRest(i+1, models.SkipAborted)
			return Summarize(class, results), nil

		default:
			log.Error("batch failed",
				"batch", batch.Index,
				"error", err,
			)
			record(models.Failed(class, batch.Index, err.Error(), config.ErrorCode(err)), i)
		}
	}

	return Summarize(class, results), nil
}

// submit sends one batch, retrying transient failures with a fresh blockhash.
func (s *Sequencer) submit(ctx context.Context, batch models.Batch) (solana.Signature, error) {
	var lastErr error
	for attempt := 0; attempt <= s.opts.BroadcastRetries; attempt++ {
		if attempt > 0 {
			delay := config.GetRetryAfter(lastErr)
			if delay == 0 {
				delay = s.opts.RetryDelay
			}
			slog.Warn("retrying batch",
				"class", batch.Class,
				"batch", batch.Index,
				"attempt", attempt+1,
				"delay", delay,
				"error", lastErr,
			)
			if err := sleepCtx(ctx, delay); err != nil {
				return solana.Signature{}, err
			}
		}

		sig, err := s.attempt(ctx, batch)
		if err == nil {
			return sig, nil
		}
		if ctx.Err() != nil || !config.IsTransient(err) {
			return sig, err
		}
		lastErr = err
	}
	return solana.Signature{}, lastErr
}

func (s *Sequencer) attempt(ctx context.Context, batch models.Batch) (solana.Signature, error) {
	ixs, err := s.instructions(ctx, batch)
	if err != nil {
		return solana.Signature{}, err
	}

	// Fetched per attempt: blockhashes expire after ~150 blocks.
	bh, err := s.blockhash.GetLatestBlockhash(ctx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: latest blockhash: %w", config.ErrBroadcastFailure, err)
	}

	transaction, err := tx.Assemble(s.signer.PublicKey(), ixs, bh.Hash)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: %w", config.ErrBroadcastFailure, err)
	}
	return s.signer.SignAndSend(ctx, transaction, bh.LastValidBlockHeight)
}

func (s *Sequencer) instructions(ctx context.Context, batch models.Batch) ([]solana.Instruction, error) {
	if batch.Class != models.ClassCNFT {
		ixs, err := planner.OperationInstructions(batch.Operations)
		if err != nil {
			return nil, fmt.Errorf("%w: build instructions: %w", config.ErrBroadcastFailure, err)
		}
		return ixs, nil
	}

	var ixs []solana.Instruction
	for _, op := range batch.Operations {
		dest, err := solana.PublicKeyFromBase58(op.Destination)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", config.ErrInvalidDestination, err)
		}
		ix, proof, err := s.proofs.Resolve(ctx, s.signer.PublicKey(), dest, op.AssetID)
		if err != nil {
			return nil, err
		}
		if proof != nil {
			slog.Debug("compressed proof resolved",
				"batch", batch.Index,
				"assetID", op.AssetID,
				"tree", proof.Tree,
				"root", proof.Root,
				"leafID", proof.LeafID,
				"proofLen", len(proof.Proof),
			)
		}
		ixs = append(ixs, ix)
	}
	return ixs, nil
}

// Summarize folds batch results into a class outcome: failed if any batch
// failed, submitted if any was submitted, skipped otherwise.
func Summarize(class models.AssetClass, results []models.ExecutionResult) models.ClassOutcome {
	out := models.ClassOutcome{Class: class, Results: results}
	for _, r := range results {
		switch r.Status {
		case models.StatusSubmitted:
			out.Submitted++
		case models.StatusFailed:
			out.Failed++
		}
	}

	switch {
	case out.Failed > 0:
		out.Status = models.StatusFailed
	case out.Submitted > 0:
		out.Status = models.StatusSubmitted
	default:
		out.Status = models.StatusSkipped
		out.Reason = models.SkipEmpty
		if len(results) > 0 {
			out.Reason = results[0].Reason
		}
	}
	return out
}

func publish(pub Publisher, event models.Event) {
	if pub == nil {
		return
	}
	pub.Publish(event)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
