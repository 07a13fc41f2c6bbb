package planner

import (
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"

	"github.com/Fantasim/solmigrate/internal/config"
	"github.com/Fantasim/solmigrate/internal/fees"
	"github.com/Fantasim/solmigrate/internal/models"
	"github.com/Fantasim/solmigrate/internal/tx"
)

// Options tunes plan construction.
type Options struct {
	CoinReserveLamports uint64
	NFTBatchSize        int
}

// DefaultOptions returns the defaults used when no configuration is given.
func DefaultOptions() Options {
	return Options{
		CoinReserveLamports: config.DefaultCoinReserveLamports,
		NFTBatchSize:        2,
	}
}

// Builder turns a holdings snapshot into batches for one owner and destination.
type Builder struct {
	owner       solana.PublicKey
	destination solana.PublicKey
	opts        Options
}

// NewBuilder creates a plan builder.
func NewBuilder(owner, destination solana.PublicKey, opts Options) *Builder {
	if opts.NFTBatchSize < config.MinNFTBatchSize || opts.NFTBatchSize > config.MaxNFTBatchSize {
		opts.NFTBatchSize = DefaultOptions().NFTBatchSize
	}
	return &Builder{owner: owner, destination: destination, opts: opts}
}

// Build plans every enabled transfer class of h. Account closure is planned
// separately once transfers have settled. A class that fails to plan is
// recorded in the plan's Errors and does not affect the others.
func (b *Builder) Build(h *models.Holdings, destMints map[models.TokenProgram]models.MintSet, schedule models.FeeSchedule, toggles models.ClassToggles) *models.ConsolidationPlan {
	plan := models.NewConsolidationPlan()

	// NFTs show up as token accounts too; they move through the NFT class only.
	nftMints := make(models.MintSet, len(h.NFTs))
	for _, n := range h.NFTs {
		nftMints[n.Mint] = struct{}{}
	}

	for _, program := range []models.TokenProgram{models.ProgramToken2022, models.ProgramToken} {
		class := program.Class()
		if !toggles.Enabled(class) {
			continue
		}
		var holdings []models.FungibleHolding
		for _, fh := range h.Fungibles(program) {
			if nftMints.Has(fh.Mint) {
				continue
			}
			holdings = append(holdings, fh)
		}
		batches, err := b.Fungible(program, holdings, destMints[program], schedule)
		plan.Add(class, batches, err)
	}

	if toggles.NFT {
		batches, err := b.NFT(h.NFTs)
		plan.Add(models.ClassNFT, batches, err)
	}
	if toggles.CNFT {
		plan.Batches[models.ClassCNFT] = b.Compressed(h.Compressed)
	}
	if toggles.Coin {
		plan.Batches[models.ClassCoin] = b.Coin(h.Coin)
	}

	for _, class := range models.ExecutionOrder {
		if err, ok := plan.Errors[class]; ok {
			slog.Warn("class planning failed", "class", class, "error", err)
			continue
		}
		if batches, ok := plan.Batches[class]; ok {
			slog.Debug("class planned",
				"class", class,
				"batches", len(batches),
				"operations", countOps(batches),
			)
		}
	}
	return plan
}

// Fungible plans the transfers of one token program. Zero balances are
// skipped; a mint the destination lacks gets one CreateDestinationAccount
// immediately before its move. Pairs are never split across batches.
func (b *Builder) Fungible(program models.TokenProgram, holdings []models.FungibleHolding, destMints models.MintSet, schedule models.FeeSchedule) ([]models.Batch, error) {
	var units [][]models.TransferOperation
	for _, h := range holdings {
		if h.RawAmount == 0 {
			continue
		}

		move, ok := b.fungibleMove(program, h, schedule)
		if !ok {
			continue
		}

		var unit []models.TransferOperation
		if !destMints.Has(h.Mint) {
			unit = append(unit, models.TransferOperation{
				Kind:        models.OpCreateDestinationAccount,
				Program:     program,
				Source:      b.owner.String(),
				Destination: b.destination.String(),
				Mint:        h.Mint,
			})
		}
		units = append(units, append(unit, move))
	}

	return b.pack(program.Class(), units, 0)
}

func (b *Builder) fungibleMove(program models.TokenProgram, h models.FungibleHolding, schedule models.FeeSchedule) (models.TransferOperation, bool) {
	op := models.TransferOperation{
		Kind:          models.OpMoveFungible,
		Program:       program,
		Source:        b.owner.String(),
		Destination:   b.destination.String(),
		Mint:          h.Mint,
		SourceAccount: h.SourceAccount,
		Amount:        h.RawAmount,
		Decimals:      h.Decimals,
	}
	if program != models.ProgramToken2022 {
		return op, true
	}

	amount, err := fees.TruncatedBaseUnits(h.Amount, h.Decimals)
	if err != nil {
		slog.Warn("skipping token2022 holding",
			"mint", h.Mint,
			"amount", h.Amount.String(),
			"error", err,
		)
		return op, false
	}
	if amount > h.RawAmount {
		amount = h.RawAmount
	}
	if amount == 0 {
		slog.Debug("token2022 holding below truncation precision", "mint", h.Mint, "amount", h.Amount.String())
		return op, false
	}
	op.Amount = amount

	if rule := schedule.Rule(h.Mint); rule.FeeBasisPoints > 0 {
		op.Kind = models.OpMoveFungibleWithFee
		op.Fee = fees.ComputeFee(amount, rule)
	}
	return op, true
}

// NFT plans one MoveNft per mint, at most NFTBatchSize per batch.
func (b *Builder) NFT(holdings []models.NftHolding) ([]models.Batch, error) {
	units := make([][]models.TransferOperation, 0, len(holdings))
	for _, h := range holdings {
		units = append(units, []models.TransferOperation{{
			Kind:          models.OpMoveNft,
			Source:        b.owner.String(),
			Destination:   b.destination.String(),
			Mint:          h.Mint,
			SourceAccount: h.TokenAccount,
			Amount:        1,
			Programmable:  h.Programmable,
		}})
	}
	return b.pack(models.ClassNFT, units, b.opts.NFTBatchSize)
}

// Compressed plans one single-operation batch per asset. Proofs are fetched
// at submission time.
func (b *Builder) Compressed(holdings []models.CompressedAssetHolding) []models.Batch {
	batches := make([]models.Batch, 0, len(holdings))
	for i, h := range holdings {
		batches = append(batches, models.Batch{
			Class: models.ClassCNFT,
			Index: i,
			Operations: []models.TransferOperation{{
				Kind:        models.OpMoveCompressedAsset,
				Source:      b.owner.String(),
				Destination: b.destination.String(),
				AssetID:     h.AssetID,
				Amount:      1,
			}},
		})
	}
	return batches
}

// Coin plans the transfer of everything above the reserve.
func (b *Builder) Coin(balance models.CoinBalance) []models.Batch {
	if balance.Lamports <= b.opts.CoinReserveLamports {
		return nil
	}
	return []models.Batch{{
		Class: models.ClassCoin,
		Operations: []models.TransferOperation{{
			Kind:        models.OpMoveCoin,
			Source:      b.owner.String(),
			Destination: b.destination.String(),
			Amount:      balance.Lamports - b.opts.CoinReserveLamports,
		}},
	}}
}

// pack greedily fills batches with whole units while the serialized
// transaction stays within the size limit and, when maxOps > 0, the unit count.
func (b *Builder) pack(class models.AssetClass, units [][]models.TransferOperation, maxOps int) ([]models.Batch, error) {
	var (
		batches []models.Batch
		current []models.TransferOperation
		count   int
	)

	flush := func() {
		if len(current) == 0 {
			return
		}
		batches = append(batches, models.Batch{Class: class, Index: len(batches), Operations: current})
		current, count = nil, 0
	}

	for _, unit := range units {
		if maxOps > 0 && count >= maxOps {
			flush()
		}

		candidate := append(append([]models.TransferOperation(nil), current...), unit...)
		fits, err := b.fits(candidate)
		if err != nil {
			return nil, err
		}
		if !fits {
			if len(current) == 0 {
				return nil, fmt.Errorf("%w: single %s unit for %s", config.ErrSOLTxTooLarge, class, unitRef(unit))
			}
			flush()
			candidate = append([]models.TransferOperation(nil), unit...)
			fits, err = b.fits(candidate)
			if err != nil {
				return nil, err
			}
			if !fits {
				return nil, fmt.Errorf("%w: single %s unit for %s", config.ErrSOLTxTooLarge, class, unitRef(unit))
			}
		}
		current = candidate
		count++
	}
	flush()
	return batches, nil
}

func (b *Builder) fits(ops []models.TransferOperation) (bool, error) {
	ixs, err := OperationInstructions(ops)
	if err != nil {
		return false, err
	}
	return tx.FitsLimit(b.owner, ixs)
}

// OperationInstructions expands a batch's operations into instructions.
func OperationInstructions(ops []models.TransferOperation) ([]solana.Instruction, error) {
	var ixs []solana.Instruction
	for _, op := range ops {
		opIxs, err := tx.Instructions(op)
		if err != nil {
			return nil, err
		}
		ixs = append(ixs, opIxs...)
	}
	return ixs, nil
}

func unitRef(unit []models.TransferOperation) string {
	last := unit[len(unit)-1]
	if last.Mint != "" {
		return last.Mint
	}
	return last.AssetID
}

func countOps(batches []models.Batch) int {
	n := 0
	for _, b := range batches {
		n += len(b.Operations)
	}
	return n
}
