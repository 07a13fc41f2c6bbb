package planner

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/Fantasim/solmigrate/internal/models"
	"github.com/Fantasim/solmigrate/internal/tx"
)

func newKey() solana.PublicKey {
	return solana.NewWallet().PublicKey()
}

func newBuilder() *Builder {
	return NewBuilder(newKey(), newKey(), DefaultOptions())
}

func holding(program models.TokenProgram, amount string, decimals uint8) models.FungibleHolding {
	d := decimal.RequireFromString(amount)
	return models.FungibleHolding{
		Program:       program,
		Mint:          newKey().String(),
		Amount:        d,
		RawAmount:     uint64(d.Shift(int32(decimals)).IntPart()),
		Decimals:      decimals,
		SourceAccount: newKey().String(),
	}
}

func assertBatchesFit(t *testing.T, b *Builder, batches []models.Batch) {
	t.Helper()
	for _, batch := range batches {
		ixs, err := OperationInstructions(batch.Operations)
		if err != nil {
			t.Fatalf("batch %d: %v", batch.Index, err)
		}
		ok, err := tx.FitsLimit(b.owner, ixs)
		if err != nil {
			t.Fatalf("batch %d: %v", batch.Index, err)
		}
		if !ok {
			t.Errorf("batch %d exceeds the transaction size limit", batch.Index)
		}
	}
}

func TestFungible_SkipsZeroAmount(t *testing.T) {
	b := newBuilder()
	zero := holding(models.ProgramToken, "0", 6)

	batches, err := b.Fungible(models.ProgramToken, []models.FungibleHolding{zero}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batches) != 0 {
		t.Errorf("expected no batches for zero holding, got %d", len(batches))
	}
}

func TestFungible_CreateOnlyForAbsentMints(t *testing.T) {
	b := newBuilder()
	absent := holding(models.ProgramToken, "3", 6)
	present := holding(models.ProgramToken, "7", 6)
	destMints := models.MintSet{present.Mint: {}}

	batches, err := b.Fungible(models.ProgramToken, []models.FungibleHolding{absent, present}, destMints, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	creates := map[string]int{}
	var ops []models.TransferOperation
	for _, batch := range batches {
		ops = append(ops, batch.Operations...)
	}
	for i, op := range ops {
		if op.Kind != models.OpCreateDestinationAccount {
			continue
		}
		creates[op.Mint]++
		if i+1 >= len(ops) || ops[i+1].Kind != models.OpMoveFungible || ops[i+1].Mint != op.Mint {
			t.Errorf("create for %s not immediately followed by its move", op.Mint)
		}
	}

	if creates[absent.Mint] != 1 {
		t.Errorf("expected exactly one create for absent mint, got %d", creates[absent.Mint])
	}
	if creates[present.Mint] != 0 {
		t.Errorf("expected no create for present mint, got %d", creates[present.Mint])
	}
}

func TestFungible_SingleHoldingOneBatch(t *testing.T) {
	b := newBuilder()
	h := holding(models.ProgramToken, "5", 6)

	batches, err := b.Fungible(models.ProgramToken, []models.FungibleHolding{h}, models.MintSet{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(batches))
	}

	ops := batches[0].Operations
	if len(ops) != 2 {
		t.Fatalf("expected 2 operations, got %d", len(ops))
	}
	if ops[0].Kind != models.OpCreateDestinationAccount || ops[0].Mint != h.Mint {
		t.Errorf("expected create for %s first, got %+v", h.Mint, ops[0])
	}
	if ops[1].Kind != models.OpMoveFungible || ops[1].Amount != 5_000_000 || ops[1].Decimals != 6 {
		t.Errorf("expected move of 5 (5000000 base units), got %+v", ops[1])
	}
	if ops[1].SourceAccount != h.SourceAccount {
		t.Errorf("expected move from %s, got %s", h.SourceAccount, ops[1].SourceAccount)
	}
}

func TestFungible_FeeBearingHolding(t *testing.T) {
	b := newBuilder()
	h := holding(models.ProgramToken2022, "100", 2)
	schedule := models.FeeSchedule{
		h.Mint: {Mint: h.Mint, FeeBasisPoints: 50, MaximumFee: 1_000_000},
	}

	batches, err := b.Fungible(models.ProgramToken2022, []models.FungibleHolding{h}, models.MintSet{h.Mint: {}}, schedule)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batches) != 1 || len(batches[0].Operations) != 1 {
		t.Fatalf("expected one batch with one operation, got %+v", batches)
	}

	op := batches[0].Operations[0]
	if op.Kind != models.OpMoveFungibleWithFee {
		t.Errorf("expected fee-bearing move, got %s", op.Kind)
	}
	if op.Amount != 10_000 {
		t.Errorf("expected amount 10000, got %d", op.Amount)
	}
	if op.Fee != 50 {
		t.Errorf("expected fee 50, got %d", op.Fee)
	}
	if batches[0].Class != models.ClassToken2022 {
		t.Errorf("expected token2022 class, got %s", batches[0].Class)
	}
}

func TestFungible_Token2022WithoutRule(t *testing.T) {
	b := newBuilder()
	h := holding(models.ProgramToken2022, "1.23456789", 9)

	batches, err := b.Fungible(models.ProgramToken2022, []models.FungibleHolding{h}, models.MintSet{h.Mint: {}}, models.FeeSchedule{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	op := batches[0].Operations[0]
	if op.Kind != models.OpMoveFungible {
		t.Errorf("expected plain move without a fee rule, got %s", op.Kind)
	}
	// Truncated to 7 fractional digits.
	if op.Amount != 1_234_567_800 {
		t.Errorf("expected truncated amount 1234567800, got %d", op.Amount)
	}
}

func TestFungible_Token2022BelowPrecisionSkipped(t *testing.T) {
	b := newBuilder()
	h := holding(models.ProgramToken2022, "0.000000001", 9)

	batches, err := b.Fungible(models.ProgramToken2022, []models.FungibleHolding{h}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batches) != 0 {
		t.Errorf("expected dust below truncation precision to be skipped, got %d batches", len(batches))
	}
}

func TestFungible_PacksIntoSizeBoundedBatches(t *testing.T) {
	b := newBuilder()
	var holdings []models.FungibleHolding
	for i := 0; i < 20; i++ {
		holdings = append(holdings, holding(models.ProgramToken, "1", 6))
	}

	batches, err := b.Fungible(models.ProgramToken, holdings, models.MintSet{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batches) < 2 {
		t.Fatalf("expected 20 create+move pairs to need several batches, got %d", len(batches))
	}

	total := 0
	for i, batch := range batches {
		if batch.Index != i {
			t.Errorf("expected batch index %d, got %d", i, batch.Index)
		}
		ops := batch.Operations
		if len(ops)%2 != 0 {
			t.Errorf("batch %d splits a create/move pair", i)
		}
		for j := 0; j+1 < len(ops); j += 2 {
			if ops[j].Kind != models.OpCreateDestinationAccount || ops[j+1].Mint != ops[j].Mint {
				t.Errorf("batch %d: pair %d out of order", i, j/2)
			}
		}
		total += len(ops)
	}
	if total != 40 {
		t.Errorf("expected 40 operations, got %d", total)
	}
	assertBatchesFit(t, b, batches)
}

func TestNFT_BatchBound(t *testing.T) {
	tests := []struct {
		name      string
		batchSize int
		nfts      int
	}{
		{"size 1", 1, 3},
		{"size 2", 2, 5},
		{"size 3", 3, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			opts.NFTBatchSize = tt.batchSize
			b := NewBuilder(newKey(), newKey(), opts)

			var holdings []models.NftHolding
			for i := 0; i < tt.nfts; i++ {
				holdings = append(holdings, models.NftHolding{
					Mint:         newKey().String(),
					TokenAccount: newKey().String(),
					Programmable: i%2 == 0,
				})
			}

			batches, err := b.NFT(holdings)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			total := 0
			for _, batch := range batches {
				if len(batch.Operations) > tt.batchSize {
					t.Errorf("batch %d has %d operations, limit %d", batch.Index, len(batch.Operations), tt.batchSize)
				}
				total += len(batch.Operations)
			}
			if total != tt.nfts {
				t.Errorf("expected %d operations, got %d", tt.nfts, total)
			}
			assertBatchesFit(t, b, batches)
		})
	}
}

func TestNewBuilder_ClampsNFTBatchSize(t *testing.T) {
	b := NewBuilder(newKey(), newKey(), Options{NFTBatchSize: 9})
	if b.opts.NFTBatchSize != DefaultOptions().NFTBatchSize {
		t.Errorf("expected out-of-range batch size to fall back to default, got %d", b.opts.NFTBatchSize)
	}
}

func TestCompressed_OneOperationPerBatch(t *testing.T) {
	b := newBuilder()
	batches := b.Compressed([]models.CompressedAssetHolding{{AssetID: "a1"}, {AssetID: "a2"}})

	if len(batches) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(batches))
	}
	for i, batch := range batches {
		if len(batch.Operations) != 1 || batch.Operations[0].Kind != models.OpMoveCompressedAsset {
			t.Errorf("batch %d: expected one compressed move, got %+v", i, batch.Operations)
		}
	}
}

func TestCoin(t *testing.T) {
	tests := []struct {
		name     string
		lamports uint64
		want     uint64
		batches  int
	}{
		{"above reserve", 5_000_000, 4_000_000, 1},
		{"at reserve", 1_000_000, 0, 0},
		{"empty", 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batches := newBuilder().Coin(models.CoinBalance{Lamports: tt.lamports})
			if len(batches) != tt.batches {
				t.Fatalf("expected %d batches, got %d", tt.batches, len(batches))
			}
			if tt.batches == 1 && batches[0].Operations[0].Amount != tt.want {
				t.Errorf("expected %d lamports, got %d", tt.want, batches[0].Operations[0].Amount)
			}
		})
	}
}

func TestBuild_TogglesAndNftExclusion(t *testing.T) {
	b := newBuilder()
	nft := models.NftHolding{Mint: newKey().String(), TokenAccount: newKey().String()}
	token := holding(models.ProgramToken, "2", 6)
	nftAsToken := models.FungibleHolding{
		Program:       models.ProgramToken,
		Mint:          nft.Mint,
		Amount:        decimal.NewFromInt(1),
		RawAmount:     1,
		SourceAccount: nft.TokenAccount,
	}

	h := &models.Holdings{
		Coin:       models.CoinBalance{Lamports: 10_000_000},
		Token:      []models.FungibleHolding{token, nftAsToken},
		NFTs:       []models.NftHolding{nft},
		Compressed: []models.CompressedAssetHolding{{AssetID: "a1"}},
	}
	toggles := models.AllClasses()
	toggles.CNFT = false

	plan := b.Build(h, nil, nil, toggles)
	if len(plan.Errors) != 0 {
		t.Fatalf("unexpected planning errors: %v", plan.Errors)
	}

	if _, ok := plan.Batches[models.ClassCNFT]; ok {
		t.Error("expected disabled cnft class to have no batches")
	}
	for _, batch := range plan.Batches[models.ClassToken] {
		for _, op := range batch.Operations {
			if op.Mint == nft.Mint {
				t.Errorf("nft mint planned as fungible: %+v", op)
			}
		}
	}
	if got := countOps(plan.Batches[models.ClassNFT]); got != 1 {
		t.Errorf("expected 1 nft move, got %d", got)
	}
	if got := countOps(plan.Batches[models.ClassToken]); got != 2 {
		t.Errorf("expected create+move for the token, got %d operations", got)
	}
	if len(plan.Batches[models.ClassCoin]) != 1 {
		t.Errorf("expected coin batch, got %d", len(plan.Batches[models.ClassCoin]))
	}
}

func TestCloseEmpty(t *testing.T) {
	b := newBuilder()
	var accounts []models.FungibleHolding
	for i := 0; i < 30; i++ {
		program := models.ProgramToken
		if i%2 == 0 {
			program = models.ProgramToken2022
		}
		accounts = append(accounts, models.FungibleHolding{
			Program:       program,
			Mint:          newKey().String(),
			SourceAccount: newKey().String(),
		})
	}
	funded := holding(models.ProgramToken, "1", 6)
	accounts = append(accounts, funded)

	batches, err := b.CloseEmpty(accounts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	total := 0
	for _, batch := range batches {
		if batch.Class != models.ClassCloseEmpty {
			t.Errorf("expected close_empty class, got %s", batch.Class)
		}
		for _, op := range batch.Operations {
			if op.Kind != models.OpCloseEmptyAccount {
				t.Errorf("unexpected kind %s", op.Kind)
			}
			if op.Destination != b.owner.String() {
				t.Errorf("expected rent returned to owner, got %s", op.Destination)
			}
			if op.SourceAccount == funded.SourceAccount {
				t.Error("funded account must not be closed")
			}
		}
		total += len(batch.Operations)
	}
	if total != 30 {
		t.Errorf("expected 30 closures, got %d", total)
	}
	assertBatchesFit(t, b, batches)
}

func TestBuild_ClassFailureIsolated(t *testing.T) {
	b := newBuilder()
	broken := holding(models.ProgramToken, "2", 6)
	broken.Mint = "not-a-mint"

	h := &models.Holdings{
		Coin:      models.CoinBalance{Lamports: 10_000_000},
		Token:     []models.FungibleHolding{broken},
		Token2022: []models.FungibleHolding{holding(models.ProgramToken2022, "3", 2)},
	}

	plan := b.Build(h, nil, nil, models.AllClasses())

	if err, ok := plan.Errors[models.ClassToken]; !ok || err == nil {
		t.Fatalf("expected token class planning error, got %v", plan.Errors)
	}
	if _, ok := plan.Batches[models.ClassToken]; ok {
		t.Error("expected no batches for the failed token class")
	}
	if got := countOps(plan.Batches[models.ClassToken2022]); got != 2 {
		t.Errorf("expected create+move for token2022, got %d operations", got)
	}
	if len(plan.Batches[models.ClassCoin]) != 1 {
		t.Errorf("expected coin batch, got %d", len(plan.Batches[models.ClassCoin]))
	}
}
