package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/Fantasim/solmigrate/internal/config"
	"github.com/Fantasim/solmigrate/internal/ledger"
	"github.com/Fantasim/solmigrate/internal/models"
)

// Ledger is the subset of the standard RPC surface discovery reads.
type Ledger interface {
	GetBalance(ctx context.Context, address solana.PublicKey) (uint64, error)
	GetTokenAccountsByOwner(ctx context.Context, owner solana.PublicKey, program models.TokenProgram) ([]ledger.TokenAccount, error)
	FindAllNftsByOwner(ctx context.Context, owner solana.PublicKey) ([]ledger.NftMetadata, error)
	FindNftByMint(ctx context.Context, mint solana.PublicKey) (ledger.NftMetadata, error)
}

// AssetIndex is the DAS listing used for compressed assets.
type AssetIndex interface {
	GetAssetsByOwner(ctx context.Context, owner string, p ledger.AssetPagination) (*ledger.AssetPage, error)
}

// Service reads an owner's holdings across all asset classes.
type Service struct {
	ledger Ledger
	index  AssetIndex
}

// NewService creates a discovery service.
func NewService(l Ledger, index AssetIndex) *Service {
	return &Service{ledger: l, index: index}
}

// Discover returns a snapshot of owner's holdings. Each class is queried
// independently; a failing class degrades to empty and is recorded in
// Warnings. The only error returned is context cancellation.
func (s *Service) Discover(ctx context.Context, owner solana.PublicKey) (*models.Holdings, error) {
	h := &models.Holdings{Owner: owner.String()}

	var mu sync.Mutex
	warn := func(class models.AssetClass, err error) {
		mu.Lock()
		defer mu.Unlock()
		h.Warnings = append(h.Warnings, fmt.Sprintf("%s: %v: %v", class, config.ErrDiscoveryFailure, err))
		slog.Warn("discovery degraded to empty",
			"owner", owner,
			"class", class,
			"error", err,
		)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		coin, err := s.Coin(gctx, owner)
		if err != nil {
			if isCancelled(gctx) {
				return gctx.Err()
			}
			warn(models.ClassCoin, err)
			return nil
		}
		h.Coin = coin
		return nil
	})

	for _, program := range []models.TokenProgram{models.ProgramToken, models.ProgramToken2022} {
		program := program
		g.Go(func() error {
			holdings, err := s.Fungibles(gctx, owner, program)
			if err != nil {
				if isCancelled(gctx) {
					return gctx.Err()
				}
				warn(program.Class(), err)
				return nil
			}
			if program == models.ProgramToken2022 {
				h.Token2022 = holdings
			} else {
				h.Token = holdings
			}
			return nil
		})
	}

	g.Go(func() error {
		nfts, err := s.NFTs(gctx, owner)
		if err != nil {
			if isCancelled(gctx) {
				return gctx.Err()
			}
			warn(models.ClassNFT, err)
			return nil
		}
		h.NFTs = nfts
		return nil
	})

	g.Go(func() error {
		assets, err := s.CompressedAssets(gctx, owner)
		if err != nil {
			if isCancelled(gctx) {
				return gctx.Err()
			}
			warn(models.ClassCNFT, err)
			return nil
		}
		h.Compressed = assets
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Strings(h.Warnings)

	slog.Info("discovery complete",
		"owner", owner,
		"lamports", h.Coin.Lamports,
		"token", len(h.Token),
		"token2022", len(h.Token2022),
		"nfts", len(h.NFTs),
		"compressed", len(h.Compressed),
		"warnings", len(h.Warnings),
	)
	return h, nil
}

// Coin returns the native balance.
func (s *Service) Coin(ctx context.Context, owner solana.PublicKey) (models.CoinBalance, error) {
	lamports, err := s.ledger.GetBalance(ctx, owner)
	if err != nil {
		return models.CoinBalance{}, err
	}
	return models.CoinBalance{Lamports: lamports, SOL: LamportsToSOL(lamports)}, nil
}

// Fungibles returns one holding per mint under program, frozen accounts
// excluded, sorted by mint. When several accounts hold the same mint the
// largest balance is kept.
func (s *Service) Fungibles(ctx context.Context, owner solana.PublicKey, program models.TokenProgram) ([]models.FungibleHolding, error) {
	accounts, err := s.ledger.GetTokenAccountsByOwner(ctx, owner, program)
	if err != nil {
		return nil, err
	}

	byMint := make(map[string]models.FungibleHolding, len(accounts))
	for _, acc := range accounts {
		if acc.Frozen {
			slog.Debug("skipping frozen token account",
				"account", acc.Address,
				"mint", acc.Mint,
			)
			continue
		}

		mint := acc.Mint.String()
		if prev, ok := byMint[mint]; ok {
			slog.Debug("multiple token accounts for mint",
				"mint", mint,
				"kept", prev.SourceAccount,
				"other", acc.Address,
			)
			if prev.RawAmount >= acc.Amount {
				continue
			}
		}

		byMint[mint] = models.FungibleHolding{
			Program:       program,
			Mint:          mint,
			Amount:        acc.UIAmount,
			RawAmount:     acc.Amount,
			Decimals:      acc.Decimals,
			SourceAccount: acc.Address.String(),
		}
	}

	holdings := make([]models.FungibleHolding, 0, len(byMint))
	for _, h := range byMint {
		holdings = append(holdings, h)
	}
	sort.Slice(holdings, func(i, j int) bool { return holdings[i].Mint < holdings[j].Mint })
	return holdings, nil
}

// DestinationMints returns every mint the destination already has an account
// for under program. Frozen accounts count: the account exists.
func (s *Service) DestinationMints(ctx context.Context, destination solana.PublicKey, program models.TokenProgram) (models.MintSet, error) {
	accounts, err := s.ledger.GetTokenAccountsByOwner(ctx, destination, program)
	if err != nil {
		return nil, err
	}
	set := make(models.MintSet, len(accounts))
	for _, acc := range accounts {
		set[acc.Mint.String()] = struct{}{}
	}
	return set, nil
}

// EmptyAccounts returns every non-frozen zero-balance token account under
// program, sorted by account address.
func (s *Service) EmptyAccounts(ctx context.Context, owner solana.PublicKey, program models.TokenProgram) ([]models.FungibleHolding, error) {
	accounts, err := s.ledger.GetTokenAccountsByOwner(ctx, owner, program)
	if err != nil {
		return nil, err
	}

	var empty []models.FungibleHolding
	for _, acc := range accounts {
		if acc.Amount != 0 || acc.Frozen {
			continue
		}
		empty = append(empty, models.FungibleHolding{
			Program:       program,
			Mint:          acc.Mint.String(),
			Amount:        decimal.Zero,
			Decimals:      acc.Decimals,
			SourceAccount: acc.Address.String(),
		})
	}
	sort.Slice(empty, func(i, j int) bool { return empty[i].SourceAccount < empty[j].SourceAccount })
	return empty, nil
}

// NFTs lists standard NFTs in ledger enumeration order, fetching metadata
// once per mint. Mints without readable metadata are not NFTs and are left out.
func (s *Service) NFTs(ctx context.Context, owner solana.PublicKey) ([]models.NftHolding, error) {
	listed, err := s.ledger.FindAllNftsByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}

	holdings := make([]models.NftHolding, 0, len(listed))
	seen := make(map[solana.PublicKey]struct{}, len(listed))
	for _, item := range listed {
		if _, dup := seen[item.Mint]; dup {
			continue
		}
		seen[item.Mint] = struct{}{}

		meta, err := s.ledger.FindNftByMint(ctx, item.Mint)
		if err != nil {
			if isCancelled(ctx) {
				return nil, ctx.Err()
			}
			slog.Debug("no metadata for candidate nft", "mint", item.Mint, "error", err)
			continue
		}

		holdings = append(holdings, models.NftHolding{
			Mint:         item.Mint.String(),
			Name:         meta.Name,
			TokenAccount: item.TokenAccount.String(),
			Programmable: item.Frozen,
		})
	}
	return holdings, nil
}

// CompressedAssets pages through the owner's DAS assets and keeps only the
// compressed ones; the index cannot filter server-side.
func (s *Service) CompressedAssets(ctx context.Context, owner solana.PublicKey) ([]models.CompressedAssetHolding, error) {
	var out []models.CompressedAssetHolding
	seen := make(map[string]struct{})

	for page := 1; page <= config.DASMaxPages; page++ {
		resp, err := s.index.GetAssetsByOwner(ctx, owner.String(), ledger.AssetPagination{
			Page:  page,
			Limit: config.DASPageLimit,
		})
		if err != nil {
			return nil, err
		}

		for _, item := range resp.Items {
			if !item.Compression.Compressed {
				continue
			}
			if _, dup := seen[item.ID]; dup {
				continue
			}
			seen[item.ID] = struct{}{}
			out = append(out, models.CompressedAssetHolding{AssetID: item.ID})
		}

		if len(resp.Items) < config.DASPageLimit {
			break
		}
	}
	return out, nil
}

// LamportsToSOL converts lamports to SOL.
func LamportsToSOL(lamports uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), -config.SOLDecimals)
}

func isCancelled(ctx context.Context) bool {
	return ctx.Err() != nil
}
