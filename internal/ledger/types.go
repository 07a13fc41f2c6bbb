package ledger

import (
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/Fantasim/solmigrate/internal/models"
)

// TokenAccount is a parsed token account as returned by getTokenAccountsByOwner.
type TokenAccount struct {
	Address  solana.PublicKey
	Mint     solana.PublicKey
	Owner    solana.PublicKey
	Program  models.TokenProgram
	Amount   uint64
	UIAmount decimal.Decimal
	Decimals uint8
	Frozen   bool
}

// NftMetadata is the subset of Metaplex metadata discovery needs.
type NftMetadata struct {
	Mint         solana.PublicKey
	Name         string
	Symbol       string
	URI          string
	TokenAccount solana.PublicKey
	Frozen       bool
}

// Blockhash binds a transaction to recent ledger state.
type Blockhash struct {
	Hash                 solana.Hash
	LastValidBlockHeight uint64
}

// AssetPagination selects a DAS page. Page and Cursor are mutually exclusive.
type AssetPagination struct {
	Page   int
	Cursor string
	Limit  int
}

// AssetPage is one page of getAssetsByOwner.
type AssetPage struct {
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Page   int     `json:"page"`
	Cursor string  `json:"cursor"`
	Items  []Asset `json:"items"`
}

// Asset is a DAS asset. Only the fields consolidation reads are decoded.
type Asset struct {
	ID          string           `json:"id"`
	Interface   string           `json:"interface"`
	Compression AssetCompression `json:"compression"`
	Ownership   AssetOwnership   `json:"ownership"`
	Content     struct {
		Metadata struct {
			Name string `json:"name"`
		} `json:"metadata"`
	} `json:"content"`
}

// AssetCompression is the compression block of a DAS asset.
type AssetCompression struct {
	Compressed  bool   `json:"compressed"`
	Tree        string `json:"tree"`
	LeafID      uint64 `json:"leaf_id"`
	Seq         uint64 `json:"seq"`
	DataHash    string `json:"data_hash"`
	CreatorHash string `json:"creator_hash"`
	AssetHash   string `json:"asset_hash"`
}

// AssetOwnership is the ownership block of a DAS asset.
type AssetOwnership struct {
	Owner    string `json:"owner"`
	Delegate string `json:"delegate"`
	Frozen   bool   `json:"frozen"`
}

// AssetProof is the merkle inclusion proof of a compressed asset.
type AssetProof struct {
	Root      string   `json:"root"`
	Proof     []string `json:"proof"`
	NodeIndex uint64   `json:"node_index"`
	Leaf      string   `json:"leaf"`
	TreeID    string   `json:"tree_id"`
}
