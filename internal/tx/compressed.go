package tx

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math/bits"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"

	"github.com/Fantasim/solmigrate/internal/config"
	"github.com/Fantasim/solmigrate/internal/ledger"
	"github.com/Fantasim/solmigrate/internal/models"
)

// Concurrent merkle tree account layout.
const (
	merkleTreeHeaderSize = 56
	merkleTreeRootOffset = 24 // sequence number, active index, buffer size
	merkleNodeSize       = 32
	merkleChangeLogExtra = 8 // index field of each change log entry
	maxTreeDepth         = 30
)

// AssetIndex is the digital asset API used to resolve compressed transfers.
type AssetIndex interface {
	GetAsset(ctx context.Context, id string) (*ledger.Asset, error)
	GetAssetProof(ctx context.Context, id string) (*ledger.AssetProof, error)
}

// AccountReader reads raw account data.
type AccountReader interface {
	GetAccountData(ctx context.Context, address solana.PublicKey) ([]byte, error)
}

// CompressedResolver fetches a fresh proof for a compressed asset and turns
// it into a Bubblegum transfer instruction.
type CompressedResolver struct {
	index    AssetIndex
	accounts AccountReader
}

// NewCompressedResolver creates a resolver.
func NewCompressedResolver(index AssetIndex, accounts AccountReader) *CompressedResolver {
	return &CompressedResolver{index: index, accounts: accounts}
}

// Resolve builds the transfer of assetID from owner to dest. Any failure to
// obtain a usable proof is reported as ErrProofStale; context errors pass through.
func (r *CompressedResolver) Resolve(ctx context.Context, owner, dest solana.PublicKey, assetID string) (solana.Instruction, *models.ProofBundle, error) {
	asset, err := r.index.GetAsset(ctx, assetID)
	if err != nil {
		return nil, nil, proofErr(assetID, "get asset", err)
	}
	if !asset.Compression.Compressed {
		return nil, nil, fmt.Errorf("%w: asset %s is not compressed", config.ErrProofStale, assetID)
	}
	if asset.Ownership.Owner != owner.String() {
		return nil, nil, fmt.Errorf("%w: asset %s is owned by %s", config.ErrProofStale, assetID, asset.Ownership.Owner)
	}

	proof, err := r.index.GetAssetProof(ctx, assetID)
	if err != nil {
		return nil, nil, proofErr(assetID, "get asset proof", err)
	}

	treeID := proof.TreeID
	if treeID == "" {
		treeID = asset.Compression.Tree
	}
	tree, err := solana.PublicKeyFromBase58(treeID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: invalid tree %q: %v", config.ErrProofStale, treeID, err)
	}

	treeData, err := r.accounts.GetAccountData(ctx, tree)
	if err != nil {
		return nil, nil, proofErr(assetID, "read merkle tree", err)
	}
	canopy, err := CanopyDepth(treeData)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", config.ErrProofStale, err)
	}

	transfer, err := buildCompressedTransfer(asset, proof, tree, canopy, owner, dest)
	if err != nil {
		return nil, nil, err
	}
	slog.Debug("proof trimmed to canopy",
		"assetID", assetID,
		"canopyDepth", canopy,
		"nodesSent", len(transfer.Proof),
	)

	ix, err := NewBubblegumTransferInstruction(transfer)
	if err != nil {
		return nil, nil, err
	}

	return ix, &models.ProofBundle{
		Root:        proof.Root,
		Tree:        tree.String(),
		Proof:       proof.Proof,
		NodeIndex:   proof.NodeIndex,
		LeafID:      asset.Compression.LeafID,
		DataHash:    asset.Compression.DataHash,
		CreatorHash: asset.Compression.CreatorHash,
		Owner:       asset.Ownership.Owner,
		Delegate:    transfer.Delegate.String(),
	}, nil
}

func buildCompressedTransfer(asset *ledger.Asset, proof *ledger.AssetProof, tree solana.PublicKey, canopy int, owner, dest solana.PublicKey) (CompressedTransfer, error) {
	depth := len(proof.Proof)
	if depth == 0 || depth > maxTreeDepth {
		return CompressedTransfer{}, fmt.Errorf("%w: asset %s has proof of length %d", config.ErrProofStale, asset.ID, depth)
	}
	if canopy > depth {
		canopy = depth
	}
	firstLeaf := uint64(1) << uint(depth)
	if proof.NodeIndex < firstLeaf {
		return CompressedTransfer{}, fmt.Errorf("%w: asset %s node index %d is not a leaf", config.ErrProofStale, asset.ID, proof.NodeIndex)
	}

	root, err := decodeHash("root", proof.Root)
	if err != nil {
		return CompressedTransfer{}, err
	}
	dataHash, err := decodeHash("data hash", asset.Compression.DataHash)
	if err != nil {
		return CompressedTransfer{}, err
	}
	creatorHash, err := decodeHash("creator hash", asset.Compression.CreatorHash)
	if err != nil {
		return CompressedTransfer{}, err
	}

	nodes := make([]solana.PublicKey, 0, depth-canopy)
	for _, n := range proof.Proof[:depth-canopy] {
		key, err := solana.PublicKeyFromBase58(n)
		if err != nil {
			return CompressedTransfer{}, fmt.Errorf("%w: invalid proof node %q: %v", config.ErrProofStale, n, err)
		}
		nodes = append(nodes, key)
	}

	delegate := owner
	if asset.Ownership.Delegate != "" {
		d, err := solana.PublicKeyFromBase58(asset.Ownership.Delegate)
		if err != nil {
			return CompressedTransfer{}, fmt.Errorf("%w: invalid delegate %q: %v", config.ErrProofStale, asset.Ownership.Delegate, err)
		}
		delegate = d
	}

	return CompressedTransfer{
		Owner:       owner,
		Delegate:    delegate,
		Destination: dest,
		Tree:        tree,
		Root:        root,
		DataHash:    dataHash,
		CreatorHash: creatorHash,
		Nonce:       asset.Compression.LeafID,
		Index:       uint32(proof.NodeIndex - firstLeaf),
		Proof:       nodes,
	}, nil
}

// CanopyDepth reads the canopy depth of a concurrent merkle tree account.
// Proof nodes covered by the canopy are stored on-chain and must not be sent.
func CanopyDepth(data []byte) (int, error) {
	if len(data) < merkleTreeHeaderSize {
		return 0, fmt.Errorf("merkle tree account too small: %d bytes", len(data))
	}
	maxBuffer := binary.LittleEndian.Uint32(data[2:6])
	maxDepth := binary.LittleEndian.Uint32(data[6:10])
	if maxDepth == 0 || maxDepth > maxTreeDepth {
		return 0, fmt.Errorf("merkle tree depth %d out of range", maxDepth)
	}

	pathSize := uint64(maxDepth+1)*merkleNodeSize + merkleChangeLogExtra
	treeSize := merkleTreeRootOffset + uint64(maxBuffer)*pathSize + pathSize
	if uint64(len(data)) < merkleTreeHeaderSize+treeSize {
		return 0, fmt.Errorf("merkle tree account truncated: %d bytes", len(data))
	}

	canopyBytes := uint64(len(data)) - merkleTreeHeaderSize - treeSize
	if canopyBytes == 0 {
		return 0, nil
	}
	// A canopy of depth d stores 2^(d+1)-2 nodes.
	nodes := canopyBytes/merkleNodeSize + 2
	return bits.Len64(nodes) - 2, nil
}

func decodeHash(field, value string) ([32]byte, error) {
	var out [32]byte
	b, err := base58.Decode(value)
	if err != nil {
		return out, fmt.Errorf("%w: decode %s: %v", config.ErrProofStale, field, err)
	}
	if len(b) != len(out) {
		return out, fmt.Errorf("%w: %s has %d bytes, expected 32", config.ErrProofStale, field, len(b))
	}
	copy(out[:], b)
	return out, nil
}

func proofErr(assetID, step string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s %s: %w", config.ErrProofStale, step, assetID, err)
}
