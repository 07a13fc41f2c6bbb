package tx

import (
	"bytes"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"

	"github.com/Fantasim/solmigrate/internal/config"
	"github.com/Fantasim/solmigrate/internal/ledger"
	"github.com/Fantasim/solmigrate/internal/models"
)

var (
	systemProgramID       = solana.MustPublicKeyFromBase58(config.SOLSystemProgramID)
	tokenProgramID        = solana.MustPublicKeyFromBase58(config.SOLTokenProgramID)
	associatedProgramID   = solana.MustPublicKeyFromBase58(config.SOLAssociatedTokenProgramID)
	metadataProgramID     = solana.MustPublicKeyFromBase58(config.SOLTokenMetadataProgramID)
	bubblegumProgramID    = solana.MustPublicKeyFromBase58(config.SOLBubblegumProgramID)
	noopProgramID         = solana.MustPublicKeyFromBase58(config.SOLNoopProgramID)
	compressionProgramID  = solana.MustPublicKeyFromBase58(config.SOLCompressionProgramID)
	instructionsSysvarID  = solana.MustPublicKeyFromBase58(config.SOLInstructionsSysvarID)
	bubblegumTransferDisc = [8]byte{163, 52, 200, 231, 140, 3, 69, 186}
)

// Token program instruction tags.
const (
	tokenIxTransferFeeExt       = 26
	transferFeeIxCheckedWithFee = 1
	ataIxCreateIdempotent       = 1
	metadataIxTransfer          = 49
	metadataTransferArgsV1      = 0
)

// NewCreateIdempotentATAInstruction creates wallet's associated token account
// for mint, paid by payer. It succeeds when the account already exists.
func NewCreateIdempotentATAInstruction(payer, wallet, mint, tokenProgram solana.PublicKey) (solana.Instruction, error) {
	ata, err := ledger.DeriveATA(wallet, mint, tokenProgram)
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(associatedProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(payer, true, true),
		solana.NewAccountMeta(ata, true, false),
		solana.NewAccountMeta(wallet, false, false),
		solana.NewAccountMeta(mint, false, false),
		solana.NewAccountMeta(systemProgramID, false, false),
		solana.NewAccountMeta(tokenProgram, false, false),
	}, []byte{ataIxCreateIdempotent}), nil
}

// NewTransferCheckedInstruction moves amount base units from source to dest
// under tokenProgram. Token and Token-2022 share the instruction layout.
func NewTransferCheckedInstruction(tokenProgram, source, mint, dest, authority solana.PublicKey, amount uint64, decimals uint8) (solana.Instruction, error) {
	return onProgram(tokenProgram,
		token.NewTransferCheckedInstruction(amount, decimals, source, mint, dest, authority, nil).Build())
}

// NewTransferCheckedWithFeeInstruction is the Token-2022 transfer that
// asserts the expected withheld fee.
func NewTransferCheckedWithFeeInstruction(source, mint, dest, authority solana.PublicKey, amount uint64, decimals uint8, fee uint64) solana.Instruction {
	data := make([]byte, 0, 19)
	data = append(data, tokenIxTransferFeeExt, transferFeeIxCheckedWithFee)
	data = binary.LittleEndian.AppendUint64(data, amount)
	data = append(data, decimals)
	data = binary.LittleEndian.AppendUint64(data, fee)

	return solana.NewInstruction(solana.MustPublicKeyFromBase58(config.SOLToken2022ProgramID), solana.AccountMetaSlice{
		solana.NewAccountMeta(source, true, false),
		solana.NewAccountMeta(mint, false, false),
		solana.NewAccountMeta(dest, true, false),
		solana.NewAccountMeta(authority, false, true),
	}, data)
}

// NewCloseAccountInstruction closes an empty token account, sending its rent to dest.
func NewCloseAccountInstruction(tokenProgram, account, dest, owner solana.PublicKey) (solana.Instruction, error) {
	return onProgram(tokenProgram,
		token.NewCloseAccountInstruction(account, dest, owner, nil).Build())
}

// onProgram re-targets a token program instruction. The token package binds
// its instructions to one global program ID.
func onProgram(program solana.PublicKey, ix *token.Instruction) (solana.Instruction, error) {
	data, err := ix.Data()
	if err != nil {
		return nil, fmt.Errorf("encode token instruction: %w", err)
	}
	return solana.NewInstruction(program, ix.Accounts(), data), nil
}

// metadataTransferArgs is the borsh layout of Token Metadata Transfer(V1).
type metadataTransferArgs struct {
	Instruction uint8
	Variant     uint8
	Amount      uint64
	AuthData    uint8 // Option<AuthorizationData>::None
}

// NftTransfer describes one Metaplex NFT move.
type NftTransfer struct {
	Owner        solana.PublicKey
	Destination  solana.PublicKey
	Mint         solana.PublicKey
	TokenAccount solana.PublicKey
	Programmable bool
}

// NewMetadataTransferInstruction builds Token Metadata TransferV1. It creates
// the destination token account itself. Programmable NFTs get token records.
func NewMetadataTransferInstruction(t NftTransfer) (solana.Instruction, error) {
	destToken, err := ledger.DeriveATA(t.Destination, t.Mint, tokenProgramID)
	if err != nil {
		return nil, err
	}
	metadata, err := ledger.MetadataPDA(t.Mint)
	if err != nil {
		return nil, err
	}
	edition, err := metadataPDA(t.Mint, []byte("edition"))
	if err != nil {
		return nil, err
	}

	// Absent optional accounts are passed as the program id itself.
	ownerRecord := solana.NewAccountMeta(metadataProgramID, false, false)
	destRecord := solana.NewAccountMeta(metadataProgramID, false, false)
	if t.Programmable {
		ownerRecordKey, err := metadataPDA(t.Mint, []byte("token_record"), t.TokenAccount[:])
		if err != nil {
			return nil, err
		}
		destRecordKey, err := metadataPDA(t.Mint, []byte("token_record"), destToken[:])
		if err != nil {
			return nil, err
		}
		ownerRecord = solana.NewAccountMeta(ownerRecordKey, true, false)
		destRecord = solana.NewAccountMeta(destRecordKey, true, false)
	}

	data, err := borshEncode(metadataTransferArgs{
		Instruction: metadataIxTransfer,
		Variant:     metadataTransferArgsV1,
		Amount:      1,
	})
	if err != nil {
		return nil, err
	}

	return solana.NewInstruction(metadataProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(t.TokenAccount, true, false),
		solana.NewAccountMeta(t.Owner, false, false),
		solana.NewAccountMeta(destToken, true, false),
		solana.NewAccountMeta(t.Destination, false, false),
		solana.NewAccountMeta(t.Mint, false, false),
		solana.NewAccountMeta(metadata, true, false),
		solana.NewAccountMeta(edition, false, false),
		ownerRecord,
		destRecord,
		solana.NewAccountMeta(t.Owner, false, true),
		solana.NewAccountMeta(t.Owner, true, true),
		solana.NewAccountMeta(systemProgramID, false, false),
		solana.NewAccountMeta(instructionsSysvarID, false, false),
		solana.NewAccountMeta(tokenProgramID, false, false),
		solana.NewAccountMeta(associatedProgramID, false, false),
		solana.NewAccountMeta(metadataProgramID, false, false),
		solana.NewAccountMeta(metadataProgramID, false, false),
	}, data), nil
}

// metadataPDA derives ["metadata", program, mint, extra...] under Token Metadata.
func metadataPDA(mint solana.PublicKey, extra ...[]byte) (solana.PublicKey, error) {
	seeds := [][]byte{[]byte("metadata"), metadataProgramID[:], mint[:]}
	seeds = append(seeds, extra...)
	pda, _, err := solana.FindProgramAddress(seeds, metadataProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive metadata pda: %w", err)
	}
	return pda, nil
}

// bubblegumTransferArgs is the borsh layout of Bubblegum transfer.
type bubblegumTransferArgs struct {
	Discriminator [8]byte
	Root          [32]byte
	DataHash      [32]byte
	CreatorHash   [32]byte
	Nonce         uint64
	Index         uint32
}

// CompressedTransfer is a resolved Bubblegum transfer.
type CompressedTransfer struct {
	Owner       solana.PublicKey
	Delegate    solana.PublicKey
	Destination solana.PublicKey
	Tree        solana.PublicKey
	Root        [32]byte
	DataHash    [32]byte
	CreatorHash [32]byte
	Nonce       uint64
	Index       uint32
	Proof       []solana.PublicKey
}

// NewBubblegumTransferInstruction builds a compressed NFT transfer. Proof
// nodes are appended as read-only accounts.
func NewBubblegumTransferInstruction(t CompressedTransfer) (solana.Instruction, error) {
	treeConfig, _, err := solana.FindProgramAddress([][]byte{t.Tree[:]}, bubblegumProgramID)
	if err != nil {
		return nil, fmt.Errorf("derive tree config: %w", err)
	}

	data, err := borshEncode(bubblegumTransferArgs{
		Discriminator: bubblegumTransferDisc,
		Root:          t.Root,
		DataHash:      t.DataHash,
		CreatorHash:   t.CreatorHash,
		Nonce:         t.Nonce,
		Index:         t.Index,
	})
	if err != nil {
		return nil, err
	}

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(treeConfig, false, false),
		solana.NewAccountMeta(t.Owner, false, true),
		solana.NewAccountMeta(t.Delegate, false, false),
		solana.NewAccountMeta(t.Destination, false, false),
		solana.NewAccountMeta(t.Tree, true, false),
		solana.NewAccountMeta(noopProgramID, false, false),
		solana.NewAccountMeta(compressionProgramID, false, false),
		solana.NewAccountMeta(systemProgramID, false, false),
	}
	for _, node := range t.Proof {
		accounts = append(accounts, solana.NewAccountMeta(node, false, false))
	}

	return solana.NewInstruction(bubblegumProgramID, accounts, data), nil
}

func borshEncode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := bin.NewBorshEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("borsh encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Instructions expands a planned operation into ledger instructions.
// Compressed moves need a resolved proof and go through CompressedResolver.
func Instructions(op models.TransferOperation) ([]solana.Instruction, error) {
	source, err := parseKey("source", op.Source)
	if err != nil {
		return nil, err
	}
	dest, err := parseKey("destination", op.Destination)
	if err != nil {
		return nil, err
	}

	switch op.Kind {
	case models.OpMoveCoin:
		return []solana.Instruction{
			system.NewTransferInstruction(op.Amount, source, dest).Build(),
		}, nil

	case models.OpCreateDestinationAccount:
		program, mint, err := programAndMint(op)
		if err != nil {
			return nil, err
		}
		ix, err := NewCreateIdempotentATAInstruction(source, dest, mint, program)
		if err != nil {
			return nil, err
		}
		return []solana.Instruction{ix}, nil

	case models.OpMoveFungible, models.OpMoveFungibleWithFee:
		program, mint, err := programAndMint(op)
		if err != nil {
			return nil, err
		}
		from, err := parseKey("source account", op.SourceAccount)
		if err != nil {
			return nil, err
		}
		to, err := ledger.DeriveATA(dest, mint, program)
		if err != nil {
			return nil, err
		}
		if op.Kind == models.OpMoveFungibleWithFee {
			return []solana.Instruction{
				NewTransferCheckedWithFeeInstruction(from, mint, to, source, op.Amount, op.Decimals, op.Fee),
			}, nil
		}
		ix, err := NewTransferCheckedInstruction(program, from, mint, to, source, op.Amount, op.Decimals)
		if err != nil {
			return nil, err
		}
		return []solana.Instruction{ix}, nil

	case models.OpMoveNft:
		mint, err := parseKey("mint", op.Mint)
		if err != nil {
			return nil, err
		}
		tokenAccount, err := parseKey("token account", op.SourceAccount)
		if err != nil {
			return nil, err
		}
		ix, err := NewMetadataTransferInstruction(NftTransfer{
			Owner:        source,
			Destination:  dest,
			Mint:         mint,
			TokenAccount: tokenAccount,
			Programmable: op.Programmable,
		})
		if err != nil {
			return nil, err
		}
		return []solana.Instruction{ix}, nil

	case models.OpCloseEmptyAccount:
		program, err := ledger.ProgramID(op.Program)
		if err != nil {
			return nil, err
		}
		account, err := parseKey("account", op.SourceAccount)
		if err != nil {
			return nil, err
		}
		ix, err := NewCloseAccountInstruction(program, account, dest, source)
		if err != nil {
			return nil, err
		}
		return []solana.Instruction{ix}, nil

	case models.OpMoveCompressedAsset:
		return nil, fmt.Errorf("compressed asset %s needs a resolved proof", op.AssetID)

	default:
		return nil, fmt.Errorf("unknown operation kind %q", op.Kind)
	}
}

func programAndMint(op models.TransferOperation) (solana.PublicKey, solana.PublicKey, error) {
	program, err := ledger.ProgramID(op.Program)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, err
	}
	mint, err := parseKey("mint", op.Mint)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, err
	}
	return program, mint, nil
}

func parseKey(field, value string) (solana.PublicKey, error) {
	key, err := solana.PublicKeyFromBase58(value)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid %s %q: %w", field, value, err)
	}
	return key, nil
}
