package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"

	bin "github.com/gagliardetto/binary"
	tokenmetadata "github.com/gagliardetto/metaplex-go/clients/token-metadata"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	jrpc "github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/shopspring/decimal"

	"github.com/Fantasim/solmigrate/internal/config"
	"github.com/Fantasim/solmigrate/internal/models"
)

var metadataProgramID = solana.MustPublicKeyFromBase58(config.SOLTokenMetadataProgramID)

// parsedTokenAccount is the jsonParsed layout of a token account.
type parsedTokenAccount struct {
	Parsed struct {
		Info struct {
			Mint        string `json:"mint"`
			Owner       string `json:"owner"`
			State       string `json:"state"`
			TokenAmount struct {
				Amount   string `json:"amount"`
				Decimals uint8  `json:"decimals"`
			} `json:"tokenAmount"`
		} `json:"info"`
		Type string `json:"type"`
	} `json:"parsed"`
}

// RPCClient serves the standard Solana JSON-RPC queries consolidation needs.
type RPCClient struct {
	rpc *rpc.Client
	rl  *RateLimiter
}

// NewRPCClient creates a client for the given endpoint.
func NewRPCClient(endpoint string, rps int) *RPCClient {
	slog.Info("solana rpc client created", "endpoint", endpoint, "rps", rps)
	return &RPCClient{
		rpc: rpc.New(endpoint),
		rl:  NewRateLimiter("solana-rpc", rps),
	}
}

// GetBalance returns the lamport balance of address.
func (c *RPCClient) GetBalance(ctx context.Context, address solana.PublicKey) (uint64, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return 0, err
	}

	out, err := c.rpc.GetBalance(ctx, address, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, classifyRPCError("getBalance", err)
	}

	slog.Debug("sol balance fetched", "address", address, "lamports", out.Value)
	return out.Value, nil
}

// GetTokenAccountsByOwner returns every token account of owner under the
// given token program, frozen ones included.
func (c *RPCClient) GetTokenAccountsByOwner(ctx context.Context, owner solana.PublicKey, program models.TokenProgram) ([]TokenAccount, error) {
	programID, err := ProgramID(program)
	if err != nil {
		return nil, err
	}

	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}

	out, err := c.rpc.GetTokenAccountsByOwner(ctx, owner,
		&rpc.GetTokenAccountsConfig{ProgramId: &programID},
		&rpc.GetTokenAccountsOpts{
			Commitment: rpc.CommitmentConfirmed,
			Encoding:   solana.EncodingJSONParsed,
		},
	)
	if err != nil {
		return nil, classifyRPCError("getTokenAccountsByOwner", err)
	}

	accounts := make([]TokenAccount, 0, len(out.Value))
	for _, keyed := range out.Value {
		if keyed == nil || keyed.Account.Data == nil {
			continue
		}
		acc, err := decodeTokenAccount(keyed.Pubkey, keyed.Account.Data.GetRawJSON(), program)
		if err != nil {
			slog.Warn("skipping undecodable token account",
				"account", keyed.Pubkey,
				"program", program,
				"error", err,
			)
			continue
		}
		accounts = append(accounts, acc)
	}

	slog.Debug("token accounts fetched",
		"owner", owner,
		"program", program,
		"count", len(accounts),
	)
	return accounts, nil
}

// decodeTokenAccount turns the jsonParsed account data into a TokenAccount.
func decodeTokenAccount(address solana.PublicKey, raw []byte, program models.TokenProgram) (TokenAccount, error) {
	if len(raw) == 0 {
		return TokenAccount{}, errors.New("account data is not jsonParsed")
	}

	var parsed parsedTokenAccount
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return TokenAccount{}, fmt.Errorf("decode parsed account: %w", err)
	}
	info := parsed.Parsed.Info

	mint, err := solana.PublicKeyFromBase58(info.Mint)
	if err != nil {
		return TokenAccount{}, fmt.Errorf("decode mint: %w", err)
	}
	owner, err := solana.PublicKeyFromBase58(info.Owner)
	if err != nil {
		return TokenAccount{}, fmt.Errorf("decode owner: %w", err)
	}
	amount, err := strconv.ParseUint(info.TokenAmount.Amount, 10, 64)
	if err != nil {
		return TokenAccount{}, fmt.Errorf("decode amount %q: %w", info.TokenAmount.Amount, err)
	}

	return TokenAccount{
		Address:  address,
		Mint:     mint,
		Owner:    owner,
		Program:  program,
		Amount:   amount,
		UIAmount: decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -int32(info.TokenAmount.Decimals)),
		Decimals: info.TokenAmount.Decimals,
		Frozen:   info.State == "frozen",
	}, nil
}

// GetLatestBlockhash returns a fresh blockhash and its validity ceiling.
func (c *RPCClient) GetLatestBlockhash(ctx context.Context) (Blockhash, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return Blockhash{}, err
	}

	out, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return Blockhash{}, classifyRPCError("getLatestBlockhash", err)
	}
	if out == nil || out.Value == nil {
		return Blockhash{}, fmt.Errorf("%w: empty getLatestBlockhash result", config.ErrProviderUnavailable)
	}

	return Blockhash{
		Hash:                 out.Value.Blockhash,
		LastValidBlockHeight: out.Value.LastValidBlockHeight,
	}, nil
}

// GetAccountData returns the raw data of an account.
func (c *RPCClient) GetAccountData(ctx context.Context, address solana.PublicKey) ([]byte, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}

	out, err := c.rpc.GetAccountInfo(ctx, address)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", config.ErrAccountNotFound, address)
		}
		return nil, classifyRPCError("getAccountInfo", err)
	}
	if out == nil || out.Value == nil || out.Value.Data == nil {
		return nil, fmt.Errorf("%w: %s", config.ErrAccountNotFound, address)
	}
	return out.Value.Data.GetBinary(), nil
}

// SendTransaction submits a signed transaction with preflight checks.
func (c *RPCClient) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return solana.Signature{}, err
	}

	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return solana.Signature{}, classifyRPCError("sendTransaction", err)
	}
	return sig, nil
}

// SignatureStatus is the confirmation state of one signature.
type SignatureStatus struct {
	Found     bool
	Confirmed bool
	Err       string
}

// GetSignatureStatus polls the status of one signature.
func (c *RPCClient) GetSignatureStatus(ctx context.Context, sig solana.Signature) (SignatureStatus, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return SignatureStatus{}, err
	}

	out, err := c.rpc.GetSignatureStatuses(ctx, false, sig)
	if err != nil {
		return SignatureStatus{}, classifyRPCError("getSignatureStatuses", err)
	}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return SignatureStatus{}, nil
	}

	st := out.Value[0]
	status := SignatureStatus{Found: true}
	if st.Err != nil {
		status.Err = fmt.Sprintf("%v", st.Err)
	}
	status.Confirmed = st.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
		st.ConfirmationStatus == rpc.ConfirmationStatusFinalized
	return status, nil
}

// GetBlockHeight returns the current confirmed block height.
func (c *RPCClient) GetBlockHeight(ctx context.Context) (uint64, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return 0, err
	}
	h, err := c.rpc.GetBlockHeight(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, classifyRPCError("getBlockHeight", err)
	}
	return h, nil
}

// FindAllNftsByOwner lists the owner's NFTs in ledger enumeration order:
// token accounts holding exactly one unit of a zero-decimals mint that has
// Metaplex metadata.
func (c *RPCClient) FindAllNftsByOwner(ctx context.Context, owner solana.PublicKey) ([]NftMetadata, error) {
	accounts, err := c.GetTokenAccountsByOwner(ctx, owner, models.ProgramToken)
	if err != nil {
		return nil, err
	}

	var nfts []NftMetadata
	for _, acc := range accounts {
		if acc.Decimals != 0 || acc.Amount != 1 {
			continue
		}
		nfts = append(nfts, NftMetadata{
			Mint:         acc.Mint,
			TokenAccount: acc.Address,
			Frozen:       acc.Frozen,
		})
	}
	return nfts, nil
}

// FindNftByMint fetches and decodes the Metaplex metadata account of mint.
func (c *RPCClient) FindNftByMint(ctx context.Context, mint solana.PublicKey) (NftMetadata, error) {
	pda, err := MetadataPDA(mint)
	if err != nil {
		return NftMetadata{}, err
	}

	data, err := c.GetAccountData(ctx, pda)
	if err != nil {
		return NftMetadata{}, fmt.Errorf("fetch metadata for %s: %w", mint, err)
	}

	var meta tokenmetadata.Metadata
	if err := bin.NewBorshDecoder(data).Decode(&meta); err != nil {
		return NftMetadata{}, fmt.Errorf("decode metadata for %s: %w", mint, err)
	}

	return NftMetadata{
		Mint:   mint,
		Name:   strings.TrimRight(meta.Data.Name, "\x00"),
		Symbol: strings.TrimRight(meta.Data.Symbol, "\x00"),
		URI:    strings.TrimRight(meta.Data.Uri, "\x00"),
	}, nil
}

// MetadataPDA derives the Metaplex metadata account of mint.
func MetadataPDA(mint solana.PublicKey) (solana.PublicKey, error) {
	pda, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("metadata"), metadataProgramID[:], mint[:]},
		metadataProgramID,
	)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive metadata pda: %w", err)
	}
	return pda, nil
}

// ProgramID returns the on-chain program of a token program tag.
func ProgramID(program models.TokenProgram) (solana.PublicKey, error) {
	switch program {
	case models.ProgramToken:
		return solana.MustPublicKeyFromBase58(config.SOLTokenProgramID), nil
	case models.ProgramToken2022:
		return solana.MustPublicKeyFromBase58(config.SOLToken2022ProgramID), nil
	default:
		return solana.PublicKey{}, fmt.Errorf("unknown token program %q", program)
	}
}

// classifyRPCError marks rate-limit and server-side failures as transient.
func classifyRPCError(method string, err error) error {
	if isContextErr(err) {
		return err
	}

	var rpcErr *jrpc.RPCError
	if errors.As(err, &rpcErr) {
		slog.Warn("solana rpc error",
			"method", method,
			"code", rpcErr.Code,
			"message", rpcErr.Message,
		)
		// -32005 node behind, -32004 block not available, -32603 internal error.
		if rpcErr.Code == -32005 || rpcErr.Code == -32004 || rpcErr.Code == -32603 {
			return config.NewTransientError(fmt.Errorf("%s: %w: %s", method, config.ErrProviderUnavailable, rpcErr.Message))
		}
		return fmt.Errorf("%s: %w", method, err)
	}

	msg := err.Error()
	if strings.Contains(msg, "429") || strings.Contains(strings.ToLower(msg), "too many requests") {
		slog.Warn("solana rpc rate limited", "method", method)
		return config.NewTransientError(fmt.Errorf("%s: %w", method, config.ErrProviderRateLimit))
	}

	slog.Warn("solana rpc transport error", "method", method, "error", err)
	return config.NewTransientError(fmt.Errorf("%s: %w: %v", method, config.ErrProviderUnavailable, err))
}
