package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// AssetClass identifies one consolidation class.
type AssetClass string

const (
	ClassToken2022  AssetClass = "token2022"
	ClassToken      AssetClass = "token"
	ClassNFT        AssetClass = "nft"
	ClassCNFT       AssetClass = "cnft"
	ClassCloseEmpty AssetClass = "close_empty"
	ClassCoin       AssetClass = "coin"
)

// ExecutionOrder is the fixed order in which classes are submitted.
var ExecutionOrder = []AssetClass{
	ClassToken2022,
	ClassToken,
	ClassNFT,
	ClassCNFT,
	ClassCloseEmpty,
	ClassCoin,
}

// TokenProgram tags a fungible holding with the program that owns its account.
type TokenProgram string

const (
	ProgramToken     TokenProgram = "token"
	ProgramToken2022 TokenProgram = "token2022"
)

// Class returns the asset class that transfers holdings of this program.
func (p TokenProgram) Class() AssetClass {
	if p == ProgramToken2022 {
		return ClassToken2022
	}
	return ClassToken
}

// CoinBalance is the native balance of an account.
type CoinBalance struct {
	Lamports uint64          `json:"lamports"`
	SOL      decimal.Decimal `json:"sol"`
}

// FungibleHolding is one token account position under either token program.
type FungibleHolding struct {
	Program       TokenProgram    `json:"program"`
	Mint          string          `json:"mint"`
	Amount        decimal.Decimal `json:"amount"`
	RawAmount     uint64          `json:"rawAmount"`
	Decimals      uint8           `json:"decimals"`
	SourceAccount string          `json:"sourceAccount"`
}

// NftHolding is a standard Metaplex NFT held by the owner.
type NftHolding struct {
	Mint         string `json:"mint"`
	Name         string `json:"name"`
	TokenAccount string `json:"tokenAccount"`
	Programmable bool   `json:"programmable"`
}

// CompressedAssetHolding is a Bubblegum asset. Its proof is resolved lazily
// at submission time, never in discovery snapshots.
type CompressedAssetHolding struct {
	AssetID string `json:"assetId"`
}

// ProofBundle is everything needed to build a compressed transfer.
type ProofBundle struct {
	Root        string   `json:"root"`
	Tree        string   `json:"tree"`
	Proof       []string `json:"proof"`
	NodeIndex   uint64   `json:"nodeIndex"`
	LeafID      uint64   `json:"leafId"`
	DataHash    string   `json:"dataHash"`
	CreatorHash string   `json:"creatorHash"`
	Owner       string   `json:"owner"`
	Delegate    string   `json:"delegate"`
}

// Holdings is an immutable discovery snapshot for one owner.
type Holdings struct {
	Owner      string                   `json:"owner"`
	Coin       CoinBalance              `json:"coin"`
	Token      []FungibleHolding        `json:"token"`
	Token2022  []FungibleHolding        `json:"token2022"`
	NFTs       []NftHolding             `json:"nfts"`
	Compressed []CompressedAssetHolding `json:"compressed"`
	Warnings   []string                 `json:"warnings,omitempty"`
}

// Fungibles returns the holdings of the given program.
func (h *Holdings) Fungibles(p TokenProgram) []FungibleHolding {
	if p == ProgramToken2022 {
		return h.Token2022
	}
	return h.Token
}

// MintSet is a set of mints, used for the destination holding map.
type MintSet map[string]struct{}

// Has reports whether mint is in the set.
func (s MintSet) Has(mint string) bool {
	_, ok := s[mint]
	return ok
}

// FeeRule is the Token-2022 transfer fee configuration for a mint.
type FeeRule struct {
	Mint           string `json:"mint"`
	FeeBasisPoints uint32 `json:"feeBasisPoints"`
	MaximumFee     uint64 `json:"maximumFee"`
}

// FeeSchedule maps mints to fee rules. Missing mints resolve to zero fees.
type FeeSchedule map[string]FeeRule

// Rule returns the rule for mint or the zero default.
func (s FeeSchedule) Rule(mint string) FeeRule {
	if r, ok := s[mint]; ok {
		return r
	}
	return FeeRule{Mint: mint}
}

// OperationKind is the elementary transfer operation type.
type OperationKind string

const (
	OpCreateDestinationAccount OperationKind = "create_destination_account"
	OpMoveFungible             OperationKind = "move_fungible"
	OpMoveFungibleWithFee      OperationKind = "move_fungible_with_fee"
	OpMoveNft                  OperationKind = "move_nft"
	OpMoveCompressedAsset      OperationKind = "move_compressed_asset"
	OpCloseEmptyAccount        OperationKind = "close_empty_account"
	OpMoveCoin                 OperationKind = "move_coin"
)

// TransferOperation is one elementary operation. Only the fields relevant to
// Kind are populated.
type TransferOperation struct {
	Kind          OperationKind `json:"kind"`
	Program       TokenProgram  `json:"program,omitempty"`
	Source        string        `json:"source"`
	Destination   string        `json:"destination"`
	Mint          string        `json:"mint,omitempty"`
	AssetID       string        `json:"assetId,omitempty"`
	SourceAccount string        `json:"sourceAccount,omitempty"`
	Amount        uint64        `json:"amount"`
	Decimals      uint8         `json:"decimals,omitempty"`
	Fee           uint64        `json:"fee,omitempty"`
	Programmable  bool          `json:"programmable,omitempty"`
}

// Batch is an ordered group of operations submitted as one transaction.
type Batch struct {
	Class      AssetClass          `json:"class"`
	Index      int                 `json:"index"`
	Operations []TransferOperation `json:"operations"`
}

// ConsolidationPlan holds batches partitioned by class. A class that could
// not be planned has an entry in Errors and no batches.
type ConsolidationPlan struct {
	Batches map[AssetClass][]Batch `json:"batches"`
	Errors  map[AssetClass]error   `json:"-"`
}

// NewConsolidationPlan returns an empty plan.
func NewConsolidationPlan() *ConsolidationPlan {
	return &ConsolidationPlan{
		Batches: make(map[AssetClass][]Batch),
		Errors:  make(map[AssetClass]error),
	}
}

// Add records the result of planning class.
func (p *ConsolidationPlan) Add(class AssetClass, batches []Batch, err error) {
	if err != nil {
		p.Errors[class] = fmt.Errorf("plan %s: %w", class, err)
		return
	}
	p.Batches[class] = batches
}

// ResultStatus is the outcome of one batch or class.
type ResultStatus string

const (
	StatusSubmitted ResultStatus = "submitted"
	StatusFailed    ResultStatus = "failed"
	StatusSkipped   ResultStatus = "skipped"
)

// Skip reasons.
const (
	SkipDisabled  = "disabled"
	SkipEmpty     = "empty"
	SkipAborted   = "aborted"
	SkipCancelled = "cancelled"
)

// ExecutionResult is the per-batch outcome.
type ExecutionResult struct {
	Class     AssetClass   `json:"class"`
	Batch     int          `json:"batch"`
	Status    ResultStatus `json:"status"`
	Signature string       `json:"signature,omitempty"`
	Cause     string       `json:"cause,omitempty"`
	ErrorCode string       `json:"errorCode,omitempty"`
	Reason    string       `json:"reason,omitempty"`
}

// Submitted builds a successful result.
func Submitted(class AssetClass, batch int, signature string) ExecutionResult {
	return ExecutionResult{Class: class, Batch: batch, Status: StatusSubmitted, Signature: signature}
}

// Failed builds a failed result.
func Failed(class AssetClass, batch int, cause, code string) ExecutionResult {
	return ExecutionResult{Class: class, Batch: batch, Status: StatusFailed, Cause: cause, ErrorCode: code}
}

// Skipped builds a skipped result.
func Skipped(class AssetClass, batch int, reason string) ExecutionResult {
	return ExecutionResult{Class: class, Batch: batch, Status: StatusSkipped, Reason: reason}
}

// ClassOutcome aggregates a class's batch results.
type ClassOutcome struct {
	Class     AssetClass        `json:"class"`
	Status    ResultStatus      `json:"status"`
	Reason    string            `json:"reason,omitempty"`
	Submitted int               `json:"submitted"`
	Failed    int               `json:"failed"`
	Results   []ExecutionResult `json:"results,omitempty"`
}

// RunSummary is the final result of one consolidation run.
type RunSummary struct {
	RunID       string         `json:"runId"`
	Owner       string         `json:"owner"`
	Destination string         `json:"destination"`
	StartedAt   string         `json:"startedAt"`
	FinishedAt  string         `json:"finishedAt"`
	Cancelled   bool           `json:"cancelled,omitempty"`
	Classes     []ClassOutcome `json:"classes"`
	Warnings    []string       `json:"warnings,omitempty"`
}

// Outcome returns the outcome for class, if present.
func (s *RunSummary) Outcome(class AssetClass) (ClassOutcome, bool) {
	for _, c := range s.Classes {
		if c.Class == class {
			return c, true
		}
	}
	return ClassOutcome{}, false
}

// ClassToggles selects which classes a run processes.
type ClassToggles struct {
	Token      bool `json:"token"`
	Token2022  bool `json:"token2022"`
	NFT        bool `json:"nft"`
	CNFT       bool `json:"cnft"`
	CloseEmpty bool `json:"closeEmpty"`
	Coin       bool `json:"coin"`
}

// AllClasses enables every class.
func AllClasses() ClassToggles {
	return ClassToggles{Token: true, Token2022: true, NFT: true, CNFT: true, CloseEmpty: true, Coin: true}
}

// Enabled reports whether class is toggled on.
func (t ClassToggles) Enabled(class AssetClass) bool {
	switch class {
	case ClassToken:
		return t.Token
	case ClassToken2022:
		return t.Token2022
	case ClassNFT:
		return t.NFT
	case ClassCNFT:
		return t.CNFT
	case ClassCloseEmpty:
		return t.CloseEmpty
	case ClassCoin:
		return t.Coin
	default:
		return false
	}
}

// RunState is the lifecycle state of the runner.
type RunState string

const (
	StateIdle        RunState = "idle"
	StateDiscovering RunState = "discovering"
	StatePlanning    RunState = "planning"
	StateExecuting   RunState = "executing"
	StateDone        RunState = "done"
)

// EventType identifies a run event.
type EventType string

const (
	EventPhase         EventType = "phase"
	EventBatch         EventType = "batch"
	EventClassComplete EventType = "class_complete"
	EventRunComplete   EventType = "run_complete"
	EventRunError      EventType = "run_error"
)

// Event is a progress notification for the presentation layer.
type Event struct {
	Type      EventType   `json:"type"`
	RunID     string      `json:"runId"`
	State     RunState    `json:"state,omitempty"`
	Class     AssetClass  `json:"class,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// RunStatus is the runner snapshot served by the API.
type RunStatus struct {
	State       RunState    `json:"state"`
	RunID       string      `json:"runId,omitempty"`
	Owner       string      `json:"owner,omitempty"`
	Destination string      `json:"destination,omitempty"`
	LastSummary *RunSummary `json:"lastSummary,omitempty"`
}

// APIResponse is the standard API response wrapper.
type APIResponse struct {
	Data interface{} `json:"data,omitempty"`
	Meta *APIMeta    `json:"meta,omitempty"`
}

// APIMeta contains execution metadata.
type APIMeta struct {
	ExecutionTime int64 `json:"executionTime,omitempty"`
}

// APIError is the standard error response.
type APIError struct {
	Error APIErrorDetail `json:"error"`
}

// APIErrorDetail contains error code and message.
type APIErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
