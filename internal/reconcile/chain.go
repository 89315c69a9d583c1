package reconcile

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const (
	EventColonyFundsClaimed = "ColonyFundsClaimed"
	EventPayoutClaimed      = "PayoutClaimed"
)

var (
	ErrFilterUnavailable   = errors.New("event filter unavailable")
	ErrUnparsableLog       = errors.New("log does not match the expected event")
	ErrMissingValue        = errors.New("event value missing or mistyped")
	ErrTransactionNotFound = errors.New("transaction not found on chain")
)

// PotAssociatedType is what a colony funding pot is attached to.
type PotAssociatedType uint8

const (
	PotUnassigned PotAssociatedType = iota
	PotDomain
	PotTask
	PotPayment
	PotExpenditure
)

// ParsedLog is a log decoded against the colony contract interface. Values hold go-ethereum's
// decoded types (*big.Int, common.Address, ...).
type ParsedLog struct {
	Name      string
	Signature string
	Topic     common.Hash
	Values    map[string]any
}

// TokenTransfer is a decoded ERC20 Transfer log.
type TokenTransfer struct {
	From   common.Address
	To     common.Address
	Amount *big.Int
}

type Tx struct {
	Hash common.Hash
	From common.Address
	To   *common.Address
}

type Receipt struct {
	TxHash    common.Hash
	From      common.Address
	To        *common.Address
	Status    uint64
	BlockHash common.Hash
	Logs      []types.Log
}

type FundingPot struct {
	AssociatedType   PotAssociatedType
	AssociatedTypeID *big.Int
}

type Payment struct {
	Recipient common.Address
}

// ChainClient is the read capability one colony needs. Implementations own retry and timeout
// policy; every call may fail independently.
type ChainClient interface {
	Address() common.Address
	// BlockNumber is the current chain head.
	BlockNumber(ctx context.Context) (uint64, error)
	// EventFilters lists colony event filters by name. Keys containing "(" are argument-specific
	// variants of another filter.
	EventFilters() map[string]ethereum.FilterQuery
	// TokenTransferFilter matches Transfer logs to recipient on every token contract.
	TokenTransferFilter(recipient common.Address) ethereum.FilterQuery
	FetchLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	// ParseLog reports ok=false for logs outside the colony interface.
	ParseLog(log types.Log) (parsed ParsedLog, ok bool, err error)
	ParseTokenTransfer(log types.Log) (TokenTransfer, error)
	BlockTime(ctx context.Context, blockHash common.Hash) (time.Time, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (Tx, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (Receipt, bool, error)
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
	FundingPot(ctx context.Context, potID *big.Int) (FundingPot, error)
	Payment(ctx context.Context, paymentID *big.Int) (Payment, error)
	NonRewardPotsTotal(ctx context.Context, token common.Address) (*big.Int, error)
	FundingPotBalance(ctx context.Context, potID *big.Int, token common.Address) (*big.Int, error)
}

// ClientFactory binds a ChainClient to one colony address.
type ClientFactory interface {
	ColonyClient(ctx context.Context, colony common.Address) (ChainClient, error)
}
