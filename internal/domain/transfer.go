package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Transfer is a settled token movement derived from chain logs.
type Transfer struct {
	Amount        *big.Int        `json:"amount"`
	ColonyAddress common.Address  `json:"colony_address"`
	Date          time.Time       `json:"date"`
	From          *common.Address `json:"from"`
	Hash          common.Hash     `json:"hash"`
	Incoming      bool            `json:"incoming"`
	To            common.Address  `json:"to"`
	Token         common.Address  `json:"token"`
	BlockNumber   uint64          `json:"block_number"`
	LogIndex      uint            `json:"log_index"`
}

// NetworkEvent is a parsed colony event.
type NetworkEvent struct {
	Name        string          `json:"name"`
	Values      map[string]any  `json:"values"`
	CreatedAt   time.Time       `json:"created_at"`
	FromAddress *common.Address `json:"from_address"`
	Hash        common.Hash     `json:"hash"`
	ToAddress   common.Address  `json:"to_address"`
	DomainID    *string         `json:"domain_id"`
	UserAddress *common.Address `json:"user_address"`
	BlockNumber uint64          `json:"block_number"`
	LogIndex    uint            `json:"log_index"`
}

// TxStatus mirrors the receipt status with an extra value for transactions still being mined.
type TxStatus int

const (
	TxFailed TxStatus = iota
	TxSuccessful
	TxPending
)

// TransactionEvent is one named event emitted by a mined transaction.
type TransactionEvent struct {
	From      common.Address `json:"from"`
	Name      string         `json:"name"`
	Values    map[string]any `json:"values"`
	Topic     common.Hash    `json:"topic"`
	CreatedAt time.Time      `json:"created_at"`
}

// TransactionView is the unified answer for a single transaction lookup.
type TransactionView struct {
	Hash      common.Hash        `json:"hash"`
	From      common.Address     `json:"from"`
	To        *common.Address    `json:"to"`
	Status    TxStatus           `json:"status"`
	Events    []TransactionEvent `json:"events"`
	CreatedAt time.Time          `json:"created_at"`
	// Local is set when the answer came from the local ledger rather than the chain.
	Local *TransactionRecord `json:"local,omitempty"`
}
