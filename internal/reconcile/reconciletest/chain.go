// Package reconciletest provides an in-memory reconcile.ChainClient for tests.
package reconciletest

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"colonyledger/internal/reconcile"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var _ reconcile.ChainClient = (*Chain)(nil)

// BaseTime is the timestamp of block 0; block n is n minutes later.
var BaseTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

type logKey struct {
	tx    common.Hash
	index uint
}

// Chain is a scripted chain for one colony. Build it with the event helpers, then hand it to the
// reconciler. Safe for concurrent use.
type Chain struct {
	Colony common.Address
	// Sender is reported as the sender of every transaction created by the helpers.
	Sender common.Address

	Balance    *big.Int
	NonRewards *big.Int
	Rewards    *big.Int

	mu         sync.Mutex
	head       uint64
	nextIndex  uint
	filters    map[string]common.Hash
	logs       map[common.Hash][]types.Log
	parsed     map[logKey]reconcile.ParsedLog
	transfers  map[logKey]reconcile.TokenTransfer
	blockTimes map[common.Hash]time.Time
	txs        map[common.Hash]reconcile.Tx
	receipts   map[common.Hash]reconcile.Receipt
	pots       map[string]reconcile.FundingPot
	payments   map[string]reconcile.Payment
	failures   map[string]error
	calls      map[string]int
}

func New(colony common.Address) *Chain {
	c := &Chain{
		Colony:     colony,
		Sender:     common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		Balance:    big.NewInt(0),
		NonRewards: big.NewInt(0),
		Rewards:    big.NewInt(0),
		filters:    make(map[string]common.Hash),
		logs:       make(map[common.Hash][]types.Log),
		parsed:     make(map[logKey]reconcile.ParsedLog),
		transfers:  make(map[logKey]reconcile.TokenTransfer),
		blockTimes: make(map[common.Hash]time.Time),
		txs:        make(map[common.Hash]reconcile.Tx),
		receipts:   make(map[common.Hash]reconcile.Receipt),
		pots:       make(map[string]reconcile.FundingPot),
		payments:   make(map[string]reconcile.Payment),
		failures:   make(map[string]error),
		calls:      make(map[string]int),
	}
	c.Filter(reconcile.EventColonyFundsClaimed)
	c.Filter(reconcile.EventPayoutClaimed)
	return c
}

// BlockHash is the hash the fake assigns to block n. Block 0 has no hash.
func BlockHash(n uint64) common.Hash {
	if n == 0 {
		return common.Hash{}
	}
	return crypto.Keccak256Hash([]byte(fmt.Sprintf("block-%d", n)))
}

// TxHash derives a transaction hash from a label.
func TxHash(label string) common.Hash {
	return crypto.Keccak256Hash([]byte("tx-" + label))
}

func BlockTimeOf(n uint64) time.Time {
	return BaseTime.Add(time.Duration(n) * time.Minute)
}

// Filter registers an event filter under name and returns its topic.
func (c *Chain) Filter(name string) common.Hash {
	c.mu.Lock()
	defer c.mu.Unlock()
	topic := crypto.Keccak256Hash([]byte(name))
	c.filters[name] = topic
	return topic
}

// Variant registers key as an alias of an existing filter, the way argument-specific filters are
// exposed.
func (c *Chain) Variant(key, of string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filters[key] = c.filters[of]
}

// Fail makes every later call to method return err. FetchLogs failures are keyed
// "FetchLogs:<filter name>".
func (c *Chain) Fail(method string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[method] = err
}

// SetHead moves the chain head. Every helper that adds a log or receipt also advances it to that
// block.
func (c *Chain) SetHead(block uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head = block
}

func (c *Chain) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

// Event adds a colony log for name at block carrying values.
func (c *Chain) Event(name string, values map[string]any, block uint64, tx common.Hash) types.Log {
	topic := c.Filter(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	log := c.newLog(c.Colony, topic, block, tx)
	c.logs[topic] = append(c.logs[topic], log)
	c.parsed[logKey{log.TxHash, log.Index}] = reconcile.ParsedLog{
		Name:      name,
		Signature: name,
		Topic:     topic,
		Values:    values,
	}
	return log
}

// Unparsable adds a log under the filter name that the colony interface does not recognise.
func (c *Chain) Unparsable(name string, block uint64, tx common.Hash) types.Log {
	topic := c.Filter(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	log := c.newLog(c.Colony, topic, block, tx)
	c.logs[topic] = append(c.logs[topic], log)
	return log
}

func (c *Chain) FundsClaimed(token common.Address, remainder int64, block uint64, tx common.Hash) types.Log {
	return c.Event(reconcile.EventColonyFundsClaimed, map[string]any{
		"agent":           c.Sender,
		"token":           token,
		"fee":             big.NewInt(0),
		"payoutRemainder": big.NewInt(remainder),
	}, block, tx)
}

func (c *Chain) PayoutClaimed(potID int64, token common.Address, amount int64, block uint64, tx common.Hash) types.Log {
	return c.Event(reconcile.EventPayoutClaimed, map[string]any{
		"agent":        c.Sender,
		"fundingPotId": big.NewInt(potID),
		"token":        token,
		"amount":       big.NewInt(amount),
	}, block, tx)
}

// TokenTransfer adds a raw Transfer log of token from sender to the colony.
func (c *Chain) TokenTransfer(token, from common.Address, amount int64, block uint64, tx common.Hash) types.Log {
	c.mu.Lock()
	defer c.mu.Unlock()
	log := c.newLog(token, transferTopic, block, tx)
	c.logs[transferTopic] = append(c.logs[transferTopic], log)
	c.transfers[logKey{log.TxHash, log.Index}] = reconcile.TokenTransfer{From: from, To: c.Colony, Amount: big.NewInt(amount)}
	return log
}

// SetPot sets the funding pot returned for id.
func (c *Chain) SetPot(id int64, kind reconcile.PotAssociatedType, associatedID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pots[big.NewInt(id).String()] = reconcile.FundingPot{AssociatedType: kind, AssociatedTypeID: big.NewInt(associatedID)}
}

func (c *Chain) SetPayment(id int64, recipient common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payments[big.NewInt(id).String()] = reconcile.Payment{Recipient: recipient}
}

// PendingTx registers a transaction without a receipt.
func (c *Chain) PendingTx(hash common.Hash, to *common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txs[hash] = reconcile.Tx{Hash: hash, From: c.Sender, To: to}
}

// Mined registers a receipt at block for hash containing logs.
func (c *Chain) Mined(hash common.Hash, block uint64, status uint64, logs ...types.Log) {
	c.mu.Lock()
	defer c.mu.Unlock()
	blockHash := BlockHash(block)
	if block > 0 {
		c.blockTimes[blockHash] = BlockTimeOf(block)
	}
	c.head = max(c.head, block)
	to := c.Colony
	c.txs[hash] = reconcile.Tx{Hash: hash, From: c.Sender, To: &to}
	c.receipts[hash] = reconcile.Receipt{
		TxHash:    hash,
		From:      c.Sender,
		To:        &to,
		Status:    status,
		BlockHash: blockHash,
		Logs:      logs,
	}
}

func (c *Chain) newLog(address common.Address, topic common.Hash, block uint64, tx common.Hash) types.Log {
	log := types.Log{
		Address:     address,
		Topics:      []common.Hash{topic},
		BlockNumber: block,
		BlockHash:   BlockHash(block),
		TxHash:      tx,
		Index:       c.nextIndex,
	}
	c.nextIndex++
	c.head = max(c.head, block)
	if block > 0 {
		c.blockTimes[log.BlockHash] = BlockTimeOf(block)
	}
	if tx != (common.Hash{}) {
		if _, ok := c.txs[tx]; !ok {
			c.txs[tx] = reconcile.Tx{Hash: tx, From: c.Sender}
		}
	}
	return log
}

func (c *Chain) enter(method string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[method]++
	return c.failures[method]
}

func (c *Chain) Address() common.Address {
	return c.Colony
}

func (c *Chain) BlockNumber(ctx context.Context) (uint64, error) {
	if err := c.enter("BlockNumber"); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, nil
}

func (c *Chain) EventFilters() map[string]ethereum.FilterQuery {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]ethereum.FilterQuery, len(c.filters))
	for name, topic := range c.filters {
		out[name] = ethereum.FilterQuery{
			Addresses: []common.Address{c.Colony},
			Topics:    [][]common.Hash{{topic}},
		}
	}
	return out
}

func (c *Chain) TokenTransferFilter(recipient common.Address) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		Topics: [][]common.Hash{{transferTopic}, nil, {common.BytesToHash(recipient.Bytes())}},
	}
}

func (c *Chain) FetchLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	if len(query.Topics) == 0 || len(query.Topics[0]) == 0 {
		return nil, fmt.Errorf("query without event topic")
	}
	topic := query.Topics[0][0]
	name := "Transfer"
	c.mu.Lock()
	for key, t := range c.filters {
		if t == topic && !strings.Contains(key, "(") {
			name = key
			break
		}
	}
	c.mu.Unlock()

	if err := c.enter("FetchLogs:" + name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.Log(nil), c.logs[topic]...), nil
}

func (c *Chain) ParseLog(log types.Log) (reconcile.ParsedLog, bool, error) {
	if err := c.enter("ParseLog"); err != nil {
		return reconcile.ParsedLog{}, false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	parsed, ok := c.parsed[logKey{log.TxHash, log.Index}]
	return parsed, ok, nil
}

func (c *Chain) ParseTokenTransfer(log types.Log) (reconcile.TokenTransfer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	transfer, ok := c.transfers[logKey{log.TxHash, log.Index}]
	if !ok {
		return reconcile.TokenTransfer{}, fmt.Errorf("not a token transfer log")
	}
	return transfer, nil
}

func (c *Chain) BlockTime(ctx context.Context, blockHash common.Hash) (time.Time, error) {
	if err := c.enter("BlockTime"); err != nil {
		return time.Time{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.blockTimes[blockHash]
	if !ok {
		return time.Time{}, fmt.Errorf("unknown block %s", blockHash.Hex())
	}
	return at, nil
}

func (c *Chain) TransactionByHash(ctx context.Context, hash common.Hash) (reconcile.Tx, bool, error) {
	if err := c.enter("TransactionByHash"); err != nil {
		return reconcile.Tx{}, false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	tx, ok := c.txs[hash]
	return tx, ok, nil
}

func (c *Chain) TransactionReceipt(ctx context.Context, hash common.Hash) (reconcile.Receipt, bool, error) {
	if err := c.enter("TransactionReceipt"); err != nil {
		return reconcile.Receipt{}, false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	receipt, ok := c.receipts[hash]
	return receipt, ok, nil
}

func (c *Chain) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	if err := c.enter("BalanceAt"); err != nil {
		return nil, err
	}
	return new(big.Int).Set(c.Balance), nil
}

func (c *Chain) FundingPot(ctx context.Context, potID *big.Int) (reconcile.FundingPot, error) {
	if err := c.enter("FundingPot"); err != nil {
		return reconcile.FundingPot{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	pot, ok := c.pots[potID.String()]
	if !ok {
		return reconcile.FundingPot{}, fmt.Errorf("unknown funding pot %s", potID)
	}
	return pot, nil
}

func (c *Chain) Payment(ctx context.Context, paymentID *big.Int) (reconcile.Payment, error) {
	if err := c.enter("Payment"); err != nil {
		return reconcile.Payment{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	payment, ok := c.payments[paymentID.String()]
	if !ok {
		return reconcile.Payment{}, fmt.Errorf("unknown payment %s", paymentID)
	}
	return payment, nil
}

func (c *Chain) NonRewardPotsTotal(ctx context.Context, token common.Address) (*big.Int, error) {
	if err := c.enter("NonRewardPotsTotal"); err != nil {
		return nil, err
	}
	return new(big.Int).Set(c.NonRewards), nil
}

func (c *Chain) FundingPotBalance(ctx context.Context, potID *big.Int, token common.Address) (*big.Int, error) {
	if err := c.enter("FundingPotBalance"); err != nil {
		return nil, err
	}
	return new(big.Int).Set(c.Rewards), nil
}
