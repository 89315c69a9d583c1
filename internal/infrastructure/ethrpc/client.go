package ethrpc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"colonyledger/internal/reconcile"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/golang/groupcache/lru"
)

// Backend is the subset of ethclient.Client the adapter uses.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	HeaderByHash(ctx context.Context, hash common.Hash) (*types.Header, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

type Config struct {
	URL string
	// BlockTimeCacheSize bounds the block hash to timestamp memo shared by all colonies.
	BlockTimeCacheSize int
}

// Client is a reconcile.ClientFactory over one JSON-RPC endpoint.
type Client struct {
	backend Backend
	closer  func()

	mu         sync.Mutex
	blockTimes *lru.Cache
}

// Dial connects to cfg.URL.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("rpc url is required")
	}
	eth, err := ethclient.DialContext(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	client, err := NewClient(eth, cfg)
	if err != nil {
		eth.Close()
		return nil, err
	}
	client.closer = eth.Close
	return client, nil
}

func NewClient(backend Backend, cfg Config) (*Client, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	size := cfg.BlockTimeCacheSize
	if size <= 0 {
		size = 4096
	}
	return &Client{backend: backend, blockTimes: lru.New(size)}, nil
}

func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

func (c *Client) ColonyClient(_ context.Context, colony common.Address) (reconcile.ChainClient, error) {
	if colony == (common.Address{}) {
		return nil, errors.New("colony address is required")
	}
	return &ColonyClient{client: c, colony: colony}, nil
}

func (c *Client) blockTime(ctx context.Context, hash common.Hash) (time.Time, error) {
	c.mu.Lock()
	cached, ok := c.blockTimes.Get(hash)
	c.mu.Unlock()
	if ok {
		return cached.(time.Time), nil
	}

	header, err := c.backend.HeaderByHash(ctx, hash)
	if err != nil {
		return time.Time{}, fmt.Errorf("block %s: %w", hash.Hex(), err)
	}
	blockTime := time.Unix(int64(header.Time), 0).UTC()

	c.mu.Lock()
	c.blockTimes.Add(hash, blockTime)
	c.mu.Unlock()
	return blockTime, nil
}

// ColonyClient implements reconcile.ChainClient for a single colony contract.
type ColonyClient struct {
	client *Client
	colony common.Address
}

var _ reconcile.ChainClient = (*ColonyClient)(nil)

func (c *ColonyClient) Address() common.Address {
	return c.colony
}

// EventFilters exposes every colony event twice: by name and by full signature.
func (c *ColonyClient) EventFilters() map[string]ethereum.FilterQuery {
	filters := make(map[string]ethereum.FilterQuery, 2*len(colonyABI.Events))
	for name, event := range colonyABI.Events {
		query := ethereum.FilterQuery{
			Addresses: []common.Address{c.colony},
			Topics:    [][]common.Hash{{event.ID}},
		}
		filters[name] = query
		filters[event.Sig] = query
	}
	return filters
}

func (c *ColonyClient) TokenTransferFilter(recipient common.Address) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		Topics: [][]common.Hash{
			{erc20ABI.Events["Transfer"].ID},
			nil,
			{common.BytesToHash(recipient.Bytes())},
		},
	}
}

func (c *ColonyClient) FetchLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	logs, err := c.client.backend.FilterLogs(ctx, query)
	if err != nil {
		return nil, err
	}
	out := logs[:0]
	for _, log := range logs {
		if !log.Removed {
			out = append(out, log)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].Index < out[j].Index
	})
	return out, nil
}

func (c *ColonyClient) ParseLog(log types.Log) (reconcile.ParsedLog, bool, error) {
	if len(log.Topics) == 0 {
		return reconcile.ParsedLog{}, false, nil
	}
	event, err := colonyABI.EventByID(log.Topics[0])
	if err != nil {
		return reconcile.ParsedLog{}, false, nil
	}
	values, err := unpackLog(colonyABI, event, log)
	if err != nil {
		return reconcile.ParsedLog{}, false, err
	}
	return reconcile.ParsedLog{
		Name:      event.Name,
		Signature: event.Sig,
		Topic:     event.ID,
		Values:    values,
	}, true, nil
}

func (c *ColonyClient) ParseTokenTransfer(log types.Log) (reconcile.TokenTransfer, error) {
	event := erc20ABI.Events["Transfer"]
	if len(log.Topics) != 3 || log.Topics[0] != event.ID {
		return reconcile.TokenTransfer{}, reconcile.ErrUnparsableLog
	}
	values, err := unpackLog(erc20ABI, &event, log)
	if err != nil {
		return reconcile.TokenTransfer{}, err
	}
	amount, ok := values["wad"].(*big.Int)
	if !ok {
		return reconcile.TokenTransfer{}, reconcile.ErrMissingValue
	}
	from, _ := values["src"].(common.Address)
	to, _ := values["dst"].(common.Address)
	return reconcile.TokenTransfer{From: from, To: to, Amount: amount}, nil
}

func unpackLog(contract abi.ABI, event *abi.Event, log types.Log) (map[string]any, error) {
	values := make(map[string]any, len(event.Inputs))
	if len(log.Data) > 0 {
		if err := contract.UnpackIntoMap(values, event.Name, log.Data); err != nil {
			return nil, fmt.Errorf("%w: %s data: %v", reconcile.ErrUnparsableLog, event.Name, err)
		}
	}
	var indexed abi.Arguments
	for _, input := range event.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}
	if len(log.Topics)-1 != len(indexed) {
		return nil, fmt.Errorf("%w: %s has %d topics, want %d", reconcile.ErrUnparsableLog, event.Name, len(log.Topics)-1, len(indexed))
	}
	if err := abi.ParseTopicsIntoMap(values, indexed, log.Topics[1:]); err != nil {
		return nil, fmt.Errorf("%w: %s topics: %v", reconcile.ErrUnparsableLog, event.Name, err)
	}
	return values, nil
}

func (c *ColonyClient) BlockNumber(ctx context.Context) (uint64, error) {
	head, err := c.client.backend.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("block number: %w", err)
	}
	return head, nil
}

func (c *ColonyClient) BlockTime(ctx context.Context, blockHash common.Hash) (time.Time, error) {
	return c.client.blockTime(ctx, blockHash)
}

func (c *ColonyClient) TransactionByHash(ctx context.Context, hash common.Hash) (reconcile.Tx, bool, error) {
	tx, _, err := c.client.backend.TransactionByHash(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return reconcile.Tx{}, false, nil
	}
	if err != nil {
		return reconcile.Tx{}, false, err
	}
	from, err := sender(tx)
	if err != nil {
		return reconcile.Tx{}, false, err
	}
	return reconcile.Tx{Hash: tx.Hash(), From: from, To: tx.To()}, true, nil
}

func (c *ColonyClient) TransactionReceipt(ctx context.Context, hash common.Hash) (reconcile.Receipt, bool, error) {
	receipt, err := c.client.backend.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return reconcile.Receipt{}, false, nil
	}
	if err != nil {
		return reconcile.Receipt{}, false, err
	}
	tx, found, err := c.TransactionByHash(ctx, hash)
	if err != nil {
		return reconcile.Receipt{}, false, err
	}
	if !found {
		return reconcile.Receipt{}, false, fmt.Errorf("receipt %s without transaction", hash.Hex())
	}
	logs := make([]types.Log, 0, len(receipt.Logs))
	for _, log := range receipt.Logs {
		if log != nil {
			logs = append(logs, *log)
		}
	}
	return reconcile.Receipt{
		TxHash:    receipt.TxHash,
		From:      tx.From,
		To:        tx.To,
		Status:    receipt.Status,
		BlockHash: receipt.BlockHash,
		Logs:      logs,
	}, true, nil
}

func sender(tx *types.Transaction) (common.Address, error) {
	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover sender of %s: %w", tx.Hash().Hex(), err)
	}
	return from, nil
}

func (c *ColonyClient) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	return c.client.backend.BalanceAt(ctx, account, nil)
}

func (c *ColonyClient) FundingPot(ctx context.Context, potID *big.Int) (reconcile.FundingPot, error) {
	out, err := c.call(ctx, "getFundingPot", potID)
	if err != nil {
		return reconcile.FundingPot{}, err
	}
	kind, ok := out[0].(uint8)
	if !ok {
		return reconcile.FundingPot{}, fmt.Errorf("getFundingPot: %w", reconcile.ErrMissingValue)
	}
	associatedID, ok := out[1].(*big.Int)
	if !ok {
		return reconcile.FundingPot{}, fmt.Errorf("getFundingPot: %w", reconcile.ErrMissingValue)
	}
	return reconcile.FundingPot{AssociatedType: reconcile.PotAssociatedType(kind), AssociatedTypeID: associatedID}, nil
}

func (c *ColonyClient) Payment(ctx context.Context, paymentID *big.Int) (reconcile.Payment, error) {
	out, err := c.call(ctx, "getPayment", paymentID)
	if err != nil {
		return reconcile.Payment{}, err
	}
	payment := *abi.ConvertType(out[0], new(paymentResult)).(*paymentResult)
	return reconcile.Payment{Recipient: payment.Recipient}, nil
}

func (c *ColonyClient) NonRewardPotsTotal(ctx context.Context, token common.Address) (*big.Int, error) {
	return c.callBig(ctx, "getNonRewardPotsTotal", token)
}

func (c *ColonyClient) FundingPotBalance(ctx context.Context, potID *big.Int, token common.Address) (*big.Int, error) {
	return c.callBig(ctx, "getFundingPotBalance", potID, token)
}

func (c *ColonyClient) callBig(ctx context.Context, method string, args ...any) (*big.Int, error) {
	out, err := c.call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	value, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: %w", method, reconcile.ErrMissingValue)
	}
	return value, nil
}

func (c *ColonyClient) call(ctx context.Context, method string, args ...any) ([]any, error) {
	input, err := colonyABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	colony := c.colony
	raw, err := c.client.backend.CallContract(ctx, ethereum.CallMsg{To: &colony, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	out, err := colonyABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", method, reconcile.ErrMissingValue)
	}
	return out, nil
}
