package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"colonyledger/internal/domain"
	"colonyledger/internal/ledger"
	"colonyledger/internal/reconcile"

	"github.com/ethereum/go-ethereum/common"
)

const (
	ViewTransfers          = "transfers"
	ViewUnclaimedTransfers = "unclaimed-transfers"
	ViewEvents             = "events"
)

// Ledger is the read side of the local transaction session.
type Ledger interface {
	List(filter ledger.ListFilter) []domain.TransactionRecord
	FindByHash(hash string) (domain.TransactionRecord, bool)
	GasPrices() domain.GasPrices
}

// Cache stores complete settled views per colony. A miss is (false, nil).
type Cache interface {
	Get(ctx context.Context, colony common.Address, view string, dst any) (bool, error)
	Set(ctx context.Context, colony common.Address, view string, value any) error
}

type Option func(*Facade)

func WithCache(cache Cache) Option {
	return func(f *Facade) { f.cache = cache }
}

func WithNames(names NameResolver) Option {
	return func(f *Facade) { f.names = names }
}

// Facade answers every read without the caller knowing whether a transaction is still local or
// already settled on chain.
type Facade struct {
	ledger     Ledger
	clients    reconcile.ClientFactory
	reconciler *reconcile.Reconciler
	cache      Cache
	names      NameResolver
}

func NewFacade(ledger Ledger, clients reconcile.ClientFactory, reconciler *reconcile.Reconciler, opts ...Option) (*Facade, error) {
	if ledger == nil || clients == nil || reconciler == nil {
		return nil, errors.New("query facade dependencies must not be nil")
	}
	f := &Facade{ledger: ledger, clients: clients, reconciler: reconciler, names: StaticNames{}}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Transfers is the colony's claimed transfers, newest first.
func (f *Facade) Transfers(ctx context.Context, colony common.Address) ([]domain.Transfer, error) {
	return cachedView(ctx, f, colony, ViewTransfers, f.reconciler.Transfers)
}

// UnclaimedTransfers is always read from the chain; it moves with every claim and with the live
// native balance.
func (f *Facade) UnclaimedTransfers(ctx context.Context, colony common.Address) ([]domain.Transfer, error) {
	client, err := f.colonyClient(ctx, colony)
	if err != nil {
		return nil, err
	}
	return loadView(ctx, client, f.reconciler.UnclaimedTransfers)
}

// Events is every colony event, newest first.
func (f *Facade) Events(ctx context.Context, colony common.Address) ([]domain.NetworkEvent, error) {
	return cachedView(ctx, f, colony, ViewEvents, func(ctx context.Context, client reconcile.ChainClient) ([]domain.NetworkEvent, error) {
		events, err := f.reconciler.Events(ctx, client)
		reconcile.SortEvents(events)
		return events, err
	})
}

// Transaction prefers the chain's answer. When the chain knows nothing about hash, a local record
// carrying it is returned instead.
func (f *Facade) Transaction(ctx context.Context, hash common.Hash, colony common.Address) (domain.TransactionView, error) {
	client, err := f.colonyClient(ctx, colony)
	if err != nil {
		return domain.TransactionView{}, err
	}
	view, err := f.reconciler.Transaction(ctx, client, hash)
	if err == nil {
		return view, nil
	}
	if !errors.Is(err, reconcile.ErrTransactionNotFound) {
		return domain.TransactionView{}, err
	}
	record, ok := f.ledger.FindByHash(hash.Hex())
	if !ok {
		return domain.TransactionView{}, err
	}
	return localView(hash, record), nil
}

func localView(hash common.Hash, record domain.TransactionRecord) domain.TransactionView {
	view := domain.TransactionView{
		Hash:      hash,
		CreatedAt: record.CreatedAt,
		Local:     &record,
	}
	if common.IsHexAddress(record.From) {
		view.From = common.HexToAddress(record.From)
	}
	if common.IsHexAddress(record.Identifier) {
		to := common.HexToAddress(record.Identifier)
		view.To = &to
	}
	switch record.Status {
	case domain.StatusSucceeded:
		view.Status = domain.TxSuccessful
	case domain.StatusFailed:
		view.Status = domain.TxFailed
	default:
		view.Status = domain.TxPending
	}
	return view
}

func (f *Facade) LocalTransactions(filter ledger.ListFilter) []domain.TransactionRecord {
	return f.ledger.List(filter)
}

func (f *Facade) GasPrices() domain.GasPrices {
	return f.ledger.GasPrices()
}

// ColonyAddress resolves name. An unknown name is a Resolution with Found false, not an error.
func (f *Facade) ColonyAddress(ctx context.Context, name string) (Resolution, error) {
	name = strings.TrimSpace(name)
	address, err := f.names.Resolve(ctx, name)
	if errors.Is(err, ErrNameNotFound) {
		return Resolution{Name: name}, nil
	}
	if err != nil {
		return Resolution{}, fmt.Errorf("resolve %s: %w", name, err)
	}
	return Resolution{Name: name, Address: address, Found: true}, nil
}

func (f *Facade) colonyClient(ctx context.Context, colony common.Address) (reconcile.ChainClient, error) {
	client, err := f.clients.ColonyClient(ctx, colony)
	if err != nil {
		return nil, fmt.Errorf("colony client %s: %w", colony.Hex(), err)
	}
	return client, nil
}

// cachedView serves view from the cache entry written at the current chain head, so any new block
// forces a fresh read. Only complete results are cached; cache or head failures degrade to a chain
// read.
func cachedView[T any](ctx context.Context, f *Facade, colony common.Address, view string, load func(context.Context, reconcile.ChainClient) ([]T, error)) ([]T, error) {
	client, err := f.colonyClient(ctx, colony)
	if err != nil {
		return nil, err
	}
	if f.cache == nil {
		return loadView(ctx, client, load)
	}

	head, err := client.BlockNumber(ctx)
	if err != nil {
		slog.Warn("chain head unavailable, skipping view cache", "view", view, "colony", colony.Hex(), "err", err)
		return loadView(ctx, client, load)
	}
	key := headKey(view, head)
	var cached []T
	hit, err := f.cache.Get(ctx, colony, key, &cached)
	if err != nil {
		slog.Warn("settled view cache read failed", "view", key, "colony", colony.Hex(), "err", err)
	} else if hit {
		return cached, nil
	}

	result, err := loadView(ctx, client, load)
	if err != nil {
		return result, err
	}
	if err := f.cache.Set(ctx, colony, key, result); err != nil {
		slog.Warn("settled view cache write failed", "view", key, "colony", colony.Hex(), "err", err)
	}
	return result, nil
}

// headKey names a view as computed at one chain head.
func headKey(view string, head uint64) string {
	return fmt.Sprintf("%s@%d", view, head)
}

func loadView[T any](ctx context.Context, client reconcile.ChainClient, load func(context.Context, reconcile.ChainClient) ([]T, error)) ([]T, error) {
	result, err := load(ctx, client)
	if err == nil && result == nil {
		result = []T{}
	}
	return result, err
}
