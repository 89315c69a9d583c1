package query

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"colonyledger/internal/domain"
	"colonyledger/internal/ledger"
	"colonyledger/internal/reconcile"
	"colonyledger/internal/reconcile/reconciletest"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	colony = common.HexToAddress("0x1000000000000000000000000000000000000001")
	token  = common.HexToAddress("0x2000000000000000000000000000000000000002")
	now    = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
)

type chains map[common.Address]*reconciletest.Chain

func (c chains) ColonyClient(_ context.Context, address common.Address) (reconcile.ChainClient, error) {
	chain, ok := c[address]
	if !ok {
		return nil, errors.New("unknown colony")
	}
	return chain, nil
}

type mapCache struct {
	entries map[string][]byte
	sets    int
}

func (m *mapCache) Get(_ context.Context, colony common.Address, view string, dst any) (bool, error) {
	raw, ok := m.entries[colony.Hex()+view]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dst)
}

func (m *mapCache) Set(_ context.Context, colony common.Address, view string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if m.entries == nil {
		m.entries = make(map[string][]byte)
	}
	m.entries[colony.Hex()+view] = raw
	m.sets++
	return nil
}

func newFacade(t *testing.T, session *ledger.Session, chain *reconciletest.Chain, opts ...Option) *Facade {
	t.Helper()
	reconciler := reconcile.New(reconcile.Options{Now: func() time.Time { return now }})
	facade, err := NewFacade(session, chains{colony: chain}, reconciler, opts...)
	require.NoError(t, err)
	return facade
}

func TestNewFacade_RequiresDependencies(t *testing.T) {
	_, err := NewFacade(nil, chains{}, reconcile.New(reconcile.Options{}))
	assert.Error(t, err)
}

func TestFacade_TransfersSortedAndCached(t *testing.T) {
	chain := reconciletest.New(colony)
	chain.FundsClaimed(token, 1, 100, reconciletest.TxHash("a"))
	chain.FundsClaimed(token, 2, 300, reconciletest.TxHash("b"))
	chain.FundsClaimed(token, 3, 200, reconciletest.TxHash("c"))
	cache := &mapCache{}
	facade := newFacade(t, ledger.NewSession(), chain, WithCache(cache))

	transfers, err := facade.Transfers(context.Background(), colony)
	require.NoError(t, err)
	require.Len(t, transfers, 3)
	for i := 1; i < len(transfers); i++ {
		assert.False(t, transfers[i].Date.After(transfers[i-1].Date))
	}
	assert.Equal(t, 1, cache.sets)

	fetches := chain.Calls("FetchLogs:" + reconcile.EventColonyFundsClaimed)
	cached, err := facade.Transfers(context.Background(), colony)
	require.NoError(t, err)
	assert.Equal(t, fetches, chain.Calls("FetchLogs:"+reconcile.EventColonyFundsClaimed))
	require.Len(t, cached, 3)
	assert.Equal(t, transfers[0].Hash, cached[0].Hash)
	assert.Equal(t, 0, transfers[0].Amount.Cmp(cached[0].Amount))
}

func TestFacade_ClaimInNewBlockIsNotDoubleCounted(t *testing.T) {
	depositor := common.HexToAddress("0x4000000000000000000000000000000000000004")
	chain := reconciletest.New(colony)
	chain.TokenTransfer(token, depositor, 10, 100, reconciletest.TxHash("deposit"))
	cache := &mapCache{}
	facade := newFacade(t, ledger.NewSession(), chain, WithCache(cache))
	ctx := context.Background()

	unclaimed, err := facade.UnclaimedTransfers(ctx, colony)
	require.NoError(t, err)
	require.Len(t, unclaimed, 1)
	transfers, err := facade.Transfers(ctx, colony)
	require.NoError(t, err)
	assert.Empty(t, transfers)

	chain.FundsClaimed(token, 10, 105, reconciletest.TxHash("claim"))

	transfers, err = facade.Transfers(ctx, colony)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, reconciletest.TxHash("claim"), transfers[0].Hash)
	unclaimed, err = facade.UnclaimedTransfers(ctx, colony)
	require.NoError(t, err)
	assert.Empty(t, unclaimed)

	assert.Equal(t, 2, cache.sets)
	assert.Contains(t, cache.entries, colony.Hex()+"transfers@100")
	assert.Contains(t, cache.entries, colony.Hex()+"transfers@105")
}

func TestFacade_HeadFailureSkipsCache(t *testing.T) {
	chain := reconciletest.New(colony)
	chain.FundsClaimed(token, 1, 100, reconciletest.TxHash("a"))
	chain.Fail("BlockNumber", errors.New("rpc down"))
	cache := &mapCache{}
	facade := newFacade(t, ledger.NewSession(), chain, WithCache(cache))

	transfers, err := facade.Transfers(context.Background(), colony)
	require.NoError(t, err)
	assert.Len(t, transfers, 1)
	assert.Zero(t, cache.sets)
}

func TestFacade_PartialResultsAreNotCached(t *testing.T) {
	chain := reconciletest.New(colony)
	chain.FundsClaimed(token, 1, 100, reconciletest.TxHash("a"))
	chain.PayoutClaimed(4, token, 1, 101, reconciletest.TxHash("b"))
	chain.Fail("FundingPot", errors.New("pot unavailable"))
	cache := &mapCache{}

	reconciler := reconcile.New(reconcile.Options{Policy: reconcile.CollectAll})
	facade, err := NewFacade(ledger.NewSession(), chains{colony: chain}, reconciler, WithCache(cache))
	require.NoError(t, err)

	transfers, err := facade.Transfers(context.Background(), colony)
	assert.True(t, reconcile.IsPartial(err))
	assert.Len(t, transfers, 1)
	assert.Zero(t, cache.sets)
}

func TestFacade_EventsNewestFirst(t *testing.T) {
	chain := reconciletest.New(colony)
	chain.Event("DomainAdded", map[string]any{}, 100, reconciletest.TxHash("a"))
	chain.Event("TokensMinted", map[string]any{}, 300, reconciletest.TxHash("b"))
	chain.Event("ColonyRoleSet", map[string]any{}, 200, reconciletest.TxHash("c"))
	facade := newFacade(t, ledger.NewSession(), chain)

	events, err := facade.Events(context.Background(), colony)
	require.NoError(t, err)
	var names []string
	for _, event := range events {
		names = append(names, event.Name)
	}
	assert.Equal(t, []string{"TokensMinted", "ColonyRoleSet", "DomainAdded"}, names)
}

func TestFacade_TransactionPrefersChain(t *testing.T) {
	chain := reconciletest.New(colony)
	hash := reconciletest.TxHash("mined")
	chain.Mined(hash, 100, types.ReceiptStatusSuccessful)

	session := ledger.NewSession()
	_, err := session.Dispatch(context.Background(), ledger.Create{CreatePayload: ledger.CreatePayload{ID: "local"}})
	require.NoError(t, err)
	_, err = session.Dispatch(context.Background(), ledger.AddProperties{ID: "local"})
	require.NoError(t, err)
	_, err = session.Dispatch(context.Background(), ledger.Sent{ID: "local", Hash: hash.Hex()})
	require.NoError(t, err)

	view, err := newFacade(t, session, chain).Transaction(context.Background(), hash, colony)
	require.NoError(t, err)
	assert.Equal(t, domain.TxSuccessful, view.Status)
	assert.Nil(t, view.Local)
}

func TestFacade_TransactionFallsBackToLocal(t *testing.T) {
	chain := reconciletest.New(colony)
	hash := reconciletest.TxHash("local-only")
	session := ledger.NewSession(ledger.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	_, err := session.Dispatch(ctx, ledger.Create{CreatePayload: ledger.CreatePayload{
		ID:         "local",
		From:       "0x00000000000000000000000000000000000000bb",
		Identifier: colony.Hex(),
	}})
	require.NoError(t, err)
	_, err = session.Dispatch(ctx, ledger.AddProperties{ID: "local"})
	require.NoError(t, err)
	_, err = session.Dispatch(ctx, ledger.Sent{ID: "local", Hash: hash.Hex()})
	require.NoError(t, err)

	view, err := newFacade(t, session, chain).Transaction(ctx, hash, colony)
	require.NoError(t, err)
	require.NotNil(t, view.Local)
	assert.Equal(t, "local", view.Local.ID)
	assert.Equal(t, domain.TxPending, view.Status)
	assert.Equal(t, now, view.CreatedAt)
	assert.Equal(t, &colony, view.To)
	assert.Equal(t, common.HexToAddress("0xbb"), view.From)

	_, err = newFacade(t, session, chain).Transaction(ctx, reconciletest.TxHash("nowhere"), colony)
	assert.ErrorIs(t, err, reconcile.ErrTransactionNotFound)
}

func TestFacade_UnknownColonyClient(t *testing.T) {
	facade := newFacade(t, ledger.NewSession(), reconciletest.New(colony))
	_, err := facade.UnclaimedTransfers(context.Background(), common.HexToAddress("0x9"))
	assert.Error(t, err)
}

func TestFacade_LocalReads(t *testing.T) {
	session := ledger.NewSession()
	ctx := context.Background()
	_, err := session.Dispatch(ctx, ledger.Create{CreatePayload: ledger.CreatePayload{ID: "a", Identifier: "x"}})
	require.NoError(t, err)
	_, err = session.Dispatch(ctx, ledger.Create{CreatePayload: ledger.CreatePayload{ID: "b", Identifier: "y"}})
	require.NoError(t, err)
	_, err = session.Dispatch(ctx, ledger.GasPricesUpdate{Prices: domain.GasPrices{"network": "3"}})
	require.NoError(t, err)

	facade := newFacade(t, session, reconciletest.New(colony))
	records := facade.LocalTransactions(ledger.ListFilter{Identifier: "y"})
	require.Len(t, records, 1)
	assert.Equal(t, "b", records[0].ID)
	assert.Equal(t, domain.GasPrices{"network": "3"}, facade.GasPrices())
}

func TestFacade_ColonyAddress(t *testing.T) {
	names, err := ParseStaticNames(map[string]string{"MetaColony": colony.Hex()})
	require.NoError(t, err)
	facade := newFacade(t, ledger.NewSession(), reconciletest.New(colony), WithNames(names))

	resolution, err := facade.ColonyAddress(context.Background(), "metacolony")
	require.NoError(t, err)
	assert.Equal(t, Resolution{Name: "metacolony", Address: colony, Found: true}, resolution)

	resolution, err = facade.ColonyAddress(context.Background(), "nobody")
	require.NoError(t, err)
	assert.False(t, resolution.Found)
	assert.Equal(t, common.Address{}, resolution.Address)

	_, err = ParseStaticNames(map[string]string{"bad": "not-an-address"})
	assert.Error(t, err)
}

type brokenResolver struct{}

func (brokenResolver) Resolve(context.Context, string) (common.Address, error) {
	return common.Address{}, errors.New("resolver offline")
}

func TestFacade_ColonyAddressResolverFailure(t *testing.T) {
	facade := newFacade(t, ledger.NewSession(), reconciletest.New(colony), WithNames(brokenResolver{}))
	_, err := facade.ColonyAddress(context.Background(), "anything")
	assert.Error(t, err)
}
