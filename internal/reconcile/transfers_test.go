package reconcile_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"colonyledger/internal/domain"
	"colonyledger/internal/reconcile"
	"colonyledger/internal/reconcile/reconciletest"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	colony    = common.HexToAddress("0x1000000000000000000000000000000000000001")
	tokenT    = common.HexToAddress("0x2000000000000000000000000000000000000002")
	tokenU    = common.HexToAddress("0x3000000000000000000000000000000000000003")
	depositor = common.HexToAddress("0x4000000000000000000000000000000000000004")
	recipient = common.HexToAddress("0x5000000000000000000000000000000000000005")
	now       = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
)

func newReconciler(policy reconcile.JoinPolicy) *reconcile.Reconciler {
	return reconcile.New(reconcile.Options{
		Workers: 4,
		Policy:  policy,
		Now:     func() time.Time { return now },
	})
}

func hashes(transfers []domain.Transfer) []common.Hash {
	out := make([]common.Hash, 0, len(transfers))
	for _, transfer := range transfers {
		out = append(out, transfer.Hash)
	}
	return out
}

func TestUnclaimedTransfers_LaterClaimExcludesTransfer(t *testing.T) {
	chain := reconciletest.New(colony)
	chain.FundsClaimed(tokenT, 10, 105, reconciletest.TxHash("claim"))
	chain.TokenTransfer(tokenT, depositor, 10, 100, reconciletest.TxHash("deposit"))

	transfers, err := newReconciler(reconcile.FailFast).UnclaimedTransfers(context.Background(), chain)
	require.NoError(t, err)
	assert.Empty(t, transfers)
}

func TestUnclaimedTransfers_EarlierClaimKeepsTransfer(t *testing.T) {
	chain := reconciletest.New(colony)
	chain.FundsClaimed(tokenT, 10, 95, reconciletest.TxHash("claim"))
	chain.TokenTransfer(tokenT, depositor, 10, 100, reconciletest.TxHash("deposit"))

	transfers, err := newReconciler(reconcile.FailFast).UnclaimedTransfers(context.Background(), chain)
	require.NoError(t, err)
	require.Len(t, transfers, 1)

	transfer := transfers[0]
	assert.Equal(t, reconciletest.TxHash("deposit"), transfer.Hash)
	assert.Equal(t, &depositor, transfer.From)
	assert.Equal(t, tokenT, transfer.Token)
	assert.Equal(t, colony, transfer.To)
	assert.True(t, transfer.Incoming)
	assert.Equal(t, big.NewInt(10), transfer.Amount)
	assert.Equal(t, reconciletest.BlockTimeOf(100), transfer.Date)
}

func TestUnclaimedTransfers_MatchingRules(t *testing.T) {
	chain := reconciletest.New(colony)
	chain.FundsClaimed(tokenT, 10, 100, reconciletest.TxHash("claim-t"))
	chain.FundsClaimed(tokenU, 10, 200, reconciletest.TxHash("claim-u"))

	chain.TokenTransfer(tokenT, depositor, 1, 100, reconciletest.TxHash("same-block"))
	chain.TokenTransfer(tokenT, depositor, 1, 150, reconciletest.TxHash("other-token-claimed-later"))
	chain.TokenTransfer(tokenU, depositor, 1, 150, reconciletest.TxHash("claimed"))
	chain.TokenTransfer(tokenU, depositor, 1, 0, reconciletest.TxHash("pending"))

	transfers, err := newReconciler(reconcile.FailFast).UnclaimedTransfers(context.Background(), chain)
	require.NoError(t, err)
	assert.ElementsMatch(t, []common.Hash{
		reconciletest.TxHash("same-block"),
		reconciletest.TxHash("other-token-claimed-later"),
		reconciletest.TxHash("pending"),
	}, hashes(transfers))

	for _, transfer := range transfers {
		if transfer.Hash == reconciletest.TxHash("pending") {
			assert.Equal(t, time.Unix(0, 0).UTC(), transfer.Date)
		}
	}
}

func TestUnclaimedTransfers_NativePseudoTransfer(t *testing.T) {
	cases := []struct {
		name                      string
		balance, nonRewards, pool int64
		want                      *big.Int
	}{
		{name: "positive remainder", balance: 100, nonRewards: 30, pool: 20, want: big.NewInt(50)},
		{name: "exactly zero", balance: 50, nonRewards: 30, pool: 20},
		{name: "negative", balance: 10, nonRewards: 30, pool: 20},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			chain := reconciletest.New(colony)
			chain.TokenTransfer(tokenT, depositor, 1, 100, reconciletest.TxHash("deposit"))
			chain.Balance = big.NewInt(tc.balance)
			chain.NonRewards = big.NewInt(tc.nonRewards)
			chain.Rewards = big.NewInt(tc.pool)

			transfers, err := newReconciler(reconcile.FailFast).UnclaimedTransfers(context.Background(), chain)
			require.NoError(t, err)

			var synthetic []domain.Transfer
			for _, transfer := range transfers {
				if transfer.Hash == (common.Hash{}) {
					synthetic = append(synthetic, transfer)
				}
			}
			if tc.want == nil {
				assert.Empty(t, synthetic)
				assert.Len(t, transfers, 1)
				return
			}
			require.Len(t, synthetic, 1)
			require.Len(t, transfers, 2)
			pseudo := transfers[1]
			assert.Equal(t, tc.want, pseudo.Amount)
			assert.Equal(t, common.Address{}, pseudo.Token)
			assert.Equal(t, &common.Address{}, pseudo.From)
			assert.Equal(t, now, pseudo.Date)
			assert.True(t, pseudo.Incoming)
		})
	}
}

func TestUnclaimedTransfers_ClaimFetchFailureIsTotal(t *testing.T) {
	for _, policy := range []reconcile.JoinPolicy{reconcile.FailFast, reconcile.CollectAll} {
		t.Run(policy.String(), func(t *testing.T) {
			chain := reconciletest.New(colony)
			chain.TokenTransfer(tokenT, depositor, 1, 100, reconciletest.TxHash("deposit"))
			boom := errors.New("rpc down")
			chain.Fail("FetchLogs:"+reconcile.EventColonyFundsClaimed, boom)

			transfers, err := newReconciler(policy).UnclaimedTransfers(context.Background(), chain)
			assert.ErrorIs(t, err, boom)
			assert.Nil(t, transfers)
		})
	}
}

func TestUnclaimedTransfers_NativeFailureUnderCollectAll(t *testing.T) {
	chain := reconciletest.New(colony)
	chain.TokenTransfer(tokenT, depositor, 1, 100, reconciletest.TxHash("deposit"))
	boom := errors.New("balance unavailable")
	chain.Fail("BalanceAt", boom)

	transfers, err := newReconciler(reconcile.CollectAll).UnclaimedTransfers(context.Background(), chain)
	require.Error(t, err)
	assert.True(t, reconcile.IsPartial(err))
	assert.ErrorIs(t, err, boom)
	assert.Len(t, transfers, 1)

	transfers, err = newReconciler(reconcile.FailFast).UnclaimedTransfers(context.Background(), chain)
	assert.ErrorIs(t, err, boom)
	assert.False(t, reconcile.IsPartial(err))
	assert.Nil(t, transfers)
}

func TestFundsClaimedTransfers_ZeroRemainderExcluded(t *testing.T) {
	chain := reconciletest.New(colony)
	chain.FundsClaimed(tokenT, 0, 100, reconciletest.TxHash("zero"))

	transfers, err := newReconciler(reconcile.FailFast).FundsClaimedTransfers(context.Background(), chain)
	require.NoError(t, err)
	assert.Empty(t, transfers)
	assert.Zero(t, chain.Calls("BlockTime"))
	assert.Zero(t, chain.Calls("TransactionByHash"))

	chain.FundsClaimed(tokenT, 7, 101, reconciletest.TxHash("seven"))
	transfers, err = newReconciler(reconcile.FailFast).FundsClaimedTransfers(context.Background(), chain)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, big.NewInt(7), transfers[0].Amount)
	assert.Equal(t, &chain.Sender, transfers[0].From)
	assert.True(t, transfers[0].Incoming)
	assert.Equal(t, colony, transfers[0].To)
}

func TestPayoutClaimedTransfers_OnlyPaymentPots(t *testing.T) {
	chain := reconciletest.New(colony)
	chain.SetPot(5, reconcile.PotPayment, 9)
	chain.SetPayment(9, recipient)
	chain.SetPot(6, reconcile.PotTask, 1)
	chain.SetPot(7, reconcile.PotExpenditure, 2)

	chain.PayoutClaimed(5, tokenT, 30, 120, reconciletest.TxHash("payment"))
	chain.PayoutClaimed(6, tokenT, 40, 121, reconciletest.TxHash("task"))
	chain.PayoutClaimed(7, tokenT, 50, 122, reconciletest.TxHash("expenditure"))

	transfers, err := newReconciler(reconcile.FailFast).PayoutClaimedTransfers(context.Background(), chain)
	require.NoError(t, err)
	require.Len(t, transfers, 1)

	transfer := transfers[0]
	assert.Equal(t, recipient, transfer.To)
	assert.Nil(t, transfer.From)
	assert.False(t, transfer.Incoming)
	assert.Equal(t, big.NewInt(30), transfer.Amount)
	assert.Equal(t, tokenT, transfer.Token)
	assert.Equal(t, 1, chain.Calls("Payment"))
}

func TestTransfers_SortedNewestFirst(t *testing.T) {
	chain := reconciletest.New(colony)
	chain.SetPot(5, reconcile.PotPayment, 9)
	chain.SetPayment(9, recipient)

	chain.FundsClaimed(tokenT, 1, 110, reconciletest.TxHash("a"))
	chain.FundsClaimed(tokenT, 0, 300, reconciletest.TxHash("zero"))
	chain.PayoutClaimed(5, tokenT, 2, 140, reconciletest.TxHash("b"))
	chain.FundsClaimed(tokenU, 3, 140, reconciletest.TxHash("c"))
	chain.PayoutClaimed(5, tokenU, 4, 90, reconciletest.TxHash("d"))
	chain.FundsClaimed(tokenU, 5, 0, common.Hash{})

	transfers, err := newReconciler(reconcile.FailFast).Transfers(context.Background(), chain)
	require.NoError(t, err)
	require.Len(t, transfers, 5)

	for i := 1; i < len(transfers); i++ {
		assert.False(t, transfers[i].Date.After(transfers[i-1].Date), "transfer %d is newer than %d", i, i-1)
	}
	// Same block: the later log sorts first.
	assert.Equal(t, reconciletest.TxHash("c"), transfers[0].Hash)
	assert.Equal(t, reconciletest.TxHash("b"), transfers[1].Hash)
	assert.Equal(t, common.Hash{}, transfers[4].Hash)
	assert.Nil(t, transfers[4].From)
}

func TestTransfers_JoinPolicy(t *testing.T) {
	setup := func() *reconciletest.Chain {
		chain := reconciletest.New(colony)
		chain.FundsClaimed(tokenT, 1, 110, reconciletest.TxHash("a"))
		chain.FundsClaimed(tokenT, 2, 111, reconciletest.TxHash("b"))
		chain.PayoutClaimed(5, tokenT, 2, 140, reconciletest.TxHash("payout"))
		chain.Fail("FundingPot", errors.New("pot lookup failed"))
		return chain
	}

	transfers, err := newReconciler(reconcile.FailFast).Transfers(context.Background(), setup())
	require.Error(t, err)
	assert.False(t, reconcile.IsPartial(err))
	assert.Nil(t, transfers)

	transfers, err = newReconciler(reconcile.CollectAll).Transfers(context.Background(), setup())
	require.Error(t, err)
	var partial *reconcile.PartialError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, 1, partial.Failed)
	assert.Equal(t, []common.Hash{reconciletest.TxHash("b"), reconciletest.TxHash("a")}, hashes(transfers))
}

type withoutFilters struct {
	*reconciletest.Chain
}

func (withoutFilters) EventFilters() map[string]ethereum.FilterQuery {
	return nil
}

func TestTransfers_MissingFilter(t *testing.T) {
	client := withoutFilters{reconciletest.New(colony)}

	_, err := newReconciler(reconcile.FailFast).FundsClaimedTransfers(context.Background(), client)
	assert.ErrorIs(t, err, reconcile.ErrFilterUnavailable)
	_, err = newReconciler(reconcile.FailFast).PayoutClaimedTransfers(context.Background(), client)
	assert.ErrorIs(t, err, reconcile.ErrFilterUnavailable)
}
