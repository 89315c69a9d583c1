package reconcile

import (
	"context"
	"fmt"
	"math/big"

	"colonyledger/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"
)

// Transfers is every claimed transfer of the colony, newest first.
func (r *Reconciler) Transfers(ctx context.Context, client ChainClient) (transfers []domain.Transfer, err error) {
	ctx, span := startSpan(ctx, "reconcile.transfers", client.Address())
	defer func() { endSpan(span, err) }()

	transfers, err = gather(ctx, r.opts.Policy,
		func(ctx context.Context) ([]domain.Transfer, error) { return r.FundsClaimedTransfers(ctx, client) },
		func(ctx context.Context) ([]domain.Transfer, error) { return r.PayoutClaimedTransfers(ctx, client) },
	)
	if err != nil && r.opts.Policy == FailFast {
		return nil, err
	}
	SortTransfers(transfers)
	return transfers, err
}

type fundsClaim struct {
	log       types.Log
	token     common.Address
	remainder *big.Int
}

// FundsClaimedTransfers turns each ColonyFundsClaimed event into an incoming transfer. Claims with
// a zero remainder carry no funds and are left out.
func (r *Reconciler) FundsClaimedTransfers(ctx context.Context, client ChainClient) ([]domain.Transfer, error) {
	logs, err := r.fetchNamed(ctx, client, EventColonyFundsClaimed)
	if err != nil {
		return nil, err
	}
	claims := make([]fundsClaim, 0, len(logs))
	for _, log := range logs {
		claim, err := parseFundsClaim(client, log)
		if err != nil {
			return nil, err
		}
		if claim.remainder.Sign() <= 0 {
			continue
		}
		claims = append(claims, claim)
	}

	colony := client.Address()
	return fanOut(ctx, r.opts.Policy, r.opts.Workers, claims, func(ctx context.Context, claim fundsClaim) (domain.Transfer, bool, error) {
		date, err := r.blockTime(ctx, client, claim.log.BlockHash)
		if err != nil {
			return domain.Transfer{}, false, err
		}
		from, err := r.sender(ctx, client, claim.log.TxHash)
		if err != nil {
			return domain.Transfer{}, false, err
		}
		return domain.Transfer{
			Amount:        claim.remainder,
			ColonyAddress: colony,
			Date:          date,
			From:          from,
			Hash:          claim.log.TxHash,
			Incoming:      true,
			To:            colony,
			Token:         claim.token,
			BlockNumber:   claim.log.BlockNumber,
			LogIndex:      claim.log.Index,
		}, true, nil
	})
}

func parseFundsClaim(client ChainClient, log types.Log) (fundsClaim, error) {
	parsed, ok, err := client.ParseLog(log)
	if err != nil {
		return fundsClaim{}, err
	}
	if !ok || parsed.Name != EventColonyFundsClaimed {
		return fundsClaim{}, fmt.Errorf("%w: %s in tx %s", ErrUnparsableLog, EventColonyFundsClaimed, log.TxHash.Hex())
	}
	token, err := addressValue(parsed.Values, "token")
	if err != nil {
		return fundsClaim{}, err
	}
	remainder, err := bigValue(parsed.Values, "payoutRemainder")
	if err != nil {
		return fundsClaim{}, err
	}
	return fundsClaim{log: log, token: token, remainder: remainder}, nil
}

// PayoutClaimedTransfers turns PayoutClaimed events from payment pots into outgoing transfers to
// the payment recipient. Payouts from any other kind of pot are left out.
func (r *Reconciler) PayoutClaimedTransfers(ctx context.Context, client ChainClient) ([]domain.Transfer, error) {
	logs, err := r.fetchNamed(ctx, client, EventPayoutClaimed)
	if err != nil {
		return nil, err
	}
	colony := client.Address()
	return fanOut(ctx, r.opts.Policy, r.opts.Workers, logs, func(ctx context.Context, log types.Log) (domain.Transfer, bool, error) {
		parsed, ok, err := client.ParseLog(log)
		if err != nil {
			return domain.Transfer{}, false, err
		}
		if !ok || parsed.Name != EventPayoutClaimed {
			return domain.Transfer{}, false, fmt.Errorf("%w: %s in tx %s", ErrUnparsableLog, EventPayoutClaimed, log.TxHash.Hex())
		}
		potID, err := bigValue(parsed.Values, "fundingPotId")
		if err != nil {
			return domain.Transfer{}, false, err
		}
		token, err := addressValue(parsed.Values, "token")
		if err != nil {
			return domain.Transfer{}, false, err
		}
		amount, err := bigValue(parsed.Values, "amount")
		if err != nil {
			return domain.Transfer{}, false, err
		}

		pot, err := client.FundingPot(ctx, potID)
		if err != nil {
			return domain.Transfer{}, false, fmt.Errorf("funding pot %s: %w", potID, err)
		}
		if pot.AssociatedType != PotPayment {
			return domain.Transfer{}, false, nil
		}
		payment, err := client.Payment(ctx, pot.AssociatedTypeID)
		if err != nil {
			return domain.Transfer{}, false, fmt.Errorf("payment %s: %w", pot.AssociatedTypeID, err)
		}
		date, err := r.blockTime(ctx, client, log.BlockHash)
		if err != nil {
			return domain.Transfer{}, false, err
		}
		return domain.Transfer{
			Amount:        amount,
			ColonyAddress: colony,
			Date:          date,
			From:          nil,
			Hash:          log.TxHash,
			Incoming:      false,
			To:            payment.Recipient,
			Token:         token,
			BlockNumber:   log.BlockNumber,
			LogIndex:      log.Index,
		}, true, nil
	})
}

type claimFact struct {
	token       common.Address
	blockNumber uint64
}

// claimedLater reports whether a claim for the transfer's token happened in a strictly later
// block. Pending transfers have no block and are never claimed.
func claimedLater(facts []claimFact, token common.Address, blockNumber uint64) bool {
	if blockNumber == 0 {
		return false
	}
	for _, fact := range facts {
		if fact.token == token && fact.blockNumber > blockNumber {
			return true
		}
	}
	return false
}

// UnclaimedTransfers lists token transfers to the colony that no later claim has absorbed, plus
// at most one native-currency pseudo transfer, appended last, for the balance held outside every
// pot. The claim and transfer log streams load completely or not at all under either policy.
func (r *Reconciler) UnclaimedTransfers(ctx context.Context, client ChainClient) (transfers []domain.Transfer, err error) {
	ctx, span := startSpan(ctx, "reconcile.unclaimed_transfers", client.Address())
	defer func() { endSpan(span, err) }()

	colony := client.Address()
	var claimLogs, transferLogs []types.Log
	inputs, inputsCtx := errgroup.WithContext(ctx)
	inputs.Go(func() error {
		logs, err := r.fetchNamed(inputsCtx, client, EventColonyFundsClaimed)
		claimLogs = logs
		return err
	})
	inputs.Go(func() error {
		logs, err := r.fetch(inputsCtx, client, "token Transfer", client.TokenTransferFilter(colony))
		transferLogs = logs
		return err
	})
	if err := inputs.Wait(); err != nil {
		return nil, err
	}

	facts := make([]claimFact, 0, len(claimLogs))
	for _, log := range claimLogs {
		claim, err := parseFundsClaim(client, log)
		if err != nil {
			return nil, err
		}
		facts = append(facts, claimFact{token: claim.token, blockNumber: log.BlockNumber})
	}

	var pending []types.Log
	for _, log := range transferLogs {
		if claimedLater(facts, log.Address, log.BlockNumber) {
			continue
		}
		pending = append(pending, log)
	}

	var (
		raw               []domain.Transfer
		native            domain.Transfer
		hasNative         bool
		rawErr, nativeErr error
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		raw, rawErr = fanOut(groupCtx, r.opts.Policy, r.opts.Workers, pending, func(ctx context.Context, log types.Log) (domain.Transfer, bool, error) {
			return r.unclaimedTransfer(ctx, client, log)
		})
		return r.failFast(rawErr)
	})
	group.Go(func() error {
		native, hasNative, nativeErr = r.nativeTransfer(groupCtx, client)
		return r.failFast(nativeErr)
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}

	SortTransfers(raw)
	if hasNative {
		raw = append(raw, native)
	}
	return raw, collect(rawErr, nativeErr)
}

func (r *Reconciler) unclaimedTransfer(ctx context.Context, client ChainClient, log types.Log) (domain.Transfer, bool, error) {
	transfer, err := client.ParseTokenTransfer(log)
	if err != nil {
		return domain.Transfer{}, false, fmt.Errorf("%w: token Transfer in tx %s: %v", ErrUnparsableLog, log.TxHash.Hex(), err)
	}
	date, err := r.blockTime(ctx, client, log.BlockHash)
	if err != nil {
		return domain.Transfer{}, false, err
	}
	from := transfer.From
	colony := client.Address()
	return domain.Transfer{
		Amount:        transfer.Amount,
		ColonyAddress: colony,
		Date:          date,
		From:          &from,
		Hash:          log.TxHash,
		Incoming:      true,
		To:            colony,
		Token:         log.Address,
		BlockNumber:   log.BlockNumber,
		LogIndex:      log.Index,
	}, true, nil
}

// nativeTransfer computes balance - nonRewardPotsTotal - rewardsPotBalance for the native
// currency and reports a pseudo transfer when it is strictly positive.
func (r *Reconciler) nativeTransfer(ctx context.Context, client ChainClient) (domain.Transfer, bool, error) {
	colony := client.Address()
	native := common.Address{}
	var balance, nonRewards, rewards *big.Int

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() (err error) {
		if balance, err = client.BalanceAt(groupCtx, colony); err != nil {
			return fmt.Errorf("balance: %w", err)
		}
		return nil
	})
	group.Go(func() (err error) {
		if nonRewards, err = client.NonRewardPotsTotal(groupCtx, native); err != nil {
			return fmt.Errorf("non-reward pots total: %w", err)
		}
		return nil
	})
	group.Go(func() (err error) {
		if rewards, err = client.FundingPotBalance(groupCtx, big.NewInt(0), native); err != nil {
			return fmt.Errorf("rewards pot balance: %w", err)
		}
		return nil
	})
	if err := group.Wait(); err != nil {
		return domain.Transfer{}, false, err
	}

	unclaimed := new(big.Int).Sub(balance, nonRewards)
	unclaimed.Sub(unclaimed, rewards)
	if unclaimed.Sign() <= 0 {
		return domain.Transfer{}, false, nil
	}
	from := native
	return domain.Transfer{
		Amount:        unclaimed,
		ColonyAddress: colony,
		Date:          r.opts.Now().UTC(),
		From:          &from,
		Hash:          common.Hash{},
		Incoming:      true,
		To:            colony,
		Token:         native,
	}, true, nil
}
