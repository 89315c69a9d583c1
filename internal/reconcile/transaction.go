package reconcile

import (
	"context"
	"fmt"

	"colonyledger/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Transaction looks hash up on chain. A mined transaction carries its block time and the colony
// events of its receipt. One still in the mempool is reported pending, stamped with the current
// time since it has no block yet. ErrTransactionNotFound means the chain has neither.
func (r *Reconciler) Transaction(ctx context.Context, client ChainClient, hash common.Hash) (view domain.TransactionView, err error) {
	ctx, span := startSpan(ctx, "reconcile.transaction", client.Address())
	defer func() { endSpan(span, err) }()

	receipt, found, err := client.TransactionReceipt(ctx, hash)
	if err != nil {
		return domain.TransactionView{}, fmt.Errorf("receipt %s: %w", hash.Hex(), err)
	}
	if found {
		return r.minedTransaction(ctx, client, receipt)
	}

	tx, found, err := client.TransactionByHash(ctx, hash)
	if err != nil {
		return domain.TransactionView{}, fmt.Errorf("transaction %s: %w", hash.Hex(), err)
	}
	if !found {
		return domain.TransactionView{}, fmt.Errorf("%w: %s", ErrTransactionNotFound, hash.Hex())
	}
	return domain.TransactionView{
		Hash:      tx.Hash,
		From:      tx.From,
		To:        tx.To,
		Status:    domain.TxPending,
		CreatedAt: r.opts.Now().UTC(),
	}, nil
}

func (r *Reconciler) minedTransaction(ctx context.Context, client ChainClient, receipt Receipt) (domain.TransactionView, error) {
	createdAt, err := r.blockTime(ctx, client, receipt.BlockHash)
	if err != nil {
		return domain.TransactionView{}, err
	}

	events := make([]domain.TransactionEvent, 0, len(receipt.Logs))
	for _, log := range receipt.Logs {
		parsed, ok, err := client.ParseLog(log)
		if err != nil {
			return domain.TransactionView{}, fmt.Errorf("parse log %d: %w", log.Index, err)
		}
		if !ok {
			continue
		}
		events = append(events, domain.TransactionEvent{
			From:      receipt.From,
			Name:      parsed.Name,
			Values:    normalizeValues(parsed.Values),
			Topic:     parsed.Topic,
			CreatedAt: createdAt,
		})
	}

	status := domain.TxFailed
	if receipt.Status == types.ReceiptStatusSuccessful {
		status = domain.TxSuccessful
	}
	return domain.TransactionView{
		Hash:      receipt.TxHash,
		From:      receipt.From,
		To:        receipt.To,
		Status:    status,
		Events:    events,
		CreatedAt: createdAt,
	}, nil
}
