package reconcile

import (
	"context"
	"sort"
	"strings"

	"colonyledger/internal/domain"

	"github.com/ethereum/go-ethereum/core/types"
)

// Events fetches every plain colony event filter and parses the logs into network events. Filter
// keys containing "(" are argument-specific variants and are skipped. Logs outside the colony
// interface are dropped. The result is unordered.
func (r *Reconciler) Events(ctx context.Context, client ChainClient) (events []domain.NetworkEvent, err error) {
	ctx, span := startSpan(ctx, "reconcile.events", client.Address())
	defer func() { endSpan(span, err) }()

	var names []string
	for name := range client.EventFilters() {
		if strings.Contains(name, "(") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	batches, fetchErr := fanOut(ctx, r.opts.Policy, r.opts.Workers, names, func(ctx context.Context, name string) ([]types.Log, bool, error) {
		logs, err := r.fetchNamed(ctx, client, name)
		return logs, err == nil, err
	})
	if fetchErr != nil && r.opts.Policy == FailFast {
		return nil, fetchErr
	}
	var logs []types.Log
	for _, batch := range batches {
		logs = append(logs, batch...)
	}

	events, parseErr := fanOut(ctx, r.opts.Policy, r.opts.Workers, logs, func(ctx context.Context, log types.Log) (domain.NetworkEvent, bool, error) {
		return r.networkEvent(ctx, client, log)
	})
	if parseErr != nil && r.opts.Policy == FailFast {
		return nil, parseErr
	}
	return events, collect(fetchErr, parseErr)
}

func (r *Reconciler) networkEvent(ctx context.Context, client ChainClient, log types.Log) (domain.NetworkEvent, bool, error) {
	parsed, ok, err := client.ParseLog(log)
	if err != nil {
		return domain.NetworkEvent{}, false, err
	}
	if !ok {
		return domain.NetworkEvent{}, false, nil
	}
	date, err := r.blockTime(ctx, client, log.BlockHash)
	if err != nil {
		return domain.NetworkEvent{}, false, err
	}
	from, err := r.sender(ctx, client, log.TxHash)
	if err != nil {
		return domain.NetworkEvent{}, false, err
	}
	return domain.NetworkEvent{
		Name:        parsed.Name,
		Values:      normalizeValues(parsed.Values),
		CreatedAt:   date,
		FromAddress: from,
		Hash:        log.TxHash,
		ToAddress:   client.Address(),
		DomainID:    domainID(parsed.Values),
		UserAddress: userAddress(parsed.Values),
		BlockNumber: log.BlockNumber,
		LogIndex:    log.Index,
	}, true, nil
}
