package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"colonyledger/internal/domain"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Options struct {
	// Workers bounds concurrent RPC calls per fan-out. Zero means unbounded.
	Workers int
	Policy  JoinPolicy
	// Now stamps pending transactions and the native-currency pseudo transfer.
	Now func() time.Time
}

// Reconciler derives settled transfers and events from a colony's chain logs. It holds no state
// between calls.
type Reconciler struct {
	opts Options
}

func New(opts Options) *Reconciler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Reconciler{opts: opts}
}

func (r *Reconciler) Policy() JoinPolicy {
	return r.opts.Policy
}

// failFast passes err through only when the policy stops on the first failure.
func (r *Reconciler) failFast(err error) error {
	if r.opts.Policy == FailFast {
		return err
	}
	return nil
}

func (r *Reconciler) blockTime(ctx context.Context, client ChainClient, blockHash common.Hash) (time.Time, error) {
	if blockHash == (common.Hash{}) {
		return time.Unix(0, 0).UTC(), nil
	}
	at, err := client.BlockTime(ctx, blockHash)
	if err != nil {
		return time.Time{}, fmt.Errorf("block time %s: %w", blockHash.Hex(), err)
	}
	return at, nil
}

// sender resolves who sent txHash. Logs without a transaction have no sender.
func (r *Reconciler) sender(ctx context.Context, client ChainClient, txHash common.Hash) (*common.Address, error) {
	if txHash == (common.Hash{}) {
		return nil, nil
	}
	tx, found, err := client.TransactionByHash(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %w", txHash.Hex(), err)
	}
	if !found {
		return nil, nil
	}
	from := tx.From
	return &from, nil
}

func (r *Reconciler) fetchNamed(ctx context.Context, client ChainClient, name string) ([]types.Log, error) {
	query, ok := client.EventFilters()[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFilterUnavailable, name)
	}
	return r.fetch(ctx, client, name, query)
}

func (r *Reconciler) fetch(ctx context.Context, client ChainClient, name string, query ethereum.FilterQuery) ([]types.Log, error) {
	logs, err := client.FetchLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("fetch %s logs: %w", name, err)
	}
	return logs, nil
}

func startSpan(ctx context.Context, name string, colony common.Address) (context.Context, trace.Span) {
	return otel.Tracer("colonyledger/reconcile").Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("colony.address", colony.Hex())),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// SortTransfers orders newest first. Equal dates fall back to block number, then log index, both
// descending, then hash.
func SortTransfers(transfers []domain.Transfer) {
	sort.SliceStable(transfers, func(a, b int) bool {
		x, y := transfers[a], transfers[b]
		return newer(x.Date, y.Date, x.BlockNumber, y.BlockNumber, x.LogIndex, y.LogIndex, x.Hash, y.Hash)
	})
}

// SortEvents uses the same order as SortTransfers.
func SortEvents(events []domain.NetworkEvent) {
	sort.SliceStable(events, func(a, b int) bool {
		x, y := events[a], events[b]
		return newer(x.CreatedAt, y.CreatedAt, x.BlockNumber, y.BlockNumber, x.LogIndex, y.LogIndex, x.Hash, y.Hash)
	})
}

func newer(dateA, dateB time.Time, blockA, blockB uint64, indexA, indexB uint, hashA, hashB common.Hash) bool {
	if !dateA.Equal(dateB) {
		return dateA.After(dateB)
	}
	if blockA != blockB {
		return blockA > blockB
	}
	if indexA != indexB {
		return indexA > indexB
	}
	return hashA.Cmp(hashB) < 0
}
