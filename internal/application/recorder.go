package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"colonyledger/internal/domain"
	"colonyledger/internal/infrastructure/telemetry"
	"colonyledger/internal/ledger"
	"colonyledger/internal/streaming"

	"github.com/ethereum/go-ethereum/common"
)

type RecordRepository interface {
	SaveRecords(ctx context.Context, records []domain.TransactionRecord) error
	DeleteRecords(ctx context.Context, ids []string) error
	SaveGasPrices(ctx context.Context, prices domain.GasPrices) error
}

type RecordLoader interface {
	LoadRecords(ctx context.Context) ([]domain.TransactionRecord, error)
	LoadGasPrices(ctx context.Context) (domain.GasPrices, error)
}

type RecordPublisher interface {
	PublishRecordEvent(ctx context.Context, event streaming.RecordEvent) error
}

type RecorderMetrics interface {
	IncPersistErr()
	IncPublishErr()
}

// Recorder mirrors every ledger effect into the record repository and, when configured, onto the
// record event stream. It runs as a session observer, so it sees effects in apply order.
type Recorder struct {
	repo      RecordRepository
	publisher RecordPublisher
	metrics   RecorderMetrics
	now       func() time.Time
}

// NewRecorder requires repo; publisher and metrics may be nil.
func NewRecorder(repo RecordRepository, publisher RecordPublisher, metrics RecorderMetrics) (*Recorder, error) {
	if repo == nil {
		return nil, errors.New("record repository is required")
	}
	return &Recorder{repo: repo, publisher: publisher, metrics: metrics, now: time.Now}, nil
}

func (r *Recorder) Observe(ctx context.Context, effect ledger.Effect) {
	if err := r.persist(ctx, effect); err != nil {
		slog.Error("persist ledger effect", "type", effect.Command, "err", err)
		if r.metrics != nil {
			r.metrics.IncPersistErr()
		}
	}
	if r.publisher == nil {
		return
	}
	event := streaming.NewRecordEvent(effect, telemetry.TraceIDFromContext(ctx), r.now())
	if err := r.publisher.PublishRecordEvent(ctx, event); err != nil {
		slog.Error("publish ledger effect", "type", effect.Command, "err", err)
		if r.metrics != nil {
			r.metrics.IncPublishErr()
		}
	}
}

func (r *Recorder) persist(ctx context.Context, effect ledger.Effect) error {
	if len(effect.Updated) > 0 {
		if err := r.repo.SaveRecords(ctx, effect.Updated); err != nil {
			return err
		}
	}
	if len(effect.Removed) > 0 {
		if err := r.repo.DeleteRecords(ctx, effect.Removed); err != nil {
			return err
		}
	}
	if effect.GasPrices != nil {
		if err := r.repo.SaveGasPrices(ctx, effect.GasPrices); err != nil {
			return err
		}
	}
	return nil
}

// RestoreSession rebuilds a session from everything the repository has retained.
func RestoreSession(ctx context.Context, loader RecordLoader, opts ...ledger.Option) (*ledger.Session, error) {
	if loader == nil {
		return nil, errors.New("record loader is required")
	}
	records, err := loader.LoadRecords(ctx)
	if err != nil {
		return nil, err
	}
	gasPrices, err := loader.LoadGasPrices(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("restored ledger", "records", len(records), "gas_prices", len(gasPrices))
	return ledger.NewSession(append([]ledger.Option{ledger.WithState(records, gasPrices)}, opts...)...), nil
}

type ViewInvalidator interface {
	Invalidate(ctx context.Context, colony common.Address) error
}

// CacheInvalidator drops cached colony views when a transaction addressed to that colony
// succeeds, since settled views are derived from its chain state.
type CacheInvalidator struct {
	cache ViewInvalidator
}

func NewCacheInvalidator(cache ViewInvalidator) (*CacheInvalidator, error) {
	if cache == nil {
		return nil, errors.New("cache is required")
	}
	return &CacheInvalidator{cache: cache}, nil
}

func (c *CacheInvalidator) Observe(ctx context.Context, effect ledger.Effect) {
	if effect.Command != ledger.TypeSucceeded {
		return
	}
	for _, record := range effect.Updated {
		if !common.IsHexAddress(record.Identifier) {
			continue
		}
		colony := common.HexToAddress(record.Identifier)
		if err := c.cache.Invalidate(ctx, colony); err != nil {
			slog.Warn("invalidate colony views", "colony", colony.Hex(), "err", err)
		}
	}
}
