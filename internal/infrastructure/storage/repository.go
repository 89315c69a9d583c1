package storage

import (
	"context"
	"errors"
	"strings"

	"colonyledger/internal/domain"
	"colonyledger/internal/infrastructure/mysql"
	"colonyledger/internal/infrastructure/sqlite"
)

type backend interface {
	SaveRecords(ctx context.Context, records []domain.TransactionRecord) error
	DeleteRecords(ctx context.Context, ids []string) error
	SaveGasPrices(ctx context.Context, prices domain.GasPrices) error
	LoadRecords(ctx context.Context) ([]domain.TransactionRecord, error)
	LoadGasPrices(ctx context.Context) (domain.GasPrices, error)
	Ping(ctx context.Context) error
	Close() error
}

// Repository picks the record store from the DSN scheme: sqlite:// selects sqlite, anything else
// is handed to the mysql driver.
type Repository struct {
	backend
	kind string
}

func Open(dsn string) (*Repository, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("db dsn is required")
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		repo, err := sqlite.NewRepository(dsn)
		if err != nil {
			return nil, err
		}
		return &Repository{backend: repo, kind: "sqlite"}, nil
	}
	repo, err := mysql.NewRepository(dsn)
	if err != nil {
		return nil, err
	}
	return &Repository{backend: repo, kind: "mysql"}, nil
}

// Kind is "sqlite" or "mysql".
func (r *Repository) Kind() string {
	return r.kind
}
