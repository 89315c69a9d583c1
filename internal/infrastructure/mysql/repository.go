package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"colonyledger/internal/domain"

	_ "github.com/go-sql-driver/mysql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Repository persists transaction records and the gas price snapshot.
type Repository struct {
	db *sql.DB
}

func NewRepository(dsn string) (*Repository, error) {
	dsn = strings.TrimPrefix(dsn, "mysql://")
	if dsn == "" {
		return nil, errors.New("db dsn is required")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := createSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

func createSchema(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS transaction_records (
			id VARCHAR(128) NOT NULL,
			identifier VARCHAR(128) NOT NULL DEFAULT '',
			hash VARCHAR(66) NOT NULL DEFAULT '',
			status VARCHAR(16) NOT NULL,
			created_at_ns BIGINT NOT NULL,
			record MEDIUMTEXT NOT NULL,
			PRIMARY KEY (id),
			KEY records_identifier_idx (identifier),
			KEY records_hash_idx (hash),
			KEY records_created_idx (created_at_ns)
		)`,
		`CREATE TABLE IF NOT EXISTS gas_prices (
			id TINYINT UNSIGNED NOT NULL,
			prices MEDIUMTEXT NOT NULL,
			updated_at_ns BIGINT NOT NULL,
			PRIMARY KEY (id)
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) SaveRecords(ctx context.Context, records []domain.TransactionRecord) error {
	if len(records) == 0 {
		return nil
	}
	ctx, span := startDBSpan(ctx, "mysql.SaveRecords", attribute.Int("record.count", len(records)))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fail(span, err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO transaction_records (id, identifier, hash, status, created_at_ns, record)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			identifier = VALUES(identifier),
			hash = VALUES(hash),
			status = VALUES(status),
			created_at_ns = VALUES(created_at_ns),
			record = VALUES(record)`)
	if err != nil {
		_ = tx.Rollback()
		return fail(span, err)
	}
	defer stmt.Close()

	for _, record := range records {
		payload, err := json.Marshal(record)
		if err != nil {
			_ = tx.Rollback()
			return fail(span, fmt.Errorf("encode record %s: %w", record.ID, err))
		}
		if _, err := stmt.ExecContext(ctx, record.ID, record.Identifier, record.Hash, string(record.Status), record.CreatedAt.UnixNano(), string(payload)); err != nil {
			_ = tx.Rollback()
			return fail(span, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fail(span, err)
	}
	return nil
}

func (r *Repository) DeleteRecords(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, span := startDBSpan(ctx, "mysql.DeleteRecords", attribute.Int("record.count", len(ids)))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM transaction_records WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return fail(span, err)
	}
	return nil
}

func (r *Repository) SaveGasPrices(ctx context.Context, prices domain.GasPrices) error {
	ctx, span := startDBSpan(ctx, "mysql.SaveGasPrices")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	payload, err := json.Marshal(prices)
	if err != nil {
		return fail(span, err)
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO gas_prices (id, prices, updated_at_ns) VALUES (1, ?, ?)
		ON DUPLICATE KEY UPDATE prices = VALUES(prices), updated_at_ns = VALUES(updated_at_ns)`,
		string(payload), time.Now().UnixNano())
	if err != nil {
		return fail(span, err)
	}
	return nil
}

func (r *Repository) LoadRecords(ctx context.Context) ([]domain.TransactionRecord, error) {
	ctx, span := startDBSpan(ctx, "mysql.LoadRecords")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT record FROM transaction_records ORDER BY created_at_ns, id`)
	if err != nil {
		return nil, fail(span, err)
	}
	defer rows.Close()

	var records []domain.TransactionRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fail(span, err)
		}
		var record domain.TransactionRecord
		if err := json.Unmarshal([]byte(payload), &record); err != nil {
			return nil, fail(span, fmt.Errorf("decode record: %w", err))
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, err)
	}
	span.SetAttributes(attribute.Int("record.count", len(records)))
	return records, nil
}

func (r *Repository) LoadGasPrices(ctx context.Context) (domain.GasPrices, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var payload string
	if err := r.db.QueryRowContext(ctx, `SELECT prices FROM gas_prices WHERE id = 1`).Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.GasPrices{}, nil
		}
		return nil, err
	}
	prices := domain.GasPrices{}
	if err := json.Unmarshal([]byte(payload), &prices); err != nil {
		return nil, fmt.Errorf("decode gas prices: %w", err)
	}
	return prices, nil
}

func (r *Repository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.db.PingContext(ctx)
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func startDBSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("db.system", "mysql"))
	return otel.Tracer("colonyledger/mysql").Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
}
