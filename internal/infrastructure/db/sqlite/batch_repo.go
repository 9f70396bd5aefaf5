package sqlitedb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/arkade-os/cat721-send/internal/core/domain"
)

const (
	upsertBatch = `
INSERT INTO batch (
	id, collection_id, fee_address, fee_rate, bullet_value, bullet_count,
	split_txid, status, succeeded, failed, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	bullet_value = excluded.bullet_value,
	bullet_count = excluded.bullet_count,
	split_txid = excluded.split_txid,
	status = excluded.status,
	succeeded = excluded.succeeded,
	failed = excluded.failed,
	updated_at = excluded.updated_at`

	selectBatch = `
SELECT id, collection_id, fee_address, fee_rate, bullet_value, bullet_count,
	split_txid, status, succeeded, failed, created_at, updated_at
FROM batch`
)

type batchRepository struct {
	db *sql.DB
}

func NewBatchRepository(config ...interface{}) (domain.BatchRepository, error) {
	db, err := checkDb(config, "batch")
	if err != nil {
		return nil, err
	}
	return &batchRepository{db}, nil
}

func (r *batchRepository) AddOrUpdateBatch(ctx context.Context, batch domain.Batch) error {
	if _, err := r.db.ExecContext(
		ctx, upsertBatch,
		batch.Id, batch.CollectionId, batch.FeeAddress, int64(batch.FeeRate),
		int64(batch.BulletValue), batch.BulletCount, batch.SplitTxid, int(batch.Status),
		batch.Succeeded, batch.Failed, batch.CreatedAt, batch.UpdatedAt,
	); err != nil {
		return fmt.Errorf("failed to upsert batch %s: %w", batch.Id, err)
	}
	return nil
}

func (r *batchRepository) GetBatches(ctx context.Context) ([]domain.Batch, error) {
	rows, err := r.db.QueryContext(ctx, selectBatch+" ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("failed to get batches: %w", err)
	}
	// nolint:all
	defer rows.Close()

	batches := make([]domain.Batch, 0)
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		batches = append(batches, *batch)
	}
	return batches, rows.Err()
}

func (r *batchRepository) Close() {
	_ = r.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBatch(row scanner) (*domain.Batch, error) {
	var (
		b                    domain.Batch
		feeRate, bulletValue int64
		status               int
	)
	if err := row.Scan(
		&b.Id, &b.CollectionId, &b.FeeAddress, &feeRate, &bulletValue, &b.BulletCount,
		&b.SplitTxid, &status, &b.Succeeded, &b.Failed, &b.CreatedAt, &b.UpdatedAt,
	); err != nil {
		return nil, err
	}
	b.FeeRate = uint64(feeRate)
	b.BulletValue = uint64(bulletValue)
	b.Status = domain.BatchStatus(status)
	return &b, nil
}
