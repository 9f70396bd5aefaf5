package sqlitedb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/arkade-os/cat721-send/internal/core/domain"
)

const (
	upsertTransfer = `
INSERT INTO transfer (
	id, batch_id, local_id, source, destination, bullet_txid, bullet_vout, state,
	guard_txid, send_txid, est_guard_vsize, est_send_vsize, failure_reason,
	failed_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	state = excluded.state,
	guard_txid = excluded.guard_txid,
	send_txid = excluded.send_txid,
	est_guard_vsize = excluded.est_guard_vsize,
	est_send_vsize = excluded.est_send_vsize,
	failure_reason = excluded.failure_reason,
	failed_at = excluded.failed_at,
	updated_at = excluded.updated_at`

	selectTransfer = `
SELECT id, batch_id, local_id, source, destination, bullet_txid, bullet_vout, state,
	guard_txid, send_txid, est_guard_vsize, est_send_vsize, failure_reason,
	failed_at, updated_at
FROM transfer`
)

type transferRepository struct {
	db *sql.DB
}

func NewTransferRepository(config ...interface{}) (domain.TransferRepository, error) {
	db, err := checkDb(config, "transfer")
	if err != nil {
		return nil, err
	}
	return &transferRepository{db}, nil
}

func (r *transferRepository) AddOrUpdateTransfer(
	ctx context.Context, t domain.Transfer,
) error {
	if _, err := r.db.ExecContext(
		ctx, upsertTransfer,
		t.Id, t.BatchId, t.LocalId, t.Source, t.Destination, t.Bullet.Txid,
		int64(t.Bullet.VOut), int(t.State), t.GuardTxid, t.SendTxid, t.EstGuardVSize,
		t.EstSendVSize, t.FailureReason, int(t.FailedAt), t.UpdatedAt,
	); err != nil {
		return fmt.Errorf("failed to upsert transfer %s: %w", t.Id, err)
	}
	return nil
}

func (r *transferRepository) GetTransfersByBatch(
	ctx context.Context, batchId string,
) ([]domain.Transfer, error) {
	rows, err := r.db.QueryContext(
		ctx, selectTransfer+" WHERE batch_id = ? ORDER BY bullet_vout", batchId,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get transfers of batch %s: %w", batchId, err)
	}
	// nolint:all
	defer rows.Close()

	transfers := make([]domain.Transfer, 0)
	for rows.Next() {
		transfer, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		transfers = append(transfers, *transfer)
	}
	return transfers, rows.Err()
}

func (r *transferRepository) Close() {
	_ = r.db.Close()
}

func scanTransfer(row scanner) (*domain.Transfer, error) {
	var (
		t               domain.Transfer
		vout            int64
		state, failedAt int
	)
	if err := row.Scan(
		&t.Id, &t.BatchId, &t.LocalId, &t.Source, &t.Destination, &t.Bullet.Txid, &vout,
		&state, &t.GuardTxid, &t.SendTxid, &t.EstGuardVSize, &t.EstSendVSize,
		&t.FailureReason, &failedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	t.Bullet.VOut = uint32(vout)
	t.State = domain.TransferState(state)
	t.FailedAt = domain.TransferState(failedAt)
	return &t, nil
}
