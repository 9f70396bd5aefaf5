package badgerdb

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/arkade-os/cat721-send/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

const transferStoreDir = "transfers"

type transferRepository struct {
	store *badgerhold.Store
}

func NewTransferRepository(config ...interface{}) (domain.TransferRepository, error) {
	baseDir, logger, err := parseConfig(config)
	if err != nil {
		return nil, err
	}

	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, transferStoreDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open transfer store: %s", err)
	}

	return &transferRepository{store}, nil
}

func (r *transferRepository) AddOrUpdateTransfer(
	ctx context.Context, transfer domain.Transfer,
) error {
	if err := upsert(r.store, transfer.Id, transfer); err != nil {
		return fmt.Errorf("failed to upsert transfer %s: %w", transfer.Id, err)
	}
	return nil
}

func (r *transferRepository) GetTransfersByBatch(
	ctx context.Context, batchId string,
) ([]domain.Transfer, error) {
	var transfers []domain.Transfer
	query := badgerhold.Where("BatchId").Eq(batchId)
	if err := r.store.Find(&transfers, query); err != nil {
		return nil, fmt.Errorf("failed to get transfers of batch %s: %w", batchId, err)
	}
	sort.SliceStable(transfers, func(i, j int) bool {
		return transfers[i].Bullet.VOut < transfers[j].Bullet.VOut
	})
	return transfers, nil
}

func (r *transferRepository) Close() {
	// nolint:all
	r.store.Close()
}
