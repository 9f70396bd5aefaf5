package badgerdb

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/arkade-os/cat721-send/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

const batchStoreDir = "batches"

type batchRepository struct {
	store *badgerhold.Store
}

func NewBatchRepository(config ...interface{}) (domain.BatchRepository, error) {
	baseDir, logger, err := parseConfig(config)
	if err != nil {
		return nil, err
	}

	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, batchStoreDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open batch store: %s", err)
	}

	return &batchRepository{store}, nil
}

func (r *batchRepository) AddOrUpdateBatch(ctx context.Context, batch domain.Batch) error {
	if err := upsert(r.store, batch.Id, batch); err != nil {
		return fmt.Errorf("failed to upsert batch %s: %w", batch.Id, err)
	}
	return nil
}

func (r *batchRepository) GetBatches(ctx context.Context) ([]domain.Batch, error) {
	var batches []domain.Batch
	if err := r.store.Find(&batches, nil); err != nil {
		return nil, fmt.Errorf("failed to get batches: %w", err)
	}
	sort.SliceStable(batches, func(i, j int) bool {
		return batches[i].CreatedAt < batches[j].CreatedAt
	})
	return batches, nil
}

func (r *batchRepository) Close() {
	// nolint:all
	r.store.Close()
}
