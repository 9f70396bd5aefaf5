package domain

import "context"

type TransferRepository interface {
	AddOrUpdateTransfer(ctx context.Context, transfer Transfer) error
	GetTransfersByBatch(ctx context.Context, batchId string) ([]Transfer, error)
	Close()
}

type BatchRepository interface {
	AddOrUpdateBatch(ctx context.Context, batch Batch) error
	GetBatches(ctx context.Context) ([]Batch, error)
	Close()
}
