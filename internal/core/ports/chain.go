package ports

import (
	"context"

	"github.com/arkade-os/cat721-send/internal/core/domain"
)

type UtxoProvider interface {
	// GetUtxos returns the spendable outputs of the address. The list is empty
	// if their total does not reach minTotal.
	GetUtxos(ctx context.Context, address string, minTotal uint64) ([]domain.Utxo, error)
}

type ChainProvider interface {
	Broadcast(ctx context.Context, txhex string) (string, error)
	GetConfirmations(ctx context.Context, txid string) (int64, error)
	GetTxHex(ctx context.Context, txid string) (string, error)
}

// ConfirmationWatcher blocks until a tx has at least one confirmation.
type ConfirmationWatcher interface {
	WaitForConfirmation(ctx context.Context, txid string) error
}
