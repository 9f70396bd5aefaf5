package ports

import (
	"context"
	"math/big"

	"github.com/arkade-os/cat721-send/internal/core/domain"
)

// Tracker indexes CAT721 collections and their NFT outputs.
// A miss is reported as (nil, nil), not as an error.
type Tracker interface {
	GetCollectionInfo(ctx context.Context, collectionId string) (*domain.Collection, error)
	GetNftUtxo(
		ctx context.Context, collectionId string, localId *big.Int,
	) (*domain.AssetOutput, error)
}
