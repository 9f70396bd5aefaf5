package ports

import (
	"context"

	"github.com/arkade-os/cat721-send/internal/core/domain"
	"github.com/btcsuite/btcd/btcutil/psbt"
)

type GuardTx struct {
	Packet *psbt.Packet
	// Guard is the commitment bound to the guard output of Packet.
	Guard  domain.GuardCommitment
	Change domain.Utxo
}

type GuardTxRequest struct {
	Guard          domain.GuardCommitment
	Funding        domain.Utxo
	ChangeScript   []byte
	FeeRate        uint64
	EstimatedVSize int64
}

type SendTxRequest struct {
	Assets         []domain.TracedAsset
	GuardTx        *GuardTx
	OwnerAddr      string
	OwnerPubKey    string
	ChangeScript   []byte
	FeeRate        uint64
	EstimatedVSize int64
}

type SplitTxRequest struct {
	Funding      []domain.Utxo
	BulletValue  uint64
	Count        int
	ChangeScript []byte
	// Change is the value of the trailing change output. Zero with
	// WithChange set makes a placeholder output used to probe the size.
	Change     uint64
	WithChange bool
}

type TxBuilder interface {
	// EstimateGuardTxVSize probe-builds the guard tx against a synthetic
	// funding input and returns its vsize together with the probe tx.
	EstimateGuardTxVSize(
		ctx context.Context, guard domain.GuardCommitment, changeScript []byte,
	) (int64, *GuardTx, error)
	BuildGuardTx(ctx context.Context, req GuardTxRequest) (*GuardTx, error)
	// EstimateSendTxVSize probe-builds the send tx spending the given
	// (probe) guard tx.
	EstimateSendTxVSize(ctx context.Context, req SendTxRequest) (int64, error)
	BuildSendTx(ctx context.Context, req SendTxRequest) (*psbt.Packet, error)
	// EstimateSplitTxVSize probe-builds the split tx and has the signer sign
	// it so that the size reflects the signer's address type.
	EstimateSplitTxVSize(ctx context.Context, req SplitTxRequest, signer Signer) (int64, error)
	BuildSplitTx(ctx context.Context, req SplitTxRequest) (*psbt.Packet, error)
	FinalizeAndExtract(ptx *psbt.Packet) (txid string, txhex string, vsize int64, err error)
	FeeForVSize(feeRate uint64, vsize int64) uint64
}
