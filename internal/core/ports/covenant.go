package ports

import (
	"math/big"

	"github.com/arkade-os/cat721-send/internal/core/domain"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// SigningContext is computed once all inputs and outputs of a tx are fixed and
// shared by every covenant unlock of that tx.
type SigningContext struct {
	Tx         *wire.MsgTx
	Prevouts   *txscript.MultiPrevOutFetcher
	SigHashes  *txscript.TxSigHashes
	InputCount int
}

// GuardInfo is the guard's description as seen from the send tx spending it.
type GuardInfo struct {
	InputIndex int
	Outpoint   domain.Outpoint
	Digest     []byte
	GuardTxHex string
}

type AssetUnlockRequest struct {
	InputIndex  int
	Context     SigningContext
	Trace       domain.TraceProof
	Guard       GuardInfo
	Asset       domain.AssetOutput
	IsP2TR      bool
	OwnerPubKey string
}

type GuardUnlockRequest struct {
	InputIndex int
	Context    SigningContext
	Guard      domain.GuardCommitment
	GuardTxHex string
}

// CovenantEngine owns the scripts of NFT and guard outputs and the arguments
// needed to spend them.
type CovenantEngine interface {
	AssetScript(collectionId string, localId *big.Int, ownerAddr string) ([]byte, error)
	CreateGuardCommitment(
		collectionId string, inputs []domain.AssetOutput, destinations []string,
	) (domain.GuardCommitment, error)
	GuardScript(guard domain.GuardCommitment) ([]byte, error)
	GuardInfo(guard domain.GuardCommitment, inputIndex int, guardTxHex string) (GuardInfo, error)
	UnlockAsset(ptx *psbt.Packet, req AssetUnlockRequest) error
	UnlockGuard(ptx *psbt.Packet, req GuardUnlockRequest) error
	// Finalize writes the final witness of a covenant input from its unlock
	// arguments and the collected signature.
	Finalize(ptx *psbt.Packet, inputIndex int) error
}
