package application

import (
	"bytes"
	"context"
	"fmt"

	"github.com/arkade-os/cat721-send/internal/core/domain"
	"github.com/arkade-os/cat721-send/pkg/txutils"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// backtrace builds the trace proof of an asset output from the tx that
// created it and from the tx that funded that tx's asset input.
func backtrace(
	ctx context.Context, chain txFetcher, asset domain.AssetOutput,
) (*domain.TracedAsset, error) {
	prevTxHex, err := chain.GetTxHex(ctx, asset.Txid)
	if err != nil {
		return nil, fmt.Errorf("failed to get tx %s: %w", asset.Txid, err)
	}
	prevTx, err := txutils.TxFromHex(prevTxHex)
	if err != nil {
		return nil, fmt.Errorf("failed to parse tx %s: %w", asset.Txid, err)
	}

	if int(asset.VOut) >= len(prevTx.TxOut) {
		return nil, fmt.Errorf("asset output %s not found in its tx", asset.Outpoint)
	}
	if len(asset.Script) > 0 && !bytes.Equal(prevTx.TxOut[asset.VOut].PkScript, asset.Script) {
		return nil, fmt.Errorf("asset output %s script mismatch", asset.Outpoint)
	}

	inputIndex := assetInputIndex(prevTx)
	prevPrevTxid := prevTx.TxIn[inputIndex].PreviousOutPoint.Hash.String()
	prevPrevTxHex, err := chain.GetTxHex(ctx, prevPrevTxid)
	if err != nil {
		return nil, fmt.Errorf("failed to get tx %s: %w", prevPrevTxid, err)
	}

	return &domain.TracedAsset{
		Asset: asset,
		Trace: domain.TraceProof{
			PrevTxHex:     prevTxHex,
			PrevPrevTxHex: prevPrevTxHex,
			PrevTxInput:   inputIndex,
		},
	}, nil
}

type txFetcher interface {
	GetTxHex(ctx context.Context, txid string) (string, error)
}

// assetInputIndex returns the first input of the tx spent through a
// tapscript path, ie. a covenant input. Mint txs have none and fall back to 0.
func assetInputIndex(tx *wire.MsgTx) uint32 {
	for i, in := range tx.TxIn {
		// [args..., leaf script, control block]
		if len(in.Witness) < 3 {
			continue
		}
		controlBlock, err := txscript.ParseControlBlock(in.Witness[len(in.Witness)-1])
		if err != nil || controlBlock.LeafVersion != txscript.BaseLeafVersion {
			continue
		}
		return uint32(i)
	}
	return 0
}
