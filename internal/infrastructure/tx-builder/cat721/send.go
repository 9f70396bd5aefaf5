package txbuilder

import (
	"context"
	"fmt"

	"github.com/arkade-os/cat721-send/internal/core/domain"
	"github.com/arkade-os/cat721-send/internal/core/ports"
	"github.com/arkade-os/cat721-send/pkg/errors"
	"github.com/arkade-os/cat721-send/pkg/txutils"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

func (b *txBuilder) EstimateSendTxVSize(
	_ context.Context, req ports.SendTxRequest,
) (int64, error) {
	if req.GuardTx == nil {
		return 0, fmt.Errorf("missing guard tx")
	}
	build := func(funding domain.Utxo) (*psbt.Packet, error) {
		return b.buildSendTx(req, funding, 0)
	}

	vsize, _, err := b.estimateVSize(build, req.GuardTx.Change, nil)
	return vsize, err
}

func (b *txBuilder) BuildSendTx(
	_ context.Context, req ports.SendTxRequest,
) (*psbt.Packet, error) {
	if req.GuardTx == nil {
		return nil, fmt.Errorf("missing guard tx")
	}
	fee := b.FeeForVSize(req.FeeRate, req.EstimatedVSize)
	return b.buildSendTx(req, req.GuardTx.Change, fee)
}

// buildSendTx spends the nft inputs, the guard and the guard change into the
// nft outputs and the change. Nft outputs come first, then the inputs in the
// same order, then guard and fee input, then the change output. Unlock
// arguments are computed last, over the final layout.
func (b *txBuilder) buildSendTx(
	req ports.SendTxRequest, funding domain.Utxo, fee uint64,
) (*psbt.Packet, error) {
	if inputs := len(req.Assets) + 2; inputs > MaxInputs {
		return nil, errors.TOO_MANY_INPUTS.New(
			"too many inputs that exceed the maximum input limit of %d", MaxInputs,
		).WithMetadata(errors.TooManyInputsMetadata{Inputs: inputs, MaxInputs: MaxInputs})
	}
	guard := req.GuardTx.Guard
	if !guard.IsBound() {
		return nil, fmt.Errorf("guard is not bound to any outpoint")
	}
	if len(guard.Assignments) != len(req.Assets) {
		return nil, fmt.Errorf(
			"guard commits to %d nfts, got %d", len(guard.Assignments), len(req.Assets),
		)
	}

	state, err := stateOutput(guard.Digest())
	if err != nil {
		return nil, err
	}
	outputs := []*wire.TxOut{state}
	for _, a := range guard.Assignments {
		if a.IsBurn() {
			continue
		}
		outputs = append(outputs, &wire.TxOut{
			Value: domain.AssetPostage, PkScript: a.DestinationScript,
		})
	}

	inputs := make([]txInput, 0, len(req.Assets)+2)
	for _, asset := range req.Assets {
		in, err := newTxInput(asset.Asset.Utxo, nil)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, in)
	}

	guardOut := req.GuardTx.Packet.UnsignedTx.TxOut[guard.Binding.VOut]
	guardIn, err := newTxInput(domain.Utxo{
		Outpoint: *guard.Binding,
		Amount:   uint64(guardOut.Value),
	}, guardOut.PkScript)
	if err != nil {
		return nil, err
	}
	fundingIn, err := newTxInput(funding, nil)
	if err != nil {
		return nil, err
	}
	inputs = append(inputs, guardIn, fundingIn)

	var totalIn uint64
	for _, in := range inputs {
		totalIn += uint64(in.prevout.Value)
	}
	totalOut := sumOutputs(outputs)
	if totalIn < totalOut+fee {
		return nil, errors.INSUFFICIENT_FUNDS.New(
			"send tx inputs (%d sats) cannot cover outputs and fee (%d sats)",
			totalIn, totalOut+fee,
		).WithMetadata(errors.FundsMetadata{
			Stage: "send", Available: totalIn, Required: totalOut + fee,
		})
	}
	if change := totalIn - totalOut - fee; change >= domain.DustLimit {
		outputs = append(outputs, &wire.TxOut{Value: int64(change), PkScript: req.ChangeScript})
	}

	ptx, err := newPacket(inputs, outputs)
	if err != nil {
		return nil, err
	}

	signingCtx, err := signingContext(ptx)
	if err != nil {
		return nil, err
	}

	guardTxHex, err := txutils.TxToHex(req.GuardTx.Packet.UnsignedTx)
	if err != nil {
		return nil, err
	}
	guardIndex := len(req.Assets)
	guardInfo, err := b.covenant.GuardInfo(guard, guardIndex, guardTxHex)
	if err != nil {
		return nil, err
	}

	isP2TR := b.isTaprootAddress(req.OwnerAddr)
	for i, asset := range req.Assets {
		if err := b.covenant.UnlockAsset(ptx, ports.AssetUnlockRequest{
			InputIndex:  i,
			Context:     signingCtx,
			Trace:       asset.Trace,
			Guard:       guardInfo,
			Asset:       asset.Asset,
			IsP2TR:      isP2TR,
			OwnerPubKey: req.OwnerPubKey,
		}); err != nil {
			return nil, err
		}
	}

	if err := b.covenant.UnlockGuard(ptx, ports.GuardUnlockRequest{
		InputIndex: guardIndex,
		Context:    signingCtx,
		Guard:      guard,
		GuardTxHex: guardTxHex,
	}); err != nil {
		return nil, err
	}

	return ptx, nil
}

func (b *txBuilder) isTaprootAddress(address string) bool {
	addr, err := btcutil.DecodeAddress(address, b.network)
	if err != nil {
		return false
	}
	_, ok := addr.(*btcutil.AddressTaproot)
	return ok
}

func signingContext(ptx *psbt.Packet) (ports.SigningContext, error) {
	prevouts, err := txutils.GetPrevOutputFetcher(ptx)
	if err != nil {
		return ports.SigningContext{}, err
	}
	return ports.SigningContext{
		Tx:         ptx.UnsignedTx,
		Prevouts:   prevouts,
		SigHashes:  txscript.NewTxSigHashes(ptx.UnsignedTx, prevouts),
		InputCount: len(ptx.UnsignedTx.TxIn),
	}, nil
}
