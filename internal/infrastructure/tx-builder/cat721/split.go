package txbuilder

import (
	"context"
	"fmt"

	"github.com/arkade-os/cat721-send/internal/core/domain"
	"github.com/arkade-os/cat721-send/internal/core/ports"
	"github.com/arkade-os/cat721-send/pkg/errors"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
)

func (b *txBuilder) EstimateSplitTxVSize(
	ctx context.Context, req ports.SplitTxRequest, signer ports.Signer,
) (int64, error) {
	if len(req.Funding) == 0 {
		return 0, fmt.Errorf("missing funding utxos")
	}
	probe := req
	probe.WithChange = true
	probe.Change = 0

	// the split tx spends real coins, the probe replaces only the first one
	build := func(funding domain.Utxo) (*psbt.Packet, error) {
		probe.Funding = append([]domain.Utxo{funding}, req.Funding[1:]...)
		return b.buildSplitTx(probe)
	}

	inputs := make([]int, 0, len(req.Funding))
	for i := range req.Funding {
		inputs = append(inputs, i)
	}

	var sign signFn
	if signer != nil {
		sign = signWithSigner(ctx, signer, inputs)
	}
	vsize, _, err := b.estimateVSize(build, req.Funding[0], sign)
	return vsize, err
}

func (b *txBuilder) BuildSplitTx(
	_ context.Context, req ports.SplitTxRequest,
) (*psbt.Packet, error) {
	return b.buildSplitTx(req)
}

// buildSplitTx fans the funding utxos out into Count bullets of the same
// value, followed by the optional change.
func (b *txBuilder) buildSplitTx(req ports.SplitTxRequest) (*psbt.Packet, error) {
	if req.Count <= 0 {
		return nil, fmt.Errorf("bullet count must be positive, got %d", req.Count)
	}
	if req.BulletValue < domain.DustLimit {
		return nil, fmt.Errorf("bullet value %d is below dust", req.BulletValue)
	}

	inputs := make([]txInput, 0, len(req.Funding))
	var totalIn uint64
	for _, utxo := range req.Funding {
		in, err := newTxInput(utxo, nil)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, in)
		totalIn += utxo.Amount
	}

	outputs := make([]*wire.TxOut, 0, req.Count+1)
	for range req.Count {
		outputs = append(outputs, &wire.TxOut{
			Value: int64(req.BulletValue), PkScript: req.ChangeScript,
		})
	}
	if req.WithChange {
		outputs = append(outputs, &wire.TxOut{
			Value: int64(req.Change), PkScript: req.ChangeScript,
		})
	}

	if totalOut := sumOutputs(outputs); totalIn < totalOut {
		return nil, errors.INSUFFICIENT_FUNDS.New(
			"funding utxos (%d sats) cannot cover %d bullets of %d sats",
			totalIn, req.Count, req.BulletValue,
		).WithMetadata(errors.FundsMetadata{
			Stage: "split", Available: totalIn, Required: totalOut,
		})
	}

	return newPacket(inputs, outputs)
}
